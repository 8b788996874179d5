// Package backend defines the contract shared by the isolation backends
// (OS containers driven through a container engine, and in-process WASM
// sandboxes), the registry the bridge uses to pick one by name, and the
// error taxonomy every backend reports through.
package backend
