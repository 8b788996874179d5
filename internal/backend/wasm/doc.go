// Package wasm runs WASI modules in-process on wazero.
//
// A Registry owns one lazily created Engine (the wazero runtime with the
// WASI preview1 host module) and the published Modules, keyed by function
// id. Every run gets a fresh anonymous instance whose stdin is the JSON
// arguments and whose stdout and stderr are private buffers, so concurrent
// runs of one module never share state.
package wasm
