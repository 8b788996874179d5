// Package bridge hands backend calls off to background goroutines.
// Dispatch returns immediately with an invocation ID and a channel that
// receives exactly one Reply. Each invocation is recorded in the store as it
// moves from received to dispatched to succeeded or failed.
package bridge
