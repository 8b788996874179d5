package model

import "github.com/oklog/ulid/v2"

// NewID returns a fresh ULID. Invocation IDs sort by creation time, which the
// store relies on for listing.
func NewID() string {
	return ulid.Make().String()
}
