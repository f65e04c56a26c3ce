package model

import "github.com/oklog/ulid/v2"

// NewID generates a new ULID string. Runtime handles, results channel
// handles, and task records all use ULIDs as identifiers.
func NewID() string {
	return ulid.Make().String()
}
