package core

import "github.com/google/uuid"

// NewIdentifier returns a unique identity for long-lived engine objects
// (recorders, windows). UUIDs avoid the free-slot bookkeeping a dense id
// table would need when objects are created and destroyed across threads.
func NewIdentifier() string {
	return uuid.New().String()
}
