package core

import "github.com/google/uuid"

// NewID returns a random UUID string used for task and schedule identifiers.
func NewID() string {
	return uuid.NewString()
}
