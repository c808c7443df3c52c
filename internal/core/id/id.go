// Package id provides UUIDv7 generation for surrogate keys.
// UUIDv7 is time-ordered, so version rows sort naturally by creation time.
package id

import (
	"github.com/google/uuid"
)

// ID is a type alias for UUID, used for every surrogate key the engine assigns.
type ID = uuid.UUID

// New generates a new UUIDv7 surrogate key.
// The embedded Unix timestamp in the first 48 bits gives:
// - chronological ordering without a separate created_at index
// - good B-tree locality in PostgreSQL for append-heavy version tables
// Surrogate keys are assigned exactly once and never reused.
func New() ID {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to V4 if V7 fails (should never happen)
		return uuid.New()
	}
	return id
}

// Parse converts string to ID with validation.
func Parse(s string) (ID, error) {
	return uuid.Parse(s)
}

// MustParse converts string to ID, panics on error.
// Use only for constants and tests.
func MustParse(s string) ID {
	return uuid.MustParse(s)
}

// Nil returns zero-value UUID.
func Nil() ID {
	return uuid.Nil
}

// IsNil checks if ID is zero-value.
func IsNil(id ID) bool {
	return id == uuid.Nil
}
