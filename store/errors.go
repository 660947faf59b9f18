package store

import "fmt"

var (
	// ErrNotFound is returned when no record exists for the given id.
	ErrNotFound = fmt.Errorf("record not found")
)
