package core

import "github.com/google/uuid"

// NewID generates a unique identifier for jobs, utterances and correlation
// purposes throughout the engine.
func NewID() string { return uuid.NewString() }
