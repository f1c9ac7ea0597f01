package store

import "fmt"

// CorruptionError reports a persisted document that could not be
// parsed. The file is left untouched; callers decide how to surface it.
type CorruptionError struct {
	Path string
	Err  error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("profile store %s is unreadable: %v", e.Path, e.Err)
}

func (e *CorruptionError) Unwrap() error { return e.Err }

// ValidationError reports a mutation that would break a document
// invariant. The mutation is rejected before commit.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid profile store mutation: " + e.Reason
}
