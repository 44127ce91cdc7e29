package search

import "errors"

// Sentinel errors for the failure kinds callers dispatch on.
var (
	// ErrEmbeddingFailed wraps embedding-provider failures.
	ErrEmbeddingFailed = errors.New("embedding generation failed")

	// ErrIndexWriteFailed wraps persistence failures in either index.
	// It is fatal to the current source only.
	ErrIndexWriteFailed = errors.New("index write failed")

	// ErrDimMismatch is returned when a write carries vectors of a
	// different dimension than the index was created with.
	ErrDimMismatch = errors.New("embedding dimension mismatch")
)
