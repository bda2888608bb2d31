package ml

import "errors"

// Sentinel errors for the model pipeline. Callers match with errors.Is; the
// wrapped message carries the detail.
var (
	// ErrInputFormat reports raw input that cannot be parsed or decoded
	// (unreadable file, unsupported encoding).
	ErrInputFormat = errors.New("input format")

	// ErrEmptyInput reports degenerate raw input: empty text, zero-length
	// audio.
	ErrEmptyInput = errors.New("empty input")

	// ErrEncoder reports a failure inside an encoder's Encode. It aborts the
	// current forward pass and is never retried here.
	ErrEncoder = errors.New("encoder failure")

	// ErrConfig reports a structural mismatch found while building a model.
	// Construction either returns it or yields a model whose shapes are
	// consistent for every later call.
	ErrConfig = errors.New("invalid configuration")
)
