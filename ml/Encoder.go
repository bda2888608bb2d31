package ml

import "gonum.org/v1/gonum/mat"

// Input is the preprocessed form an encoder's Encode expects. Each encoder
// defines its own concrete type behind this.
type Input any

// Encoder turns raw modality input into a feature sequence: one row per
// position, OutputWidth columns. Implementations must be deterministic for a
// fixed construction seed so repeated trials see identical features.
//
// Preprocess fails with ErrInputFormat when the raw input cannot be decoded
// and ErrEmptyInput when it is empty or degenerate. Encode failures wrap
// ErrEncoder and abort the forward pass that requested them.
type Encoder interface {
	Preprocess(raw string) (Input, error)
	Encode(in Input) (*mat.Dense, error)
	OutputWidth() int
	Modality() string
}
