package ml

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// DumbEncoder is a trivially deterministic Encoder for wiring and tests: the
// sequence length tracks the number of fields in the raw input (or Len when
// set) and the features are a fixed ramp.
type DumbEncoder struct {
	Width int
	Mode  string
	Len   int // fixed sequence length; 0 derives it from the input
}

type dumbInput struct {
	n int
}

func (e *DumbEncoder) Preprocess(raw string) (Input, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("%w: blank %s input", ErrEmptyInput, e.Mode)
	}
	n := e.Len
	if n == 0 {
		n = len(strings.Fields(raw))
	}
	return dumbInput{n: n}, nil
}

func (e *DumbEncoder) Encode(in Input) (*mat.Dense, error) {
	di, ok := in.(dumbInput)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected input type %T", ErrEncoder, in)
	}
	out := mat.NewDense(di.n, e.Width, nil)
	total := float64(di.n * e.Width)
	for i := 0; i < di.n; i++ {
		row := out.RawRowView(i)
		for j := range row {
			row[j] = float64(i*e.Width+j) / total
		}
	}
	return out, nil
}

func (e *DumbEncoder) OutputWidth() int { return e.Width }
func (e *DumbEncoder) Modality() string { return e.Mode }
