package ml

import (
	"encoding/gob"
	"fmt"
	"math"
	"math/rand"
	"os"

	"gonum.org/v1/gonum/mat"
)

// Param is one learnable weight matrix together with its gradient
// accumulator. Layers accumulate into Grad during backward; an Optimizer
// consumes Grad on Step.
type Param struct {
	Name string
	W    *mat.Dense
	Grad *mat.Dense
}

const initStd = 0.02

// newParam draws a (rows, cols) weight from N(0, initStd) with a zeroed
// gradient of the same shape.
func newParam(name string, rows, cols int, rng *rand.Rand) *Param {
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = rng.NormFloat64() * initStd
	}
	return &Param{
		Name: name,
		W:    mat.NewDense(rows, cols, data),
		Grad: mat.NewDense(rows, cols, nil),
	}
}

// newConstParam builds a weight filled with v. Used for biases and norm
// gains, which do not start random.
func newConstParam(name string, rows, cols int, v float64) *Param {
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = v
	}
	return &Param{
		Name: name,
		W:    mat.NewDense(rows, cols, data),
		Grad: mat.NewDense(rows, cols, nil),
	}
}

func (p *Param) zeroGrad() { p.Grad.Zero() }

// addGrad accumulates g into the gradient buffer.
func (p *Param) addGrad(g mat.Matrix) {
	p.Grad.Add(p.Grad, g)
}

// clipParams rescales all gradients so their global L2 norm does not exceed
// maxNorm. A non-positive maxNorm disables clipping.
func clipParams(params []*Param, maxNorm float64) {
	if maxNorm <= 0 {
		return
	}
	var sum float64
	for _, p := range params {
		d := p.Grad.RawMatrix().Data
		for _, v := range d {
			sum += v * v
		}
	}
	norm := math.Sqrt(sum)
	if norm <= maxNorm {
		return
	}
	s := maxNorm / norm
	for _, p := range params {
		p.Grad.Scale(s, p.Grad)
	}
}

type tensorState struct {
	Rows, Cols int
	Data       []float64
}

// stateDict snapshots every param's weight by name in a gob-encodable form.
func stateDict(params []*Param) map[string]tensorState {
	sd := make(map[string]tensorState, len(params))
	for _, p := range params {
		r, c := p.W.Dims()
		data := make([]float64, r*c)
		copy(data, p.W.RawMatrix().Data)
		sd[p.Name] = tensorState{Rows: r, Cols: c, Data: data}
	}
	return sd
}

// loadStateDict copies a snapshot back into matching params. Every param must
// be present with matching shape.
func loadStateDict(params []*Param, sd map[string]tensorState) error {
	for _, p := range params {
		ts, ok := sd[p.Name]
		if !ok {
			return fmt.Errorf("state dict missing %q", p.Name)
		}
		r, c := p.W.Dims()
		if ts.Rows != r || ts.Cols != c {
			return fmt.Errorf("state dict %q: have (%d,%d), want (%d,%d)",
				p.Name, ts.Rows, ts.Cols, r, c)
		}
		copy(p.W.RawMatrix().Data, ts.Data)
	}
	return nil
}

func saveParams(path string, params []*Param) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("save params: %w", err)
	}
	defer f.Close()
	if err := gob.NewEncoder(f).Encode(stateDict(params)); err != nil {
		return fmt.Errorf("save params: %w", err)
	}
	return nil
}

func loadParams(path string, params []*Param) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("load params: %w", err)
	}
	defer f.Close()
	var sd map[string]tensorState
	if err := gob.NewDecoder(f).Decode(&sd); err != nil {
		return fmt.Errorf("load params: %w", err)
	}
	return loadStateDict(params, sd)
}
