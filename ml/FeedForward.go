package ml

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// feedForward is the position-wise block: linear up, GELU, linear down.
type feedForward struct {
	fc1 *linear
	fc2 *linear

	u *mat.Dense // pre-activation, cached for the GELU derivative
}

func makeFeedForward(name string, width, ffnWidth int, rng *rand.Rand) *feedForward {
	return &feedForward{
		fc1: makeLinear(name+".fc1", width, ffnWidth, rng),
		fc2: makeLinear(name+".fc2", ffnWidth, width, rng),
	}
}

func (ff *feedForward) params() []*Param {
	return append(ff.fc1.params(), ff.fc2.params()...)
}

const geluC = 0.7978845608028654 // sqrt(2/pi)
const geluA = 0.044715

func gelu(x float64) float64 {
	return 0.5 * x * (1 + math.Tanh(geluC*(x+geluA*x*x*x)))
}

func geluDeriv(x float64) float64 {
	inner := geluC * (x + geluA*x*x*x)
	t := math.Tanh(inner)
	sech2 := 1 - t*t
	return 0.5*(1+t) + 0.5*x*sech2*geluC*(1+3*geluA*x*x)
}

func (ff *feedForward) forward(x *mat.Dense) *mat.Dense {
	ff.u = ff.fc1.forward(x)
	var a mat.Dense
	a.Apply(func(_, _ int, v float64) float64 { return gelu(v) }, ff.u)
	return ff.fc2.forward(&a)
}

func (ff *feedForward) backward(dy *mat.Dense) *mat.Dense {
	da := ff.fc2.backward(dy)
	r, c := da.Dims()
	du := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		dar := da.RawRowView(i)
		ur := ff.u.RawRowView(i)
		dur := du.RawRowView(i)
		for j := 0; j < c; j++ {
			dur[j] = dar[j] * geluDeriv(ur[j])
		}
	}
	return ff.fc1.backward(du)
}
