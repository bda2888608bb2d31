package ml

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// linear maps every row of a sequence from in to out features: y = x*W + b.
// It caches its input on forward so backward can accumulate weight gradients.
type linear struct {
	w *Param // (in, out)
	b *Param // (1, out)

	x *mat.Dense
}

func makeLinear(name string, in, out int, rng *rand.Rand) *linear {
	return &linear{
		w: newParam(name+".w", in, out, rng),
		b: newConstParam(name+".b", 1, out, 0),
	}
}

func (l *linear) params() []*Param { return []*Param{l.w, l.b} }

func (l *linear) forward(x *mat.Dense) *mat.Dense {
	l.x = x
	return addRowVec(matMul(x, l.w.W), l.b.W)
}

// backward accumulates dW and db, returning the gradient wrt the cached
// input.
func (l *linear) backward(dy *mat.Dense) *mat.Dense {
	dx, dw := matMulBackward(l.x, l.w.W, dy)
	l.w.addGrad(dw)
	l.b.addGrad(sumRows(dy))
	return dx
}
