package ml

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Sequences are (length, width) matrices: one row per position.

func matMul(a, b mat.Matrix) *mat.Dense {
	var c mat.Dense
	c.Mul(a, b)
	return &c
}

// matMulBackward gives the input gradients for c = a*b:
// dA = dC bT, dB = aT dC.
func matMulBackward(a, b, dc mat.Matrix) (da, db *mat.Dense) {
	da = matMul(dc, b.T())
	db = matMul(a.T(), dc)
	return da, db
}

func zerosLike(m *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	return mat.NewDense(r, c, nil)
}

func addDense(a, b *mat.Dense) *mat.Dense {
	var c mat.Dense
	c.Add(a, b)
	return &c
}

func cloneDense(m *mat.Dense) *mat.Dense {
	return mat.DenseCopyOf(m)
}

// concatRows stacks sequences top to bottom. All inputs share one width.
func concatRows(ms ...*mat.Dense) *mat.Dense {
	total := 0
	_, width := ms[0].Dims()
	for _, m := range ms {
		r, c := m.Dims()
		if c != width {
			panic("concatRows: width mismatch")
		}
		total += r
	}
	out := mat.NewDense(total, width, nil)
	row := 0
	for _, m := range ms {
		r, _ := m.Dims()
		for i := 0; i < r; i++ {
			copy(out.RawRowView(row), m.RawRowView(i))
			row++
		}
	}
	return out
}

// splitRows undoes concatRows. Each part owns a copy of its rows.
func splitRows(m *mat.Dense, lens []int) []*mat.Dense {
	_, width := m.Dims()
	parts := make([]*mat.Dense, len(lens))
	row := 0
	for i, n := range lens {
		part := mat.NewDense(n, width, nil)
		for j := 0; j < n; j++ {
			copy(part.RawRowView(j), m.RawRowView(row))
			row++
		}
		parts[i] = part
	}
	return parts
}

// addRowVec adds the (1, width) bias b to every row of x, returning a fresh
// matrix.
func addRowVec(x *mat.Dense, b *mat.Dense) *mat.Dense {
	r, c := x.Dims()
	out := mat.NewDense(r, c, nil)
	bias := b.RawRowView(0)
	for i := 0; i < r; i++ {
		xr := x.RawRowView(i)
		or := out.RawRowView(i)
		for j := 0; j < c; j++ {
			or[j] = xr[j] + bias[j]
		}
	}
	return out
}

// sumRows collapses (r, c) to (1, c) by summing rows. Bias gradient.
func sumRows(x *mat.Dense) *mat.Dense {
	r, c := x.Dims()
	out := mat.NewDense(1, c, nil)
	acc := out.RawRowView(0)
	for i := 0; i < r; i++ {
		xr := x.RawRowView(i)
		for j := 0; j < c; j++ {
			acc[j] += xr[j]
		}
	}
	return out
}

// meanRows collapses (r, c) to (1, c) by averaging rows.
func meanRows(x *mat.Dense) *mat.Dense {
	r, _ := x.Dims()
	out := sumRows(x)
	out.Scale(1/float64(r), out)
	return out
}

// softmaxRows applies a max-shifted softmax to each row.
func softmaxRows(x *mat.Dense) *mat.Dense {
	r, c := x.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		xr := x.RawRowView(i)
		or := out.RawRowView(i)
		max := xr[0]
		for _, v := range xr[1:] {
			if v > max {
				max = v
			}
		}
		var sum float64
		for j, v := range xr {
			e := math.Exp(v - max)
			or[j] = e
			sum += e
		}
		for j := range or {
			or[j] /= sum
		}
	}
	return out
}

// softmaxRowsBackward maps dY to dX through y = softmaxRows(x):
// dx_j = y_j * (dy_j - sum_k dy_k y_k), row by row.
func softmaxRowsBackward(y, dy *mat.Dense) *mat.Dense {
	r, c := y.Dims()
	dx := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		yr := y.RawRowView(i)
		dyr := dy.RawRowView(i)
		dxr := dx.RawRowView(i)
		var dot float64
		for j := 0; j < c; j++ {
			dot += dyr[j] * yr[j]
		}
		for j := 0; j < c; j++ {
			dxr[j] = yr[j] * (dyr[j] - dot)
		}
	}
	return dx
}
