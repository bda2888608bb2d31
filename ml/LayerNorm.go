package ml

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

const lnEps = 1e-5

// layerNorm normalizes each sequence position to zero mean and unit variance
// over the feature axis, then applies a learned gain and bias.
type layerNorm struct {
	g *Param // (1, width)
	b *Param // (1, width)

	xhat   *mat.Dense
	invStd []float64
}

func makeLayerNorm(name string, width int) *layerNorm {
	return &layerNorm{
		g: newConstParam(name+".g", 1, width, 1),
		b: newConstParam(name+".b", 1, width, 0),
	}
}

func (ln *layerNorm) params() []*Param { return []*Param{ln.g, ln.b} }

func (ln *layerNorm) forward(x *mat.Dense) *mat.Dense {
	r, c := x.Dims()
	ln.xhat = mat.NewDense(r, c, nil)
	ln.invStd = make([]float64, r)
	out := mat.NewDense(r, c, nil)
	gain := ln.g.W.RawRowView(0)
	bias := ln.b.W.RawRowView(0)
	for i := 0; i < r; i++ {
		xr := x.RawRowView(i)
		var mu float64
		for _, v := range xr {
			mu += v
		}
		mu /= float64(c)
		var variance float64
		for _, v := range xr {
			d := v - mu
			variance += d * d
		}
		variance /= float64(c)
		is := 1 / math.Sqrt(variance+lnEps)
		ln.invStd[i] = is
		hr := ln.xhat.RawRowView(i)
		or := out.RawRowView(i)
		for j, v := range xr {
			h := (v - mu) * is
			hr[j] = h
			or[j] = gain[j]*h + bias[j]
		}
	}
	return out
}

func (ln *layerNorm) backward(dy *mat.Dense) *mat.Dense {
	r, c := dy.Dims()
	dx := mat.NewDense(r, c, nil)
	gain := ln.g.W.RawRowView(0)
	dg := mat.NewDense(1, c, nil)
	db := mat.NewDense(1, c, nil)
	dgr := dg.RawRowView(0)
	dbr := db.RawRowView(0)
	n := float64(c)
	for i := 0; i < r; i++ {
		dyr := dy.RawRowView(i)
		hr := ln.xhat.RawRowView(i)
		dxr := dx.RawRowView(i)
		var sumDh, sumDhH float64
		for j := 0; j < c; j++ {
			dh := dyr[j] * gain[j]
			sumDh += dh
			sumDhH += dh * hr[j]
			dgr[j] += dyr[j] * hr[j]
			dbr[j] += dyr[j]
		}
		is := ln.invStd[i]
		for j := 0; j < c; j++ {
			dh := dyr[j] * gain[j]
			dxr[j] = is / n * (n*dh - sumDh - hr[j]*sumDhH)
		}
	}
	ln.g.addGrad(dg)
	ln.b.addGrad(db)
	return dx
}
