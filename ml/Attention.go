package ml

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// attention is multi-head scaled dot-product attention. Queries come from x,
// keys and values from mem; callers pass the same matrix for both to get
// self-attention. Head h owns columns [h*dh, (h+1)*dh) of each projection.
type attention struct {
	heads int
	dh    int

	wq, wk, wv, wo *Param // (width, width)

	selfAttn bool
	x, mem   *mat.Dense
	q, k, v  *mat.Dense
	probs    []*mat.Dense // per head (Lq, Lk)
	ctx      *mat.Dense   // (Lq, width)
}

func makeAttention(name string, width, heads int, rng *rand.Rand) *attention {
	return &attention{
		heads: heads,
		dh:    width / heads,
		wq:    newParam(name+".wq", width, width, rng),
		wk:    newParam(name+".wk", width, width, rng),
		wv:    newParam(name+".wv", width, width, rng),
		wo:    newParam(name+".wo", width, width, rng),
	}
}

func (at *attention) params() []*Param {
	return []*Param{at.wq, at.wk, at.wv, at.wo}
}

// colBlock copies columns [lo, lo+n) of m.
func colBlock(m *mat.Dense, lo, n int) *mat.Dense {
	r, _ := m.Dims()
	out := mat.NewDense(r, n, nil)
	for i := 0; i < r; i++ {
		copy(out.RawRowView(i), m.RawRowView(i)[lo:lo+n])
	}
	return out
}

// addColBlock adds src into columns [lo, lo+srcWidth) of dst.
func addColBlock(dst, src *mat.Dense, lo int) {
	r, n := src.Dims()
	for i := 0; i < r; i++ {
		dr := dst.RawRowView(i)
		sr := src.RawRowView(i)
		for j := 0; j < n; j++ {
			dr[lo+j] += sr[j]
		}
	}
}

func (at *attention) forward(x, mem *mat.Dense) *mat.Dense {
	at.selfAttn = x == mem
	at.x, at.mem = x, mem
	at.q = matMul(x, at.wq.W)
	at.k = matMul(mem, at.wk.W)
	at.v = matMul(mem, at.wv.W)

	lq, width := at.q.Dims()
	at.ctx = mat.NewDense(lq, width, nil)
	at.probs = make([]*mat.Dense, at.heads)
	scale := 1 / math.Sqrt(float64(at.dh))
	for h := 0; h < at.heads; h++ {
		lo := h * at.dh
		qh := colBlock(at.q, lo, at.dh)
		kh := colBlock(at.k, lo, at.dh)
		vh := colBlock(at.v, lo, at.dh)
		scores := matMul(qh, kh.T())
		scores.Scale(scale, scores)
		p := softmaxRows(scores)
		at.probs[h] = p
		ctxh := matMul(p, vh)
		for i := 0; i < lq; i++ {
			copy(at.ctx.RawRowView(i)[lo:lo+at.dh], ctxh.RawRowView(i))
		}
	}
	return matMul(at.ctx, at.wo.W)
}

// backward accumulates projection gradients and returns the gradients wrt x
// and mem. For self-attention the contributions through q, k and v all land
// in dx and dmem is nil.
func (at *attention) backward(dout *mat.Dense) (dx, dmem *mat.Dense) {
	dctx, dwo := matMulBackward(at.ctx, at.wo.W, dout)
	at.wo.addGrad(dwo)

	lq, width := at.q.Dims()
	lk, _ := at.k.Dims()
	dq := mat.NewDense(lq, width, nil)
	dk := mat.NewDense(lk, width, nil)
	dv := mat.NewDense(lk, width, nil)
	scale := 1 / math.Sqrt(float64(at.dh))
	for h := 0; h < at.heads; h++ {
		lo := h * at.dh
		p := at.probs[h]
		qh := colBlock(at.q, lo, at.dh)
		kh := colBlock(at.k, lo, at.dh)
		vh := colBlock(at.v, lo, at.dh)
		dctxh := colBlock(dctx, lo, at.dh)

		dp, dvh := matMulBackward(p, vh, dctxh)
		ds := softmaxRowsBackward(p, dp)
		ds.Scale(scale, ds)
		dqh := matMul(ds, kh)
		dkh := matMul(ds.T(), qh)

		addColBlock(dq, dqh, lo)
		addColBlock(dk, dkh, lo)
		addColBlock(dv, dvh, lo)
	}

	dxq, dwq := matMulBackward(at.x, at.wq.W, dq)
	at.wq.addGrad(dwq)
	dmk, dwk := matMulBackward(at.mem, at.wk.W, dk)
	at.wk.addGrad(dwk)
	dmv, dwv := matMulBackward(at.mem, at.wv.W, dv)
	at.wv.addGrad(dwv)

	if at.selfAttn {
		return addDense(addDense(dxq, dmk), dmv), nil
	}
	return dxq, addDense(dmk, dmv)
}
