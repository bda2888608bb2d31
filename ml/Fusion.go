package ml

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// encLayer is one post-norm transformer encoder block:
// x = LN1(x + SelfAttn(x)); x = LN2(x + FFN(x)).
type encLayer struct {
	attn *attention
	ln1  *layerNorm
	ff   *feedForward
	ln2  *layerNorm
}

func makeEncLayer(name string, width, heads, ffnWidth int, rng *rand.Rand) *encLayer {
	return &encLayer{
		attn: makeAttention(name+".attn", width, heads, rng),
		ln1:  makeLayerNorm(name+".ln1", width),
		ff:   makeFeedForward(name+".ff", width, ffnWidth, rng),
		ln2:  makeLayerNorm(name+".ln2", width),
	}
}

func (l *encLayer) params() []*Param {
	ps := l.attn.params()
	ps = append(ps, l.ln1.params()...)
	ps = append(ps, l.ff.params()...)
	ps = append(ps, l.ln2.params()...)
	return ps
}

func (l *encLayer) forward(x *mat.Dense) *mat.Dense {
	n1 := l.ln1.forward(addDense(x, l.attn.forward(x, x)))
	return l.ln2.forward(addDense(n1, l.ff.forward(n1)))
}

func (l *encLayer) backward(dy *mat.Dense) *mat.Dense {
	dr2 := l.ln2.backward(dy)
	dn1 := addDense(dr2, l.ff.backward(dr2))
	dr1 := l.ln1.backward(dn1)
	dattn, _ := l.attn.backward(dr1)
	return addDense(dr1, dattn)
}

// decLayer is one post-norm decoder block whose cross-attention reads an
// external memory:
// x = LN1(x + SelfAttn(x)); x = LN2(x + CrossAttn(x, mem)); x = LN3(x + FFN(x)).
type decLayer struct {
	self  *attention
	ln1   *layerNorm
	cross *attention
	ln2   *layerNorm
	ff    *feedForward
	ln3   *layerNorm
}

func makeDecLayer(name string, width, heads, ffnWidth int, rng *rand.Rand) *decLayer {
	return &decLayer{
		self:  makeAttention(name+".self", width, heads, rng),
		ln1:   makeLayerNorm(name+".ln1", width),
		cross: makeAttention(name+".cross", width, heads, rng),
		ln2:   makeLayerNorm(name+".ln2", width),
		ff:    makeFeedForward(name+".ff", width, ffnWidth, rng),
		ln3:   makeLayerNorm(name+".ln3", width),
	}
}

func (l *decLayer) params() []*Param {
	ps := l.self.params()
	ps = append(ps, l.ln1.params()...)
	ps = append(ps, l.cross.params()...)
	ps = append(ps, l.ln2.params()...)
	ps = append(ps, l.ff.params()...)
	ps = append(ps, l.ln3.params()...)
	return ps
}

func (l *decLayer) forward(x, mem *mat.Dense) *mat.Dense {
	n1 := l.ln1.forward(addDense(x, l.self.forward(x, x)))
	n2 := l.ln2.forward(addDense(n1, l.cross.forward(n1, mem)))
	return l.ln3.forward(addDense(n2, l.ff.forward(n2)))
}

func (l *decLayer) backward(dy *mat.Dense) (dx, dmem *mat.Dense) {
	dr3 := l.ln3.backward(dy)
	dn2 := addDense(dr3, l.ff.backward(dr3))
	dr2 := l.ln2.backward(dn2)
	dcross, dmem := l.cross.backward(dr2)
	dn1 := addDense(dr2, dcross)
	dr1 := l.ln1.backward(dn1)
	dself, _ := l.self.backward(dr1)
	return addDense(dr1, dself), dmem
}

// fusion runs the concatenated multimodal sequence through an encoder stack
// and then a decoder stack. Both stacks see the whole sequence: the decoder's
// input is the original concatenation and its memory is the encoder output,
// so attention can align positions across all three modalities. Sequence
// length and width are preserved.
type fusion struct {
	enc []*encLayer
	dec []*decLayer
}

func makeFusion(width, heads, nEnc, nDec, ffnWidth int, rng *rand.Rand) (*fusion, error) {
	if width%heads != 0 {
		return nil, fmt.Errorf("%w: hidden dim %d not divisible by %d heads", ErrConfig, width, heads)
	}
	if nEnc < 1 || nDec < 1 {
		return nil, fmt.Errorf("%w: fusion needs at least one encoder and one decoder layer", ErrConfig)
	}
	f := &fusion{}
	for i := 0; i < nEnc; i++ {
		f.enc = append(f.enc, makeEncLayer(fmt.Sprintf("fusion.enc%d", i), width, heads, ffnWidth, rng))
	}
	for i := 0; i < nDec; i++ {
		f.dec = append(f.dec, makeDecLayer(fmt.Sprintf("fusion.dec%d", i), width, heads, ffnWidth, rng))
	}
	return f, nil
}

func (f *fusion) params() []*Param {
	var ps []*Param
	for _, l := range f.enc {
		ps = append(ps, l.params()...)
	}
	for _, l := range f.dec {
		ps = append(ps, l.params()...)
	}
	return ps
}

func (f *fusion) forward(x *mat.Dense) *mat.Dense {
	mem := x
	for _, l := range f.enc {
		mem = l.forward(mem)
	}
	out := x
	for _, l := range f.dec {
		out = l.forward(out, mem)
	}
	return out
}

// backward returns the gradient wrt the concatenated input. Every decoder
// layer read the same encoder output, so their memory gradients sum before
// flowing back through the encoder stack; the input fed both stacks, so both
// paths sum into dx.
func (f *fusion) backward(dy *mat.Dense) *mat.Dense {
	d := dy
	var dmemTotal *mat.Dense
	for i := len(f.dec) - 1; i >= 0; i-- {
		var dmem *mat.Dense
		d, dmem = f.dec[i].backward(d)
		if dmemTotal == nil {
			dmemTotal = dmem
		} else if dmem != nil {
			dmemTotal = addDense(dmemTotal, dmem)
		}
	}
	if dmemTotal != nil {
		for i := len(f.enc) - 1; i >= 0; i-- {
			dmemTotal = f.enc[i].backward(dmemTotal)
		}
		d = addDense(d, dmemTotal)
	}
	return d
}
