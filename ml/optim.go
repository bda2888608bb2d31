package ml

import (
	"fmt"
	"math"
)

// Optimizer consumes the gradients accumulated on the params it was bound to
// at construction.
type Optimizer interface {
	Step()
	ZeroGrad()
}

// SGD applies w -= lr * (grad + weightDecay*w).
type SGD struct {
	params []*Param
	lr     float64
	wd     float64
}

func MakeSGD(params []*Param, lr, weightDecay float64) (*SGD, error) {
	if lr <= 0 {
		return nil, fmt.Errorf("%w: learning rate %g must be positive", ErrConfig, lr)
	}
	if weightDecay < 0 {
		return nil, fmt.Errorf("%w: weight decay %g must be non-negative", ErrConfig, weightDecay)
	}
	return &SGD{params: params, lr: lr, wd: weightDecay}, nil
}

func (o *SGD) ZeroGrad() {
	for _, p := range o.params {
		p.zeroGrad()
	}
}

func (o *SGD) Step() {
	for _, p := range o.params {
		w := p.W.RawMatrix().Data
		g := p.Grad.RawMatrix().Data
		for i := range w {
			w[i] -= o.lr * (g[i] + o.wd*w[i])
		}
	}
}

// AdamW keeps bias-corrected first and second moments per weight and applies
// weight decay decoupled from the adaptive update.
type AdamW struct {
	params []*Param
	lr     float64
	beta1  float64
	beta2  float64
	eps    float64
	wd     float64

	m [][]float64
	v [][]float64
	t int
}

func MakeAdamW(params []*Param, lr, beta1, beta2, eps, weightDecay float64) (*AdamW, error) {
	if lr <= 0 {
		return nil, fmt.Errorf("%w: learning rate %g must be positive", ErrConfig, lr)
	}
	if beta1 < 0 || beta1 >= 1 || beta2 < 0 || beta2 >= 1 {
		return nil, fmt.Errorf("%w: betas (%g, %g) must lie in [0, 1)", ErrConfig, beta1, beta2)
	}
	if eps <= 0 {
		return nil, fmt.Errorf("%w: eps %g must be positive", ErrConfig, eps)
	}
	if weightDecay < 0 {
		return nil, fmt.Errorf("%w: weight decay %g must be non-negative", ErrConfig, weightDecay)
	}
	o := &AdamW{params: params, lr: lr, beta1: beta1, beta2: beta2, eps: eps, wd: weightDecay}
	for _, p := range params {
		r, c := p.W.Dims()
		o.m = append(o.m, make([]float64, r*c))
		o.v = append(o.v, make([]float64, r*c))
	}
	return o, nil
}

func (o *AdamW) ZeroGrad() {
	for _, p := range o.params {
		p.zeroGrad()
	}
}

func (o *AdamW) Step() {
	o.t++
	bc1 := 1 - math.Pow(o.beta1, float64(o.t))
	bc2 := 1 - math.Pow(o.beta2, float64(o.t))
	for k, p := range o.params {
		w := p.W.RawMatrix().Data
		g := p.Grad.RawMatrix().Data
		m := o.m[k]
		v := o.v[k]
		for i := range w {
			m[i] = o.beta1*m[i] + (1-o.beta1)*g[i]
			v[i] = o.beta2*v[i] + (1-o.beta2)*g[i]*g[i]
			mhat := m[i] / bc1
			vhat := v[i] / bc2
			w[i] -= o.lr * (mhat/(math.Sqrt(vhat)+o.eps) + o.wd*w[i])
		}
	}
}
