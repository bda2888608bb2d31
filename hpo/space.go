package hpo

import (
	"fmt"
	"math"
	"math/rand"
)

// Distribution kinds for a search parameter.
const (
	DistUniform    = "uniform"
	DistLogUniform = "loguniform"
)

// ParamSpec declares one tunable parameter: how to draw it and within which
// closed bounds.
type ParamSpec struct {
	Name string
	Dist string
	Low  float64
	High float64
}

// sample draws one value. Draws are clamped so they never leave the declared
// bounds, including through float round-trips of exp(log(x)).
func (p ParamSpec) sample(rng *rand.Rand) float64 {
	u := rng.Float64()
	var v float64
	if p.Dist == DistLogUniform {
		v = math.Exp(math.Log(p.Low) + u*(math.Log(p.High)-math.Log(p.Low)))
	} else {
		v = p.Low + u*(p.High-p.Low)
	}
	if v < p.Low {
		v = p.Low
	}
	if v > p.High {
		v = p.High
	}
	return v
}

// Space is an ordered list of parameter declarations. Samplers walk it in
// declaration order, which keeps runs reproducible for a fixed seed.
type Space []ParamSpec

func (s Space) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("%w: empty search space", ErrConfig)
	}
	seen := make(map[string]bool, len(s))
	for _, p := range s {
		if p.Name == "" {
			return fmt.Errorf("%w: unnamed parameter", ErrConfig)
		}
		if seen[p.Name] {
			return fmt.Errorf("%w: duplicate parameter %q", ErrConfig, p.Name)
		}
		seen[p.Name] = true
		switch p.Dist {
		case DistUniform:
		case DistLogUniform:
			if p.Low <= 0 {
				return fmt.Errorf("%w: %s: loguniform lower bound %g must be positive",
					ErrConfig, p.Name, p.Low)
			}
		default:
			return fmt.Errorf("%w: %s: unknown distribution %q", ErrConfig, p.Name, p.Dist)
		}
		if p.Low >= p.High {
			return fmt.Errorf("%w: %s: bounds [%g, %g] are not increasing",
				ErrConfig, p.Name, p.Low, p.High)
		}
	}
	return nil
}

func (s Space) find(name string) (ParamSpec, bool) {
	for _, p := range s {
		if p.Name == name {
			return p, true
		}
	}
	return ParamSpec{}, false
}

// Sample draws every parameter independently.
func (s Space) Sample(rng *rand.Rand) Assignment {
	a := make(Assignment, len(s))
	for _, p := range s {
		a[p.Name] = p.sample(rng)
	}
	return a
}

// Assignment maps parameter names to sampled values. Once recorded in a
// TrialRecord it is never mutated.
type Assignment map[string]float64

func (a Assignment) Clone() Assignment {
	c := make(Assignment, len(a))
	for k, v := range a {
		c[k] = v
	}
	return c
}
