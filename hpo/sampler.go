package hpo

import (
	"math"
	"math/rand"
)

// Sampler proposes the assignment for the next trial. history holds the
// records completed so far in completion order; stateless samplers ignore
// it. The engine serializes calls, so implementations need no locking of
// their own.
type Sampler interface {
	Name() string
	Next(history []TrialRecord) (Assignment, error)
}

// RandomSampler draws every parameter independently on each call. This is
// the baseline strategy: no adaptation between trials.
type RandomSampler struct {
	space Space
	rng   *rand.Rand
}

func MakeRandomSampler(space Space, seed int64) *RandomSampler {
	return &RandomSampler{space: space, rng: rand.New(rand.NewSource(seed))}
}

func (s *RandomSampler) Name() string { return "random" }

func (s *RandomSampler) Next([]TrialRecord) (Assignment, error) {
	return s.space.Sample(s.rng), nil
}

// GridSampler walks the cartesian product of per-parameter levels in
// declaration order. Levels are linearly spaced for uniform parameters and
// log-spaced for loguniform ones. When the trial budget exceeds the grid,
// the walk wraps around.
type GridSampler struct {
	space  Space
	levels int
	next   int
}

// MakeGridSampler picks levels automatically (the smallest grid covering
// trials points) when levels <= 0.
func MakeGridSampler(space Space, levels, trials int) *GridSampler {
	if levels <= 0 {
		levels = autoLevels(len(space), trials)
	}
	return &GridSampler{space: space, levels: levels}
}

func autoLevels(dims, trials int) int {
	if dims == 0 || trials <= 1 {
		return 1
	}
	l := 1
	for pow(l, dims) < trials {
		l++
	}
	return l
}

func pow(base, exp int) int {
	out := 1
	for i := 0; i < exp; i++ {
		out *= base
		if out < 0 { // overflow guard for absurd grids
			return math.MaxInt
		}
	}
	return out
}

func (s *GridSampler) Name() string { return "grid" }

func (s *GridSampler) Next([]TrialRecord) (Assignment, error) {
	idx := s.next % pow(s.levels, len(s.space))
	s.next++

	a := make(Assignment, len(s.space))
	for _, p := range s.space {
		pos := idx % s.levels
		idx /= s.levels
		a[p.Name] = p.level(pos, s.levels)
	}
	return a, nil
}

// level returns the pos-th of n ladder values for the parameter.
func (p ParamSpec) level(pos, n int) float64 {
	if n <= 1 {
		if p.Dist == DistLogUniform {
			return math.Exp((math.Log(p.Low) + math.Log(p.High)) / 2)
		}
		return (p.Low + p.High) / 2
	}
	t := float64(pos) / float64(n-1)
	var v float64
	if p.Dist == DistLogUniform {
		v = math.Exp(math.Log(p.Low) + t*(math.Log(p.High)-math.Log(p.Low)))
	} else {
		v = p.Low + t*(p.High-p.Low)
	}
	if v < p.Low {
		v = p.Low
	}
	if v > p.High {
		v = p.High
	}
	return v
}
