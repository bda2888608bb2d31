package hpo

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// GPConfig tunes the model-based sampler.
type GPConfig struct {
	InitSamples int     // random draws before the surrogate kicks in
	Candidates  int     // random candidates scored per step
	Beta        float64 // exploration weight in the mu - beta*sigma bound
	Lengthscale float64 // SE kernel lengthscale in unit-cube coordinates
	Noise       float64 // observation noise on the kernel diagonal
	Seed        int64
}

func (c *GPConfig) applyDefaults() {
	if c.InitSamples <= 0 {
		c.InitSamples = 5
	}
	if c.Candidates <= 0 {
		c.Candidates = 64
	}
	if c.Beta <= 0 {
		c.Beta = 2
	}
	if c.Lengthscale <= 0 {
		c.Lengthscale = 0.2
	}
	if c.Noise <= 0 {
		c.Noise = 1e-6
	}
}

// GPSampler fits a Gaussian process over the finite-objective history and
// proposes the random candidate minimizing the lower confidence bound
// mu - beta*sigma. Parameters are modeled in the unit cube: loguniform ones
// on a log scale, uniform ones linearly. Until InitSamples observations
// exist (and whenever the kernel cannot be factorized) it falls back to
// independent random draws.
type GPSampler struct {
	space Space
	cfg   GPConfig
	rng   *rand.Rand
}

func MakeGPSampler(space Space, cfg GPConfig) *GPSampler {
	cfg.applyDefaults()
	return &GPSampler{space: space, cfg: cfg, rng: rand.New(rand.NewSource(cfg.Seed))}
}

func (s *GPSampler) Name() string { return "gp" }

func (s *GPSampler) Next(history []TrialRecord) (Assignment, error) {
	var xs [][]float64
	var ys []float64
	for _, rec := range history {
		if rec.Failed || math.IsInf(rec.Objective, 0) || math.IsNaN(rec.Objective) {
			continue
		}
		xs = append(xs, s.normalize(rec.Params))
		ys = append(ys, rec.Objective)
	}
	if len(xs) < s.cfg.InitSamples {
		return s.space.Sample(s.rng), nil
	}

	n := len(xs)
	mean, std := meanStd(ys)
	yv := mat.NewVecDense(n, nil)
	for i, y := range ys {
		yv.SetVec(i, (y-mean)/std)
	}

	kernel := mat.NewSymDense(n, nil)
	noise := s.cfg.Noise
	var chol mat.Cholesky
	ok := false
	for try := 0; try < 3 && !ok; try++ {
		for i := 0; i < n; i++ {
			for j := i; j < n; j++ {
				v := s.kernel(xs[i], xs[j])
				if i == j {
					v += noise
				}
				kernel.SetSym(i, j, v)
			}
		}
		ok = chol.Factorize(kernel)
		noise *= 10
	}
	if !ok {
		return s.space.Sample(s.rng), nil
	}

	alpha := mat.NewVecDense(n, nil)
	if err := chol.SolveVecTo(alpha, yv); err != nil {
		return s.space.Sample(s.rng), nil
	}

	var best Assignment
	bestScore := math.Inf(1)
	kstar := mat.NewVecDense(n, nil)
	tmp := mat.NewVecDense(n, nil)
	for c := 0; c < s.cfg.Candidates; c++ {
		cand := s.space.Sample(s.rng)
		x := s.normalize(cand)
		for i := 0; i < n; i++ {
			kstar.SetVec(i, s.kernel(x, xs[i]))
		}
		mu := mat.Dot(kstar, alpha)*std + mean
		variance := 1 - s.quadForm(&chol, kstar, tmp)
		if variance < 0 {
			variance = 0
		}
		score := mu - s.cfg.Beta*math.Sqrt(variance)*std
		if score < bestScore {
			bestScore = score
			best = cand
		}
	}
	return best, nil
}

// quadForm computes kstar^T K^-1 kstar via the Cholesky solve.
func (s *GPSampler) quadForm(chol *mat.Cholesky, kstar, tmp *mat.VecDense) float64 {
	if err := chol.SolveVecTo(tmp, kstar); err != nil {
		return 0
	}
	return mat.Dot(kstar, tmp)
}

// kernel is squared-exponential with unit signal variance.
func (s *GPSampler) kernel(a, b []float64) float64 {
	var d2 float64
	for i := range a {
		d := a[i] - b[i]
		d2 += d * d
	}
	return math.Exp(-d2 / (2 * s.cfg.Lengthscale * s.cfg.Lengthscale))
}

// normalize maps an assignment onto the unit cube in space order.
func (s *GPSampler) normalize(a Assignment) []float64 {
	out := make([]float64, len(s.space))
	for i, p := range s.space {
		v := a[p.Name]
		if p.Dist == DistLogUniform {
			out[i] = (math.Log(v) - math.Log(p.Low)) / (math.Log(p.High) - math.Log(p.Low))
		} else {
			out[i] = (v - p.Low) / (p.High - p.Low)
		}
	}
	return out
}

func meanStd(ys []float64) (mean, std float64) {
	for _, y := range ys {
		mean += y
	}
	mean /= float64(len(ys))
	for _, y := range ys {
		std += (y - mean) * (y - mean)
	}
	std = math.Sqrt(std / float64(len(ys)))
	if std == 0 {
		std = 1
	}
	return mean, std
}
