package ml

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Summary modes for collapsing the fused sequence into one vector.
const (
	SummaryMean = "mean" // average over all fused positions
	SummaryHead = "head" // take position 0
)

// Config holds the trainable part of the pipeline. Encoder widths are not
// here: each Encoder declares its own output width and the model adapts.
type Config struct {
	HiddenDim     int
	Heads         int
	EncoderLayers int
	DecoderLayers int
	FFNDim        int
	Classes       int
	Summary       string
	Seed          int64
	ClipNorm      float64 // global grad-norm clip, 0 disables
}

// Example is one supervised training tuple. Image and Audio are raw inputs
// for the respective encoders (paths for the file-backed ones).
type Example struct {
	Text  string
	Image string
	Audio string
	Label int
}

// Model is the full pipeline: preprocess -> encode -> project -> concatenate
// -> fuse -> classify. Encoders are shared and frozen; projections, fusion
// and head are owned and trained.
type Model struct {
	cfg Config

	text  Encoder
	image Encoder
	audio Encoder

	projText  *linear
	projImage *linear
	projAudio *linear
	fuse      *fusion
	head      *linear

	allParams []*Param

	lastLens [3]int // per-modality lengths of the latest forward
	lastRows int
}

// MakeModel validates the whole configuration up front: anything structurally
// wrong surfaces here as ErrConfig, never later during a training step.
func MakeModel(cfg Config, text, image, audio Encoder) (*Model, error) {
	if text == nil || image == nil || audio == nil {
		return nil, fmt.Errorf("%w: all three encoders are required", ErrConfig)
	}
	if cfg.HiddenDim <= 0 {
		return nil, fmt.Errorf("%w: hidden dim %d must be positive", ErrConfig, cfg.HiddenDim)
	}
	if cfg.Heads <= 0 {
		return nil, fmt.Errorf("%w: heads %d must be positive", ErrConfig, cfg.Heads)
	}
	if cfg.HiddenDim%cfg.Heads != 0 {
		return nil, fmt.Errorf("%w: hidden dim %d not divisible by %d heads", ErrConfig, cfg.HiddenDim, cfg.Heads)
	}
	if cfg.FFNDim <= 0 {
		return nil, fmt.Errorf("%w: ffn dim %d must be positive", ErrConfig, cfg.FFNDim)
	}
	if cfg.Classes < 2 {
		return nil, fmt.Errorf("%w: classes %d, need at least 2", ErrConfig, cfg.Classes)
	}
	switch cfg.Summary {
	case "":
		cfg.Summary = SummaryMean
	case SummaryMean, SummaryHead:
	default:
		return nil, fmt.Errorf("%w: unknown summary mode %q", ErrConfig, cfg.Summary)
	}
	for _, enc := range []Encoder{text, image, audio} {
		if enc.OutputWidth() <= 0 {
			return nil, fmt.Errorf("%w: %s encoder reports width %d", ErrConfig, enc.Modality(), enc.OutputWidth())
		}
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	m := &Model{cfg: cfg, text: text, image: image, audio: audio}
	// construction order fixes the param init sequence for a given seed
	m.projText = makeLinear("proj.text", text.OutputWidth(), cfg.HiddenDim, rng)
	m.projImage = makeLinear("proj.image", image.OutputWidth(), cfg.HiddenDim, rng)
	m.projAudio = makeLinear("proj.audio", audio.OutputWidth(), cfg.HiddenDim, rng)
	fu, err := makeFusion(cfg.HiddenDim, cfg.Heads, cfg.EncoderLayers, cfg.DecoderLayers, cfg.FFNDim, rng)
	if err != nil {
		return nil, err
	}
	m.fuse = fu
	m.head = makeLinear("head", cfg.HiddenDim, cfg.Classes, rng)

	m.allParams = append(m.allParams, m.projText.params()...)
	m.allParams = append(m.allParams, m.projImage.params()...)
	m.allParams = append(m.allParams, m.projAudio.params()...)
	m.allParams = append(m.allParams, m.fuse.params()...)
	m.allParams = append(m.allParams, m.head.params()...)
	return m, nil
}

func (m *Model) Params() []*Param { return m.allParams }
func (m *Model) Config() Config   { return m.cfg }

// Forward runs the full pipeline and returns (1, classes) logits. All three
// inputs are preprocessed before any encoder runs, so a bad input on any
// modality aborts with no partial result.
func (m *Model) Forward(text, imagePath, audioPath string) (*mat.Dense, error) {
	ti, err := m.text.Preprocess(text)
	if err != nil {
		return nil, fmt.Errorf("text: %w", err)
	}
	ii, err := m.image.Preprocess(imagePath)
	if err != nil {
		return nil, fmt.Errorf("image: %w", err)
	}
	ai, err := m.audio.Preprocess(audioPath)
	if err != nil {
		return nil, fmt.Errorf("audio: %w", err)
	}

	tf, err := m.text.Encode(ti)
	if err != nil {
		return nil, fmt.Errorf("text: %w", err)
	}
	imf, err := m.image.Encode(ii)
	if err != nil {
		return nil, fmt.Errorf("image: %w", err)
	}
	af, err := m.audio.Encode(ai)
	if err != nil {
		return nil, fmt.Errorf("audio: %w", err)
	}

	pt := m.projText.forward(tf)
	pi := m.projImage.forward(imf)
	pa := m.projAudio.forward(af)
	lt, _ := pt.Dims()
	li, _ := pi.Dims()
	la, _ := pa.Dims()
	m.lastLens = [3]int{lt, li, la}
	m.lastRows = lt + li + la

	fused := m.fuse.forward(concatRows(pt, pi, pa))
	return m.head.forward(m.summarize(fused)), nil
}

func (m *Model) summarize(fused *mat.Dense) *mat.Dense {
	if m.cfg.Summary == SummaryHead {
		_, c := fused.Dims()
		out := mat.NewDense(1, c, nil)
		copy(out.RawRowView(0), fused.RawRowView(0))
		return out
	}
	return meanRows(fused)
}

// backward pushes dLogits through the pipeline of the latest Forward,
// accumulating into every owned param. Encoder features are frozen, so the
// projection input gradients stop there.
func (m *Model) backward(dLogits *mat.Dense) {
	dSummary := m.head.backward(dLogits)
	dFused := mat.NewDense(m.lastRows, m.cfg.HiddenDim, nil)
	if m.cfg.Summary == SummaryHead {
		copy(dFused.RawRowView(0), dSummary.RawRowView(0))
	} else {
		s := 1 / float64(m.lastRows)
		src := dSummary.RawRowView(0)
		for i := 0; i < m.lastRows; i++ {
			row := dFused.RawRowView(i)
			for j := range row {
				row[j] = src[j] * s
			}
		}
	}
	dConcat := m.fuse.backward(dFused)
	parts := splitRows(dConcat, m.lastLens[:])
	m.projText.backward(parts[0])
	m.projImage.backward(parts[1])
	m.projAudio.backward(parts[2])
}

// Loss is the mean cross-entropy of the batch without touching gradients.
func (m *Model) Loss(batch []Example) (float64, error) {
	if len(batch) == 0 {
		return 0, fmt.Errorf("empty batch")
	}
	var total float64
	for _, ex := range batch {
		logits, err := m.Forward(ex.Text, ex.Image, ex.Audio)
		if err != nil {
			return 0, err
		}
		l, err := crossEntropy(logits, ex.Label)
		if err != nil {
			return 0, err
		}
		total += l
	}
	return total / float64(len(batch)), nil
}

// TrainStep performs exactly one optimization step: zero grads, accumulate
// the batch-averaged gradients example by example, clip, step. Returns the
// pre-step mean loss.
func (m *Model) TrainStep(opt Optimizer, batch []Example) (float64, error) {
	if len(batch) == 0 {
		return 0, fmt.Errorf("empty batch")
	}
	opt.ZeroGrad()
	s := 1 / float64(len(batch))
	var total float64
	for _, ex := range batch {
		logits, err := m.Forward(ex.Text, ex.Image, ex.Audio)
		if err != nil {
			return 0, err
		}
		l, err := crossEntropy(logits, ex.Label)
		if err != nil {
			return 0, err
		}
		total += l
		m.backward(crossEntropyBackward(logits, ex.Label, s))
	}
	clipParams(m.allParams, m.cfg.ClipNorm)
	opt.Step()
	return total * s, nil
}

// Predict returns the argmax class and the logits.
func (m *Model) Predict(text, imagePath, audioPath string) (int, *mat.Dense, error) {
	logits, err := m.Forward(text, imagePath, audioPath)
	if err != nil {
		return 0, nil, err
	}
	row := logits.RawRowView(0)
	best := 0
	for i, v := range row {
		if v > row[best] {
			best = i
		}
	}
	return best, logits, nil
}

// Save writes the trained weights as a gob state dict.
func (m *Model) Save(path string) error {
	return saveParams(path, m.allParams)
}

// Load restores weights saved by Save into a model built with the same
// configuration.
func (m *Model) Load(path string) error {
	return loadParams(path, m.allParams)
}
