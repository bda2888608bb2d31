package hpo

import (
	"context"
	"fmt"
	"math"

	"mmtune/ml"
)

// Runner evaluates one sampled assignment and returns the scalar objective
// to minimize. ParamNames lists the assignment keys the runner reads; the
// engine checks them against the space before any trial runs.
type Runner interface {
	Run(ctx context.Context, a Assignment) (float64, error)
	ParamNames() []string
}

// LocalRunner trains in-process: each call builds a fresh model and AdamW
// optimizer from the assignment and performs exactly one training step on
// the fixed batch. Nothing survives between calls, so trials are independent
// and safe to reorder or parallelize.
type LocalRunner struct {
	model ml.Config
	text  ml.Encoder
	image ml.Encoder
	audio ml.Encoder
	batch []ml.Example

	beta1, beta2, eps float64
}

// MakeLocalRunner validates eagerly: a model configuration that cannot build
// fails here, not inside trial number three.
func MakeLocalRunner(model ml.Config, text, image, audio ml.Encoder, batch []ml.Example) (*LocalRunner, error) {
	if len(batch) == 0 {
		return nil, fmt.Errorf("%w: empty example batch", ErrConfig)
	}
	if _, err := ml.MakeModel(model, text, image, audio); err != nil {
		return nil, err
	}
	return &LocalRunner{
		model: model, text: text, image: image, audio: audio, batch: batch,
		beta1: 0.9, beta2: 0.999, eps: 1e-8,
	}, nil
}

func (r *LocalRunner) ParamNames() []string { return []string{"lr", "weight_decay"} }

func (r *LocalRunner) Run(ctx context.Context, a Assignment) (obj float64, err error) {
	if cerr := ctx.Err(); cerr != nil {
		return 0, cerr
	}
	// gonum panics on shape bugs; a broken trial must report, not crash the
	// search process
	defer func() {
		if rec := recover(); rec != nil {
			obj = 0
			err = fmt.Errorf("%w: panic: %v", ErrTrainingStep, rec)
		}
	}()

	lr, ok := a["lr"]
	if !ok {
		return 0, fmt.Errorf("%w: assignment missing lr", ErrTrainingStep)
	}
	wd, ok := a["weight_decay"]
	if !ok {
		return 0, fmt.Errorf("%w: assignment missing weight_decay", ErrTrainingStep)
	}

	m, err := ml.MakeModel(r.model, r.text, r.image, r.audio)
	if err != nil {
		return 0, fmt.Errorf("%w: build model: %v", ErrTrainingStep, err)
	}
	opt, err := ml.MakeAdamW(m.Params(), lr, r.beta1, r.beta2, r.eps, wd)
	if err != nil {
		return 0, fmt.Errorf("%w: build optimizer: %v", ErrTrainingStep, err)
	}
	loss, err := m.TrainStep(opt, r.batch)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrTrainingStep, err)
	}
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return 0, fmt.Errorf("%w: non-finite loss %g", ErrTrainingStep, loss)
	}
	return loss, nil
}
