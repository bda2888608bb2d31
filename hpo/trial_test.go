package hpo

import (
	"context"
	"errors"
	"testing"

	"gonum.org/v1/gonum/mat"

	"mmtune/ml"
)

func runnerFixture(t *testing.T) *LocalRunner {
	t.Helper()
	cfg := ml.Config{
		HiddenDim: 8, Heads: 2, EncoderLayers: 1, DecoderLayers: 1,
		FFNDim: 16, Classes: 3, Seed: 7, ClipNorm: 1,
	}
	text := &ml.DumbEncoder{Width: 3, Mode: "text", Len: 2}
	image := &ml.DumbEncoder{Width: 4, Mode: "image", Len: 3}
	audio := &ml.DumbEncoder{Width: 5, Mode: "audio", Len: 2}
	batch := []ml.Example{
		{Text: "red square", Image: "img-a", Audio: "clip-a", Label: 0},
		{Text: "blue circle", Image: "img-b", Audio: "clip-b", Label: 1},
	}
	r, err := MakeLocalRunner(cfg, text, image, audio, batch)
	if err != nil {
		t.Fatalf("MakeLocalRunner: %v", err)
	}
	return r
}

func TestLocalRunnerDeterministic(t *testing.T) {
	r := runnerFixture(t)
	a := Assignment{"lr": 1e-3, "weight_decay": 1e-4}

	first, err := r.Run(context.Background(), a)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := r.Run(context.Background(), a)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if first != second {
		t.Fatalf("same assignment gave different losses: %g vs %g", first, second)
	}
}

func TestLocalRunnerIndependentOfCallOrder(t *testing.T) {
	// each call builds a fresh model, so an earlier trial with a huge lr
	// must not bleed into a later one
	r := runnerFixture(t)
	a := Assignment{"lr": 1e-4, "weight_decay": 1e-5}

	want, err := r.Run(context.Background(), a)
	if err != nil {
		t.Fatalf("baseline run: %v", err)
	}
	if _, err := r.Run(context.Background(), Assignment{"lr": 0.9, "weight_decay": 1e-2}); err != nil {
		t.Fatalf("interfering run: %v", err)
	}
	got, err := r.Run(context.Background(), a)
	if err != nil {
		t.Fatalf("repeat run: %v", err)
	}
	if got != want {
		t.Fatalf("trial state leaked between runs: %g vs %g", got, want)
	}
}

func TestMakeLocalRunnerRejectsEmptyBatch(t *testing.T) {
	cfg := ml.Config{HiddenDim: 8, Heads: 2, FFNDim: 16, Classes: 2}
	enc := &ml.DumbEncoder{Width: 3, Mode: "text", Len: 2}
	_, err := MakeLocalRunner(cfg, enc, enc, enc, nil)
	if !errors.Is(err, ErrConfig) {
		t.Fatalf("got %v, want ErrConfig", err)
	}
}

func TestMakeLocalRunnerValidatesModelEagerly(t *testing.T) {
	cfg := ml.Config{HiddenDim: 5, Heads: 2, EncoderLayers: 1, DecoderLayers: 1, FFNDim: 16, Classes: 2}
	enc := &ml.DumbEncoder{Width: 3, Mode: "text", Len: 2}
	batch := []ml.Example{{Text: "x", Image: "y", Audio: "z", Label: 0}}
	_, err := MakeLocalRunner(cfg, enc, enc, enc, batch)
	if !errors.Is(err, ml.ErrConfig) {
		t.Fatalf("5%%2 != 0 must fail at construction, got %v", err)
	}
}

func TestLocalRunnerMissingParam(t *testing.T) {
	r := runnerFixture(t)
	_, err := r.Run(context.Background(), Assignment{"lr": 1e-3})
	if !errors.Is(err, ErrTrainingStep) {
		t.Fatalf("got %v, want ErrTrainingStep", err)
	}
}

type boomEncoder struct{ width int }

func (e *boomEncoder) Preprocess(raw string) (ml.Input, error) { return raw, nil }
func (e *boomEncoder) Encode(ml.Input) (*mat.Dense, error)     { panic("encoder exploded") }
func (e *boomEncoder) OutputWidth() int                        { return e.width }
func (e *boomEncoder) Modality() string                        { return "image" }

func TestLocalRunnerRecoversPanic(t *testing.T) {
	cfg := ml.Config{
		HiddenDim: 8, Heads: 2, EncoderLayers: 1, DecoderLayers: 1,
		FFNDim: 16, Classes: 2, Seed: 3,
	}
	text := &ml.DumbEncoder{Width: 3, Mode: "text", Len: 2}
	audio := &ml.DumbEncoder{Width: 5, Mode: "audio", Len: 2}
	batch := []ml.Example{{Text: "a", Image: "b", Audio: "c", Label: 0}}

	r, err := MakeLocalRunner(cfg, text, &boomEncoder{width: 4}, audio, batch)
	if err != nil {
		t.Fatalf("MakeLocalRunner: %v", err)
	}
	_, err = r.Run(context.Background(), Assignment{"lr": 1e-3, "weight_decay": 1e-4})
	if !errors.Is(err, ErrTrainingStep) {
		t.Fatalf("panic must surface as ErrTrainingStep, got %v", err)
	}
}

func TestLocalRunnerHonorsContext(t *testing.T) {
	r := runnerFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Run(ctx, Assignment{"lr": 1e-3, "weight_decay": 1e-4})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}
