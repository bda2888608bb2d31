package hpo

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
)

// stubRunner scores assignments with a plain function, no model involved.
type stubRunner struct {
	mu    sync.Mutex
	calls int
	fn    func(call int, a Assignment) (float64, error)
}

func (s *stubRunner) ParamNames() []string { return []string{"lr", "weight_decay"} }

func (s *stubRunner) Run(_ context.Context, a Assignment) (float64, error) {
	s.mu.Lock()
	call := s.calls
	s.calls++
	s.mu.Unlock()
	return s.fn(call, a)
}

func lrScaled(_ int, a Assignment) (float64, error) { return a["lr"] * 1000, nil }

func TestEngineRunsExactBudget(t *testing.T) {
	space := searchSpace()
	runner := &stubRunner{fn: lrScaled}
	eng, err := MakeEngine(space, MakeRandomSampler(space, 42), runner, Serial{}, 10, nil)
	if err != nil {
		t.Fatalf("MakeEngine: %v", err)
	}

	res, err := eng.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Records) != 10 {
		t.Fatalf("got %d records, want 10", len(res.Records))
	}
	for i, rec := range res.Records {
		if rec.Index != i {
			t.Fatalf("record %d has index %d", i, rec.Index)
		}
		if rec.Failed {
			t.Fatalf("trial %d unexpectedly failed: %s", i, rec.Err)
		}
	}

	best, err := res.Best()
	if err != nil {
		t.Fatalf("Best: %v", err)
	}
	minLR := math.Inf(1)
	for _, rec := range res.Records {
		if rec.Params["lr"] < minLR {
			minLR = rec.Params["lr"]
		}
	}
	if best.Params["lr"] != minLR {
		t.Fatalf("best lr %g, want the smallest sampled lr %g", best.Params["lr"], minLR)
	}
	if best.Objective != minLR*1000 {
		t.Fatalf("best objective %g, want %g", best.Objective, minLR*1000)
	}
}

func TestEngineAllTrialsFail(t *testing.T) {
	space := searchSpace()
	runner := &stubRunner{fn: func(int, Assignment) (float64, error) {
		return 0, ErrTrainingStep
	}}
	eng, err := MakeEngine(space, MakeRandomSampler(space, 1), runner, Serial{}, 6, nil)
	if err != nil {
		t.Fatalf("MakeEngine: %v", err)
	}

	res, err := eng.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Records) != 6 {
		t.Fatalf("got %d records, want 6", len(res.Records))
	}
	for _, rec := range res.Records {
		if !rec.Failed || !math.IsInf(rec.Objective, 1) {
			t.Fatalf("trial %d: Failed=%v Objective=%g, want failed with +Inf", rec.Index, rec.Failed, rec.Objective)
		}
	}
	if _, err := res.Best(); !errors.Is(err, ErrNoSuccessfulTrial) {
		t.Fatalf("Best on all-failed run: got %v, want ErrNoSuccessfulTrial", err)
	}
}

func TestEngineFailedTrialNeverBest(t *testing.T) {
	// the failing trial would win on objective if failures could count
	space := searchSpace()
	runner := &stubRunner{fn: func(call int, a Assignment) (float64, error) {
		if call == 0 {
			return -1000, ErrTrainingStep
		}
		return 5, nil
	}}
	eng, err := MakeEngine(space, MakeRandomSampler(space, 2), runner, Serial{}, 4, nil)
	if err != nil {
		t.Fatalf("MakeEngine: %v", err)
	}

	res, err := eng.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	best, err := res.Best()
	if err != nil {
		t.Fatalf("Best: %v", err)
	}
	if best.Index != 1 {
		t.Fatalf("best index %d, want 1 (earliest successful)", best.Index)
	}
	if res.Records[0].Err == "" {
		t.Fatal("failed record lost its error text")
	}
}

func TestEngineTieBreaksOnEarliestIndex(t *testing.T) {
	space := searchSpace()
	runner := &stubRunner{fn: func(int, Assignment) (float64, error) { return 3.25, nil }}
	eng, err := MakeEngine(space, MakeRandomSampler(space, 5), runner, Serial{}, 5, nil)
	if err != nil {
		t.Fatalf("MakeEngine: %v", err)
	}

	res, err := eng.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	best, err := res.Best()
	if err != nil {
		t.Fatalf("Best: %v", err)
	}
	if best.Index != 0 {
		t.Fatalf("equal objectives must keep the earliest trial, got index %d", best.Index)
	}
}

func TestEngineCancellationKeepsCompletedTrials(t *testing.T) {
	space := searchSpace()
	ctx, cancel := context.WithCancel(context.Background())
	runner := &stubRunner{fn: func(call int, a Assignment) (float64, error) {
		if call == 2 {
			cancel()
		}
		return a["lr"], nil
	}}
	eng, err := MakeEngine(space, MakeRandomSampler(space, 3), runner, Serial{}, 10, nil)
	if err != nil {
		t.Fatalf("MakeEngine: %v", err)
	}

	res, err := eng.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if len(res.Records) != 3 {
		t.Fatalf("got %d records, want the 3 completed before cancellation", len(res.Records))
	}
	for i, rec := range res.Records {
		if rec.Index != i || rec.Failed {
			t.Fatalf("record %d: index %d failed=%v", i, rec.Index, rec.Failed)
		}
	}
}

func TestEngineSamplerSeesCompletedHistory(t *testing.T) {
	space := searchSpace()
	inner := MakeRandomSampler(space, 4)
	rec := &recordingSampler{inner: inner}
	runner := &stubRunner{fn: lrScaled}
	eng, err := MakeEngine(space, rec, runner, Serial{}, 5, nil)
	if err != nil {
		t.Fatalf("MakeEngine: %v", err)
	}
	if _, err := eng.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []int{0, 1, 2, 3, 4}
	if len(rec.lens) != len(want) {
		t.Fatalf("sampler called %d times, want %d", len(rec.lens), len(want))
	}
	for i, w := range want {
		if rec.lens[i] != w {
			t.Fatalf("call %d saw history of %d records, want %d", i, rec.lens[i], w)
		}
	}
}

type recordingSampler struct {
	inner Sampler
	lens  []int
}

func (s *recordingSampler) Name() string { return s.inner.Name() }

func (s *recordingSampler) Next(history []TrialRecord) (Assignment, error) {
	s.lens = append(s.lens, len(history))
	return s.inner.Next(history)
}

func TestPoolMatchesSerial(t *testing.T) {
	space := searchSpace()

	run := func(exec Executor) *Result {
		t.Helper()
		runner := &stubRunner{fn: lrScaled}
		eng, err := MakeEngine(space, MakeRandomSampler(space, 42), runner, exec, 12, nil)
		if err != nil {
			t.Fatalf("MakeEngine: %v", err)
		}
		res, err := eng.Run(context.Background())
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		return res
	}

	serial := run(Serial{})
	pooled := run(Pool{Workers: 4})

	if len(serial.Records) != len(pooled.Records) {
		t.Fatalf("record counts differ: %d vs %d", len(serial.Records), len(pooled.Records))
	}
	for i := range serial.Records {
		s, p := serial.Records[i], pooled.Records[i]
		if s.Index != p.Index || s.Objective != p.Objective {
			t.Fatalf("record %d differs: serial (%d, %g) vs pool (%d, %g)",
				i, s.Index, s.Objective, p.Index, p.Objective)
		}
		for name := range s.Params {
			if s.Params[name] != p.Params[name] {
				t.Fatalf("record %d: %s differs: %g vs %g", i, name, s.Params[name], p.Params[name])
			}
		}
	}
}

func TestMakeEngineValidation(t *testing.T) {
	space := searchSpace()
	sampler := MakeRandomSampler(space, 1)
	runner := &stubRunner{fn: lrScaled}

	cases := []struct {
		name string
		err  error
	}{
		{"zero budget", func() error {
			_, err := MakeEngine(space, sampler, runner, nil, 0, nil)
			return err
		}()},
		{"nil sampler", func() error {
			_, err := MakeEngine(space, nil, runner, nil, 3, nil)
			return err
		}()},
		{"nil runner", func() error {
			_, err := MakeEngine(space, sampler, nil, nil, 3, nil)
			return err
		}()},
		{"invalid space", func() error {
			_, err := MakeEngine(Space{}, sampler, runner, nil, 3, nil)
			return err
		}()},
		{"runner param outside space", func() error {
			lrOnly := Space{{Name: "lr", Dist: DistLogUniform, Low: 1e-5, High: 1e-3}}
			_, err := MakeEngine(lrOnly, MakeRandomSampler(lrOnly, 1), runner, nil, 3, nil)
			return err
		}()},
	}
	for _, tc := range cases {
		if !errors.Is(tc.err, ErrConfig) {
			t.Errorf("%s: got %v, want ErrConfig", tc.name, tc.err)
		}
	}
}

func TestEngineDefaultsToSerialExecutor(t *testing.T) {
	space := searchSpace()
	runner := &stubRunner{fn: lrScaled}
	eng, err := MakeEngine(space, MakeRandomSampler(space, 6), runner, nil, 3, nil)
	if err != nil {
		t.Fatalf("MakeEngine: %v", err)
	}
	res, err := eng.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Records) != 3 {
		t.Fatalf("got %d records, want 3", len(res.Records))
	}
	if res.RunID == "" || res.Sampler != "random" {
		t.Fatalf("result identity incomplete: run_id=%q sampler=%q", res.RunID, res.Sampler)
	}
}
