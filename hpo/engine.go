package hpo

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TrialRecord is one completed attempt. Failed trials carry an infinite
// objective so they can never win; the original error text is kept for the
// result surface.
type TrialRecord struct {
	Index     int
	Params    Assignment
	Objective float64
	Failed    bool
	Err       string
	Elapsed   time.Duration
}

// Result is the outcome of a search run: every record in trial order plus
// the run identity.
type Result struct {
	RunID   string
	Sampler string
	Records []TrialRecord
}

// Best returns the record with the strict minimum finite objective, keeping
// the earliest index on ties. All-failed searches return
// ErrNoSuccessfulTrial.
func (r *Result) Best() (*TrialRecord, error) {
	var best *TrialRecord
	for i := range r.Records {
		rec := &r.Records[i]
		if rec.Failed || math.IsInf(rec.Objective, 0) || math.IsNaN(rec.Objective) {
			continue
		}
		if best == nil || rec.Objective < best.Objective {
			best = rec
		}
	}
	if best == nil {
		return nil, ErrNoSuccessfulTrial
	}
	return best, nil
}

// BestParams is the assignment of the winning record.
func (r *Result) BestParams() (Assignment, error) {
	best, err := r.Best()
	if err != nil {
		return nil, err
	}
	return best.Params, nil
}

// Engine drives a bounded number of trials: sample, evaluate, record. The
// sampler is called under the engine lock with the completed history, so
// stateful strategies condition on whatever has finished at dispatch time.
type Engine struct {
	space   Space
	sampler Sampler
	runner  Runner
	exec    Executor
	trials  int
	log     *zap.Logger

	mu      sync.Mutex
	history []TrialRecord
}

func MakeEngine(space Space, sampler Sampler, runner Runner, exec Executor, trials int, log *zap.Logger) (*Engine, error) {
	if trials <= 0 {
		return nil, fmt.Errorf("%w: trial budget %d must be positive", ErrConfig, trials)
	}
	if sampler == nil || runner == nil {
		return nil, fmt.Errorf("%w: sampler and runner are required", ErrConfig)
	}
	if err := space.Validate(); err != nil {
		return nil, err
	}
	for _, name := range runner.ParamNames() {
		if _, ok := space.find(name); !ok {
			return nil, fmt.Errorf("%w: runner requires parameter %q, not in the space", ErrConfig, name)
		}
	}
	if exec == nil {
		exec = Serial{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{space: space, sampler: sampler, runner: runner, exec: exec, trials: trials, log: log}, nil
}

// Run executes the full trial budget. Cancelling ctx stops dispatching after
// the currently running trials complete; the records gathered so far come
// back alongside the context error.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	res := &Result{RunID: uuid.NewString(), Sampler: e.sampler.Name()}
	e.mu.Lock()
	e.history = nil
	e.mu.Unlock()

	e.log.Info("search started",
		zap.String("run_id", res.RunID),
		zap.String("sampler", res.Sampler),
		zap.Int("trials", e.trials))

	records, err := e.exec.Execute(ctx, e.trials, e.next, e.evalTrial)
	res.Records = records
	if err != nil {
		e.log.Warn("search stopped early",
			zap.String("run_id", res.RunID),
			zap.Int("completed", len(records)),
			zap.Error(err))
		return res, err
	}

	if best, berr := res.Best(); berr == nil {
		e.log.Info("search done",
			zap.String("run_id", res.RunID),
			zap.Int("trials", len(records)),
			zap.Int("best_trial", best.Index),
			zap.Float64("best_objective", best.Objective),
			zap.Any("best_params", best.Params))
	} else {
		e.log.Warn("search done, every trial failed",
			zap.String("run_id", res.RunID),
			zap.Int("trials", len(records)))
	}
	return res, nil
}

func (e *Engine) next(int) (Assignment, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sampler.Next(e.history)
}

func (e *Engine) evalTrial(ctx context.Context, idx int, a Assignment) TrialRecord {
	start := time.Now()
	obj, err := e.runner.Run(ctx, a)
	rec := TrialRecord{Index: idx, Params: a.Clone(), Objective: obj, Elapsed: time.Since(start)}
	if err != nil {
		rec.Objective = math.Inf(1)
		rec.Failed = true
		rec.Err = err.Error()
	}

	e.mu.Lock()
	e.history = append(e.history, rec)
	e.mu.Unlock()

	if rec.Failed {
		e.log.Warn("trial failed",
			zap.Int("trial", idx),
			zap.Any("params", rec.Params),
			zap.String("reason", rec.Err),
			zap.Duration("elapsed", rec.Elapsed))
	} else {
		e.log.Info("trial done",
			zap.Int("trial", idx),
			zap.Any("params", rec.Params),
			zap.Float64("objective", rec.Objective),
			zap.Duration("elapsed", rec.Elapsed))
	}
	return rec
}
