package hpo

import (
	"context"
	"fmt"
	"sync"
)

// NextFunc produces the assignment for trial i. EvalFunc runs it and returns
// the finished record.
type NextFunc func(i int) (Assignment, error)
type EvalFunc func(ctx context.Context, i int, a Assignment) TrialRecord

// Executor decides how the n trials are scheduled. Implementations must
// return records sorted by trial index and stop dispatching once ctx is
// cancelled, returning whatever completed together with the context error.
type Executor interface {
	Execute(ctx context.Context, n int, next NextFunc, eval EvalFunc) ([]TrialRecord, error)
}

// Serial runs trials one at a time in index order.
type Serial struct{}

func (Serial) Execute(ctx context.Context, n int, next NextFunc, eval EvalFunc) ([]TrialRecord, error) {
	records := make([]TrialRecord, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return records, err
		}
		a, err := next(i)
		if err != nil {
			return records, fmt.Errorf("sampling trial %d: %w", i, err)
		}
		records = append(records, eval(ctx, i, a))
	}
	return records, nil
}

// Pool runs up to Workers trials at once. Trials are independent, so the
// only coordination is the dispatch semaphore; records land in per-index
// slots and come back in trial order regardless of completion order.
type Pool struct {
	Workers int
}

func (p Pool) Execute(ctx context.Context, n int, next NextFunc, eval EvalFunc) ([]TrialRecord, error) {
	workers := p.Workers
	if workers < 1 {
		workers = 1
	}

	slots := make([]*TrialRecord, n)
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	var dispatchErr error

	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			dispatchErr = err
			break
		}
		select {
		case <-ctx.Done():
			dispatchErr = ctx.Err()
		case sem <- struct{}{}:
		}
		if dispatchErr != nil {
			break
		}
		a, err := next(i)
		if err != nil {
			<-sem
			dispatchErr = fmt.Errorf("sampling trial %d: %w", i, err)
			break
		}
		wg.Add(1)
		go func(idx int, a Assignment) {
			defer wg.Done()
			defer func() { <-sem }()
			rec := eval(ctx, idx, a)
			slots[idx] = &rec
		}(i, a)
	}
	wg.Wait()

	// slots are indexed by trial, so compaction preserves index order
	records := make([]TrialRecord, 0, n)
	for _, rec := range slots {
		if rec != nil {
			records = append(records, *rec)
		}
	}
	return records, dispatchErr
}
