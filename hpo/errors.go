package hpo

import "errors"

var (
	// ErrConfig reports a search setup problem: bad bounds, zero budget,
	// a runner parameter missing from the space. Surfaced at construction,
	// never mid-search.
	ErrConfig = errors.New("invalid search configuration")

	// ErrTrainingStep reports a failure inside one trial's training step.
	// The engine records the trial as failed instead of aborting the search.
	ErrTrainingStep = errors.New("training step failed")

	// ErrNoSuccessfulTrial is returned when a best assignment is requested
	// but every trial failed.
	ErrNoSuccessfulTrial = errors.New("no successful trial")
)
