package ds

import "mmtune/hpo"

// Packet kinds.
const (
	PacketTrial  = "trial"  // coordinator -> worker: run this assignment
	PacketResult = "result" // worker -> coordinator: trial outcome
	PacketStop   = "stop"   // coordinator -> worker: shut down
)

// TrialRequest asks a worker to evaluate one assignment. ID is the
// coordinator's request id, echoed back so the reply finds its caller; it is
// unrelated to the search engine's trial index.
type TrialRequest struct {
	ID     int
	Params hpo.Assignment
}

// TrialResult reports one finished trial.
type TrialResult struct {
	ID        int
	Objective float64
	Failed    bool
	Err       string
	ElapsedNS int64
}

// Packet is the single wire message. Kind selects which payload field is
// meaningful; gob carries the zero values of the rest.
type Packet struct {
	Kind    string
	From    int
	Request TrialRequest
	Result  TrialResult
}
