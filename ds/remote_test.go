package ds

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"mmtune/hpo"
)

type scaledRunner struct{}

func (scaledRunner) ParamNames() []string { return []string{"lr", "weight_decay"} }

func (scaledRunner) Run(_ context.Context, a hpo.Assignment) (float64, error) {
	return a["lr"] * 1000, nil
}

type failingRunner struct{}

func (failingRunner) ParamNames() []string { return []string{"lr", "weight_decay"} }

func (failingRunner) Run(context.Context, hpo.Assignment) (float64, error) {
	return 0, hpo.ErrTrainingStep
}

func remoteSpace() hpo.Space {
	return hpo.Space{
		{Name: "lr", Dist: hpo.DistLogUniform, Low: 1e-5, High: 1e-3},
		{Name: "weight_decay", Dist: hpo.DistLogUniform, Low: 1e-6, High: 1e-2},
	}
}

func startWorker(t *testing.T, hub *DumbNetwork[Packet], id int, runner hpo.Runner) <-chan error {
	t.Helper()
	w := &Worker{}
	w.Initialize(id, 0, runner, hub.Node(id), nil)
	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()
	return done
}

func TestRemoteSearchEndToEnd(t *testing.T) {
	hub := MakeDumbNetwork[Packet]()
	coordNode := hub.Node(0)
	w1 := startWorker(t, hub, 1, scaledRunner{})
	w2 := startWorker(t, hub, 2, scaledRunner{})

	coord, err := MakeCoordinator(coordNode, []int{1, 2}, nil, nil)
	if err != nil {
		t.Fatalf("MakeCoordinator: %v", err)
	}

	space := remoteSpace()
	eng, err := hpo.MakeEngine(space, hpo.MakeRandomSampler(space, 42), coord,
		hpo.Pool{Workers: coord.Workers()}, 8, nil)
	if err != nil {
		t.Fatalf("MakeEngine: %v", err)
	}

	res, err := eng.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Records) != 8 {
		t.Fatalf("got %d records, want 8", len(res.Records))
	}
	minLR := math.Inf(1)
	for _, rec := range res.Records {
		if rec.Failed {
			t.Fatalf("trial %d failed remotely: %s", rec.Index, rec.Err)
		}
		if rec.Params["lr"] < minLR {
			minLR = rec.Params["lr"]
		}
	}
	best, err := res.Best()
	if err != nil {
		t.Fatalf("Best: %v", err)
	}
	if best.Objective != minLR*1000 {
		t.Fatalf("best objective %g, want %g", best.Objective, minLR*1000)
	}

	if err := coord.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for i, done := range []<-chan error{w1, w2} {
		select {
		case werr := <-done:
			if werr != nil {
				t.Fatalf("worker %d exited with %v", i+1, werr)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("worker %d ignored the stop packet", i+1)
		}
	}
}

func TestRemoteTrialFailurePropagates(t *testing.T) {
	hub := MakeDumbNetwork[Packet]()
	coordNode := hub.Node(0)
	done := startWorker(t, hub, 1, failingRunner{})

	coord, err := MakeCoordinator(coordNode, []int{1}, nil, nil)
	if err != nil {
		t.Fatalf("MakeCoordinator: %v", err)
	}
	defer func() {
		coord.Close()
		<-done
	}()

	space := remoteSpace()
	eng, err := hpo.MakeEngine(space, hpo.MakeRandomSampler(space, 1), coord, hpo.Serial{}, 2, nil)
	if err != nil {
		t.Fatalf("MakeEngine: %v", err)
	}
	res, err := eng.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Records) != 2 {
		t.Fatalf("got %d records, want 2", len(res.Records))
	}
	for _, rec := range res.Records {
		if !rec.Failed {
			t.Fatalf("trial %d should have failed", rec.Index)
		}
		if !strings.Contains(rec.Err, "worker 1") {
			t.Fatalf("failure lost its origin: %q", rec.Err)
		}
	}
	if _, err := res.Best(); !errors.Is(err, hpo.ErrNoSuccessfulTrial) {
		t.Fatalf("Best: got %v, want ErrNoSuccessfulTrial", err)
	}
}

func TestMakeCoordinatorRequiresWorkers(t *testing.T) {
	hub := MakeDumbNetwork[Packet]()
	_, err := MakeCoordinator(hub.Node(0), nil, nil, nil)
	if !errors.Is(err, hpo.ErrConfig) {
		t.Fatalf("got %v, want hpo.ErrConfig", err)
	}
}

func TestCoordinatorHonorsContext(t *testing.T) {
	// worker 1 is registered on the hub but nobody serves it, so the reply
	// never comes and only the deadline can unblock the call
	hub := MakeDumbNetwork[Packet]()
	hub.Node(1)
	coord, err := MakeCoordinator(hub.Node(0), []int{1}, nil, nil)
	if err != nil {
		t.Fatalf("MakeCoordinator: %v", err)
	}
	defer coord.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = coord.Run(ctx, hpo.Assignment{"lr": 1e-4, "weight_decay": 1e-4})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want context.DeadlineExceeded", err)
	}
}
