package ds

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"mmtune/hpo"
)

var errCoordinatorClosed = errors.New("coordinator closed")

// Coordinator ships trials to remote workers. It implements hpo.Runner: each
// Run leases a free worker, sends the assignment, and blocks until the
// matching result comes back, so pairing it with hpo.Pool sized to the worker
// count keeps every worker busy. Request ids are minted here; the search
// engine's trial indexes never cross the wire.
type Coordinator struct {
	net     Transport[Packet]
	log     *zap.Logger
	names   []string
	poll    time.Duration
	workers []int

	free chan int

	mu      sync.Mutex
	nextID  int
	waiting map[int]chan TrialResult

	stop    chan struct{}
	closed  sync.Once
	pumpEnd sync.WaitGroup
}

// MakeCoordinator starts the reply pump. workers are the node ids trials may
// be sent to; names are the parameters the remote runners read, defaulting to
// lr and weight_decay.
func MakeCoordinator(net Transport[Packet], workers []int, names []string, log *zap.Logger) (*Coordinator, error) {
	if len(workers) == 0 {
		return nil, fmt.Errorf("%w: no workers to dispatch to", hpo.ErrConfig)
	}
	if log == nil {
		log = zap.NewNop()
	}
	if len(names) == 0 {
		names = []string{"lr", "weight_decay"}
	}

	c := &Coordinator{
		net:     net,
		log:     log,
		names:   names,
		poll:    10 * time.Millisecond,
		workers: append([]int(nil), workers...),
		free:    make(chan int, len(workers)),
		waiting: make(map[int]chan TrialResult),
		stop:    make(chan struct{}),
	}
	for _, id := range workers {
		c.free <- id
	}
	c.pumpEnd.Add(1)
	go c.pump()
	return c, nil
}

// Workers is the lease pool size, which is also the natural hpo.Pool width.
func (c *Coordinator) Workers() int { return cap(c.free) }

func (c *Coordinator) ParamNames() []string { return c.names }

// Run dispatches one trial and waits for its result. Worker-side training
// failures come back wrapping hpo.ErrTrainingStep so the engine records them
// exactly like local ones.
func (c *Coordinator) Run(ctx context.Context, a hpo.Assignment) (float64, error) {
	var worker int
	select {
	case worker = <-c.free:
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-c.stop:
		return 0, errCoordinatorClosed
	}
	defer func() { c.free <- worker }()

	id, ch := c.register()
	defer c.unregister(id)

	req := Packet{Kind: PacketTrial, Request: TrialRequest{ID: id, Params: a.Clone()}}
	if err := c.net.Send(worker, req); err != nil {
		return 0, fmt.Errorf("dispatch to worker %d: %w", worker, err)
	}
	c.log.Debug("trial dispatched", zap.Int("request", id), zap.Int("worker", worker))

	select {
	case res := <-ch:
		if res.Failed {
			return 0, fmt.Errorf("%w: worker %d: %s", hpo.ErrTrainingStep, worker, res.Err)
		}
		return res.Objective, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-c.stop:
		return 0, errCoordinatorClosed
	}
}

func (c *Coordinator) register() (int, chan TrialResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	ch := make(chan TrialResult, 1)
	c.waiting[id] = ch
	return id, ch
}

func (c *Coordinator) unregister(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.waiting, id)
}

// pump routes incoming results to the Run call that requested them. Replies
// nobody waits for anymore are dropped.
func (c *Coordinator) pump() {
	defer c.pumpEnd.Done()
	for {
		select {
		case <-c.stop:
			return
		default:
		}
		pkt, ok := c.net.Receive()
		if !ok {
			time.Sleep(c.poll)
			continue
		}
		if pkt.Kind != PacketResult {
			c.log.Warn("unexpected packet kind", zap.String("kind", pkt.Kind), zap.Int("from", pkt.From))
			continue
		}
		c.mu.Lock()
		ch, waited := c.waiting[pkt.Result.ID]
		c.mu.Unlock()
		if waited {
			// drop duplicates so the pump never blocks
			select {
			case ch <- pkt.Result:
			default:
			}
		}
	}
}

// Close tells every worker to shut down, stops the pump and closes the
// transport. In-flight Run calls unblock with an error.
func (c *Coordinator) Close() error {
	var err error
	c.closed.Do(func() {
		err = c.net.Multicast(c.workers, Packet{Kind: PacketStop})
		close(c.stop)
		c.pumpEnd.Wait()
		if cerr := c.net.Close(); cerr != nil && err == nil {
			err = cerr
		}
	})
	return err
}
