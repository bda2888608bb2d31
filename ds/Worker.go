package ds

import (
	"context"
	"time"

	"go.uber.org/zap"

	"mmtune/hpo"
)

// Worker serves trials: pop a request, run it with the local runner, send the
// result back to the coordinator. It keeps serving through failed trials and
// exits on a stop packet or context cancellation.
type Worker struct {
	id          int
	coordinator int
	runner      hpo.Runner
	net         Transport[Packet]
	log         *zap.Logger
	poll        time.Duration
}

func (w *Worker) Initialize(id, coordinator int, runner hpo.Runner, net Transport[Packet], log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	w.id = id
	w.coordinator = coordinator
	w.runner = runner
	w.net = net
	w.log = log
	w.poll = 10 * time.Millisecond
}

// Run is the serve loop. The caller is responsible for net.Listen.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("worker serving", zap.Int("id", w.id))
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		pkt, ok := w.net.Receive()
		if !ok {
			time.Sleep(w.poll)
			continue
		}

		switch pkt.Kind {
		case PacketStop:
			w.log.Info("worker stopping", zap.Int("id", w.id))
			return nil
		case PacketTrial:
			w.serveTrial(ctx, pkt.Request)
		default:
			w.log.Warn("unknown packet kind",
				zap.Int("id", w.id),
				zap.String("kind", pkt.Kind),
				zap.Int("from", pkt.From))
		}
	}
}

func (w *Worker) serveTrial(ctx context.Context, req TrialRequest) {
	start := time.Now()
	obj, err := w.runner.Run(ctx, req.Params)
	res := TrialResult{ID: req.ID, Objective: obj, ElapsedNS: time.Since(start).Nanoseconds()}
	if err != nil {
		res.Failed = true
		res.Err = err.Error()
		res.Objective = 0
		w.log.Warn("trial failed",
			zap.Int("id", w.id),
			zap.Int("request", req.ID),
			zap.Error(err))
	} else {
		w.log.Info("trial served",
			zap.Int("id", w.id),
			zap.Int("request", req.ID),
			zap.Float64("objective", obj),
			zap.Duration("elapsed", time.Since(start)))
	}

	out := Packet{Kind: PacketResult, From: w.id, Result: res}
	if err := w.net.Send(w.coordinator, out); err != nil {
		// keep serving; the matching Run call fails on its own context
		w.log.Error("result send failed",
			zap.Int("id", w.id),
			zap.Int("request", req.ID),
			zap.Error(err))
	}
}
