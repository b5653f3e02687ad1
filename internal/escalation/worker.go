package escalation

import (
	"context"
	"time"

	"github.com/rejuvenators/booking-dispatch/pkg/logging"
)

type sweeper interface {
	Sweep(ctx context.Context) ([]Outcome, error)
}

// Worker runs the sweep on a ticker.
type Worker struct {
	sweeper  sweeper
	logger   *logging.Logger
	interval time.Duration
}

func NewWorker(s sweeper, logger *logging.Logger) *Worker {
	if logger == nil {
		logger = logging.Default()
	}
	return &Worker{
		sweeper:  s,
		logger:   logger,
		interval: time.Minute,
	}
}

func (w *Worker) WithInterval(d time.Duration) *Worker {
	if d > 0 {
		w.interval = d
	}
	return w
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	w.drain(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

func (w *Worker) drain(ctx context.Context) {
	if w.sweeper == nil {
		return
	}
	outcomes, err := w.sweeper.Sweep(ctx)
	if err != nil {
		w.logger.Error("escalation sweep failed", "error", err)
	}
	if len(outcomes) == 0 {
		return
	}
	counts := make(map[string]int, 4)
	for _, o := range outcomes {
		counts[o.Action]++
	}
	w.logger.Info("escalation sweep finished",
		"outcomes", len(outcomes),
		ActionReassignedToMultiple, counts[ActionReassignedToMultiple],
		ActionDeclinedNoAlternatives, counts[ActionDeclinedNoAlternatives],
		ActionFinalDecline, counts[ActionFinalDecline],
		ActionSkipped, counts[ActionSkipped],
		ActionFailed, counts[ActionFailed],
	)
}
