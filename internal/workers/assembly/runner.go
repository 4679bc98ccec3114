// Package assembly drives the block assembler: on every tick, and whenever
// the pool signals a new submission, it asks for one cycle.
package assembly

import (
	"context"
	"log/slog"
	"time"

	"custodia/internal/usecase"

	"github.com/jonboulle/clockwork"
)

const DefaultInterval = 500 * time.Millisecond

type Cycler interface {
	RunOnce(ctx context.Context, force bool) (usecase.CycleResult, error)
}

type Runner struct {
	cycler   Cycler
	wake     <-chan struct{}
	interval time.Duration
	clock    clockwork.Clock
	logger   *slog.Logger
}

// NewRunner builds a runner. wake may be nil, in which case only the ticker
// triggers cycles.
func NewRunner(cycler Cycler, wake <-chan struct{}, interval time.Duration, clock clockwork.Clock, logger *slog.Logger) *Runner {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{cycler: cycler, wake: wake, interval: interval, clock: clock, logger: logger}
}

// Run blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()
	r.logger.Info("assembly runner started", "interval", r.interval.String())
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("assembly runner stopped")
			return
		case <-ticker.Chan():
		case <-r.wake:
		}
		r.drain(ctx)
	}
}

// drain keeps assembling while cycles commit, so a backlog larger than one
// batch does not wait a tick per block. A rejection or an idle pool ends it.
func (r *Runner) drain(ctx context.Context) {
	for ctx.Err() == nil {
		res, err := r.cycler.RunOnce(ctx, false)
		if err != nil {
			r.logger.Error("assembly cycle failed", "batch", res.BatchSize, "error", err)
			return
		}
		if res.State != usecase.StateCommitted {
			return
		}
	}
}
