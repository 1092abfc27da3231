package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/atomic"

	"github.com/cgirish01/hypervisor-service/internal/events"
)

// Worker runs the scheduler tick on a fixed interval until Stop is called.
// Cancellation is a cooperative flag checked between ticks, not an
// interrupt of an in-flight tick: the worker exits within one
// tick-interval bound of Stop being called.
type Worker struct {
	pool      *pgxpool.Pool
	publisher *events.Publisher
	logger    *slog.Logger
	interval  time.Duration
	stopping  atomic.Bool
	done      chan struct{}
}

// NewWorker creates a scheduler Worker. interval is the sleep between ticks.
func NewWorker(pool *pgxpool.Pool, publisher *events.Publisher, logger *slog.Logger, interval time.Duration) *Worker {
	return &Worker{
		pool:      pool,
		publisher: publisher,
		logger:    logger,
		interval:  interval,
		done:      make(chan struct{}),
	}
}

// Run blocks, running one tick immediately and then every interval, until
// ctx is cancelled or Stop is called.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.runTick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.stopping.Load() {
				return
			}
			w.runTick(ctx)
		}
	}
}

// Stop requests the worker exit at the next tick boundary.
func (w *Worker) Stop() {
	w.stopping.Store(true)
}

// Done returns a channel that closes once Run has returned.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

func (w *Worker) runTick(ctx context.Context) {
	results := Tick(ctx, w.pool, w.publisher, w.logger)
	for _, r := range results {
		w.publisher.Publish(ctx, events.Event{
			Kind: events.KindTick, ClusterID: r.ClusterID,
			At: time.Now().UTC().Format(time.RFC3339),
		})
		w.logger.Debug("scheduler tick: cluster pass complete",
			"cluster_id", r.ClusterID,
			"scheduled", r.Scheduled,
			"preempted", r.Preempted,
			"unschedulable", r.Unschedulable,
		)
	}
}
