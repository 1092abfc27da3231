// Package scheduler implements the periodic per-cluster admission sweep:
// a greedy pass that starts admissible pending deployments in priority
// order, followed by a preemption pass that evicts low-priority running
// work to satisfy unmet high-priority pending demand.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cgirish01/hypervisor-service/internal/engine"
	"github.com/cgirish01/hypervisor-service/internal/events"
	"github.com/cgirish01/hypervisor-service/internal/telemetry"
)

var tracer = telemetry.Tracer("hypervisor-service/scheduler")

// ClusterResult reports one cluster's outcome for a tick, for
// observability (metrics, tick events and debug logs).
type ClusterResult struct {
	ClusterID     int64
	Scheduled     int
	Preempted     int
	Unschedulable int
}

// pendingRow mirrors the subset of deployment fields the tick needs, loaded
// once per cluster and re-fetched from the state machine only at the
// instant of mutation.
type pendingRow struct {
	id        int64
	priority  engine.Priority
	required  engine.Resources
	createdAt time.Time
}

type runningRow struct {
	id        int64
	priority  engine.Priority
	required  engine.Resources
	startedAt *time.Time
}

// Tick runs one sweep over every cluster. Per-cluster failures are logged
// and do not abort the remaining clusters — a tick never crashes the
// worker.
func Tick(ctx context.Context, pool *pgxpool.Pool, publisher *events.Publisher, logger *slog.Logger) []ClusterResult {
	start := time.Now()
	defer func() {
		telemetry.SchedulerTicksTotal.Inc()
		telemetry.SchedulerTickDuration.Observe(time.Since(start).Seconds())
	}()

	clusterIDs, err := loadClusterIDs(ctx, pool)
	if err != nil {
		logger.Error("scheduler tick: loading clusters", "error", err)
		return nil
	}

	results := make([]ClusterResult, 0, len(clusterIDs))
	for _, clusterID := range clusterIDs {
		res, err := tickCluster(ctx, pool, publisher, clusterID)
		if err != nil {
			logger.Error("scheduler tick: cluster pass failed", "cluster_id", clusterID, "error", err)
			continue
		}
		results = append(results, res)

		cid := fmt.Sprint(clusterID)
		telemetry.DeploymentsScheduledTotal.WithLabelValues(cid).Add(float64(res.Scheduled))
		telemetry.DeploymentsPreemptedTotal.WithLabelValues(cid).Add(float64(res.Preempted))
		telemetry.DeploymentsUnschedulableTotal.WithLabelValues(cid).Add(float64(res.Unschedulable))
	}

	return results
}

func loadClusterIDs(ctx context.Context, pool *pgxpool.Pool) ([]int64, error) {
	rows, err := pool.Query(ctx, `SELECT id FROM clusters ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// tickCluster runs the greedy admission pass and, if unmet HIGH-priority
// demand remains, the preemption pass, for one cluster inside one
// transaction.
func tickCluster(ctx context.Context, pool *pgxpool.Pool, publisher *events.Publisher, clusterID int64) (result ClusterResult, err error) {
	ctx, span := tracer.Start(ctx, "scheduler.tickCluster", trace.WithAttributes(attribute.Int64("cluster_id", clusterID)))
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(
				attribute.Int("scheduled", result.Scheduled),
				attribute.Int("preempted", result.Preempted),
				attribute.Int("unschedulable", result.Unschedulable),
			)
		}
		span.End()
	}()

	res := ClusterResult{ClusterID: clusterID}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return res, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	sm := engine.NewStateMachine(tx)
	ledger := engine.NewLedger(tx)

	pending, err := loadPending(ctx, tx, clusterID)
	if err != nil {
		return res, err
	}

	// Greedy admission pass: try each PENDING deployment in
	// (priority DESC, created_at ASC) order.
	remaining := pending[:0:0]
	for _, p := range pending {
		d, err := sm.Start(ctx, p.id)
		if err != nil {
			return res, err
		}
		if d != nil {
			res.Scheduled++
			publisher.Publish(ctx, events.Event{
				Kind: events.KindStarted, DeploymentID: p.id, ClusterID: clusterID,
				Status: string(engine.StatusRunning), At: time.Now().UTC().Format(time.RFC3339),
			})
			continue
		}
		remaining = append(remaining, p)
	}
	pending = remaining

	highestPending := highestPriority(pending)
	if highestPending == 0 {
		if err := tx.Commit(ctx); err != nil {
			return res, err
		}
		res.Unschedulable = len(pending)
		return res, nil
	}

	// Preemption pass only runs when some remaining pending deployment is
	// HIGH priority.
	hasHigh := false
	for _, p := range pending {
		if p.priority == engine.PriorityHigh {
			hasHigh = true
			break
		}
	}

	if !hasHigh {
		if err := tx.Commit(ctx); err != nil {
			return res, err
		}
		res.Unschedulable = len(pending)
		return res, nil
	}

	running, err := loadRunningBelow(ctx, tx, clusterID, highestPending)
	if err != nil {
		return res, err
	}
	sort.Slice(running, func(i, j int) bool {
		if running[i].priority != running[j].priority {
			return running[i].priority < running[j].priority
		}
		ti, tj := time.Time{}, time.Time{}
		if running[i].startedAt != nil {
			ti = *running[i].startedAt
		}
		if running[j].startedAt != nil {
			tj = *running[j].startedAt
		}
		return ti.Before(tj)
	})

	stillPending := remaining[:0:0]
	for _, p := range pending {
		if p.priority != engine.PriorityHigh {
			stillPending = append(stillPending, p)
			continue
		}

		if d, err := sm.Start(ctx, p.id); err != nil {
			return res, err
		} else if d != nil {
			res.Scheduled++
			publisher.Publish(ctx, events.Event{
				Kind: events.KindStarted, DeploymentID: p.id, ClusterID: clusterID,
				Status: string(engine.StatusRunning), At: time.Now().UTC().Format(time.RFC3339),
			})
			continue
		}

		c, err := ledger.LockCluster(ctx, clusterID)
		if err != nil {
			return res, err
		}
		shortfall := c.Available.Shortfall(p.required)

		victims, ok := selectVictims(running, shortfall)
		if !ok {
			stillPending = append(stillPending, p)
			continue
		}

		admitted := false
		for _, v := range victims {
			stopped, err := sm.Stop(ctx, v.id, engine.StatusFailed, &p.id)
			if err != nil {
				return res, err
			}
			if stopped != nil {
				res.Preempted++
				publisher.Publish(ctx, events.Event{
					Kind: events.KindPreempted, DeploymentID: v.id, ClusterID: clusterID,
					Status: string(engine.StatusFailed), PreemptedBy: &p.id,
					At: time.Now().UTC().Format(time.RFC3339),
				})
			}
			running = removeRunning(running, v.id)
		}

		if d, err := sm.Start(ctx, p.id); err != nil {
			return res, err
		} else if d != nil {
			admitted = true
			res.Scheduled++
			publisher.Publish(ctx, events.Event{
				Kind: events.KindStarted, DeploymentID: p.id, ClusterID: clusterID,
				Status: string(engine.StatusRunning), At: time.Now().UTC().Format(time.RFC3339),
			})
		}

		if !admitted {
			stillPending = append(stillPending, p)
		}
	}

	res.Unschedulable = len(stillPending)

	if err := tx.Commit(ctx); err != nil {
		return ClusterResult{ClusterID: clusterID}, err
	}

	return res, nil
}

// selectVictims walks running in the order given — the caller has already
// sorted it ascending by (priority, started_at) — and greedily accumulates victims until their
// combined requirement covers shortfall on every resource dimension, or the
// candidate set is exhausted. shortfall is the caller's
// Available.Shortfall(required) — how much of each dimension is still
// missing, not the pending deployment's full requirement — so preemption
// stops as soon as enough headroom is freed rather than evicting more
// running work than necessary.
func selectVictims(running []runningRow, shortfall engine.Resources) ([]runningRow, bool) {
	var accumulated engine.Resources
	var victims []runningRow

	for _, r := range running {
		if accumulated.GTE(shortfall) {
			break
		}
		victims = append(victims, r)
		accumulated = accumulated.Add(r.required)
	}

	return victims, accumulated.GTE(shortfall)
}

func removeRunning(running []runningRow, id int64) []runningRow {
	out := running[:0]
	for _, r := range running {
		if r.id != id {
			out = append(out, r)
		}
	}
	return out
}

func highestPriority(pending []pendingRow) engine.Priority {
	var max engine.Priority
	for _, p := range pending {
		if p.priority > max {
			max = p.priority
		}
	}
	return max
}

func loadPending(ctx context.Context, tx pgx.Tx, clusterID int64) ([]pendingRow, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, priority, required_ram, required_cpu, required_gpu, created_at
		FROM deployments
		WHERE cluster_id = $1 AND status = 'PENDING'
		ORDER BY priority DESC, created_at ASC`, clusterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []pendingRow
	for rows.Next() {
		var p pendingRow
		var priority int
		if err := rows.Scan(&p.id, &priority, &p.required.RAM, &p.required.CPU, &p.required.GPU, &p.createdAt); err != nil {
			return nil, err
		}
		p.priority = engine.Priority(priority)
		out = append(out, p)
	}
	return out, rows.Err()
}

func loadRunningBelow(ctx context.Context, tx pgx.Tx, clusterID int64, ceiling engine.Priority) ([]runningRow, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, priority, required_ram, required_cpu, required_gpu, started_at
		FROM deployments
		WHERE cluster_id = $1 AND status = 'RUNNING' AND priority < $2`, clusterID, int(ceiling))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []runningRow
	for rows.Next() {
		var r runningRow
		var priority int
		if err := rows.Scan(&r.id, &priority, &r.required.RAM, &r.required.CPU, &r.required.GPU, &r.startedAt); err != nil {
			return nil, err
		}
		r.priority = engine.Priority(priority)
		out = append(out, r)
	}
	return out, rows.Err()
}
