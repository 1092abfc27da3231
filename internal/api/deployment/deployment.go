// Package deployment implements the admission-service HTTP surface for
// deployments: CRUD plus the lifecycle actions (start/stop/cancel) that
// drive the engine's state machine, each inside one transaction.
package deployment

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cgirish01/hypervisor-service/internal/apierr"
	"github.com/cgirish01/hypervisor-service/internal/engine"
	"github.com/cgirish01/hypervisor-service/internal/store"
	"github.com/cgirish01/hypervisor-service/internal/telemetry"
)

var tracer = telemetry.Tracer("hypervisor-service/deployment")

// Deployment is the JSON representation of a deployment.
type Deployment struct {
	ID          int64      `json:"id"`
	ClusterID   int64      `json:"cluster_id"`
	UserID      int64      `json:"user_id"`
	Name        string     `json:"name"`
	ImageRef    string     `json:"image_ref"`
	RequiredRAM float64    `json:"required_ram"`
	RequiredCPU float64    `json:"required_cpu"`
	RequiredGPU float64    `json:"required_gpu"`
	Priority    int        `json:"priority"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	PreemptedBy *int64     `json:"preempted_by_deployment_id,omitempty"`
}

func fromEngine(d *engine.Deployment) *Deployment {
	if d == nil {
		return nil
	}
	return &Deployment{
		ID: d.ID, ClusterID: d.ClusterID, UserID: d.UserID, Name: d.Name, ImageRef: d.ImageRef,
		RequiredRAM: d.Required.RAM, RequiredCPU: d.Required.CPU, RequiredGPU: d.Required.GPU,
		Priority: int(d.Priority), Status: string(d.Status),
		CreatedAt: d.CreatedAt, StartedAt: d.StartedAt, PreemptedBy: d.PreemptedBy,
	}
}

// Store wraps the engine state machine with transaction management for the
// HTTP layer.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps a connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// CreateInput describes a new deployment request.
type CreateInput struct {
	ClusterID     int64
	UserID        int64
	Name          string
	ImageRef      string
	Required      engine.Resources
	Priority      engine.Priority
	DependencyIDs []int64
}

// Create admits a new PENDING deployment.
func (s *Store) Create(ctx context.Context, in CreateInput) (*Deployment, error) {
	ctx, span := tracer.Start(ctx, "deployment.Create",
		trace.WithAttributes(
			attribute.Int64("cluster_id", in.ClusterID),
			attribute.Int("priority", int(in.Priority)),
		))
	defer span.End()

	var result *Deployment
	err := store.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		sm := engine.NewStateMachine(tx)
		d, err := sm.Create(ctx, engine.CreateInput{
			ClusterID: in.ClusterID, UserID: in.UserID, Name: in.Name, ImageRef: in.ImageRef,
			Required: in.Required, Priority: in.Priority, DependencyIDs: in.DependencyIDs,
		})
		if err != nil {
			return err
		}
		result = fromEngine(d)
		return nil
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return result, nil
}

// Get fetches a deployment by ID.
func (s *Store) Get(ctx context.Context, id int64) (*Deployment, error) {
	var d engine.Deployment
	var priority int
	var status string
	err := s.pool.QueryRow(ctx, `
		SELECT id, cluster_id, user_id, name, image_ref,
		       required_ram, required_cpu, required_gpu,
		       priority, status, created_at, started_at, preempted_by
		FROM deployments WHERE id = $1`, id,
	).Scan(&d.ID, &d.ClusterID, &d.UserID, &d.Name, &d.ImageRef,
		&d.Required.RAM, &d.Required.CPU, &d.Required.GPU,
		&priority, &status, &d.CreatedAt, &d.StartedAt, &d.PreemptedBy)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apierr.NotFound("deployment not found")
		}
		return nil, err
	}
	d.Priority = engine.Priority(priority)
	d.Status = engine.Status(status)
	return fromEngine(&d), nil
}

// ListFilter narrows a deployment listing.
type ListFilter struct {
	ClusterID *int64
	Status    *string
}

// List returns deployments in clusters userID's organizations own, filtered
// by cluster and/or status.
func (s *Store) List(ctx context.Context, userID int64, f ListFilter, limit, offset int) ([]Deployment, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM deployments d
		JOIN clusters c ON c.id = d.cluster_id
		JOIN user_organizations uo ON uo.organization_id = c.organization_id
		WHERE uo.user_id = $1
		  AND ($2::bigint IS NULL OR d.cluster_id = $2)
		  AND ($3::text IS NULL OR d.status = $3)`,
		userID, f.ClusterID, f.Status,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT d.id, d.cluster_id, d.user_id, d.name, d.image_ref,
		       d.required_ram, d.required_cpu, d.required_gpu,
		       d.priority, d.status, d.created_at, d.started_at, d.preempted_by
		FROM deployments d
		JOIN clusters c ON c.id = d.cluster_id
		JOIN user_organizations uo ON uo.organization_id = c.organization_id
		WHERE uo.user_id = $1
		  AND ($2::bigint IS NULL OR d.cluster_id = $2)
		  AND ($3::text IS NULL OR d.status = $3)
		ORDER BY d.id
		LIMIT $4 OFFSET $5`, userID, f.ClusterID, f.Status, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Deployment
	for rows.Next() {
		var d engine.Deployment
		var priority int
		var status string
		if err := rows.Scan(&d.ID, &d.ClusterID, &d.UserID, &d.Name, &d.ImageRef,
			&d.Required.RAM, &d.Required.CPU, &d.Required.GPU,
			&priority, &status, &d.CreatedAt, &d.StartedAt, &d.PreemptedBy); err != nil {
			return nil, 0, err
		}
		d.Priority = engine.Priority(priority)
		d.Status = engine.Status(status)
		out = append(out, *fromEngine(&d))
	}
	return out, total, rows.Err()
}

// UpdateInput describes a patch to a deployment. Status is deliberately
// absent: status transitions only happen via Start/Stop/Cancel.
type UpdateInput struct {
	Name          *string
	ImageRef      *string
	Required      *engine.Resources
	Priority      *engine.Priority
	DependencyIDs *[]int64
}

// Update applies a patch, possibly re-allocating resources if the
// deployment is RUNNING and Required changes.
func (s *Store) Update(ctx context.Context, id int64, in UpdateInput) (*Deployment, error) {
	var result *Deployment
	err := store.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		sm := engine.NewStateMachine(tx)
		d, err := sm.Update(ctx, id, engine.UpdateInput{
			Name: in.Name, ImageRef: in.ImageRef, Required: in.Required,
			Priority: in.Priority, DependencyIDs: in.DependencyIDs,
		})
		if err != nil {
			return err
		}
		result = fromEngine(d)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Start attempts the PENDING -> RUNNING transition. Returns (nil, nil) if
// the deployment cannot start right now (not PENDING, unmet dependency, or
// insufficient resources) — not an error.
func (s *Store) Start(ctx context.Context, id int64) (*Deployment, error) {
	ctx, span := tracer.Start(ctx, "deployment.Start", trace.WithAttributes(attribute.Int64("deployment_id", id)))
	defer span.End()

	var result *Deployment
	err := store.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		sm := engine.NewStateMachine(tx)
		d, err := sm.Start(ctx, id)
		if err != nil {
			return err
		}
		result = fromEngine(d)
		return nil
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Bool("admitted", result != nil))
	return result, nil
}

// Stop attempts the RUNNING -> terminal transition. terminal must be
// "COMPLETED" or "FAILED". On a COMPLETED transition, once that transaction
// has committed, Stop walks the directly-dependent deployments that are now
// eligible and attempts Start on each in its own transaction — a cascade
// that enqueues and drains after commit rather than recursing inside the
// original transaction, so a long dependency chain never holds one
// transaction open end to end.
func (s *Store) Stop(ctx context.Context, id int64, terminal string) (*Deployment, error) {
	var result *Deployment
	err := store.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		sm := engine.NewStateMachine(tx)
		d, err := sm.Stop(ctx, id, engine.Status(terminal), nil)
		if err != nil {
			return err
		}
		result = fromEngine(d)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result != nil && result.Status == string(engine.StatusCompleted) {
		if err := s.drainCascade(ctx, id); err != nil {
			return result, err
		}
	}

	return result, nil
}

// drainCascade attempts Start, one fresh transaction per candidate, for
// every direct dependent of completedID that was PENDING right after
// completedID's stop transaction committed. A candidate that can't start
// yet (unmet sibling dependency, insufficient resources) just stays
// PENDING for the next scheduler tick or a later cascade — drainCascade
// never treats that as an error.
func (s *Store) drainCascade(ctx context.Context, completedID int64) error {
	candidates, err := engine.NewGraph(s.pool).PendingDependents(ctx, completedID)
	if err != nil {
		return err
	}
	for _, depID := range candidates {
		if _, err := s.Start(ctx, depID); err != nil {
			return err
		}
	}
	return nil
}

// Cancel attempts the PENDING -> CANCELLED transition.
func (s *Store) Cancel(ctx context.Context, id int64) (*Deployment, error) {
	var result *Deployment
	err := store.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		sm := engine.NewStateMachine(tx)
		d, err := sm.Cancel(ctx, id)
		if err != nil {
			return err
		}
		result = fromEngine(d)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Delete removes a deployment, releasing resources first if RUNNING.
func (s *Store) Delete(ctx context.Context, id int64) (bool, error) {
	var deleted bool
	err := store.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		sm := engine.NewStateMachine(tx)
		ok, err := sm.Delete(ctx, id)
		if err != nil {
			return err
		}
		deleted = ok
		return nil
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

// Dependencies returns the IDs deploymentID directly depends on.
func (s *Store) Dependencies(ctx context.Context, id int64) ([]int64, error) {
	return engine.NewGraph(s.pool).Dependencies(ctx, id)
}

// Dependents returns the IDs that directly depend on deploymentID.
func (s *Store) Dependents(ctx context.Context, id int64) ([]int64, error) {
	return engine.NewGraph(s.pool).Dependents(ctx, id)
}
