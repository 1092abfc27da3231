package engine

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/cgirish01/hypervisor-service/internal/apierr"
)

// StateMachine implements the deployment lifecycle operations. Every method
// runs inside the pgx.Tx it was constructed with; callers are responsible
// for transaction boundaries (one per admission-service request, or one per
// scheduler-tick cluster pass).
type StateMachine struct {
	tx     pgx.Tx
	ledger *Ledger
	graph  *Graph
}

// NewStateMachine wraps a transaction for deployment lifecycle operations.
func NewStateMachine(tx pgx.Tx) *StateMachine {
	return &StateMachine{tx: tx, ledger: NewLedger(tx), graph: NewGraph(tx)}
}

// CreateInput describes a new deployment request.
type CreateInput struct {
	ClusterID     int64
	UserID        int64
	Name          string
	ImageRef      string
	Required      Resources
	Priority      Priority
	DependencyIDs []int64
}

// Create inserts a PENDING deployment and its dependency edges inside one
// transaction. Fails NotFound if the cluster is absent; ValidationError if
// any dependency is absent, on a different cluster, equal to the new
// deployment, or would introduce a cycle.
func (sm *StateMachine) Create(ctx context.Context, in CreateInput) (*Deployment, error) {
	var exists bool
	if err := sm.tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM clusters WHERE id = $1)`, in.ClusterID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, apierr.NotFound("cluster not found")
	}

	for _, depID := range in.DependencyIDs {
		depClusterID, ok, err := sm.deploymentClusterID(ctx, depID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, apierr.Validation("dependency deployment not found")
		}
		if depClusterID != in.ClusterID {
			return nil, apierr.Validation("dependency must be in the same cluster")
		}
	}

	var id int64
	var createdAt time.Time
	err := sm.tx.QueryRow(ctx, `
		INSERT INTO deployments (cluster_id, user_id, name, image_ref, required_ram, required_cpu, required_gpu, priority, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		RETURNING id, created_at`,
		in.ClusterID, in.UserID, in.Name, in.ImageRef,
		in.Required.RAM, in.Required.CPU, in.Required.GPU,
		int(in.Priority), string(StatusPending),
	).Scan(&id, &createdAt)
	if err != nil {
		return nil, err
	}

	// Self-dependency and cross-cluster edges are already rejected above;
	// cycle detection runs against the edge set as it stands before this
	// deployment existed, so a fresh id can never be reachable from any
	// dependency and WouldFormCycle is only needed for chains among the
	// given dependency_ids sharing a common ancestor — check defensively.
	for _, depID := range in.DependencyIDs {
		cycle, err := sm.graph.WouldFormCycle(ctx, id, depID)
		if err != nil {
			return nil, err
		}
		if cycle {
			return nil, apierr.Validation("dependency set would introduce a cycle")
		}
		if err := sm.graph.AddEdge(ctx, id, depID); err != nil {
			return nil, err
		}
	}

	return &Deployment{
		ID: id, ClusterID: in.ClusterID, UserID: in.UserID, Name: in.Name, ImageRef: in.ImageRef,
		Required: in.Required, Priority: in.Priority, Status: StatusPending, CreatedAt: createdAt,
	}, nil
}

// UpdateInput describes a patch to an existing deployment. Nil fields are
// left unchanged.
type UpdateInput struct {
	Name          *string
	ImageRef      *string
	Required      *Resources
	Priority      *Priority
	DependencyIDs *[]int64
}

// Update applies a patch to deployment id. Direct status transitions are
// not accepted here — only Start/Stop/Cancel mutate status — but a change
// in Required while RUNNING re-allocates resources under this same
// transaction.
func (sm *StateMachine) Update(ctx context.Context, id int64, in UpdateInput) (*Deployment, error) {
	d, err := sm.getDeployment(ctx, id)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, apierr.NotFound("deployment not found")
	}

	if in.DependencyIDs != nil {
		for _, depID := range *in.DependencyIDs {
			if depID == id {
				return nil, apierr.Validation("deployment cannot depend on itself")
			}
			depClusterID, ok, err := sm.deploymentClusterID(ctx, depID)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, apierr.Validation("dependency deployment not found")
			}
			if depClusterID != d.ClusterID {
				return nil, apierr.Validation("dependency must be in the same cluster")
			}
		}
		for _, depID := range *in.DependencyIDs {
			cycle, err := sm.graph.WouldFormCycle(ctx, id, depID)
			if err != nil {
				return nil, err
			}
			if cycle {
				return nil, apierr.Validation("dependency set would introduce a cycle")
			}
		}
		if err := sm.graph.ReplaceEdges(ctx, id, *in.DependencyIDs); err != nil {
			return nil, err
		}
	}

	if in.Required != nil && d.Status == StatusRunning {
		c, err := sm.ledger.LockCluster(ctx, d.ClusterID)
		if err != nil {
			return nil, err
		}
		if err := sm.ledger.Release(ctx, c, d.Required); err != nil {
			return nil, err
		}
		ok, err := sm.ledger.Allocate(ctx, c, *in.Required)
		if err != nil {
			return nil, err
		}
		if !ok {
			// Revert: re-allocate the original requirement, which must
			// succeed because Release just freed exactly that amount.
			if _, err := sm.ledger.Allocate(ctx, c, d.Required); err != nil {
				return nil, err
			}
			return nil, apierr.StateConflict("insufficient resources for updated requirements")
		}
		d.Required = *in.Required
	} else if in.Required != nil {
		d.Required = *in.Required
	}

	if in.Name != nil {
		d.Name = *in.Name
	}
	if in.ImageRef != nil {
		d.ImageRef = *in.ImageRef
	}
	if in.Priority != nil {
		d.Priority = *in.Priority
	}

	_, err = sm.tx.Exec(ctx, `
		UPDATE deployments
		SET name = $2, image_ref = $3, required_ram = $4, required_cpu = $5, required_gpu = $6, priority = $7
		WHERE id = $1`,
		d.ID, d.Name, d.ImageRef, d.Required.RAM, d.Required.CPU, d.Required.GPU, int(d.Priority),
	)
	if err != nil {
		return nil, err
	}

	return d, nil
}

// Start attempts the PENDING → RUNNING transition. Returns (nil, nil) — the
// spec's "null" outcome — if the deployment is not PENDING, a dependency is
// not COMPLETED, or allocation fails.
func (sm *StateMachine) Start(ctx context.Context, id int64) (*Deployment, error) {
	d, err := sm.getDeployment(ctx, id)
	if err != nil {
		return nil, err
	}
	if d == nil || d.Status != StatusPending {
		return nil, nil
	}

	deps, err := sm.graph.Dependencies(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, depID := range deps {
		dep, err := sm.getDeployment(ctx, depID)
		if err != nil {
			return nil, err
		}
		if dep == nil || dep.Status != StatusCompleted {
			return nil, nil
		}
	}

	c, err := sm.ledger.LockCluster(ctx, d.ClusterID)
	if err != nil {
		return nil, err
	}
	ok, err := sm.ledger.Allocate(ctx, c, d.Required)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	now := time.Now().UTC()
	_, err = sm.tx.Exec(ctx, `UPDATE deployments SET status = $2, started_at = $3, preempted_by = NULL WHERE id = $1`,
		id, string(StatusRunning), now)
	if err != nil {
		return nil, err
	}

	d.Status = StatusRunning
	d.StartedAt = &now
	d.PreemptedBy = nil
	return d, nil
}

// Stop attempts the RUNNING → terminal transition, with terminal ∈
// {COMPLETED, FAILED}. Returns (nil, nil) if the deployment is not
// RUNNING. It does not start dependents itself: on a COMPLETED transition,
// the caller must read Graph.PendingDependents(id) after this transaction
// commits and attempt Start on each, each in its own transaction. Cascading
// inline here would hold one transaction open across an entire dependency
// chain and risks re-entrant locking on the cluster row.
// preemptedBy, if non-nil, records the deployment whose admission caused
// this stop — distinguishing scheduler preemption from a user-initiated
// stop without adding a sixth status.
func (sm *StateMachine) Stop(ctx context.Context, id int64, terminal Status, preemptedBy *int64) (*Deployment, error) {
	if terminal != StatusCompleted && terminal != StatusFailed {
		return nil, apierr.Validation("terminal status must be COMPLETED or FAILED")
	}

	d, err := sm.getDeployment(ctx, id)
	if err != nil {
		return nil, err
	}
	if d == nil || d.Status != StatusRunning {
		return nil, nil
	}

	c, err := sm.ledger.LockCluster(ctx, d.ClusterID)
	if err != nil {
		return nil, err
	}
	if err := sm.ledger.Release(ctx, c, d.Required); err != nil {
		return nil, err
	}

	_, err = sm.tx.Exec(ctx, `UPDATE deployments SET status = $2, preempted_by = $3 WHERE id = $1`,
		id, string(terminal), preemptedBy)
	if err != nil {
		return nil, err
	}
	d.Status = terminal
	d.PreemptedBy = preemptedBy

	return d, nil
}

// Cancel attempts the PENDING → CANCELLED transition. Returns (nil, nil) —
// idempotent no-op — if the deployment is not PENDING.
func (sm *StateMachine) Cancel(ctx context.Context, id int64) (*Deployment, error) {
	d, err := sm.getDeployment(ctx, id)
	if err != nil {
		return nil, err
	}
	if d == nil || d.Status != StatusPending {
		return nil, nil
	}

	_, err = sm.tx.Exec(ctx, `UPDATE deployments SET status = $2 WHERE id = $1`, id, string(StatusCancelled))
	if err != nil {
		return nil, err
	}
	d.Status = StatusCancelled
	return d, nil
}

// Delete removes deployment id and its edges, releasing resources first if
// it was RUNNING. Returns false if the deployment did not exist.
func (sm *StateMachine) Delete(ctx context.Context, id int64) (bool, error) {
	d, err := sm.getDeployment(ctx, id)
	if err != nil {
		return false, err
	}
	if d == nil {
		return false, nil
	}

	if d.Status == StatusRunning {
		c, err := sm.ledger.LockCluster(ctx, d.ClusterID)
		if err != nil {
			return false, err
		}
		if err := sm.ledger.Release(ctx, c, d.Required); err != nil {
			return false, err
		}
	}

	if err := sm.graph.DeleteAllEdgesFor(ctx, id); err != nil {
		return false, err
	}

	if _, err := sm.tx.Exec(ctx, `DELETE FROM deployments WHERE id = $1`, id); err != nil {
		return false, err
	}

	return true, nil
}

func (sm *StateMachine) getDeployment(ctx context.Context, id int64) (*Deployment, error) {
	var d Deployment
	var priority int
	var status string
	err := sm.tx.QueryRow(ctx, `
		SELECT id, cluster_id, user_id, name, image_ref,
		       required_ram, required_cpu, required_gpu,
		       priority, status, created_at, started_at, preempted_by
		FROM deployments
		WHERE id = $1`, id,
	).Scan(
		&d.ID, &d.ClusterID, &d.UserID, &d.Name, &d.ImageRef,
		&d.Required.RAM, &d.Required.CPU, &d.Required.GPU,
		&priority, &status, &d.CreatedAt, &d.StartedAt, &d.PreemptedBy,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	d.Priority = Priority(priority)
	d.Status = Status(status)
	return &d, nil
}

func (sm *StateMachine) deploymentClusterID(ctx context.Context, id int64) (int64, bool, error) {
	var clusterID int64
	err := sm.tx.QueryRow(ctx, `SELECT cluster_id FROM deployments WHERE id = $1`, id).Scan(&clusterID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, err
	}
	return clusterID, true, nil
}
