package engine

import (
	"context"

	"github.com/cgirish01/hypervisor-service/internal/store"
)

// Graph operates on the deployment_dependencies relation: ordered edges
// (dependent_id, dependency_id) meaning "dependent depends on dependency".
// tx is a store.DBTX so Graph can run standalone against a pool for read-only
// queries or inside a caller-managed transaction for mutations.
type Graph struct {
	tx store.DBTX
}

// NewGraph wraps a database handle for dependency graph operations.
func NewGraph(tx store.DBTX) *Graph {
	return &Graph{tx: tx}
}

// Dependencies returns the direct prerequisites of deploymentID.
func (g *Graph) Dependencies(ctx context.Context, deploymentID int64) ([]int64, error) {
	rows, err := g.tx.Query(ctx,
		`SELECT dependency_id FROM deployment_dependencies WHERE dependent_id = $1`, deploymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Dependents returns the deployments that directly depend on deploymentID.
func (g *Graph) Dependents(ctx context.Context, deploymentID int64) ([]int64, error) {
	rows, err := g.tx.Query(ctx,
		`SELECT dependent_id FROM deployment_dependencies WHERE dependency_id = $1`, deploymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// PendingDependents returns the direct dependents of deploymentID that are
// currently PENDING — the candidate set a post-commit cascade should attempt
// to start. Whether each candidate's full dependency set is actually met is
// re-checked by StateMachine.Start at the instant it runs, not here.
func (g *Graph) PendingDependents(ctx context.Context, deploymentID int64) ([]int64, error) {
	rows, err := g.tx.Query(ctx, `
		SELECT dd.dependent_id
		FROM deployment_dependencies dd
		JOIN deployments d ON d.id = dd.dependent_id
		WHERE dd.dependency_id = $1 AND d.status = $2`,
		deploymentID, string(StatusPending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// WouldFormCycle reports whether adding edge (dependentID, dependencyID)
// would create a cycle in the dependency relation: true iff dependentID is
// already reachable from dependencyID by following existing dependency_id
// edges (which would make dependentID transitively depend on itself).
func (g *Graph) WouldFormCycle(ctx context.Context, dependentID, dependencyID int64) (bool, error) {
	if dependentID == dependencyID {
		return true, nil
	}

	visited := map[int64]bool{}
	stack := []int64{dependencyID}

	for len(stack) > 0 {
		n := len(stack) - 1
		cur := stack[n]
		stack = stack[:n]

		if cur == dependentID {
			return true, nil
		}
		if visited[cur] {
			continue
		}
		visited[cur] = true

		deps, err := g.Dependencies(ctx, cur)
		if err != nil {
			return false, err
		}
		stack = append(stack, deps...)
	}

	return false, nil
}

// AddEdge inserts the edge (dependentID, dependencyID). Callers must have
// already checked WouldFormCycle and same-cluster membership.
func (g *Graph) AddEdge(ctx context.Context, dependentID, dependencyID int64) error {
	_, err := g.tx.Exec(ctx,
		`INSERT INTO deployment_dependencies (dependent_id, dependency_id) VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`, dependentID, dependencyID)
	return err
}

// ReplaceEdges deletes every existing outgoing edge for dependentID and
// inserts the new set. Callers must validate the new set first.
func (g *Graph) ReplaceEdges(ctx context.Context, dependentID int64, dependencyIDs []int64) error {
	if _, err := g.tx.Exec(ctx,
		`DELETE FROM deployment_dependencies WHERE dependent_id = $1`, dependentID); err != nil {
		return err
	}
	for _, depID := range dependencyIDs {
		if err := g.AddEdge(ctx, dependentID, depID); err != nil {
			return err
		}
	}
	return nil
}

// DeleteAllEdgesFor removes every edge touching deploymentID, as either
// endpoint, ahead of deleting the deployment itself.
func (g *Graph) DeleteAllEdgesFor(ctx context.Context, deploymentID int64) error {
	_, err := g.tx.Exec(ctx,
		`DELETE FROM deployment_dependencies WHERE dependent_id = $1 OR dependency_id = $1`, deploymentID)
	return err
}
