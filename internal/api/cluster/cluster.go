// Package cluster implements cluster CRUD and the capacity-update special
// rule from §4.5: growing total_X grows available_X by the same delta;
// shrinking total_X is rejected if it would violate the ledger invariant.
package cluster

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cgirish01/hypervisor-service/internal/apierr"
	"github.com/cgirish01/hypervisor-service/internal/engine"
)

// Cluster is the JSON representation of a cluster.
type Cluster struct {
	ID             int64     `json:"id"`
	OrganizationID int64     `json:"organization_id"`
	Name           string    `json:"name"`
	TotalRAM       float64   `json:"total_ram"`
	TotalCPU       float64   `json:"total_cpu"`
	TotalGPU       float64   `json:"total_gpu"`
	AvailableRAM   float64   `json:"available_ram"`
	AvailableCPU   float64   `json:"available_cpu"`
	AvailableGPU   float64   `json:"available_gpu"`
	CreatorID      int64     `json:"creator_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// ErrNotFound is returned when the cluster row is absent.
var ErrNotFound = errors.New("cluster not found")

// Store is the persistence layer for clusters.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps a connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// CreateInput describes a new cluster.
type CreateInput struct {
	OrganizationID int64
	Name           string
	TotalRAM       float64
	TotalCPU       float64
	TotalGPU       float64
	CreatorID      int64
}

// Create inserts a cluster at full availability.
func (s *Store) Create(ctx context.Context, in CreateInput) (*Cluster, error) {
	var c Cluster
	err := s.pool.QueryRow(ctx, `
		INSERT INTO clusters (organization_id, name, total_ram, total_cpu, total_gpu, available_ram, available_cpu, available_gpu, creator_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $3, $4, $5, $6, now())
		RETURNING id, organization_id, name, total_ram, total_cpu, total_gpu, available_ram, available_cpu, available_gpu, creator_id, created_at`,
		in.OrganizationID, in.Name, in.TotalRAM, in.TotalCPU, in.TotalGPU, in.CreatorID,
	).Scan(&c.ID, &c.OrganizationID, &c.Name, &c.TotalRAM, &c.TotalCPU, &c.TotalGPU,
		&c.AvailableRAM, &c.AvailableCPU, &c.AvailableGPU, &c.CreatorID, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Get fetches a cluster by ID.
func (s *Store) Get(ctx context.Context, id int64) (*Cluster, error) {
	var c Cluster
	err := s.pool.QueryRow(ctx, `
		SELECT id, organization_id, name, total_ram, total_cpu, total_gpu, available_ram, available_cpu, available_gpu, creator_id, created_at
		FROM clusters WHERE id = $1`, id,
	).Scan(&c.ID, &c.OrganizationID, &c.Name, &c.TotalRAM, &c.TotalCPU, &c.TotalGPU,
		&c.AvailableRAM, &c.AvailableCPU, &c.AvailableGPU, &c.CreatorID, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// List returns clusters belonging to organizations userID is a member of,
// optionally filtered to a single organization.
func (s *Store) List(ctx context.Context, userID int64, organizationID *int64, limit, offset int) ([]Cluster, int, error) {
	var total int
	countErr := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM clusters c
		JOIN user_organizations uo ON uo.organization_id = c.organization_id
		WHERE uo.user_id = $1 AND ($2::bigint IS NULL OR c.organization_id = $2)`,
		userID, organizationID,
	).Scan(&total)
	if countErr != nil {
		return nil, 0, countErr
	}

	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.organization_id, c.name, c.total_ram, c.total_cpu, c.total_gpu, c.available_ram, c.available_cpu, c.available_gpu, c.creator_id, c.created_at
		FROM clusters c
		JOIN user_organizations uo ON uo.organization_id = c.organization_id
		WHERE uo.user_id = $1 AND ($2::bigint IS NULL OR c.organization_id = $2)
		ORDER BY c.id
		LIMIT $3 OFFSET $4`, userID, organizationID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Cluster
	for rows.Next() {
		var c Cluster
		if err := rows.Scan(&c.ID, &c.OrganizationID, &c.Name, &c.TotalRAM, &c.TotalCPU, &c.TotalGPU,
			&c.AvailableRAM, &c.AvailableCPU, &c.AvailableGPU, &c.CreatorID, &c.CreatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

// UpdateInput describes a capacity/name patch. Nil fields are unchanged.
type UpdateInput struct {
	Name     *string
	TotalRAM *float64
	TotalCPU *float64
	TotalGPU *float64
}

// Update applies a patch to cluster id, applying the capacity-change rule:
// a growth in total_X grows available_X by the same delta; a shrink is
// applied to available_X only if the ledger invariant (0 <= available <=
// total) still holds afterward, otherwise the whole update is rejected.
func (s *Store) Update(ctx context.Context, id int64, in UpdateInput) (*Cluster, error) {
	var result *Cluster
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		ledger := engine.NewLedger(tx)
		c, err := ledger.LockCluster(ctx, id)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}

		name := c.Name
		if in.Name != nil {
			name = *in.Name
		}

		total := c.Total
		available := c.Available

		if in.TotalRAM != nil {
			delta := *in.TotalRAM - total.RAM
			total.RAM = *in.TotalRAM
			available.RAM += delta
		}
		if in.TotalCPU != nil {
			delta := *in.TotalCPU - total.CPU
			total.CPU = *in.TotalCPU
			available.CPU += delta
		}
		if in.TotalGPU != nil {
			delta := *in.TotalGPU - total.GPU
			total.GPU = *in.TotalGPU
			available.GPU += delta
		}

		if available.RAM < 0 || available.CPU < 0 || available.GPU < 0 {
			return apierr.Validation("capacity shrink below current running demand is not supported")
		}
		if available.RAM > total.RAM || available.CPU > total.CPU || available.GPU > total.GPU {
			return apierr.Validation("capacity update would violate the resource invariant")
		}

		var updated Cluster
		if err := tx.QueryRow(ctx, `
			UPDATE clusters
			SET name = $2, total_ram = $3, total_cpu = $4, total_gpu = $5,
			    available_ram = $6, available_cpu = $7, available_gpu = $8
			WHERE id = $1
			RETURNING id, organization_id, name, total_ram, total_cpu, total_gpu, available_ram, available_cpu, available_gpu, creator_id, created_at`,
			id, name, total.RAM, total.CPU, total.GPU, available.RAM, available.CPU, available.GPU,
		).Scan(&updated.ID, &updated.OrganizationID, &updated.Name, &updated.TotalRAM, &updated.TotalCPU, &updated.TotalGPU,
			&updated.AvailableRAM, &updated.AvailableCPU, &updated.AvailableGPU, &updated.CreatorID, &updated.CreatedAt); err != nil {
			return err
		}

		result = &updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Delete removes a cluster. Owned deployments (and their edges) cascade via
// the foreign key.
func (s *Store) Delete(ctx context.Context, id int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM clusters WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
