// Package organization implements the organization CRUD surface: creation,
// lookup, membership-gated mutation, and deletion cascading to owned
// clusters. Membership management itself (invites, join flows) is an
// external collaborator's concern; this package only checks membership.
package organization

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Organization is the persisted entity.
type Organization struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatorID int64     `json:"creator_id"`
	CreatedAt time.Time `json:"created_at"`
}

// ErrNotFound is returned by Get/Update when the row is absent. Delete
// reports a missing row as (false, nil) instead.
var ErrNotFound = errors.New("organization not found")

// Store is the persistence layer for organizations.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps a connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Create inserts a new organization and adds the creator as its first
// member.
func (s *Store) Create(ctx context.Context, name string, creatorID int64) (*Organization, error) {
	var org Organization
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `
			INSERT INTO organizations (name, creator_id, created_at)
			VALUES ($1, $2, now())
			RETURNING id, name, creator_id, created_at`,
			name, creatorID,
		).Scan(&org.ID, &org.Name, &org.CreatorID, &org.CreatedAt); err != nil {
			return err
		}

		_, err := tx.Exec(ctx,
			`INSERT INTO user_organizations (user_id, organization_id) VALUES ($1, $2)`,
			creatorID, org.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &org, nil
}

// Get fetches an organization by ID.
func (s *Store) Get(ctx context.Context, id int64) (*Organization, error) {
	var org Organization
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, creator_id, created_at FROM organizations WHERE id = $1`, id,
	).Scan(&org.ID, &org.Name, &org.CreatorID, &org.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &org, nil
}

// List returns organizations userID is a member of, paginated.
func (s *Store) List(ctx context.Context, userID int64, limit, offset int) ([]Organization, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM user_organizations WHERE user_id = $1`, userID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT o.id, o.name, o.creator_id, o.created_at
		FROM organizations o
		JOIN user_organizations uo ON uo.organization_id = o.id
		WHERE uo.user_id = $1
		ORDER BY o.id
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Organization
	for rows.Next() {
		var org Organization
		if err := rows.Scan(&org.ID, &org.Name, &org.CreatorID, &org.CreatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, org)
	}
	return out, total, rows.Err()
}

// Update renames an organization.
func (s *Store) Update(ctx context.Context, id int64, name string) (*Organization, error) {
	var org Organization
	err := s.pool.QueryRow(ctx, `
		UPDATE organizations SET name = $2 WHERE id = $1
		RETURNING id, name, creator_id, created_at`, id, name,
	).Scan(&org.ID, &org.Name, &org.CreatorID, &org.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &org, nil
}

// Delete removes an organization. Owned clusters (and transitively their
// deployments and edges) cascade via the foreign key.
func (s *Store) Delete(ctx context.Context, id int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM organizations WHERE id = $1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// isMember reports whether userID belongs to organization id.
func (s *Store) isMember(ctx context.Context, id, userID int64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM user_organizations WHERE organization_id = $1 AND user_id = $2)`,
		id, userID,
	).Scan(&exists)
	return exists, err
}
