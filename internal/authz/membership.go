package authz

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/cgirish01/hypervisor-service/internal/store"
)

// CanMutateOrganization reports whether userID is a member of organization
// orgID. Membership is the sole authorization fact this service checks;
// org creation/invite management is an external collaborator's concern.
func CanMutateOrganization(ctx context.Context, db store.DBTX, userID, orgID int64) (bool, error) {
	var exists bool
	err := db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM user_organizations WHERE user_id = $1 AND organization_id = $2)`,
		userID, orgID,
	).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// CanMutateCluster reports whether userID belongs to the organization that
// owns clusterID.
func CanMutateCluster(ctx context.Context, db store.DBTX, userID, clusterID int64) (bool, error) {
	var exists bool
	err := db.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1
			FROM clusters c
			JOIN user_organizations uo ON uo.organization_id = c.organization_id
			WHERE c.id = $1 AND uo.user_id = $2
		)`, clusterID, userID,
	).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// CanMutateDeployment reports whether userID belongs to the organization
// that (transitively, via the owning cluster) owns deploymentID.
func CanMutateDeployment(ctx context.Context, db store.DBTX, userID, deploymentID int64) (bool, error) {
	var exists bool
	err := db.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1
			FROM deployments d
			JOIN clusters c ON c.id = d.cluster_id
			JOIN user_organizations uo ON uo.organization_id = c.organization_id
			WHERE d.id = $1 AND uo.user_id = $2
		)`, deploymentID, userID,
	).Scan(&exists)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return exists, nil
}
