package engine

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/cgirish01/hypervisor-service/internal/telemetry"
)

// Ledger exposes the three resource-accounting primitives over a cluster's
// available_{ram,cpu,gpu} columns. All three run inside the caller's
// transaction and require the exclusive row lock LockCluster takes, so
// concurrent allocate calls against the same cluster linearize.
type Ledger struct {
	tx pgx.Tx
}

// NewLedger wraps a transaction for ledger operations.
func NewLedger(tx pgx.Tx) *Ledger {
	return &Ledger{tx: tx}
}

// LockCluster takes the exclusive row lock on cluster id and returns its
// current total/available resources. Every allocate, release, start, stop,
// and cascade call must go through this first.
func (l *Ledger) LockCluster(ctx context.Context, clusterID int64) (*Cluster, error) {
	var c Cluster
	err := l.tx.QueryRow(ctx, `
		SELECT id, organization_id, name,
		       total_ram, total_cpu, total_gpu,
		       available_ram, available_cpu, available_gpu,
		       creator_id, created_at
		FROM clusters
		WHERE id = $1
		FOR UPDATE`, clusterID,
	).Scan(
		&c.ID, &c.OrganizationID, &c.Name,
		&c.Total.RAM, &c.Total.CPU, &c.Total.GPU,
		&c.Available.RAM, &c.Available.CPU, &c.Available.GPU,
		&c.CreatorID, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Check reports whether cluster c currently has enough available resources
// to cover r.
func (l *Ledger) Check(c *Cluster, r Resources) bool {
	return c.Available.GTE(r)
}

// Allocate subtracts r from c's available resources if Check(c, r) holds,
// persists the new available_* values, and returns true. If Check fails,
// Allocate is a no-op and returns false.
func (l *Ledger) Allocate(ctx context.Context, c *Cluster, r Resources) (bool, error) {
	if !l.Check(c, r) {
		return false, nil
	}

	c.Available = c.Available.Sub(r)
	if err := l.persist(ctx, c); err != nil {
		return false, err
	}
	l.observeAvailability(c)
	return true, nil
}

// Release adds r back to c's available resources, then clamps each
// dimension to total_X to absorb any drift from capacity updates or manual
// repair. Release never fails.
func (l *Ledger) Release(ctx context.Context, c *Cluster, r Resources) error {
	c.Available = c.Available.Add(r)

	if c.Available.RAM > c.Total.RAM {
		c.Available.RAM = c.Total.RAM
		telemetry.LedgerClampTotal.WithLabelValues(fmt.Sprint(c.ID), "ram").Inc()
	}
	if c.Available.CPU > c.Total.CPU {
		c.Available.CPU = c.Total.CPU
		telemetry.LedgerClampTotal.WithLabelValues(fmt.Sprint(c.ID), "cpu").Inc()
	}
	if c.Available.GPU > c.Total.GPU {
		c.Available.GPU = c.Total.GPU
		telemetry.LedgerClampTotal.WithLabelValues(fmt.Sprint(c.ID), "gpu").Inc()
	}

	if err := l.persist(ctx, c); err != nil {
		return err
	}
	l.observeAvailability(c)
	return nil
}

func (l *Ledger) persist(ctx context.Context, c *Cluster) error {
	_, err := l.tx.Exec(ctx, `
		UPDATE clusters
		SET available_ram = $2, available_cpu = $3, available_gpu = $4
		WHERE id = $1`,
		c.ID, c.Available.RAM, c.Available.CPU, c.Available.GPU,
	)
	return err
}

func (l *Ledger) observeAvailability(c *Cluster) {
	id := fmt.Sprint(c.ID)
	if c.Total.RAM > 0 {
		telemetry.ClusterAvailableRatio.WithLabelValues(id, "ram").Set(c.Available.RAM / c.Total.RAM)
	}
	if c.Total.CPU > 0 {
		telemetry.ClusterAvailableRatio.WithLabelValues(id, "cpu").Set(c.Available.CPU / c.Total.CPU)
	}
	if c.Total.GPU > 0 {
		telemetry.ClusterAvailableRatio.WithLabelValues(id, "gpu").Set(c.Available.GPU / c.Total.GPU)
	}
}
