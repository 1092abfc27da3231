// Package events publishes deployment and scheduler lifecycle notifications
// over Redis pub/sub, so external watchers (dashboards, CLIs) can observe
// admission and preemption activity without polling the API. It is a pure
// supplement: nothing in the engine depends on delivery succeeding.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Channel is the Redis pub/sub channel deployment and scheduler events are
// published to.
const Channel = "hypervisor:deployment-events"

// Kind classifies a published event.
type Kind string

const (
	KindCreated   Kind = "deployment.created"
	KindStarted   Kind = "deployment.started"
	KindStopped   Kind = "deployment.stopped"
	KindCancelled Kind = "deployment.cancelled"
	KindDeleted   Kind = "deployment.deleted"
	KindPreempted Kind = "deployment.preempted"
	KindTick      Kind = "scheduler.tick"
)

// Event is the JSON payload published on Channel.
type Event struct {
	Kind         Kind   `json:"kind"`
	DeploymentID int64  `json:"deployment_id,omitempty"`
	ClusterID    int64  `json:"cluster_id"`
	Status       string `json:"status,omitempty"`
	PreemptedBy  *int64 `json:"preempted_by_deployment_id,omitempty"`
	At           string `json:"at"`
}

// Publisher publishes events to Redis. A nil *redis.Client (REDIS_URL
// unset) makes every Publish call a silent no-op.
type Publisher struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewPublisher creates a Publisher. rdb may be nil.
func NewPublisher(rdb *redis.Client, logger *slog.Logger) *Publisher {
	return &Publisher{rdb: rdb, logger: logger}
}

// Publish fires ev on Channel. Failures are logged, never returned: event
// delivery is best-effort and must never block or fail an admission
// operation.
func (p *Publisher) Publish(ctx context.Context, ev Event) {
	if p == nil || p.rdb == nil {
		return
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("marshaling event", "error", err, "kind", ev.Kind)
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := p.rdb.Publish(pubCtx, Channel, payload).Err(); err != nil {
		p.logger.Warn("publishing event", "error", err, "kind", ev.Kind)
	}
}

// Subscribe returns a Redis pub/sub subscription to Channel for external
// watchers. Returns nil if Redis is not configured.
func (p *Publisher) Subscribe(ctx context.Context) *redis.PubSub {
	if p == nil || p.rdb == nil {
		return nil
	}
	return p.rdb.Subscribe(ctx, Channel)
}
