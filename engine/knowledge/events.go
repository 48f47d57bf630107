package knowledge

import (
	"context"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/cortexkg/cortex/pkg/natsutil"
)

// EventKind names a graph lifecycle event.
type EventKind string

const (
	EventNodeAdded           EventKind = "node.added"
	EventNodeUpdated         EventKind = "node.updated"
	EventNodeDeleted         EventKind = "node.deleted"
	EventRelationshipAdded   EventKind = "relationship.added"
	EventRelationshipDeleted EventKind = "relationship.deleted"
	EventAnalysisCompleted   EventKind = "analysis.completed"
	EventLearned             EventKind = "graph.learned"
	EventRestored            EventKind = "graph.restored"
)

// Event is the payload published on every graph mutation and analysis run.
type Event struct {
	Kind     EventKind `json:"kind"`
	NodeID   string    `json:"node_id,omitempty"`
	TargetID string    `json:"target_id,omitempty"`
	Patterns int       `json:"patterns,omitempty"`
	At       time.Time `json:"at"`
}

// Publisher emits graph lifecycle events. Delivery is best-effort; the
// service never fails a mutation because an event could not be published.
type Publisher interface {
	GraphEvent(ctx context.Context, ev Event)
}

// NopPublisher discards all events.
type NopPublisher struct{}

func (NopPublisher) GraphEvent(context.Context, Event) {}

// NATSPublisher publishes events on "cortex.graph.<kind>" subjects with
// trace context propagated in message headers.
type NATSPublisher struct {
	nc     *nats.Conn
	logger *slog.Logger
}

// NewNATSPublisher wraps an established NATS connection.
func NewNATSPublisher(nc *nats.Conn, logger *slog.Logger) *NATSPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSPublisher{nc: nc, logger: logger}
}

func (p *NATSPublisher) GraphEvent(ctx context.Context, ev Event) {
	subject := "cortex.graph." + string(ev.Kind)
	if err := natsutil.Publish(ctx, p.nc, subject, ev); err != nil {
		p.logger.Warn("event publish failed", "subject", subject, "error", err)
	}
}
