package shared

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// DomainEvent is a fire-and-forget notification emitted after a state change commits.
type DomainEvent struct {
	Type       string         `json:"type"`
	Entity     string         `json:"entity"`
	EntityID   int64          `json:"entity_id"`
	ActorID    int64          `json:"actor_id"`
	OccurredAt time.Time      `json:"occurred_at"`
	Data       map[string]any `json:"data,omitempty"`
}

// EntityRef renders the entity id for audit storage.
func (e DomainEvent) EntityRef() string {
	return strconv.FormatInt(e.EntityID, 10)
}

// Key derives a stable identifier so redelivery of the same event can be
// deduplicated downstream.
func (e DomainEvent) Key() uuid.UUID {
	name := e.Type + ":" + e.Entity + ":" + e.EntityRef() + ":" + e.OccurredAt.UTC().Format(time.RFC3339Nano)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name))
}

// Notifier receives domain events. Implementations must not block the caller on delivery
// failures; errors are theirs to log.
type Notifier interface {
	Notify(ctx context.Context, events ...DomainEvent)
}

// NopNotifier drops every event.
type NopNotifier struct{}

// Notify implements Notifier.
func (NopNotifier) Notify(context.Context, ...DomainEvent) {}

// Domain event types emitted by the asset services.
const (
	EventAssetRevalued       = "asset.revalued"
	EventAssetMoved          = "asset.moved"
	EventAssetReassigned     = "asset.reassigned"
	EventAssetRetired        = "asset.retired"
	EventAssetDisposed       = "asset.disposed"
	EventAssetDeactivated    = "asset.deactivated"
	EventAssetReactivated    = "asset.reactivated"
	EventCycleStarted        = "audit_cycle.started"
	EventCycleReconciled     = "audit_cycle.reconciled"
	EventCycleCompleted      = "audit_cycle.completed"
	EventDiscrepancyDetected = "discrepancy.detected"
	EventDiscrepancyApproved = "discrepancy.approved"
	EventDiscrepancyRejected = "discrepancy.rejected"
)
