package integration

import (
	"context"
	"log/slog"

	"github.com/odyssey-erp/odyssey-assets/internal/shared"
)

// AuditRecorder persists audit trail rows.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Publisher hands events to the background queue.
type Publisher interface {
	EnqueueDomainEvent(ctx context.Context, evt shared.DomainEvent) error
}

// EventCounter observes emitted events.
type EventCounter interface {
	ObserveEvent(eventType string)
}

// Hooks wires committed domain events from the asset modules into the audit
// trail, the job queue and metrics. It implements shared.Notifier.
type Hooks struct {
	audit   AuditRecorder
	queue   Publisher
	counter EventCounter
	logger  *slog.Logger
}

// NewHooks constructs integration hooks. Any dependency may be nil.
func NewHooks(audit AuditRecorder, queue Publisher, counter EventCounter, logger *slog.Logger) *Hooks {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hooks{audit: audit, queue: queue, counter: counter, logger: logger}
}

var _ shared.Notifier = (*Hooks)(nil)

// Notify delivers each event to every configured sink. The state change has
// already committed, so failures are logged and never returned.
func (h *Hooks) Notify(ctx context.Context, events ...shared.DomainEvent) {
	if h == nil {
		return
	}
	for _, evt := range events {
		if evt.Type == "" {
			continue
		}
		attrs := []any{slog.String("event", evt.Type), slog.String("entity", evt.Entity), slog.Int64("entity_id", evt.EntityID)}
		if h.audit != nil {
			if err := h.audit.Record(ctx, auditEntry(evt)); err != nil {
				h.logger.Error("integration: audit record", append(attrs, slog.Any("error", err))...)
			}
		}
		if h.queue != nil {
			if err := h.queue.EnqueueDomainEvent(ctx, evt); err != nil {
				h.logger.Error("integration: enqueue event", append(attrs, slog.Any("error", err))...)
			}
		}
		if h.counter != nil {
			h.counter.ObserveEvent(evt.Type)
		}
		h.logger.Debug("domain event", attrs...)
	}
}
