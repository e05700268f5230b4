package integration

import "github.com/odyssey-erp/odyssey-assets/internal/shared"

// auditEntry maps an event to its audit_logs row. The event key is kept in
// meta so the row can be matched with the queued notification.
func auditEntry(evt shared.DomainEvent) shared.AuditLog {
	meta := make(map[string]any, len(evt.Data)+1)
	for k, v := range evt.Data {
		meta[k] = v
	}
	meta["event_key"] = evt.Key().String()
	return shared.AuditLog{
		ActorID:  evt.ActorID,
		Action:   evt.Type,
		Entity:   evt.Entity,
		EntityID: evt.EntityRef(),
		Meta:     meta,
		At:       evt.OccurredAt,
	}
}
