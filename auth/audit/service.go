package audit

import (
	"context"

	"github.com/google/uuid"
	"github.com/vaultgate/auth/core"
)

// Service implements core.AuditSink
type Service struct {
	events core.AuditEventStore
	clock  core.Clock
}

// NewService creates a new audit service
func NewService(events core.AuditEventStore, clock core.Clock) *Service {
	return &Service{events: events, clock: clock}
}

// Log creates an audit log entry, filling in ID/CreatedAt/Severity when
// the caller left them at their zero value.
func (s *Service) Log(ctx context.Context, event *core.AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.clock.Now()
	}
	if event.Severity == "" {
		event.Severity = "info"
	}
	return s.events.Create(ctx, event)
}
