package audit

import (
	"context"
	"log/slog"

	"clinicdesk/queue-service/internal/queue"
)

// LogSink writes audit events as structured log records. Used when no audit
// database is configured.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "audit")}
}

func (s *LogSink) Record(ctx context.Context, event queue.AuditEvent) error {
	s.logger.InfoContext(ctx, "audit event",
		"action", event.Action,
		"entity_type", event.EntityType,
		"entity_id", event.EntityID,
		"clinic_id", event.ClinicID,
		"actor_id", event.ActorID,
		"actor_role", event.ActorRole,
		"metadata", event.Metadata,
		"occurred_at", event.OccurredAt,
	)
	return nil
}
