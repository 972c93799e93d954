package queue

import (
	"context"
	"time"

	"clinicdesk/queue-service/internal/models"
)

// PatientDirectory resolves display names. Patients of another clinic must
// not resolve.
type PatientDirectory interface {
	ResolveName(ctx context.Context, clinicID, patientID string) (string, error)
}

// AppointmentLookup reports an appointment's scheduled start. found is false
// when the appointment does not exist in the clinic.
type AppointmentLookup interface {
	StartTime(ctx context.Context, clinicID, appointmentID string) (start time.Time, found bool, err error)
}

type ClinicSettings interface {
	QueuePrefix(ctx context.Context, clinicID string) (string, error)
}

// LocationResolver is implemented by settings that know the clinic timezone.
type LocationResolver interface {
	Location(ctx context.Context, clinicID string) (*time.Location, error)
}

const (
	AuditActionAdd          = "ADD"
	AuditActionStatusChange = "STATUS_CHANGE"
	AuditEntityQueueItem    = "QUEUE_ITEM"
)

type AuditEvent struct {
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	ClinicID   string         `json:"clinic_id"`
	ActorID    string         `json:"actor_id,omitempty"`
	ActorRole  models.Role    `json:"actor_role,omitempty"`
	Metadata   map[string]any `json:"metadata"`
	OccurredAt time.Time      `json:"occurred_at"`
}

type AuditSink interface {
	Record(ctx context.Context, event AuditEvent) error
}

type discardAudit struct{}

func (discardAudit) Record(context.Context, AuditEvent) error {
	return nil
}
