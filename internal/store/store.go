package store

import (
	"context"
	"time"

	"clinicdesk/queue-service/internal/models"
)

const DayLayout = "2006-01-02"

type NewQueueItem struct {
	ClinicID      string
	TicketCode    string
	TicketDay     string
	AppointmentID *string
	PatientID     string
	DoctorID      *string
	Status        models.Status
	Source        models.Source
	CreatedAt     time.Time
}

// ListFilter scopes a listing to one clinic. An empty Statuses slice means
// every status. When DoctorID is set, IncludeUnassigned also returns items
// with no doctor. Day and AppointmentID narrow further when non-empty.
type ListFilter struct {
	ClinicID          string
	DoctorID          string
	IncludeUnassigned bool
	Statuses          []models.Status
	Day               string
	AppointmentID     string
}

type UpdateStatusInput struct {
	ClinicID  string
	ID        string
	Expected  models.Status
	Status    models.Status
	UpdatedAt time.Time
}

type QueueItemStore interface {
	Insert(ctx context.Context, item NewQueueItem) (models.QueueItem, error)
	FindByID(ctx context.Context, clinicID, id string) (models.QueueItem, error)
	List(ctx context.Context, filter ListFilter) ([]models.QueueItem, error)
	CountForDay(ctx context.Context, clinicID, day string) (int, error)
	UpdateStatus(ctx context.Context, input UpdateStatusInput) (models.QueueItem, error)
	ListStale(ctx context.Context, status models.Status, before time.Time, limit int) ([]models.QueueItem, error)
}
