package models

import (
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusWaiting   Status = "WAITING"
	StatusCalled    Status = "CALLED"
	StatusInService Status = "IN_SERVICE"
	StatusDone      Status = "DONE"
	StatusNoShow    Status = "NO_SHOW"
	StatusCanceled  Status = "CANCELED"
)

// Statuses lists every queue status in declaration order.
var Statuses = []Status{
	StatusWaiting,
	StatusCalled,
	StatusInService,
	StatusDone,
	StatusNoShow,
	StatusCanceled,
}

func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusCalled, StatusInService, StatusDone, StatusNoShow, StatusCanceled:
		return true
	default:
		return false
	}
}

// Active reports whether the item belongs to the operational queue view.
func (s Status) Active() bool {
	return s == StatusWaiting || s == StatusCalled
}

func ParseStatus(raw string) (Status, error) {
	status := Status(strings.ToUpper(strings.TrimSpace(raw)))
	if !status.Valid() {
		return "", fmt.Errorf("unknown queue status %q", raw)
	}
	return status, nil
}

type QueueItem struct {
	ID            string    `json:"id"`
	ClinicID      string    `json:"clinic_id"`
	TicketCode    string    `json:"ticket_code"`
	TicketDay     string    `json:"ticket_day"`
	AppointmentID *string   `json:"appointment_id,omitempty"`
	PatientID     string    `json:"patient_id"`
	DoctorID      *string   `json:"doctor_id,omitempty"`
	Status        Status    `json:"status"`
	Source        Source    `json:"source,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// WalkIn reports whether the item has no linked appointment.
func (q QueueItem) WalkIn() bool {
	return q.AppointmentID == nil
}

// AssignedTo reports whether the item is bound to the given doctor.
func (q QueueItem) AssignedTo(doctorID string) bool {
	return q.DoctorID != nil && *q.DoctorID == doctorID
}

type Source string

const (
	SourceCheckIn         Source = "CHECK_IN"
	SourceWalkIn          Source = "WALK_IN"
	SourceAutoAppointment Source = "AUTO_APPOINTMENT"
)

func (s Source) Valid() bool {
	switch s {
	case SourceCheckIn, SourceWalkIn, SourceAutoAppointment:
		return true
	default:
		return false
	}
}

// OperationalEntry is a queue item ranked for the "who's next" dashboard.
type OperationalEntry struct {
	QueueItem
	Position         int        `json:"position"`
	PatientName      string     `json:"patient_name"`
	AppointmentStart *time.Time `json:"appointment_start,omitempty"`
	Late             bool       `json:"late"`
	Degraded         bool       `json:"degraded,omitempty"`
}

// DisplayEntry is the public waiting-room projection of an OperationalEntry.
type DisplayEntry struct {
	Position   int    `json:"position"`
	TicketCode string `json:"ticket_code"`
	Status     Status `json:"status"`
}
