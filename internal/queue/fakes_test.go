package queue

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"clinicdesk/queue-service/internal/models"
	"clinicdesk/queue-service/internal/store"
)

// memStore is an in-memory QueueItemStore honoring the ticket uniqueness
// constraint and the conditional status update.
type memStore struct {
	mu      sync.Mutex
	items   []models.QueueItem
	inserts int
	nextID  int

	insertErr error
	listErr   error
	countErr  error
	updateFn  func(input store.UpdateStatusInput) error
	listFn    func(filter store.ListFilter)
}

func (m *memStore) Insert(_ context.Context, input store.NewQueueItem) (models.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserts++
	if m.insertErr != nil {
		return models.QueueItem{}, m.insertErr
	}
	for _, existing := range m.items {
		if existing.ClinicID != input.ClinicID || existing.TicketDay != input.TicketDay {
			continue
		}
		if existing.TicketCode == input.TicketCode {
			return models.QueueItem{}, store.ErrDuplicateTicketCode
		}
		if input.AppointmentID != nil && existing.AppointmentID != nil && *existing.AppointmentID == *input.AppointmentID {
			return models.QueueItem{}, store.ErrAppointmentQueued
		}
	}
	m.nextID++
	item := models.QueueItem{
		ID:            fmt.Sprintf("item-%02d", m.nextID),
		ClinicID:      input.ClinicID,
		TicketCode:    input.TicketCode,
		TicketDay:     input.TicketDay,
		AppointmentID: input.AppointmentID,
		PatientID:     input.PatientID,
		DoctorID:      input.DoctorID,
		Status:        input.Status,
		Source:        input.Source,
		CreatedAt:     input.CreatedAt,
		UpdatedAt:     input.CreatedAt,
	}
	m.items = append(m.items, item)
	return item, nil
}

func (m *memStore) add(item models.QueueItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = item.CreatedAt
	}
	m.items = append(m.items, item)
}

func (m *memStore) FindByID(_ context.Context, clinicID, id string) (models.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.items {
		if item.ID == id && item.ClinicID == clinicID {
			return item, nil
		}
	}
	return models.QueueItem{}, store.ErrItemNotFound
}

func (m *memStore) List(_ context.Context, filter store.ListFilter) ([]models.QueueItem, error) {
	if m.listFn != nil {
		m.listFn(filter)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []models.QueueItem
	for _, item := range m.items {
		if item.ClinicID != filter.ClinicID {
			continue
		}
		if filter.DoctorID != "" && !item.AssignedTo(filter.DoctorID) && !(filter.IncludeUnassigned && item.DoctorID == nil) {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, item.Status) {
			continue
		}
		if filter.Day != "" && item.TicketDay != filter.Day {
			continue
		}
		if filter.AppointmentID != "" && (item.AppointmentID == nil || *item.AppointmentID != filter.AppointmentID) {
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

func (m *memStore) CountForDay(_ context.Context, clinicID, day string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.countErr != nil {
		return 0, m.countErr
	}
	count := 0
	for _, item := range m.items {
		if item.ClinicID == clinicID && item.TicketDay == day {
			count++
		}
	}
	return count, nil
}

func (m *memStore) UpdateStatus(_ context.Context, input store.UpdateStatusInput) (models.QueueItem, error) {
	if m.updateFn != nil {
		if err := m.updateFn(input); err != nil {
			return models.QueueItem{}, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, item := range m.items {
		if item.ID != input.ID || item.ClinicID != input.ClinicID {
			continue
		}
		if item.Status != input.Expected {
			return models.QueueItem{}, store.ErrStatusMismatch
		}
		item.Status = input.Status
		item.UpdatedAt = input.UpdatedAt
		m.items[i] = item
		return item, nil
	}
	return models.QueueItem{}, store.ErrItemNotFound
}

func (m *memStore) ListStale(_ context.Context, status models.Status, before time.Time, limit int) ([]models.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.QueueItem
	for _, item := range m.items {
		if item.Status == status && item.UpdatedAt.Before(before) {
			out = append(out, item)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type recordingAudit struct {
	events []AuditEvent
	err    error
}

func (r *recordingAudit) Record(_ context.Context, event AuditEvent) error {
	r.events = append(r.events, event)
	return r.err
}

type stubSettings struct {
	prefix   string
	err      error
	location *time.Location
}

func (s stubSettings) QueuePrefix(context.Context, string) (string, error) {
	return s.prefix, s.err
}

func (s stubSettings) Location(context.Context, string) (*time.Location, error) {
	return s.location, nil
}

type stubPatients map[string]string

func (p stubPatients) ResolveName(_ context.Context, _ string, patientID string) (string, error) {
	name, ok := p[patientID]
	if !ok {
		return "", errors.New("patient directory unavailable")
	}
	return name, nil
}

type stubAppointments struct {
	starts map[string]time.Time
	failed map[string]bool
}

func (a stubAppointments) StartTime(_ context.Context, _ string, appointmentID string) (time.Time, bool, error) {
	if a.failed[appointmentID] {
		return time.Time{}, false, errors.New("appointments unavailable")
	}
	start, ok := a.starts[appointmentID]
	return start, ok, nil
}

type patientsFunc func(clinicID, patientID string) (string, error)

func (f patientsFunc) ResolveName(_ context.Context, clinicID, patientID string) (string, error) {
	return f(clinicID, patientID)
}

func fixedClock(at time.Time) Clock {
	return ClockFunc(func() time.Time { return at })
}

func ptr(value string) *string {
	return &value
}
