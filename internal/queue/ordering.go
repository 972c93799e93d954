package queue

import (
	"cmp"
	"context"
	"slices"
	"time"

	"clinicdesk/queue-service/internal/models"
	"clinicdesk/queue-service/internal/store"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// OperationalQueue ranks the clinic's WAITING and CALLED items for the
// dispatch dashboard. With a doctorID, the doctor's own items and the
// general queue are returned. Enrichment failures degrade the affected entry
// instead of failing the read.
func (s *Service) OperationalQueue(ctx context.Context, clinicID, doctorID string) (entries []models.OperationalEntry, err error) {
	ctx, span := s.tracer.Start(ctx, "queue.OperationalQueue", trace.WithAttributes(
		attribute.String("clinic.id", clinicID),
		attribute.String("doctor.id", doctorID),
	))
	defer endSpan(span, &err)

	items, err := s.List(ctx, store.ListFilter{
		ClinicID:          clinicID,
		DoctorID:          doctorID,
		IncludeUnassigned: doctorID != "",
		Statuses:          []models.Status{models.StatusWaiting, models.StatusCalled},
	})
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	names := map[string]string{}
	entries = make([]models.OperationalEntry, 0, len(items))
	for _, item := range items {
		if !item.Status.Active() {
			continue
		}
		entries = append(entries, s.enrich(ctx, item, now, names))
	}
	SortOperational(entries)
	span.SetAttributes(attribute.Int("queue.size", len(entries)))
	return entries, nil
}

// DisplayBoard is the waiting-room projection: same order, no patient data.
func (s *Service) DisplayBoard(ctx context.Context, clinicID string) ([]models.DisplayEntry, error) {
	entries, err := s.OperationalQueue(ctx, clinicID, "")
	if err != nil {
		return nil, err
	}
	board := make([]models.DisplayEntry, 0, len(entries))
	for _, entry := range entries {
		board = append(board, models.DisplayEntry{
			Position:   entry.Position,
			TicketCode: entry.TicketCode,
			Status:     entry.Status,
		})
	}
	return board, nil
}

func (s *Service) enrich(ctx context.Context, item models.QueueItem, now time.Time, names map[string]string) models.OperationalEntry {
	entry := models.OperationalEntry{QueueItem: item, PatientName: item.PatientID}

	if name, ok := names[item.PatientID]; ok {
		entry.PatientName = name
	} else if s.patients != nil {
		name, err := s.patients.ResolveName(ctx, item.ClinicID, item.PatientID)
		if err != nil {
			s.degraded(ctx, &entry, "patient name", err)
		} else {
			if name != "" {
				entry.PatientName = name
			}
			names[item.PatientID] = entry.PatientName
		}
	}

	if item.AppointmentID != nil && s.appointments != nil {
		start, found, err := s.appointments.StartTime(ctx, item.ClinicID, *item.AppointmentID)
		switch {
		case err != nil:
			s.degraded(ctx, &entry, "appointment start", err)
		case found:
			entry.AppointmentStart = &start
			entry.Late = start.Before(now)
		}
	}
	return entry
}

func (s *Service) degraded(ctx context.Context, entry *models.OperationalEntry, lookup string, err error) {
	entry.Degraded = true
	enrichmentDegraded.Add(1)
	s.logger.WarnContext(ctx, "operational queue enrichment degraded",
		"lookup", lookup, "queue_item_id", entry.ID, "clinic_id", entry.ClinicID, "error", err)
}

// SortOperational orders entries by: CALLED first, late appointments, any
// appointment over walk-ins, then createdAt. The id breaks exact ties so the
// result never depends on store order. Positions are rewritten from 1.
func SortOperational(entries []models.OperationalEntry) {
	slices.SortStableFunc(entries, compareEntries)
	for i := range entries {
		entries[i].Position = i + 1
	}
}

func compareEntries(a, b models.OperationalEntry) int {
	if c := preferTrue(a.Status == models.StatusCalled, b.Status == models.StatusCalled); c != 0 {
		return c
	}
	if c := preferTrue(a.Late, b.Late); c != 0 {
		return c
	}
	if c := preferTrue(!a.WalkIn(), !b.WalkIn()); c != 0 {
		return c
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

func preferTrue(a, b bool) int {
	switch {
	case a == b:
		return 0
	case a:
		return -1
	default:
		return 1
	}
}
