package queue

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"clinicdesk/queue-service/internal/models"
	"clinicdesk/queue-service/internal/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultMaxIssueAttempts = 5

var (
	auditFailures      = expvar.NewInt("queue_audit_failures_total")
	enrichmentDegraded = expvar.NewInt("queue_enrichment_degraded_total")
)

// SystemActor is used by automated flows such as the no-show sweeper.
var SystemActor = models.Actor{ID: "system", Role: models.RoleAdmin}

type Dependencies struct {
	Store        store.QueueItemStore
	Sequencer    TicketSequencer
	Patients     PatientDirectory
	Appointments AppointmentLookup
	Settings     ClinicSettings
	Audit        AuditSink
}

type Options struct {
	DefaultPrefix    string
	Location         *time.Location
	Clock            Clock
	Logger           *slog.Logger
	MaxIssueAttempts int
}

type Service struct {
	store        store.QueueItemStore
	issuer       *TicketIssuer
	patients     PatientDirectory
	appointments AppointmentLookup
	settings     ClinicSettings
	audit        AuditSink

	defaultPrefix    string
	location         *time.Location
	clock            Clock
	logger           *slog.Logger
	maxIssueAttempts int
	tracer           trace.Tracer
}

func NewService(deps Dependencies, options Options) *Service {
	sequencer := deps.Sequencer
	if sequencer == nil {
		sequencer = CountSequencer{Counter: deps.Store}
	}
	audit := deps.Audit
	if audit == nil {
		audit = discardAudit{}
	}
	prefix := strings.TrimSpace(options.DefaultPrefix)
	if prefix == "" {
		prefix = DefaultTicketPrefix
	}
	location := options.Location
	if location == nil {
		location = time.UTC
	}
	clock := options.Clock
	if clock == nil {
		clock = systemClock{}
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attempts := options.MaxIssueAttempts
	if attempts <= 0 {
		attempts = defaultMaxIssueAttempts
	}
	return &Service{
		store:            deps.Store,
		issuer:           NewTicketIssuer(sequencer),
		patients:         deps.Patients,
		appointments:     deps.Appointments,
		settings:         deps.Settings,
		audit:            audit,
		defaultPrefix:    prefix,
		location:         location,
		clock:            clock,
		logger:           logger,
		maxIssueAttempts: attempts,
		tracer:           otel.Tracer("clinicdesk/queue-service/queue"),
	}
}

type EnqueueInput struct {
	ClinicID      string
	PatientID     string
	AppointmentID *string
	DoctorID      *string
	Source        models.Source
	// Status is empty for the normal path. Anything other than WAITING is a
	// backfill and requires an admin actor.
	Status models.Status
}

func (s *Service) Enqueue(ctx context.Context, input EnqueueInput, actor models.Actor) (item models.QueueItem, err error) {
	ctx, span := s.tracer.Start(ctx, "queue.Enqueue", trace.WithAttributes(
		attribute.String("clinic.id", input.ClinicID),
		attribute.String("actor.role", string(actor.Role)),
	))
	defer endSpan(span, &err)

	input.ClinicID = strings.TrimSpace(input.ClinicID)
	input.PatientID = strings.TrimSpace(input.PatientID)
	if input.ClinicID == "" || input.PatientID == "" {
		return models.QueueItem{}, fmt.Errorf("%w: clinic_id and patient_id are required", ErrInvalidInput)
	}

	status := input.Status
	if status == "" {
		status = models.StatusWaiting
	}
	if !status.Valid() {
		return models.QueueItem{}, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, input.Status)
	}
	if status != models.StatusWaiting && !actor.IsAdmin() {
		return models.QueueItem{}, fmt.Errorf("%w: only an admin may enqueue with status %s", ErrUnauthorized, status)
	}

	source := input.Source
	if source == "" {
		source = models.SourceWalkIn
		if input.AppointmentID != nil {
			source = models.SourceCheckIn
		}
	}
	if !source.Valid() {
		return models.QueueItem{}, fmt.Errorf("%w: unknown source %q", ErrInvalidInput, input.Source)
	}

	now := s.clock.Now()
	day := now.In(s.clinicLocation(ctx, input.ClinicID)).Format(store.DayLayout)
	prefix := s.ticketPrefix(ctx, input.ClinicID)

	for attempt := 1; ; attempt++ {
		code, issueErr := s.issuer.Issue(ctx, input.ClinicID, prefix, day)
		if issueErr != nil {
			return models.QueueItem{}, issueErr
		}
		item, err = s.store.Insert(ctx, store.NewQueueItem{
			ClinicID:      input.ClinicID,
			TicketCode:    code,
			TicketDay:     day,
			AppointmentID: input.AppointmentID,
			PatientID:     input.PatientID,
			DoctorID:      input.DoctorID,
			Status:        status,
			Source:        source,
			CreatedAt:     now,
		})
		if err == nil {
			break
		}
		if errors.Is(err, store.ErrAppointmentQueued) {
			return models.QueueItem{}, fmt.Errorf("%w: %w", ErrConflict, err)
		}
		if !errors.Is(err, store.ErrDuplicateTicketCode) {
			return models.QueueItem{}, err
		}
		if attempt >= s.maxIssueAttempts {
			return models.QueueItem{}, fmt.Errorf("%w: %w", ErrTicketIssuance, err)
		}
		s.logger.WarnContext(ctx, "ticket code collision, retrying",
			"clinic_id", input.ClinicID, "ticket_code", code, "attempt", attempt)
	}

	s.emit(ctx, AuditEvent{
		Action:     AuditActionAdd,
		EntityType: AuditEntityQueueItem,
		EntityID:   item.ID,
		ClinicID:   item.ClinicID,
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Metadata: map[string]any{
			"patient_id":     item.PatientID,
			"doctor_id":      derefString(item.DoctorID),
			"appointment_id": derefString(item.AppointmentID),
			"ticket_code":    item.TicketCode,
			"source":         item.Source,
			"status":         item.Status,
		},
		OccurredAt: now,
	})
	return item, nil
}

type AppointmentInput struct {
	ClinicID      string
	AppointmentID string
	PatientID     string
	DoctorID      *string
	Start         time.Time
}

// EnqueueForAppointment adds a freshly booked appointment to today's queue.
// It reports false without side effects when the appointment falls on
// another clinic-local day or already has a queue item today. In the latter
// case the existing item is returned, even when it is CANCELED or NO_SHOW.
func (s *Service) EnqueueForAppointment(ctx context.Context, input AppointmentInput, actor models.Actor) (models.QueueItem, bool, error) {
	if strings.TrimSpace(input.AppointmentID) == "" {
		return models.QueueItem{}, false, fmt.Errorf("%w: appointment_id is required", ErrInvalidInput)
	}
	location := s.clinicLocation(ctx, input.ClinicID)
	today := s.clock.Now().In(location).Format(store.DayLayout)
	if input.Start.In(location).Format(store.DayLayout) != today {
		return models.QueueItem{}, false, nil
	}

	existing, found, err := s.appointmentItem(ctx, input.ClinicID, today, input.AppointmentID)
	if err != nil {
		return models.QueueItem{}, false, err
	}
	if found {
		return existing, false, nil
	}

	appointmentID := input.AppointmentID
	item, err := s.Enqueue(ctx, EnqueueInput{
		ClinicID:      input.ClinicID,
		PatientID:     input.PatientID,
		AppointmentID: &appointmentID,
		DoctorID:      input.DoctorID,
		Source:        models.SourceAutoAppointment,
	}, actor)
	if errors.Is(err, store.ErrAppointmentQueued) {
		// Another caller inserted between the lookup and our insert.
		existing, found, lookupErr := s.appointmentItem(ctx, input.ClinicID, today, input.AppointmentID)
		if lookupErr != nil {
			return models.QueueItem{}, false, lookupErr
		}
		if found {
			return existing, false, nil
		}
	}
	if err != nil {
		return models.QueueItem{}, false, err
	}
	return item, true, nil
}

// appointmentItem finds the queue item already issued for the appointment on
// day, whatever its status.
func (s *Service) appointmentItem(ctx context.Context, clinicID, day, appointmentID string) (models.QueueItem, bool, error) {
	items, err := s.store.List(ctx, store.ListFilter{
		ClinicID:      clinicID,
		Day:           day,
		AppointmentID: appointmentID,
	})
	if err != nil || len(items) == 0 {
		return models.QueueItem{}, false, err
	}
	return items[0], true, nil
}

type TransitionInput struct {
	ClinicID string
	ID       string
	Status   models.Status
}

// Transition is the only path that changes an item's status. A failed call
// leaves the persisted item untouched.
func (s *Service) Transition(ctx context.Context, input TransitionInput, actor models.Actor) (item models.QueueItem, err error) {
	ctx, span := s.tracer.Start(ctx, "queue.Transition", trace.WithAttributes(
		attribute.String("clinic.id", input.ClinicID),
		attribute.String("queue_item.id", input.ID),
		attribute.String("queue_item.to", string(input.Status)),
		attribute.String("actor.role", string(actor.Role)),
	))
	defer endSpan(span, &err)

	if !input.Status.Valid() {
		return models.QueueItem{}, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, input.Status)
	}

	current, err := s.store.FindByID(ctx, input.ClinicID, input.ID)
	if err != nil {
		return models.QueueItem{}, translateStoreError(err)
	}
	if err = ValidateTransition(current.Status, input.Status); err != nil {
		return models.QueueItem{}, err
	}
	if err = AuthorizeTransition(current, input.Status, actor); err != nil {
		return models.QueueItem{}, err
	}

	now := s.clock.Now()
	item, err = s.store.UpdateStatus(ctx, store.UpdateStatusInput{
		ClinicID:  input.ClinicID,
		ID:        input.ID,
		Expected:  current.Status,
		Status:    input.Status,
		UpdatedAt: now,
	})
	if err != nil {
		return models.QueueItem{}, translateStoreError(err)
	}

	s.emit(ctx, AuditEvent{
		Action:     AuditActionStatusChange,
		EntityType: AuditEntityQueueItem,
		EntityID:   item.ID,
		ClinicID:   item.ClinicID,
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Metadata: map[string]any{
			"from":        current.Status,
			"to":          item.Status,
			"patient_id":  item.PatientID,
			"doctor_id":   derefString(item.DoctorID),
			"ticket_code": item.TicketCode,
			"actor_role":  actor.Role,
		},
		OccurredAt: now,
	})
	return item, nil
}

func (s *Service) Get(ctx context.Context, clinicID, id string) (models.QueueItem, error) {
	item, err := s.store.FindByID(ctx, clinicID, id)
	if err != nil {
		return models.QueueItem{}, translateStoreError(err)
	}
	return item, nil
}

func (s *Service) List(ctx context.Context, filter store.ListFilter) ([]models.QueueItem, error) {
	if strings.TrimSpace(filter.ClinicID) == "" {
		return nil, fmt.Errorf("%w: clinic_id is required", ErrInvalidInput)
	}
	return s.store.List(ctx, filter)
}

// ticketPrefix never fails; a broken or empty settings lookup falls back to
// the configured default.
func (s *Service) ticketPrefix(ctx context.Context, clinicID string) string {
	if s.settings == nil {
		return s.defaultPrefix
	}
	prefix, err := s.settings.QueuePrefix(ctx, clinicID)
	if err != nil {
		s.logger.WarnContext(ctx, "queue prefix lookup failed, using default",
			"clinic_id", clinicID, "default_prefix", s.defaultPrefix, "error", err)
		return s.defaultPrefix
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return s.defaultPrefix
	}
	return prefix
}

func (s *Service) clinicLocation(ctx context.Context, clinicID string) *time.Location {
	resolver, ok := s.settings.(LocationResolver)
	if !ok {
		return s.location
	}
	location, err := resolver.Location(ctx, clinicID)
	if err != nil || location == nil {
		if err != nil {
			s.logger.WarnContext(ctx, "clinic timezone lookup failed", "clinic_id", clinicID, "error", err)
		}
		return s.location
	}
	return location
}

func (s *Service) emit(ctx context.Context, event AuditEvent) {
	if err := s.audit.Record(ctx, event); err != nil {
		auditFailures.Add(1)
		s.logger.WarnContext(ctx, "audit emission failed",
			"action", event.Action, "entity_id", event.EntityID, "clinic_id", event.ClinicID, "error", err)
	}
}

func translateStoreError(err error) error {
	switch {
	case errors.Is(err, store.ErrItemNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, store.ErrStatusMismatch):
		return fmt.Errorf("%w: %w", ErrConflict, err)
	default:
		return err
	}
}

func endSpan(span trace.Span, err *error) {
	if *err != nil {
		span.RecordError(*err)
		span.SetStatus(codes.Error, (*err).Error())
	}
	span.End()
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
