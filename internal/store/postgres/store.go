package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"clinicdesk/queue-service/internal/models"
	"clinicdesk/queue-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	uniqueViolation        = "23505"
	ticketCodeConstraint   = "queue_items_ticket_code_key"
	appointmentDayIndex    = "queue_items_appointment_day_key"
	queueItemColumns       = `queue_item_id, clinic_id, ticket_code, ticket_day, appointment_id, patient_id, doctor_id, status, source, created_at, updated_at`
	defaultStatementWindow = 5 * time.Second
)

type Store struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

type Options struct {
	// StatementTimeout bounds every store call that arrives without its own
	// deadline.
	StatementTimeout time.Duration
}

func NewStore(pool *pgxpool.Pool, options Options) *Store {
	timeout := options.StatementTimeout
	if timeout <= 0 {
		timeout = defaultStatementWindow
	}
	return &Store{pool: pool, timeout: timeout}
}

func (s *Store) Insert(ctx context.Context, input store.NewQueueItem) (models.QueueItem, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO queue_items (
			queue_item_id, clinic_id, ticket_code, ticket_day, appointment_id, patient_id,
			doctor_id, status, source, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)
		RETURNING `+queueItemColumns,
		uuid.NewString(), input.ClinicID, input.TicketCode, input.TicketDay, input.AppointmentID,
		input.PatientID, input.DoctorID, input.Status, input.Source, createdAt)

	item, err := scanQueueItem(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			switch pgErr.ConstraintName {
			case ticketCodeConstraint:
				return models.QueueItem{}, fmt.Errorf("%w: %s", store.ErrDuplicateTicketCode, input.TicketCode)
			case appointmentDayIndex:
				return models.QueueItem{}, fmt.Errorf("%w: %s", store.ErrAppointmentQueued, derefString(input.AppointmentID))
			}
		}
		return models.QueueItem{}, err
	}
	return item, nil
}

func (s *Store) FindByID(ctx context.Context, clinicID, id string) (models.QueueItem, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	row := s.pool.QueryRow(ctx, `
		SELECT `+queueItemColumns+`
		FROM queue_items
		WHERE queue_item_id = $1 AND clinic_id = $2
	`, id, clinicID)
	item, err := scanQueueItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.QueueItem{}, store.ErrItemNotFound
		}
		return models.QueueItem{}, err
	}
	return item, nil
}

func (s *Store) List(ctx context.Context, filter store.ListFilter) ([]models.QueueItem, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query, args := buildListQuery(filter)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func buildListQuery(filter store.ListFilter) (string, []interface{}) {
	query := `
		SELECT ` + queueItemColumns + `
		FROM queue_items
		WHERE clinic_id = $1`
	args := []interface{}{filter.ClinicID}
	next := func(value interface{}) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.DoctorID != "" {
		if filter.IncludeUnassigned {
			query += " AND (doctor_id = " + next(filter.DoctorID) + " OR doctor_id IS NULL)"
		} else {
			query += " AND doctor_id = " + next(filter.DoctorID)
		}
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, status := range filter.Statuses {
			statuses = append(statuses, string(status))
		}
		query += " AND status = ANY(" + next(statuses) + ")"
	}
	if filter.Day != "" {
		query += " AND ticket_day = " + next(filter.Day)
	}
	if filter.AppointmentID != "" {
		query += " AND appointment_id = " + next(filter.AppointmentID)
	}
	query += " ORDER BY created_at ASC, queue_item_id ASC"
	return query, args
}

func (s *Store) CountForDay(ctx context.Context, clinicID, day string) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var count int
	row := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM queue_items WHERE clinic_id = $1 AND ticket_day = $2
	`, clinicID, day)
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// UpdateStatus only writes when the row still holds input.Expected, so two
// callers racing from the same state cannot both win.
func (s *Store) UpdateStatus(ctx context.Context, input store.UpdateStatusInput) (models.QueueItem, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.QueueItem{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	updatedAt := input.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	row := tx.QueryRow(ctx, `
		UPDATE queue_items
		SET status = $4, updated_at = $5
		WHERE queue_item_id = $1 AND clinic_id = $2 AND status = $3
		RETURNING `+queueItemColumns,
		input.ID, input.ClinicID, input.Expected, input.Status, updatedAt)
	item, err := scanQueueItem(row)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return models.QueueItem{}, err
		}
		var current models.Status
		var found bool
		current, found, err = loadItemStatus(ctx, tx, input.ClinicID, input.ID)
		if err != nil {
			return models.QueueItem{}, err
		}
		if !found {
			err = store.ErrItemNotFound
			return models.QueueItem{}, err
		}
		err = fmt.Errorf("%w: expected %s, found %s", store.ErrStatusMismatch, input.Expected, current)
		return models.QueueItem{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.QueueItem{}, err
	}
	return item, nil
}

func (s *Store) ListStale(ctx context.Context, status models.Status, before time.Time, limit int) ([]models.QueueItem, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+queueItemColumns+`
		FROM queue_items
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3
	`, status, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// NextTicketSequence atomically bumps the clinic's counter for day.
func (s *Store) NextTicketSequence(ctx context.Context, clinicID, day string) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var next int64
	row := s.pool.QueryRow(ctx, `
		INSERT INTO queue_ticket_sequences (clinic_id, ticket_day, next_number)
		VALUES ($1, $2, 1)
		ON CONFLICT (clinic_id, ticket_day)
		DO UPDATE SET next_number = queue_ticket_sequences.next_number + 1
		RETURNING next_number
	`, clinicID, day)
	if err := row.Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.pool.Ping(ctx)
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return withTimeout(ctx, s.timeout)
}

// withTimeout bounds ctx by timeout unless the caller already set a deadline.
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

func loadItemStatus(ctx context.Context, tx pgx.Tx, clinicID, id string) (models.Status, bool, error) {
	var status string
	row := tx.QueryRow(ctx, `
		SELECT status FROM queue_items WHERE queue_item_id = $1 AND clinic_id = $2
	`, id, clinicID)
	if err := row.Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return models.Status(status), true, nil
}

func scanQueueItem(row pgx.Row) (models.QueueItem, error) {
	var item models.QueueItem
	var appointmentID sql.NullString
	var doctorID sql.NullString
	var status, source string
	if err := row.Scan(&item.ID, &item.ClinicID, &item.TicketCode, &item.TicketDay, &appointmentID, &item.PatientID,
		&doctorID, &status, &source, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return models.QueueItem{}, err
	}
	item.AppointmentID = nullStringPtr(appointmentID)
	item.DoctorID = nullStringPtr(doctorID)
	item.Status = models.Status(strings.ToUpper(status))
	item.Source = models.Source(source)
	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()
	return item, nil
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	return &value.String
}
