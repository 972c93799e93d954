package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Directory reads the clinic records owned by the surrounding application:
// patient names, appointment start times and clinic queue settings.
// Every lookup is scoped to the clinic; a record owned by another clinic
// reads as missing.
type Directory struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

func NewDirectory(pool *pgxpool.Pool, options Options) *Directory {
	timeout := options.StatementTimeout
	if timeout <= 0 {
		timeout = defaultStatementWindow
	}
	return &Directory{pool: pool, timeout: timeout}
}

func (d *Directory) ResolveName(ctx context.Context, clinicID, patientID string) (string, error) {
	ctx, cancel := withTimeout(ctx, d.timeout)
	defer cancel()

	var name string
	row := d.pool.QueryRow(ctx, `SELECT full_name FROM patients WHERE patient_id = $1 AND clinic_id = $2`, patientID, clinicID)
	if err := row.Scan(&name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("patient %s not found in clinic %s", patientID, clinicID)
		}
		return "", err
	}
	return name, nil
}

func (d *Directory) StartTime(ctx context.Context, clinicID, appointmentID string) (time.Time, bool, error) {
	ctx, cancel := withTimeout(ctx, d.timeout)
	defer cancel()

	var start time.Time
	row := d.pool.QueryRow(ctx, `SELECT starts_at FROM appointments WHERE appointment_id = $1 AND clinic_id = $2`, appointmentID, clinicID)
	if err := row.Scan(&start); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	return start.UTC(), true, nil
}

// QueuePrefix returns an empty prefix for clinics without a settings row.
func (d *Directory) QueuePrefix(ctx context.Context, clinicID string) (string, error) {
	prefix, _, err := d.clinicSettings(ctx, clinicID)
	return prefix, err
}

// Location returns nil for clinics without a settings row.
func (d *Directory) Location(ctx context.Context, clinicID string) (*time.Location, error) {
	_, timezone, err := d.clinicSettings(ctx, clinicID)
	if err != nil || timezone == "" {
		return nil, err
	}
	return time.LoadLocation(timezone)
}

func (d *Directory) clinicSettings(ctx context.Context, clinicID string) (string, string, error) {
	ctx, cancel := withTimeout(ctx, d.timeout)
	defer cancel()

	var prefix, timezone string
	row := d.pool.QueryRow(ctx, `SELECT queue_prefix, timezone FROM clinic_settings WHERE clinic_id = $1`, clinicID)
	if err := row.Scan(&prefix, &timezone); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", "", nil
		}
		return "", "", err
	}
	return prefix, timezone, nil
}
