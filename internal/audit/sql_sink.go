package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"clinicdesk/queue-service/internal/queue"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// SQLSink appends audit events to queue_audit_events, chaining each row to
// the previous row of the same entity.
type SQLSink struct {
	db *sql.DB
}

func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(15 * time.Minute)
	return db, nil
}

func NewSQLSink(db *sql.DB) *SQLSink {
	return &SQLSink{db: db}
}

func (s *SQLSink) Record(ctx context.Context, event queue.AuditEvent) (err error) {
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return err
	}
	occurredAt := event.OccurredAt.UTC()
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	// timestamptz keeps microseconds; hash what will be read back.
	occurredAt = occurredAt.Truncate(time.Microsecond)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, event.EntityID); err != nil {
		return err
	}

	var lastSeq int
	var prevHash sql.NullString
	row := tx.QueryRowContext(ctx, `
		SELECT entity_seq, hash
		FROM queue_audit_events
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY entity_seq DESC
		LIMIT 1
	`, event.EntityType, event.EntityID)
	if err = row.Scan(&lastSeq, &prevHash); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	seq := lastSeq + 1
	hash := ComputeHash(prevHash.String, event.EntityID, event.Action, metadata, occurredAt, seq)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO queue_audit_events (
			event_id, clinic_id, entity_type, entity_id, entity_seq, action,
			actor_id, actor_role, metadata, occurred_at, prev_hash, hash
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, uuid.NewString(), event.ClinicID, event.EntityType, event.EntityID, seq, event.Action,
		event.ActorID, string(event.ActorRole), string(metadata), occurredAt, prevHash.String, hash)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// History returns the chain for one entity of the clinic, oldest first.
func (s *SQLSink) History(ctx context.Context, clinicID, entityType, entityID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, clinic_id, entity_type, entity_id, entity_seq, action,
			COALESCE(actor_id, ''), COALESCE(actor_role, ''), metadata, occurred_at, prev_hash, hash
		FROM queue_audit_events
		WHERE clinic_id = $1 AND entity_type = $2 AND entity_id = $3
		ORDER BY entity_seq ASC
	`, clinicID, entityType, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		var metadata []byte
		if err := rows.Scan(&entry.EventID, &entry.ClinicID, &entry.EntityType, &entry.EntityID, &entry.Seq, &entry.Action,
			&entry.ActorID, &entry.ActorRole, &metadata, &entry.OccurredAt, &entry.PrevHash, &entry.Hash); err != nil {
			return nil, err
		}
		entry.Metadata = json.RawMessage(metadata)
		entry.OccurredAt = entry.OccurredAt.UTC()
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
