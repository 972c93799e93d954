package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"clinicdesk/queue-service/internal/models"
	"clinicdesk/queue-service/internal/queue"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var occurredAt = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func statusChange() queue.AuditEvent {
	return queue.AuditEvent{
		Action:     queue.AuditActionStatusChange,
		EntityType: queue.AuditEntityQueueItem,
		EntityID:   "item-1",
		ClinicID:   "clinic-1",
		ActorID:    "doctor-1",
		ActorRole:  models.RoleDoctor,
		Metadata:   map[string]any{"from": "CALLED", "to": "IN_SERVICE"},
		OccurredAt: occurredAt,
	}
}

func TestSQLSinkChainsOntoPreviousEvent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	event := statusChange()
	metadata, err := json.Marshal(event.Metadata)
	require.NoError(t, err)
	wantHash := ComputeHash("prev-hash", "item-1", queue.AuditActionStatusChange, metadata, occurredAt, 3)

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WithArgs("item-1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT entity_seq, hash").
		WithArgs(queue.AuditEntityQueueItem, "item-1").
		WillReturnRows(sqlmock.NewRows([]string{"entity_seq", "hash"}).AddRow(2, "prev-hash"))
	mock.ExpectExec("INSERT INTO queue_audit_events").
		WithArgs(sqlmock.AnyArg(), "clinic-1", queue.AuditEntityQueueItem, "item-1", 3, queue.AuditActionStatusChange,
			"doctor-1", "DOCTOR", string(metadata), occurredAt, "prev-hash", wantHash).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err = NewSQLSink(db).Record(context.Background(), event)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLSinkStartsChain(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT entity_seq, hash").WillReturnRows(sqlmock.NewRows([]string{"entity_seq", "hash"}))
	mock.ExpectExec("INSERT INTO queue_audit_events").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), 1, sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	assert.NoError(t, NewSQLSink(db).Record(context.Background(), statusChange()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLSinkRollsBackOnInsertFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT entity_seq, hash").WillReturnRows(sqlmock.NewRows([]string{"entity_seq", "hash"}))
	mock.ExpectExec("INSERT INTO queue_audit_events").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err = NewSQLSink(db).Record(context.Background(), statusChange())
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLSinkHashesStoredPrecision(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	event := statusChange()
	event.OccurredAt = occurredAt.Add(1234567 * time.Nanosecond)
	stored := occurredAt.Add(1234 * time.Microsecond)
	metadata, err := json.Marshal(event.Metadata)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT entity_seq, hash").WillReturnRows(sqlmock.NewRows([]string{"entity_seq", "hash"}))
	mock.ExpectExec("INSERT INTO queue_audit_events").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), 1, sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), stored, "",
			ComputeHash("", "item-1", queue.AuditActionStatusChange, metadata, stored, 1)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	assert.NoError(t, NewSQLSink(db).Record(context.Background(), event))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLSinkHistoryReturnsVerifiableChain(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	addMeta := `{"ticket_code":"A001"}`
	changeMeta := `{"from":"WAITING","to":"CALLED"}`
	firstHash := ComputeHash("", "item-1", queue.AuditActionAdd, json.RawMessage(addMeta), occurredAt, 1)
	secondHash := ComputeHash(firstHash, "item-1", queue.AuditActionStatusChange, json.RawMessage(changeMeta), occurredAt.Add(time.Minute), 2)
	columns := []string{"event_id", "clinic_id", "entity_type", "entity_id", "entity_seq", "action",
		"actor_id", "actor_role", "metadata", "occurred_at", "prev_hash", "hash"}

	mock.ExpectQuery("FROM queue_audit_events").
		WithArgs("clinic-1", queue.AuditEntityQueueItem, "item-1").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("e1", "clinic-1", queue.AuditEntityQueueItem, "item-1", 1, queue.AuditActionAdd,
				"sec-1", "SECRETARY", []byte(addMeta), occurredAt, "", firstHash).
			AddRow("e2", "clinic-1", queue.AuditEntityQueueItem, "item-1", 2, queue.AuditActionStatusChange,
				"sec-1", "SECRETARY", []byte(changeMeta), occurredAt.Add(time.Minute), firstHash, secondHash))

	entries, err := NewSQLSink(db).History(context.Background(), "clinic-1", queue.AuditEntityQueueItem, "item-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "e1", entries[0].EventID)
	assert.Equal(t, 2, entries[1].Seq)
	assert.JSONEq(t, changeMeta, string(entries[1].Metadata))
	assert.NoError(t, VerifyChain(entries))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVerifyChain(t *testing.T) {
	first := Entry{EventID: "e1", EntityID: "item-1", Seq: 1, Action: "ADD", Metadata: json.RawMessage(`{"ticket_code":"A001"}`), OccurredAt: occurredAt}
	first.Hash = ComputeHash("", first.EntityID, first.Action, first.Metadata, first.OccurredAt, 1)
	second := Entry{EventID: "e2", EntityID: "item-1", Seq: 2, Action: "STATUS_CHANGE", Metadata: json.RawMessage(`{"to":"CALLED"}`), OccurredAt: occurredAt.Add(time.Minute), PrevHash: first.Hash}
	second.Hash = ComputeHash(first.Hash, second.EntityID, second.Action, second.Metadata, second.OccurredAt, 2)

	require.NoError(t, VerifyChain([]Entry{first, second}))

	tampered := second
	tampered.Metadata = json.RawMessage(`{"to":"DONE"}`)
	assert.Error(t, VerifyChain([]Entry{first, tampered}))

	assert.Error(t, VerifyChain([]Entry{second}))
}

func TestLogSinkNeverFails(t *testing.T) {
	assert.NoError(t, NewLogSink(nil).Record(context.Background(), statusChange()))
}
