package postgres

import (
	"strings"
	"testing"

	"clinicdesk/queue-service/internal/models"
	"clinicdesk/queue-service/internal/store"
)

func TestBuildListQueryClinicOnly(t *testing.T) {
	query, args := buildListQuery(store.ListFilter{ClinicID: "c1"})
	if len(args) != 1 || args[0] != "c1" {
		t.Fatalf("unexpected args %v", args)
	}
	if strings.Contains(query, "doctor_id") || strings.Contains(query, "status = ANY") {
		t.Fatalf("unexpected filters in %q", query)
	}
	if !strings.HasSuffix(query, "ORDER BY created_at ASC, queue_item_id ASC") {
		t.Fatalf("expected deterministic ordering, got %q", query)
	}
}

func TestBuildListQueryDoctorWithGeneralQueue(t *testing.T) {
	query, args := buildListQuery(store.ListFilter{
		ClinicID:          "c1",
		DoctorID:          "d1",
		IncludeUnassigned: true,
		Statuses:          []models.Status{models.StatusWaiting, models.StatusCalled},
	})
	if !strings.Contains(query, "(doctor_id = $2 OR doctor_id IS NULL)") {
		t.Fatalf("missing doctor clause in %q", query)
	}
	if !strings.Contains(query, "status = ANY($3)") {
		t.Fatalf("missing status clause in %q", query)
	}
	statuses, ok := args[2].([]string)
	if !ok || len(statuses) != 2 || statuses[0] != "WAITING" {
		t.Fatalf("unexpected status arg %v", args[2])
	}
}

func TestBuildListQueryAppointmentForDay(t *testing.T) {
	query, args := buildListQuery(store.ListFilter{ClinicID: "c1", DoctorID: "d1", Day: "2026-03-02", AppointmentID: "a1"})
	if !strings.Contains(query, "AND doctor_id = $2") || strings.Contains(query, "IS NULL") {
		t.Fatalf("unexpected doctor clause in %q", query)
	}
	if !strings.Contains(query, "ticket_day = $3") || !strings.Contains(query, "appointment_id = $4") {
		t.Fatalf("missing day/appointment clauses in %q", query)
	}
	if len(args) != 4 {
		t.Fatalf("expected 4 args, got %d", len(args))
	}
}
