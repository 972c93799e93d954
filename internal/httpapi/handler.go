package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"clinicdesk/queue-service/internal/audit"
	"clinicdesk/queue-service/internal/models"
	"clinicdesk/queue-service/internal/queue"
	"clinicdesk/queue-service/internal/store"

	"github.com/google/uuid"
)

// QueueService is the part of queue.Service the HTTP adapter drives.
type QueueService interface {
	Enqueue(ctx context.Context, input queue.EnqueueInput, actor models.Actor) (models.QueueItem, error)
	EnqueueForAppointment(ctx context.Context, input queue.AppointmentInput, actor models.Actor) (models.QueueItem, bool, error)
	Transition(ctx context.Context, input queue.TransitionInput, actor models.Actor) (models.QueueItem, error)
	Get(ctx context.Context, clinicID, id string) (models.QueueItem, error)
	List(ctx context.Context, filter store.ListFilter) ([]models.QueueItem, error)
	OperationalQueue(ctx context.Context, clinicID, doctorID string) ([]models.OperationalEntry, error)
	DisplayBoard(ctx context.Context, clinicID string) ([]models.DisplayEntry, error)
}

// AuditHistory reads the persisted audit chain of one entity.
type AuditHistory interface {
	History(ctx context.Context, clinicID, entityType, entityID string) ([]audit.Entry, error)
}

type Handler struct {
	service QueueService
	history AuditHistory
	health  func(context.Context) error
	logger  *slog.Logger
}

type Options struct {
	// Health is probed by /healthz; nil means always healthy.
	Health  func(context.Context) error
	// History serves /api/queue-items/{id}/history; nil disables the route.
	History AuditHistory
	Logger  *slog.Logger
}

type enqueueRequest struct {
	ClinicID      string `json:"clinic_id"`
	PatientID     string `json:"patient_id"`
	AppointmentID string `json:"appointment_id"`
	DoctorID      string `json:"doctor_id"`
	Source        string `json:"source"`
	Status        string `json:"status"`
}

type appointmentEnqueueRequest struct {
	ClinicID      string    `json:"clinic_id"`
	AppointmentID string    `json:"appointment_id"`
	PatientID     string    `json:"patient_id"`
	DoctorID      string    `json:"doctor_id"`
	StartsAt      time.Time `json:"starts_at"`
}

type transitionRequest struct {
	ClinicID string `json:"clinic_id"`
	Status   string `json:"status"`
}

const (
	skipReasonAlreadyQueued = "already_queued"
	skipReasonNotToday      = "not_today"
)

type appointmentEnqueueResponse struct {
	Enqueued bool              `json:"enqueued"`
	// Reason is set when nothing was enqueued. An already queued item is
	// returned as is, even when it was canceled or marked no-show.
	Reason   string            `json:"reason,omitempty"`
	Item     *models.QueueItem `json:"item,omitempty"`
}

type queueItemResponse struct {
	models.QueueItem
	AllowedNext []models.Status `json:"allowed_next"`
}

type historyResponse struct {
	Entries    []audit.Entry `json:"entries"`
	ChainValid bool          `json:"chain_valid"`
	ChainError string        `json:"chain_error,omitempty"`
}

type errorResponse struct {
	RequestID string        `json:"request_id,omitempty"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

func NewHandler(service QueueService, options Options) *Handler {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, history: options.History, health: options.Health, logger: logger}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.Handle("/metrics", expvar.Handler())
	mux.HandleFunc("/api/queue-items", h.handleQueueItems)
	mux.HandleFunc("/api/queue-items/appointments", h.handleAppointmentEnqueue)
	mux.HandleFunc("/api/queue-items/", h.handleQueueItem)
	mux.HandleFunc("/api/operational-queue", h.handleOperationalQueue)
	mux.HandleFunc("/api/display", h.handleDisplay)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			h.logger.WarnContext(r.Context(), "health check failed", "error", err)
			writeError(w, requestIDFromRequest(r), http.StatusServiceUnavailable, "unavailable", "store unavailable")
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleQueueItems(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleEnqueue(w, r)
	case http.MethodGet:
		h.handleList(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	actor, clinicID, ok := requireClinic(w, r, req.ClinicID)
	if !ok {
		return
	}

	req.PatientID = strings.TrimSpace(req.PatientID)
	if req.PatientID == "" || !isValidUUID(req.PatientID) {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "patient_id must be a UUID")
		return
	}
	appointmentID, ok := optionalUUID(w, r, "appointment_id", req.AppointmentID)
	if !ok {
		return
	}
	doctorID, ok := optionalUUID(w, r, "doctor_id", req.DoctorID)
	if !ok {
		return
	}

	input := queue.EnqueueInput{
		ClinicID:      clinicID,
		PatientID:     req.PatientID,
		AppointmentID: appointmentID,
		DoctorID:      doctorID,
		Source:        models.Source(strings.ToUpper(strings.TrimSpace(req.Source))),
	}
	if raw := strings.TrimSpace(req.Status); raw != "" {
		status, err := models.ParseStatus(raw)
		if err != nil {
			writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		input.Status = status
	}

	item, err := h.service.Enqueue(r.Context(), input, actor)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (h *Handler) handleAppointmentEnqueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req appointmentEnqueueRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	actor, clinicID, ok := requireClinic(w, r, req.ClinicID)
	if !ok {
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	req.PatientID = strings.TrimSpace(req.PatientID)
	if !isValidUUID(req.AppointmentID) || !isValidUUID(req.PatientID) {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "appointment_id and patient_id must be UUIDs")
		return
	}
	if req.StartsAt.IsZero() {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "starts_at is required")
		return
	}
	doctorID, ok := optionalUUID(w, r, "doctor_id", req.DoctorID)
	if !ok {
		return
	}

	item, enqueued, err := h.service.EnqueueForAppointment(r.Context(), queue.AppointmentInput{
		ClinicID:      clinicID,
		AppointmentID: req.AppointmentID,
		PatientID:     req.PatientID,
		DoctorID:      doctorID,
		Start:         req.StartsAt,
	}, actor)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	resp := appointmentEnqueueResponse{Enqueued: enqueued}
	if item.ID != "" {
		resp.Item = &item
	}
	if !enqueued {
		resp.Reason = skipReasonNotToday
		if item.ID != "" {
			resp.Reason = skipReasonAlreadyQueued
		}
	}
	status := http.StatusOK
	if enqueued {
		status = http.StatusCreated
	}
	writeJSON(w, status, resp)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	_, clinicID, ok := requireClinic(w, r, query.Get("clinic_id"))
	if !ok {
		return
	}
	filter := store.ListFilter{ClinicID: clinicID}
	if doctorID := strings.TrimSpace(query.Get("doctor_id")); doctorID != "" {
		if !isValidUUID(doctorID) {
			writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "doctor_id must be a UUID")
			return
		}
		filter.DoctorID = doctorID
	}
	for _, raw := range query["status"] {
		for _, part := range strings.Split(raw, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			status, err := models.ParseStatus(part)
			if err != nil {
				writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", err.Error())
				return
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}

	items, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if items == nil {
		items = []models.QueueItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) handleQueueItem(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/queue-items/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	itemID := parts[0]
	if !isValidUUID(itemID) {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "queue item id must be a UUID")
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		h.handleGet(w, r, itemID)
	case len(parts) == 2 && parts[1] == "transition" && r.Method == http.MethodPost:
		h.handleTransition(w, r, itemID)
	case len(parts) == 2 && parts[1] == "history" && r.Method == http.MethodGet:
		h.handleHistory(w, r, itemID)
	case len(parts) <= 2:
		w.WriteHeader(http.StatusMethodNotAllowed)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request, itemID string) {
	_, clinicID, ok := requireClinic(w, r, r.URL.Query().Get("clinic_id"))
	if !ok {
		return
	}
	item, err := h.service.Get(r.Context(), clinicID, itemID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, queueItemResponse{QueueItem: item, AllowedNext: queue.NextStatuses(item.Status)})
}

// handleHistory returns the item's audit chain and whether it still verifies.
// Admins only.
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request, itemID string) {
	actor, clinicID, ok := requireClinic(w, r, r.URL.Query().Get("clinic_id"))
	if !ok {
		return
	}
	if !actor.IsAdmin() {
		writeError(w, requestIDFromRequest(r), http.StatusForbidden, "access_denied", "audit history requires an admin")
		return
	}
	if h.history == nil {
		writeError(w, requestIDFromRequest(r), http.StatusNotImplemented, "history_unavailable", "audit history is not persisted by this deployment")
		return
	}
	if _, err := h.service.Get(r.Context(), clinicID, itemID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	entries, err := h.history.History(r.Context(), clinicID, queue.AuditEntityQueueItem, itemID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	resp := historyResponse{Entries: entries, ChainValid: true}
	if resp.Entries == nil {
		resp.Entries = []audit.Entry{}
	}
	if err := audit.VerifyChain(entries); err != nil {
		h.logger.WarnContext(r.Context(), "audit chain verification failed", "queue_item_id", itemID, "clinic_id", clinicID, "error", err)
		resp.ChainValid = false
		resp.ChainError = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request, itemID string) {
	var req transitionRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	actor, clinicID, ok := requireClinic(w, r, req.ClinicID)
	if !ok {
		return
	}
	status, err := models.ParseStatus(req.Status)
	if err != nil {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	item, err := h.service.Transition(r.Context(), queue.TransitionInput{
		ClinicID: clinicID,
		ID:       itemID,
		Status:   status,
	}, actor)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) handleOperationalQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	query := r.URL.Query()
	_, clinicID, ok := requireClinic(w, r, query.Get("clinic_id"))
	if !ok {
		return
	}
	doctorID := strings.TrimSpace(query.Get("doctor_id"))
	if doctorID != "" && !isValidUUID(doctorID) {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "doctor_id must be a UUID")
		return
	}

	entries, err := h.service.OperationalQueue(r.Context(), clinicID, doctorID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleDisplay serves the waiting-room screen and needs no token.
func (h *Handler) handleDisplay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	clinicID := strings.TrimSpace(r.URL.Query().Get("clinic_id"))
	if !isValidUUID(clinicID) {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "clinic_id must be a UUID")
		return
	}
	board, err := h.service.DisplayBoard(r.Context(), clinicID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := mapError(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
	}
	resp := errorResponse{
		RequestID: requestIDFromRequest(r),
		Error:     responseError{Code: code, Message: message},
	}
	if errors.Is(err, queue.ErrInvalidTransition) {
		resp.Error.Hint = "transição inválida"
	}
	writeJSON(w, status, resp)
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, queue.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_request", err.Error()
	case errors.Is(err, queue.ErrNotFound):
		return http.StatusNotFound, "not_found", "queue item not found"
	case errors.Is(err, queue.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition", err.Error()
	case errors.Is(err, queue.ErrUnauthorized):
		return http.StatusForbidden, "unauthorized", err.Error()
	case errors.Is(err, store.ErrAppointmentQueued):
		return http.StatusConflict, "appointment_queued", "appointment already has a queue item today"
	case errors.Is(err, queue.ErrConflict):
		return http.StatusConflict, "conflict", "queue item was modified by another request, reload and retry"
	case errors.Is(err, queue.ErrTicketIssuance):
		return http.StatusServiceUnavailable, "ticket_issuance_failed", "could not issue a ticket number, try again"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func decodeRequest(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

func optionalUUID(w http.ResponseWriter, r *http.Request, field, raw string) (*string, bool) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, true
	}
	if !isValidUUID(value) {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", field+" must be a UUID when provided")
		return nil, false
	}
	return &value, true
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
