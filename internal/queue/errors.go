package queue

import (
	"errors"
	"fmt"

	"clinicdesk/queue-service/internal/models"
)

var (
	ErrNotFound          = errors.New("queue item not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrTicketIssuance    = errors.New("ticket issuance failed")
	ErrConflict          = errors.New("queue item was modified concurrently")
	ErrInvalidInput      = errors.New("invalid input")
)

// TransitionError names the rejected edge. It matches ErrInvalidTransition
// under errors.Is.
type TransitionError struct {
	From models.Status
	To   models.Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
