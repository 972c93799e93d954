package store

import "errors"

var (
	ErrItemNotFound        = errors.New("queue item not found")
	ErrStatusMismatch      = errors.New("queue item status changed concurrently")
	ErrDuplicateTicketCode = errors.New("ticket code already issued today")
	ErrAppointmentQueued   = errors.New("appointment already has a queue item today")
)
