package queue

import "clinicdesk/queue-service/internal/models"

// IsLegal is the queue state machine. Every pair not listed is illegal,
// including a status to itself.
func IsLegal(from, to models.Status) bool {
	switch from {
	case models.StatusWaiting:
		return to == models.StatusCalled || to == models.StatusCanceled || to == models.StatusNoShow
	case models.StatusCalled:
		return to == models.StatusInService || to == models.StatusNoShow || to == models.StatusWaiting
	case models.StatusInService:
		return to == models.StatusDone
	case models.StatusNoShow, models.StatusCanceled:
		return to == models.StatusWaiting
	default:
		return false
	}
}

func ValidateTransition(from, to models.Status) error {
	if !IsLegal(from, to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}

// NextStatuses returns the statuses reachable from the given one in one step.
func NextStatuses(from models.Status) []models.Status {
	next := []models.Status{}
	for _, to := range models.Statuses {
		if IsLegal(from, to) {
			next = append(next, to)
		}
	}
	return next
}
