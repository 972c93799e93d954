package queue

import (
	"fmt"

	"clinicdesk/queue-service/internal/models"
)

// AuthorizeTransition enforces doctor ownership on IN_SERVICE. Items in the
// general queue (no doctor) can be started by any caller that reached the
// core; role-level access is checked upstream.
func AuthorizeTransition(item models.QueueItem, to models.Status, actor models.Actor) error {
	if to != models.StatusInService || item.DoctorID == nil {
		return nil
	}
	if actor.IsAdmin() || item.AssignedTo(actor.ID) {
		return nil
	}
	return fmt.Errorf("%w: only the assigned doctor or an admin may start this service", ErrUnauthorized)
}
