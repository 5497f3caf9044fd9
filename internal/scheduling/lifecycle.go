package scheduling

import "fmt"

// lifecycleEvent is one of the operations that can move an appointment
// between statuses.
type lifecycleEvent string

const (
	eventConfirm    lifecycleEvent = "confirm"
	eventCancel     lifecycleEvent = "cancel"
	eventReschedule lifecycleEvent = "reschedule"
	eventComplete   lifecycleEvent = "complete"
	eventNoShow     lifecycleEvent = "no_show"
)

// transitions is the single source of truth for the appointment state
// machine. Anything not listed here is rejected.
var transitions = map[AppointmentStatus]map[lifecycleEvent]AppointmentStatus{
	StatusPending: {
		eventConfirm:    StatusConfirmed,
		eventCancel:     StatusCancelled,
		eventReschedule: StatusRescheduled,
	},
	StatusConfirmed: {
		eventCancel:     StatusCancelled,
		eventReschedule: StatusRescheduled,
		eventComplete:   StatusCompleted,
		eventNoShow:     StatusNoShow,
	},
}

// transition resolves the target status for an event, or fails with
// ErrInvalidTransition when the event is not allowed from the current state.
func transition(from AppointmentStatus, ev lifecycleEvent) (AppointmentStatus, error) {
	if next, ok := transitions[from][ev]; ok {
		return next, nil
	}
	return "", fmt.Errorf("%w: cannot %s an appointment in status %q", ErrInvalidTransition, ev, from)
}
