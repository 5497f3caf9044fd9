package scheduling

import "errors"

var (
	ErrDoctorNotFound        = errors.New("doctor not found")
	ErrPatientNotFound       = errors.New("patient not found")
	ErrSlotNotFound          = errors.New("slot not found")
	ErrAppointmentNotFound   = errors.New("appointment not found")
	ErrReminderNotFound      = errors.New("reminder not found")
	ErrWaitlistEntryNotFound = errors.New("waiting list entry not found")

	// ErrCapacityExhausted is the expected outcome when a booking loses the
	// race for a slot's last unit of capacity.
	ErrCapacityExhausted = errors.New("slot capacity exhausted")

	// ErrOccupancyUnderflow signals a release against a slot whose occupancy
	// is already zero. This is a logic bug in the caller, not a user error.
	ErrOccupancyUnderflow = errors.New("slot occupancy already zero")

	ErrSlotUnavailable   = errors.New("slot is not available for booking")
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrSchedulingConflict is returned when an ad-hoc appointment would
	// overlap a live appointment for the same doctor.
	ErrSchedulingConflict = errors.New("appointment overlaps an existing booking")

	ErrValidation = errors.New("validation failed")

	// ErrSlotBeingBooked surfaces distributed-lock contention to the caller,
	// who is expected to retry.
	ErrSlotBeingBooked = errors.New("slot is currently being booked, please retry")

	// ErrStorageUnavailable wraps transactional infrastructure failures.
	// No partial writes are observable when it is returned.
	ErrStorageUnavailable = errors.New("storage unavailable")
)
