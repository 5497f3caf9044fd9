package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store contains all persistence interactions needed by the service.
//
// InTx runs fn inside a single transaction; every Store call made with the
// context passed to fn joins that transaction, and an error from fn rolls
// the whole unit back. Reserve/release and the status compare-and-set are
// atomic on their own even outside a transaction.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error

	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)

	// Slots
	CreateSlot(ctx context.Context, slot *TimeSlot) error
	GetSlotByID(ctx context.Context, id uuid.UUID) (*TimeSlot, error)
	// ReserveSlot increments occupancy only while occupancy < capacity, as
	// one atomic unit, and returns the updated slot. A full slot yields
	// ErrCapacityExhausted.
	ReserveSlot(ctx context.Context, id uuid.UUID) (*TimeSlot, error)
	// ReleaseSlot decrements occupancy and returns the updated slot.
	// Releasing a slot whose occupancy is zero yields ErrOccupancyUnderflow.
	ReleaseSlot(ctx context.Context, id uuid.UUID) (*TimeSlot, error)
	// FindSlotsByDoctorDate returns all slots for the doctor on the given day.
	FindSlotsByDoctorDate(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]TimeSlot, error)
	// SlotExists reports whether the doctor already has a slot starting at
	// exactly startTime.
	SlotExists(ctx context.Context, doctorID uuid.UUID, startTime time.Time) (bool, error)
	// FindOverlappingSlots returns the doctor's slots intersecting [start, end).
	FindOverlappingSlots(ctx context.Context, doctorID uuid.UUID, start, end time.Time) ([]TimeSlot, error)
	MarkSlotUnavailable(ctx context.Context, id uuid.UUID) (*TimeSlot, error)

	// Appointments
	CreateAppointment(ctx context.Context, appt *Appointment) error
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// UpdateAppointmentStatus is a compare-and-set: the row moves from -> to
	// only if it is still in from, otherwise ErrAppointmentNotFound. A non-nil
	// reason is written to cancellation_reason.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, reason *string) (*Appointment, error)
	// FindLiveAppointments returns the doctor's live appointments on the given
	// day, for ad-hoc conflict scans.
	FindLiveAppointments(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error)
	GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error)
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]AppointmentDetail, error)

	// Audit trail
	AppendLog(ctx context.Context, entry *AppointmentLog) error
	ListLogs(ctx context.Context, appointmentID uuid.UUID) ([]AppointmentLog, error)

	// Reminders
	CreateReminder(ctx context.Context, rem *AppointmentReminder) error
	GetReminderByID(ctx context.Context, id uuid.UUID) (*AppointmentReminder, error)
	// UpdateReminder writes the delivery outcome, guarded on the row still
	// being pending. A miss (unknown ID, or a concurrent transition already
	// moved it) yields ErrReminderNotFound.
	UpdateReminder(ctx context.Context, rem *AppointmentReminder) error
	// DueReminders returns pending reminders with scheduled_for <= now.
	DueReminders(ctx context.Context, now time.Time) ([]AppointmentReminder, error)
	// CancelPendingReminders cancels every still-pending reminder of the
	// appointment and returns how many were cancelled.
	CancelPendingReminders(ctx context.Context, appointmentID uuid.UUID) (int, error)

	// Waiting list
	CreateWaitlistEntry(ctx context.Context, entry *WaitingListEntry) error
	GetWaitlistEntryByID(ctx context.Context, id uuid.UUID) (*WaitingListEntry, error)
	// MatchWaitlist returns active, not-yet-notified entries for the doctor
	// whose preferred date is date, ordered by priority ascending then
	// created_at ascending.
	MatchWaitlist(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]WaitingListEntry, error)
	// MarkWaitlistNotified flips the notified flag and reports whether this
	// call won the flip; false means the entry was already notified.
	MarkWaitlistNotified(ctx context.Context, id uuid.UUID) (bool, error)
}
