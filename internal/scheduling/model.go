package scheduling

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusPending     AppointmentStatus = "pending"
	StatusConfirmed   AppointmentStatus = "confirmed"
	StatusCancelled   AppointmentStatus = "cancelled"
	StatusRescheduled AppointmentStatus = "rescheduled"
	StatusCompleted   AppointmentStatus = "completed"
	StatusNoShow      AppointmentStatus = "no_show"
)

// Live reports whether the appointment still occupies capacity.
func (s AppointmentStatus) Live() bool {
	switch s {
	case StatusCancelled, StatusRescheduled, StatusNoShow:
		return false
	}
	return true
}

type ReminderStatus string

const (
	ReminderPending   ReminderStatus = "pending"
	ReminderSent      ReminderStatus = "sent"
	ReminderFailed    ReminderStatus = "failed"
	ReminderCancelled ReminderStatus = "cancelled"
)

type ReminderChannel string

const (
	ChannelEmail ReminderChannel = "email"
	ChannelSMS   ReminderChannel = "sms"
	ChannelPush  ReminderChannel = "push"
)

// Audit action tags, one per lifecycle mutation.
const (
	ActionCreated     = "created"
	ActionConfirmed   = "confirmed"
	ActionCancelled   = "cancelled"
	ActionRescheduled = "rescheduled"
	ActionCompleted   = "completed"
	ActionNoShow      = "no_show"
)

type Doctor struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	Phone     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TimeSlot is a dated, capacity-bounded unit of doctor availability.
// Occupancy is mutated only through the store's atomic reserve/release.
type TimeSlot struct {
	ID           uuid.UUID
	DoctorID     uuid.UUID
	Date         time.Time // midnight UTC of the slot's day
	StartTime    time.Time
	EndTime      time.Time
	Capacity     int
	Occupancy    int
	IsBooked     bool // derived: occupancy == capacity
	Available    bool
	RecurrenceID *uuid.UUID // run that generated this slot, nil for ad-hoc slots
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Remaining returns how many units of capacity are still free.
func (s *TimeSlot) Remaining() int {
	return s.Capacity - s.Occupancy
}

// Covers reports whether [start, end) lies within the slot window.
func (s *TimeSlot) Covers(start, end time.Time) bool {
	return !start.Before(s.StartTime) && !end.After(s.EndTime)
}

type Appointment struct {
	ID                 uuid.UUID
	DoctorID           uuid.UUID
	PatientID          uuid.UUID
	SlotID             *uuid.UUID // nil for ad-hoc appointments outside slot management
	StartTime          time.Time
	EndTime            time.Time
	Status             AppointmentStatus
	FeeCents           int64
	Paid               bool
	CancellationReason *string
	RescheduledFrom    *uuid.UUID
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (a *Appointment) Live() bool {
	return a.Status.Live()
}

// Overlaps reports whether the appointment's interval intersects [start, end).
func (a *Appointment) Overlaps(start, end time.Time) bool {
	return a.StartTime.Before(end) && start.Before(a.EndTime)
}

// AppointmentLog is an append-only audit record. Rows are never updated
// or deleted after insertion.
type AppointmentLog struct {
	ID            int64
	AppointmentID uuid.UUID
	Action        string
	ActorID       uuid.UUID
	Notes         string
	Before        []byte // JSON snapshot, nil on creation
	After         []byte // JSON snapshot
	CreatedAt     time.Time
}

type AppointmentReminder struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	Channel       ReminderChannel
	ScheduledFor  time.Time
	SentAt        *time.Time
	Status        ReminderStatus
	Attempts      int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// WaitingListEntry is a patient's standing request for capacity.
// Preferred times are clock strings in "15:04" form, interpreted on
// the preferred date.
type WaitingListEntry struct {
	ID             uuid.UUID
	PatientID      uuid.UUID
	DoctorID       uuid.UUID
	PreferredDate  time.Time // midnight UTC
	PreferredStart string
	PreferredEnd   string
	Priority       int // 1 highest .. 10 lowest
	Active         bool
	Notified       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AppointmentDetail is an appointment hydrated with its referenced entities.
type AppointmentDetail struct {
	Appointment
	Slot    *TimeSlot
	Patient *Patient
	Doctor  *Doctor
}

// SlotAvailability is one viable slot returned by an availability check.
type SlotAvailability struct {
	Slot      TimeSlot
	Remaining int
}

// DateOf truncates t to midnight UTC.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
