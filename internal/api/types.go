package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/medisched/clinic-scheduling/internal/scheduling"
)

type BookAppointmentRequest struct {
	DoctorID        string     `json:"doctor_id"`
	PatientID       string     `json:"patient_id"`
	SlotID          *string    `json:"slot_id,omitempty"`
	StartTime       *time.Time `json:"start_time,omitempty"`
	DurationMinutes int        `json:"duration_minutes,omitempty"`
	FeeCents        int64      `json:"fee_cents,omitempty"`
	Confirm         bool       `json:"confirm,omitempty"`
}

type CancelAppointmentRequest struct {
	Reason string `json:"reason"`
}

type RescheduleAppointmentRequest struct {
	SlotID          *string    `json:"slot_id,omitempty"`
	StartTime       *time.Time `json:"start_time,omitempty"`
	DurationMinutes int        `json:"duration_minutes,omitempty"`
	Reason          string     `json:"reason"`
}

type AppointmentResponse struct {
	ID                 uuid.UUID  `json:"id"`
	DoctorID           uuid.UUID  `json:"doctor_id"`
	PatientID          uuid.UUID  `json:"patient_id"`
	SlotID             *uuid.UUID `json:"slot_id,omitempty"`
	StartTime          time.Time  `json:"start_time"`
	EndTime            time.Time  `json:"end_time"`
	Status             string     `json:"status"`
	FeeCents           int64      `json:"fee_cents"`
	Paid               bool       `json:"paid"`
	CancellationReason *string    `json:"cancellation_reason,omitempty"`
	RescheduledFrom    *uuid.UUID `json:"rescheduled_from,omitempty"`
}

func toAppointmentResponse(a *scheduling.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                 a.ID,
		DoctorID:           a.DoctorID,
		PatientID:          a.PatientID,
		SlotID:             a.SlotID,
		StartTime:          a.StartTime,
		EndTime:            a.EndTime,
		Status:             string(a.Status),
		FeeCents:           a.FeeCents,
		Paid:               a.Paid,
		CancellationReason: a.CancellationReason,
		RescheduledFrom:    a.RescheduledFrom,
	}
}

type SlotResponse struct {
	ID        uuid.UUID `json:"id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Capacity  int       `json:"capacity"`
	Occupancy int       `json:"occupancy"`
	IsBooked  bool      `json:"is_booked"`
	Available bool      `json:"available"`
}

func toSlotResponse(s *scheduling.TimeSlot) SlotResponse {
	return SlotResponse{
		ID:        s.ID,
		DoctorID:  s.DoctorID,
		StartTime: s.StartTime,
		EndTime:   s.EndTime,
		Capacity:  s.Capacity,
		Occupancy: s.Occupancy,
		IsBooked:  s.IsBooked,
		Available: s.Available,
	}
}

type CreateSlotRequest struct {
	DoctorID  string    `json:"doctor_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Capacity  int       `json:"capacity"`
}

type SlotTemplateRequest struct {
	Start               string `json:"start"` // "15:04"
	End                 string `json:"end"`
	SlotDurationMinutes int    `json:"slot_duration_minutes,omitempty"`
	Capacity            int    `json:"capacity"`
}

type BulkCreateSlotsRequest struct {
	DoctorID     string                `json:"doctor_id"`
	From         string                `json:"from"` // "2006-01-02"
	To           string                `json:"to"`
	Weekdays     []int                 `json:"weekdays"` // 0 = Sunday .. 6 = Saturday
	Templates    []SlotTemplateRequest `json:"templates"`
	BreakMinutes int                   `json:"break_minutes,omitempty"`
}

type SlotFailureResponse struct {
	Date   string `json:"date"`
	Start  string `json:"start"`
	Reason string `json:"reason"`
}

type BulkCreateSlotsResponse struct {
	Created []SlotResponse        `json:"created"`
	Failed  []SlotFailureResponse `json:"failed"`
}

type AvailabilityResponse struct {
	Slot      SlotResponse `json:"slot"`
	Remaining int          `json:"remaining"`
}

type ReminderResponse struct {
	ID            uuid.UUID  `json:"id"`
	AppointmentID uuid.UUID  `json:"appointment_id"`
	Channel       string     `json:"channel"`
	ScheduledFor  time.Time  `json:"scheduled_for"`
	SentAt        *time.Time `json:"sent_at,omitempty"`
	Status        string     `json:"status"`
	Attempts      int        `json:"attempts"`
}

func toReminderResponse(r *scheduling.AppointmentReminder) ReminderResponse {
	return ReminderResponse{
		ID:            r.ID,
		AppointmentID: r.AppointmentID,
		Channel:       string(r.Channel),
		ScheduledFor:  r.ScheduledFor,
		SentAt:        r.SentAt,
		Status:        string(r.Status),
		Attempts:      r.Attempts,
	}
}

type ReminderOutcomeRequest struct {
	Outcome string `json:"outcome"` // "sent" or "failed"
}

type AddWaitlistRequest struct {
	PatientID      string `json:"patient_id"`
	DoctorID       string `json:"doctor_id"`
	PreferredDate  string `json:"preferred_date"` // "2006-01-02"
	PreferredStart string `json:"preferred_start"`
	PreferredEnd   string `json:"preferred_end"`
	Priority       int    `json:"priority"`
}

type NotifyMatchesRequest struct {
	DoctorID string `json:"doctor_id"`
	Date     string `json:"date"`
}

type WaitlistEntryResponse struct {
	ID             uuid.UUID `json:"id"`
	PatientID      uuid.UUID `json:"patient_id"`
	DoctorID       uuid.UUID `json:"doctor_id"`
	PreferredDate  string    `json:"preferred_date"`
	PreferredStart string    `json:"preferred_start"`
	PreferredEnd   string    `json:"preferred_end"`
	Priority       int       `json:"priority"`
	Active         bool      `json:"active"`
	Notified       bool      `json:"notified"`
}

func toWaitlistEntryResponse(w *scheduling.WaitingListEntry) WaitlistEntryResponse {
	return WaitlistEntryResponse{
		ID:             w.ID,
		PatientID:      w.PatientID,
		DoctorID:       w.DoctorID,
		PreferredDate:  w.PreferredDate.Format("2006-01-02"),
		PreferredStart: w.PreferredStart,
		PreferredEnd:   w.PreferredEnd,
		Priority:       w.Priority,
		Active:         w.Active,
		Notified:       w.Notified,
	}
}

type AuditEntryResponse struct {
	ID            int64           `json:"id"`
	AppointmentID uuid.UUID       `json:"appointment_id"`
	Action        string          `json:"action"`
	ActorID       uuid.UUID       `json:"actor_id"`
	Notes         string          `json:"notes,omitempty"`
	Before        json.RawMessage `json:"before,omitempty"`
	After         json.RawMessage `json:"after,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
