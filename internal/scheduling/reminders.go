package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ReminderPlan configures which reminders get scheduled for a booking.
type ReminderPlan struct {
	Offsets     []time.Duration // before appointment time, e.g. 24h, 2h
	Channels    []ReminderChannel
	MaxAttempts int // delivery failures tolerated before permanent failure
}

// scheduleReminders creates one pending reminder per offset per channel.
// Runs inside the booking transaction.
func (s *Service) scheduleReminders(ctx context.Context, appt *Appointment) error {
	for _, offset := range s.plan.Offsets {
		for _, ch := range s.plan.Channels {
			rem := AppointmentReminder{
				ID:            uuid.New(),
				AppointmentID: appt.ID,
				Channel:       ch,
				ScheduledFor:  appt.StartTime.Add(-offset),
				Status:        ReminderPending,
			}
			if err := s.store.CreateReminder(ctx, &rem); err != nil {
				return fmt.Errorf("create reminder: %w", err)
			}
		}
	}
	return nil
}

// DueReminders returns every pending reminder whose scheduled time has
// passed. The periodic sweep calls this, dispatches each reminder, then
// records the outcome via MarkReminderOutcome.
func (s *Service) DueReminders(ctx context.Context, now time.Time) ([]AppointmentReminder, error) {
	due, err := s.store.DueReminders(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("find due reminders: %w", err)
	}
	return due, nil
}

// MarkReminderOutcome records a delivery attempt. A successful send moves
// the reminder to sent exactly once; re-marking a sent reminder is a no-op.
// Failures increment the attempt counter and become permanent once the
// plan's attempt budget is spent.
func (s *Service) MarkReminderOutcome(ctx context.Context, id uuid.UUID, delivered bool) (*AppointmentReminder, error) {
	rem, err := s.store.GetReminderByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load reminder: %w", err)
	}

	if rem.Status != ReminderPending {
		// Already sent, failed, or cancelled: idempotent no-op.
		return rem, nil
	}

	if delivered {
		now := time.Now()
		rem.Status = ReminderSent
		rem.SentAt = &now
	} else {
		rem.Attempts++
		if rem.Attempts >= s.plan.MaxAttempts {
			rem.Status = ReminderFailed
		}
	}

	if err := s.store.UpdateReminder(ctx, rem); err != nil {
		if errors.Is(err, ErrReminderNotFound) {
			// A concurrent cancel or send moved the reminder between our
			// read and the guarded write; the stored outcome stands.
			return s.store.GetReminderByID(ctx, id)
		}
		return nil, fmt.Errorf("update reminder: %w", err)
	}

	s.log.Debug().
		Str("reminder_id", rem.ID.String()).
		Str("status", string(rem.Status)).
		Int("attempts", rem.Attempts).
		Msg("reminder outcome recorded")

	return rem, nil
}

// ReminderPayload builds the JSON body handed to a dispatcher for one
// reminder delivery.
func ReminderPayload(rem *AppointmentReminder, detail *AppointmentDetail) ([]byte, error) {
	msg := struct {
		Type          string    `json:"type"`
		AppointmentID uuid.UUID `json:"appointment_id"`
		PatientName   string    `json:"patient_name,omitempty"`
		DoctorName    string    `json:"doctor_name,omitempty"`
		StartTime     time.Time `json:"start_time"`
		Channel       string    `json:"channel"`
	}{
		Type:          "appointment_reminder",
		AppointmentID: rem.AppointmentID,
		StartTime:     detail.StartTime,
		Channel:       string(rem.Channel),
	}
	if detail.Patient != nil {
		msg.PatientName = detail.Patient.Name
	}
	if detail.Doctor != nil {
		msg.DoctorName = detail.Doctor.Name
	}
	return json.Marshal(msg)
}

// ReminderRecipient picks the patient contact field for a channel.
// Returns "" when the patient has no usable address for it.
func ReminderRecipient(channel ReminderChannel, patient *Patient) string {
	if patient == nil {
		return ""
	}
	switch channel {
	case ChannelSMS:
		if patient.Phone != nil {
			return *patient.Phone
		}
	default:
		if patient.Email != nil {
			return *patient.Email
		}
	}
	return ""
}
