package scheduling

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// WaitlistRequest adds a patient to a doctor's waiting list.
type WaitlistRequest struct {
	PatientID      uuid.UUID
	DoctorID       uuid.UUID
	PreferredDate  time.Time
	PreferredStart string // "15:04"
	PreferredEnd   string
	Priority       int // 1 highest .. 10 lowest
}

// AddWaitingListEntry validates and stores a standing request for capacity.
func (s *Service) AddWaitingListEntry(ctx context.Context, req WaitlistRequest) (*WaitingListEntry, error) {
	if req.Priority < 1 || req.Priority > 10 {
		return nil, fmt.Errorf("%w: priority must be between 1 and 10", ErrValidation)
	}
	startOfs, err := parseClock(req.PreferredStart)
	if err != nil {
		return nil, err
	}
	endOfs, err := parseClock(req.PreferredEnd)
	if err != nil {
		return nil, err
	}
	if endOfs <= startOfs {
		return nil, fmt.Errorf("%w: preferred end not after start", ErrValidation)
	}
	if _, err := s.store.GetDoctorByID(ctx, req.DoctorID); err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	if _, err := s.store.GetPatientByID(ctx, req.PatientID); err != nil {
		return nil, fmt.Errorf("load patient: %w", err)
	}

	entry := WaitingListEntry{
		ID:             uuid.New(),
		PatientID:      req.PatientID,
		DoctorID:       req.DoctorID,
		PreferredDate:  DateOf(req.PreferredDate),
		PreferredStart: req.PreferredStart,
		PreferredEnd:   req.PreferredEnd,
		Priority:       req.Priority,
		Active:         true,
	}
	if err := s.store.CreateWaitlistEntry(ctx, &entry); err != nil {
		return nil, fmt.Errorf("create waiting list entry: %w", err)
	}
	return &entry, nil
}

// attemptFill matches one freed unit of capacity against the waiting list.
// It runs after the releasing transaction has committed, notifies at most
// one entry, and never books an appointment itself. The notified flag makes
// re-runs idempotent.
func (s *Service) attemptFill(ctx context.Context, slot *TimeSlot) (*WaitingListEntry, error) {
	candidates, err := s.store.MatchWaitlist(ctx, slot.DoctorID, slot.Date)
	if err != nil {
		return nil, fmt.Errorf("match waiting list: %w", err)
	}

	slotStart := clockOf(slot.StartTime)
	slotEnd := clockOf(slot.EndTime)

	for i := range candidates {
		entry := candidates[i]
		if !entryOverlapsWindow(&entry, slotStart, slotEnd) {
			continue
		}

		won, err := s.store.MarkWaitlistNotified(ctx, entry.ID)
		if err != nil {
			return nil, fmt.Errorf("mark waiting list entry notified: %w", err)
		}
		if !won {
			// Another release beat us to this entry.
			continue
		}
		entry.Notified = true

		s.notifyWaitlistEntry(ctx, &entry, slot)
		return &entry, nil
	}

	return nil, nil
}

// entryOverlapsWindow compares the entry's preferred clock range against a
// slot window on the same date.
func entryOverlapsWindow(entry *WaitingListEntry, winStart, winEnd time.Duration) bool {
	prefStart, err := parseClock(entry.PreferredStart)
	if err != nil {
		return false
	}
	prefEnd, err := parseClock(entry.PreferredEnd)
	if err != nil {
		return false
	}
	return prefStart < winEnd && winStart < prefEnd
}

// notifyWaitlistEntry emits the notification intent. Delivery is best-effort
// here: the entry stays marked notified either way, and reactivation is an
// explicit external action.
func (s *Service) notifyWaitlistEntry(ctx context.Context, entry *WaitingListEntry, slot *TimeSlot) {
	payload, _ := json.Marshal(map[string]any{
		"type":       "waitlist_slot_available",
		"doctor_id":  slot.DoctorID,
		"slot_id":    slot.ID,
		"start_time": slot.StartTime,
		"end_time":   slot.EndTime,
	})

	patient, err := s.store.GetPatientByID(ctx, entry.PatientID)
	if err != nil {
		s.log.Error().Err(err).
			Str("entry_id", entry.ID.String()).
			Msg("load patient for waitlist notification")
	}
	recipient := ReminderRecipient(ChannelEmail, patient)

	if err := s.dispatcher.Send(ctx, ChannelEmail, recipient, payload); err != nil {
		s.log.Error().Err(err).
			Str("entry_id", entry.ID.String()).
			Str("patient_id", entry.PatientID.String()).
			Msg("waitlist notification dispatch failed")
		return
	}

	s.log.Info().
		Str("entry_id", entry.ID.String()).
		Str("slot_id", slot.ID.String()).
		Int("priority", entry.Priority).
		Msg("waitlist entry notified")
}

// NotifyMatches matches every remaining unit of capacity the doctor has on
// the given date against the waiting list. Exposed for external triggers;
// the cancellation and no-show paths call the per-slot variant directly.
func (s *Service) NotifyMatches(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]WaitingListEntry, error) {
	if _, err := s.store.GetDoctorByID(ctx, doctorID); err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	slots, err := s.store.FindSlotsByDoctorDate(ctx, doctorID, DateOf(date))
	if err != nil {
		return nil, fmt.Errorf("find slots: %w", err)
	}

	var notified []WaitingListEntry
	for i := range slots {
		slot := slots[i]
		if !slot.Available {
			continue
		}
		for unit := 0; unit < slot.Remaining(); unit++ {
			entry, err := s.attemptFill(ctx, &slot)
			if err != nil {
				return notified, err
			}
			if entry == nil {
				break
			}
			notified = append(notified, *entry)
		}
	}
	return notified, nil
}
