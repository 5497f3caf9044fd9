package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CheckAvailability returns the doctor's slots that cover the requested
// interval and still have remaining capacity. Slots of different doctors
// are independent.
func (s *Service) CheckAvailability(ctx context.Context, doctorID uuid.UUID, start time.Time, duration time.Duration) ([]SlotAvailability, error) {
	if duration <= 0 {
		return nil, fmt.Errorf("%w: duration must be positive", ErrValidation)
	}
	if _, err := s.store.GetDoctorByID(ctx, doctorID); err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	slots, err := s.store.FindSlotsByDoctorDate(ctx, doctorID, DateOf(start))
	if err != nil {
		return nil, fmt.Errorf("find slots: %w", err)
	}

	end := start.Add(duration)
	var out []SlotAvailability
	for _, slot := range slots {
		if !slot.Available || slot.Remaining() <= 0 {
			continue
		}
		if !slot.Covers(start, end) {
			continue
		}
		out = append(out, SlotAvailability{Slot: slot, Remaining: slot.Remaining()})
	}
	return out, nil
}

// checkAdHocConflict scans the doctor's live appointments on the day for an
// interval overlap. Ad-hoc appointments consume an implicit capacity-1
// interval, independent of slot occupancy accounting; exclude skips the
// appointment being rescheduled.
func (s *Service) checkAdHocConflict(ctx context.Context, doctorID uuid.UUID, start, end time.Time, exclude *uuid.UUID) error {
	appts, err := s.store.FindLiveAppointments(ctx, doctorID, DateOf(start))
	if err != nil {
		return fmt.Errorf("scan live appointments: %w", err)
	}
	for i := range appts {
		if exclude != nil && appts[i].ID == *exclude {
			continue
		}
		if appts[i].Overlaps(start, end) {
			return fmt.Errorf("%w: doctor has a live appointment from %s to %s",
				ErrSchedulingConflict,
				appts[i].StartTime.Format(time.RFC3339),
				appts[i].EndTime.Format(time.RFC3339))
		}
	}
	return nil
}
