package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SlotTemplate describes a daily availability window. When SlotDuration is
// non-zero the window is subdivided into slots of that length, separated by
// the request's break duration; otherwise the window becomes a single slot.
type SlotTemplate struct {
	Start        string // "15:04"
	End          string
	SlotDuration time.Duration
	Capacity     int
}

// GenerateRequest asks for concrete slots across a date range.
type GenerateRequest struct {
	DoctorID  uuid.UUID
	From      time.Time
	To        time.Time
	Weekdays  []time.Weekday // 0 = Sunday .. 6 = Saturday
	Templates []SlotTemplate
	Break     time.Duration // gap between consecutive generated slots
}

// SlotFailure reports one candidate slot that was skipped during bulk
// generation. Failures never abort the batch.
type SlotFailure struct {
	Date   time.Time
	Start  string
	Reason string
}

// BulkCreateSlots expands the request into concrete slots. Re-running with
// identical parameters is idempotent: slots that already exist for the
// doctor at the same start time are silently skipped. Candidates that fail
// validation or overlap an existing slot are reported, not fatal.
func (s *Service) BulkCreateSlots(ctx context.Context, req GenerateRequest) ([]TimeSlot, []SlotFailure, error) {
	if _, err := s.store.GetDoctorByID(ctx, req.DoctorID); err != nil {
		return nil, nil, fmt.Errorf("load doctor: %w", err)
	}
	if req.To.Before(req.From) {
		return nil, nil, fmt.Errorf("%w: date range end before start", ErrValidation)
	}
	if len(req.Templates) == 0 {
		return nil, nil, fmt.Errorf("%w: at least one template is required", ErrValidation)
	}

	wanted := make(map[time.Weekday]bool, len(req.Weekdays))
	for _, wd := range req.Weekdays {
		wanted[wd] = true
	}

	runID := uuid.New()

	var created []TimeSlot
	var failed []SlotFailure

	for day := DateOf(req.From); !day.After(DateOf(req.To)); day = day.AddDate(0, 0, 1) {
		if !wanted[day.Weekday()] {
			continue
		}
		for _, tpl := range req.Templates {
			c, f := s.generateDay(ctx, req.DoctorID, runID, day, tpl, req.Break)
			created = append(created, c...)
			failed = append(failed, f...)
		}
	}

	return created, failed, nil
}

func (s *Service) generateDay(ctx context.Context, doctorID, runID uuid.UUID, day time.Time, tpl SlotTemplate, gap time.Duration) ([]TimeSlot, []SlotFailure) {
	fail := func(start, reason string) SlotFailure {
		return SlotFailure{Date: day, Start: start, Reason: reason}
	}

	startOfs, err := parseClock(tpl.Start)
	if err != nil {
		return nil, []SlotFailure{fail(tpl.Start, err.Error())}
	}
	endOfs, err := parseClock(tpl.End)
	if err != nil {
		return nil, []SlotFailure{fail(tpl.Start, err.Error())}
	}
	if endOfs <= startOfs {
		return nil, []SlotFailure{fail(tpl.Start, "end not after start")}
	}
	if tpl.Capacity <= 0 {
		return nil, []SlotFailure{fail(tpl.Start, "capacity must be positive")}
	}

	windowStart := day.Add(startOfs)
	windowEnd := day.Add(endOfs)

	length := tpl.SlotDuration
	if length == 0 {
		length = windowEnd.Sub(windowStart)
		gap = 0
	}

	var created []TimeSlot
	var failed []SlotFailure

	for cur := windowStart; !cur.Add(length).After(windowEnd); cur = cur.Add(length + gap) {
		slotEnd := cur.Add(length)

		exists, err := s.store.SlotExists(ctx, doctorID, cur)
		if err != nil {
			failed = append(failed, fail(cur.Format("15:04"), err.Error()))
			continue
		}
		if exists {
			// Idempotent re-run: already generated.
			continue
		}

		overlapping, err := s.store.FindOverlappingSlots(ctx, doctorID, cur, slotEnd)
		if err != nil {
			failed = append(failed, fail(cur.Format("15:04"), err.Error()))
			continue
		}
		if len(overlapping) > 0 {
			failed = append(failed, fail(cur.Format("15:04"), "overlaps existing slot"))
			continue
		}

		rid := runID
		slot := TimeSlot{
			ID:           uuid.New(),
			DoctorID:     doctorID,
			Date:         day,
			StartTime:    cur,
			EndTime:      slotEnd,
			Capacity:     tpl.Capacity,
			Available:    true,
			RecurrenceID: &rid,
		}
		if err := s.store.CreateSlot(ctx, &slot); err != nil {
			failed = append(failed, fail(cur.Format("15:04"), err.Error()))
			continue
		}
		created = append(created, slot)
	}

	return created, failed
}

// CreateSlot creates a single slot, enforcing the no-overlap invariant for
// the doctor's day.
func (s *Service) CreateSlot(ctx context.Context, doctorID uuid.UUID, start, end time.Time, capacity int) (*TimeSlot, error) {
	if _, err := s.store.GetDoctorByID(ctx, doctorID); err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	if !end.After(start) {
		return nil, fmt.Errorf("%w: end not after start", ErrValidation)
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: capacity must be positive", ErrValidation)
	}

	overlapping, err := s.store.FindOverlappingSlots(ctx, doctorID, start, end)
	if err != nil {
		return nil, fmt.Errorf("check slot overlap: %w", err)
	}
	if len(overlapping) > 0 {
		return nil, fmt.Errorf("%w: overlaps existing slot for this doctor", ErrValidation)
	}

	slot := TimeSlot{
		ID:        uuid.New(),
		DoctorID:  doctorID,
		Date:      DateOf(start),
		StartTime: start,
		EndTime:   end,
		Capacity:  capacity,
		Available: true,
	}
	if err := s.store.CreateSlot(ctx, &slot); err != nil {
		return nil, fmt.Errorf("create slot: %w", err)
	}
	return &slot, nil
}

// RetireSlot marks a slot unavailable for future bookings. Slots referenced
// by appointments are never deleted.
func (s *Service) RetireSlot(ctx context.Context, id uuid.UUID) (*TimeSlot, error) {
	slot, err := s.store.MarkSlotUnavailable(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("retire slot: %w", err)
	}
	return slot, nil
}
