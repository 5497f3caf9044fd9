package scheduling

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

var weekdaysMonFri = []time.Weekday{
	time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday,
}

func TestBulkCreateSlots_TwoWeeksOfClinicHours(t *testing.T) {
	store := newMemStore()
	svc, _ := newTestService(store)
	doctorID := store.addDoctor()

	// Mon 2026-09-07 through Fri 2026-09-18: ten weekdays. An eight hour
	// window cut into 30 minute slots with 15 minute breaks fits eleven
	// slots per day (starts every 45 minutes, 09:00 through 16:30).
	created, failed, err := svc.BulkCreateSlots(context.Background(), GenerateRequest{
		DoctorID: doctorID,
		From:     time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC),
		To:       time.Date(2026, 9, 18, 0, 0, 0, 0, time.UTC),
		Weekdays: weekdaysMonFri,
		Templates: []SlotTemplate{
			{Start: "09:00", End: "17:00", SlotDuration: 30 * time.Minute, Capacity: 2},
		},
		Break: 15 * time.Minute,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(failed) != 0 {
		t.Fatalf("expected no failures, got %d: %+v", len(failed), failed)
	}
	if len(created) != 110 {
		t.Fatalf("expected 110 slots, got %d", len(created))
	}

	first := created[0]
	if first.StartTime.Hour() != 9 || first.StartTime.Minute() != 0 {
		t.Errorf("first slot starts at %s, want 09:00", first.StartTime.Format("15:04"))
	}
	if first.EndTime.Sub(first.StartTime) != 30*time.Minute {
		t.Errorf("slot length = %s, want 30m", first.EndTime.Sub(first.StartTime))
	}
	if first.Capacity != 2 || first.Occupancy != 0 || !first.Available {
		t.Errorf("unexpected fresh slot state: %+v", first)
	}
	if first.RecurrenceID == nil {
		t.Error("generated slot should carry the run's recurrence id")
	}
	for _, slot := range created {
		wd := slot.StartTime.Weekday()
		if wd == time.Saturday || wd == time.Sunday {
			t.Fatalf("slot generated on a weekend: %s", slot.StartTime)
		}
	}
}

func TestBulkCreateSlots_RerunIsIdempotent(t *testing.T) {
	store := newMemStore()
	svc, _ := newTestService(store)
	doctorID := store.addDoctor()

	req := GenerateRequest{
		DoctorID: doctorID,
		From:     time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC),
		To:       time.Date(2026, 9, 11, 0, 0, 0, 0, time.UTC),
		Weekdays: weekdaysMonFri,
		Templates: []SlotTemplate{
			{Start: "09:00", End: "12:00", SlotDuration: time.Hour, Capacity: 1},
		},
	}

	first, _, err := svc.BulkCreateSlots(context.Background(), req)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if len(first) != 15 {
		t.Fatalf("first run created %d slots, want 15", len(first))
	}

	second, failed, err := svc.BulkCreateSlots(context.Background(), req)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(second) != 0 {
		t.Errorf("second run created %d slots, want 0", len(second))
	}
	if len(failed) != 0 {
		t.Errorf("idempotent skip should not report failures, got %+v", failed)
	}
}

func TestBulkCreateSlots_ReportsOverlapsWithoutAborting(t *testing.T) {
	store := newMemStore()
	svc, _ := newTestService(store)
	doctorID := store.addDoctor()

	day := time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC)
	// Existing slot shifted off the template grid so generation cannot
	// dedupe it by start time and has to detect the window overlap.
	store.addSlot(doctorID, day.Add(9*time.Hour+30*time.Minute), day.Add(10*time.Hour+30*time.Minute), 1)

	created, failed, err := svc.BulkCreateSlots(context.Background(), GenerateRequest{
		DoctorID: doctorID,
		From:     day,
		To:       day,
		Weekdays: []time.Weekday{time.Monday},
		Templates: []SlotTemplate{
			{Start: "09:00", End: "12:00", SlotDuration: time.Hour, Capacity: 1},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 09:00 and 10:00 candidates both clash with the 09:30-10:30 slot.
	if len(failed) != 2 {
		t.Fatalf("expected 2 overlap failures, got %d: %+v", len(failed), failed)
	}
	if len(created) != 1 {
		t.Fatalf("expected the 11:00 slot to be created, got %d slots", len(created))
	}
	if created[0].StartTime.Hour() != 11 {
		t.Errorf("surviving slot starts at %s, want 11:00", created[0].StartTime.Format("15:04"))
	}
}

func TestBulkCreateSlots_WholeWindowWhenNoDuration(t *testing.T) {
	store := newMemStore()
	svc, _ := newTestService(store)
	doctorID := store.addDoctor()

	created, failed, err := svc.BulkCreateSlots(context.Background(), GenerateRequest{
		DoctorID: doctorID,
		From:     time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC),
		To:       time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC),
		Weekdays: []time.Weekday{time.Monday},
		Templates: []SlotTemplate{
			{Start: "14:00", End: "16:00", Capacity: 5},
		},
	})
	if err != nil || len(failed) != 0 {
		t.Fatalf("unexpected failure: err=%v failed=%+v", err, failed)
	}
	if len(created) != 1 {
		t.Fatalf("expected a single window slot, got %d", len(created))
	}
	if got := created[0].EndTime.Sub(created[0].StartTime); got != 2*time.Hour {
		t.Errorf("window slot length = %s, want 2h", got)
	}
}

func TestBulkCreateSlots_ValidationFailures(t *testing.T) {
	store := newMemStore()
	svc, _ := newTestService(store)
	doctorID := store.addDoctor()
	day := time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC)

	t.Run("range end before start", func(t *testing.T) {
		_, _, err := svc.BulkCreateSlots(context.Background(), GenerateRequest{
			DoctorID:  doctorID,
			From:      day,
			To:        day.AddDate(0, 0, -1),
			Weekdays:  []time.Weekday{time.Monday},
			Templates: []SlotTemplate{{Start: "09:00", End: "10:00", Capacity: 1}},
		})
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("want ErrValidation, got %v", err)
		}
	})

	t.Run("no templates", func(t *testing.T) {
		_, _, err := svc.BulkCreateSlots(context.Background(), GenerateRequest{
			DoctorID: doctorID,
			From:     day,
			To:       day,
			Weekdays: []time.Weekday{time.Monday},
		})
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("want ErrValidation, got %v", err)
		}
	})

	t.Run("unknown doctor", func(t *testing.T) {
		_, _, err := svc.BulkCreateSlots(context.Background(), GenerateRequest{
			DoctorID:  newMemStore().addDoctor(), // not in this store
			From:      day,
			To:        day,
			Weekdays:  []time.Weekday{time.Monday},
			Templates: []SlotTemplate{{Start: "09:00", End: "10:00", Capacity: 1}},
		})
		if !errors.Is(err, ErrDoctorNotFound) {
			t.Fatalf("want ErrDoctorNotFound, got %v", err)
		}
	})

	t.Run("bad template is a per-day failure", func(t *testing.T) {
		created, failed, err := svc.BulkCreateSlots(context.Background(), GenerateRequest{
			DoctorID:  doctorID,
			From:      day,
			To:        day,
			Weekdays:  []time.Weekday{time.Monday},
			Templates: []SlotTemplate{{Start: "17:00", End: "09:00", Capacity: 1}},
		})
		if err != nil {
			t.Fatalf("inverted template should not abort the batch: %v", err)
		}
		if len(created) != 0 || len(failed) != 1 {
			t.Fatalf("want 0 created / 1 failed, got %d / %d", len(created), len(failed))
		}
	})
}

func TestCreateSlot_RejectsOverlapSameDoctorOnly(t *testing.T) {
	store := newMemStore()
	svc, _ := newTestService(store)
	doctorA := store.addDoctor()
	doctorB := store.addDoctor()

	start := futureTime(10, 0)
	end := start.Add(time.Hour)

	if _, err := svc.CreateSlot(context.Background(), doctorA, start, end, 1); err != nil {
		t.Fatalf("first slot: %v", err)
	}

	// Same window, same doctor: rejected.
	if _, err := svc.CreateSlot(context.Background(), doctorA, start.Add(30*time.Minute), end.Add(30*time.Minute), 1); !errors.Is(err, ErrValidation) {
		t.Fatalf("want ErrValidation for overlap, got %v", err)
	}

	// Same window, different doctor: independent.
	if _, err := svc.CreateSlot(context.Background(), doctorB, start, end, 1); err != nil {
		t.Fatalf("other doctor's slot should not conflict: %v", err)
	}
}

func TestRetireSlot(t *testing.T) {
	store := newMemStore()
	svc, _ := newTestService(store)
	doctorID := store.addDoctor()
	slotID := store.addSlot(doctorID, futureTime(10, 0), futureTime(11, 0), 1)

	slot, err := svc.RetireSlot(context.Background(), slotID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if slot.Available {
		t.Error("retired slot should be unavailable")
	}

	if _, err := svc.RetireSlot(context.Background(), uuid.New()); !errors.Is(err, ErrSlotNotFound) {
		t.Fatalf("want ErrSlotNotFound, got %v", err)
	}
}
