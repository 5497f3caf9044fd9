package scheduling

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestCheckAvailability(t *testing.T) {
	store := newMemStore()
	svc, _ := newTestService(store)
	doctorID := store.addDoctor()
	otherDoctor := store.addDoctor()
	ctx := context.Background()

	morning := futureTime(9, 0)
	covering := store.addSlot(doctorID, morning, morning.Add(2*time.Hour), 3)
	store.addSlot(doctorID, morning.Add(3*time.Hour), morning.Add(4*time.Hour), 1) // does not cover
	store.addSlot(otherDoctor, morning, morning.Add(2*time.Hour), 1)               // other doctor

	avail, err := svc.CheckAvailability(ctx, doctorID, morning.Add(30*time.Minute), 30*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(avail) != 1 {
		t.Fatalf("expected one covering slot, got %d", len(avail))
	}
	if avail[0].Slot.ID != covering {
		t.Error("wrong slot returned")
	}
	if avail[0].Remaining != 3 {
		t.Errorf("remaining = %d, want 3", avail[0].Remaining)
	}
}

func TestCheckAvailability_ExcludesFullAndRetired(t *testing.T) {
	store := newMemStore()
	svc, _ := newTestService(store)
	doctorID := store.addDoctor()
	patientID := store.addPatient()
	ctx := context.Background()

	start := futureTime(9, 0)
	full := store.addSlot(doctorID, start, start.Add(time.Hour), 1)
	retired := store.addSlot(doctorID, start.Add(time.Hour), start.Add(2*time.Hour), 1)

	if _, err := svc.BookAppointment(ctx, BookRequest{DoctorID: doctorID, PatientID: patientID, SlotID: &full, ActorID: uuid.New()}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.RetireSlot(ctx, retired); err != nil {
		t.Fatal(err)
	}

	avail, err := svc.CheckAvailability(ctx, doctorID, start, 30*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if len(avail) != 0 {
		t.Fatalf("full slot should not be offered, got %d results", len(avail))
	}

	avail, err = svc.CheckAvailability(ctx, doctorID, start.Add(time.Hour), 30*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if len(avail) != 0 {
		t.Fatalf("retired slot should not be offered, got %d results", len(avail))
	}
}

func TestCheckAvailability_Validation(t *testing.T) {
	store := newMemStore()
	svc, _ := newTestService(store)
	doctorID := store.addDoctor()
	ctx := context.Background()

	if _, err := svc.CheckAvailability(ctx, doctorID, futureTime(9, 0), 0); !errors.Is(err, ErrValidation) {
		t.Fatalf("zero duration: want ErrValidation, got %v", err)
	}
	if _, err := svc.CheckAvailability(ctx, uuid.New(), futureTime(9, 0), time.Hour); !errors.Is(err, ErrDoctorNotFound) {
		t.Fatalf("unknown doctor: want ErrDoctorNotFound, got %v", err)
	}
}

func TestCheckAdHocConflict_ExcludesRescheduledAppointment(t *testing.T) {
	store := newMemStore()
	svc, _ := newTestService(store)
	doctorID := store.addDoctor()
	patientID := store.addPatient()
	ctx := context.Background()

	start := futureTime(14, 0)
	appt, err := svc.BookAppointment(ctx, BookRequest{
		DoctorID: doctorID, PatientID: patientID,
		Start: start, Duration: time.Hour, ActorID: uuid.New(),
	})
	if err != nil {
		t.Fatal(err)
	}

	// Rescheduling onto an interval overlapping only itself must succeed.
	replacement, err := svc.RescheduleAppointment(ctx, appt.ID, uuid.New(), RescheduleRequest{
		NewStart:    start.Add(30 * time.Minute),
		NewDuration: time.Hour,
		Reason:      "running late",
	})
	if err != nil {
		t.Fatalf("self-overlap reschedule should succeed: %v", err)
	}
	if !replacement.StartTime.Equal(start.Add(30 * time.Minute)) {
		t.Errorf("replacement start = %s", replacement.StartTime)
	}
}
