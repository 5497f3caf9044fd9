package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	redisclient "github.com/medisched/clinic-scheduling/internal/redis"
)

// Service is the scheduling core. It owns the appointment state machine and
// orchestrates slot capacity, audit, reminders, and the waiting list. One
// instance is constructed per process and handed to the transport layer.
type Service struct {
	store      Store
	locker     redisclient.Locker
	dispatcher Dispatcher
	plan       ReminderPlan
	log        zerolog.Logger
}

func NewService(store Store, locker redisclient.Locker, dispatcher Dispatcher, plan ReminderPlan, log zerolog.Logger) *Service {
	return &Service{
		store:      store,
		locker:     locker,
		dispatcher: dispatcher,
		plan:       plan,
		log:        log,
	}
}

// BookRequest describes a booking. SlotID nil means an ad-hoc appointment
// outside slot management; Start/Duration may be omitted for slot bookings,
// in which case the slot's own window is used.
type BookRequest struct {
	DoctorID  uuid.UUID
	PatientID uuid.UUID
	SlotID    *uuid.UUID
	Start     time.Time
	Duration  time.Duration
	FeeCents  int64
	Confirm   bool // create directly in confirmed instead of pending
	ActorID   uuid.UUID
}

// BookAppointment reserves capacity and creates the appointment, audit entry,
// and reminders as one transactional unit. Two concurrent requests for a
// slot's last unit of capacity produce exactly one success; the loser gets
// ErrCapacityExhausted.
func (s *Service) BookAppointment(ctx context.Context, req BookRequest) (*Appointment, error) {
	if _, err := s.store.GetPatientByID(ctx, req.PatientID); err != nil {
		return nil, fmt.Errorf("load patient: %w", err)
	}
	if _, err := s.store.GetDoctorByID(ctx, req.DoctorID); err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	if req.SlotID == nil {
		return s.bookAdHoc(ctx, req)
	}
	return s.bookIntoSlot(ctx, req)
}

func (s *Service) bookIntoSlot(ctx context.Context, req BookRequest) (*Appointment, error) {
	slot, err := s.store.GetSlotByID(ctx, *req.SlotID)
	if err != nil {
		return nil, fmt.Errorf("load slot: %w", err)
	}
	if slot.DoctorID != req.DoctorID {
		return nil, fmt.Errorf("%w: slot belongs to a different doctor", ErrValidation)
	}
	if !slot.Available {
		return nil, ErrSlotUnavailable
	}

	start, end := slot.StartTime, slot.EndTime
	if !req.Start.IsZero() {
		start = req.Start
		end = req.Start.Add(req.Duration)
		if req.Duration <= 0 {
			return nil, fmt.Errorf("%w: duration must be positive", ErrValidation)
		}
		if !slot.Covers(start, end) {
			return nil, fmt.Errorf("%w: requested interval falls outside the slot window", ErrValidation)
		}
	}
	if !start.After(time.Now()) {
		return nil, fmt.Errorf("%w: appointment time is in the past", ErrValidation)
	}

	var created *Appointment

	err = s.locker.WithLock(ctx, slotLockKey(slot.ID), func(lockCtx context.Context) error {
		return s.store.InTx(lockCtx, func(txCtx context.Context) error {
			if _, err := s.store.ReserveSlot(txCtx, slot.ID); err != nil {
				return fmt.Errorf("reserve slot: %w", err)
			}

			appt := s.newAppointment(req, start, end)
			appt.SlotID = &slot.ID
			if err := s.store.CreateAppointment(txCtx, appt); err != nil {
				return fmt.Errorf("create appointment: %w", err)
			}
			if err := s.recordAudit(txCtx, appt.ID, req.ActorID, ActionCreated, "", nil, appt); err != nil {
				return err
			}
			if err := s.scheduleReminders(txCtx, appt); err != nil {
				return err
			}

			created = appt
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		return nil, err
	}

	s.log.Info().
		Str("appointment_id", created.ID.String()).
		Str("slot_id", slot.ID.String()).
		Str("status", string(created.Status)).
		Msg("appointment booked")

	return created, nil
}

func (s *Service) bookAdHoc(ctx context.Context, req BookRequest) (*Appointment, error) {
	if req.Start.IsZero() || req.Duration <= 0 {
		return nil, fmt.Errorf("%w: ad-hoc bookings need a start time and positive duration", ErrValidation)
	}
	if !req.Start.After(time.Now()) {
		return nil, fmt.Errorf("%w: appointment time is in the past", ErrValidation)
	}
	end := req.Start.Add(req.Duration)

	var created *Appointment

	// The conflict scan and the insert must not interleave with another
	// ad-hoc booking for the same doctor, so the pair runs under the
	// doctor's lock the same way slot bookings run under the slot's.
	err := s.locker.WithLock(ctx, adHocLockKey(req.DoctorID), func(lockCtx context.Context) error {
		return s.store.InTx(lockCtx, func(txCtx context.Context) error {
			if err := s.checkAdHocConflict(txCtx, req.DoctorID, req.Start, end, nil); err != nil {
				return err
			}

			appt := s.newAppointment(req, req.Start, end)
			if err := s.store.CreateAppointment(txCtx, appt); err != nil {
				return fmt.Errorf("create appointment: %w", err)
			}
			if err := s.recordAudit(txCtx, appt.ID, req.ActorID, ActionCreated, "", nil, appt); err != nil {
				return err
			}
			if err := s.scheduleReminders(txCtx, appt); err != nil {
				return err
			}

			created = appt
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		return nil, err
	}

	s.log.Info().
		Str("appointment_id", created.ID.String()).
		Str("status", string(created.Status)).
		Msg("ad-hoc appointment booked")

	return created, nil
}

func (s *Service) newAppointment(req BookRequest, start, end time.Time) *Appointment {
	status := StatusPending
	if req.Confirm {
		status = StatusConfirmed
	}
	return &Appointment{
		ID:        uuid.New(),
		DoctorID:  req.DoctorID,
		PatientID: req.PatientID,
		StartTime: start,
		EndTime:   end,
		Status:    status,
		FeeCents:  req.FeeCents,
	}
}

// ConfirmAppointment moves a pending appointment to confirmed.
func (s *Service) ConfirmAppointment(ctx context.Context, id, actorID uuid.UUID) (*Appointment, error) {
	appt, err := s.store.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	to, err := transition(appt.Status, eventConfirm)
	if err != nil {
		return nil, err
	}

	var updated *Appointment
	err = s.store.InTx(ctx, func(txCtx context.Context) error {
		updated, err = s.casStatus(txCtx, appt, to, nil)
		if err != nil {
			return err
		}
		return s.recordAudit(txCtx, appt.ID, actorID, ActionConfirmed, "", appt, updated)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// CancelAppointment cancels a pending or confirmed appointment, releases its
// slot capacity, and cancels still-pending reminders. After commit, the
// freed unit is offered to the waiting list.
func (s *Service) CancelAppointment(ctx context.Context, id, actorID uuid.UUID, reason string) (*Appointment, error) {
	appt, err := s.store.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	to, err := transition(appt.Status, eventCancel)
	if err != nil {
		return nil, err
	}

	var updated *Appointment
	var released *TimeSlot

	err = s.store.InTx(ctx, func(txCtx context.Context) error {
		updated, err = s.casStatus(txCtx, appt, to, &reason)
		if err != nil {
			return err
		}
		if appt.SlotID != nil {
			released, err = s.store.ReleaseSlot(txCtx, *appt.SlotID)
			if err != nil {
				return fmt.Errorf("release slot: %w", err)
			}
		}
		if _, err := s.store.CancelPendingReminders(txCtx, appt.ID); err != nil {
			return fmt.Errorf("cancel reminders: %w", err)
		}
		return s.recordAudit(txCtx, appt.ID, actorID, ActionCancelled, reason, appt, updated)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("appointment_id", id.String()).
		Str("reason", reason).
		Msg("appointment cancelled")

	s.offerFreedCapacity(ctx, released)
	return updated, nil
}

// RescheduleRequest describes the replacement booking. Same shape rules as
// BookRequest: NewSlotID nil means ad-hoc, zero NewStart with a slot means
// the slot's own window.
type RescheduleRequest struct {
	NewSlotID   *uuid.UUID
	NewStart    time.Time
	NewDuration time.Duration
	Reason      string
}

// RescheduleAppointment is a cancel-then-book pair executed as one
// transaction: the old appointment moves to rescheduled and its slot is
// released, the replacement is booked referencing the old one, and both
// audit entries are written. If any step fails nothing is committed and the
// old appointment stays as it was.
func (s *Service) RescheduleAppointment(ctx context.Context, id, actorID uuid.UUID, req RescheduleRequest) (*Appointment, error) {
	old, err := s.store.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	to, err := transition(old.Status, eventReschedule)
	if err != nil {
		return nil, err
	}

	var newSlot *TimeSlot
	start, end := req.NewStart, req.NewStart.Add(req.NewDuration)
	if req.NewSlotID != nil {
		newSlot, err = s.store.GetSlotByID(ctx, *req.NewSlotID)
		if err != nil {
			return nil, fmt.Errorf("load new slot: %w", err)
		}
		if newSlot.DoctorID != old.DoctorID {
			return nil, fmt.Errorf("%w: new slot belongs to a different doctor", ErrValidation)
		}
		if !newSlot.Available {
			return nil, ErrSlotUnavailable
		}
		if req.NewStart.IsZero() {
			start, end = newSlot.StartTime, newSlot.EndTime
		} else if req.NewDuration <= 0 {
			return nil, fmt.Errorf("%w: duration must be positive", ErrValidation)
		} else if !newSlot.Covers(start, end) {
			return nil, fmt.Errorf("%w: requested interval falls outside the slot window", ErrValidation)
		}
	} else if req.NewStart.IsZero() || req.NewDuration <= 0 {
		return nil, fmt.Errorf("%w: ad-hoc reschedule needs a start time and positive duration", ErrValidation)
	}
	if !start.After(time.Now()) {
		return nil, fmt.Errorf("%w: appointment time is in the past", ErrValidation)
	}

	var replacement *Appointment
	var released *TimeSlot

	err = s.bookingLock(ctx, req.NewSlotID, old.DoctorID, func(lockCtx context.Context) error {
		return s.store.InTx(lockCtx, func(txCtx context.Context) error {
			updatedOld, err := s.casStatus(txCtx, old, to, &req.Reason)
			if err != nil {
				return err
			}
			if old.SlotID != nil {
				released, err = s.store.ReleaseSlot(txCtx, *old.SlotID)
				if err != nil {
					return fmt.Errorf("release old slot: %w", err)
				}
			}
			if _, err := s.store.CancelPendingReminders(txCtx, old.ID); err != nil {
				return fmt.Errorf("cancel old reminders: %w", err)
			}
			if err := s.recordAudit(txCtx, old.ID, actorID, ActionRescheduled, req.Reason, old, updatedOld); err != nil {
				return err
			}

			appt := &Appointment{
				ID:              uuid.New(),
				DoctorID:        old.DoctorID,
				PatientID:       old.PatientID,
				StartTime:       start,
				EndTime:         end,
				Status:          old.Status, // pending stays pending, confirmed stays confirmed
				FeeCents:        old.FeeCents,
				Paid:            old.Paid,
				RescheduledFrom: &old.ID,
			}

			if newSlot != nil {
				if _, err := s.store.ReserveSlot(txCtx, newSlot.ID); err != nil {
					return fmt.Errorf("reserve new slot: %w", err)
				}
				appt.SlotID = &newSlot.ID
			} else if err := s.checkAdHocConflict(txCtx, old.DoctorID, start, end, &old.ID); err != nil {
				return err
			}

			if err := s.store.CreateAppointment(txCtx, appt); err != nil {
				return fmt.Errorf("create replacement appointment: %w", err)
			}
			if err := s.recordAudit(txCtx, appt.ID, actorID, ActionCreated, "", nil, appt); err != nil {
				return err
			}
			if err := s.scheduleReminders(txCtx, appt); err != nil {
				return err
			}

			replacement = appt
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		return nil, err
	}

	s.log.Info().
		Str("old_appointment_id", old.ID.String()).
		Str("new_appointment_id", replacement.ID.String()).
		Msg("appointment rescheduled")

	s.offerFreedCapacity(ctx, released)
	return replacement, nil
}

// CompleteAppointment closes out a confirmed appointment after the visit.
func (s *Service) CompleteAppointment(ctx context.Context, id, actorID uuid.UUID) (*Appointment, error) {
	return s.terminal(ctx, id, actorID, eventComplete, ActionCompleted, false)
}

// MarkNoShow records a missed confirmed appointment and frees its capacity.
func (s *Service) MarkNoShow(ctx context.Context, id, actorID uuid.UUID) (*Appointment, error) {
	return s.terminal(ctx, id, actorID, eventNoShow, ActionNoShow, true)
}

func (s *Service) terminal(ctx context.Context, id, actorID uuid.UUID, ev lifecycleEvent, action string, releaseSlot bool) (*Appointment, error) {
	appt, err := s.store.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	to, err := transition(appt.Status, ev)
	if err != nil {
		return nil, err
	}

	var updated *Appointment
	var released *TimeSlot

	err = s.store.InTx(ctx, func(txCtx context.Context) error {
		updated, err = s.casStatus(txCtx, appt, to, nil)
		if err != nil {
			return err
		}
		if releaseSlot && appt.SlotID != nil {
			released, err = s.store.ReleaseSlot(txCtx, *appt.SlotID)
			if err != nil {
				return fmt.Errorf("release slot: %w", err)
			}
		}
		return s.recordAudit(txCtx, appt.ID, actorID, action, "", appt, updated)
	})
	if err != nil {
		return nil, err
	}

	s.offerFreedCapacity(ctx, released)
	return updated, nil
}

// casStatus performs the guarded status update. A miss means another request
// transitioned the appointment since we loaded it.
func (s *Service) casStatus(ctx context.Context, appt *Appointment, to AppointmentStatus, reason *string) (*Appointment, error) {
	updated, err := s.store.UpdateAppointmentStatus(ctx, appt.ID, appt.Status, to, reason)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, fmt.Errorf("%w: appointment left status %q concurrently", ErrInvalidTransition, appt.Status)
		}
		return nil, fmt.Errorf("update appointment status: %w", err)
	}
	return updated, nil
}

// offerFreedCapacity runs the waiting-list match for a freed unit. It happens
// after commit and is allowed to fail without affecting the mutation.
func (s *Service) offerFreedCapacity(ctx context.Context, released *TimeSlot) {
	if released == nil {
		return
	}
	if _, err := s.attemptFill(ctx, released); err != nil {
		s.log.Error().Err(err).
			Str("slot_id", released.ID.String()).
			Msg("waiting list match failed for freed capacity")
	}
}

// bookingLock picks the lock guarding a booking's critical section: the
// slot's lock for slot bookings, the doctor's ad-hoc lock otherwise.
func (s *Service) bookingLock(ctx context.Context, slotID *uuid.UUID, doctorID uuid.UUID, fn func(ctx context.Context) error) error {
	key := adHocLockKey(doctorID)
	if slotID != nil {
		key = slotLockKey(*slotID)
	}
	return s.locker.WithLock(ctx, key, fn)
}

func slotLockKey(id uuid.UUID) string {
	return "lock:slot:" + id.String()
}

func adHocLockKey(doctorID uuid.UUID) string {
	return "lock:adhoc:doctor:" + doctorID.String()
}

// GetAppointment retrieves a fully hydrated appointment by ID.
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	detail, err := s.store.GetAppointmentDetail(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return detail, nil
}

// ListAppointmentsByPatient retrieves appointments for a specific patient.
func (s *Service) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]AppointmentDetail, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	appointments, err := s.store.ListAppointmentsByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return appointments, nil
}
