package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medisched/clinic-scheduling/internal/db"
)

// queryable is satisfied by both *pgxpool.Pool and pgx.Tx, letting every
// store method run against the pool or join a transaction in flight.
type queryable interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PgStore is the Postgres implementation of Store.
type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

func (s *PgStore) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return s.pool
}

func (s *PgStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.WithTx(ctx, s.pool, fn)
}

// storageErr tags infrastructure failures so callers can distinguish them
// from domain outcomes. Partial writes roll back with the transaction.
func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrStorageUnavailable, err)
}

// Scan helpers

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(&d.ID, &d.Name, &d.Specialty, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, storageErr("scan doctor", err)
	}
	return &d, nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.Name, &p.Email, &p.Phone, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, storageErr("scan patient", err)
	}
	return &p, nil
}

const slotCols = `id, doctor_id, date, start_time, end_time, capacity, occupancy,
	is_booked, available, recurrence_id, created_at, updated_at`

func scanSlot(row pgx.Row) (*TimeSlot, error) {
	var sl TimeSlot
	err := row.Scan(&sl.ID, &sl.DoctorID, &sl.Date, &sl.StartTime, &sl.EndTime,
		&sl.Capacity, &sl.Occupancy, &sl.IsBooked, &sl.Available, &sl.RecurrenceID,
		&sl.CreatedAt, &sl.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, storageErr("scan slot", err)
	}
	return &sl, nil
}

const apptCols = `id, doctor_id, patient_id, slot_id, start_time, end_time, status,
	fee_cents, paid, cancellation_reason, rescheduled_from, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.DoctorID, &a.PatientID, &a.SlotID, &a.StartTime, &a.EndTime,
		&a.Status, &a.FeeCents, &a.Paid, &a.CancellationReason, &a.RescheduledFrom,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, storageErr("scan appointment", err)
	}
	return &a, nil
}

const auditLogCols = `id, appointment_id, action, actor_id, notes, before_state,
	after_state, created_at`

const reminderCols = `id, appointment_id, channel, scheduled_for, sent_at, status,
	attempts, created_at, updated_at`

func scanReminder(row pgx.Row) (*AppointmentReminder, error) {
	var r AppointmentReminder
	err := row.Scan(&r.ID, &r.AppointmentID, &r.Channel, &r.ScheduledFor, &r.SentAt,
		&r.Status, &r.Attempts, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReminderNotFound
		}
		return nil, storageErr("scan reminder", err)
	}
	return &r, nil
}

const waitlistCols = `id, patient_id, doctor_id, preferred_date, preferred_start,
	preferred_end, priority, active, notified, created_at, updated_at`

func scanWaitlistEntry(row pgx.Row) (*WaitingListEntry, error) {
	var w WaitingListEntry
	err := row.Scan(&w.ID, &w.PatientID, &w.DoctorID, &w.PreferredDate, &w.PreferredStart,
		&w.PreferredEnd, &w.Priority, &w.Active, &w.Notified, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWaitlistEntryNotFound
		}
		return nil, storageErr("scan waiting list entry", err)
	}
	return &w, nil
}

// Doctors and patients

func (s *PgStore) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return scanDoctor(s.conn(ctx).QueryRow(ctx, `
		SELECT id, name, specialty, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id))
}

func (s *PgStore) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return scanPatient(s.conn(ctx).QueryRow(ctx, `
		SELECT id, name, email, phone, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id))
}

// Slots

func (s *PgStore) CreateSlot(ctx context.Context, slot *TimeSlot) error {
	now := time.Now()
	slot.CreatedAt = now
	slot.UpdatedAt = now
	_, err := s.conn(ctx).Exec(ctx, `
		INSERT INTO time_slots (id, doctor_id, date, start_time, end_time, capacity,
			occupancy, is_booked, available, recurrence_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, false, $7, $8, $9, $9)
	`, slot.ID, slot.DoctorID, slot.Date, slot.StartTime, slot.EndTime, slot.Capacity,
		slot.Available, slot.RecurrenceID, now)
	if err != nil {
		return storageErr("insert slot", err)
	}
	return nil
}

func (s *PgStore) GetSlotByID(ctx context.Context, id uuid.UUID) (*TimeSlot, error) {
	return scanSlot(s.conn(ctx).QueryRow(ctx, `
		SELECT `+slotCols+`
		FROM time_slots
		WHERE id = $1
	`, id))
}

// ReserveSlot is the check-and-increment linchpin: the guarded UPDATE only
// matches while occupancy < capacity, so two racing requests for the last
// unit produce exactly one updated row. is_booked is recomputed in the same
// statement.
func (s *PgStore) ReserveSlot(ctx context.Context, id uuid.UUID) (*TimeSlot, error) {
	slot, err := scanSlot(s.conn(ctx).QueryRow(ctx, `
		UPDATE time_slots
		SET occupancy = occupancy + 1,
		    is_booked = occupancy + 1 >= capacity,
		    updated_at = now()
		WHERE id = $1
		  AND available
		  AND occupancy < capacity
		RETURNING `+slotCols+`
	`, id))
	if err == nil {
		return slot, nil
	}
	if !errors.Is(err, ErrSlotNotFound) {
		return nil, err
	}

	// No row matched: distinguish missing, retired, and full.
	existing, lookupErr := s.GetSlotByID(ctx, id)
	if lookupErr != nil {
		return nil, lookupErr
	}
	if !existing.Available {
		return nil, ErrSlotUnavailable
	}
	return nil, ErrCapacityExhausted
}

// ReleaseSlot decrements occupancy atomically. Occupancy never goes below
// zero; a release against an empty slot reports ErrOccupancyUnderflow.
func (s *PgStore) ReleaseSlot(ctx context.Context, id uuid.UUID) (*TimeSlot, error) {
	slot, err := scanSlot(s.conn(ctx).QueryRow(ctx, `
		UPDATE time_slots
		SET occupancy = occupancy - 1,
		    is_booked = false,
		    updated_at = now()
		WHERE id = $1
		  AND occupancy > 0
		RETURNING `+slotCols+`
	`, id))
	if err == nil {
		return slot, nil
	}
	if !errors.Is(err, ErrSlotNotFound) {
		return nil, err
	}

	if _, lookupErr := s.GetSlotByID(ctx, id); lookupErr != nil {
		return nil, lookupErr
	}
	return nil, ErrOccupancyUnderflow
}

func (s *PgStore) FindSlotsByDoctorDate(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]TimeSlot, error) {
	rows, err := s.conn(ctx).Query(ctx, `
		SELECT `+slotCols+`
		FROM time_slots
		WHERE doctor_id = $1 AND date = $2
		ORDER BY start_time
	`, doctorID, date)
	if err != nil {
		return nil, storageErr("query slots", err)
	}
	defer rows.Close()
	return collectSlots(rows)
}

func (s *PgStore) SlotExists(ctx context.Context, doctorID uuid.UUID, startTime time.Time) (bool, error) {
	var exists bool
	err := s.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM time_slots
			WHERE doctor_id = $1 AND start_time = $2
		)
	`, doctorID, startTime).Scan(&exists)
	if err != nil {
		return false, storageErr("check slot exists", err)
	}
	return exists, nil
}

func (s *PgStore) FindOverlappingSlots(ctx context.Context, doctorID uuid.UUID, start, end time.Time) ([]TimeSlot, error) {
	rows, err := s.conn(ctx).Query(ctx, `
		SELECT `+slotCols+`
		FROM time_slots
		WHERE doctor_id = $1
		  AND start_time < $3
		  AND $2 < end_time
	`, doctorID, start, end)
	if err != nil {
		return nil, storageErr("query overlapping slots", err)
	}
	defer rows.Close()
	return collectSlots(rows)
}

func (s *PgStore) MarkSlotUnavailable(ctx context.Context, id uuid.UUID) (*TimeSlot, error) {
	return scanSlot(s.conn(ctx).QueryRow(ctx, `
		UPDATE time_slots
		SET available = false,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+slotCols+`
	`, id))
}

func collectSlots(rows pgx.Rows) ([]TimeSlot, error) {
	var out []TimeSlot
	for rows.Next() {
		sl, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sl)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate slots", err)
	}
	return out, nil
}

// Appointments

func (s *PgStore) CreateAppointment(ctx context.Context, appt *Appointment) error {
	now := time.Now()
	appt.CreatedAt = now
	appt.UpdatedAt = now
	_, err := s.conn(ctx).Exec(ctx, `
		INSERT INTO appointments (id, doctor_id, patient_id, slot_id, start_time, end_time,
			status, fee_cents, paid, cancellation_reason, rescheduled_from, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
	`, appt.ID, appt.DoctorID, appt.PatientID, appt.SlotID, appt.StartTime, appt.EndTime,
		appt.Status, appt.FeeCents, appt.Paid, appt.CancellationReason, appt.RescheduledFrom, now)
	if err != nil {
		return storageErr("insert appointment", err)
	}
	return nil
}

func (s *PgStore) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scanAppointment(s.conn(ctx).QueryRow(ctx, `
		SELECT `+apptCols+`
		FROM appointments
		WHERE id = $1
	`, id))
}

func (s *PgStore) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, reason *string) (*Appointment, error) {
	return scanAppointment(s.conn(ctx).QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    cancellation_reason = COALESCE($3, cancellation_reason),
		    updated_at = now()
		WHERE id = $1
		  AND status = $4
		RETURNING `+apptCols+`
	`, id, to, reason, from))
}

func (s *PgStore) FindLiveAppointments(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error) {
	rows, err := s.conn(ctx).Query(ctx, `
		SELECT `+apptCols+`
		FROM appointments
		WHERE doctor_id = $1
		  AND start_time >= $2
		  AND start_time < $2 + interval '1 day'
		  AND status NOT IN ('cancelled', 'rescheduled', 'no_show')
	`, doctorID, date)
	if err != nil {
		return nil, storageErr("query live appointments", err)
	}
	defer rows.Close()

	var out []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate appointments", err)
	}
	return out, nil
}

func (s *PgStore) GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	appt, err := s.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.hydrate(ctx, appt)
}

func (s *PgStore) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]AppointmentDetail, error) {
	rows, err := s.conn(ctx).Query(ctx, `
		SELECT `+apptCols+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY start_time DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, storageErr("query appointments by patient", err)
	}
	defer rows.Close()

	var appts []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate appointments", err)
	}

	out := make([]AppointmentDetail, 0, len(appts))
	for i := range appts {
		detail, err := s.hydrate(ctx, &appts[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *detail)
	}
	return out, nil
}

func (s *PgStore) hydrate(ctx context.Context, appt *Appointment) (*AppointmentDetail, error) {
	detail := AppointmentDetail{Appointment: *appt}

	doctor, err := s.GetDoctorByID(ctx, appt.DoctorID)
	if err != nil && !errors.Is(err, ErrDoctorNotFound) {
		return nil, err
	}
	detail.Doctor = doctor

	patient, err := s.GetPatientByID(ctx, appt.PatientID)
	if err != nil && !errors.Is(err, ErrPatientNotFound) {
		return nil, err
	}
	detail.Patient = patient

	if appt.SlotID != nil {
		slot, err := s.GetSlotByID(ctx, *appt.SlotID)
		if err != nil && !errors.Is(err, ErrSlotNotFound) {
			return nil, err
		}
		detail.Slot = slot
	}
	return &detail, nil
}

// Audit trail. Rows are insert-only; there is no update or delete path.

func (s *PgStore) AppendLog(ctx context.Context, entry *AppointmentLog) error {
	err := s.conn(ctx).QueryRow(ctx, `
		INSERT INTO appointment_logs (appointment_id, action, actor_id, notes,
			before_state, after_state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, now()))
		RETURNING id
	`, entry.AppointmentID, entry.Action, entry.ActorID, entry.Notes,
		entry.Before, entry.After, nullableTime(entry.CreatedAt)).Scan(&entry.ID)
	if err != nil {
		return storageErr("insert audit log", err)
	}
	return nil
}

func (s *PgStore) ListLogs(ctx context.Context, appointmentID uuid.UUID) ([]AppointmentLog, error) {
	rows, err := s.conn(ctx).Query(ctx, `
		SELECT `+auditLogCols+`
		FROM appointment_logs
		WHERE appointment_id = $1
		ORDER BY created_at, id
	`, appointmentID)
	if err != nil {
		return nil, storageErr("query audit logs", err)
	}
	defer rows.Close()

	var out []AppointmentLog
	for rows.Next() {
		var l AppointmentLog
		if err := rows.Scan(&l.ID, &l.AppointmentID, &l.Action, &l.ActorID, &l.Notes,
			&l.Before, &l.After, &l.CreatedAt); err != nil {
			return nil, storageErr("scan audit log", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate audit logs", err)
	}
	return out, nil
}

// Reminders

func (s *PgStore) CreateReminder(ctx context.Context, rem *AppointmentReminder) error {
	now := time.Now()
	rem.CreatedAt = now
	rem.UpdatedAt = now
	_, err := s.conn(ctx).Exec(ctx, `
		INSERT INTO appointment_reminders (id, appointment_id, channel, scheduled_for,
			sent_at, status, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`, rem.ID, rem.AppointmentID, rem.Channel, rem.ScheduledFor, rem.SentAt,
		rem.Status, rem.Attempts, now)
	if err != nil {
		return storageErr("insert reminder", err)
	}
	return nil
}

func (s *PgStore) GetReminderByID(ctx context.Context, id uuid.UUID) (*AppointmentReminder, error) {
	return scanReminder(s.conn(ctx).QueryRow(ctx, `
		SELECT `+reminderCols+`
		FROM appointment_reminders
		WHERE id = $1
	`, id))
}

// UpdateReminder records a delivery outcome. The status guard makes the
// reminder leave pending at most once: a sweep working from a stale read
// cannot overwrite a concurrent cancel or send.
func (s *PgStore) UpdateReminder(ctx context.Context, rem *AppointmentReminder) error {
	tag, err := s.conn(ctx).Exec(ctx, `
		UPDATE appointment_reminders
		SET sent_at = $2,
		    status = $3,
		    attempts = $4,
		    updated_at = now()
		WHERE id = $1
		  AND status = 'pending'
	`, rem.ID, rem.SentAt, rem.Status, rem.Attempts)
	if err != nil {
		return storageErr("update reminder", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrReminderNotFound
	}
	return nil
}

func (s *PgStore) DueReminders(ctx context.Context, now time.Time) ([]AppointmentReminder, error) {
	rows, err := s.conn(ctx).Query(ctx, `
		SELECT `+reminderCols+`
		FROM appointment_reminders
		WHERE status = 'pending'
		  AND scheduled_for <= $1
		ORDER BY scheduled_for
	`, now)
	if err != nil {
		return nil, storageErr("query due reminders", err)
	}
	defer rows.Close()

	var out []AppointmentReminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate reminders", err)
	}
	return out, nil
}

func (s *PgStore) CancelPendingReminders(ctx context.Context, appointmentID uuid.UUID) (int, error) {
	tag, err := s.conn(ctx).Exec(ctx, `
		UPDATE appointment_reminders
		SET status = 'cancelled',
		    updated_at = now()
		WHERE appointment_id = $1
		  AND status = 'pending'
	`, appointmentID)
	if err != nil {
		return 0, storageErr("cancel pending reminders", err)
	}
	return int(tag.RowsAffected()), nil
}

// Waiting list

func (s *PgStore) CreateWaitlistEntry(ctx context.Context, entry *WaitingListEntry) error {
	now := time.Now()
	entry.CreatedAt = now
	entry.UpdatedAt = now
	_, err := s.conn(ctx).Exec(ctx, `
		INSERT INTO waiting_list_entries (id, patient_id, doctor_id, preferred_date,
			preferred_start, preferred_end, priority, active, notified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
	`, entry.ID, entry.PatientID, entry.DoctorID, entry.PreferredDate,
		entry.PreferredStart, entry.PreferredEnd, entry.Priority, entry.Active,
		entry.Notified, now)
	if err != nil {
		return storageErr("insert waiting list entry", err)
	}
	return nil
}

func (s *PgStore) GetWaitlistEntryByID(ctx context.Context, id uuid.UUID) (*WaitingListEntry, error) {
	return scanWaitlistEntry(s.conn(ctx).QueryRow(ctx, `
		SELECT `+waitlistCols+`
		FROM waiting_list_entries
		WHERE id = $1
	`, id))
}

func (s *PgStore) MatchWaitlist(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]WaitingListEntry, error) {
	rows, err := s.conn(ctx).Query(ctx, `
		SELECT `+waitlistCols+`
		FROM waiting_list_entries
		WHERE doctor_id = $1
		  AND preferred_date = $2
		  AND active
		  AND NOT notified
		ORDER BY priority, created_at
	`, doctorID, date)
	if err != nil {
		return nil, storageErr("query waiting list", err)
	}
	defer rows.Close()

	var out []WaitingListEntry
	for rows.Next() {
		w, err := scanWaitlistEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate waiting list", err)
	}
	return out, nil
}

// MarkWaitlistNotified flips the flag with a guard so two releases matching
// the same entry concurrently produce a single notification.
func (s *PgStore) MarkWaitlistNotified(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.conn(ctx).Exec(ctx, `
		UPDATE waiting_list_entries
		SET notified = true,
		    updated_at = now()
		WHERE id = $1
		  AND active
		  AND NOT notified
	`, id)
	if err != nil {
		return false, storageErr("mark waiting list entry notified", err)
	}
	return tag.RowsAffected() == 1, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
