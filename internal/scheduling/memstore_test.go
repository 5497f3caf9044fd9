package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// memStore is an in-memory Store used by the package tests. Reserve,
// release, and the status compare-and-set are atomic under the data mutex,
// matching the guarantees of the Postgres implementation. InTx serializes
// transactions and restores a snapshot on rollback.
type memStore struct {
	mu sync.Mutex
	// txMu serializes whole transactions so a rollback cannot clobber a
	// concurrent transaction's writes.
	txMu sync.Mutex

	doctors   map[uuid.UUID]Doctor
	patients  map[uuid.UUID]Patient
	slots     map[uuid.UUID]TimeSlot
	appts     map[uuid.UUID]Appointment
	logs      []AppointmentLog
	nextLogID int64
	reminders map[uuid.UUID]AppointmentReminder
	waitlist  map[uuid.UUID]WaitingListEntry
	wlSeq     map[uuid.UUID]int
	seq       int

	// failAppendLog forces audit writes to fail, for rollback tests.
	failAppendLog bool
}

func newMemStore() *memStore {
	return &memStore{
		doctors:   make(map[uuid.UUID]Doctor),
		patients:  make(map[uuid.UUID]Patient),
		slots:     make(map[uuid.UUID]TimeSlot),
		appts:     make(map[uuid.UUID]Appointment),
		reminders: make(map[uuid.UUID]AppointmentReminder),
		waitlist:  make(map[uuid.UUID]WaitingListEntry),
		wlSeq:     make(map[uuid.UUID]int),
	}
}

type memTxKey struct{}

func (m *memStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}

	m.txMu.Lock()
	defer m.txMu.Unlock()

	snap := m.snapshot()
	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memSnapshot struct {
	doctors   map[uuid.UUID]Doctor
	patients  map[uuid.UUID]Patient
	slots     map[uuid.UUID]TimeSlot
	appts     map[uuid.UUID]Appointment
	logs      []AppointmentLog
	nextLogID int64
	reminders map[uuid.UUID]AppointmentReminder
	waitlist  map[uuid.UUID]WaitingListEntry
	wlSeq     map[uuid.UUID]int
	seq       int
}

func (m *memStore) snapshot() memSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memSnapshot{
		doctors:   cloneMap(m.doctors),
		patients:  cloneMap(m.patients),
		slots:     cloneMap(m.slots),
		appts:     cloneMap(m.appts),
		logs:      append([]AppointmentLog(nil), m.logs...),
		nextLogID: m.nextLogID,
		reminders: cloneMap(m.reminders),
		waitlist:  cloneMap(m.waitlist),
		wlSeq:     cloneMap(m.wlSeq),
		seq:       m.seq,
	}
}

func (m *memStore) restore(snap memSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doctors = snap.doctors
	m.patients = snap.patients
	m.slots = snap.slots
	m.appts = snap.appts
	m.logs = snap.logs
	m.nextLogID = snap.nextLogID
	m.reminders = snap.reminders
	m.waitlist = snap.waitlist
	m.wlSeq = snap.wlSeq
	m.seq = snap.seq
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (m *memStore) GetDoctorByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &d, nil
}

func (m *memStore) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (m *memStore) CreateSlot(_ context.Context, slot *TimeSlot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[slot.ID] = *slot
	return nil
}

func (m *memStore) GetSlotByID(_ context.Context, id uuid.UUID) (*TimeSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	return &s, nil
}

func (m *memStore) ReserveSlot(_ context.Context, id uuid.UUID) (*TimeSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	if !s.Available {
		return nil, ErrSlotUnavailable
	}
	if s.Occupancy >= s.Capacity {
		return nil, ErrCapacityExhausted
	}
	s.Occupancy++
	s.IsBooked = s.Occupancy >= s.Capacity
	m.slots[id] = s
	return &s, nil
}

func (m *memStore) ReleaseSlot(_ context.Context, id uuid.UUID) (*TimeSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	if s.Occupancy == 0 {
		return nil, ErrOccupancyUnderflow
	}
	s.Occupancy--
	s.IsBooked = false
	m.slots[id] = s
	return &s, nil
}

func (m *memStore) FindSlotsByDoctorDate(_ context.Context, doctorID uuid.UUID, date time.Time) ([]TimeSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []TimeSlot
	for _, s := range m.slots {
		if s.DoctorID == doctorID && s.Date.Equal(date) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (m *memStore) SlotExists(_ context.Context, doctorID uuid.UUID, startTime time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.slots {
		if s.DoctorID == doctorID && s.StartTime.Equal(startTime) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) FindOverlappingSlots(_ context.Context, doctorID uuid.UUID, start, end time.Time) ([]TimeSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []TimeSlot
	for _, s := range m.slots {
		if s.DoctorID == doctorID && s.StartTime.Before(end) && start.Before(s.EndTime) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStore) MarkSlotUnavailable(_ context.Context, id uuid.UUID) (*TimeSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	s.Available = false
	m.slots[id] = s
	return &s, nil
}

func (m *memStore) CreateAppointment(_ context.Context, appt *Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	appt.CreatedAt = time.Now()
	appt.UpdatedAt = appt.CreatedAt
	m.appts[appt.ID] = *appt
	return nil
}

func (m *memStore) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (m *memStore) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to AppointmentStatus, reason *string) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	if reason != nil {
		a.CancellationReason = reason
	}
	a.UpdatedAt = time.Now()
	m.appts[id] = a
	return &a, nil
}

func (m *memStore) FindLiveAppointments(_ context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Appointment
	for _, a := range m.appts {
		if a.DoctorID == doctorID && DateOf(a.StartTime).Equal(date) && a.Live() {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memStore) GetAppointmentDetail(_ context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	detail := AppointmentDetail{Appointment: a}
	if a.SlotID != nil {
		if s, ok := m.slots[*a.SlotID]; ok {
			detail.Slot = &s
		}
	}
	if p, ok := m.patients[a.PatientID]; ok {
		detail.Patient = &p
	}
	if d, ok := m.doctors[a.DoctorID]; ok {
		detail.Doctor = &d
	}
	return &detail, nil
}

func (m *memStore) ListAppointmentsByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]AppointmentDetail, error) {
	m.mu.Lock()
	var matched []Appointment
	for _, a := range m.appts {
		if a.PatientID == patientID {
			matched = append(matched, a)
		}
	}
	m.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].StartTime.After(matched[j].StartTime) })

	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]AppointmentDetail, 0, len(matched))
	for _, a := range matched {
		d, err := m.GetAppointmentDetail(context.Background(), a.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, nil
}

func (m *memStore) AppendLog(_ context.Context, entry *AppointmentLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAppendLog {
		return ErrStorageUnavailable
	}
	m.nextLogID++
	entry.ID = m.nextLogID
	m.logs = append(m.logs, *entry)
	return nil
}

func (m *memStore) ListLogs(_ context.Context, appointmentID uuid.UUID) ([]AppointmentLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []AppointmentLog
	for _, l := range m.logs {
		if l.AppointmentID == appointmentID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *memStore) CreateReminder(_ context.Context, rem *AppointmentReminder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reminders[rem.ID] = *rem
	return nil
}

func (m *memStore) GetReminderByID(_ context.Context, id uuid.UUID) (*AppointmentReminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reminders[id]
	if !ok {
		return nil, ErrReminderNotFound
	}
	return &r, nil
}

func (m *memStore) UpdateReminder(_ context.Context, rem *AppointmentReminder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.reminders[rem.ID]
	if !ok || cur.Status != ReminderPending {
		return ErrReminderNotFound
	}
	m.reminders[rem.ID] = *rem
	return nil
}

func (m *memStore) DueReminders(_ context.Context, now time.Time) ([]AppointmentReminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []AppointmentReminder
	for _, r := range m.reminders {
		if r.Status == ReminderPending && !r.ScheduledFor.After(now) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.Before(out[j].ScheduledFor) })
	return out, nil
}

func (m *memStore) CancelPendingReminders(_ context.Context, appointmentID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int
	for id, r := range m.reminders {
		if r.AppointmentID == appointmentID && r.Status == ReminderPending {
			r.Status = ReminderCancelled
			m.reminders[id] = r
			n++
		}
	}
	return n, nil
}

func (m *memStore) CreateWaitlistEntry(_ context.Context, entry *WaitingListEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	entry.CreatedAt = time.Now()
	m.waitlist[entry.ID] = *entry
	m.wlSeq[entry.ID] = m.seq
	return nil
}

func (m *memStore) GetWaitlistEntryByID(_ context.Context, id uuid.UUID) (*WaitingListEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.waitlist[id]
	if !ok {
		return nil, ErrWaitlistEntryNotFound
	}
	return &e, nil
}

func (m *memStore) MatchWaitlist(_ context.Context, doctorID uuid.UUID, date time.Time) ([]WaitingListEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []WaitingListEntry
	for _, e := range m.waitlist {
		if e.DoctorID == doctorID && e.PreferredDate.Equal(date) && e.Active && !e.Notified {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return m.wlSeq[out[i].ID] < m.wlSeq[out[j].ID]
	})
	return out, nil
}

func (m *memStore) MarkWaitlistNotified(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.waitlist[id]
	if !ok {
		return false, ErrWaitlistEntryNotFound
	}
	if e.Notified {
		return false, nil
	}
	e.Notified = true
	m.waitlist[id] = e
	return true, nil
}

// Fixture helpers.

func (m *memStore) addDoctor() uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.doctors[id] = Doctor{ID: id, Name: "Dr. Test"}
	return id
}

func (m *memStore) addPatient() uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	email := "patient@example.com"
	m.patients[id] = Patient{ID: id, Name: "Test Patient", Email: &email}
	return id
}

func (m *memStore) addSlot(doctorID uuid.UUID, start, end time.Time, capacity int) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.slots[id] = TimeSlot{
		ID:        id,
		DoctorID:  doctorID,
		Date:      DateOf(start),
		StartTime: start,
		EndTime:   end,
		Capacity:  capacity,
		Available: true,
	}
	return id
}

// passLocker grants every lock immediately.
type passLocker struct{}

func (passLocker) WithLock(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// keyedLocker grants locks with real per-key mutual exclusion and records
// the keys requested, for tests that exercise the critical sections.
type keyedLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
	keys  []string
}

func newKeyedLocker() *keyedLocker {
	return &keyedLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *keyedLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.keys = append(l.keys, key)
	l.mu.Unlock()

	m.Lock()
	defer m.Unlock()
	return fn(ctx)
}

func (l *keyedLocker) lastKey() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.keys) == 0 {
		return ""
	}
	return l.keys[len(l.keys)-1]
}

// deniedLocker simulates lock contention.
type deniedLocker struct {
	err error
}

func (l deniedLocker) WithLock(context.Context, string, func(ctx context.Context) error) error {
	return l.err
}

// fakeDispatcher records sends and optionally fails them.
type fakeDispatcher struct {
	mu    sync.Mutex
	sent  []fakeSend
	fail  bool
	errOn error
}

type fakeSend struct {
	Channel   ReminderChannel
	Recipient string
	Payload   []byte
}

func (d *fakeDispatcher) Send(_ context.Context, channel ReminderChannel, recipient string, payload []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return d.errOn
	}
	d.sent = append(d.sent, fakeSend{Channel: channel, Recipient: recipient, Payload: payload})
	return nil
}

func (d *fakeDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

func defaultPlan() ReminderPlan {
	return ReminderPlan{
		Offsets:     []time.Duration{24 * time.Hour, 2 * time.Hour},
		Channels:    []ReminderChannel{ChannelEmail},
		MaxAttempts: 3,
	}
}

func newTestService(store *memStore) (*Service, *fakeDispatcher) {
	dispatcher := &fakeDispatcher{}
	svc := NewService(store, passLocker{}, dispatcher, defaultPlan(), zerolog.Nop())
	return svc, dispatcher
}

// futureTime returns a deterministic clock time on a day far enough out
// that "must be in the future" validation never flakes.
func futureTime(hour, min int) time.Time {
	base := time.Now().UTC().AddDate(0, 0, 7)
	return time.Date(base.Year(), base.Month(), base.Day(), hour, min, 0, 0, time.UTC)
}
