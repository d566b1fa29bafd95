package booking

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	redisclient "github.com/hospitalops/appointment-management/internal/redis"
)

// memRepo is an in-memory Repository. One mutex guards every method, so a
// reserve is the same check-then-set critical section the SQL conditional
// update provides.
type memRepo struct {
	mu           sync.Mutex
	today        time.Time
	patients     map[uuid.UUID]Patient
	doctors      map[uuid.UUID]Doctor
	departments  map[uuid.UUID]Department
	slots        map[uuid.UUID]*Slot
	appointments map[uuid.UUID]*Appointment
}

func newMemRepo(today time.Time) *memRepo {
	return &memRepo{
		today:        dateOnly(today),
		patients:     make(map[uuid.UUID]Patient),
		doctors:      make(map[uuid.UUID]Doctor),
		departments:  make(map[uuid.UUID]Department),
		slots:        make(map[uuid.UUID]*Slot),
		appointments: make(map[uuid.UUID]*Appointment),
	}
}

func (m *memRepo) InTx(ctx context.Context, fn func(Repository) error) error {
	return fn(m)
}

func (m *memRepo) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (m *memRepo) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &d, nil
}

func (m *memRepo) GetDepartmentByID(ctx context.Context, id uuid.UUID) (*Department, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.departments[id]
	if !ok {
		return nil, ErrDepartmentNotFound
	}
	return &d, nil
}

func (m *memRepo) GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memRepo) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memRepo) GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return m.detailLocked(a), nil
}

func (m *memRepo) detailLocked(a *Appointment) *AppointmentDetail {
	cp := *a
	return &AppointmentDetail{
		Appointment:    cp,
		PatientName:    m.patients[a.PatientID].Name,
		DoctorName:     m.doctors[a.DoctorID].Name,
		DepartmentName: m.departments[a.DepartmentID].Name,
	}
}

func (m *memRepo) CountActiveAppointments(ctx context.Context, doctorID uuid.UUID, date time.Time, timeOfDay string, excludeID *uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.appointments {
		if excludeID != nil && a.ID == *excludeID {
			continue
		}
		if a.DoctorID == doctorID && a.Status.IsActive() &&
			a.AppointmentDate.Equal(date) && a.AppointmentTime == timeOfDay {
			n++
		}
	}
	return n, nil
}

func (m *memRepo) ReserveSlot(ctx context.Context, slotID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[slotID]
	if !ok {
		return ErrSlotNotFound
	}
	if s.IsBooked || s.AvailableDate.Before(m.today) {
		return ErrSlotUnavailable
	}
	s.IsBooked = true
	return nil
}

func (m *memRepo) ReleaseSlot(ctx context.Context, slotID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[slotID]
	if !ok {
		return ErrSlotNotFound
	}
	s.IsBooked = false
	return nil
}

func (m *memRepo) CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	cp.CreatedAt = time.Now()
	cp.UpdatedAt = cp.CreatedAt
	m.appointments[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *memRepo) UpdateAppointment(ctx context.Context, a *Appointment, expect AppointmentStatus) (*Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.appointments[a.ID]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if cur.Status != expect {
		return nil, ErrStaleAppointment
	}
	cp := *a
	cp.CreatedAt = cur.CreatedAt
	cp.UpdatedAt = time.Now()
	m.appointments[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *memRepo) ListDepartments(ctx context.Context) ([]Department, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Department
	for _, d := range m.departments {
		if d.IsActive {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *memRepo) ListDoctorsByDepartment(ctx context.Context, departmentID uuid.UUID) ([]Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Doctor
	for _, d := range m.doctors {
		if d.IsActive && d.DepartmentID == departmentID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *memRepo) ListAvailableSlots(ctx context.Context, f SlotFilter) ([]AvailableSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []AvailableSlot
	for _, s := range m.slots {
		if s.IsBooked {
			continue
		}
		if f.DoctorID != nil && s.DoctorID != *f.DoctorID {
			continue
		}
		doc := m.doctors[s.DoctorID]
		out = append(out, AvailableSlot{
			SlotID:         s.ID,
			DoctorID:       s.DoctorID,
			DoctorName:     doc.Name,
			DepartmentName: m.departments[doc.DepartmentID].Name,
			AvailableDate:  s.AvailableDate,
			StartTime:      s.StartTime,
			EndTime:        s.EndTime,
		})
	}
	return out, nil
}

func (m *memRepo) ListAppointments(ctx context.Context, f AppointmentFilter, limit, offset int) ([]AppointmentDetail, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []AppointmentDetail
	for _, a := range m.appointments {
		if f.PatientID != nil && a.PatientID != *f.PatientID {
			continue
		}
		if f.DoctorID != nil && a.DoctorID != *f.DoctorID {
			continue
		}
		if f.Status != nil && a.Status != *f.Status {
			continue
		}
		all = append(all, *m.detailLocked(a))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID.String() < all[j].ID.String() })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *memRepo) ListPendingByDoctor(ctx context.Context, doctorID uuid.UUID) ([]PendingAppointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []PendingAppointment
	for _, a := range m.appointments {
		if a.DoctorID != doctorID || a.Status != StatusPending {
			continue
		}
		p := m.patients[a.PatientID]
		doc := m.doctors[a.DoctorID]
		out = append(out, PendingAppointment{
			ID:              a.ID,
			DoctorID:        a.DoctorID,
			PatientName:     p.Name,
			PatientPhone:    p.Phone,
			DoctorName:      doc.Name,
			DepartmentName:  m.departments[a.DepartmentID].Name,
			AppointmentDate: a.AppointmentDate,
			AppointmentTime: a.AppointmentTime,
			Reason:          a.Reason,
			CreatedAt:       a.CreatedAt,
		})
	}
	return out, nil
}

func (m *memRepo) ListPatientAppointments(ctx context.Context, patientID uuid.UUID, status *AppointmentStatus) ([]AppointmentDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []AppointmentDetail
	for _, a := range m.appointments {
		if a.PatientID != patientID {
			continue
		}
		if status != nil && a.Status != *status {
			continue
		}
		out = append(out, *m.detailLocked(a))
	}
	return out, nil
}

// recordingNotifier counts delivery attempts per event kind.
type recordingNotifier struct {
	mu        sync.Mutex
	confirmed []Snapshot
	cancelled []Snapshot
}

func (n *recordingNotifier) AppointmentConfirmed(ctx context.Context, snap Snapshot) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.confirmed = append(n.confirmed, snap)
	return true
}

func (n *recordingNotifier) AppointmentCancelled(ctx context.Context, snap Snapshot) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cancelled = append(n.cancelled, snap)
	return true
}

// passLocker runs the critical section without any locking, leaving the
// store-level reserve as the only guard.
type passLocker struct{}

func (passLocker) WithSlotLock(ctx context.Context, slotID uuid.UUID, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type busyLocker struct{}

func (busyLocker) WithSlotLock(ctx context.Context, slotID uuid.UUID, fn func(ctx context.Context) error) error {
	return redisclient.ErrLockNotAcquired
}

type fixture struct {
	repo     *memRepo
	notifier *recordingNotifier
	svc      *Service
	now      time.Time

	dept      Department
	otherDept Department
	doctor    Doctor
	doctor2   Doctor
	patient   Patient
	patient2  Patient
	slot      *Slot
	slot2     *Slot
	slotDoc2  *Slot
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	f := &fixture{
		repo:     newMemRepo(now),
		notifier: &recordingNotifier{},
		now:      now,
	}

	f.dept = Department{ID: uuid.New(), Name: "Cardiology", IsActive: true}
	f.otherDept = Department{ID: uuid.New(), Name: "Neurology", IsActive: true}
	f.doctor = Doctor{ID: uuid.New(), Name: "Dr. Reyes", DepartmentID: f.dept.ID, IsActive: true}
	f.doctor2 = Doctor{ID: uuid.New(), Name: "Dr. Okafor", DepartmentID: f.otherDept.ID, IsActive: true}
	f.patient = Patient{ID: uuid.New(), Name: "Mai Tran"}
	f.patient2 = Patient{ID: uuid.New(), Name: "Jon Berg"}

	date := time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC)
	f.slot = &Slot{ID: uuid.New(), DoctorID: f.doctor.ID, AvailableDate: date, StartTime: "10:00:00", EndTime: "10:30:00"}
	f.slot2 = &Slot{ID: uuid.New(), DoctorID: f.doctor.ID, AvailableDate: date, StartTime: "11:00:00", EndTime: "11:30:00"}
	f.slotDoc2 = &Slot{ID: uuid.New(), DoctorID: f.doctor2.ID, AvailableDate: date, StartTime: "10:00:00", EndTime: "10:30:00"}

	f.repo.departments[f.dept.ID] = f.dept
	f.repo.departments[f.otherDept.ID] = f.otherDept
	f.repo.doctors[f.doctor.ID] = f.doctor
	f.repo.doctors[f.doctor2.ID] = f.doctor2
	f.repo.patients[f.patient.ID] = f.patient
	f.repo.patients[f.patient2.ID] = f.patient2
	f.repo.slots[f.slot.ID] = f.slot
	f.repo.slots[f.slot2.ID] = f.slot2
	f.repo.slots[f.slotDoc2.ID] = f.slotDoc2

	f.svc = NewService(f.repo, passLocker{}, f.notifier, zap.NewNop())
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) book(t *testing.T) *AppointmentDetail {
	t.Helper()
	detail, err := f.svc.CreateAppointment(context.Background(), CreateAppointmentInput{
		PatientID:    f.patient.ID,
		DoctorID:     f.doctor.ID,
		DepartmentID: f.dept.ID,
		SlotID:       f.slot.ID,
		Reason:       "chest pain follow-up",
	})
	require.NoError(t, err)
	return detail
}

func TestCreateAppointment(t *testing.T) {
	f := newFixture(t)

	detail := f.book(t)

	assert.Equal(t, StatusPending, detail.Status)
	assert.Equal(t, f.slot.AvailableDate, detail.AppointmentDate)
	assert.Equal(t, "10:00:00", detail.AppointmentTime)
	assert.Equal(t, "Mai Tran", detail.PatientName)
	assert.Equal(t, "Dr. Reyes", detail.DoctorName)
	assert.Equal(t, "Cardiology", detail.DepartmentName)
	assert.True(t, f.repo.slots[f.slot.ID].IsBooked, "slot should be booked")

	got, err := f.svc.GetAppointment(context.Background(), detail.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
}

func TestCreateAppointmentValidation(t *testing.T) {
	in := func(f *fixture) CreateAppointmentInput {
		return CreateAppointmentInput{
			PatientID:    f.patient.ID,
			DoctorID:     f.doctor.ID,
			DepartmentID: f.dept.ID,
			SlotID:       f.slot.ID,
			Reason:       "checkup",
		}
	}

	t.Run("unknown patient", func(t *testing.T) {
		f := newFixture(t)
		req := in(f)
		req.PatientID = uuid.New()
		_, err := f.svc.CreateAppointment(context.Background(), req)
		assert.ErrorIs(t, err, ErrPatientNotFound)
	})

	t.Run("inactive doctor", func(t *testing.T) {
		f := newFixture(t)
		d := f.doctor
		d.IsActive = false
		f.repo.doctors[d.ID] = d
		_, err := f.svc.CreateAppointment(context.Background(), in(f))
		assert.ErrorIs(t, err, ErrDoctorNotFound)
	})

	t.Run("department mismatch", func(t *testing.T) {
		f := newFixture(t)
		req := in(f)
		req.DepartmentID = f.otherDept.ID
		_, err := f.svc.CreateAppointment(context.Background(), req)
		assert.ErrorIs(t, err, ErrDepartmentMismatch)
	})

	t.Run("slot owned by another doctor", func(t *testing.T) {
		f := newFixture(t)
		req := in(f)
		req.SlotID = f.slotDoc2.ID
		_, err := f.svc.CreateAppointment(context.Background(), req)
		assert.ErrorIs(t, err, ErrSlotNotOwnedByDoctor)
	})

	t.Run("slot already booked", func(t *testing.T) {
		f := newFixture(t)
		f.repo.slots[f.slot.ID].IsBooked = true
		_, err := f.svc.CreateAppointment(context.Background(), in(f))
		assert.ErrorIs(t, err, ErrSlotUnavailable)
	})

	t.Run("slot date in the past", func(t *testing.T) {
		f := newFixture(t)
		f.repo.slots[f.slot.ID].AvailableDate = f.now.AddDate(0, 0, -1)
		_, err := f.svc.CreateAppointment(context.Background(), in(f))
		assert.ErrorIs(t, err, ErrSlotUnavailable)
	})

	t.Run("slot lock busy", func(t *testing.T) {
		f := newFixture(t)
		f.svc.locker = busyLocker{}
		_, err := f.svc.CreateAppointment(context.Background(), in(f))
		assert.ErrorIs(t, err, ErrSlotBeingBooked)
	})
}

func TestCreateConcurrentSameSlot(t *testing.T) {
	f := newFixture(t)

	in := CreateAppointmentInput{
		PatientID:    f.patient.ID,
		DoctorID:     f.doctor.ID,
		DepartmentID: f.dept.ID,
		SlotID:       f.slot.ID,
		Reason:       "checkup",
	}
	in2 := in
	in2.PatientID = f.patient2.ID

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := f.svc.CreateAppointment(context.Background(), in)
		errs <- err
	}()
	go func() {
		defer wg.Done()
		_, err := f.svc.CreateAppointment(context.Background(), in2)
		errs <- err
	}()
	wg.Wait()
	close(errs)

	var succeeded, conflicted int
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errorIsAny(err, ErrSlotUnavailable, ErrDoctorDoubleBooked):
			conflicted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, succeeded, "exactly one booking should win the slot")
	assert.Equal(t, 1, conflicted, "the loser should see a conflict")
	assert.True(t, f.repo.slots[f.slot.ID].IsBooked)
	assert.Len(t, f.repo.appointments, 1)
}

func errorIsAny(err error, targets ...error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func TestCreateAppointmentDoctorConflict(t *testing.T) {
	f := newFixture(t)

	// An active appointment at the same date/time on a different slot.
	existingID := uuid.New()
	f.repo.appointments[existingID] = &Appointment{
		ID:              existingID,
		PatientID:       f.patient2.ID,
		DoctorID:        f.doctor.ID,
		DepartmentID:    f.dept.ID,
		SlotID:          f.slot2.ID,
		AppointmentDate: f.slot.AvailableDate,
		AppointmentTime: f.slot.StartTime,
		Status:          StatusConfirmed,
	}

	_, err := f.svc.CreateAppointment(context.Background(), CreateAppointmentInput{
		PatientID:    f.patient.ID,
		DoctorID:     f.doctor.ID,
		DepartmentID: f.dept.ID,
		SlotID:       f.slot.ID,
		Reason:       "checkup",
	})
	assert.ErrorIs(t, err, ErrDoctorDoubleBooked)
	assert.False(t, f.repo.slots[f.slot.ID].IsBooked, "a detected conflict must not reserve the slot")
}

func TestConfirmAppointment(t *testing.T) {
	t.Run("confirm notifies once", func(t *testing.T) {
		f := newFixture(t)
		detail := f.book(t)

		appt, err := f.svc.ConfirmAppointment(context.Background(), detail.ID, f.doctor.ID, "confirm", "")
		require.NoError(t, err)

		assert.Equal(t, StatusConfirmed, appt.Status)
		require.NotNil(t, appt.ConfirmedBy)
		assert.Equal(t, f.doctor.ID, *appt.ConfirmedBy)
		assert.NotNil(t, appt.ConfirmedAt)
		assert.Len(t, f.notifier.confirmed, 1)
		assert.Empty(t, f.notifier.cancelled)
	})

	t.Run("reject releases slot and stays silent", func(t *testing.T) {
		f := newFixture(t)
		detail := f.book(t)

		appt, err := f.svc.ConfirmAppointment(context.Background(), detail.ID, f.doctor.ID, "reject", "fully booked that day")
		require.NoError(t, err)

		assert.Equal(t, StatusRejected, appt.Status)
		require.NotNil(t, appt.RejectionReason)
		assert.Equal(t, "fully booked that day", *appt.RejectionReason)
		assert.NotNil(t, appt.RejectedAt)
		assert.False(t, f.repo.slots[f.slot.ID].IsBooked, "rejected appointment must free its slot")
		assert.Empty(t, f.notifier.confirmed)
		assert.Empty(t, f.notifier.cancelled)
	})

	t.Run("reject requires a reason", func(t *testing.T) {
		f := newFixture(t)
		detail := f.book(t)

		_, err := f.svc.ConfirmAppointment(context.Background(), detail.ID, f.doctor.ID, "reject", "   ")
		assert.ErrorIs(t, err, ErrRejectionReasonRequired)
	})

	t.Run("unknown action", func(t *testing.T) {
		f := newFixture(t)
		detail := f.book(t)

		_, err := f.svc.ConfirmAppointment(context.Background(), detail.ID, f.doctor.ID, "approve", "")
		assert.ErrorIs(t, err, ErrInvalidConfirmAction)
	})

	t.Run("only the owning doctor may confirm", func(t *testing.T) {
		f := newFixture(t)
		detail := f.book(t)

		_, err := f.svc.ConfirmAppointment(context.Background(), detail.ID, f.doctor2.ID, "confirm", "")
		assert.ErrorIs(t, err, ErrNotAppointmentDoctor)
	})

	t.Run("already confirmed", func(t *testing.T) {
		f := newFixture(t)
		detail := f.book(t)

		_, err := f.svc.ConfirmAppointment(context.Background(), detail.ID, f.doctor.ID, "confirm", "")
		require.NoError(t, err)

		_, err = f.svc.ConfirmAppointment(context.Background(), detail.ID, f.doctor.ID, "confirm", "")
		assert.ErrorIs(t, err, ErrInvalidStatusTransition)
	})
}

func TestUpdateAppointment(t *testing.T) {
	t.Run("reason only leaves slot and status alone", func(t *testing.T) {
		f := newFixture(t)
		detail := f.book(t)

		reason := "second opinion"
		updated, err := f.svc.UpdateAppointment(context.Background(), detail.ID, f.patient.ID, UpdateAppointmentInput{Reason: &reason})
		require.NoError(t, err)

		assert.Equal(t, "second opinion", updated.Reason)
		assert.Equal(t, StatusPending, updated.Status)
		assert.Equal(t, f.slot.ID, updated.SlotID)
		assert.True(t, f.repo.slots[f.slot.ID].IsBooked)
	})

	t.Run("slot change transfers the reservation", func(t *testing.T) {
		f := newFixture(t)
		detail := f.book(t)

		updated, err := f.svc.UpdateAppointment(context.Background(), detail.ID, f.patient.ID, UpdateAppointmentInput{SlotID: &f.slot2.ID})
		require.NoError(t, err)

		assert.Equal(t, f.slot2.ID, updated.SlotID)
		assert.Equal(t, "11:00:00", updated.AppointmentTime)
		assert.False(t, f.repo.slots[f.slot.ID].IsBooked, "old slot should be released")
		assert.True(t, f.repo.slots[f.slot2.ID].IsBooked, "new slot should be booked")
	})

	t.Run("doctor change adopts the new department", func(t *testing.T) {
		f := newFixture(t)
		detail := f.book(t)

		updated, err := f.svc.UpdateAppointment(context.Background(), detail.ID, f.patient.ID, UpdateAppointmentInput{
			DoctorID: &f.doctor2.ID,
			SlotID:   &f.slotDoc2.ID,
		})
		require.NoError(t, err)

		assert.Equal(t, f.doctor2.ID, updated.DoctorID)
		assert.Equal(t, f.otherDept.ID, updated.DepartmentID)
		assert.Equal(t, f.slotDoc2.ID, updated.SlotID)
		assert.False(t, f.repo.slots[f.slot.ID].IsBooked)
		assert.True(t, f.repo.slots[f.slotDoc2.ID].IsBooked)
	})

	t.Run("new slot must belong to the resulting doctor", func(t *testing.T) {
		f := newFixture(t)
		detail := f.book(t)

		_, err := f.svc.UpdateAppointment(context.Background(), detail.ID, f.patient.ID, UpdateAppointmentInput{SlotID: &f.slotDoc2.ID})
		assert.ErrorIs(t, err, ErrSlotNotOwnedByDoctor)
	})

	t.Run("only the owning patient may update", func(t *testing.T) {
		f := newFixture(t)
		detail := f.book(t)

		reason := "x"
		_, err := f.svc.UpdateAppointment(context.Background(), detail.ID, f.patient2.ID, UpdateAppointmentInput{Reason: &reason})
		assert.ErrorIs(t, err, ErrNotAppointmentPatient)
	})

	t.Run("past appointment cannot be updated", func(t *testing.T) {
		f := newFixture(t)
		detail := f.book(t)
		f.now = f.now.AddDate(0, 0, 5)

		reason := "x"
		_, err := f.svc.UpdateAppointment(context.Background(), detail.ID, f.patient.ID, UpdateAppointmentInput{Reason: &reason})
		assert.ErrorIs(t, err, ErrAppointmentInPast)
	})

	t.Run("cancelled appointment cannot be updated", func(t *testing.T) {
		f := newFixture(t)
		detail := f.book(t)
		_, err := f.svc.CancelAppointment(context.Background(), detail.ID, CancelledByPatient, f.patient.ID, nil)
		require.NoError(t, err)

		reason := "x"
		_, err = f.svc.UpdateAppointment(context.Background(), detail.ID, f.patient.ID, UpdateAppointmentInput{Reason: &reason})
		assert.ErrorIs(t, err, ErrInvalidStatusTransition)
	})
}

func TestCancelAppointment(t *testing.T) {
	t.Run("pending cancel releases slot without notification", func(t *testing.T) {
		f := newFixture(t)
		detail := f.book(t)

		appt, err := f.svc.CancelAppointment(context.Background(), detail.ID, CancelledByPatient, f.patient.ID, nil)
		require.NoError(t, err)

		assert.Equal(t, StatusCancelled, appt.Status)
		require.NotNil(t, appt.CancelledBy)
		assert.Equal(t, CancelledByPatient, *appt.CancelledBy)
		assert.NotNil(t, appt.CancelledAt)
		assert.False(t, f.repo.slots[f.slot.ID].IsBooked)
		assert.Empty(t, f.notifier.confirmed)
		assert.Empty(t, f.notifier.cancelled, "cancelling a never-confirmed appointment must not notify")
	})

	t.Run("doctor may cancel their own appointment", func(t *testing.T) {
		f := newFixture(t)
		detail := f.book(t)

		reason := "doctor unavailable"
		appt, err := f.svc.CancelAppointment(context.Background(), detail.ID, CancelledByDoctor, f.doctor.ID, &reason)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, appt.Status)
	})

	t.Run("mismatched owner is forbidden", func(t *testing.T) {
		f := newFixture(t)
		detail := f.book(t)

		_, err := f.svc.CancelAppointment(context.Background(), detail.ID, CancelledByPatient, f.patient2.ID, nil)
		assert.ErrorIs(t, err, ErrNotCancelOwner)

		_, err = f.svc.CancelAppointment(context.Background(), detail.ID, CancelledByDoctor, f.doctor2.ID, nil)
		assert.ErrorIs(t, err, ErrNotCancelOwner)
	})

	t.Run("unknown actor", func(t *testing.T) {
		f := newFixture(t)
		detail := f.book(t)

		_, err := f.svc.CancelAppointment(context.Background(), detail.ID, CancelActor("ADMIN"), f.patient.ID, nil)
		assert.ErrorIs(t, err, ErrInvalidCancelActor)
	})

	t.Run("cancel of cancelled", func(t *testing.T) {
		f := newFixture(t)
		detail := f.book(t)

		_, err := f.svc.CancelAppointment(context.Background(), detail.ID, CancelledByPatient, f.patient.ID, nil)
		require.NoError(t, err)

		_, err = f.svc.CancelAppointment(context.Background(), detail.ID, CancelledByPatient, f.patient.ID, nil)
		assert.ErrorIs(t, err, ErrAlreadyCancelled)
	})

	t.Run("inside the notice window is denied before any mutation", func(t *testing.T) {
		f := newFixture(t)
		detail := f.book(t)

		// 90 minutes before a regular appointment.
		f.now = time.Date(2026, 3, 12, 8, 30, 0, 0, time.UTC)

		_, err := f.svc.CancelAppointment(context.Background(), detail.ID, CancelledByPatient, f.patient.ID, nil)
		assert.ErrorIs(t, err, ErrCancellationTooLate)

		got, err := f.svc.GetAppointment(context.Background(), detail.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, got.Status, "denied cancel must not mutate")
		assert.True(t, f.repo.slots[f.slot.ID].IsBooked)
	})

	t.Run("emergency keeps the shorter window", func(t *testing.T) {
		f := newFixture(t)
		detail, err := f.svc.CreateAppointment(context.Background(), CreateAppointmentInput{
			PatientID:    f.patient.ID,
			DoctorID:     f.doctor.ID,
			DepartmentID: f.dept.ID,
			SlotID:       f.slot.ID,
			Reason:       "acute pain",
			IsEmergency:  true,
		})
		require.NoError(t, err)

		// 90 minutes ahead: too late for regular, fine for emergency.
		f.now = time.Date(2026, 3, 12, 8, 30, 0, 0, time.UTC)

		appt, err := f.svc.CancelAppointment(context.Background(), detail.ID, CancelledByPatient, f.patient.ID, nil)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, appt.Status)
	})
}

func TestBookConfirmCancelLifecycle(t *testing.T) {
	f := newFixture(t)
	detail := f.book(t)

	_, err := f.svc.ConfirmAppointment(context.Background(), detail.ID, f.doctor.ID, "confirm", "")
	require.NoError(t, err)

	// Three hours of lead time before the 10:00 start.
	f.now = time.Date(2026, 3, 12, 7, 0, 0, 0, time.UTC)

	reason := "conflict came up"
	appt, err := f.svc.CancelAppointment(context.Background(), detail.ID, CancelledByPatient, f.patient.ID, &reason)
	require.NoError(t, err)

	assert.Equal(t, StatusCancelled, appt.Status)
	assert.False(t, f.repo.slots[f.slot.ID].IsBooked)
	require.Len(t, f.notifier.confirmed, 1)
	require.Len(t, f.notifier.cancelled, 1)

	snap := f.notifier.cancelled[0]
	assert.Equal(t, detail.ID, snap.AppointmentID)
	require.NotNil(t, snap.CancelledBy)
	assert.Equal(t, CancelledByPatient, *snap.CancelledBy)
	require.NotNil(t, snap.CancellationReason)
	assert.Equal(t, "conflict came up", *snap.CancellationReason)
}

func TestListAppointmentsPagination(t *testing.T) {
	t.Run("no matches", func(t *testing.T) {
		f := newFixture(t)
		_, _, err := f.svc.ListAppointments(context.Background(), AppointmentFilter{}, 1, 20)
		assert.ErrorIs(t, err, ErrNoAppointmentsFound)
	})

	t.Run("page past the end", func(t *testing.T) {
		f := newFixture(t)
		f.book(t)
		_, _, err := f.svc.ListAppointments(context.Background(), AppointmentFilter{}, 5, 20)
		assert.ErrorIs(t, err, ErrPageOutOfRange)
	})

	t.Run("single page", func(t *testing.T) {
		f := newFixture(t)
		f.book(t)
		items, total, err := f.svc.ListAppointments(context.Background(), AppointmentFilter{}, 1, 20)
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		assert.Len(t, items, 1)
	})
}

func TestGetPatientAppointments(t *testing.T) {
	f := newFixture(t)
	f.book(t)

	items, err := f.svc.GetPatientAppointments(context.Background(), f.patient.ID, "pending")
	require.NoError(t, err)
	assert.Len(t, items, 1)

	items, err = f.svc.GetPatientAppointments(context.Background(), f.patient.ID, "")
	require.NoError(t, err)
	assert.Len(t, items, 1)

	_, err = f.svc.GetPatientAppointments(context.Background(), f.patient.ID, "bogus")
	assert.ErrorIs(t, err, ErrInvalidStatusFilter)
}

func TestResolveUserProfile(t *testing.T) {
	f := newFixture(t)

	profile, err := f.svc.ResolveUserProfile(context.Background(), f.doctor.ID)
	require.NoError(t, err)
	assert.Equal(t, RoleDoctor, profile.Role)
	require.NotNil(t, profile.Doctor)
	assert.Equal(t, f.doctor.ID, profile.Doctor.ID)

	profile, err = f.svc.ResolveUserProfile(context.Background(), f.patient.ID)
	require.NoError(t, err)
	assert.Equal(t, RolePatient, profile.Role)
	require.NotNil(t, profile.Patient)

	profile, err = f.svc.ResolveUserProfile(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, RoleUnknown, profile.Role)
}
