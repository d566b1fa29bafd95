package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	pool *pgxpool.Pool
	q    querier
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool, q: pool}
}

// InTx runs fn against a transaction-bound repository. A repository already
// inside a transaction reuses it.
func (r *PgRepository) InTx(ctx context.Context, fn func(Repository) error) error {
	if _, ok := r.q.(pgx.Tx); ok {
		return fn(r)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&PgRepository{pool: r.pool, q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

const appointmentColumns = `id, patient_id, doctor_id, department_id, slot_id,
	appointment_date, appointment_time::text, reason, is_emergency, status,
	confirmed_by, confirmed_at, rejection_reason, rejected_at,
	cancelled_by, cancelled_at, cancellation_reason, created_at, updated_at`

// Helpers

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.Name, &p.Phone, &p.Email, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(&d.ID, &d.Name, &d.DepartmentID, &d.IsActive, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}
	return &d, nil
}

func scanDepartment(row pgx.Row) (*Department, error) {
	var d Department
	err := row.Scan(&d.ID, &d.Name, &d.IsActive, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDepartmentNotFound
		}
		return nil, err
	}
	return &d, nil
}

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	err := row.Scan(&s.ID, &s.DoctorID, &s.AvailableDate, &s.StartTime, &s.EndTime, &s.IsBooked, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}
	return &s, nil
}

func appointmentFields(a *Appointment, cancelledBy **string) []any {
	return []any{
		&a.ID, &a.PatientID, &a.DoctorID, &a.DepartmentID, &a.SlotID,
		&a.AppointmentDate, &a.AppointmentTime, &a.Reason, &a.IsEmergency, &a.Status,
		&a.ConfirmedBy, &a.ConfirmedAt, &a.RejectionReason, &a.RejectedAt,
		cancelledBy, &a.CancelledAt, &a.CancellationReason, &a.CreatedAt, &a.UpdatedAt,
	}
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var cancelledBy *string

	err := row.Scan(appointmentFields(&a, &cancelledBy)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	if cancelledBy != nil {
		actor := CancelActor(*cancelledBy)
		a.CancelledBy = &actor
	}
	return &a, nil
}

func scanAppointmentDetail(row pgx.Row) (*AppointmentDetail, error) {
	var d AppointmentDetail
	var cancelledBy *string

	fields := appointmentFields(&d.Appointment, &cancelledBy)
	fields = append(fields, &d.PatientName, &d.DoctorName, &d.DepartmentName)

	err := row.Scan(fields...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	if cancelledBy != nil {
		actor := CancelActor(*cancelledBy)
		d.CancelledBy = &actor
	}
	return &d, nil
}

// Lookups

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.q.QueryRow(ctx, `
		SELECT id, name, phone, email, created_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.q.QueryRow(ctx, `
		SELECT id, name, department_id, is_active, created_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) GetDepartmentByID(ctx context.Context, id uuid.UUID) (*Department, error) {
	row := r.q.QueryRow(ctx, `
		SELECT id, name, is_active, created_at
		FROM departments
		WHERE id = $1
	`, id)
	return scanDepartment(row)
}

func (r *PgRepository) GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error) {
	row := r.q.QueryRow(ctx, `
		SELECT id, doctor_id, available_date, start_time::text, end_time::text, is_booked, created_at
		FROM doctor_available_slots
		WHERE id = $1
	`, id)
	return scanSlot(row)
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+prefixColumns("a", appointmentColumns)+`,
		       p.name, d.name, dept.name
		FROM appointments a
		JOIN patients p ON a.patient_id = p.id
		JOIN doctors d ON a.doctor_id = d.id
		JOIN departments dept ON a.department_id = dept.id
		WHERE a.id = $1
	`, id)
	return scanAppointmentDetail(row)
}

func (r *PgRepository) CountActiveAppointments(ctx context.Context, doctorID uuid.UUID, date time.Time, timeOfDay string, excludeID *uuid.UUID) (int, error) {
	var n int
	err := r.q.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments
		WHERE doctor_id = $1
		  AND appointment_date = $2
		  AND appointment_time = $3::time
		  AND status IN ('PENDING', 'CONFIRMED')
		  AND ($4::uuid IS NULL OR id <> $4)
	`, doctorID, date, timeOfDay, excludeID).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Slot exclusivity primitives

// ReserveSlot is a compare-and-set on the booked flag. Zero rows means the
// slot is missing, already booked, or past-dated; the follow-up existence
// probe tells which.
func (r *PgRepository) ReserveSlot(ctx context.Context, slotID uuid.UUID) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE doctor_available_slots
		SET is_booked = true
		WHERE id = $1
		  AND is_booked = false
		  AND available_date >= current_date
	`, slotID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.q.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM doctor_available_slots WHERE id = $1)
		`, slotID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrSlotNotFound
		}
		return ErrSlotUnavailable
	}
	return nil
}

func (r *PgRepository) ReleaseSlot(ctx context.Context, slotID uuid.UUID) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE doctor_available_slots
		SET is_booked = false
		WHERE id = $1
	`, slotID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotFound
	}
	return nil
}

// Appointment writes

func (r *PgRepository) CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	id := a.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	row := r.q.QueryRow(ctx, `
		INSERT INTO appointments (
			id, patient_id, doctor_id, department_id, slot_id,
			appointment_date, appointment_time, reason, is_emergency, status,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7::time, $8, $9, $10, now(), now())
		RETURNING `+appointmentColumns+`
	`, id, a.PatientID, a.DoctorID, a.DepartmentID, a.SlotID,
		a.AppointmentDate, a.AppointmentTime, a.Reason, a.IsEmergency, a.Status)

	return scanAppointment(row)
}

func (r *PgRepository) UpdateAppointment(ctx context.Context, a *Appointment, expect AppointmentStatus) (*Appointment, error) {
	var cancelledBy *string
	if a.CancelledBy != nil {
		v := string(*a.CancelledBy)
		cancelledBy = &v
	}

	row := r.q.QueryRow(ctx, `
		UPDATE appointments
		SET doctor_id = $2,
		    department_id = $3,
		    slot_id = $4,
		    appointment_date = $5,
		    appointment_time = $6::time,
		    reason = $7,
		    is_emergency = $8,
		    status = $9,
		    confirmed_by = $10,
		    confirmed_at = $11,
		    rejection_reason = $12,
		    rejected_at = $13,
		    cancelled_by = $14,
		    cancelled_at = $15,
		    cancellation_reason = $16,
		    updated_at = now()
		WHERE id = $1
		  AND status = $17
		RETURNING `+appointmentColumns+`
	`, a.ID, a.DoctorID, a.DepartmentID, a.SlotID,
		a.AppointmentDate, a.AppointmentTime, a.Reason, a.IsEmergency, a.Status,
		a.ConfirmedBy, a.ConfirmedAt, a.RejectionReason, a.RejectedAt,
		cancelledBy, a.CancelledAt, a.CancellationReason, expect)

	updated, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			var exists bool
			if probeErr := r.q.QueryRow(ctx, `
				SELECT EXISTS (SELECT 1 FROM appointments WHERE id = $1)
			`, a.ID).Scan(&exists); probeErr != nil {
				return nil, probeErr
			}
			if exists {
				return nil, ErrStaleAppointment
			}
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return updated, nil
}

// Listings

func (r *PgRepository) ListDepartments(ctx context.Context) ([]Department, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, name, is_active, created_at
		FROM departments
		WHERE is_active = true
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Department
	for rows.Next() {
		d, err := scanDepartment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}
	return result, rows.Err()
}

func (r *PgRepository) ListDoctorsByDepartment(ctx context.Context, departmentID uuid.UUID) ([]Doctor, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, name, department_id, is_active, created_at
		FROM doctors
		WHERE department_id = $1
		  AND is_active = true
		ORDER BY name
	`, departmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}
	return result, rows.Err()
}

func (r *PgRepository) ListAvailableSlots(ctx context.Context, f SlotFilter) ([]AvailableSlot, error) {
	rows, err := r.q.Query(ctx, `
		SELECT s.id, s.doctor_id, d.name, dept.name,
		       s.available_date, s.start_time::text, s.end_time::text
		FROM doctor_available_slots s
		JOIN doctors d ON s.doctor_id = d.id
		JOIN departments dept ON d.department_id = dept.id
		WHERE s.is_booked = false
		  AND s.available_date >= current_date
		  AND d.is_active = true
		  AND ($1::uuid IS NULL OR s.doctor_id = $1)
		  AND ($2::uuid IS NULL OR d.department_id = $2)
		  AND ($3::date IS NULL OR s.available_date >= $3)
		  AND ($4::date IS NULL OR s.available_date <= $4)
		ORDER BY s.available_date, s.start_time
	`, f.DoctorID, f.DepartmentID, f.FromDate, f.ToDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []AvailableSlot
	for rows.Next() {
		var s AvailableSlot
		err := rows.Scan(&s.SlotID, &s.DoctorID, &s.DoctorName, &s.DepartmentName,
			&s.AvailableDate, &s.StartTime, &s.EndTime)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

func (r *PgRepository) ListAppointments(ctx context.Context, f AppointmentFilter, limit, offset int) ([]AppointmentDetail, int, error) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.PatientID != nil {
		add("a.patient_id = $%d", *f.PatientID)
	}
	if f.DoctorID != nil {
		add("a.doctor_id = $%d", *f.DoctorID)
	}
	if f.DepartmentID != nil {
		add("a.department_id = $%d", *f.DepartmentID)
	}
	if f.Status != nil {
		add("a.status = $%d", string(*f.Status))
	}
	if f.IsEmergency != nil {
		add("a.is_emergency = $%d", *f.IsEmergency)
	}
	if f.OnDate != nil {
		add("a.appointment_date = $%d", *f.OnDate)
	}
	if f.FromDate != nil {
		add("a.appointment_date >= $%d", *f.FromDate)
	}
	if f.ToDate != nil {
		add("a.appointment_date <= $%d", *f.ToDate)
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.q.QueryRow(ctx, `SELECT count(*) FROM appointments a`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	pageArgs := append(args, limit, offset)
	rows, err := r.q.Query(ctx, `
		SELECT `+prefixColumns("a", appointmentColumns)+`,
		       p.name, d.name, dept.name
		FROM appointments a
		JOIN patients p ON a.patient_id = p.id
		JOIN doctors d ON a.doctor_id = d.id
		JOIN departments dept ON a.department_id = dept.id
	`+where+fmt.Sprintf(`
		ORDER BY a.appointment_date DESC, a.created_at DESC
		LIMIT $%d OFFSET $%d
	`, len(args)+1, len(args)+2), pageArgs...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []AppointmentDetail
	for rows.Next() {
		d, err := scanAppointmentDetail(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, *d)
	}
	return result, total, rows.Err()
}

func (r *PgRepository) ListPendingByDoctor(ctx context.Context, doctorID uuid.UUID) ([]PendingAppointment, error) {
	rows, err := r.q.Query(ctx, `
		SELECT a.id, a.doctor_id, p.name, p.phone, d.name, dept.name,
		       a.appointment_date, a.appointment_time::text, a.reason, a.created_at
		FROM appointments a
		JOIN patients p ON a.patient_id = p.id
		JOIN doctors d ON a.doctor_id = d.id
		JOIN departments dept ON a.department_id = dept.id
		WHERE a.status = 'PENDING'
		  AND a.doctor_id = $1
		ORDER BY a.created_at ASC
	`, doctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []PendingAppointment
	for rows.Next() {
		var p PendingAppointment
		err := rows.Scan(&p.ID, &p.DoctorID, &p.PatientName, &p.PatientPhone,
			&p.DoctorName, &p.DepartmentName,
			&p.AppointmentDate, &p.AppointmentTime, &p.Reason, &p.CreatedAt)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (r *PgRepository) ListPatientAppointments(ctx context.Context, patientID uuid.UUID, status *AppointmentStatus) ([]AppointmentDetail, error) {
	var statusArg *string
	if status != nil {
		v := string(*status)
		statusArg = &v
	}

	rows, err := r.q.Query(ctx, `
		SELECT `+prefixColumns("a", appointmentColumns)+`,
		       p.name, d.name, dept.name
		FROM appointments a
		JOIN patients p ON a.patient_id = p.id
		JOIN doctors d ON a.doctor_id = d.id
		JOIN departments dept ON a.department_id = dept.id
		WHERE a.patient_id = $1
		  AND ($2::text IS NULL OR a.status = $2)
		ORDER BY a.appointment_date DESC
	`, patientID, statusArg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []AppointmentDetail
	for rows.Next() {
		d, err := scanAppointmentDetail(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}
	return result, rows.Err()
}

// prefixColumns rewrites a bare column list so every column reads from the
// given table alias.
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
