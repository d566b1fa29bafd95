package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound     = errors.New("patient not found")
	ErrDoctorNotFound      = errors.New("doctor not found or inactive")
	ErrDepartmentNotFound  = errors.New("department not found")
	ErrSlotNotFound        = errors.New("slot not found")
	ErrAppointmentNotFound = errors.New("appointment not found")

	// ErrSlotUnavailable means the slot exists but is already booked or its
	// date has passed.
	ErrSlotUnavailable = errors.New("slot is not available")

	// ErrStaleAppointment means a guarded update found the appointment in a
	// different status than the caller observed.
	ErrStaleAppointment = errors.New("appointment was modified concurrently")
)

type AppointmentFilter struct {
	PatientID    *uuid.UUID
	DoctorID     *uuid.UUID
	DepartmentID *uuid.UUID
	Status       *AppointmentStatus
	IsEmergency  *bool
	OnDate       *time.Time
	FromDate     *time.Time
	ToDate       *time.Time
}

type SlotFilter struct {
	DoctorID     *uuid.UUID
	DepartmentID *uuid.UUID
	FromDate     *time.Time
	ToDate       *time.Time
}

// Repository contains all store interactions needed by the service.
//
// ReserveSlot and ReleaseSlot are the slot-exclusivity primitives: reserve is
// a compare-and-set on the booked flag that fails with ErrSlotUnavailable
// when the flag is already set or the slot date has passed. Callers that
// pair a slot mutation with an appointment write must do both inside InTx so
// they commit as one unit.
type Repository interface {
	// InTx runs fn against a transaction-bound Repository. The transaction
	// commits iff fn returns nil. Nested calls run in the enclosing
	// transaction.
	InTx(ctx context.Context, fn func(Repository) error) error

	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetDepartmentByID(ctx context.Context, id uuid.UUID) (*Department, error)
	GetSlotByID(ctx context.Context, id uuid.UUID) (*Slot, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error)

	// CountActiveAppointments counts PENDING/CONFIRMED appointments for the
	// doctor at the exact date and time of day, optionally excluding one
	// appointment id.
	CountActiveAppointments(ctx context.Context, doctorID uuid.UUID, date time.Time, timeOfDay string, excludeID *uuid.UUID) (int, error)

	ReserveSlot(ctx context.Context, slotID uuid.UUID) error
	// ReleaseSlot clears the booked flag. Releasing an unbooked slot is a
	// no-op success.
	ReleaseSlot(ctx context.Context, slotID uuid.UUID) error

	CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error)
	// UpdateAppointment persists all mutable appointment fields, guarded on
	// the status the caller loaded; ErrStaleAppointment on mismatch.
	UpdateAppointment(ctx context.Context, a *Appointment, expect AppointmentStatus) (*Appointment, error)

	ListDepartments(ctx context.Context) ([]Department, error)
	ListDoctorsByDepartment(ctx context.Context, departmentID uuid.UUID) ([]Doctor, error)
	ListAvailableSlots(ctx context.Context, f SlotFilter) ([]AvailableSlot, error)
	// ListAppointments returns one page plus the unpaginated total.
	ListAppointments(ctx context.Context, f AppointmentFilter, limit, offset int) ([]AppointmentDetail, int, error)
	ListPendingByDoctor(ctx context.Context, doctorID uuid.UUID) ([]PendingAppointment, error)
	ListPatientAppointments(ctx context.Context, patientID uuid.UUID, status *AppointmentStatus) ([]AppointmentDetail, error)
}
