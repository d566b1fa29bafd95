package booking

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "PENDING"
	StatusConfirmed AppointmentStatus = "CONFIRMED"
	StatusRejected  AppointmentStatus = "REJECTED"
	StatusCancelled AppointmentStatus = "CANCELLED"
)

// IsActive reports whether the status still holds its slot.
func (s AppointmentStatus) IsActive() bool {
	return s == StatusPending || s == StatusConfirmed
}

// CancelActor identifies which side of the appointment requested cancellation.
type CancelActor string

const (
	CancelledByPatient CancelActor = "PATIENT"
	CancelledByDoctor  CancelActor = "DOCTOR"
)

type Role string

const (
	RoleDoctor  Role = "DOCTOR"
	RolePatient Role = "PATIENT"
	RoleUnknown Role = "UNKNOWN"
)

type Department struct {
	ID        uuid.UUID
	Name      string
	IsActive  bool
	CreatedAt time.Time
}

type Doctor struct {
	ID           uuid.UUID
	Name         string
	DepartmentID uuid.UUID
	IsActive     bool
	CreatedAt    time.Time
}

// Patient is a read-only projection; the record itself is owned by the
// patient-management service.
type Patient struct {
	ID        uuid.UUID
	Name      string
	Phone     *string
	Email     *string
	CreatedAt time.Time
}

// Slot is a bookable time window owned by one doctor. Times of day are kept
// as HH:MM:SS strings matching the TIME columns they come from.
type Slot struct {
	ID            uuid.UUID
	DoctorID      uuid.UUID
	AvailableDate time.Time
	StartTime     string
	EndTime       string
	IsBooked      bool
	CreatedAt     time.Time
}

type Appointment struct {
	ID           uuid.UUID
	PatientID    uuid.UUID
	DoctorID     uuid.UUID
	DepartmentID uuid.UUID
	SlotID       uuid.UUID

	AppointmentDate time.Time
	AppointmentTime string
	Reason          string
	IsEmergency     bool

	Status AppointmentStatus

	ConfirmedBy *uuid.UUID
	ConfirmedAt *time.Time

	RejectionReason *string
	RejectedAt      *time.Time

	CancelledBy        *CancelActor
	CancelledAt        *time.Time
	CancellationReason *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ScheduledAt combines the appointment's date and time of day into a single
// local timestamp.
func (a *Appointment) ScheduledAt() (time.Time, error) {
	return combineDateTime(a.AppointmentDate, a.AppointmentTime)
}

// AppointmentDetail is an appointment hydrated with display names.
type AppointmentDetail struct {
	Appointment
	PatientName    string
	DoctorName     string
	DepartmentName string
}

// AvailableSlot is one row of the bookable-slots listing.
type AvailableSlot struct {
	SlotID         uuid.UUID
	DoctorID       uuid.UUID
	DoctorName     string
	DepartmentName string
	AvailableDate  time.Time
	StartTime      string
	EndTime        string
}

// PendingAppointment is one row of a doctor's confirmation queue.
type PendingAppointment struct {
	ID              uuid.UUID
	DoctorID        uuid.UUID
	PatientName     string
	PatientPhone    *string
	DoctorName      string
	DepartmentName  string
	AppointmentDate time.Time
	AppointmentTime string
	Reason          string
	CreatedAt       time.Time
}

// UserProfile is the result of resolving a caller id against both directories.
type UserProfile struct {
	Role    Role
	Doctor  *Doctor
	Patient *Patient
}

func combineDateTime(date time.Time, timeOfDay string) (time.Time, error) {
	layout := "15:04:05"
	if len(timeOfDay) == len("15:04") {
		layout = "15:04"
	}
	tod, err := time.ParseInLocation(layout, timeOfDay, date.Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time of day %q: %w", timeOfDay, err)
	}
	return time.Date(
		date.Year(), date.Month(), date.Day(),
		tod.Hour(), tod.Minute(), tod.Second(), 0,
		date.Location(),
	), nil
}
