package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Snapshot carries the denormalized appointment fields a notification needs.
// It is built after the state change is committed, so publishing can never
// observe or affect an uncommitted appointment.
type Snapshot struct {
	AppointmentID  uuid.UUID
	PatientID      uuid.UUID
	PatientName    string
	DoctorID       uuid.UUID
	DoctorName     string
	DepartmentID   uuid.UUID
	DepartmentName string

	AppointmentDate time.Time
	AppointmentTime string
	Reason          string
	IsEmergency     bool

	ConfirmedBy *uuid.UUID
	ConfirmedAt *time.Time

	CancelledBy        *CancelActor
	CancelledAt        *time.Time
	CancellationReason *string
}

// Notifier delivers side-channel notifications best-effort. Implementations
// report delivery as a bool and must never fail the triggering operation.
type Notifier interface {
	AppointmentConfirmed(ctx context.Context, snap Snapshot) bool
	AppointmentCancelled(ctx context.Context, snap Snapshot) bool
}

func snapshotOf(d *AppointmentDetail) Snapshot {
	return Snapshot{
		AppointmentID:      d.ID,
		PatientID:          d.PatientID,
		PatientName:        d.PatientName,
		DoctorID:           d.DoctorID,
		DoctorName:         d.DoctorName,
		DepartmentID:       d.DepartmentID,
		DepartmentName:     d.DepartmentName,
		AppointmentDate:    d.AppointmentDate,
		AppointmentTime:    d.AppointmentTime,
		Reason:             d.Reason,
		IsEmergency:        d.IsEmergency,
		ConfirmedBy:        d.ConfirmedBy,
		ConfirmedAt:        d.ConfirmedAt,
		CancelledBy:        d.CancelledBy,
		CancelledAt:        d.CancelledAt,
		CancellationReason: d.CancellationReason,
	}
}
