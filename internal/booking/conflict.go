package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// appointmentCounter is the subset of Repository the detector needs.
type appointmentCounter interface {
	CountActiveAppointments(ctx context.Context, doctorID uuid.UUID, date time.Time, timeOfDay string, excludeID *uuid.UUID) (int, error)
}

// ConflictDetector guards against a doctor holding two active appointments
// at the same date and time. It works off the appointment records alone, so
// a slot/time inconsistency in the data cannot slip a double booking past
// the slot flag.
type ConflictDetector struct {
	store appointmentCounter
}

func NewConflictDetector(store appointmentCounter) *ConflictDetector {
	return &ConflictDetector{store: store}
}

func (d *ConflictDetector) HasConflict(ctx context.Context, doctorID uuid.UUID, date time.Time, timeOfDay string, excludeID *uuid.UUID) (bool, error) {
	n, err := d.store.CountActiveAppointments(ctx, doctorID, date, timeOfDay, excludeID)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
