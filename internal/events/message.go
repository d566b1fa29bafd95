package events

import (
	"fmt"
	"time"

	"github.com/hospitalops/appointment-management/internal/booking"
)

const (
	EventAppointmentConfirmed = "appointment_confirmed"
	EventAppointmentCancelled = "appointment_cancelled"

	sourceService = "appointment-management"
)

// Event is the envelope written to the message broker.
type Event struct {
	EventType     string    `json:"event_type"`
	Timestamp     time.Time `json:"timestamp"`
	SourceService string    `json:"source_service"`
	Data          EventData `json:"data"`
}

// EventData carries the appointment fields downstream consumers need.
// Confirmation and cancellation metadata are mutually exclusive per kind.
type EventData struct {
	AppointmentID   string `json:"appointment_id"`
	PatientID       string `json:"patient_id"`
	PatientName     string `json:"patient_name"`
	DoctorID        string `json:"doctor_id"`
	DoctorName      string `json:"doctor_name"`
	DepartmentID    string `json:"department_id"`
	DepartmentName  string `json:"department_name"`
	AppointmentDate string `json:"appointment_date"`
	AppointmentTime string `json:"appointment_time"`
	Reason          string `json:"reason"`
	IsEmergency     bool   `json:"is_emergency"`

	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	ConfirmedBy *string    `json:"confirmed_by,omitempty"`

	CancelledBy            *string    `json:"cancelled_by,omitempty"`
	CancelledAt            *time.Time `json:"cancelled_at,omitempty"`
	CancellationReason     *string    `json:"cancellation_reason,omitempty"`
	WasPreviouslyConfirmed *bool      `json:"was_previously_confirmed,omitempty"`
}

func baseEventData(snap booking.Snapshot) EventData {
	return EventData{
		AppointmentID:   snap.AppointmentID.String(),
		PatientID:       snap.PatientID.String(),
		PatientName:     snap.PatientName,
		DoctorID:        snap.DoctorID.String(),
		DoctorName:      snap.DoctorName,
		DepartmentID:    snap.DepartmentID.String(),
		DepartmentName:  snap.DepartmentName,
		AppointmentDate: snap.AppointmentDate.Format("2006-01-02"),
		AppointmentTime: snap.AppointmentTime,
		Reason:          snap.Reason,
		IsEmergency:     snap.IsEmergency,
	}
}

func buildConfirmedEvent(snap booking.Snapshot, now time.Time) Event {
	data := baseEventData(snap)
	data.ConfirmedAt = snap.ConfirmedAt
	if snap.ConfirmedBy != nil {
		v := snap.ConfirmedBy.String()
		data.ConfirmedBy = &v
	}

	return Event{
		EventType:     EventAppointmentConfirmed,
		Timestamp:     now,
		SourceService: sourceService,
		Data:          data,
	}
}

func buildCancelledEvent(snap booking.Snapshot, now time.Time) Event {
	data := baseEventData(snap)
	if snap.CancelledBy != nil {
		v := string(*snap.CancelledBy)
		data.CancelledBy = &v
	}
	data.CancelledAt = snap.CancelledAt
	data.CancellationReason = snap.CancellationReason
	// Always true for this event kind; included so consumers can tell the
	// message apart without knowing the routing rules.
	wasConfirmed := true
	data.WasPreviouslyConfirmed = &wasConfirmed

	return Event{
		EventType:     EventAppointmentCancelled,
		Timestamp:     now,
		SourceService: sourceService,
		Data:          data,
	}
}

func messageID(eventType string, snap booking.Snapshot, now time.Time) string {
	return fmt.Sprintf("%s_%s_%s", eventType, snap.AppointmentID, now.Format("20060102_150405"))
}
