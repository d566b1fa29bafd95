package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hospitalops/appointment-management/internal/booking"
)

func sampleSnapshot() booking.Snapshot {
	return booking.Snapshot{
		AppointmentID:   uuid.MustParse("0d1a2b3c-4d5e-6f70-8192-a3b4c5d6e7f8"),
		PatientID:       uuid.New(),
		PatientName:     "Mai Tran",
		DoctorID:        uuid.New(),
		DoctorName:      "Dr. Reyes",
		DepartmentID:    uuid.New(),
		DepartmentName:  "Cardiology",
		AppointmentDate: time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC),
		AppointmentTime: "10:00:00",
		Reason:          "chest pain follow-up",
	}
}

func TestBuildConfirmedEvent(t *testing.T) {
	snap := sampleSnapshot()
	confirmedAt := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)
	confirmedBy := snap.DoctorID
	snap.ConfirmedAt = &confirmedAt
	snap.ConfirmedBy = &confirmedBy

	now := time.Date(2026, 3, 10, 14, 30, 5, 0, time.UTC)
	ev := buildConfirmedEvent(snap, now)

	assert.Equal(t, "appointment_confirmed", ev.EventType)
	assert.Equal(t, "appointment-management", ev.SourceService)
	assert.Equal(t, now, ev.Timestamp)
	assert.Equal(t, snap.AppointmentID.String(), ev.Data.AppointmentID)
	assert.Equal(t, "2026-03-12", ev.Data.AppointmentDate)
	assert.Equal(t, "10:00:00", ev.Data.AppointmentTime)
	require.NotNil(t, ev.Data.ConfirmedBy)
	assert.Equal(t, confirmedBy.String(), *ev.Data.ConfirmedBy)
	assert.Nil(t, ev.Data.CancelledBy)
	assert.Nil(t, ev.Data.WasPreviouslyConfirmed)
}

func TestBuildCancelledEvent(t *testing.T) {
	snap := sampleSnapshot()
	actor := booking.CancelledByPatient
	cancelledAt := time.Date(2026, 3, 12, 7, 0, 0, 0, time.UTC)
	reason := "conflict came up"
	snap.CancelledBy = &actor
	snap.CancelledAt = &cancelledAt
	snap.CancellationReason = &reason

	ev := buildCancelledEvent(snap, cancelledAt)

	assert.Equal(t, "appointment_cancelled", ev.EventType)
	require.NotNil(t, ev.Data.CancelledBy)
	assert.Equal(t, "PATIENT", *ev.Data.CancelledBy)
	require.NotNil(t, ev.Data.WasPreviouslyConfirmed)
	assert.True(t, *ev.Data.WasPreviouslyConfirmed)
	assert.Nil(t, ev.Data.ConfirmedAt)
}

func TestEventJSONShape(t *testing.T) {
	snap := sampleSnapshot()
	ev := buildConfirmedEvent(snap, time.Date(2026, 3, 10, 14, 30, 5, 0, time.UTC))

	body, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))

	assert.Equal(t, "appointment_confirmed", decoded["event_type"])
	assert.Equal(t, "appointment-management", decoded["source_service"])

	data, ok := decoded["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, snap.AppointmentID.String(), data["appointment_id"])
	assert.NotContains(t, data, "cancelled_by", "confirmed events must omit cancellation fields")
	assert.NotContains(t, data, "was_previously_confirmed")
}

func TestMessageID(t *testing.T) {
	snap := sampleSnapshot()
	now := time.Date(2026, 3, 10, 14, 30, 5, 0, time.UTC)

	id := messageID(EventAppointmentConfirmed, snap, now)
	assert.Equal(t, "appointment_confirmed_0d1a2b3c-4d5e-6f70-8192-a3b4c5d6e7f8_20260310_143005", id)
}
