package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hospitalops/appointment-management/internal/booking"
)

const dateLayout = "2006-01-02"

type CreateAppointmentRequest struct {
	PatientID    string `json:"patient_id"`
	DoctorID     string `json:"doctor_id"`
	DepartmentID string `json:"department_id"`
	SlotID       string `json:"slot_id"`
	Reason       string `json:"reason"`
	IsEmergency  bool   `json:"is_emergency"`
}

type ConfirmAppointmentRequest struct {
	Action          string `json:"action"`
	RejectionReason string `json:"rejection_reason,omitempty"`
}

type UpdateAppointmentRequest struct {
	DoctorID    *string `json:"doctor_id,omitempty"`
	SlotID      *string `json:"slot_id,omitempty"`
	Reason      *string `json:"reason,omitempty"`
	IsEmergency *bool   `json:"is_emergency,omitempty"`
}

type CancelAppointmentRequest struct {
	CancelledBy        string  `json:"cancelled_by"`
	CancellationReason *string `json:"cancellation_reason,omitempty"`
}

type AppointmentResponse struct {
	ID              uuid.UUID `json:"id"`
	PatientID       uuid.UUID `json:"patient_id"`
	PatientName     string    `json:"patient_name"`
	DoctorID        uuid.UUID `json:"doctor_id"`
	DoctorName      string    `json:"doctor_name"`
	DepartmentID    uuid.UUID `json:"department_id"`
	DepartmentName  string    `json:"department_name"`
	SlotID          uuid.UUID `json:"slot_id"`
	AppointmentDate string    `json:"appointment_date"`
	AppointmentTime string    `json:"appointment_time"`
	Reason          string    `json:"reason"`
	IsEmergency     bool      `json:"is_emergency"`
	Status          string    `json:"status"`

	ConfirmedBy        *uuid.UUID `json:"confirmed_by,omitempty"`
	ConfirmedAt        *time.Time `json:"confirmed_at,omitempty"`
	RejectionReason    *string    `json:"rejection_reason,omitempty"`
	RejectedAt         *time.Time `json:"rejected_at,omitempty"`
	CancelledBy        *string    `json:"cancelled_by,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CancellationReason *string    `json:"cancellation_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type DepartmentResponse struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

type DoctorResponse struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	DepartmentID uuid.UUID `json:"department_id"`
}

type AvailableSlotResponse struct {
	SlotID         uuid.UUID `json:"slot_id"`
	DoctorID       uuid.UUID `json:"doctor_id"`
	DoctorName     string    `json:"doctor_name"`
	DepartmentName string    `json:"department_name"`
	AvailableDate  string    `json:"available_date"`
	StartTime      string    `json:"start_time"`
	EndTime        string    `json:"end_time"`
}

type PendingAppointmentResponse struct {
	ID              uuid.UUID `json:"id"`
	DoctorID        uuid.UUID `json:"doctor_id"`
	PatientName     string    `json:"patient_name"`
	PatientPhone    *string   `json:"patient_phone,omitempty"`
	DoctorName      string    `json:"doctor_name"`
	DepartmentName  string    `json:"department_name"`
	AppointmentDate string    `json:"appointment_date"`
	AppointmentTime string    `json:"appointment_time"`
	Reason          string    `json:"reason"`
	CreatedAt       time.Time `json:"created_at"`
}

type UserProfileResponse struct {
	Role    string           `json:"role"`
	Doctor  *DoctorResponse  `json:"doctor,omitempty"`
	Patient *PatientResponse `json:"patient,omitempty"`
}

type PatientResponse struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Phone *string   `json:"phone,omitempty"`
	Email *string   `json:"email,omitempty"`
}

type PaginationMeta struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

type PaginatedAppointmentsResponse struct {
	Data []AppointmentResponse `json:"data"`
	Meta PaginationMeta        `json:"meta"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(d *booking.AppointmentDetail) AppointmentResponse {
	resp := AppointmentResponse{
		ID:                 d.ID,
		PatientID:          d.PatientID,
		PatientName:        d.PatientName,
		DoctorID:           d.DoctorID,
		DoctorName:         d.DoctorName,
		DepartmentID:       d.DepartmentID,
		DepartmentName:     d.DepartmentName,
		SlotID:             d.SlotID,
		AppointmentDate:    d.AppointmentDate.Format(dateLayout),
		AppointmentTime:    d.AppointmentTime,
		Reason:             d.Reason,
		IsEmergency:        d.IsEmergency,
		Status:             string(d.Status),
		ConfirmedBy:        d.ConfirmedBy,
		ConfirmedAt:        d.ConfirmedAt,
		RejectionReason:    d.RejectionReason,
		RejectedAt:         d.RejectedAt,
		CancelledAt:        d.CancelledAt,
		CancellationReason: d.CancellationReason,
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
	}
	if d.CancelledBy != nil {
		v := string(*d.CancelledBy)
		resp.CancelledBy = &v
	}
	return resp
}
