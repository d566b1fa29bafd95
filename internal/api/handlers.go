package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hospitalops/appointment-management/internal/booking"
)

func createAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		patientID, ok := parseUUIDField(w, req.PatientID, "patient_id")
		if !ok {
			return
		}
		doctorID, ok := parseUUIDField(w, req.DoctorID, "doctor_id")
		if !ok {
			return
		}
		departmentID, ok := parseUUIDField(w, req.DepartmentID, "department_id")
		if !ok {
			return
		}
		slotID, ok := parseUUIDField(w, req.SlotID, "slot_id")
		if !ok {
			return
		}
		if req.Reason == "" {
			writeError(w, http.StatusBadRequest, "missing_reason", "reason is required")
			return
		}

		detail, err := svc.CreateAppointment(r.Context(), booking.CreateAppointmentInput{
			PatientID:    patientID,
			DoctorID:     doctorID,
			DepartmentID: departmentID,
			SlotID:       slotID,
			Reason:       req.Reason,
			IsEmergency:  req.IsEmergency,
		})
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(detail))
	}
}

func confirmAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUIDParam(w, r, "id")
		if !ok {
			return
		}
		confirmedBy, ok := parseUUIDQuery(w, r, "confirmed_by")
		if !ok {
			return
		}

		var req ConfirmAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		appt, err := svc.ConfirmAppointment(r.Context(), id, confirmedBy, req.Action, req.RejectionReason)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		msg := "appointment has been confirmed successfully"
		if appt.Status == booking.StatusRejected {
			msg = "appointment has been rejected"
		}
		writeJSON(w, http.StatusOK, MessageResponse{Message: msg})
	}
}

func updateAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUIDParam(w, r, "id")
		if !ok {
			return
		}
		patientID, ok := parseUUIDQuery(w, r, "updated_by")
		if !ok {
			return
		}

		var req UpdateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		in := booking.UpdateAppointmentInput{
			Reason:      req.Reason,
			IsEmergency: req.IsEmergency,
		}
		if req.DoctorID != nil {
			doctorID, ok := parseUUIDField(w, *req.DoctorID, "doctor_id")
			if !ok {
				return
			}
			in.DoctorID = &doctorID
		}
		if req.SlotID != nil {
			slotID, ok := parseUUIDField(w, *req.SlotID, "slot_id")
			if !ok {
				return
			}
			in.SlotID = &slotID
		}

		detail, err := svc.UpdateAppointment(r.Context(), id, patientID, in)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(detail))
	}
}

func cancelAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUIDParam(w, r, "id")
		if !ok {
			return
		}
		userID, ok := parseUUIDQuery(w, r, "cancelled_by_user")
		if !ok {
			return
		}

		var req CancelAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		actor := booking.CancelActor(strings.ToUpper(req.CancelledBy))
		_, err := svc.CancelAppointment(r.Context(), id, actor, userID, req.CancellationReason)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, MessageResponse{Message: "appointment has been cancelled successfully"})
	}
}

func getAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseUUIDParam(w, r, "id")
		if !ok {
			return
		}

		detail, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(detail))
	}
}

func listAppointmentsHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		var f booking.AppointmentFilter
		var ok bool
		if f.PatientID, ok = parseOptionalUUIDQuery(w, r, "patient_id"); !ok {
			return
		}
		if f.DoctorID, ok = parseOptionalUUIDQuery(w, r, "doctor_id"); !ok {
			return
		}
		if f.DepartmentID, ok = parseOptionalUUIDQuery(w, r, "department_id"); !ok {
			return
		}
		if v := q.Get("status"); v != "" {
			st := booking.AppointmentStatus(v)
			f.Status = &st
		}
		if v := q.Get("is_emergency"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_is_emergency", "is_emergency must be a boolean")
				return
			}
			f.IsEmergency = &b
		}
		if f.OnDate, ok = parseOptionalDateQuery(w, r, "appointment_date"); !ok {
			return
		}
		if f.FromDate, ok = parseOptionalDateQuery(w, r, "from_date"); !ok {
			return
		}
		if f.ToDate, ok = parseOptionalDateQuery(w, r, "to_date"); !ok {
			return
		}

		page := parseIntQuery(q.Get("page"), 1)
		if page < 1 {
			page = 1
		}
		pageSize := parseIntQuery(q.Get("page_size"), 20)
		if pageSize <= 0 {
			pageSize = 20
		}
		if pageSize > 100 {
			pageSize = 100
		}

		items, total, err := svc.ListAppointments(r.Context(), f, page, pageSize)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		data := make([]AppointmentResponse, 0, len(items))
		for i := range items {
			data = append(data, toAppointmentResponse(&items[i]))
		}

		totalPages := (total + pageSize - 1) / pageSize
		writeJSON(w, http.StatusOK, PaginatedAppointmentsResponse{
			Data: data,
			Meta: PaginationMeta{
				Page:       page,
				PageSize:   pageSize,
				Total:      total,
				TotalPages: totalPages,
			},
		})
	}
}

func listDepartmentsHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		departments, err := svc.GetDepartments(r.Context())
		if err != nil {
			handleServiceError(w, err)
			return
		}

		resp := make([]DepartmentResponse, 0, len(departments))
		for _, d := range departments {
			resp = append(resp, DepartmentResponse{ID: d.ID, Name: d.Name})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func listDoctorsHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		departmentID, ok := parseUUIDParam(w, r, "id")
		if !ok {
			return
		}

		doctors, err := svc.GetDoctorsByDepartment(r.Context(), departmentID)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		resp := make([]DoctorResponse, 0, len(doctors))
		for _, d := range doctors {
			resp = append(resp, DoctorResponse{ID: d.ID, Name: d.Name, DepartmentID: d.DepartmentID})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func listSlotsHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var f booking.SlotFilter
		var ok bool
		if f.DoctorID, ok = parseOptionalUUIDQuery(w, r, "doctor_id"); !ok {
			return
		}
		if f.DepartmentID, ok = parseOptionalUUIDQuery(w, r, "department_id"); !ok {
			return
		}
		if f.FromDate, ok = parseOptionalDateQuery(w, r, "from_date"); !ok {
			return
		}
		if f.ToDate, ok = parseOptionalDateQuery(w, r, "to_date"); !ok {
			return
		}

		slots, err := svc.GetAvailableSlots(r.Context(), f)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		resp := make([]AvailableSlotResponse, 0, len(slots))
		for _, s := range slots {
			resp = append(resp, AvailableSlotResponse{
				SlotID:         s.SlotID,
				DoctorID:       s.DoctorID,
				DoctorName:     s.DoctorName,
				DepartmentName: s.DepartmentName,
				AvailableDate:  s.AvailableDate.Format(dateLayout),
				StartTime:      s.StartTime,
				EndTime:        s.EndTime,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func listPendingAppointmentsHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := parseUUIDParam(w, r, "id")
		if !ok {
			return
		}

		pending, err := svc.GetPendingAppointments(r.Context(), doctorID)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		resp := make([]PendingAppointmentResponse, 0, len(pending))
		for _, p := range pending {
			resp = append(resp, PendingAppointmentResponse{
				ID:              p.ID,
				DoctorID:        p.DoctorID,
				PatientName:     p.PatientName,
				PatientPhone:    p.PatientPhone,
				DoctorName:      p.DoctorName,
				DepartmentName:  p.DepartmentName,
				AppointmentDate: p.AppointmentDate.Format(dateLayout),
				AppointmentTime: p.AppointmentTime,
				Reason:          p.Reason,
				CreatedAt:       p.CreatedAt,
			})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func listPatientAppointmentsHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, ok := parseUUIDParam(w, r, "id")
		if !ok {
			return
		}

		items, err := svc.GetPatientAppointments(r.Context(), patientID, r.URL.Query().Get("status"))
		if err != nil {
			handleServiceError(w, err)
			return
		}

		resp := make([]AppointmentResponse, 0, len(items))
		for i := range items {
			resp = append(resp, toAppointmentResponse(&items[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getUserProfileHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := parseUUIDParam(w, r, "id")
		if !ok {
			return
		}

		profile, err := svc.ResolveUserProfile(r.Context(), userID)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		resp := UserProfileResponse{Role: string(profile.Role)}
		if profile.Doctor != nil {
			resp.Doctor = &DoctorResponse{
				ID:           profile.Doctor.ID,
				Name:         profile.Doctor.Name,
				DepartmentID: profile.Doctor.DepartmentID,
			}
		}
		if profile.Patient != nil {
			resp.Patient = &PatientResponse{
				ID:    profile.Patient.ID,
				Name:  profile.Patient.Name,
				Phone: profile.Patient.Phone,
				Email: profile.Patient.Email,
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, booking.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, booking.ErrDepartmentNotFound):
		writeError(w, http.StatusNotFound, "department_not_found", err.Error())
	case errors.Is(err, booking.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "slot_not_found", err.Error())
	case errors.Is(err, booking.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, booking.ErrNoAppointmentsFound):
		writeError(w, http.StatusNotFound, "no_appointments_found", err.Error())

	case errors.Is(err, booking.ErrDepartmentMismatch):
		writeError(w, http.StatusBadRequest, "department_mismatch", err.Error())
	case errors.Is(err, booking.ErrSlotNotOwnedByDoctor):
		writeError(w, http.StatusBadRequest, "slot_not_owned_by_doctor", err.Error())
	case errors.Is(err, booking.ErrInvalidConfirmAction):
		writeError(w, http.StatusBadRequest, "invalid_action", err.Error())
	case errors.Is(err, booking.ErrRejectionReasonRequired):
		writeError(w, http.StatusBadRequest, "rejection_reason_required", err.Error())
	case errors.Is(err, booking.ErrInvalidCancelActor):
		writeError(w, http.StatusBadRequest, "invalid_cancelled_by", err.Error())
	case errors.Is(err, booking.ErrAppointmentInPast):
		writeError(w, http.StatusBadRequest, "appointment_in_past", err.Error())
	case errors.Is(err, booking.ErrPageOutOfRange):
		writeError(w, http.StatusBadRequest, "page_out_of_range", err.Error())
	case errors.Is(err, booking.ErrInvalidStatusFilter):
		writeError(w, http.StatusBadRequest, "invalid_status", err.Error())
	case errors.Is(err, booking.ErrCancellationTooLate):
		writeError(w, http.StatusBadRequest, "cancellation_too_late", err.Error())

	case errors.Is(err, booking.ErrNotAppointmentDoctor),
		errors.Is(err, booking.ErrNotAppointmentPatient),
		errors.Is(err, booking.ErrNotCancelOwner):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())

	case errors.Is(err, booking.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot_unavailable", err.Error())
	case errors.Is(err, booking.ErrDoctorDoubleBooked):
		writeError(w, http.StatusConflict, "doctor_double_booked", err.Error())
	case errors.Is(err, booking.ErrSlotBeingBooked):
		writeError(w, http.StatusConflict, "slot_being_booked", "slot is currently being booked, please retry shortly")
	case errors.Is(err, booking.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, booking.ErrAlreadyCancelled):
		writeError(w, http.StatusConflict, "already_cancelled", err.Error())

	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

// Param helpers

func parseUUIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func parseUUIDQuery(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.URL.Query().Get(name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func parseUUIDField(w http.ResponseWriter, raw, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func parseOptionalUUIDQuery(w http.ResponseWriter, r *http.Request, name string) (*uuid.UUID, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be a valid UUID")
		return nil, false
	}
	return &id, true
}

func parseOptionalDateQuery(w http.ResponseWriter, r *http.Request, name string) (*time.Time, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, true
	}
	d, err := time.ParseInLocation(dateLayout, raw, time.Local)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_"+name, name+" must be formatted as YYYY-MM-DD")
		return nil, false
	}
	return &d, true
}

func parseIntQuery(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
