package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	redisclient "github.com/hospitalops/appointment-management/internal/redis"
)

// Confirmation actions accepted by ConfirmAppointment.
const (
	ActionConfirm = "confirm"
	ActionReject  = "reject"
)

var (
	ErrDepartmentMismatch      = errors.New("doctor does not belong to the specified department")
	ErrSlotNotOwnedByDoctor    = errors.New("slot does not belong to the selected doctor")
	ErrDoctorDoubleBooked      = errors.New("doctor already has an appointment at this time")
	ErrSlotBeingBooked         = errors.New("slot is currently being booked, please retry")
	ErrInvalidStatusTransition = errors.New("operation not allowed for current appointment status")
	ErrAlreadyCancelled        = errors.New("appointment is already cancelled")
	ErrNotAppointmentDoctor    = errors.New("appointments can only be confirmed by their own doctor")
	ErrNotAppointmentPatient   = errors.New("appointments can only be updated by their own patient")
	ErrNotCancelOwner          = errors.New("you can only cancel your own appointments")
	ErrInvalidConfirmAction    = errors.New("action must be either confirm or reject")
	ErrRejectionReasonRequired = errors.New("rejection reason is required when rejecting an appointment")
	ErrInvalidCancelActor      = errors.New("cancelled_by must be PATIENT or DOCTOR")
	ErrAppointmentInPast       = errors.New("cannot update past appointments")
	ErrNoAppointmentsFound     = errors.New("no appointments found matching the criteria")
	ErrPageOutOfRange          = errors.New("page number exceeds total number of pages")
	ErrInvalidStatusFilter     = errors.New("invalid appointment status filter")
)

type CreateAppointmentInput struct {
	PatientID    uuid.UUID
	DoctorID     uuid.UUID
	DepartmentID uuid.UUID
	SlotID       uuid.UUID
	Reason       string
	IsEmergency  bool
}

type UpdateAppointmentInput struct {
	DoctorID    *uuid.UUID
	SlotID      *uuid.UUID
	Reason      *string
	IsEmergency *bool
}

// Service owns the appointment lifecycle. It is the only component that
// mutates appointment status, and every mutation that touches a slot runs
// inside one repository transaction. Notifications go out strictly after
// commit and can never fail an operation.
type Service struct {
	repo     Repository
	locker   redisclient.Locker
	notifier Notifier
	log      *zap.Logger
	now      func() time.Time
}

func NewService(repo Repository, locker redisclient.Locker, notifier Notifier, log *zap.Logger) *Service {
	return &Service{
		repo:     repo,
		locker:   locker,
		notifier: notifier,
		log:      log,
		now:      time.Now,
	}
}

// CreateAppointment books a slot for a patient and leaves the appointment
// PENDING. The per-slot lock plus the conditional reserve inside the
// transaction guarantee that two requests racing for one slot resolve to
// exactly one success.
func (s *Service) CreateAppointment(ctx context.Context, in CreateAppointmentInput) (*AppointmentDetail, error) {
	if _, err := s.repo.GetPatientByID(ctx, in.PatientID); err != nil {
		return nil, fmt.Errorf("load patient: %w", err)
	}

	doctor, err := s.repo.GetDoctorByID(ctx, in.DoctorID)
	if err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	if !doctor.IsActive {
		return nil, ErrDoctorNotFound
	}

	if _, err := s.repo.GetDepartmentByID(ctx, in.DepartmentID); err != nil {
		return nil, fmt.Errorf("load department: %w", err)
	}
	if doctor.DepartmentID != in.DepartmentID {
		return nil, ErrDepartmentMismatch
	}

	slot, err := s.repo.GetSlotByID(ctx, in.SlotID)
	if err != nil {
		return nil, fmt.Errorf("load slot: %w", err)
	}
	if slot.DoctorID != in.DoctorID {
		return nil, ErrSlotNotOwnedByDoctor
	}

	appt := &Appointment{
		ID:              uuid.New(),
		PatientID:       in.PatientID,
		DoctorID:        in.DoctorID,
		DepartmentID:    in.DepartmentID,
		SlotID:          in.SlotID,
		AppointmentDate: slot.AvailableDate,
		AppointmentTime: slot.StartTime,
		Reason:          in.Reason,
		IsEmergency:     in.IsEmergency,
		Status:          StatusPending,
	}

	err = s.locker.WithSlotLock(ctx, in.SlotID, func(lockCtx context.Context) error {
		return s.repo.InTx(lockCtx, func(r Repository) error {
			// The conflict check runs before the reserve so a detected
			// conflict fails closed with nothing reserved.
			conflict, err := NewConflictDetector(r).HasConflict(lockCtx, in.DoctorID, slot.AvailableDate, slot.StartTime, nil)
			if err != nil {
				return fmt.Errorf("check doctor conflict: %w", err)
			}
			if conflict {
				return ErrDoctorDoubleBooked
			}

			if err := NewSlotAllocator(r).Reserve(lockCtx, in.SlotID); err != nil {
				return err
			}

			created, err := r.CreateAppointment(lockCtx, appt)
			if err != nil {
				return fmt.Errorf("create appointment: %w", err)
			}
			appt = created
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		return nil, err
	}

	s.log.Info("appointment created",
		zap.String("appointment_id", appt.ID.String()),
		zap.String("slot_id", in.SlotID.String()),
		zap.Bool("is_emergency", in.IsEmergency),
	)

	return s.repo.GetAppointmentDetail(ctx, appt.ID)
}

// ConfirmAppointment lets the owning doctor confirm or reject a PENDING
// appointment. A confirm triggers exactly one best-effort notification after
// the transition is committed; a reject triggers none.
func (s *Service) ConfirmAppointment(ctx context.Context, appointmentID, confirmedBy uuid.UUID, action, rejectionReason string) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	if appt.Status != StatusPending {
		return nil, ErrInvalidStatusTransition
	}
	if appt.DoctorID != confirmedBy {
		return nil, ErrNotAppointmentDoctor
	}

	now := s.now()
	switch strings.ToLower(action) {
	case ActionConfirm:
		appt.Status = StatusConfirmed
		appt.ConfirmedBy = &confirmedBy
		appt.ConfirmedAt = &now
	case ActionReject:
		if strings.TrimSpace(rejectionReason) == "" {
			return nil, ErrRejectionReasonRequired
		}
		appt.Status = StatusRejected
		appt.RejectionReason = &rejectionReason
		appt.RejectedAt = &now
	default:
		return nil, ErrInvalidConfirmAction
	}

	var updated *Appointment
	err = s.repo.InTx(ctx, func(r Repository) error {
		var err error
		updated, err = r.UpdateAppointment(ctx, appt, StatusPending)
		if err != nil {
			return fmt.Errorf("update appointment: %w", err)
		}
		// A rejection is terminal, so the slot goes back on the market.
		if updated.Status == StatusRejected {
			return NewSlotAllocator(r).Release(ctx, appt.SlotID)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrStaleAppointment) {
			return nil, ErrInvalidStatusTransition
		}
		return nil, err
	}

	s.log.Info("appointment reviewed",
		zap.String("appointment_id", updated.ID.String()),
		zap.String("status", string(updated.Status)),
	)

	if updated.Status == StatusConfirmed {
		s.notifyConfirmed(ctx, updated.ID)
	}

	return updated, nil
}

// UpdateAppointment lets the owning patient move a PENDING or CONFIRMED
// appointment: change doctor (department follows the doctor), change slot
// (reservation transfers atomically, date and time adopt the new slot), or
// replace reason/emergency. Updates never emit notifications.
func (s *Service) UpdateAppointment(ctx context.Context, appointmentID, patientID uuid.UUID, in UpdateAppointmentInput) (*AppointmentDetail, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	if appt.PatientID != patientID {
		return nil, ErrNotAppointmentPatient
	}
	if !appt.Status.IsActive() {
		return nil, ErrInvalidStatusTransition
	}
	if appt.AppointmentDate.Before(dateOnly(s.now())) {
		return nil, ErrAppointmentInPast
	}

	expect := appt.Status

	doctorChanged := false
	if in.DoctorID != nil && *in.DoctorID != appt.DoctorID {
		doctor, err := s.repo.GetDoctorByID(ctx, *in.DoctorID)
		if err != nil {
			return nil, fmt.Errorf("load new doctor: %w", err)
		}
		if !doctor.IsActive {
			return nil, ErrDoctorNotFound
		}
		appt.DoctorID = doctor.ID
		appt.DepartmentID = doctor.DepartmentID
		doctorChanged = true
	}

	if in.Reason != nil {
		appt.Reason = *in.Reason
	}
	if in.IsEmergency != nil {
		appt.IsEmergency = *in.IsEmergency
	}

	var updated *Appointment

	if in.SlotID != nil && *in.SlotID != appt.SlotID {
		newSlot, err := s.repo.GetSlotByID(ctx, *in.SlotID)
		if err != nil {
			return nil, fmt.Errorf("load new slot: %w", err)
		}
		if newSlot.DoctorID != appt.DoctorID {
			return nil, ErrSlotNotOwnedByDoctor
		}

		oldSlotID := appt.SlotID
		err = s.locker.WithSlotLock(ctx, *in.SlotID, func(lockCtx context.Context) error {
			return s.repo.InTx(lockCtx, func(r Repository) error {
				excludeID := appt.ID
				conflict, err := NewConflictDetector(r).HasConflict(lockCtx, appt.DoctorID, newSlot.AvailableDate, newSlot.StartTime, &excludeID)
				if err != nil {
					return fmt.Errorf("check doctor conflict: %w", err)
				}
				if conflict {
					return ErrDoctorDoubleBooked
				}

				moved, err := NewSlotAllocator(r).Transfer(lockCtx, oldSlotID, *in.SlotID)
				if err != nil {
					return err
				}
				appt.SlotID = moved.ID
				appt.AppointmentDate = moved.AvailableDate
				appt.AppointmentTime = moved.StartTime

				updated, err = r.UpdateAppointment(lockCtx, appt, expect)
				if err != nil {
					return fmt.Errorf("update appointment: %w", err)
				}
				return nil
			})
		})
		if err != nil {
			if errors.Is(err, redisclient.ErrLockNotAcquired) {
				return nil, ErrSlotBeingBooked
			}
			if errors.Is(err, ErrStaleAppointment) {
				return nil, ErrInvalidStatusTransition
			}
			return nil, err
		}
	} else {
		if doctorChanged {
			excludeID := appt.ID
			conflict, err := NewConflictDetector(s.repo).HasConflict(ctx, appt.DoctorID, appt.AppointmentDate, appt.AppointmentTime, &excludeID)
			if err != nil {
				return nil, fmt.Errorf("check doctor conflict: %w", err)
			}
			if conflict {
				return nil, ErrDoctorDoubleBooked
			}
		}

		updated, err = s.repo.UpdateAppointment(ctx, appt, expect)
		if err != nil {
			if errors.Is(err, ErrStaleAppointment) {
				return nil, ErrInvalidStatusTransition
			}
			return nil, fmt.Errorf("update appointment: %w", err)
		}
	}

	s.log.Info("appointment updated", zap.String("appointment_id", updated.ID.String()))

	return s.repo.GetAppointmentDetail(ctx, updated.ID)
}

// CancelAppointment cancels a PENDING or CONFIRMED appointment and releases
// its slot in the same transaction. The lead-time policy is checked before
// anything mutates. Only cancellations of previously confirmed appointments
// are notified.
func (s *Service) CancelAppointment(ctx context.Context, appointmentID uuid.UUID, actor CancelActor, userID uuid.UUID, reason *string) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	if appt.Status == StatusCancelled {
		return nil, ErrAlreadyCancelled
	}
	if !appt.Status.IsActive() {
		return nil, ErrInvalidStatusTransition
	}

	switch actor {
	case CancelledByPatient:
		if appt.PatientID != userID {
			return nil, ErrNotCancelOwner
		}
	case CancelledByDoctor:
		if appt.DoctorID != userID {
			return nil, ErrNotCancelOwner
		}
	default:
		return nil, ErrInvalidCancelActor
	}

	scheduledAt, err := appt.ScheduledAt()
	if err != nil {
		return nil, fmt.Errorf("resolve scheduled time: %w", err)
	}
	if err := CancellationAllowed(scheduledAt, appt.IsEmergency, s.now()); err != nil {
		return nil, err
	}

	wasConfirmed := appt.Status == StatusConfirmed
	expect := appt.Status
	now := s.now()
	appt.Status = StatusCancelled
	appt.CancelledBy = &actor
	appt.CancelledAt = &now
	appt.CancellationReason = reason

	var updated *Appointment
	err = s.repo.InTx(ctx, func(r Repository) error {
		var err error
		updated, err = r.UpdateAppointment(ctx, appt, expect)
		if err != nil {
			return fmt.Errorf("cancel appointment: %w", err)
		}
		return NewSlotAllocator(r).Release(ctx, appt.SlotID)
	})
	if err != nil {
		if errors.Is(err, ErrStaleAppointment) {
			return nil, ErrInvalidStatusTransition
		}
		return nil, err
	}

	s.log.Info("appointment cancelled",
		zap.String("appointment_id", updated.ID.String()),
		zap.String("cancelled_by", string(actor)),
		zap.Bool("was_confirmed", wasConfirmed),
	)

	if wasConfirmed {
		s.notifyCancelled(ctx, updated.ID)
	}

	return updated, nil
}

// GetAppointment retrieves a fully hydrated appointment by id.
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	detail, err := s.repo.GetAppointmentDetail(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return detail, nil
}

// ListAppointments returns one page of filtered appointments plus the total.
func (s *Service) ListAppointments(ctx context.Context, f AppointmentFilter, page, pageSize int) ([]AppointmentDetail, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20 // default
	}
	if pageSize > 100 {
		pageSize = 100 // max
	}
	offset := (page - 1) * pageSize

	items, total, err := s.repo.ListAppointments(ctx, f, pageSize, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list appointments: %w", err)
	}
	if total == 0 {
		return nil, 0, ErrNoAppointmentsFound
	}
	if offset >= total {
		return nil, 0, ErrPageOutOfRange
	}
	return items, total, nil
}

// GetDepartments lists active departments.
func (s *Service) GetDepartments(ctx context.Context) ([]Department, error) {
	return s.repo.ListDepartments(ctx)
}

// GetDoctorsByDepartment lists active doctors of an existing department.
func (s *Service) GetDoctorsByDepartment(ctx context.Context, departmentID uuid.UUID) ([]Doctor, error) {
	if _, err := s.repo.GetDepartmentByID(ctx, departmentID); err != nil {
		return nil, fmt.Errorf("load department: %w", err)
	}
	return s.repo.ListDoctorsByDepartment(ctx, departmentID)
}

// GetAvailableSlots lists unbooked future slots; FromDate defaults to today.
func (s *Service) GetAvailableSlots(ctx context.Context, f SlotFilter) ([]AvailableSlot, error) {
	if f.FromDate == nil {
		today := dateOnly(s.now())
		f.FromDate = &today
	}
	return s.repo.ListAvailableSlots(ctx, f)
}

// GetPendingAppointments returns a doctor's confirmation queue.
func (s *Service) GetPendingAppointments(ctx context.Context, doctorID uuid.UUID) ([]PendingAppointment, error) {
	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	return s.repo.ListPendingByDoctor(ctx, doctorID)
}

// GetPatientAppointments returns a patient's appointment history, optionally
// filtered by status.
func (s *Service) GetPatientAppointments(ctx context.Context, patientID uuid.UUID, status string) ([]AppointmentDetail, error) {
	if _, err := s.repo.GetPatientByID(ctx, patientID); err != nil {
		return nil, fmt.Errorf("load patient: %w", err)
	}

	var statusFilter *AppointmentStatus
	if status != "" {
		st := AppointmentStatus(strings.ToUpper(status))
		switch st {
		case StatusPending, StatusConfirmed, StatusRejected, StatusCancelled:
			statusFilter = &st
		default:
			return nil, ErrInvalidStatusFilter
		}
	}

	return s.repo.ListPatientAppointments(ctx, patientID, statusFilter)
}

// ResolveUserProfile resolves a caller id to an explicit tagged role: the
// doctor directory is probed first, then the patient registry.
func (s *Service) ResolveUserProfile(ctx context.Context, userID uuid.UUID) (*UserProfile, error) {
	doctor, err := s.repo.GetDoctorByID(ctx, userID)
	switch {
	case err == nil:
		return &UserProfile{Role: RoleDoctor, Doctor: doctor}, nil
	case !errors.Is(err, ErrDoctorNotFound):
		return nil, fmt.Errorf("probe doctor directory: %w", err)
	}

	patient, err := s.repo.GetPatientByID(ctx, userID)
	switch {
	case err == nil:
		return &UserProfile{Role: RolePatient, Patient: patient}, nil
	case !errors.Is(err, ErrPatientNotFound):
		return nil, fmt.Errorf("probe patient registry: %w", err)
	}

	return &UserProfile{Role: RoleUnknown}, nil
}

func (s *Service) notifyConfirmed(ctx context.Context, id uuid.UUID) {
	detail, err := s.repo.GetAppointmentDetail(ctx, id)
	if err != nil {
		s.log.Error("load appointment for confirmed notification", zap.String("appointment_id", id.String()), zap.Error(err))
		return
	}
	if !s.notifier.AppointmentConfirmed(ctx, snapshotOf(detail)) {
		s.log.Warn("confirmed notification not delivered", zap.String("appointment_id", id.String()))
	}
}

func (s *Service) notifyCancelled(ctx context.Context, id uuid.UUID) {
	detail, err := s.repo.GetAppointmentDetail(ctx, id)
	if err != nil {
		s.log.Error("load appointment for cancelled notification", zap.String("appointment_id", id.String()), zap.Error(err))
		return
	}
	if !s.notifier.AppointmentCancelled(ctx, snapshotOf(detail)) {
		s.log.Warn("cancelled notification not delivered", zap.String("appointment_id", id.String()))
	}
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
