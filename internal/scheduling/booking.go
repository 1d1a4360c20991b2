package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carebridge/clinic-scheduling/internal/observability/metrics"
	redisclient "github.com/carebridge/clinic-scheduling/internal/redis"
	"github.com/carebridge/clinic-scheduling/pkg/logging"
)

// BookingCoordinator orchestrates slot reservation and appointment creation
// as one atomic unit, with alternative-physician fallback when the
// requested slot is gone.
type BookingCoordinator struct {
	repo      Repository
	inventory *SlotInventory
	payments  *PaymentRefundCoordinator
	locker    redisclient.Locker
	metrics   *metrics.BookingMetrics
	logger    *logging.Logger
}

func NewBookingCoordinator(repo Repository, inventory *SlotInventory, payments *PaymentRefundCoordinator, locker redisclient.Locker, m *metrics.BookingMetrics, logger *logging.Logger) *BookingCoordinator {
	if logger == nil {
		logger = logging.Default()
	}
	return &BookingCoordinator{
		repo:      repo,
		inventory: inventory,
		payments:  payments,
		locker:    locker,
		metrics:   m,
		logger:    logger,
	}
}

type CreateAppointmentInput struct {
	PhysicianID     uuid.UUID
	Date            string
	TimeLabel       string
	DurationMinutes int
	AppointmentType string
	ChiefComplaint  string
	PaymentPath     PaymentPath
}

// BookingResult is either a created appointment or a structured
// slot-unavailable outcome carrying alternatives. An empty alternatives
// list is a valid, non-error outcome.
type BookingResult struct {
	Appointment     *Appointment
	SlotUnavailable bool
	Alternatives    []AlternativePhysician
}

// CreateAppointment books a slot for the calling patient. The reservation
// is a per-slot compare-and-set, additionally serialized by a Redis lock so
// concurrent requests for the same slot never both reach the insert. Any
// failure after the reservation releases the slot before the error
// surfaces.
func (b *BookingCoordinator) CreateAppointment(ctx context.Context, actor Actor, in CreateAppointmentInput) (*BookingResult, error) {
	start := time.Now()
	res, err := b.createAppointment(ctx, actor, in)

	switch {
	case err != nil:
		b.metrics.ObserveBooking("error", time.Since(start).Seconds())
	case res.SlotUnavailable:
		b.metrics.ObserveBooking("conflict", time.Since(start).Seconds())
		b.metrics.ObserveSlotConflict()
	default:
		b.metrics.ObserveBooking("booked", time.Since(start).Seconds())
	}
	return res, err
}

func (b *BookingCoordinator) createAppointment(ctx context.Context, actor Actor, in CreateAppointmentInput) (*BookingResult, error) {
	if actor.Role != RolePatient {
		return nil, ErrForbidden
	}
	if in.PhysicianID == uuid.Nil {
		return nil, fmt.Errorf("%w: physician id required", ErrInvalidInput)
	}
	if strings.TrimSpace(in.ChiefComplaint) == "" {
		return nil, fmt.Errorf("%w: chief complaint required", ErrInvalidInput)
	}
	if err := validateDate(in.Date); err != nil {
		return nil, err
	}
	if err := validateTimeLabel(in.TimeLabel); err != nil {
		return nil, err
	}
	if in.DurationMinutes <= 0 {
		in.DurationMinutes = DefaultDurationMinutes
	}
	if in.PaymentPath == "" {
		in.PaymentPath = PayAtHospital
	}

	if _, err := b.repo.GetPatientByID(ctx, actor.ID); err != nil {
		return nil, fmt.Errorf("load patient: %w", err)
	}
	physician, err := b.repo.GetPhysicianByID(ctx, in.PhysicianID)
	if err != nil {
		return nil, fmt.Errorf("load physician: %w", err)
	}

	var created *Appointment

	err = b.locker.WithSlotLock(ctx, in.PhysicianID, in.Date, in.TimeLabel, func(lockCtx context.Context) error {
		reservation, err := b.inventory.Reserve(lockCtx, in.PhysicianID, in.Date, in.TimeLabel)
		if err != nil {
			return err
		}

		appt, err := b.finalizeBooking(lockCtx, actor, in, physician)
		if err != nil {
			// The slot must not stay booked with no appointment behind it.
			if relErr := b.inventory.Release(lockCtx, reservation.PhysicianID, reservation.Date, reservation.TimeLabel); relErr != nil {
				b.logger.Error("rollback release failed",
					"physician_id", reservation.PhysicianID, "date", reservation.Date,
					"time_label", reservation.TimeLabel, "error", relErr)
			}
			return err
		}

		created = appt
		return nil
	})

	if err != nil {
		// A taken or contended slot is not a bare failure: offer other
		// physicians of the department with an open slot that day.
		if errors.Is(err, ErrSlotNotOpen) || errors.Is(err, ErrSlotNotFound) || errors.Is(err, redisclient.ErrLockNotAcquired) {
			alternatives, altErr := b.repo.FindDepartmentAlternatives(ctx, physician.Department, in.Date, in.TimeLabel, in.PhysicianID)
			if altErr != nil {
				b.logger.Error("alternative lookup failed", "department", physician.Department, "error", altErr)
				alternatives = nil
			}
			b.logger.Info("slot unavailable",
				"physician_id", in.PhysicianID, "date", in.Date, "time_label", in.TimeLabel,
				"alternatives", len(alternatives))
			return &BookingResult{SlotUnavailable: true, Alternatives: alternatives}, nil
		}
		return nil, err
	}

	b.logger.Info("appointment booked",
		"appointment_id", created.ID, "patient_id", created.PatientID,
		"physician_id", created.PhysicianID, "date", created.Date, "time_label", created.TimeLabel)

	return &BookingResult{Appointment: created}, nil
}

// finalizeBooking settles the payment path and persists the appointment.
// Runs inside the slot critical section, after the reservation.
func (b *BookingCoordinator) finalizeBooking(ctx context.Context, actor Actor, in CreateAppointmentInput, physician *Physician) (*Appointment, error) {
	paymentStatus, err := b.payments.SettleInitial(ctx, actor.ID, physician.ConsultationFeeCents, in.PaymentPath)
	if err != nil {
		return nil, fmt.Errorf("settle payment: %w", err)
	}

	status := StatusScheduled
	if paymentStatus == PaymentPending {
		status = StatusPendingPayment
	}

	appt := &Appointment{
		ID:                   uuid.New(),
		PatientID:            actor.ID,
		PhysicianID:          physician.ID,
		Date:                 in.Date,
		TimeLabel:            in.TimeLabel,
		DurationMinutes:      in.DurationMinutes,
		AppointmentType:      in.AppointmentType,
		ChiefComplaint:       strings.TrimSpace(in.ChiefComplaint),
		Department:           physician.Department,
		Status:               status,
		PaymentStatus:        paymentStatus,
		ConsultationFeeCents: physician.ConsultationFeeCents,
	}

	created, err := b.repo.InsertAppointment(ctx, appt)
	if err != nil {
		return nil, fmt.Errorf("insert appointment: %w", err)
	}

	recordEvent(ctx, b.repo, b.logger, created.ID, EventAppointmentBooked, map[string]any{
		"patient_id":     created.PatientID.String(),
		"physician_id":   created.PhysicianID.String(),
		"date":           created.Date,
		"time_label":     created.TimeLabel,
		"payment_status": string(created.PaymentStatus),
	})

	return created, nil
}

// GetAppointment loads one appointment; patients may only see their own.
func (b *BookingCoordinator) GetAppointment(ctx context.Context, actor Actor, id uuid.UUID) (*Appointment, error) {
	appt, err := b.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if actor.Role == RolePatient && actor.ID != appt.PatientID {
		return nil, ErrForbidden
	}
	return appt, nil
}

// ListPatientAppointments pages through a patient's bookings.
func (b *BookingCoordinator) ListPatientAppointments(ctx context.Context, actor Actor, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	if actor.Role == RolePatient && actor.ID != patientID {
		return nil, ErrForbidden
	}
	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if offset < 0 {
		offset = 0
	}

	appointments, err := b.repo.ListAppointmentsByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return appointments, nil
}
