package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/carebridge/clinic-scheduling/internal/observability/metrics"
	"github.com/carebridge/clinic-scheduling/pkg/logging"
)

// PaymentAuthority is the narrow interface to the external payment system.
// Real settlement mechanics live behind it; the core only consumes
// outcomes.
type PaymentAuthority interface {
	Settle(ctx context.Context, patientID uuid.UUID, amountCents int64, path PaymentPath) (PaymentStatus, error)
	Refund(ctx context.Context, appointmentID uuid.UUID, amountCents int64) error
}

// AutoApproveAuthority settles every online payment immediately. Used in
// dev and as the default wiring; production swaps in a gateway-backed
// implementation.
type AutoApproveAuthority struct{}

func (AutoApproveAuthority) Settle(_ context.Context, _ uuid.UUID, _ int64, path PaymentPath) (PaymentStatus, error) {
	if path == PayOnline {
		return PaymentPaid, nil
	}
	return PaymentAtHospital, nil
}

func (AutoApproveAuthority) Refund(context.Context, uuid.UUID, int64) error {
	return nil
}

// PaymentRefundCoordinator attaches payment outcomes to appointments and
// drives the cancellation/refund workflow.
type PaymentRefundCoordinator struct {
	repo      Repository
	inventory *SlotInventory
	authority PaymentAuthority
	metrics   *metrics.BookingMetrics
	logger    *logging.Logger
}

func NewPaymentRefundCoordinator(repo Repository, inventory *SlotInventory, authority PaymentAuthority, m *metrics.BookingMetrics, logger *logging.Logger) *PaymentRefundCoordinator {
	if authority == nil {
		authority = AutoApproveAuthority{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &PaymentRefundCoordinator{
		repo:      repo,
		inventory: inventory,
		authority: authority,
		metrics:   m,
		logger:    logger,
	}
}

// SettleInitial consults the payment authority for a new appointment's
// initial paymentStatus. The fee is the physician's, never
// patient-supplied.
func (p *PaymentRefundCoordinator) SettleInitial(ctx context.Context, patientID uuid.UUID, feeCents int64, path PaymentPath) (PaymentStatus, error) {
	switch path {
	case PayOnline, PayAtHospital:
	default:
		return "", fmt.Errorf("%w: unknown payment path %q", ErrInvalidInput, path)
	}

	status, err := p.authority.Settle(ctx, patientID, feeCents, path)
	if err != nil {
		return "", fmt.Errorf("payment authority: %w", err)
	}

	switch status {
	case PaymentPaid, PaymentPending, PaymentAtHospital:
		return status, nil
	}
	return "", fmt.Errorf("%w: authority returned %q", ErrInvalidPaymentTransition, status)
}

// CancelAppointment moves an appointment to cancelled and releases its
// slot. Allowed from scheduled, confirmed and pending-payment, by the
// owning patient or staff/admin, with a non-empty reason.
func (p *PaymentRefundCoordinator) CancelAppointment(ctx context.Context, actor Actor, appointmentID uuid.UUID, reason string) (*Appointment, error) {
	appt, err := p.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	if err := authorizeTransition(actor, appt, StatusCancelled, reason); err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(reason)
	updated, err := p.repo.UpdateAppointmentStatus(ctx, appt.ID, appt.Status, StatusCancelled, &trimmed)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, appt.Status, StatusCancelled)
		}
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}

	// Hand the slot back. Release is booked -> open only, so a slot the
	// physician blocked in the meantime stays blocked.
	if err := p.inventory.Release(ctx, updated.PhysicianID, updated.Date, updated.TimeLabel); err != nil {
		p.logger.Error("slot release after cancel failed",
			"appointment_id", updated.ID, "date", updated.Date, "time_label", updated.TimeLabel, "error", err)
	}

	recordEvent(ctx, p.repo, p.logger, updated.ID, EventAppointmentCancelled, map[string]any{
		"reason": trimmed,
		"actor":  actor.ID.String(),
	})
	p.logger.Info("appointment cancelled", "appointment_id", updated.ID, "actor_role", actor.Role)

	return updated, nil
}

// RequestRefund opens a refund claim against a paid appointment. The
// compare-and-set on paymentStatus (paid -> refund-pending) is the
// concurrency guard: of two simultaneous requests exactly one wins.
func (p *PaymentRefundCoordinator) RequestRefund(ctx context.Context, actor Actor, appointmentID uuid.UUID, reason string, description *string) (*RefundRequest, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, ErrEmptyReason
	}

	appt, err := p.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	owns := actor.Role == RolePatient && actor.ID == appt.PatientID
	if !owns && !actor.HasRole(RoleStaff, RoleAdmin) {
		return nil, ErrForbidden
	}

	switch appt.PaymentStatus {
	case PaymentPaid:
	case PaymentRefundPending:
		p.metrics.ObserveRefund("duplicate")
		return nil, ErrDuplicateRefund
	default:
		return nil, ErrNotPaid
	}

	if _, err := p.repo.UpdatePaymentStatus(ctx, appt.ID, PaymentPaid, PaymentRefundPending); err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// Another request won the compare-and-set.
			p.metrics.ObserveRefund("duplicate")
			return nil, ErrDuplicateRefund
		}
		return nil, fmt.Errorf("mark refund pending: %w", err)
	}

	req := &RefundRequest{
		ID:            uuid.New(),
		AppointmentID: appt.ID,
		Reason:        strings.TrimSpace(reason),
		Description:   description,
		AmountCents:   appt.ConsultationFeeCents, // immutable, never patient-suppliable
		Status:        RefundPending,
	}

	created, err := p.repo.InsertRefundRequest(ctx, req)
	if err != nil {
		// Roll the payment status back so the appointment is not stuck
		// refund-pending with no request behind it.
		if _, rbErr := p.repo.UpdatePaymentStatus(ctx, appt.ID, PaymentRefundPending, PaymentPaid); rbErr != nil {
			p.logger.Error("payment status rollback failed", "appointment_id", appt.ID, "error", rbErr)
		}
		if errors.Is(err, ErrDuplicateRefund) {
			p.metrics.ObserveRefund("duplicate")
			return nil, err
		}
		return nil, fmt.Errorf("insert refund request: %w", err)
	}

	p.metrics.ObserveRefund("requested")
	recordEvent(ctx, p.repo, p.logger, appt.ID, EventRefundRequested, map[string]any{
		"refund_id":    created.ID.String(),
		"amount_cents": created.AmountCents,
		"reason":       created.Reason,
	})
	p.logger.Info("refund requested", "appointment_id", appt.ID, "refund_id", created.ID, "amount_cents", created.AmountCents)

	return created, nil
}

// ReviewRefund flips a pending request to approved or rejected. Rejection
// hands the fee back to paid; approval leaves settlement to
// CompleteRefund. The appointment status itself is untouched.
func (p *PaymentRefundCoordinator) ReviewRefund(ctx context.Context, actor Actor, refundID uuid.UUID, approve bool) (*RefundRequest, error) {
	if !actor.HasRole(RoleStaff, RoleAdmin) {
		return nil, ErrForbidden
	}

	target := RefundRejected
	if approve {
		target = RefundApproved
	}

	updated, err := p.repo.UpdateRefundStatus(ctx, refundID, RefundPending, target)
	if err != nil {
		if errors.Is(err, ErrRefundNotFound) {
			// Either missing or no longer pending; disambiguate for the caller.
			if _, getErr := p.repo.GetRefundRequestByID(ctx, refundID); getErr == nil {
				return nil, ErrRefundAlreadyReviewed
			}
			return nil, ErrRefundNotFound
		}
		return nil, fmt.Errorf("review refund: %w", err)
	}

	if target == RefundRejected {
		if _, err := p.repo.UpdatePaymentStatus(ctx, updated.AppointmentID, PaymentRefundPending, PaymentPaid); err != nil {
			p.logger.Error("payment status reset after rejection failed",
				"appointment_id", updated.AppointmentID, "error", err)
		}
	}

	p.metrics.ObserveRefund(string(target))
	recordEvent(ctx, p.repo, p.logger, updated.AppointmentID, EventRefundReviewed, map[string]any{
		"refund_id": updated.ID.String(),
		"status":    string(target),
		"actor":     actor.ID.String(),
	})

	return updated, nil
}

// CompleteRefund executes an approved refund through the payment authority
// and settles paymentStatus refund-pending -> refunded.
func (p *PaymentRefundCoordinator) CompleteRefund(ctx context.Context, appointmentID uuid.UUID) (*Appointment, error) {
	req, err := p.repo.GetActiveRefundByAppointment(ctx, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("load refund request: %w", err)
	}
	if req.Status != RefundApproved {
		return nil, ErrRefundNotApproved
	}

	if err := p.authority.Refund(ctx, appointmentID, req.AmountCents); err != nil {
		return nil, fmt.Errorf("payment authority refund: %w", err)
	}

	updated, err := p.repo.UpdatePaymentStatus(ctx, appointmentID, PaymentRefundPending, PaymentRefunded)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrInvalidPaymentTransition
		}
		return nil, fmt.Errorf("mark refunded: %w", err)
	}

	p.metrics.ObserveRefund("completed")
	recordEvent(ctx, p.repo, p.logger, appointmentID, EventRefundCompleted, map[string]any{
		"refund_id":    req.ID.String(),
		"amount_cents": req.AmountCents,
	})
	p.logger.Info("refund completed", "appointment_id", appointmentID, "amount_cents", req.AmountCents)

	return updated, nil
}

// ConfirmPayment lands a deferred online settlement: paymentStatus
// pending -> paid, and the appointment leaves pending-payment.
func (p *PaymentRefundCoordinator) ConfirmPayment(ctx context.Context, appointmentID uuid.UUID) (*Appointment, error) {
	updated, err := p.repo.UpdatePaymentStatus(ctx, appointmentID, PaymentPending, PaymentPaid)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrInvalidPaymentTransition
		}
		return nil, fmt.Errorf("confirm payment: %w", err)
	}

	if updated.Status == StatusPendingPayment {
		scheduled, err := p.repo.UpdateAppointmentStatus(ctx, appointmentID, StatusPendingPayment, StatusScheduled, nil)
		if err != nil {
			if !errors.Is(err, ErrAppointmentNotFound) {
				return nil, fmt.Errorf("schedule after payment: %w", err)
			}
			// Cancelled in the meantime; the payment flip stands.
		} else {
			updated = scheduled
		}
	}

	recordEvent(ctx, p.repo, p.logger, appointmentID, EventPaymentConfirmed, nil)
	return updated, nil
}
