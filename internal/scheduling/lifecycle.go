package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carebridge/clinic-scheduling/pkg/logging"
)

const (
	EventAppointmentBooked    = "APPOINTMENT_BOOKED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventAppointmentNoShow    = "APPOINTMENT_NO_SHOW"
	EventStatusChanged        = "APPOINTMENT_STATUS_CHANGED"
	EventPaymentConfirmed     = "PAYMENT_CONFIRMED"
	EventRefundRequested      = "REFUND_REQUESTED"
	EventRefundReviewed       = "REFUND_REVIEWED"
	EventRefundCompleted      = "REFUND_COMPLETED"
	EventTreatmentPlanCreated = "TREATMENT_PLAN_CREATED"
)

// appointmentTransitions is the single authority on transition legality.
// Terminal states (completed, cancelled, no-show) have no outgoing edges.
var appointmentTransitions = map[AppointmentStatus][]AppointmentStatus{
	StatusScheduled:      {StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow},
	StatusConfirmed:      {StatusCompleted, StatusCancelled, StatusNoShow},
	StatusPendingPayment: {StatusScheduled, StatusCancelled},
	StatusCompleted:      {},
	StatusCancelled:      {},
	StatusNoShow:         {},
}

func ParseAppointmentStatus(s string) (AppointmentStatus, error) {
	switch AppointmentStatus(s) {
	case StatusScheduled, StatusPendingPayment, StatusConfirmed,
		StatusCompleted, StatusCancelled, StatusNoShow:
		return AppointmentStatus(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

func CanTransition(from, to AppointmentStatus) bool {
	for _, next := range appointmentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition may ever leave the status.
func IsTerminal(s AppointmentStatus) bool {
	return len(appointmentTransitions[s]) == 0
}

// authorizeTransition applies the role guards on top of the table: staff
// side moves (confirmed/completed/no-show) need a privileged actor, and a
// cancellation may only come from the owning patient or staff acting on
// their behalf, always with a reason.
func authorizeTransition(actor Actor, appt *Appointment, to AppointmentStatus, reason string) error {
	switch to {
	case StatusConfirmed, StatusCompleted, StatusNoShow:
		if !actor.HasRole(RoleDoctor, RoleStaff, RoleAdmin) {
			return ErrForbidden
		}
	case StatusCancelled:
		owns := actor.Role == RolePatient && actor.ID == appt.PatientID
		if !owns && !actor.HasRole(RoleStaff, RoleAdmin) {
			return ErrForbidden
		}
		if strings.TrimSpace(reason) == "" {
			return ErrEmptyReason
		}
	case StatusScheduled:
		// Entered only via payment confirmation, never by a direct
		// status update.
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, appt.Status, to)
	}

	if !CanTransition(appt.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, appt.Status, to)
	}
	return nil
}

// Lifecycle drives guarded appointment status transitions.
type Lifecycle struct {
	repo   Repository
	logger *logging.Logger
}

func NewLifecycle(repo Repository, logger *logging.Logger) *Lifecycle {
	if logger == nil {
		logger = logging.Default()
	}
	return &Lifecycle{repo: repo, logger: logger}
}

// UpdateStatus moves an appointment to confirmed, completed or no-show.
// Cancellation carries a reason and a slot release and goes through
// PaymentRefundCoordinator.CancelAppointment instead.
func (l *Lifecycle) UpdateStatus(ctx context.Context, actor Actor, appointmentID uuid.UUID, target string) (*Appointment, error) {
	to, err := ParseAppointmentStatus(target)
	if err != nil {
		return nil, err
	}
	if to == StatusCancelled {
		return nil, fmt.Errorf("%w: cancellation requires a reason, use the cancel operation", ErrEmptyReason)
	}

	appt, err := l.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}

	if err := authorizeTransition(actor, appt, to, ""); err != nil {
		return nil, err
	}

	// No-show is only meaningful once the appointment time has passed.
	if to == StatusNoShow {
		startsAt, err := appt.StartsAt()
		if err == nil && time.Now().Before(startsAt) {
			return nil, fmt.Errorf("%w: appointment has not started yet", ErrInvalidTransition)
		}
	}

	updated, err := l.repo.UpdateAppointmentStatus(ctx, appt.ID, appt.Status, to, nil)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// Lost a race with another writer; nothing was mutated.
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, appt.Status, to)
		}
		return nil, fmt.Errorf("update status: %w", err)
	}

	l.logEvent(ctx, updated.ID, EventStatusChanged, map[string]any{
		"from":  string(appt.Status),
		"to":    string(to),
		"actor": actor.ID.String(),
	})
	l.logger.Info("appointment status updated",
		"appointment_id", updated.ID, "from", appt.Status, "to", to, "actor_role", actor.Role)

	return updated, nil
}

// MarkOverdueNoShows flips scheduled/confirmed appointments whose time
// passed more than grace ago and saw no check-in. Called by the worker.
func (l *Lifecycle) MarkOverdueNoShows(ctx context.Context, now time.Time, grace time.Duration) (int, error) {
	overdue, err := l.repo.FindOverdueAppointments(ctx, now.Add(-grace))
	if err != nil {
		return 0, fmt.Errorf("find overdue appointments: %w", err)
	}

	marked := 0
	for _, appt := range overdue {
		if _, err := l.repo.UpdateAppointmentStatus(ctx, appt.ID, appt.Status, StatusNoShow, nil); err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				continue // someone moved it first
			}
			l.logger.Error("failed to mark no-show", "appointment_id", appt.ID, "error", err)
			continue
		}
		marked++
		l.logEvent(ctx, appt.ID, EventAppointmentNoShow, map[string]any{
			"previous_status": string(appt.Status),
		})
	}

	return marked, nil
}

func (l *Lifecycle) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	recordEvent(ctx, l.repo, l.logger, appointmentID, eventType, payload)
}
