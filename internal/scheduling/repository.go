package scheduling

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/carebridge/clinic-scheduling/pkg/logging"
)

// Repository contains all DB interactions needed by the coordinators.
// Status-changing methods are compare-and-set: they take the expected
// current status and report not-found when another writer got there first.
type Repository interface {
	// Directory
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetPhysicianByID(ctx context.Context, id uuid.UUID) (*Physician, error)

	// Slot inventory
	InsertSlots(ctx context.Context, slots []Slot) (int64, error)
	GetSlotsByIDs(ctx context.Context, ids []uuid.UUID) ([]Slot, error)
	ListSlotsByLabels(ctx context.Context, physicianID uuid.UUID, date string, labels []string) ([]Slot, error)
	ListSlots(ctx context.Context, physicianID uuid.UUID, date string, status *SlotStatus) ([]Slot, error)
	ReserveSlot(ctx context.Context, physicianID uuid.UUID, date, timeLabel string) (*Slot, error)
	ReleaseSlot(ctx context.Context, physicianID uuid.UUID, date, timeLabel string) error
	BlockSlots(ctx context.Context, ids []uuid.UUID, reason string) ([]Slot, error)
	UnblockSlots(ctx context.Context, ids []uuid.UUID) ([]Slot, error)

	// Alternative-physician lookup: open slots held by other physicians
	// of the department on the same date, preferring the requested label.
	FindDepartmentAlternatives(ctx context.Context, department, date, timeLabel string, exclude uuid.UUID) ([]AlternativePhysician, error)

	// Appointments
	InsertAppointment(ctx context.Context, a *Appointment) (*Appointment, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, cancellationReason *string) (*Appointment, error)
	UpdatePaymentStatus(ctx context.Context, id uuid.UUID, from, to PaymentStatus) (*Appointment, error)
	FindOverdueAppointments(ctx context.Context, before time.Time) ([]Appointment, error)

	// Refunds
	InsertRefundRequest(ctx context.Context, r *RefundRequest) (*RefundRequest, error)
	GetRefundRequestByID(ctx context.Context, id uuid.UUID) (*RefundRequest, error)
	GetActiveRefundByAppointment(ctx context.Context, appointmentID uuid.UUID) (*RefundRequest, error)
	UpdateRefundStatus(ctx context.Context, id uuid.UUID, from, to RefundStatus) (*RefundRequest, error)

	// Treatment plans
	InsertTreatmentPlan(ctx context.Context, p *TreatmentPlan) (*TreatmentPlan, error)
	GetTreatmentPlanByAppointment(ctx context.Context, appointmentID uuid.UUID) (*TreatmentPlan, error)
	UpdateTreatmentPlan(ctx context.Context, p *TreatmentPlan) (*TreatmentPlan, error)

	// Audit trail
	InsertEvent(ctx context.Context, ev EventLog) error
}

// recordEvent writes an audit row; failures are logged, never surfaced,
// so the audit trail cannot fail a booking.
func recordEvent(ctx context.Context, repo Repository, logger *logging.Logger, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Error("marshal event payload", "event_type", eventType, "error", err)
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     time.Now(),
	}

	if err := repo.InsertEvent(ctx, ev); err != nil {
		logger.Error("insert event log", "event_type", eventType, "appointment_id", appointmentID, "error", err)
	}
}
