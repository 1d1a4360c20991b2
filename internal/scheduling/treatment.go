package scheduling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carebridge/clinic-scheduling/pkg/logging"
)

// TreatmentPlanLinker enforces the one-plan-per-appointment invariant. The
// linkage is a required foreign key set at creation and never re-pointed.
type TreatmentPlanLinker struct {
	repo   Repository
	logger *logging.Logger
}

func NewTreatmentPlanLinker(repo Repository, logger *logging.Logger) *TreatmentPlanLinker {
	if logger == nil {
		logger = logging.Default()
	}
	return &TreatmentPlanLinker{repo: repo, logger: logger}
}

type TreatmentPlanInput struct {
	AppointmentID uuid.UUID
	Diagnosis     string
	Treatment     string
	Medications   []string
	Allergies     []string
	Conditions    []string
	FollowUpDate  *time.Time
	Priority      string
}

// CreateTreatmentPlan persists a plan linked to one appointment. A unique
// index on the appointment reference makes the duplicate check race-free:
// the insert itself fails with ErrDuplicateTreatmentPlan when a plan
// already exists.
func (t *TreatmentPlanLinker) CreateTreatmentPlan(ctx context.Context, actor Actor, in TreatmentPlanInput) (*TreatmentPlan, error) {
	if actor.Role != RoleDoctor {
		return nil, ErrForbidden
	}
	if strings.TrimSpace(in.Diagnosis) == "" {
		return nil, fmt.Errorf("%w: diagnosis required", ErrInvalidInput)
	}
	if in.Priority == "" {
		in.Priority = "routine"
	}

	appt, err := t.repo.GetAppointmentByID(ctx, in.AppointmentID)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if appt.PhysicianID != actor.ID {
		return nil, ErrForbidden
	}

	plan := &TreatmentPlan{
		ID:            uuid.New(),
		AppointmentID: appt.ID,
		PhysicianID:   actor.ID,
		Diagnosis:     strings.TrimSpace(in.Diagnosis),
		Treatment:     in.Treatment,
		Medications:   in.Medications,
		Allergies:     in.Allergies,
		Conditions:    in.Conditions,
		FollowUpDate:  in.FollowUpDate,
		Priority:      in.Priority,
	}

	created, err := t.repo.InsertTreatmentPlan(ctx, plan)
	if err != nil {
		return nil, err
	}

	recordEvent(ctx, t.repo, t.logger, appt.ID, EventTreatmentPlanCreated, map[string]any{
		"plan_id":   created.ID.String(),
		"physician": actor.ID.String(),
	})
	t.logger.Info("treatment plan created", "plan_id", created.ID, "appointment_id", appt.ID)

	return created, nil
}

// UpdateTreatmentPlan edits clinical fields only; the appointment linkage
// is fixed for the plan's lifetime.
func (t *TreatmentPlanLinker) UpdateTreatmentPlan(ctx context.Context, actor Actor, appointmentID uuid.UUID, in TreatmentPlanInput) (*TreatmentPlan, error) {
	if actor.Role != RoleDoctor {
		return nil, ErrForbidden
	}

	existing, err := t.repo.GetTreatmentPlanByAppointment(ctx, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("load treatment plan: %w", err)
	}
	if existing.PhysicianID != actor.ID {
		return nil, ErrForbidden
	}

	if strings.TrimSpace(in.Diagnosis) != "" {
		existing.Diagnosis = strings.TrimSpace(in.Diagnosis)
	}
	if in.Treatment != "" {
		existing.Treatment = in.Treatment
	}
	if in.Medications != nil {
		existing.Medications = in.Medications
	}
	if in.Allergies != nil {
		existing.Allergies = in.Allergies
	}
	if in.Conditions != nil {
		existing.Conditions = in.Conditions
	}
	if in.FollowUpDate != nil {
		existing.FollowUpDate = in.FollowUpDate
	}
	if in.Priority != "" {
		existing.Priority = in.Priority
	}

	updated, err := t.repo.UpdateTreatmentPlan(ctx, existing)
	if err != nil {
		return nil, fmt.Errorf("update treatment plan: %w", err)
	}
	return updated, nil
}

// GetTreatmentPlan returns the plan linked to an appointment.
func (t *TreatmentPlanLinker) GetTreatmentPlan(ctx context.Context, actor Actor, appointmentID uuid.UUID) (*TreatmentPlan, error) {
	plan, err := t.repo.GetTreatmentPlanByAppointment(ctx, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("load treatment plan: %w", err)
	}
	if actor.Role == RolePatient {
		appt, err := t.repo.GetAppointmentByID(ctx, appointmentID)
		if err != nil {
			return nil, fmt.Errorf("load appointment: %w", err)
		}
		if appt.PatientID != actor.ID {
			return nil, ErrForbidden
		}
	}
	return plan, nil
}
