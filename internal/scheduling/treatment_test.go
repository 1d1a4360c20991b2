package scheduling

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateTreatmentPlan(t *testing.T) {
	repo := newFakeRepo()
	patient := repo.addPatient()
	physician := repo.addPhysician("Cardiology", 5000)
	appt := repo.addAppointment(Appointment{
		PatientID:   patient.ID,
		PhysicianID: physician.ID,
		Status:      StatusCompleted,
	})

	linker := NewTreatmentPlanLinker(repo, nil)
	doctor := Actor{ID: physician.ID, Role: RoleDoctor}

	plan, err := linker.CreateTreatmentPlan(context.Background(), doctor, TreatmentPlanInput{
		AppointmentID: appt.ID,
		Diagnosis:     "  hypertension  ",
		Medications:   []string{"lisinopril"},
	})
	require.NoError(t, err)
	assert.Equal(t, appt.ID, plan.AppointmentID)
	assert.Equal(t, physician.ID, plan.PhysicianID)
	assert.Equal(t, "hypertension", plan.Diagnosis)
	assert.Equal(t, "routine", plan.Priority)
	assert.Contains(t, repo.eventTypes(), EventTreatmentPlanCreated)

	// One plan per appointment.
	_, err = linker.CreateTreatmentPlan(context.Background(), doctor, TreatmentPlanInput{
		AppointmentID: appt.ID,
		Diagnosis:     "hypertension",
	})
	assert.ErrorIs(t, err, ErrDuplicateTreatmentPlan)
}

func TestCreateTreatmentPlan_Guards(t *testing.T) {
	repo := newFakeRepo()
	patient := repo.addPatient()
	physician := repo.addPhysician("Cardiology", 5000)
	otherDoctor := repo.addPhysician("Cardiology", 5000)
	appt := repo.addAppointment(Appointment{
		PatientID:   patient.ID,
		PhysicianID: physician.ID,
		Status:      StatusCompleted,
	})

	linker := NewTreatmentPlanLinker(repo, nil)

	_, err := linker.CreateTreatmentPlan(context.Background(), Actor{ID: uuid.New(), Role: RoleStaff}, TreatmentPlanInput{
		AppointmentID: appt.ID, Diagnosis: "x",
	})
	assert.ErrorIs(t, err, ErrForbidden, "only doctors write plans")

	_, err = linker.CreateTreatmentPlan(context.Background(), Actor{ID: otherDoctor.ID, Role: RoleDoctor}, TreatmentPlanInput{
		AppointmentID: appt.ID, Diagnosis: "x",
	})
	assert.ErrorIs(t, err, ErrForbidden, "only the treating physician writes the plan")

	_, err = linker.CreateTreatmentPlan(context.Background(), Actor{ID: physician.ID, Role: RoleDoctor}, TreatmentPlanInput{
		AppointmentID: appt.ID, Diagnosis: "   ",
	})
	assert.ErrorIs(t, err, ErrInvalidInput, "diagnosis required")

	_, err = linker.CreateTreatmentPlan(context.Background(), Actor{ID: physician.ID, Role: RoleDoctor}, TreatmentPlanInput{
		AppointmentID: uuid.New(), Diagnosis: "x",
	})
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestUpdateTreatmentPlan(t *testing.T) {
	repo := newFakeRepo()
	patient := repo.addPatient()
	physician := repo.addPhysician("Cardiology", 5000)
	appt := repo.addAppointment(Appointment{
		PatientID:   patient.ID,
		PhysicianID: physician.ID,
		Status:      StatusCompleted,
	})

	linker := NewTreatmentPlanLinker(repo, nil)
	doctor := Actor{ID: physician.ID, Role: RoleDoctor}

	created, err := linker.CreateTreatmentPlan(context.Background(), doctor, TreatmentPlanInput{
		AppointmentID: appt.ID,
		Diagnosis:     "hypertension",
	})
	require.NoError(t, err)

	followUp := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	updated, err := linker.UpdateTreatmentPlan(context.Background(), doctor, appt.ID, TreatmentPlanInput{
		Treatment:    "lifestyle changes",
		FollowUpDate: &followUp,
		Priority:     "urgent",
	})
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, appt.ID, updated.AppointmentID, "linkage is never re-pointed")
	assert.Equal(t, "hypertension", updated.Diagnosis, "omitted fields keep their value")
	assert.Equal(t, "lifestyle changes", updated.Treatment)
	assert.Equal(t, "urgent", updated.Priority)
	require.NotNil(t, updated.FollowUpDate)
	assert.True(t, followUp.Equal(*updated.FollowUpDate))

	other := repo.addPhysician("Cardiology", 5000)
	_, err = linker.UpdateTreatmentPlan(context.Background(), Actor{ID: other.ID, Role: RoleDoctor}, appt.ID, TreatmentPlanInput{
		Treatment: "other",
	})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestGetTreatmentPlan(t *testing.T) {
	repo := newFakeRepo()
	patient := repo.addPatient()
	stranger := repo.addPatient()
	physician := repo.addPhysician("Cardiology", 5000)
	appt := repo.addAppointment(Appointment{
		PatientID:   patient.ID,
		PhysicianID: physician.ID,
		Status:      StatusCompleted,
	})

	linker := NewTreatmentPlanLinker(repo, nil)
	doctor := Actor{ID: physician.ID, Role: RoleDoctor}

	_, err := linker.GetTreatmentPlan(context.Background(), doctor, appt.ID)
	assert.ErrorIs(t, err, ErrTreatmentPlanNotFound)

	_, err = linker.CreateTreatmentPlan(context.Background(), doctor, TreatmentPlanInput{
		AppointmentID: appt.ID,
		Diagnosis:     "hypertension",
	})
	require.NoError(t, err)

	plan, err := linker.GetTreatmentPlan(context.Background(), Actor{ID: patient.ID, Role: RolePatient}, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, appt.ID, plan.AppointmentID)

	_, err = linker.GetTreatmentPlan(context.Background(), Actor{ID: stranger.ID, Role: RolePatient}, appt.ID)
	assert.ErrorIs(t, err, ErrForbidden)
}
