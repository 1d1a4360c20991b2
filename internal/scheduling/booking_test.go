package scheduling

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBookingFixture(t *testing.T) (*fakeRepo, *BookingCoordinator) {
	t.Helper()
	repo := newFakeRepo()
	inv := NewSlotInventory(repo, nil, nil)
	payments := NewPaymentRefundCoordinator(repo, inv, nil, nil, nil)
	booking := NewBookingCoordinator(repo, inv, payments, newFakeLocker(), nil, nil)
	return repo, booking
}

func TestCreateAppointment_OnlinePaid(t *testing.T) {
	repo, booking := newBookingFixture(t)
	patient := repo.addPatient()
	physician := repo.addPhysician("Cardiology", 5000)
	slot := repo.addSlot(physician.ID, "2026-09-10", "10:00", SlotOpen)

	actor := Actor{ID: patient.ID, Role: RolePatient}
	res, err := booking.CreateAppointment(context.Background(), actor, CreateAppointmentInput{
		PhysicianID:    physician.ID,
		Date:           "2026-09-10",
		TimeLabel:      "10:00",
		ChiefComplaint: "chest pain",
		PaymentPath:    PayOnline,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Appointment)
	assert.False(t, res.SlotUnavailable)

	appt := res.Appointment
	assert.Equal(t, StatusScheduled, appt.Status)
	assert.Equal(t, PaymentPaid, appt.PaymentStatus)
	assert.Equal(t, physician.Department, appt.Department)
	assert.Equal(t, int64(5000), appt.ConsultationFeeCents, "fee comes from the physician, not the request")
	assert.Equal(t, DefaultDurationMinutes, appt.DurationMinutes)

	assert.Equal(t, SlotBooked, repo.slotByID(slot.ID).Status)
	assert.Contains(t, repo.eventTypes(), EventAppointmentBooked)
}

func TestCreateAppointment_AtHospitalDefault(t *testing.T) {
	repo, booking := newBookingFixture(t)
	patient := repo.addPatient()
	physician := repo.addPhysician("ENT", 3000)
	repo.addSlot(physician.ID, "2026-09-10", "10:00", SlotOpen)

	actor := Actor{ID: patient.ID, Role: RolePatient}
	res, err := booking.CreateAppointment(context.Background(), actor, CreateAppointmentInput{
		PhysicianID:    physician.ID,
		Date:           "2026-09-10",
		TimeLabel:      "10:00",
		ChiefComplaint: "earache",
	})
	require.NoError(t, err)
	require.NotNil(t, res.Appointment)
	assert.Equal(t, StatusScheduled, res.Appointment.Status)
	assert.Equal(t, PaymentAtHospital, res.Appointment.PaymentStatus)
}

func TestCreateAppointment_Validation(t *testing.T) {
	repo, booking := newBookingFixture(t)
	patient := repo.addPatient()
	physician := repo.addPhysician("ENT", 3000)
	actor := Actor{ID: patient.ID, Role: RolePatient}

	_, err := booking.CreateAppointment(context.Background(), Actor{ID: uuid.New(), Role: RoleStaff}, CreateAppointmentInput{})
	assert.ErrorIs(t, err, ErrForbidden, "only patients book")

	_, err = booking.CreateAppointment(context.Background(), actor, CreateAppointmentInput{
		PhysicianID: physician.ID, Date: "2026-09-10", TimeLabel: "10:00",
	})
	assert.ErrorIs(t, err, ErrInvalidInput, "chief complaint required")

	_, err = booking.CreateAppointment(context.Background(), actor, CreateAppointmentInput{
		PhysicianID: physician.ID, Date: "sept 10", TimeLabel: "10:00", ChiefComplaint: "x",
	})
	assert.ErrorIs(t, err, ErrInvalidDate)

	_, err = booking.CreateAppointment(context.Background(), actor, CreateAppointmentInput{
		PhysicianID: physician.ID, Date: "2026-09-10", TimeLabel: "10am", ChiefComplaint: "x",
	})
	assert.ErrorIs(t, err, ErrInvalidTimeLabel)

	_, err = booking.CreateAppointment(context.Background(), actor, CreateAppointmentInput{
		PhysicianID: uuid.New(), Date: "2026-09-10", TimeLabel: "10:00", ChiefComplaint: "x",
	})
	assert.ErrorIs(t, err, ErrPhysicianNotFound)
}

func TestCreateAppointment_SlotTakenOffersAlternatives(t *testing.T) {
	repo, booking := newBookingFixture(t)
	patient := repo.addPatient()
	physician := repo.addPhysician("Cardiology", 5000)
	repo.addSlot(physician.ID, "2026-09-10", "10:00", SlotBooked)

	alt := repo.addPhysician("Cardiology", 5500)
	repo.addSlot(alt.ID, "2026-09-10", "10:00", SlotOpen)

	otherDept := repo.addPhysician("ENT", 3000)
	repo.addSlot(otherDept.ID, "2026-09-10", "10:00", SlotOpen)

	actor := Actor{ID: patient.ID, Role: RolePatient}
	res, err := booking.CreateAppointment(context.Background(), actor, CreateAppointmentInput{
		PhysicianID:    physician.ID,
		Date:           "2026-09-10",
		TimeLabel:      "10:00",
		ChiefComplaint: "chest pain",
	})
	require.NoError(t, err, "a taken slot is a structured outcome, not an error")
	assert.Nil(t, res.Appointment)
	assert.True(t, res.SlotUnavailable)
	require.Len(t, res.Alternatives, 1)
	assert.Equal(t, alt.ID, res.Alternatives[0].PhysicianID)
	assert.Equal(t, "10:00", res.Alternatives[0].TimeLabel)
}

func TestCreateAppointment_NoAlternatives(t *testing.T) {
	repo, booking := newBookingFixture(t)
	patient := repo.addPatient()
	physician := repo.addPhysician("Cardiology", 5000)
	repo.addSlot(physician.ID, "2026-09-10", "10:00", SlotBlocked)

	actor := Actor{ID: patient.ID, Role: RolePatient}
	res, err := booking.CreateAppointment(context.Background(), actor, CreateAppointmentInput{
		PhysicianID:    physician.ID,
		Date:           "2026-09-10",
		TimeLabel:      "10:00",
		ChiefComplaint: "chest pain",
	})
	require.NoError(t, err)
	assert.True(t, res.SlotUnavailable)
	assert.Empty(t, res.Alternatives, "empty alternatives is a valid outcome")
}

func TestCreateAppointment_RollbackOnInsertFailure(t *testing.T) {
	repo, booking := newBookingFixture(t)
	patient := repo.addPatient()
	physician := repo.addPhysician("Cardiology", 5000)
	slot := repo.addSlot(physician.ID, "2026-09-10", "10:00", SlotOpen)

	repo.insertAppointmentErr = errors.New("db down")

	actor := Actor{ID: patient.ID, Role: RolePatient}
	_, err := booking.CreateAppointment(context.Background(), actor, CreateAppointmentInput{
		PhysicianID:    physician.ID,
		Date:           "2026-09-10",
		TimeLabel:      "10:00",
		ChiefComplaint: "chest pain",
	})
	require.Error(t, err)

	assert.Equal(t, SlotOpen, repo.slotByID(slot.ID).Status,
		"the reservation must be released when the insert fails")
}

func TestCreateAppointment_ConcurrentOneWinner(t *testing.T) {
	repo, booking := newBookingFixture(t)
	physician := repo.addPhysician("Cardiology", 5000)
	repo.addSlot(physician.ID, "2026-09-10", "10:00", SlotOpen)

	const attempts = 8
	patients := make([]*Patient, attempts)
	for i := range patients {
		patients[i] = repo.addPatient()
	}

	results := make([]*BookingResult, attempts)
	errs := make([]error, attempts)

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			actor := Actor{ID: patients[i].ID, Role: RolePatient}
			results[i], errs[i] = booking.CreateAppointment(context.Background(), actor, CreateAppointmentInput{
				PhysicianID:    physician.ID,
				Date:           "2026-09-10",
				TimeLabel:      "10:00",
				ChiefComplaint: "chest pain",
			})
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := 0; i < attempts; i++ {
		require.NoError(t, errs[i])
		if results[i].Appointment != nil {
			winners++
		} else {
			assert.True(t, results[i].SlotUnavailable)
		}
	}
	assert.Equal(t, 1, winners, "exactly one concurrent booking wins the slot")
}

func TestGetAppointment_PatientOwnsOnly(t *testing.T) {
	repo, booking := newBookingFixture(t)
	owner := repo.addPatient()
	other := repo.addPatient()
	appt := repo.addAppointment(Appointment{PatientID: owner.ID, Status: StatusScheduled})

	_, err := booking.GetAppointment(context.Background(), Actor{ID: other.ID, Role: RolePatient}, appt.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	got, err := booking.GetAppointment(context.Background(), Actor{ID: owner.ID, Role: RolePatient}, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, appt.ID, got.ID)

	got, err = booking.GetAppointment(context.Background(), Actor{ID: uuid.New(), Role: RoleStaff}, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, appt.ID, got.ID)
}

func TestListPatientAppointments(t *testing.T) {
	repo, booking := newBookingFixture(t)
	patient := repo.addPatient()
	other := repo.addPatient()
	for i := 0; i < 3; i++ {
		repo.addAppointment(Appointment{PatientID: patient.ID, Status: StatusScheduled})
	}

	actor := Actor{ID: patient.ID, Role: RolePatient}
	appts, err := booking.ListPatientAppointments(context.Background(), actor, patient.ID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, appts, 3)

	appts, err = booking.ListPatientAppointments(context.Background(), actor, patient.ID, 2, 0)
	require.NoError(t, err)
	assert.Len(t, appts, 2)

	_, err = booking.ListPatientAppointments(context.Background(), Actor{ID: other.ID, Role: RolePatient}, patient.ID, 0, 0)
	assert.ErrorIs(t, err, ErrForbidden)
}
