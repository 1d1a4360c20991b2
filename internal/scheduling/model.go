package scheduling

import (
	"time"

	"github.com/google/uuid"
)

// DateLayout is the calendar-date format used across the API and storage.
const DateLayout = "2006-01-02"

// TimeLayout is the slot time-label format ("10:00", "14:15").
const TimeLayout = "15:04"

// DefaultGranularityMinutes is the slot width used when a caller does not
// pick one explicitly.
const DefaultGranularityMinutes = 15

// DefaultDurationMinutes is the appointment length assumed when the request
// omits it.
const DefaultDurationMinutes = 30

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleStaff   Role = "staff"
	RoleAdmin   Role = "admin"
)

// Actor is the already-authenticated caller. Authentication happens
// upstream; the core only consumes identity and role.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

func (a Actor) HasRole(roles ...Role) bool {
	for _, r := range roles {
		if a.Role == r {
			return true
		}
	}
	return false
}

type SlotStatus string

const (
	SlotOpen    SlotStatus = "open"
	SlotBooked  SlotStatus = "booked"
	SlotBlocked SlotStatus = "blocked"
)

type AppointmentStatus string

const (
	StatusScheduled      AppointmentStatus = "scheduled"
	StatusPendingPayment AppointmentStatus = "pending-payment"
	StatusConfirmed      AppointmentStatus = "confirmed"
	StatusCompleted      AppointmentStatus = "completed"
	StatusCancelled      AppointmentStatus = "cancelled"
	StatusNoShow         AppointmentStatus = "no-show"
)

type PaymentStatus string

const (
	PaymentPaid          PaymentStatus = "paid"
	PaymentPending       PaymentStatus = "pending"
	PaymentAtHospital    PaymentStatus = "pay-at-hospital"
	PaymentRefundPending PaymentStatus = "refund-pending"
	PaymentRefunded      PaymentStatus = "refunded"
)

// PaymentPath is how the patient chose to settle the consultation fee.
type PaymentPath string

const (
	PayOnline     PaymentPath = "online"
	PayAtHospital PaymentPath = "at-hospital"
)

type RefundStatus string

const (
	RefundPending  RefundStatus = "pending"
	RefundApproved RefundStatus = "approved"
	RefundRejected RefundStatus = "rejected"
)

type Physician struct {
	ID                   uuid.UUID
	Name                 string
	Department           string
	ConsultationFeeCents int64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Slot is the smallest bookable time unit for one physician on one date.
// Status changes only through reserve/release/block/unblock.
type Slot struct {
	ID          uuid.UUID
	PhysicianID uuid.UUID
	Date        string // DateLayout
	TimeLabel   string // TimeLayout
	Status      SlotStatus
	BlockReason *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Appointment references exactly one slot at a time, identified by
// (PhysicianID, Date, TimeLabel).
type Appointment struct {
	ID                   uuid.UUID
	PatientID            uuid.UUID
	PhysicianID          uuid.UUID
	Date                 string
	TimeLabel            string
	DurationMinutes      int
	AppointmentType      string
	ChiefComplaint       string
	Department           string
	Status               AppointmentStatus
	PaymentStatus        PaymentStatus
	ConsultationFeeCents int64
	CancellationReason   *string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// StartsAt resolves the appointment's calendar position to a point in time.
func (a *Appointment) StartsAt() (time.Time, error) {
	return time.Parse(DateLayout+" "+TimeLayout, a.Date+" "+a.TimeLabel)
}

// TreatmentPlan links 1:1 to an appointment; the linkage is fixed at
// creation and never re-pointed.
type TreatmentPlan struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	PhysicianID   uuid.UUID
	Diagnosis     string
	Treatment     string
	Medications   []string
	Allergies     []string
	Conditions    []string
	FollowUpDate  *time.Time
	Priority      string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// RefundRequest is a patient claim against a paid appointment's fee.
// AmountCents is fixed to the consultation fee at request time.
type RefundRequest struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	Reason        string
	Description   *string
	AmountCents   int64
	Status        RefundStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AlternativePhysician is offered when a requested slot is already taken:
// another physician in the same department with an open slot that day.
type AlternativePhysician struct {
	PhysicianID uuid.UUID
	Name        string
	Department  string
	TimeLabel   string
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
