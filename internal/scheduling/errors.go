package scheduling

import "errors"

// Validation: rejected before any mutation.
var (
	ErrEmptyReason      = errors.New("reason must be a non-empty string")
	ErrInvalidDate      = errors.New("date must be formatted YYYY-MM-DD")
	ErrInvalidTimeLabel = errors.New("time label must be formatted HH:MM")
	ErrInvalidTimeRange = errors.New("start time must be before end time")
	ErrInvalidInput     = errors.New("invalid input")
)

// Authorization: actor role not permitted for the action.
var (
	ErrForbidden = errors.New("actor role not permitted for this action")
)

// Not found.
var (
	ErrPatientNotFound       = errors.New("patient not found")
	ErrPhysicianNotFound     = errors.New("physician not found")
	ErrSlotNotFound          = errors.New("slot not found")
	ErrAppointmentNotFound   = errors.New("appointment not found")
	ErrRefundNotFound        = errors.New("refund request not found")
	ErrTreatmentPlanNotFound = errors.New("treatment plan not found")
)

// Conflict: first writer won; state is untouched by the losing attempt.
var (
	ErrSlotNotOpen            = errors.New("slot is not open")
	ErrSlotHasAppointment     = errors.New("slot is booked, cancel the appointment first")
	ErrDuplicateTreatmentPlan = errors.New("a treatment plan already exists for this appointment")
	ErrDuplicateRefund        = errors.New("an active refund request already exists for this appointment")
	ErrNotPaid                = errors.New("appointment is not paid")
)

// State: transition not in the allowed table.
var (
	ErrUnknownStatus            = errors.New("unknown appointment status")
	ErrInvalidTransition        = errors.New("invalid status transition")
	ErrInvalidPaymentTransition = errors.New("invalid payment status transition")
	ErrRefundAlreadyReviewed    = errors.New("refund request has already been reviewed")
	ErrRefundNotApproved        = errors.New("refund request has not been approved")
)
