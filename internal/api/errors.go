package api

import (
	"errors"
	"net/http"

	"github.com/carebridge/clinic-scheduling/internal/scheduling"
)

// handleError maps domain sentinel errors onto stable error codes and HTTP
// statuses. Anything unmapped is an internal fault and never leaks raw.
func handleError(w http.ResponseWriter, err error) {
	switch {
	// Validation
	case errors.Is(err, scheduling.ErrEmptyReason):
		writeError(w, http.StatusBadRequest, "EMPTY_REASON", err.Error())
	case errors.Is(err, scheduling.ErrInvalidDate),
		errors.Is(err, scheduling.ErrInvalidTimeLabel),
		errors.Is(err, scheduling.ErrInvalidTimeRange),
		errors.Is(err, scheduling.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, scheduling.ErrUnknownStatus):
		writeError(w, http.StatusBadRequest, "INVALID_TRANSITION", err.Error())

	// Authorization
	case errors.Is(err, scheduling.ErrForbidden):
		writeError(w, http.StatusForbidden, "FORBIDDEN", err.Error())

	// Not found
	case errors.Is(err, scheduling.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "PATIENT_NOT_FOUND", err.Error())
	case errors.Is(err, scheduling.ErrPhysicianNotFound):
		writeError(w, http.StatusNotFound, "PHYSICIAN_NOT_FOUND", err.Error())
	case errors.Is(err, scheduling.ErrSlotNotFound):
		writeError(w, http.StatusNotFound, "SLOT_NOT_FOUND", err.Error())
	case errors.Is(err, scheduling.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "APPOINTMENT_NOT_FOUND", err.Error())
	case errors.Is(err, scheduling.ErrRefundNotFound):
		writeError(w, http.StatusNotFound, "REFUND_NOT_FOUND", err.Error())
	case errors.Is(err, scheduling.ErrTreatmentPlanNotFound):
		writeError(w, http.StatusNotFound, "TREATMENT_PLAN_NOT_FOUND", err.Error())

	// Conflict
	case errors.Is(err, scheduling.ErrSlotNotOpen):
		writeError(w, http.StatusConflict, "SLOT_NOT_OPEN", err.Error())
	case errors.Is(err, scheduling.ErrSlotHasAppointment):
		writeError(w, http.StatusConflict, "SLOT_BOOKED", err.Error())
	case errors.Is(err, scheduling.ErrDuplicateTreatmentPlan):
		writeError(w, http.StatusConflict, "DUPLICATE_TREATMENT_PLAN", err.Error())
	case errors.Is(err, scheduling.ErrDuplicateRefund):
		writeError(w, http.StatusConflict, "DUPLICATE_REFUND", err.Error())
	case errors.Is(err, scheduling.ErrNotPaid):
		writeError(w, http.StatusConflict, "NOT_PAID", err.Error())

	// State
	case errors.Is(err, scheduling.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "INVALID_TRANSITION", err.Error())
	case errors.Is(err, scheduling.ErrInvalidPaymentTransition):
		writeError(w, http.StatusConflict, "INVALID_PAYMENT_TRANSITION", err.Error())
	case errors.Is(err, scheduling.ErrRefundAlreadyReviewed):
		writeError(w, http.StatusConflict, "REFUND_ALREADY_REVIEWED", err.Error())
	case errors.Is(err, scheduling.ErrRefundNotApproved):
		writeError(w, http.StatusConflict, "REFUND_NOT_APPROVED", err.Error())

	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
	}
}
