package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/carebridge/clinic-scheduling/internal/scheduling"
	"github.com/carebridge/clinic-scheduling/pkg/logging"
)

// Handler exposes the booking core over HTTP. Role checks live in the
// domain services; the handler decodes, delegates and encodes. The two
// settlement callbacks (confirm-payment, complete-refund) are the
// exception: their service methods are actor-less, so the handler gates
// them to staff/admin.
type Handler struct {
	booking   *scheduling.BookingCoordinator
	lifecycle *scheduling.Lifecycle
	payments  *scheduling.PaymentRefundCoordinator
	inventory *scheduling.SlotInventory
	plans     *scheduling.TreatmentPlanLinker
	logger    *logging.Logger
}

func NewHandler(
	booking *scheduling.BookingCoordinator,
	lifecycle *scheduling.Lifecycle,
	payments *scheduling.PaymentRefundCoordinator,
	inventory *scheduling.SlotInventory,
	plans *scheduling.TreatmentPlanLinker,
	logger *logging.Logger,
) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		booking:   booking,
		lifecycle: lifecycle,
		payments:  payments,
		inventory: inventory,
		plans:     plans,
		logger:    logger,
	}
}

func mustActor(w http.ResponseWriter, r *http.Request) (scheduling.Actor, bool) {
	actor, ok := ActorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "actor identity missing")
	}
	return actor, ok
}

func parseUUID(w http.ResponseWriter, raw, field string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", field+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "could not parse JSON body")
		return false
	}
	return true
}

// Appointments

func (h *Handler) CreateAppointment(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}

	var req CreateAppointmentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	physicianID, ok := parseUUID(w, req.PhysicianID, "physician_id")
	if !ok {
		return
	}

	result, err := h.booking.CreateAppointment(r.Context(), actor, scheduling.CreateAppointmentInput{
		PhysicianID:     physicianID,
		Date:            req.Date,
		TimeLabel:       req.TimeLabel,
		DurationMinutes: req.DurationMinutes,
		AppointmentType: req.AppointmentType,
		ChiefComplaint:  req.ChiefComplaint,
		PaymentPath:     scheduling.PaymentPath(req.PaymentPath),
	})
	if err != nil {
		handleError(w, err)
		return
	}

	if result.SlotUnavailable {
		alts := make([]AlternativeResponse, 0, len(result.Alternatives))
		for _, a := range result.Alternatives {
			alts = append(alts, AlternativeResponse{
				PhysicianID: a.PhysicianID,
				Name:        a.Name,
				Department:  a.Department,
				TimeLabel:   a.TimeLabel,
			})
		}
		writeJSON(w, http.StatusConflict, Envelope{
			Success: false,
			Data:    SlotUnavailableResponse{Alternatives: alts},
			Error:   &ErrorDetail{Code: "SLOT_UNAVAILABLE"},
			Message: "requested slot is unavailable, alternatives included",
		})
		return
	}

	writeSuccess(w, http.StatusCreated, toAppointmentResponse(result.Appointment), "appointment scheduled")
}

func (h *Handler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	id, ok := parseUUID(w, chi.URLParam(r, "id"), "id")
	if !ok {
		return
	}

	appt, err := h.booking.GetAppointment(r.Context(), actor, id)
	if err != nil {
		handleError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, toAppointmentResponse(appt), "")
}

func (h *Handler) ListAppointments(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	patientID, ok := parseUUID(w, r.URL.Query().Get("patient_id"), "patient_id")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	appts, err := h.booking.ListPatientAppointments(r.Context(), actor, patientID, limit, offset)
	if err != nil {
		handleError(w, err)
		return
	}

	out := make([]AppointmentResponse, 0, len(appts))
	for i := range appts {
		out = append(out, toAppointmentResponse(&appts[i]))
	}
	writeSuccess(w, http.StatusOK, out, "")
}

func (h *Handler) CancelAppointment(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	id, ok := parseUUID(w, chi.URLParam(r, "id"), "id")
	if !ok {
		return
	}
	var req CancelAppointmentRequest
	if !decodeBody(w, r, &req) {
		return
	}

	appt, err := h.payments.CancelAppointment(r.Context(), actor, id, req.Reason)
	if err != nil {
		handleError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, toAppointmentResponse(appt), "appointment cancelled, slot released")
}

func (h *Handler) UpdateAppointmentStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	id, ok := parseUUID(w, chi.URLParam(r, "id"), "id")
	if !ok {
		return
	}
	var req UpdateStatusRequest
	if !decodeBody(w, r, &req) {
		return
	}

	appt, err := h.lifecycle.UpdateStatus(r.Context(), actor, id, req.Status)
	if err != nil {
		handleError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, toAppointmentResponse(appt), "status updated")
}

// Refunds

func (h *Handler) RequestRefund(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	var req RefundRequestBody
	if !decodeBody(w, r, &req) {
		return
	}
	appointmentID, ok := parseUUID(w, req.AppointmentID, "appointment_id")
	if !ok {
		return
	}

	refund, err := h.payments.RequestRefund(r.Context(), actor, appointmentID, req.Reason, req.Description)
	if err != nil {
		handleError(w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, toRefundResponse(refund), "refund requested")
}

func (h *Handler) ReviewRefund(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	id, ok := parseUUID(w, chi.URLParam(r, "id"), "id")
	if !ok {
		return
	}
	var req ReviewRefundRequest
	if !decodeBody(w, r, &req) {
		return
	}

	refund, err := h.payments.ReviewRefund(r.Context(), actor, id, req.Approve)
	if err != nil {
		handleError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, toRefundResponse(refund), "refund reviewed")
}

// ConfirmPayment lands a deferred online settlement. The gateway callback
// arrives through the back office, so staff/admin only.
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	if !actor.HasRole(scheduling.RoleStaff, scheduling.RoleAdmin) {
		handleError(w, scheduling.ErrForbidden)
		return
	}
	id, ok := parseUUID(w, chi.URLParam(r, "id"), "id")
	if !ok {
		return
	}

	appt, err := h.payments.ConfirmPayment(r.Context(), id)
	if err != nil {
		handleError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, toAppointmentResponse(appt), "payment confirmed")
}

// CompleteRefund disburses an approved refund for the appointment.
func (h *Handler) CompleteRefund(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	if !actor.HasRole(scheduling.RoleStaff, scheduling.RoleAdmin) {
		handleError(w, scheduling.ErrForbidden)
		return
	}
	id, ok := parseUUID(w, chi.URLParam(r, "id"), "id")
	if !ok {
		return
	}

	appt, err := h.payments.CompleteRefund(r.Context(), id)
	if err != nil {
		handleError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, toAppointmentResponse(appt), "refund completed")
}

// Slots

func (h *Handler) GenerateSlots(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	var req GenerateSlotsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	physicianID, ok := parseUUID(w, req.PhysicianID, "physician_id")
	if !ok {
		return
	}

	slots, err := h.inventory.GenerateSlots(r.Context(), actor, physicianID,
		req.DateFrom, req.DateTo, req.StartTime, req.EndTime, req.GranularityMinutes)
	if err != nil {
		handleError(w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, toSlotResponses(slots), "slots generated")
}

func (h *Handler) BlockSlots(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	var req BlockSlotsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ids, ok := parseUUIDs(w, req.SlotIDs)
	if !ok {
		return
	}

	slots, err := h.inventory.BlockSlots(r.Context(), actor, ids, req.Reason)
	if err != nil {
		handleError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, toSlotResponses(slots), "slots blocked")
}

func (h *Handler) UnblockSlots(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	var req UnblockSlotsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ids, ok := parseUUIDs(w, req.SlotIDs)
	if !ok {
		return
	}

	slots, err := h.inventory.UnblockSlots(r.Context(), actor, ids)
	if err != nil {
		handleError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, toSlotResponses(slots), "slots unblocked")
}

func (h *Handler) QuickBlock(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	var req QuickBlockRequest
	if !decodeBody(w, r, &req) {
		return
	}
	physicianID, ok := parseUUID(w, req.PhysicianID, "physician_id")
	if !ok {
		return
	}

	slots, err := h.inventory.QuickBlock(r.Context(), actor, physicianID, req.Date, req.StartTime, req.EndTime, req.Reason)
	if err != nil {
		handleError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, toSlotResponses(slots), "range blocked")
}

// ListAvailableSlots is the patient-facing availability query; it needs no
// actor because it only reads derived availability.
func (h *Handler) ListAvailableSlots(w http.ResponseWriter, r *http.Request) {
	physicianID, ok := parseUUID(w, r.URL.Query().Get("physician_id"), "physician_id")
	if !ok {
		return
	}
	date := r.URL.Query().Get("date")

	slots, err := h.inventory.ListAvailable(r.Context(), physicianID, date)
	if err != nil {
		handleError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, toSlotResponses(slots), "")
}

// Treatment plans

func (h *Handler) CreateTreatmentPlan(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	var req TreatmentPlanRequest
	if !decodeBody(w, r, &req) {
		return
	}
	appointmentID, ok := parseUUID(w, req.AppointmentID, "appointment_id")
	if !ok {
		return
	}
	followUp, err := parseFollowUpDate(req.FollowUpDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "follow_up_date must be formatted YYYY-MM-DD")
		return
	}

	plan, err := h.plans.CreateTreatmentPlan(r.Context(), actor, scheduling.TreatmentPlanInput{
		AppointmentID: appointmentID,
		Diagnosis:     req.Diagnosis,
		Treatment:     req.Treatment,
		Medications:   req.Medications,
		Allergies:     req.Allergies,
		Conditions:    req.Conditions,
		FollowUpDate:  followUp,
		Priority:      req.Priority,
	})
	if err != nil {
		handleError(w, err)
		return
	}
	writeSuccess(w, http.StatusCreated, toTreatmentPlanResponse(plan), "treatment plan created")
}

func (h *Handler) UpdateTreatmentPlan(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	appointmentID, ok := parseUUID(w, chi.URLParam(r, "appointmentID"), "appointmentID")
	if !ok {
		return
	}
	var req TreatmentPlanRequest
	if !decodeBody(w, r, &req) {
		return
	}
	followUp, err := parseFollowUpDate(req.FollowUpDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "follow_up_date must be formatted YYYY-MM-DD")
		return
	}

	plan, err := h.plans.UpdateTreatmentPlan(r.Context(), actor, appointmentID, scheduling.TreatmentPlanInput{
		Diagnosis:    req.Diagnosis,
		Treatment:    req.Treatment,
		Medications:  req.Medications,
		Allergies:    req.Allergies,
		Conditions:   req.Conditions,
		FollowUpDate: followUp,
		Priority:     req.Priority,
	})
	if err != nil {
		handleError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, toTreatmentPlanResponse(plan), "treatment plan updated")
}

func (h *Handler) GetTreatmentPlan(w http.ResponseWriter, r *http.Request) {
	actor, ok := mustActor(w, r)
	if !ok {
		return
	}
	appointmentID, ok := parseUUID(w, chi.URLParam(r, "appointmentID"), "appointmentID")
	if !ok {
		return
	}

	plan, err := h.plans.GetTreatmentPlan(r.Context(), actor, appointmentID)
	if err != nil {
		handleError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, toTreatmentPlanResponse(plan), "")
}

func parseUUIDs(w http.ResponseWriter, raw []string) ([]uuid.UUID, bool) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "slot_ids must be valid UUIDs")
			return nil, false
		}
		ids = append(ids, id)
	}
	return ids, true
}
