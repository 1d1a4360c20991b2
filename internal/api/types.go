package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/carebridge/clinic-scheduling/internal/scheduling"
)

// Envelope is the boundary contract with the excluded presentation layer:
// every response carries success, data or error, and a message. The core
// never renders, navigates or notifies.
type Envelope struct {
	Success bool         `json:"success"`
	Data    any          `json:"data,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
	Message string       `json:"message,omitempty"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeSuccess(w http.ResponseWriter, status int, data any, message string) {
	writeJSON(w, status, Envelope{Success: true, Data: data, Message: message})
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, Envelope{
		Success: false,
		Error:   &ErrorDetail{Code: code, Details: details},
		Message: details,
	})
}

// Requests

type CreateAppointmentRequest struct {
	PhysicianID     string `json:"physician_id"`
	Date            string `json:"date"`
	TimeLabel       string `json:"time_label"`
	DurationMinutes int    `json:"duration_minutes,omitempty"`
	AppointmentType string `json:"appointment_type,omitempty"`
	ChiefComplaint  string `json:"chief_complaint"`
	PaymentPath     string `json:"payment_path,omitempty"`
}

type CancelAppointmentRequest struct {
	Reason string `json:"reason"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

type RefundRequestBody struct {
	AppointmentID string  `json:"appointment_id"`
	Reason        string  `json:"reason"`
	Description   *string `json:"description,omitempty"`
}

type ReviewRefundRequest struct {
	Approve bool `json:"approve"`
}

type GenerateSlotsRequest struct {
	PhysicianID        string `json:"physician_id"`
	DateFrom           string `json:"date_from"`
	DateTo             string `json:"date_to"`
	StartTime          string `json:"start_time"`
	EndTime            string `json:"end_time"`
	GranularityMinutes int    `json:"granularity_minutes,omitempty"`
}

type BlockSlotsRequest struct {
	SlotIDs []string `json:"slot_ids"`
	Reason  string   `json:"reason"`
}

type UnblockSlotsRequest struct {
	SlotIDs []string `json:"slot_ids"`
}

type QuickBlockRequest struct {
	PhysicianID string `json:"physician_id"`
	Date        string `json:"date"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	Reason      string `json:"reason"`
}

type TreatmentPlanRequest struct {
	AppointmentID string   `json:"appointment_id"`
	Diagnosis     string   `json:"diagnosis"`
	Treatment     string   `json:"treatment,omitempty"`
	Medications   []string `json:"medications,omitempty"`
	Allergies     []string `json:"allergies,omitempty"`
	Conditions    []string `json:"conditions,omitempty"`
	FollowUpDate  *string  `json:"follow_up_date,omitempty"`
	Priority      string   `json:"priority,omitempty"`
}

// Responses

type AppointmentResponse struct {
	ID                   uuid.UUID `json:"id"`
	PatientID            uuid.UUID `json:"patient_id"`
	PhysicianID          uuid.UUID `json:"physician_id"`
	Date                 string    `json:"date"`
	TimeLabel            string    `json:"time_label"`
	DurationMinutes      int       `json:"duration_minutes"`
	AppointmentType      string    `json:"appointment_type,omitempty"`
	ChiefComplaint       string    `json:"chief_complaint"`
	Department           string    `json:"department"`
	Status               string    `json:"status"`
	PaymentStatus        string    `json:"payment_status"`
	ConsultationFeeCents int64     `json:"consultation_fee_cents"`
	CancellationReason   *string   `json:"cancellation_reason,omitempty"`
}

func toAppointmentResponse(a *scheduling.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:                   a.ID,
		PatientID:            a.PatientID,
		PhysicianID:          a.PhysicianID,
		Date:                 a.Date,
		TimeLabel:            a.TimeLabel,
		DurationMinutes:      a.DurationMinutes,
		AppointmentType:      a.AppointmentType,
		ChiefComplaint:       a.ChiefComplaint,
		Department:           a.Department,
		Status:               string(a.Status),
		PaymentStatus:        string(a.PaymentStatus),
		ConsultationFeeCents: a.ConsultationFeeCents,
		CancellationReason:   a.CancellationReason,
	}
}

type AlternativeResponse struct {
	PhysicianID uuid.UUID `json:"physician_id"`
	Name        string    `json:"name"`
	Department  string    `json:"department"`
	TimeLabel   string    `json:"time_label"`
}

type SlotUnavailableResponse struct {
	Alternatives []AlternativeResponse `json:"alternatives"`
}

type SlotResponse struct {
	ID          uuid.UUID `json:"id"`
	PhysicianID uuid.UUID `json:"physician_id"`
	Date        string    `json:"date"`
	TimeLabel   string    `json:"time_label"`
	Status      string    `json:"status"`
	BlockReason *string   `json:"block_reason,omitempty"`
}

func toSlotResponses(slots []scheduling.Slot) []SlotResponse {
	out := make([]SlotResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, SlotResponse{
			ID:          s.ID,
			PhysicianID: s.PhysicianID,
			Date:        s.Date,
			TimeLabel:   s.TimeLabel,
			Status:      string(s.Status),
			BlockReason: s.BlockReason,
		})
	}
	return out
}

type RefundResponse struct {
	ID            uuid.UUID `json:"id"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	Reason        string    `json:"reason"`
	Description   *string   `json:"description,omitempty"`
	AmountCents   int64     `json:"amount_cents"`
	Status        string    `json:"status"`
}

func toRefundResponse(r *scheduling.RefundRequest) RefundResponse {
	return RefundResponse{
		ID:            r.ID,
		AppointmentID: r.AppointmentID,
		Reason:        r.Reason,
		Description:   r.Description,
		AmountCents:   r.AmountCents,
		Status:        string(r.Status),
	}
}

type TreatmentPlanResponse struct {
	ID            uuid.UUID `json:"id"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	PhysicianID   uuid.UUID `json:"physician_id"`
	Diagnosis     string    `json:"diagnosis"`
	Treatment     string    `json:"treatment,omitempty"`
	Medications   []string  `json:"medications,omitempty"`
	Allergies     []string  `json:"allergies,omitempty"`
	Conditions    []string  `json:"conditions,omitempty"`
	FollowUpDate  *string   `json:"follow_up_date,omitempty"`
	Priority      string    `json:"priority"`
}

func toTreatmentPlanResponse(p *scheduling.TreatmentPlan) TreatmentPlanResponse {
	var followUp *string
	if p.FollowUpDate != nil {
		s := p.FollowUpDate.Format(scheduling.DateLayout)
		followUp = &s
	}
	return TreatmentPlanResponse{
		ID:            p.ID,
		AppointmentID: p.AppointmentID,
		PhysicianID:   p.PhysicianID,
		Diagnosis:     p.Diagnosis,
		Treatment:     p.Treatment,
		Medications:   p.Medications,
		Allergies:     p.Allergies,
		Conditions:    p.Conditions,
		FollowUpDate:  followUp,
		Priority:      p.Priority,
	}
}

func parseFollowUpDate(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := time.Parse(scheduling.DateLayout, *s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
