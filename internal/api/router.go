package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/carebridge/clinic-scheduling/pkg/logging"
)

type RouterConfig struct {
	Handler *Handler
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Logger  *logging.Logger
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))

	// Health and metrics stay outside the actor requirement.
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	h := cfg.Handler

	// Availability is a public read.
	r.Get("/slots/available", h.ListAvailableSlots)

	r.Group(func(r chi.Router) {
		r.Use(ActorMiddleware)

		r.Post("/appointments", h.CreateAppointment)
		r.Get("/appointments", h.ListAppointments)
		r.Get("/appointments/{id}", h.GetAppointment)
		r.Post("/appointments/{id}/cancel", h.CancelAppointment)
		r.Post("/appointments/{id}/status", h.UpdateAppointmentStatus)
		r.Post("/appointments/{id}/confirm-payment", h.ConfirmPayment)
		r.Post("/appointments/{id}/complete-refund", h.CompleteRefund)

		r.Post("/refunds", h.RequestRefund)
		r.Post("/refunds/{id}/review", h.ReviewRefund)

		r.Post("/slots/generate", h.GenerateSlots)
		r.Post("/slots/block", h.BlockSlots)
		r.Post("/slots/unblock", h.UnblockSlots)
		r.Post("/slots/quick-block", h.QuickBlock)

		r.Post("/treatment-plans", h.CreateTreatmentPlan)
		r.Get("/treatment-plans/{appointmentID}", h.GetTreatmentPlan)
		r.Patch("/treatment-plans/{appointmentID}", h.UpdateTreatmentPlan)
	})

	return r
}
