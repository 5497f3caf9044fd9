package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/medisched/clinic-scheduling/internal/scheduling"
)

type RouterConfig struct {
	Service *scheduling.Service
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Env     string
	Version string
	Log     zerolog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Post("/slots", createSlotHandler(cfg.Service))
	r.Post("/slots/bulk", bulkCreateSlotsHandler(cfg.Service))
	r.Post("/slots/{id}/retire", retireSlotHandler(cfg.Service))
	r.Get("/availability", checkAvailabilityHandler(cfg.Service))

	r.Post("/appointments", bookAppointmentHandler(cfg.Service))
	r.Get("/appointments/{id}", getAppointmentHandler(cfg.Service))
	r.Get("/appointments/{id}/audit", appointmentAuditHandler(cfg.Service))
	r.Post("/appointments/{id}/confirm", confirmAppointmentHandler(cfg.Service))
	r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Service))
	r.Post("/appointments/{id}/reschedule", rescheduleAppointmentHandler(cfg.Service))
	r.Post("/appointments/{id}/complete", completeAppointmentHandler(cfg.Service))
	r.Post("/appointments/{id}/no-show", markNoShowHandler(cfg.Service))

	r.Get("/patients/{id}/appointments", listPatientAppointmentsHandler(cfg.Service))

	r.Get("/reminders/due", dueRemindersHandler(cfg.Service))
	r.Post("/reminders/{id}/outcome", reminderOutcomeHandler(cfg.Service))

	r.Post("/waitlist", addWaitlistHandler(cfg.Service))
	r.Post("/waitlist/notify", notifyMatchesHandler(cfg.Service))

	return r
}
