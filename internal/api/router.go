package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hospitalops/appointment-management/internal/booking"
)

type RouterConfig struct {
	Service *booking.Service
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Broker  BrokerHealth
	Env     string
	Version string
	Log     *zap.Logger
}

// NewRouter wires every HTTP route of the service.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Broker, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Get("/departments", listDepartmentsHandler(cfg.Service))
	r.Get("/departments/{id}/doctors", listDoctorsHandler(cfg.Service))
	r.Get("/slots", listSlotsHandler(cfg.Service))

	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", createAppointmentHandler(cfg.Service))
		r.Get("/", listAppointmentsHandler(cfg.Service))
		r.Get("/{id}", getAppointmentHandler(cfg.Service))
		r.Post("/{id}/confirm", confirmAppointmentHandler(cfg.Service))
		r.Put("/{id}", updateAppointmentHandler(cfg.Service))
		r.Delete("/{id}", cancelAppointmentHandler(cfg.Service))
	})

	r.Get("/doctors/{id}/pending", listPendingAppointmentsHandler(cfg.Service))
	r.Get("/patients/{id}/appointments", listPatientAppointmentsHandler(cfg.Service))
	r.Get("/users/{id}/profile", getUserProfileHandler(cfg.Service))

	return r
}
