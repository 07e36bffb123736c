package http

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/garantia/server/internal/auth"
	"github.com/garantia/server/internal/http/handlers"
	"github.com/garantia/server/internal/middleware"
	"github.com/garantia/server/internal/model"
)

// Handlers groups the endpoint handlers mounted by NewRouter
type Handlers struct {
	Auth     *handlers.AuthHandler
	Warranty *handlers.WarrantyHandler
	Cron     *handlers.CronHandler
	Health   *handlers.HealthHandler
}

// RouterDeps carries what the middleware chain needs
type RouterDeps struct {
	JWT        *auth.JWTService
	Auth       *auth.AuthService
	CronSecret string
	Logger     *slog.Logger
}

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(h Handlers, deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.MetricsMiddleware())
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(chimw.Recoverer)

	r.Get("/health", h.Health.ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", h.Auth.HandleLogin)
		r.Post("/logout", h.Auth.HandleLogout)
		r.With(middleware.AuthMiddleware(deps.JWT, deps.Auth, deps.Logger)).Get("/me", h.Auth.HandleMe)
	})

	// Protected routes (require a valid session)
	r.Route("/warranties", func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(deps.JWT, deps.Auth, deps.Logger))

		r.Get("/", h.Warranty.HandleList)
		r.Post("/", h.Warranty.HandleCreate)
		r.Get("/stats", h.Warranty.HandleStats)
		r.Get("/{id}", h.Warranty.HandleGet)
		r.Put("/{id}", h.Warranty.HandleUpdate)
		r.With(middleware.RequireRole(model.RoleAdmin)).Delete("/{id}", h.Warranty.HandleDelete)
	})

	r.With(middleware.CronAuth(deps.CronSecret)).Get("/cron/check-warranties", h.Cron.HandleCheckWarranties)

	return r
}
