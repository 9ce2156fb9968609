package api

import (
	"net/http"

	"github.com/coder/quartz"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ibero-data/modgate/internal/audit"
	"github.com/ibero-data/modgate/internal/auth"
	"github.com/ibero-data/modgate/internal/config"
	"github.com/ibero-data/modgate/internal/license"
	"github.com/ibero-data/modgate/internal/licensing"
	"github.com/ibero-data/modgate/internal/logging"
	"github.com/ibero-data/modgate/internal/modules"
	"github.com/ibero-data/modgate/internal/settings"
)

// Deps are the services the HTTP layer is built on. Gatherer and Clock
// are optional.
type Deps struct {
	Config   *config.Config
	Licenses *license.Service
	Modules  *modules.Service
	Manager  *licensing.Manager
	Users    *auth.Users
	Auth     *auth.Auth
	Audit    *audit.Log
	Settings *settings.Service
	Gatherer prometheus.Gatherer
	Clock    quartz.Clock
	Logger   *zap.Logger
}

// NewRouter creates the HTTP router
func NewRouter(d Deps) http.Handler {
	logger := logging.OrNop(d.Logger)
	if d.Clock == nil {
		d.Clock = quartz.NewReal()
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// CORS - allow credentials for auth cookies
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.Config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With", "Authorization"},
		ExposedHeaders:   []string{"Link", licensing.HeaderDaysRemaining, licensing.HeaderWarning},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	authMiddleware := auth.NewMiddleware(d.Auth)

	h := &Handlers{
		cfg:      d.Config,
		licenses: d.Licenses,
		modules:  d.Modules,
		manager:  d.Manager,
		users:    d.Users,
		auth:     d.Auth,
		audit:    d.Audit,
		settings: d.Settings,
		logger:   logger,
	}

	// ========== Public endpoints ==========

	r.Get("/health", h.Health)
	r.Get("/api/version", h.GetVersion)

	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	// Protected application mount
	r.Route("/app", func(r chi.Router) {
		r.Use(licensing.RequireLicense(d.Manager))
		r.With(licensing.RequireModule(d.Manager, "dashboard")).Get("/", h.ServeModule)
		r.With(licensing.RequireModuleParam(d.Manager, "module")).Get("/{module}", h.ServeModule)
	})

	// ========== API ==========

	r.Route("/api", func(r chi.Router) {
		// Auth (login rate limited per IP)
		r.With(RateLimit(d.Config.RateLimit.LoginPerMinute, d.Clock)).Post("/auth/login", h.Login)
		r.Post("/auth/logout", h.Logout)

		// License and modules are readable without a token
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.OptionalAuth)
			r.Get("/license", h.GetLicense)
			r.Get("/modules", h.ListModules)
			r.Get("/access", h.GetAccess)
			r.Get("/access/modules/{id}", h.GetModuleAccess)
		})

		// Authenticated
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.RequireAuth)

			r.Get("/auth/me", h.Me)
			r.Patch("/license", h.PatchLicense)
			r.Post("/modules", h.CreateModule)
			r.Patch("/modules", h.PatchModule)
			r.Post("/access/refresh", h.RefreshAccess)
			r.Get("/audit", h.ListAudit)

			// Admin only
			r.Group(func(r chi.Router) {
				r.Use(authMiddleware.RequireAdmin)
				r.Get("/settings", h.GetSettings)
				r.Put("/settings", h.UpdateSettings)
			})
		})
	})

	return r
}
