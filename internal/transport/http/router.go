package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"licmgr/internal/middleware"
	"licmgr/internal/services"
)

// RouterOptions configures the top-level router.
type RouterOptions struct {
	LicenseService services.LicenseService
	Logger         *slog.Logger
	MetricsHandler http.Handler

	// ActivationRPS bounds activation attempts; zero disables the limiter.
	ActivationRPS   float64
	ActivationBurst int
}

// NewRouter builds the verification API router.
func NewRouter(opts RouterOptions) chi.Router {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.StructuredLogger(logger))
	r.Use(middleware.Recoverer(logger))
	r.Use(render.SetContentType(render.ContentTypeJSON))

	h := NewLicenseHandler(opts.LicenseService, logger)

	r.Route("/api/license", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(35 * time.Second))

		activate := http.HandlerFunc(h.Activate)
		if opts.ActivationRPS > 0 {
			limiter := middleware.NewRateLimiter(opts.ActivationRPS, opts.ActivationBurst, logger)
			r.With(limiter.Handler).Post("/activate", activate)
		} else {
			r.Post("/activate", activate)
		}

		r.Get("/status/{sku}", h.GetStatus)
		r.Post("/deactivate", h.Deactivate)
		r.Post("/verify", h.Verify)
		r.Get("/renewal/{sku}", h.GetRenewalStatus)
		r.Post("/invalidate-cache", h.InvalidateCache)
		r.Get("/cache-stats", h.GetCacheStats)
	})

	r.Get("/healthz", HealthHandler)
	if opts.MetricsHandler != nil {
		r.Handle("/metrics", opts.MetricsHandler)
	}

	return r
}
