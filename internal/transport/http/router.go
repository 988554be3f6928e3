package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "fccli/internal/errors"
	"fccli/internal/middleware"
)

// RouterConfig wires the status server's dependencies.
type RouterConfig struct {
	Logger  *slog.Logger
	Status  LicenseStatusProvider
	Metrics http.Handler
	Version string
	// RateRPS and RateBurst bound the request rate; zero values fall
	// back to 10 rps with a burst of 20.
	RateRPS   float64
	RateBurst int
}

// NewRouter assembles the status server routes with the standard
// middleware chain.
func NewRouter(cfg RouterConfig) chi.Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rps := cfg.RateRPS
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 20
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.StructuredLogger(logger))
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.NewRateLimiter(rps, burst, logger).Handler)

	health := NewHealthHandler(cfg.Version)
	r.Get("/healthz", health.HealthCheck)
	r.Get("/api/version", health.Version)

	if cfg.Status != nil {
		status := NewStatusHandler(cfg.Status, logger)
		r.Get("/api/license/status", status.Status)
	}

	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		render.Render(w, req, apierrors.NewErrorResponse(apierrors.ErrNotFound))
	})

	return r
}
