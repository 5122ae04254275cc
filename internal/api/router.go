// Package api provides the HTTP API of the sensor report service.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/sqmreport/sqmreport/internal/api/handler"
	"github.com/sqmreport/sqmreport/internal/api/middleware"
	"github.com/sqmreport/sqmreport/internal/api/response"
	"github.com/sqmreport/sqmreport/internal/database"
	"github.com/sqmreport/sqmreport/internal/resilience"
)

// Reports assembles reports and exposes assembler activity.
// *report.Assembler satisfies it.
type Reports interface {
	handler.ReportGenerator
	handler.ReportActivity
}

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version   string
	BuildTime string
	Logger    zerolog.Logger
	Metrics   *middleware.Metrics

	Reports  Reports
	Averages handler.PairSummarizer

	// Location is the store timezone reported by the catalog endpoint.
	Location *time.Location

	// Store is pinged by the readiness probe. Optional.
	Store     handler.Pinger
	Registry  *resilience.Registry
	PoolStats func() map[string]database.PoolStats

	// ReportRateLimit overrides middleware.ReportRateLimit when set.
	ReportRateLimit *middleware.RateLimitConfig
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware - order matters
	r.Use(chimiddleware.RealIP)               // Real IP extraction
	r.Use(middleware.RequestID(cfg.Logger))   // Generate/propagate request ID first
	r.Use(middleware.Tracing)                 // Distributed tracing
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware()) // HTTP metrics
	}
	r.Use(middleware.Logger(cfg.Logger))   // Structured logging
	r.Use(middleware.Recovery(cfg.Logger)) // Panic recovery
	r.Use(middleware.SecurityHeaders)      // Security headers

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.NotFound(w, r, "resource not found")
	})

	reportLimit := middleware.ReportRateLimit
	if cfg.ReportRateLimit != nil {
		reportLimit = *cfg.ReportRateLimit
	}

	// Initialize handlers
	opsHandler := handler.NewOpsHandler(handler.OpsHandlerConfig{
		Version:   cfg.Version,
		BuildTime: cfg.BuildTime,
		Store:     cfg.Store,
		Registry:  cfg.Registry,
		PoolStats: cfg.PoolStats,
		Reports:   cfg.Reports,
	})
	reportHandler := handler.NewReportHandler(cfg.Reports)
	averagesHandler := handler.NewAveragesHandler(cfg.Averages)
	catalogHandler := handler.NewCatalogHandler(cfg.Reports.Catalog(), cfg.Location)

	r.Route("/v1", func(r chi.Router) {
		// Ops endpoints (unlimited, probed by the platform)
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			r.Get("/status", opsHandler.SystemStatus)
		})

		// Full report - one query fan-out per request, strict rate limiting
		r.With(middleware.RateLimitByIP(reportLimit)).Get("/report", reportHandler.GetReport)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitByIP(middleware.StandardRateLimit))
			r.Get("/catalog", catalogHandler.GetCatalog)
			r.Get("/stations/{station}/variables/{variable}/averages", averagesHandler.GetAverages)
		})
	})

	return r
}
