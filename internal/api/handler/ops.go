package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/sqmreport/sqmreport/internal/api/models"
	"github.com/sqmreport/sqmreport/internal/api/response"
	"github.com/sqmreport/sqmreport/internal/database"
	"github.com/sqmreport/sqmreport/internal/report"
	"github.com/sqmreport/sqmreport/internal/resilience"
)

// Pinger verifies the report store can be reached.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReportActivity exposes assembler counters.
type ReportActivity interface {
	Stats() report.Stats
	Catalog() *report.Catalog
	Concurrency() int
}

// OpsHandlerConfig holds dependencies for the OpsHandler.
type OpsHandlerConfig struct {
	Version   string
	BuildTime string

	// Store is pinged by the readiness check. Optional.
	Store Pinger

	// ReadyTimeout bounds the readiness ping.
	// Default: 2 seconds
	ReadyTimeout time.Duration

	Registry  *resilience.Registry
	PoolStats func() map[string]database.PoolStats
	Reports   ReportActivity
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version      string
	buildTime    string
	store        Pinger
	readyTimeout time.Duration
	registry     *resilience.Registry
	poolStats    func() map[string]database.PoolStats
	reports      ReportActivity
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(cfg OpsHandlerConfig) *OpsHandler {
	readyTimeout := cfg.ReadyTimeout
	if readyTimeout <= 0 {
		readyTimeout = 2 * time.Second
	}

	return &OpsHandler{
		version:      cfg.Version,
		buildTime:    cfg.BuildTime,
		store:        cfg.Store,
		readyTimeout: readyTimeout,
		registry:     cfg.Registry,
		poolStats:    cfg.PoolStats,
		reports:      cfg.Reports,
	}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
		Details: map[string]any{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	}
	response.JSON(w, r, http.StatusOK, health)
}

// ReadinessCheck handles GET /v1/ops/ready - the reader pool must answer a ping.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
	}

	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), h.readyTimeout)
		defer cancel()

		if err := h.store.Ping(ctx); err != nil {
			zerolog.Ctx(r.Context()).Warn().Err(err).Msg("readiness ping failed")
			health.Status = models.HealthStatusFail
			health.Details = map[string]any{"store": err.Error()}
			response.JSON(w, r, http.StatusServiceUnavailable, health)
			return
		}
	}

	response.JSON(w, r, http.StatusOK, health)
}

// SystemStatus handles GET /v1/ops/status - breaker, pool and report status.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	status := models.SystemStatus{
		Status:       models.HealthStatusOK,
		Time:         models.Timestamp(time.Now()),
		Dependencies: h.dependencies(),
		Pools:        h.pools(),
		Report:       h.reportActivity(),
	}

	for _, dep := range status.Dependencies {
		switch dep.Status {
		case models.HealthStatusFail:
			status.Status = models.HealthStatusFail
		case models.HealthStatusDegraded:
			if status.Status == models.HealthStatusOK {
				status.Status = models.HealthStatusDegraded
			}
		}
	}

	response.JSON(w, r, http.StatusOK, status)
}

func (h *OpsHandler) dependencies() []models.DependencyStatus {
	deps := make([]models.DependencyStatus, 0)
	if h.registry == nil {
		return deps
	}

	for _, dh := range h.registry.GetAllHealth() {
		dep := models.DependencyStatus{
			Name:          dh.Name,
			Status:        models.HealthStatusOK,
			CircuitState:  dh.CircuitState.String(),
			LastSuccessAt: models.TimestampPtr(dh.LastSuccessAt),
			LastFailureAt: models.TimestampPtr(dh.LastFailureAt),
		}
		switch {
		case dh.IsUnhealthy():
			dep.Status = models.HealthStatusFail
		case dh.IsDegraded():
			dep.Status = models.HealthStatusDegraded
		}
		if dh.LastError != "" {
			msg := dh.LastError
			dep.Message = &msg
		}
		deps = append(deps, dep)
	}
	return deps
}

func (h *OpsHandler) pools() []models.PoolStatus {
	pools := make([]models.PoolStatus, 0)
	if h.poolStats == nil {
		return pools
	}

	for name, s := range h.poolStats() {
		pools = append(pools, models.PoolStatus{
			Name:                 name,
			MaxConns:             s.MaxConns,
			TotalConns:           s.TotalConns,
			AcquiredConns:        s.AcquiredConns,
			IdleConns:            s.IdleConns,
			EmptyAcquireCount:    s.EmptyAcquireCount,
			CanceledAcquireCount: s.CanceledAcquireCount,
		})
	}
	sort.Slice(pools, func(i, j int) bool { return pools[i].Name < pools[j].Name })
	return pools
}

func (h *OpsHandler) reportActivity() models.ReportActivity {
	if h.reports == nil {
		return models.ReportActivity{}
	}

	s := h.reports.Stats()
	activity := models.ReportActivity{
		Concurrency:       h.reports.Concurrency(),
		TotalReports:      s.TotalReports,
		FailedReports:     s.FailedReports,
		FailedPairs:       s.FailedPairs,
		LastReportSuccess: s.LastReportSuccess,
		LastDurationMs:    s.LastDuration.Milliseconds(),
	}
	if catalog := h.reports.Catalog(); catalog != nil {
		activity.Pairs = catalog.Len()
	}
	if !s.LastReportAt.IsZero() {
		activity.LastReportAt = models.TimestampPtr(&s.LastReportAt)
	}
	return activity
}
