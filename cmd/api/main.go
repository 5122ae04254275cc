// Package main provides the entrypoint for the report API server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/sqmreport/sqmreport/internal/airquality"
	"github.com/sqmreport/sqmreport/internal/api"
	"github.com/sqmreport/sqmreport/internal/api/middleware"
	"github.com/sqmreport/sqmreport/internal/config"
	"github.com/sqmreport/sqmreport/internal/database"
	"github.com/sqmreport/sqmreport/internal/report"
	"github.com/sqmreport/sqmreport/internal/resilience"
	"github.com/sqmreport/sqmreport/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Setup structured logging
	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", "sqmreport-api").
		Str("version", Version).
		Logger()

	cfg, err := config.Load()
	if err != nil {
		var misconfig *config.MisconfigurationError
		if errors.As(err, &misconfig) {
			log.Fatal().Strs("variables", misconfig.Variables()).Err(err).Msg("invalid configuration")
		}
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log = log.Level(level)

	log.Info().
		Str("build_time", BuildTime).
		Str("env", cfg.Environment).
		Msg("starting report API")

	// Initialize OpenTelemetry
	ctx := context.Background()
	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.Telemetry.Endpoint,
		Enabled:        cfg.Telemetry.Enabled,
		Logger:         log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	if tp.Enabled() {
		log.Info().
			Str("otlp_endpoint", cfg.Telemetry.Endpoint).
			Msg("OpenTelemetry initialized")
	}

	// Initialize metrics
	metrics, err := middleware.NewMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize metrics")
	}

	catalog, err := cfg.Catalog()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build report catalog")
	}

	// Connect to database
	registry := resilience.NewRegistry()
	poolConfig := cfg.Pools()
	poolConfig.Registry = registry
	poolConfig.Logger = log

	pools, err := database.Open(ctx, poolConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pools.Close()

	reader := pools.Reader()

	// Initialize average service and report assembler
	service := airquality.NewService(airquality.ServiceConfig{
		Repository: airquality.NewPostgresRepository(reader, cfg.Store.ReadingsTable),
		Logger:     log,
		Location:   cfg.Location(),
	})

	assembler := report.NewAssembler(report.AssemblerConfig{
		Service:     service,
		Catalog:     catalog,
		Health:      reader,
		Concurrency: cfg.ReportConcurrency(reader.MaxConns()),
		PairTimeout: cfg.Report.PairTimeout,
		Deadline:    cfg.Report.Deadline,
		Logger:      log,
	})

	log.Info().
		Int("pairs", catalog.Len()).
		Int("concurrency", assembler.Concurrency()).
		Str("timezone", cfg.Location().String()).
		Msg("report assembler initialized")

	// Create router with configuration
	router := api.NewRouter(api.RouterConfig{
		Version:   Version,
		BuildTime: BuildTime,
		Logger:    log,
		Metrics:   metrics,
		Reports:   assembler,
		Averages:  service,
		Location:  cfg.Location(),
		Store:     reader,
		Registry:  registry,
		PoolStats: pools.Stats,
	})

	// The write timeout leaves room for a report that runs to its deadline.
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Report.Deadline + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
