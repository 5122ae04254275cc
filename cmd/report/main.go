// Package main provides a one-shot report command. It assembles a single
// report, writes it to stdout as JSON and exits non-zero when the report
// could not be assembled.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/sqmreport/sqmreport/internal/airquality"
	"github.com/sqmreport/sqmreport/internal/config"
	"github.com/sqmreport/sqmreport/internal/database"
	"github.com/sqmreport/sqmreport/internal/report"
	"github.com/sqmreport/sqmreport/internal/resilience"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	pretty := flag.Bool("pretty", false, "indent the JSON output")
	flag.Parse()

	// Logs go to stderr; stdout carries only the report.
	log := zerolog.New(os.Stderr).
		With().
		Timestamp().
		Str("service", "sqmreport-cli").
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

	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		log = log.Level(level)
	}

	catalog, err := cfg.Catalog()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build report catalog")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	poolConfig := cfg.Pools()
	poolConfig.Registry = resilience.NewRegistry()
	poolConfig.Logger = log

	pools, err := database.Open(ctx, poolConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}

	reader := pools.Reader()
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

	rep := assembler.Generate(ctx)
	pools.Close()

	enc := json.NewEncoder(os.Stdout)
	if *pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(rep); err != nil {
		log.Fatal().Err(err).Msg("failed to write report")
	}

	log.Info().
		Bool("success", rep.Success).
		Int("failures", len(rep.Failures)).
		Str("build_time", BuildTime).
		Dur("elapsed", time.Since(rep.Timestamp)).
		Msg("report written")

	if !rep.Success {
		os.Exit(1)
	}
}
