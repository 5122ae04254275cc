package report

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/sqmreport/sqmreport/internal/airquality"
	"github.com/sqmreport/sqmreport/internal/database"
)

const instrumentationName = "github.com/sqmreport/sqmreport/internal/report"

// DefaultConcurrency is used when neither a concurrency nor a pool budget is set.
const DefaultConcurrency = 4

// Service computes the figures for one pair.
// *airquality.Service satisfies it.
type Service interface {
	Summary(ctx context.Context, station, variable string, date time.Time) (*airquality.PairSummary, error)
	Today(now time.Time) time.Time
}

// HealthChecker verifies the store is reachable before a report fans out.
// *database.ReadPool satisfies it.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// AssemblerConfig holds configuration for the report assembler.
type AssemblerConfig struct {
	Service Service
	Catalog *Catalog

	// Health is checked once before the fan-out. Optional.
	Health HealthChecker

	// Concurrency bounds in-flight pairs. Set it to the reader pool's
	// connection budget (default: DefaultConcurrency).
	Concurrency int

	// PairTimeout bounds a single pair (default: 10 seconds).
	PairTimeout time.Duration

	// Deadline bounds a whole report (default: 30 seconds).
	Deadline time.Duration

	Logger zerolog.Logger

	// Now returns the assembly time (default: time.Now).
	Now func() time.Time
}

// Assembler builds reports over a fixed catalog of pairs.
type Assembler struct {
	service     Service
	catalog     *Catalog
	health      HealthChecker
	concurrency int
	pairTimeout time.Duration
	deadline    time.Duration
	logger      zerolog.Logger
	now         func() time.Time
	tracer      trace.Tracer
	metrics     *metrics

	statsMu sync.RWMutex
	stats   Stats
}

// Stats tracks assembler activity since start.
type Stats struct {
	TotalReports      int64         `json:"totalReports"`
	FailedReports     int64         `json:"failedReports"`
	FailedPairs       int64         `json:"failedPairs"`
	LastReportAt      time.Time     `json:"lastReportAt"`
	LastReportSuccess bool          `json:"lastReportSuccess"`
	LastDuration      time.Duration `json:"lastDurationNs"`
}

// NewAssembler creates a new report assembler.
func NewAssembler(cfg AssemblerConfig) *Assembler {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	pairTimeout := cfg.PairTimeout
	if pairTimeout <= 0 {
		pairTimeout = 10 * time.Second
	}

	deadline := cfg.Deadline
	if deadline <= 0 {
		deadline = 30 * time.Second
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Assembler{
		service:     cfg.Service,
		catalog:     cfg.Catalog,
		health:      cfg.Health,
		concurrency: concurrency,
		pairTimeout: pairTimeout,
		deadline:    deadline,
		logger:      cfg.Logger,
		now:         now,
		tracer:      otel.Tracer(instrumentationName),
		metrics:     newMetrics(cfg.Logger),
	}
}

// Catalog returns the pairs the assembler reports on.
func (a *Assembler) Catalog() *Catalog {
	return a.catalog
}

// Concurrency returns the fan-out limit.
func (a *Assembler) Concurrency() int {
	return a.concurrency
}

// Stats returns a snapshot of assembler activity.
func (a *Assembler) Stats() Stats {
	a.statsMu.RLock()
	defer a.statsMu.RUnlock()
	return a.stats
}

type pairResult struct {
	report VariableReport
	err    *PairError
}

// Generate assembles one report. Pairs are computed in parallel up to the
// concurrency limit; a failing pair is marked and does not affect the others.
// The report is unsuccessful, with no data, only when the store is unreachable
// or when ctx ends before assembly completes. Pairs that fail, even all of
// them, keep their markers in a successful report.
func (a *Assembler) Generate(ctx context.Context) *Report {
	began := time.Now()
	start := a.now()
	ctx, cancel := context.WithTimeout(ctx, a.deadline)
	defer cancel()

	ctx, span := a.tracer.Start(ctx, "report.Generate", trace.WithAttributes(
		attribute.Int("report.pairs", a.catalog.Len()),
		attribute.Int("report.concurrency", a.concurrency),
	))
	defer span.End()

	rep := a.generate(ctx, start)

	span.SetAttributes(
		attribute.Bool("report.success", rep.Success),
		attribute.Int("report.failed_pairs", len(rep.Failures)),
	)
	if !rep.Success {
		span.SetStatus(codes.Error, rep.Error.Message)
	}

	a.record(ctx, rep, time.Since(began))

	return rep
}

func (a *Assembler) generate(ctx context.Context, start time.Time) *Report {
	if a.health != nil {
		if err := a.health.Ping(ctx); err != nil {
			if !saturated(ctx, err) {
				pe := classify(ctx, err)
				a.logger.Error().Err(err).Str("code", pe.Code).Msg("report store unreachable")
				return failed(start, pe)
			}
			a.logger.Warn().Err(err).Msg("reader pool saturated, pairs may be unavailable")
		}
	}

	date := a.service.Today(start)
	pairs := a.catalog.Pairs()
	results := make([]pairResult, len(pairs))

	var g errgroup.Group
	g.SetLimit(a.concurrency)

	for i, p := range pairs {
		i, p := i, p
		g.Go(func() error {
			results[i] = a.computePair(ctx, p, date)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		a.logger.Warn().Err(err).Msg("report generation abandoned")
		return failed(start, &PairError{Code: CodeCancelled, Message: cancelMessage(err)})
	}

	rep := &Report{
		Success:   true,
		Timestamp: start,
		Data:      make(FullReport),
	}
	for i, p := range pairs {
		res := results[i]
		if res.err != nil {
			res.report.Error = res.err
			rep.Failures = append(rep.Failures, PairFailure{
				Station:  p.Station,
				Variable: p.Variable,
				Error:    *res.err,
			})
		}
		station, ok := rep.Data[p.Station]
		if !ok {
			station = make(StationReport)
			rep.Data[p.Station] = station
		}
		station[p.Variable] = res.report
	}

	if len(pairs) > 0 && len(rep.Failures) == len(pairs) {
		a.logger.Error().Int("failed_pairs", len(rep.Failures)).Msg("every report pair failed")
	}

	return rep
}

func (a *Assembler) computePair(ctx context.Context, p Pair, date time.Time) (res pairResult) {
	logger := a.logger.With().Str("station", p.Station).Str("variable", p.Variable).Logger()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("report pair panicked")
			res = pairResult{err: &PairError{Code: CodeInternal, Message: "unexpected failure computing pair"}}
		}
	}()

	if err := ctx.Err(); err != nil {
		return pairResult{err: &PairError{Code: CodeCancelled, Message: cancelMessage(err)}}
	}

	pairCtx, cancel := context.WithTimeout(ctx, a.pairTimeout)
	defer cancel()

	summary, err := a.service.Summary(pairCtx, p.Station, p.Variable, date)
	if err != nil {
		pe := classify(ctx, err)
		if pairCtx.Err() != nil && ctx.Err() == nil && pe.Code == CodeInternal {
			pe = &PairError{Code: CodeDataUnavailable, Message: fmt.Sprintf("timed out after %s", a.pairTimeout)}
		}
		logger.Warn().Err(err).Str("code", pe.Code).Msg("report pair failed")
		return pairResult{err: pe}
	}

	return pairResult{report: toVariableReport(summary)}
}

func toVariableReport(s *airquality.PairSummary) VariableReport {
	vr := VariableReport{
		HourlyAverage: s.Hourly.Mean,
		DailyAverage:  s.Daily.Mean,
	}
	if s.Latest != nil {
		vr.LatestValue = s.Latest.Value
		at := s.Latest.Timestamp
		vr.LatestAt = &at
	}
	return vr
}

// saturated reports a ping that only waited out a busy reader pool.
// The store is reachable, so the pairs are still attempted.
func saturated(ctx context.Context, err error) bool {
	return ctx.Err() == nil && errors.Is(err, database.ErrPoolExhausted)
}

func failed(start time.Time, pe *PairError) *Report {
	return &Report{
		Success:   false,
		Timestamp: start,
		Data:      FullReport{},
		Error:     pe,
	}
}

// classify maps a pair error onto a failure marker. ctx is the report context.
func classify(ctx context.Context, err error) *PairError {
	switch {
	case ctx.Err() != nil:
		return &PairError{Code: CodeCancelled, Message: cancelMessage(ctx.Err())}
	case errors.Is(err, airquality.ErrDataUnavailable),
		errors.Is(err, database.ErrPoolExhausted),
		errors.Is(err, database.ErrConnectionFailure),
		errors.Is(err, database.ErrQueryFailure),
		errors.Is(err, database.ErrPoolClosed):
		return &PairError{Code: CodeDataUnavailable, Message: unavailableMessage(err)}
	default:
		return &PairError{Code: CodeInternal, Message: "unexpected failure computing pair"}
	}
}

func unavailableMessage(err error) string {
	switch {
	case errors.Is(err, database.ErrPoolExhausted):
		return "no reader connection available"
	case errors.Is(err, database.ErrConnectionFailure):
		return "database connection failed"
	case errors.Is(err, database.ErrQueryFailure):
		return "query failed or timed out"
	case errors.Is(err, database.ErrPoolClosed):
		return "reader pool closed"
	default:
		return "data temporarily unavailable"
	}
}

func cancelMessage(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "report deadline exceeded"
	}
	return "report cancelled"
}

func (a *Assembler) record(ctx context.Context, rep *Report, duration time.Duration) {
	a.statsMu.Lock()
	a.stats.TotalReports++
	if !rep.Success {
		a.stats.FailedReports++
	}
	a.stats.FailedPairs += int64(len(rep.Failures))
	a.stats.LastReportAt = rep.Timestamp
	a.stats.LastReportSuccess = rep.Success
	a.stats.LastDuration = duration
	a.statsMu.Unlock()

	a.metrics.record(context.WithoutCancel(ctx), a.catalog.Len(), rep, duration)

	event := a.logger.Info()
	if !rep.Success {
		event = a.logger.Error()
	}
	event.
		Bool("success", rep.Success).
		Int("pairs", a.catalog.Len()).
		Int("failed_pairs", len(rep.Failures)).
		Dur("duration", duration).
		Msg("report generated")
}
