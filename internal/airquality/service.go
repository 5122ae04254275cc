package airquality

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/sqmreport/sqmreport/internal/airquality"

// ServiceConfig holds configuration for the average service.
type ServiceConfig struct {
	// Repository reads readings. It must only hold reader credentials.
	Repository Repository

	// Logger for service operations.
	Logger zerolog.Logger

	// Location defines calendar-day boundaries for daily averages (default: UTC).
	Location *time.Location
}

// Service computes latest values and windowed averages per station/variable pair.
// It holds no per-request state and is safe for concurrent use.
type Service struct {
	repo     Repository
	logger   zerolog.Logger
	location *time.Location
	tracer   trace.Tracer
}

// NewService creates a new average service.
func NewService(cfg ServiceConfig) *Service {
	location := cfg.Location
	if location == nil {
		location = time.UTC
	}

	return &Service{
		repo:     cfg.Repository,
		logger:   cfg.Logger,
		location: location,
		tracer:   otel.Tracer(tracerName),
	}
}

// Location returns the store timezone used for calendar days.
func (s *Service) Location() *time.Location {
	return s.location
}

// Today returns now as a date in the store timezone.
func (s *Service) Today(now time.Time) time.Time {
	return now.In(s.location)
}

// LatestValue returns the most recent reading for the pair, or nil when
// the pair has no readings.
func (s *Service) LatestValue(ctx context.Context, station, variable string) (*Reading, error) {
	if station == "" || variable == "" {
		return nil, ErrInvalidPair
	}

	ctx, span := s.start(ctx, "airquality.LatestValue", station, variable)
	defer span.End()

	reading, err := s.repo.LatestReading(ctx, station, variable)
	if err != nil {
		recordError(span, err)
		return nil, err
	}
	return reading, nil
}

// HourlyAverage averages the pair over the hour ending at its most recent
// reading. The window never depends on the wall clock.
func (s *Service) HourlyAverage(ctx context.Context, station, variable string) (AverageResult, error) {
	if station == "" || variable == "" {
		return AverageResult{}, ErrInvalidPair
	}

	ctx, span := s.start(ctx, "airquality.HourlyAverage", station, variable)
	defer span.End()

	latest, err := s.repo.LatestReading(ctx, station, variable)
	if err != nil {
		recordError(span, err)
		return AverageResult{}, err
	}

	result, err := s.hourlyFrom(ctx, station, variable, latest)
	if err != nil {
		recordError(span, err)
		return AverageResult{}, err
	}
	span.SetAttributes(attribute.Int64("average.count", result.Count))
	return result, nil
}

// DailyAverage averages the pair over the calendar day of date in the
// store timezone.
func (s *Service) DailyAverage(ctx context.Context, station, variable string, date time.Time) (AverageResult, error) {
	if station == "" || variable == "" {
		return AverageResult{}, ErrInvalidPair
	}

	ctx, span := s.start(ctx, "airquality.DailyAverage", station, variable)
	defer span.End()
	span.SetAttributes(attribute.String("average.date", date.Format(time.DateOnly)))

	result, err := s.repo.Average(ctx, station, variable, DayWindow(date, s.location))
	if err != nil {
		recordError(span, err)
		return AverageResult{}, err
	}
	span.SetAttributes(attribute.Int64("average.count", result.Count))
	return result, nil
}

// Summary returns the latest reading, hourly and daily averages for the pair.
// The latest reading is fetched once and anchors the hourly window.
func (s *Service) Summary(ctx context.Context, station, variable string, date time.Time) (*PairSummary, error) {
	if station == "" || variable == "" {
		return nil, ErrInvalidPair
	}

	ctx, span := s.start(ctx, "airquality.Summary", station, variable)
	defer span.End()

	latest, err := s.repo.LatestReading(ctx, station, variable)
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	hourly, err := s.hourlyFrom(ctx, station, variable, latest)
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	daily, err := s.repo.Average(ctx, station, variable, DayWindow(date, s.location))
	if err != nil {
		recordError(span, err)
		return nil, err
	}

	s.logger.Debug().
		Str("station", station).
		Str("variable", variable).
		Bool("has_latest", latest != nil).
		Int64("hourly_count", hourly.Count).
		Int64("daily_count", daily.Count).
		Msg("pair summary computed")

	return &PairSummary{
		Station:  station,
		Variable: variable,
		Latest:   latest,
		Hourly:   hourly,
		Daily:    daily,
	}, nil
}

func (s *Service) hourlyFrom(ctx context.Context, station, variable string, latest *Reading) (AverageResult, error) {
	if latest == nil {
		return AverageResult{}, nil
	}
	return s.repo.Average(ctx, station, variable, HourWindow(latest.Timestamp))
}

func (s *Service) start(ctx context.Context, name, station, variable string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("station", station),
			attribute.String("variable", variable),
		),
	)
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	if errors.Is(err, ErrDataUnavailable) {
		span.SetStatus(codes.Error, "data unavailable")
		return
	}
	span.SetStatus(codes.Error, err.Error())
}
