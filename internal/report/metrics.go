package report

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

type metrics struct {
	duration    metric.Float64Histogram
	pairsTotal  metric.Int64Counter
	pairsFailed metric.Int64Counter
}

func newMetrics(logger zerolog.Logger) *metrics {
	meter := otel.Meter(instrumentationName)
	m := &metrics{}

	var err error
	m.duration, err = meter.Float64Histogram(
		"report.generate.duration",
		metric.WithDescription("Duration of report generation"),
		metric.WithUnit("s"),
	)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to create report duration histogram")
		m.duration = noop.Float64Histogram{}
	}

	m.pairsTotal, err = meter.Int64Counter(
		"report.pairs.total",
		metric.WithDescription("Station/variable pairs attempted"),
		metric.WithUnit("{pair}"),
	)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to create pairs counter")
		m.pairsTotal = noop.Int64Counter{}
	}

	m.pairsFailed, err = meter.Int64Counter(
		"report.pairs.failed",
		metric.WithDescription("Station/variable pairs marked with an error"),
		metric.WithUnit("{pair}"),
	)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to create failed pairs counter")
		m.pairsFailed = noop.Int64Counter{}
	}

	return m
}

func (m *metrics) record(ctx context.Context, pairs int, rep *Report, duration time.Duration) {
	m.duration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.Bool("success", rep.Success)))
	m.pairsTotal.Add(ctx, int64(pairs))

	for _, f := range rep.Failures {
		m.pairsFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("code", f.Error.Code)))
	}
	if !rep.Success && rep.Error != nil {
		m.pairsFailed.Add(ctx, int64(pairs), metric.WithAttributes(attribute.String("code", rep.Error.Code)))
	}
}
