package database

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// registerPoolMetrics publishes connection counts for both pools as
// observable gauges. The returned registration is undone on Close.
func registerPoolMetrics(stats func() map[string]PoolStats) (metric.Registration, error) {
	meter := otel.Meter(meterName)

	conns, err := meter.Int64ObservableGauge(
		"db.pool.connections",
		metric.WithDescription("Pool connections by state"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, err
	}

	maxConns, err := meter.Int64ObservableGauge(
		"db.pool.connections.max",
		metric.WithDescription("Pool connection budget"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, err
	}

	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		for name, s := range stats() {
			pool := attribute.String("pool", name)
			o.ObserveInt64(conns, int64(s.AcquiredConns), metric.WithAttributes(pool, attribute.String("state", "acquired")))
			o.ObserveInt64(conns, int64(s.IdleConns), metric.WithAttributes(pool, attribute.String("state", "idle")))
			o.ObserveInt64(maxConns, int64(s.MaxConns), metric.WithAttributes(pool))
		}
		return nil
	}, conns, maxConns)
}
