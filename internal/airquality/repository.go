package airquality

import "context"

// Repository reads sensor readings from the store.
// Implementations must be read-only and safe for concurrent use.
type Repository interface {
	// LatestReading returns the most recent reading for the pair, including
	// readings whose value is null. Returns nil, nil when the pair has none.
	LatestReading(ctx context.Context, station, variable string) (*Reading, error)

	// Average averages the non-null values for the pair within w.
	Average(ctx context.Context, station, variable string, w Window) (AverageResult, error)
}
