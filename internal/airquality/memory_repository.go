package airquality

import (
	"context"
	"sync"
)

// InMemoryRepository is an in-memory implementation of Repository.
// This is intended for testing and local runs. Production should use PostgresRepository.
type InMemoryRepository struct {
	mu       sync.RWMutex
	readings map[pairKey][]Reading
}

type pairKey struct {
	station  string
	variable string
}

// NewInMemoryRepository creates an in-memory repository seeded with readings.
func NewInMemoryRepository(readings ...Reading) *InMemoryRepository {
	r := &InMemoryRepository{
		readings: make(map[pairKey][]Reading),
	}
	r.Add(readings...)
	return r
}

// Add stores readings.
func (r *InMemoryRepository) Add(readings ...Reading) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rd := range readings {
		if rd.Value != nil {
			v := *rd.Value
			rd.Value = &v
		}
		key := pairKey{station: rd.Station, variable: rd.Variable}
		r.readings[key] = append(r.readings[key], rd)
	}
}

// LatestReading returns the most recent reading for the pair.
func (r *InMemoryRepository) LatestReading(ctx context.Context, station, variable string) (*Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	readings := r.readings[pairKey{station: station, variable: variable}]
	var latest *Reading
	for i := range readings {
		if latest == nil || readings[i].Timestamp.After(latest.Timestamp) {
			latest = &readings[i]
		}
	}
	if latest == nil {
		return nil, nil
	}

	// Return a copy
	cpy := *latest
	if latest.Value != nil {
		v := *latest.Value
		cpy.Value = &v
	}
	return &cpy, nil
}

// Average averages the non-null values for the pair within w.
func (r *InMemoryRepository) Average(ctx context.Context, station, variable string, w Window) (AverageResult, error) {
	if err := ctx.Err(); err != nil {
		return AverageResult{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	result := AverageResult{Window: w}
	var sum float64
	for _, rd := range r.readings[pairKey{station: station, variable: variable}] {
		if rd.Value == nil || !w.Contains(rd.Timestamp) {
			continue
		}
		sum += *rd.Value
		result.Count++
	}
	if result.Count > 0 {
		mean := sum / float64(result.Count)
		result.Mean = &mean
	}

	return result, nil
}

var _ Repository = (*InMemoryRepository)(nil)
