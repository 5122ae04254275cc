// Package airquality computes windowed averages and latest values over the
// sensor readings kept in the store.
package airquality

import (
	"errors"
	"time"
)

// Service errors.
var (
	// ErrDataUnavailable marks a transient failure reaching the store.
	// It is never used for an empty result.
	ErrDataUnavailable = errors.New("data unavailable")

	// ErrInvalidPair is returned when the station or variable is empty.
	ErrInvalidPair = errors.New("station and variable are required")
)

// Reading is one timestamped observation for a station/variable pair.
// A nil Value is a stored null.
type Reading struct {
	Timestamp time.Time
	Station   string
	Variable  string
	Value     *float64
}

// Window is a closed time interval. Both bounds are inclusive.
type Window struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t lies within the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.From) && !t.After(w.To)
}

// IsZero reports whether no window was resolved, as for a pair without readings.
func (w Window) IsZero() bool {
	return w.From.IsZero() && w.To.IsZero()
}

// HourWindow returns the one-hour window ending at ref.
func HourWindow(ref time.Time) Window {
	return Window{From: ref.Add(-time.Hour), To: ref}
}

// DayWindow returns [00:00:00, 23:59:59] of the calendar day of date,
// taken as written, in loc.
func DayWindow(date time.Time, loc *time.Location) Window {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := date.Date()
	return Window{
		From: time.Date(y, m, d, 0, 0, 0, 0, loc),
		To:   time.Date(y, m, d, 23, 59, 59, 0, loc),
	}
}

// AverageResult is the mean of the non-null values in a window.
// Mean is nil when Count is zero.
type AverageResult struct {
	Mean   *float64
	Count  int64
	Window Window
}

// HasData reports whether at least one qualifying reading was averaged.
func (r AverageResult) HasData() bool {
	return r.Mean != nil
}

// PairSummary holds the latest reading and both averages for one pair.
type PairSummary struct {
	Station  string
	Variable string

	// Latest is nil when the pair has no readings.
	Latest *Reading

	Hourly AverageResult
	Daily  AverageResult
}
