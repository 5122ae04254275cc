// Package report assembles the per-station, per-variable report from the
// average service.
package report

import "time"

// Pair error codes.
const (
	// CodeDataUnavailable marks a transient store failure. Retry later.
	CodeDataUnavailable = "DATA_UNAVAILABLE"

	// CodeCancelled marks a pair abandoned because the report was cancelled.
	CodeCancelled = "CANCELLED"

	// CodeInternal marks an unexpected failure computing the pair.
	CodeInternal = "INTERNAL"
)

// PairError is the explicit failure marker attached to a pair.
// A pair without one either has values or legitimately has no data.
type PairError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements error.
func (e *PairError) Error() string {
	return e.Code + ": " + e.Message
}

// VariableReport holds the figures for one variable at one station.
// Nil figures mean no data.
type VariableReport struct {
	LatestValue   *float64   `json:"latestValue"`
	LatestAt      *time.Time `json:"latestAt,omitempty"`
	HourlyAverage *float64   `json:"hourlyAverage"`
	DailyAverage  *float64   `json:"dailyAverage"`
	Error         *PairError `json:"error,omitempty"`
}

// Failed reports whether the pair carries a failure marker.
func (v VariableReport) Failed() bool {
	return v.Error != nil
}

// StationReport maps variable name to its figures.
type StationReport map[string]VariableReport

// FullReport maps station name to its StationReport.
type FullReport map[string]StationReport

// PairFailure lists a failed pair next to its marker.
type PairFailure struct {
	Station  string    `json:"station"`
	Variable string    `json:"variable"`
	Error    PairError `json:"error"`
}

// Report is the result of one assembly pass.
type Report struct {
	Success   bool       `json:"success"`
	Timestamp time.Time  `json:"timestamp"`
	Data      FullReport `json:"data"`

	// Failures lists every pair carrying an error marker, in catalog order.
	Failures []PairFailure `json:"failures,omitempty"`

	// Error explains why Success is false. Data is empty in that case.
	Error *PairError `json:"error,omitempty"`
}
