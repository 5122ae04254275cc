package models

// Health represents the health status of the service.
type Health struct {
	Status  HealthStatus   `json:"status"`
	Time    Timestamp      `json:"time"`
	Details map[string]any `json:"details,omitempty"`
}

// SystemStatus represents the overall system status.
type SystemStatus struct {
	Status       HealthStatus       `json:"status"`
	Time         Timestamp          `json:"time"`
	Dependencies []DependencyStatus `json:"dependencies"`
	Pools        []PoolStatus       `json:"pools"`
	Report       ReportActivity     `json:"report"`
}

// DependencyStatus represents the breaker-guarded state of a dependency.
type DependencyStatus struct {
	Name          string       `json:"name"`
	Status        HealthStatus `json:"status"`
	CircuitState  string       `json:"circuitState"`
	LastSuccessAt *Timestamp   `json:"lastSuccessAt,omitempty"`
	LastFailureAt *Timestamp   `json:"lastFailureAt,omitempty"`
	Message       *string      `json:"message,omitempty"`
}

// PoolStatus is a snapshot of one connection pool.
type PoolStatus struct {
	Name                 string `json:"name"`
	MaxConns             int32  `json:"maxConns"`
	TotalConns           int32  `json:"totalConns"`
	AcquiredConns        int32  `json:"acquiredConns"`
	IdleConns            int32  `json:"idleConns"`
	EmptyAcquireCount    int64  `json:"emptyAcquireCount"`
	CanceledAcquireCount int64  `json:"canceledAcquireCount"`
}

// ReportActivity summarises report assembly since start.
type ReportActivity struct {
	Pairs             int        `json:"pairs"`
	Concurrency       int        `json:"concurrency"`
	TotalReports      int64      `json:"totalReports"`
	FailedReports     int64      `json:"failedReports"`
	FailedPairs       int64      `json:"failedPairs"`
	LastReportAt      *Timestamp `json:"lastReportAt,omitempty"`
	LastReportSuccess bool       `json:"lastReportSuccess"`
	LastDurationMs    int64      `json:"lastDurationMs"`
}
