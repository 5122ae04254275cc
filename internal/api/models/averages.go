package models

// Window is a closed time range.
type Window struct {
	From Timestamp `json:"from"`
	To   Timestamp `json:"to"`
}

// Average is a mean over a window. A nil Value means no non-null readings.
// Window is omitted when none could be resolved.
type Average struct {
	Value  *float64 `json:"value"`
	Count  int64    `json:"count"`
	Window *Window  `json:"window,omitempty"`
}

// PairAverages is the body of the single-pair averages endpoint.
type PairAverages struct {
	Station     string     `json:"station"`
	Variable    string     `json:"variable"`
	Date        string     `json:"date"`
	LatestValue *float64   `json:"latestValue"`
	LatestAt    *Timestamp `json:"latestAt,omitempty"`
	Hourly      Average    `json:"hourly"`
	Daily       Average    `json:"daily"`
}

// CatalogStation lists the variables reported for one station.
type CatalogStation struct {
	Name      string   `json:"name"`
	Variables []string `json:"variables"`
}

// Catalog is the body of the catalog endpoint.
type Catalog struct {
	Stations []CatalogStation `json:"stations"`
	Pairs    int              `json:"pairs"`
	Timezone string           `json:"timezone"`
}
