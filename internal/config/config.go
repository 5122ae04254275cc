// Package config loads and validates process configuration.
//
// Values come from the environment; a .env file in the working directory is
// loaded first and never overrides variables that are already set. Every
// missing or invalid setting is reported at once in a MisconfigurationError,
// which callers treat as fatal.
package config

import (
	"time"

	"github.com/sqmreport/sqmreport/internal/database"
)

// Config is the top-level process configuration.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"development" validate:"oneof=development test staging production"`
	Port        string `envconfig:"APP_PORT" default:"8080" validate:"required,numeric"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=trace debug info warn error fatal panic disabled"`

	Database  DatabaseConfig
	Store     StoreConfig
	Report    ReportConfig
	Telemetry TelemetryConfig

	location *time.Location
}

// DatabaseConfig holds connection settings for the writer and reader pools.
type DatabaseConfig struct {
	Host    string `envconfig:"DB_HOST" validate:"required"`
	Port    int    `envconfig:"DB_PORT" default:"5432" validate:"min=1,max=65535"`
	Name    string `envconfig:"DB_NAME" validate:"required"`
	SSLMode string `envconfig:"DB_SSL_MODE" default:"disable" validate:"oneof=disable allow prefer require verify-ca verify-full"`

	WriterUser     string          `envconfig:"DB_WRITER_USER" validate:"required"`
	WriterPassword database.Secret `envconfig:"DB_WRITER_PASSWORD" validate:"required"`

	ReaderUser     string          `envconfig:"DB_READER_USER" validate:"required"`
	ReaderPassword database.Secret `envconfig:"DB_READER_PASSWORD" validate:"required"`
	// ReaderHost points the reader pool at a replica. Empty means Host.
	ReaderHost string `envconfig:"DB_READER_HOST"`

	// Pool tuning
	MaxConns        int32         `envconfig:"DB_MAX_CONNS" default:"10" validate:"min=1"`
	MinConns        int32         `envconfig:"DB_MIN_CONNS" default:"1" validate:"min=0"`
	ConnMaxLifetime time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"5m" validate:"gt=0"`
	AcquireTimeout  time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s" validate:"gt=0"`
	QueryTimeout    time.Duration `envconfig:"DB_QUERY_TIMEOUT" default:"5s" validate:"gt=0"`
	ConnectRetries  uint64        `envconfig:"DB_CONNECT_RETRIES" default:"3"`
}

// StoreConfig describes the readings table.
type StoreConfig struct {
	ReadingsTable string `envconfig:"READINGS_TABLE" default:"readings" validate:"required"`
	// Timezone is the IANA zone defining calendar days for daily averages.
	Timezone string `envconfig:"STORE_TIMEZONE" default:"UTC" validate:"required"`
}

// ReportConfig holds the report catalog and fan-out settings.
type ReportConfig struct {
	Stations    []string `envconfig:"REPORT_STATIONS"`
	Variables   []string `envconfig:"REPORT_VARIABLES"`
	CatalogFile string   `envconfig:"REPORT_CATALOG_FILE"`

	// Concurrency bounds in-flight pairs. Zero means the reader pool size.
	Concurrency int           `envconfig:"REPORT_CONCURRENCY" default:"0" validate:"min=0"`
	PairTimeout time.Duration `envconfig:"REPORT_PAIR_TIMEOUT" default:"10s" validate:"gt=0"`
	Deadline    time.Duration `envconfig:"REPORT_DEADLINE" default:"30s" validate:"gt=0"`
}

// TelemetryConfig holds OpenTelemetry exporter settings.
type TelemetryConfig struct {
	Enabled     bool   `envconfig:"OTEL_ENABLED" default:"false"`
	Endpoint    string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT" default:"localhost:4317"`
	ServiceName string `envconfig:"OTEL_SERVICE_NAME" default:"sqmreport"`
}

// IsProduction reports whether the process runs in production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Location returns the store timezone.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

// ReaderHostOrDefault returns the host the reader pool connects to.
func (d DatabaseConfig) ReaderHostOrDefault() string {
	if d.ReaderHost != "" {
		return d.ReaderHost
	}
	return d.Host
}

// Pools returns the dual pool configuration. Logger, registry and breaker
// settings are left for the caller.
func (c *Config) Pools() database.Config {
	d := c.Database
	return database.Config{
		Writer: database.PoolConfig{
			Host:            d.Host,
			Port:            d.Port,
			User:            d.WriterUser,
			Password:        d.WriterPassword,
			Database:        d.Name,
			SSLMode:         d.SSLMode,
			MaxConns:        d.MaxConns,
			MinConns:        d.MinConns,
			ConnMaxLifetime: d.ConnMaxLifetime,
		},
		Reader: database.PoolConfig{
			Host:            d.ReaderHostOrDefault(),
			Port:            d.Port,
			User:            d.ReaderUser,
			Password:        d.ReaderPassword,
			Database:        d.Name,
			SSLMode:         d.SSLMode,
			MaxConns:        d.MaxConns,
			MinConns:        d.MinConns,
			ConnMaxLifetime: d.ConnMaxLifetime,
			ReadOnly:        true,
		},
		AcquireTimeout: d.AcquireTimeout,
		QueryTimeout:   d.QueryTimeout,
		ConnectRetries: d.ConnectRetries,
	}
}

// ReportConcurrency returns the fan-out limit, falling back to the reader
// pool's connection budget.
func (c *Config) ReportConcurrency(readerMaxConns int32) int {
	if c.Report.Concurrency > 0 {
		return c.Report.Concurrency
	}
	if readerMaxConns > 0 {
		return int(readerMaxConns)
	}
	return int(c.Database.MaxConns)
}
