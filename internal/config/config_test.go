package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqmreport/sqmreport/internal/config"
	"github.com/sqmreport/sqmreport/internal/report"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DB_HOST", "primary.internal")
	t.Setenv("DB_NAME", "sqm")
	t.Setenv("DB_WRITER_USER", "ingest_rw")
	t.Setenv("DB_WRITER_PASSWORD", "writer-secret")
	t.Setenv("DB_READER_USER", "report_ro")
	t.Setenv("DB_READER_PASSWORD", "reader-secret")
	t.Setenv("REPORT_STATIONS", "E1,E2")
	t.Setenv("REPORT_VARIABLES", "PM10,NO2,WS")
}

func TestFromEnv_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := config.FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.IsProduction())

	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "disable", cfg.Database.SSLMode)
	assert.Equal(t, int32(10), cfg.Database.MaxConns)
	assert.Equal(t, int32(1), cfg.Database.MinConns)
	assert.Equal(t, 5*time.Minute, cfg.Database.ConnMaxLifetime)
	assert.Equal(t, 2*time.Second, cfg.Database.AcquireTimeout)
	assert.Equal(t, 5*time.Second, cfg.Database.QueryTimeout)
	assert.Equal(t, uint64(3), cfg.Database.ConnectRetries)

	assert.Equal(t, "readings", cfg.Store.ReadingsTable)
	assert.Equal(t, time.UTC, cfg.Location())

	assert.Equal(t, []string{"E1", "E2"}, cfg.Report.Stations)
	assert.Equal(t, []string{"PM10", "NO2", "WS"}, cfg.Report.Variables)
	assert.Equal(t, 10*time.Second, cfg.Report.PairTimeout)
	assert.Equal(t, 30*time.Second, cfg.Report.Deadline)

	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "sqmreport", cfg.Telemetry.ServiceName)
}

func TestFromEnv_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("DB_READER_HOST", "replica.internal")
	t.Setenv("DB_MAX_CONNS", "24")
	t.Setenv("DB_ACQUIRE_TIMEOUT", "750ms")
	t.Setenv("STORE_TIMEZONE", "Europe/Madrid")
	t.Setenv("REPORT_CONCURRENCY", "6")

	cfg, err := config.FromEnv()
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "replica.internal", cfg.Database.ReaderHostOrDefault())
	assert.Equal(t, int32(24), cfg.Database.MaxConns)
	assert.Equal(t, 750*time.Millisecond, cfg.Database.AcquireTimeout)
	assert.Equal(t, "Europe/Madrid", cfg.Location().String())
	assert.Equal(t, 6, cfg.ReportConcurrency(24))
}

func TestFromEnv_MissingSettings(t *testing.T) {
	t.Setenv("DB_HOST", "primary.internal")
	t.Setenv("DB_NAME", "sqm")
	t.Setenv("DB_WRITER_USER", "ingest_rw")
	t.Setenv("DB_WRITER_PASSWORD", "writer-secret")

	_, err := config.FromEnv()
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrMisconfiguration)

	var miscfg *config.MisconfigurationError
	require.True(t, errors.As(err, &miscfg))
	assert.Equal(t, []string{
		"DB_READER_PASSWORD",
		"DB_READER_USER",
		"REPORT_STATIONS",
		"REPORT_VARIABLES",
	}, miscfg.Variables())
	assert.Contains(t, err.Error(), "DB_READER_USER: required")
	assert.NotContains(t, err.Error(), "writer-secret")
}

func TestFromEnv_InvalidValues(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DB_SSL_MODE", "sometimes")
	t.Setenv("STORE_TIMEZONE", "Mars/Olympus")
	t.Setenv("DB_MIN_CONNS", "20")

	_, err := config.FromEnv()

	var miscfg *config.MisconfigurationError
	require.True(t, errors.As(err, &miscfg))
	assert.Equal(t, []string{"DB_MIN_CONNS", "DB_SSL_MODE", "STORE_TIMEZONE"}, miscfg.Variables())
}

func TestFromEnv_UnparseableValue(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DB_PORT", "five")

	_, err := config.FromEnv()

	var miscfg *config.MisconfigurationError
	require.True(t, errors.As(err, &miscfg))
	assert.Len(t, miscfg.Variables(), 1)
	assert.Contains(t, miscfg.Variables()[0], "DB_PORT")
}

func TestFromEnv_CatalogFileReplacesLists(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("REPORT_STATIONS", "")
	t.Setenv("REPORT_VARIABLES", "")

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("stations:\n  - name: E7\n    variables: [WS, WD]\n"), 0o600))
	t.Setenv("REPORT_CATALOG_FILE", path)

	cfg, err := config.FromEnv()
	require.NoError(t, err)

	catalog, err := cfg.Catalog()
	require.NoError(t, err)
	assert.Equal(t, []report.Pair{
		{Station: "E7", Variable: "WS"},
		{Station: "E7", Variable: "WD"},
	}, catalog.Pairs())
}

func TestCatalog_CrossProduct(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := config.FromEnv()
	require.NoError(t, err)

	catalog, err := cfg.Catalog()
	require.NoError(t, err)
	assert.Equal(t, 6, catalog.Len())
}

func TestPools(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := config.FromEnv()
	require.NoError(t, err)

	pools := cfg.Pools()

	assert.Equal(t, "ingest_rw", pools.Writer.User)
	assert.Equal(t, "writer-secret", pools.Writer.Password.Reveal())
	assert.False(t, pools.Writer.ReadOnly)

	assert.Equal(t, "report_ro", pools.Reader.User)
	assert.Equal(t, "reader-secret", pools.Reader.Password.Reveal())
	assert.Equal(t, "primary.internal", pools.Reader.Host)
	assert.True(t, pools.Reader.ReadOnly)

	assert.Equal(t, 2*time.Second, pools.AcquireTimeout)
	assert.Equal(t, 10, cfg.ReportConcurrency(0))
	assert.Equal(t, 8, cfg.ReportConcurrency(8))
}
