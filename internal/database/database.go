// Package database provides the writer and reader PostgreSQL connection pools.
//
// The two pools are opened with distinct credentials. Report code only ever
// receives the *ReadPool; the writer pool is reserved for ingestion.
package database

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/metric"

	"github.com/sqmreport/sqmreport/internal/resilience"
)

// Pool names used in logs, metrics and the breaker registry.
const (
	WriterPoolName = "writer"
	ReaderPoolName = "reader"
)

// Secret is a credential that never prints its value.
type Secret string

// String implements fmt.Stringer.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

// MarshalText keeps secrets out of structured logs and JSON.
func (s Secret) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Reveal returns the raw secret value.
func (s Secret) Reveal() string {
	return string(s)
}

// PoolConfig holds the connection settings for one pool.
type PoolConfig struct {
	Name            string
	Host            string
	Port            int
	User            string
	Password        Secret
	Database        string
	SSLMode         string
	MaxConns        int32
	MinConns        int32
	ConnMaxLifetime time.Duration

	// ReadOnly opens every session with default_transaction_read_only=on.
	ReadOnly bool
}

// ConnectionString returns the PostgreSQL connection URL for this pool.
func (c PoolConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	port := c.Port
	if port == 0 {
		port = 5432
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password.Reveal()),
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(port)),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": []string{sslMode}}.Encode(),
	}
	return u.String()
}

// PgxConfig builds the pgxpool configuration for this pool.
func (c PoolConfig) PgxConfig() (*pgxpool.Config, error) {
	poolConfig, err := pgxpool.ParseConfig(c.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parse %s connection string: %w", c.Name, err)
	}

	if c.MaxConns > 0 {
		poolConfig.MaxConns = c.MaxConns
	}
	if c.MinConns > 0 && c.MinConns <= poolConfig.MaxConns {
		poolConfig.MinConns = c.MinConns
	}
	if c.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = c.ConnMaxLifetime
	}

	poolConfig.ConnConfig.RuntimeParams["application_name"] = "sqmreport-" + c.Name
	if c.ReadOnly {
		poolConfig.ConnConfig.RuntimeParams["default_transaction_read_only"] = "on"
	}

	return poolConfig, nil
}

// Config holds configuration for the dual pool.
type Config struct {
	Writer PoolConfig
	Reader PoolConfig

	// AcquireTimeout bounds the wait for a reader connection.
	// Default: 2 seconds
	AcquireTimeout time.Duration

	// QueryTimeout bounds a single reader query.
	// Default: 5 seconds
	QueryTimeout time.Duration

	// ConnectRetries is how often the startup ping is retried per pool.
	// Default: 3
	ConnectRetries uint64

	// CircuitBreaker guards the reader pool. If nil, the default is used.
	CircuitBreaker *resilience.CircuitBreakerConfig

	// Registry receives the reader breaker for health reporting. Optional.
	Registry *resilience.Registry

	Logger zerolog.Logger
}

// DualPool owns the writer and reader pools.
type DualPool struct {
	writer  *pgxpool.Pool
	reader  *ReadPool
	logger  zerolog.Logger
	metrics metric.Registration
}

// Open connects both pools and verifies each with a ping.
// A failure to reach either pool closes whatever was opened.
func Open(ctx context.Context, cfg Config) (*DualPool, error) {
	cfg.Writer.Name = WriterPoolName
	cfg.Writer.ReadOnly = false
	cfg.Reader.Name = ReaderPoolName
	cfg.Reader.ReadOnly = true

	writer, err := connect(ctx, cfg.Writer, cfg)
	if err != nil {
		return nil, err
	}

	reader, err := connect(ctx, cfg.Reader, cfg)
	if err != nil {
		writer.Close()
		return nil, err
	}

	readPool := NewReadPool(PoolAcquirer(reader), ReadPoolConfig{
		AcquireTimeout: cfg.AcquireTimeout,
		QueryTimeout:   cfg.QueryTimeout,
		MaxConns:       reader.Config().MaxConns,
		CircuitBreaker: cfg.CircuitBreaker,
		Registry:       cfg.Registry,
		Logger:         cfg.Logger,
		Stat:           statFunc(reader),
		OnClose:        reader.Close,
	})

	p := &DualPool{
		writer: writer,
		reader: readPool,
		logger: cfg.Logger,
	}

	p.metrics, err = registerPoolMetrics(p.Stats)
	if err != nil {
		cfg.Logger.Warn().Err(err).Msg("failed to register pool metrics")
	}

	return p, nil
}

// Reader returns the read-only pool.
func (p *DualPool) Reader() *ReadPool {
	return p.reader
}

// Writer returns the write-capable pool. Report code must not use it.
func (p *DualPool) Writer() *pgxpool.Pool {
	return p.writer
}

// Stats returns acquisition statistics for both pools.
func (p *DualPool) Stats() map[string]PoolStats {
	return map[string]PoolStats{
		WriterPoolName: statFunc(p.writer)(),
		ReaderPoolName: p.reader.Stats(),
	}
}

// Close closes both pools. It blocks until all acquired connections are released.
func (p *DualPool) Close() {
	if p.metrics != nil {
		_ = p.metrics.Unregister()
	}
	p.reader.Close()
	p.writer.Close()
	p.logger.Info().Msg("database pools closed")
}

// PoolStats is a snapshot of pool utilisation.
type PoolStats struct {
	MaxConns             int32 `json:"maxConns"`
	TotalConns           int32 `json:"totalConns"`
	AcquiredConns        int32 `json:"acquiredConns"`
	IdleConns            int32 `json:"idleConns"`
	EmptyAcquireCount    int64 `json:"emptyAcquireCount"`
	CanceledAcquireCount int64 `json:"canceledAcquireCount"`
}

func statFunc(pool *pgxpool.Pool) func() PoolStats {
	return func() PoolStats {
		s := pool.Stat()
		return PoolStats{
			MaxConns:             s.MaxConns(),
			TotalConns:           s.TotalConns(),
			AcquiredConns:        s.AcquiredConns(),
			IdleConns:            s.IdleConns(),
			EmptyAcquireCount:    s.EmptyAcquireCount(),
			CanceledAcquireCount: s.CanceledAcquireCount(),
		}
	}
}

func connect(ctx context.Context, pc PoolConfig, cfg Config) (*pgxpool.Pool, error) {
	poolConfig, err := pc.PgxConfig()
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create %s pool: %w", pc.Name, err)
	}

	logger := cfg.Logger.With().Str("pool", pc.Name).Logger()
	err = resilience.Retry(ctx, resilience.RetryConfig{
		MaxRetries: cfg.ConnectRetries,
		OnRetry: func(err error, wait time.Duration) {
			logger.Warn().Err(err).Dur("retry_in", wait).Msg("database ping failed")
		},
	}, func() error {
		pingErr := pool.Ping(ctx)
		if isAuthError(pingErr) {
			return resilience.Permanent(pingErr)
		}
		return pingErr
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping %s pool: %w: %w", pc.Name, ErrConnectionFailure, err)
	}

	logger.Info().
		Str("host", pc.Host).
		Str("database", pc.Database).
		Str("user", pc.User).
		Int32("max_conns", poolConfig.MaxConns).
		Msg("database pool connected")

	return pool, nil
}

// isAuthError reports rejected credentials, which retrying cannot fix.
func isAuthError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	// 28000 invalid_authorization_specification, 28P01 invalid_password,
	// 3D000 invalid_catalog_name
	switch pgErr.Code {
	case "28000", "28P01", "3D000":
		return true
	}
	return false
}
