package database

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/sqmreport/sqmreport/internal/resilience"
)

const meterName = "github.com/sqmreport/sqmreport/internal/database"

// ReaderBreakerName is the registry name of the reader pool circuit breaker.
const ReaderBreakerName = "postgres-reader"

// Pool errors. Every error returned by WithReader either wraps one of these
// or is the caller's own context error.
var (
	ErrPoolExhausted     = errors.New("connection pool exhausted")
	ErrConnectionFailure = errors.New("database connection failed")
	ErrQueryFailure      = errors.New("database query failed")
	ErrPoolClosed        = errors.New("connection pool closed")
)

// Querier is the read surface available inside a scoped acquisition.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Conn is an acquired connection. *pgxpool.Conn satisfies it.
type Conn interface {
	Querier
	Release()
}

// Acquirer hands out pooled connections.
type Acquirer interface {
	Acquire(ctx context.Context) (Conn, error)
}

// AcquirerFunc adapts a function to Acquirer.
type AcquirerFunc func(ctx context.Context) (Conn, error)

// Acquire implements Acquirer.
func (f AcquirerFunc) Acquire(ctx context.Context) (Conn, error) {
	return f(ctx)
}

// PoolAcquirer adapts a *pgxpool.Pool to Acquirer.
func PoolAcquirer(pool *pgxpool.Pool) Acquirer {
	return AcquirerFunc(func(ctx context.Context) (Conn, error) {
		conn, err := pool.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		return conn, nil
	})
}

// Reader runs read-only work against a scoped connection.
type Reader interface {
	WithReader(ctx context.Context, fn func(ctx context.Context, q Querier) error) error
}

// ReadPoolConfig holds configuration for a ReadPool.
type ReadPoolConfig struct {
	// AcquireTimeout bounds the wait for a free connection.
	// Default: 2 seconds
	AcquireTimeout time.Duration

	// QueryTimeout bounds the work done while the connection is held.
	// Default: 5 seconds
	QueryTimeout time.Duration

	// MaxConns is the connection budget, reported to fan-out callers.
	MaxConns int32

	CircuitBreaker *resilience.CircuitBreakerConfig
	Registry       *resilience.Registry
	Logger         zerolog.Logger

	// Stat reports pool utilisation. Optional.
	Stat func() PoolStats

	// OnClose releases the underlying pool. Optional.
	OnClose func()
}

// ReadPool is the read-only side of the dual pool.
type ReadPool struct {
	acquirer       Acquirer
	acquireTimeout time.Duration
	queryTimeout   time.Duration
	maxConns       int32
	breaker        *gobreaker.CircuitBreaker[struct{}]
	registry       *resilience.Registry
	logger         zerolog.Logger
	stat           func() PoolStats
	onClose        func()
	closed         atomic.Bool

	acquireDuration metric.Float64Histogram
	acquireFailures metric.Int64Counter
}

// NewReadPool creates a ReadPool over the given acquirer.
func NewReadPool(acquirer Acquirer, cfg ReadPoolConfig) *ReadPool {
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 2 * time.Second
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 5 * time.Second
	}

	cbConfig := resilience.DefaultCircuitBreakerConfig(ReaderBreakerName)
	if cfg.CircuitBreaker != nil {
		cbConfig = *cfg.CircuitBreaker
	}
	if cbConfig.IsSuccessful == nil {
		cbConfig.IsSuccessful = isBreakerSuccess
	}
	logger := cfg.Logger.With().Str("pool", ReaderPoolName).Logger()
	if cbConfig.OnStateChange == nil {
		cbConfig.OnStateChange = func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("reader circuit breaker state changed")
		}
	}

	p := &ReadPool{
		acquirer:       acquirer,
		acquireTimeout: cfg.AcquireTimeout,
		queryTimeout:   cfg.QueryTimeout,
		maxConns:       cfg.MaxConns,
		breaker:        resilience.NewCircuitBreaker[struct{}](cbConfig),
		registry:       cfg.Registry,
		logger:         logger,
		stat:           cfg.Stat,
		onClose:        cfg.OnClose,
	}
	p.initMetrics()

	if p.registry != nil {
		p.registry.Register(ReaderBreakerName, p.breaker)
	}

	return p
}

// WithReader acquires a reader connection, runs fn and releases the
// connection on every return path. The acquisition waits at most
// AcquireTimeout; fn runs under QueryTimeout. Both honour ctx.
func (p *ReadPool) WithReader(ctx context.Context, fn func(ctx context.Context, q Querier) error) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}

	_, err := p.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, p.run(ctx, fn)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = fmt.Errorf("%w: reader circuit breaker open", ErrConnectionFailure)
	}

	if p.registry != nil {
		switch {
		case err == nil:
			p.registry.RecordSuccess(ReaderBreakerName)
		case !errors.Is(err, context.Canceled):
			p.registry.RecordFailure(ReaderBreakerName, err)
		}
	}

	return err
}

func (p *ReadPool) run(ctx context.Context, fn func(ctx context.Context, q Querier) error) error {
	acquireCtx, cancelAcquire := context.WithTimeout(ctx, p.acquireTimeout)
	start := time.Now()
	conn, err := p.acquirer.Acquire(acquireCtx)
	cancelAcquire()
	p.acquireDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		err = classifyAcquireError(ctx, err)
		p.acquireFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reasonOf(err))))
		return err
	}
	defer conn.Release()

	queryCtx, cancelQuery := context.WithTimeout(ctx, p.queryTimeout)
	defer cancelQuery()

	if err := fn(queryCtx, conn); err != nil {
		return classifyQueryError(ctx, err)
	}
	return nil
}

// Ping runs a trivial query through the reader path.
func (p *ReadPool) Ping(ctx context.Context) error {
	return p.WithReader(ctx, func(ctx context.Context, q Querier) error {
		var one int
		return q.QueryRow(ctx, "SELECT 1").Scan(&one)
	})
}

// MaxConns returns the reader connection budget.
func (p *ReadPool) MaxConns() int32 {
	return p.maxConns
}

// BreakerState returns the current reader circuit breaker state.
func (p *ReadPool) BreakerState() gobreaker.State {
	return p.breaker.State()
}

// Stats returns reader pool utilisation.
func (p *ReadPool) Stats() PoolStats {
	if p.stat == nil {
		return PoolStats{MaxConns: p.maxConns}
	}
	return p.stat()
}

// Close marks the pool closed and releases the underlying pool.
func (p *ReadPool) Close() {
	if p.closed.Swap(true) {
		return
	}
	if p.onClose != nil {
		p.onClose()
	}
}

func (p *ReadPool) initMetrics() {
	meter := otel.Meter(meterName)

	var err error
	p.acquireDuration, err = meter.Float64Histogram(
		"db.reader.acquire.duration",
		metric.WithDescription("Time spent waiting for a reader connection"),
		metric.WithUnit("s"),
	)
	if err != nil {
		p.logger.Warn().Err(err).Msg("failed to create acquire duration histogram")
		p.acquireDuration = noop.Float64Histogram{}
	}

	p.acquireFailures, err = meter.Int64Counter(
		"db.reader.acquire.failures",
		metric.WithDescription("Reader connection acquisitions that failed"),
		metric.WithUnit("{acquire}"),
	)
	if err != nil {
		p.logger.Warn().Err(err).Msg("failed to create acquire failure counter")
		p.acquireFailures = noop.Int64Counter{}
	}
}

// classifyAcquireError maps an acquisition failure onto the pool taxonomy.
// A done parent context is returned as-is: the caller gave up.
func classifyAcquireError(parent context.Context, err error) error {
	if parentErr := parent.Err(); parentErr != nil {
		return parentErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: no reader connection available: %w", ErrPoolExhausted, err)
	}
	if isPoolError(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrConnectionFailure, err)
}

// classifyQueryError maps an error from the scoped work onto the pool taxonomy.
func classifyQueryError(parent context.Context, err error) error {
	if parentErr := parent.Err(); parentErr != nil {
		return parentErr
	}
	if isPoolError(err) {
		return err
	}

	var pgErr *pgconn.PgError
	var connectErr *pgconn.ConnectError
	switch {
	case errors.As(err, &pgErr):
		return fmt.Errorf("%w: %s (%s)", ErrQueryFailure, pgErr.Message, pgErr.Code)
	case errors.As(err, &connectErr), pgconn.SafeToRetry(err) && !pgconn.Timeout(err):
		return fmt.Errorf("%w: %w", ErrConnectionFailure, err)
	default:
		return fmt.Errorf("%w: %w", ErrQueryFailure, err)
	}
}

func isPoolError(err error) bool {
	return errors.Is(err, ErrPoolExhausted) ||
		errors.Is(err, ErrConnectionFailure) ||
		errors.Is(err, ErrQueryFailure) ||
		errors.Is(err, ErrPoolClosed)
}

// isBreakerSuccess reports whether err should be ignored by the breaker.
// Only lost connectivity trips it; saturation and caller cancellation do not.
func isBreakerSuccess(err error) bool {
	return err == nil || !errors.Is(err, ErrConnectionFailure)
}

func reasonOf(err error) string {
	switch {
	case errors.Is(err, ErrPoolExhausted):
		return "exhausted"
	case errors.Is(err, ErrConnectionFailure):
		return "connection"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "other"
	}
}
