package airquality

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/sqmreport/sqmreport/internal/database"
)

// DefaultReadingsTable is the table holding raw readings.
const DefaultReadingsTable = "readings"

// PostgresRepository is a PostgreSQL implementation of Repository.
// Every query runs on its own scoped reader connection.
type PostgresRepository struct {
	reader database.Reader
	table  string

	latestQuery  string
	averageQuery string
}

// NewPostgresRepository creates a repository over the reader pool.
// table may be schema-qualified ("sensors.readings"); empty means DefaultReadingsTable.
func NewPostgresRepository(reader database.Reader, table string) *PostgresRepository {
	if table == "" {
		table = DefaultReadingsTable
	}
	ident := pgx.Identifier(strings.Split(table, ".")).Sanitize()

	return &PostgresRepository{
		reader: reader,
		table:  table,
		latestQuery: `
			SELECT "timestamp", valor::float8
			FROM ` + ident + `
			WHERE station_name = $1 AND variable_name = $2
			ORDER BY "timestamp" DESC
			LIMIT 1
		`,
		averageQuery: `
			SELECT AVG(valor)::float8, COUNT(valor)
			FROM ` + ident + `
			WHERE station_name = $1 AND variable_name = $2
				AND "timestamp" BETWEEN $3 AND $4
		`,
	}
}

// LatestReading returns the most recent reading for the pair.
func (r *PostgresRepository) LatestReading(ctx context.Context, station, variable string) (*Reading, error) {
	var reading *Reading

	err := r.reader.WithReader(ctx, func(ctx context.Context, q database.Querier) error {
		rd := Reading{Station: station, Variable: variable}
		err := q.QueryRow(ctx, r.latestQuery, station, variable).Scan(&rd.Timestamp, &rd.Value)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return err
		}
		reading = &rd
		return nil
	})
	if err != nil {
		return nil, unavailable(ctx, "latest reading", err)
	}

	return reading, nil
}

// Average averages the non-null values for the pair within w.
// AVG and COUNT both skip nulls, so an all-null window yields a nil mean.
func (r *PostgresRepository) Average(ctx context.Context, station, variable string, w Window) (AverageResult, error) {
	result := AverageResult{Window: w}

	err := r.reader.WithReader(ctx, func(ctx context.Context, q database.Querier) error {
		return q.QueryRow(ctx, r.averageQuery, station, variable, w.From, w.To).
			Scan(&result.Mean, &result.Count)
	})
	if err != nil {
		return AverageResult{}, unavailable(ctx, "window average", err)
	}

	if result.Count == 0 {
		result.Mean = nil
	}
	return result, nil
}

// Table returns the table the repository reads from.
func (r *PostgresRepository) Table() string {
	return r.table
}

// unavailable wraps a store failure as ErrDataUnavailable. When the caller's
// context is already done the error is returned unwrapped.
func unavailable(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrDataUnavailable, op, err)
}

var _ Repository = (*PostgresRepository)(nil)
