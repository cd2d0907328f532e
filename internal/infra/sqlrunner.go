package infra

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// SQLExecutor is the query surface the Postgres repositories depend on.
type SQLExecutor interface {
	Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row
	Query(ctx context.Context, query string, args ...any) (pgx.Rows, error)
}

var (
	markerRegexp = regexp.MustCompile(`^--sql [0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

	ErrEmptyQuery    = errors.New("empty query")
	ErrMissingMarker = errors.New("sql marker missing or invalid")
)

// SQLRunner executes marker-prefixed statements on a pool. The marker is
// stripped before the statement is sent and used to correlate log lines.
type SQLRunner struct {
	Pool   *pgxpool.Pool
	Logger zerolog.Logger
}

func NewSQLRunner(pool *pgxpool.Pool, logger zerolog.Logger) *SQLRunner {
	return &SQLRunner{Pool: pool, Logger: logger}
}

func (r *SQLRunner) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	marker, stmt, err := ExtractMarker(query)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	start := time.Now()
	tag, err := r.Pool.Exec(ctx, stmt, args...)
	if err != nil {
		r.Logger.Error().Err(err).Str("sql", marker).Msg("exec failed")
		return tag, err
	}
	r.Logger.Debug().Str("sql", marker).Int64("rows", tag.RowsAffected()).Dur("took", time.Since(start)).Msg("exec")
	return tag, nil
}

func (r *SQLRunner) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	marker, stmt, err := ExtractMarker(query)
	if err != nil {
		return errorRow{err: err}
	}
	return loggingRow{row: r.Pool.QueryRow(ctx, stmt, args...), logger: r.Logger, marker: marker, start: time.Now()}
}

func (r *SQLRunner) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	marker, stmt, err := ExtractMarker(query)
	if err != nil {
		return nil, err
	}
	rows, err := r.Pool.Query(ctx, stmt, args...)
	if err != nil {
		r.Logger.Error().Err(err).Str("sql", marker).Msg("query failed")
		return nil, err
	}
	return loggingRows{Rows: rows, logger: r.Logger, marker: marker, start: time.Now()}, nil
}

type loggingRow struct {
	row    pgx.Row
	logger zerolog.Logger
	marker string
	start  time.Time
}

// Scan logs real failures only; an empty result is a normal outcome for
// conditional updates.
func (l loggingRow) Scan(dest ...any) error {
	err := l.row.Scan(dest...)
	switch {
	case err == nil:
		l.logger.Debug().Str("sql", l.marker).Dur("took", time.Since(l.start)).Msg("query_row")
	case IsNoRows(err):
		l.logger.Debug().Str("sql", l.marker).Msg("query_row no rows")
	default:
		l.logger.Error().Err(err).Str("sql", l.marker).Msg("query_row failed")
	}
	return err
}

type loggingRows struct {
	pgx.Rows
	logger zerolog.Logger
	marker string
	start  time.Time
}

func (l loggingRows) Close() {
	l.Rows.Close()
	if err := l.Rows.Err(); err != nil {
		l.logger.Error().Err(err).Str("sql", l.marker).Msg("query failed")
		return
	}
	l.logger.Debug().Str("sql", l.marker).Dur("took", time.Since(l.start)).Msg("query")
}

type errorRow struct {
	err error
}

func (e errorRow) Scan(dest ...any) error {
	return e.err
}

// ExtractMarker splits a query into its audit marker and the statement body.
func ExtractMarker(query string) (string, string, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return "", "", ErrEmptyQuery
	}
	first, rest, _ := strings.Cut(trimmed, "\n")
	first = strings.TrimSpace(first)
	if !markerRegexp.MatchString(first) {
		return "", "", ErrMissingMarker
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return "", "", ErrEmptyQuery
	}
	return strings.TrimPrefix(first, "--sql "), rest, nil
}

var _ SQLExecutor = (*SQLRunner)(nil)

// IsNoRows reports whether err signals an empty single-row result.
func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
