package sqlite

import (
	"context"
	"database/sql"
	"log/slog"
	"time"
)

const slowQueryThreshold = 100 * time.Millisecond

// dbHandle is the interface satisfied by both *sql.DB and *queryLogger.
// All Store methods use this instead of *sql.DB directly.
type dbHandle interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	Close() error
}

// queryLogger wraps a *sql.DB and logs queries that exceed the slow query threshold.
type queryLogger struct {
	inner  *sql.DB
	logger *slog.Logger
}

func newQueryLogger(db *sql.DB, logger *slog.Logger) *queryLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &queryLogger{inner: db, logger: logger}
}

func (q *queryLogger) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	start := time.Now()
	result, err := q.inner.ExecContext(ctx, query, args...)
	q.observe(start, query)
	return result, err
}

func (q *queryLogger) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	start := time.Now()
	rows, err := q.inner.QueryContext(ctx, query, args...)
	q.observe(start, query)
	return rows, err
}

func (q *queryLogger) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	start := time.Now()
	row := q.inner.QueryRowContext(ctx, query, args...)
	q.observe(start, query)
	return row
}

func (q *queryLogger) Close() error {
	return q.inner.Close()
}

func (q *queryLogger) observe(start time.Time, query string) {
	if d := time.Since(start); d >= slowQueryThreshold {
		q.logger.Warn("slow query", "duration", d.Round(time.Millisecond), "query", truncateQuery(query))
	}
}

func truncateQuery(s string) string {
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
