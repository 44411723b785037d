package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mistakeknot/interlock/internal/core"
	"github.com/mistakeknot/interlock/internal/storage"
)

//go:embed schema.sql
var schema string

var _ storage.Backend = (*Store)(nil)

// Store persists committed reservation and conflict state. Rows are keyed
// by (project, id); reservations carry an expires_at index for pruning.
type Store struct {
	db dbHandle
}

func New(path string, logger *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("db path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: newQueryLogger(db, logger)}, nil
}

func NewInMemory() (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Every pooled connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: newQueryLogger(db, nil)}, nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// HandleEvent applies a committed event to the tables.
func (s *Store) HandleEvent(ctx context.Context, ev core.Event) error {
	switch ev.Type {
	case core.EventReservationCreated, core.EventReservationRenewed:
		if ev.Reservation == nil {
			return fmt.Errorf("%s: missing reservation", ev.Type)
		}
		return s.upsertReservation(ctx, *ev.Reservation)
	case core.EventReservationReleased, core.EventReservationExpired:
		if ev.Reservation == nil {
			return fmt.Errorf("%s: missing reservation", ev.Type)
		}
		return s.deleteReservation(ctx, ev.Reservation.ProjectID, ev.Reservation.ID)
	case core.EventConflictDetected, core.EventConflictResolved:
		if ev.Conflict == nil {
			return fmt.Errorf("%s: missing conflict", ev.Type)
		}
		return s.upsertConflict(ctx, *ev.Conflict)
	}
	return nil
}

func (s *Store) upsertReservation(ctx context.Context, r core.Reservation) error {
	patterns, err := json.Marshal(r.Patterns)
	if err != nil {
		return fmt.Errorf("marshal patterns: %w", err)
	}
	meta, err := json.Marshal(r.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reservations (project, id, requester_id, patterns_json, mode, ttl_seconds, created_at, expires_at, renew_count, metadata_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(project, id) DO UPDATE SET expires_at=excluded.expires_at, renew_count=excluded.renew_count, metadata_json=excluded.metadata_json`,
		r.ProjectID, r.ID, r.RequesterID, string(patterns), string(r.Mode), r.TTLSeconds,
		r.CreatedAt.UnixNano(), r.ExpiresAt.UnixNano(), r.RenewCount, string(meta),
	)
	if err != nil {
		return fmt.Errorf("upsert reservation: %w", err)
	}
	return nil
}

func (s *Store) deleteReservation(ctx context.Context, project, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM reservations WHERE project = ? AND id = ?`, project, id); err != nil {
		return fmt.Errorf("delete reservation: %w", err)
	}
	return nil
}

func (s *Store) upsertConflict(ctx context.Context, c core.Conflict) error {
	body, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal conflict: %w", err)
	}
	var resolvedAt sql.NullInt64
	if c.ResolvedAt != nil {
		resolvedAt = sql.NullInt64{Int64: c.ResolvedAt.UnixNano(), Valid: true}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conflicts (project, id, status, detected_at, resolved_at, requester_id, existing_reservation_id, overlapping_pattern, body_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(project, id) DO UPDATE SET status=excluded.status, resolved_at=excluded.resolved_at, body_json=excluded.body_json`,
		c.ProjectID, c.ID, string(c.Status), c.DetectedAt.UnixNano(), resolvedAt,
		c.RequesterID, c.ExistingReservation.ID, c.OverlappingPattern, string(body),
	)
	if err != nil {
		return fmt.Errorf("upsert conflict: %w", err)
	}
	return nil
}

// PruneExpired deletes reservations that expired before the cutoff.
func (s *Store) PruneExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reservations WHERE expires_at <= ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune expired: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

func (s *Store) LoadReservations(ctx context.Context) ([]core.Reservation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT project, id, requester_id, patterns_json, mode, ttl_seconds, created_at, expires_at, renew_count, metadata_json
		 FROM reservations ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("query reservations: %w", err)
	}
	defer rows.Close()

	var out []core.Reservation
	for rows.Next() {
		var (
			r                    core.Reservation
			mode, patterns, meta string
			createdAt, expiresAt int64
		)
		if err := rows.Scan(&r.ProjectID, &r.ID, &r.RequesterID, &patterns, &mode, &r.TTLSeconds, &createdAt, &expiresAt, &r.RenewCount, &meta); err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		if err := json.Unmarshal([]byte(patterns), &r.Patterns); err != nil {
			return nil, fmt.Errorf("reservation %s patterns: %w", r.ID, err)
		}
		if err := json.Unmarshal([]byte(meta), &r.Metadata); err != nil {
			return nil, fmt.Errorf("reservation %s metadata: %w", r.ID, err)
		}
		r.Mode = core.Mode(mode)
		r.CreatedAt = time.Unix(0, createdAt).UTC()
		r.ExpiresAt = time.Unix(0, expiresAt).UTC()
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (s *Store) LoadConflicts(ctx context.Context) ([]core.Conflict, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body_json FROM conflicts ORDER BY detected_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("query conflicts: %w", err)
	}
	defer rows.Close()

	var out []core.Conflict
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan conflict: %w", err)
		}
		var c core.Conflict
		if err := json.Unmarshal([]byte(body), &c); err != nil {
			return nil, fmt.Errorf("decode conflict: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

// CountConflicts returns the number of persisted conflicts with the status
// in a project.
func (s *Store) CountConflicts(ctx context.Context, project string, status core.ConflictStatus) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conflicts WHERE project = ? AND status = ?`, project, string(status),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count conflicts: %w", err)
	}
	return n, nil
}
