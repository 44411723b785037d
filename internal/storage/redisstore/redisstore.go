// Package redisstore persists committed reservation and conflict state in
// Redis. Reservations live in one hash each, indexed per project by a sorted
// set keyed on expiry so stale leases can be pruned without a scan.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mistakeknot/interlock/internal/core"
	"github.com/mistakeknot/interlock/internal/storage"
)

// DefaultPrefix namespaces keys when none is configured.
const DefaultPrefix = "interlock"

var _ storage.Backend = (*Store)(nil)

// Store is a storage.Backend on Redis. It is safe for concurrent use.
type Store struct {
	rdb    *redis.Client
	prefix string
}

// New connects with the given options. An empty prefix uses DefaultPrefix.
func New(opts *redis.Options, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{rdb: redis.NewClient(opts), prefix: prefix}
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

func (s *Store) HandleEvent(ctx context.Context, ev core.Event) error {
	switch ev.Type {
	case core.EventReservationCreated, core.EventReservationRenewed:
		if ev.Reservation == nil {
			return fmt.Errorf("%s: missing reservation", ev.Type)
		}
		return s.putReservation(ctx, *ev.Reservation)
	case core.EventReservationReleased, core.EventReservationExpired:
		if ev.Reservation == nil {
			return fmt.Errorf("%s: missing reservation", ev.Type)
		}
		return s.deleteReservation(ctx, ev.Reservation.ProjectID, ev.Reservation.ID)
	case core.EventConflictDetected, core.EventConflictResolved:
		if ev.Conflict == nil {
			return fmt.Errorf("%s: missing conflict", ev.Type)
		}
		return s.putConflict(ctx, *ev.Conflict)
	}
	return nil
}

func (s *Store) putReservation(ctx context.Context, r core.Reservation) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal reservation: %w", err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, ProjectsKey(s.prefix), r.ProjectID)
		p.HSet(ctx, ReservationKey(s.prefix, r.ProjectID, r.ID),
			"requester_id", r.RequesterID,
			"mode", string(r.Mode),
			"expires_at", r.ExpiresAt.UnixMilli(),
			"body", string(body),
		)
		p.ZAdd(ctx, ExpiryKey(s.prefix, r.ProjectID), redis.Z{Score: float64(r.ExpiresAt.UnixMilli()), Member: r.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("write reservation %s: %w", r.ID, err)
	}
	return nil
}

func (s *Store) deleteReservation(ctx context.Context, project, id string) error {
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, ReservationKey(s.prefix, project, id))
		p.ZRem(ctx, ExpiryKey(s.prefix, project), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete reservation %s: %w", id, err)
	}
	return nil
}

func (s *Store) putConflict(ctx context.Context, c core.Conflict) error {
	body, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal conflict: %w", err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, ProjectsKey(s.prefix), c.ProjectID)
		p.Set(ctx, ConflictKey(s.prefix, c.ProjectID, c.ID), body, 0)
		p.ZAdd(ctx, ConflictIndexKey(s.prefix, c.ProjectID), redis.Z{Score: float64(c.DetectedAt.UnixMilli()), Member: c.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("write conflict %s: %w", c.ID, err)
	}
	return nil
}

// PruneExpired removes reservations whose expiry is at or before the cutoff.
func (s *Store) PruneExpired(ctx context.Context, before time.Time) (int64, error) {
	projects, err := s.rdb.SMembers(ctx, ProjectsKey(s.prefix)).Result()
	if err != nil {
		return 0, fmt.Errorf("list projects: %w", err)
	}
	var n int64
	cutoff := strconv.FormatInt(before.UnixMilli(), 10)
	for _, project := range projects {
		ids, err := s.rdb.ZRangeByScore(ctx, ExpiryKey(s.prefix, project), &redis.ZRangeBy{Min: "-inf", Max: cutoff}).Result()
		if err != nil {
			return n, fmt.Errorf("expired in %s: %w", project, err)
		}
		for _, id := range ids {
			if err := s.deleteReservation(ctx, project, id); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}

func (s *Store) LoadReservations(ctx context.Context) ([]core.Reservation, error) {
	projects, err := s.rdb.SMembers(ctx, ProjectsKey(s.prefix)).Result()
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	var out []core.Reservation
	for _, project := range projects {
		ids, err := s.rdb.ZRange(ctx, ExpiryKey(s.prefix, project), 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("reservations in %s: %w", project, err)
		}
		for _, id := range ids {
			body, err := s.rdb.HGet(ctx, ReservationKey(s.prefix, project, id), "body").Result()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("read reservation %s: %w", id, err)
			}
			var r core.Reservation
			if err := json.Unmarshal([]byte(body), &r); err != nil {
				return nil, fmt.Errorf("decode reservation %s: %w", id, err)
			}
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) LoadConflicts(ctx context.Context) ([]core.Conflict, error) {
	projects, err := s.rdb.SMembers(ctx, ProjectsKey(s.prefix)).Result()
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	var out []core.Conflict
	for _, project := range projects {
		ids, err := s.rdb.ZRange(ctx, ConflictIndexKey(s.prefix, project), 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("conflicts in %s: %w", project, err)
		}
		for _, id := range ids {
			body, err := s.rdb.Get(ctx, ConflictKey(s.prefix, project, id)).Result()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("read conflict %s: %w", id, err)
			}
			var c core.Conflict
			if err := json.Unmarshal([]byte(body), &c); err != nil {
				return nil, fmt.Errorf("decode conflict %s: %w", id, err)
			}
			out = append(out, c)
		}
	}
	return out, nil
}
