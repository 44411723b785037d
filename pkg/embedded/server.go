// Package embedded assembles a complete interlock server for in-process use.
package embedded

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mistakeknot/interlock/internal/advisor"
	"github.com/mistakeknot/interlock/internal/config"
	httpapi "github.com/mistakeknot/interlock/internal/http"
	"github.com/mistakeknot/interlock/internal/logging"
	"github.com/mistakeknot/interlock/internal/reservation"
	"github.com/mistakeknot/interlock/internal/server"
	"github.com/mistakeknot/interlock/internal/storage"
	"github.com/mistakeknot/interlock/internal/storage/redisstore"
	"github.com/mistakeknot/interlock/internal/storage/sqlite"
	"github.com/mistakeknot/interlock/internal/ws"
)

const shutdownTimeout = 5 * time.Second

type pruner interface {
	PruneExpired(ctx context.Context, before time.Time) (int64, error)
}

// Option customizes assembly.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	now     func() time.Time
	backend storage.Backend
}

// WithLogger replaces the logger built from the logging section.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock sets the time source shared by the store and the advisor.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithBackend overrides the backend chosen by storage.driver.
func WithBackend(b storage.Backend) Option {
	return func(o *options) { o.backend = b }
}

// Server is an interlock server running in the current process.
type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *reservation.Store
	hub     *ws.Hub
	backend storage.Backend
	cleaner *reservation.Cleaner
	http    *server.Server

	mu      sync.Mutex
	started bool
}

// New builds the store, restores persisted state and binds the listeners.
// The server does not accept requests until Start or Serve.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, config.ValidationErrors(errs)
	}
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		var err error
		logger, err = logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
		if err != nil {
			return nil, fmt.Errorf("init logger: %w", err)
		}
	}

	backend := o.backend
	if backend == nil {
		var err error
		backend, err = openBackend(ctx, cfg.Storage, logger)
		if err != nil {
			return nil, err
		}
	}

	advOpts := []advisor.Option{advisor.WithSignals(cfg.Advisor.Signals()), advisor.WithLogger(logger)}
	storeOpts := []reservation.Option{
		reservation.WithConfig(cfg.Reservations.Config),
		reservation.WithLogger(logger),
	}
	if o.now != nil {
		advOpts = append(advOpts, advisor.WithClock(o.now))
		storeOpts = append(storeOpts, reservation.WithClock(o.now))
	}
	storeOpts = append(storeOpts, reservation.WithAdvisor(advisor.New(cfg.Advisor.Config, advOpts...)))
	store := reservation.New(storeOpts...)

	s := &Server{cfg: cfg, logger: logger, store: store, backend: backend}
	if backend != nil {
		if err := s.restore(ctx, o.now); err != nil {
			_ = backend.Close()
			return nil, err
		}
		store.Subscribe(backend)
		store.Tracker().Subscribe(backend)
	}

	s.hub = ws.NewHub(logger)
	store.Subscribe(s.hub)
	store.Tracker().Subscribe(s.hub)

	s.cleaner = reservation.NewCleaner(store, cfg.Reservations.CleanupInterval, logger)

	svc := httpapi.NewService(store).WithLogger(logger)
	router := httpapi.NewRouter(svc, s.hub.Handler(), httpapi.RequestLogger(logger))
	srv, err := server.New(server.Config{
		Addr:       cfg.Server.Addr,
		SocketPath: cfg.Server.SocketPath,
		Handler:    router,
		Logger:     logger,
	})
	if err != nil {
		if backend != nil {
			_ = backend.Close()
		}
		return nil, fmt.Errorf("init server: %w", err)
	}
	s.http = srv
	return s, nil
}

func openBackend(ctx context.Context, sc config.StorageConfig, logger *slog.Logger) (storage.Backend, error) {
	switch sc.Driver {
	case config.DriverMemory:
		return nil, nil
	case config.DriverSQLite:
		if dir := filepath.Dir(sc.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
		db, err := sqlite.New(sc.SQLitePath, logger)
		if err != nil {
			return nil, fmt.Errorf("init sqlite store: %w", err)
		}
		return sqlite.NewResilient(db), nil
	case config.DriverRedis:
		rs := redisstore.New(&redis.Options{Addr: sc.RedisAddr, Password: sc.RedisPassword, DB: sc.RedisDB}, sc.RedisPrefix)
		if err := rs.Ping(ctx); err != nil {
			_ = rs.Close()
			return nil, fmt.Errorf("connect redis %s: %w", sc.RedisAddr, err)
		}
		return rs, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", sc.Driver)
	}
}

func (s *Server) restore(ctx context.Context, now func() time.Time) error {
	if now == nil {
		now = time.Now
	}
	if p, ok := s.backend.(pruner); ok {
		n, err := p.PruneExpired(ctx, now().UTC())
		if err != nil {
			return fmt.Errorf("prune expired: %w", err)
		}
		if n > 0 {
			s.logger.Info("pruned expired reservations", "count", n)
		}
	}
	rs, err := s.backend.LoadReservations(ctx)
	if err != nil {
		return fmt.Errorf("load reservations: %w", err)
	}
	cs, err := s.backend.LoadConflicts(ctx)
	if err != nil {
		return fmt.Errorf("load conflicts: %w", err)
	}
	restored := s.store.Restore(rs)
	conflicts := s.store.Tracker().Restore(cs)
	s.logger.Info("restored state", "reservations", restored, "conflicts", conflicts, "driver", s.cfg.Storage.Driver)
	return nil
}

// Serve starts the expiry sweeper and blocks until the server shuts down.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("server already started")
	}
	s.started = true
	s.mu.Unlock()

	s.cleaner.Start(ctx)
	return s.http.Start()
}

// Start runs Serve in a goroutine.
func (s *Server) Start(ctx context.Context) {
	go func() {
		if err := s.Serve(ctx); err != nil {
			s.logger.Error("interlock server stopped", "error", err)
		}
	}()
}

// Shutdown stops accepting requests, stops the sweeper and closes the
// backend.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	s.cleaner.Stop()
	if s.backend != nil {
		if cerr := s.backend.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// Stop shuts down with a fixed timeout.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Shutdown(ctx)
}

// Addr returns the bound TCP address.
func (s *Server) Addr() string {
	return s.http.Addr()
}

// URL returns the base URL for the server
func (s *Server) URL() string {
	return "http://" + s.http.Addr()
}

// Store returns the reservation store for direct access.
func (s *Server) Store() *reservation.Store {
	return s.store
}

// Hub returns the event stream hub.
func (s *Server) Hub() *ws.Hub {
	return s.hub
}
