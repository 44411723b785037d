package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"
)

const readHeaderTimeout = 10 * time.Second

type Config struct {
	Addr       string
	SocketPath string
	Handler    http.Handler
	Logger     *slog.Logger
}

// Server serves one handler on a TCP address and, optionally, a unix
// socket.
type Server struct {
	cfg    Config
	logger *slog.Logger
	http   *http.Server
	ln     net.Listener
	unix   *http.Server
	unixLn net.Listener
}

// New binds the listeners so that Addr reports the real port before Start.
func New(cfg Config) (*Server, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("addr required")
	}
	h := cfg.Handler
	if h == nil {
		h = http.NewServeMux()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	errLog := slog.NewLogLogger(logger.Handler(), slog.LevelWarn)

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.Addr, err)
	}
	s := &Server{
		cfg:    cfg,
		logger: logger,
		http:   &http.Server{Handler: h, ReadHeaderTimeout: readHeaderTimeout, ErrorLog: errLog},
		ln:     ln,
	}

	if cfg.SocketPath != "" {
		// Remove stale socket file from previous run
		if err := os.Remove(cfg.SocketPath); err != nil && !os.IsNotExist(err) {
			ln.Close()
			return nil, fmt.Errorf("remove stale socket: %w", err)
		}
		uln, err := net.Listen("unix", cfg.SocketPath)
		if err != nil {
			ln.Close()
			return nil, fmt.Errorf("unix listen: %w", err)
		}
		if err := os.Chmod(cfg.SocketPath, 0660); err != nil {
			ln.Close()
			uln.Close()
			return nil, fmt.Errorf("chmod socket: %w", err)
		}
		s.unixLn = uln
		s.unix = &http.Server{Handler: h, ReadHeaderTimeout: readHeaderTimeout, ErrorLog: errLog}
	}

	return s, nil
}

// Start serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	if s.unixLn != nil {
		go func() {
			if err := s.unix.Serve(s.unixLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("unix socket server stopped", "socket", s.cfg.SocketPath, "error", err)
			}
		}()
	}
	s.logger.Info("http server listening", "addr", s.Addr(), "socket", s.cfg.SocketPath)
	if err := s.http.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	var firstErr error

	if s.unix != nil {
		if err := s.unix.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.cfg.SocketPath != "" {
		os.Remove(s.cfg.SocketPath)
	}

	if err := s.http.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	// Listeners bound by New are only owned by http.Server once Serve runs.
	_ = s.ln.Close()
	if s.unixLn != nil {
		_ = s.unixLn.Close()
	}

	return firstErr
}

// Addr returns the bound TCP address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// SocketPath returns the configured socket path, or empty if not configured.
func (s *Server) SocketPath() string {
	return s.cfg.SocketPath
}
