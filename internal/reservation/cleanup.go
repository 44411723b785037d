package reservation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mistakeknot/interlock/internal/core"
)

// DefaultCleanupInterval is how often expired leases are swept.
const DefaultCleanupInterval = 30 * time.Second

// Sweeper removes expired reservations.
type Sweeper interface {
	Sweep(ctx context.Context) ([]core.Reservation, error)
}

// Cleaner runs a background goroutine that periodically sweeps expired
// reservations. Start and Stop may be called any number of times.
type Cleaner struct {
	store    Sweeper
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewCleaner creates a Cleaner. Call Start to begin sweeping.
func NewCleaner(store Sweeper, interval time.Duration, logger *slog.Logger) *Cleaner {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cleaner{store: store, interval: interval, logger: logger}
}

// Start launches the sweep loop. It is a no-op when already running.
func (c *Cleaner) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel, c.done = cancel, done

	go func() {
		defer close(done)

		c.runSweep(ctx)

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.runSweep(ctx)
			}
		}
	}()
}

// Stop cancels the sweep loop and waits for it to exit. It is a no-op when
// not running.
func (c *Cleaner) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the sweep loop is active.
func (c *Cleaner) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil
}

func (c *Cleaner) runSweep(ctx context.Context) {
	swept, err := c.store.Sweep(ctx)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Error("cleanup sweep failed", "error", err)
		}
		return
	}
	if len(swept) == 0 {
		return
	}
	c.logger.Info("cleanup swept expired reservations", "count", len(swept))
}
