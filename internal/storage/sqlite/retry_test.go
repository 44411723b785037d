package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"
)

func noSleep(context.Context, time.Duration) error { return nil }

func TestRetry(t *testing.T) {
	locked := errors.New("database is locked")
	busy := errors.New("sqlite: step: SQLITE_BUSY")
	tests := []struct {
		name      string
		failures  int
		err       error
		wantCalls int
		wantErr   bool
	}{
		{"succeeds immediately", 0, nil, 1, false},
		{"recovers from lock", 3, locked, 4, false},
		{"recovers from busy", 2, busy, 3, false},
		{"no retry on other errors", 100, errors.New("unique constraint violated"), 1, true},
		{"exhausts retries", 100, locked, 1 + DefaultRetryConfig().MaxRetries, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := retry(context.Background(), DefaultRetryConfig(), func() error {
				calls++
				if calls <= tt.failures {
					return tt.err
				}
				return nil
			}, noSleep)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if calls != tt.wantCalls {
				t.Fatalf("calls = %d, want %d", calls, tt.wantCalls)
			}
		})
	}
}

func TestRetryBackoffAndJitter(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 4, BaseDelay: 10 * time.Millisecond, JitterPct: 0.25}
	var sleeps []time.Duration
	_ = retry(context.Background(), cfg, func() error {
		return errors.New("database is locked")
	}, func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	})
	if len(sleeps) != cfg.MaxRetries {
		t.Fatalf("expected %d sleeps, got %d", cfg.MaxRetries, len(sleeps))
	}
	for i, d := range sleeps {
		base := cfg.BaseDelay * (1 << i)
		if hi := base + time.Duration(float64(base)*cfg.JitterPct); d < base || d > hi {
			t.Errorf("sleep[%d] = %v, expected [%v, %v]", i, d, base, hi)
		}
	}
}

func TestRetryStopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := RetryOnDBLock(ctx, DefaultRetryConfig(), func() error {
		calls++
		return errors.New("database is locked")
	})
	if err == nil || calls != 1 {
		t.Fatalf("expected one call and the lock error, got calls=%d err=%v", calls, err)
	}
}
