package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mistakeknot/interlock/internal/core"
)

func TestValidationErrors_Error(t *testing.T) {
	t.Run("empty errors", func(t *testing.T) {
		var errs ValidationErrors
		if errs.Error() != "" {
			t.Errorf("Error() for empty = %q, want empty string", errs.Error())
		}
	})

	t.Run("single error", func(t *testing.T) {
		errs := ValidationErrors{{Field: "server.addr", Value: "", Message: "must not be empty"}}
		expected := "server.addr: must not be empty (got: )"
		if errs.Error() != expected {
			t.Errorf("Error() = %q, want %q", errs.Error(), expected)
		}
	})

	t.Run("multiple errors", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "field1", Value: "bad", Message: "is invalid"},
			{Field: "field2", Value: -1, Message: "must be positive"},
		}
		result := errs.Error()
		if !strings.Contains(result, "2 validation errors") {
			t.Errorf("Error() should mention 2 errors: %s", result)
		}
	})
}

func TestConfig_Validate_DefaultConfig(t *testing.T) {
	if errs := Default().Validate(); len(errs) != 0 {
		t.Fatalf("default config should be valid, got %v", errs)
	}
}

func TestConfig_Validate_Fields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"empty addr", func(c *Config) { c.Server.Addr = " " }, "server.addr"},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "etcd" }, "storage.driver"},
		{"sqlite without path", func(c *Config) { c.Storage.Driver = DriverSQLite; c.Storage.SQLitePath = "" }, "storage.sqlite_path"},
		{"redis without addr", func(c *Config) { c.Storage.Driver = DriverRedis; c.Storage.RedisAddr = "" }, "storage.redis_addr"},
		{"default ttl above max", func(c *Config) { c.Reservations.DefaultTTLSeconds = 7200 }, "reservations.default_ttl_seconds"},
		{"negative renewals", func(c *Config) { c.Reservations.MaxRenewals = -1 }, "reservations.max_renewals"},
		{"zero patterns", func(c *Config) { c.Reservations.MaxPatterns = 0 }, "reservations.max_patterns"},
		{"zero cleanup interval", func(c *Config) { c.Reservations.CleanupInterval = 0 }, "reservations.cleanup_interval"},
		{"threshold above 100", func(c *Config) { c.Advisor.AutoResolveThreshold = 101 }, "advisor.auto_resolve_threshold"},
		{"bad tier", func(c *Config) { c.Advisor.AgentPriorities["agent-1"] = "urgent" }, "advisor.agent_priorities.agent-1"},
		{"unknown strategy", func(c *Config) { c.Advisor.History["retry"] = HistoryEntry{} }, "advisor.history.retry"},
		{"rate above 1", func(c *Config) { c.Advisor.History["wait"] = HistoryEntry{SuccessRate: 1.5} }, "advisor.history.wait.success_rate"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			errs := cfg.Validate()
			if len(errs) != 1 {
				t.Fatalf("expected 1 error, got %v", errs)
			}
			if errs[0].Field != tt.field {
				t.Errorf("field = %q, want %q", errs[0].Field, tt.field)
			}
		})
	}
}

func TestConfig_Validate_WeightsSum(t *testing.T) {
	cfg := Default()
	cfg.Advisor.Weights.Priority = 0.5
	errs := cfg.Validate()
	if len(errs) != 1 || errs[0].Field != "advisor.weights" {
		t.Fatalf("expected weights sum error, got %v", errs)
	}
}

func TestNewWithoutFileUsesDefaults(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("HOME", t.TempDir())

	v, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:7338" || cfg.Storage.Driver != DriverMemory {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Reservations.DefaultTTLSeconds != core.DefaultTTLSeconds || cfg.Reservations.CleanupInterval != 30*time.Second {
		t.Fatalf("unexpected reservation defaults: %+v", cfg.Reservations)
	}
	if cfg.Advisor.AutoResolveThreshold != 80 || cfg.Advisor.Weights.Priority != 0.25 {
		t.Fatalf("unexpected advisor defaults: %+v", cfg.Advisor.Config)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "interlock.yaml")
	yaml := `
server:
  addr: ":9000"
storage:
  driver: sqlite
  sqlite_path: /tmp/interlock-test.db
reservations:
  max_ttl_seconds: 1800
  cleanup_interval: 5s
advisor:
  agent_priorities:
    lead: P0
    intern: p3
  history:
    wait:
      success_rate: 0.9
      sample_size: 20
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(yaml), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("INTERLOCK_LOGGING_FORMAT", "text")
	t.Setenv("INTERLOCK_RESERVATIONS_MAX_RENEWALS", "3")

	v, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":9000" || cfg.Storage.Driver != DriverSQLite {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Reservations.MaxTTLSeconds != 1800 || cfg.Reservations.CleanupInterval != 5*time.Second {
		t.Fatalf("reservation values not applied: %+v", cfg.Reservations)
	}
	if cfg.Reservations.DefaultTTLSeconds != 300 {
		t.Fatalf("unset key should keep default, got %d", cfg.Reservations.DefaultTTLSeconds)
	}
	if cfg.Reservations.MaxRenewals != 3 || cfg.Logging.Format != "text" {
		t.Fatalf("env overrides not applied: renewals=%d format=%s", cfg.Reservations.MaxRenewals, cfg.Logging.Format)
	}

	sig := cfg.Advisor.Signals()
	if sig.Priorities["lead"] != core.P0 || sig.Priorities["intern"] != core.P3 {
		t.Fatalf("unexpected priorities: %v", sig.Priorities)
	}
	if h := sig.History[core.StrategyWait]; h.SuccessRate != 0.9 || h.SampleSize != 20 {
		t.Fatalf("unexpected history: %+v", h)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("storage:\n  driver: etcd\nlogging:\n  level: loud\n"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	v, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = Load(v)
	verrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T: %v", err, err)
	}
	if len(verrs) != 2 {
		t.Fatalf("expected 2 errors, got %v", verrs)
	}
}

func TestNewMissingExplicitFile(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}
