// Package config loads interlock settings from defaults, an optional
// interlock.yaml and INTERLOCK_* environment variables, in rising order of
// precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/mistakeknot/interlock/internal/advisor"
	"github.com/mistakeknot/interlock/internal/core"
	"github.com/mistakeknot/interlock/internal/reservation"
)

const (
	EnvPrefix  = "INTERLOCK"
	FileName   = "interlock"
	DefaultDir = "$HOME/.config/interlock"
)

// Storage drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server" yaml:"server"`
	Storage      StorageConfig      `mapstructure:"storage" yaml:"storage"`
	Reservations ReservationsConfig `mapstructure:"reservations" yaml:"reservations"`
	Advisor      AdvisorConfig      `mapstructure:"advisor" yaml:"advisor"`
	Logging      LoggingConfig      `mapstructure:"logging" yaml:"logging"`
}

type ServerConfig struct {
	Addr       string `mapstructure:"addr" yaml:"addr"`
	SocketPath string `mapstructure:"socket_path" yaml:"socket_path"`
}

type StorageConfig struct {
	Driver        string `mapstructure:"driver" yaml:"driver"`
	SQLitePath    string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	RedisAddr     string `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password" yaml:"redis_password,omitempty"`
	RedisDB       int    `mapstructure:"redis_db" yaml:"redis_db"`
	RedisPrefix   string `mapstructure:"redis_prefix" yaml:"redis_prefix"`
}

type ReservationsConfig struct {
	reservation.Config `mapstructure:",squash" yaml:",inline"`
	CleanupInterval    time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval"`
}

// HistoryEntry is the configured track record of one strategy.
type HistoryEntry struct {
	SuccessRate float64 `mapstructure:"success_rate" yaml:"success_rate"`
	SampleSize  int     `mapstructure:"sample_size" yaml:"sample_size"`
}

type AdvisorConfig struct {
	advisor.Config `mapstructure:",squash" yaml:",inline"`
	// AgentPriorities maps agent ids to tiers ("P0".."P4"). Keys are
	// lowercased by the loader.
	AgentPriorities map[string]string       `mapstructure:"agent_priorities" yaml:"agent_priorities"`
	History         map[string]HistoryEntry `mapstructure:"history" yaml:"history"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{Addr: "127.0.0.1:7338"},
		Storage: StorageConfig{
			Driver:      DriverMemory,
			SQLitePath:  "interlock.db",
			RedisAddr:   "127.0.0.1:6379",
			RedisPrefix: "interlock",
		},
		Reservations: ReservationsConfig{
			Config:          reservation.DefaultConfig(),
			CleanupInterval: reservation.DefaultCleanupInterval,
		},
		Advisor: AdvisorConfig{
			Config:          advisor.DefaultConfig(),
			AgentPriorities: map[string]string{},
			History:         map[string]HistoryEntry{},
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// SetDefaults registers every key with v so that environment overrides
// apply even when no config file exists.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.socket_path", d.Server.SocketPath)

	v.SetDefault("storage.driver", d.Storage.Driver)
	v.SetDefault("storage.sqlite_path", d.Storage.SQLitePath)
	v.SetDefault("storage.redis_addr", d.Storage.RedisAddr)
	v.SetDefault("storage.redis_password", d.Storage.RedisPassword)
	v.SetDefault("storage.redis_db", d.Storage.RedisDB)
	v.SetDefault("storage.redis_prefix", d.Storage.RedisPrefix)

	v.SetDefault("reservations.default_ttl_seconds", d.Reservations.DefaultTTLSeconds)
	v.SetDefault("reservations.max_ttl_seconds", d.Reservations.MaxTTLSeconds)
	v.SetDefault("reservations.max_renewals", d.Reservations.MaxRenewals)
	v.SetDefault("reservations.max_patterns", d.Reservations.MaxPatterns)
	v.SetDefault("reservations.cleanup_interval", d.Reservations.CleanupInterval)

	v.SetDefault("advisor.weights.priority", d.Advisor.Weights.Priority)
	v.SetDefault("advisor.weights.progress", d.Advisor.Weights.Progress)
	v.SetDefault("advisor.weights.history", d.Advisor.Weights.History)
	v.SetDefault("advisor.weights.criticality", d.Advisor.Weights.Criticality)
	v.SetDefault("advisor.weights.time_pressure", d.Advisor.Weights.TimePressure)
	v.SetDefault("advisor.auto_resolve_threshold", d.Advisor.AutoResolveThreshold)
	v.SetDefault("advisor.min_history_samples", d.Advisor.MinHistorySamples)
	v.SetDefault("advisor.agent_priorities", d.Advisor.AgentPriorities)
	v.SetDefault("advisor.history", d.Advisor.History)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// New returns a viper instance with defaults, env binding and, when path is
// empty, the interlock.yaml search path (working directory, then
// DefaultDir). A missing file is not an error; an explicit path must exist.
func New(path string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		return v, nil
	}
	v.SetConfigName(FileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath(DefaultDir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

// Load decodes and validates the settings held by v.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return cfg, nil
}

// Signals converts the configured tiers and history into a signal source.
// Call after Validate.
func (c AdvisorConfig) Signals() advisor.StaticSignals {
	sig := advisor.StaticSignals{
		Priorities: make(map[string]core.Priority, len(c.AgentPriorities)),
		History:    make(map[core.StrategyType]core.HistoryStat, len(c.History)),
	}
	for agent, tier := range c.AgentPriorities {
		if p, err := core.ParsePriority(tier); err == nil {
			sig.Priorities[agent] = p
		}
	}
	for kind, h := range c.History {
		sig.History[core.StrategyType(kind)] = core.HistoryStat{SuccessRate: h.SuccessRate, SampleSize: h.SampleSize}
	}
	return sig
}
