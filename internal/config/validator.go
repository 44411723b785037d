package config

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/mistakeknot/interlock/internal/core"
	"github.com/mistakeknot/interlock/internal/logging"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "reservations.max_ttl_seconds")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidDrivers returns the accepted storage drivers.
func ValidDrivers() []string {
	return []string{DriverMemory, DriverSQLite, DriverRedis}
}

var strategyNames = []string{
	string(core.StrategyWait),
	string(core.StrategySplit),
	string(core.StrategyTransfer),
	string(core.StrategyCoordinate),
	string(core.StrategyEscalate),
	string(core.StrategyShare),
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError
	errs = append(errs, c.validateServer()...)
	errs = append(errs, c.validateStorage()...)
	errs = append(errs, c.validateReservations()...)
	errs = append(errs, c.validateAdvisor()...)
	errs = append(errs, c.validateLogging()...)
	return errs
}

func (c *Config) validateServer() []ValidationError {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return []ValidationError{{Field: "server.addr", Value: c.Server.Addr, Message: "must not be empty"}}
	}
	return nil
}

func (c *Config) validateStorage() []ValidationError {
	var errs []ValidationError
	s := c.Storage
	switch s.Driver {
	case DriverMemory:
	case DriverSQLite:
		if strings.TrimSpace(s.SQLitePath) == "" {
			errs = append(errs, ValidationError{Field: "storage.sqlite_path", Value: s.SQLitePath, Message: "required for the sqlite driver"})
		}
	case DriverRedis:
		if strings.TrimSpace(s.RedisAddr) == "" {
			errs = append(errs, ValidationError{Field: "storage.redis_addr", Value: s.RedisAddr, Message: "required for the redis driver"})
		}
		if s.RedisDB < 0 {
			errs = append(errs, ValidationError{Field: "storage.redis_db", Value: s.RedisDB, Message: "must not be negative"})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "storage.driver",
			Value:   s.Driver,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidDrivers(), ", ")),
		})
	}
	return errs
}

func (c *Config) validateReservations() []ValidationError {
	var errs []ValidationError
	r := c.Reservations
	if r.MaxTTLSeconds < core.MinTTLSeconds {
		errs = append(errs, ValidationError{Field: "reservations.max_ttl_seconds", Value: r.MaxTTLSeconds, Message: "must be at least 1"})
	}
	if r.DefaultTTLSeconds < core.MinTTLSeconds || r.DefaultTTLSeconds > r.MaxTTLSeconds {
		errs = append(errs, ValidationError{Field: "reservations.default_ttl_seconds", Value: r.DefaultTTLSeconds, Message: "must be between 1 and max_ttl_seconds"})
	}
	if r.MaxRenewals < 0 {
		errs = append(errs, ValidationError{Field: "reservations.max_renewals", Value: r.MaxRenewals, Message: "must not be negative"})
	}
	if r.MaxPatterns < 1 {
		errs = append(errs, ValidationError{Field: "reservations.max_patterns", Value: r.MaxPatterns, Message: "must be at least 1"})
	}
	if r.CleanupInterval <= 0 {
		errs = append(errs, ValidationError{Field: "reservations.cleanup_interval", Value: r.CleanupInterval, Message: "must be positive"})
	}
	return errs
}

func (c *Config) validateAdvisor() []ValidationError {
	var errs []ValidationError
	a := c.Advisor
	w := a.Weights
	for name, v := range map[string]float64{
		"priority": w.Priority, "progress": w.Progress, "history": w.History,
		"criticality": w.Criticality, "time_pressure": w.TimePressure,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, ValidationError{Field: "advisor.weights." + name, Value: v, Message: "must be between 0 and 1"})
		}
	}
	if sum := w.Priority + w.Progress + w.History + w.Criticality + w.TimePressure; math.Abs(sum-1) > 0.01 {
		errs = append(errs, ValidationError{Field: "advisor.weights", Value: sum, Message: "must sum to 1"})
	}
	if a.AutoResolveThreshold < 0 || a.AutoResolveThreshold > 100 {
		errs = append(errs, ValidationError{Field: "advisor.auto_resolve_threshold", Value: a.AutoResolveThreshold, Message: "must be between 0 and 100"})
	}
	if a.MinHistorySamples < 0 {
		errs = append(errs, ValidationError{Field: "advisor.min_history_samples", Value: a.MinHistorySamples, Message: "must not be negative"})
	}
	for agent, tier := range a.AgentPriorities {
		if _, err := core.ParsePriority(tier); err != nil {
			errs = append(errs, ValidationError{Field: "advisor.agent_priorities." + agent, Value: tier, Message: "must be one of P0-P4"})
		}
	}
	for kind, h := range a.History {
		field := "advisor.history." + kind
		if !slices.Contains(strategyNames, kind) {
			errs = append(errs, ValidationError{Field: field, Value: kind, Message: "unknown strategy"})
			continue
		}
		if h.SuccessRate < 0 || h.SuccessRate > 1 {
			errs = append(errs, ValidationError{Field: field + ".success_rate", Value: h.SuccessRate, Message: "must be between 0 and 1"})
		}
		if h.SampleSize < 0 {
			errs = append(errs, ValidationError{Field: field + ".sample_size", Value: h.SampleSize, Message: "must not be negative"})
		}
	}
	slices.SortFunc(errs, func(a, b ValidationError) int { return strings.Compare(a.Field, b.Field) })
	return errs
}

func (c *Config) validateLogging() []ValidationError {
	var errs []ValidationError
	if c.Logging.Level != "" && !slices.Contains(logging.ValidLevels(), strings.ToLower(c.Logging.Level)) {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(logging.ValidLevels(), ", ")),
		})
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", logging.FormatJSON, logging.FormatText:
	default:
		errs = append(errs, ValidationError{Field: "logging.format", Value: c.Logging.Format, Message: "must be json or text"})
	}
	return errs
}
