// Package advisor proposes ranked, confidence scored strategies for an open
// reservation conflict.
//
// Scoring itself (Evaluate) is a pure function of the conflict and the
// externally supplied signals. Advisor wraps it with signal lookup and
// rationale rendering so the reservation store can call a single method.
package advisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/mistakeknot/interlock/internal/core"
	"github.com/mistakeknot/interlock/internal/rationale"
)

// SignalSource supplies priorities, holder progress and strategy history
// for a conflict. Implementations must not call back into the store.
type SignalSource interface {
	SignalsFor(ctx context.Context, c core.Conflict) (core.Signals, error)
}

// SignalSourceFunc adapts a function to SignalSource.
type SignalSourceFunc func(ctx context.Context, c core.Conflict) (core.Signals, error)

func (f SignalSourceFunc) SignalsFor(ctx context.Context, c core.Conflict) (core.Signals, error) {
	return f(ctx, c)
}

type Advisor struct {
	cfg     Config
	signals SignalSource
	now     func() time.Time
	logger  *slog.Logger
}

type Option func(*Advisor)

func WithSignals(src SignalSource) Option {
	return func(a *Advisor) { a.signals = src }
}

func WithClock(now func() time.Time) Option {
	return func(a *Advisor) { a.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Advisor) { a.logger = l }
}

func New(cfg Config, opts ...Option) *Advisor {
	a := &Advisor{
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Advise returns ranked strategies with rendered rationale. A failing signal
// source degrades to empty signals rather than failing the denial response.
func (a *Advisor) Advise(ctx context.Context, c core.Conflict, blocked []string) []core.ResolutionStrategy {
	var sig core.Signals
	if a.signals != nil {
		s, err := a.signals.SignalsFor(ctx, c)
		if err != nil {
			a.logger.Warn("advisor: signal lookup failed", "conflict_id", c.ID, "error", err)
		} else {
			sig = s
		}
	}

	strategies := Evaluate(a.cfg, Input{Conflict: c, Signals: sig, Now: a.now(), Blocked: blocked})
	for i := range strategies {
		if i == 0 {
			strategies[i].Rationale = rationale.Generate(strategies[i], sig).FullText
			continue
		}
		strategies[i].Rationale = rationale.Alternative(strategies[i])
	}
	return strategies
}

// StaticSignals resolves signals from configured agent tiers and strategy
// history, letting per-lease metadata override them.
type StaticSignals struct {
	Priorities map[string]core.Priority
	History    map[core.StrategyType]core.HistoryStat
}

func (s StaticSignals) SignalsFor(_ context.Context, c core.Conflict) (core.Signals, error) {
	var sig core.Signals

	if c.RequesterPriority != nil {
		p := *c.RequesterPriority
		sig.RequesterPriority = &p
	} else if p, ok := s.Priorities[c.RequesterID]; ok {
		sig.RequesterPriority = &p
	}

	holder := c.ExistingReservation
	if holder.Metadata.Priority != nil {
		p := *holder.Metadata.Priority
		sig.HolderPriority = &p
	} else if p, ok := s.Priorities[holder.RequesterID]; ok {
		sig.HolderPriority = &p
	}

	if holder.Metadata.Progress != nil {
		prog := &core.Progress{Percent: *holder.Metadata.Progress}
		if holder.Metadata.ETASeconds != nil {
			d := time.Duration(*holder.Metadata.ETASeconds) * time.Second
			prog.Remaining = &d
		}
		sig.HolderProgress = prog
	}

	if len(s.History) > 0 {
		sig.History = make(map[core.StrategyType]core.HistoryStat, len(s.History))
		for k, v := range s.History {
			sig.History[k] = v
		}
	}
	return sig, nil
}
