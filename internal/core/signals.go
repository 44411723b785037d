package core

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Priority is an agent priority tier; P0 is the most urgent.
type Priority int

const (
	P0 Priority = iota
	P1
	P2
	P3
	P4
)

func (p Priority) Valid() bool { return p >= P0 && p <= P4 }

func (p Priority) String() string { return fmt.Sprintf("P%d", int(p)) }

// ParsePriority accepts "P0".."P4" (case insensitive) or "0".."4".
func ParsePriority(s string) (Priority, error) {
	s = strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(s)), "P")
	if len(s) != 1 || s[0] < '0' || s[0] > '4' {
		return 0, Invalid("priority", "%q is not one of P0-P4", s)
	}
	return Priority(s[0] - '0'), nil
}

// Outranks reports whether p is strictly more urgent than other.
func (p Priority) Outranks(other Priority) bool { return p < other }

// Progress is a holder's completion estimate.
type Progress struct {
	Percent   float64        `json:"percent"`
	Remaining *time.Duration `json:"remaining,omitempty"`
}

// HistoryStat is the observed success of one strategy type.
type HistoryStat struct {
	SuccessRate float64 `json:"success_rate"`
	SampleSize  int     `json:"sample_size"`
}

// Signals are the externally supplied inputs to conflict scoring. Nil fields
// mean the signal is unavailable.
type Signals struct {
	RequesterPriority *Priority                   `json:"requester_priority,omitempty"`
	HolderPriority    *Priority                   `json:"holder_priority,omitempty"`
	HolderProgress    *Progress                   `json:"holder_progress,omitempty"`
	History           map[StrategyType]HistoryStat `json:"history,omitempty"`
}

// EventHandler consumes committed events. Handlers run outside any store
// lock; returned errors are logged by the emitter and never roll back the
// mutation.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev Event) error
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(ctx context.Context, ev Event) error

func (f EventHandlerFunc) HandleEvent(ctx context.Context, ev Event) error { return f(ctx, ev) }
