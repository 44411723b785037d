// Package rationale renders human readable explanations for resolution
// strategies. Everything here is a pure formatting function.
package rationale

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/mistakeknot/interlock/internal/core"
)

const (
	strongFactor = 70
	weakFactor   = 30
)

// Explanation is the rendered rationale for one strategy.
type Explanation struct {
	Summary     string
	Details     []string
	Evidence    []string
	RiskSummary string
	FullText    string
}

// Generate explains why a strategy was recommended.
func Generate(s core.ResolutionStrategy, sig core.Signals) Explanation {
	e := Explanation{
		Summary:     fmt.Sprintf("Recommending %s strategy (confidence: %d/100)", label(s.Type), s.Confidence),
		Evidence:    evidence(s.Breakdown),
		RiskSummary: RiskSummary(s.Risks),
	}

	e.Details = append(e.Details, opening(s))
	e.Details = append(e.Details, prioritySentence(sig))
	e.Details = append(e.Details, progressSentence(sig.HolderProgress))
	e.Details = append(e.Details, historySentence(s.Type, sig.History))
	if s.AutoResolutionEligible {
		e.Details = append(e.Details, "Confidence is high enough for automatic resolution.")
	}

	var b strings.Builder
	b.WriteString(e.Summary)
	b.WriteString("\n\n")
	b.WriteString(strings.Join(e.Details, " "))
	if len(e.Evidence) > 0 {
		b.WriteString("\n\nEvidence:")
		for _, line := range e.Evidence {
			b.WriteString("\n- ")
			b.WriteString(line)
		}
	}
	b.WriteString("\n\nRisk: ")
	b.WriteString(e.RiskSummary)
	e.FullText = b.String()
	return e
}

// Short is a one line rendering suitable for logs and CLI output.
func Short(s core.ResolutionStrategy) string {
	out := fmt.Sprintf("%s (%d/100)", label(s.Type), s.Confidence)
	switch s.Type {
	case core.StrategyWait:
		if s.Params.EstimatedWait > 0 {
			out += ": wait ~" + s.Params.EstimatedWait.Round(time.Second).String()
		}
	case core.StrategyTransfer:
		out += fmt.Sprintf(": %s -> %s", s.Params.FromAgent, s.Params.ToAgent)
	case core.StrategySplit:
		out += fmt.Sprintf(": %d now, %d deferred", len(s.Params.RequesterPatterns), len(s.Params.DeferredPatterns))
	case core.StrategyCoordinate:
		out += ": turns of " + s.Params.TurnDuration.String()
	case core.StrategyShare:
		out += ": request shared mode"
	case core.StrategyEscalate:
		out += ": human decision"
	}
	if s.AutoResolutionEligible {
		out += " [auto]"
	}
	return out
}

// Alternative describes a non-primary candidate in one line.
func Alternative(s core.ResolutionStrategy) string {
	return fmt.Sprintf("Alternative: %s strategy (confidence: %d/100). %s", label(s.Type), s.Confidence, RiskSummary(s.Risks))
}

// RiskSummary reduces a risk list to its most severe entry.
func RiskSummary(risks []core.Risk) string {
	var top *core.Risk
	for i := range risks {
		if top == nil || risks[i].Severity.Rank() > top.Severity.Rank() {
			top = &risks[i]
		}
	}
	if top == nil {
		return "No significant risks identified."
	}
	return fmt.Sprintf("Highest risk (%s): %s.", strings.ToUpper(string(top.Severity)), top.Description)
}

func label(t core.StrategyType) string {
	return strings.ToUpper(string(t))
}

func opening(s core.ResolutionStrategy) string {
	p := s.Params
	switch s.Type {
	case core.StrategyWait:
		if p.EstimatedWait > 0 {
			return fmt.Sprintf("Waiting an estimated %s lets the current holder finish without interruption.", p.EstimatedWait.Round(time.Second))
		}
		return "The current holder is expected to release soon; waiting avoids disrupting its work."
	case core.StrategySplit:
		return fmt.Sprintf("The request can be partitioned: %d pattern(s) can proceed now while %d wait for the holder.", len(p.RequesterPatterns), len(p.DeferredPatterns))
	case core.StrategyTransfer:
		return fmt.Sprintf("The requester outranks the holder, so ownership should move from %s to %s.", p.FromAgent, p.ToAgent)
	case core.StrategyCoordinate:
		return fmt.Sprintf("Both agents can interleave work in turns of %s.", p.TurnDuration)
	case core.StrategyShare:
		return "The existing reservation is shared; requesting shared mode would be granted immediately."
	case core.StrategyEscalate:
		return "No automated strategy is clearly safe; a human should decide."
	default:
		return fmt.Sprintf("Strategy %s was selected.", label(s.Type))
	}
}

func prioritySentence(sig core.Signals) string {
	rp, hp := sig.RequesterPriority, sig.HolderPriority
	if rp == nil || hp == nil {
		return "Priority data is unavailable for one or both agents."
	}
	switch {
	case rp.Outranks(*hp):
		return fmt.Sprintf("Requester priority %s is higher than holder priority %s.", rp, hp)
	case hp.Outranks(*rp):
		return fmt.Sprintf("Requester priority %s is lower than holder priority %s.", rp, hp)
	default:
		return fmt.Sprintf("Requester and holder share priority %s.", rp)
	}
}

func progressSentence(p *core.Progress) string {
	if p == nil {
		return "Holder progress is unknown."
	}
	s := fmt.Sprintf("Holder reports %.0f%% progress", p.Percent)
	if p.Remaining != nil {
		s += fmt.Sprintf(" with about %s remaining", p.Remaining.Round(time.Second))
	}
	return s + "."
}

func historySentence(t core.StrategyType, history map[core.StrategyType]core.HistoryStat) string {
	stat, ok := history[t]
	if !ok || stat.SampleSize == 0 {
		return fmt.Sprintf("No historical outcomes are recorded for %s.", label(t))
	}
	successes := int(math.Round(stat.SuccessRate * float64(stat.SampleSize)))
	return fmt.Sprintf("Historically, %s resolved %d of %d similar conflicts (%.0f%% success).", label(t), successes, stat.SampleSize, stat.SuccessRate*100)
}

// evidence lists strong and weak factors plus adjustments. An all-zero
// breakdown was never scored and contributes no factor lines.
func evidence(b core.ConfidenceBreakdown) []string {
	factors := []struct {
		name  string
		value float64
	}{
		{"priority differential", b.PriorityDifferential},
		{"progress certainty", b.ProgressCertainty},
		{"historical match", b.HistoricalMatch},
		{"resource criticality", b.ResourceCriticality},
		{"time pressure", b.TimePressure},
	}
	scored := false
	for _, f := range factors {
		if f.value != 0 {
			scored = true
			break
		}
	}
	var out []string
	for _, f := range factors {
		if !scored {
			break
		}
		switch {
		case f.value >= strongFactor:
			out = append(out, fmt.Sprintf("Strong %s (%.0f/100)", f.name, f.value))
		case f.value <= weakFactor:
			out = append(out, fmt.Sprintf("Weak %s (%.0f/100)", f.name, f.value))
		}
	}
	for _, adj := range b.Adjustments {
		out = append(out, fmt.Sprintf("%+.0f %s: %s", adj.Delta, adj.Code, adj.Reason))
	}
	return out
}
