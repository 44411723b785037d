package advisor

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/mistakeknot/interlock/internal/core"
	"github.com/mistakeknot/interlock/internal/glob"
)

// Weights are the contribution of each factor to the confidence sum. They
// are expected to add up to 1.
type Weights struct {
	Priority     float64 `mapstructure:"priority" yaml:"priority"`
	Progress     float64 `mapstructure:"progress" yaml:"progress"`
	History      float64 `mapstructure:"history" yaml:"history"`
	Criticality  float64 `mapstructure:"criticality" yaml:"criticality"`
	TimePressure float64 `mapstructure:"time_pressure" yaml:"time_pressure"`
}

// Config tunes scoring.
type Config struct {
	Weights              Weights `mapstructure:"weights" yaml:"weights"`
	AutoResolveThreshold int     `mapstructure:"auto_resolve_threshold" yaml:"auto_resolve_threshold"`
	MinHistorySamples    int     `mapstructure:"min_history_samples" yaml:"min_history_samples"`
}

func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			Priority:     0.25,
			Progress:     0.25,
			History:      0.20,
			Criticality:  0.15,
			TimePressure: 0.15,
		},
		AutoResolveThreshold: 80,
		MinHistorySamples:    5,
	}
}

// Adjustment codes.
const (
	AdjNoPriorityData          = "no_priority_data"
	AdjNoProgressData          = "no_progress_data"
	AdjNoHistoryData           = "no_history_data"
	AdjInsufficientHistory     = "insufficient_history"
	AdjStrongHistoricalSuccess = "strong_historical_success"
	AdjPoorHistoricalSuccess   = "poor_historical_success"
	AdjNearCompletion          = "near_completion"
	AdjSignificantProgress     = "significant_progress"
	AdjLargePriorityGap        = "large_priority_gap"
)

const (
	lowConfidenceFloor = 40
	strongHistoryRate  = 0.8
	strongHistoryCount = 10
	poorHistoryRate    = 0.3
	longWait           = 30 * time.Minute
)

// rankOrder breaks confidence ties.
var rankOrder = map[core.StrategyType]int{
	core.StrategyWait:       0,
	core.StrategyShare:      1,
	core.StrategySplit:      2,
	core.StrategyTransfer:   3,
	core.StrategyCoordinate: 4,
	core.StrategyEscalate:   5,
}

// Input is everything Evaluate looks at.
type Input struct {
	Conflict core.Conflict
	Signals  core.Signals
	Now      time.Time

	// Blocked lists requested patterns overlapping any blocker of the same
	// request, not only the holder of Conflict.
	Blocked []string
}

// situation is the derived view of an Input shared by every strategy.
type situation struct {
	in          Input
	delta       int // holder tier minus requester tier; positive favors the requester
	hasPriority bool
	progress    *core.Progress
	wait        time.Duration
	criticality float64
	pressure    float64
}

func derive(in Input) situation {
	s := situation{in: in, progress: in.Signals.HolderProgress}
	if rp, hp := in.Signals.RequesterPriority, in.Signals.HolderPriority; rp != nil && hp != nil {
		s.hasPriority = true
		s.delta = int(*hp) - int(*rp)
	}

	existing := in.Conflict.ExistingReservation
	s.wait = existing.Remaining(in.Now)
	if s.progress != nil && s.progress.Remaining != nil && *s.progress.Remaining >= 0 {
		s.wait = *s.progress.Remaining
	}

	c := 30.0
	if existing.Mode == core.ModeExclusive {
		c += 30
	}
	held := in.Conflict.HeldPattern
	switch {
	case strings.Contains(held, "**"):
		c += 20
	case strings.ContainsAny(held, "*?["):
		c += 10
	}
	if len(existing.Patterns) > 5 {
		c += 10
	}
	s.criticality = clamp(c)
	s.pressure = clamp(s.wait.Seconds() / float64(core.MaxTTLSeconds) * 100)
	return s
}

// Evaluate synthesizes and ranks every applicable strategy for a conflict.
// It is a pure function of cfg and in.
func Evaluate(cfg Config, in Input) []core.ResolutionStrategy {
	s := derive(in)
	var out []core.ResolutionStrategy

	out = append(out, s.score(cfg, core.StrategyWait, core.StrategyParams{EstimatedWait: s.wait}))

	if in.Conflict.ExistingReservation.Mode == core.ModeShared {
		out = append(out, s.score(cfg, core.StrategyShare, core.StrategyParams{SuggestedMode: core.ModeShared}))
	}

	if now, later := partition(in.Conflict, in.Blocked); len(now) > 0 && len(later) > 0 {
		out = append(out, s.score(cfg, core.StrategySplit, core.StrategyParams{RequesterPatterns: now, DeferredPatterns: later}))
	}

	if s.hasPriority && s.delta > 0 {
		out = append(out, s.score(cfg, core.StrategyTransfer, core.StrategyParams{
			FromAgent: in.Conflict.ExistingReservation.RequesterID,
			ToAgent:   in.Conflict.RequesterID,
		}))
	}

	if in.Conflict.ExistingReservation.Mode == core.ModeExclusive && (s.progress == nil || s.progress.Percent < 90) {
		out = append(out, s.score(cfg, core.StrategyCoordinate, core.StrategyParams{TurnDuration: turnDuration(s.wait)}))
	}

	escalate := s.score(cfg, core.StrategyEscalate, core.StrategyParams{})
	escalate.AutoResolutionEligible = false
	out = append(out, escalate)

	promote := true
	for _, st := range out {
		if st.Type == core.StrategyEscalate {
			continue
		}
		if st.Confidence >= lowConfidenceFloor && highestSeverity(st.Risks).Rank() < core.SeverityCritical.Rank() {
			promote = false
			break
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if promote {
			if ei, ej := out[i].Type == core.StrategyEscalate, out[j].Type == core.StrategyEscalate; ei != ej {
				return ei
			}
		}
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return rankOrder[out[i].Type] < rankOrder[out[j].Type]
	})
	return out
}

func (s situation) score(cfg Config, kind core.StrategyType, params core.StrategyParams) core.ResolutionStrategy {
	b := core.ConfidenceBreakdown{
		PriorityDifferential: s.priorityFactor(kind),
		ProgressCertainty:    s.progressFactor(kind),
		HistoricalMatch:      50,
		ResourceCriticality:  s.criticalityFactor(kind),
		TimePressure:         s.pressureFactor(kind),
	}

	if kind != core.StrategyEscalate {
		if !s.hasPriority {
			b.Adjustments = append(b.Adjustments, core.Adjustment{Code: AdjNoPriorityData, Delta: -10, Reason: "priority tier missing for requester or holder"})
		}
		if s.progress == nil && kind != core.StrategyShare {
			b.Adjustments = append(b.Adjustments, core.Adjustment{Code: AdjNoProgressData, Delta: -10, Reason: "holder has not reported progress"})
		}
	}

	stat, ok := s.in.Signals.History[kind]
	switch {
	case !ok || stat.SampleSize == 0:
		b.Adjustments = append(b.Adjustments, core.Adjustment{Code: AdjNoHistoryData, Delta: -5, Reason: "no recorded outcomes for this strategy"})
	case stat.SampleSize < cfg.MinHistorySamples:
		b.Adjustments = append(b.Adjustments, core.Adjustment{Code: AdjInsufficientHistory, Delta: -5, Reason: "too few recorded outcomes to trust the success rate"})
	default:
		b.HistoricalMatch = clamp(stat.SuccessRate * 100)
		if stat.SuccessRate >= strongHistoryRate && stat.SampleSize >= strongHistoryCount {
			b.Adjustments = append(b.Adjustments, core.Adjustment{Code: AdjStrongHistoricalSuccess, Delta: 10, Reason: "strategy has a strong track record"})
		} else if stat.SuccessRate < poorHistoryRate {
			b.Adjustments = append(b.Adjustments, core.Adjustment{Code: AdjPoorHistoricalSuccess, Delta: -10, Reason: "strategy usually fails for similar conflicts"})
		}
	}

	if s.progress != nil {
		if kind == core.StrategyWait && s.progress.Percent >= 80 {
			b.Adjustments = append(b.Adjustments, core.Adjustment{Code: AdjNearCompletion, Delta: 10, Reason: "holder is close to done"})
		}
		if kind == core.StrategyTransfer && s.progress.Percent >= 50 {
			b.Adjustments = append(b.Adjustments, core.Adjustment{Code: AdjSignificantProgress, Delta: -15, Reason: "holder would lose substantial work"})
		}
	}
	if s.hasPriority && ((kind == core.StrategyTransfer && s.delta >= 2) || (kind == core.StrategyWait && s.delta <= -2)) {
		b.Adjustments = append(b.Adjustments, core.Adjustment{Code: AdjLargePriorityGap, Delta: 5, Reason: "priority tiers are far apart"})
	}

	w := cfg.Weights
	total := w.Priority*b.PriorityDifferential +
		w.Progress*b.ProgressCertainty +
		w.History*b.HistoricalMatch +
		w.Criticality*b.ResourceCriticality +
		w.TimePressure*b.TimePressure
	for _, adj := range b.Adjustments {
		total += adj.Delta
	}

	st := core.ResolutionStrategy{
		Type:       kind,
		Params:     params,
		Confidence: int(math.Round(clamp(total))),
		Breakdown:  b,
		Risks:      s.risks(kind, params),
	}
	st.AutoResolutionEligible = st.Confidence > cfg.AutoResolveThreshold && highestSeverity(st.Risks).Rank() < core.SeverityHigh.Rank()
	return st
}

func (s situation) priorityFactor(kind core.StrategyType) float64 {
	if !s.hasPriority {
		return 50
	}
	d := float64(s.delta)
	switch kind {
	case core.StrategyWait:
		return clamp(50 - 12.5*d)
	case core.StrategyTransfer:
		return clamp(50 + 12.5*d)
	case core.StrategySplit, core.StrategyCoordinate, core.StrategyShare:
		return clamp(100 - 25*math.Abs(d))
	default:
		return 50
	}
}

func (s situation) progressFactor(kind core.StrategyType) float64 {
	if s.progress == nil {
		return 50
	}
	pct := clamp(s.progress.Percent)
	switch kind {
	case core.StrategyWait:
		return pct
	case core.StrategyTransfer, core.StrategySplit, core.StrategyCoordinate:
		return 100 - pct
	default:
		return 50
	}
}

func (s situation) criticalityFactor(kind core.StrategyType) float64 {
	switch kind {
	case core.StrategyWait, core.StrategyEscalate:
		return s.criticality
	case core.StrategySplit:
		return 100 - s.criticality/2
	default:
		return 100 - s.criticality
	}
}

func (s situation) pressureFactor(kind core.StrategyType) float64 {
	switch kind {
	case core.StrategyWait:
		return 100 - s.pressure
	case core.StrategyEscalate:
		return 50
	default:
		return s.pressure
	}
}

func (s situation) risks(kind core.StrategyType, params core.StrategyParams) []core.Risk {
	var out []core.Risk
	existing := s.in.Conflict.ExistingReservation
	switch kind {
	case core.StrategyWait:
		if s.wait > longWait {
			out = append(out, core.Risk{Severity: core.SeverityMedium, Description: "estimated wait of " + s.wait.Round(time.Second).String() + " blocks the requester"})
		}
		if existing.RenewCount > core.MaxRenewals/2 {
			out = append(out, core.Risk{Severity: core.SeverityMedium, Description: "holder keeps renewing; the lease may extend further"})
		}
		if s.progress == nil {
			out = append(out, core.Risk{Severity: core.SeverityLow, Description: "holder progress is unknown; estimate relies on lease expiry"})
		}
	case core.StrategyTransfer:
		switch {
		case s.progress == nil:
			out = append(out, core.Risk{Severity: core.SeverityHigh, Description: "holder progress is unknown; transfer may discard work"})
		case s.progress.Percent >= 90:
			out = append(out, core.Risk{Severity: core.SeverityCritical, Description: "holder is nearly finished; transfer discards almost complete work"})
		case s.progress.Percent >= 50:
			out = append(out, core.Risk{Severity: core.SeverityHigh, Description: "holder has significant in-progress work"})
		default:
			out = append(out, core.Risk{Severity: core.SeverityMedium, Description: "holder must hand off in-progress changes"})
		}
	case core.StrategySplit:
		out = append(out, core.Risk{Severity: core.SeverityLow, Description: "split work must be integrated after both agents finish"})
	case core.StrategyCoordinate:
		out = append(out, core.Risk{Severity: core.SeverityMedium, Description: "interleaved edits on an exclusive claim need strict turn taking"})
		if s.criticality >= 80 {
			out = append(out, core.Risk{Severity: core.SeverityHigh, Description: "broad contested resource set makes interleaving error prone"})
		}
	case core.StrategyShare:
		out = append(out, core.Risk{Severity: core.SeverityMedium, Description: "shared mode permits concurrent writes by other shared holders"})
	case core.StrategyEscalate:
		out = append(out, core.Risk{Severity: core.SeverityLow, Description: "resolution latency depends on a human operator"})
	}
	return out
}

// partition splits the requested patterns into those disjoint from every
// held pattern (usable now) and those that overlap (deferred). Patterns in
// blocked are deferred even when this holder does not cover them.
func partition(c core.Conflict, blocked []string) (now, later []string) {
	held, err := glob.CompileSet(c.ExistingReservation.Patterns)
	if err != nil {
		return nil, nil
	}
	elsewhere := make(map[string]bool, len(blocked))
	for _, raw := range blocked {
		elsewhere[glob.Normalize(raw)] = true
	}
	for _, raw := range c.RequestedPatterns {
		p, err := glob.Compile(raw)
		if err != nil {
			return nil, nil
		}
		if !elsewhere[p.String()] && len(glob.Set{p}.Overlaps(held)) == 0 {
			now = append(now, p.String())
		} else {
			later = append(later, p.String())
		}
	}
	return now, later
}

func turnDuration(wait time.Duration) time.Duration {
	d := wait / 4
	if d < time.Minute {
		return time.Minute
	}
	if d > 15*time.Minute {
		return 15 * time.Minute
	}
	return d.Round(time.Second)
}

// HighestRisk returns the most severe risk, or false when there are none.
func HighestRisk(risks []core.Risk) (core.Risk, bool) {
	var best core.Risk
	found := false
	for _, r := range risks {
		if !found || r.Severity.Rank() > best.Severity.Rank() {
			best, found = r, true
		}
	}
	return best, found
}

func highestSeverity(risks []core.Risk) core.Severity {
	r, _ := HighestRisk(risks)
	return r.Severity
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
