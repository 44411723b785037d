package core

import "time"

type EventType string

const (
	EventReservationCreated  EventType = "reservation.created"
	EventReservationRenewed  EventType = "reservation.renewed"
	EventReservationReleased EventType = "reservation.released"
	EventReservationExpired  EventType = "reservation.expired"
	EventConflictDetected    EventType = "conflict.detected"
	EventConflictResolved    EventType = "conflict.resolved"
)

// Mode is the sharing mode of a reservation.
type Mode string

const (
	ModeExclusive Mode = "exclusive"
	ModeShared    Mode = "shared"
)

func (m Mode) Valid() bool {
	return m == ModeExclusive || m == ModeShared
}

// Lease bounds.
const (
	DefaultTTLSeconds = 300
	MinTTLSeconds     = 1
	MaxTTLSeconds     = 3600
	MaxRenewals       = 10
	MaxPatterns       = 100
)

// ReservationMetadata carries caller supplied context for a lease.
type ReservationMetadata struct {
	Reason string `json:"reason,omitempty"`
	TaskID string `json:"task_id,omitempty"`
	// Progress is the holder's self reported completion percentage (0-100),
	// nil when never reported.
	Progress *float64 `json:"progress,omitempty"`
	// ETASeconds is the holder's estimate of remaining work.
	ETASeconds *int `json:"eta_seconds,omitempty"`
	// Priority overrides the configured tier of the requester for this lease.
	Priority *Priority `json:"priority,omitempty"`
}

// Reservation is a time-bounded claim over a set of glob patterns.
type Reservation struct {
	ID          string              `json:"id"`
	ProjectID   string              `json:"project_id"`
	RequesterID string              `json:"requester_id"`
	Patterns    []string            `json:"patterns"`
	Mode        Mode                `json:"mode"`
	TTLSeconds  int                 `json:"ttl_seconds"`
	CreatedAt   time.Time           `json:"created_at"`
	ExpiresAt   time.Time           `json:"expires_at"`
	RenewCount  int                 `json:"renew_count"`
	Metadata    ReservationMetadata `json:"metadata"`
}

// IsActive reports whether the lease is still held at now.
func (r Reservation) IsActive(now time.Time) bool {
	return now.Before(r.ExpiresAt)
}

// Remaining returns the time left on the lease, never negative.
func (r Reservation) Remaining(now time.Time) time.Duration {
	if d := r.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Clone returns a deep copy safe to hand outside the store.
func (r Reservation) Clone() Reservation {
	r.Patterns = append([]string(nil), r.Patterns...)
	if r.Metadata.Progress != nil {
		p := *r.Metadata.Progress
		r.Metadata.Progress = &p
	}
	if r.Metadata.ETASeconds != nil {
		e := *r.Metadata.ETASeconds
		r.Metadata.ETASeconds = &e
	}
	if r.Metadata.Priority != nil {
		p := *r.Metadata.Priority
		r.Metadata.Priority = &p
	}
	return r
}

type ConflictStatus string

const (
	ConflictOpen     ConflictStatus = "open"
	ConflictResolved ConflictStatus = "resolved"
)

// Conflict records a denied grant against one pre-existing reservation.
type Conflict struct {
	ID                  string               `json:"conflict_id"`
	ProjectID           string               `json:"project_id"`
	Status              ConflictStatus       `json:"status"`
	DetectedAt          time.Time            `json:"detected_at"`
	ResolvedAt          *time.Time           `json:"resolved_at,omitempty"`
	RequesterID         string               `json:"requester_id"`
	RequestedMode       Mode                 `json:"requested_mode"`
	RequestedPatterns   []string             `json:"requested_patterns"`
	RequesterPriority   *Priority            `json:"requester_priority,omitempty"`
	ExistingReservation Reservation          `json:"existing_reservation"`
	OverlappingPattern  string               `json:"overlapping_pattern"`
	HeldPattern         string               `json:"held_pattern"`
	Resolutions         []ResolutionStrategy `json:"resolutions"`
	ResolvedBy          string               `json:"resolved_by,omitempty"`
	ResolutionReason    string               `json:"resolution_reason,omitempty"`
}

// Clone returns a deep copy of the conflict.
func (c Conflict) Clone() Conflict {
	c.RequestedPatterns = append([]string(nil), c.RequestedPatterns...)
	c.ExistingReservation = c.ExistingReservation.Clone()
	if c.RequesterPriority != nil {
		p := *c.RequesterPriority
		c.RequesterPriority = &p
	}
	if c.ResolvedAt != nil {
		t := *c.ResolvedAt
		c.ResolvedAt = &t
	}
	if c.Resolutions != nil {
		out := make([]ResolutionStrategy, len(c.Resolutions))
		for i, s := range c.Resolutions {
			out[i] = s.Clone()
		}
		c.Resolutions = out
	}
	return c
}

type StrategyType string

const (
	StrategyWait       StrategyType = "wait"
	StrategySplit      StrategyType = "split"
	StrategyTransfer   StrategyType = "transfer"
	StrategyCoordinate StrategyType = "coordinate"
	StrategyEscalate   StrategyType = "escalate"
	StrategyShare      StrategyType = "share"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities from low (1) to critical (4).
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

type Risk struct {
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
}

// Adjustment is a named delta applied on top of the weighted factor sum.
type Adjustment struct {
	Code   string  `json:"code"`
	Delta  float64 `json:"delta"`
	Reason string  `json:"reason"`
}

// ConfidenceBreakdown holds the 0-100 factor scores behind a confidence value.
type ConfidenceBreakdown struct {
	PriorityDifferential float64      `json:"priority_differential"`
	ProgressCertainty    float64      `json:"progress_certainty"`
	HistoricalMatch      float64      `json:"historical_match"`
	ResourceCriticality  float64      `json:"resource_criticality"`
	TimePressure         float64      `json:"time_pressure"`
	Adjustments          []Adjustment `json:"adjustments,omitempty"`
}

// StrategyParams are the type specific parameters of a strategy. Only the
// fields relevant to the strategy type are populated.
type StrategyParams struct {
	EstimatedWait     time.Duration `json:"estimated_wait,omitempty"`
	RequesterPatterns []string      `json:"requester_patterns,omitempty"`
	DeferredPatterns  []string      `json:"deferred_patterns,omitempty"`
	FromAgent         string        `json:"from_agent,omitempty"`
	ToAgent           string        `json:"to_agent,omitempty"`
	TurnDuration      time.Duration `json:"turn_duration,omitempty"`
	SuggestedMode     Mode          `json:"suggested_mode,omitempty"`
}

type ResolutionStrategy struct {
	Type                   StrategyType        `json:"type"`
	Params                 StrategyParams      `json:"params"`
	Confidence             int                 `json:"confidence"`
	Breakdown              ConfidenceBreakdown `json:"breakdown"`
	Risks                  []Risk              `json:"risks"`
	AutoResolutionEligible bool                `json:"auto_resolution_eligible"`
	Rationale              string              `json:"rationale,omitempty"`
}

func (s ResolutionStrategy) Clone() ResolutionStrategy {
	s.Params.RequesterPatterns = append([]string(nil), s.Params.RequesterPatterns...)
	s.Params.DeferredPatterns = append([]string(nil), s.Params.DeferredPatterns...)
	s.Breakdown.Adjustments = append([]Adjustment(nil), s.Breakdown.Adjustments...)
	s.Risks = append([]Risk(nil), s.Risks...)
	return s
}

// Event is emitted after a mutation commits.
type Event struct {
	Type        EventType    `json:"type"`
	ProjectID   string       `json:"project_id"`
	Reservation *Reservation `json:"reservation,omitempty"`
	Conflict    *Conflict    `json:"conflict,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}
