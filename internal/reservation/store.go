// Package reservation is the authoritative table of active file leases.
//
// Each project is a shard with its own mutex. Overlap arbitration, grants,
// releases, renewals and sweeps for a project run under that shard's write
// lock, so two exclusive grants can never both pass the overlap check.
// Conflict recording, advisor scoring and event delivery happen after the
// lock is released. Delivery for a project is serialized by a second
// per-shard lock taken before the shard lock is dropped, so handlers see a
// project's events in commit order. Handlers must not call back into the
// store.
package reservation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mistakeknot/interlock/internal/conflict"
	"github.com/mistakeknot/interlock/internal/core"
	"github.com/mistakeknot/interlock/internal/glob"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Config bounds lease parameters.
type Config struct {
	DefaultTTLSeconds int `mapstructure:"default_ttl_seconds" yaml:"default_ttl_seconds"`
	MaxTTLSeconds     int `mapstructure:"max_ttl_seconds" yaml:"max_ttl_seconds"`
	MaxRenewals       int `mapstructure:"max_renewals" yaml:"max_renewals"`
	MaxPatterns       int `mapstructure:"max_patterns" yaml:"max_patterns"`
}

func DefaultConfig() Config {
	return Config{
		DefaultTTLSeconds: core.DefaultTTLSeconds,
		MaxTTLSeconds:     core.MaxTTLSeconds,
		MaxRenewals:       core.MaxRenewals,
		MaxPatterns:       core.MaxPatterns,
	}
}

// Advisor scores a freshly recorded conflict. blocked holds every requested
// pattern that overlaps some blocker of the request.
type Advisor interface {
	Advise(ctx context.Context, c core.Conflict, blocked []string) []core.ResolutionStrategy
}

// CreateParams describes a lease request.
type CreateParams struct {
	ProjectID   string
	RequesterID string
	Patterns    []string
	Mode        core.Mode
	TTLSeconds  int
	Metadata    core.ReservationMetadata
	// Priority is the requester's tier for this request, if known.
	Priority *core.Priority
}

// CreateResult is either a grant or the conflicts that blocked it.
type CreateResult struct {
	Granted     bool
	Reservation *core.Reservation
	Conflicts   []core.Conflict
}

// Err returns a *core.ConflictError for a denied result and nil otherwise.
func (r CreateResult) Err() error {
	if r.Granted {
		return nil
	}
	return &core.ConflictError{Conflicts: r.Conflicts}
}

// CheckResult answers whether an agent may write a concrete path.
type CheckResult struct {
	Allowed       bool
	Path          string
	HeldBy        string
	Mode          core.Mode
	ExpiresAt     *time.Time
	ReservationID string
	Pattern       string
}

// RenewResult reports the extended lease.
type RenewResult struct {
	NewExpiresAt time.Time
	RenewCount   int
}

// ListFilter narrows a listing. Empty fields match everything.
type ListFilter struct {
	ProjectID   string
	RequesterID string
	Mode        core.Mode
}

// Page selects a window of a newest-first listing.
type Page struct {
	Cursor string
	Limit  int
}

// ListResult is one page of reservations.
type ListResult struct {
	Reservations []core.Reservation
	NextCursor   string
}

// Stats aggregates active leases.
type Stats struct {
	Total             int               `json:"total"`
	ByProject         map[string]int    `json:"by_project"`
	ByMode            map[core.Mode]int `json:"by_mode"`
	AverageRenewCount float64           `json:"average_renew_count"`
}

type entry struct {
	res      core.Reservation
	patterns glob.Set
}

type shard struct {
	mu   sync.RWMutex
	byID map[string]*entry

	// emu orders event delivery; acquired while mu is held, released after
	// the handlers return.
	emu sync.Mutex
}

// Store holds active reservations for every project.
type Store struct {
	mu     sync.Mutex // guards shards and index; never held while taking a shard lock
	shards map[string]*shard
	index  map[string]string // reservation id -> project id

	cfg     Config
	now     func() time.Time
	newID   func() string
	tracker *conflict.Tracker
	advisor Advisor
	logger  *slog.Logger

	hmu      sync.RWMutex
	handlers []core.EventHandler
}

type Option func(*Store)

func WithConfig(cfg Config) Option {
	return func(s *Store) { s.cfg = cfg }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithIDFunc(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

func WithTracker(t *conflict.Tracker) Option {
	return func(s *Store) { s.tracker = t }
}

func WithAdvisor(a Advisor) Option {
	return func(s *Store) { s.advisor = a }
}

func WithHandler(h core.EventHandler) Option {
	return func(s *Store) { s.handlers = append(s.handlers, h) }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

func New(opts ...Option) *Store {
	s := &Store{
		shards: make(map[string]*shard),
		index:  make(map[string]string),
		cfg:    DefaultConfig(),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tracker == nil {
		s.tracker = conflict.NewTracker(conflict.WithClock(s.now), conflict.WithLogger(s.logger))
	}
	return s
}

// Tracker returns the conflict tracker fed by this store.
func (s *Store) Tracker() *conflict.Tracker { return s.tracker }

// Subscribe registers a handler for reservation events.
func (s *Store) Subscribe(h core.EventHandler) {
	s.hmu.Lock()
	s.handlers = append(s.handlers, h)
	s.hmu.Unlock()
}

func (s *Store) shardFor(projectID string) *shard {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, ok := s.shards[projectID]
	if !ok {
		sh = &shard{byID: make(map[string]*entry)}
		s.shards[projectID] = sh
	}
	return sh
}

func (s *Store) lookup(id string) (*shard, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	project, ok := s.index[id]
	if !ok {
		return nil, false
	}
	return s.shards[project], true
}

func (s *Store) snapshotShards() map[string]*shard {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*shard, len(s.shards))
	for k, v := range s.shards {
		out[k] = v
	}
	return out
}

// normalizeTTL applies the default and clamps to the configured maximum.
func (s *Store) normalizeTTL(ttl int) (int, error) {
	switch {
	case ttl < 0:
		return 0, core.Invalid("ttl_seconds", "must be positive, got %d", ttl)
	case ttl == 0:
		ttl = s.cfg.DefaultTTLSeconds
	}
	if ttl < core.MinTTLSeconds {
		ttl = core.MinTTLSeconds
	}
	if ttl > s.cfg.MaxTTLSeconds {
		ttl = s.cfg.MaxTTLSeconds
	}
	return ttl, nil
}

func (s *Store) validate(p CreateParams) (glob.Set, core.Mode, error) {
	if strings.TrimSpace(p.ProjectID) == "" {
		return nil, "", core.Invalid("project_id", "required")
	}
	if strings.TrimSpace(p.RequesterID) == "" {
		return nil, "", core.Invalid("requester_id", "required")
	}
	if len(p.Patterns) == 0 {
		return nil, "", core.Invalid("patterns", "at least one pattern is required")
	}
	if len(p.Patterns) > s.cfg.MaxPatterns {
		return nil, "", core.Invalid("patterns", "%d patterns exceeds limit of %d", len(p.Patterns), s.cfg.MaxPatterns)
	}
	set := make(glob.Set, 0, len(p.Patterns))
	for i, raw := range p.Patterns {
		pat, err := glob.Compile(raw)
		if err != nil {
			return nil, "", core.Invalid(fmt.Sprintf("patterns[%d]", i), "%v", err)
		}
		set = append(set, pat)
	}

	mode := p.Mode
	if mode == "" {
		mode = core.ModeExclusive
	}
	if !mode.Valid() {
		return nil, "", core.Invalid("mode", "unknown mode %q", p.Mode)
	}

	md := p.Metadata
	if md.Progress != nil && (*md.Progress < 0 || *md.Progress > 100) {
		return nil, "", core.Invalid("metadata.progress", "must be within 0..100")
	}
	if md.ETASeconds != nil && *md.ETASeconds < 0 {
		return nil, "", core.Invalid("metadata.eta_seconds", "must not be negative")
	}
	if md.Priority != nil && !md.Priority.Valid() {
		return nil, "", core.Invalid("metadata.priority", "unknown tier %d", int(*md.Priority))
	}
	if p.Priority != nil && !p.Priority.Valid() {
		return nil, "", core.Invalid("priority", "unknown tier %d", int(*p.Priority))
	}
	return set, mode, nil
}

type blocker struct {
	res   core.Reservation
	pairs []glob.Pair
}

// Create grants the lease or reports the conflicts that block it. A denial
// is a normal result, not an error; errors are reserved for invalid input.
func (s *Store) Create(ctx context.Context, p CreateParams) (CreateResult, error) {
	set, mode, err := s.validate(p)
	if err != nil {
		return CreateResult{}, err
	}
	ttl, err := s.normalizeTTL(p.TTLSeconds)
	if err != nil {
		return CreateResult{}, err
	}

	sh := s.shardFor(p.ProjectID)
	sh.mu.Lock()
	now := s.now()
	var blockers []blocker
	for _, e := range sh.byID {
		if !e.res.IsActive(now) || e.res.RequesterID == p.RequesterID {
			continue
		}
		pairs := set.Overlaps(e.patterns)
		if len(pairs) == 0 {
			continue
		}
		if mode == core.ModeShared && e.res.Mode == core.ModeShared {
			continue
		}
		blockers = append(blockers, blocker{res: e.res.Clone(), pairs: pairs})
	}

	if len(blockers) > 0 {
		sh.mu.Unlock()
		return s.deny(ctx, p, set, mode, blockers), nil
	}

	res := core.Reservation{
		ID:          s.newID(),
		ProjectID:   p.ProjectID,
		RequesterID: p.RequesterID,
		Patterns:    set.Strings(),
		Mode:        mode,
		TTLSeconds:  ttl,
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Duration(ttl) * time.Second),
		Metadata:    p.Metadata,
	}
	res = res.Clone()
	sh.byID[res.ID] = &entry{res: res, patterns: set}
	s.mu.Lock()
	s.index[res.ID] = res.ProjectID
	s.mu.Unlock()

	out := res.Clone()
	s.publish(ctx, sh, core.Event{Type: core.EventReservationCreated, ProjectID: out.ProjectID, Reservation: &out, CreatedAt: now})
	return CreateResult{Granted: true, Reservation: &out}, nil
}

func (s *Store) deny(ctx context.Context, p CreateParams, set glob.Set, mode core.Mode, blockers []blocker) CreateResult {
	sort.Slice(blockers, func(i, j int) bool {
		if !blockers[i].res.CreatedAt.Equal(blockers[j].res.CreatedAt) {
			return blockers[i].res.CreatedAt.Before(blockers[j].res.CreatedAt)
		}
		return blockers[i].res.ID < blockers[j].res.ID
	})

	priority := p.Priority
	if priority == nil {
		priority = p.Metadata.Priority
	}
	rc := conflict.RequestContext{
		RequestID:   s.newID(),
		ProjectID:   p.ProjectID,
		RequesterID: p.RequesterID,
		Mode:        mode,
		Patterns:    set.Strings(),
		Priority:    priority,
	}

	var recorded []core.Conflict
	for _, b := range blockers {
		for _, pair := range b.pairs {
			c, created := s.tracker.Record(rc, b.res, pair.A, pair.B)
			if created {
				recorded = append(recorded, c)
			}
		}
	}
	s.tracker.EndRequest(rc.RequestID)

	var blocked []string
	seen := make(map[string]bool)
	for _, b := range blockers {
		for _, pair := range b.pairs {
			if !seen[pair.A] {
				seen[pair.A] = true
				blocked = append(blocked, pair.A)
			}
		}
	}

	out := make([]core.Conflict, 0, len(recorded))
	for _, c := range recorded {
		var strategies []core.ResolutionStrategy
		if s.advisor != nil {
			strategies = s.advisor.Advise(ctx, c, blocked)
		}
		attached, err := s.tracker.AttachResolutions(ctx, c.ID, strategies)
		if err != nil {
			s.logger.Warn("attach resolutions failed", "conflict_id", c.ID, "error", err)
			out = append(out, c)
			continue
		}
		out = append(out, attached)
	}
	s.logger.Info("reservation denied",
		"project", p.ProjectID, "requester", p.RequesterID, "mode", mode, "conflicts", len(out))
	return CreateResult{Granted: false, Conflicts: out}
}

// Check reports whether agentID may write filePath. Paths held by the agent
// itself or under shared claims are allowed; an exclusive claim by another
// agent denies and names the holder.
func (s *Store) Check(projectID, agentID, filePath string) (CheckResult, error) {
	if strings.TrimSpace(projectID) == "" {
		return CheckResult{}, core.Invalid("project_id", "required")
	}
	norm := glob.Normalize(filePath)
	if norm == "" {
		return CheckResult{}, core.Invalid("path", "required")
	}

	sh := s.shardFor(projectID)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	now := s.now()
	for _, e := range sh.byID {
		if !e.res.IsActive(now) || e.res.RequesterID == agentID || e.res.Mode == core.ModeShared {
			continue
		}
		pattern, ok := e.patterns.Match(norm)
		if !ok {
			continue
		}
		expires := e.res.ExpiresAt
		return CheckResult{
			Allowed:       false,
			Path:          norm,
			HeldBy:        e.res.RequesterID,
			Mode:          e.res.Mode,
			ExpiresAt:     &expires,
			ReservationID: e.res.ID,
			Pattern:       pattern,
		}, nil
	}
	return CheckResult{Allowed: true, Path: norm}, nil
}

// CheckMany runs Check for each path in order.
func (s *Store) CheckMany(projectID, agentID string, paths []string) ([]CheckResult, error) {
	out := make([]CheckResult, 0, len(paths))
	for _, p := range paths {
		r, err := s.Check(projectID, agentID, p)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Get returns an active reservation.
func (s *Store) Get(id string) (core.Reservation, error) {
	sh, ok := s.lookup(id)
	if !ok {
		return core.Reservation{}, fmt.Errorf("reservation %s: %w", id, core.ErrNotFound)
	}
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	e, ok := sh.byID[id]
	if !ok || !e.res.IsActive(s.now()) {
		return core.Reservation{}, fmt.Errorf("reservation %s: %w", id, core.ErrNotFound)
	}
	return e.res.Clone(), nil
}

// Release deletes a reservation held by agentID.
func (s *Store) Release(ctx context.Context, id, agentID string) error {
	sh, ok := s.lookup(id)
	if !ok {
		return fmt.Errorf("reservation %s: %w", id, core.ErrNotFound)
	}
	sh.mu.Lock()
	now := s.now()
	e, ok := sh.byID[id]
	if !ok || !e.res.IsActive(now) {
		sh.mu.Unlock()
		return fmt.Errorf("reservation %s: %w", id, core.ErrNotFound)
	}
	if e.res.RequesterID != agentID {
		sh.mu.Unlock()
		return fmt.Errorf("release %s by %s: %w", id, agentID, core.ErrForbidden)
	}
	delete(sh.byID, id)
	s.mu.Lock()
	delete(s.index, id)
	s.mu.Unlock()

	out := e.res.Clone()
	s.publish(ctx, sh, core.Event{Type: core.EventReservationReleased, ProjectID: out.ProjectID, Reservation: &out, CreatedAt: now})
	return nil
}

// Renew extends a lease by additionalTTL seconds, or by its original ttl
// when additionalTTL is nil. The extension is added to the current expiry
// and capped at the configured maximum ttl.
func (s *Store) Renew(ctx context.Context, id, agentID string, additionalTTL *int) (RenewResult, error) {
	if additionalTTL != nil && *additionalTTL <= 0 {
		return RenewResult{}, core.Invalid("additional_ttl_seconds", "must be positive, got %d", *additionalTTL)
	}
	sh, ok := s.lookup(id)
	if !ok {
		return RenewResult{}, fmt.Errorf("reservation %s: %w", id, core.ErrNotFound)
	}

	sh.mu.Lock()
	now := s.now()
	e, ok := sh.byID[id]
	if !ok || !e.res.IsActive(now) {
		sh.mu.Unlock()
		return RenewResult{}, fmt.Errorf("reservation %s: %w", id, core.ErrNotFound)
	}
	if e.res.RequesterID != agentID {
		sh.mu.Unlock()
		return RenewResult{}, fmt.Errorf("renew %s by %s: %w", id, agentID, core.ErrForbidden)
	}
	if e.res.RenewCount >= s.cfg.MaxRenewals {
		sh.mu.Unlock()
		return RenewResult{}, fmt.Errorf("renew %s after %d renewals: %w", id, e.res.RenewCount, core.ErrRenewalLimit)
	}
	ext := e.res.TTLSeconds
	if additionalTTL != nil {
		ext = *additionalTTL
	}
	if ext > s.cfg.MaxTTLSeconds {
		ext = s.cfg.MaxTTLSeconds
	}
	e.res.ExpiresAt = e.res.ExpiresAt.Add(time.Duration(ext) * time.Second)
	e.res.RenewCount++
	out := e.res.Clone()

	s.publish(ctx, sh, core.Event{Type: core.EventReservationRenewed, ProjectID: out.ProjectID, Reservation: &out, CreatedAt: now})
	return RenewResult{NewExpiresAt: out.ExpiresAt, RenewCount: out.RenewCount}, nil
}

// Sweep removes every reservation whose expiry has passed and returns them.
func (s *Store) Sweep(ctx context.Context) ([]core.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var expired []core.Reservation
	now := s.now()
	for _, sh := range s.snapshotShards() {
		sh.mu.Lock()
		var gone []core.Reservation
		for id, e := range sh.byID {
			if !e.res.IsActive(now) {
				gone = append(gone, e.res.Clone())
				delete(sh.byID, id)
			}
		}
		if len(gone) == 0 {
			sh.mu.Unlock()
			continue
		}
		s.mu.Lock()
		for _, r := range gone {
			delete(s.index, r.ID)
		}
		s.mu.Unlock()

		sort.Slice(gone, func(i, j int) bool { return gone[i].ExpiresAt.Before(gone[j].ExpiresAt) })
		events := make([]core.Event, len(gone))
		for i := range gone {
			r := gone[i]
			events[i] = core.Event{Type: core.EventReservationExpired, ProjectID: r.ProjectID, Reservation: &r, CreatedAt: now}
		}
		s.publish(ctx, sh, events...)
		expired = append(expired, gone...)
	}

	sort.Slice(expired, func(i, j int) bool { return expired[i].ExpiresAt.Before(expired[j].ExpiresAt) })
	return expired, nil
}

// List returns active reservations newest first.
func (s *Store) List(f ListFilter, page Page) (ListResult, error) {
	limit := page.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if f.Mode != "" && !f.Mode.Valid() {
		return ListResult{}, core.Invalid("mode", "unknown mode %q", f.Mode)
	}
	var after *cursor
	if page.Cursor != "" {
		c, err := parseCursor(page.Cursor)
		if err != nil {
			return ListResult{}, err
		}
		after = &c
	}

	var all []core.Reservation
	s.forEachActive(f.ProjectID, func(r core.Reservation) {
		if f.RequesterID != "" && r.RequesterID != f.RequesterID {
			return
		}
		if f.Mode != "" && r.Mode != f.Mode {
			return
		}
		all = append(all, r)
	})
	sort.Slice(all, func(i, j int) bool { return newer(all[i], all[j]) })

	var out ListResult
	for _, r := range all {
		if after != nil && !after.before(r) {
			continue
		}
		if len(out.Reservations) == limit {
			last := out.Reservations[limit-1]
			out.NextCursor = formatCursor(last)
			break
		}
		out.Reservations = append(out.Reservations, r)
	}
	return out, nil
}

// Stats aggregates active reservations by project and by mode.
func (s *Store) Stats() Stats {
	st := Stats{ByProject: map[string]int{}, ByMode: map[core.Mode]int{}}
	renewals := 0
	s.forEachActive("", func(r core.Reservation) {
		st.Total++
		st.ByProject[r.ProjectID]++
		st.ByMode[r.Mode]++
		renewals += r.RenewCount
	})
	if st.Total > 0 {
		st.AverageRenewCount = float64(renewals) / float64(st.Total)
	}
	return st
}

// Active returns every active reservation of a project, or of all projects
// when projectID is empty.
func (s *Store) Active(projectID string) []core.Reservation {
	var out []core.Reservation
	s.forEachActive(projectID, func(r core.Reservation) { out = append(out, r) })
	sort.Slice(out, func(i, j int) bool { return newer(out[i], out[j]) })
	return out
}

func (s *Store) forEachActive(projectID string, fn func(core.Reservation)) {
	shards := s.snapshotShards()
	now := s.now()
	visit := func(sh *shard) {
		sh.mu.RLock()
		defer sh.mu.RUnlock()
		for _, e := range sh.byID {
			if e.res.IsActive(now) {
				fn(e.res.Clone())
			}
		}
	}
	if projectID != "" {
		if sh, ok := shards[projectID]; ok {
			visit(sh)
		}
		return
	}
	for _, sh := range shards {
		visit(sh)
	}
}

// Restore loads persisted reservations. Expired entries, unknown modes,
// invalid patterns and ids already present are skipped.
func (s *Store) Restore(rs []core.Reservation) int {
	now := s.now()
	n := 0
	for _, r := range rs {
		if r.ID == "" || r.ProjectID == "" || !r.IsActive(now) || !r.Mode.Valid() {
			continue
		}
		set, err := glob.CompileSet(r.Patterns)
		if err != nil || len(set) == 0 {
			s.logger.Warn("skipping unrestorable reservation", "reservation_id", r.ID, "error", err)
			continue
		}
		sh := s.shardFor(r.ProjectID)
		sh.mu.Lock()
		s.mu.Lock()
		_, known := s.index[r.ID]
		if !known {
			s.index[r.ID] = r.ProjectID
		}
		s.mu.Unlock()
		if !known {
			sh.byID[r.ID] = &entry{res: r.Clone(), patterns: set}
			n++
		}
		sh.mu.Unlock()
	}
	return n
}

// publish hands the shard over from its state lock to its delivery lock and
// delivers events. The caller must hold sh.mu for writing.
func (s *Store) publish(ctx context.Context, sh *shard, events ...core.Event) {
	sh.emu.Lock()
	sh.mu.Unlock()
	defer sh.emu.Unlock()
	for _, ev := range events {
		s.emit(ctx, ev)
	}
}

func (s *Store) emit(ctx context.Context, ev core.Event) {
	s.hmu.RLock()
	handlers := s.handlers
	s.hmu.RUnlock()
	for _, h := range handlers {
		if err := h.HandleEvent(ctx, ev); err != nil {
			s.logger.Warn("reservation event handler failed", "event", ev.Type, "reservation_id", ev.Reservation.ID, "error", err)
		}
	}
}

func newer(a, b core.Reservation) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// cursor is the position of the last returned reservation.
type cursor struct {
	createdAt int64
	id        string
}

// before reports whether r sorts after the cursor position.
func (c cursor) before(r core.Reservation) bool {
	ts := r.CreatedAt.UnixNano()
	if ts != c.createdAt {
		return ts < c.createdAt
	}
	return r.ID < c.id
}

func formatCursor(r core.Reservation) string {
	return strconv.FormatInt(r.CreatedAt.UnixNano(), 10) + ":" + r.ID
}

func parseCursor(s string) (cursor, error) {
	ts, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return cursor{}, core.Invalid("cursor", "malformed cursor %q", s)
	}
	v, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return cursor{}, core.Invalid("cursor", "malformed cursor %q", s)
	}
	return cursor{createdAt: v, id: id}, nil
}
