// Package coordinator owns the refresh cycle: it pulls rules and
// devices from the MSP portal, builds immutable snapshots with change
// detection and summary stats, and executes rule commands.
package coordinator

import (
	"context"
	"strings"
	"sync"
	"time"

	"grimm.is/boxwatch/internal/clock"
	"grimm.is/boxwatch/internal/events"
	"grimm.is/boxwatch/internal/logging"
	"grimm.is/boxwatch/internal/metrics"
	"grimm.is/boxwatch/internal/msp"
)

// State is the coordinator lifecycle state.
type State int

const (
	// StateUnauthenticated means the portal rejected our credentials.
	// No snapshot is served as fresh until a refresh succeeds.
	StateUnauthenticated State = iota
	// StateReady means a snapshot is available.
	StateReady
	// StateRefreshing means an upstream fetch is in flight.
	StateRefreshing
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateReady:
		return "ready"
	case StateRefreshing:
		return "refreshing"
	default:
		return "unknown"
	}
}

// RuleService is the slice of the MSP client the coordinator needs.
type RuleService interface {
	GetRules(ctx context.Context, query string) ([]msp.Rule, int, error)
	GetRule(ctx context.Context, id string) (msp.Rule, error)
	CreateRule(ctx context.Context, nr msp.NewRule) (msp.Rule, error)
	PauseRule(ctx context.Context, id string) error
	UnpauseRule(ctx context.Context, id string) error
	GetDevices(ctx context.Context) ([]msp.Device, int, error)
}

// ChangeRecorder persists rule changes. Implemented by history.Store.
type ChangeRecorder interface {
	RecordChange(generation uint64, change, ruleID, summary string) error
}

// Options configures a Coordinator.
type Options struct {
	Client   RuleService
	Hub      *events.Hub
	Recorder ChangeRecorder // optional
	Clock    clock.Clock    // defaults to the real clock
	Logger   *logging.Logger

	// Include and Exclude are upstream query fragments. Includes are
	// unioned, excludes (leading "-" optional) are subtracted.
	Include []string
	Exclude []string

	// Timeout bounds one full refresh cycle.
	Timeout time.Duration
}

// Coordinator serializes refreshes and serves the latest snapshot.
type Coordinator struct {
	client   RuleService
	hub      *events.Hub
	recorder ChangeRecorder
	clk      clock.Clock
	log      *logging.Logger
	reg      *metrics.Registry

	include []string
	exclude []string
	timeout time.Duration

	mu       sync.Mutex
	snapshot *Snapshot
	state    State
	lastErr  error
	stale    bool
	staleAt  time.Time
	inflight *refreshCall
	gen      uint64
}

type refreshCall struct {
	done chan struct{}
	err  error
}

// New creates a Coordinator. The first snapshot appears after the
// first successful Refresh.
func New(opts Options) *Coordinator {
	if opts.Clock == nil {
		opts.Clock = &clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.WithComponent("coordinator")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Coordinator{
		client:   opts.Client,
		hub:      opts.Hub,
		recorder: opts.Recorder,
		clk:      opts.Clock,
		log:      opts.Logger,
		reg:      metrics.Get(),
		include:  opts.Include,
		exclude:  opts.Exclude,
		timeout:  opts.Timeout,
		state:    StateUnauthenticated,
	}
}

// Snapshot returns the latest snapshot, or nil before the first
// successful refresh. The snapshot is immutable; callers must not
// modify the maps.
func (c *Coordinator) Snapshot() *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

// Status describes the coordinator for the status endpoint.
type Status struct {
	State      string    `json:"state"`
	Generation uint64    `json:"generation"`
	LastError  string    `json:"last_error,omitempty"`
	Stale      bool      `json:"stale"`
	StaleSince time.Time `json:"stale_since,omitempty"`
	FetchedAt  time.Time `json:"fetched_at,omitempty"`
}

// Status reports the current lifecycle state.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{State: c.state.String(), Stale: c.stale}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	if c.stale {
		st.StaleSince = c.staleAt
	}
	if c.snapshot != nil {
		st.Generation = c.snapshot.Generation
		st.FetchedAt = c.snapshot.FetchedAt
	}
	return st
}

// SetFilters replaces the filter lists. Takes effect on the next
// refresh; used by SIGHUP reload.
func (c *Coordinator) SetFilters(include, exclude []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.include = include
	c.exclude = exclude
}

// Refresh fetches upstream state and installs a new snapshot.
// Concurrent callers coalesce onto one in-flight fetch and all receive
// its result.
func (c *Coordinator) Refresh(ctx context.Context) error {
	c.mu.Lock()
	if call := c.inflight; call != nil {
		c.mu.Unlock()
		c.reg.RefreshSkipped.Inc()
		select {
		case <-call.done:
			return call.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	call := &refreshCall{done: make(chan struct{})}
	c.inflight = call
	c.state = StateRefreshing
	c.mu.Unlock()

	call.err = c.refresh(ctx)

	c.mu.Lock()
	c.inflight = nil
	c.mu.Unlock()
	close(call.done)
	return call.err
}

// RequestRefresh triggers a refresh without waiting for the result.
// Used after mutations so entity state converges quickly.
func (c *Coordinator) RequestRefresh() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		if err := c.Refresh(ctx); err != nil {
			c.log.Warn("background refresh failed", "error", err)
		}
	}()
}

func (c *Coordinator) refresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := c.clk.Now()

	rules, skipped, err := c.fetchFilteredRules(ctx)
	if err != nil {
		return c.refreshFailed(start, err)
	}
	if skipped > 0 {
		c.reg.RecordsSkipped.WithLabelValues("rules").Add(float64(skipped))
	}

	devices, devSkipped, err := c.client.GetDevices(ctx)
	if err != nil {
		return c.refreshFailed(start, err)
	}
	if devSkipped > 0 {
		c.reg.RecordsSkipped.WithLabelValues("devices").Add(float64(devSkipped))
	}

	byMAC := make(map[string]msp.Device, len(devices))
	for _, d := range devices {
		byMAC[d.MAC] = d
	}

	c.mu.Lock()
	var prevRules map[string]msp.Rule
	if c.snapshot != nil {
		prevRules = c.snapshot.Rules
	}
	changes := detectChanges(prevRules, rules)
	c.gen++
	snap := &Snapshot{
		Generation: c.gen,
		FetchedAt:  c.clk.Now(),
		Rules:      rules,
		Devices:    byMAC,
		Stats:      calculateStats(rules),
		Changes:    changes,
	}
	prev := c.snapshot
	c.snapshot = snap
	c.state = StateReady
	c.lastErr = nil
	c.stale = false
	c.mu.Unlock()

	c.logChanges(prev, snap)
	c.recordChanges(snap)

	c.reg.RecordRefresh("ok", c.clk.Since(start))
	c.reg.LastRefresh.Set(float64(snap.FetchedAt.Unix()))
	c.reg.RecordSnapshot(snap.Stats.Total, snap.Stats.Active, snap.Stats.Paused, snap.Stats.Disabled, snap.Stats.ByType)
	c.reg.RecordChanges(len(changes.Added), len(changes.Removed), len(changes.Modified))
	online := 0
	for _, d := range devices {
		if d.Online {
			online++
		}
	}
	c.reg.DevicesTotal.Set(float64(len(devices)))
	c.reg.DevicesOnline.Set(float64(online))

	if c.hub != nil {
		c.hub.EmitSnapshotUpdated(snap.Generation, snap.Stats.Total, snap.Stats.Active, snap.Stats.Paused, len(devices))
		if !changes.Empty() {
			c.hub.EmitRulesChanged(changes.Added, changes.Removed, changes.Modified)
		}
	}

	c.log.Info("snapshot updated",
		"generation", snap.Generation,
		"rules", snap.Stats.Total,
		"active", snap.Stats.Active,
		"paused", snap.Stats.Paused,
		"devices", len(devices),
		"added", len(changes.Added),
		"removed", len(changes.Removed),
		"modified", len(changes.Modified))
	return nil
}

// refreshFailed classifies the error and decides whether the cached
// snapshot keeps serving. Transient failures leave the snapshot fresh
// enough; terminal ones mark it stale; auth failures drop back to
// unauthenticated until credentials change.
func (c *Coordinator) refreshFailed(start time.Time, err error) error {
	c.mu.Lock()
	c.lastErr = err
	terminal := !msp.Transient(err)
	if terminal && !c.stale {
		c.stale = true
		c.staleAt = c.clk.Now()
	}
	if msp.IsAuth(err) || c.snapshot == nil {
		c.state = StateUnauthenticated
	} else {
		c.state = StateReady
	}
	staleAt := c.staleAt
	c.mu.Unlock()

	kind := msp.ErrKind(err)
	c.reg.RecordRefresh("error", c.clk.Since(start))
	c.reg.UpstreamErrors.WithLabelValues(kind.String()).Inc()

	if msp.IsAuth(err) {
		c.reg.AuthFailures.Inc()
		if c.hub != nil {
			c.hub.EmitAuthRequired(err.Error())
		}
		c.log.Error("credentials rejected, refresh suspended until reconfigured", "error", err)
		return err
	}

	if c.hub != nil {
		data := events.RefreshFailedData{Error: err.Error(), Terminal: terminal}
		if terminal {
			data.StaleSince = staleAt.Format(time.RFC3339)
		}
		c.hub.Publish(events.Event{Type: events.EventRefreshFailed, Source: "coordinator", Data: data})
	}
	c.log.Warn("refresh failed, serving cached snapshot", "error", err, "terminal", terminal)
	return err
}

// fetchFilteredRules resolves the configured filters into upstream
// calls. Include filters are fetched one by one and unioned by id;
// exclude filters are fetched with the leading "-" stripped and their
// ids subtracted. With no filters there is exactly one unfiltered call.
func (c *Coordinator) fetchFilteredRules(ctx context.Context) (map[string]msp.Rule, int, error) {
	c.mu.Lock()
	include := c.include
	exclude := c.exclude
	c.mu.Unlock()

	result := make(map[string]msp.Rule)
	skipped := 0

	if len(include) == 0 {
		rules, n, err := c.client.GetRules(ctx, "")
		if err != nil {
			return nil, 0, err
		}
		skipped += n
		for _, r := range rules {
			result[r.ID] = r
		}
	} else {
		for _, query := range include {
			rules, n, err := c.client.GetRules(ctx, query)
			if err != nil {
				return nil, 0, err
			}
			skipped += n
			for _, r := range rules {
				result[r.ID] = r
			}
		}
	}

	for _, query := range exclude {
		query = strings.TrimPrefix(query, "-")
		rules, n, err := c.client.GetRules(ctx, query)
		if err != nil {
			return nil, 0, err
		}
		skipped += n
		for _, r := range rules {
			delete(result, r.ID)
		}
	}

	return result, skipped, nil
}

func (c *Coordinator) logChanges(prev, curr *Snapshot) {
	if prev == nil || curr.Changes.Empty() {
		return
	}
	if c.log.GetLevel() > logging.LevelDebug {
		return
	}
	for _, id := range curr.Changes.Modified {
		old, ok := prev.Rules[id]
		if !ok {
			continue
		}
		if diff := ruleDiff(old, curr.Rules[id]); diff != "" {
			c.log.Debug("rule modified", "id", id, "diff", diff)
		}
	}
}

func (c *Coordinator) recordChanges(snap *Snapshot) {
	if c.recorder == nil || snap.Changes.Empty() {
		return
	}
	record := func(change string, ids []string) {
		for _, id := range ids {
			summary := id
			if r, ok := snap.Rules[id]; ok {
				summary = r.DisplayName()
			}
			if err := c.recorder.RecordChange(snap.Generation, change, id, summary); err != nil {
				c.log.Warn("failed to journal rule change", "id", id, "error", err)
			}
		}
	}
	record("added", snap.Changes.Added)
	record("removed", snap.Changes.Removed)
	record("modified", snap.Changes.Modified)
}

// PauseRule suspends a rule. Pausing an already-paused rule is a
// success no-op.
func (c *Coordinator) PauseRule(ctx context.Context, id string) error {
	if id == "" {
		return &msp.Error{Kind: msp.KindValidation, Op: "pause", Message: "rule id is required"}
	}
	if rule, ok := c.Snapshot().Rule(id); ok && rule.Paused {
		c.log.Debug("rule already paused", "id", id)
		return nil
	}

	err := c.client.PauseRule(ctx, id)
	c.reg.RecordCommand("pause", err)
	if c.hub != nil {
		c.hub.EmitCommand("pause", id, err)
	}
	if err != nil {
		return err
	}
	c.RequestRefresh()
	return nil
}

// UnpauseRule resumes a paused rule. Unpausing an active rule is a
// success no-op.
func (c *Coordinator) UnpauseRule(ctx context.Context, id string) error {
	if id == "" {
		return &msp.Error{Kind: msp.KindValidation, Op: "unpause", Message: "rule id is required"}
	}
	if rule, ok := c.Snapshot().Rule(id); ok && rule.Active() {
		c.log.Debug("rule already active", "id", id)
		return nil
	}

	err := c.client.UnpauseRule(ctx, id)
	c.reg.RecordCommand("unpause", err)
	if c.hub != nil {
		c.hub.EmitCommand("unpause", id, err)
	}
	if err != nil {
		return err
	}
	c.RequestRefresh()
	return nil
}

// CreateRule creates a rule upstream and triggers a refresh so the
// next snapshot includes it.
func (c *Coordinator) CreateRule(ctx context.Context, nr msp.NewRule) (msp.Rule, error) {
	if nr.Action == "" {
		return msp.Rule{}, &msp.Error{Kind: msp.KindValidation, Op: "create", Message: "action is required"}
	}
	if nr.Target == "" {
		return msp.Rule{}, &msp.Error{Kind: msp.KindValidation, Op: "create", Message: "target is required"}
	}

	rule, err := c.client.CreateRule(ctx, nr)
	c.reg.RecordCommand("create", err)
	if c.hub != nil {
		c.hub.EmitCommand("create", rule.ID, err)
	}
	if err != nil {
		return msp.Rule{}, err
	}
	c.RequestRefresh()
	return rule, nil
}
