// Package health tracks per-provider failure streaks and disables
// providers that keep failing (circuit breaker).
package health

import (
	"log/slog"
	"sync"
	"time"

	"github.com/validly/dispatchd/internal/core/domain"
)

// Config controls when a provider trips and for how long.
type Config struct {
	// FailureThreshold is the number of consecutive counted failures
	// before the provider is disabled.
	FailureThreshold int

	// CoolDown is how long a tripped provider stays disabled.
	CoolDown time.Duration
}

// CountPolicy decides whether an outcome category counts against
// provider health. The default counts only Failure: a definitive
// decline means the provider responded, not that it is broken.
type CountPolicy func(category domain.Category) bool

// DefaultCountPolicy counts only failure-category outcomes.
func DefaultCountPolicy(category domain.Category) bool {
	return category == domain.CategoryFailure
}

// Snapshot is the lock-free read view of one provider's availability.
// Staleness of at most one update is acceptable by contract.
type Snapshot struct {
	ProviderID          string    `json:"provider_id"`
	Available           bool      `json:"available"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailureReason   string    `json:"last_failure_reason,omitempty"`
	DisabledUntil       time.Time `json:"disabled_until,omitzero"`
	LastLatencyMs       int64     `json:"last_latency_ms"`
}

// providerState is the mutable record behind one provider. Writes go
// through its own mutex; reads go through the published snapshot.
type providerState struct {
	mu                  sync.Mutex
	consecutiveFailures int
	lastFailureReason   string
	disabledUntil       time.Time
	lastLatency         time.Duration
}

// Tracker holds health state for every provider seen by this process.
// One Tracker is shared by all concurrent batches.
type Tracker struct {
	cfg    Config
	counts CountPolicy
	log    *slog.Logger

	mu        sync.Mutex // guards creation in states
	states    map[string]*providerState
	snapshots sync.Map // providerID -> Snapshot
}

// NewTracker creates a tracker. A nil policy uses DefaultCountPolicy.
func NewTracker(cfg Config, counts CountPolicy) *Tracker {
	if counts == nil {
		counts = DefaultCountPolicy
	}
	return &Tracker{
		cfg:    cfg,
		counts: counts,
		log:    slog.Default().With("component", "health"),
		states: make(map[string]*providerState),
	}
}

func (t *Tracker) state(providerID string) *providerState {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.states[providerID]; ok {
		return s
	}
	s := &providerState{}
	t.states[providerID] = s
	return s
}

// RecordSuccess resets the provider's failure streak. It does not
// re-enable a provider that is still cooling down.
func (t *Tracker) RecordSuccess(providerID string, latency time.Duration) {
	s := t.state(providerID)

	s.mu.Lock()
	s.consecutiveFailures = 0
	s.lastFailureReason = ""
	s.lastLatency = latency
	t.publishLocked(providerID, s)
	s.mu.Unlock()
}

// RecordFailure counts one outcome against the provider if the policy
// says the category reflects provider breakage. Crossing the threshold
// disables the provider for the configured cool-down.
func (t *Tracker) RecordFailure(providerID, reason string, category domain.Category) {
	if !t.counts(category) {
		// The provider responded; a decline is not a health signal,
		// but it still breaks a failure streak.
		t.RecordSuccess(providerID, 0)
		return
	}

	s := t.state(providerID)

	s.mu.Lock()
	s.consecutiveFailures++
	s.lastFailureReason = reason
	if s.consecutiveFailures >= t.cfg.FailureThreshold {
		s.disabledUntil = time.Now().Add(t.cfg.CoolDown)
		s.consecutiveFailures = 0
		t.log.Warn("provider disabled",
			"provider", providerID,
			"reason", reason,
			"cool_down", t.cfg.CoolDown)
	}
	t.publishLocked(providerID, s)
	s.mu.Unlock()
}

// publishLocked refreshes the lock-free snapshot. Caller holds s.mu.
func (t *Tracker) publishLocked(providerID string, s *providerState) {
	t.snapshots.Store(providerID, Snapshot{
		ProviderID:          providerID,
		Available:           time.Now().After(s.disabledUntil),
		ConsecutiveFailures: s.consecutiveFailures,
		LastFailureReason:   s.lastFailureReason,
		DisabledUntil:       s.disabledUntil,
		LastLatencyMs:       s.lastLatency.Milliseconds(),
	})
}

// IsAvailable reports whether the provider may receive new items. The
// read is a lock-free snapshot.
func (t *Tracker) IsAvailable(providerID string) bool {
	v, ok := t.snapshots.Load(providerID)
	if !ok {
		return true // never seen means never failed
	}
	snap := v.(Snapshot)
	return time.Now().After(snap.DisabledUntil)
}

// ReasonUnavailable returns the last failure reason for a disabled
// provider, or "" when the provider is available.
func (t *Tracker) ReasonUnavailable(providerID string) string {
	v, ok := t.snapshots.Load(providerID)
	if !ok {
		return ""
	}
	snap := v.(Snapshot)
	if time.Now().After(snap.DisabledUntil) {
		return ""
	}
	if snap.LastFailureReason == "" {
		return "provider temporarily disabled"
	}
	return snap.LastFailureReason
}

// SnapshotFor returns the current view of one provider.
func (t *Tracker) SnapshotFor(providerID string) Snapshot {
	v, ok := t.snapshots.Load(providerID)
	if !ok {
		return Snapshot{ProviderID: providerID, Available: true}
	}
	snap := v.(Snapshot)
	snap.Available = time.Now().After(snap.DisabledUntil)
	return snap
}

// Snapshots returns the current view of every tracked provider.
func (t *Tracker) Snapshots() []Snapshot {
	var out []Snapshot
	t.snapshots.Range(func(_, v any) bool {
		snap := v.(Snapshot)
		snap.Available = time.Now().After(snap.DisabledUntil)
		out = append(out, snap)
		return true
	})
	return out
}
