package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/validly/dispatchd/internal/core/config"
	"github.com/validly/dispatchd/internal/core/domain"
	"github.com/validly/dispatchd/internal/core/tier"
	"github.com/validly/dispatchd/internal/dispatch/health"
	"github.com/validly/dispatchd/internal/dispatch/lock"
	"github.com/validly/dispatchd/internal/infra/identity"
	"github.com/validly/dispatchd/internal/infra/provider"
)

// processFunc drives the fake adapter per test.
type processFunc func(item domain.WorkItem, ident identity.Identity) (domain.RawOutcome, error)

type fakeAdapter struct {
	name string
	fn   processFunc
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Process(_ context.Context, item domain.WorkItem, ident identity.Identity) (domain.RawOutcome, error) {
	return f.fn(item, ident)
}

// recordingEmitter captures the event lifecycle. The orchestrator
// serializes all calls, so no locking is needed.
type recordingEmitter struct {
	starts    []domain.StartEvent
	progress  []domain.ProgressEvent
	results   []domain.ResultEvent
	completes []domain.BatchCompleteEvent
	order     []string
}

func (r *recordingEmitter) Start(e domain.StartEvent) {
	r.starts = append(r.starts, e)
	r.order = append(r.order, "start")
}

func (r *recordingEmitter) Progress(e domain.ProgressEvent) {
	r.progress = append(r.progress, e)
	r.order = append(r.order, "progress")
}

func (r *recordingEmitter) Result(e domain.ResultEvent) {
	r.results = append(r.results, e)
	r.order = append(r.order, "result")
}

func (r *recordingEmitter) BatchComplete(e domain.BatchCompleteEvent) {
	r.completes = append(r.completes, e)
	r.order = append(r.order, "batchComplete")
}

type fixture struct {
	orch   *Orchestrator
	health *health.Tracker
	locks  *lock.Service
}

func newFixture(t *testing.T, healthCfg health.Config, fn processFunc) *fixture {
	t.Helper()

	registry := provider.NewRegistry()
	registry.RegisterType("fake", func(cfg config.ProviderConfig) (provider.Adapter, error) {
		return &fakeAdapter{name: cfg.Name, fn: fn}, nil
	})
	if err := registry.Build([]config.ProviderConfig{{Name: "p1", Type: "fake"}}); err != nil {
		t.Fatalf("registry build failed: %v", err)
	}

	tracker := health.NewTracker(healthCfg, nil)
	locks := lock.NewService(lock.NewMemoryStore(), time.Minute)
	tiers := tier.NewPolicy(map[string]config.TierConfig{
		"free": {Concurrency: 2, InterTaskDelay: 0},
	})
	identities := identity.NewPool([]config.IdentityConfig{
		{Fingerprint: "fp-a", Proxy: ""},
		{Fingerprint: "fp-b", Proxy: ""},
	})

	retry := RetryConfig{
		MaxAttempts:     3,
		InitialDelay:    time.Millisecond,
		MaxDelay:        5 * time.Millisecond,
		BackoffMultiple: 2.0,
	}

	return &fixture{
		orch:   New(tracker, locks, registry, identities, tiers, retry),
		health: tracker,
		locks:  locks,
	}
}

func items(n int) []domain.WorkItem {
	out := make([]domain.WorkItem, n)
	for i := range out {
		out[i] = domain.WorkItem{Index: i, Payload: fmt.Sprintf("card-%d", i)}
	}
	return out
}

func approveAll(domain.WorkItem, identity.Identity) (domain.RawOutcome, error) {
	return domain.RawOutcome{Code: "approved"}, nil
}

func defaultHealth() health.Config {
	return health.Config{FailureThreshold: 5, CoolDown: time.Minute}
}

func TestRun_AllApproved(t *testing.T) {
	f := newFixture(t, defaultHealth(), approveAll)
	em := &recordingEmitter{}

	res, err := f.orch.Run(context.Background(), Request{
		OwnerID:    "user1",
		ProviderID: "p1",
		Tier:       "free",
		Items:      items(5),
		Emitter:    em,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if res.Aborted {
		t.Error("batch should not be aborted")
	}
	if res.Stats.Approved != 5 {
		t.Errorf("approved = %d, want 5", res.Stats.Approved)
	}
	if res.Billable != 5 {
		t.Errorf("billable = %d, want 5", res.Billable)
	}
	if len(em.results) != 5 {
		t.Errorf("result events = %d, want 5", len(em.results))
	}
	if len(em.completes) != 1 {
		t.Fatalf("batchComplete events = %d, want exactly 1", len(em.completes))
	}
	if len(em.starts) != 1 {
		t.Errorf("start events = %d, want 1", len(em.starts))
	}

	// batchComplete is strictly last.
	if em.order[len(em.order)-1] != "batchComplete" {
		t.Errorf("last event = %s, want batchComplete", em.order[len(em.order)-1])
	}

	// Progress counts are monotonically non-decreasing.
	last := 0
	for _, p := range em.progress {
		if p.Processed < last {
			t.Errorf("progress went backwards: %d after %d", p.Processed, last)
		}
		last = p.Processed
	}
}

func TestRun_LockReleasedAfterBatch(t *testing.T) {
	f := newFixture(t, defaultHealth(), approveAll)

	for i := 0; i < 3; i++ {
		if _, err := f.orch.Run(context.Background(), Request{
			OwnerID: "user1", ProviderID: "p1", Tier: "free", Items: items(2),
		}); err != nil {
			t.Fatalf("run %d failed: %v", i, err)
		}
	}
}

func TestRun_UnavailableProviderShortCircuits(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, health.Config{FailureThreshold: 1, CoolDown: time.Hour},
		func(domain.WorkItem, identity.Identity) (domain.RawOutcome, error) {
			calls.Add(1)
			return domain.RawOutcome{Code: "approved"}, nil
		})

	// Trip the breaker.
	f.health.RecordFailure("p1", "connection timeout", domain.CategoryFailure)

	em := &recordingEmitter{}
	res, err := f.orch.Run(context.Background(), Request{
		OwnerID: "user1", ProviderID: "p1", Tier: "free", Items: items(4), Emitter: em,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !res.Unavailable {
		t.Error("result should be unavailable")
	}
	if res.Reason == "" {
		t.Error("unavailable result should carry a reason")
	}
	if len(res.Results) != 0 {
		t.Errorf("results = %d, want 0", len(res.Results))
	}
	if calls.Load() != 0 {
		t.Errorf("adapter called %d times, want 0", calls.Load())
	}
	if len(em.completes) != 1 {
		t.Errorf("batchComplete events = %d, want 1", len(em.completes))
	}

	// The lock must not have been touched.
	if rec, _ := f.locks.Holder(context.Background(), "user1"); rec != nil {
		t.Error("lock should not be held after an unavailable pre-flight")
	}
}

func TestRun_SecondBatchLocked(t *testing.T) {
	f := newFixture(t, defaultHealth(), approveAll)

	opID, err := f.locks.Acquire(context.Background(), "user1", "p1")
	if err != nil {
		t.Fatalf("setup acquire failed: %v", err)
	}

	em := &recordingEmitter{}
	res, err := f.orch.Run(context.Background(), Request{
		OwnerID: "user1", ProviderID: "p1", Tier: "free", Items: items(3), Emitter: em,
	})
	if err == nil {
		t.Fatal("Run should fail while the owner holds a lock")
	}

	var lockErr *lock.Error
	if !errors.As(err, &lockErr) {
		t.Fatalf("error type = %T, want *lock.Error", err)
	}
	if lockErr.Code != lock.CodeOperationLocked {
		t.Errorf("code = %s, want %s", lockErr.Code, lock.CodeOperationLocked)
	}
	if lockErr.ExistingOperationID != opID {
		t.Errorf("existing operation = %s, want %s", lockErr.ExistingOperationID, opID)
	}
	if len(res.Results) != 0 {
		t.Errorf("results = %d, want 0", len(res.Results))
	}
	if len(em.completes) != 1 {
		t.Errorf("batchComplete events = %d, want exactly 1 even on lock failure", len(em.completes))
	}
}

func TestRun_EarlyStopOnBlockSignal(t *testing.T) {
	f := newFixture(t, defaultHealth(),
		func(item domain.WorkItem, _ identity.Identity) (domain.RawOutcome, error) {
			if item.Index == 0 {
				return domain.RawOutcome{Code: "captcha_required", StopBatch: true}, nil
			}
			time.Sleep(2 * time.Millisecond)
			return domain.RawOutcome{Code: "approved"}, nil
		})

	em := &recordingEmitter{}
	res, err := f.orch.Run(context.Background(), Request{
		OwnerID: "user1", ProviderID: "p1", Tier: "free", Items: items(20), Emitter: em,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !res.Aborted {
		t.Error("batch should be aborted after a block signal")
	}
	if res.Skipped == 0 {
		t.Error("some queued items should have been skipped")
	}
	if len(res.Results)+res.Skipped != res.Total {
		t.Errorf("results(%d) + skipped(%d) != total(%d)", len(res.Results), res.Skipped, res.Total)
	}
	// Skipped items are excluded from stats.
	if res.Stats.Processed != len(res.Results) {
		t.Errorf("processed = %d, want %d", res.Stats.Processed, len(res.Results))
	}
	if len(em.completes) != 1 {
		t.Errorf("batchComplete events = %d, want 1", len(em.completes))
	}
}

func TestRun_TransientRetrySucceeds(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, defaultHealth(),
		func(item domain.WorkItem, _ identity.Identity) (domain.RawOutcome, error) {
			if calls.Add(1) <= 2 {
				return domain.RawOutcome{}, errors.New("connection reset")
			}
			return domain.RawOutcome{Code: "approved"}, nil
		})

	res, err := f.orch.Run(context.Background(), Request{
		OwnerID: "user1", ProviderID: "p1", Tier: "free", Items: items(1),
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(res.Results) != 1 {
		t.Fatalf("results = %d, want 1", len(res.Results))
	}
	rec := res.Results[0]
	if rec.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", rec.Attempts)
	}
	if rec.Category != domain.CategorySuccess {
		t.Errorf("category = %s, want success (final attempt wins)", rec.Category)
	}

	// A final success leaves provider health untouched.
	if !f.health.IsAvailable("p1") {
		t.Error("provider should remain available")
	}
	if snap := f.health.SnapshotFor("p1"); snap.ConsecutiveFailures != 0 {
		t.Errorf("consecutive failures = %d, want 0", snap.ConsecutiveFailures)
	}
}

func TestRun_RetriesExhaustedYieldFailure(t *testing.T) {
	f := newFixture(t, defaultHealth(),
		func(domain.WorkItem, identity.Identity) (domain.RawOutcome, error) {
			return domain.RawOutcome{}, errors.New("proxy unreachable")
		})

	res, err := f.orch.Run(context.Background(), Request{
		OwnerID: "user1", ProviderID: "p1", Tier: "free", Items: items(1),
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	rec := res.Results[0]
	if rec.Category != domain.CategoryFailure {
		t.Errorf("category = %s, want failure", rec.Category)
	}
	if rec.Attempts != 3 {
		t.Errorf("attempts = %d, want 3 (retry maximum)", rec.Attempts)
	}
	if res.Billable != 0 {
		t.Errorf("billable = %d, want 0", res.Billable)
	}
}

func TestRun_DeclinesNeverRetried(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, defaultHealth(),
		func(domain.WorkItem, identity.Identity) (domain.RawOutcome, error) {
			calls.Add(1)
			return domain.RawOutcome{Code: "do_not_honor"}, nil
		})

	res, err := f.orch.Run(context.Background(), Request{
		OwnerID: "user1", ProviderID: "p1", Tier: "free", Items: items(1),
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if calls.Load() != 1 {
		t.Errorf("adapter calls = %d, want 1 (declines are definitive)", calls.Load())
	}
	if res.Results[0].Category != domain.CategoryRejected {
		t.Errorf("category = %s, want rejected", res.Results[0].Category)
	}
	if !f.health.IsAvailable("p1") {
		t.Error("declines must not count against provider health")
	}
}

func TestRun_InvalidInputRejectedWithoutRetry(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, defaultHealth(),
		func(domain.WorkItem, identity.Identity) (domain.RawOutcome, error) {
			calls.Add(1)
			return domain.RawOutcome{}, provider.ErrInvalidInput
		})

	res, err := f.orch.Run(context.Background(), Request{
		OwnerID: "user1", ProviderID: "p1", Tier: "free", Items: items(1),
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	rec := res.Results[0]
	if rec.Category != domain.CategoryRejected {
		t.Errorf("category = %s, want rejected", rec.Category)
	}
	if rec.Code != "invalid_format" {
		t.Errorf("code = %s, want invalid_format", rec.Code)
	}
	if calls.Load() != 1 {
		t.Errorf("adapter calls = %d, want 1", calls.Load())
	}
	if !f.health.IsAvailable("p1") {
		t.Error("invalid input must not count against provider health")
	}
}

func TestRun_UnknownProvider(t *testing.T) {
	f := newFixture(t, defaultHealth(), approveAll)

	em := &recordingEmitter{}
	res, err := f.orch.Run(context.Background(), Request{
		OwnerID: "user1", ProviderID: "nope", Tier: "free", Items: items(1), Emitter: em,
	})
	if err == nil {
		t.Fatal("unknown provider should error")
	}
	if !res.Unavailable {
		t.Error("result should be unavailable")
	}
	if len(em.completes) != 1 {
		t.Errorf("batchComplete events = %d, want 1", len(em.completes))
	}
}

func TestRun_EmptyOwnerAuthRequired(t *testing.T) {
	f := newFixture(t, defaultHealth(), approveAll)

	_, err := f.orch.Run(context.Background(), Request{
		OwnerID: "", ProviderID: "p1", Tier: "free", Items: items(1),
	})

	var lockErr *lock.Error
	if !errors.As(err, &lockErr) {
		t.Fatalf("error type = %T, want *lock.Error", err)
	}
	if lockErr.Code != lock.CodeAuthRequired {
		t.Errorf("code = %s, want %s", lockErr.Code, lock.CodeAuthRequired)
	}
}

func TestRun_MixedOutcomesStats(t *testing.T) {
	f := newFixture(t, defaultHealth(),
		func(item domain.WorkItem, _ identity.Identity) (domain.RawOutcome, error) {
			switch item.Index % 3 {
			case 0:
				return domain.RawOutcome{Code: "approved"}, nil
			case 1:
				return domain.RawOutcome{Code: "insufficient_funds"}, nil
			default:
				return domain.RawOutcome{Code: "do_not_honor"}, nil
			}
		})

	res, err := f.orch.Run(context.Background(), Request{
		OwnerID: "user1", ProviderID: "p1", Tier: "free", Items: items(9),
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if res.Stats.Approved != 3 || res.Stats.Partial != 3 || res.Stats.Declined != 3 {
		t.Errorf("stats = %+v, want 3/3/3", res.Stats)
	}
	if res.Billable != 6 {
		t.Errorf("billable = %d, want 6 (success + partial)", res.Billable)
	}
}
