// Package orchestrator drives one batch end to end: lock, health
// pre-flight, bounded-parallel execution, classification, retry with
// identity rotation, aggregation and the event lifecycle.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/validly/dispatchd/internal/core/classify"
	"github.com/validly/dispatchd/internal/core/domain"
	"github.com/validly/dispatchd/internal/core/tier"
	"github.com/validly/dispatchd/internal/dispatch/executor"
	"github.com/validly/dispatchd/internal/dispatch/health"
	"github.com/validly/dispatchd/internal/dispatch/lock"
	"github.com/validly/dispatchd/internal/dispatch/metrics"
	"github.com/validly/dispatchd/internal/infra/identity"
	"github.com/validly/dispatchd/internal/infra/provider"
)

// RetryConfig controls transient-failure retries per work item.
type RetryConfig struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffMultiple float64
}

// DefaultRetryConfig provides sensible defaults.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:     3,
	InitialDelay:    1 * time.Second,
	MaxDelay:        30 * time.Second,
	BackoffMultiple: 2.0,
}

// Request describes one batch to run.
type Request struct {
	OwnerID    string
	ProviderID string
	Tier       string
	Items      []domain.WorkItem

	// Emitter receives the batch lifecycle. Nil means events are
	// discarded.
	Emitter domain.Emitter
}

// Orchestrator runs batches. One instance serves all users; per-batch
// state lives on the stack of Run.
type Orchestrator struct {
	health     *health.Tracker
	locks      *lock.Service
	registry   *provider.Registry
	identities identity.Provider
	tiers      *tier.Policy
	retry      RetryConfig
	log        *slog.Logger
}

// New wires an orchestrator.
func New(
	healthTracker *health.Tracker,
	locks *lock.Service,
	registry *provider.Registry,
	identities identity.Provider,
	tiers *tier.Policy,
	retry RetryConfig,
) *Orchestrator {
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}
	return &Orchestrator{
		health:     healthTracker,
		locks:      locks,
		registry:   registry,
		identities: identities,
		tiers:      tiers,
		retry:      retry,
		log:        slog.Default().With("component", "orchestrator"),
	}
}

// Run executes one batch and blocks until the terminal batchComplete
// event has been emitted. The event sequence is fixed: start, zero or
// more result/progress pairs, then exactly one batchComplete — even on
// abort, lock failure or provider unavailability.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*domain.BatchResult, error) {
	emitter := req.Emitter
	if emitter == nil {
		emitter = domain.NopEmitter{}
	}

	batchID := uuid.NewString()
	res := &domain.BatchResult{
		BatchID:    batchID,
		ProviderID: req.ProviderID,
		Total:      len(req.Items),
		Stats:      domain.BatchStats{Total: len(req.Items)},
	}

	adapter, err := o.registry.Get(req.ProviderID)
	if err != nil {
		res.Unavailable = true
		res.Reason = err.Error()
		metrics.BatchesCompleted.WithLabelValues(req.ProviderID, "unavailable").Inc()
		emitter.BatchComplete(domain.BatchCompleteEvent{BatchResult: *res})
		return res, err
	}

	// Health pre-flight: a disabled provider short-circuits before the
	// lock is touched and before any item is dispatched.
	if !o.health.IsAvailable(req.ProviderID) {
		res.Unavailable = true
		res.Reason = o.health.ReasonUnavailable(req.ProviderID)
		o.log.Warn("batch refused, provider unavailable",
			"provider", req.ProviderID, "owner", req.OwnerID, "reason", res.Reason)
		metrics.BatchesCompleted.WithLabelValues(req.ProviderID, "unavailable").Inc()
		emitter.BatchComplete(domain.BatchCompleteEvent{BatchResult: *res})
		return res, nil
	}

	// One lock per batch, never per item.
	operationID, err := o.locks.Acquire(ctx, req.OwnerID, req.ProviderID)
	if err != nil {
		var lockErr *lock.Error
		if errors.As(err, &lockErr) && lockErr.Code == lock.CodeOperationLocked {
			metrics.LockContention.WithLabelValues(req.ProviderID).Inc()
		}
		res.Aborted = true
		res.Reason = err.Error()
		metrics.BatchesCompleted.WithLabelValues(req.ProviderID, "lock_failed").Inc()
		emitter.BatchComplete(domain.BatchCompleteEvent{BatchResult: *res})
		return res, err
	}

	started := time.Now()
	o.log.Info("batch started",
		"batch", batchID, "owner", req.OwnerID,
		"provider", req.ProviderID, "tier", req.Tier, "total", len(req.Items))

	// The terminal path: release the lock, then emit batchComplete
	// exactly once, whatever happened above it.
	defer func() {
		res.DurationSec = time.Since(started).Seconds()
		res.Billable = res.Stats.Billable()

		o.locks.Release(context.WithoutCancel(ctx), req.OwnerID, operationID, finalState(res))
		metrics.BatchesCompleted.WithLabelValues(req.ProviderID, finalState(res)).Inc()
		emitter.BatchComplete(domain.BatchCompleteEvent{BatchResult: *res})

		o.log.Info("batch complete",
			"batch", batchID,
			"processed", res.Stats.Processed, "total", res.Total,
			"billable", res.Billable, "aborted", res.Aborted,
			"duration", time.Since(started))
	}()

	metrics.BatchesStarted.WithLabelValues(req.ProviderID).Inc()
	emitter.Start(domain.StartEvent{BatchID: batchID, ProviderID: req.ProviderID, Total: len(req.Items)})

	limits := o.tiers.LimitsFor(req.Tier)
	exec := executor.New(executor.Config{
		Concurrency:    limits.Concurrency,
		InterTaskDelay: limits.InterTaskDelay,
	})

	tasks := make([]executor.Task, len(req.Items))
	for i, item := range req.Items {
		item := item
		tasks[i] = executor.Task{
			Index: item.Index,
			Run: func(taskCtx context.Context) domain.OutcomeRecord {
				return o.processItem(taskCtx, adapter, req.ProviderID, item)
			},
		}
	}

	// All aggregation below runs on the executor's single callback
	// goroutine, so stats and result appends need no locking.
	_, skipped := exec.ExecuteBatch(ctx, tasks, executor.Callbacks{
		OnResult: func(rec domain.OutcomeRecord) {
			res.Results = append(res.Results, rec)
			res.Stats.Record(rec.Category)
			o.recordHealth(req.ProviderID, rec)
			metrics.OutcomesTotal.WithLabelValues(req.ProviderID, string(rec.Category)).Inc()
			metrics.ItemDuration.WithLabelValues(req.ProviderID).Observe(float64(rec.DurationMs) / 1000)

			emitter.Result(domain.ResultEvent{
				Category:   rec.Category,
				Code:       rec.Code,
				Message:    rec.Message,
				Index:      rec.Index,
				DurationMs: rec.DurationMs,
			})

			// Early-stop policy: a provider-wide block signal or a
			// mid-batch circuit trip stops new dispatches. In-flight
			// items still complete and report.
			if rec.StopBatch && !exec.Cancelled() {
				o.log.Warn("provider block signal, stopping batch", "batch", batchID, "index", rec.Index)
				res.Reason = "provider block signal"
				exec.Cancel()
			}
			if !o.health.IsAvailable(req.ProviderID) && !exec.Cancelled() {
				o.log.Warn("provider disabled mid-batch, stopping batch", "batch", batchID)
				res.Reason = o.health.ReasonUnavailable(req.ProviderID)
				exec.Cancel()
			}
		},
		OnProgress: func(done, total int) {
			emitter.Progress(domain.ProgressEvent{
				Processed: res.Stats.Processed,
				Total:     total,
				Approved:  res.Stats.Approved,
				Partial:   res.Stats.Partial,
				Declined:  res.Stats.Declined,
				Errors:    res.Stats.Errors,
			})
		},
	})

	res.Skipped = len(skipped)
	res.Aborted = exec.Cancelled() || ctx.Err() != nil
	if res.Aborted && res.Reason == "" {
		res.Reason = "cancelled"
	}

	return res, nil
}

// recordHealth feeds one final outcome into the circuit breaker. Only
// the final classification counts; retried attempts never reach here.
func (o *Orchestrator) recordHealth(providerID string, rec domain.OutcomeRecord) {
	if rec.Category == domain.CategoryFailure {
		o.health.RecordFailure(providerID, rec.Message, rec.Category)
	} else {
		o.health.RecordSuccess(providerID, time.Duration(rec.DurationMs)*time.Millisecond)
	}

	if o.health.IsAvailable(providerID) {
		metrics.ProviderDisabled.WithLabelValues(providerID).Set(0)
	} else {
		metrics.ProviderDisabled.WithLabelValues(providerID).Set(1)
	}
}

// processItem runs one work item to its final classification, retrying
// transient failures with a fresh identity each attempt. Rejected,
// Success and Partial outcomes are definitive and never retried.
func (o *Orchestrator) processItem(ctx context.Context, adapter provider.Adapter, providerID string, item domain.WorkItem) domain.OutcomeRecord {
	metrics.TasksInFlight.WithLabelValues(providerID).Inc()
	defer metrics.TasksInFlight.WithLabelValues(providerID).Dec()

	started := time.Now()
	var cls domain.Classification
	var stopBatch bool
	attempts := 0

	for attempt := 1; attempt <= o.retry.MaxAttempts; attempt++ {
		attempts = attempt
		ident := o.identities.Next()

		raw, err := adapter.Process(ctx, item, ident)
		switch {
		case errors.Is(err, provider.ErrInvalidInput):
			// Malformed input is definitive: no retry, no health impact.
			cls = domain.Classification{
				Category: domain.CategoryRejected,
				Code:     "invalid_format",
				Message:  "Invalid format",
			}
		case err != nil:
			cls = domain.Classification{
				Category: domain.CategoryFailure,
				Code:     "network_error",
				Message:  err.Error(),
			}
		default:
			stopBatch = raw.StopBatch
			cls = classify.Classify(classify.FromRaw(raw))
		}

		if cls.Category != domain.CategoryFailure || attempt == o.retry.MaxAttempts {
			break
		}

		metrics.ItemRetries.WithLabelValues(providerID).Inc()
		o.log.Debug("retrying item",
			"provider", providerID, "index", item.Index,
			"attempt", attempt, "code", cls.Code)
		if !sleep(ctx, backoff(attempt, o.retry)) {
			break
		}
	}

	return domain.OutcomeRecord{
		Category:   cls.Category,
		Code:       cls.Code,
		Message:    cls.Message,
		Index:      item.Index,
		DurationMs: time.Since(started).Milliseconds(),
		Attempts:   attempts,
		StopBatch:  stopBatch,
	}
}

func finalState(res *domain.BatchResult) string {
	if res.Aborted {
		return "aborted"
	}
	return "completed"
}

func backoff(attempt int, cfg RetryConfig) time.Duration {
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.BackoffMultiple, float64(attempt-1))
	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	return time.Duration(delay)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
