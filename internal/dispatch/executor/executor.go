// Package executor runs batches of tasks with bounded parallelism,
// per-slot pacing and cooperative cancellation.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/validly/dispatchd/internal/core/domain"
)

// Task is one schedulable unit. Run must never panic past the executor
// boundary; panics are caught and converted to a failure-category
// record so one bad item cannot abort the batch.
type Task struct {
	Index int
	Run   func(ctx context.Context) domain.OutcomeRecord
}

// Config holds the limits for one batch run.
type Config struct {
	// Concurrency is the number of worker slots. At most this many
	// tasks are ever in flight simultaneously.
	Concurrency int

	// InterTaskDelay is enforced between the start of successive task
	// dispatches on the same worker slot. Zero means full parallel
	// throughput.
	InterTaskDelay time.Duration
}

// Callbacks receive per-task completions. Both are invoked from a
// single aggregation point, never concurrently.
type Callbacks struct {
	OnResult   func(rec domain.OutcomeRecord)
	OnProgress func(completed, total int)
}

// Executor drains one batch of tasks through a fixed worker pool.
// Results are reported in completion order, not submission order;
// callers needing input order must use the record's Index.
type Executor struct {
	cfg       Config
	cancelled atomic.Bool
	log       *slog.Logger
}

// New creates an executor for a single batch run.
func New(cfg Config) *Executor {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Executor{
		cfg: cfg,
		log: slog.Default().With("component", "executor"),
	}
}

// Cancel prevents new task dispatches. In-flight tasks are never
// interrupted; they complete and report their result.
func (e *Executor) Cancel() {
	e.cancelled.Store(true)
}

// Cancelled reports whether the batch was cancelled.
func (e *Executor) Cancelled() bool {
	return e.cancelled.Load()
}

// message is what a worker reports for one task: a completed record or
// a skipped index (task never started because of cancellation).
type message struct {
	rec     domain.OutcomeRecord
	skipped bool
	index   int
}

// ExecuteBatch blocks until every task has either completed or been
// skipped. It returns completed records in completion order plus the
// indexes of tasks skipped after cancellation.
func (e *Executor) ExecuteBatch(ctx context.Context, tasks []Task, cb Callbacks) ([]domain.OutcomeRecord, []int) {
	total := len(tasks)
	if total == 0 {
		return nil, nil
	}

	queue := make(chan Task, total)
	for _, t := range tasks {
		queue <- t
	}
	close(queue)

	out := make(chan message, total)

	var wg sync.WaitGroup
	workers := min(e.cfg.Concurrency, total)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.workerLoop(ctx, queue, out)
		}()
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	// Single aggregation point: all callbacks fire from this loop, so
	// stats updates downstream need no locking.
	completed := make([]domain.OutcomeRecord, 0, total)
	var skipped []int
	for msg := range out {
		if msg.skipped {
			skipped = append(skipped, msg.index)
			continue
		}
		completed = append(completed, msg.rec)
		if cb.OnResult != nil {
			cb.OnResult(msg.rec)
		}
		if cb.OnProgress != nil {
			cb.OnProgress(len(completed), total)
		}
	}

	return completed, skipped
}

func (e *Executor) workerLoop(ctx context.Context, queue <-chan Task, out chan<- message) {
	var lastStart time.Time

	for task := range queue {
		if e.shouldSkip(ctx) {
			out <- message{skipped: true, index: task.Index}
			continue
		}

		// Pace successive dispatches on this slot.
		if e.cfg.InterTaskDelay > 0 && !lastStart.IsZero() {
			wait := e.cfg.InterTaskDelay - time.Since(lastStart)
			if wait > 0 && !sleep(ctx, wait) {
				out <- message{skipped: true, index: task.Index}
				continue
			}
			// Re-check after pacing: a cancel during the delay means
			// this task was never dispatched.
			if e.shouldSkip(ctx) {
				out <- message{skipped: true, index: task.Index}
				continue
			}
		}

		lastStart = time.Now()
		out <- message{rec: e.runTask(ctx, task)}
	}
}

func (e *Executor) shouldSkip(ctx context.Context) bool {
	return e.cancelled.Load() || ctx.Err() != nil
}

// runTask executes one task, converting panics into a failure record
// at the task boundary.
func (e *Executor) runTask(ctx context.Context, task Task) (rec domain.OutcomeRecord) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("task panicked", "index", task.Index, "panic", r)
			rec = domain.OutcomeRecord{
				Category:   domain.CategoryFailure,
				Code:       "internal_error",
				Message:    fmt.Sprintf("task panicked: %v", r),
				Index:      task.Index,
				DurationMs: time.Since(started).Milliseconds(),
				Attempts:   1,
			}
		}
	}()

	return task.Run(ctx)
}

// sleep waits for d or until the context is done. Returns false if the
// context expired first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
