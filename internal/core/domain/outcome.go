package domain

// Category is the canonical outcome taxonomy every provider response is
// mapped into.
type Category string

const (
	// CategorySuccess: the item validated end to end.
	CategorySuccess Category = "success"
	// CategoryPartial: valid but not fully actionable (e.g. secondary
	// verification required). Billable like a success.
	CategoryPartial Category = "partial"
	// CategoryRejected: definitively invalid. Never retried.
	CategoryRejected Category = "rejected"
	// CategoryFailure: indeterminate or system-level failure. Retried
	// while attempts remain; the only category that counts against
	// provider health.
	CategoryFailure Category = "failure"
)

// Billable reports whether an outcome of this category is charged to
// the batch owner.
func (c Category) Billable() bool {
	return c == CategorySuccess || c == CategoryPartial
}

// Classification is the canonical result of classifying one raw
// provider outcome.
type Classification struct {
	Category Category `json:"category"`
	Code     string   `json:"code"`
	Message  string   `json:"message"`
}

// OutcomeRecord is the final, immutable result for one work item.
type OutcomeRecord struct {
	Category   Category `json:"category"`
	Code       string   `json:"code"`
	Message    string   `json:"message"`
	Index      int      `json:"index"`
	DurationMs int64    `json:"duration_ms"`
	Attempts   int      `json:"attempts"`

	// StopBatch carries a provider-wide block signal up to the
	// orchestrator's early-stop policy.
	StopBatch bool `json:"-"`
}

// BatchStats is the running aggregate for one batch. It is mutated only
// by the orchestrator's single result-aggregation point.
type BatchStats struct {
	Approved  int `json:"approved"`
	Partial   int `json:"partial"`
	Declined  int `json:"declined"`
	Errors    int `json:"errors"`
	Processed int `json:"processed"`
	Total     int `json:"total"`
}

// Record folds one outcome into the aggregate.
func (s *BatchStats) Record(category Category) {
	s.Processed++
	switch category {
	case CategorySuccess:
		s.Approved++
	case CategoryPartial:
		s.Partial++
	case CategoryRejected:
		s.Declined++
	case CategoryFailure:
		s.Errors++
	}
}

// Billable returns the number of billable outcomes recorded so far.
func (s *BatchStats) Billable() int {
	return s.Approved + s.Partial
}

// BatchResult is the terminal summary returned to the caller alongside
// the batchComplete event.
type BatchResult struct {
	BatchID     string          `json:"batch_id"`
	Results     []OutcomeRecord `json:"results"`
	Stats       BatchStats      `json:"stats"`
	Total       int             `json:"total"`
	Skipped     int             `json:"skipped"`
	Billable    int             `json:"billable_count"`
	DurationSec float64         `json:"duration_sec"`
	Aborted     bool            `json:"aborted"`
	Unavailable bool            `json:"unavailable"`
	Reason      string          `json:"reason,omitempty"`
	ProviderID  string          `json:"provider_id"`
}
