package domain

// Batch lifecycle events. The orchestrator emits a fixed sequence:
// Start, zero or more Result/Progress pairs, then exactly one
// BatchComplete (even on abort or lock failure).

type StartEvent struct {
	BatchID    string `json:"batch_id"`
	ProviderID string `json:"provider_id"`
	Total      int    `json:"total"`
}

type ProgressEvent struct {
	Processed int `json:"processed"`
	Total     int `json:"total"`
	Approved  int `json:"approved"`
	Partial   int `json:"partial"`
	Declined  int `json:"declined"`
	Errors    int `json:"errors"`
}

type ResultEvent struct {
	Category   Category `json:"category"`
	Code       string   `json:"code"`
	Message    string   `json:"message"`
	Index      int      `json:"index"`
	DurationMs int64    `json:"duration_ms"`
}

type BatchCompleteEvent struct {
	BatchResult
}

// Emitter receives batch lifecycle events. Implementations must be
// safe to call from the orchestrator's aggregation goroutine; calls
// are already serialized, never concurrent.
type Emitter interface {
	Start(StartEvent)
	Progress(ProgressEvent)
	Result(ResultEvent)
	BatchComplete(BatchCompleteEvent)
}

// NopEmitter discards all events.
type NopEmitter struct{}

func (NopEmitter) Start(StartEvent)                 {}
func (NopEmitter) Progress(ProgressEvent)           {}
func (NopEmitter) Result(ResultEvent)               {}
func (NopEmitter) BatchComplete(BatchCompleteEvent) {}
