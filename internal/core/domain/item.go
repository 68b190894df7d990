package domain

import "time"

// WorkItem is one unit of batch input. The payload is opaque to the
// dispatch engine; Index correlates results back to caller order.
type WorkItem struct {
	Index   int    `json:"index"`
	Payload string `json:"payload"`
}

// Attempt tracks a single execution of a work item against a provider.
// It is owned by the task running the item and discarded after the
// final classification.
type Attempt struct {
	Number    int
	StartedAt time.Time
	EndedAt   time.Time
	Transient bool
}

// RawOutcome is what a provider adapter returns for one attempt, before
// classification. Fields mirror the heterogeneous shapes providers
// produce: an explicit result code, a secondary verification result, a
// free-text message and a network routing status.
type RawOutcome struct {
	Code           string `json:"code"`
	SecondaryCheck string `json:"secondary_check"`
	Message        string `json:"message"`
	NetworkStatus  string `json:"network_status"`

	// StopBatch signals a provider-wide block condition (the whole
	// batch should stop, not just this item).
	StopBatch bool `json:"stop_batch"`
}

// SecondaryCheck values reported by providers.
const (
	SecondaryCheckPass      = "pass"
	SecondaryCheckFail      = "fail"
	SecondaryCheckUnchecked = "unchecked"
)

// NetworkStatusNotSent marks an item that was blocked before reaching
// the network, distinct from an explicit decline.
const NetworkStatusNotSent = "not_sent_to_network"
