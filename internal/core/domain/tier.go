package domain

import "time"

// TierLimits caps how aggressively one batch may run. One instance per
// tier name, read-only after configuration load.
type TierLimits struct {
	Concurrency    int
	InterTaskDelay time.Duration
}
