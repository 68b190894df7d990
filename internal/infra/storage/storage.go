// Package storage defines the persistence collaborators consumed by
// the service layer. The dispatch core never calls these directly;
// the ledger is committed by the caller after batchComplete.
package storage

import (
	"context"
	"time"
)

// LedgerEntry is one billing commit: the billable outcomes of a
// completed batch charged to its owner.
type LedgerEntry struct {
	OwnerID    string    `db:"owner_id"`
	BatchID    string    `db:"batch_id"`
	ProviderID string    `db:"provider_id"`
	Billable   int       `db:"billable"`
	CreatedAt  time.Time `db:"created_at"`
}

// Ledger commits billable counts per batch.
type Ledger interface {
	Commit(ctx context.Context, entry LedgerEntry) error
	BalanceFor(ctx context.Context, ownerID string) (int, error)
}

// BatchSummary is the archived terminal state of one batch.
type BatchSummary struct {
	BatchID     string    `db:"batch_id"`
	OwnerID     string    `db:"owner_id"`
	ProviderID  string    `db:"provider_id"`
	Total       int       `db:"total"`
	Processed   int       `db:"processed"`
	Approved    int       `db:"approved"`
	Partial     int       `db:"partial"`
	Declined    int       `db:"declined"`
	Errors      int       `db:"errors"`
	Skipped     int       `db:"skipped"`
	Billable    int       `db:"billable"`
	Aborted     bool      `db:"aborted"`
	DurationMs  int64     `db:"duration_ms"`
	ResultCodes []string  `db:"result_codes"`
	CreatedAt   time.Time `db:"created_at"`
}

// BatchArchive stores batch summaries for later inspection.
type BatchArchive interface {
	Save(ctx context.Context, summary BatchSummary) error
	RecentForOwner(ctx context.Context, ownerID string, limit int) ([]BatchSummary, error)
}
