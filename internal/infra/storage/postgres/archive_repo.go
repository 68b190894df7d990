package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/validly/dispatchd/internal/infra/storage"
)

// ArchiveRepo implements storage.BatchArchive on PostgreSQL.
type ArchiveRepo struct {
	db *DB
}

// NewArchiveRepo creates a batch archive repository.
func NewArchiveRepo(db *DB) *ArchiveRepo {
	return &ArchiveRepo{db: db}
}

// Save implements storage.BatchArchive.
func (r *ArchiveRepo) Save(ctx context.Context, s storage.BatchSummary) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO batch_summaries (
			batch_id, owner_id, provider_id,
			total, processed, approved, partial, declined, errors, skipped,
			billable, aborted, duration_ms, result_codes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (batch_id) DO NOTHING`,
		s.BatchID, s.OwnerID, s.ProviderID,
		s.Total, s.Processed, s.Approved, s.Partial, s.Declined, s.Errors, s.Skipped,
		s.Billable, s.Aborted, s.DurationMs, pq.Array(s.ResultCodes))
	if err != nil {
		return fmt.Errorf("insert batch summary: %w", err)
	}
	return nil
}

// row mirrors batch_summaries for sqlx scanning; result_codes needs
// pq.StringArray.
type row struct {
	BatchID     string         `db:"batch_id"`
	OwnerID     string         `db:"owner_id"`
	ProviderID  string         `db:"provider_id"`
	Total       int            `db:"total"`
	Processed   int            `db:"processed"`
	Approved    int            `db:"approved"`
	Partial     int            `db:"partial"`
	Declined    int            `db:"declined"`
	Errors      int            `db:"errors"`
	Skipped     int            `db:"skipped"`
	Billable    int            `db:"billable"`
	Aborted     bool           `db:"aborted"`
	DurationMs  int64          `db:"duration_ms"`
	ResultCodes pq.StringArray `db:"result_codes"`
	CreatedAt   time.Time      `db:"created_at"`
}

// RecentForOwner implements storage.BatchArchive, newest first.
func (r *ArchiveRepo) RecentForOwner(ctx context.Context, ownerID string, limit int) ([]storage.BatchSummary, error) {
	if limit <= 0 {
		limit = 20
	}

	var rows []row
	err := r.db.SelectContext(ctx, &rows, `
		SELECT batch_id, owner_id, provider_id,
		       total, processed, approved, partial, declined, errors, skipped,
		       billable, aborted, duration_ms, result_codes, created_at
		FROM batch_summaries
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("select batch summaries: %w", err)
	}

	out := make([]storage.BatchSummary, len(rows))
	for i, rw := range rows {
		out[i] = storage.BatchSummary{
			BatchID:     rw.BatchID,
			OwnerID:     rw.OwnerID,
			ProviderID:  rw.ProviderID,
			Total:       rw.Total,
			Processed:   rw.Processed,
			Approved:    rw.Approved,
			Partial:     rw.Partial,
			Declined:    rw.Declined,
			Errors:      rw.Errors,
			Skipped:     rw.Skipped,
			Billable:    rw.Billable,
			Aborted:     rw.Aborted,
			DurationMs:  rw.DurationMs,
			ResultCodes: rw.ResultCodes,
			CreatedAt:   rw.CreatedAt,
		}
	}
	return out, nil
}
