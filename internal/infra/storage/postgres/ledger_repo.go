package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/validly/dispatchd/internal/infra/storage"
)

// LedgerRepo implements storage.Ledger on PostgreSQL.
type LedgerRepo struct {
	db *DB
}

// NewLedgerRepo creates a ledger repository.
func NewLedgerRepo(db *DB) *LedgerRepo {
	return &LedgerRepo{db: db}
}

// Commit implements storage.Ledger.
func (r *LedgerRepo) Commit(ctx context.Context, entry storage.LedgerEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO ledger_entries (owner_id, batch_id, provider_id, billable)
		VALUES ($1, $2, $3, $4)`,
		entry.OwnerID, entry.BatchID, entry.ProviderID, entry.Billable)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

// BalanceFor implements storage.Ledger.
func (r *LedgerRepo) BalanceFor(ctx context.Context, ownerID string) (int, error) {
	var balance int
	err := r.db.GetContext(ctx, &balance, `
		SELECT COALESCE(SUM(billable), 0) FROM ledger_entries WHERE owner_id = $1`,
		ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("sum ledger entries: %w", err)
	}
	return balance, nil
}
