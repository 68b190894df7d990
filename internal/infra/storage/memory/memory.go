// Package memory provides in-process storage implementations for
// tests and deployments without a database.
package memory

import (
	"context"
	"sync"

	"github.com/validly/dispatchd/internal/infra/storage"
)

// Storage holds all in-memory state behind one lock.
type Storage struct {
	mu        sync.RWMutex
	balances  map[string]int
	ledger    []storage.LedgerEntry
	summaries map[string][]storage.BatchSummary // by owner
}

// NewStorage creates empty in-memory storage.
func NewStorage() *Storage {
	return &Storage{
		balances:  make(map[string]int),
		summaries: make(map[string][]storage.BatchSummary),
	}
}

// Ledger returns the in-memory ledger view.
func (s *Storage) Ledger() storage.Ledger { return (*ledger)(s) }

// Archive returns the in-memory batch archive view.
func (s *Storage) Archive() storage.BatchArchive { return (*archive)(s) }

type ledger Storage

func (l *ledger) Commit(_ context.Context, entry storage.LedgerEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ledger = append(l.ledger, entry)
	l.balances[entry.OwnerID] += entry.Billable
	return nil
}

func (l *ledger) BalanceFor(_ context.Context, ownerID string) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[ownerID], nil
}

type archive Storage

func (a *archive) Save(_ context.Context, summary storage.BatchSummary) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.summaries[summary.OwnerID] = append(a.summaries[summary.OwnerID], summary)
	return nil
}

func (a *archive) RecentForOwner(_ context.Context, ownerID string, limit int) ([]storage.BatchSummary, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	all := a.summaries[ownerID]
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	// Newest first.
	out := make([]storage.BatchSummary, 0, limit)
	for i := len(all) - 1; i >= len(all)-limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}
