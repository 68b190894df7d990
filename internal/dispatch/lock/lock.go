// Package lock enforces one live batch operation per owner.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Code identifies a lock error surfaced to callers.
type Code string

const (
	CodeAuthRequired    Code = "AUTH_REQUIRED"
	CodeOperationLocked Code = "OPERATION_LOCKED"
	CodeLockTimeout     Code = "LOCK_TIMEOUT"
	CodeInternalError   Code = "INTERNAL_ERROR"
)

// Error is a coded lock failure. OPERATION_LOCKED errors carry the id
// of the operation currently holding the lock for diagnostics.
type Error struct {
	Code                Code
	Message             string
	ExistingOperationID string
}

func (e *Error) Error() string {
	if e.ExistingOperationID != "" {
		return fmt.Sprintf("%s: %s (existing operation %s)", e.Code, e.Message, e.ExistingOperationID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// HTTPStatus maps the error code to its HTTP status.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeAuthRequired:
		return http.StatusUnauthorized
	case CodeOperationLocked:
		return http.StatusConflict
	case CodeLockTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Record is one live lock. At most one exists per owner at any time.
type Record struct {
	OwnerID     string
	OperationID string
	ProviderID  string
	CreatedAt   time.Time
	TTL         time.Duration
}

// ExpiresAt returns when the record self-expires (crash recovery).
func (r Record) ExpiresAt() time.Time {
	return r.CreatedAt.Add(r.TTL)
}

// Expired reports whether the record's TTL has elapsed.
func (r Record) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt())
}

// Store persists lock records. Acquire must be an atomic
// check-and-set: racing acquires at the exact TTL edge resolve to
// whichever request reaches the store first.
type Store interface {
	// Acquire installs rec if the owner holds no live record. It
	// returns the existing live record when the acquire loses, and
	// reclaimed=true when an expired record was replaced.
	Acquire(ctx context.Context, rec Record) (existing *Record, reclaimed bool, err error)

	// Release removes the owner's record if it is still held by
	// operationID. Releasing an absent or expired record is a no-op.
	Release(ctx context.Context, ownerID, operationID string) error

	// Get returns the owner's live record, or nil.
	Get(ctx context.Context, ownerID string) (*Record, error)
}

// Service wraps a Store with TTL defaults, coded errors and reclaim
// logging.
type Service struct {
	store Store
	ttl   time.Duration
	log   *slog.Logger
}

// NewService creates a lock service with the given record TTL.
func NewService(store Store, ttl time.Duration) *Service {
	return &Service{
		store: store,
		ttl:   ttl,
		log:   slog.Default().With("component", "lock"),
	}
}

// Acquire takes the owner's lock for one batch operation and returns
// the operation id. A second acquire before release fails with
// OPERATION_LOCKED and never queues.
func (s *Service) Acquire(ctx context.Context, ownerID, providerID string) (string, error) {
	if ownerID == "" {
		return "", &Error{Code: CodeAuthRequired, Message: "owner id required"}
	}

	rec := Record{
		OwnerID:     ownerID,
		OperationID: uuid.NewString(),
		ProviderID:  providerID,
		CreatedAt:   time.Now(),
		TTL:         s.ttl,
	}

	existing, reclaimed, err := s.store.Acquire(ctx, rec)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return "", &Error{Code: CodeLockTimeout, Message: "lock store unavailable"}
		}
		return "", &Error{Code: CodeInternalError, Message: err.Error()}
	}
	if existing != nil {
		return "", &Error{
			Code:                CodeOperationLocked,
			Message:             fmt.Sprintf("owner %s already has a running operation", ownerID),
			ExistingOperationID: existing.OperationID,
		}
	}

	if reclaimed {
		s.log.Warn("reclaimed stale lock", "owner", ownerID, "operation", rec.OperationID)
	}
	return rec.OperationID, nil
}

// Release drops the owner's lock. It is idempotent: releasing a lock
// already released or expired is a no-op, never an error.
func (s *Service) Release(ctx context.Context, ownerID, operationID, finalStatus string) {
	if err := s.store.Release(ctx, ownerID, operationID); err != nil {
		// The TTL will reclaim the record; nothing useful to return.
		s.log.Error("lock release failed", "owner", ownerID, "operation", operationID, "error", err)
		return
	}
	s.log.Debug("lock released", "owner", ownerID, "operation", operationID, "status", finalStatus)
}

// Holder returns the operation currently holding the owner's lock, or
// nil when unlocked.
func (s *Service) Holder(ctx context.Context, ownerID string) (*Record, error) {
	return s.store.Get(ctx, ownerID)
}
