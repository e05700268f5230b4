package shared

import (
	"context"
	"errors"
	"time"

	"github.com/odyssey-erp/odyssey-assets/internal/platform/db"
)

// IdempotencyStore persists processed keys.
type IdempotencyStore struct{}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore() *IdempotencyStore {
	return &IdempotencyStore{}
}

// ErrIdempotencyConflict indicates a duplicate key.
var ErrIdempotencyConflict = errors.New("idempotent request already processed")

// CheckAndInsert claims key for module. Inside a transaction the claim is released by rollback,
// which keeps the guarded side effect at-most-once.
func (s *IdempotencyStore) CheckAndInsert(ctx context.Context, conn db.DBTX, key, module string) error {
	if s == nil || conn == nil {
		return errors.New("idempotency store not initialised")
	}
	if key == "" {
		return errors.New("idempotency key required")
	}
	if module == "" {
		return errors.New("idempotency module required")
	}
	_, err := conn.Exec(ctx, `INSERT INTO idempotency_keys (key, module, created_at) VALUES ($1, $2, $3)`, key, module, time.Now())
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrIdempotencyConflict
		}
		return err
	}
	return nil
}
