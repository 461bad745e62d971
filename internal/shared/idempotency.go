package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// IdempotencyModule scopes request keys so the same client key can be reused
// across unrelated endpoints.
type IdempotencyModule string

// Modules that accept Idempotency-Key headers.
const (
	IdempotencyLedger IdempotencyModule = "ledger"
)

// ErrIdempotencyConflict indicates the key was already consumed for the module.
var ErrIdempotencyConflict = errors.New("idempotent request already processed")

// IdempotencyStore records consumed request keys in Postgres. The unique
// constraint on (key) is the whole mechanism: the first insert wins, replays
// hit 23505.
type IdempotencyStore struct {
	pool *pgxpool.Pool
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool}
}

// CheckAndInsert consumes key for module, failing with ErrIdempotencyConflict
// on a replay.
func (s *IdempotencyStore) CheckAndInsert(ctx context.Context, key string, module IdempotencyModule) error {
	if s == nil {
		return errors.New("idempotency store not initialised")
	}
	if key == "" {
		return errors.New("idempotency key required")
	}
	if module == "" {
		return errors.New("idempotency module required")
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO idempotency_keys (key, module, created_at) VALUES ($1, $2, $3)`,
		key, string(module), time.Now())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrIdempotencyConflict
		}
		return fmt.Errorf("shared: insert idempotency key: %w", err)
	}
	return nil
}

// Delete releases a consumed key. Callers use this when the guarded operation
// fails after the key was taken, so the client may retry with the same key.
func (s *IdempotencyStore) Delete(ctx context.Context, key string) error {
	if s == nil || key == "" {
		return nil
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE key=$1`, key)
	return err
}

// Cleanup drops keys older than the retention window. Run from the worker's
// scheduled sweep.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) error {
	if s == nil {
		return nil
	}
	cutoff := time.Now().Add(-olderThan)
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, cutoff)
	return err
}
