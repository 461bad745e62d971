package ledger

import (
	"context"
	"fmt"

	"github.com/meridian-retail/meridian-pos/internal/platform/db"
	"github.com/meridian-retail/meridian-pos/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
	ListMovements(ctx context.Context, filter Filter) ([]Movement, error)
	Reconstruct(ctx context.Context, productID int64) (float64, error)
	Rebuild(ctx context.Context, productID int64) (float64, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service is the write entry point for direct callers: stock-in forms, manual
// adjustments, and read queries. Workflow modules reach Apply through their
// own repositories instead.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, idem *shared.IdempotencyStore) *Service {
	return &Service{repo: repo, audit: audit, idempotency: idem}
}

const maxTxAttempts = 3

// Record posts a single movement. Serialization failures are retried with a
// fresh transaction; exhausted retries surface ErrConflict so the caller can
// retry the whole operation.
func (s *Service) Record(ctx context.Context, input MovementInput) (Movement, error) {
	movements, err := s.RecordAll(ctx, []MovementInput{input})
	if err != nil {
		return Movement{}, err
	}
	return movements[0], nil
}

// RecordAll posts a batch of movements atomically: either every movement
// applies or none do.
func (s *Service) RecordAll(ctx context.Context, inputs []MovementInput) ([]Movement, error) {
	if len(inputs) == 0 {
		return nil, ErrInvalidQuantity
	}

	insertedKeys := []string{}
	if s.idempotency != nil {
		for _, input := range inputs {
			if input.IdempotencyKey == "" {
				continue
			}
			if err := s.idempotency.CheckAndInsert(ctx, input.IdempotencyKey, shared.IdempotencyLedger); err != nil {
				s.releaseKeys(ctx, insertedKeys)
				return nil, err
			}
			insertedKeys = append(insertedKeys, input.IdempotencyKey)
		}
	}

	var movements []Movement
	err := s.withRetry(ctx, func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, store TxStore) error {
			applied, err := ApplyAll(ctx, store, inputs)
			if err != nil {
				return err
			}
			movements = applied
			return nil
		})
	})
	if err != nil {
		s.releaseKeys(ctx, insertedKeys)
		return nil, err
	}

	if s.audit != nil {
		for _, mv := range movements {
			_ = s.audit.Record(ctx, shared.AuditLog{
				ActorID:  mv.ActorID,
				Action:   fmt.Sprintf("ledger:%s", mv.Kind),
				Entity:   "stock_movement",
				EntityID: fmt.Sprintf("%d", mv.ID),
				Meta: map[string]any{
					"product_id": mv.ProductID,
					"branch_id":  mv.BranchID,
					"qty":        mv.Qty,
					"ref_module": mv.RefModule,
					"ref_id":     mv.RefID,
				},
			})
		}
	}
	return movements, nil
}

// List returns movements matching the filter, read-only.
func (s *Service) List(ctx context.Context, filter Filter) ([]Movement, error) {
	return s.repo.ListMovements(ctx, filter)
}

// Reconstruct sums the full movement history of a product.
func (s *Service) Reconstruct(ctx context.Context, productID int64) (float64, error) {
	if productID == 0 {
		return 0, ErrProductRequired
	}
	return s.repo.Reconstruct(ctx, productID)
}

// Rebuild resets the projections for a product from its movement log.
func (s *Service) Rebuild(ctx context.Context, productID int64) (float64, error) {
	if productID == 0 {
		return 0, ErrProductRequired
	}
	qty, err := s.repo.Rebuild(ctx, productID)
	if err != nil {
		return 0, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Action:   "ledger:REBUILD",
			Entity:   "product",
			EntityID: fmt.Sprintf("%d", productID),
			Meta:     map[string]any{"stock": qty},
		})
	}
	return qty, nil
}

func (s *Service) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err = fn()
		if err == nil || !db.IsSerializationFailure(err) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", ErrConflict, err)
}

func (s *Service) releaseKeys(ctx context.Context, keys []string) {
	if s.idempotency == nil {
		return
	}
	for _, key := range keys {
		_ = s.idempotency.Delete(ctx, key)
	}
}
