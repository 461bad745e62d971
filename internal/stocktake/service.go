package stocktake

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-retail/meridian-pos/internal/ledger"
	"github.com/meridian-retail/meridian-pos/internal/platform/db"
	"github.com/meridian-retail/meridian-pos/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Stocktake, error)
	List(ctx context.Context, filter ListFilter) ([]Stocktake, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ProductsPort supplies the default session scope.
type ProductsPort interface {
	ActiveIDs(ctx context.Context) ([]int64, error)
}

// Service coordinates the stocktake workflow.
type Service struct {
	repo     RepositoryPort
	audit    AuditPort
	products ProductsPort
}

// NewService constructs the stocktake service. products may be nil, in which
// case every create request must name its scope explicitly.
func NewService(repo RepositoryPort, audit AuditPort, products ProductsPort) *Service {
	return &Service{repo: repo, audit: audit, products: products}
}

// Deltas smaller than this are not worth an adjustment movement.
const adjustEpsilon = 1e-9

// Create opens a session and freezes the system quantity of every listed
// product inside the same transaction, so the snapshot is consistent even
// while sales continue. An empty product list means "all active products".
func (s *Service) Create(ctx context.Context, input CreateInput) (Stocktake, error) {
	if len(input.ProductIDs) == 0 && s.products != nil {
		ids, err := s.products.ActiveIDs(ctx)
		if err != nil {
			return Stocktake{}, err
		}
		input.ProductIDs = ids
	}
	if len(input.ProductIDs) == 0 {
		return Stocktake{}, ErrNoProducts
	}
	seen := make(map[int64]struct{}, len(input.ProductIDs))
	for i, id := range input.ProductIDs {
		if id == 0 {
			return Stocktake{}, fmt.Errorf("item %d: %w", i+1, ledger.ErrProductRequired)
		}
		if _, dup := seen[id]; dup {
			return Stocktake{}, fmt.Errorf("item %d: %w", i+1, ErrDuplicateProduct)
		}
		seen[id] = struct{}{}
	}

	// Snapshot in product order so concurrent sessions lock rows consistently.
	productIDs := append([]int64{}, input.ProductIDs...)
	sort.Slice(productIDs, func(a, b int) bool { return productIDs[a] < productIDs[b] })

	var created Stocktake
	err := s.withRetry(ctx, func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			number, err := tx.NextNumber(ctx)
			if err != nil {
				return err
			}
			st := Stocktake{
				Number:    number,
				BranchID:  input.BranchID,
				Status:    StatusOpen,
				Note:      input.Note,
				CreatedBy: input.ActorID,
			}
			id, err := tx.InsertStocktake(ctx, st)
			if err != nil {
				return err
			}
			items := make([]Item, 0, len(productIDs))
			for _, productID := range productIDs {
				qty, err := liveQty(ctx, tx, input.BranchID, productID)
				if err != nil {
					return err
				}
				items = append(items, Item{StocktakeID: id, ProductID: productID, SystemQty: qty})
			}
			if err := tx.InsertItems(ctx, id, items); err != nil {
				return err
			}
			st.ID = id
			st.Items = items
			created = st
			return nil
		})
	})
	if err != nil {
		return Stocktake{}, err
	}
	s.recordAudit(ctx, input.ActorID, "STOCKTAKE_CREATE", created.ID, map[string]any{"number": created.Number, "branch_id": created.BranchID, "products": len(created.Items)})
	return created, nil
}

// RecordCount stores a physical count for one product. Counts may be
// re-recorded any number of times while the session is open; the snapshot
// taken at creation is never touched.
func (s *Service) RecordCount(ctx context.Context, id int64, input CountInput) (Item, error) {
	if input.ProductID == 0 {
		return Item{}, ErrItemNotFound
	}
	if input.CountedQty < 0 {
		return Item{}, ErrNegativeCount
	}

	var counted Item
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		st, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if st.Status != StatusOpen {
			return ErrInvalidState
		}
		items, err := tx.GetItems(ctx, id)
		if err != nil {
			return err
		}
		idx := -1
		for i, item := range items {
			if item.ProductID == input.ProductID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return ErrItemNotFound
		}
		now := time.Now().UTC()
		if err := tx.UpdateItemCount(ctx, id, input.ProductID, input.CountedQty, input.ActorID, now); err != nil {
			return err
		}
		counted = items[idx]
		counted.CountedQty = input.CountedQty
		counted.Counted = true
		counted.CountedBy = input.ActorID
		counted.CountedAt = now
		return nil
	})
	if err != nil {
		return Item{}, err
	}
	return counted, nil
}

// Complete closes the session. With applyAdjustments the live projection of
// every counted product is set to its counted quantity: the delta is computed
// against the live stock inside this transaction rather than the creation
// snapshot, so products that moved since the count still land exactly on the
// counted value. A failed adjustment aborts the whole completion.
func (s *Service) Complete(ctx context.Context, id int64, actorID int64, applyAdjustments bool) (Stocktake, error) {
	var completed Stocktake
	err := s.withRetry(ctx, func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			st, err := tx.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if st.Status != StatusOpen {
				return ErrInvalidState
			}
			items, err := tx.GetItems(ctx, id)
			if err != nil {
				return err
			}
			countedItems := make([]Item, 0, len(items))
			for _, item := range items {
				if item.Counted {
					countedItems = append(countedItems, item)
				}
			}
			if len(countedItems) == 0 {
				return ErrNothingCounted
			}

			if applyAdjustments {
				sort.Slice(countedItems, func(a, b int) bool { return countedItems[a].ProductID < countedItems[b].ProductID })
				refID := uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("STK:%d", id))).String()
				inputs := make([]ledger.MovementInput, 0, len(countedItems))
				for _, item := range countedItems {
					live, err := liveQty(ctx, tx, st.BranchID, item.ProductID)
					if err != nil {
						return err
					}
					delta := item.CountedQty - live
					if delta > -adjustEpsilon && delta < adjustEpsilon {
						continue
					}
					inputs = append(inputs, ledger.MovementInput{
						ProductID: item.ProductID,
						BranchID:  st.BranchID,
						Kind:      ledger.KindAdjustment,
						Qty:       delta,
						RefModule: "STOCKTAKE",
						RefID:     refID,
						Note:      fmt.Sprintf("Stocktake %s correction", st.Number),
						ActorID:   actorID,
					})
				}
				if len(inputs) > 0 {
					if _, err := ledger.ApplyAll(ctx, tx, inputs); err != nil {
						return err
					}
				}
			}

			now := time.Now().UTC()
			if err := tx.UpdateStatus(ctx, id, StatusCompleted, actorID, now); err != nil {
				return err
			}
			st.Status = StatusCompleted
			st.CompletedBy = actorID
			st.CompletedAt = now
			st.Items = items
			completed = st
			return nil
		})
	})
	if err != nil {
		return Stocktake{}, err
	}
	s.recordAudit(ctx, actorID, "STOCKTAKE_COMPLETE", id, map[string]any{"number": completed.Number, "adjusted": applyAdjustments})
	return completed, nil
}

// Cancel abandons an open session. Counts already recorded are kept for
// reference; stock is untouched.
func (s *Service) Cancel(ctx context.Context, id int64, actorID int64) (Stocktake, error) {
	var cancelled Stocktake
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		st, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if st.Status != StatusOpen {
			return ErrInvalidState
		}
		if err := tx.UpdateStatus(ctx, id, StatusCancelled, 0, time.Time{}); err != nil {
			return err
		}
		st.Status = StatusCancelled
		cancelled = st
		return nil
	})
	if err != nil {
		return Stocktake{}, err
	}
	s.recordAudit(ctx, actorID, "STOCKTAKE_CANCEL", id, map[string]any{"number": cancelled.Number})
	return cancelled, nil
}

// Get loads a stocktake with its items.
func (s *Service) Get(ctx context.Context, id int64) (Stocktake, error) {
	return s.repo.Get(ctx, id)
}

// List returns sessions matching the filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Stocktake, error) {
	return s.repo.List(ctx, filter)
}

// liveQty reads the current projection under lock: the branch row for a
// branch-scoped session, the product row otherwise. A missing branch row
// counts as zero but the product itself must exist.
func liveQty(ctx context.Context, tx TxRepository, branchID, productID int64) (float64, error) {
	central, err := tx.GetProductStockForUpdate(ctx, productID)
	if err != nil {
		return 0, err
	}
	if branchID == 0 {
		return central, nil
	}
	qty, err := tx.GetBranchStockForUpdate(ctx, branchID, productID)
	if err != nil {
		if errors.Is(err, ledger.ErrBranchStockNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return qty, nil
}

const maxTxAttempts = 3

func (s *Service) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err = fn()
		if err == nil || !db.IsSerializationFailure(err) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", ledger.ErrConflict, err)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: "stocktake", EntityID: fmt.Sprintf("%d", entityID), Meta: meta})
}
