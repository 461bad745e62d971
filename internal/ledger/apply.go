package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
)

// TxStore exposes the transactional operations the apply funnel needs. The
// ledger repository implements it on pgx transactions; workflow repositories
// embed the same implementation so their document writes and the resulting
// movements commit or roll back together.
type TxStore interface {
	InsertMovement(ctx context.Context, mv Movement) (int64, error)
	GetProductStockForUpdate(ctx context.Context, productID int64) (float64, error)
	UpdateProductStock(ctx context.Context, productID int64, qty float64) error
	GetBranchStockForUpdate(ctx context.Context, branchID, productID int64) (float64, error)
	UpsertBranchStock(ctx context.Context, branchID, productID int64, qty float64) error
}

// Apply records one movement and updates the projections it touches. Every
// quantity mutation in the system funnels through here: the row lock taken by
// GetProductStockForUpdate serialises the check-then-apply sequence against
// concurrent movements on the same product.
func Apply(ctx context.Context, store TxStore, input MovementInput) (Movement, error) {
	delta, err := input.delta()
	if err != nil {
		return Movement{}, err
	}
	if input.ProductID == 0 {
		return Movement{}, ErrProductRequired
	}
	if input.RefID != "" {
		if _, err := uuid.Parse(input.RefID); err != nil {
			return Movement{}, fmt.Errorf("ledger: invalid ref id: %w", err)
		}
	}

	current, err := store.GetProductStockForUpdate(ctx, input.ProductID)
	if err != nil {
		return Movement{}, err
	}
	newQty := current + delta
	if newQty < -qtyEpsilon {
		return Movement{}, &InsufficientStockError{ProductID: input.ProductID, Requested: -delta, Available: current}
	}
	if math.Abs(newQty) < qtyEpsilon {
		newQty = 0
	}

	branchQty := 0.0
	if input.BranchID != 0 {
		got, err := store.GetBranchStockForUpdate(ctx, input.BranchID, input.ProductID)
		if err != nil && !errors.Is(err, ErrBranchStockNotFound) {
			return Movement{}, err
		}
		branchQty = got + delta
		if branchQty < -qtyEpsilon {
			return Movement{}, &InsufficientStockError{ProductID: input.ProductID, BranchID: input.BranchID, Requested: -delta, Available: got}
		}
		if math.Abs(branchQty) < qtyEpsilon {
			branchQty = 0
		}
	}

	mv := Movement{
		ProductID: input.ProductID,
		BranchID:  input.BranchID,
		Kind:      input.Kind,
		Qty:       delta,
		Batch:     input.Batch,
		Expiry:    input.Expiry,
		RefModule: input.RefModule,
		RefID:     input.RefID,
		Note:      input.Note,
		ActorID:   input.ActorID,
		PostedAt:  time.Now().UTC(),
	}
	id, err := store.InsertMovement(ctx, mv)
	if err != nil {
		return Movement{}, err
	}
	mv.ID = id

	if err := store.UpdateProductStock(ctx, input.ProductID, newQty); err != nil {
		return Movement{}, err
	}
	if input.BranchID != 0 {
		if err := store.UpsertBranchStock(ctx, input.BranchID, input.ProductID, branchQty); err != nil {
			return Movement{}, err
		}
	}
	return mv, nil
}

// ApplyAll records a batch of movements against one transaction. The batch is
// applied in (product, branch) order so concurrent batches acquire row locks
// consistently; results come back in input order. Any failure aborts the
// whole batch through the surrounding transaction.
func ApplyAll(ctx context.Context, store TxStore, inputs []MovementInput) ([]Movement, error) {
	order := make([]int, len(inputs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ia, ib := inputs[order[a]], inputs[order[b]]
		if ia.ProductID != ib.ProductID {
			return ia.ProductID < ib.ProductID
		}
		return ia.BranchID < ib.BranchID
	})

	out := make([]Movement, len(inputs))
	for _, idx := range order {
		mv, err := Apply(ctx, store, inputs[idx])
		if err != nil {
			return nil, err
		}
		out[idx] = mv
	}
	return out, nil
}
