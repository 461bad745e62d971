package transfer

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/meridian-retail/meridian-pos/internal/ledger"
)

type memoryState struct {
	products   map[int64]float64
	branches   map[string]float64
	movements  []ledger.Movement
	transfers  map[int64]Transfer
	items      map[int64][]Item
	lastNumber int64
	nextID     int64
}

func (s *memoryState) clone() *memoryState {
	c := &memoryState{
		products:   map[int64]float64{},
		branches:   map[string]float64{},
		transfers:  map[int64]Transfer{},
		items:      map[int64][]Item{},
		lastNumber: s.lastNumber,
		nextID:     s.nextID,
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.branches {
		c.branches[k] = v
	}
	for k, v := range s.transfers {
		c.transfers[k] = v
	}
	for k, v := range s.items {
		c.items[k] = append([]Item{}, v...)
	}
	c.movements = append(c.movements, s.movements...)
	return c
}

type memoryRepo struct {
	state *memoryState
}

func newMemoryRepo(products map[int64]float64, branchStock map[string]float64) *memoryRepo {
	state := &memoryState{
		products:  map[int64]float64{},
		branches:  map[string]float64{},
		transfers: map[int64]Transfer{},
		items:     map[int64][]Item{},
	}
	for id, qty := range products {
		state.products[id] = qty
	}
	for key, qty := range branchStock {
		state.branches[key] = qty
	}
	return &memoryRepo{state: state}
}

func bKey(branchID, productID int64) string {
	return fmt.Sprintf("%d:%d", branchID, productID)
}

type memoryTx struct {
	state *memoryState
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx := &memoryTx{state: r.state.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	r.state = tx.state
	return nil
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Transfer, error) {
	tr, ok := r.state.transfers[id]
	if !ok {
		return Transfer{}, ErrNotFound
	}
	tr.Items = append([]Item{}, r.state.items[id]...)
	return tr, nil
}

func (r *memoryRepo) List(ctx context.Context, filter ListFilter) ([]Transfer, error) {
	out := []Transfer{}
	for _, tr := range r.state.transfers {
		if filter.Status != "" && tr.Status != filter.Status {
			continue
		}
		out = append(out, tr)
	}
	return out, nil
}

func (tx *memoryTx) NextNumber(ctx context.Context) (string, error) {
	tx.state.lastNumber++
	return fmt.Sprintf("TRF-%06d", tx.state.lastNumber), nil
}

func (tx *memoryTx) InsertTransfer(ctx context.Context, tr Transfer) (int64, error) {
	tx.state.nextID++
	tr.ID = tx.state.nextID
	tr.CreatedAt = time.Now()
	tx.state.transfers[tr.ID] = tr
	return tr.ID, nil
}

func (tx *memoryTx) InsertItems(ctx context.Context, transferID int64, items []Item) error {
	tx.state.items[transferID] = append([]Item{}, items...)
	return nil
}

func (tx *memoryTx) GetForUpdate(ctx context.Context, id int64) (Transfer, error) {
	tr, ok := tx.state.transfers[id]
	if !ok {
		return Transfer{}, ErrNotFound
	}
	return tr, nil
}

func (tx *memoryTx) GetItems(ctx context.Context, transferID int64) ([]Item, error) {
	return append([]Item{}, tx.state.items[transferID]...), nil
}

func (tx *memoryTx) UpdateStatus(ctx context.Context, id int64, status Status, approvedBy int64, approvedAt time.Time) error {
	tr := tx.state.transfers[id]
	tr.Status = status
	tr.ApprovedBy = approvedBy
	tr.ApprovedAt = approvedAt
	tx.state.transfers[id] = tr
	return nil
}

func (tx *memoryTx) InsertMovement(ctx context.Context, mv ledger.Movement) (int64, error) {
	tx.state.nextID++
	mv.ID = tx.state.nextID
	tx.state.movements = append(tx.state.movements, mv)
	return mv.ID, nil
}

func (tx *memoryTx) GetProductStockForUpdate(ctx context.Context, productID int64) (float64, error) {
	qty, ok := tx.state.products[productID]
	if !ok {
		return 0, ledger.ErrProductNotFound
	}
	return qty, nil
}

func (tx *memoryTx) UpdateProductStock(ctx context.Context, productID int64, qty float64) error {
	tx.state.products[productID] = qty
	return nil
}

func (tx *memoryTx) GetBranchStockForUpdate(ctx context.Context, branchID, productID int64) (float64, error) {
	qty, ok := tx.state.branches[bKey(branchID, productID)]
	if !ok {
		return 0, ledger.ErrBranchStockNotFound
	}
	return qty, nil
}

func (tx *memoryTx) UpsertBranchStock(ctx context.Context, branchID, productID int64, qty float64) error {
	tx.state.branches[bKey(branchID, productID)] = qty
	return nil
}

func TestCreateValidation(t *testing.T) {
	repo := newMemoryRepo(map[int64]float64{1: 10}, nil)
	svc := NewService(repo, nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{FromBranchID: 1, ToBranchID: 1, Items: []ItemInput{{ProductID: 1, Qty: 1}}})
	require.ErrorIs(t, err, ErrSameBranch)

	_, err = svc.Create(ctx, CreateInput{FromBranchID: 1, ToBranchID: 2})
	require.ErrorIs(t, err, ErrNoItems)

	_, err = svc.Create(ctx, CreateInput{FromBranchID: 1, ToBranchID: 2, Items: []ItemInput{{ProductID: 1, Qty: 0}}})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.Create(ctx, CreateInput{ToBranchID: 2, Items: []ItemInput{{ProductID: 1, Qty: 1}}})
	require.ErrorIs(t, err, ErrBranchRequired)
}

func TestCreateDoesNotTouchStock(t *testing.T) {
	repo := newMemoryRepo(map[int64]float64{1: 25}, map[string]float64{bKey(1, 1): 25})
	svc := NewService(repo, nil)
	ctx := context.Background()

	tr, err := svc.Create(ctx, CreateInput{FromBranchID: 1, ToBranchID: 2, Items: []ItemInput{{ProductID: 1, Qty: 10}}})
	require.NoError(t, err)
	require.Equal(t, StatusPending, tr.Status)
	require.Equal(t, "TRF-000001", tr.Number)

	require.InDelta(t, 25.0, repo.state.products[1], 1e-9)
	require.InDelta(t, 25.0, repo.state.branches[bKey(1, 1)], 1e-9)
	require.Empty(t, repo.state.movements)
}

func TestCompleteConservesStock(t *testing.T) {
	repo := newMemoryRepo(map[int64]float64{1: 25}, map[string]float64{bKey(1, 1): 25})
	svc := NewService(repo, nil)
	ctx := context.Background()

	tr, err := svc.Create(ctx, CreateInput{FromBranchID: 1, ToBranchID: 2, Items: []ItemInput{{ProductID: 1, Qty: 10}}})
	require.NoError(t, err)

	completed, err := svc.Complete(ctx, tr.ID, 42)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, completed.Status)
	require.Equal(t, int64(42), completed.ApprovedBy)
	require.False(t, completed.ApprovedAt.IsZero())

	require.InDelta(t, 15.0, repo.state.branches[bKey(1, 1)], 1e-9)
	require.InDelta(t, 10.0, repo.state.branches[bKey(2, 1)], 1e-9)
	// Global stock for the product is unchanged: OUT and IN cancel out.
	require.InDelta(t, 25.0, repo.state.products[1], 1e-9)

	require.Len(t, repo.state.movements, 2)
	var out, in ledger.Movement
	for _, mv := range repo.state.movements {
		if mv.Kind == ledger.KindOut {
			out = mv
		} else {
			in = mv
		}
	}
	require.Equal(t, int64(1), out.BranchID)
	require.InDelta(t, -10.0, out.Qty, 1e-9)
	require.Equal(t, int64(2), in.BranchID)
	require.InDelta(t, 10.0, in.Qty, 1e-9)
	require.Equal(t, "TRANSFER", out.RefModule)
	require.NotEmpty(t, out.RefID)
	require.Equal(t, out.RefID, in.RefID)
}

func TestCompleteInsufficientSourceIsAtomic(t *testing.T) {
	repo := newMemoryRepo(map[int64]float64{1: 100, 2: 100}, map[string]float64{bKey(1, 1): 50, bKey(1, 2): 3})
	svc := NewService(repo, nil)
	ctx := context.Background()

	tr, err := svc.Create(ctx, CreateInput{FromBranchID: 1, ToBranchID: 2, Items: []ItemInput{
		{ProductID: 1, Qty: 10},
		{ProductID: 2, Qty: 5},
	}})
	require.NoError(t, err)

	_, err = svc.Complete(ctx, tr.ID, 0)
	require.ErrorIs(t, err, ledger.ErrInsufficientStock)

	// Nothing moved, nothing recorded, transfer still pending.
	require.InDelta(t, 50.0, repo.state.branches[bKey(1, 1)], 1e-9)
	require.InDelta(t, 3.0, repo.state.branches[bKey(1, 2)], 1e-9)
	require.Empty(t, repo.state.movements)
	got, err := repo.Get(ctx, tr.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status)
}

func TestTerminalTransitions(t *testing.T) {
	repo := newMemoryRepo(map[int64]float64{1: 25}, map[string]float64{bKey(1, 1): 25})
	svc := NewService(repo, nil)
	ctx := context.Background()

	tr, err := svc.Create(ctx, CreateInput{FromBranchID: 1, ToBranchID: 2, Items: []ItemInput{{ProductID: 1, Qty: 5}}})
	require.NoError(t, err)

	_, err = svc.Complete(ctx, tr.ID, 0)
	require.NoError(t, err)

	_, err = svc.Complete(ctx, tr.ID, 0)
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = svc.Cancel(ctx, tr.ID, 0)
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Len(t, repo.state.movements, 2)

	cancelled, err := svc.Create(ctx, CreateInput{FromBranchID: 1, ToBranchID: 2, Items: []ItemInput{{ProductID: 1, Qty: 5}}})
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, cancelled.ID, 0)
	require.NoError(t, err)
	_, err = svc.Complete(ctx, cancelled.ID, 0)
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Len(t, repo.state.movements, 2)
}

func TestNumbersAreMonotonicAndNotReused(t *testing.T) {
	repo := newMemoryRepo(map[int64]float64{1: 25}, nil)
	svc := NewService(repo, nil)
	ctx := context.Background()

	first, err := svc.Create(ctx, CreateInput{FromBranchID: 1, ToBranchID: 2, Items: []ItemInput{{ProductID: 1, Qty: 1}}})
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, first.ID, 0)
	require.NoError(t, err)

	second, err := svc.Create(ctx, CreateInput{FromBranchID: 1, ToBranchID: 2, Items: []ItemInput{{ProductID: 1, Qty: 1}}})
	require.NoError(t, err)
	require.Equal(t, "TRF-000001", first.Number)
	require.Equal(t, "TRF-000002", second.Number)
}

func TestTransferNotFound(t *testing.T) {
	repo := newMemoryRepo(map[int64]float64{}, nil)
	svc := NewService(repo, nil)
	ctx := context.Background()

	_, err := svc.Complete(ctx, 123, 0)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = svc.Cancel(ctx, 123, 0)
	require.ErrorIs(t, err, ErrNotFound)
}

type flakyRepo struct {
	*memoryRepo
	failures int
}

func (r *flakyRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r.failures > 0 {
		r.failures--
		return &pgconn.PgError{Code: "40001"}
	}
	return r.memoryRepo.WithTx(ctx, fn)
}

func TestCreateRetriesSerializationFailures(t *testing.T) {
	repo := &flakyRepo{
		memoryRepo: newMemoryRepo(map[int64]float64{1: 25}, map[string]float64{bKey(1, 1): 25}),
		failures:   2,
	}
	svc := NewService(repo, nil)

	tr, err := svc.Create(context.Background(), CreateInput{FromBranchID: 1, ToBranchID: 2, Items: []ItemInput{{ProductID: 1, Qty: 10}}})
	require.NoError(t, err)
	require.Equal(t, "TRF-000001", tr.Number)
	require.Zero(t, repo.failures)
}

func TestCreateSurfacesConflictWhenRetriesExhausted(t *testing.T) {
	repo := &flakyRepo{
		memoryRepo: newMemoryRepo(map[int64]float64{1: 25}, map[string]float64{bKey(1, 1): 25}),
		failures:   3,
	}
	svc := NewService(repo, nil)

	_, err := svc.Create(context.Background(), CreateInput{FromBranchID: 1, ToBranchID: 2, Items: []ItemInput{{ProductID: 1, Qty: 10}}})
	require.ErrorIs(t, err, ledger.ErrConflict)
	require.Empty(t, repo.state.transfers)
}
