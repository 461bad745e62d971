package billing

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-retail/meridian-pos/internal/ledger"
)

type memoryState struct {
	products   map[int64]float64
	branches   map[string]float64
	movements  []ledger.Movement
	sales      map[int64]Sale
	lines      map[int64][]Line
	lastNumber int64
	nextID     int64
}

func (s *memoryState) clone() *memoryState {
	c := &memoryState{
		products:   map[int64]float64{},
		branches:   map[string]float64{},
		sales:      map[int64]Sale{},
		lines:      map[int64][]Line{},
		lastNumber: s.lastNumber,
		nextID:     s.nextID,
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.branches {
		c.branches[k] = v
	}
	for k, v := range s.sales {
		c.sales[k] = v
	}
	for k, v := range s.lines {
		c.lines[k] = append([]Line{}, v...)
	}
	c.movements = append(c.movements, s.movements...)
	return c
}

type memoryRepo struct {
	state *memoryState
}

func newMemoryRepo(products map[int64]float64) *memoryRepo {
	state := &memoryState{
		products: map[int64]float64{},
		branches: map[string]float64{},
		sales:    map[int64]Sale{},
		lines:    map[int64][]Line{},
	}
	for id, qty := range products {
		state.products[id] = qty
	}
	return &memoryRepo{state: state}
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

func (r *memoryRepo) Get(ctx context.Context, id int64) (Sale, error) {
	sale, ok := r.state.sales[id]
	if !ok {
		return Sale{}, ErrNotFound
	}
	sale.Lines = append([]Line{}, r.state.lines[id]...)
	return sale, nil
}

func (r *memoryRepo) List(ctx context.Context, filter ListFilter) ([]Sale, error) {
	out := []Sale{}
	for _, sale := range r.state.sales {
		if filter.Status != "" && sale.Status != filter.Status {
			continue
		}
		out = append(out, sale)
	}
	return out, nil
}

func (tx *memoryTx) NextNumber(ctx context.Context) (string, error) {
	tx.state.lastNumber++
	return fmt.Sprintf("SAL-%06d", tx.state.lastNumber), nil
}

func (tx *memoryTx) InsertSale(ctx context.Context, sale Sale) (int64, error) {
	tx.state.nextID++
	sale.ID = tx.state.nextID
	sale.CreatedAt = time.Now()
	tx.state.sales[sale.ID] = sale
	return sale.ID, nil
}

func (tx *memoryTx) InsertLines(ctx context.Context, saleID int64, lines []Line) error {
	tx.state.lines[saleID] = append([]Line{}, lines...)
	return nil
}

func (tx *memoryTx) GetForUpdate(ctx context.Context, id int64) (Sale, error) {
	sale, ok := tx.state.sales[id]
	if !ok {
		return Sale{}, ErrNotFound
	}
	return sale, nil
}

func (tx *memoryTx) GetLines(ctx context.Context, saleID int64) ([]Line, error) {
	return append([]Line{}, tx.state.lines[saleID]...), nil
}

func (tx *memoryTx) UpdateStatus(ctx context.Context, id int64, status Status, paidAt, cancelledAt time.Time) error {
	sale := tx.state.sales[id]
	sale.Status = status
	sale.PaidAt = paidAt
	sale.CancelledAt = cancelledAt
	tx.state.sales[id] = sale
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
	qty, ok := tx.state.branches[fmt.Sprintf("%d:%d", branchID, productID)]
	if !ok {
		return 0, ledger.ErrBranchStockNotFound
	}
	return qty, nil
}

func (tx *memoryTx) UpsertBranchStock(ctx context.Context, branchID, productID int64, qty float64) error {
	tx.state.branches[fmt.Sprintf("%d:%d", branchID, productID)] = qty
	return nil
}

func price(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCreateDeductsEveryLine(t *testing.T) {
	repo := newMemoryRepo(map[int64]float64{1: 20, 2: 8})
	svc := NewService(repo, nil)
	ctx := context.Background()

	sale, err := svc.Create(ctx, CreateInput{Lines: []LineInput{
		{ProductID: 1, Qty: 3, UnitPrice: price("2.50")},
		{ProductID: 2, Qty: 2, UnitPrice: price("10.00")},
	}})
	require.NoError(t, err)
	require.Equal(t, StatusPending, sale.Status)
	require.Equal(t, "SAL-000001", sale.Number)
	require.True(t, sale.Total.Equal(price("27.50")), "total = %s", sale.Total)

	require.InDelta(t, 17.0, repo.state.products[1], 1e-9)
	require.InDelta(t, 6.0, repo.state.products[2], 1e-9)
	require.Len(t, repo.state.movements, 2)
	for _, mv := range repo.state.movements {
		require.Equal(t, ledger.KindOut, mv.Kind)
		require.Equal(t, "SALE", mv.RefModule)
		require.NotEmpty(t, mv.RefID)
	}
}

func TestCreateValidation(t *testing.T) {
	repo := newMemoryRepo(map[int64]float64{1: 20})
	svc := NewService(repo, nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{})
	require.ErrorIs(t, err, ErrNoLines)

	_, err = svc.Create(ctx, CreateInput{Lines: []LineInput{{ProductID: 1, Qty: 0, UnitPrice: price("1")}}})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.Create(ctx, CreateInput{Lines: []LineInput{{ProductID: 1, Qty: 1, UnitPrice: price("-1")}}})
	require.ErrorIs(t, err, ErrInvalidPrice)
}

func TestCreateIsAllLinesOrNone(t *testing.T) {
	repo := newMemoryRepo(map[int64]float64{1: 20, 2: 1})
	svc := NewService(repo, nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{Lines: []LineInput{
		{ProductID: 1, Qty: 3, UnitPrice: price("2.50")},
		{ProductID: 2, Qty: 5, UnitPrice: price("10.00")},
	}})
	require.ErrorIs(t, err, ledger.ErrInsufficientStock)

	var detail *ledger.InsufficientStockError
	require.ErrorAs(t, err, &detail)
	require.Equal(t, int64(2), detail.ProductID)
	require.InDelta(t, 4.0, detail.Shortfall(), 1e-9)

	// The in-stock line must not have been deducted.
	require.InDelta(t, 20.0, repo.state.products[1], 1e-9)
	require.InDelta(t, 1.0, repo.state.products[2], 1e-9)
	require.Empty(t, repo.state.movements)
	require.Empty(t, repo.state.sales)
}

func TestCancelReversesAdditively(t *testing.T) {
	repo := newMemoryRepo(map[int64]float64{1: 20})
	svc := NewService(repo, nil)
	ctx := context.Background()

	sale, err := svc.Create(ctx, CreateInput{Lines: []LineInput{{ProductID: 1, Qty: 5, UnitPrice: price("3.00")}}})
	require.NoError(t, err)
	require.InDelta(t, 15.0, repo.state.products[1], 1e-9)

	cancelled, err := svc.Cancel(ctx, sale.ID, 0)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)
	require.False(t, cancelled.CancelledAt.IsZero())

	// Stock is back, and the history shows both the OUT and the IN.
	require.InDelta(t, 20.0, repo.state.products[1], 1e-9)
	require.Len(t, repo.state.movements, 2)
	require.Equal(t, ledger.KindOut, repo.state.movements[0].Kind)
	require.Equal(t, ledger.KindIn, repo.state.movements[1].Kind)
	require.Equal(t, repo.state.movements[0].RefID, repo.state.movements[1].RefID)
}

func TestCancelAfterPayment(t *testing.T) {
	repo := newMemoryRepo(map[int64]float64{1: 20})
	svc := NewService(repo, nil)
	ctx := context.Background()

	sale, err := svc.Create(ctx, CreateInput{Lines: []LineInput{{ProductID: 1, Qty: 5, UnitPrice: price("3.00")}}})
	require.NoError(t, err)

	paid, err := svc.MarkPaid(ctx, sale.ID, 0)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, paid.Status)
	require.False(t, paid.PaidAt.IsZero())
	require.InDelta(t, 15.0, repo.state.products[1], 1e-9)

	_, err = svc.Cancel(ctx, sale.ID, 0)
	require.NoError(t, err)
	require.InDelta(t, 20.0, repo.state.products[1], 1e-9)
}

func TestTerminalTransitions(t *testing.T) {
	repo := newMemoryRepo(map[int64]float64{1: 20})
	svc := NewService(repo, nil)
	ctx := context.Background()

	sale, err := svc.Create(ctx, CreateInput{Lines: []LineInput{{ProductID: 1, Qty: 5, UnitPrice: price("3.00")}}})
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, sale.ID, 0)
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, sale.ID, 0)
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = svc.MarkPaid(ctx, sale.ID, 0)
	require.ErrorIs(t, err, ErrInvalidTransition)

	// A double cancel must not restock twice.
	require.InDelta(t, 20.0, repo.state.products[1], 1e-9)
	require.Len(t, repo.state.movements, 2)
}

func TestBranchSaleDeductsBranchRow(t *testing.T) {
	repo := newMemoryRepo(map[int64]float64{1: 20})
	repo.state.branches["2:1"] = 6
	svc := NewService(repo, nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{BranchID: 2, Lines: []LineInput{{ProductID: 1, Qty: 4, UnitPrice: price("1.00")}}})
	require.NoError(t, err)
	require.InDelta(t, 2.0, repo.state.branches["2:1"], 1e-9)
	require.InDelta(t, 16.0, repo.state.products[1], 1e-9)

	// The branch only has 2 left; a bigger basket fails even though the
	// central projection could cover it.
	_, err = svc.Create(ctx, CreateInput{BranchID: 2, Lines: []LineInput{{ProductID: 1, Qty: 3, UnitPrice: price("1.00")}}})
	require.ErrorIs(t, err, ledger.ErrInsufficientStock)
	require.InDelta(t, 2.0, repo.state.branches["2:1"], 1e-9)
}
