package stocktake

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-retail/meridian-pos/internal/ledger"
	"github.com/meridian-retail/meridian-pos/internal/platform/db"
	"github.com/meridian-retail/meridian-pos/internal/shared"
)

// Repository persists stocktake sessions in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service. It
// embeds the ledger store so snapshot reads, count updates and the
// adjustments emitted on completion share one transaction.
type TxRepository interface {
	ledger.TxStore
	NextNumber(ctx context.Context) (string, error)
	InsertStocktake(ctx context.Context, st Stocktake) (int64, error)
	InsertItems(ctx context.Context, stocktakeID int64, items []Item) error
	GetForUpdate(ctx context.Context, id int64) (Stocktake, error)
	GetItems(ctx context.Context, stocktakeID int64) ([]Item, error)
	UpdateItemCount(ctx context.Context, stocktakeID, productID int64, countedQty float64, countedBy int64, countedAt time.Time) error
	UpdateStatus(ctx context.Context, id int64, status Status, completedBy int64, completedAt time.Time) error
}

type txRepository struct {
	ledger.TxStore
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("stocktake repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{TxStore: ledger.NewTxStore(tx), tx: tx})
	})
}

func (r *txRepository) NextNumber(ctx context.Context) (string, error) {
	return shared.NextDocumentNumber(ctx, r.tx, "STK")
}

func (r *txRepository) InsertStocktake(ctx context.Context, st Stocktake) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stocktakes (number, branch_id, status, note, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,NOW()) RETURNING id`,
		st.Number, nullInt(st.BranchID), string(st.Status), st.Note, nullInt(st.CreatedBy)).Scan(&id)
	return id, err
}

func (r *txRepository) InsertItems(ctx context.Context, stocktakeID int64, items []Item) error {
	for _, item := range items {
		if _, err := r.tx.Exec(ctx, `INSERT INTO stocktake_items (stocktake_id, product_id, system_qty)
VALUES ($1,$2,$3)`, stocktakeID, item.ProductID, item.SystemQty); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) GetForUpdate(ctx context.Context, id int64) (Stocktake, error) {
	var st Stocktake
	var status string
	err := r.tx.QueryRow(ctx, `SELECT id, number, COALESCE(branch_id, 0), status, note, COALESCE(created_by, 0), created_at, COALESCE(completed_by, 0), COALESCE(completed_at, 'epoch'::timestamptz)
FROM stocktakes WHERE id=$1 FOR UPDATE`, id).
		Scan(&st.ID, &st.Number, &st.BranchID, &status, &st.Note, &st.CreatedBy, &st.CreatedAt, &st.CompletedBy, &st.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Stocktake{}, ErrNotFound
		}
		return Stocktake{}, err
	}
	st.Status = Status(status)
	if st.CompletedAt.Unix() == 0 {
		st.CompletedAt = time.Time{}
	}
	return st, nil
}

func (r *txRepository) GetItems(ctx context.Context, stocktakeID int64) ([]Item, error) {
	rows, err := r.tx.Query(ctx, itemColumns+` WHERE stocktake_id=$1 ORDER BY id ASC`, stocktakeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanItems(rows)
}

func (r *txRepository) UpdateItemCount(ctx context.Context, stocktakeID, productID int64, countedQty float64, countedBy int64, countedAt time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE stocktake_items SET counted_qty=$3, counted=TRUE, counted_by=$4, counted_at=$5
WHERE stocktake_id=$1 AND product_id=$2`, stocktakeID, productID, countedQty, nullInt(countedBy), countedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (r *txRepository) UpdateStatus(ctx context.Context, id int64, status Status, completedBy int64, completedAt time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE stocktakes SET status=$2, completed_by=$3, completed_at=$4 WHERE id=$1`,
		id, string(status), nullInt(completedBy), nullTime(completedAt))
	return err
}

const itemColumns = `SELECT id, stocktake_id, product_id, system_qty, COALESCE(counted_qty, 0), counted, COALESCE(counted_by, 0), COALESCE(counted_at, 'epoch'::timestamptz) FROM stocktake_items`

// Get loads a stocktake with its items.
func (r *Repository) Get(ctx context.Context, id int64) (Stocktake, error) {
	var st Stocktake
	var status string
	err := r.pool.QueryRow(ctx, `SELECT id, number, COALESCE(branch_id, 0), status, note, COALESCE(created_by, 0), created_at, COALESCE(completed_by, 0), COALESCE(completed_at, 'epoch'::timestamptz)
FROM stocktakes WHERE id=$1`, id).
		Scan(&st.ID, &st.Number, &st.BranchID, &status, &st.Note, &st.CreatedBy, &st.CreatedAt, &st.CompletedBy, &st.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Stocktake{}, ErrNotFound
		}
		return Stocktake{}, err
	}
	st.Status = Status(status)
	if st.CompletedAt.Unix() == 0 {
		st.CompletedAt = time.Time{}
	}

	rows, err := r.pool.Query(ctx, itemColumns+` WHERE stocktake_id=$1 ORDER BY id ASC`, id)
	if err != nil {
		return Stocktake{}, err
	}
	defer rows.Close()
	items, err := scanItems(rows)
	if err != nil {
		return Stocktake{}, err
	}
	st.Items = items
	return st, nil
}

// List returns session headers matching the filter, newest first.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Stocktake, error) {
	query := `SELECT id, number, COALESCE(branch_id, 0), status, note, COALESCE(created_by, 0), created_at
FROM stocktakes WHERE 1=1`
	args := []any{}
	argCount := 0

	if filter.Status != "" {
		argCount++
		query += ` AND status = $` + strconv.Itoa(argCount)
		args = append(args, string(filter.Status))
	}
	if filter.BranchID != 0 {
		argCount++
		query += ` AND branch_id = $` + strconv.Itoa(argCount)
		args = append(args, filter.BranchID)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	argCount++
	query += ` ORDER BY created_at DESC, id DESC LIMIT $` + strconv.Itoa(argCount)
	args = append(args, limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stocktakes := []Stocktake{}
	for rows.Next() {
		var st Stocktake
		var status string
		if err := rows.Scan(&st.ID, &st.Number, &st.BranchID, &status, &st.Note, &st.CreatedBy, &st.CreatedAt); err != nil {
			return nil, err
		}
		st.Status = Status(status)
		stocktakes = append(stocktakes, st)
	}
	return stocktakes, rows.Err()
}

func scanItems(rows pgx.Rows) ([]Item, error) {
	items := []Item{}
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.StocktakeID, &item.ProductID, &item.SystemQty, &item.CountedQty, &item.Counted, &item.CountedBy, &item.CountedAt); err != nil {
			return nil, err
		}
		if item.CountedAt.Unix() == 0 {
			item.CountedAt = time.Time{}
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
