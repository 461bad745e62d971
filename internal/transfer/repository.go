package transfer

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

// Repository persists transfers in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service. It
// embeds the ledger store so transfer rows and the movements they emit commit
// in one transaction.
type TxRepository interface {
	ledger.TxStore
	NextNumber(ctx context.Context) (string, error)
	InsertTransfer(ctx context.Context, tr Transfer) (int64, error)
	InsertItems(ctx context.Context, transferID int64, items []Item) error
	GetForUpdate(ctx context.Context, id int64) (Transfer, error)
	GetItems(ctx context.Context, transferID int64) ([]Item, error)
	UpdateStatus(ctx context.Context, id int64, status Status, approvedBy int64, approvedAt time.Time) error
}

type txRepository struct {
	ledger.TxStore
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("transfer repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{TxStore: ledger.NewTxStore(tx), tx: tx})
	})
}

func (r *txRepository) NextNumber(ctx context.Context) (string, error) {
	return shared.NextDocumentNumber(ctx, r.tx, "TRF")
}

func (r *txRepository) InsertTransfer(ctx context.Context, tr Transfer) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_transfers (number, from_branch_id, to_branch_id, status, note, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW()) RETURNING id`,
		tr.Number, tr.FromBranchID, tr.ToBranchID, string(tr.Status), tr.Note, nullInt(tr.CreatedBy)).Scan(&id)
	return id, err
}

func (r *txRepository) InsertItems(ctx context.Context, transferID int64, items []Item) error {
	for _, item := range items {
		if _, err := r.tx.Exec(ctx, `INSERT INTO stock_transfer_items (transfer_id, product_id, qty)
VALUES ($1,$2,$3)`, transferID, item.ProductID, item.Qty); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) GetForUpdate(ctx context.Context, id int64) (Transfer, error) {
	var tr Transfer
	var status string
	err := r.tx.QueryRow(ctx, `SELECT id, number, from_branch_id, to_branch_id, status, note, COALESCE(created_by, 0), created_at, COALESCE(approved_by, 0), COALESCE(approved_at, 'epoch'::timestamptz)
FROM stock_transfers WHERE id=$1 FOR UPDATE`, id).
		Scan(&tr.ID, &tr.Number, &tr.FromBranchID, &tr.ToBranchID, &status, &tr.Note, &tr.CreatedBy, &tr.CreatedAt, &tr.ApprovedBy, &tr.ApprovedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transfer{}, ErrNotFound
		}
		return Transfer{}, err
	}
	tr.Status = Status(status)
	if tr.ApprovedAt.Unix() == 0 {
		tr.ApprovedAt = time.Time{}
	}
	return tr, nil
}

func (r *txRepository) GetItems(ctx context.Context, transferID int64) ([]Item, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, transfer_id, product_id, qty FROM stock_transfer_items WHERE transfer_id=$1 ORDER BY id ASC`, transferID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanItems(rows)
}

func (r *txRepository) UpdateStatus(ctx context.Context, id int64, status Status, approvedBy int64, approvedAt time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE stock_transfers SET status=$2, approved_by=$3, approved_at=$4 WHERE id=$1`,
		id, string(status), nullInt(approvedBy), nullTime(approvedAt))
	return err
}

// Get loads a transfer with its items.
func (r *Repository) Get(ctx context.Context, id int64) (Transfer, error) {
	var tr Transfer
	var status string
	err := r.pool.QueryRow(ctx, `SELECT id, number, from_branch_id, to_branch_id, status, note, COALESCE(created_by, 0), created_at, COALESCE(approved_by, 0), COALESCE(approved_at, 'epoch'::timestamptz)
FROM stock_transfers WHERE id=$1`, id).
		Scan(&tr.ID, &tr.Number, &tr.FromBranchID, &tr.ToBranchID, &status, &tr.Note, &tr.CreatedBy, &tr.CreatedAt, &tr.ApprovedBy, &tr.ApprovedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transfer{}, ErrNotFound
		}
		return Transfer{}, err
	}
	tr.Status = Status(status)
	if tr.ApprovedAt.Unix() == 0 {
		tr.ApprovedAt = time.Time{}
	}

	rows, err := r.pool.Query(ctx, `SELECT id, transfer_id, product_id, qty FROM stock_transfer_items WHERE transfer_id=$1 ORDER BY id ASC`, id)
	if err != nil {
		return Transfer{}, err
	}
	defer rows.Close()
	items, err := scanItems(rows)
	if err != nil {
		return Transfer{}, err
	}
	tr.Items = items
	return tr, nil
}

// List returns transfer headers matching the filter, newest first.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Transfer, error) {
	query := `SELECT id, number, from_branch_id, to_branch_id, status, note, COALESCE(created_by, 0), created_at
FROM stock_transfers WHERE 1=1`
	args := []any{}
	argCount := 0

	if filter.Status != "" {
		argCount++
		query += ` AND status = $` + strconv.Itoa(argCount)
		args = append(args, string(filter.Status))
	}
	if filter.BranchID != 0 {
		argCount++
		query += ` AND (from_branch_id = $` + strconv.Itoa(argCount) + ` OR to_branch_id = $` + strconv.Itoa(argCount) + `)`
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

	transfers := []Transfer{}
	for rows.Next() {
		var tr Transfer
		var status string
		if err := rows.Scan(&tr.ID, &tr.Number, &tr.FromBranchID, &tr.ToBranchID, &status, &tr.Note, &tr.CreatedBy, &tr.CreatedAt); err != nil {
			return nil, err
		}
		tr.Status = Status(status)
		transfers = append(transfers, tr)
	}
	return transfers, rows.Err()
}

func scanItems(rows pgx.Rows) ([]Item, error) {
	items := []Item{}
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.TransferID, &item.ProductID, &item.Qty); err != nil {
			return nil, err
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
