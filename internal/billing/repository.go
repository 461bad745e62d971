package billing

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

// Repository persists sales in PostgreSQL. Prices go through the
// shopspring-decimal codec registered on the pool.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the service. It
// embeds the ledger store so the sale document and its stock deductions
// commit in one transaction.
type TxRepository interface {
	ledger.TxStore
	NextNumber(ctx context.Context) (string, error)
	InsertSale(ctx context.Context, sale Sale) (int64, error)
	InsertLines(ctx context.Context, saleID int64, lines []Line) error
	GetForUpdate(ctx context.Context, id int64) (Sale, error)
	GetLines(ctx context.Context, saleID int64) ([]Line, error)
	UpdateStatus(ctx context.Context, id int64, status Status, paidAt, cancelledAt time.Time) error
}

type txRepository struct {
	ledger.TxStore
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("billing repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{TxStore: ledger.NewTxStore(tx), tx: tx})
	})
}

func (r *txRepository) NextNumber(ctx context.Context) (string, error) {
	return shared.NextDocumentNumber(ctx, r.tx, "SAL")
}

func (r *txRepository) InsertSale(ctx context.Context, sale Sale) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO sales (number, branch_id, status, customer_name, note, total, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW()) RETURNING id`,
		sale.Number, nullInt(sale.BranchID), string(sale.Status), sale.CustomerName, sale.Note, sale.Total, nullInt(sale.CreatedBy)).Scan(&id)
	return id, err
}

func (r *txRepository) InsertLines(ctx context.Context, saleID int64, lines []Line) error {
	for _, line := range lines {
		if _, err := r.tx.Exec(ctx, `INSERT INTO sale_items (sale_id, product_id, qty, unit_price, line_total)
VALUES ($1,$2,$3,$4,$5)`, saleID, line.ProductID, line.Qty, line.UnitPrice, line.LineTotal); err != nil {
			return err
		}
	}
	return nil
}

const saleColumns = `id, number, COALESCE(branch_id, 0), status, customer_name, note, total, COALESCE(created_by, 0), created_at, COALESCE(paid_at, 'epoch'::timestamptz), COALESCE(cancelled_at, 'epoch'::timestamptz)`

func (r *txRepository) GetForUpdate(ctx context.Context, id int64) (Sale, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id=$1 FOR UPDATE`, id)
	return scanSale(row)
}

func (r *txRepository) GetLines(ctx context.Context, saleID int64) ([]Line, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, sale_id, product_id, qty, unit_price, line_total FROM sale_items WHERE sale_id=$1 ORDER BY id ASC`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLines(rows)
}

func (r *txRepository) UpdateStatus(ctx context.Context, id int64, status Status, paidAt, cancelledAt time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE sales SET status=$2, paid_at=$3, cancelled_at=$4 WHERE id=$1`,
		id, string(status), nullTime(paidAt), nullTime(cancelledAt))
	return err
}

// Get loads a sale with its lines.
func (r *Repository) Get(ctx context.Context, id int64) (Sale, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id=$1`, id)
	sale, err := scanSale(row)
	if err != nil {
		return Sale{}, err
	}

	rows, err := r.pool.Query(ctx, `SELECT id, sale_id, product_id, qty, unit_price, line_total FROM sale_items WHERE sale_id=$1 ORDER BY id ASC`, id)
	if err != nil {
		return Sale{}, err
	}
	defer rows.Close()
	lines, err := scanLines(rows)
	if err != nil {
		return Sale{}, err
	}
	sale.Lines = lines
	return sale, nil
}

// List returns sale headers matching the filter, newest first.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Sale, error) {
	query := `SELECT ` + saleColumns + ` FROM sales WHERE 1=1`
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
	if !filter.From.IsZero() {
		argCount++
		query += ` AND created_at >= $` + strconv.Itoa(argCount)
		args = append(args, filter.From)
	}
	if !filter.To.IsZero() {
		argCount++
		query += ` AND created_at <= $` + strconv.Itoa(argCount)
		args = append(args, filter.To)
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

	sales := []Sale{}
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	return sales, rows.Err()
}

func scanSale(row pgx.Row) (Sale, error) {
	var sale Sale
	var status string
	err := row.Scan(&sale.ID, &sale.Number, &sale.BranchID, &status, &sale.CustomerName, &sale.Note, &sale.Total, &sale.CreatedBy, &sale.CreatedAt, &sale.PaidAt, &sale.CancelledAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Sale{}, ErrNotFound
		}
		return Sale{}, err
	}
	sale.Status = Status(status)
	if sale.PaidAt.Unix() == 0 {
		sale.PaidAt = time.Time{}
	}
	if sale.CancelledAt.Unix() == 0 {
		sale.CancelledAt = time.Time{}
	}
	return sale, nil
}

func scanLines(rows pgx.Rows) ([]Line, error) {
	lines := []Line{}
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ID, &line.SaleID, &line.ProductID, &line.Qty, &line.UnitPrice, &line.LineTotal); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
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
