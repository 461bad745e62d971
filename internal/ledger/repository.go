package ledger

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-retail/meridian-pos/internal/platform/db"
)

// Repository persists the stock ledger in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// NewTxStore wraps a pgx transaction with the ledger apply operations.
// Workflow repositories embed this so document rows and movements share one
// transaction.
func NewTxStore(tx pgx.Tx) TxStore {
	return &txStore{tx: tx}
}

type txStore struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txStore{tx: tx})
	})
}

func (s *txStore) InsertMovement(ctx context.Context, mv Movement) (int64, error) {
	var id int64
	err := s.tx.QueryRow(ctx, `INSERT INTO stock_movements (product_id, branch_id, kind, qty, batch_no, expires_at, ref_module, ref_id, note, created_by, posted_at, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NOW()) RETURNING id`,
		mv.ProductID, nullInt(mv.BranchID), string(mv.Kind), mv.Qty, nullString(mv.Batch), nullTime(mv.Expiry), mv.RefModule, nullUUID(mv.RefID), mv.Note, nullInt(mv.ActorID), mv.PostedAt).Scan(&id)
	return id, err
}

func (s *txStore) GetProductStockForUpdate(ctx context.Context, productID int64) (float64, error) {
	var qty float64
	err := s.tx.QueryRow(ctx, `SELECT stock FROM products WHERE id=$1 FOR UPDATE`, productID).Scan(&qty)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrProductNotFound
		}
		return 0, err
	}
	return qty, nil
}

func (s *txStore) UpdateProductStock(ctx context.Context, productID int64, qty float64) error {
	_, err := s.tx.Exec(ctx, `UPDATE products SET stock=$2, updated_at=NOW() WHERE id=$1`, productID, qty)
	return err
}

func (s *txStore) GetBranchStockForUpdate(ctx context.Context, branchID, productID int64) (float64, error) {
	var qty float64
	err := s.tx.QueryRow(ctx, `SELECT stock FROM branch_inventories WHERE branch_id=$1 AND product_id=$2 FOR UPDATE`, branchID, productID).Scan(&qty)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrBranchStockNotFound
		}
		return 0, err
	}
	return qty, nil
}

func (s *txStore) UpsertBranchStock(ctx context.Context, branchID, productID int64, qty float64) error {
	_, err := s.tx.Exec(ctx, `INSERT INTO branch_inventories (branch_id, product_id, stock, updated_at)
VALUES ($1,$2,$3,NOW())
ON CONFLICT (branch_id, product_id) DO UPDATE SET stock=EXCLUDED.stock, updated_at=NOW()`, branchID, productID, qty)
	return err
}

// ListMovements returns ledger entries matching the filter, oldest first.
func (r *Repository) ListMovements(ctx context.Context, filter Filter) ([]Movement, error) {
	if r == nil {
		return nil, errors.New("ledger repository not initialised")
	}
	query := `SELECT id, product_id, COALESCE(branch_id, 0), kind, qty, COALESCE(batch_no, ''), COALESCE(expires_at, 'epoch'::timestamptz), ref_module, COALESCE(ref_id::text, ''), note, COALESCE(created_by, 0), posted_at, created_at
FROM stock_movements WHERE 1=1`
	args := []any{}
	argCount := 0

	if filter.ProductID != 0 {
		argCount++
		query += ` AND product_id = $` + strconv.Itoa(argCount)
		args = append(args, filter.ProductID)
	}
	if filter.BranchID != 0 {
		argCount++
		query += ` AND branch_id = $` + strconv.Itoa(argCount)
		args = append(args, filter.BranchID)
	}
	if filter.Kind != "" {
		argCount++
		query += ` AND kind = $` + strconv.Itoa(argCount)
		args = append(args, string(filter.Kind))
	}
	if filter.RefModule != "" {
		argCount++
		query += ` AND ref_module = $` + strconv.Itoa(argCount)
		args = append(args, filter.RefModule)
	}
	if filter.RefID != "" {
		argCount++
		query += ` AND ref_id = $` + strconv.Itoa(argCount)
		args = append(args, filter.RefID)
	}
	if !filter.From.IsZero() {
		argCount++
		query += ` AND posted_at >= $` + strconv.Itoa(argCount)
		args = append(args, filter.From)
	}
	if !filter.To.IsZero() {
		argCount++
		query += ` AND posted_at <= $` + strconv.Itoa(argCount)
		args = append(args, filter.To)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	argCount++
	query += ` ORDER BY posted_at ASC, id ASC LIMIT $` + strconv.Itoa(argCount)
	args = append(args, limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := []Movement{}
	for rows.Next() {
		var mv Movement
		var kind string
		if err := rows.Scan(&mv.ID, &mv.ProductID, &mv.BranchID, &kind, &mv.Qty, &mv.Batch, &mv.Expiry, &mv.RefModule, &mv.RefID, &mv.Note, &mv.ActorID, &mv.PostedAt, &mv.CreatedAt); err != nil {
			return nil, err
		}
		mv.Kind = Kind(kind)
		if mv.Expiry.Unix() == 0 {
			mv.Expiry = time.Time{}
		}
		movements = append(movements, mv)
	}
	return movements, rows.Err()
}

// Reconstruct sums all movements of a product. The result must always equal
// the live projection; the integrity job alerts when it does not.
func (r *Repository) Reconstruct(ctx context.Context, productID int64) (float64, error) {
	var sum float64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(qty), 0) FROM stock_movements WHERE product_id=$1`, productID).Scan(&sum)
	return sum, err
}

// ListDrift reports products whose projection disagrees with the movement sum.
func (r *Repository) ListDrift(ctx context.Context) ([]Drift, error) {
	rows, err := r.pool.Query(ctx, `SELECT p.id, p.stock, COALESCE(SUM(m.qty), 0) AS ledger_sum
FROM products p
LEFT JOIN stock_movements m ON m.product_id = p.id
GROUP BY p.id, p.stock
HAVING ABS(p.stock - COALESCE(SUM(m.qty), 0)) > 0.0001`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drifts []Drift
	for rows.Next() {
		var d Drift
		if err := rows.Scan(&d.ProductID, &d.Projected, &d.LedgerSum); err != nil {
			return nil, err
		}
		drifts = append(drifts, d)
	}
	return drifts, rows.Err()
}

// ListBranchDrift reports branch rows that disagree with branch-scoped movement sums.
func (r *Repository) ListBranchDrift(ctx context.Context) ([]Drift, error) {
	rows, err := r.pool.Query(ctx, `SELECT b.product_id, b.branch_id, b.stock, COALESCE(SUM(m.qty), 0) AS ledger_sum
FROM branch_inventories b
LEFT JOIN stock_movements m ON m.product_id = b.product_id AND m.branch_id = b.branch_id
GROUP BY b.product_id, b.branch_id, b.stock
HAVING ABS(b.stock - COALESCE(SUM(m.qty), 0)) > 0.0001`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var drifts []Drift
	for rows.Next() {
		var d Drift
		if err := rows.Scan(&d.ProductID, &d.BranchID, &d.Projected, &d.LedgerSum); err != nil {
			return nil, err
		}
		drifts = append(drifts, d)
	}
	return drifts, rows.Err()
}

// Rebuild resets the product and branch projections from the movement log.
// Recovery path: the log is the source of truth, the projections a cache.
func (r *Repository) Rebuild(ctx context.Context, productID int64) (float64, error) {
	var rebuilt float64
	err := r.WithTx(ctx, func(ctx context.Context, store TxStore) error {
		if _, err := store.GetProductStockForUpdate(ctx, productID); err != nil {
			return err
		}
		s := store.(*txStore)
		var sum float64
		if err := s.tx.QueryRow(ctx, `SELECT COALESCE(SUM(qty), 0) FROM stock_movements WHERE product_id=$1`, productID).Scan(&sum); err != nil {
			return err
		}
		if math.Abs(sum) < qtyEpsilon {
			sum = 0
		}
		if err := store.UpdateProductStock(ctx, productID, sum); err != nil {
			return err
		}
		if _, err := s.tx.Exec(ctx, `INSERT INTO branch_inventories (branch_id, product_id, stock, updated_at)
SELECT m.branch_id, m.product_id, SUM(m.qty), NOW()
FROM stock_movements m
WHERE m.product_id=$1 AND m.branch_id IS NOT NULL
GROUP BY m.branch_id, m.product_id
ON CONFLICT (branch_id, product_id) DO UPDATE SET stock=EXCLUDED.stock, updated_at=NOW()`, productID); err != nil {
			return err
		}
		rebuilt = sum
		return nil
	})
	return rebuilt, err
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullUUID(value string) any {
	if value == "" {
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
