package branches

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-retail/meridian-pos/internal/platform/db"
	"github.com/meridian-retail/meridian-pos/internal/platform/httpx"
)

type Repository interface {
	List(ctx context.Context, filters ListFilters) ([]Branch, error)
	Get(ctx context.Context, id int64) (Branch, error)
	Create(ctx context.Context, branch Branch) (Branch, error)
	Update(ctx context.Context, id int64, branch Branch) error
	Deactivate(ctx context.Context, id int64) error
	Inventory(ctx context.Context, branchID int64) ([]InventoryRow, error)
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const branchColumns = `id, code, name, COALESCE(address, ''), COALESCE(phone, ''), is_active, created_at, updated_at`

func (r *repository) List(ctx context.Context, filters ListFilters) ([]Branch, error) {
	query := `SELECT ` + branchColumns + ` FROM branches WHERE 1=1`
	args := []any{}
	argCount := 0

	if filters.Search != "" {
		argCount++
		query += ` AND (name ILIKE $` + strconv.Itoa(argCount) + ` OR code ILIKE $` + strconv.Itoa(argCount) + `)`
		args = append(args, "%"+filters.Search+"%")
	}
	if filters.IsActive != nil {
		argCount++
		query += ` AND is_active = $` + strconv.Itoa(argCount)
		args = append(args, *filters.IsActive)
	}
	limit := filters.Limit
	if limit <= 0 {
		limit = 100
	}
	argCount++
	query += ` ORDER BY code ASC LIMIT $` + strconv.Itoa(argCount)
	args = append(args, limit)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	branches := []Branch{}
	for rows.Next() {
		var b Branch
		if err := rows.Scan(&b.ID, &b.Code, &b.Name, &b.Address, &b.Phone, &b.IsActive, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		branches = append(branches, b)
	}
	return branches, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Branch, error) {
	var b Branch
	err := r.db.QueryRow(ctx, `SELECT `+branchColumns+` FROM branches WHERE id = $1`, id).
		Scan(&b.ID, &b.Code, &b.Name, &b.Address, &b.Phone, &b.IsActive, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Branch{}, httpx.ErrNotFound
		}
		return Branch{}, err
	}
	return b, nil
}

func (r *repository) Create(ctx context.Context, branch Branch) (Branch, error) {
	now := time.Now()
	err := r.db.QueryRow(ctx, `INSERT INTO branches (code, name, address, phone, is_active, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $6) RETURNING id`,
		branch.Code, branch.Name, branch.Address, branch.Phone, branch.IsActive, now).Scan(&branch.ID)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Branch{}, httpx.ErrDuplicate
		}
		return Branch{}, err
	}
	branch.CreatedAt = now
	branch.UpdatedAt = now
	return branch, nil
}

func (r *repository) Update(ctx context.Context, id int64, branch Branch) error {
	tag, err := r.db.Exec(ctx, `UPDATE branches SET code = $1, name = $2, address = $3, phone = $4, is_active = $5, updated_at = $6 WHERE id = $7`,
		branch.Code, branch.Name, branch.Address, branch.Phone, branch.IsActive, time.Now(), id)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return httpx.ErrDuplicate
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return httpx.ErrNotFound
	}
	return nil
}

// Deactivate soft-deletes: transfers and movements reference branches forever.
func (r *repository) Deactivate(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `UPDATE branches SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return httpx.ErrNotFound
	}
	return nil
}

func (r *repository) Inventory(ctx context.Context, branchID int64) ([]InventoryRow, error) {
	rows, err := r.db.Query(ctx, `SELECT bi.branch_id, bi.product_id, p.code, p.name, bi.stock
FROM branch_inventories bi
JOIN products p ON p.id = bi.product_id
WHERE bi.branch_id = $1
ORDER BY p.code ASC`, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	inventory := []InventoryRow{}
	for rows.Next() {
		var row InventoryRow
		if err := rows.Scan(&row.BranchID, &row.ProductID, &row.ProductCode, &row.ProductName, &row.Stock); err != nil {
			return nil, err
		}
		inventory = append(inventory, row)
	}
	return inventory, rows.Err()
}
