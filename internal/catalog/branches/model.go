package branches

import (
	"time"
)

// Branch represents a store location.
type Branch struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Address   string    `json:"address,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// InventoryRow is the stock projection of one product at one branch.
type InventoryRow struct {
	BranchID    int64   `json:"branch_id"`
	ProductID   int64   `json:"product_id"`
	ProductCode string  `json:"product_code"`
	ProductName string  `json:"product_name"`
	Stock       float64 `json:"stock"`
}

// ListFilters represents branch list filters.
type ListFilters struct {
	Search   string
	IsActive *bool
	Limit    int
}
