package products

import (
	"time"

	"github.com/shopspring/decimal"
)

// UnitType describes how a product is measured.
type UnitType string

const (
	UnitPiece  UnitType = "PIECE"
	UnitWeight UnitType = "WEIGHT"
	UnitVolume UnitType = "VOLUME"
)

// Product represents a sellable item. Stock is a projection maintained by the
// stock ledger: it starts at zero and is never written through this package,
// only read. Initial quantities arrive as IN movements.
type Product struct {
	ID           int64           `json:"id"`
	Code         string          `json:"code"`
	Barcode      string          `json:"barcode,omitempty"`
	Name         string          `json:"name"`
	Unit         UnitType        `json:"unit"`
	Price        decimal.Decimal `json:"price"`
	Cost         decimal.Decimal `json:"cost"`
	Stock        float64         `json:"stock"`
	ReorderLevel float64         `json:"reorder_level"`
	IsActive     bool            `json:"is_active"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// ListFilters represents product list filters.
type ListFilters struct {
	Page         int
	Limit        int
	Search       string
	SortBy       string
	SortDir      string
	IsActive     *bool
	BelowReorder bool
}
