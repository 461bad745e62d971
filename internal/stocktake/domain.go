package stocktake

import (
	"errors"
	"time"
)

// Status tracks the stocktake session lifecycle.
type Status string

const (
	StatusOpen      Status = "OPEN"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// Stocktake is a counting session. BranchID zero means the central warehouse.
// SystemQty on each item is frozen at creation time; later movements do not
// rewrite the snapshot, so reported variance reflects what the counter saw.
type Stocktake struct {
	ID          int64
	Number      string
	BranchID    int64
	Status      Status
	Note        string
	CreatedBy   int64
	CreatedAt   time.Time
	CompletedBy int64
	CompletedAt time.Time
	Items       []Item
}

// Item is one product line in a session.
type Item struct {
	ID          int64
	StocktakeID int64
	ProductID   int64
	SystemQty   float64
	CountedQty  float64
	Counted     bool
	CountedBy   int64
	CountedAt   time.Time
}

// Variance is the counted quantity minus the snapshot, zero until counted.
func (i Item) Variance() float64 {
	if !i.Counted {
		return 0
	}
	return i.CountedQty - i.SystemQty
}

// CreateInput opens a session over the given products.
type CreateInput struct {
	BranchID   int64
	Note       string
	ProductIDs []int64
	ActorID    int64
}

// CountInput records (or re-records) a physical count for one product.
type CountInput struct {
	ProductID  int64
	CountedQty float64
	ActorID    int64
}

// ListFilter narrows session listings.
type ListFilter struct {
	Status   Status
	BranchID int64
	Limit    int
}

var (
	// ErrNotFound indicates the stocktake does not exist.
	ErrNotFound = errors.New("stocktake not found")
	// ErrInvalidState indicates the session is not open for the attempted change.
	ErrInvalidState = errors.New("stocktake is not open")
	// ErrNoProducts indicates a create request without product lines.
	ErrNoProducts = errors.New("stocktake requires at least one product")
	// ErrDuplicateProduct indicates the same product listed twice in a create request.
	ErrDuplicateProduct = errors.New("duplicate product in stocktake")
	// ErrItemNotFound indicates a count for a product outside the session.
	ErrItemNotFound = errors.New("product is not part of this stocktake")
	// ErrNegativeCount indicates a negative counted quantity.
	ErrNegativeCount = errors.New("counted quantity cannot be negative")
	// ErrNothingCounted indicates completion before any item was counted.
	ErrNothingCounted = errors.New("no items have been counted")
)
