package billing

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Status tracks the sale lifecycle. A sale deducts stock when created, not
// when paid; cancellation from either non-terminal state puts the stock back.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusPaid      Status = "PAID"
	StatusCancelled Status = "CANCELLED"
)

// Sale is a point-of-sale transaction. BranchID zero means the central
// counter. Total is the sum of line totals.
type Sale struct {
	ID           int64
	Number       string
	BranchID     int64
	Status       Status
	CustomerName string
	Note         string
	Total        decimal.Decimal
	CreatedBy    int64
	CreatedAt    time.Time
	PaidAt       time.Time
	CancelledAt  time.Time
	Lines        []Line
}

// Line is one product position on a sale.
type Line struct {
	ID        int64
	SaleID    int64
	ProductID int64
	Qty       float64
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
}

// CreateInput describes a new sale.
type CreateInput struct {
	BranchID     int64
	CustomerName string
	Note         string
	ActorID      int64
	Lines        []LineInput
}

// LineInput is one requested sale line.
type LineInput struct {
	ProductID int64
	Qty       float64
	UnitPrice decimal.Decimal
}

// ListFilter narrows sale listings.
type ListFilter struct {
	Status   Status
	BranchID int64
	From     time.Time
	To       time.Time
	Limit    int
}

var (
	// ErrNotFound indicates the sale does not exist.
	ErrNotFound = errors.New("sale not found")
	// ErrInvalidTransition indicates a lifecycle change from a terminal state.
	ErrInvalidTransition = errors.New("invalid sale status transition")
	// ErrNoLines indicates a sale without product lines.
	ErrNoLines = errors.New("sale requires at least one line")
	// ErrInvalidQuantity indicates a non-positive line quantity.
	ErrInvalidQuantity = errors.New("line quantity must be positive")
	// ErrInvalidPrice indicates a negative unit price.
	ErrInvalidPrice = errors.New("unit price cannot be negative")
)
