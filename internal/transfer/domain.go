package transfer

import (
	"errors"
	"time"
)

// Status enumerates the transfer lifecycle. PENDING is the only state that
// permits a transition; COMPLETED and CANCELLED are terminal.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// Transfer moves a fixed set of product quantities between two branches.
// Creating one reserves intent only; stock moves at completion.
type Transfer struct {
	ID           int64
	Number       string
	FromBranchID int64
	ToBranchID   int64
	Status       Status
	Note         string
	CreatedBy    int64
	CreatedAt    time.Time
	ApprovedBy   int64
	ApprovedAt   time.Time
	Items        []Item
}

// Item is a transfer line. Quantity is fixed at creation.
type Item struct {
	ID         int64
	TransferID int64
	ProductID  int64
	Qty        float64
}

// CreateInput describes a transfer creation request.
type CreateInput struct {
	FromBranchID int64
	ToBranchID   int64
	Note         string
	ActorID      int64
	Items        []ItemInput
}

// ItemInput is a requested transfer line.
type ItemInput struct {
	ProductID int64
	Qty       float64
}

// ListFilter narrows transfer listings.
type ListFilter struct {
	Status   Status
	BranchID int64
	Limit    int
}

var (
	// ErrNotFound indicates the requested transfer was not found.
	ErrNotFound = errors.New("transfer: not found")
	// ErrInvalidTransition indicates an operation against a terminal transfer.
	ErrInvalidTransition = errors.New("transfer: invalid status transition")
	// ErrSameBranch indicates identical source and destination.
	ErrSameBranch = errors.New("transfer: source and destination branch must differ")
	// ErrBranchRequired indicates a missing branch reference.
	ErrBranchRequired = errors.New("transfer: source and destination branch required")
	// ErrNoItems indicates an empty item list.
	ErrNoItems = errors.New("transfer: at least one item is required")
	// ErrInvalidQuantity indicates a non-positive item quantity.
	ErrInvalidQuantity = errors.New("transfer: item quantity must be positive")
)
