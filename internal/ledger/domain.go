package ledger

import (
	"errors"
	"fmt"
	"time"
)

// Kind enumerates supported stock movements.
type Kind string

const (
	// KindIn represents an inbound movement.
	KindIn Kind = "IN"
	// KindOut represents an outbound movement.
	KindOut Kind = "OUT"
	// KindAdjustment indicates stocktake or manual corrections.
	KindAdjustment Kind = "ADJUSTMENT"
)

// Movement is an immutable ledger entry. Qty holds the signed delta applied to
// the projection: positive for IN, negative for OUT, signed for ADJUSTMENT.
// Summing Qty over all movements of a product yields its current stock.
type Movement struct {
	ID        int64
	ProductID int64
	BranchID  int64
	Kind      Kind
	Qty       float64
	Batch     string
	Expiry    time.Time
	RefModule string
	RefID     string
	Note      string
	ActorID   int64
	PostedAt  time.Time
	CreatedAt time.Time
}

// MovementInput describes a requested quantity change. Qty is a positive
// magnitude for IN and OUT; for ADJUSTMENT it is the signed delta itself.
type MovementInput struct {
	ProductID      int64
	BranchID       int64
	Kind           Kind
	Qty            float64
	Batch          string
	Expiry         time.Time
	RefModule      string
	RefID          string
	Note           string
	ActorID        int64
	IdempotencyKey string
}

// Filter narrows movement listings.
type Filter struct {
	ProductID int64
	BranchID  int64
	Kind      Kind
	RefModule string
	RefID     string
	From      time.Time
	To        time.Time
	Limit     int
}

// Drift reports a product whose projection no longer matches the movement sum.
type Drift struct {
	ProductID int64
	BranchID  int64
	Projected float64
	LedgerSum float64
}

// Quantities closer to zero than this are treated as zero.
const qtyEpsilon = 1e-9

var (
	// ErrInvalidQuantity indicates a non-positive IN/OUT quantity or a zero adjustment.
	ErrInvalidQuantity = errors.New("ledger: invalid quantity")
	// ErrInvalidKind indicates an unknown movement kind.
	ErrInvalidKind = errors.New("ledger: unknown movement kind")
	// ErrProductRequired indicates a missing product reference.
	ErrProductRequired = errors.New("ledger: product required")
	// ErrProductNotFound indicates the referenced product does not exist.
	ErrProductNotFound = errors.New("ledger: product not found")
	// ErrBranchStockNotFound indicates no branch inventory row exists yet.
	ErrBranchStockNotFound = errors.New("ledger: branch stock not found")
	// ErrInsufficientStock triggers when a movement would drive stock negative.
	ErrInsufficientStock = errors.New("ledger: insufficient stock")
	// ErrConflict indicates concurrent update retries were exhausted.
	ErrConflict = errors.New("ledger: concurrent stock update conflict")
)

// InsufficientStockError carries the product and shortfall that caused a
// rejected movement. Matches ErrInsufficientStock under errors.Is.
type InsufficientStockError struct {
	ProductID int64
	BranchID  int64
	Requested float64
	Available float64
}

func (e *InsufficientStockError) Error() string {
	if e.BranchID != 0 {
		return fmt.Sprintf("ledger: insufficient stock for product %d at branch %d: requested %.3f, available %.3f", e.ProductID, e.BranchID, e.Requested, e.Available)
	}
	return fmt.Sprintf("ledger: insufficient stock for product %d: requested %.3f, available %.3f", e.ProductID, e.Requested, e.Available)
}

// Shortfall returns how much the request exceeded available stock.
func (e *InsufficientStockError) Shortfall() float64 {
	return e.Requested - e.Available
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// delta validates the input quantity and returns the signed projection change.
func (in MovementInput) delta() (float64, error) {
	switch in.Kind {
	case KindIn:
		if in.Qty <= 0 {
			return 0, ErrInvalidQuantity
		}
		return in.Qty, nil
	case KindOut:
		if in.Qty <= 0 {
			return 0, ErrInvalidQuantity
		}
		return -in.Qty, nil
	case KindAdjustment:
		if in.Qty > -qtyEpsilon && in.Qty < qtyEpsilon {
			return 0, ErrInvalidQuantity
		}
		return in.Qty, nil
	default:
		return 0, ErrInvalidKind
	}
}
