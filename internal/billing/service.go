package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-retail/meridian-pos/internal/ledger"
	"github.com/meridian-retail/meridian-pos/internal/platform/db"
	"github.com/meridian-retail/meridian-pos/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Sale, error)
	List(ctx context.Context, filter ListFilter) ([]Sale, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates the sale lifecycle.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
}

// NewService constructs the billing service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// Create records the sale and deducts every line as an OUT movement in the
// same transaction. A shortfall on any line aborts the whole sale, so a
// partially stocked basket never deducts anything.
func (s *Service) Create(ctx context.Context, input CreateInput) (Sale, error) {
	if len(input.Lines) == 0 {
		return Sale{}, ErrNoLines
	}
	for i, line := range input.Lines {
		if line.ProductID == 0 || line.Qty <= 0 {
			return Sale{}, fmt.Errorf("line %d: %w", i+1, ErrInvalidQuantity)
		}
		if line.UnitPrice.IsNegative() {
			return Sale{}, fmt.Errorf("line %d: %w", i+1, ErrInvalidPrice)
		}
	}

	var created Sale
	err := s.withRetry(ctx, func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			number, err := tx.NextNumber(ctx)
			if err != nil {
				return err
			}

			lines := make([]Line, 0, len(input.Lines))
			total := decimal.Zero
			for _, line := range input.Lines {
				lineTotal := line.UnitPrice.Mul(decimal.NewFromFloat(line.Qty))
				lines = append(lines, Line{
					ProductID: line.ProductID,
					Qty:       line.Qty,
					UnitPrice: line.UnitPrice,
					LineTotal: lineTotal,
				})
				total = total.Add(lineTotal)
			}

			sale := Sale{
				Number:       number,
				BranchID:     input.BranchID,
				Status:       StatusPending,
				CustomerName: input.CustomerName,
				Note:         input.Note,
				Total:        total,
				CreatedBy:    input.ActorID,
			}
			id, err := tx.InsertSale(ctx, sale)
			if err != nil {
				return err
			}
			for i := range lines {
				lines[i].SaleID = id
			}
			if err := tx.InsertLines(ctx, id, lines); err != nil {
				return err
			}

			refID := saleRef(id)
			inputs := make([]ledger.MovementInput, 0, len(lines))
			for _, line := range lines {
				inputs = append(inputs, ledger.MovementInput{
					ProductID: line.ProductID,
					BranchID:  input.BranchID,
					Kind:      ledger.KindOut,
					Qty:       line.Qty,
					RefModule: "SALE",
					RefID:     refID,
					Note:      fmt.Sprintf("Sale %s", number),
					ActorID:   input.ActorID,
				})
			}
			if _, err := ledger.ApplyAll(ctx, tx, inputs); err != nil {
				return err
			}

			sale.ID = id
			sale.Lines = lines
			created = sale
			return nil
		})
	})
	if err != nil {
		return Sale{}, err
	}
	s.recordAudit(ctx, input.ActorID, "SALE_CREATE", created.ID, map[string]any{"number": created.Number, "total": created.Total.String(), "lines": len(created.Lines)})
	return created, nil
}

// MarkPaid settles a pending sale. Stock was already deducted at creation;
// this only flips status.
func (s *Service) MarkPaid(ctx context.Context, id int64, actorID int64) (Sale, error) {
	var paid Sale
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sale, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if sale.Status != StatusPending {
			return ErrInvalidTransition
		}
		now := time.Now().UTC()
		if err := tx.UpdateStatus(ctx, id, StatusPaid, now, time.Time{}); err != nil {
			return err
		}
		sale.Status = StatusPaid
		sale.PaidAt = now
		paid = sale
		return nil
	})
	if err != nil {
		return Sale{}, err
	}
	s.recordAudit(ctx, actorID, "SALE_PAID", id, map[string]any{"number": paid.Number})
	return paid, nil
}

// Cancel voids a sale and puts the stock back: one IN movement per line,
// referencing the same sale, so the ledger shows the deduction and its
// reversal rather than a deleted history. Works from PENDING and PAID.
func (s *Service) Cancel(ctx context.Context, id int64, actorID int64) (Sale, error) {
	var cancelled Sale
	err := s.withRetry(ctx, func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			sale, err := tx.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if sale.Status != StatusPending && sale.Status != StatusPaid {
				return ErrInvalidTransition
			}
			lines, err := tx.GetLines(ctx, id)
			if err != nil {
				return err
			}

			refID := saleRef(id)
			inputs := make([]ledger.MovementInput, 0, len(lines))
			for _, line := range lines {
				inputs = append(inputs, ledger.MovementInput{
					ProductID: line.ProductID,
					BranchID:  sale.BranchID,
					Kind:      ledger.KindIn,
					Qty:       line.Qty,
					RefModule: "SALE",
					RefID:     refID,
					Note:      fmt.Sprintf("Sale %s reversal", sale.Number),
					ActorID:   actorID,
				})
			}
			if _, err := ledger.ApplyAll(ctx, tx, inputs); err != nil {
				return err
			}

			now := time.Now().UTC()
			if err := tx.UpdateStatus(ctx, id, StatusCancelled, sale.PaidAt, now); err != nil {
				return err
			}
			sale.Status = StatusCancelled
			sale.CancelledAt = now
			sale.Lines = lines
			cancelled = sale
			return nil
		})
	})
	if err != nil {
		return Sale{}, err
	}
	s.recordAudit(ctx, actorID, "SALE_CANCEL", id, map[string]any{"number": cancelled.Number})
	return cancelled, nil
}

// Get loads a sale with its lines.
func (s *Service) Get(ctx context.Context, id int64) (Sale, error) {
	return s.repo.Get(ctx, id)
}

// List returns sales matching the filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Sale, error) {
	return s.repo.List(ctx, filter)
}

func saleRef(id int64) string {
	return uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("SAL:%d", id))).String()
}

const maxTxAttempts = 3

func (s *Service) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err = fn()
		if err == nil || !db.IsSerializationFailure(err) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", ledger.ErrConflict, err)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: "sale", EntityID: fmt.Sprintf("%d", entityID), Meta: meta})
}
