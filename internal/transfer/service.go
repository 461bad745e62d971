package transfer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-retail/meridian-pos/internal/ledger"
	"github.com/meridian-retail/meridian-pos/internal/platform/db"
	"github.com/meridian-retail/meridian-pos/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Transfer, error)
	List(ctx context.Context, filter ListFilter) ([]Transfer, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates the branch transfer workflow.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
}

// NewService constructs the transfer service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// Create records a pending transfer. Stock is not touched: a pending transfer
// is a reservation of intent, and source stock stays sellable until completion.
func (s *Service) Create(ctx context.Context, input CreateInput) (Transfer, error) {
	if input.FromBranchID == 0 || input.ToBranchID == 0 {
		return Transfer{}, ErrBranchRequired
	}
	if input.FromBranchID == input.ToBranchID {
		return Transfer{}, ErrSameBranch
	}
	if len(input.Items) == 0 {
		return Transfer{}, ErrNoItems
	}
	for i, item := range input.Items {
		if item.ProductID == 0 || item.Qty <= 0 {
			return Transfer{}, fmt.Errorf("item %d: %w", i+1, ErrInvalidQuantity)
		}
	}

	var created Transfer
	err := s.withRetry(ctx, func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			number, err := tx.NextNumber(ctx)
			if err != nil {
				return err
			}
			tr := Transfer{
				Number:       number,
				FromBranchID: input.FromBranchID,
				ToBranchID:   input.ToBranchID,
				Status:       StatusPending,
				Note:         input.Note,
				CreatedBy:    input.ActorID,
			}
			id, err := tx.InsertTransfer(ctx, tr)
			if err != nil {
				return err
			}
			items := make([]Item, 0, len(input.Items))
			for _, item := range input.Items {
				items = append(items, Item{TransferID: id, ProductID: item.ProductID, Qty: item.Qty})
			}
			if err := tx.InsertItems(ctx, id, items); err != nil {
				return err
			}
			tr.ID = id
			tr.Items = items
			created = tr
			return nil
		})
	})
	if err != nil {
		return Transfer{}, err
	}
	s.recordAudit(ctx, input.ActorID, "TRANSFER_CREATE", created.ID, map[string]any{"number": created.Number, "from": created.FromBranchID, "to": created.ToBranchID})
	return created, nil
}

// Complete moves the stock: an OUT movement at the source branch and an IN at
// the destination for every item, plus the status flip, all in one
// transaction. A shortfall on any item aborts the whole completion.
func (s *Service) Complete(ctx context.Context, id int64, actorID int64) (Transfer, error) {
	var completed Transfer
	err := s.withRetry(ctx, func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			tr, err := tx.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if tr.Status != StatusPending {
				return ErrInvalidTransition
			}
			items, err := tx.GetItems(ctx, id)
			if err != nil {
				return err
			}
			if len(items) == 0 {
				return ErrNoItems
			}

			refID := uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("TRF:%d", id))).String()
			inputs := make([]ledger.MovementInput, 0, len(items)*2)
			for _, item := range items {
				inputs = append(inputs, ledger.MovementInput{
					ProductID: item.ProductID,
					BranchID:  tr.FromBranchID,
					Kind:      ledger.KindOut,
					Qty:       item.Qty,
					RefModule: "TRANSFER",
					RefID:     refID,
					Note:      fmt.Sprintf("Transfer %s to branch %d", tr.Number, tr.ToBranchID),
					ActorID:   actorID,
				})
				inputs = append(inputs, ledger.MovementInput{
					ProductID: item.ProductID,
					BranchID:  tr.ToBranchID,
					Kind:      ledger.KindIn,
					Qty:       item.Qty,
					RefModule: "TRANSFER",
					RefID:     refID,
					Note:      fmt.Sprintf("Transfer %s from branch %d", tr.Number, tr.FromBranchID),
					ActorID:   actorID,
				})
			}
			if _, err := ledger.ApplyAll(ctx, tx, inputs); err != nil {
				return err
			}

			now := time.Now().UTC()
			if err := tx.UpdateStatus(ctx, id, StatusCompleted, actorID, now); err != nil {
				return err
			}
			tr.Status = StatusCompleted
			tr.ApprovedBy = actorID
			tr.ApprovedAt = now
			tr.Items = items
			completed = tr
			return nil
		})
	})
	if err != nil {
		return Transfer{}, err
	}
	s.recordAudit(ctx, actorID, "TRANSFER_COMPLETE", id, map[string]any{"number": completed.Number})
	return completed, nil
}

// Cancel voids a pending transfer. No stock effect; the number is not reused.
func (s *Service) Cancel(ctx context.Context, id int64, actorID int64) (Transfer, error) {
	var cancelled Transfer
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		tr, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if tr.Status != StatusPending {
			return ErrInvalidTransition
		}
		if err := tx.UpdateStatus(ctx, id, StatusCancelled, 0, time.Time{}); err != nil {
			return err
		}
		tr.Status = StatusCancelled
		cancelled = tr
		return nil
	})
	if err != nil {
		return Transfer{}, err
	}
	s.recordAudit(ctx, actorID, "TRANSFER_CANCEL", id, map[string]any{"number": cancelled.Number})
	return cancelled, nil
}

// Get loads a transfer with items.
func (s *Service) Get(ctx context.Context, id int64) (Transfer, error) {
	return s.repo.Get(ctx, id)
}

// List returns transfers matching the filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Transfer, error) {
	return s.repo.List(ctx, filter)
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
	_ = s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: "stock_transfer", EntityID: fmt.Sprintf("%d", entityID), Meta: meta})
}
