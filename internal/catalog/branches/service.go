package branches

import (
	"context"

	"github.com/meridian-retail/meridian-pos/internal/platform/httpx"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context, filters ListFilters) ([]Branch, error) {
	return s.repo.List(ctx, filters)
}

func (s *Service) Get(ctx context.Context, id int64) (Branch, error) {
	if id <= 0 {
		return Branch{}, httpx.ErrNotFound
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) Create(ctx context.Context, branch Branch) (Branch, error) {
	if err := s.validate(branch); err != nil {
		return Branch{}, err
	}
	return s.repo.Create(ctx, branch)
}

func (s *Service) Update(ctx context.Context, id int64, branch Branch) (Branch, error) {
	if id <= 0 {
		return Branch{}, httpx.ErrNotFound
	}
	if err := s.validate(branch); err != nil {
		return Branch{}, err
	}
	if err := s.repo.Update(ctx, id, branch); err != nil {
		return Branch{}, err
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) Deactivate(ctx context.Context, id int64) error {
	if id <= 0 {
		return httpx.ErrNotFound
	}
	return s.repo.Deactivate(ctx, id)
}

// Inventory returns the stock projection per product at the branch.
func (s *Service) Inventory(ctx context.Context, branchID int64) ([]InventoryRow, error) {
	if _, err := s.Get(ctx, branchID); err != nil {
		return nil, err
	}
	return s.repo.Inventory(ctx, branchID)
}
