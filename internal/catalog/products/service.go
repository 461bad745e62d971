package products

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

func (s *Service) List(ctx context.Context, filters ListFilters) ([]Product, int, error) {
	return s.repo.List(ctx, filters)
}

func (s *Service) Get(ctx context.Context, id int64) (Product, error) {
	if id <= 0 {
		return Product{}, httpx.ErrNotFound
	}
	return s.repo.Get(ctx, id)
}

// GetByBarcode resolves a scanned code to a product.
func (s *Service) GetByBarcode(ctx context.Context, barcode string) (Product, error) {
	if barcode == "" {
		return Product{}, httpx.ErrNotFound
	}
	return s.repo.GetByBarcode(ctx, barcode)
}

func (s *Service) Create(ctx context.Context, product Product) (Product, error) {
	if err := s.validate(product); err != nil {
		return Product{}, err
	}
	return s.repo.Create(ctx, product)
}

func (s *Service) Update(ctx context.Context, id int64, product Product) (Product, error) {
	if id <= 0 {
		return Product{}, httpx.ErrNotFound
	}
	if err := s.validate(product); err != nil {
		return Product{}, err
	}
	if err := s.repo.Update(ctx, id, product); err != nil {
		return Product{}, err
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) Deactivate(ctx context.Context, id int64) error {
	if id <= 0 {
		return httpx.ErrNotFound
	}
	return s.repo.Deactivate(ctx, id)
}

// ActiveIDs lists the ids of all active products, used as the default
// stocktake scope.
func (s *Service) ActiveIDs(ctx context.Context) ([]int64, error) {
	return s.repo.ActiveIDs(ctx)
}

// ListBelowReorder returns active products at or under their reorder level.
func (s *Service) ListBelowReorder(ctx context.Context) ([]Product, error) {
	return s.repo.ListBelowReorder(ctx)
}
