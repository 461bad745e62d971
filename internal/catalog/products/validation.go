package products

import (
	"fmt"
	"strings"

	"github.com/meridian-retail/meridian-pos/internal/platform/httpx"
)

func (s *Service) validate(p Product) error {
	if strings.TrimSpace(p.Code) == "" {
		return fmt.Errorf("%w: product code is required", httpx.ErrValidation)
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: product name is required", httpx.ErrValidation)
	}
	switch p.Unit {
	case UnitPiece, UnitWeight, UnitVolume:
	default:
		return fmt.Errorf("%w: unknown unit type %q", httpx.ErrValidation, p.Unit)
	}
	if p.Price.IsNegative() || p.Cost.IsNegative() {
		return fmt.Errorf("%w: price and cost cannot be negative", httpx.ErrValidation)
	}
	if p.ReorderLevel < 0 {
		return fmt.Errorf("%w: reorder level cannot be negative", httpx.ErrValidation)
	}
	return nil
}
