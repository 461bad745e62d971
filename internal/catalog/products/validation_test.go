package products

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-retail/meridian-pos/internal/platform/httpx"
)

func TestValidate(t *testing.T) {
	svc := &Service{}
	base := Product{
		Code:  "SKU-0001",
		Name:  "Gula Pasir 1kg",
		Unit:  UnitPiece,
		Price: decimal.RequireFromString("17500"),
		Cost:  decimal.RequireFromString("15000"),
	}
	require.NoError(t, svc.validate(base))

	cases := map[string]func(p *Product){
		"missing code":     func(p *Product) { p.Code = "  " },
		"missing name":     func(p *Product) { p.Name = "" },
		"unknown unit":     func(p *Product) { p.Unit = "CRATE" },
		"negative price":   func(p *Product) { p.Price = decimal.RequireFromString("-1") },
		"negative cost":    func(p *Product) { p.Cost = decimal.RequireFromString("-1") },
		"negative reorder": func(p *Product) { p.ReorderLevel = -5 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			p := base
			mutate(&p)
			require.ErrorIs(t, svc.validate(p), httpx.ErrValidation)
		})
	}
}
