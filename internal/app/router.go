package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/meridian-retail/meridian-pos/internal/billing"
	"github.com/meridian-retail/meridian-pos/internal/catalog/branches"
	"github.com/meridian-retail/meridian-pos/internal/catalog/products"
	"github.com/meridian-retail/meridian-pos/internal/ledger"
	"github.com/meridian-retail/meridian-pos/internal/observability"
	"github.com/meridian-retail/meridian-pos/internal/stocktake"
	"github.com/meridian-retail/meridian-pos/internal/transfer"
	"github.com/meridian-retail/meridian-pos/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	LedgerHandler    *ledger.Handler
	TransferHandler  *transfer.Handler
	StocktakeHandler *stocktake.Handler
	BillingHandler   *billing.Handler
	ProductsHandler  *products.Handler
	BranchesHandler  *branches.Handler
	JobHandler       *jobs.Handler
	Metrics          *observability.Metrics
}

// NewRouter constructs the chi.Router with Meridian defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/stock", params.LedgerHandler.MountRoutes)
		r.Route("/transfers", params.TransferHandler.MountRoutes)
		r.Route("/stocktakes", params.StocktakeHandler.MountRoutes)
		r.Route("/sales", params.BillingHandler.MountRoutes)
		r.Route("/products", params.ProductsHandler.MountRoutes)
		r.Route("/branches", params.BranchesHandler.MountRoutes)
	})

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
