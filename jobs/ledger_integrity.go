package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-retail/meridian-pos/internal/ledger"
	"github.com/meridian-retail/meridian-pos/internal/observability"
)

// DriftStore reads projection drift out of the movement log.
type DriftStore interface {
	ListDrift(ctx context.Context) ([]ledger.Drift, error)
	ListBranchDrift(ctx context.Context) ([]ledger.Drift, error)
	Rebuild(ctx context.Context, productID int64) (float64, error)
}

// LedgerIntegrityJob recomputes movement sums and compares them against the
// live projections. Any mismatch means a write bypassed the ledger.
type LedgerIntegrityJob struct {
	Store   DriftStore
	Logger  *slog.Logger
	Metrics *observability.Metrics
	clock   func() time.Time
}

// NewLedgerIntegrityJob initialises the drift scan handler.
func NewLedgerIntegrityJob(store DriftStore, logger *slog.Logger, metrics *observability.Metrics) *LedgerIntegrityJob {
	return &LedgerIntegrityJob{
		Store:   store,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the drift scan.
func (j *LedgerIntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("ledger integrity: handler not configured")
	}
	var payload LedgerIntegrityPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	start := j.now()
	logger := j.logger()
	logger.Info("starting integrity scan")

	var productDrift, branchDrift []ledger.Drift
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		productDrift, err = j.Store.ListDrift(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		branchDrift, err = j.Store.ListBranchDrift(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		logger.Error("integrity scan failed", slog.Any("error", err))
		j.metrics().ObserveJob(TaskLedgerIntegrity, err)
		return err
	}

	for _, d := range productDrift {
		logger.Warn("projection drift detected",
			slog.Int64("product_id", d.ProductID),
			slog.Float64("projected", d.Projected),
			slog.Float64("ledger_sum", d.LedgerSum),
		)
	}
	for _, d := range branchDrift {
		logger.Warn("branch projection drift detected",
			slog.Int64("product_id", d.ProductID),
			slog.Int64("branch_id", d.BranchID),
			slog.Float64("projected", d.Projected),
			slog.Float64("ledger_sum", d.LedgerSum),
		)
	}

	var rebuildErr error
	if payload.Rebuild {
		for _, id := range driftedProductIDs(productDrift, branchDrift) {
			rebuilt, err := j.Store.Rebuild(ctx, id)
			if err != nil {
				logger.Error("rebuild failed", slog.Int64("product_id", id), slog.Any("error", err))
				rebuildErr = err
				continue
			}
			logger.Info("projection rebuilt", slog.Int64("product_id", id), slog.Float64("stock", rebuilt))
		}
	}

	j.metrics().SetDriftProducts(len(productDrift))
	j.metrics().ObserveJob(TaskLedgerIntegrity, rebuildErr)

	logger.Info("completed integrity scan",
		slog.Int("product_drift", len(productDrift)),
		slog.Int("branch_drift", len(branchDrift)),
		slog.Duration("duration", time.Since(start)),
	)
	return rebuildErr
}

func driftedProductIDs(productDrift, branchDrift []ledger.Drift) []int64 {
	seen := make(map[int64]struct{})
	ids := make([]int64, 0, len(productDrift)+len(branchDrift))
	for _, d := range productDrift {
		if _, ok := seen[d.ProductID]; ok {
			continue
		}
		seen[d.ProductID] = struct{}{}
		ids = append(ids, d.ProductID)
	}
	for _, d := range branchDrift {
		if _, ok := seen[d.ProductID]; ok {
			continue
		}
		seen[d.ProductID] = struct{}{}
		ids = append(ids, d.ProductID)
	}
	return ids
}

func (j *LedgerIntegrityJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLedgerIntegrity))
	}
	return slog.Default().With(slog.String("job", TaskLedgerIntegrity))
}

func (j *LedgerIntegrityJob) metrics() *observability.Metrics {
	return j.Metrics
}

func (j *LedgerIntegrityJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
