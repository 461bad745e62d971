package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/meridian-retail/meridian-pos/internal/catalog/products"
	"github.com/meridian-retail/meridian-pos/internal/observability"
)

// ReorderSnapshotKey holds the latest low stock scan result in Redis.
const ReorderSnapshotKey = "meridian:reorder:snapshot"

// ReorderCatalog lists products at or below their reorder level.
type ReorderCatalog interface {
	ListBelowReorder(ctx context.Context) ([]products.Product, error)
}

// ReorderAlert is one row of the snapshot written to Redis.
type ReorderAlert struct {
	ProductID    int64   `json:"product_id"`
	Code         string  `json:"code"`
	Name         string  `json:"name"`
	Stock        float64 `json:"stock"`
	ReorderLevel float64 `json:"reorder_level"`
}

// ReorderScanJob finds active products that fell to their reorder level and
// publishes the list for dashboards to pick up.
type ReorderScanJob struct {
	Catalog ReorderCatalog
	Redis   *redis.Client
	Logger  *slog.Logger
	Metrics *observability.Metrics
	clock   func() time.Time
}

// NewReorderScanJob initialises the low stock scan handler.
func NewReorderScanJob(catalog ReorderCatalog, rdb *redis.Client, logger *slog.Logger, metrics *observability.Metrics) *ReorderScanJob {
	return &ReorderScanJob{
		Catalog: catalog,
		Redis:   rdb,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the low stock scan.
func (j *ReorderScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Catalog == nil {
		return errors.New("reorder scan: handler not configured")
	}
	var payload ReorderScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.SnapshotTTLMinutes <= 0 {
		payload.SnapshotTTLMinutes = 30
	}

	start := j.now()
	logger := j.logger()

	low, err := j.Catalog.ListBelowReorder(ctx)
	if err != nil {
		logger.Error("reorder scan failed", slog.Any("error", err))
		j.metrics().ObserveJob(TaskReorderScan, err)
		return err
	}

	alerts := make([]ReorderAlert, 0, len(low))
	for _, p := range low {
		alerts = append(alerts, ReorderAlert{
			ProductID:    p.ID,
			Code:         p.Code,
			Name:         p.Name,
			Stock:        p.Stock,
			ReorderLevel: p.ReorderLevel,
		})
		logger.Warn("product at reorder level",
			slog.Int64("product_id", p.ID),
			slog.String("code", p.Code),
			slog.Float64("stock", p.Stock),
			slog.Float64("reorder_level", p.ReorderLevel),
		)
	}

	var snapErr error
	if j.Redis != nil {
		data, err := json.Marshal(alerts)
		if err == nil {
			ttl := time.Duration(payload.SnapshotTTLMinutes) * time.Minute
			snapErr = j.Redis.Set(ctx, ReorderSnapshotKey, data, ttl).Err()
		} else {
			snapErr = err
		}
		if snapErr != nil {
			logger.Error("snapshot write failed", slog.Any("error", snapErr))
		}
	}

	j.metrics().SetLowStockProducts(len(alerts))
	j.metrics().ObserveJob(TaskReorderScan, snapErr)

	logger.Info("completed reorder scan",
		slog.Int("low_stock", len(alerts)),
		slog.Duration("duration", time.Since(start)),
	)
	return snapErr
}

func (j *ReorderScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskReorderScan))
	}
	return slog.Default().With(slog.String("job", TaskReorderScan))
}

func (j *ReorderScanJob) metrics() *observability.Metrics {
	return j.Metrics
}

func (j *ReorderScanJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
