package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/meridian-retail/meridian-pos/internal/catalog/products"
	"github.com/meridian-retail/meridian-pos/internal/ledger"
)

type fakeDriftStore struct {
	productDrift []ledger.Drift
	branchDrift  []ledger.Drift
	listErr      error
	rebuilt      []int64
}

func (f *fakeDriftStore) ListDrift(ctx context.Context) ([]ledger.Drift, error) {
	return f.productDrift, f.listErr
}

func (f *fakeDriftStore) ListBranchDrift(ctx context.Context) ([]ledger.Drift, error) {
	return f.branchDrift, f.listErr
}

func (f *fakeDriftStore) Rebuild(ctx context.Context, productID int64) (float64, error) {
	f.rebuilt = append(f.rebuilt, productID)
	return 0, nil
}

func TestLedgerIntegrityReportsDrift(t *testing.T) {
	store := &fakeDriftStore{
		productDrift: []ledger.Drift{{ProductID: 7, Projected: 45, LedgerSum: 42}},
	}
	job := NewLedgerIntegrityJob(store, nil, nil)

	task, err := NewLedgerIntegrityTask(LedgerIntegrityPayload{})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Empty(t, store.rebuilt)
}

func TestLedgerIntegrityRebuildsOnRequest(t *testing.T) {
	store := &fakeDriftStore{
		productDrift: []ledger.Drift{{ProductID: 7, Projected: 45, LedgerSum: 42}},
		branchDrift: []ledger.Drift{
			{ProductID: 7, BranchID: 2, Projected: 10, LedgerSum: 8},
			{ProductID: 9, BranchID: 2, Projected: 3, LedgerSum: 1},
		},
	}
	job := NewLedgerIntegrityJob(store, nil, nil)

	task, err := NewLedgerIntegrityTask(LedgerIntegrityPayload{Rebuild: true})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, []int64{7, 9}, store.rebuilt)
}

func TestLedgerIntegrityPropagatesQueryErrors(t *testing.T) {
	store := &fakeDriftStore{listErr: errors.New("connection refused")}
	job := NewLedgerIntegrityJob(store, nil, nil)

	task, err := NewLedgerIntegrityTask(LedgerIntegrityPayload{})
	require.NoError(t, err)
	require.Error(t, job.Handle(context.Background(), task))
}

func TestLedgerIntegritySkipsRetryOnBadPayload(t *testing.T) {
	job := NewLedgerIntegrityJob(&fakeDriftStore{}, nil, nil)
	task := asynq.NewTask(TaskLedgerIntegrity, []byte("not json"))
	require.ErrorIs(t, job.Handle(context.Background(), task), asynq.SkipRetry)
}

type fakeCatalog struct {
	low []products.Product
	err error
}

func (f *fakeCatalog) ListBelowReorder(ctx context.Context) ([]products.Product, error) {
	return f.low, f.err
}

func TestReorderScanWritesSnapshot(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	catalog := &fakeCatalog{low: []products.Product{
		{ID: 3, Code: "SKU-3", Name: "Beras 5kg", Stock: 4, ReorderLevel: 10},
	}}
	job := NewReorderScanJob(catalog, client, nil, nil)

	task, err := NewReorderScanTask(ReorderScanPayload{SnapshotTTLMinutes: 5})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	raw, err := client.Get(context.Background(), ReorderSnapshotKey).Bytes()
	require.NoError(t, err)

	var alerts []ReorderAlert
	require.NoError(t, json.Unmarshal(raw, &alerts))
	require.Len(t, alerts, 1)
	require.Equal(t, int64(3), alerts[0].ProductID)
	require.Equal(t, "SKU-3", alerts[0].Code)
	require.InDelta(t, 4, alerts[0].Stock, 1e-9)

	ttl := mr.TTL(ReorderSnapshotKey)
	require.Equal(t, 5*time.Minute, ttl)
}

func TestReorderScanWorksWithoutRedis(t *testing.T) {
	catalog := &fakeCatalog{low: nil}
	job := NewReorderScanJob(catalog, nil, nil, nil)

	task, err := NewReorderScanTask(ReorderScanPayload{})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
}

type fakeKeyStore struct {
	olderThan time.Duration
	err       error
}

func (f *fakeKeyStore) Cleanup(ctx context.Context, olderThan time.Duration) error {
	f.olderThan = olderThan
	return f.err
}

func TestIdempotencyCleanupDefaultsRetention(t *testing.T) {
	store := &fakeKeyStore{}
	job := NewIdempotencyCleanupJob(store, nil, nil)

	task, err := NewIdempotencyCleanupTask(IdempotencyCleanupPayload{})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 24*time.Hour, store.olderThan)
}

func TestIdempotencyCleanupHonoursPayload(t *testing.T) {
	store := &fakeKeyStore{}
	job := NewIdempotencyCleanupJob(store, nil, nil)

	task, err := NewIdempotencyCleanupTask(IdempotencyCleanupPayload{OlderThanHours: 72})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 72*time.Hour, store.olderThan)
}
