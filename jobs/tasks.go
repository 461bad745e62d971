package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerIntegrity is the task type for the projection drift scan.
	TaskLedgerIntegrity = "ledger:integrity"
	// TaskReorderScan is the task type for the low stock scan.
	TaskReorderScan = "stock:reorder_scan"
	// TaskIdempotencyCleanup is the task type for expiring stale request keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// LedgerIntegrityPayload tunes the drift scan.
type LedgerIntegrityPayload struct {
	Rebuild bool `json:"rebuild"`
}

// NewLedgerIntegrityTask constructs an Asynq task.
func NewLedgerIntegrityTask(payload LedgerIntegrityPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, data), nil
}

// ReorderScanPayload tunes the low stock scan.
type ReorderScanPayload struct {
	SnapshotTTLMinutes int `json:"snapshot_ttl_minutes"`
}

// NewReorderScanTask constructs an Asynq task.
func NewReorderScanTask(payload ReorderScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReorderScan, data), nil
}

// IdempotencyCleanupPayload bounds the retention window for request keys.
type IdempotencyCleanupPayload struct {
	OlderThanHours int `json:"older_than_hours"`
}

// NewIdempotencyCleanupTask constructs an Asynq task.
func NewIdempotencyCleanupTask(payload IdempotencyCleanupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}
