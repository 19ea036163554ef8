package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	TaskLedgerIntegrity    = "ledger:integrity"
	TaskIdempotencyCleanup = "idempotency:cleanup"
	TaskBalanceWarmup      = "balance:warmup"
)

// IntegrityRetention keeps completed integrity scans inspectable for the health report.
const IntegrityRetention = 72 * time.Hour

// IntegrityResult is stored as the result of each completed integrity scan.
type IntegrityResult struct {
	ScannedAt     time.Time `json:"scanned_at"`
	Discrepancies int       `json:"discrepancies"`
}

// IdempotencyCleanupPayload bounds how old a reserved key must be before removal.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewLedgerIntegrityTask builds the integrity scan task.
func NewLedgerIntegrityTask() *asynq.Task {
	return asynq.NewTask(TaskLedgerIntegrity, nil)
}

// NewIdempotencyCleanupTask builds the cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(IdempotencyCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}

// NewBalanceWarmupTask builds the cache warm-up task.
func NewBalanceWarmupTask() *asynq.Task {
	return asynq.NewTask(TaskBalanceWarmup, nil)
}

// TaskOptions returns the enqueue options every producer applies to the named task.
func TaskOptions(name string) []asynq.Option {
	switch name {
	case TaskLedgerIntegrity:
		return []asynq.Option{asynq.MaxRetry(3), asynq.Retention(IntegrityRetention)}
	case TaskBalanceWarmup:
		return []asynq.Option{asynq.MaxRetry(1)}
	}
	return []asynq.Option{asynq.MaxRetry(3)}
}

// Task resolves a task type name to a ready-to-enqueue task.
func Task(name string) (*asynq.Task, bool) {
	switch name {
	case TaskLedgerIntegrity:
		return NewLedgerIntegrityTask(), true
	case TaskIdempotencyCleanup:
		t, err := NewIdempotencyCleanupTask(0)
		return t, err == nil
	case TaskBalanceWarmup:
		return NewBalanceWarmupTask(), true
	}
	return nil, false
}
