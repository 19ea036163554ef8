package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
)

// Warmer pre-populates the balance cache.
type Warmer interface {
	Warm(ctx context.Context) error
}

// BalanceWarmupJob fills the balances report cache ahead of traffic.
type BalanceWarmupJob struct {
	Balances Warmer
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	Timeout  time.Duration
}

// NewBalanceWarmupJob wires the warm-up handler.
func NewBalanceWarmupJob(balances Warmer, logger *slog.Logger, metrics *jobmetrics.Metrics) *BalanceWarmupJob {
	return &BalanceWarmupJob{Balances: balances, Logger: logger, Metrics: metrics, Timeout: 30 * time.Second}
}

// Handle warms the cache under a bounded timeout.
func (j *BalanceWarmupJob) Handle(ctx context.Context, _ *asynq.Task) (resultErr error) {
	if j == nil || j.Balances == nil {
		return errors.New("balance warmup: handler not configured")
	}
	tracker := metricsOrDefault(j.Metrics).Track(TaskBalanceWarmup)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	if j.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.Timeout)
		defer cancel()
	}
	logger := jobLogger(j.Logger, TaskBalanceWarmup)
	start := time.Now()
	if err := j.Balances.Warm(ctx); err != nil {
		logger.Error("balance warmup failed", slog.Any("error", err))
		return err
	}
	logger.Info("balance cache warmed", slog.Duration("duration", time.Since(start)))
	return nil
}
