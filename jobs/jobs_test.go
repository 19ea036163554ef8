package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
	"github.com/odyssey-erp/stockledger/internal/ledger"
)

type stubChecker struct {
	found []ledger.Discrepancy
	err   error
}

func (s stubChecker) CheckIntegrity(context.Context) ([]ledger.Discrepancy, error) {
	return s.found, s.err
}

type stubCleaner struct {
	got     time.Duration
	removed int64
}

func (s *stubCleaner) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	s.got = olderThan
	return s.removed, nil
}

type stubWarmer struct {
	calls    int
	deadline bool
	err      error
}

func (s *stubWarmer) Warm(ctx context.Context) error {
	s.calls++
	_, s.deadline = ctx.Deadline()
	return s.err
}

func TestLedgerIntegrityJobSucceedsWithDiscrepancies(t *testing.T) {
	job := NewLedgerIntegrityJob(stubChecker{found: []ledger.Discrepancy{
		{VoucherID: 4, TransactionNumber: 7, Reason: "expected 2 movements, found 1"},
	}}, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	require.NoError(t, job.Handle(context.Background(), NewLedgerIntegrityTask()))
}

func TestLedgerIntegrityJobPropagatesScanError(t *testing.T) {
	boom := errors.New("db down")
	job := NewLedgerIntegrityJob(stubChecker{err: boom}, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	require.ErrorIs(t, job.Handle(context.Background(), NewLedgerIntegrityTask()), boom)

	var unset *LedgerIntegrityJob
	require.Error(t, unset.Handle(context.Background(), NewLedgerIntegrityTask()))
}

func TestIdempotencyCleanupRetention(t *testing.T) {
	store := &stubCleaner{removed: 3}
	job := NewIdempotencyCleanupJob(store, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	task, err := NewIdempotencyCleanupTask(48 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 48*time.Hour, store.got)

	task, ok := Task(TaskIdempotencyCleanup)
	require.True(t, ok)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, DefaultIdempotencyRetention, store.got)

	bad := asynq.NewTask(TaskIdempotencyCleanup, []byte("{"))
	require.ErrorIs(t, job.Handle(context.Background(), bad), asynq.SkipRetry)
}

func TestBalanceWarmupBoundsContext(t *testing.T) {
	warmer := &stubWarmer{}
	job := NewBalanceWarmupJob(warmer, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	require.NoError(t, job.Handle(context.Background(), NewBalanceWarmupTask()))
	require.Equal(t, 1, warmer.calls)
	require.True(t, warmer.deadline)

	warmer.err = errors.New("redis gone")
	require.Error(t, job.Handle(context.Background(), NewBalanceWarmupTask()))
}

func TestTaskLookup(t *testing.T) {
	for _, name := range []string{TaskLedgerIntegrity, TaskIdempotencyCleanup, TaskBalanceWarmup} {
		task, ok := Task(name)
		require.True(t, ok, name)
		require.Equal(t, name, task.Type())
	}
	_, ok := Task("mail:send")
	require.False(t, ok)
}

type stubInspector struct {
	info      *asynq.QueueInfo
	completed []*asynq.TaskInfo
	err       error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) {
	return s.info, s.err
}

func (s stubInspector) ListCompletedTasks(string, ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	return s.completed, nil
}

func getHealth(t *testing.T, h *Handler) (int, Health) {
	t.Helper()
	r := chi.NewRouter()
	h.MountRoutes(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	var report Health
	if rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	}
	return rec.Code, report
}

func scanResult(t *testing.T, at time.Time, discrepancies int) []byte {
	t.Helper()
	data, err := json.Marshal(IntegrityResult{ScannedAt: at, Discrepancies: discrepancies})
	require.NoError(t, err)
	return data
}

func TestHealthWithoutInspector(t *testing.T) {
	code, report := getHealth(t, NewHandler(nil, nil))
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, QueueDefault, report.Queue)
	require.Zero(t, report.Pending)
	require.Nil(t, report.Integrity.LastScanAt)
}

func TestHealthReportsIntegrityScanLag(t *testing.T) {
	now := time.Date(2024, 3, 2, 8, 0, 0, 0, time.UTC)
	older := now.Add(-30 * time.Hour)
	newest := now.Add(-6 * time.Hour)
	h := NewHandler(stubInspector{
		info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 2, Failed: 1},
		completed: []*asynq.TaskInfo{
			{Type: TaskLedgerIntegrity, CompletedAt: older, Result: scanResult(t, older, 0)},
			{Type: TaskBalanceWarmup, CompletedAt: now.Add(-time.Minute)},
			{Type: TaskLedgerIntegrity, CompletedAt: newest.Add(time.Second), Result: scanResult(t, newest, 3)},
		},
	}, nil)
	h.now = func() time.Time { return now }

	code, report := getHealth(t, h)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, 2, report.Pending)
	require.Equal(t, 1, report.Failed)
	require.NotNil(t, report.Integrity.LastScanAt)
	require.True(t, newest.Equal(*report.Integrity.LastScanAt))
	require.Equal(t, int64(6*3600), report.Integrity.LagSeconds)
	require.Equal(t, 3, report.Integrity.Discrepancies)
	require.False(t, report.Integrity.Stale)

	h.now = func() time.Time { return newest.Add(DefaultMaxScanLag + time.Minute) }
	_, report = getHealth(t, h)
	require.True(t, report.Integrity.Stale)
}

func TestHealthIsStaleWithoutAnyScan(t *testing.T) {
	_, report := getHealth(t, NewHandler(stubInspector{info: &asynq.QueueInfo{Queue: QueueDefault}}, nil))
	require.True(t, report.Integrity.Stale)
	require.Nil(t, report.Integrity.LastScanAt)
}

func TestHealthQueueUnavailable(t *testing.T) {
	code, _ := getHealth(t, NewHandler(stubInspector{err: errors.New("redis down")}, nil))
	require.Equal(t, http.StatusServiceUnavailable, code)
}

func TestIntegrityScansAreRetained(t *testing.T) {
	require.Len(t, TaskOptions(TaskLedgerIntegrity), 2)
	require.Len(t, TaskOptions(TaskBalanceWarmup), 1)
	require.Len(t, TaskOptions(TaskIdempotencyCleanup), 1)
}

func TestCronWithoutHandlerIsRejected(t *testing.T) {
	_, err := NewWorker(WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: "127.0.0.1:0"},
		Cron:      []CronRegistration{{Spec: "0 2 * * *", Task: NewLedgerIntegrityTask()}},
	})
	require.ErrorContains(t, err, TaskLedgerIntegrity)
}
