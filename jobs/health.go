package jobs

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
)

// DefaultMaxScanLag allows one missed nightly scan before the report turns stale.
const DefaultMaxScanLag = 26 * time.Hour

// QueueInspector is the subset of *asynq.Inspector the health report reads.
type QueueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	ListCompletedTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
}

// Health reports queue depth and how recently the ledger was checked for drift.
type Health struct {
	Queue     string          `json:"queue"`
	Pending   int             `json:"pending"`
	Active    int             `json:"active"`
	Retry     int             `json:"retry"`
	Failed    int             `json:"failed"`
	Integrity IntegrityStatus `json:"integrity"`
}

// IntegrityStatus describes the most recent completed integrity scan.
type IntegrityStatus struct {
	LastScanAt    *time.Time `json:"last_scan_at,omitempty"`
	LagSeconds    int64      `json:"lag_seconds"`
	Discrepancies int        `json:"discrepancies"`
	Stale         bool       `json:"stale"`
}

// Handler serves the jobs health report.
type Handler struct {
	inspector QueueInspector
	logger    *slog.Logger
	maxLag    time.Duration
	now       func() time.Time
}

// NewHandler builds the health handler. A nil inspector reports an idle queue.
func NewHandler(inspector QueueInspector, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{inspector: inspector, logger: logger, maxLag: DefaultMaxScanLag, now: time.Now}
}

// MountRoutes attaches job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	report := Health{Queue: QueueDefault}
	if h.inspector == nil {
		httpx.JSON(w, http.StatusOK, report)
		return
	}
	info, err := h.inspector.GetQueueInfo(QueueDefault)
	if err != nil {
		h.logger.Warn("jobs health", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, http.StatusText(http.StatusServiceUnavailable), "job queue unavailable")
		return
	}
	if info != nil {
		report.Pending, report.Active, report.Retry, report.Failed = info.Pending, info.Active, info.Retry, info.Failed
	}
	report.Integrity = h.integrity()
	httpx.JSON(w, http.StatusOK, report)
}

// integrity finds the newest retained integrity scan. A missing or unreadable
// history marks the report stale.
func (h *Handler) integrity() IntegrityStatus {
	tasks, err := h.inspector.ListCompletedTasks(QueueDefault, asynq.PageSize(50))
	if err != nil {
		h.logger.Warn("list completed tasks", slog.Any("error", err))
		return IntegrityStatus{Stale: true}
	}
	var latest *asynq.TaskInfo
	for _, t := range tasks {
		if t.Type != TaskLedgerIntegrity {
			continue
		}
		if latest == nil || t.CompletedAt.After(latest.CompletedAt) {
			latest = t
		}
	}
	if latest == nil {
		return IntegrityStatus{Stale: true}
	}

	status := IntegrityStatus{}
	scannedAt := latest.CompletedAt
	var res IntegrityResult
	if len(latest.Result) > 0 && json.Unmarshal(latest.Result, &res) == nil {
		status.Discrepancies = res.Discrepancies
		if !res.ScannedAt.IsZero() {
			scannedAt = res.ScannedAt
		}
	}
	scannedAt = scannedAt.UTC()
	lag := h.now().Sub(scannedAt)
	if lag < 0 {
		lag = 0
	}
	status.LastScanAt = &scannedAt
	status.LagSeconds = int64(lag / time.Second)
	status.Stale = lag > h.maxLag
	return status
}
