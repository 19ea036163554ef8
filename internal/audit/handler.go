package audit

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

const maxRange = 90 * 24 * time.Hour

// Handler exposes the audit timeline.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the audit handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers the timeline and its CSV export.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.timeline)
	r.Get("/export.csv", h.export)
}

func (h *Handler) timeline(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		h.logger.Error("load audit timeline", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rows, err := h.service.Export(r.Context(), filters)
	if err != nil {
		h.logger.Error("export audit timeline", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	body, err := WriteCSV(rows)
	if err != nil {
		h.logger.Error("encode csv", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="audit-timeline.csv"`)
	if _, err := w.Write(body); err != nil {
		h.logger.Warn("write csv", slog.Any("error", err))
	}
}

// parseFilters reads from/to as inclusive calendar dates; to becomes an exclusive
// upper bound at the following midnight.
func parseFilters(r *http.Request) (TimelineFilters, error) {
	q := r.URL.Query()
	var f TimelineFilters
	if raw := strings.TrimSpace(q.Get("from")); raw != "" {
		d, err := shared.ParseDate(raw)
		if err != nil {
			return TimelineFilters{}, err
		}
		f.From = d.Time
	}
	if raw := strings.TrimSpace(q.Get("to")); raw != "" {
		d, err := shared.ParseDate(raw)
		if err != nil {
			return TimelineFilters{}, err
		}
		f.To = d.Time.AddDate(0, 0, 1)
	}
	if !f.From.IsZero() && !f.To.IsZero() {
		if !f.From.Before(f.To) {
			return TimelineFilters{}, fmt.Errorf("%w: from must not be after to", shared.ErrValidation)
		}
		if f.To.Sub(f.From) > maxRange {
			return TimelineFilters{}, fmt.Errorf("%w: range is limited to 90 days", shared.ErrValidation)
		}
	}
	actor, err := httpx.QueryInt64(r, "actor_id")
	if err != nil {
		return TimelineFilters{}, err
	}
	f.ActorID = actor
	f.Entity = strings.TrimSpace(q.Get("entity"))
	f.EntityID = strings.TrimSpace(q.Get("entity_id"))
	f.Action = strings.TrimSpace(q.Get("action"))
	for name, dst := range map[string]*int{"page": &f.Page, "page_size": &f.PageSize} {
		raw := strings.TrimSpace(q.Get(name))
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return TimelineFilters{}, fmt.Errorf("%w: invalid %s", shared.ErrValidation, name)
		}
		*dst = n
	}
	return f, nil
}
