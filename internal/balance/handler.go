package balance

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	"github.com/odyssey-erp/stockledger/internal/shared"
	"github.com/odyssey-erp/stockledger/internal/txntype"
)

// Handler exposes the stock reports.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the report handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers report routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/balance", h.balanceAt)
	r.Get("/balances", h.balances)
	r.Get("/movements", h.history)
	r.Get("/items/{id}/sites", h.itemSites)
	r.Get("/sites/{id}/items", h.siteItems)
	r.Get("/dashboard", h.dashboard)
}

type balanceResponse struct {
	ItemID   int64           `json:"item_id"`
	SiteID   int64           `json:"site_id"`
	Quantity decimal.Decimal `json:"quantity"`
}

func (h *Handler) balanceAt(w http.ResponseWriter, r *http.Request) {
	itemID, err := httpx.QueryInt64(r, "item_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	siteID, err := httpx.QueryInt64(r, "site_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if itemID == nil || siteID == nil {
		httpx.RespondError(w, fmt.Errorf("%w: item_id and site_id are required", shared.ErrValidation))
		return
	}
	qty, err := h.service.BalanceAt(r.Context(), *itemID, *siteID)
	if err != nil {
		h.fail(w, "balance", err)
		return
	}
	httpx.JSON(w, http.StatusOK, balanceResponse{ItemID: *itemID, SiteID: *siteID, Quantity: qty})
}

func (h *Handler) balances(w http.ResponseWriter, r *http.Request) {
	siteID, err := httpx.QueryInt64(r, "site_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter := Filter{
		ItemName: strings.TrimSpace(r.URL.Query().Get("item_name")),
		SiteID:   siteID,
		Page:     httpx.PageFromQuery(r),
	}
	page, err := h.service.Balances(r.Context(), filter)
	if err != nil {
		h.fail(w, "list balances", err)
		return
	}
	httpx.JSONPage(w, page, filter.Page)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	filter, err := historyFilterFromQuery(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	page, err := h.service.MovementHistory(r.Context(), filter)
	if err != nil {
		h.fail(w, "movement history", err)
		return
	}
	httpx.JSONPage(w, page, filter.Page)
}

func (h *Handler) itemSites(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rows, err := h.service.ItemStockBySites(r.Context(), id)
	if err != nil {
		h.fail(w, "item stock by sites", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) siteItems(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rows, err := h.service.SiteStockBalances(r.Context(), id)
	if err != nil {
		h.fail(w, "site stock balances", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.Dashboard(r.Context())
	if err != nil {
		h.fail(w, "dashboard", err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if h.logger != nil {
		h.logger.Error(op+" failed", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func historyFilterFromQuery(r *http.Request) (HistoryFilter, error) {
	q := r.URL.Query()
	filter := HistoryFilter{Page: httpx.PageFromQuery(r)}
	var err error
	if filter.ItemID, err = httpx.QueryInt64(r, "item_id"); err != nil {
		return HistoryFilter{}, err
	}
	if filter.SiteID, err = httpx.QueryInt64(r, "site_id"); err != nil {
		return HistoryFilter{}, err
	}
	typeID, err := httpx.QueryInt64(r, "type_id")
	if err != nil {
		return HistoryFilter{}, err
	}
	if typeID != nil {
		t := txntype.ID(*typeID)
		filter.TypeID = &t
	}
	if raw := q.Get("from_date"); raw != "" {
		d, err := shared.ParseDate(raw)
		if err != nil {
			return HistoryFilter{}, err
		}
		filter.From = &d
	}
	if raw := q.Get("to_date"); raw != "" {
		d, err := shared.ParseDate(raw)
		if err != nil {
			return HistoryFilter{}, err
		}
		filter.To = &d
	}
	return filter, nil
}
