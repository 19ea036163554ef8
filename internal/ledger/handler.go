package ledger

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	"github.com/odyssey-erp/stockledger/internal/shared"
	"github.com/odyssey-erp/stockledger/internal/txntype"
)

// ActorHeader optionally names the operator behind a write.
const ActorHeader = "X-Actor-ID"

// IdempotencyHeader carries the client request key for voucher creation.
const IdempotencyHeader = "Idempotency-Key"

// Handler wires HTTP endpoints for vouchers.
type Handler struct {
	logger  *slog.Logger
	service *Service
	guard   func(http.Handler) http.Handler
}

// NewHandler constructs the voucher handler. guard wraps the write routes; nil leaves them open.
func NewHandler(logger *slog.Logger, service *Service, guard func(http.Handler) http.Handler) *Handler {
	return &Handler{logger: logger, service: service, guard: guard}
}

// MountRoutes registers voucher routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/{id}", h.get)
	r.Get("/{id}/movements", h.movements)
	r.Group(func(r chi.Router) {
		if h.guard != nil {
			r.Use(h.guard)
		}
		r.Post("/", h.create)
		r.Put("/{id}", h.update)
		r.Delete("/{id}", h.delete)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filter, err := listFilterFromQuery(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	page, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.fail(w, "list vouchers", err)
		return
	}
	httpx.JSONPage(w, page, filter.Page)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	v, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get voucher", err)
		return
	}
	httpx.JSON(w, http.StatusOK, v)
}

func (h *Handler) movements(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rows, err := h.service.Movements(r.Context(), id)
	if err != nil {
		h.fail(w, "list voucher movements", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rows)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var d Draft
	if err := httpx.DecodeJSON(r, &d); err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, err := actorID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	d.ActorID = actor
	v, err := h.service.Create(r.Context(), d, strings.TrimSpace(r.Header.Get(IdempotencyHeader)))
	if err != nil {
		h.fail(w, "create voucher", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, v)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var d Draft
	if err := httpx.DecodeJSON(r, &d); err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, err := actorID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	d.ActorID = actor
	v, err := h.service.Update(r.Context(), id, d)
	if err != nil {
		h.fail(w, "update voucher", err)
		return
	}
	httpx.JSON(w, http.StatusOK, v)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, err := actorID(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Delete(r.Context(), id, actor); err != nil {
		h.fail(w, "delete voucher", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if h.logger != nil {
		h.logger.Error(op+" failed", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func listFilterFromQuery(r *http.Request) (ListFilter, error) {
	q := r.URL.Query()
	filter := ListFilter{Page: httpx.PageFromQuery(r), Number: q.Get("number")}
	typeID, err := httpx.QueryInt64(r, "type_id")
	if err != nil {
		return ListFilter{}, err
	}
	if typeID != nil {
		id := txntype.ID(*typeID)
		filter.TypeID = &id
	}
	if filter.SiteID, err = httpx.QueryInt64(r, "site_id"); err != nil {
		return ListFilter{}, err
	}
	for name, dst := range map[string]**shared.Date{"from_date": &filter.From, "to_date": &filter.To} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		d, err := shared.ParseDate(raw)
		if err != nil {
			return ListFilter{}, err
		}
		*dst = &d
	}
	return filter, nil
}

func actorID(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(r.Header.Get(ActorHeader))
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("%w: invalid %s header", shared.ErrValidation, ActorHeader)
	}
	return id, nil
}
