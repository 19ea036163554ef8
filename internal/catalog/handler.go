package catalog

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
)

// Handler wires HTTP endpoints for items, brands and models.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the catalog handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers /items, /brands and /models below r.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/items", func(r chi.Router) {
		r.Get("/", h.listItems)
		r.Post("/", h.createItem)
		r.Get("/{id}", h.getItem)
		r.Put("/{id}", h.updateItem)
		r.Post("/{id}/deactivate", h.setItemActive(false))
		r.Post("/{id}/activate", h.setItemActive(true))
		r.Delete("/{id}", h.deleteItem)
	})
	for _, kind := range []Kind{KindBrand, KindModel} {
		kind := kind
		r.Route("/"+string(kind), func(r chi.Router) {
			r.Get("/", h.listLabels(kind))
			r.Post("/", h.createLabel(kind))
			r.Get("/{id}", h.getLabel(kind))
			r.Put("/{id}", h.updateLabel(kind))
			r.Delete("/{id}", h.deleteLabel(kind))
		})
	}
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	brandID, err := httpx.QueryInt64(r, "brand_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	modelID, err := httpx.QueryInt64(r, "model_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter := ItemFilter{
		Search:     strings.TrimSpace(q.Get("search")),
		BrandID:    brandID,
		ModelID:    modelID,
		ActiveOnly: q.Get("active") == "true",
		Page:       httpx.PageFromQuery(r),
	}
	page, err := h.service.ListItems(r.Context(), filter)
	if err != nil {
		h.fail(w, "list items", err)
		return
	}
	httpx.JSONPage(w, page, filter.Page)
}

func (h *Handler) getItem(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, err := h.service.GetItem(r.Context(), id)
	if err != nil {
		h.fail(w, "get item", err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) createItem(w http.ResponseWriter, r *http.Request) {
	var in ItemInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, err := h.service.CreateItem(r.Context(), in)
	if err != nil {
		h.fail(w, "create item", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, item)
}

func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var in ItemInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, err := h.service.UpdateItem(r.Context(), id, in)
	if err != nil {
		h.fail(w, "update item", err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) setItemActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := httpx.PathID(r, "id")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		if active {
			err = h.service.ActivateItem(r.Context(), id)
		} else {
			err = h.service.DeactivateItem(r.Context(), id)
		}
		if err != nil {
			h.fail(w, "set item active", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) deleteItem(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteItem(r.Context(), id); err != nil {
		h.fail(w, "delete item", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listLabels(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := h.service.ListLabels(r.Context(), kind, r.URL.Query().Get("active") == "true")
		if err != nil {
			h.fail(w, "list "+string(kind), err)
			return
		}
		httpx.JSON(w, http.StatusOK, rows)
	}
}

func (h *Handler) getLabel(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := httpx.PathID(r, "id")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		label, err := h.service.GetLabel(r.Context(), kind, id)
		if err != nil {
			h.fail(w, "get "+kind.singular(), err)
			return
		}
		httpx.JSON(w, http.StatusOK, label)
	}
}

func (h *Handler) createLabel(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in LabelInput
		if err := httpx.DecodeJSON(r, &in); err != nil {
			httpx.RespondError(w, err)
			return
		}
		label, err := h.service.CreateLabel(r.Context(), kind, in)
		if err != nil {
			h.fail(w, "create "+kind.singular(), err)
			return
		}
		httpx.JSON(w, http.StatusCreated, label)
	}
}

func (h *Handler) updateLabel(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := httpx.PathID(r, "id")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		var in LabelInput
		if err := httpx.DecodeJSON(r, &in); err != nil {
			httpx.RespondError(w, err)
			return
		}
		label, err := h.service.UpdateLabel(r.Context(), kind, id, in)
		if err != nil {
			h.fail(w, "update "+kind.singular(), err)
			return
		}
		httpx.JSON(w, http.StatusOK, label)
	}
}

func (h *Handler) deleteLabel(kind Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := httpx.PathID(r, "id")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		if err := h.service.DeleteLabel(r.Context(), kind, id); err != nil {
			h.fail(w, "delete "+kind.singular(), err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if h.logger != nil {
		h.logger.Error(op+" failed", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
