package license

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Handler exposes the license state and activation.
type Handler struct {
	logger *slog.Logger
	gate   *Gate
}

// NewHandler constructs the license handler.
func NewHandler(logger *slog.Logger, gate *Gate) *Handler {
	return &Handler{logger: logger, gate: gate}
}

// MountRoutes registers license routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.status)
	r.Post("/activate", h.activate)
}

type activateRequest struct {
	Token string `json:"token" validate:"required"`
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	st, err := h.gate.Check(r.Context())
	if err != nil {
		h.logger.Error("license check failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

func (h *Handler) activate(w http.ResponseWriter, r *http.Request) {
	var req activateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := shared.ValidateStruct(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	st, err := h.gate.Activate(r.Context(), req.Token)
	if err != nil {
		h.logger.Warn("license activation refused", slog.String("status", string(st.Status)), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("license activated", slog.String("name", st.Name), slog.String("type", st.Type))
	httpx.JSON(w, http.StatusOK, st)
}

// Middleware refuses requests unless the license is Valid or in Trial.
func (g *Gate) Middleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			st, err := g.Check(r.Context())
			if err != nil {
				logger.Error("license check failed", slog.Any("error", err))
				httpx.RespondError(w, err)
				return
			}
			if !st.Status.Allows() {
				httpx.RespondError(w, shared.ErrLicenseRequired)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
