package cart

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/storefront-payments/internal/auth"
	"github.com/joao-fontenele/storefront-payments/internal/domain"
)

type Handler struct {
	store  Store
	logger *slog.Logger
}

func NewHandler(store Store, logger *slog.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

type putCartRequest struct {
	Items []domain.CartItem `json:"items"`
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	owner := auth.OwnerFromContext(r.Context())

	c, err := h.store.Get(r.Context(), owner)
	if err != nil {
		h.logger.Error("failed to get cart", "error", err, "owner_key", owner)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, c)
}

// HandlePut replaces the caller's cart. Lines are merged per (product, size)
// and lines with quantity <= 0 are dropped.
func (h *Handler) HandlePut(w http.ResponseWriter, r *http.Request) {
	owner := auth.OwnerFromContext(r.Context())

	var req putCartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	c := &domain.Cart{OwnerKey: owner, Items: req.Items}
	if err := c.Normalize(); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if c.Items == nil {
		c.Items = []domain.CartItem{}
	}

	if err := h.store.Put(r.Context(), c); err != nil {
		h.logger.Error("failed to put cart", "error", err, "owner_key", owner)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, c)
}

func (h *Handler) HandleClear(w http.ResponseWriter, r *http.Request) {
	owner := auth.OwnerFromContext(r.Context())

	if err := h.store.Clear(r.Context(), owner); err != nil {
		h.logger.Error("failed to clear cart", "error", err, "owner_key", owner)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

