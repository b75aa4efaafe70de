package checkout

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/storefront-payments/internal/auth"
	"github.com/joao-fontenele/storefront-payments/internal/domain"
	"github.com/joao-fontenele/storefront-payments/internal/orders"
)

type Handler struct {
	orchestrator *Orchestrator
	logger       *slog.Logger
}

func NewHandler(orchestrator *Orchestrator, logger *slog.Logger) *Handler {
	return &Handler{orchestrator: orchestrator, logger: logger}
}

type sessionResponse struct {
	Session *Session `json:"session,omitempty"`
	Error   string   `json:"error,omitempty"`
}

func (h *Handler) HandleBegin(w http.ResponseWriter, r *http.Request) {
	var req BeginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, sessionResponse{Error: "invalid request body"})
		return
	}

	session, err := h.orchestrator.Begin(r.Context(), auth.OwnerFromContext(r.Context()), req)
	if err != nil {
		h.fail(w, session, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, sessionResponse{Session: session})
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	session, err := h.orchestrator.Get(r.Context(), auth.OwnerFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		h.fail(w, session, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sessionResponse{Session: session})
}

func (h *Handler) HandleRetry(w http.ResponseWriter, r *http.Request) {
	session, err := h.orchestrator.Resume(r.Context(), auth.OwnerFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		h.fail(w, session, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sessionResponse{Session: session})
}

func (h *Handler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, sessionResponse{Error: "invalid request body"})
		return
	}

	session, err := h.orchestrator.Confirm(r.Context(), auth.OwnerFromContext(r.Context()), r.PathValue("id"), req)
	if err != nil {
		h.fail(w, session, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sessionResponse{Session: session})
}

func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	session, err := h.orchestrator.Cancel(r.Context(), auth.OwnerFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		h.fail(w, session, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sessionResponse{Session: session})
}

func (h *Handler) fail(w http.ResponseWriter, session *Session, err error) {
	status := orders.StatusFor(err)
	message := err.Error()
	switch {
	case errors.Is(err, domain.ErrSignature):
		message = "Invalid signature"
	case status == http.StatusInternalServerError:
		h.logger.Error("checkout failed", "error", err)
		message = "internal server error"
	case status == http.StatusBadGateway:
		message = "payment gateway unavailable, please retry"
	}
	h.writeJSON(w, status, sessionResponse{Session: session, Error: message})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}
