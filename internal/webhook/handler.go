// Package webhook serves the processor-facing endpoints of the payment relay:
// the asynchronous webhook, the synchronous signature check, remote order
// creation, and health.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joao-fontenele/storefront-payments/internal/cache"
	"github.com/joao-fontenele/storefront-payments/internal/domain"
	"github.com/joao-fontenele/storefront-payments/internal/orders"
	"github.com/joao-fontenele/storefront-payments/internal/razorpay"
	"github.com/joao-fontenele/storefront-payments/internal/settlement"
	"github.com/joao-fontenele/storefront-payments/internal/signature"
	"github.com/joao-fontenele/storefront-payments/internal/telemetry"
)

const (
	HeaderSignature = "X-Razorpay-Signature"
	HeaderEventID   = "X-Razorpay-Event-Id"

	maxBodyBytes  = 1 << 20
	eventClaimTTL = 24 * time.Hour
)

// RemoteOrders is the part of the gateway client the relay needs.
type RemoteOrders interface {
	CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (*razorpay.Order, error)
	FetchOrder(ctx context.Context, id string) (*razorpay.Order, error)
	KeyID() string
}

type Secrets struct {
	KeySecret     string
	WebhookSecret string
}

type Handler struct {
	orders   orders.Store
	settler  *settlement.Settler
	gateway  RemoteOrders
	claims   cache.Store
	secrets  Secrets
	currency string
	metrics  *telemetry.PaymentMetrics
	logger   *slog.Logger
}

// NewHandler builds the relay handler. claims and metrics may be nil; without
// claims, duplicate deliveries are absorbed by the order store alone.
func NewHandler(store orders.Store, settler *settlement.Settler, gateway RemoteOrders, claims cache.Store, secrets Secrets, currency string, metrics *telemetry.PaymentMetrics, logger *slog.Logger) *Handler {
	if secrets.WebhookSecret == "" {
		secrets.WebhookSecret = secrets.KeySecret
	}
	if currency == "" {
		currency = "INR"
	}
	return &Handler{
		orders:   store,
		settler:  settler,
		gateway:  gateway,
		claims:   claims,
		secrets:  secrets,
		currency: currency,
		metrics:  metrics,
		logger:   logger,
	}
}

type okResponse struct {
	OK        bool   `json:"ok"`
	Message   string `json:"message,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, okResponse{OK: true})
}

type webhookEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment *struct {
			Entity *paymentEntity `json:"entity"`
		} `json:"payment"`
		Order *struct {
			Entity *orderEntity `json:"entity"`
		} `json:"order"`
	} `json:"payload"`
}

type paymentEntity struct {
	ID       string `json:"id"`
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Method   string `json:"method"`
	Status   string `json:"status"`
	Captured bool   `json:"captured"`
}

type orderEntity struct {
	ID         string `json:"id"`
	Receipt    string `json:"receipt"`
	Amount     int64  `json:"amount"`
	AmountPaid int64  `json:"amount_paid"`
	Currency   string `json:"currency"`
	Status     string `json:"status"`
}

func (e *webhookEvent) payment() *paymentEntity {
	if e.Payload.Payment == nil {
		return nil
	}
	return e.Payload.Payment.Entity
}

func (e *webhookEvent) order() *orderEntity {
	if e.Payload.Order == nil {
		return nil
	}
	return e.Payload.Order.Entity
}

// HandleWebhook verifies the signature over the raw body before anything
// else. Once verified it always answers 200, so local failures never trigger
// processor redelivery; they are logged with reconcile=true instead.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.metrics.WebhookEvent(ctx, telemetry.OutcomeRejected)
		h.writeJSON(w, http.StatusBadRequest, okResponse{Message: "Invalid body"})
		return
	}

	provided := r.Header.Get(HeaderSignature)
	if provided == "" {
		h.metrics.WebhookEvent(ctx, telemetry.OutcomeRejected)
		h.writeJSON(w, http.StatusBadRequest, okResponse{Message: "Missing signature"})
		return
	}

	if h.secrets.WebhookSecret == "" || !signature.Verify(h.secrets.WebhookSecret, body, provided) {
		h.metrics.WebhookEvent(ctx, telemetry.OutcomeRejected)
		h.logger.Warn("webhook signature rejected",
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
			"secret_configured", h.secrets.WebhookSecret != "",
		)
		h.writeJSON(w, http.StatusBadRequest, okResponse{Message: "Invalid signature"})
		return
	}

	eventID := r.Header.Get(HeaderEventID)
	claimKey, claimToken, claimed := h.claim(ctx, eventID)
	if !claimed {
		h.metrics.WebhookEvent(ctx, telemetry.OutcomeDuplicate)
		h.logger.Info("duplicate webhook delivery", "event_id", eventID)
		h.writeJSON(w, http.StatusOK, okResponse{OK: true, Duplicate: true})
		return
	}

	var event webhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.release(ctx, claimKey, claimToken)
		h.metrics.WebhookEvent(ctx, telemetry.OutcomeFailed)
		h.logger.Error("failed to parse verified webhook", "error", err, "event_id", eventID)
		h.writeJSON(w, http.StatusInternalServerError, okResponse{Message: "Invalid payload"})
		return
	}

	outcome := h.process(ctx, eventID, &event)
	if outcome == telemetry.OutcomeFailed {
		h.release(ctx, claimKey, claimToken)
	}
	h.metrics.WebhookEvent(ctx, outcome)
	h.writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (h *Handler) process(ctx context.Context, eventID string, event *webhookEvent) string {
	if event.Event != "payment.captured" && event.Event != "order.paid" {
		h.logger.Info("webhook event ignored", "event", event.Event, "event_id", eventID)
		return telemetry.OutcomeIgnored
	}

	payment := event.payment()
	remote := event.order()

	var remoteOrderID, receipt string
	if payment != nil {
		remoteOrderID = payment.OrderID
	}
	if remote != nil {
		if remoteOrderID == "" {
			remoteOrderID = remote.ID
		}
		receipt = remote.Receipt
	}

	order, err := h.resolve(ctx, remoteOrderID, receipt)
	if err != nil {
		h.logger.Error("failed to resolve webhook order",
			"reconcile", true,
			"error", err,
			"event", event.Event,
			"event_id", eventID,
			"remote_order_id", remoteOrderID,
		)
		return telemetry.OutcomeFailed
	}
	if order == nil {
		h.logger.Warn("webhook order not found",
			"event", event.Event,
			"event_id", eventID,
			"remote_order_id", remoteOrderID,
			"receipt", receipt,
		)
		return telemetry.OutcomeUnresolved
	}

	// Both accepted events mean the money was captured.
	details := domain.Payment{
		ProcessorOrderID: remoteOrderID,
		Captured:         true,
		Source:           domain.PaymentSourceWebhook,
	}
	if payment != nil {
		details.ProcessorPaymentID = payment.ID
		details.Method = payment.Method
	}

	amount, currency := capturedAmount(payment, remote)
	details.AmountMinor = amount
	if amount != order.TotalMinor || (currency != "" && !strings.EqualFold(currency, order.Currency)) {
		h.logger.Error("captured amount does not match order total",
			"reconcile", true,
			"order_id", order.ID,
			"event_id", eventID,
			"payment_id", details.ProcessorPaymentID,
			"remote_order_id", remoteOrderID,
			"amount_minor", amount,
			"currency", currency,
			"total_minor", order.TotalMinor,
		)
		return telemetry.OutcomeMismatch
	}

	result, err := h.settler.SettlePaid(ctx, order.ID, details)
	if err != nil {
		h.logger.Error("failed to settle webhook payment",
			"reconcile", true,
			"error", err,
			"order_id", order.ID,
			"payment_id", details.ProcessorPaymentID,
			"event_id", eventID,
		)
		return telemetry.OutcomeFailed
	}
	if !result.Transitioned {
		return telemetry.OutcomeAlreadyDone
	}
	return telemetry.OutcomeProcessed
}

// capturedAmount is the amount the event reports as paid: the payment entity's
// amount, or the order entity's amount_paid for events without a payment.
func capturedAmount(payment *paymentEntity, remote *orderEntity) (int64, string) {
	if payment != nil && payment.Amount > 0 {
		return payment.Amount, payment.Currency
	}
	if remote != nil {
		return remote.AmountPaid, remote.Currency
	}
	return 0, ""
}

// resolve maps the processor's order back to the local order: the receipt
// carried in the event, then the remote id recorded at creation, then the
// receipt fetched from the processor.
func (h *Handler) resolve(ctx context.Context, remoteOrderID, receipt string) (*domain.Order, error) {
	if receipt != "" {
		order, err := h.orders.GetByReceiptID(ctx, receipt)
		if err != nil || order != nil {
			return order, err
		}
	}

	if remoteOrderID == "" {
		return nil, nil
	}

	order, err := h.orders.FindByRemoteOrderID(ctx, remoteOrderID)
	if err != nil || order != nil {
		return order, err
	}

	if h.gateway == nil {
		return nil, nil
	}
	remote, err := h.gateway.FetchOrder(ctx, remoteOrderID)
	if err != nil {
		return nil, err
	}
	if remote.Receipt == "" || remote.Receipt == receipt {
		return nil, nil
	}
	return h.orders.GetByReceiptID(ctx, remote.Receipt)
}

func (h *Handler) claim(ctx context.Context, eventID string) (key, token string, ok bool) {
	if h.claims == nil || eventID == "" {
		return "", "", true
	}

	key = "webhook:event:" + eventID
	token = uuid.NewString()
	ok, err := h.claims.SetNX(ctx, key, token, eventClaimTTL)
	if err != nil {
		h.logger.Warn("webhook de-dup unavailable", "error", err, "event_id", eventID)
		return "", "", true
	}
	return key, token, ok
}

func (h *Handler) release(ctx context.Context, key, token string) {
	if key == "" {
		return
	}
	if err := h.claims.DeleteIfEquals(ctx, key, token); err != nil {
		h.logger.Warn("failed to release webhook claim", "error", err, "key", key)
	}
}

type verifyRequest struct {
	OrderID   string `json:"razorpay_order_id"`
	PaymentID string `json:"razorpay_payment_id"`
	Signature string `json:"razorpay_signature"`
}

// HandleVerifyPayment checks the synchronous "order|payment" signature. It
// does not mutate any order.
func (h *Handler) HandleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, okResponse{Message: "Invalid request body"})
		return
	}

	if req.OrderID == "" || req.PaymentID == "" || req.Signature == "" {
		h.writeJSON(w, http.StatusBadRequest, okResponse{Message: "Missing payment fields"})
		return
	}

	if h.secrets.KeySecret == "" || !signature.VerifyPayment(h.secrets.KeySecret, req.OrderID, req.PaymentID, req.Signature) {
		h.logger.Warn("payment signature rejected",
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
			"remote_order_id", req.OrderID,
		)
		h.writeJSON(w, http.StatusBadRequest, okResponse{Message: "Invalid signature"})
		return
	}

	h.writeJSON(w, http.StatusOK, okResponse{OK: true})
}

type createOrderRequest struct {
	Amount   json.Number `json:"amount"`
	Currency string      `json:"currency"`
	Receipt  string      `json:"receipt"`
}

type createOrderResponse struct {
	Order *razorpay.Order `json:"order"`
	KeyID string          `json:"key_id"`
}

func (h *Handler) HandleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Invalid request body"})
		return
	}

	if req.Amount == "" || req.Receipt == "" {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Missing amount or receipt"})
		return
	}

	amount, err := req.Amount.Int64()
	if err != nil || amount <= 0 {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Amount must be a positive integer in minor units"})
		return
	}

	currency := req.Currency
	if currency == "" {
		currency = h.currency
	}

	ctx := r.Context()
	local, err := h.orders.GetByReceiptID(ctx, req.Receipt)
	if err != nil {
		h.logger.Warn("failed to look up local order for receipt", "error", err, "receipt", req.Receipt)
		local = nil
	}
	if local != nil && (amount != local.TotalMinor || !strings.EqualFold(currency, local.Currency)) {
		h.logger.Warn("create-order amount does not match local order",
			"order_id", local.ID,
			"amount_minor", amount,
			"currency", currency,
			"total_minor", local.TotalMinor,
		)
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Amount does not match order total"})
		return
	}

	remote, err := h.gateway.CreateOrder(ctx, amount, currency, req.Receipt)
	if err != nil {
		h.logger.Error("failed to create remote order", "error", err, "receipt", req.Receipt)
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrValidation) {
			status = http.StatusBadRequest
		}
		h.writeJSON(w, status, map[string]string{"message": "Failed to create order", "error": err.Error()})
		return
	}

	if local != nil {
		h.attach(ctx, local, remote)
	}

	h.writeJSON(w, http.StatusOK, createOrderResponse{Order: remote, KeyID: h.gateway.KeyID()})
}

// attach records the remote id on the local order so the webhook can resolve
// it without calling the processor. Only a remote order charging exactly the
// order total is recorded.
func (h *Handler) attach(ctx context.Context, local *domain.Order, remote *razorpay.Order) {
	if remote.Amount != local.TotalMinor || !strings.EqualFold(remote.Currency, local.Currency) {
		h.logger.Warn("remote order does not match local order, not recorded",
			"order_id", local.ID,
			"remote_order_id", remote.ID,
			"remote_amount_minor", remote.Amount,
			"total_minor", local.TotalMinor,
		)
		return
	}

	err := h.orders.AttachRemoteOrder(ctx, local.ID, remote.ID)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotFound):
	case errors.Is(err, domain.ErrInvalidState):
		h.logger.Warn("remote order minted for terminal order", "order_id", local.ID, "remote_order_id", remote.ID)
	default:
		h.logger.Error("failed to attach remote order", "error", err, "order_id", local.ID, "remote_order_id", remote.ID)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}
