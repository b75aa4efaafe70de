package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/joao-fontenele/storefront-payments/internal/cache"
	"github.com/joao-fontenele/storefront-payments/internal/domain"
	"github.com/joao-fontenele/storefront-payments/internal/money"
)

type NotificationHandler struct {
	emailServiceURL string
	adminEmails     []string
	httpClient      *http.Client
	logger          *slog.Logger
	delivered       cache.Store
}

// deliveryTTL outlives any realistic redelivery of an uncommitted message.
const deliveryTTL = 7 * 24 * time.Hour

func NewNotificationHandler(emailServiceURL string, adminEmails []string, client *http.Client, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{
		emailServiceURL: strings.TrimRight(emailServiceURL, "/"),
		adminEmails:     adminEmails,
		httpClient:      client,
		logger:          logger,
		delivered:       cache.NewMemory(),
	}
}

// WithDeliveryLog records sent mails in store, so a redelivered event only
// mails the recipients that did not get it the first time.
func (h *NotificationHandler) WithDeliveryLog(store cache.Store) *NotificationHandler {
	h.delivered = store
	return h
}

// Handle dispatches on the event type. A returned error leaves the message
// uncommitted, so mails are retried after a restart.
func (h *NotificationHandler) Handle(ctx context.Context, eventType string, payload []byte) error {
	switch eventType {
	case domain.EventOrderPaid:
		var event domain.OrderPaidEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			h.logger.Error("dropping malformed order.paid event", "error", err)
			return nil
		}
		return h.handlePaid(ctx, event)
	case domain.EventOrderCancelled:
		var event domain.OrderCancelledEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			h.logger.Error("dropping malformed order.cancelled event", "error", err)
			return nil
		}
		h.logger.Info("order cancelled", "order_id", event.OrderID)
		return nil
	default:
		h.logger.Warn("ignoring unknown event type", "event_type", eventType)
		return nil
	}
}

func (h *NotificationHandler) handlePaid(ctx context.Context, event domain.OrderPaidEvent) error {
	h.logger.Info("processing order paid event", "order_id", event.OrderID, "payment_id", event.PaymentID)

	for _, admin := range h.adminEmails {
		msg := emailRequest{
			To:      admin,
			Subject: "New order paid: " + event.OrderID,
			Body:    adminBody(event),
		}
		if err := h.sendOnce(ctx, event.OrderID, "admin", msg); err != nil {
			h.logger.Error("failed to send admin email", "error", err, "order_id", event.OrderID)
			return fmt.Errorf("send admin email: %w", err)
		}
	}

	if !strings.Contains(event.OwnerKey, "@") {
		h.logger.Info("skipping customer receipt, owner has no email", "order_id", event.OrderID)
		return nil
	}

	receipt := emailRequest{
		To:      event.OwnerKey,
		Subject: "Order Confirmation: " + event.OrderID,
		Body:    receiptBody(event),
	}
	if err := h.sendOnce(ctx, event.OrderID, "receipt", receipt); err != nil {
		h.logger.Error("failed to send receipt email", "error", err, "order_id", event.OrderID)
		return fmt.Errorf("send receipt email: %w", err)
	}

	h.logger.Info("order notifications sent", "order_id", event.OrderID)
	return nil
}

// sendOnce skips a mail the delivery log already holds. A log that cannot be
// read or written does not block sending.
func (h *NotificationHandler) sendOnce(ctx context.Context, orderID, kind string, msg emailRequest) error {
	key := "mail:" + orderID + ":" + kind + ":" + strings.ToLower(msg.To)
	var sent bool
	found, err := h.delivered.GetJSON(ctx, key, &sent)
	if err != nil {
		h.logger.Warn("delivery log read failed", "error", err, "order_id", orderID)
	}
	if found && sent {
		h.logger.Info("skipping mail already sent", "order_id", orderID, "kind", kind)
		return nil
	}

	if err := h.sendEmail(ctx, msg); err != nil {
		return err
	}

	if err := h.delivered.SetJSON(ctx, key, true, deliveryTTL); err != nil {
		h.logger.Warn("delivery log write failed", "error", err, "order_id", orderID)
	}
	return nil
}

func adminBody(event domain.OrderPaidEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Order %s was paid (payment %s, via %s).\n\n", event.OrderID, event.PaymentID, event.Source)
	writeItems(&b, event)
	fmt.Fprintf(&b, "\nShip to: %s\n", event.ShippingAddress)
	if event.ShippingAddress.Phone != "" {
		fmt.Fprintf(&b, "Phone: %s\n", event.ShippingAddress.Phone)
	}
	fmt.Fprintf(&b, "Customer: %s\n", event.OwnerKey)
	return b.String()
}

func receiptBody(event domain.OrderPaidEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Thank you for your order. Your payment for order %s has been received.\n\n", event.OrderID)
	writeItems(&b, event)
	fmt.Fprintf(&b, "\nShipping to: %s\n", event.ShippingAddress)
	return b.String()
}

func writeItems(b *strings.Builder, event domain.OrderPaidEvent) {
	for _, item := range event.Items {
		name := item.Name
		if name == "" {
			name = item.ProductID
		}
		fmt.Fprintf(b, "- %s (size %s) x %d: %s\n", name, item.Size, item.Quantity,
			money.FormatWithCurrency(item.TotalMinor(), event.Currency))
	}
	fmt.Fprintf(b, "Total: %s\n", money.FormatWithCurrency(event.TotalMinor, event.Currency))
}

type emailRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (h *NotificationHandler) sendEmail(ctx context.Context, body emailRequest) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.emailServiceURL+"/send", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	// A rejected address will not succeed on retry.
	if resp.StatusCode == http.StatusBadRequest {
		h.logger.Warn("email service rejected message", "to", body.To, "subject", body.Subject)
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("email service returned status %d", resp.StatusCode)
	}

	return nil
}
