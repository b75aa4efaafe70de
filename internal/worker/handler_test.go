package worker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/storefront-payments/internal/cache"
	"github.com/joao-fontenele/storefront-payments/internal/domain"
)

type mailbox struct {
	mu     sync.Mutex
	sent   []emailRequest
	status int
	// failTo answers 503 for one recipient only.
	failTo string
}

func (m *mailbox) to(addr string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.sent {
		if e.To == addr {
			n++
		}
	}
	return n
}

func (m *mailbox) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/send", r.URL.Path)
		var req emailRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		m.mu.Lock()
		m.sent = append(m.sent, req)
		status := m.status
		if m.failTo != "" && req.To == m.failTo {
			status = http.StatusServiceUnavailable
		}
		m.mu.Unlock()
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func paidEvent(owner string) []byte {
	event := domain.OrderPaidEvent{
		OrderID:  "order-1",
		OwnerKey: owner,
		Items: []domain.LineItem{
			{ProductID: "tee", Name: "Logo Tee", Size: "M", Quantity: 2, UnitPriceMinor: 120000},
		},
		TotalMinor: 240000,
		Currency:   "INR",
		ShippingAddress: domain.ShippingAddress{
			Name: "Asha", Address: "12 MG Road", City: "Pune", State: "MH", ZipCode: "411001", Country: "IN",
		},
		PaymentID: "pay_1",
		Source:    domain.PaymentSourceWebhook,
	}
	data, _ := json.Marshal(event)
	return data
}

func newHandler(url string) *NotificationHandler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewNotificationHandler(url, []string{"admin@example.com"}, http.DefaultClient, logger)
}

func TestHandle_OrderPaid(t *testing.T) {
	box := &mailbox{}
	srv := box.server(t)

	err := newHandler(srv.URL).Handle(context.Background(), domain.EventOrderPaid, paidEvent("buyer@example.com"))
	require.NoError(t, err)

	require.Len(t, box.sent, 2)
	admin := box.sent[0]
	assert.Equal(t, "admin@example.com", admin.To)
	assert.Contains(t, admin.Body, "Logo Tee (size M) x 2")
	assert.Contains(t, admin.Body, "₹2400.00")
	assert.Contains(t, admin.Body, "12 MG Road")

	receipt := box.sent[1]
	assert.Equal(t, "buyer@example.com", receipt.To)
	assert.Contains(t, receipt.Subject, "order-1")
}

func TestHandle_OwnerWithoutEmail(t *testing.T) {
	box := &mailbox{}
	srv := box.server(t)

	err := newHandler(srv.URL).Handle(context.Background(), domain.EventOrderPaid, paidEvent("uid-123"))
	require.NoError(t, err)
	assert.Len(t, box.sent, 1)
}

func TestHandle_EmailServiceDown(t *testing.T) {
	box := &mailbox{status: http.StatusServiceUnavailable}
	srv := box.server(t)

	err := newHandler(srv.URL).Handle(context.Background(), domain.EventOrderPaid, paidEvent("buyer@example.com"))
	assert.Error(t, err)
}

func TestHandle_RedeliveryAfterReceiptFailure(t *testing.T) {
	box := &mailbox{failTo: "buyer@example.com"}
	srv := box.server(t)
	h := newHandler(srv.URL)

	err := h.Handle(context.Background(), domain.EventOrderPaid, paidEvent("buyer@example.com"))
	require.Error(t, err)
	assert.Equal(t, 1, box.to("admin@example.com"))

	box.mu.Lock()
	box.failTo = ""
	box.mu.Unlock()

	require.NoError(t, h.Handle(context.Background(), domain.EventOrderPaid, paidEvent("buyer@example.com")))
	assert.Equal(t, 1, box.to("admin@example.com"))
	assert.Equal(t, 2, box.to("buyer@example.com"))

	require.NoError(t, h.Handle(context.Background(), domain.EventOrderPaid, paidEvent("buyer@example.com")))
	assert.Equal(t, 2, box.to("buyer@example.com"))
}

func TestHandle_SharedDeliveryLog(t *testing.T) {
	box := &mailbox{}
	srv := box.server(t)
	log := cache.NewMemory()

	require.NoError(t, newHandler(srv.URL).WithDeliveryLog(log).Handle(context.Background(), domain.EventOrderPaid, paidEvent("buyer@example.com")))
	require.NoError(t, newHandler(srv.URL).WithDeliveryLog(log).Handle(context.Background(), domain.EventOrderPaid, paidEvent("buyer@example.com")))

	assert.Equal(t, 1, box.to("admin@example.com"))
	assert.Equal(t, 1, box.to("buyer@example.com"))
}

func TestHandle_CancelledAndMalformed(t *testing.T) {
	box := &mailbox{}
	srv := box.server(t)
	h := newHandler(srv.URL)

	cancelled, _ := json.Marshal(domain.OrderCancelledEvent{OrderID: "order-2"})
	assert.NoError(t, h.Handle(context.Background(), domain.EventOrderCancelled, cancelled))
	assert.NoError(t, h.Handle(context.Background(), domain.EventOrderPaid, []byte("{")))
	assert.NoError(t, h.Handle(context.Background(), "order.shipped", []byte("{}")))
	assert.Empty(t, box.sent)
}
