package razorpay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/storefront-payments/internal/cache"
	"github.com/joao-fontenele/storefront-payments/internal/domain"
)

func TestClient_CreateOrder(t *testing.T) {
	t.Run("sends basic auth and payment_capture", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			assert.True(t, ok)
			assert.Equal(t, "rzp_test_key", user)
			assert.Equal(t, "secret", pass)
			assert.Equal(t, "/orders", r.URL.Path)
			assert.Equal(t, http.MethodPost, r.Method)

			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, float64(480000), body["amount"])
			assert.Equal(t, "INR", body["currency"])
			assert.Equal(t, "order-local-1", body["receipt"])
			assert.Equal(t, float64(1), body["payment_capture"])

			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"order_R1","entity":"order","amount":480000,"currency":"INR","receipt":"order-local-1","status":"created"}`))
		}))
		defer server.Close()

		client := NewClient(server.URL, "rzp_test_key", "secret", time.Second, server.Client())
		order, err := client.CreateOrder(context.Background(), 480000, "INR", "order-local-1")
		require.NoError(t, err)
		assert.Equal(t, "order_R1", order.ID)
		assert.Equal(t, int64(480000), order.Amount)
	})

	t.Run("non 2xx becomes GatewayError", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"The amount must be an integer."}}`))
		}))
		defer server.Close()

		client := NewClient(server.URL, "k", "s", time.Second, server.Client())
		_, err := client.CreateOrder(context.Background(), 100, "INR", "r1")

		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrGateway)
		var gerr *GatewayError
		require.True(t, errors.As(err, &gerr))
		assert.Equal(t, http.StatusBadRequest, gerr.StatusCode)
		assert.Equal(t, "BAD_REQUEST_ERROR", gerr.Code)
	})

	t.Run("timeout becomes GatewayError", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
		defer server.Close()

		client := NewClient(server.URL, "k", "s", 50*time.Millisecond, server.Client())
		_, err := client.CreateOrder(context.Background(), 100, "INR", "r1")

		assert.ErrorIs(t, err, domain.ErrGateway)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("rejects non positive amount without calling out", func(t *testing.T) {
		client := NewClient("http://127.0.0.1:1", "k", "s", time.Second, nil)
		_, err := client.CreateOrder(context.Background(), 0, "INR", "r1")
		assert.ErrorIs(t, err, domain.ErrValidation)
	})
}

func TestClient_FetchOrderPayments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders/order_R1/payments", r.URL.Path)
		_, _ = w.Write([]byte(`{"entity":"collection","count":1,"items":[{"id":"pay_1","order_id":"order_R1","status":"captured","captured":true,"method":"upi","amount":480000}]}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "k", "s", time.Second, server.Client())
	payments, err := client.FetchOrderPayments(context.Background(), "order_R1")
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.True(t, payments[0].Captured)
	assert.Equal(t, "upi", payments[0].Method)
}

func TestReusingClient(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		var body createOrderRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		_ = json.NewEncoder(w).Encode(Order{
			ID:       "order_R" + string(rune('0'+n)),
			Amount:   body.Amount,
			Currency: body.Currency,
			Receipt:  body.Receipt,
			Status:   "created",
		})
	}))
	defer server.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := NewReusingClient(NewClient(server.URL, "k", "s", time.Second, server.Client()), cache.NewMemory(), time.Minute, logger)
	ctx := context.Background()

	first, err := client.CreateOrder(ctx, 480000, "INR", "local-1")
	require.NoError(t, err)

	retry, err := client.CreateOrder(ctx, 480000, "INR", "local-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, retry.ID)
	assert.Equal(t, int32(1), calls.Load())

	changed, err := client.CreateOrder(ctx, 500000, "INR", "local-1")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, changed.ID)
	assert.Equal(t, int32(2), calls.Load())

	_, err = client.CreateOrder(ctx, 480000, "INR", "local-2")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}
