package gateway

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestHandler(relayURL, inventoryURL string) *Handler {
	return NewHandler(
		NewServiceProxy(relayURL, http.DefaultClient),
		NewServiceProxy(inventoryURL, http.DefaultClient),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
}

func TestHandler_HandleRelay(t *testing.T) {
	t.Run("strips /api and forwards auth headers", func(t *testing.T) {
		relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/me/orders" {
				t.Errorf("expected /me/orders, got %s", r.URL.Path)
			}
			if r.Header.Get("Authorization") != "Bearer token" {
				t.Errorf("expected Authorization to be forwarded, got %q", r.Header.Get("Authorization"))
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`[{"id":"1"}]`))
		}))
		defer relay.Close()

		handler := newTestHandler(relay.URL, "http://unused")
		req := httptest.NewRequest(http.MethodGet, "/api/me/orders", nil)
		req.Header.Set("Authorization", "Bearer token")
		rec := httptest.NewRecorder()

		handler.HandleRelay(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rec.Code)
		}
		if rec.Header().Get("Content-Type") != "application/json" {
			t.Errorf("expected application/json, got %s", rec.Header().Get("Content-Type"))
		}
		if rec.Body.String() != `[{"id":"1"}]` {
			t.Errorf("unexpected body: %s", rec.Body.String())
		}
	})

	t.Run("forwards webhook body and signature byte for byte", func(t *testing.T) {
		payload := `{"event":"payment.captured","payload":{}}`
		relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			if string(body) != payload {
				t.Errorf("unexpected body: %s", body)
			}
			if r.Header.Get("X-Razorpay-Signature") != "abc" {
				t.Errorf("signature header not forwarded")
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer relay.Close()

		handler := newTestHandler(relay.URL, "http://unused")
		req := httptest.NewRequest(http.MethodPost, "/api/webhook", strings.NewReader(payload))
		req.Header.Set("X-Razorpay-Signature", "abc")
		rec := httptest.NewRecorder()

		handler.HandleRelay(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rec.Code)
		}
	})

	t.Run("returns 502 when relay unavailable", func(t *testing.T) {
		handler := newTestHandler("http://localhost:99999", "http://unused")

		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		rec := httptest.NewRecorder()

		handler.HandleRelay(rec, req)

		if rec.Code != http.StatusBadGateway {
			t.Errorf("expected status 502, got %d", rec.Code)
		}

		var resp map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if resp["error"] != "service unavailable" {
			t.Errorf("expected 'service unavailable', got %s", resp["error"])
		}
	})
}

func TestHandler_HandleInventory(t *testing.T) {
	t.Run("rewrites /inventory to /stock", func(t *testing.T) {
		inventory := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/stock/tee" {
				t.Errorf("expected /stock/tee, got %s", r.URL.Path)
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer inventory.Close()

		handler := newTestHandler("http://unused", inventory.URL)
		req := httptest.NewRequest(http.MethodGet, "/inventory/tee", nil)
		rec := httptest.NewRecorder()

		handler.HandleInventory(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rec.Code)
		}
	})

	t.Run("preserves downstream error status", func(t *testing.T) {
		inventory := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer inventory.Close()

		handler := newTestHandler("http://unused", inventory.URL)
		req := httptest.NewRequest(http.MethodGet, "/inventory/unknown", nil)
		rec := httptest.NewRecorder()

		handler.HandleInventory(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rec.Code)
		}
	})
}

func TestHandler_Router(t *testing.T) {
	relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer relay.Close()

	router := newTestHandler(relay.URL, "http://unused").Router([]string{"https://shop.example.com"})

	t.Run("answers CORS preflight for allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/checkout", nil)
		req.Header.Set("Origin", "https://shop.example.com")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://shop.example.com" {
			t.Errorf("expected allowed origin header, got %q", got)
		}
	})

	t.Run("omits CORS headers for unknown origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("expected no allow-origin header, got %q", got)
		}
	})

	t.Run("health", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rec.Code)
		}
	})
}
