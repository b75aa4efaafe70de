package orders

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/joao-fontenele/storefront-payments/internal/auth"
	"github.com/joao-fontenele/storefront-payments/internal/domain"
)

func TestHandler_HandleGet(t *testing.T) {
	store := NewMemoryStore()
	id, err := store.Create(context.Background(), newTestOrder(t, "asha@example.com", time.Now()))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	handler := NewHandler(store, slog.New(slog.NewTextHandler(io.Discard, nil)))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /orders/{id}", handler.HandleGet)

	t.Run("owner can read the order", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/orders/"+id, nil)
		req = req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{OwnerKey: "asha@example.com"}))
		rec := httptest.NewRecorder()

		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
		var got domain.Order
		if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.TotalMinor != 480000 {
			t.Errorf("expected total 480000, got %d", got.TotalMinor)
		}
	})

	t.Run("other owner gets 404", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/orders/"+id, nil)
		req = req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{OwnerKey: "ravi@example.com"}))
		rec := httptest.NewRecorder()

		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rec.Code)
		}
	})

	t.Run("admin can read any order", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/orders/"+id, nil)
		req = req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{OwnerKey: "ops@example.com", Admin: true}))
		rec := httptest.NewRecorder()

		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rec.Code)
		}
	})
}

func TestHandler_HandleListMine(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	paid, _ := store.Create(ctx, newTestOrder(t, "asha@example.com", time.Now()))
	_, _ = store.Create(ctx, newTestOrder(t, "asha@example.com", time.Now()))
	_, _ = store.MarkPaid(ctx, paid, domain.Payment{ProcessorPaymentID: "pay_1"})

	handler := NewHandler(store, slog.New(slog.NewTextHandler(io.Discard, nil)))

	req := httptest.NewRequest(http.MethodGet, "/me/orders", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{OwnerKey: "asha@example.com"}))
	rec := httptest.NewRecorder()

	handler.HandleListMine(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var got []domain.Order
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].ID != paid {
		t.Errorf("expected only the paid order, got %+v", got)
	}
}

func TestHandler_HandleListAdmin(t *testing.T) {
	handler := NewHandler(NewMemoryStore(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	t.Run("rejects unknown status", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.HandleListAdmin(rec, httptest.NewRequest(http.MethodGet, "/admin/orders?status=shipped", nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rec.Code)
		}
	})

	t.Run("empty list encodes as array", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.HandleListAdmin(rec, httptest.NewRequest(http.MethodGet, "/admin/orders?status=Pending", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
		if body := rec.Body.String(); body != "[]\n" {
			t.Errorf("unexpected body %q", body)
		}
	})
}
