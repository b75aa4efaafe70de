package orders

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/storefront-payments/internal/domain"
)

func newTestOrder(t *testing.T, owner string, createdAt time.Time) *domain.Order {
	t.Helper()
	order, err := domain.NewOrder(owner,
		[]domain.LineItem{{ProductID: "p1", Size: "M", Quantity: 2, UnitPriceMinor: 240000}},
		0, "INR",
		domain.ShippingAddress{Name: "A", Address: "B", City: "C", State: "D", ZipCode: "E", Country: "F"},
		createdAt,
	)
	require.NoError(t, err)
	return order
}

func TestMemoryStore_Transitions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	id, err := store.Create(ctx, newTestOrder(t, "asha@example.com", time.Now()))
	require.NoError(t, err)

	t.Run("pending to paid", func(t *testing.T) {
		order, err := store.MarkPaid(ctx, id, domain.Payment{ProcessorPaymentID: "pay_1", Source: domain.PaymentSourceWebhook})
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusPaid, order.Status)
		assert.Equal(t, "pay_1", order.Payment.ProcessorPaymentID)
		assert.False(t, order.Payment.PaidAt.IsZero())
	})

	t.Run("second paid is invalid state and keeps first payment", func(t *testing.T) {
		order, err := store.MarkPaid(ctx, id, domain.Payment{ProcessorPaymentID: "pay_2"})
		assert.ErrorIs(t, err, domain.ErrInvalidState)
		require.NotNil(t, order)
		assert.Equal(t, "pay_1", order.Payment.ProcessorPaymentID)
	})

	t.Run("cancel after paid does not override", func(t *testing.T) {
		order, err := store.MarkCancelled(ctx, id, time.Now())
		assert.ErrorIs(t, err, domain.ErrInvalidState)
		assert.Equal(t, domain.OrderStatusPaid, order.Status)
	})

	t.Run("stock is claimed once and released only by its holder", func(t *testing.T) {
		claimedAt := time.Now().UTC()
		first, err := store.ClaimStock(ctx, id, claimedAt)
		require.NoError(t, err)
		second, err := store.ClaimStock(ctx, id, time.Now())
		require.NoError(t, err)
		assert.True(t, first)
		assert.False(t, second)

		require.NoError(t, store.ReleaseStockClaim(ctx, id, claimedAt.Add(time.Second)))
		again, err := store.ClaimStock(ctx, id, time.Now())
		require.NoError(t, err)
		assert.False(t, again)

		require.NoError(t, store.ReleaseStockClaim(ctx, id, claimedAt))
		again, err = store.ClaimStock(ctx, id, time.Now())
		require.NoError(t, err)
		assert.True(t, again)
	})

	t.Run("unknown id is not found", func(t *testing.T) {
		_, err := store.MarkPaid(ctx, "missing", domain.Payment{})
		assert.ErrorIs(t, err, domain.ErrNotFound)

		order, err := store.GetByReceiptID(ctx, "missing")
		assert.NoError(t, err)
		assert.Nil(t, order)
	})
}

func TestMemoryStore_ConcurrentMarkPaid(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	id, err := store.Create(ctx, newTestOrder(t, "asha@example.com", time.Now()))
	require.NoError(t, err)

	var wins, benign atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.MarkPaid(ctx, id, domain.Payment{ProcessorPaymentID: "pay_1"})
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, domain.ErrInvalidState):
				benign.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(49), benign.Load())
}

func TestMemoryStore_Lists(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	older, _ := store.Create(ctx, newTestOrder(t, "asha@example.com", base))
	newer, _ := store.Create(ctx, newTestOrder(t, "asha@example.com", base.Add(time.Hour)))
	_, _ = store.Create(ctx, newTestOrder(t, "ravi@example.com", base))
	stale, _ := store.Create(ctx, newTestOrder(t, "ravi@example.com", base.Add(-time.Hour)))

	_, _ = store.MarkPaid(ctx, older, domain.Payment{})
	_, _ = store.MarkPaid(ctx, newer, domain.Payment{})

	mine, err := store.ListByOwner(ctx, "asha@example.com", domain.OrderStatusPaid)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, newer, mine[0].ID)

	pending, err := store.ListPendingBefore(ctx, base.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, stale, pending[0].ID)

	unstamped, err := store.ListPaidWithoutStock(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, unstamped, 2)

	require.NoError(t, store.AttachRemoteOrder(ctx, stale, "order_R1"))
	found, err := store.FindByRemoteOrderID(ctx, "order_R1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, stale, found.ID)

	assert.ErrorIs(t, store.AttachRemoteOrder(ctx, older, "order_R2"), domain.ErrInvalidState)
}
