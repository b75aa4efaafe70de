package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validAddress() ShippingAddress {
	return ShippingAddress{
		Name:    "Asha Rao",
		Address: "12 MG Road",
		City:    "Bengaluru",
		State:   "KA",
		ZipCode: "560001",
		Country: "India",
	}
}

func TestNewOrder(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	t.Run("computes totals in minor units", func(t *testing.T) {
		items := []LineItem{{ProductID: "p1", Size: "M", Quantity: 2, UnitPriceMinor: 240000}}
		order, err := NewOrder("asha@example.com", items, 0, "inr", validAddress(), now)
		require.NoError(t, err)

		assert.Equal(t, OrderStatusPending, order.Status)
		assert.Equal(t, int64(480000), order.TotalMinor)
		assert.Equal(t, int64(480000), order.SubtotalMinor)
		assert.Equal(t, "INR", order.Currency)
		assert.True(t, order.Reconciles())
	})

	t.Run("adds shipping to the total", func(t *testing.T) {
		items := []LineItem{
			{ProductID: "p1", Size: "M", Quantity: 1, UnitPriceMinor: 99900},
			{ProductID: "p2", Size: "L", Quantity: 3, UnitPriceMinor: 50050},
		}
		order, err := NewOrder("asha@example.com", items, 4900, "INR", validAddress(), now)
		require.NoError(t, err)

		assert.Equal(t, int64(99900+3*50050), order.SubtotalMinor)
		assert.Equal(t, int64(99900+3*50050+4900), order.TotalMinor)
		assert.True(t, order.Reconciles())
	})

	t.Run("rejects duplicate product and size", func(t *testing.T) {
		items := []LineItem{
			{ProductID: "p1", Size: "M", Quantity: 1, UnitPriceMinor: 100},
			{ProductID: "p1", Size: "M", Quantity: 2, UnitPriceMinor: 100},
		}
		_, err := NewOrder("asha@example.com", items, 0, "INR", validAddress(), now)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrValidation))
	})

	t.Run("same product in different sizes is allowed", func(t *testing.T) {
		items := []LineItem{
			{ProductID: "p1", Size: "M", Quantity: 1, UnitPriceMinor: 100},
			{ProductID: "p1", Size: "L", Quantity: 1, UnitPriceMinor: 100},
		}
		_, err := NewOrder("asha@example.com", items, 0, "INR", validAddress(), now)
		require.NoError(t, err)
	})

	t.Run("rejects missing address field", func(t *testing.T) {
		addr := validAddress()
		addr.City = "  "
		items := []LineItem{{ProductID: "p1", Size: "M", Quantity: 1, UnitPriceMinor: 100}}

		_, err := NewOrder("asha@example.com", items, 0, "INR", addr, now)

		var verr *ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, "shipping_address.city", verr.Field)
	})

	t.Run("phone is optional", func(t *testing.T) {
		addr := validAddress()
		addr.Phone = ""
		require.NoError(t, addr.Validate())
	})

	t.Run("rejects empty owner, empty items and zero quantity", func(t *testing.T) {
		_, err := NewOrder("", []LineItem{{ProductID: "p1", Size: "M", Quantity: 1, UnitPriceMinor: 1}}, 0, "INR", validAddress(), now)
		assert.ErrorIs(t, err, ErrValidation)

		_, err = NewOrder("o", nil, 0, "INR", validAddress(), now)
		assert.ErrorIs(t, err, ErrValidation)

		_, err = NewOrder("o", []LineItem{{ProductID: "p1", Size: "M", Quantity: 0, UnitPriceMinor: 1}}, 0, "INR", validAddress(), now)
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestOrderStatus(t *testing.T) {
	assert.False(t, OrderStatusPending.Terminal())
	assert.True(t, OrderStatusPaid.Terminal())
	assert.True(t, OrderStatusCancelled.Terminal())

	s, err := ParseOrderStatus("paid")
	require.NoError(t, err)
	assert.Equal(t, OrderStatusPaid, s)

	_, err = ParseOrderStatus("shipped")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestOrder_Clone(t *testing.T) {
	paidAt := time.Now()
	order := &Order{
		ID:        "o1",
		LineItems: []LineItem{{ProductID: "p1", Size: "M", Quantity: 1}},
		Payment:   &Payment{ProcessorPaymentID: "pay_1", PaidAt: paidAt},
	}

	c := order.Clone()
	c.LineItems[0].Quantity = 5
	c.Payment.ProcessorPaymentID = "pay_2"

	assert.Equal(t, 1, order.LineItems[0].Quantity)
	assert.Equal(t, "pay_1", order.Payment.ProcessorPaymentID)
}

func TestDecrementReport(t *testing.T) {
	report := DecrementReport{
		Applied: []LineOutcome{
			{ProductID: "p1", Size: "M", Requested: 2, Before: 5, After: 3},
			{ProductID: "p2", Size: "S", Requested: 4, Before: 1, After: 0},
		},
	}

	shortfalls := report.Shortfalls()
	require.Len(t, shortfalls, 1)
	assert.Equal(t, 3, shortfalls[0].Shortfall())
	assert.False(t, report.Complete())

	clean := DecrementReport{Applied: report.Applied[:1]}
	assert.True(t, clean.Complete())
}
