// Package settlement applies the terminal transitions of an order. Every
// confirmation channel (client callback, webhook, reconciliation) goes through
// SettlePaid, so the conditional write in the order store decides which one
// wins and the stock decrement runs at most once per order.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/joao-fontenele/storefront-payments/internal/domain"
	"github.com/joao-fontenele/storefront-payments/internal/inventory"
	"github.com/joao-fontenele/storefront-payments/internal/orders"
	"github.com/joao-fontenele/storefront-payments/internal/telemetry"
)

// Publisher emits order events. messaging.Producer satisfies it.
type Publisher interface {
	Publish(ctx context.Context, eventType, key string, event any) error
}

// Result describes what one settlement attempt did.
type Result struct {
	Order *domain.Order
	// Transitioned is true only for the caller whose write moved the order
	// out of Pending.
	Transitioned bool
	Report       domain.DecrementReport
	// StockErr is set when the order became Paid but its stock claim or
	// decrement failed. The order is left for reconciliation.
	StockErr error
}

type Settler struct {
	orders    orders.Store
	stock     inventory.Adjuster
	publisher Publisher
	metrics   *telemetry.PaymentMetrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewSettler wires the settlement dependencies. publisher and metrics may be nil.
func NewSettler(store orders.Store, stock inventory.Adjuster, publisher Publisher, metrics *telemetry.PaymentMetrics, logger *slog.Logger) *Settler {
	return &Settler{
		orders:    store,
		stock:     stock,
		publisher: publisher,
		metrics:   metrics,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SettlePaid moves order id to Paid and, only when this call performed the
// transition, decrements stock and publishes order.paid. A duplicate
// confirmation returns the current order with Transitioned false and no error.
func (s *Settler) SettlePaid(ctx context.Context, id string, payment domain.Payment) (Result, error) {
	if payment.PaidAt.IsZero() {
		payment.PaidAt = s.now()
	}

	order, err := s.orders.MarkPaid(ctx, id, payment)
	switch {
	case errors.Is(err, domain.ErrInvalidState):
		s.metrics.Transition(ctx, "duplicate", string(payment.Source))
		if order != nil && order.Status == domain.OrderStatusCancelled {
			s.logger.Error("payment confirmed for cancelled order",
				"reconcile", true,
				"order_id", id,
				"payment_id", payment.ProcessorPaymentID,
				"source", payment.Source,
			)
		} else {
			s.logger.Info("duplicate payment confirmation ignored",
				"order_id", id,
				"payment_id", payment.ProcessorPaymentID,
				"source", payment.Source,
			)
		}
		return Result{Order: order}, nil
	case err != nil:
		return Result{}, fmt.Errorf("mark order %s paid: %w", id, err)
	}

	s.metrics.Transition(ctx, string(domain.OrderStatusPaid), string(payment.Source))
	s.logger.Info("order paid",
		"order_id", order.ID,
		"payment_id", payment.ProcessorPaymentID,
		"remote_order_id", payment.ProcessorOrderID,
		"source", payment.Source,
		"total_minor", order.TotalMinor,
	)

	result := Result{Order: order, Transitioned: true}
	result.Report, result.StockErr = s.ApplyStock(ctx, order)
	if errors.Is(result.StockErr, ErrStockClaimed) {
		result.StockErr = nil
	}

	s.publish(ctx, domain.EventOrderPaid, order.ID, domain.NewOrderPaidEvent(order))
	return result, nil
}

// ErrStockClaimed is returned by ApplyStock when another caller already
// claimed the order's decrement.
var ErrStockClaimed = errors.New("stock already claimed")

// ApplyStock claims the order's decrement and, when the claim is won,
// decrements stock. A failed decrement releases the claim so reconciliation
// can retry it. It is called once by the transitioning SettlePaid, and by
// reconciliation for Paid orders that were never claimed.
func (s *Settler) ApplyStock(ctx context.Context, order *domain.Order) (domain.DecrementReport, error) {
	// Truncated so the stamp round-trips through Postgres and Firestore.
	claimedAt := s.now().Truncate(time.Microsecond)
	claimed, err := s.orders.ClaimStock(ctx, order.ID, claimedAt)
	if err != nil {
		s.logger.Error("failed to claim stock decrement",
			"reconcile", true,
			"order_id", order.ID,
			"error", err,
		)
		return domain.DecrementReport{}, fmt.Errorf("claim stock for order %s: %w", order.ID, err)
	}
	if !claimed {
		s.logger.Info("stock decrement already claimed", "order_id", order.ID)
		return domain.DecrementReport{}, ErrStockClaimed
	}

	report, err := s.stock.ApplyDecrement(ctx, order.LineItems)
	if err != nil {
		s.metrics.Decrement(ctx, telemetry.OutcomeFailed)
		s.logger.Error("stock decrement failed",
			"reconcile", true,
			"order_id", order.ID,
			"error", err,
		)
		if rerr := s.orders.ReleaseStockClaim(ctx, order.ID, claimedAt); rerr != nil {
			s.logger.Error("failed to release stock claim",
				"reconcile", true,
				"order_id", order.ID,
				"error", rerr,
			)
		}
		return report, fmt.Errorf("decrement stock for order %s: %w", order.ID, err)
	}

	inventory.LogReport(s.logger, order.ID, report)
	if report.Complete() {
		s.metrics.Decrement(ctx, telemetry.OutcomeApplied)
	} else {
		s.metrics.Decrement(ctx, telemetry.OutcomePartial)
	}
	return report, nil
}

// Cancel moves order id to Cancelled. When the order is already terminal the
// current order is returned with false, so a Paid order is never overridden.
func (s *Settler) Cancel(ctx context.Context, id string) (*domain.Order, bool, error) {
	order, err := s.orders.MarkCancelled(ctx, id, s.now())
	switch {
	case errors.Is(err, domain.ErrInvalidState):
		s.logger.Info("cancel ignored for terminal order", "order_id", id, "status", statusOf(order))
		return order, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("cancel order %s: %w", id, err)
	}

	s.metrics.Transition(ctx, string(domain.OrderStatusCancelled), "client")
	s.logger.Info("order cancelled", "order_id", order.ID)

	s.publish(ctx, domain.EventOrderCancelled, order.ID, domain.OrderCancelledEvent{
		OrderID:   order.ID,
		OwnerKey:  order.OwnerKey,
		Timestamp: s.now(),
	})
	return order, true, nil
}

// RecoverStock applies stock for Paid orders that were never claimed and
// were paid before olderThan ago, leaving in-flight settlements alone.
// Concurrent runs contend on the claim, so each order is decremented once.
func (s *Settler) RecoverStock(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	pending, err := s.orders.ListPaidWithoutStock(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list paid orders without stock: %w", err)
	}

	cutoff := s.now().Add(-olderThan)
	recovered := 0
	for i := range pending {
		order := &pending[i]
		if order.Payment != nil && order.Payment.PaidAt.After(cutoff) {
			continue
		}
		if _, err := s.ApplyStock(ctx, order); err != nil {
			continue
		}
		recovered++
	}
	return recovered, nil
}

func (s *Settler) publish(ctx context.Context, eventType, key string, event any) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, eventType, key, event); err != nil {
		s.logger.Warn("failed to publish order event", "event", eventType, "order_id", key, "error", err)
	}
}

func statusOf(o *domain.Order) domain.OrderStatus {
	if o == nil {
		return ""
	}
	return o.Status
}
