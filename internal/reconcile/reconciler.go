// Package reconcile sweeps orders left Pending by an interrupted checkout and
// settles them from the processor's own record of payments.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joao-fontenele/storefront-payments/internal/domain"
	"github.com/joao-fontenele/storefront-payments/internal/orders"
	"github.com/joao-fontenele/storefront-payments/internal/razorpay"
	"github.com/joao-fontenele/storefront-payments/internal/settlement"
)

// ErrAmountMismatch marks a captured payment that does not cover the order.
// Such orders are never settled or cancelled by a sweep.
var ErrAmountMismatch = errors.New("captured amount does not match order total")

type PaymentLookup interface {
	FetchOrderPayments(ctx context.Context, remoteOrderID string) ([]razorpay.Payment, error)
}

type Action string

const (
	ActionSettled     Action = "settled"
	ActionWouldSettle Action = "would_settle"
	ActionCancelled   Action = "cancelled"
	ActionWouldCancel Action = "would_cancel"
	ActionLeftPending Action = "left_pending"
	ActionError       Action = "error"
)

type Options struct {
	OlderThan time.Duration
	// Apply performs the changes; without it the sweep only reports them.
	Apply bool
	// CancelStale cancels stale orders that have no captured payment.
	CancelStale bool
	Limit       int
}

type Outcome struct {
	OrderID       string
	RemoteOrderID string
	PaymentID     string
	Action        Action
	Err           error
}

type Report struct {
	Outcomes []Outcome
	// StockRecovered counts Paid orders whose missing decrement was applied.
	StockRecovered int
}

func (r Report) Count(action Action) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Action == action {
			n++
		}
	}
	return n
}

type Reconciler struct {
	orders   orders.Store
	payments PaymentLookup
	settler  *settlement.Settler
	logger   *slog.Logger
	now      func() time.Time
}

func NewReconciler(store orders.Store, payments PaymentLookup, settler *settlement.Settler, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		orders:   store,
		payments: payments,
		settler:  settler,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (r *Reconciler) Run(ctx context.Context, opts Options) (Report, error) {
	if opts.OlderThan <= 0 {
		return Report{}, &domain.ValidationError{Field: "older_than", Reason: "must be positive"}
	}

	stale, err := r.orders.ListPendingBefore(ctx, r.now().Add(-opts.OlderThan), opts.Limit)
	if err != nil {
		return Report{}, fmt.Errorf("list stale pending orders: %w", err)
	}

	var report Report
	for i := range stale {
		outcome := r.reconcileOne(ctx, &stale[i], opts)
		if outcome.Err != nil {
			r.logger.Error("reconcile order failed", "reconcile", true, "order_id", outcome.OrderID, "error", outcome.Err)
		} else {
			r.logger.Info("reconciled order", "order_id", outcome.OrderID, "action", outcome.Action, "payment_id", outcome.PaymentID)
		}
		report.Outcomes = append(report.Outcomes, outcome)
	}

	if opts.Apply {
		recovered, err := r.settler.RecoverStock(ctx, opts.OlderThan, opts.Limit)
		if err != nil {
			return report, err
		}
		report.StockRecovered = recovered
	}

	return report, nil
}

func (r *Reconciler) reconcileOne(ctx context.Context, order *domain.Order, opts Options) Outcome {
	outcome := Outcome{OrderID: order.ID, RemoteOrderID: order.RemoteOrderID}

	if order.RemoteOrderID != "" {
		payments, err := r.payments.FetchOrderPayments(ctx, order.RemoteOrderID)
		if err != nil {
			outcome.Action = ActionError
			outcome.Err = err
			return outcome
		}

		if p, ok := capturedPayment(payments); ok {
			outcome.PaymentID = p.ID
			if p.Amount != order.TotalMinor || (p.Currency != "" && !strings.EqualFold(p.Currency, order.Currency)) {
				outcome.Action = ActionError
				outcome.Err = fmt.Errorf("payment %s captured %d %s, order total is %d %s: %w",
					p.ID, p.Amount, p.Currency, order.TotalMinor, order.Currency, ErrAmountMismatch)
				return outcome
			}
			if !opts.Apply {
				outcome.Action = ActionWouldSettle
				return outcome
			}
			result, err := r.settler.SettlePaid(ctx, order.ID, domain.Payment{
				ProcessorPaymentID: p.ID,
				ProcessorOrderID:   order.RemoteOrderID,
				Method:             p.Method,
				AmountMinor:        p.Amount,
				Captured:           true,
				Source:             domain.PaymentSourceReconcile,
			})
			if err != nil {
				outcome.Action = ActionError
				outcome.Err = err
				return outcome
			}
			outcome.Action = ActionSettled
			if result.StockErr != nil {
				outcome.Err = result.StockErr
			}
			return outcome
		}
	}

	if !opts.CancelStale {
		outcome.Action = ActionLeftPending
		return outcome
	}
	if !opts.Apply {
		outcome.Action = ActionWouldCancel
		return outcome
	}

	if _, _, err := r.settler.Cancel(ctx, order.ID); err != nil {
		outcome.Action = ActionError
		outcome.Err = err
		return outcome
	}
	outcome.Action = ActionCancelled
	return outcome
}

func capturedPayment(payments []razorpay.Payment) (razorpay.Payment, bool) {
	for _, p := range payments {
		if p.Captured || p.Status == "captured" {
			return p, true
		}
	}
	return razorpay.Payment{}, false
}
