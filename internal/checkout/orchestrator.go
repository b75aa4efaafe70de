// Package checkout turns a cart and a shipping address into a Pending order,
// mints the matching remote order, and applies the payment UI's success or
// dismiss callback.
package checkout

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joao-fontenele/storefront-payments/internal/cache"
	"github.com/joao-fontenele/storefront-payments/internal/cart"
	"github.com/joao-fontenele/storefront-payments/internal/domain"
	"github.com/joao-fontenele/storefront-payments/internal/money"
	"github.com/joao-fontenele/storefront-payments/internal/orders"
	"github.com/joao-fontenele/storefront-payments/internal/razorpay"
	"github.com/joao-fontenele/storefront-payments/internal/settlement"
	"github.com/joao-fontenele/storefront-payments/internal/signature"
)

const sessionKeyPrefix = "checkout:session:"

type RemoteOrders interface {
	CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (*razorpay.Order, error)
	FetchOrder(ctx context.Context, id string) (*razorpay.Order, error)
	KeyID() string
}

type Options struct {
	KeySecret     string
	Currency      string
	ShippingMinor int64
	SessionTTL    time.Duration
}

type Orchestrator struct {
	orders   orders.Store
	gateway  RemoteOrders
	settler  *settlement.Settler
	carts    cart.Store
	sessions cache.Store
	opts     Options
	logger   *slog.Logger
	now      func() time.Time
}

func NewOrchestrator(store orders.Store, gateway RemoteOrders, settler *settlement.Settler, carts cart.Store, sessions cache.Store, opts Options, logger *slog.Logger) *Orchestrator {
	if opts.Currency == "" {
		opts.Currency = "INR"
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 30 * time.Minute
	}
	return &Orchestrator{
		orders:   store,
		gateway:  gateway,
		settler:  settler,
		carts:    carts,
		sessions: sessions,
		opts:     opts,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type BeginRequest struct {
	// Items defaults to the owner's stored cart when empty.
	Items           []domain.CartItem      `json:"items"`
	ShippingAddress domain.ShippingAddress `json:"shipping_address"`
}

type ConfirmRequest struct {
	RemoteOrderID string `json:"razorpay_order_id"`
	PaymentID     string `json:"razorpay_payment_id"`
	Signature     string `json:"razorpay_signature"`
}

// Begin creates the Pending order and its remote order. When the gateway
// fails the session is Failed and the order stays Pending for a retry; the
// returned error then wraps domain.ErrGateway.
func (o *Orchestrator) Begin(ctx context.Context, ownerKey string, req BeginRequest) (*Session, error) {
	if err := req.ShippingAddress.Validate(); err != nil {
		return nil, err
	}

	items := req.Items
	if len(items) == 0 {
		stored, err := o.carts.Get(ctx, ownerKey)
		if err != nil {
			return nil, fmt.Errorf("load cart: %w", err)
		}
		items = stored.Items
	}

	lines, err := lineItems(items)
	if err != nil {
		return nil, err
	}

	order, err := domain.NewOrder(ownerKey, lines, o.opts.ShippingMinor, o.opts.Currency, req.ShippingAddress, o.now())
	if err != nil {
		return nil, err
	}

	id, err := o.orders.Create(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	order.ID = id

	session := &Session{
		OrderID:     id,
		OwnerKey:    ownerKey,
		State:       StateIdle,
		AmountMinor: order.TotalMinor,
		Currency:    order.Currency,
	}
	if err := session.advance(StateOrderCreated, o.now()); err != nil {
		return nil, err
	}
	o.logger.Info("checkout order created", "order_id", id, "owner_key", ownerKey, "total_minor", order.TotalMinor)

	return session, o.openPayment(ctx, session, order)
}

// Resume mints (or reuses) the remote order for a Pending order whose earlier
// attempt failed or whose payment UI was closed without a decision.
func (o *Orchestrator) Resume(ctx context.Context, ownerKey, orderID string) (*Session, error) {
	order, session, err := o.load(ctx, ownerKey, orderID)
	if err != nil {
		return nil, err
	}
	if session.State.Terminal() {
		return session, fmt.Errorf("checkout %s is %s: %w", orderID, session.State, domain.ErrInvalidState)
	}
	return session, o.openPayment(ctx, session, order)
}

func (o *Orchestrator) openPayment(ctx context.Context, session *Session, order *domain.Order) error {
	remote, err := o.gateway.CreateOrder(ctx, order.TotalMinor, order.Currency, order.ID)
	if err == nil && !matchesOrder(remote, order) {
		err = fmt.Errorf("remote order %s is for %d %s, order total is %d %s: %w",
			remote.ID, remote.Amount, remote.Currency, order.TotalMinor, order.Currency, domain.ErrGateway)
	}
	if err != nil {
		session.Error = err.Error()
		_ = session.advance(StateFailed, o.now())
		o.save(ctx, session)
		o.logger.Error("remote order creation failed", "error", err, "order_id", order.ID)
		return fmt.Errorf("open payment for order %s: %w", order.ID, err)
	}

	if err := o.orders.AttachRemoteOrder(ctx, order.ID, remote.ID); err != nil {
		o.logger.Warn("failed to record remote order", "error", err, "order_id", order.ID, "remote_order_id", remote.ID)
	}

	session.RemoteOrderID = remote.ID
	session.KeyID = o.gateway.KeyID()
	session.Error = ""
	if err := session.advance(StateGatewayOrderCreated, o.now()); err != nil {
		return err
	}
	if err := session.advance(StateAwaitingPayment, o.now()); err != nil {
		return err
	}
	o.save(ctx, session)
	return nil
}

// Confirm applies the payment UI's success callback. The signature is checked
// against the remote order recorded for this order before anything changes.
func (o *Orchestrator) Confirm(ctx context.Context, ownerKey, orderID string, req ConfirmRequest) (*Session, error) {
	order, session, err := o.load(ctx, ownerKey, orderID)
	if err != nil {
		return nil, err
	}

	if req.RemoteOrderID == "" || req.PaymentID == "" || req.Signature == "" {
		return session, &domain.ValidationError{Field: "payment", Reason: "razorpay_order_id, razorpay_payment_id and razorpay_signature are required"}
	}
	// Only the remote order recorded for this order may confirm it. An order
	// whose remote order was never recorded cannot be confirmed by callback;
	// the webhook and reconciliation still settle it.
	if order.RemoteOrderID == "" || order.RemoteOrderID != req.RemoteOrderID {
		o.logger.Warn("payment callback for foreign remote order",
			"order_id", orderID,
			"remote_order_id", req.RemoteOrderID,
			"recorded_remote_order_id", order.RemoteOrderID,
		)
		return session, fmt.Errorf("remote order %s does not belong to order %s: %w", req.RemoteOrderID, orderID, domain.ErrSignature)
	}
	if o.opts.KeySecret == "" || !signature.VerifyPayment(o.opts.KeySecret, req.RemoteOrderID, req.PaymentID, req.Signature) {
		o.logger.Warn("payment callback signature rejected", "order_id", orderID, "remote_order_id", req.RemoteOrderID)
		return session, fmt.Errorf("payment callback for order %s: %w", orderID, domain.ErrSignature)
	}

	remote, err := o.gateway.FetchOrder(ctx, req.RemoteOrderID)
	if err != nil {
		o.logger.Error("failed to fetch remote order for confirmation", "error", err, "order_id", orderID, "remote_order_id", req.RemoteOrderID)
		return session, fmt.Errorf("confirm order %s: %w", orderID, err)
	}
	if !matchesOrder(remote, order) {
		o.logger.Error("paid remote order does not match order total",
			"reconcile", true,
			"order_id", orderID,
			"remote_order_id", remote.ID,
			"remote_amount_minor", remote.Amount,
			"total_minor", order.TotalMinor,
		)
		return session, fmt.Errorf("remote order %s amount %d does not match order %s total %d: %w",
			remote.ID, remote.Amount, orderID, order.TotalMinor, domain.ErrSignature)
	}

	paid := remote.AmountPaid
	if paid == 0 {
		paid = remote.Amount
	}
	result, err := o.settler.SettlePaid(ctx, orderID, domain.Payment{
		ProcessorPaymentID: req.PaymentID,
		ProcessorOrderID:   req.RemoteOrderID,
		Signature:          req.Signature,
		AmountMinor:        paid,
		Captured:           true,
		Source:             domain.PaymentSourceClient,
	})
	if err != nil {
		return session, err
	}

	session.settle(result.Order, o.now())
	o.save(ctx, session)

	if result.Order.Status != domain.OrderStatusPaid {
		return session, fmt.Errorf("order %s is %s: %w", orderID, result.Order.Status, domain.ErrInvalidState)
	}

	if err := o.carts.Clear(ctx, ownerKey); err != nil {
		o.logger.Warn("failed to clear cart after payment", "error", err, "owner_key", ownerKey, "order_id", orderID)
	}
	return session, nil
}

// Cancel applies the payment UI's dismiss callback. An order already Paid
// stays Paid and the session reports Confirmed.
func (o *Orchestrator) Cancel(ctx context.Context, ownerKey, orderID string) (*Session, error) {
	_, session, err := o.load(ctx, ownerKey, orderID)
	if err != nil {
		return nil, err
	}

	order, _, err := o.settler.Cancel(ctx, orderID)
	if err != nil {
		return session, err
	}

	session.settle(order, o.now())
	o.save(ctx, session)
	return session, nil
}

func (o *Orchestrator) Get(ctx context.Context, ownerKey, orderID string) (*Session, error) {
	_, session, err := o.load(ctx, ownerKey, orderID)
	return session, err
}

// load returns the owner's order with its session, rebuilt from the order
// when the cached session expired.
func (o *Orchestrator) load(ctx context.Context, ownerKey, orderID string) (*domain.Order, *Session, error) {
	order, err := o.orders.GetByReceiptID(ctx, orderID)
	if err != nil {
		return nil, nil, fmt.Errorf("get order %s: %w", orderID, err)
	}
	if order == nil || order.OwnerKey != ownerKey {
		return nil, nil, fmt.Errorf("order %s: %w", orderID, domain.ErrNotFound)
	}

	var session Session
	found, err := o.sessions.GetJSON(ctx, sessionKeyPrefix+orderID, &session)
	if err != nil {
		o.logger.Warn("checkout session cache unavailable", "error", err, "order_id", orderID)
	}
	if !found || err != nil {
		return order, sessionFromOrder(order, o.now()), nil
	}

	session.settle(order, o.now())
	return order, &session, nil
}

func (o *Orchestrator) save(ctx context.Context, session *Session) {
	if err := o.sessions.SetJSON(ctx, sessionKeyPrefix+session.OrderID, session, o.opts.SessionTTL); err != nil {
		o.logger.Warn("failed to save checkout session", "error", err, "order_id", session.OrderID)
	}
}

// matchesOrder reports whether a remote order charges exactly the order total.
func matchesOrder(remote *razorpay.Order, order *domain.Order) bool {
	return remote.Amount == order.TotalMinor && strings.EqualFold(remote.Currency, order.Currency)
}

// lineItems converts display prices to minor units once, at order creation.
func lineItems(items []domain.CartItem) ([]domain.LineItem, error) {
	if len(items) == 0 {
		return nil, &domain.ValidationError{Field: "items", Reason: "cart is empty"}
	}

	lines := make([]domain.LineItem, 0, len(items))
	for i, item := range items {
		price, err := money.ParseMinor(item.Price)
		if err != nil {
			return nil, &domain.ValidationError{Field: fmt.Sprintf("items[%d].price", i), Reason: err.Error()}
		}
		lines = append(lines, domain.LineItem{
			ProductID:      item.ProductID,
			Name:           item.Name,
			Size:           item.Size,
			Quantity:       item.Quantity,
			UnitPriceMinor: price,
		})
	}
	return lines, nil
}
