package domain

import (
	"fmt"
	"strings"
	"time"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "Pending"
	OrderStatusPaid      OrderStatus = "Paid"
	OrderStatusCancelled OrderStatus = "Cancelled"
)

// Terminal reports whether no further transition is allowed out of s.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusPaid || s == OrderStatusCancelled
}

func ParseOrderStatus(raw string) (OrderStatus, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pending":
		return OrderStatusPending, nil
	case "paid":
		return OrderStatusPaid, nil
	case "cancelled", "canceled":
		return OrderStatusCancelled, nil
	}
	return "", &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", raw)}
}

type LineItem struct {
	ProductID      string `json:"product_id" firestore:"productId"`
	Name           string `json:"name,omitempty" firestore:"name"`
	Size           string `json:"size" firestore:"size"`
	Quantity       int    `json:"quantity" firestore:"quantity"`
	UnitPriceMinor int64  `json:"unit_price_minor" firestore:"unitPriceMinor"`
}

func (l LineItem) TotalMinor() int64 {
	return l.UnitPriceMinor * int64(l.Quantity)
}

type ShippingAddress struct {
	Name    string `json:"name" firestore:"name"`
	Address string `json:"address" firestore:"address"`
	City    string `json:"city" firestore:"city"`
	State   string `json:"state" firestore:"state"`
	ZipCode string `json:"zip_code" firestore:"zipCode"`
	Country string `json:"country" firestore:"country"`
	Phone   string `json:"phone,omitempty" firestore:"phone"`
}

// Validate returns a ValidationError naming the first empty required field.
func (a ShippingAddress) Validate() error {
	fields := []struct {
		name  string
		value string
	}{
		{"name", a.Name},
		{"address", a.Address},
		{"city", a.City},
		{"state", a.State},
		{"zip_code", a.ZipCode},
		{"country", a.Country},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return &ValidationError{Field: "shipping_address." + f.name, Reason: "is required"}
		}
	}
	return nil
}

func (a ShippingAddress) String() string {
	return fmt.Sprintf("%s, %s, %s, %s %s, %s", a.Name, a.Address, a.City, a.State, a.ZipCode, a.Country)
}

type PaymentSource string

const (
	PaymentSourceClient    PaymentSource = "client"
	PaymentSourceWebhook   PaymentSource = "webhook"
	PaymentSourceReconcile PaymentSource = "reconcile"
)

type Payment struct {
	ProcessorPaymentID string        `json:"processor_payment_id" firestore:"processorPaymentId"`
	ProcessorOrderID   string        `json:"processor_order_id" firestore:"processorOrderId"`
	Signature          string        `json:"signature,omitempty" firestore:"signature"`
	Method             string        `json:"method,omitempty" firestore:"method"`
	AmountMinor        int64         `json:"amount_minor,omitempty" firestore:"amountMinor"`
	Captured           bool          `json:"captured" firestore:"captured"`
	Source             PaymentSource `json:"source" firestore:"source"`
	PaidAt             time.Time     `json:"paid_at" firestore:"paidAt"`
}

type Order struct {
	ID              string          `json:"id"`
	OwnerKey        string          `json:"owner_key"`
	LineItems       []LineItem      `json:"line_items"`
	SubtotalMinor   int64           `json:"subtotal_minor"`
	ShippingMinor   int64           `json:"shipping_minor"`
	TotalMinor      int64           `json:"total_minor"`
	Currency        string          `json:"currency"`
	ShippingAddress ShippingAddress `json:"shipping_address"`
	Status          OrderStatus     `json:"status"`
	RemoteOrderID   string          `json:"remote_order_id,omitempty"`
	Payment         *Payment        `json:"payment,omitempty"`
	StockAppliedAt  *time.Time      `json:"stock_applied_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	CancelledAt     *time.Time      `json:"cancelled_at,omitempty"`
}

// NewOrder builds a Pending order and computes its totals. The id is
// assigned by the Order Store on Create.
func NewOrder(ownerKey string, items []LineItem, shippingMinor int64, currency string, addr ShippingAddress, now time.Time) (*Order, error) {
	ownerKey = strings.TrimSpace(ownerKey)
	if ownerKey == "" {
		return nil, &ValidationError{Field: "owner_key", Reason: "is required"}
	}
	if len(items) == 0 {
		return nil, &ValidationError{Field: "line_items", Reason: "at least one item is required"}
	}
	if shippingMinor < 0 {
		return nil, &ValidationError{Field: "shipping_minor", Reason: "must not be negative"}
	}
	if strings.TrimSpace(currency) == "" {
		return nil, &ValidationError{Field: "currency", Reason: "is required"}
	}
	if err := addr.Validate(); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(items))
	for i, item := range items {
		if strings.TrimSpace(item.ProductID) == "" {
			return nil, &ValidationError{Field: fmt.Sprintf("line_items[%d].product_id", i), Reason: "is required"}
		}
		if strings.TrimSpace(item.Size) == "" {
			return nil, &ValidationError{Field: fmt.Sprintf("line_items[%d].size", i), Reason: "is required"}
		}
		if item.Quantity < 1 {
			return nil, &ValidationError{Field: fmt.Sprintf("line_items[%d].quantity", i), Reason: "must be at least 1"}
		}
		if item.UnitPriceMinor <= 0 {
			return nil, &ValidationError{Field: fmt.Sprintf("line_items[%d].unit_price_minor", i), Reason: "must be positive"}
		}
		key := item.ProductID + "\x00" + item.Size
		if _, dup := seen[key]; dup {
			return nil, &ValidationError{
				Field:  fmt.Sprintf("line_items[%d]", i),
				Reason: fmt.Sprintf("duplicate product %s size %s", item.ProductID, item.Size),
			}
		}
		seen[key] = struct{}{}
	}

	order := &Order{
		OwnerKey:        ownerKey,
		LineItems:       append([]LineItem(nil), items...),
		ShippingMinor:   shippingMinor,
		Currency:        strings.ToUpper(strings.TrimSpace(currency)),
		ShippingAddress: addr,
		Status:          OrderStatusPending,
		CreatedAt:       now.UTC(),
	}
	order.ComputeTotals()
	return order, nil
}

func (o *Order) ComputeTotals() {
	var subtotal int64
	for _, item := range o.LineItems {
		subtotal += item.TotalMinor()
	}
	o.SubtotalMinor = subtotal
	o.TotalMinor = subtotal + o.ShippingMinor
}

// Reconciles reports whether the stored total matches its line items plus shipping.
func (o *Order) Reconciles() bool {
	var subtotal int64
	for _, item := range o.LineItems {
		subtotal += item.TotalMinor()
	}
	return o.SubtotalMinor == subtotal && o.TotalMinor == subtotal+o.ShippingMinor
}

func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.LineItems = append([]LineItem(nil), o.LineItems...)
	if o.Payment != nil {
		p := *o.Payment
		c.Payment = &p
	}
	if o.StockAppliedAt != nil {
		t := *o.StockAppliedAt
		c.StockAppliedAt = &t
	}
	if o.CancelledAt != nil {
		t := *o.CancelledAt
		c.CancelledAt = &t
	}
	return &c
}
