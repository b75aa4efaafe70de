package domain

import "time"

const (
	EventOrderPaid      = "order.paid"
	EventOrderCancelled = "order.cancelled"
)

type OrderPaidEvent struct {
	OrderID         string          `json:"order_id"`
	OwnerKey        string          `json:"owner_key"`
	Items           []LineItem      `json:"items"`
	TotalMinor      int64           `json:"total_minor"`
	Currency        string          `json:"currency"`
	ShippingAddress ShippingAddress `json:"shipping_address"`
	PaymentID       string          `json:"payment_id"`
	Source          PaymentSource   `json:"source"`
	Timestamp       time.Time       `json:"timestamp"`
}

type OrderCancelledEvent struct {
	OrderID   string    `json:"order_id"`
	OwnerKey  string    `json:"owner_key"`
	Timestamp time.Time `json:"timestamp"`
}

func NewOrderPaidEvent(o *Order) OrderPaidEvent {
	event := OrderPaidEvent{
		OrderID:         o.ID,
		OwnerKey:        o.OwnerKey,
		Items:           o.LineItems,
		TotalMinor:      o.TotalMinor,
		Currency:        o.Currency,
		ShippingAddress: o.ShippingAddress,
		Timestamp:       time.Now().UTC(),
	}
	if o.Payment != nil {
		event.PaymentID = o.Payment.ProcessorPaymentID
		event.Source = o.Payment.Source
		event.Timestamp = o.Payment.PaidAt
	}
	return event
}
