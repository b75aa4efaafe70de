package checkout

import (
	"fmt"
	"time"

	"github.com/joao-fontenele/storefront-payments/internal/domain"
)

// State is the position of one checkout attempt.
type State string

const (
	StateIdle                State = "idle"
	StateOrderCreated        State = "order_created"
	StateGatewayOrderCreated State = "gateway_order_created"
	StateAwaitingPayment     State = "awaiting_payment"
	StateConfirmed           State = "confirmed"
	StateCancelled           State = "cancelled"
	StateFailed              State = "failed"
)

var allowed = map[State][]State{
	StateIdle:                {StateOrderCreated, StateFailed},
	StateOrderCreated:        {StateGatewayOrderCreated, StateFailed},
	StateGatewayOrderCreated: {StateAwaitingPayment, StateFailed},
	StateAwaitingPayment:     {StateConfirmed, StateCancelled, StateFailed, StateGatewayOrderCreated},
	// A failed attempt keeps its Pending order and may be retried or abandoned.
	StateFailed: {StateGatewayOrderCreated, StateCancelled, StateConfirmed},
}

func (s State) CanTransition(to State) bool {
	for _, next := range allowed[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s State) Terminal() bool {
	return s == StateConfirmed || s == StateCancelled
}

// Session is the server-side record of a checkout attempt for one local order.
type Session struct {
	OrderID       string    `json:"order_id"`
	OwnerKey      string    `json:"owner_key"`
	State         State     `json:"state"`
	RemoteOrderID string    `json:"remote_order_id,omitempty"`
	AmountMinor   int64     `json:"amount_minor"`
	Currency      string    `json:"currency"`
	KeyID         string    `json:"key_id,omitempty"`
	Error         string    `json:"error,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (s *Session) advance(to State, now time.Time) error {
	if !s.State.CanTransition(to) {
		return fmt.Errorf("checkout %s: %s -> %s: %w", s.OrderID, s.State, to, domain.ErrInvalidState)
	}
	s.State = to
	s.UpdatedAt = now
	return nil
}

// settle aligns the session with the order's persisted status, which may have
// been changed by another channel such as the webhook.
func (s *Session) settle(order *domain.Order, now time.Time) {
	switch order.Status {
	case domain.OrderStatusPaid:
		s.State = StateConfirmed
		s.Error = ""
	case domain.OrderStatusCancelled:
		s.State = StateCancelled
	default:
		return
	}
	s.UpdatedAt = now
}

func sessionFromOrder(order *domain.Order, now time.Time) *Session {
	s := &Session{
		OrderID:       order.ID,
		OwnerKey:      order.OwnerKey,
		State:         StateOrderCreated,
		RemoteOrderID: order.RemoteOrderID,
		AmountMinor:   order.TotalMinor,
		Currency:      order.Currency,
		UpdatedAt:     now,
	}
	if order.RemoteOrderID != "" {
		s.State = StateAwaitingPayment
	}
	s.settle(order, now)
	return s
}
