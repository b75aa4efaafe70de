package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Webhook outcomes recorded on payments.webhook.events.
const (
	OutcomeProcessed   = "processed"
	OutcomeDuplicate   = "duplicate"
	OutcomeIgnored     = "ignored"
	OutcomeUnresolved  = "unresolved"
	OutcomeRejected    = "rejected"
	OutcomeFailed      = "failed"
	OutcomeMismatch    = "amount_mismatch"
	OutcomeApplied     = "applied"
	OutcomePartial     = "partial"
	OutcomeAlreadyDone = "already_terminal"
)

// PaymentMetrics holds the counters of the payment flow. A nil
// *PaymentMetrics records nothing.
type PaymentMetrics struct {
	webhookEvents metric.Int64Counter
	transitions   metric.Int64Counter
	decrements    metric.Int64Counter
}

func NewPaymentMetrics() (*PaymentMetrics, error) {
	meter := otel.Meter("storefront/payments")

	webhookEvents, err := meter.Int64Counter("payments.webhook.events",
		metric.WithDescription("Webhook deliveries by outcome"))
	if err != nil {
		return nil, err
	}

	transitions, err := meter.Int64Counter("orders.transitions",
		metric.WithDescription("Order status transitions by target status and confirmation source"))
	if err != nil {
		return nil, err
	}

	decrements, err := meter.Int64Counter("inventory.decrements",
		metric.WithDescription("Inventory decrement batches by outcome"))
	if err != nil {
		return nil, err
	}

	return &PaymentMetrics{
		webhookEvents: webhookEvents,
		transitions:   transitions,
		decrements:    decrements,
	}, nil
}

func (m *PaymentMetrics) WebhookEvent(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *PaymentMetrics) Transition(ctx context.Context, to, source string) {
	if m == nil {
		return
	}
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("to", to),
		attribute.String("source", source),
	))
}

func (m *PaymentMetrics) Decrement(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.decrements.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
