//go:build integration

package test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/joao-fontenele/storefront-payments/internal/cache"
	"github.com/joao-fontenele/storefront-payments/internal/cart"
	"github.com/joao-fontenele/storefront-payments/internal/domain"
	"github.com/joao-fontenele/storefront-payments/internal/inventory"
	"github.com/joao-fontenele/storefront-payments/internal/messaging"
	"github.com/joao-fontenele/storefront-payments/internal/orders"
	"github.com/joao-fontenele/storefront-payments/internal/razorpay"
	"github.com/joao-fontenele/storefront-payments/internal/settlement"
	"github.com/joao-fontenele/storefront-payments/internal/signature"
	"github.com/joao-fontenele/storefront-payments/internal/webhook"
	"github.com/joao-fontenele/storefront-payments/internal/worker"
)

const testWebhookSecret = "whsec_integration"

var testAddress = domain.ShippingAddress{
	Name:    "Asha Rao",
	Address: "12 MG Road",
	City:    "Pune",
	State:   "MH",
	ZipCode: "411001",
	Country: "IN",
}

type emailCapture struct {
	mu     sync.Mutex
	emails []map[string]string
}

func (e *emailCapture) handler(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	e.mu.Lock()
	e.emails = append(e.emails, body)
	e.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (e *emailCapture) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.emails)
}

// workerPublisher hands published events straight to the notification
// worker, standing in for the broker.
type workerPublisher struct {
	mu     sync.Mutex
	worker *worker.NotificationHandler
	events []string
}

func (p *workerPublisher) Publish(ctx context.Context, eventType, _ string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.events = append(p.events, eventType)
	p.mu.Unlock()
	return p.worker.Handle(ctx, eventType, payload)
}

type staticGateway struct{}

func (staticGateway) CreateOrder(_ context.Context, amountMinor int64, currency, receipt string) (*razorpay.Order, error) {
	return &razorpay.Order{ID: "order_" + receipt, Amount: amountMinor, Currency: currency, Receipt: receipt}, nil
}

func (staticGateway) FetchOrder(_ context.Context, id string) (*razorpay.Order, error) {
	return nil, &razorpay.GatewayError{Op: "fetch_order", StatusCode: http.StatusNotFound}
}

func (staticGateway) KeyID() string { return "rzp_test" }

func createPendingOrder(ctx context.Context, t *testing.T, store orders.Store, remoteOrderID string, qty int) *domain.Order {
	t.Helper()

	items := []domain.LineItem{{ProductID: "p1", Name: "Linen Kurta", Size: "M", Quantity: qty, UnitPriceMinor: 120000}}
	order, err := domain.NewOrder("buyer@example.com", items, 0, "INR", testAddress, time.Now().UTC())
	if err != nil {
		t.Fatalf("failed to build order: %v", err)
	}
	id, err := store.Create(ctx, order)
	if err != nil {
		t.Fatalf("failed to create order: %v", err)
	}
	if err := store.AttachRemoteOrder(ctx, id, remoteOrderID); err != nil {
		t.Fatalf("failed to attach remote order: %v", err)
	}
	created, err := store.GetByReceiptID(ctx, id)
	if err != nil || created == nil {
		t.Fatalf("failed to reload order %s: %v", id, err)
	}
	return created
}

func stockOf(ctx context.Context, t *testing.T, stock inventory.Store, productID, size string) int {
	t.Helper()

	level, err := stock.GetStock(ctx, productID)
	if err != nil || level == nil {
		t.Fatalf("failed to read stock for %s: %v", productID, err)
	}
	return level.Sizes[size]
}

func signedWebhook(t *testing.T, eventID, remoteOrderID, paymentID string, amount int64) *http.Request {
	t.Helper()

	body := fmt.Sprintf(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":%q,"order_id":%q,"amount":%d,"currency":"INR","status":"captured","captured":true,"method":"upi"}}}}`,
		paymentID, remoteOrderID, amount)
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(body))
	req.Header.Set(webhook.HeaderSignature, signature.Compute(testWebhookSecret, []byte(body)))
	req.Header.Set(webhook.HeaderEventID, eventID)
	return req
}

func TestWebhookSettlementFlow(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	db := SetupPostgres(ctx, t)
	redisClient := SetupRedis(ctx, t)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := orders.NewOrderRepository(db)
	stock := inventory.NewInventoryRepository(db)

	emailCap := &emailCapture{}
	emailServer := httptest.NewServer(http.HandlerFunc(emailCap.handler))
	defer emailServer.Close()

	publisher := &workerPublisher{
		worker: worker.NewNotificationHandler(emailServer.URL, []string{"admin@example.com"}, emailServer.Client(), logger),
	}
	settler := settlement.NewSettler(store, stock, publisher, nil, logger)
	handler := webhook.NewHandler(store, settler, staticGateway{}, cache.NewRedisAdapter(redisClient, "it:"),
		webhook.Secrets{WebhookSecret: testWebhookSecret}, "INR", nil, logger)

	before := stockOf(ctx, t, stock, "p1", "M")
	order := createPendingOrder(ctx, t, store, "order_R100", 2)

	// The processor redelivers the same event id, and a second event for
	// the same payment arrives concurrently.
	var wg sync.WaitGroup
	codes := make([]int, 10)
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := httptest.NewRecorder()
			handler.HandleWebhook(rec, signedWebhook(t, fmt.Sprintf("evt_%d", i%2), "order_R100", "pay_100", order.TotalMinor))
			codes[i] = rec.Code
		}(i)
	}
	wg.Wait()

	for i, code := range codes {
		if code != http.StatusOK {
			t.Fatalf("delivery %d: expected 200, got %d", i, code)
		}
	}

	paid, err := store.GetByReceiptID(ctx, order.ID)
	if err != nil {
		t.Fatalf("failed to reload order: %v", err)
	}
	if paid.Status != domain.OrderStatusPaid {
		t.Fatalf("expected status Paid, got %s", paid.Status)
	}
	if paid.Payment == nil || paid.Payment.ProcessorPaymentID != "pay_100" {
		t.Fatalf("expected payment pay_100 recorded, got %+v", paid.Payment)
	}
	if paid.StockAppliedAt == nil {
		t.Fatal("expected stock applied stamp")
	}

	if after := stockOf(ctx, t, stock, "p1", "M"); after != before-2 {
		t.Fatalf("expected stock %d after one decrement, got %d", before-2, after)
	}

	if len(publisher.events) != 1 || publisher.events[0] != domain.EventOrderPaid {
		t.Fatalf("expected exactly one order.paid event, got %v", publisher.events)
	}
	if got := emailCap.count(); got != 2 {
		t.Fatalf("expected admin and customer emails, got %d", got)
	}
}

func TestConcurrentConfirmationsDecrementOnce(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db := SetupPostgres(ctx, t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := orders.NewOrderRepository(db)
	stock := inventory.NewInventoryRepository(db)
	settler := settlement.NewSettler(store, stock, nil, nil, logger)

	before := stockOf(ctx, t, stock, "p1", "M")
	order := createPendingOrder(ctx, t, store, "order_R200", 1)

	sources := []domain.PaymentSource{domain.PaymentSourceClient, domain.PaymentSourceWebhook, domain.PaymentSourceReconcile}
	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		transitioned int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := settler.SettlePaid(ctx, order.ID, domain.Payment{
				ProcessorPaymentID: "pay_200",
				ProcessorOrderID:   "order_R200",
				Captured:           true,
				Source:             sources[i%len(sources)],
			})
			if err != nil {
				t.Errorf("settle %d: %v", i, err)
				return
			}
			if result.Transitioned {
				mu.Lock()
				transitioned++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if transitioned != 1 {
		t.Fatalf("expected exactly one transition, got %d", transitioned)
	}
	if after := stockOf(ctx, t, stock, "p1", "M"); after != before-1 {
		t.Fatalf("expected stock %d, got %d", before-1, after)
	}

	_, changed, err := settler.Cancel(ctx, order.ID)
	if err != nil {
		t.Fatalf("cancel after paid: %v", err)
	}
	if changed {
		t.Fatal("expected cancel to lose against paid")
	}
}

func TestStockClampsAtZero(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db := SetupPostgres(ctx, t)
	stock := inventory.NewInventoryRepository(db)

	if err := stock.SetStock(ctx, "p2", "M", 1); err != nil {
		t.Fatalf("failed to set stock: %v", err)
	}

	report, err := stock.ApplyDecrement(ctx, []domain.LineItem{
		{ProductID: "p2", Size: "M", Quantity: 3},
		{ProductID: "p2", Size: "XXL", Quantity: 1},
		{ProductID: "missing", Size: "M", Quantity: 1},
	})
	if err != nil {
		t.Fatalf("apply decrement: %v", err)
	}

	if got := stockOf(ctx, t, stock, "p2", "M"); got != 0 {
		t.Fatalf("expected stock clamped at 0, got %d", got)
	}
	if len(report.Shortfalls()) != 1 {
		t.Fatalf("expected one shortfall, got %+v", report.Applied)
	}
	if len(report.Skipped) != 2 {
		t.Fatalf("expected two skipped lines, got %+v", report.Skipped)
	}
}

func TestCartPersistence(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	store := cart.NewRepository(SetupPostgres(ctx, t))

	empty, err := store.Get(ctx, "buyer@example.com")
	if err != nil {
		t.Fatalf("get empty cart: %v", err)
	}
	if len(empty.Items) != 0 {
		t.Fatalf("expected empty cart, got %+v", empty.Items)
	}

	saved := &domain.Cart{
		OwnerKey: "buyer@example.com",
		Items:    []domain.CartItem{{ProductID: "p1", Size: "M", Quantity: 2, Price: "1,200.00"}},
	}
	if err := store.Put(ctx, saved); err != nil {
		t.Fatalf("put cart: %v", err)
	}

	loaded, err := store.Get(ctx, "buyer@example.com")
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	if len(loaded.Items) != 1 || loaded.Items[0].Quantity != 2 {
		t.Fatalf("unexpected cart items: %+v", loaded.Items)
	}

	if err := store.Clear(ctx, "buyer@example.com"); err != nil {
		t.Fatalf("clear cart: %v", err)
	}
	cleared, err := store.Get(ctx, "buyer@example.com")
	if err != nil {
		t.Fatalf("get cleared cart: %v", err)
	}
	if len(cleared.Items) != 0 {
		t.Fatalf("expected cleared cart, got %+v", cleared.Items)
	}
}

func TestOrderEventsOverKafka(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	brokers := SetupKafka(ctx, t)

	conn, err := kafka.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		t.Fatalf("failed to dial kafka: %v", err)
	}
	err = conn.CreateTopics(
		kafka.TopicConfig{Topic: domain.EventOrderPaid, NumPartitions: 1, ReplicationFactor: 1},
		kafka.TopicConfig{Topic: domain.EventOrderCancelled, NumPartitions: 1, ReplicationFactor: 1},
	)
	_ = conn.Close()
	if err != nil {
		t.Fatalf("failed to create topics: %v", err)
	}

	producer := messaging.NewProducer(brokers)
	defer func() { _ = producer.Close() }()

	paid := domain.OrderPaidEvent{OrderID: "order-1", OwnerKey: "buyer@example.com", TotalMinor: 240000, Currency: "INR"}
	if err := producer.Publish(ctx, domain.EventOrderPaid, paid.OrderID, paid); err != nil {
		t.Fatalf("publish order.paid: %v", err)
	}
	cancelled := domain.OrderCancelledEvent{OrderID: "order-2"}
	if err := producer.Publish(ctx, domain.EventOrderCancelled, cancelled.OrderID, cancelled); err != nil {
		t.Fatalf("publish order.cancelled: %v", err)
	}

	consumer := messaging.NewConsumer(brokers, []string{domain.EventOrderPaid, domain.EventOrderCancelled}, "integration-test",
		messaging.WithStartOffset(kafka.FirstOffset))
	defer func() { _ = consumer.Close() }()

	consumeCtx, stop := context.WithTimeout(ctx, time.Minute)
	defer stop()

	received := make(map[string]string)
	_ = consumer.Consume(consumeCtx, func(_ context.Context, eventType string, payload []byte) error {
		var envelope struct {
			OrderID string `json:"order_id"`
		}
		if err := json.Unmarshal(payload, &envelope); err != nil {
			return err
		}
		received[eventType] = envelope.OrderID
		if len(received) == 2 {
			stop()
		}
		return nil
	})

	if received[domain.EventOrderPaid] != "order-1" {
		t.Fatalf("expected order.paid for order-1, got %v", received)
	}
	if received[domain.EventOrderCancelled] != "order-2" {
		t.Fatalf("expected order.cancelled for order-2, got %v", received)
	}
}
