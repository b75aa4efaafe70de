// Package razorpay is a small REST client for the processor's Orders API.
package razorpay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/joao-fontenele/storefront-payments/internal/domain"
)

const DefaultBaseURL = "https://api.razorpay.com/v1"

type Order struct {
	ID         string          `json:"id"`
	Entity     string          `json:"entity"`
	Amount     int64           `json:"amount"`
	AmountPaid int64           `json:"amount_paid"`
	AmountDue  int64           `json:"amount_due"`
	Currency   string          `json:"currency"`
	Receipt    string          `json:"receipt"`
	Status     string          `json:"status"`
	Attempts   int             `json:"attempts"`
	Notes      json.RawMessage `json:"notes,omitempty"`
	CreatedAt  int64           `json:"created_at"`
}

type Payment struct {
	ID        string `json:"id"`
	Entity    string `json:"entity"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
	OrderID   string `json:"order_id"`
	Method    string `json:"method"`
	Captured  bool   `json:"captured"`
	Email     string `json:"email,omitempty"`
	CreatedAt int64  `json:"created_at"`
}

// GatewayError is any failed call to the processor, including transport
// errors and timeouts. It matches domain.ErrGateway with errors.Is.
type GatewayError struct {
	Op          string
	StatusCode  int
	Code        string
	Description string
	Err         error
}

func (e *GatewayError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("razorpay %s: status %d: %s %s", e.Op, e.StatusCode, e.Code, e.Description)
	case e.Err != nil:
		return fmt.Sprintf("razorpay %s: %v", e.Op, e.Err)
	default:
		return "razorpay " + e.Op + ": failed"
	}
}

func (e *GatewayError) Unwrap() []error {
	if e.Err != nil {
		return []error{domain.ErrGateway, e.Err}
	}
	return []error{domain.ErrGateway}
}

type Client struct {
	baseURL    string
	keyID      string
	keySecret  string
	timeout    time.Duration
	httpClient *http.Client
	duration   metric.Float64Histogram
}

// NewClient builds a client authenticating with HTTP basic auth. Every call
// gets its own timeout; expiry surfaces as a GatewayError. A nil httpClient
// gets an otelhttp-instrumented transport.
func NewClient(baseURL, keyID, keySecret string, timeout time.Duration, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}

	duration, _ := otel.Meter("razorpay").Float64Histogram(
		"gateway.request.duration",
		metric.WithDescription("Duration of payment gateway calls"),
		metric.WithUnit("s"),
	)

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		keyID:      keyID,
		keySecret:  keySecret,
		timeout:    timeout,
		httpClient: httpClient,
		duration:   duration,
	}
}

func (c *Client) KeyID() string {
	return c.keyID
}

func (c *Client) Configured() bool {
	return c.keyID != "" && c.keySecret != ""
}

type createOrderRequest struct {
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	Receipt        string `json:"receipt"`
	PaymentCapture int    `json:"payment_capture"`
}

// CreateOrder mints a remote order with automatic capture. amountMinor must be
// a positive integer in the currency's smallest unit.
func (c *Client) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (*Order, error) {
	if amountMinor <= 0 {
		return nil, &domain.ValidationError{Field: "amount", Reason: "must be a positive integer in minor units"}
	}
	if receipt == "" {
		return nil, &domain.ValidationError{Field: "receipt", Reason: "is required"}
	}
	if currency == "" {
		currency = "INR"
	}

	var order Order
	body := createOrderRequest{Amount: amountMinor, Currency: currency, Receipt: receipt, PaymentCapture: 1}
	if err := c.do(ctx, "create_order", http.MethodPost, "/orders", body, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *Client) FetchOrder(ctx context.Context, id string) (*Order, error) {
	var order Order
	if err := c.do(ctx, "fetch_order", http.MethodGet, "/orders/"+id, nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *Client) FetchOrderPayments(ctx context.Context, id string) ([]Payment, error) {
	var page struct {
		Items []Payment `json:"items"`
	}
	if err := c.do(ctx, "fetch_order_payments", http.MethodGet, "/orders/"+id+"/payments", nil, &page); err != nil {
		return nil, err
	}
	return page.Items, nil
}

type errorEnvelope struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) (err error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if c.duration != nil {
			c.duration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
				attribute.String("operation", op),
				attribute.Bool("error", err != nil),
			))
		}
	}()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &GatewayError{Op: op, Err: err}
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &GatewayError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &GatewayError{Op: op, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		gerr := &GatewayError{Op: op, StatusCode: resp.StatusCode}
		var envelope errorEnvelope
		if json.Unmarshal(data, &envelope) == nil {
			gerr.Code = envelope.Error.Code
			gerr.Description = envelope.Error.Description
		}
		return gerr
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return &GatewayError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return nil
}

// IsGatewayError reports whether err came from the processor call.
func IsGatewayError(err error) bool {
	var gerr *GatewayError
	return errors.As(err, &gerr)
}
