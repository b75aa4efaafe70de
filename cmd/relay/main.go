package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/joao-fontenele/storefront-payments/internal/cart"
	"github.com/joao-fontenele/storefront-payments/internal/checkout"
	"github.com/joao-fontenele/storefront-payments/internal/config"
	"github.com/joao-fontenele/storefront-payments/internal/infra"
	"github.com/joao-fontenele/storefront-payments/internal/messaging"
	"github.com/joao-fontenele/storefront-payments/internal/orders"
	"github.com/joao-fontenele/storefront-payments/internal/razorpay"
	"github.com/joao-fontenele/storefront-payments/internal/secrets"
	"github.com/joao-fontenele/storefront-payments/internal/settlement"
	"github.com/joao-fontenele/storefront-payments/internal/telemetry"
	"github.com/joao-fontenele/storefront-payments/internal/webhook"
)

const serviceVersion = "0.1.0"

func main() {
	configPath := flag.String("config", "", "optional YAML config file")
	flag.Parse()

	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	secrets.Load(ctx, cfg, logger)

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "relay", serviceVersion, cfg.OTLPEndpoint)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider("relay", serviceVersion)
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	paymentMetrics, err := telemetry.NewPaymentMetrics()
	if err != nil {
		logger.Error("failed to create payment metrics", "error", err)
		os.Exit(1)
	}

	inf, err := infra.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open stores", "error", err)
		os.Exit(1)
	}
	defer func() { _ = inf.Close() }()

	authn, err := infra.Auth(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize auth", "error", err)
		os.Exit(1)
	}

	var publisher settlement.Publisher
	if brokers := cfg.Brokers(); len(brokers) > 0 {
		producer := messaging.NewProducer(brokers)
		defer func() { _ = producer.Close() }()
		publisher = producer
	} else {
		logger.Warn("KAFKA_BROKERS not set, order events are not published")
	}

	client := razorpay.NewClient(cfg.RazorpayBaseURL, cfg.RazorpayKeyID, cfg.RazorpayKeySecret, cfg.GatewayTimeout, nil)
	if !client.Configured() {
		logger.Warn("razorpay credentials missing, order creation will fail")
	}
	if cfg.WebhookSecret() == "" {
		logger.Warn("no webhook or key secret configured, signed callbacks will be rejected")
	}
	gateway := razorpay.NewReusingClient(client, inf.Cache, cfg.RemoteOrderTTL, logger)

	settler := settlement.NewSettler(inf.Orders, inf.Stock, publisher, paymentMetrics, logger)
	relay := webhook.NewHandler(
		inf.Orders,
		settler,
		gateway,
		inf.Cache,
		webhook.Secrets{KeySecret: cfg.RazorpayKeySecret, WebhookSecret: cfg.WebhookSecret()},
		cfg.Currency,
		paymentMetrics,
		logger,
	)

	orchestrator := checkout.NewOrchestrator(inf.Orders, gateway, settler, inf.Carts, inf.Cache, checkout.Options{
		KeySecret:     cfg.RazorpayKeySecret,
		Currency:      cfg.Currency,
		ShippingMinor: cfg.ShippingMinor,
		SessionTTL:    cfg.RemoteOrderTTL,
	}, logger)
	checkoutHandler := checkout.NewHandler(orchestrator, logger)
	ordersHandler := orders.NewHandler(inf.Orders, logger)
	cartHandler := cart.NewHandler(inf.Carts, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", telemetry.WithHTTPRoute(relay.HandleHealth))
	mux.HandleFunc("POST /create-order", telemetry.WithHTTPRoute(relay.HandleCreateOrder))
	mux.HandleFunc("POST /verify-payment", telemetry.WithHTTPRoute(relay.HandleVerifyPayment))
	mux.HandleFunc("POST /webhook", telemetry.WithHTTPRoute(relay.HandleWebhook))
	mux.Handle("GET /metrics", metricsHandler)

	mux.HandleFunc("POST /checkout", telemetry.WithHTTPRoute(authn.RequireFunc(checkoutHandler.HandleBegin)))
	mux.HandleFunc("GET /checkout/{id}", telemetry.WithHTTPRoute(authn.RequireFunc(checkoutHandler.HandleGet)))
	mux.HandleFunc("POST /checkout/{id}/retry", telemetry.WithHTTPRoute(authn.RequireFunc(checkoutHandler.HandleRetry)))
	mux.HandleFunc("POST /checkout/{id}/confirm", telemetry.WithHTTPRoute(authn.RequireFunc(checkoutHandler.HandleConfirm)))
	mux.HandleFunc("POST /checkout/{id}/cancel", telemetry.WithHTTPRoute(authn.RequireFunc(checkoutHandler.HandleCancel)))

	mux.HandleFunc("GET /me/orders", telemetry.WithHTTPRoute(authn.RequireFunc(ordersHandler.HandleListMine)))
	mux.HandleFunc("GET /orders/{id}", telemetry.WithHTTPRoute(authn.RequireFunc(ordersHandler.HandleGet)))
	mux.HandleFunc("GET /admin/orders", telemetry.WithHTTPRoute(authn.RequireAdmin(ordersHandler.HandleListAdmin)))

	mux.HandleFunc("GET /me/cart", telemetry.WithHTTPRoute(authn.RequireFunc(cartHandler.HandleGet)))
	mux.HandleFunc("PUT /me/cart", telemetry.WithHTTPRoute(authn.RequireFunc(cartHandler.HandlePut)))
	mux.HandleFunc("DELETE /me/cart", telemetry.WithHTTPRoute(authn.RequireFunc(cartHandler.HandleClear)))

	port := cfg.PortOr("8081")
	server := &http.Server{
		Addr:         ":" + port,
		Handler: otelhttp.NewHandler(mux, "relay",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				if r.Pattern != "" {
					return r.Pattern
				}
				return r.Method + " " + r.URL.Path
			}),
		),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2*cfg.GatewayTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("starting relay service", "port", port, "store_backend", cfg.StoreBackend)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
