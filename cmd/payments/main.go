package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	otelruntime "go.opentelemetry.io/contrib/instrumentation/runtime"

	"github.com/joao-fontenele/storefront-payments/internal/audit"
	"github.com/joao-fontenele/storefront-payments/internal/config"
	"github.com/joao-fontenele/storefront-payments/internal/database"
	"github.com/joao-fontenele/storefront-payments/internal/fulfillment"
	"github.com/joao-fontenele/storefront-payments/internal/inventory"
	"github.com/joao-fontenele/storefront-payments/internal/messaging"
	"github.com/joao-fontenele/storefront-payments/internal/notification"
	"github.com/joao-fontenele/storefront-payments/internal/orders"
	"github.com/joao-fontenele/storefront-payments/internal/ratelimit"
	"github.com/joao-fontenele/storefront-payments/internal/revocation"
	"github.com/joao-fontenele/storefront-payments/internal/signature"
	"github.com/joao-fontenele/storefront-payments/internal/telemetry"
	"github.com/joao-fontenele/storefront-payments/internal/webhook"
)

const serviceName = "payments"

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, cfg.Telemetry.OTLPEndpoint, serviceName, cfg.Telemetry.ServiceVersion)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider(serviceName, cfg.Telemetry.ServiceVersion)
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	if err := otelruntime.Start(); err != nil {
		logger.Error("failed to start runtime metrics", "error", err)
		os.Exit(1)
	}

	metrics, err := telemetry.NewPipelineMetrics()
	if err != nil {
		logger.Error("failed to register pipeline metrics", "error", err)
		os.Exit(1)
	}

	db, err := database.NewConnection(ctx, &cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	var notifier fulfillment.Notifier
	if len(cfg.Kafka.Brokers) > 0 {
		producer := messaging.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.OrderCompletedTopic)
		defer func() { _ = producer.Close() }()
		notifier = notification.NewKafkaNotifier(producer)
	} else {
		logger.Warn("KAFKA_BROKERS not set, order completed events will not be published")
	}

	orderRepo := orders.NewOrderRepository(db)
	inventoryRepo := inventory.NewInventoryRepository(db)
	registry := revocation.NewRegistry(db)
	rateStore := ratelimit.NewPostgresStore(db)

	coordinator := fulfillment.NewCoordinator(
		fulfillment.NewSQLStore(db),
		audit.NewRepository(db),
		notifier,
		metrics,
		logger,
		fulfillment.Options{
			StoreTimeout:   cfg.Webhook.StoreTimeout,
			IdempotencyTTL: cfg.Webhook.IdempotencyTTL,
		},
	)

	guard, err := webhook.NewGuard(cfg.Webhook, signature.NewVerifier(cfg.Webhook.Secret), logger)
	if err != nil {
		logger.Error("invalid webhook configuration", "error", err)
		os.Exit(1)
	}
	if cfg.Webhook.OriginCheckBypass {
		logger.Warn("webhook origin check is bypassed", "mode", string(cfg.Mode))
	}

	webhookHandler := webhook.NewHandler(guard, coordinator, metrics, logger)
	orderHandler := orders.NewHandler(orderRepo, inventoryRepo, orders.Pricing{
		ShippingFee:    cfg.Checkout.ShippingFee,
		TaxBasisPoints: cfg.Checkout.TaxBasisPoints,
	}, logger)
	productHandler := inventory.NewHandler(inventoryRepo, logger)

	limiter := ratelimit.NewLimiter(rateStore, cfg.RateLimit.Requests, cfg.RateLimit.Window)
	clientKey := func(r *http.Request) string { return guard.ClientIP(r).String() }
	limited := func(route string, h http.HandlerFunc) http.Handler {
		return ratelimit.Middleware(limiter, route, clientKey, metrics, logger)(telemetry.WithHTTPRoute(h))
	}

	mux := http.NewServeMux()
	mux.Handle("POST /webhooks/payment", limited("webhook", webhookHandler.ServeHTTP))
	mux.Handle("POST /orders", limited("checkout", orderHandler.HandleCreate))
	mux.HandleFunc("GET /orders", telemetry.WithHTTPRoute(orderHandler.HandleList))
	mux.HandleFunc("GET /orders/{id}", telemetry.WithHTTPRoute(orderHandler.HandleGet))
	mux.HandleFunc("GET /orders/by-transaction/{transactionUUID}", telemetry.WithHTTPRoute(orderHandler.HandleGetByTransaction))
	mux.HandleFunc("GET /products", telemetry.WithHTTPRoute(productHandler.HandleListProducts))
	mux.HandleFunc("GET /products/{id}", telemetry.WithHTTPRoute(productHandler.HandleGetProduct))
	mux.Handle("GET /metrics", metricsHandler)
	mux.HandleFunc("GET /healthz", healthHandler(db))

	server := &http.Server{
		Addr: ":" + cfg.Server.Port,
		Handler: otelhttp.NewHandler(mux, serviceName,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				if r.Pattern != "" {
					return r.Pattern
				}
				return r.Method + " " + r.URL.Path
			}),
		),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	sweepCtx, stopSweeps := context.WithCancel(ctx)
	defer stopSweeps()
	go revocation.RunSweepers(sweepCtx, cfg.SweepInterval, logger, map[string]revocation.Sweeper{
		"revocations": registry,
		"rate_limits": rateStore,
	})

	go func() {
		logger.Info("starting payments service", "port", cfg.Server.Port, "mode", string(cfg.Mode))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	stopSweeps()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}

func healthHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		if err := db.PingContext(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}
