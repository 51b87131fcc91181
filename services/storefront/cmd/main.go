package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sakashimaa/media-store/pkg/config"
	"github.com/sakashimaa/media-store/pkg/db"
	"github.com/sakashimaa/media-store/pkg/kafka"
	outbox "github.com/sakashimaa/media-store/pkg/outbox/repository"
	"github.com/sakashimaa/media-store/pkg/outbox/worker"
	"github.com/sakashimaa/media-store/pkg/utils"
	"github.com/sakashimaa/media-store/services/storefront/internal/catalog"
	"github.com/sakashimaa/media-store/services/storefront/internal/entitlement"
	"github.com/sakashimaa/media-store/services/storefront/internal/metrics"
	"github.com/sakashimaa/media-store/services/storefront/internal/notify"
	"github.com/sakashimaa/media-store/services/storefront/internal/paypal"
	"github.com/sakashimaa/media-store/services/storefront/internal/repository"
	"github.com/sakashimaa/media-store/services/storefront/internal/service"
	httpTransport "github.com/sakashimaa/media-store/services/storefront/internal/transport/http"
	"github.com/sakashimaa/media-store/services/storefront/internal/transport/http/handler"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.MustLoad()

	logger, err := config.NewLogger(cfg.LoggerConfig())
	if err != nil {
		log.Fatalf("Error creating logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	tp, err := utils.InitTracer(ctx, "storefront-service", cfg.Env)
	if err != nil {
		log.Fatalf("Error init tracer: %v", err)
	}

	products, err := catalog.FromConfig(cfg.Catalog)
	if err != nil {
		log.Fatalf("Error loading catalog: %v", err)
	}

	keyring, err := entitlement.KeyringFromHex(cfg.Token.Keys, cfg.Token.ActiveKey)
	if err != nil {
		log.Fatalf("Error loading signing keys: %v", err)
	}
	tokens := entitlement.NewService(keyring, cfg.Token.TTL)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	pool, err := db.NewPostgresDB(ctx, cfg.Postgres, logger)
	if err != nil {
		log.Fatalf("Error creating new postgres DB: %v", err)
	}

	kafkaProducer, err := kafka.NewProducer(cfg.Kafka.Brokers, logger)
	if err != nil {
		log.Fatalf("error creating kafka producer: %v", err)
	}

	outboxRepository := outbox.NewOutboxRepository(pool, logger)
	outboxProcessor := worker.NewOutboxProcessor(
		pool,
		outboxRepository,
		kafkaProducer,
		logger,
		worker.WithBatchSize(cfg.Outbox.BatchSize),
		worker.WithInterval(cfg.Outbox.Interval),
		worker.WithRetention(cfg.Outbox.Retention),
	)
	go outboxProcessor.Start(ctx)

	notifier := notify.NewOutboxNotifier(
		pool,
		outboxRepository,
		cfg.Notification.Topic,
		cfg.Notification.OperatorEmail,
		logger,
	)

	var ledger repository.PurchaseRepository
	if cfg.Ledger.Enabled {
		ledger = repository.NewPurchaseRepository(pool, logger)
	}

	var (
		rdb   *redis.Client
		guard repository.RedemptionGuard
	)
	if cfg.Redemption.SingleUse {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		guard = repository.NewRedisRedemptionGuard(rdb)
	}

	gateway := paypal.NewClient(paypal.Config{
		BaseURL:      cfg.PayPal.BaseURL,
		ClientID:     cfg.PayPal.ClientID,
		ClientSecret: cfg.PayPal.ClientSecret,
		Timeout:      cfg.PayPal.Timeout,
	}, logger)

	breaker := utils.NewBreaker("PayPal", logger, func(err error) bool {
		return err == nil || paypal.IsClientError(err)
	})

	purchaseService := service.NewPurchaseService(service.PurchaseDeps{
		Catalog:  products,
		Gateway:  gateway,
		Tokens:   tokens,
		Notifier: notifier,
		Ledger:   ledger,
		Breaker:  breaker,
		Metrics:  m,
		Origin:   cfg.Store.Origin,
		TokenTTL: cfg.Token.TTL,
	}, logger)
	redemptionService := service.NewRedemptionService(tokens, products, guard, m, logger)

	app := httpTransport.NewApp(httpTransport.LimiterConfig{
		Max:        cfg.Limiter.Max,
		Expiration: cfg.Limiter.Expiration,
	})
	httpTransport.RegisterRoutes(app, &httpTransport.Handlers{
		Purchase: handler.NewPurchaseHandler(purchaseService, products, cfg.HTTP.Timeout, logger),
		Download: handler.NewDownloadHandler(redemptionService, cfg.HTTP.Timeout, logger),
	}, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	go func() {
		logger.Info("storefront listening",
			zap.String("port", cfg.HTTP.Port),
			zap.Int("products", len(products.List())),
			zap.String("active_key", keyring.ActiveKeyID()),
			zap.Bool("ledger", cfg.Ledger.Enabled),
			zap.Bool("single_use", cfg.Redemption.SingleUse),
		)
		if err := app.Listen(cfg.HTTP.Port); err != nil {
			log.Fatalf("Error listening HTTP on port %v: %v", cfg.HTTP.Port, err)
		}
	}()

	<-ctx.Done()

	log.Println("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("Error shutting down HTTP server: %v", err)
	} else {
		log.Println("Stopped HTTP server successfully")
	}

	if err := kafkaProducer.Close(); err != nil {
		log.Printf("Error closing kafka producer: %v", err)
	}

	if rdb != nil {
		if err := rdb.Close(); err != nil {
			log.Printf("Error closing redis client: %v", err)
		}
	}

	pool.Close()
	log.Println("Closed db pool successfully")

	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error stopping telemetry: %v\n", err)
	} else {
		log.Println("Telemetry closed correctly")
	}
}
