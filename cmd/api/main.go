package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	domain "github.com/daigou-ops/backoffice/internal/domain"
	"github.com/daigou-ops/backoffice/internal/handlers"
	"github.com/daigou-ops/backoffice/internal/platform/config"
	pfirestore "github.com/daigou-ops/backoffice/internal/platform/firestore"
	"github.com/daigou-ops/backoffice/internal/platform/idempotency"
	"github.com/daigou-ops/backoffice/internal/platform/jobs"
	"github.com/daigou-ops/backoffice/internal/platform/observability"
	"github.com/daigou-ops/backoffice/internal/platform/requestctx"
	firestoreRepo "github.com/daigou-ops/backoffice/internal/repositories/firestore"
	"github.com/daigou-ops/backoffice/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	version := strings.TrimSpace(os.Getenv("API_BUILD_VERSION"))
	if version == "" {
		version = "dev"
	}

	baseLogger, err := observability.NewLogger("backoffice-api", version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	registry, err := firestoreRepo.NewRegistry(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	var pubsubClient *pubsub.Client
	var orderEvents services.OrderEventPublisher
	var lowStockAlerts services.LowStockAlertPublisher
	if cfg.PubSub.OrderEventsTopic != "" || cfg.PubSub.LowStockAlertTopic != "" {
		pubsubClient, err = pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()

		if cfg.PubSub.OrderEventsTopic != "" {
			orderEvents, err = jobs.NewPubSubOrderEventPublisher(pubsubClient.Topic(cfg.PubSub.OrderEventsTopic))
			if err != nil {
				logger.Fatal("failed to initialise order event publisher", zap.Error(err))
			}
		}
		if cfg.PubSub.LowStockAlertTopic != "" {
			lowStockAlerts, err = jobs.NewPubSubLowStockPublisher(pubsubClient.Topic(cfg.PubSub.LowStockAlertTopic))
			if err != nil {
				logger.Fatal("failed to initialise low stock publisher", zap.Error(err))
			}
		}
	}

	serviceLog := serviceLogger(logger)
	newID := func() string { return ulid.Make().String() }

	orderNumbers, err := services.NewOrderNumberService(services.OrderNumberServiceDeps{
		Prefix: cfg.Orders.NumberPrefix,
	})
	if err != nil {
		logger.Fatal("failed to initialise order number service", zap.Error(err))
	}

	inventoryService, err := services.NewInventoryService(services.InventoryServiceDeps{
		Products:          registry.Products(),
		Alerts:            lowStockAlerts,
		LowStockThreshold: cfg.Inventory.DefaultLowStockThreshold,
		IDGenerator:       newID,
		Logger:            serviceLog,
	})
	if err != nil {
		logger.Fatal("failed to initialise inventory service", zap.Error(err))
	}

	cashbookService, err := services.NewCashbookService(services.CashbookServiceDeps{
		Entries:      registry.Cashbook(),
		HomeCurrency: domain.Currency(cfg.Cashbook.HomeCurrency),
		CnyKrwRate:   cfg.Cashbook.CnyKrwRate,
		IDGenerator:  newID,
		Logger:       serviceLog,
	})
	if err != nil {
		logger.Fatal("failed to initialise cashbook service", zap.Error(err))
	}

	auditService, err := services.NewAuditLogService(services.AuditLogServiceDeps{
		EventLogs:   registry.EventLogs(),
		IDGenerator: newID,
		Logger:      serviceLog,
	})
	if err != nil {
		logger.Fatal("failed to initialise audit log service", zap.Error(err))
	}

	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:      registry.Orders(),
		Numbers:     orderNumbers,
		Inventory:   inventoryService,
		Cashbook:    cashbookService,
		Audit:       auditService,
		Events:      orderEvents,
		IDGenerator: newID,
		Logger:      serviceLog,
	})
	if err != nil {
		logger.Fatal("failed to initialise order service", zap.Error(err))
	}

	idempotencyStore := idempotency.NewFirestoreStore(firestoreClient)
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(stdLogger(logger.Named("idempotency"))),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	var cleanupTicker *time.Ticker
	if cfg.Idempotency.CleanupInterval > 0 {
		cleanupTicker = time.NewTicker(cfg.Idempotency.CleanupInterval)
		cleanupWG.Add(1)
		go func() {
			defer cleanupWG.Done()
			cleanupLogger := logger.Named("idempotency")
			for {
				select {
				case <-cleanupTicker.C:
					runCtx, cancel := context.WithTimeout(cleanupCtx, time.Minute)
					removed, err := idempotencyStore.CleanupExpired(runCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
					cancel()
					if err != nil {
						cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
						continue
					}
					if removed > 0 {
						cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
					}
				case <-cleanupCtx.Done():
					return
				}
			}
		}()
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(handlers.BuildInfo{
			Version:     version,
			CommitSHA:   strings.TrimSpace(os.Getenv("API_BUILD_COMMIT_SHA")),
			Environment: strings.TrimSpace(os.Getenv("API_ENVIRONMENT")),
			StartedAt:   startedAt,
		}),
		handlers.WithHealthRepository(registry.Health()),
	)

	orderHandlers := handlers.NewOrderHandlers(orderService,
		handlers.WithOrderCreateRateLimit(120, time.Minute, nil),
	)
	productHandlers := handlers.NewProductHandlers(inventoryService)
	cashbookHandlers := handlers.NewCashbookHandlers(cashbookService)

	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(baseLogger, cfg.Firestore.ProjectID),
			observability.RequestLoggerMiddleware(),
			observability.RecoveryMiddleware(),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithOrderMiddlewares(idempotencyMiddleware),
		handlers.WithProductRoutes(productHandlers.Routes),
		handlers.WithCashbookRoutes(cashbookHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("backoffice api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	if cleanupTicker != nil {
		cleanupTicker.Stop()
	}
	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// serviceLogger adapts zap to the event/fields callback the services accept,
// preferring the request-scoped logger when one is on the context.
func serviceLogger(fallback *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := requestctx.Logger(ctx)
		if logger == requestctx.NoopLogger() {
			logger = fallback
		}
		zapFields := make([]zap.Field, 0, len(fields))
		for key, value := range fields {
			zapFields = append(zapFields, zap.Any(key, value))
		}
		logger.Info(event, zapFields...)
	}
}

func stdLogger(logger *zap.Logger) *log.Logger {
	return zap.NewStdLog(logger)
}
