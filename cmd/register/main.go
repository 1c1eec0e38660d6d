package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/tillpoint/api/internal/di"
	"github.com/tillpoint/api/internal/handlers"
	"github.com/tillpoint/api/internal/payments"
	"github.com/tillpoint/api/internal/platform/config"
	pfirestore "github.com/tillpoint/api/internal/platform/firestore"
	"github.com/tillpoint/api/internal/platform/idempotency"
	"github.com/tillpoint/api/internal/platform/jobs"
	"github.com/tillpoint/api/internal/platform/observability"
	"github.com/tillpoint/api/internal/platform/secrets"
	platformstorage "github.com/tillpoint/api/internal/platform/storage"
	"github.com/tillpoint/api/internal/promotions"
	"github.com/tillpoint/api/internal/repositories"
	firestoreRepo "github.com/tillpoint/api/internal/repositories/firestore"
	"github.com/tillpoint/api/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("register")
	ctx = observability.WithLogger(ctx, logger)

	projectID, _ := config.Lookup("REGISTER_FIRESTORE_PROJECT_ID")
	resolver, err := secrets.NewResolver(ctx,
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithProject(projectID),
		secrets.WithMeter(otel.Meter("github.com/tillpoint/api/secrets")),
	)
	if err != nil {
		logger.Fatal("failed to initialise secret resolver", zap.Error(err))
	}
	defer func() {
		if err := resolver.Close(); err != nil {
			logger.Warn("secret resolver close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(resolver))
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}

	pubsubProject := strings.TrimSpace(cfg.PubSub.ProjectID)
	if pubsubProject == "" {
		pubsubProject = cfg.Firestore.ProjectID
	}
	pubsubClient, err := pubsub.NewClient(ctx, pubsubProject)
	if err != nil {
		logger.Fatal("failed to initialise pubsub client", zap.Error(err))
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}()
	transactionTopic := pubsubClient.Topic(cfg.PubSub.TransactionTopic)
	shiftTopic := pubsubClient.Topic(cfg.PubSub.ShiftTopic)
	defer transactionTopic.Stop()
	defer shiftTopic.Stop()

	publisher, err := jobs.NewPubSubTransactionPublisher(transactionTopic, jobs.WithShiftTopic(shiftTopic))
	if err != nil {
		logger.Fatal("failed to initialise transaction publisher", zap.Error(err))
	}

	storageClient, err := cloudstorage.NewClient(ctx)
	if err != nil {
		logger.Fatal("failed to initialise storage client", zap.Error(err))
	}
	defer func() {
		if err := storageClient.Close(); err != nil {
			logger.Warn("storage close error", zap.Error(err))
		}
	}()

	var exporter services.ShiftReportExporter
	if bucket := strings.TrimSpace(cfg.Storage.ReportsBucket); bucket != "" {
		reports, err := platformstorage.NewReportWriter(storageClient, bucket)
		if err != nil {
			logger.Fatal("failed to initialise report writer", zap.Error(err))
		}
		exporter = reports
	} else {
		logger.Warn("reports bucket not configured; shift reports will not be exported")
	}

	var promotionClient *promotions.Client
	var promotionEvaluator services.PromotionEvaluator
	if endpoint := strings.TrimSpace(cfg.Promotions.Endpoint); endpoint != "" {
		promotionClient = promotions.NewClient(endpoint, cfg.Promotions.Timeout, promotions.WithAuthToken(cfg.Promotions.AuthToken))
		promotionEvaluator = promotionClient
	}

	cards, err := newCardAuthorizer(cfg, logger.Named("payments"))
	if err != nil {
		logger.Fatal("failed to initialise card processor", zap.Error(err))
	}

	healthRepo, err := newHealthRepository(firestoreProvider, transactionTopic, storageClient, cfg.Storage.ReportsBucket, promotionClient,
		repositories.WithDependencyTimeout(cfg.Server.HealthTimeout),
		repositories.WithDependencyClock(func() time.Time { return time.Now().UTC() }),
	)
	if err != nil {
		logger.Fatal("failed to initialise health checks", zap.Error(err))
	}

	registry, err := firestoreRepo.NewRegistry(firestoreProvider, healthRepo)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	metrics := observability.NewCheckoutMetrics(
		observability.WithMeter(otel.Meter("github.com/tillpoint/api")),
		observability.WithMetricsLogger(logger.Named("metrics")),
	)

	container, err := di.NewContainer(ctx, cfg, registry, di.Infrastructure{
		Promotions: promotionEvaluator,
		Cards:      cards,
		Publisher:  publisher,
		Exporter:   exporter,
		Metrics:    metrics,
		Logger:     logger.Named("checkout"),
	})
	if err != nil {
		logger.Fatal("failed to initialise services", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("repository close error", zap.Error(err))
		}
	}()

	idempotencyStore := idempotency.NewFirestoreStore(firestoreClient)
	idempotencyLogger := observability.EventLogger(logger.Named("idempotency"))
	tenderGuard := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(idempotencyLogger),
		idempotency.WithScope(func(r *http.Request) string {
			return chi.URLParam(r, "stationId")
		}),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	cleanupWG.Add(1)
	go func() {
		defer cleanupWG.Done()
		idempotency.RunCleanup(cleanupCtx, idempotencyStore, cfg.Idempotency.CleanupInterval, idempotencyLogger)
	}()

	checkoutHandlers := handlers.NewCheckoutHandlers(container.Services.Checkout,
		handlers.WithTenderMiddleware(tenderGuard),
		handlers.WithScanRateLimit(cfg.Server.ScanRateLimit, cfg.Server.ScanRateWindow, time.Now),
	)
	shiftHandlers := handlers.NewShiftHandlers(container.Services.Shifts)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthSystemService(container.Services.System),
		handlers.WithHealthBuildInfo(services.BuildInfo{
			Version:   cfg.Build.Version,
			CommitSHA: cfg.Build.CommitSHA,
			StartedAt: startedAt,
		}),
	)

	httpLogger := logger.Named("http")
	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(httpLogger),
			observability.TraceMiddleware(),
			observability.RecoveryMiddleware(httpLogger),
			observability.RequestLoggerMiddleware(),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithStationRoutes(checkoutHandlers.Routes),
		handlers.WithStationRoutes(shiftHandlers.Routes),
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

	serverLogger := httpLogger.With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("register api listening", zap.String("version", cfg.Build.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// newCardAuthorizer returns nil when no Stripe key is configured; card legs are then recorded
// without a processor authorization.
func newCardAuthorizer(cfg config.Config, logger *zap.Logger) (services.CardAuthorizer, error) {
	if strings.TrimSpace(cfg.Payments.StripeAPIKey) == "" {
		logger.Warn("stripe api key not configured; card tenders will not be authorized")
		return nil, nil
	}
	stripe, err := payments.NewStripeTerminalProcessor(payments.StripeTerminalConfig{
		APIKey:         cfg.Payments.StripeAPIKey,
		AccountID:      cfg.Payments.StripeAccount,
		Readers:        cfg.Payments.StripeReaders,
		ConfirmTimeout: cfg.Payments.ConfirmTimeout,
		Logger:         observability.EventLogger(logger),
	})
	if err != nil {
		return nil, err
	}
	return payments.NewManager(map[string]payments.Processor{"stripe": stripe},
		payments.WithDefaultProvider("stripe"),
		payments.WithCurrency(cfg.Payments.Currency),
	)
}

func newHealthRepository(provider *pfirestore.Provider, topic *pubsub.Topic, storageClient *cloudstorage.Client, bucket string, promotionClient *promotions.Client, opts ...repositories.DependencyHealthOption) (repositories.HealthRepository, error) {
	checks := make([]repositories.DependencyCheck, 0, 4)
	if provider != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "firestore",
			Timeout: 1500 * time.Millisecond,
			Check:   provider.Ping,
		})
	}
	if topic != nil {
		t := topic
		checks = append(checks, repositories.DependencyCheck{
			Name:    "pubsub",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				ok, err := t.Exists(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("topic %s does not exist", t.ID())
				}
				return nil
			},
		})
	}
	if storageClient != nil && strings.TrimSpace(bucket) != "" {
		b := storageClient.Bucket(bucket)
		checks = append(checks, repositories.DependencyCheck{
			Name:     "storage",
			Timeout:  time.Second,
			Optional: true,
			Check: func(ctx context.Context) error {
				_, err := b.Attrs(ctx)
				return err
			},
		})
	}
	if promotionClient != nil {
		p := promotionClient
		checks = append(checks, repositories.DependencyCheck{
			Name:     "promotions",
			Timeout:  time.Second,
			Optional: true,
			Check:    p.Ping,
		})
	}
	return repositories.NewDependencyHealthRepository(checks, opts...)
}
