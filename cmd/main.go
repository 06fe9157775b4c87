package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mansoorceksport/paywall/internal/config"
	"github.com/mansoorceksport/paywall/internal/domain"
	"github.com/mansoorceksport/paywall/internal/infrastructure/mailer"
	"github.com/mansoorceksport/paywall/internal/infrastructure/paddle"
	"github.com/mansoorceksport/paywall/internal/middleware"
	"github.com/mansoorceksport/paywall/internal/repository"
	"github.com/mansoorceksport/paywall/internal/server"
	"github.com/mansoorceksport/paywall/internal/service"
	"github.com/mansoorceksport/paywall/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := telemetry.NewLogger(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting Paywall billing service...",
		zap.Bool("simulator", cfg.Billing.SimulatorEnabled),
		zap.String("environment", cfg.OTEL.Environment),
	)

	ctx := context.Background()

	otelProvider, err := telemetry.Initialize(ctx, telemetry.Config{
		ServiceName:    cfg.OTEL.ServiceName,
		ServiceVersion: cfg.OTEL.Version,
		Environment:    cfg.OTEL.Environment,
		OTLPEndpoint:   cfg.OTEL.OTLPEndpoint,
		OTLPHeaders:    cfg.OTEL.OTLPHeaders,
		Enabled:        cfg.OTEL.Enabled,
	}, logger)
	if err != nil {
		logger.Warn("Failed to initialize OpenTelemetry", zap.Error(err))
	}

	// Initialize Firebase
	firebaseApp, err := middleware.InitFirebase(ctx,
		cfg.Firebase.ProjectID,
		cfg.Firebase.PrivateKey,
		cfg.Firebase.ClientEmail,
	)
	if err != nil {
		logger.Fatal("Failed to initialize Firebase", zap.Error(err))
	}
	authClient, err := firebaseApp.Auth(ctx)
	if err != nil {
		logger.Fatal("Failed to get Firebase Auth client", zap.Error(err))
	}
	logger.Info("✓ Firebase initialized")

	// Connect to MongoDB with OpenTelemetry instrumentation
	mongoOpts := options.Client().ApplyURI(cfg.MongoDB.URI)
	if cfg.OTEL.Enabled {
		mongoOpts.SetMonitor(otelmongo.NewMonitor())
	}
	mongoClient, err := mongo.Connect(ctx, mongoOpts)
	if err != nil {
		logger.Fatal("Failed to connect to MongoDB", zap.Error(err))
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       0,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	g, gctx := errgroup.WithContext(pingCtx)
	g.Go(func() error { return mongoClient.Ping(gctx, nil) })
	g.Go(func() error { return redisClient.Ping(gctx).Err() })
	err = g.Wait()
	cancel()
	if err != nil {
		logger.Fatal("Failed to reach datastores", zap.Error(err))
	}
	logger.Info("✓ MongoDB and Redis connected")

	mongoDB := mongoClient.Database(cfg.MongoDB.Database)

	profileRepo := repository.NewCachedProfileRepository(
		repository.NewMongoProfileRepository(mongoDB),
		repository.NewRedisCacheRepository(redisClient),
	)

	notifier, err := mailer.NewNotifier(mailer.Config{
		ServerToken:  cfg.Email.PostmarkServerToken,
		AccountToken: cfg.Email.PostmarkAccountToken,
		From:         cfg.Email.From,
		ReplyTo:      cfg.Email.ReplyTo,
		ProductName:  cfg.Email.ProductName,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize mailer", zap.Error(err))
	}

	gateway, err := service.NewBillingGateway(cfg.Billing.SimulatorEnabled, paddle.Config{
		APIKey:        cfg.Billing.PaddleAPIKey,
		WebhookSecret: cfg.Billing.PaddleWebhookSecret,
		Environment:   cfg.Billing.PaddleEnvironment,
		PriceIDs:      cfg.Billing.PriceIDs(),
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize billing gateway", zap.Error(err))
	}

	pricing := cfg.PriceTable()
	clock := domain.SystemClock{}

	var simulator *service.MockSubscriptionStore
	if cfg.Billing.SimulatorEnabled {
		simulator = service.NewMockSubscriptionStore(pricing, clock, logger)
		logger.Warn("Billing simulator enabled, subscriptions are held in memory only")
	}

	billing := service.NewBillingService(service.BillingDeps{
		Simulator: simulator,
		Gateway:   gateway,
		Profiles:  profileRepo,
		Notifier:  notifier,
		Pricing:   pricing,
		PriceIDs:  cfg.Billing.PriceIDs(),
		Clock:     clock,
		Logger:    logger,
	})

	app := server.NewApp(server.AppDependencies{
		Config:      cfg,
		Billing:     billing,
		RedisClient: redisClient,
		AuthClient:  authClient,
		Logger:      logger,
	})

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		logger.Info("Shutting down gracefully...")
		if err := app.ShutdownWithTimeout(cfg.Server.ShutdownTimeout); err != nil {
			logger.Error("HTTP shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("🚀 Server starting", zap.String("port", cfg.Server.Port))
	if err := app.Listen(":" + cfg.Server.Port); err != nil {
		logger.Error("Server stopped", zap.Error(err))
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	if err := billing.Close(shutdownCtx); err != nil {
		logger.Error("Pending billing side effects did not finish", zap.Error(err))
	}
	if otelProvider != nil {
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			logger.Error("Failed to flush telemetry", zap.Error(err))
		}
	}
	if err := redisClient.Close(); err != nil {
		logger.Error("Error closing Redis", zap.Error(err))
	}
	if err := mongoClient.Disconnect(shutdownCtx); err != nil {
		logger.Error("Error disconnecting from MongoDB", zap.Error(err))
	}
}
