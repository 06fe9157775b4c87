package server

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/mansoorceksport/paywall/internal/config"
	"github.com/mansoorceksport/paywall/internal/domain"
	"github.com/mansoorceksport/paywall/internal/handler"
	"github.com/mansoorceksport/paywall/internal/middleware"
	"github.com/mansoorceksport/paywall/internal/service"
	"github.com/mansoorceksport/paywall/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// AppDependencies holds the dependencies required to start the application
type AppDependencies struct {
	Config      *config.Config
	Billing     *service.BillingService
	RedisClient *redis.Client
	AuthClient  middleware.TokenVerifier
	Logger      *zap.Logger
}

// NewApp creates and configures the Fiber application with the given dependencies
func NewApp(deps AppDependencies) *fiber.App {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	billingHandler := handler.NewBillingHandler(deps.Billing, deps.Config.Billing.PortalReturnURL, logger)
	webhookHandler := handler.NewWebhookHandler(deps.Billing, logger)

	app := fiber.New(fiber.Config{
		AppName:      "Paywall Billing API",
		ErrorHandler: customErrorHandler(logger),
	})

	app.Use(recover.New())
	if deps.Config.OTEL.Enabled {
		app.Use(telemetry.FiberMiddleware())
	}
	app.Use(middleware.RequestLogger(logger.Named("http")))
	app.Use(cors.New(cors.Config{
		AllowOrigins: deps.Config.Server.AllowedOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Correlation-ID",
		AllowMethods: "GET, POST, DELETE, OPTIONS",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":    "healthy",
			"service":   "paywall",
			"simulator": deps.Billing.SimulatorEnabled(),
		})
	})

	v1 := app.Group("/v1")

	billing := v1.Group("/billing")
	billing.Get("/plans", billingHandler.ListPlans)
	// Public: authenticated by the provider signature
	billing.Post("/webhook", webhookHandler.PaddleWebhook)

	requireUser := middleware.FirebaseAuth(deps.AuthClient)
	idempotent := middleware.IdempotencyMiddleware(deps.RedisClient, deps.Config.Server.IdempotencyTTL, logger)

	billing.Post("/checkout", requireUser, idempotent, billingHandler.Checkout)
	billing.Post("/portal", requireUser, idempotent, billingHandler.Portal)
	billing.Get("/subscription", requireUser, billingHandler.GetSubscription)
	billing.Post("/subscription/cancel", requireUser, idempotent, billingHandler.Cancel)
	billing.Post("/subscription/retention-discount", requireUser, idempotent, billingHandler.ApplyRetentionDiscount)
	billing.Post("/subscription/restore", requireUser, idempotent, billingHandler.Restore)
	billing.Post("/subscription/upgrade", requireUser, idempotent, billingHandler.Upgrade)

	if deps.Billing.SimulatorEnabled() {
		if deps.Config.Debug.JWTSecret == "" {
			logger.Warn("[Server] DEBUG_JWT_SECRET not set, simulator tooling endpoints disabled")
		} else {
			debugHandler := handler.NewDebugHandler(deps.Billing, logger)

			debug := v1.Group("/debug")
			debug.Use(middleware.VerifyDebugToken(deps.Config.Debug.JWTSecret))
			debug.Use(middleware.AuthorizeRole(domain.RoleDebug))

			subs := debug.Group("/subscriptions")
			subs.Get("/", debugHandler.List)
			subs.Post("/", debugHandler.Create)
			subs.Delete("/:userId", debugHandler.Delete)
			subs.Post("/:userId/past-due", debugHandler.MarkPastDue)
		}
	}

	return app
}

func customErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
		}
		if code >= fiber.StatusInternalServerError {
			logger.Error("[Server] unhandled error", zap.String("path", c.Path()), zap.Error(err))
		}
		return c.Status(code).JSON(fiber.Map{
			"success": false,
			"error":   err.Error(),
		})
	}
}
