package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	CorrelationIDHeader = "X-Correlation-ID"
	ReplayHeader        = "X-Idempotent-Replay"
)

// IdempotencyMiddleware provides idempotency for mutating requests using X-Correlation-ID.
// A successful response is replayed for the same user, route and correlation ID within the TTL.
func IdempotencyMiddleware(redisClient *redis.Client, ttl time.Duration, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost && c.Method() != fiber.MethodPatch && c.Method() != fiber.MethodPut {
			return c.Next()
		}

		correlationID := c.Get(CorrelationIDHeader)
		if correlationID == "" {
			return c.Next()
		}

		key := fmt.Sprintf("idempotency:%s:%s:%s:%s", GetUserID(c), c.Method(), c.Path(), correlationID)
		ctx := c.UserContext()

		cached, err := redisClient.Get(ctx, key).Bytes()
		if err == nil && len(cached) > 0 {
			c.Set(ReplayHeader, "true")
			c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
			return c.Send(cached)
		}

		if err := c.Next(); err != nil {
			return err
		}

		statusCode := c.Response().StatusCode()
		if statusCode >= 200 && statusCode < 300 {
			// fasthttp reuses the response buffer
			body := append([]byte(nil), c.Response().Body()...)
			if len(body) > 0 {
				setCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
				defer cancel()
				if err := redisClient.Set(setCtx, key, body, ttl).Err(); err != nil {
					logger.Warn("[Idempotency] failed to cache response",
						zap.String("correlation_id", correlationID),
						zap.Error(err),
					)
				}
			}
		}

		return nil
	}
}
