package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/mansoorceksport/paywall/internal/infrastructure/paddle"
	"github.com/mansoorceksport/paywall/internal/service"
	"go.uber.org/zap"
)

// WebhookHandler handles payment provider webhooks
type WebhookHandler struct {
	billing *service.BillingService
	logger  *zap.Logger
}

// NewWebhookHandler creates a new WebhookHandler
func NewWebhookHandler(billing *service.BillingService, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		billing: billing,
		logger:  logger,
	}
}

// PaddleWebhook handles POST /v1/billing/webhook
// This is a public endpoint - the payload is authenticated by its signature
func (h *WebhookHandler) PaddleWebhook(c *fiber.Ctx) error {
	payload := append([]byte(nil), c.Body()...)
	signature := c.Get(paddle.SignatureHeader)

	event, err := h.billing.HandleWebhook(c.UserContext(), payload, signature)
	if err != nil {
		h.logger.Warn("[Webhook] delivery failed",
			zap.Int("payload_bytes", len(payload)),
			zap.Error(err),
		)
		return errorResponse(c, err)
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"event_id":   event.ID,
		"event_type": event.Type,
	})
}
