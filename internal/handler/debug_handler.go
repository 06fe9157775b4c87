package handler

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/mansoorceksport/paywall/internal/domain"
	"github.com/mansoorceksport/paywall/internal/middleware"
	"github.com/mansoorceksport/paywall/internal/service"
	"go.uber.org/zap"
)

// DebugHandler exposes the subscription simulator to operators
type DebugHandler struct {
	billing *service.BillingService
	logger  *zap.Logger
}

// NewDebugHandler creates a new DebugHandler
func NewDebugHandler(billing *service.BillingService, logger *zap.Logger) *DebugHandler {
	return &DebugHandler{
		billing: billing,
		logger:  logger,
	}
}

// CreateSubscriptionRequest represents the request body for a simulated subscription
type CreateSubscriptionRequest struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Plan   string `json:"plan"`
}

// List handles GET /v1/debug/subscriptions
func (h *DebugHandler) List(c *fiber.Ctx) error {
	subs, err := h.billing.ListSubscriptions()
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    subs,
		"count":   len(subs),
	})
}

// Create handles POST /v1/debug/subscriptions
func (h *DebugHandler) Create(c *fiber.Ctx) error {
	var req CreateSubscriptionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "invalid request body",
		})
	}

	planName := strings.ToLower(strings.TrimSpace(req.Plan))
	if planName == "" {
		planName = string(domain.PlanMonthly)
	}
	plan, err := domain.ParsePlan(planName)
	if err != nil {
		return errorResponse(c, err)
	}

	sub, err := h.billing.CreateSubscription(c.UserContext(), req.UserID, req.Email, plan)
	if err != nil {
		return errorResponse(c, err)
	}

	h.logger.Info("[Debug] subscription created",
		zap.String("operator", middleware.GetOperator(c)),
		zap.String("user_id", sub.UserID),
	)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data":    sub,
	})
}

// Delete handles DELETE /v1/debug/subscriptions/:userId
func (h *DebugHandler) Delete(c *fiber.Ctx) error {
	userID := c.Params("userId")
	deleted, err := h.billing.DeleteSubscription(c.UserContext(), userID)
	if err != nil {
		return errorResponse(c, err)
	}

	h.logger.Info("[Debug] subscription delete",
		zap.String("operator", middleware.GetOperator(c)),
		zap.String("user_id", userID),
		zap.Bool("deleted", deleted),
	)
	return c.JSON(fiber.Map{
		"success": true,
		"deleted": deleted,
	})
}

// MarkPastDue handles POST /v1/debug/subscriptions/:userId/past-due
func (h *DebugHandler) MarkPastDue(c *fiber.Ctx) error {
	sub, err := h.billing.MarkPastDue(c.UserContext(), c.Params("userId"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    sub,
	})
}
