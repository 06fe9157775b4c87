package handler

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/mansoorceksport/paywall/internal/domain"
	"github.com/mansoorceksport/paywall/internal/middleware"
	"github.com/mansoorceksport/paywall/internal/service"
	"github.com/mansoorceksport/paywall/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// BillingHandler handles the authenticated billing endpoints
type BillingHandler struct {
	billing         *service.BillingService
	portalReturnURL string
	logger          *zap.Logger
}

// NewBillingHandler creates a new BillingHandler
func NewBillingHandler(billing *service.BillingService, portalReturnURL string, logger *zap.Logger) *BillingHandler {
	return &BillingHandler{
		billing:         billing,
		portalReturnURL: portalReturnURL,
		logger:          logger,
	}
}

// CheckoutRequest represents the request body for checkout
type CheckoutRequest struct {
	Plan       string `json:"plan"`
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
}

// PortalRequest represents the request body for a portal session
type PortalRequest struct {
	ReturnURL string `json:"return_url"`
}

// CancelRequest represents the request body for cancellation
type CancelRequest struct {
	AcceptRetentionOffer bool `json:"accept_retention_offer"`
}

// SubscriptionResponse is the subscription plus the entitlement it grants
type SubscriptionResponse struct {
	Subscription *domain.Subscription `json:"subscription"`
	Tier         domain.Tier          `json:"tier"`
}

// PlanResponse describes one purchasable plan
type PlanResponse struct {
	Plan            domain.Plan  `json:"plan"`
	Price           domain.Money `json:"price"`
	DiscountedPrice domain.Money `json:"discounted_price"`
	PeriodDays      int          `json:"period_days"`
}

// ListPlans handles GET /v1/billing/plans
func (h *BillingHandler) ListPlans(c *fiber.Ctx) error {
	prices := h.billing.Pricing().Snapshot()
	plans := make([]PlanResponse, 0, len(prices))
	for _, plan := range domain.Plans() {
		p, ok := prices[plan]
		if !ok {
			continue
		}
		plans = append(plans, PlanResponse{
			Plan:            plan,
			Price:           p.Original,
			DiscountedPrice: p.Discounted,
			PeriodDays:      plan.PeriodDays(),
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    plans,
	})
}

// Checkout handles POST /v1/billing/checkout
func (h *BillingHandler) Checkout(c *fiber.Ctx) error {
	var req CheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "invalid request body",
		})
	}

	plan, err := domain.ParsePlan(strings.ToLower(strings.TrimSpace(req.Plan)))
	if err != nil {
		return errorResponse(c, err)
	}
	telemetry.SetSpanAttribute(c, "billing.plan", string(plan))

	session, err := h.billing.StartCheckout(c.UserContext(), service.CheckoutInput{
		UserID:     middleware.GetUserID(c),
		Email:      middleware.GetUserEmail(c),
		Plan:       plan,
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	})
	if err != nil {
		return errorResponse(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data":    session,
	})
}

// Portal handles POST /v1/billing/portal
func (h *BillingHandler) Portal(c *fiber.Ctx) error {
	var req PortalRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"error":   "invalid request body",
			})
		}
	}
	if req.ReturnURL == "" {
		req.ReturnURL = h.portalReturnURL
	}

	portal, err := h.billing.CreatePortalSession(c.UserContext(), middleware.GetUserID(c), req.ReturnURL)
	if err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    portal,
	})
}

// GetSubscription handles GET /v1/billing/subscription
func (h *BillingHandler) GetSubscription(c *fiber.Ctx) error {
	sub, err := h.billing.GetSubscription(c.UserContext(), middleware.GetUserID(c))
	if err != nil {
		return errorResponse(c, err)
	}
	return h.subscriptionResponse(c, sub)
}

// Cancel handles POST /v1/billing/subscription/cancel
func (h *BillingHandler) Cancel(c *fiber.Ctx) error {
	var req CancelRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"error":   "invalid request body",
			})
		}
	}
	telemetry.AddSpanEvent(c, "billing.cancel", attribute.Bool("accept_retention_offer", req.AcceptRetentionOffer))

	sub, err := h.billing.Cancel(c.UserContext(), middleware.GetUserID(c), req.AcceptRetentionOffer)
	if err != nil {
		return errorResponse(c, err)
	}
	return h.subscriptionResponse(c, sub)
}

// ApplyRetentionDiscount handles POST /v1/billing/subscription/retention-discount
func (h *BillingHandler) ApplyRetentionDiscount(c *fiber.Ctx) error {
	sub, err := h.billing.ApplyRetentionDiscount(c.UserContext(), middleware.GetUserID(c))
	if err != nil {
		return errorResponse(c, err)
	}
	return h.subscriptionResponse(c, sub)
}

// Restore handles POST /v1/billing/subscription/restore
func (h *BillingHandler) Restore(c *fiber.Ctx) error {
	sub, err := h.billing.Restore(c.UserContext(), middleware.GetUserID(c))
	if err != nil {
		return errorResponse(c, err)
	}
	return h.subscriptionResponse(c, sub)
}

// Upgrade handles POST /v1/billing/subscription/upgrade
func (h *BillingHandler) Upgrade(c *fiber.Ctx) error {
	sub, err := h.billing.UpgradeToAnnual(c.UserContext(), middleware.GetUserID(c))
	if err != nil {
		return errorResponse(c, err)
	}
	return h.subscriptionResponse(c, sub)
}

func (h *BillingHandler) subscriptionResponse(c *fiber.Ctx, sub *domain.Subscription) error {
	return c.JSON(fiber.Map{
		"success": true,
		"data": SubscriptionResponse{
			Subscription: sub,
			Tier:         h.billing.TierOf(sub),
		},
	})
}
