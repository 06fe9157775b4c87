package paddle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
	"github.com/mansoorceksport/paywall/internal/domain"
	"go.uber.org/zap"
)

const (
	// SignatureHeader carries the Paddle webhook signature.
	SignatureHeader = "Paddle-Signature"

	// Paddle checkout links and portal sessions are valid for about a day.
	linkLifetime = 24 * time.Hour
)

// Config holds Paddle API configuration
type Config struct {
	APIKey        string
	WebhookSecret string
	Environment   string // "sandbox" or "production"
	PriceIDs      map[domain.Plan]string
}

// Client is the Paddle Billing gateway
type Client struct {
	sdk          *paddle.SDK
	verifier     *paddle.WebhookVerifier
	plansByPrice map[string]domain.Plan
	logger       *zap.Logger
}

// NewClient creates a Paddle gateway for the configured environment.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("paddle API key is required")
	}
	if cfg.WebhookSecret == "" {
		return nil, errors.New("paddle webhook secret is required")
	}

	var (
		sdk *paddle.SDK
		err error
	)
	switch strings.ToLower(cfg.Environment) {
	case "sandbox":
		sdk, err = paddle.NewSandbox(cfg.APIKey)
	case "production", "":
		sdk, err = paddle.New(cfg.APIKey)
	default:
		return nil, fmt.Errorf("invalid paddle environment: %s", cfg.Environment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		sdk:          sdk,
		verifier:     paddle.NewWebhookVerifier(cfg.WebhookSecret),
		plansByPrice: PlansByPrice(cfg.PriceIDs),
		logger:       logger.Named("paddle"),
	}, nil
}

// PlansByPrice inverts a plan to price id mapping.
func PlansByPrice(priceIDs map[domain.Plan]string) map[string]domain.Plan {
	out := make(map[string]domain.Plan, len(priceIDs))
	for plan, id := range priceIDs {
		if id != "" {
			out[id] = plan
		}
	}
	return out
}

// CreateCheckout creates a transaction for the plan's catalog price and
// returns its hosted checkout link.
func (c *Client) CreateCheckout(ctx context.Context, req domain.CheckoutRequest) (*domain.CheckoutSession, error) {
	if req.PriceID == "" {
		return nil, fmt.Errorf("%w: price id is required", domain.ErrInvalidArgument)
	}

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  req.PriceID,
		Quantity: 1,
	})

	txReq := &paddle.CreateTransactionRequest{
		Items: []paddle.CreateTransactionItems{*item},
		CustomData: paddle.CustomData{
			customDataUserID: req.UserID,
			customDataPlan:   string(req.Plan),
		},
	}
	if req.Email != "" {
		txReq.CustomData[customDataEmail] = req.Email
	}
	if req.SuccessURL != "" {
		txReq.Checkout = &paddle.TransactionCheckout{
			URL: paddle.PtrTo(req.SuccessURL),
		}
	}

	tx, err := c.sdk.TransactionsClient.CreateTransaction(ctx, txReq)
	if err != nil {
		c.logger.Error("[Paddle] create transaction failed",
			zap.String("user_id", req.UserID),
			zap.String("price_id", req.PriceID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: create transaction: %w", domain.ErrProvider, err)
	}
	if tx.Checkout == nil || tx.Checkout.URL == nil {
		return nil, fmt.Errorf("%w: no checkout url returned", domain.ErrProvider)
	}

	return &domain.CheckoutSession{
		SessionID: tx.ID,
		URL:       *tx.Checkout.URL,
		ExpiresAt: time.Now().UTC().Add(linkLifetime),
	}, nil
}

// CreatePortal opens a customer portal session. The subscription's
// management page is preferred over the general overview when available.
func (c *Client) CreatePortal(ctx context.Context, customerID, subscriptionID, _ string) (*domain.PortalSession, error) {
	if customerID == "" {
		return nil, fmt.Errorf("%w: customer id is required", domain.ErrInvalidArgument)
	}

	req := &paddle.CreateCustomerPortalSessionRequest{
		CustomerID: customerID,
	}
	if subscriptionID != "" {
		req.SubscriptionIDs = []string{subscriptionID}
	}

	session, err := c.sdk.CustomerPortalSessionsClient.CreateCustomerPortalSession(ctx, req)
	if err != nil {
		c.logger.Error("[Paddle] create portal session failed",
			zap.String("customer_id", customerID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: create portal session: %w", domain.ErrProvider, err)
	}

	url := session.URLs.General.Overview
	for _, sub := range session.URLs.Subscriptions {
		if sub.ID == subscriptionID && sub.CancelSubscription != "" {
			url = sub.CancelSubscription
			break
		}
	}
	if url == "" {
		return nil, fmt.Errorf("%w: no portal url returned", domain.ErrProvider)
	}

	return &domain.PortalSession{
		URL:       url,
		ExpiresAt: time.Now().UTC().Add(linkLifetime),
	}, nil
}

// ParseWebhook verifies the Paddle-Signature of a delivery and normalizes it.
func (c *Client) ParseWebhook(ctx context.Context, payload []byte, signature string) (*domain.WebhookEvent, error) {
	if signature == "" {
		return nil, fmt.Errorf("%w: missing %s header", domain.ErrWebhookRejected, SignatureHeader)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "/webhook", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request for verification: %w", err)
	}
	req.Header.Set(SignatureHeader, signature)

	valid, err := c.verifier.Verify(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrWebhookRejected, err)
	}
	if !valid {
		return nil, fmt.Errorf("%w: signature verification failed", domain.ErrWebhookRejected)
	}

	return ParseEvent(payload, c.plansByPrice)
}
