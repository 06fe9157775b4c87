package service

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/mansoorceksport/paywall/internal/domain"
	"github.com/mansoorceksport/paywall/internal/infrastructure/paddle"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

const mockLinkLifetime = 30 * time.Minute

// MockGateway is a BillingGateway for development. It builds links locally
// and accepts Paddle-shaped webhook payloads without signature checks.
type MockGateway struct {
	plansByPrice map[string]domain.Plan
	clock        domain.Clock
}

// NewMockGateway creates a MockGateway resolving price ids through priceIDs.
func NewMockGateway(priceIDs map[domain.Plan]string, clock domain.Clock) *MockGateway {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &MockGateway{
		plansByPrice: paddle.PlansByPrice(priceIDs),
		clock:        clock,
	}
}

// NewBillingGateway returns the Paddle gateway, or the mock gateway when the
// simulator is enabled.
func NewBillingGateway(useMock bool, cfg paddle.Config, logger *zap.Logger) (domain.BillingGateway, error) {
	if useMock {
		logger.Info("[Billing] Using mock billing gateway (simulator enabled)")
		return NewMockGateway(cfg.PriceIDs, nil), nil
	}

	client, err := paddle.NewClient(cfg, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("[Billing] Using Paddle billing gateway", zap.String("environment", cfg.Environment))
	return client, nil
}

// CreateCheckout returns a session that lands directly on the success URL.
func (g *MockGateway) CreateCheckout(_ context.Context, req domain.CheckoutRequest) (*domain.CheckoutSession, error) {
	sessionID := "cs_mock_" + ulid.Make().String()

	link, err := withQuery(req.SuccessURL, url.Values{
		"session_id": {sessionID},
		"plan":       {string(req.Plan)},
	})
	if err != nil {
		return nil, err
	}

	return &domain.CheckoutSession{
		SessionID: sessionID,
		URL:       link,
		ExpiresAt: g.clock.Now().Add(mockLinkLifetime),
	}, nil
}

// CreatePortal returns the return URL marked as a mock portal visit.
func (g *MockGateway) CreatePortal(_ context.Context, customerID, subscriptionID, returnURL string) (*domain.PortalSession, error) {
	if customerID == "" {
		return nil, fmt.Errorf("%w: customer id is required", domain.ErrInvalidArgument)
	}

	link, err := withQuery(returnURL, url.Values{
		"mock_portal":     {"1"},
		"customer_id":     {customerID},
		"subscription_id": {subscriptionID},
	})
	if err != nil {
		return nil, err
	}

	return &domain.PortalSession{
		URL:       link,
		ExpiresAt: g.clock.Now().Add(mockLinkLifetime),
	}, nil
}

// ParseWebhook normalizes the payload. The signature is ignored.
func (g *MockGateway) ParseWebhook(_ context.Context, payload []byte, _ string) (*domain.WebhookEvent, error) {
	return paddle.ParseEvent(payload, g.plansByPrice)
}

func withQuery(raw string, params url.Values) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("%w: redirect url is required", domain.ErrInvalidArgument)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: invalid redirect url %q", domain.ErrInvalidArgument, raw)
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			if v != "" {
				q.Add(k, v)
			}
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
