package domain

import (
	"context"
	"time"
)

// CheckoutRequest contains the data a gateway needs to open a hosted checkout.
type CheckoutRequest struct {
	UserID     string
	Email      string
	Plan       Plan
	PriceID    string // provider price identifier for Plan
	SuccessURL string
	CancelURL  string
}

// CheckoutSession is a hosted checkout the client is redirected to.
type CheckoutSession struct {
	SessionID string    `json:"session_id"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PortalSession is a pre-authenticated link to the provider's billing portal.
type PortalSession struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// EventType is the normalized webhook event type.
type EventType string

const (
	EventSubscriptionCreated   EventType = "subscription_created"
	EventSubscriptionUpdated   EventType = "subscription_updated"
	EventSubscriptionCancelled EventType = "subscription_cancelled"
	EventSubscriptionResumed   EventType = "subscription_resumed"
	EventPaymentSucceeded      EventType = "payment_succeeded"
	EventPaymentFailed         EventType = "payment_failed"
)

// WebhookEvent is a provider event normalized for this service.
type WebhookEvent struct {
	ID                string
	Type              EventType
	ProviderEvent     string
	UserID            string // from the checkout's custom data
	Email             string
	CustomerID        string
	SubscriptionID    string
	Status            SubscriptionStatus
	Plan              Plan // empty when the price id is unknown
	CurrentPeriodEnd  *time.Time
	CancelAtPeriodEnd bool
}

// BillingGateway is the payments provider.
type BillingGateway interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	// CreatePortal opens a billing-portal session for the provider customer.
	CreatePortal(ctx context.Context, customerID, subscriptionID, returnURL string) (*PortalSession, error)
	// ParseWebhook validates and normalizes a raw webhook delivery.
	ParseWebhook(ctx context.Context, payload []byte, signature string) (*WebhookEvent, error)
}

// PurchaseConfirmation is the content of the message sent after a first checkout.
type PurchaseConfirmation struct {
	UserID           string
	Email            string
	Plan             Plan
	Amount           Money
	CurrentPeriodEnd time.Time
}

// Notifier sends user-facing billing messages.
type Notifier interface {
	SendPurchaseConfirmation(ctx context.Context, msg PurchaseConfirmation) error
}
