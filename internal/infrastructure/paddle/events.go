package paddle

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mansoorceksport/paywall/internal/domain"
)

// Custom data keys attached to every checkout so webhooks can be tied back to a user.
const (
	customDataUserID = "user_id"
	customDataEmail  = "email"
	customDataPlan   = "plan"
)

type notification struct {
	EventID    string           `json:"event_id"`
	EventType  string           `json:"event_type"`
	OccurredAt time.Time        `json:"occurred_at"`
	Data       notificationData `json:"data"`
}

type notificationData struct {
	ID             string         `json:"id"`
	Status         string         `json:"status"`
	CustomerID     string         `json:"customer_id"`
	SubscriptionID string         `json:"subscription_id"`
	CustomData     map[string]any `json:"custom_data"`
	Items          []struct {
		PriceID string `json:"price_id"`
		Price   *struct {
			ID string `json:"id"`
		} `json:"price"`
	} `json:"items"`
	CurrentBillingPeriod *struct {
		StartsAt time.Time `json:"starts_at"`
		EndsAt   time.Time `json:"ends_at"`
	} `json:"current_billing_period"`
	ScheduledChange *struct {
		Action      string    `json:"action"`
		EffectiveAt time.Time `json:"effective_at"`
	} `json:"scheduled_change"`
}

// ParseEvent decodes a Paddle notification into a normalized event.
// plansByPrice resolves price ids to plans; the plan in custom data is used
// when the price is not known. The payload signature is not checked here.
func ParseEvent(payload []byte, plansByPrice map[string]domain.Plan) (*domain.WebhookEvent, error) {
	var n notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return nil, fmt.Errorf("%w: malformed payload: %w", domain.ErrWebhookRejected, err)
	}
	if n.EventType == "" {
		return nil, fmt.Errorf("%w: missing event_type", domain.ErrWebhookRejected)
	}

	event := &domain.WebhookEvent{
		ID:            n.EventID,
		Type:          mapEventType(n.EventType),
		ProviderEvent: n.EventType,
		CustomerID:    n.Data.CustomerID,
		UserID:        customString(n.Data.CustomData, customDataUserID),
		Email:         customString(n.Data.CustomData, customDataEmail),
	}

	var priceID string
	switch {
	case strings.HasPrefix(n.EventType, "subscription."):
		event.SubscriptionID = n.Data.ID
		event.Status = mapStatus(n.Data.Status)
		if len(n.Data.Items) > 0 && n.Data.Items[0].Price != nil {
			priceID = n.Data.Items[0].Price.ID
		}
		if n.Data.ScheduledChange != nil && n.Data.ScheduledChange.Action == "cancel" {
			event.CancelAtPeriodEnd = true
		}
	case strings.HasPrefix(n.EventType, "transaction."):
		// transaction statuses (completed, paid) are not subscription statuses
		event.SubscriptionID = n.Data.SubscriptionID
		if len(n.Data.Items) > 0 {
			priceID = n.Data.Items[0].PriceID
			if priceID == "" && n.Data.Items[0].Price != nil {
				priceID = n.Data.Items[0].Price.ID
			}
		}
	}

	if n.Data.CurrentBillingPeriod != nil && !n.Data.CurrentBillingPeriod.EndsAt.IsZero() {
		end := n.Data.CurrentBillingPeriod.EndsAt.UTC()
		event.CurrentPeriodEnd = &end
	}

	if plan, ok := plansByPrice[priceID]; ok && priceID != "" {
		event.Plan = plan
	} else if plan, err := domain.ParsePlan(customString(n.Data.CustomData, customDataPlan)); err == nil {
		event.Plan = plan
	}

	return event, nil
}

func mapEventType(eventType string) domain.EventType {
	switch eventType {
	case "transaction.completed", "subscription.created":
		return domain.EventSubscriptionCreated
	case "subscription.updated":
		return domain.EventSubscriptionUpdated
	case "subscription.canceled":
		return domain.EventSubscriptionCancelled
	case "subscription.resumed":
		return domain.EventSubscriptionResumed
	case "transaction.payment_succeeded":
		return domain.EventPaymentSucceeded
	case "transaction.payment_failed":
		return domain.EventPaymentFailed
	default:
		return domain.EventType(eventType)
	}
}

func mapStatus(status string) domain.SubscriptionStatus {
	switch strings.ToLower(status) {
	case "trialing":
		return domain.StatusTrialing
	case "active":
		return domain.StatusActive
	case "past_due":
		return domain.StatusPastDue
	case "canceled", "cancelled":
		return domain.StatusCancelled
	case "paused", "expired":
		return domain.StatusExpired
	default:
		return domain.SubscriptionStatus(status)
	}
}

func customString(data map[string]any, key string) string {
	if data == nil {
		return ""
	}
	v, _ := data[key].(string)
	return v
}
