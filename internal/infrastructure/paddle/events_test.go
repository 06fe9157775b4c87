package paddle

import (
	"context"
	"testing"
	"time"

	"github.com/mansoorceksport/paywall/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testPlans = map[string]domain.Plan{
	"pri_monthly": domain.PlanMonthly,
	"pri_annual":  domain.PlanAnnual,
}

func TestParseEvent_SubscriptionCreated(t *testing.T) {
	payload := []byte(`{
		"event_id": "evt_01",
		"event_type": "subscription.created",
		"occurred_at": "2024-03-01T12:00:00Z",
		"data": {
			"id": "sub_01",
			"status": "active",
			"customer_id": "ctm_01",
			"custom_data": {"user_id": "u1", "email": "u1@example.com"},
			"items": [{"price": {"id": "pri_annual"}}],
			"current_billing_period": {"starts_at": "2024-03-01T12:00:00Z", "ends_at": "2025-03-01T12:00:00Z"}
		}
	}`)

	event, err := ParseEvent(payload, testPlans)
	require.NoError(t, err)

	assert.Equal(t, "evt_01", event.ID)
	assert.Equal(t, domain.EventSubscriptionCreated, event.Type)
	assert.Equal(t, "subscription.created", event.ProviderEvent)
	assert.Equal(t, "u1", event.UserID)
	assert.Equal(t, "u1@example.com", event.Email)
	assert.Equal(t, "ctm_01", event.CustomerID)
	assert.Equal(t, "sub_01", event.SubscriptionID)
	assert.Equal(t, domain.StatusActive, event.Status)
	assert.Equal(t, domain.PlanAnnual, event.Plan)
	require.NotNil(t, event.CurrentPeriodEnd)
	assert.Equal(t, time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC), *event.CurrentPeriodEnd)
	assert.False(t, event.CancelAtPeriodEnd)
}

func TestParseEvent_ScheduledCancellation(t *testing.T) {
	payload := []byte(`{
		"event_id": "evt_02",
		"event_type": "subscription.updated",
		"data": {
			"id": "sub_01",
			"status": "active",
			"custom_data": {"user_id": "u1"},
			"items": [{"price": {"id": "pri_monthly"}}],
			"scheduled_change": {"action": "cancel", "effective_at": "2024-04-01T00:00:00Z"}
		}
	}`)

	event, err := ParseEvent(payload, testPlans)
	require.NoError(t, err)
	assert.Equal(t, domain.EventSubscriptionUpdated, event.Type)
	assert.True(t, event.CancelAtPeriodEnd)
	assert.Equal(t, domain.PlanMonthly, event.Plan)
}

func TestParseEvent_TransactionUsesCustomPlan(t *testing.T) {
	payload := []byte(`{
		"event_id": "evt_03",
		"event_type": "transaction.completed",
		"data": {
			"id": "txn_01",
			"status": "completed",
			"subscription_id": "sub_02",
			"custom_data": {"user_id": "u2", "plan": "annual"},
			"items": [{"price_id": "pri_unknown"}]
		}
	}`)

	event, err := ParseEvent(payload, testPlans)
	require.NoError(t, err)
	assert.Equal(t, domain.EventSubscriptionCreated, event.Type)
	assert.Equal(t, "sub_02", event.SubscriptionID)
	assert.Empty(t, event.Status)
	assert.Equal(t, domain.PlanAnnual, event.Plan)
}

func TestParseEvent_TypeMapping(t *testing.T) {
	tests := []struct {
		providerEvent string
		expected      domain.EventType
	}{
		{"transaction.completed", domain.EventSubscriptionCreated},
		{"subscription.created", domain.EventSubscriptionCreated},
		{"subscription.updated", domain.EventSubscriptionUpdated},
		{"subscription.canceled", domain.EventSubscriptionCancelled},
		{"subscription.resumed", domain.EventSubscriptionResumed},
		{"transaction.payment_succeeded", domain.EventPaymentSucceeded},
		{"transaction.payment_failed", domain.EventPaymentFailed},
		{"customer.created", domain.EventType("customer.created")},
	}

	for _, tt := range tests {
		t.Run(tt.providerEvent, func(t *testing.T) {
			assert.Equal(t, tt.expected, mapEventType(tt.providerEvent))
		})
	}
}

func TestParseEvent_StatusMapping(t *testing.T) {
	assert.Equal(t, domain.StatusCancelled, mapStatus("canceled"))
	assert.Equal(t, domain.StatusPastDue, mapStatus("past_due"))
	assert.Equal(t, domain.StatusTrialing, mapStatus("TRIALING"))
	assert.Equal(t, domain.StatusExpired, mapStatus("paused"))
}

func TestParseEvent_Rejected(t *testing.T) {
	_, err := ParseEvent([]byte(`not json`), testPlans)
	assert.ErrorIs(t, err, domain.ErrWebhookRejected)

	_, err = ParseEvent([]byte(`{"event_id": "evt_04", "data": {}}`), testPlans)
	assert.ErrorIs(t, err, domain.ErrWebhookRejected)
}

func TestClient_ParseWebhookRejectsBadSignature(t *testing.T) {
	client, err := NewClient(Config{
		APIKey:        "test_key",
		WebhookSecret: "pdl_ntfset_test",
		Environment:   "sandbox",
	}, zap.NewNop())
	require.NoError(t, err)

	payload := []byte(`{"event_id":"evt_05","event_type":"subscription.created","data":{}}`)

	_, err = client.ParseWebhook(context.Background(), payload, "")
	assert.ErrorIs(t, err, domain.ErrWebhookRejected)

	_, err = client.ParseWebhook(context.Background(), payload, "ts=1700000000;h1=deadbeef")
	assert.ErrorIs(t, err, domain.ErrWebhookRejected)
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(Config{WebhookSecret: "s"}, nil)
	assert.Error(t, err)

	_, err = NewClient(Config{APIKey: "k"}, nil)
	assert.Error(t, err)

	_, err = NewClient(Config{APIKey: "k", WebhookSecret: "s", Environment: "staging"}, nil)
	assert.Error(t, err)
}

func TestPlansByPrice(t *testing.T) {
	out := PlansByPrice(map[domain.Plan]string{
		domain.PlanMonthly: "pri_m",
		domain.PlanAnnual:  "",
	})
	assert.Equal(t, map[string]domain.Plan{"pri_m": domain.PlanMonthly}, out)
}
