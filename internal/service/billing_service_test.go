package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mansoorceksport/paywall/internal/domain"
	"github.com/mansoorceksport/paywall/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type billingFixture struct {
	svc      *BillingService
	store    *MockSubscriptionStore
	profiles *testutil.MemoryProfiles
	notifier *testutil.RecordingNotifier
	clock    *domain.FixedClock
}

func newSimulatedBilling(t *testing.T) *billingFixture {
	t.Helper()
	clock := &domain.FixedClock{T: testNow}
	pricing := domain.DefaultPriceTable()
	store := NewMockSubscriptionStore(pricing, clock, zap.NewNop())
	profiles := testutil.NewMemoryProfiles()
	notifier := &testutil.RecordingNotifier{}

	svc := NewBillingService(BillingDeps{
		Simulator: store,
		Gateway:   NewMockGateway(nil, clock),
		Profiles:  profiles,
		Notifier:  notifier,
		Pricing:   pricing,
		Clock:     clock,
		Logger:    zap.NewNop(),
	})
	return &billingFixture{svc: svc, store: store, profiles: profiles, notifier: notifier, clock: clock}
}

// drain waits for background side effects. The service accepts none afterwards.
func (f *billingFixture) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.svc.Close(ctx))
}

// stubGateway returns a canned webhook event.
type stubGateway struct {
	event      *domain.WebhookEvent
	portalURL  string
	checkouts  []domain.CheckoutRequest
	portalArgs []string
}

func (g *stubGateway) CreateCheckout(_ context.Context, req domain.CheckoutRequest) (*domain.CheckoutSession, error) {
	g.checkouts = append(g.checkouts, req)
	return &domain.CheckoutSession{SessionID: "txn_1", URL: "https://pay.example.com/txn_1"}, nil
}

func (g *stubGateway) CreatePortal(_ context.Context, customerID, subscriptionID, _ string) (*domain.PortalSession, error) {
	g.portalArgs = []string{customerID, subscriptionID}
	return &domain.PortalSession{URL: g.portalURL}, nil
}

func (g *stubGateway) ParseWebhook(_ context.Context, _ []byte, signature string) (*domain.WebhookEvent, error) {
	if signature == "" {
		return nil, domain.ErrWebhookRejected
	}
	return g.event, nil
}

func newProviderBilling(t *testing.T, gateway *stubGateway) (*BillingService, *testutil.MemoryProfiles, *testutil.RecordingNotifier) {
	t.Helper()
	profiles := testutil.NewMemoryProfiles()
	notifier := &testutil.RecordingNotifier{}
	svc := NewBillingService(BillingDeps{
		Gateway:  gateway,
		Profiles: profiles,
		Notifier: notifier,
		Pricing:  domain.DefaultPriceTable(),
		PriceIDs: map[domain.Plan]string{domain.PlanMonthly: "pri_m", domain.PlanAnnual: "pri_a"},
		Clock:    &domain.FixedClock{T: testNow},
		Logger:   zap.NewNop(),
	})
	return svc, profiles, notifier
}

func TestBillingService_CheckoutCreatesSimulatedSubscription(t *testing.T) {
	f := newSimulatedBilling(t)
	ctx := context.Background()

	session, err := f.svc.StartCheckout(ctx, CheckoutInput{
		UserID:     "u1",
		Email:      "u1@example.com",
		Plan:       domain.PlanMonthly,
		SuccessURL: "https://app.example.com/billing/success",
	})
	require.NoError(t, err)
	assert.Contains(t, session.URL, "session_id="+session.SessionID)
	assert.Contains(t, session.URL, "plan=monthly")

	sub, err := f.svc.GetSubscription(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, domain.Money(999), sub.CurrentPrice)
	assert.Equal(t, domain.TierPremium, f.svc.TierOf(sub))

	// a second checkout for the same plan sends no second confirmation
	_, err = f.svc.StartCheckout(ctx, CheckoutInput{
		UserID:     "u1",
		Email:      "u1@example.com",
		Plan:       domain.PlanMonthly,
		SuccessURL: "https://app.example.com/billing/success",
	})
	require.NoError(t, err)

	f.drain(t)

	profile, err := f.profiles.GetByUserID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.TierPremium, profile.Tier)
	assert.Equal(t, "cus_mock_u1", profile.CustomerID)
	assert.Equal(t, "u1@example.com", profile.Email)

	sent := f.notifier.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, domain.Money(999), sent[0].Amount)
	assert.Equal(t, testNow.AddDate(0, 0, 30), sent[0].CurrentPeriodEnd)
}

func TestBillingService_CheckoutValidation(t *testing.T) {
	f := newSimulatedBilling(t)
	ctx := context.Background()

	_, err := f.svc.StartCheckout(ctx, CheckoutInput{UserID: "u1", Plan: "weekly", SuccessURL: "https://x"})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = f.svc.StartCheckout(ctx, CheckoutInput{UserID: "u1", Plan: domain.PlanMonthly})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = f.svc.StartCheckout(ctx, CheckoutInput{UserID: " ", Plan: domain.PlanMonthly, SuccessURL: "https://x"})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	sub, err := f.svc.GetSubscription(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, sub)
}

func TestBillingService_LifecycleSyncsProfile(t *testing.T) {
	f := newSimulatedBilling(t)
	ctx := context.Background()

	_, err := f.svc.CreateSubscription(ctx, "u1", "", domain.PlanMonthly)
	require.NoError(t, err)

	sub, err := f.svc.Cancel(ctx, "u1", false)
	require.NoError(t, err)
	assert.True(t, sub.CancelAtPeriodEnd)

	sub, err = f.svc.Cancel(ctx, "u1", true)
	require.NoError(t, err)
	assert.False(t, sub.CancelAtPeriodEnd)
	assert.Equal(t, domain.Money(699), sub.CurrentPrice)

	sub, err = f.svc.UpgradeToAnnual(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.Money(6999), sub.CurrentPrice)

	sub, err = f.svc.MarkPastDue(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPastDue, sub.Status)

	sub, err = f.svc.Restore(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, sub.Status)

	_, err = f.svc.ApplyRetentionDiscount(ctx, "nobody")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	f.drain(t)

	profile, err := f.profiles.GetByUserID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.TierPremium, profile.Tier)
	assert.Equal(t, domain.PlanAnnual, profile.Plan)
	assert.Equal(t, domain.StatusActive, profile.Status)
	assert.Empty(t, f.notifier.Sent(), "no email on file")
}

func TestBillingService_DeleteDowngradesProfile(t *testing.T) {
	f := newSimulatedBilling(t)
	ctx := context.Background()

	_, err := f.svc.CreateSubscription(ctx, "u1", "u1@example.com", domain.PlanAnnual)
	require.NoError(t, err)

	existed, err := f.svc.DeleteSubscription(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = f.svc.DeleteSubscription(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, existed)

	subs, err := f.svc.ListSubscriptions()
	require.NoError(t, err)
	assert.Empty(t, subs)

	f.drain(t)

	profile, err := f.profiles.GetByUserID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.TierFree, profile.Tier)
	assert.Equal(t, domain.StatusCancelled, profile.Status)
}

func TestBillingService_PortalSession(t *testing.T) {
	f := newSimulatedBilling(t)
	ctx := context.Background()

	_, err := f.svc.CreatePortalSession(ctx, "u1", "https://app.example.com/account")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	sub, err := f.svc.CreateSubscription(ctx, "u1", "", domain.PlanMonthly)
	require.NoError(t, err)

	portal, err := f.svc.CreatePortalSession(ctx, "u1", "https://app.example.com/account")
	require.NoError(t, err)
	assert.Contains(t, portal.URL, "mock_portal=1")
	assert.Contains(t, portal.URL, "customer_id=cus_mock_u1")
	assert.Contains(t, portal.URL, "subscription_id="+sub.SubscriptionID)
	f.drain(t)
}

func TestBillingService_SimulatedWebhooks(t *testing.T) {
	f := newSimulatedBilling(t)
	ctx := context.Background()

	created := []byte(`{
		"event_id": "evt_1",
		"event_type": "subscription.created",
		"data": {"id": "sub_x", "status": "active", "custom_data": {"user_id": "u1", "email": "u1@example.com", "plan": "annual"}}
	}`)
	event, err := f.svc.HandleWebhook(ctx, created, "")
	require.NoError(t, err)
	assert.Equal(t, domain.EventSubscriptionCreated, event.Type)

	// the profile write is synchronous
	assert.Equal(t, 1, f.profiles.Updates())

	sub, err := f.svc.GetSubscription(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, domain.PlanAnnual, sub.Plan)

	cancelled := []byte(`{"event_id": "evt_2", "event_type": "subscription.canceled", "data": {"custom_data": {"user_id": "u1"}}}`)
	_, err = f.svc.HandleWebhook(ctx, cancelled, "")
	require.NoError(t, err)
	sub, _ = f.svc.GetSubscription(ctx, "u1")
	assert.True(t, sub.CancelAtPeriodEnd)

	failed := []byte(`{"event_id": "evt_3", "event_type": "transaction.payment_failed", "data": {"custom_data": {"user_id": "u1"}}}`)
	_, err = f.svc.HandleWebhook(ctx, failed, "")
	require.NoError(t, err)
	sub, _ = f.svc.GetSubscription(ctx, "u1")
	assert.Equal(t, domain.StatusPastDue, sub.Status)

	resumed := []byte(`{"event_id": "evt_4", "event_type": "subscription.resumed", "data": {"custom_data": {"user_id": "u1"}}}`)
	_, err = f.svc.HandleWebhook(ctx, resumed, "")
	require.NoError(t, err)
	sub, _ = f.svc.GetSubscription(ctx, "u1")
	assert.Equal(t, domain.StatusActive, sub.Status)
	assert.False(t, sub.CancelAtPeriodEnd)

	// unknown user and missing user id are acknowledged without changes
	unknown := []byte(`{"event_id": "evt_5", "event_type": "subscription.canceled", "data": {"custom_data": {"user_id": "ghost"}}}`)
	_, err = f.svc.HandleWebhook(ctx, unknown, "")
	require.NoError(t, err)
	anonymous := []byte(`{"event_id": "evt_6", "event_type": "subscription.canceled", "data": {}}`)
	_, err = f.svc.HandleWebhook(ctx, anonymous, "")
	require.NoError(t, err)
	assert.Equal(t, 4, f.profiles.Updates())

	_, err = f.svc.HandleWebhook(ctx, []byte(`{`), "")
	assert.ErrorIs(t, err, domain.ErrWebhookRejected)

	f.drain(t)

	sent := f.notifier.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, domain.Money(9999), sent[0].Amount)
}

func TestBillingService_ProviderMode(t *testing.T) {
	end := testNow.AddDate(0, 1, 0)
	gateway := &stubGateway{portalURL: "https://portal.example.com/s"}
	svc, profiles, notifier := newProviderBilling(t, gateway)
	ctx := context.Background()

	assert.False(t, svc.SimulatorEnabled())

	_, err := svc.Cancel(ctx, "u1", false)
	assert.ErrorIs(t, err, domain.ErrManagedByProvider)
	_, err = svc.UpgradeToAnnual(ctx, "u1")
	assert.ErrorIs(t, err, domain.ErrManagedByProvider)
	_, err = svc.CreateSubscription(ctx, "u1", "", domain.PlanMonthly)
	assert.ErrorIs(t, err, domain.ErrManagedByProvider)
	_, err = svc.ListSubscriptions()
	assert.ErrorIs(t, err, domain.ErrManagedByProvider)

	sub, err := svc.GetSubscription(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, sub)

	_, err = svc.CreatePortalSession(ctx, "u1", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	session, err := svc.StartCheckout(ctx, CheckoutInput{UserID: "u1", Plan: domain.PlanAnnual, SuccessURL: "https://x"})
	require.NoError(t, err)
	assert.Equal(t, "txn_1", session.SessionID)
	require.Len(t, gateway.checkouts, 1)
	assert.Equal(t, "pri_a", gateway.checkouts[0].PriceID)

	gateway.event = &domain.WebhookEvent{
		ID:               "evt_1",
		Type:             domain.EventSubscriptionCreated,
		UserID:           "u1",
		Email:            "u1@example.com",
		CustomerID:       "ctm_1",
		SubscriptionID:   "sub_1",
		Status:           domain.StatusActive,
		Plan:             domain.PlanAnnual,
		CurrentPeriodEnd: &end,
	}
	_, err = svc.HandleWebhook(ctx, []byte(`{}`), "")
	assert.ErrorIs(t, err, domain.ErrWebhookRejected)

	_, err = svc.HandleWebhook(ctx, []byte(`{}`), "ts=1;h1=abc")
	require.NoError(t, err)

	sub, err = svc.GetSubscription(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, "ctm_1", sub.CustomerID)
	assert.Equal(t, domain.PlanAnnual, sub.Plan)
	assert.Equal(t, end, sub.CurrentPeriodEnd)
	assert.Equal(t, domain.TierPremium, svc.TierOf(sub))

	portal, err := svc.CreatePortalSession(ctx, "u1", "")
	require.NoError(t, err)
	assert.Equal(t, "https://portal.example.com/s", portal.URL)
	assert.Equal(t, []string{"ctm_1", "sub_1"}, gateway.portalArgs)

	// store failures surface so the provider redelivers
	profiles.Err = errors.New("mongo down")
	_, err = svc.HandleWebhook(ctx, []byte(`{}`), "ts=1;h1=abc")
	assert.Error(t, err)

	// a redelivered creation sends no second confirmation
	profiles.Err = nil
	_, err = svc.HandleWebhook(ctx, []byte(`{}`), "ts=1;h1=abc")
	require.NoError(t, err)

	require.NoError(t, svc.Close(ctx))
	sent := notifier.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, domain.Money(9999), sent[0].Amount)
	assert.Equal(t, end, sent[0].CurrentPeriodEnd)
}

func TestBillingService_ProviderCancellationDowngrades(t *testing.T) {
	gateway := &stubGateway{}
	svc, profiles, _ := newProviderBilling(t, gateway)
	ctx := context.Background()

	gateway.event = &domain.WebhookEvent{
		ID:     "evt_9",
		Type:   domain.EventSubscriptionCancelled,
		UserID: "u1",
	}
	_, err := svc.HandleWebhook(ctx, []byte(`{}`), "sig")
	require.NoError(t, err)

	profile, err := profiles.GetByUserID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.TierFree, profile.Tier)
	assert.Equal(t, domain.StatusCancelled, profile.Status)
}

func TestBillingService_CloseDropsLateSideEffects(t *testing.T) {
	f := newSimulatedBilling(t)
	ctx := context.Background()

	f.drain(t)

	sub, err := f.svc.CreateSubscription(ctx, "u1", "u1@example.com", domain.PlanMonthly)
	require.NoError(t, err)
	assert.NotNil(t, sub)
	assert.Zero(t, f.profiles.Updates())
	assert.Empty(t, f.notifier.Sent())
}

func TestBillingService_DispatchDropsWhenSaturated(t *testing.T) {
	svc := NewBillingService(BillingDeps{
		Gateway:        &stubGateway{},
		Profiles:       testutil.NewMemoryProfiles(),
		Notifier:       &testutil.RecordingNotifier{},
		Pricing:        domain.DefaultPriceTable(),
		Clock:          &domain.FixedClock{T: testNow},
		Logger:         zap.NewNop(),
		MaxSideEffects: 1,
	})
	ctx := context.Background()

	running := make(chan struct{})
	release := make(chan struct{})
	svc.dispatch(ctx, "slow", "u1", func(context.Context) error {
		close(running)
		<-release
		return nil
	})
	<-running

	ran := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		svc.dispatch(ctx, "next", "u1", func(context.Context) error {
			ran <- struct{}{}
			return nil
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatch blocked while the side effect pool was full")
	}

	close(release)
	closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Close(closeCtx))
	assert.Empty(t, ran)
}
