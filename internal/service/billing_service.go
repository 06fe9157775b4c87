package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mansoorceksport/paywall/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	instrumentationName = "github.com/mansoorceksport/paywall/internal/service"

	defaultSideEffectTimeout = 10 * time.Second
	defaultMaxSideEffects    = 32
)

// CheckoutInput is a user's request to buy a plan.
type CheckoutInput struct {
	UserID     string
	Email      string
	Plan       domain.Plan
	SuccessURL string
	CancelURL  string
}

// BillingDeps holds the collaborators of BillingService.
// A nil Simulator puts the service in provider mode: lifecycle changes are
// made through the provider portal and reads come from the mirrored profile.
type BillingDeps struct {
	Simulator *MockSubscriptionStore
	Gateway   domain.BillingGateway
	Profiles  domain.ProfileRepository
	Notifier  domain.Notifier
	Pricing   domain.PriceTable
	PriceIDs  map[domain.Plan]string
	Clock     domain.Clock
	Logger    *zap.Logger

	SideEffectTimeout time.Duration
	MaxSideEffects    int
}

// BillingService brokers subscription billing between the HTTP layer, the
// payments provider (or its simulator) and the profile store.
type BillingService struct {
	simulator *MockSubscriptionStore
	gateway   domain.BillingGateway
	profiles  domain.ProfileRepository
	notifier  domain.Notifier
	pricing   domain.PriceTable
	priceIDs  map[domain.Plan]string
	clock     domain.Clock
	logger    *zap.Logger

	tracer      trace.Tracer
	transitions metric.Int64Counter

	sideEffectTimeout time.Duration
	syncMu            sync.Mutex
	mu                sync.Mutex
	closed            bool
	background        *errgroup.Group
}

// NewBillingService creates a new BillingService instance
func NewBillingService(deps BillingDeps) *BillingService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = domain.SystemClock{}
	}
	timeout := deps.SideEffectTimeout
	if timeout <= 0 {
		timeout = defaultSideEffectTimeout
	}
	limit := deps.MaxSideEffects
	if limit <= 0 {
		limit = defaultMaxSideEffects
	}

	counter, err := otel.Meter(instrumentationName).Int64Counter(
		"billing.subscription.transitions",
		metric.WithDescription("Subscription lifecycle transitions applied"),
	)
	if err != nil {
		logger.Warn("[Billing] failed to create transitions counter", zap.Error(err))
		counter = noop.Int64Counter{}
	}

	g := &errgroup.Group{}
	g.SetLimit(limit)

	return &BillingService{
		simulator:         deps.Simulator,
		gateway:           deps.Gateway,
		profiles:          deps.Profiles,
		notifier:          deps.Notifier,
		pricing:           deps.Pricing,
		priceIDs:          deps.PriceIDs,
		clock:             clock,
		logger:            logger.Named("billing"),
		tracer:            otel.Tracer(instrumentationName),
		transitions:       counter,
		sideEffectTimeout: timeout,
		background:        g,
	}
}

// SimulatorEnabled reports whether subscriptions are simulated in memory.
func (s *BillingService) SimulatorEnabled() bool {
	return s.simulator != nil
}

// Pricing returns the price table in effect.
func (s *BillingService) Pricing() domain.PriceTable {
	return s.pricing
}

// TierOf derives the entitlement tier of sub at the current time.
func (s *BillingService) TierOf(sub *domain.Subscription) domain.Tier {
	return sub.Tier(s.clock.Now())
}

// StartCheckout opens a checkout for the requested plan. With the simulator
// the checkout completes immediately and the subscription exists on return.
func (s *BillingService) StartCheckout(ctx context.Context, in CheckoutInput) (*domain.CheckoutSession, error) {
	ctx, span := s.startSpan(ctx, "billing.StartCheckout", in.UserID)
	defer span.End()

	if err := validateUserID(in.UserID); err != nil {
		return nil, s.fail(span, err)
	}
	if _, err := s.pricing.Lookup(in.Plan); err != nil {
		return nil, s.fail(span, err)
	}
	if in.SuccessURL == "" {
		return nil, s.fail(span, fmt.Errorf("%w: success url is required", domain.ErrInvalidArgument))
	}

	priceID := s.priceIDs[in.Plan]
	if priceID == "" && !s.SimulatorEnabled() {
		return nil, s.fail(span, fmt.Errorf("%w: no provider price configured for plan %q", domain.ErrProvider, in.Plan))
	}

	session, err := s.gateway.CreateCheckout(ctx, domain.CheckoutRequest{
		UserID:     in.UserID,
		Email:      in.Email,
		Plan:       in.Plan,
		PriceID:    priceID,
		SuccessURL: in.SuccessURL,
		CancelURL:  in.CancelURL,
	})
	if err != nil {
		return nil, s.fail(span, err)
	}

	if s.SimulatorEnabled() {
		if _, err := s.createSubscription(ctx, in.UserID, in.Email, in.Plan); err != nil {
			return nil, s.fail(span, err)
		}
	}

	s.logger.Info("[Billing] checkout started",
		zap.String("user_id", in.UserID),
		zap.String("plan", string(in.Plan)),
		zap.String("session_id", session.SessionID),
	)
	return session, nil
}

// CreatePortalSession returns a link to the provider's billing portal for the user.
func (s *BillingService) CreatePortalSession(ctx context.Context, userID, returnURL string) (*domain.PortalSession, error) {
	ctx, span := s.startSpan(ctx, "billing.CreatePortalSession", userID)
	defer span.End()

	if err := validateUserID(userID); err != nil {
		return nil, s.fail(span, err)
	}

	var customerID, subscriptionID string
	if s.SimulatorEnabled() {
		sub, err := s.simulator.Get(userID)
		if err != nil {
			return nil, s.fail(span, err)
		}
		if sub == nil {
			return nil, s.fail(span, fmt.Errorf("%w: no subscription for user %q", domain.ErrNotFound, userID))
		}
		customerID, subscriptionID = sub.CustomerID, sub.SubscriptionID
	} else {
		profile, err := s.profiles.GetByUserID(ctx, userID)
		if err != nil {
			return nil, s.fail(span, err)
		}
		if profile.CustomerID == "" {
			return nil, s.fail(span, fmt.Errorf("%w: user %q has no billing customer", domain.ErrNotFound, userID))
		}
		customerID, subscriptionID = profile.CustomerID, profile.SubscriptionID
	}

	portal, err := s.gateway.CreatePortal(ctx, customerID, subscriptionID, returnURL)
	if err != nil {
		return nil, s.fail(span, err)
	}
	return portal, nil
}

// GetSubscription returns the user's subscription, or nil when there is none.
func (s *BillingService) GetSubscription(ctx context.Context, userID string) (*domain.Subscription, error) {
	ctx, span := s.startSpan(ctx, "billing.GetSubscription", userID)
	defer span.End()

	if s.SimulatorEnabled() {
		sub, err := s.simulator.Get(userID)
		if err != nil {
			return nil, s.fail(span, err)
		}
		return sub, nil
	}

	if err := validateUserID(userID); err != nil {
		return nil, s.fail(span, err)
	}
	profile, err := s.profiles.GetByUserID(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, s.fail(span, err)
	}
	return s.subscriptionFromProfile(profile), nil
}

// Cancel cancels at period end, or applies the retention discount when the
// user accepts the retention offer.
func (s *BillingService) Cancel(ctx context.Context, userID string, acceptRetentionOffer bool) (*domain.Subscription, error) {
	operation := "cancel"
	if acceptRetentionOffer {
		operation = "cancel_retained"
	}
	return s.mutate(ctx, operation, userID, func() (*domain.Subscription, error) {
		return s.simulator.Cancel(userID, acceptRetentionOffer)
	})
}

// ApplyRetentionDiscount grants the retention discount.
func (s *BillingService) ApplyRetentionDiscount(ctx context.Context, userID string) (*domain.Subscription, error) {
	return s.mutate(ctx, "retention_discount", userID, func() (*domain.Subscription, error) {
		return s.simulator.ApplyRetentionDiscount(userID)
	})
}

// Restore reactivates the user's subscription.
func (s *BillingService) Restore(ctx context.Context, userID string) (*domain.Subscription, error) {
	return s.mutate(ctx, "restore", userID, func() (*domain.Subscription, error) {
		return s.simulator.Restore(userID)
	})
}

// UpgradeToAnnual moves the user's monthly subscription to the annual plan.
func (s *BillingService) UpgradeToAnnual(ctx context.Context, userID string) (*domain.Subscription, error) {
	return s.mutate(ctx, "upgrade_annual", userID, func() (*domain.Subscription, error) {
		return s.simulator.UpgradeToAnnual(userID)
	})
}

// MarkPastDue simulates a failed renewal.
func (s *BillingService) MarkPastDue(ctx context.Context, userID string) (*domain.Subscription, error) {
	return s.mutate(ctx, "past_due", userID, func() (*domain.Subscription, error) {
		return s.simulator.MarkPastDue(userID)
	})
}

// CreateSubscription creates a simulated subscription directly, skipping checkout.
func (s *BillingService) CreateSubscription(ctx context.Context, userID, email string, plan domain.Plan) (*domain.Subscription, error) {
	ctx, span := s.startSpan(ctx, "billing.CreateSubscription", userID)
	defer span.End()

	if !s.SimulatorEnabled() {
		return nil, s.fail(span, domain.ErrManagedByProvider)
	}
	sub, err := s.createSubscription(ctx, userID, email, plan)
	if err != nil {
		return nil, s.fail(span, err)
	}
	return sub, nil
}

// DeleteSubscription removes a simulated subscription and downgrades the profile.
func (s *BillingService) DeleteSubscription(ctx context.Context, userID string) (bool, error) {
	ctx, span := s.startSpan(ctx, "billing.DeleteSubscription", userID)
	defer span.End()

	if !s.SimulatorEnabled() {
		return false, s.fail(span, domain.ErrManagedByProvider)
	}
	existed, err := s.simulator.Delete(userID)
	if err != nil {
		return false, s.fail(span, err)
	}
	if existed {
		s.recordTransition(ctx, "delete")
		s.syncProfile(ctx, userID, "")
	}
	return existed, nil
}

// ListSubscriptions returns every simulated subscription.
func (s *BillingService) ListSubscriptions() ([]domain.Subscription, error) {
	if !s.SimulatorEnabled() {
		return nil, domain.ErrManagedByProvider
	}
	return s.simulator.ListAll(), nil
}

// HandleWebhook processes a provider event delivery and mirrors the resulting
// state into the profile store. A profile store failure is returned so the
// provider redelivers the event.
func (s *BillingService) HandleWebhook(ctx context.Context, payload []byte, signature string) (*domain.WebhookEvent, error) {
	ctx, span := s.tracer.Start(ctx, "billing.HandleWebhook")
	defer span.End()

	event, err := s.gateway.ParseWebhook(ctx, payload, signature)
	if err != nil {
		return nil, s.fail(span, err)
	}
	span.SetAttributes(
		attribute.String("webhook.event_id", event.ID),
		attribute.String("webhook.event_type", string(event.Type)),
		attribute.String("user.id", event.UserID),
	)

	if event.UserID == "" {
		s.logger.Warn("[Webhook] event without user id, ignoring",
			zap.String("event_id", event.ID),
			zap.String("provider_event", event.ProviderEvent),
		)
		return event, nil
	}

	var (
		update  domain.BillingUpdate
		confirm bool
	)
	if s.SimulatorEnabled() {
		sub, err := s.applyEventToSimulator(ctx, event)
		if errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("[Webhook] no simulated subscription for event, ignoring",
				zap.String("event_id", event.ID),
				zap.String("user_id", event.UserID),
			)
			return event, nil
		}
		if err != nil {
			return nil, s.fail(span, err)
		}
		if sub == nil {
			return event, nil
		}
		if update, err = s.writeSimulated(ctx, event.UserID, event.Email); err != nil {
			return nil, s.fail(span, fmt.Errorf("failed to mirror billing state: %w", err))
		}
	} else {
		update = s.updateFromEvent(event)
		update.Email = event.Email
		confirm = event.Type == domain.EventSubscriptionCreated && s.firstPurchase(ctx, event)
		if err := s.profiles.UpdateBilling(ctx, event.UserID, update); err != nil {
			return nil, s.fail(span, fmt.Errorf("failed to mirror billing state: %w", err))
		}
	}
	if confirm {
		s.sendConfirmation(ctx, event.UserID, event.Email, event.Plan, s.currentPeriodEnd(event))
	}

	s.logger.Info("[Webhook] event applied",
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("user_id", event.UserID),
		zap.String("tier", string(update.Tier)),
	)
	return event, nil
}

// Close waits for pending side effects or until ctx is done.
// Side effects requested after Close are dropped.
func (s *BillingService) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = s.background.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *BillingService) applyEventToSimulator(ctx context.Context, event *domain.WebhookEvent) (*domain.Subscription, error) {
	switch event.Type {
	case domain.EventSubscriptionCreated:
		plan := event.Plan
		if plan == "" {
			plan = domain.PlanMonthly
		}
		sub, created, err := s.simulator.create(event.UserID, plan)
		if err != nil {
			return nil, err
		}
		s.recordTransition(ctx, "create")
		if created {
			s.sendConfirmation(ctx, sub.UserID, event.Email, sub.Plan, sub.CurrentPeriodEnd)
		}
		return sub, nil
	case domain.EventSubscriptionCancelled:
		s.recordTransition(ctx, "cancel")
		return s.simulator.Cancel(event.UserID, false)
	case domain.EventSubscriptionResumed:
		s.recordTransition(ctx, "restore")
		return s.simulator.Restore(event.UserID)
	case domain.EventPaymentFailed:
		s.recordTransition(ctx, "past_due")
		return s.simulator.MarkPastDue(event.UserID)
	case domain.EventSubscriptionUpdated, domain.EventPaymentSucceeded:
		switch {
		case event.Status == domain.StatusPastDue:
			s.recordTransition(ctx, "past_due")
			return s.simulator.MarkPastDue(event.UserID)
		case event.CancelAtPeriodEnd:
			s.recordTransition(ctx, "cancel")
			return s.simulator.Cancel(event.UserID, false)
		case event.Status == domain.StatusActive || event.Type == domain.EventPaymentSucceeded:
			sub, err := s.simulator.Get(event.UserID)
			if err != nil || sub == nil {
				return sub, err
			}
			s.recordTransition(ctx, "restore")
			return s.simulator.Restore(event.UserID)
		}
		return s.simulator.Get(event.UserID)
	default:
		s.logger.Debug("[Webhook] unhandled event type", zap.String("event_type", string(event.Type)))
		return s.simulator.Get(event.UserID)
	}
}

func (s *BillingService) updateFromEvent(event *domain.WebhookEvent) domain.BillingUpdate {
	status := event.Status
	if status == "" {
		switch event.Type {
		case domain.EventPaymentFailed:
			status = domain.StatusPastDue
		case domain.EventSubscriptionCancelled:
			status = domain.StatusCancelled
		default:
			status = domain.StatusActive
		}
	}

	snapshot := &domain.Subscription{
		Status:            status,
		CancelAtPeriodEnd: event.CancelAtPeriodEnd,
	}
	if event.CurrentPeriodEnd != nil {
		snapshot.CurrentPeriodEnd = *event.CurrentPeriodEnd
	} else {
		snapshot.CancelAtPeriodEnd = false
	}

	return domain.BillingUpdate{
		Tier:              snapshot.Tier(s.clock.Now()),
		Plan:              event.Plan,
		Status:            status,
		CustomerID:        event.CustomerID,
		SubscriptionID:    event.SubscriptionID,
		CurrentPeriodEnd:  event.CurrentPeriodEnd,
		CancelAtPeriodEnd: event.CancelAtPeriodEnd,
	}
}

// firstPurchase reports whether the profile does not yet mirror the event's subscription.
func (s *BillingService) firstPurchase(ctx context.Context, event *domain.WebhookEvent) bool {
	profile, err := s.profiles.GetByUserID(ctx, event.UserID)
	if err != nil {
		return true
	}
	return event.SubscriptionID == "" || profile.SubscriptionID != event.SubscriptionID
}

func (s *BillingService) currentPeriodEnd(event *domain.WebhookEvent) time.Time {
	if event.CurrentPeriodEnd != nil {
		return *event.CurrentPeriodEnd
	}
	plan := event.Plan
	if plan == "" {
		plan = domain.PlanMonthly
	}
	return domain.PeriodEndFrom(s.clock.Now(), plan)
}

func (s *BillingService) subscriptionFromProfile(p *domain.Profile) *domain.Subscription {
	sub := &domain.Subscription{
		UserID:            p.UserID,
		CustomerID:        p.CustomerID,
		SubscriptionID:    p.SubscriptionID,
		Plan:              p.Plan,
		Status:            p.Status,
		CancelAtPeriodEnd: p.CancelAtPeriodEnd,
		UpdatedAt:         p.UpdatedAt,
	}
	if p.CurrentPeriodEnd != nil {
		sub.CurrentPeriodEnd = *p.CurrentPeriodEnd
	}
	if pricing, err := s.pricing.Lookup(p.Plan); err == nil {
		sub.OriginalPrice = pricing.Original
		sub.CurrentPrice = pricing.Original
	}
	return sub
}

// createSubscription runs the simulator Create and its side effects.
func (s *BillingService) createSubscription(ctx context.Context, userID, email string, plan domain.Plan) (*domain.Subscription, error) {
	sub, created, err := s.simulator.create(userID, plan)
	if err != nil {
		return nil, err
	}
	s.recordTransition(ctx, "create")
	s.syncProfile(ctx, sub.UserID, email)
	if created {
		s.sendConfirmation(ctx, sub.UserID, email, sub.Plan, sub.CurrentPeriodEnd)
	}
	return sub, nil
}

func (s *BillingService) mutate(ctx context.Context, operation, userID string, fn func() (*domain.Subscription, error)) (*domain.Subscription, error) {
	ctx, span := s.startSpan(ctx, "billing."+operation, userID)
	defer span.End()

	if !s.SimulatorEnabled() {
		if err := validateUserID(userID); err != nil {
			return nil, s.fail(span, err)
		}
		return nil, s.fail(span, domain.ErrManagedByProvider)
	}

	sub, err := fn()
	if err != nil {
		return nil, s.fail(span, err)
	}
	s.recordTransition(ctx, operation)
	s.syncProfile(ctx, sub.UserID, "")
	return sub, nil
}

// syncProfile mirrors the user's simulated subscription into the profile in
// the background. The record is read when the write runs.
func (s *BillingService) syncProfile(ctx context.Context, userID, email string) {
	s.dispatch(ctx, "profile_sync", userID, func(ctx context.Context) error {
		_, err := s.writeSimulated(ctx, userID, email)
		return err
	})
}

// writeSimulated writes the current simulated state of userID to the profile.
// A user without a subscription is written as free.
func (s *BillingService) writeSimulated(ctx context.Context, userID, email string) (domain.BillingUpdate, error) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	sub, err := s.simulator.Get(userID)
	if err != nil {
		return domain.BillingUpdate{}, err
	}
	update := domain.BillingUpdate{Tier: domain.TierFree, Status: domain.StatusCancelled}
	if sub != nil {
		update = domain.BillingUpdateFromSubscription(sub, s.clock.Now())
	}
	update.Email = email
	return update, s.profiles.UpdateBilling(ctx, userID, update)
}

func (s *BillingService) sendConfirmation(ctx context.Context, userID, email string, plan domain.Plan, periodEnd time.Time) {
	if strings.TrimSpace(email) == "" {
		s.logger.Debug("[Billing] no email on file, skipping purchase confirmation", zap.String("user_id", userID))
		return
	}
	var amount domain.Money
	if pricing, err := s.pricing.Lookup(plan); err == nil {
		amount = pricing.Original
	}
	msg := domain.PurchaseConfirmation{
		UserID:           userID,
		Email:            email,
		Plan:             plan,
		Amount:           amount,
		CurrentPeriodEnd: periodEnd,
	}
	s.dispatch(ctx, "purchase_confirmation", userID, func(ctx context.Context) error {
		return s.notifier.SendPurchaseConfirmation(ctx, msg)
	})
}

// dispatch runs fn in the background, detached from the request's cancellation.
// It never blocks: when MaxSideEffects are already running, fn is dropped.
// Failures are logged and never reach the caller.
func (s *BillingService) dispatch(ctx context.Context, name, userID string, fn func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.logger.Warn("[Billing] service closed, dropping side effect",
			zap.String("side_effect", name),
			zap.String("user_id", userID),
		)
		return
	}

	detached := context.WithoutCancel(ctx)
	started := s.background.TryGo(func() error {
		ctx, cancel := context.WithTimeout(detached, s.sideEffectTimeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			s.logger.Error("[Billing] side effect failed",
				zap.String("side_effect", name),
				zap.String("user_id", userID),
				zap.Error(err),
			)
		}
		return nil
	})
	if !started {
		s.logger.Warn("[Billing] side effect limit reached, dropping side effect",
			zap.String("side_effect", name),
			zap.String("user_id", userID),
		)
	}
}

func (s *BillingService) recordTransition(ctx context.Context, operation string) {
	s.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", operation)))
}

func (s *BillingService) startSpan(ctx context.Context, name, userID string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.Bool("billing.simulator", s.SimulatorEnabled()),
	))
}

func (s *BillingService) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
