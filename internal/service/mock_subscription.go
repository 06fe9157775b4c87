package service

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mansoorceksport/paywall/internal/domain"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

const (
	mockCustomerPrefix     = "cus_mock_"
	mockSubscriptionPrefix = "sub_mock_"
)

// MockSubscriptionStore simulates the payments provider's subscription
// lifecycle in process memory. Records live as long as the process.
// All operations run under one store-wide lock.
type MockSubscriptionStore struct {
	mu      sync.Mutex
	subs    map[string]*domain.Subscription
	pricing domain.PriceTable
	clock   domain.Clock
	logger  *zap.Logger
	newID   func() string
}

// NewMockSubscriptionStore creates an empty simulator using the given price table.
func NewMockSubscriptionStore(pricing domain.PriceTable, clock domain.Clock, logger *zap.Logger) *MockSubscriptionStore {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MockSubscriptionStore{
		subs:    make(map[string]*domain.Subscription),
		pricing: pricing,
		clock:   clock,
		logger:  logger.Named("mock_subscription"),
		newID:   func() string { return ulid.Make().String() },
	}
}

// Create returns the user's subscription, creating it on first call.
// A repeated call with a different plan switches the plan in place and resets
// prices to the undiscounted amount; the retention flags are left untouched.
func (s *MockSubscriptionStore) Create(userID string, plan domain.Plan) (*domain.Subscription, error) {
	sub, _, err := s.create(userID, plan)
	return sub, err
}

// create is Create that also reports whether a new record was made.
func (s *MockSubscriptionStore) create(userID string, plan domain.Plan) (*domain.Subscription, bool, error) {
	if err := validateUserID(userID); err != nil {
		return nil, false, err
	}
	pricing, err := s.pricing.Lookup(plan)
	if err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if existing, ok := s.subs[userID]; ok {
		if existing.Plan == plan {
			return existing.Clone(), false, nil
		}
		oldPlan, oldPrice := existing.Plan, existing.CurrentPrice
		existing.Plan = plan
		existing.OriginalPrice = pricing.Original
		existing.CurrentPrice = pricing.Original
		existing.CurrentPeriodEnd = domain.PeriodEndFrom(now, plan)
		existing.UpdatedAt = now

		s.logger.Info("[MockSubscription] plan changed on create",
			zap.String("user_id", userID),
			zap.String("plan_old", string(oldPlan)),
			zap.String("plan_new", string(plan)),
			zap.Stringer("price_old", oldPrice),
			zap.Stringer("price_new", existing.CurrentPrice),
			zap.Time("current_period_end", existing.CurrentPeriodEnd),
		)
		return existing.Clone(), false, nil
	}

	sub := s.newSubscription(userID, plan, pricing, now)
	s.subs[userID] = sub

	s.logger.Info("[MockSubscription] created",
		zap.String("user_id", userID),
		zap.String("subscription_id", sub.SubscriptionID),
		zap.String("plan", string(plan)),
		zap.Stringer("price", sub.CurrentPrice),
		zap.Time("current_period_end", sub.CurrentPeriodEnd),
	)
	return sub.Clone(), true, nil
}

// Get returns a copy of the user's subscription, or nil when there is none.
func (s *MockSubscriptionStore) Get(userID string) (*domain.Subscription, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[userID]
	if !ok {
		return nil, nil
	}
	return sub.Clone(), nil
}

// Cancel schedules cancellation at period end, or, when the user accepts the
// retention offer, applies the retention discount and keeps the subscription.
func (s *MockSubscriptionStore) Cancel(userID string, acceptRetentionOffer bool) (*domain.Subscription, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sub, err := s.lookup(userID)
	if err != nil {
		return nil, err
	}

	if acceptRetentionOffer {
		if sub.HasRetentionDiscount {
			return sub.Clone(), nil
		}
		if err := s.applyDiscount(sub); err != nil {
			return nil, err
		}
		sub.Status = domain.StatusActive
		return sub.Clone(), nil
	}

	if sub.CancelAtPeriodEnd {
		return sub.Clone(), nil
	}
	sub.CancelAtPeriodEnd = true
	sub.Status = domain.StatusActive
	sub.UpdatedAt = s.clock.Now()

	s.logger.Info("[MockSubscription] cancellation scheduled",
		zap.String("user_id", userID),
		zap.Bool("cancel_at_period_end_old", false),
		zap.Bool("cancel_at_period_end_new", true),
		zap.Time("current_period_end", sub.CurrentPeriodEnd),
	)
	return sub.Clone(), nil
}

// ApplyRetentionDiscount grants the fixed retention discount once.
func (s *MockSubscriptionStore) ApplyRetentionDiscount(userID string) (*domain.Subscription, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sub, err := s.lookup(userID)
	if err != nil {
		return nil, err
	}
	if sub.HasRetentionDiscount {
		return sub.Clone(), nil
	}
	if err := s.applyDiscount(sub); err != nil {
		return nil, err
	}
	return sub.Clone(), nil
}

// Restore reactivates a cancelling or past-due subscription. A user without a
// subscription gets a new monthly one.
func (s *MockSubscriptionStore) Restore(userID string) (*domain.Subscription, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	sub, ok := s.subs[userID]
	if !ok {
		pricing, err := s.pricing.Lookup(domain.PlanMonthly)
		if err != nil {
			return nil, err
		}
		sub = s.newSubscription(userID, domain.PlanMonthly, pricing, now)
		s.subs[userID] = sub

		s.logger.Info("[MockSubscription] restore created default subscription",
			zap.String("user_id", userID),
			zap.String("subscription_id", sub.SubscriptionID),
			zap.String("plan", string(sub.Plan)),
		)
		return sub.Clone(), nil
	}

	if sub.Status == domain.StatusActive && !sub.CancelAtPeriodEnd {
		return sub.Clone(), nil
	}

	oldStatus, oldCancel := sub.Status, sub.CancelAtPeriodEnd
	sub.CancelAtPeriodEnd = false
	sub.Status = domain.StatusActive
	sub.UpdatedAt = now

	s.logger.Info("[MockSubscription] restored",
		zap.String("user_id", userID),
		zap.String("status_old", string(oldStatus)),
		zap.String("status_new", string(sub.Status)),
		zap.Bool("cancel_at_period_end_old", oldCancel),
		zap.Bool("cancel_at_period_end_new", false),
	)
	return sub.Clone(), nil
}

// UpgradeToAnnual moves a monthly subscription to the annual plan. The new
// period is stacked onto the current period end; the pre-upgrade end is kept
// as the billing-displayed effective date.
func (s *MockSubscriptionStore) UpgradeToAnnual(userID string) (*domain.Subscription, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sub, err := s.lookup(userID)
	if err != nil {
		return nil, err
	}
	if sub.Plan == domain.PlanAnnual {
		return sub.Clone(), nil
	}
	if sub.Plan != domain.PlanMonthly {
		return nil, fmt.Errorf("%w: cannot upgrade plan %q to annual", domain.ErrInvalidState, sub.Plan)
	}
	annual, err := s.pricing.Lookup(domain.PlanAnnual)
	if err != nil {
		return nil, err
	}

	oldEnd, oldPrice := sub.CurrentPeriodEnd, sub.CurrentPrice
	sub.Plan = domain.PlanAnnual
	sub.OriginalPrice = annual.Original
	sub.CurrentPrice = annual.PriceFor(sub.HasRetentionDiscount)
	sub.CurrentPeriodEnd = oldEnd.AddDate(0, 0, domain.PlanAnnual.PeriodDays())
	sub.UpgradeScheduled = true
	sub.UpgradeScheduledDate = &oldEnd
	sub.UpdatedAt = s.clock.Now()

	s.logger.Info("[MockSubscription] upgraded to annual",
		zap.String("user_id", userID),
		zap.String("plan_old", string(domain.PlanMonthly)),
		zap.String("plan_new", string(sub.Plan)),
		zap.Stringer("price_old", oldPrice),
		zap.Stringer("price_new", sub.CurrentPrice),
		zap.Time("current_period_end_old", oldEnd),
		zap.Time("current_period_end_new", sub.CurrentPeriodEnd),
	)
	return sub.Clone(), nil
}

// MarkPastDue simulates a failed renewal payment.
func (s *MockSubscriptionStore) MarkPastDue(userID string) (*domain.Subscription, error) {
	if err := validateUserID(userID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sub, err := s.lookup(userID)
	if err != nil {
		return nil, err
	}
	if sub.Status == domain.StatusPastDue {
		return sub.Clone(), nil
	}

	oldStatus := sub.Status
	sub.Status = domain.StatusPastDue
	sub.UpdatedAt = s.clock.Now()

	s.logger.Info("[MockSubscription] marked past due",
		zap.String("user_id", userID),
		zap.String("status_old", string(oldStatus)),
		zap.String("status_new", string(sub.Status)),
	)
	return sub.Clone(), nil
}

// Delete removes the user's subscription and reports whether one existed.
func (s *MockSubscriptionStore) Delete(userID string) (bool, error) {
	if err := validateUserID(userID); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.subs[userID]
	delete(s.subs, userID)
	if ok {
		s.logger.Info("[MockSubscription] deleted", zap.String("user_id", userID))
	}
	return ok, nil
}

// ListAll returns copies of every subscription ordered by user id.
func (s *MockSubscriptionStore) ListAll() []domain.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, *sub.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// applyDiscount must be called with mu held.
func (s *MockSubscriptionStore) applyDiscount(sub *domain.Subscription) error {
	pricing, err := s.pricing.Lookup(sub.Plan)
	if err != nil {
		return fmt.Errorf("%w: subscription has plan %q", domain.ErrInvalidState, sub.Plan)
	}

	oldPrice, oldCancel := sub.CurrentPrice, sub.CancelAtPeriodEnd
	sub.CurrentPrice = pricing.Discounted
	sub.OriginalPrice = pricing.Original
	sub.DiscountPercent = domain.RetentionDiscountPercent
	sub.HasRetentionDiscount = true
	sub.CancelAtPeriodEnd = false
	sub.UpdatedAt = s.clock.Now()

	s.logger.Info("[MockSubscription] retention discount applied",
		zap.String("user_id", sub.UserID),
		zap.Stringer("price_old", oldPrice),
		zap.Stringer("price_new", sub.CurrentPrice),
		zap.Int("discount_percent", sub.DiscountPercent),
		zap.Bool("cancel_at_period_end_old", oldCancel),
		zap.Bool("cancel_at_period_end_new", false),
	)
	return nil
}

// lookup must be called with mu held.
func (s *MockSubscriptionStore) lookup(userID string) (*domain.Subscription, error) {
	sub, ok := s.subs[userID]
	if !ok {
		return nil, fmt.Errorf("%w: no subscription for user %q", domain.ErrNotFound, userID)
	}
	return sub, nil
}

func (s *MockSubscriptionStore) newSubscription(userID string, plan domain.Plan, pricing domain.PlanPricing, now time.Time) *domain.Subscription {
	return &domain.Subscription{
		UserID:           userID,
		CustomerID:       mockCustomerPrefix + userID,
		SubscriptionID:   mockSubscriptionPrefix + s.newID(),
		Plan:             plan,
		Status:           domain.StatusActive,
		CurrentPeriodEnd: domain.PeriodEndFrom(now, plan),
		CurrentPrice:     pricing.Original,
		OriginalPrice:    pricing.Original,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func validateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user id is required", domain.ErrInvalidArgument)
	}
	return nil
}
