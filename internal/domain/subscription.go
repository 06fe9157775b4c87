package domain

import (
	"time"
)

// Plan is the billing cadence of a subscription.
type Plan string

const (
	PlanMonthly Plan = "monthly"
	PlanAnnual  Plan = "annual"
)

// Plans returns the recognized plans in display order.
func Plans() []Plan {
	return []Plan{PlanMonthly, PlanAnnual}
}

// PeriodDays returns the length of one billing period in days.
func (p Plan) PeriodDays() int {
	switch p {
	case PlanAnnual:
		return 365
	default:
		return 30
	}
}

// ParsePlan validates a raw plan value.
func ParsePlan(raw string) (Plan, error) {
	plan := Plan(raw)
	for _, p := range Plans() {
		if p == plan {
			return plan, nil
		}
	}
	return "", unknownPlanError(plan)
}

// SubscriptionStatus mirrors the provider's subscription status values.
type SubscriptionStatus string

const (
	StatusActive    SubscriptionStatus = "active"
	StatusTrialing  SubscriptionStatus = "trialing"
	StatusPastDue   SubscriptionStatus = "past_due"
	StatusCancelled SubscriptionStatus = "cancelled"
	StatusExpired   SubscriptionStatus = "expired"
)

// Entitled reports whether the status still grants paid access.
func (s SubscriptionStatus) Entitled() bool {
	switch s {
	case StatusActive, StatusTrialing, StatusPastDue:
		return true
	default:
		return false
	}
}

// Tier is the user-facing entitlement level stored in the profile.
type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
)

// Subscription is one user's subscription record.
// A cancelling subscription keeps status active with CancelAtPeriodEnd set
// until its paid period expires.
type Subscription struct {
	UserID               string             `json:"user_id" bson:"user_id"`
	CustomerID           string             `json:"customer_id" bson:"customer_id"`
	SubscriptionID       string             `json:"subscription_id" bson:"subscription_id"`
	Plan                 Plan               `json:"plan" bson:"plan"`
	Status               SubscriptionStatus `json:"status" bson:"status"`
	CurrentPeriodEnd     time.Time          `json:"current_period_end" bson:"current_period_end"`
	CancelAtPeriodEnd    bool               `json:"cancel_at_period_end" bson:"cancel_at_period_end"`
	CurrentPrice         Money              `json:"current_price" bson:"current_price"`
	OriginalPrice        Money              `json:"original_price" bson:"original_price"`
	DiscountPercent      int                `json:"discount_percent" bson:"discount_percent"`
	HasRetentionDiscount bool               `json:"has_retention_discount" bson:"has_retention_discount"`
	UpgradeScheduled     bool               `json:"upgrade_scheduled,omitempty" bson:"upgrade_scheduled,omitempty"`
	UpgradeScheduledDate *time.Time         `json:"upgrade_scheduled_date,omitempty" bson:"upgrade_scheduled_date,omitempty"`
	CreatedAt            time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at" bson:"updated_at"`
}

// Clone returns a deep copy so callers cannot reach the stored record.
func (s *Subscription) Clone() *Subscription {
	if s == nil {
		return nil
	}
	c := *s
	if s.UpgradeScheduledDate != nil {
		d := *s.UpgradeScheduledDate
		c.UpgradeScheduledDate = &d
	}
	return &c
}

// FullyCancelled reports whether access has lapsed at now: either the status
// is terminal, or a scheduled cancellation has reached its period end.
func (s *Subscription) FullyCancelled(now time.Time) bool {
	if !s.Status.Entitled() {
		return true
	}
	return s.CancelAtPeriodEnd && !now.Before(s.CurrentPeriodEnd)
}

// Tier derives the entitlement level at now.
func (s *Subscription) Tier(now time.Time) Tier {
	if s == nil || s.FullyCancelled(now) {
		return TierFree
	}
	return TierPremium
}

// PeriodEndFrom returns the end of a billing period for plan starting at start.
func PeriodEndFrom(start time.Time, plan Plan) time.Time {
	return start.AddDate(0, 0, plan.PeriodDays()).UTC()
}

// Clock abstracts wall-clock time so period computations can be tested.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real time in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always returns the same instant. Advance moves it forward.
type FixedClock struct {
	T time.Time
}

func (c *FixedClock) Now() time.Time { return c.T }

func (c *FixedClock) Advance(d time.Duration) { c.T = c.T.Add(d) }
