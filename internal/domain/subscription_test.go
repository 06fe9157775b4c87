package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlan(t *testing.T) {
	plan, err := ParsePlan("annual")
	require.NoError(t, err)
	assert.Equal(t, PlanAnnual, plan)

	_, err = ParsePlan("Annual")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = ParsePlan("")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestPeriodEndFrom(t *testing.T) {
	start := time.Date(2024, 1, 31, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), PeriodEndFrom(start, PlanMonthly))
	assert.Equal(t, time.Date(2025, 1, 30, 10, 0, 0, 0, time.UTC), PeriodEndFrom(start, PlanAnnual))
}

func TestSubscriptionTier(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	future := now.Add(24 * time.Hour)
	past := now.Add(-24 * time.Hour)

	tests := []struct {
		name string
		sub  *Subscription
		want Tier
	}{
		{"nil", nil, TierFree},
		{"active", &Subscription{Status: StatusActive, CurrentPeriodEnd: future}, TierPremium},
		{"trialing", &Subscription{Status: StatusTrialing, CurrentPeriodEnd: future}, TierPremium},
		{"past due keeps access", &Subscription{Status: StatusPastDue, CurrentPeriodEnd: future}, TierPremium},
		{"cancelling before period end", &Subscription{Status: StatusActive, CancelAtPeriodEnd: true, CurrentPeriodEnd: future}, TierPremium},
		{"cancelling after period end", &Subscription{Status: StatusActive, CancelAtPeriodEnd: true, CurrentPeriodEnd: past}, TierFree},
		{"cancelling at period end", &Subscription{Status: StatusActive, CancelAtPeriodEnd: true, CurrentPeriodEnd: now}, TierFree},
		{"cancelled", &Subscription{Status: StatusCancelled, CurrentPeriodEnd: future}, TierFree},
		{"expired", &Subscription{Status: StatusExpired, CurrentPeriodEnd: future}, TierFree},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.sub.Tier(now))
		})
	}
}

func TestSubscriptionClone(t *testing.T) {
	date := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	sub := &Subscription{UserID: "u1", UpgradeScheduled: true, UpgradeScheduledDate: &date}

	c := sub.Clone()
	c.UserID = "u2"
	*c.UpgradeScheduledDate = date.Add(time.Hour)

	assert.Equal(t, "u1", sub.UserID)
	assert.Equal(t, date, *sub.UpgradeScheduledDate)
	assert.Nil(t, (*Subscription)(nil).Clone())
}

func TestBillingUpdateFromSubscription(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	sub := &Subscription{
		UserID:            "u1",
		CustomerID:        "cus_1",
		SubscriptionID:    "sub_1",
		Plan:              PlanMonthly,
		Status:            StatusActive,
		CurrentPeriodEnd:  now.Add(-time.Minute),
		CancelAtPeriodEnd: true,
	}

	update := BillingUpdateFromSubscription(sub, now)
	assert.Equal(t, TierFree, update.Tier)
	assert.Equal(t, StatusActive, update.Status)
	assert.Equal(t, "cus_1", update.CustomerID)
	require.NotNil(t, update.CurrentPeriodEnd)
	assert.Equal(t, sub.CurrentPeriodEnd, *update.CurrentPeriodEnd)
	assert.True(t, update.CancelAtPeriodEnd)
}

func TestDebugClaimsHasRole(t *testing.T) {
	claims := &DebugClaims{Roles: []string{"viewer", RoleDebug}}
	assert.True(t, claims.HasRole(RoleDebug))
	assert.False(t, claims.HasRole("admin"))
}
