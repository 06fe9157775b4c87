package domain

import (
	"context"
	"time"
)

// Profile is the subset of the user profile this service mirrors billing state into.
type Profile struct {
	UserID            string             `bson:"user_id" json:"user_id"`
	Email             string             `bson:"email,omitempty" json:"email,omitempty"`
	Tier              Tier               `bson:"tier" json:"tier"`
	Plan              Plan               `bson:"plan,omitempty" json:"plan,omitempty"`
	Status            SubscriptionStatus `bson:"subscription_status,omitempty" json:"subscription_status,omitempty"`
	CustomerID        string             `bson:"customer_id,omitempty" json:"customer_id,omitempty"`
	SubscriptionID    string             `bson:"subscription_id,omitempty" json:"subscription_id,omitempty"`
	CurrentPeriodEnd  *time.Time         `bson:"current_period_end,omitempty" json:"current_period_end,omitempty"`
	CancelAtPeriodEnd bool               `bson:"cancel_at_period_end" json:"cancel_at_period_end"`
	UpdatedAt         time.Time          `bson:"updated_at" json:"updated_at"`
}

// BillingUpdate carries the billing fields written to a profile.
// Empty strings and nil pointers leave the stored value untouched.
type BillingUpdate struct {
	Tier              Tier
	Plan              Plan
	Status            SubscriptionStatus
	Email             string
	CustomerID        string
	SubscriptionID    string
	CurrentPeriodEnd  *time.Time
	CancelAtPeriodEnd bool
}

// BillingUpdateFromSubscription builds the profile update for sub evaluated at now.
func BillingUpdateFromSubscription(sub *Subscription, now time.Time) BillingUpdate {
	end := sub.CurrentPeriodEnd
	return BillingUpdate{
		Tier:              sub.Tier(now),
		Plan:              sub.Plan,
		Status:            sub.Status,
		CustomerID:        sub.CustomerID,
		SubscriptionID:    sub.SubscriptionID,
		CurrentPeriodEnd:  &end,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
}

// ProfileRepository is the external profile store.
type ProfileRepository interface {
	// GetByUserID returns ErrNotFound when the user has no profile.
	GetByUserID(ctx context.Context, userID string) (*Profile, error)
	// UpdateBilling upserts the billing fields of the user's profile.
	UpdateBilling(ctx context.Context, userID string, update BillingUpdate) error
}
