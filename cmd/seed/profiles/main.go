package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/mansoorceksport/paywall/internal/config"
	"github.com/mansoorceksport/paywall/internal/domain"
	"github.com/mansoorceksport/paywall/internal/repository"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Seeds demo profiles so provider mode has billing state to read locally.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoDB.URI))
	if err != nil {
		log.Fatalf("Failed to connect to Mongo: %v", err)
	}
	defer client.Disconnect(ctx)

	repo := repository.NewMongoProfileRepository(client.Database(cfg.MongoDB.Database))
	now := time.Now().UTC()

	profiles := []struct {
		UserID string
		Sub    *domain.Subscription
	}{
		{UserID: "demo-free"},
		{
			UserID: "demo-monthly",
			Sub: &domain.Subscription{
				CustomerID:       "ctm_demo_monthly",
				SubscriptionID:   "sub_demo_monthly",
				Plan:             domain.PlanMonthly,
				Status:           domain.StatusActive,
				CurrentPeriodEnd: domain.PeriodEndFrom(now, domain.PlanMonthly),
			},
		},
		{
			UserID: "demo-cancelling",
			Sub: &domain.Subscription{
				CustomerID:        "ctm_demo_cancelling",
				SubscriptionID:    "sub_demo_cancelling",
				Plan:              domain.PlanAnnual,
				Status:            domain.StatusActive,
				CurrentPeriodEnd:  now.AddDate(0, 0, 7),
				CancelAtPeriodEnd: true,
			},
		},
		{
			UserID: "demo-past-due",
			Sub: &domain.Subscription{
				CustomerID:       "ctm_demo_past_due",
				SubscriptionID:   "sub_demo_past_due",
				Plan:             domain.PlanMonthly,
				Status:           domain.StatusPastDue,
				CurrentPeriodEnd: now.AddDate(0, 0, 3),
			},
		},
	}

	for _, p := range profiles {
		update := domain.BillingUpdate{Tier: domain.TierFree}
		if p.Sub != nil {
			update = domain.BillingUpdateFromSubscription(p.Sub, now)
		}
		update.Email = p.UserID + "@example.com"

		if err := repo.UpdateBilling(ctx, p.UserID, update); err != nil {
			fmt.Printf("Error seeding %s: %v\n", p.UserID, err)
			continue
		}
		fmt.Printf("Seeded %s (%s)\n", p.UserID, update.Tier)
	}
}
