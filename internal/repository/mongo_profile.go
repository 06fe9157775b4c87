package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mansoorceksport/paywall/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoProfileRepository implements domain.ProfileRepository
type MongoProfileRepository struct {
	collection *mongo.Collection
}

func NewMongoProfileRepository(db *mongo.Database) *MongoProfileRepository {
	coll := db.Collection("profiles")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _ = coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "customer_id", Value: 1}}},
	})

	return &MongoProfileRepository{
		collection: coll,
	}
}

func (r *MongoProfileRepository) GetByUserID(ctx context.Context, userID string) (*domain.Profile, error) {
	var profile domain.Profile
	if err := r.collection.FindOne(ctx, bson.M{"user_id": userID}).Decode(&profile); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return &profile, nil
}

// UpdateBilling upserts the billing fields. Profiles created here carry only
// billing state until the rest of the profile is written elsewhere.
func (r *MongoProfileRepository) UpdateBilling(ctx context.Context, userID string, update domain.BillingUpdate) error {
	now := time.Now().UTC()

	set := bson.M{
		"cancel_at_period_end": update.CancelAtPeriodEnd,
		"updated_at":           now,
	}
	if update.Tier != "" {
		set["tier"] = update.Tier
	}
	if update.Plan != "" {
		set["plan"] = update.Plan
	}
	if update.Status != "" {
		set["subscription_status"] = update.Status
	}
	if update.Email != "" {
		set["email"] = update.Email
	}
	if update.CustomerID != "" {
		set["customer_id"] = update.CustomerID
	}
	if update.SubscriptionID != "" {
		set["subscription_id"] = update.SubscriptionID
	}
	if update.CurrentPeriodEnd != nil {
		set["current_period_end"] = update.CurrentPeriodEnd.UTC()
	}

	setOnInsert := bson.M{
		"_id":        primitive.NewObjectID(),
		"user_id":    userID,
		"created_at": now,
	}
	if update.Tier == "" {
		setOnInsert["tier"] = domain.TierFree
	}

	_, err := r.collection.UpdateOne(ctx,
		bson.M{"user_id": userID},
		bson.M{"$set": set, "$setOnInsert": setOnInsert},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to update profile billing: %w", err)
	}
	return nil
}
