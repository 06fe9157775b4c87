package repository

import (
	"context"
	"time"

	"github.com/mansoorceksport/paywall/internal/domain"
)

const (
	profileKeyPrefix = "profile:user:"
	profileCacheTTL  = 5 * time.Minute
)

// CachedProfileRepository wraps a profile store with Redis read-through caching
type CachedProfileRepository struct {
	store domain.ProfileRepository
	cache *RedisCacheRepository
}

// NewCachedProfileRepository creates a new cached profile repository
func NewCachedProfileRepository(store domain.ProfileRepository, cache *RedisCacheRepository) *CachedProfileRepository {
	return &CachedProfileRepository{
		store: store,
		cache: cache,
	}
}

// GetByUserID retrieves a profile with caching
func (r *CachedProfileRepository) GetByUserID(ctx context.Context, userID string) (*domain.Profile, error) {
	key := profileKeyPrefix + userID

	var profile domain.Profile
	if err := r.cache.Get(ctx, key, &profile); err == nil {
		return &profile, nil
	}

	result, err := r.store.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	// Store in cache (ignore cache errors)
	_ = r.cache.Set(ctx, key, result, profileCacheTTL)

	return result, nil
}

// UpdateBilling writes through and invalidates the cached profile
func (r *CachedProfileRepository) UpdateBilling(ctx context.Context, userID string, update domain.BillingUpdate) error {
	if err := r.store.UpdateBilling(ctx, userID, update); err != nil {
		return err
	}

	_ = r.cache.Delete(ctx, profileKeyPrefix+userID)
	return nil
}
