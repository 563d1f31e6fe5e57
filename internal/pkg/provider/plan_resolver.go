package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/abeldemoz/birrledger/app/models"
	"github.com/abeldemoz/birrledger/internal/pkg/cache"
)

const planRefCacheTTL = 24 * time.Hour

// PlanStore persists provider-side plan identifiers.
type PlanStore interface {
	GetProviderPlanRef(providerName string, planID uint) (string, error)
	SaveProviderPlanRef(providerName string, planID uint, externalID string) error
}

// PlanResolver memoizes EnsurePlanExists per (provider, plan): first the
// cache, then the database, and only then the remote create. Providers only
// ever see one plan object per local plan.
type PlanResolver struct {
	store PlanStore
}

func NewPlanResolver(store PlanStore) *PlanResolver {
	return &PlanResolver{store: store}
}

func (r *PlanResolver) cacheKey(providerName string, planID uint) string {
	return fmt.Sprintf("provider_plan:%s:%d", providerName, planID)
}

// Ensure returns the provider-side plan ID, creating it remotely on first use.
func (r *PlanResolver) Ensure(ctx context.Context, adapter Adapter, plan models.SubscriptionPlan) (string, error) {
	key := r.cacheKey(adapter.Name(), plan.ID)
	if ref, err := cache.Get(key); err == nil && ref != "" {
		return ref, nil
	}

	if ref, err := r.store.GetProviderPlanRef(adapter.Name(), plan.ID); err == nil && ref != "" {
		_ = cache.Set(key, ref, planRefCacheTTL)
		return ref, nil
	}

	ref, err := adapter.EnsurePlanExists(ctx, plan)
	if err != nil {
		return "", err
	}
	if err := r.store.SaveProviderPlanRef(adapter.Name(), plan.ID, ref); err != nil {
		return "", fmt.Errorf("persist provider plan ref: %w", err)
	}
	_ = cache.Set(key, ref, planRefCacheTTL)
	return ref, nil
}
