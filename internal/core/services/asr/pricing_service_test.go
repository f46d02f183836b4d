package asr

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	asrDomain "brokle/internal/core/domain/asr"
)

func TestPricingService_GetCachesAfterFirstRead(t *testing.T) {
	repo := newFakePricingRepo(&asrDomain.PricingConfig{
		Provider: "tencent", Variant: "file_fast", CostPerHour: 3.10, IsEnabled: true,
	})
	svc := NewPricingService(repo, nil, testLogger())

	first, err := svc.Get(context.Background(), "tencent", "file_fast")
	require.NoError(t, err)
	assert.Equal(t, 3.10, first.CostPerHour)

	// Replace the backing repo's row directly; Get must still serve the cached value.
	repo.byID["tencent/file_fast"] = &asrDomain.PricingConfig{
		Provider: "tencent", Variant: "file_fast", CostPerHour: 9.99, IsEnabled: true,
	}
	cached, err := svc.Get(context.Background(), "tencent", "file_fast")
	require.NoError(t, err)
	assert.Equal(t, 3.10, cached.CostPerHour, "cached read must not observe the uncached repo mutation")
}

func TestPricingService_UpsertInvalidatesCache(t *testing.T) {
	repo := newFakePricingRepo(&asrDomain.PricingConfig{
		Provider: "tencent", Variant: "file_fast", CostPerHour: 3.10, IsEnabled: true,
		ResetPeriod: asrDomain.ResetPeriodNone,
	})
	svc := NewPricingService(repo, nil, testLogger())

	_, err := svc.Get(context.Background(), "tencent", "file_fast")
	require.NoError(t, err)

	updated := &asrDomain.PricingConfig{
		Provider: "tencent", Variant: "file_fast", CostPerHour: 5.0, IsEnabled: true,
		ResetPeriod: asrDomain.ResetPeriodNone,
	}
	require.NoError(t, svc.Upsert(context.Background(), updated))

	fresh, err := svc.Get(context.Background(), "tencent", "file_fast")
	require.NoError(t, err)
	assert.Equal(t, 5.0, fresh.CostPerHour, "upsert must invalidate the cache so the next Get reflects the write")
}

func TestPricingService_UpsertRejectsInvalidConfig(t *testing.T) {
	repo := newFakePricingRepo()
	svc := NewPricingService(repo, nil, testLogger())

	err := svc.Upsert(context.Background(), &asrDomain.PricingConfig{
		Provider: "tencent", Variant: "file_fast",
		FreeQuotaSeconds: 100, ResetPeriod: asrDomain.ResetPeriodNone,
	})
	require.Error(t, err)
	assert.Equal(t, asrDomain.KindInvalidParameter, asrDomain.KindOf(err))
}
