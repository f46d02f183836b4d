package asr

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	asrDomain "brokle/internal/core/domain/asr"
	"brokle/pkg/ulid"
)

// fakeTransactor runs fn directly; the in-memory fakes below hold their own
// mutex so this is enough to exercise the "one transaction spans every
// mutation" contract without a real database (§5).
type fakeTransactor struct{}

func (fakeTransactor) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fakePricingRepo struct {
	mu   sync.Mutex
	byID map[string]*asrDomain.PricingConfig
}

func newFakePricingRepo(cfgs ...*asrDomain.PricingConfig) *fakePricingRepo {
	r := &fakePricingRepo{byID: map[string]*asrDomain.PricingConfig{}}
	for _, c := range cfgs {
		r.byID[c.Provider+"/"+c.Variant] = c
	}
	return r
}

func (r *fakePricingRepo) Get(ctx context.Context, provider, variant string) (*asrDomain.PricingConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.byID[provider+"/"+variant]
	if !ok {
		return nil, asrDomain.ErrPricingNotFound
	}
	return cfg, nil
}

func (r *fakePricingRepo) ListEnabled(ctx context.Context) ([]*asrDomain.PricingConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*asrDomain.PricingConfig
	for _, c := range r.byID {
		if c.IsEnabled {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *fakePricingRepo) ListWithFreeTier(ctx context.Context) ([]*asrDomain.PricingConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*asrDomain.PricingConfig
	for _, c := range r.byID {
		if c.FreeQuotaSeconds > 0 {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *fakePricingRepo) Upsert(ctx context.Context, cfg *asrDomain.PricingConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[cfg.Provider+"/"+cfg.Variant] = cfg
	return nil
}

// fakePeriodRepo mimics the unique-key-conflict-resolves-to-a-fetch
// behavior GetOrCreate must have under concurrent races (§4.B, §5).
type fakePeriodRepo struct {
	mu   sync.Mutex
	rows map[string]*asrDomain.UsagePeriod
}

func newFakePeriodRepo() *fakePeriodRepo {
	return &fakePeriodRepo{rows: map[string]*asrDomain.UsagePeriod{}}
}

func periodKey(owner *ulid.ULID, provider, variant string, periodType asrDomain.PeriodType, start time.Time) string {
	o := "nil"
	if owner != nil {
		o = owner.String()
	}
	return o + "|" + provider + "|" + variant + "|" + string(periodType) + "|" + start.String()
}

func (r *fakePeriodRepo) GetOrCreate(ctx context.Context, owner *ulid.ULID, provider, variant string, periodType asrDomain.PeriodType, start, end time.Time) (*asrDomain.UsagePeriod, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := periodKey(owner, provider, variant, periodType, start)
	if row, ok := r.rows[key]; ok {
		return row, nil
	}
	row := &asrDomain.UsagePeriod{
		ID:          ulid.New(),
		OwnerUserID: owner,
		Provider:    provider,
		Variant:     variant,
		PeriodType:  periodType,
		PeriodStart: start,
		PeriodEnd:   end,
	}
	r.rows[key] = row
	return row, nil
}

func (r *fakePeriodRepo) GetForUpdate(ctx context.Context, id ulid.ULID) (*asrDomain.UsagePeriod, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.ID == id {
			cp := *row
			return &cp, nil
		}
	}
	return nil, asrDomain.ErrPeriodNotFound
}

func (r *fakePeriodRepo) Update(ctx context.Context, period *asrDomain.UsagePeriod) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, row := range r.rows {
		if row.ID == period.ID {
			r.rows[key] = period
			return nil
		}
	}
	return asrDomain.ErrPeriodNotFound
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nil, &slog.HandlerOptions{Level: slog.LevelError}))
}

// scenario 1 from §8: first consumption against a fresh monthly free tier.
func TestConsumeQuota_FirstConsumption(t *testing.T) {
	pricing := newFakePricingRepo(&asrDomain.PricingConfig{
		Provider: "tencent", Variant: "file_fast",
		CostPerHour: 3.10, FreeQuotaSeconds: 18000,
		ResetPeriod: asrDomain.ResetPeriodMonthly, IsEnabled: true,
	})
	periods := newFakePeriodRepo()
	svc := NewPeriodService(fakeTransactor{}, periods, pricing, testLogger())

	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	result, err := svc.ConsumeQuota(context.Background(), "tencent", "file_fast", 600, nil, now)
	require.NoError(t, err)

	assert.Equal(t, 600.0, result.FreeSeconds)
	assert.Equal(t, 0.0, result.PaidSeconds)
	assert.Equal(t, 0.0, result.Cost)
	assert.Equal(t, 17400.0, result.RemainingFree)
}

// scenario 2 from §8: spillover into paid once free tier is nearly exhausted.
func TestConsumeQuota_Spillover(t *testing.T) {
	pricing := newFakePricingRepo(&asrDomain.PricingConfig{
		Provider: "tencent", Variant: "file_fast",
		CostPerHour: 3.10, FreeQuotaSeconds: 18000,
		ResetPeriod: asrDomain.ResetPeriodMonthly, IsEnabled: true,
	})
	periods := newFakePeriodRepo()
	svc := NewPeriodService(fakeTransactor{}, periods, pricing, testLogger())

	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	_, err := svc.ConsumeQuota(context.Background(), "tencent", "file_fast", 17900, nil, now)
	require.NoError(t, err)

	result, err := svc.ConsumeQuota(context.Background(), "tencent", "file_fast", 300, nil, now)
	require.NoError(t, err)

	assert.InDelta(t, 100.0, result.FreeSeconds, 1e-9)
	assert.InDelta(t, 200.0, result.PaidSeconds, 1e-9)
	assert.InDelta(t, 200.0/3600*3.10, result.Cost, 1e-9)
	assert.Equal(t, 0.0, result.RemainingFree)
}

// scenario 3 from §8: no free tier configured, everything is paid.
func TestConsumeQuota_NoFreeTier(t *testing.T) {
	pricing := newFakePricingRepo(&asrDomain.PricingConfig{
		Provider: "aliyun", Variant: "file",
		CostPerHour: 2.5, FreeQuotaSeconds: 0,
		ResetPeriod: asrDomain.ResetPeriodNone, IsEnabled: true,
	})
	periods := newFakePeriodRepo()
	svc := NewPeriodService(fakeTransactor{}, periods, pricing, testLogger())

	result, err := svc.ConsumeQuota(context.Background(), "aliyun", "file", 3600, nil, time.Now())
	require.NoError(t, err)

	assert.Equal(t, 0.0, result.FreeSeconds)
	assert.Equal(t, 3600.0, result.PaidSeconds)
	assert.Equal(t, 2.5, result.Cost)
	assert.Equal(t, 0.0, result.RemainingFree)
}

// §8 boundary behaviour: consuming exactly the remainder leaves paid=0, and
// the very next epsilon of consumption is entirely paid.
func TestConsumeQuota_ExactRemainderThenEpsilonIsPaid(t *testing.T) {
	pricing := newFakePricingRepo(&asrDomain.PricingConfig{
		Provider: "volcengine", Variant: "file",
		CostPerHour: 1.0, FreeQuotaSeconds: 1000,
		ResetPeriod: asrDomain.ResetPeriodMonthly, IsEnabled: true,
	})
	periods := newFakePeriodRepo()
	svc := NewPeriodService(fakeTransactor{}, periods, pricing, testLogger())

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	first, err := svc.ConsumeQuota(context.Background(), "volcengine", "file", 1000, nil, now)
	require.NoError(t, err)
	assert.Equal(t, 0.0, first.PaidSeconds)
	assert.Equal(t, 0.0, first.Cost)

	second, err := svc.ConsumeQuota(context.Background(), "volcengine", "file", 0.001, nil, now)
	require.NoError(t, err)
	assert.Equal(t, 0.0, second.FreeSeconds)
	assert.InDelta(t, 0.001, second.PaidSeconds, 1e-9)
}

// §8 conservation + free-cap invariants, checked after every mutation.
func TestConsumeQuota_ConservationAndFreeCapInvariants(t *testing.T) {
	pricing := newFakePricingRepo(&asrDomain.PricingConfig{
		Provider: "tencent", Variant: "file_fast",
		CostPerHour: 3.10, FreeQuotaSeconds: 18000,
		ResetPeriod: asrDomain.ResetPeriodMonthly, IsEnabled: true,
	})
	periods := newFakePeriodRepo()
	svc := NewPeriodService(fakeTransactor{}, periods, pricing, testLogger())

	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	durations := []float64{5000, 6000, 8000, 3000, 1000}
	for _, d := range durations {
		_, err := svc.ConsumeQuota(context.Background(), "tencent", "file_fast", d, nil, now)
		require.NoError(t, err)

		for _, row := range periods.rows {
			assert.LessOrEqual(t, row.FreeQuotaUsed, 18000.0, "free-cap invariant violated")
			assert.InDelta(t, row.FreeQuotaUsed+row.PaidSeconds, row.UsedSeconds, 1e-9, "conservation invariant violated")
		}
	}
}

// §8 period rollover: a consumption at month-end writes to the old period;
// one at the next instant lazily creates a fresh, zeroed period.
func TestConsumeQuota_PeriodRolloverAtMonthBoundary(t *testing.T) {
	pricing := newFakePricingRepo(&asrDomain.PricingConfig{
		Provider: "tencent", Variant: "file_fast",
		CostPerHour: 3.10, FreeQuotaSeconds: 18000,
		ResetPeriod: asrDomain.ResetPeriodMonthly, IsEnabled: true,
	})
	periods := newFakePeriodRepo()
	svc := NewPeriodService(fakeTransactor{}, periods, pricing, testLogger())

	lastInstant := time.Date(2026, 1, 31, 23, 59, 59, 999999000, time.UTC)
	_, err := svc.ConsumeQuota(context.Background(), "tencent", "file_fast", 500, nil, lastInstant)
	require.NoError(t, err)

	firstInstant := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	result, err := svc.ConsumeQuota(context.Background(), "tencent", "file_fast", 100, nil, firstInstant)
	require.NoError(t, err)

	assert.Equal(t, 100.0, result.FreeSeconds, "new period should start from zero free_quota_used")
	assert.Len(t, periods.rows, 2, "rollover must create a distinct period row")
}

// §8 round-trip: EstimateCost must agree with ConsumeQuota applied to the
// same snapshot.
func TestEstimateCost_MatchesConsumeQuota(t *testing.T) {
	pricing := newFakePricingRepo(&asrDomain.PricingConfig{
		Provider: "tencent", Variant: "file_fast",
		CostPerHour: 3.10, FreeQuotaSeconds: 18000,
		ResetPeriod: asrDomain.ResetPeriodMonthly, IsEnabled: true,
	})
	periods := newFakePeriodRepo()
	svc := NewPeriodService(fakeTransactor{}, periods, pricing, testLogger())

	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	_, err := svc.ConsumeQuota(context.Background(), "tencent", "file_fast", 17900, nil, now)
	require.NoError(t, err)

	estimate, err := svc.EstimateCost(context.Background(), "tencent", "file_fast", 300, nil, now)
	require.NoError(t, err)

	consumed, err := svc.ConsumeQuota(context.Background(), "tencent", "file_fast", 300, nil, now)
	require.NoError(t, err)

	assert.Equal(t, estimate.FreeSeconds, consumed.FreeSeconds)
	assert.Equal(t, estimate.PaidSeconds, consumed.PaidSeconds)
	assert.InDelta(t, estimate.Cost, consumed.Cost, 1e-9)
}

func TestRemainingFree_NoFreeTierConfigured(t *testing.T) {
	pricing := newFakePricingRepo(&asrDomain.PricingConfig{
		Provider: "aliyun", Variant: "file",
		CostPerHour: 2.5, FreeQuotaSeconds: 0,
		ResetPeriod: asrDomain.ResetPeriodNone, IsEnabled: true,
	})
	periods := newFakePeriodRepo()
	svc := NewPeriodService(fakeTransactor{}, periods, pricing, testLogger())

	remaining, err := svc.RemainingFree(context.Background(), "aliyun", "file", nil, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0.0, remaining)
}
