package asr

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	asrDomain "brokle/internal/core/domain/asr"
	"brokle/pkg/ulid"
)

// periodService implements asr.PeriodAccountant (§4.B, component B).
type periodService struct {
	transactor  asrDomain.Transactor
	periodRepo  asrDomain.PeriodRepository
	pricingRepo asrDomain.PricingRepository
	logger      *slog.Logger
}

// NewPeriodService constructs the platform free-quota accountant.
func NewPeriodService(
	transactor asrDomain.Transactor,
	periodRepo asrDomain.PeriodRepository,
	pricingRepo asrDomain.PricingRepository,
	logger *slog.Logger,
) asrDomain.PeriodAccountant {
	return &periodService{
		transactor:  transactor,
		periodRepo:  periodRepo,
		pricingRepo: pricingRepo,
		logger:      logger,
	}
}

// derivePeriod computes (period_type, period_start, period_end) from a
// pricing config's reset_period (§4.B).
func derivePeriod(resetPeriod asrDomain.ResetPeriod, now time.Time) (asrDomain.PeriodType, time.Time, time.Time) {
	now = now.UTC()

	switch resetPeriod {
	case asrDomain.ResetPeriodMonthly:
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		end := start.AddDate(0, 1, 0)
		return asrDomain.PeriodTypeMonth, start, end
	case asrDomain.ResetPeriodYearly:
		start := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
		end := start.AddDate(1, 0, 0)
		return asrDomain.PeriodTypeYear, start, end
	default: // none
		start := time.Date(1970, time.January, 1, 0, 0, 0, 0, time.UTC)
		end := time.Date(2099, time.December, 31, 23, 59, 59, 999999000, time.UTC)
		return asrDomain.PeriodTypeTotal, start, end
	}
}

func (s *periodService) currentPeriodRow(ctx context.Context, provider, variant string, ownerUserID *ulid.ULID, now time.Time) (*asrDomain.UsagePeriod, *asrDomain.PricingConfig, error) {
	pricing, err := s.pricingRepo.Get(ctx, provider, variant)
	if err != nil {
		return nil, nil, fmt.Errorf("load pricing for %s/%s: %w", provider, variant, err)
	}

	periodType, start, end := derivePeriod(pricing.ResetPeriod, now)

	period, err := s.periodRepo.GetOrCreate(ctx, ownerUserID, provider, variant, periodType, start, end)
	if err != nil {
		return nil, nil, fmt.Errorf("get or create period for %s/%s: %w", provider, variant, err)
	}

	return period, pricing, nil
}

// RemainingFree implements asr.PeriodAccountant.
func (s *periodService) RemainingFree(ctx context.Context, provider, variant string, ownerUserID *ulid.ULID, now time.Time) (float64, error) {
	period, pricing, err := s.currentPeriodRow(ctx, provider, variant, ownerUserID, now)
	if err != nil {
		return 0, err
	}

	if pricing.FreeQuotaSeconds <= 0 {
		return 0, nil
	}

	remaining := pricing.FreeQuotaSeconds - period.FreeQuotaUsed
	if remaining < 0 {
		return 0, nil
	}
	return remaining, nil
}

// ConsumeQuota implements asr.PeriodAccountant. It takes a row-level lock on
// the period row for the duration of the mutation so two concurrent callers
// on the same period serialize (§5).
func (s *periodService) ConsumeQuota(ctx context.Context, provider, variant string, duration float64, ownerUserID *ulid.ULID, now time.Time) (asrDomain.ConsumptionResult, error) {
	period, pricing, err := s.currentPeriodRow(ctx, provider, variant, ownerUserID, now)
	if err != nil {
		return asrDomain.ConsumptionResult{}, err
	}

	var result asrDomain.ConsumptionResult

	err = s.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		locked, err := s.periodRepo.GetForUpdate(ctx, period.ID)
		if err != nil {
			return fmt.Errorf("lock period %s: %w", period.ID, err)
		}

		free := duration
		if pricing.FreeQuotaSeconds-locked.FreeQuotaUsed < free {
			free = pricing.FreeQuotaSeconds - locked.FreeQuotaUsed
		}
		if free < 0 {
			free = 0
		}
		paid := duration - free
		cost := paid / 3600 * pricing.CostPerHour

		locked.UsedSeconds += duration
		locked.FreeQuotaUsed += free
		locked.PaidSeconds += paid
		locked.TotalCost += cost

		if err := s.periodRepo.Update(ctx, locked); err != nil {
			return fmt.Errorf("update period %s: %w", locked.ID, err)
		}

		remaining := pricing.FreeQuotaSeconds - locked.FreeQuotaUsed
		if remaining < 0 {
			remaining = 0
		}

		result = asrDomain.ConsumptionResult{
			FreeSeconds:   free,
			PaidSeconds:   paid,
			Cost:          cost,
			RemainingFree: remaining,
		}
		return nil
	})
	if err != nil {
		return asrDomain.ConsumptionResult{}, err
	}

	s.logger.Debug("consumed quota period",
		"provider", provider,
		"variant", variant,
		"duration", duration,
		"free", result.FreeSeconds,
		"paid", result.PaidSeconds,
		"cost", result.Cost,
	)
	observeQuotaConsumption(provider, variant, result.FreeSeconds, result.PaidSeconds)

	return result, nil
}

// EstimateCost implements asr.PeriodAccountant: the pure version of
// ConsumeQuota, using a snapshot RemainingFree with no row lock or write.
func (s *periodService) EstimateCost(ctx context.Context, provider, variant string, duration float64, ownerUserID *ulid.ULID, now time.Time) (asrDomain.ConsumptionResult, error) {
	period, pricing, err := s.currentPeriodRow(ctx, provider, variant, ownerUserID, now)
	if err != nil {
		return asrDomain.ConsumptionResult{}, err
	}

	remainingFree := pricing.FreeQuotaSeconds - period.FreeQuotaUsed
	if remainingFree < 0 {
		remainingFree = 0
	}

	free := duration
	if remainingFree < free {
		free = remainingFree
	}
	paid := duration - free
	cost := paid / 3600 * pricing.CostPerHour

	return asrDomain.ConsumptionResult{
		FreeSeconds:   free,
		PaidSeconds:   paid,
		Cost:          cost,
		RemainingFree: remainingFree - free,
	}, nil
}
