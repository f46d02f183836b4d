package asr

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	asrDomain "brokle/internal/core/domain/asr"
	"brokle/pkg/ulid"
)

// schedulerService implements asr.Scheduler (§4.D, component D).
type schedulerService struct {
	registry    asrDomain.ProviderRegistry
	pricingRepo asrDomain.PricingRepository
	periodRepo  asrDomain.PeriodRepository
	quotaRepo   asrDomain.QuotaRepository
	health      asrDomain.HealthChecker
	logger      *logrus.Logger
}

// NewSchedulerService constructs the multi-criteria provider scheduler.
func NewSchedulerService(
	registry asrDomain.ProviderRegistry,
	pricingRepo asrDomain.PricingRepository,
	periodRepo asrDomain.PeriodRepository,
	quotaRepo asrDomain.QuotaRepository,
	health asrDomain.HealthChecker,
	logger *logrus.Logger,
) asrDomain.Scheduler {
	return &schedulerService{
		registry:    registry,
		pricingRepo: pricingRepo,
		periodRepo:  periodRepo,
		quotaRepo:   quotaRepo,
		health:      health,
		logger:      logger,
	}
}

// candidateSet intersects the registered providers with preferredProviders,
// falling back to the full set when the intersection is empty (§4.D step 1).
func candidateSet(all []string, preferred []string) []string {
	if len(preferred) == 0 {
		return all
	}

	want := make(map[string]struct{}, len(preferred))
	for _, p := range preferred {
		want[p] = struct{}{}
	}

	var out []string
	for _, p := range all {
		if _, ok := want[p]; ok {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return all
	}
	return out
}

func (s *schedulerService) Schedule(ctx context.Context, req asrDomain.SchedulingRequest) (*asrDomain.SchedulingResult, error) {
	logger := s.logger.WithFields(logrus.Fields{
		"variant":  req.Variant,
		"features": req.Features,
	})

	now := time.Now().UTC()
	all := s.registry.Providers()
	candidates := candidateSet(all, req.PreferredProviders)
	weights := s.selectWeights(req)

	var table []asrDomain.CandidateScore
	var scored []asrDomain.CandidateScore

	for _, provider := range candidates {
		if _, ok := s.registry.Get(provider, req.Variant); !ok {
			continue
		}

		pricing, err := s.pricingRepo.Get(ctx, provider, req.Variant)
		if err != nil || pricing == nil || !pricing.IsEnabled {
			table = append(table, asrDomain.CandidateScore{Provider: provider, Variant: req.Variant, DroppedReason: "not_orchestratable"})
			continue
		}

		eligible, reason, err := s.passesEligibility(ctx, req.UserID, provider, req.Variant, pricing, now)
		if err != nil {
			return nil, err
		}
		if !eligible {
			table = append(table, asrDomain.CandidateScore{Provider: provider, Variant: req.Variant, DroppedReason: reason})
			continue
		}

		score, err := s.score(ctx, req, provider, pricing, now)
		if err != nil {
			return nil, err
		}
		if score.DroppedReason != "" {
			table = append(table, score)
			continue
		}

		score.Total = weights.FreeQuota*score.FreeQuota +
			weights.Health*score.Health +
			weights.Cost*score.Cost +
			weights.Quota*score.Quota +
			weights.Quality*score.Quality +
			weights.Features*score.Features

		table = append(table, score)
		scored = append(scored, score)
	}

	if len(scored) == 0 {
		logger.Warn("no viable provider after scoring")
		return &asrDomain.SchedulingResult{Table: table}, asrDomain.NewTaskError(asrDomain.ErrAllProvidersExhausted, "no scored candidate survived eligibility and health filtering")
	}

	// Stable tie-break: scored preserves candidate-list order, so the first
	// maximum encountered wins (§4.D step 5, §8 scheduler fairness property).
	best := scored[0]
	for _, c := range scored[1:] {
		if c.Total > best.Total {
			best = c
		}
	}

	logger.WithFields(logrus.Fields{"winner": best.Provider, "score": best.Total}).Info("scheduled provider")
	observeSchedulerDecision(best.Provider, best.Variant)

	return &asrDomain.SchedulingResult{
		Provider: best.Provider,
		Variant:  best.Variant,
		Table:    table,
	}, nil
}

func (s *schedulerService) selectWeights(req asrDomain.SchedulingRequest) asrDomain.ScoreWeights {
	if req.Weights != nil {
		return *req.Weights
	}
	if req.Features.Diarization || req.Features.WordLevel {
		return asrDomain.FeatureSensitiveWeights
	}
	return asrDomain.DefaultWeights
}

// passesEligibility implements §4.D step 2: available ∪ has_free_remaining ∪ unlimited.
func (s *schedulerService) passesEligibility(ctx context.Context, userID *ulid.ULID, provider, variant string, pricing *asrDomain.PricingConfig, now time.Time) (bool, string, error) {
	hasFreeRemaining := false
	if pricing.FreeQuotaSeconds > 0 {
		periodType, start, end := derivePeriod(pricing.ResetPeriod, now)
		period, err := s.periodRepo.GetOrCreate(ctx, userID, provider, variant, periodType, start, end)
		if err != nil {
			return false, "", err
		}
		hasFreeRemaining = period.FreeQuotaUsed < pricing.FreeQuotaSeconds
	}

	if hasFreeRemaining {
		return true, "", nil
	}

	if userID == nil {
		return true, "", nil
	}

	rows, err := s.quotaRepo.ListCovering(ctx, *userID, provider, variant, now)
	if err != nil {
		return false, "", err
	}
	if len(rows) == 0 {
		// unlimited: no quota row exists for this provider at all.
		return true, "", nil
	}

	effective := effectiveSet(rows, *userID)
	for _, row := range effective {
		if row.Status == asrDomain.QuotaRowStatusExhausted || row.QuotaSeconds <= 0 || row.UsedSeconds >= row.QuotaSeconds {
			continue
		}
		return true, "", nil
	}

	return false, "quota_exhausted_and_no_free_remaining", nil
}

// score computes the six §4.D step 3 sub-scores for one candidate.
func (s *schedulerService) score(ctx context.Context, req asrDomain.SchedulingRequest, provider string, pricing *asrDomain.PricingConfig, now time.Time) (asrDomain.CandidateScore, error) {
	result := asrDomain.CandidateScore{Provider: provider, Variant: req.Variant}

	var healthStatus asrDomain.HealthStatus
	if s.health != nil {
		hs, err := s.health.Check(ctx, provider, req.Variant)
		if err != nil {
			healthStatus = asrDomain.HealthStatusHealthy // checker failure -> treat as 1.0
		} else {
			healthStatus = hs
		}
	} else {
		healthStatus = asrDomain.HealthStatusHealthy
	}

	switch healthStatus {
	case asrDomain.HealthStatusHealthy:
		result.Health = 1.0
	case asrDomain.HealthStatusUnhealthy:
		result.DroppedReason = "unhealthy"
		return result, nil
	default:
		result.Health = 0.5
	}

	if pricing.FreeQuotaSeconds > 0 {
		periodType, start, end := derivePeriod(pricing.ResetPeriod, now)
		period, err := s.periodRepo.GetOrCreate(ctx, req.UserID, provider, req.Variant, periodType, start, end)
		if err != nil {
			return result, err
		}
		remaining := pricing.FreeQuotaSeconds - period.FreeQuotaUsed
		if remaining < 0 {
			remaining = 0
		}
		result.FreeQuota = remaining / pricing.FreeQuotaSeconds
	}

	result.Cost = maxFloat(0, 1-pricing.CostPerHour/5.0)
	result.Quota = s.quotaScore(ctx, req.UserID, provider, req.Variant, now)

	// pricing is non-nil here (absent pricing is dropped earlier as
	// not_orchestratable), so a zero QualityScore is a real value, not a
	// missing one; the 0.8 default belongs only to the absent-pricing case.
	result.Quality = pricing.QualityScore

	if !req.Features.Any() {
		result.Features = 0.5
	} else {
		matched := req.Features.Matched(pricing.SupportsDiarization, pricing.SupportsWordLevel)
		required := req.Features.Required()
		if required > 0 {
			result.Features = float64(matched) / float64(required)
		}
	}

	return result, nil
}

func (s *schedulerService) quotaScore(ctx context.Context, userID *ulid.ULID, provider, variant string, now time.Time) float64 {
	if userID == nil {
		return 1.0
	}
	rows, err := s.quotaRepo.ListCovering(ctx, *userID, provider, variant, now)
	if err != nil {
		return 1.0
	}
	effective := effectiveSet(rows, *userID)
	if len(effective) == 0 {
		return 1.0
	}

	var sumQuota, sumUsed float64
	for _, row := range effective {
		sumQuota += row.QuotaSeconds
		sumUsed += row.UsedSeconds
	}
	if sumQuota == 0 {
		return 0
	}
	ratio := (sumQuota - sumUsed) / sumQuota
	if ratio < 0 {
		ratio = 0
	}
	return ratio
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
