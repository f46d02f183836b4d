package asr

import (
	"context"
	"time"

	"brokle/pkg/ulid"
)

// PricingService is the pricing registry port (§4.A, component A).
type PricingService interface {
	Get(ctx context.Context, provider, variant string) (*PricingConfig, error)
	ListEnabled(ctx context.Context) ([]*PricingConfig, error)
	ListWithFreeTier(ctx context.Context) ([]*PricingConfig, error)

	// Upsert is the administrative writer (§6). It MUST invalidate any cache
	// entry for (provider, variant) before returning.
	Upsert(ctx context.Context, cfg *PricingConfig) error
}

// PeriodAccountant is the platform free-quota accountant port (§4.B, component B).
type PeriodAccountant interface {
	// RemainingFree returns max(0, free_quota_seconds - free_quota_used) for
	// the current period, or 0 when no free tier is configured. Creates the
	// period row on read.
	RemainingFree(ctx context.Context, provider, variant string, ownerUserID *ulid.ULID, now time.Time) (float64, error)

	// ConsumeQuota atomically splits duration into free/paid seconds against
	// the current period and commits the counters.
	ConsumeQuota(ctx context.Context, provider, variant string, duration float64, ownerUserID *ulid.ULID, now time.Time) (ConsumptionResult, error)

	// EstimateCost is the pure, non-mutating version of ConsumeQuota.
	EstimateCost(ctx context.Context, provider, variant string, duration float64, ownerUserID *ulid.ULID, now time.Time) (ConsumptionResult, error)
}

// QuotaLimiter is the user-quota limiter port (§4.C, component C).
type QuotaLimiter interface {
	// Available reports whether (provider, variant) is currently available
	// to userID under the precedence rule in §4.C step 2-3.
	Available(ctx context.Context, userID ulid.ULID, provider, variant string, now time.Time) (bool, error)

	// RecordUsage increments used_seconds on the effective row set and
	// recomputes status; see §4.C RecordUsage.
	RecordUsage(ctx context.Context, userID ulid.ULID, provider, variant string, duration float64, now time.Time) error

	// UpsertQuota is the administrative writer (§4.C UpsertQuota / §6).
	UpsertQuota(ctx context.Context, req UpsertQuotaRequest) (*UserQuota, error)

	// HasAnyQuotaRow reports whether any quota row exists for (provider, variant)
	// covering now for this user (used by the scheduler's "unlimited" set, §4.D step 2).
	HasAnyQuotaRow(ctx context.Context, userID ulid.ULID, provider, variant string, now time.Time) (bool, error)
}

// UpsertQuotaRequest is the administrative input to QuotaLimiter.UpsertQuota (§4.C).
type UpsertQuotaRequest struct {
	OwnerUserID  *ulid.ULID
	Provider     string
	Variant      string
	WindowType   WindowType
	WindowStart  *time.Time // required when WindowType == WindowTypeTotal and caller supplies explicit bounds
	WindowEnd    *time.Time
	QuotaSeconds float64
	UsedSeconds  *float64 // explicit override, takes precedence over Reset
	Reset        bool
}

// HealthChecker is the scheduler's provider-health collaborator (§4.D health dimension).
type HealthChecker interface {
	Check(ctx context.Context, provider, variant string) (HealthStatus, error)
}

// ProviderCapability is the inbound contract every ASR provider implementation
// satisfies (§6 external interfaces). Settlement takes the reported duration verbatim.
type ProviderCapability interface {
	Transcribe(ctx context.Context, audioReference string) ([]TranscriptSegment, float64, error)
}

// ProviderRegistry is the process-wide, read-only "service-type name ->
// provider implementation" table (§9 Design Notes: "model it as an explicit
// dependency", not an ambient singleton).
type ProviderRegistry interface {
	Providers() []string
	Get(provider, variant string) (ProviderCapability, bool)
}

// Scheduler is the multi-criteria provider scheduler port (§4.D, component D).
type Scheduler interface {
	Schedule(ctx context.Context, req SchedulingRequest) (*SchedulingResult, error)
}

// VideoProbe validates that a third-party video URL is reachable before a
// youtube/bilibili task is queued (§6, 15s per-call / 20s total budget).
type VideoProbe interface {
	Probe(ctx context.Context, sourceURL string) error
}

// JobPublisher is the outbound port the pre-check gate uses to hand a queued
// task to the worker runtime exactly once (§6 exit condition).
type JobPublisher interface {
	PublishJob(ctx context.Context, job JobDescriptor) error
}

// PrecheckGate is the task-creation pre-check port (§4.E, component E).
type PrecheckGate interface {
	CreateTask(ctx context.Context, req CreateTaskRequest) (*Task, error)
}

// SettlementService is the post-execution settlement port (§4.F, component F).
type SettlementService interface {
	Settle(ctx context.Context, input SettlementInput) (*UsageLedgerEntry, error)
}
