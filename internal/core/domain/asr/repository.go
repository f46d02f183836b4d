package asr

import (
	"context"
	"time"

	"brokle/pkg/ulid"
)

// PricingRepository is the persistence port for the pricing registry (§4.A).
type PricingRepository interface {
	Get(ctx context.Context, provider, variant string) (*PricingConfig, error)
	ListEnabled(ctx context.Context) ([]*PricingConfig, error)
	ListWithFreeTier(ctx context.Context) ([]*PricingConfig, error)
	Upsert(ctx context.Context, cfg *PricingConfig) error
}

// PeriodRepository is the persistence port for the period accountant (§4.B).
// GetForUpdate and the Consume* methods MUST run inside a transaction that
// holds a row-level lock for the duration of the caller's mutation (§5).
type PeriodRepository interface {
	// GetOrCreate returns the unique row for the derived key, creating one
	// with all counters at zero when absent. Insertion races are resolved by
	// unique-key conflict, not by locking (§4.B, §5).
	GetOrCreate(ctx context.Context, ownerUserID *ulid.ULID, provider, variant string, periodType PeriodType, periodStart, periodEnd time.Time) (*UsagePeriod, error)

	// GetForUpdate loads the row with a row-level exclusive lock. The row
	// must already exist (call GetOrCreate first).
	GetForUpdate(ctx context.Context, id ulid.ULID) (*UsagePeriod, error)

	// Update persists counter mutations made to a row previously loaded with GetForUpdate.
	Update(ctx context.Context, period *UsagePeriod) error
}

// QuotaRepository is the persistence port for the user-quota limiter (§4.C).
type QuotaRepository interface {
	// ListCovering returns every row for (provider, variant) whose window
	// contains at, scoped to owner IN (NULL, userID).
	ListCovering(ctx context.Context, userID ulid.ULID, provider, variant string, at time.Time) ([]*UserQuota, error)

	// ListCoveringForUpdate is ListCovering with a row-level lock held for
	// the duration of the caller's transaction (§5).
	ListCoveringForUpdate(ctx context.Context, userID ulid.ULID, provider, variant string, at time.Time) ([]*UserQuota, error)

	Update(ctx context.Context, quota *UserQuota) error

	// GetOrCreate resolves the unique row for an administrative upsert (§4.C UpsertQuota).
	GetOrCreate(ctx context.Context, ownerUserID *ulid.ULID, provider, variant string, windowType WindowType, windowStart, windowEnd time.Time) (*UserQuota, error)
}

// LedgerRepository is the persistence port for the append-only usage ledger (§4.F).
type LedgerRepository interface {
	// Insert appends a new row. Implementations key the row on
	// (task_id, attempt, provider) via a unique constraint so a duplicate
	// settlement call is detected rather than silently double-inserted (§4.F).
	Insert(ctx context.Context, entry *UsageLedgerEntry) error

	// FindByIdempotencyKey looks up a prior ledger row for the same
	// (task, attempt, provider), or nil if none exists.
	FindByIdempotencyKey(ctx context.Context, taskID ulid.ULID, attempt int, provider string) (*UsageLedgerEntry, error)

	ListByUser(ctx context.Context, userID ulid.ULID, start, end time.Time) ([]*UsageLedgerEntry, error)
	ListUnreconciled(ctx context.Context, provider string, limit int) ([]*UsageLedgerEntry, error)
	MarkReconciled(ctx context.Context, id ulid.ULID, actualCost float64) error
}

// Transactor lets a service span multiple repository calls inside one
// database transaction (§5: "Settlement must be a single transaction
// spanning B, C, and the ledger insert"). Implementations inject the active
// transaction into ctx; repositories extract it transparently.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// TaskRepository is the persistence port for the slice of Task state the core owns (§3, §6).
type TaskRepository interface {
	Create(ctx context.Context, task *Task) error
	GetByID(ctx context.Context, id ulid.ULID) (*Task, error)

	// FindActiveByUserAndHash supports the pre-check de-duplication rule
	// (§4.E step 2): non-deleted tasks for userID with the given content hash.
	FindActiveByUserAndHash(ctx context.Context, userID ulid.ULID, contentHash string) ([]*Task, error)

	UpdateStatus(ctx context.Context, id ulid.ULID, status TaskStatus, stage string, progress int) error
}
