package asr

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	asrDomain "brokle/internal/core/domain/asr"
	"brokle/pkg/ulid"
)

type fakeLedgerRepo struct {
	mu      sync.Mutex
	entries []*asrDomain.UsageLedgerEntry
}

func newFakeLedgerRepo() *fakeLedgerRepo {
	return &fakeLedgerRepo{}
}

func (r *fakeLedgerRepo) Insert(ctx context.Context, entry *asrDomain.UsageLedgerEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.TaskID != nil && entry.TaskID != nil && *e.TaskID == *entry.TaskID &&
			e.Attempt == entry.Attempt && e.Provider == entry.Provider {
			return asrDomain.NewTaskError(asrDomain.ErrSettlementIdempotency, "duplicate ledger key")
		}
	}
	r.entries = append(r.entries, entry)
	return nil
}

func (r *fakeLedgerRepo) FindByIdempotencyKey(ctx context.Context, taskID ulid.ULID, attempt int, provider string) (*asrDomain.UsageLedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.TaskID != nil && *e.TaskID == taskID && e.Attempt == attempt && e.Provider == provider {
			return e, nil
		}
	}
	return nil, nil
}

func (r *fakeLedgerRepo) ListByUser(ctx context.Context, userID ulid.ULID, start, end time.Time) ([]*asrDomain.UsageLedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*asrDomain.UsageLedgerEntry
	for _, e := range r.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *fakeLedgerRepo) ListUnreconciled(ctx context.Context, provider string, limit int) ([]*asrDomain.UsageLedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*asrDomain.UsageLedgerEntry
	for _, e := range r.entries {
		if e.Provider == provider && !e.Reconciled {
			out = append(out, e)
			if len(out) >= limit && limit > 0 {
				break
			}
		}
	}
	return out, nil
}

func (r *fakeLedgerRepo) MarkReconciled(ctx context.Context, id ulid.ULID, actualCost float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.ID == id {
			e.Reconciled = true
			e.ActualCost = &actualCost
			return nil
		}
	}
	return asrDomain.ErrTaskNotFound
}

func newTestSettlement(pricing *fakePricingRepo, periods *fakePeriodRepo, quotas *fakeQuotaRepo, ledger *fakeLedgerRepo) asrDomain.SettlementService {
	periodAcct := NewPeriodService(fakeTransactor{}, periods, pricing, testLogger())
	quotaLimit := NewQuotaService(fakeTransactor{}, quotas, testLogger())
	return NewSettlementService(fakeTransactor{}, periodAcct, quotaLimit, ledger, pricing, testLogger())
}

// §8: "Double Settle(...) leaves exactly one ledger row" and must not
// double-consume quota.
func TestSettle_IdempotentDoubleCall(t *testing.T) {
	pricing := newFakePricingRepo(&asrDomain.PricingConfig{
		Provider: "tencent", Variant: "file_fast", CostPerHour: 3.10,
		FreeQuotaSeconds: 18000, ResetPeriod: asrDomain.ResetPeriodMonthly, IsEnabled: true,
	})
	periods := newFakePeriodRepo()
	quotas := newFakeQuotaRepo()
	ledger := newFakeLedgerRepo()
	svc := newTestSettlement(pricing, periods, quotas, ledger)

	userID := ulid.New()
	taskID := ulid.New()
	input := asrDomain.SettlementInput{
		UserID:           userID,
		TaskID:           taskID,
		Attempt:          1,
		Provider:         "tencent",
		Variant:          "file_fast",
		MeasuredDuration: 600,
	}

	first, err := svc.Settle(context.Background(), input)
	require.NoError(t, err)

	second, err := svc.Settle(context.Background(), input)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, ledger.entries, 1, "double settle must leave exactly one ledger row")

	for _, row := range periods.rows {
		assert.Equal(t, 600.0, row.UsedSeconds, "period counters must only reflect a single settlement")
	}
}

// §8: a failed settlement consumes no quota and carries zeroed cost fields.
func TestSettle_FailurePathConsumesNoQuota(t *testing.T) {
	pricing := newFakePricingRepo(&asrDomain.PricingConfig{
		Provider: "tencent", Variant: "file_fast", CostPerHour: 3.10,
		FreeQuotaSeconds: 18000, ResetPeriod: asrDomain.ResetPeriodMonthly, IsEnabled: true,
	})
	periods := newFakePeriodRepo()
	quotas := newFakeQuotaRepo()
	ledger := newFakeLedgerRepo()
	svc := newTestSettlement(pricing, periods, quotas, ledger)

	errCode := "provider_timeout"
	entry, err := svc.Settle(context.Background(), asrDomain.SettlementInput{
		UserID:    ulid.New(),
		TaskID:    ulid.New(),
		Attempt:   1,
		Provider:  "tencent",
		Variant:   "file_fast",
		Failed:    true,
		ErrorCode: &errCode,
	})
	require.NoError(t, err)

	assert.Equal(t, asrDomain.LedgerStatusFailed, entry.Status)
	assert.Nil(t, entry.ActualCost)
	assert.Equal(t, 0.0, entry.DurationSeconds)
	assert.Empty(t, periods.rows, "a failed attempt must never create or touch a period row")
}

// Settlement spans periodAcct.ConsumeQuota and quotaLimit.RecordUsage
// together (§5); a successful settle must update both.
func TestSettle_SuccessUpdatesBothPeriodAndUserQuota(t *testing.T) {
	pricing := newFakePricingRepo(&asrDomain.PricingConfig{
		Provider: "tencent", Variant: "file_fast", CostPerHour: 3.10,
		FreeQuotaSeconds: 18000, ResetPeriod: asrDomain.ResetPeriodMonthly, IsEnabled: true,
	})
	periods := newFakePeriodRepo()
	userID := ulid.New()
	now := time.Now().UTC()
	quotaRow := &asrDomain.UserQuota{
		ID: ulid.New(), OwnerUserID: userIDPtr(userID), Provider: "tencent", Variant: "file_fast",
		WindowType: asrDomain.WindowTypeDay, WindowStart: now.Add(-time.Hour), WindowEnd: now.Add(time.Hour),
		QuotaSeconds: 10000, UsedSeconds: 0, Status: asrDomain.QuotaRowStatusActive,
	}
	quotas := newFakeQuotaRepo(quotaRow)
	ledger := newFakeLedgerRepo()
	svc := newTestSettlement(pricing, periods, quotas, ledger)

	entry, err := svc.Settle(context.Background(), asrDomain.SettlementInput{
		UserID:           userID,
		TaskID:           ulid.New(),
		Attempt:          1,
		Provider:         "tencent",
		Variant:          "file_fast",
		MeasuredDuration: 500,
	})
	require.NoError(t, err)

	assert.Equal(t, asrDomain.LedgerStatusSuccess, entry.Status)
	assert.Equal(t, 500.0, entry.FreeQuotaConsumed)
	assert.Equal(t, 500.0, quotaRow.UsedSeconds, "user quota row must be updated in the same settlement")
}
