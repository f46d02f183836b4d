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

type fakeQuotaRepo struct {
	mu   sync.Mutex
	rows []*asrDomain.UserQuota
}

func newFakeQuotaRepo(rows ...*asrDomain.UserQuota) *fakeQuotaRepo {
	return &fakeQuotaRepo{rows: rows}
}

func (r *fakeQuotaRepo) covering(userID ulid.ULID, provider, variant string, at time.Time) []*asrDomain.UserQuota {
	var out []*asrDomain.UserQuota
	for _, row := range r.rows {
		if row.Provider != provider || row.Variant != variant {
			continue
		}
		if row.OwnerUserID != nil && *row.OwnerUserID != userID {
			continue
		}
		if at.Before(row.WindowStart) || at.After(row.WindowEnd) {
			continue
		}
		out = append(out, row)
	}
	return out
}

func (r *fakeQuotaRepo) ListCovering(ctx context.Context, userID ulid.ULID, provider, variant string, at time.Time) ([]*asrDomain.UserQuota, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.covering(userID, provider, variant, at), nil
}

func (r *fakeQuotaRepo) ListCoveringForUpdate(ctx context.Context, userID ulid.ULID, provider, variant string, at time.Time) ([]*asrDomain.UserQuota, error) {
	return r.ListCovering(ctx, userID, provider, variant, at)
}

func (r *fakeQuotaRepo) Update(ctx context.Context, quota *asrDomain.UserQuota) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, row := range r.rows {
		if row.ID == quota.ID {
			r.rows[i] = quota
			return nil
		}
	}
	return asrDomain.ErrTaskNotFound
}

func (r *fakeQuotaRepo) GetOrCreate(ctx context.Context, ownerUserID *ulid.ULID, provider, variant string, windowType asrDomain.WindowType, windowStart, windowEnd time.Time) (*asrDomain.UserQuota, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.Provider == provider && row.Variant == variant && row.WindowType == windowType &&
			row.WindowStart.Equal(windowStart) &&
			((row.OwnerUserID == nil) == (ownerUserID == nil)) &&
			(ownerUserID == nil || *row.OwnerUserID == *ownerUserID) {
			return row, nil
		}
	}
	row := &asrDomain.UserQuota{
		ID:          ulid.New(),
		OwnerUserID: ownerUserID,
		Provider:    provider,
		Variant:     variant,
		WindowType:  windowType,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		Status:      asrDomain.QuotaRowStatusActive,
	}
	r.rows = append(r.rows, row)
	return row, nil
}

func userIDPtr(u ulid.ULID) *ulid.ULID { return &u }

// §4.C step 2: a user-scoped row fully shadows a global row rather than
// aggregating with it, even when the global row would otherwise permit.
func TestQuotaAvailable_UserScopedRowShadowsGlobal(t *testing.T) {
	userID := ulid.New()
	now := time.Now().UTC()
	windowStart := now.Add(-time.Hour)
	windowEnd := now.Add(time.Hour)

	global := &asrDomain.UserQuota{
		ID: ulid.New(), Provider: "tencent", Variant: "file_fast",
		WindowType: asrDomain.WindowTypeDay, WindowStart: windowStart, WindowEnd: windowEnd,
		QuotaSeconds: 10000, UsedSeconds: 0, Status: asrDomain.QuotaRowStatusActive,
	}
	scoped := &asrDomain.UserQuota{
		ID: ulid.New(), OwnerUserID: userIDPtr(userID), Provider: "tencent", Variant: "file_fast",
		WindowType: asrDomain.WindowTypeDay, WindowStart: windowStart, WindowEnd: windowEnd,
		QuotaSeconds: 0, UsedSeconds: 0, Status: asrDomain.QuotaRowStatusExhausted,
	}
	repo := newFakeQuotaRepo(global, scoped)
	svc := NewQuotaService(fakeTransactor{}, repo, testLogger())

	available, err := svc.Available(context.Background(), userID, "tencent", "file_fast", now)
	require.NoError(t, err)
	assert.False(t, available, "user-scoped exhausted row must shadow the permissive global row")
}

func TestQuotaAvailable_NoRowsMeansUnlimited(t *testing.T) {
	repo := newFakeQuotaRepo()
	svc := NewQuotaService(fakeTransactor{}, repo, testLogger())

	available, err := svc.Available(context.Background(), ulid.New(), "aliyun", "file", time.Now())
	require.NoError(t, err)
	assert.True(t, available)
}

// §8 quota-exhaustion-monotonicity: once used_seconds >= quota_seconds, the
// row stays exhausted; repeated RecordUsage calls never un-exhaust it.
func TestRecordUsage_ExhaustionIsMonotonic(t *testing.T) {
	userID := ulid.New()
	now := time.Now().UTC()
	row := &asrDomain.UserQuota{
		ID: ulid.New(), OwnerUserID: userIDPtr(userID), Provider: "tencent", Variant: "file_fast",
		WindowType: asrDomain.WindowTypeDay, WindowStart: now.Add(-time.Hour), WindowEnd: now.Add(time.Hour),
		QuotaSeconds: 1000, UsedSeconds: 900, Status: asrDomain.QuotaRowStatusActive,
	}
	repo := newFakeQuotaRepo(row)
	svc := NewQuotaService(fakeTransactor{}, repo, testLogger())

	require.NoError(t, svc.RecordUsage(context.Background(), userID, "tencent", "file_fast", 150, now))
	assert.Equal(t, asrDomain.QuotaRowStatusExhausted, row.Status)
	assert.Equal(t, 1050.0, row.UsedSeconds)

	require.NoError(t, svc.RecordUsage(context.Background(), userID, "tencent", "file_fast", 50, now))
	assert.Equal(t, asrDomain.QuotaRowStatusExhausted, row.Status, "must remain exhausted, never revert to active")
	assert.Equal(t, 1100.0, row.UsedSeconds)
}

func TestUpsertQuota_UsedSecondsOverrideTakesPrecedenceOverReset(t *testing.T) {
	repo := newFakeQuotaRepo()
	svc := NewQuotaService(fakeTransactor{}, repo, testLogger())

	override := 42.0
	row, err := svc.UpsertQuota(context.Background(), asrDomain.UpsertQuotaRequest{
		Provider:     "tencent",
		Variant:      "file_fast",
		WindowType:   asrDomain.WindowTypeMonth,
		QuotaSeconds: 1000,
		UsedSeconds:  &override,
		Reset:        true,
	})
	require.NoError(t, err)
	assert.Equal(t, 42.0, row.UsedSeconds, "explicit used_seconds override must win over reset")
	assert.Equal(t, asrDomain.QuotaRowStatusActive, row.Status)
}

func TestUpsertQuota_ZeroQuotaSecondsIsExhausted(t *testing.T) {
	repo := newFakeQuotaRepo()
	svc := NewQuotaService(fakeTransactor{}, repo, testLogger())

	row, err := svc.UpsertQuota(context.Background(), asrDomain.UpsertQuotaRequest{
		Provider:     "tencent",
		Variant:      "file_fast",
		WindowType:   asrDomain.WindowTypeTotal,
		QuotaSeconds: 0,
	})
	require.NoError(t, err)
	assert.Equal(t, asrDomain.QuotaRowStatusExhausted, row.Status)
}

func TestHasAnyQuotaRow(t *testing.T) {
	userID := ulid.New()
	now := time.Now().UTC()
	row := &asrDomain.UserQuota{
		ID: ulid.New(), OwnerUserID: userIDPtr(userID), Provider: "tencent", Variant: "file_fast",
		WindowType: asrDomain.WindowTypeDay, WindowStart: now.Add(-time.Hour), WindowEnd: now.Add(time.Hour),
		QuotaSeconds: 1000, Status: asrDomain.QuotaRowStatusActive,
	}
	repo := newFakeQuotaRepo(row)
	svc := NewQuotaService(fakeTransactor{}, repo, testLogger())

	has, err := svc.HasAnyQuotaRow(context.Background(), userID, "tencent", "file_fast", now)
	require.NoError(t, err)
	assert.True(t, has)

	has, err = svc.HasAnyQuotaRow(context.Background(), userID, "aliyun", "file", now)
	require.NoError(t, err)
	assert.False(t, has)
}
