package asr

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	asrDomain "brokle/internal/core/domain/asr"
	"brokle/internal/infrastructure/shared"
	"brokle/pkg/ulid"
)

// LedgerRepository implements asrDomain.LedgerRepository using PostgreSQL.
type LedgerRepository struct {
	db *gorm.DB
}

// NewLedgerRepository creates a new LedgerRepository.
func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) getDB(ctx context.Context) *gorm.DB {
	return shared.GetDB(ctx, r.db)
}

// Insert implements asrDomain.LedgerRepository.Insert. The unique index on
// (task_id, attempt, provider) turns a duplicate settlement call into a
// unique-violation rather than a silent double-write (§4.F).
func (r *LedgerRepository) Insert(ctx context.Context, entry *asrDomain.UsageLedgerEntry) error {
	if entry.ID.IsZero() {
		entry.ID = ulid.New()
	}
	err := r.getDB(ctx).WithContext(ctx).Create(entry).Error
	if err != nil && isUniqueViolation(err) {
		return asrDomain.ErrSettlementIdempotency
	}
	return err
}

// FindByIdempotencyKey implements asrDomain.LedgerRepository.FindByIdempotencyKey.
func (r *LedgerRepository) FindByIdempotencyKey(ctx context.Context, taskID ulid.ULID, attempt int, provider string) (*asrDomain.UsageLedgerEntry, error) {
	var entry asrDomain.UsageLedgerEntry
	err := r.getDB(ctx).WithContext(ctx).
		Where("task_id = ? AND attempt = ? AND provider = ?", taskID, attempt, provider).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListByUser implements asrDomain.LedgerRepository.ListByUser, ordered newest
// first for statement rendering.
func (r *LedgerRepository) ListByUser(ctx context.Context, userID ulid.ULID, start, end time.Time) ([]*asrDomain.UsageLedgerEntry, error) {
	var rows []*asrDomain.UsageLedgerEntry
	err := r.getDB(ctx).WithContext(ctx).
		Where("user_id = ? AND created_at >= ? AND created_at < ?", userID, start, end).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ListUnreconciled implements asrDomain.LedgerRepository.ListUnreconciled:
// successful rows awaiting a provider-invoice reconciliation pass.
func (r *LedgerRepository) ListUnreconciled(ctx context.Context, provider string, limit int) ([]*asrDomain.UsageLedgerEntry, error) {
	var rows []*asrDomain.UsageLedgerEntry
	q := r.getDB(ctx).WithContext(ctx).
		Where("provider = ? AND status = ? AND reconciled = ?", provider, asrDomain.LedgerStatusSuccess, false).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// MarkReconciled implements asrDomain.LedgerRepository.MarkReconciled.
func (r *LedgerRepository) MarkReconciled(ctx context.Context, id ulid.ULID, actualCost float64) error {
	return r.getDB(ctx).WithContext(ctx).
		Model(&asrDomain.UsageLedgerEntry{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"actual_cost": actualCost,
			"reconciled":  true,
		}).Error
}
