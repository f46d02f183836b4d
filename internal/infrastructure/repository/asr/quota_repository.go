package asr

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	asrDomain "brokle/internal/core/domain/asr"
	"brokle/internal/infrastructure/shared"
	"brokle/pkg/ulid"
)

// QuotaRepository implements asrDomain.QuotaRepository using PostgreSQL.
type QuotaRepository struct {
	db *gorm.DB
}

// NewQuotaRepository creates a new QuotaRepository.
func NewQuotaRepository(db *gorm.DB) *QuotaRepository {
	return &QuotaRepository{db: db}
}

func (r *QuotaRepository) getDB(ctx context.Context) *gorm.DB {
	return shared.GetDB(ctx, r.db)
}

func (r *QuotaRepository) coveringQuery(db *gorm.DB, userID ulid.ULID, provider, variant string, at time.Time) *gorm.DB {
	return db.Where(
		"provider = ? AND variant = ? AND window_start <= ? AND window_end >= ? AND (owner_user_id IS NULL OR owner_user_id = ?)",
		provider, variant, at, at, userID,
	)
}

// ListCovering implements asrDomain.QuotaRepository.ListCovering.
func (r *QuotaRepository) ListCovering(ctx context.Context, userID ulid.ULID, provider, variant string, at time.Time) ([]*asrDomain.UserQuota, error) {
	var rows []*asrDomain.UserQuota
	err := r.coveringQuery(r.getDB(ctx).WithContext(ctx), userID, provider, variant, at).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ListCoveringForUpdate implements asrDomain.QuotaRepository.ListCoveringForUpdate:
// the same query with a row-level exclusive lock held for the caller's
// transaction (§5).
func (r *QuotaRepository) ListCoveringForUpdate(ctx context.Context, userID ulid.ULID, provider, variant string, at time.Time) ([]*asrDomain.UserQuota, error) {
	var rows []*asrDomain.UserQuota
	db := r.getDB(ctx).WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"})
	err := r.coveringQuery(db, userID, provider, variant, at).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Update implements asrDomain.QuotaRepository.Update.
func (r *QuotaRepository) Update(ctx context.Context, quota *asrDomain.UserQuota) error {
	return r.getDB(ctx).WithContext(ctx).Save(quota).Error
}

// GetOrCreate implements asrDomain.QuotaRepository.GetOrCreate (§4.C UpsertQuota).
func (r *QuotaRepository) GetOrCreate(ctx context.Context, ownerUserID *ulid.ULID, provider, variant string, windowType asrDomain.WindowType, windowStart, windowEnd time.Time) (*asrDomain.UserQuota, error) {
	db := r.getDB(ctx).WithContext(ctx)

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

	err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(row).Error
	if err != nil && !isUniqueViolation(err) {
		return nil, err
	}

	var existing asrDomain.UserQuota
	query := db.Where("provider = ? AND variant = ? AND window_type = ? AND window_start = ?", provider, variant, windowType, windowStart)
	if ownerUserID != nil {
		query = query.Where("owner_user_id = ?", *ownerUserID)
	} else {
		query = query.Where("owner_user_id IS NULL")
	}

	if err := query.First(&existing).Error; err != nil {
		return nil, err
	}
	return &existing, nil
}
