package asr

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	asrDomain "brokle/internal/core/domain/asr"
	"brokle/internal/infrastructure/shared"
	"brokle/pkg/ulid"
)

// PeriodRepository implements asrDomain.PeriodRepository using PostgreSQL.
type PeriodRepository struct {
	db *gorm.DB
}

// NewPeriodRepository creates a new PeriodRepository.
func NewPeriodRepository(db *gorm.DB) *PeriodRepository {
	return &PeriodRepository{db: db}
}

func (r *PeriodRepository) getDB(ctx context.Context) *gorm.DB {
	return shared.GetDB(ctx, r.db)
}

// GetOrCreate implements asrDomain.PeriodRepository.GetOrCreate. Insertion
// races on the (owner?, provider, variant, period_type, period_start)
// unique key are resolved by converting the conflicting insert into a fetch
// of the winner (§4.B, §5).
func (r *PeriodRepository) GetOrCreate(ctx context.Context, ownerUserID *ulid.ULID, provider, variant string, periodType asrDomain.PeriodType, periodStart, periodEnd time.Time) (*asrDomain.UsagePeriod, error) {
	db := r.getDB(ctx).WithContext(ctx)

	row := &asrDomain.UsagePeriod{
		ID:          ulid.New(),
		OwnerUserID: ownerUserID,
		Provider:    provider,
		Variant:     variant,
		PeriodType:  periodType,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
	}

	err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(row).Error
	if err != nil && !isUniqueViolation(err) {
		return nil, err
	}

	var existing asrDomain.UsagePeriod
	query := db.Where("provider = ? AND variant = ? AND period_type = ? AND period_start = ?", provider, variant, periodType, periodStart)
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

// GetForUpdate implements asrDomain.PeriodRepository.GetForUpdate: loads the
// row with a row-level exclusive lock so two concurrent ConsumeQuota calls
// on the same period serialize (§5).
func (r *PeriodRepository) GetForUpdate(ctx context.Context, id ulid.ULID) (*asrDomain.UsagePeriod, error) {
	var row asrDomain.UsagePeriod
	err := r.getDB(ctx).WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, asrDomain.ErrPeriodNotFound
		}
		return nil, err
	}
	return &row, nil
}

// Update implements asrDomain.PeriodRepository.Update.
func (r *PeriodRepository) Update(ctx context.Context, period *asrDomain.UsagePeriod) error {
	return r.getDB(ctx).WithContext(ctx).Save(period).Error
}
