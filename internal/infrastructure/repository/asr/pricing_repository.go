package asr

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	asrDomain "brokle/internal/core/domain/asr"
	"brokle/internal/infrastructure/shared"
)

// PricingRepository implements asrDomain.PricingRepository using PostgreSQL.
type PricingRepository struct {
	db *gorm.DB
}

// NewPricingRepository creates a new PricingRepository.
func NewPricingRepository(db *gorm.DB) *PricingRepository {
	return &PricingRepository{db: db}
}

func (r *PricingRepository) getDB(ctx context.Context) *gorm.DB {
	return shared.GetDB(ctx, r.db)
}

// Get implements asrDomain.PricingRepository.Get.
func (r *PricingRepository) Get(ctx context.Context, provider, variant string) (*asrDomain.PricingConfig, error) {
	var cfg asrDomain.PricingConfig
	err := r.getDB(ctx).WithContext(ctx).
		Where("provider = ? AND variant = ?", provider, variant).
		First(&cfg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, asrDomain.ErrPricingNotFound
		}
		return nil, err
	}
	return &cfg, nil
}

// ListEnabled implements asrDomain.PricingRepository.ListEnabled.
func (r *PricingRepository) ListEnabled(ctx context.Context) ([]*asrDomain.PricingConfig, error) {
	var configs []*asrDomain.PricingConfig
	err := r.getDB(ctx).WithContext(ctx).
		Where("is_enabled = ?", true).
		Find(&configs).Error
	if err != nil {
		return nil, err
	}
	return configs, nil
}

// ListWithFreeTier implements asrDomain.PricingRepository.ListWithFreeTier.
func (r *PricingRepository) ListWithFreeTier(ctx context.Context) ([]*asrDomain.PricingConfig, error) {
	var configs []*asrDomain.PricingConfig
	err := r.getDB(ctx).WithContext(ctx).
		Where("free_quota_seconds > 0").
		Find(&configs).Error
	if err != nil {
		return nil, err
	}
	return configs, nil
}

// Upsert implements asrDomain.PricingRepository.Upsert.
func (r *PricingRepository) Upsert(ctx context.Context, cfg *asrDomain.PricingConfig) error {
	return r.getDB(ctx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "provider"}, {Name: "variant"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"cost_per_hour", "free_quota_seconds", "reset_period", "is_enabled",
				"quality_score", "supports_diarization", "supports_word_level", "updated_at",
			}),
		}).
		Create(cfg).Error
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "23505") ||
		strings.Contains(errStr, "unique constraint") ||
		strings.Contains(errStr, "duplicate key")
}
