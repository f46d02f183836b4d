package asr

import (
	"gorm.io/gorm"

	asrSvc "brokle/internal/core/services/asr"
)

// NewRepositories wires the five PostgreSQL-backed repositories the ASR core
// depends on into the bundle asrSvc.NewServices expects.
func NewRepositories(db *gorm.DB) asrSvc.Repositories {
	return asrSvc.Repositories{
		Pricing: NewPricingRepository(db),
		Period:  NewPeriodRepository(db),
		Quota:   NewQuotaRepository(db),
		Ledger:  NewLedgerRepository(db),
		Task:    NewTaskRepository(db),
	}
}
