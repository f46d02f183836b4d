package asr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	asrDomain "brokle/internal/core/domain/asr"
	"brokle/pkg/ulid"
)

// settlementService implements asr.SettlementService (§4.F, component F).
type settlementService struct {
	transactor  asrDomain.Transactor
	periodAcct  asrDomain.PeriodAccountant
	quotaLimit  asrDomain.QuotaLimiter
	ledgerRepo  asrDomain.LedgerRepository
	pricingRepo asrDomain.PricingRepository
	logger      *slog.Logger
}

// NewSettlementService constructs the post-execution settlement function.
func NewSettlementService(
	transactor asrDomain.Transactor,
	periodAcct asrDomain.PeriodAccountant,
	quotaLimit asrDomain.QuotaLimiter,
	ledgerRepo asrDomain.LedgerRepository,
	pricingRepo asrDomain.PricingRepository,
	logger *slog.Logger,
) asrDomain.SettlementService {
	return &settlementService{
		transactor:  transactor,
		periodAcct:  periodAcct,
		quotaLimit:  quotaLimit,
		ledgerRepo:  ledgerRepo,
		pricingRepo: pricingRepo,
		logger:      logger,
	}
}

// Settle implements asr.SettlementService.Settle (§4.F). It is idempotent per
// (task, attempt, provider): a duplicate call returns the previously
// inserted row instead of double-charging (§8 "Double Settle(...) leaves
// exactly one ledger row").
func (s *settlementService) Settle(ctx context.Context, input asrDomain.SettlementInput) (*asrDomain.UsageLedgerEntry, error) {
	existing, err := s.ledgerRepo.FindByIdempotencyKey(ctx, input.TaskID, input.Attempt, input.Provider)
	if err != nil {
		return nil, fmt.Errorf("check settlement idempotency: %w", err)
	}
	if existing != nil {
		s.logger.Info("duplicate settlement call, returning existing ledger row",
			"task_id", input.TaskID.String(),
			"attempt", input.Attempt,
			"provider", input.Provider,
		)
		return existing, nil
	}

	if input.Failed {
		return s.settleFailure(ctx, input)
	}
	return s.settleSuccess(ctx, input)
}

func (s *settlementService) settleFailure(ctx context.Context, input asrDomain.SettlementInput) (*asrDomain.UsageLedgerEntry, error) {
	entry := &asrDomain.UsageLedgerEntry{
		ID:           ulid.New(),
		UserID:       input.UserID,
		TaskID:       &input.TaskID,
		Provider:     input.Provider,
		Variant:      input.Variant,
		Attempt:      input.Attempt,
		Status:       asrDomain.LedgerStatusFailed,
		ErrorCode:    input.ErrorCode,
		ErrorMessage: input.ErrorMessage,
	}
	if input.ExternalTaskID != nil {
		entry.ExternalTaskID = input.ExternalTaskID
	}
	if input.ProcessingTimeMs != nil {
		entry.ProcessingTimeMs = input.ProcessingTimeMs
	}

	if err := s.ledgerRepo.Insert(ctx, entry); err != nil {
		if isIdempotencyConflict(err) {
			return s.recoverFromRaceInsert(ctx, input)
		}
		return nil, fmt.Errorf("insert failure ledger entry: %w", err)
	}
	return entry, nil
}

// settleSuccess is the atomic path spanning B, C, and the ledger insert
// (§5: "Settlement must be a single transaction").
func (s *settlementService) settleSuccess(ctx context.Context, input asrDomain.SettlementInput) (*asrDomain.UsageLedgerEntry, error) {
	pricing, err := s.pricingRepo.Get(ctx, input.Provider, input.Variant)
	if err != nil {
		return nil, fmt.Errorf("load pricing for settlement: %w", err)
	}

	var entry *asrDomain.UsageLedgerEntry

	txErr := s.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		now := time.Now().UTC()

		consumption, err := s.periodAcct.ConsumeQuota(ctx, input.Provider, input.Variant, input.MeasuredDuration, &input.UserID, now)
		if err != nil {
			return fmt.Errorf("consume period quota: %w", err)
		}

		if err := s.quotaLimit.RecordUsage(ctx, input.UserID, input.Provider, input.Variant, input.MeasuredDuration, now); err != nil {
			return fmt.Errorf("record user quota usage: %w", err)
		}

		entry = &asrDomain.UsageLedgerEntry{
			ID:                  ulid.New(),
			UserID:              input.UserID,
			TaskID:              &input.TaskID,
			Provider:            input.Provider,
			Variant:             input.Variant,
			Attempt:             input.Attempt,
			DurationSeconds:     input.MeasuredDuration,
			EstimatedCost:       input.MeasuredDuration / 3600 * pricing.CostPerHour,
			Status:              asrDomain.LedgerStatusSuccess,
			FreeQuotaConsumed:   consumption.FreeSeconds,
			PaidDurationSeconds: consumption.PaidSeconds,
			ActualPaidCost:      consumption.Cost,
		}
		actualCost := consumption.Cost
		entry.ActualCost = &actualCost
		if input.ExternalTaskID != nil {
			entry.ExternalTaskID = input.ExternalTaskID
		}
		if input.ProcessingTimeMs != nil {
			entry.ProcessingTimeMs = input.ProcessingTimeMs
		}

		if err := s.ledgerRepo.Insert(ctx, entry); err != nil {
			return fmt.Errorf("insert success ledger entry: %w", err)
		}
		return nil
	})

	if txErr != nil {
		if isIdempotencyConflict(txErr) {
			return s.recoverFromRaceInsert(ctx, input)
		}
		return nil, txErr
	}

	s.logger.Info("settled transcription",
		"task_id", input.TaskID.String(),
		"provider", input.Provider,
		"cost", entry.ActualPaidCost,
	)
	return entry, nil
}

// recoverFromRaceInsert handles the narrow race where two concurrent calls
// for the same (task, attempt, provider) both pass the pre-insert
// idempotency check; the unique constraint on the ledger table converts
// the loser into a lookup rather than a lost or duplicated charge.
func (s *settlementService) recoverFromRaceInsert(ctx context.Context, input asrDomain.SettlementInput) (*asrDomain.UsageLedgerEntry, error) {
	existing, err := s.ledgerRepo.FindByIdempotencyKey(ctx, input.TaskID, input.Attempt, input.Provider)
	if err != nil {
		return nil, fmt.Errorf("recover settlement after race: %w", err)
	}
	if existing == nil {
		return nil, asrDomain.NewTaskError(asrDomain.ErrSettlementIdempotency, "concurrent settlement conflict could not be resolved")
	}
	return existing, nil
}

func isIdempotencyConflict(err error) bool {
	return errors.Is(err, asrDomain.ErrSettlementIdempotency)
}
