package asr

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	asrDomain "brokle/internal/core/domain/asr"
	"brokle/pkg/ulid"
)

// ProviderBreakdown is one provider's contribution to a user's statement.
type ProviderBreakdown struct {
	Provider      string
	Variant       string
	Attempts      int
	TotalDuration float64
	FreeSeconds   float64
	PaidSeconds   float64
	TotalCost     decimal.Decimal
}

// Statement is a currency-rounded summary of a user's ledger activity over a
// reporting window. It is a read path consumed by billing reconciliation and
// admin reporting, never by the hot Settle() path — the settlement counters
// themselves stay float64 to match the period/quota accounting model (§3).
type Statement struct {
	UserID    ulid.ULID
	Start     time.Time
	End       time.Time
	Providers []ProviderBreakdown
	TotalCost decimal.Decimal
}

// statementService builds billing-facing statements from the usage ledger.
type statementService struct {
	ledgerRepo asrDomain.LedgerRepository
}

// NewStatementService constructs the statement reporting service.
func NewStatementService(ledgerRepo asrDomain.LedgerRepository) *statementService {
	return &statementService{ledgerRepo: ledgerRepo}
}

// BuildStatement aggregates every successful ledger row for userID in
// [start, end) into a per-provider, currency-rounded breakdown.
func (s *statementService) BuildStatement(ctx context.Context, userID ulid.ULID, start, end time.Time) (*Statement, error) {
	entries, err := s.ledgerRepo.ListByUser(ctx, userID, start, end)
	if err != nil {
		return nil, err
	}

	byProvider := make(map[string]*ProviderBreakdown)
	var order []string
	total := decimal.Zero

	for _, e := range entries {
		if e.Status != asrDomain.LedgerStatusSuccess {
			continue
		}

		key := e.Provider + "/" + e.Variant
		b, ok := byProvider[key]
		if !ok {
			b = &ProviderBreakdown{Provider: e.Provider, Variant: e.Variant, TotalCost: decimal.Zero}
			byProvider[key] = b
			order = append(order, key)
		}

		b.Attempts++
		b.TotalDuration += e.DurationSeconds
		b.FreeSeconds += e.FreeQuotaConsumed
		b.PaidSeconds += e.PaidDurationSeconds

		cost := decimal.NewFromFloat(e.ActualPaidCost).Round(6)
		b.TotalCost = b.TotalCost.Add(cost)
		total = total.Add(cost)
	}

	breakdowns := make([]ProviderBreakdown, 0, len(order))
	for _, key := range order {
		breakdowns = append(breakdowns, *byProvider[key])
	}

	return &Statement{
		UserID:    userID,
		Start:     start,
		End:       end,
		Providers: breakdowns,
		TotalCost: total.Round(2),
	}, nil
}
