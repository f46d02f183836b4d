package asr

import (
	"context"
	"log/slog"
	"time"

	asrDomain "brokle/internal/core/domain/asr"
	"brokle/pkg/pointers"
	"brokle/pkg/ulid"
)

// quotaService implements asr.QuotaLimiter (§4.C, component C).
type quotaService struct {
	transactor asrDomain.Transactor
	quotaRepo  asrDomain.QuotaRepository
	logger     *slog.Logger
}

// NewQuotaService constructs the per-user quota limiter.
func NewQuotaService(transactor asrDomain.Transactor, quotaRepo asrDomain.QuotaRepository, logger *slog.Logger) asrDomain.QuotaLimiter {
	return &quotaService{transactor: transactor, quotaRepo: quotaRepo, logger: logger}
}

// effectiveSet partitions rows into user-scoped and global, returning the
// user-scoped subset if non-empty, else the global subset (§4.C step 2:
// per-user rows fully shadow global ones, they do not aggregate).
func effectiveSet(rows []*asrDomain.UserQuota, userID ulid.ULID) []*asrDomain.UserQuota {
	var scoped, global []*asrDomain.UserQuota
	for _, r := range rows {
		if r.OwnerUserID != nil && *r.OwnerUserID == userID {
			scoped = append(scoped, r)
		} else if r.OwnerUserID == nil {
			global = append(global, r)
		}
	}
	if len(scoped) > 0 {
		return scoped
	}
	return global
}

// Available implements asr.QuotaLimiter (§4.C step 3).
func (s *quotaService) Available(ctx context.Context, userID ulid.ULID, provider, variant string, now time.Time) (bool, error) {
	rows, err := s.quotaRepo.ListCovering(ctx, userID, provider, variant, now)
	if err != nil {
		return false, err
	}

	effective := effectiveSet(rows, userID)
	if len(effective) == 0 {
		// No limit configured.
		return true, nil
	}

	for _, row := range effective {
		if row.Status == asrDomain.QuotaRowStatusExhausted {
			return false, nil
		}
		if row.QuotaSeconds <= 0 {
			return false, nil
		}
		if row.UsedSeconds >= row.QuotaSeconds {
			return false, nil
		}
	}
	return true, nil
}

// RecordUsage implements asr.QuotaLimiter (§4.C RecordUsage). The effective
// rows are locked and updated inside one transaction so concurrent
// RecordUsage calls over the same row serialize (§5).
func (s *quotaService) RecordUsage(ctx context.Context, userID ulid.ULID, provider, variant string, duration float64, now time.Time) error {
	var affected int

	err := s.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		rows, err := s.quotaRepo.ListCoveringForUpdate(ctx, userID, provider, variant, now)
		if err != nil {
			return err
		}

		effective := effectiveSet(rows, userID)
		for _, row := range effective {
			row.UsedSeconds += duration
			if row.UsedSeconds >= row.QuotaSeconds {
				row.Status = asrDomain.QuotaRowStatusExhausted
			}
			if err := s.quotaRepo.Update(ctx, row); err != nil {
				return err
			}
		}
		affected = len(effective)
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("recorded quota usage",
		"user_id", userID.String(),
		"provider", provider,
		"variant", variant,
		"duration", duration,
		"rows_affected", affected,
	)
	return nil
}

// UpsertQuota implements asr.QuotaLimiter (§4.C UpsertQuota / §6).
func (s *quotaService) UpsertQuota(ctx context.Context, req asrDomain.UpsertQuotaRequest) (*asrDomain.UserQuota, error) {
	windowStart, windowEnd := resolveWindow(req.WindowType, req.WindowStart, req.WindowEnd)

	row, err := s.quotaRepo.GetOrCreate(ctx, req.OwnerUserID, req.Provider, req.Variant, req.WindowType, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}

	row.QuotaSeconds = req.QuotaSeconds

	switch {
	case req.UsedSeconds != nil:
		row.UsedSeconds = pointers.DerefFloat64(req.UsedSeconds)
	case req.Reset:
		row.UsedSeconds = 0
	}

	if row.QuotaSeconds == 0 || row.UsedSeconds >= row.QuotaSeconds {
		row.Status = asrDomain.QuotaRowStatusExhausted
	} else {
		row.Status = asrDomain.QuotaRowStatusActive
	}

	if err := s.quotaRepo.Update(ctx, row); err != nil {
		return nil, err
	}
	return row, nil
}

// HasAnyQuotaRow implements asr.QuotaLimiter (used by the scheduler's
// "unlimited" set, §4.D step 2).
func (s *quotaService) HasAnyQuotaRow(ctx context.Context, userID ulid.ULID, provider, variant string, now time.Time) (bool, error) {
	rows, err := s.quotaRepo.ListCovering(ctx, userID, provider, variant, now)
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// resolveWindow derives [window_start, window_end) from windowType, honoring
// caller-supplied explicit bounds for window_type=total (§9 Open Question:
// sentinel bounds are the default when the caller omits both).
func resolveWindow(windowType asrDomain.WindowType, start, end *time.Time) (time.Time, time.Time) {
	if start != nil && end != nil {
		return start.UTC(), end.UTC()
	}

	now := time.Now().UTC()
	switch windowType {
	case asrDomain.WindowTypeDay:
		s := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		return s, s.AddDate(0, 0, 1)
	case asrDomain.WindowTypeMonth:
		s := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		return s, s.AddDate(0, 1, 0)
	default: // total
		s := time.Date(1970, time.January, 1, 0, 0, 0, 0, time.UTC)
		e := time.Date(2099, time.December, 31, 23, 59, 59, 999999000, time.UTC)
		return s, e
	}
}
