package asr

import (
	"errors"
	"fmt"
)

// Error taxonomy (§7). Each sentinel is one "kind"; callers classify with
// errors.Is, never by matching message text.
var (
	ErrInvalidParameter          = errors.New("invalid parameter")
	ErrMissingRequiredParameter  = errors.New("missing required parameter")
	ErrUnsupportedSourceFormat   = errors.New("unsupported source format")
	ErrInvalidURLFormat          = errors.New("invalid url format")
	ErrExternalVideoUnavailable  = errors.New("external video unavailable")
	ErrExternalVideoProbeFailed  = errors.New("external video probe failed")
	ErrTaskAlreadyExists         = errors.New("task already exists")
	ErrTaskInProgress            = errors.New("task in progress")
	ErrTaskNotRetryable          = errors.New("task not retryable")
	ErrTaskRetryLimitExceeded    = errors.New("task retry limit exceeded")
	ErrProviderNotRegistered     = errors.New("asr provider not registered")
	ErrProviderDisabled          = errors.New("asr provider disabled")
	ErrQuotaExhaustedForProvider = errors.New("asr quota exhausted for provider")
	ErrAllProvidersExhausted     = errors.New("all asr providers exhausted")
	ErrASRServiceFailed          = errors.New("asr service failed")
	ErrSettlementIdempotency     = errors.New("settlement idempotency violation")

	// Internal lookups that never reach a caller directly but are useful
	// for repository implementations to signal "no row" distinctly from
	// a real database error.
	ErrPricingNotFound = errors.New("pricing config not found")
	ErrPeriodNotFound  = errors.New("usage period not found")
	ErrTaskNotFound    = errors.New("task not found")
)

// Kind is the stable, locale-independent error code a caller surfaces verbatim (§7).
type Kind string

const (
	KindInvalidParameter          Kind = "invalid_parameter"
	KindMissingRequiredParameter  Kind = "missing_required_parameter"
	KindUnsupportedSourceFormat   Kind = "unsupported_source_format"
	KindInvalidURLFormat          Kind = "invalid_url_format"
	KindExternalVideoUnavailable  Kind = "external_video_unavailable"
	KindExternalVideoProbeFailed  Kind = "external_video_probe_failed"
	KindTaskAlreadyExists         Kind = "task_already_exists"
	KindTaskInProgress            Kind = "task_in_progress"
	KindTaskNotRetryable          Kind = "task_not_retryable"
	KindTaskRetryLimitExceeded    Kind = "task_retry_limit_exceeded"
	KindProviderNotRegistered     Kind = "asr_provider_not_registered"
	KindProviderDisabled          Kind = "asr_provider_disabled"
	KindQuotaExhaustedForProvider Kind = "asr_quota_exhausted_for_provider"
	KindAllProvidersExhausted     Kind = "all_asr_providers_exhausted"
	KindASRServiceFailed          Kind = "asr_service_failed"
	KindSettlementIdempotency     Kind = "settlement_idempotency_violation"
)

var kindBySentinel = map[error]Kind{
	ErrInvalidParameter:          KindInvalidParameter,
	ErrMissingRequiredParameter:  KindMissingRequiredParameter,
	ErrUnsupportedSourceFormat:   KindUnsupportedSourceFormat,
	ErrInvalidURLFormat:          KindInvalidURLFormat,
	ErrExternalVideoUnavailable:  KindExternalVideoUnavailable,
	ErrExternalVideoProbeFailed:  KindExternalVideoProbeFailed,
	ErrTaskAlreadyExists:         KindTaskAlreadyExists,
	ErrTaskInProgress:            KindTaskInProgress,
	ErrTaskNotRetryable:          KindTaskNotRetryable,
	ErrTaskRetryLimitExceeded:    KindTaskRetryLimitExceeded,
	ErrProviderNotRegistered:     KindProviderNotRegistered,
	ErrProviderDisabled:          KindProviderDisabled,
	ErrQuotaExhaustedForProvider: KindQuotaExhaustedForProvider,
	ErrAllProvidersExhausted:     KindAllProvidersExhausted,
	ErrASRServiceFailed:          KindASRServiceFailed,
	ErrSettlementIdempotency:     KindSettlementIdempotency,
}

// TaskError wraps a taxonomy sentinel with request-specific context, the same
// way the teacher's billing domain wraps ErrContractNotFound (see
// NewContractNotFoundError in internal/core/domain/billing/errors.go).
type TaskError struct {
	sentinel error
	detail   string
}

func (e *TaskError) Error() string {
	if e.detail == "" {
		return e.sentinel.Error()
	}
	return fmt.Sprintf("%s: %s", e.sentinel.Error(), e.detail)
}

func (e *TaskError) Unwrap() error { return e.sentinel }

// Kind returns the stable taxonomy kind for err, or "" if err isn't one of ours.
func (e *TaskError) Kind() Kind { return kindBySentinel[e.sentinel] }

// NewTaskError builds a TaskError for sentinel with the given detail message.
func NewTaskError(sentinel error, detail string) *TaskError {
	return &TaskError{sentinel: sentinel, detail: detail}
}

// KindOf returns the taxonomy kind carried by err, walking Unwrap chains, or
// "" if err does not carry one of this package's sentinels.
func KindOf(err error) Kind {
	var te *TaskError
	if errors.As(err, &te) {
		return te.Kind()
	}
	for sentinel, kind := range kindBySentinel {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return ""
}
