package asr

import (
	"time"

	"brokle/pkg/ulid"
)

// ResetPeriod describes how a provider's platform free tier rolls over.
type ResetPeriod string

const (
	ResetPeriodNone    ResetPeriod = "none"
	ResetPeriodMonthly ResetPeriod = "monthly"
	ResetPeriodYearly  ResetPeriod = "yearly"
)

// PeriodType identifies the bucketing granularity of a UsagePeriod row.
type PeriodType string

const (
	PeriodTypeMonth PeriodType = "month"
	PeriodTypeYear  PeriodType = "year"
	PeriodTypeTotal PeriodType = "total"
)

// WindowType identifies the bucketing granularity of a UserQuota row.
type WindowType string

const (
	WindowTypeDay   WindowType = "day"
	WindowTypeMonth WindowType = "month"
	WindowTypeTotal WindowType = "total"
)

// QuotaRowStatus is the derived availability state of a UserQuota row.
type QuotaRowStatus string

const (
	QuotaRowStatusActive    QuotaRowStatus = "active"
	QuotaRowStatusExhausted QuotaRowStatus = "exhausted"
)

// LedgerStatus is the outcome of a transcription attempt as recorded in the ledger.
type LedgerStatus string

const (
	LedgerStatusSuccess LedgerStatus = "success"
	LedgerStatusFailed  LedgerStatus = "failed"
)

// SourceType identifies how a task's audio was supplied.
type SourceType string

const (
	SourceTypeUpload  SourceType = "upload"
	SourceTypeYouTube SourceType = "youtube"
)

// TaskStatus is the lifecycle state of a Task as far as the core cares.
type TaskStatus string

const (
	TaskStatusQueued     TaskStatus = "queued"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusDeleted    TaskStatus = "deleted"
)

// processingStatuses is the set of non-terminal statuses used by the
// pre-check de-duplication rule (§4.E step 2).
var processingStatuses = map[TaskStatus]struct{}{
	TaskStatusQueued:     {},
	TaskStatusProcessing: {},
}

// IsProcessing reports whether a task in this status blocks de-duplicated creation.
func (s TaskStatus) IsProcessing() bool {
	_, ok := processingStatuses[s]
	return ok
}

// PricingConfig is administrative, read-mostly state for one (provider, variant) pair.
// Unique key: (provider, variant).
type PricingConfig struct {
	ID                  ulid.ULID   `json:"id" gorm:"type:char(26);primaryKey"`
	Provider            string      `json:"provider" gorm:"size:64;uniqueIndex:idx_pricing_provider_variant"`
	Variant             string      `json:"variant" gorm:"size:64;uniqueIndex:idx_pricing_provider_variant"`
	CostPerHour         float64     `json:"cost_per_hour"`
	FreeQuotaSeconds    float64     `json:"free_quota_seconds"`
	ResetPeriod         ResetPeriod `json:"reset_period" gorm:"size:16"`
	IsEnabled           bool        `json:"is_enabled"`
	QualityScore        float64     `json:"quality_score"`
	SupportsDiarization bool        `json:"supports_diarization"`
	SupportsWordLevel   bool        `json:"supports_word_level"`
	CreatedAt           time.Time   `json:"created_at"`
	UpdatedAt           time.Time   `json:"updated_at"`
}

// TableName pins the GORM table name (teacher convention: explicit snake_case tables).
func (PricingConfig) TableName() string { return "pricing_configs" }

// Validate enforces the invariant free_quota_seconds > 0 => reset_period != none
// and rejects an unknown reset period (§4.A).
func (p *PricingConfig) Validate() []ValidationError {
	var errs []ValidationError

	if p.Provider == "" {
		errs = append(errs, ValidationError{Field: "provider", Message: "provider is required"})
	}
	if p.Variant == "" {
		errs = append(errs, ValidationError{Field: "variant", Message: "variant is required"})
	}
	if p.CostPerHour < 0 {
		errs = append(errs, ValidationError{Field: "cost_per_hour", Message: "cost per hour cannot be negative"})
	}
	if p.FreeQuotaSeconds < 0 {
		errs = append(errs, ValidationError{Field: "free_quota_seconds", Message: "free quota seconds cannot be negative"})
	}
	if !p.isValidResetPeriod() {
		errs = append(errs, ValidationError{Field: "reset_period", Message: "unknown reset period"})
	}
	if p.FreeQuotaSeconds > 0 && p.ResetPeriod == ResetPeriodNone {
		errs = append(errs, ValidationError{Field: "reset_period", Message: "a non-zero free quota requires a reset period"})
	}
	if p.QualityScore < 0 || p.QualityScore > 1 {
		errs = append(errs, ValidationError{Field: "quality_score", Message: "quality score must be between 0 and 1"})
	}

	return errs
}

func (p *PricingConfig) isValidResetPeriod() bool {
	switch p.ResetPeriod {
	case ResetPeriodNone, ResetPeriodMonthly, ResetPeriodYearly:
		return true
	default:
		return false
	}
}

// UsagePeriod aggregates one (owner?, provider, variant, period_type, period_start) window.
// Unique key: (owner_user_id?, provider, variant, period_type, period_start).
type UsagePeriod struct {
	ID            ulid.ULID  `json:"id" gorm:"type:char(26);primaryKey"`
	OwnerUserID   *ulid.ULID `json:"owner_user_id,omitempty" gorm:"type:char(26);uniqueIndex:idx_usage_period_key"`
	Provider      string     `json:"provider" gorm:"size:64;uniqueIndex:idx_usage_period_key"`
	Variant       string     `json:"variant" gorm:"size:64;uniqueIndex:idx_usage_period_key"`
	PeriodType    PeriodType `json:"period_type" gorm:"size:16;uniqueIndex:idx_usage_period_key"`
	PeriodStart   time.Time  `json:"period_start" gorm:"uniqueIndex:idx_usage_period_key"`
	PeriodEnd     time.Time  `json:"period_end"`
	UsedSeconds   float64    `json:"used_seconds"`
	FreeQuotaUsed float64    `json:"free_quota_used"`
	PaidSeconds   float64    `json:"paid_seconds"`
	TotalCost     float64    `json:"total_cost"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (UsagePeriod) TableName() string { return "usage_periods" }

// UserQuota caps a user's (or, with a NULL owner, the platform default) consumption
// of a (provider, variant) within a named window.
// Unique key: (owner_user_id?, provider, variant, window_type, window_start).
type UserQuota struct {
	ID            ulid.ULID      `json:"id" gorm:"type:char(26);primaryKey"`
	OwnerUserID   *ulid.ULID     `json:"owner_user_id,omitempty" gorm:"type:char(26);uniqueIndex:idx_user_quota_key"`
	Provider      string         `json:"provider" gorm:"size:64;uniqueIndex:idx_user_quota_key"`
	Variant       string         `json:"variant" gorm:"size:64;uniqueIndex:idx_user_quota_key"`
	WindowType    WindowType     `json:"window_type" gorm:"size:16;uniqueIndex:idx_user_quota_key"`
	WindowStart   time.Time      `json:"window_start" gorm:"uniqueIndex:idx_user_quota_key"`
	WindowEnd     time.Time      `json:"window_end"`
	QuotaSeconds  float64        `json:"quota_seconds"`
	UsedSeconds   float64        `json:"used_seconds"`
	Status        QuotaRowStatus `json:"status" gorm:"size:16"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

func (UserQuota) TableName() string { return "user_quotas" }

// Exhausted reports whether the row is exhausted per the invariant in §3:
// status = exhausted <=> used_seconds >= quota_seconds OR quota_seconds = 0.
func (q *UserQuota) Exhausted() bool {
	return q.QuotaSeconds == 0 || q.UsedSeconds >= q.QuotaSeconds
}

// Available reports whether this row, taken alone, still permits consumption.
func (q *UserQuota) Available() bool {
	return q.Status != QuotaRowStatusExhausted && q.QuotaSeconds > 0 && q.UsedSeconds < q.QuotaSeconds
}

// UsageLedgerEntry is an append-only record of one completed or failed
// transcription attempt, carrying the free/paid settlement split.
type UsageLedgerEntry struct {
	ID                   ulid.ULID    `json:"id" gorm:"type:char(26);primaryKey"`
	UserID               ulid.ULID    `json:"user_id" gorm:"type:char(26);index;index:idx_ledger_user_provider_created,priority:1"`
	TaskID               *ulid.ULID   `json:"task_id,omitempty" gorm:"type:char(26);uniqueIndex:idx_ledger_idempotency"`
	Provider             string       `json:"provider" gorm:"size:64;uniqueIndex:idx_ledger_idempotency;index:idx_ledger_user_provider_created,priority:2"`
	Variant              string       `json:"variant" gorm:"size:64"`
	ExternalTaskID       *string      `json:"external_task_id,omitempty" gorm:"size:255"`
	Attempt              int          `json:"attempt" gorm:"uniqueIndex:idx_ledger_idempotency"`
	DurationSeconds      float64      `json:"duration_seconds"`
	EstimatedCost        float64      `json:"estimated_cost"`
	ActualCost           *float64     `json:"actual_cost,omitempty"`
	Status               LedgerStatus `json:"status" gorm:"size:16"`
	ErrorCode            *string      `json:"error_code,omitempty" gorm:"size:64"`
	ErrorMessage         *string      `json:"error_message,omitempty"`
	ProcessingTimeMs     *int64       `json:"processing_time_ms,omitempty"`
	FreeQuotaConsumed    float64      `json:"free_quota_consumed"`
	PaidDurationSeconds  float64      `json:"paid_duration_seconds"`
	ActualPaidCost       float64      `json:"actual_paid_cost"`
	Reconciled           bool         `json:"reconciled"`
	CreatedAt            time.Time   `json:"created_at" gorm:"index:idx_ledger_user_provider_created,priority:3"`
}

func (UsageLedgerEntry) TableName() string { return "usage_ledger" }

// Task is the subset of task state the ASR core reads or mutates. Full task
// ownership (storage keys, status transitions beyond "queued", retries) belongs
// to the worker runtime; the core only persists the fields listed in §3/§6.
type Task struct {
	ID          ulid.ULID  `json:"id" gorm:"type:char(26);primaryKey"`
	UserID      ulid.ULID  `json:"user_id" gorm:"type:char(26);index"`
	ContentHash string     `json:"content_hash" gorm:"size:128;index:idx_task_content_hash,where:deleted_at IS NULL"`
	SourceType  SourceType `json:"source_type" gorm:"size:16"`
	FileKey     *string    `json:"file_key,omitempty"`
	SourceURL   *string    `json:"source_url,omitempty"`
	Status      TaskStatus `json:"status" gorm:"size:16"`
	Stage       string     `json:"stage"`
	Progress    int        `json:"progress"`
	RetryCount  int        `json:"retry_count"`
	Options     TaskOptions `json:"options" gorm:"serializer:json"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty" gorm:"index"`
}

func (Task) TableName() string { return "tasks" }

// TranscriptSegment is one diarized span of a provider's transcription output.
type TranscriptSegment struct {
	SpeakerID  string   `json:"speaker_id"`
	StartTime  float64  `json:"start_time"`
	EndTime    float64  `json:"end_time"`
	Content    string   `json:"content"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// ValidationError represents a domain validation error (mirrors the teacher's
// gateway.ValidationError shape).
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Message
}
