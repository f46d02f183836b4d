package asr

import (
	"time"

	"brokle/pkg/ulid"
)

// TaskOptions is the free-form per-task options payload carried on the wire
// (§6, §9 Design Notes). The core only ever reads the handful of keys it owns;
// everything else (language, summary_style, llm_provider, llm_model_id, ...)
// passes through opaquely for collaborators that never touch this package.
type TaskOptions map[string]interface{}

func (o TaskOptions) stringField(key string) *string {
	if o == nil {
		return nil
	}
	v, ok := o[key]
	if !ok {
		return nil
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	return &s
}

func (o TaskOptions) boolField(key string) bool {
	if o == nil {
		return false
	}
	v, ok := o[key]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// ASRProvider returns the caller-pinned provider, if any.
func (o TaskOptions) ASRProvider() *string { return o.stringField("asr_provider") }

// ASRVariant returns the caller-pinned variant, if any.
func (o TaskOptions) ASRVariant() *string { return o.stringField("asr_variant") }

// Features extracts the feature flags the scheduler cares about.
func (o TaskOptions) Features() TaskFeatures {
	return TaskFeatures{
		Diarization: o.boolField("enable_speaker_diarization"),
		WordLevel:   o.boolField("word_level"),
	}
}

// TaskFeatures are the feature assertions a task-creation request can carry
// and that the scheduler's "features" sub-score (§4.D) scores against.
type TaskFeatures struct {
	Diarization bool
	WordLevel   bool
}

// Any reports whether at least one feature flag is asserted.
func (f TaskFeatures) Any() bool {
	return f.Diarization || f.WordLevel
}

// Required counts how many feature flags are asserted.
func (f TaskFeatures) Required() int {
	n := 0
	if f.Diarization {
		n++
	}
	if f.WordLevel {
		n++
	}
	return n
}

// Matched counts how many asserted feature flags a provider's capability flags satisfy.
func (f TaskFeatures) Matched(supportsDiarization, supportsWordLevel bool) int {
	n := 0
	if f.Diarization && supportsDiarization {
		n++
	}
	if f.WordLevel && supportsWordLevel {
		n++
	}
	return n
}

// ScoreWeights is the six-dimension weight vector used by the scheduler (§4.D step 4).
type ScoreWeights struct {
	FreeQuota float64
	Health    float64
	Cost      float64
	Quota     float64
	Quality   float64
	Features  float64
}

// DefaultWeights is the built-in weight vector used when no feature flags are asserted.
var DefaultWeights = ScoreWeights{
	FreeQuota: 0.30,
	Health:    0.20,
	Cost:      0.15,
	Quota:     0.10,
	Quality:   0.15,
	Features:  0.10,
}

// FeatureSensitiveWeights is used when task_features asserts diarization or word_level.
var FeatureSensitiveWeights = ScoreWeights{
	FreeQuota: 0.20,
	Health:    0.15,
	Cost:      0.10,
	Quota:     0.10,
	Quality:   0.15,
	Features:  0.30,
}

// CandidateScore is one row of the scheduler's ranked diagnostic table.
type CandidateScore struct {
	Provider      string
	Variant       string
	FreeQuota     float64
	Health        float64
	Cost          float64
	Quota         float64
	Quality       float64
	Features      float64
	Total         float64
	DroppedReason string // non-empty when this candidate was filtered before scoring
}

// SchedulingRequest is the input to the scheduler (§4.D).
type SchedulingRequest struct {
	UserID             *ulid.ULID
	Variant            string
	PreferredProviders []string
	Weights            *ScoreWeights
	Features           TaskFeatures
}

// SchedulingResult is the scheduler's output: the winner plus the full
// ranked table for diagnostics.
type SchedulingResult struct {
	Provider string
	Variant  string
	Table    []CandidateScore
}

// ConsumptionResult is the outcome of consuming (or estimating) a duration
// against a provider/variant's platform free tier (§4.B).
type ConsumptionResult struct {
	FreeSeconds   float64
	PaidSeconds   float64
	Cost          float64
	RemainingFree float64
}

// HealthStatus is a provider/variant's health as reported by the health checker (§4.D).
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusUnknown   HealthStatus = "unknown"
)

// SourceDescriptor is the validated source of a task's audio (§6).
type SourceDescriptor struct {
	SourceType  SourceType
	FileKey     string
	SourceURL   string
	ContentHash string
}

// CreateTaskRequest is the task-creation request the pre-check gate validates (§6).
type CreateTaskRequest struct {
	Title       *string
	UserID      ulid.ULID
	IsAdmin     bool
	SourceType  SourceType
	FileKey     *string
	SourceURL   *string
	ContentHash *string
	Options     TaskOptions
}

// JobDescriptor is the message published to the worker runtime once a task
// is queued (§6 exit condition, §2 added job-dispatch loop).
type JobDescriptor struct {
	TaskID    ulid.ULID  `json:"task_id"`
	UserID    ulid.ULID  `json:"user_id"`
	Provider  string     `json:"provider"`
	Variant   string     `json:"variant"`
	SourceURL *string    `json:"source_url,omitempty"`
	FileKey   *string    `json:"file_key,omitempty"`
	Features  TaskFeatures `json:"features"`
	QueuedAt  time.Time  `json:"queued_at"`
}

// SettlementInput carries the result of an external transcription attempt
// to the settlement function (§4.F).
type SettlementInput struct {
	UserID           ulid.ULID
	TaskID           ulid.ULID
	Attempt          int
	Provider         string
	Variant          string
	ExternalTaskID   *string
	ProcessingTimeMs *int64

	// Success path fields. Zero/nil when Failed is true.
	Failed           bool
	ErrorCode        *string
	ErrorMessage     *string
	MeasuredDuration float64
	Segments         []TranscriptSegment
}
