package asr

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	asrDomain "brokle/internal/core/domain/asr"
	asrService "brokle/internal/core/services/asr"
	"brokle/pkg/response"
	"brokle/pkg/ulid"
)

// statementReader is the read-side port the handler needs from the
// statement reporting service; kept narrow since the service's concrete
// type is unexported (internal/core/services/asr.statementService).
type statementReader interface {
	BuildStatement(ctx context.Context, userID ulid.ULID, start, end time.Time) (*asrService.Statement, error)
}

// Handler exposes the ASR core (pricing, precheck gate, settlement and
// statement reporting) over HTTP. Scheduling, period accounting and the
// user-quota limiter are invoked by these services internally; they have no
// standalone routes.
type Handler struct {
	pricing    asrDomain.PricingService
	quota      asrDomain.QuotaLimiter
	precheck   asrDomain.PrecheckGate
	settlement asrDomain.SettlementService
	statement  statementReader
	logger     *logrus.Logger
}

// NewHandler constructs the ASR HTTP handler.
func NewHandler(
	pricing asrDomain.PricingService,
	quota asrDomain.QuotaLimiter,
	precheck asrDomain.PrecheckGate,
	settlement asrDomain.SettlementService,
	statement statementReader,
	logger *logrus.Logger,
) *Handler {
	return &Handler{
		pricing:    pricing,
		quota:      quota,
		precheck:   precheck,
		settlement: settlement,
		statement:  statement,
		logger:     logger,
	}
}

// createTaskRequest is the wire shape of POST /v1/asr/tasks.
type createTaskRequest struct {
	Title       *string                `json:"title"`
	SourceType  string                 `json:"source_type" binding:"required"`
	FileKey     *string                `json:"file_key"`
	SourceURL   *string                `json:"source_url"`
	ContentHash *string                `json:"content_hash"`
	Options     map[string]interface{} `json:"options"`
}

// CreateTask handles POST /v1/asr/tasks: the pre-check gate (§4.E) validates
// the request, schedules a provider and queues the task for the worker
// runtime.
func (h *Handler) CreateTask(c *gin.Context) {
	userID, ok := requestUserID(c)
	if !ok {
		response.Unauthorized(c, "missing or invalid X-User-ID header")
		return
	}

	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body", err.Error())
		return
	}

	task, err := h.precheck.CreateTask(c.Request.Context(), asrDomain.CreateTaskRequest{
		Title:       req.Title,
		UserID:      userID,
		IsAdmin:     isAdminRequest(c),
		SourceType:  asrDomain.SourceType(req.SourceType),
		FileKey:     req.FileKey,
		SourceURL:   req.SourceURL,
		ContentHash: req.ContentHash,
		Options:     asrDomain.TaskOptions(req.Options),
	})
	if err != nil {
		writeTaskError(c, err)
		return
	}

	response.Created(c, task)
}

// settleRequest is the wire shape of POST /v1/asr/tasks/:id/settle, called by
// the worker runtime once a provider attempt has completed or failed (§4.F).
type settleRequest struct {
	UserID           string                        `json:"user_id" binding:"required"`
	Attempt          int                            `json:"attempt"`
	Provider         string                         `json:"provider" binding:"required"`
	Variant          string                         `json:"variant" binding:"required"`
	ExternalTaskID   *string                        `json:"external_task_id"`
	ProcessingTimeMs *int64                         `json:"processing_time_ms"`
	Failed           bool                           `json:"failed"`
	ErrorCode        *string                        `json:"error_code"`
	ErrorMessage     *string                        `json:"error_message"`
	MeasuredDuration float64                        `json:"measured_duration"`
	Segments         []asrDomain.TranscriptSegment `json:"segments"`
}

// Settle handles POST /v1/asr/tasks/:id/settle.
func (h *Handler) Settle(c *gin.Context) {
	taskID, err := ulid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid task id", err.Error())
		return
	}

	var req settleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body", err.Error())
		return
	}

	userID, err := ulid.Parse(req.UserID)
	if err != nil {
		response.BadRequest(c, "invalid user_id", err.Error())
		return
	}

	entry, err := h.settlement.Settle(c.Request.Context(), asrDomain.SettlementInput{
		UserID:           userID,
		TaskID:           taskID,
		Attempt:          req.Attempt,
		Provider:         req.Provider,
		Variant:          req.Variant,
		ExternalTaskID:   req.ExternalTaskID,
		ProcessingTimeMs: req.ProcessingTimeMs,
		Failed:           req.Failed,
		ErrorCode:        req.ErrorCode,
		ErrorMessage:     req.ErrorMessage,
		MeasuredDuration: req.MeasuredDuration,
		Segments:         req.Segments,
	})
	if err != nil {
		writeTaskError(c, err)
		return
	}

	response.Success(c, entry)
}

// Statement handles GET /v1/asr/statement?start=...&end=... for the
// authenticated user.
func (h *Handler) Statement(c *gin.Context) {
	userID, ok := requestUserID(c)
	if !ok {
		response.Unauthorized(c, "missing or invalid X-User-ID header")
		return
	}

	start, end, err := parseWindow(c)
	if err != nil {
		response.BadRequest(c, "invalid start/end", err.Error())
		return
	}

	stmt, err := h.statement.BuildStatement(c.Request.Context(), userID, start, end)
	if err != nil {
		writeTaskError(c, err)
		return
	}

	response.Success(c, stmt)
}

// upsertPricingRequest is the wire shape of PUT /v1/admin/asr/pricing.
type upsertPricingRequest struct {
	Provider            string  `json:"provider" binding:"required"`
	Variant             string  `json:"variant" binding:"required"`
	CostPerHour         float64 `json:"cost_per_hour"`
	FreeQuotaSeconds    float64 `json:"free_quota_seconds"`
	ResetPeriod         string  `json:"reset_period"`
	IsEnabled           bool    `json:"is_enabled"`
	QualityScore        float64 `json:"quality_score"`
	SupportsDiarization bool    `json:"supports_diarization"`
	SupportsWordLevel   bool    `json:"supports_word_level"`
}

// UpsertPricing handles PUT /v1/admin/asr/pricing (§4.A, §6 administrative writer).
func (h *Handler) UpsertPricing(c *gin.Context) {
	var req upsertPricingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body", err.Error())
		return
	}

	cfg := &asrDomain.PricingConfig{
		Provider:            req.Provider,
		Variant:             req.Variant,
		CostPerHour:         req.CostPerHour,
		FreeQuotaSeconds:    req.FreeQuotaSeconds,
		ResetPeriod:         asrDomain.ResetPeriod(req.ResetPeriod),
		IsEnabled:           req.IsEnabled,
		QualityScore:        req.QualityScore,
		SupportsDiarization: req.SupportsDiarization,
		SupportsWordLevel:   req.SupportsWordLevel,
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		response.ValidationError(c, "invalid pricing config", errs[0].Error())
		return
	}

	if err := h.pricing.Upsert(c.Request.Context(), cfg); err != nil {
		writeTaskError(c, err)
		return
	}

	response.Success(c, cfg)
}

// ListPricing handles GET /v1/admin/asr/pricing.
func (h *Handler) ListPricing(c *gin.Context) {
	cfgs, err := h.pricing.ListEnabled(c.Request.Context())
	if err != nil {
		writeTaskError(c, err)
		return
	}
	response.Success(c, cfgs)
}

// upsertQuotaRequest is the wire shape of PUT /v1/admin/asr/quota (§4.C).
type upsertQuotaRequest struct {
	OwnerUserID  *string  `json:"owner_user_id"`
	Provider     string   `json:"provider" binding:"required"`
	Variant      string   `json:"variant" binding:"required"`
	WindowType   string   `json:"window_type" binding:"required"`
	WindowStart  *string  `json:"window_start"`
	WindowEnd    *string  `json:"window_end"`
	QuotaSeconds float64  `json:"quota_seconds"`
	UsedSeconds  *float64 `json:"used_seconds"`
	Reset        bool     `json:"reset"`
}

// UpsertQuota handles PUT /v1/admin/asr/quota.
func (h *Handler) UpsertQuota(c *gin.Context) {
	var req upsertQuotaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body", err.Error())
		return
	}

	domainReq := asrDomain.UpsertQuotaRequest{
		Provider:     req.Provider,
		Variant:      req.Variant,
		WindowType:   asrDomain.WindowType(req.WindowType),
		QuotaSeconds: req.QuotaSeconds,
		UsedSeconds:  req.UsedSeconds,
		Reset:        req.Reset,
	}

	if req.OwnerUserID != nil {
		ownerID, err := ulid.Parse(*req.OwnerUserID)
		if err != nil {
			response.BadRequest(c, "invalid owner_user_id", err.Error())
			return
		}
		domainReq.OwnerUserID = &ownerID
	}

	if req.WindowStart != nil {
		t, err := time.Parse(time.RFC3339, *req.WindowStart)
		if err != nil {
			response.BadRequest(c, "invalid window_start", err.Error())
			return
		}
		domainReq.WindowStart = &t
	}
	if req.WindowEnd != nil {
		t, err := time.Parse(time.RFC3339, *req.WindowEnd)
		if err != nil {
			response.BadRequest(c, "invalid window_end", err.Error())
			return
		}
		domainReq.WindowEnd = &t
	}

	quota, err := h.quota.UpsertQuota(c.Request.Context(), domainReq)
	if err != nil {
		writeTaskError(c, err)
		return
	}

	response.Success(c, quota)
}

func parseWindow(c *gin.Context) (start, end time.Time, err error) {
	now := time.Now().UTC()
	start = now.AddDate(0, -1, 0)
	end = now

	if s := c.Query("start"); s != "" {
		start, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return start, end, err
		}
	}
	if e := c.Query("end"); e != "" {
		end, err = time.Parse(time.RFC3339, e)
		if err != nil {
			return start, end, err
		}
	}
	return start, end, nil
}

func requestUserID(c *gin.Context) (ulid.ULID, bool) {
	raw := c.GetHeader("X-User-ID")
	if raw == "" {
		return ulid.ULID{}, false
	}
	id, err := ulid.Parse(raw)
	if err != nil {
		return ulid.ULID{}, false
	}
	return id, true
}

func isAdminRequest(c *gin.Context) bool {
	return c.GetHeader("X-Admin") == "true"
}

// writeTaskError maps the asr error taxonomy (§7) to an HTTP status code.
func writeTaskError(c *gin.Context, err error) {
	kind := asrDomain.KindOf(err)
	if kind == "" {
		response.InternalServerError(c, "internal server error")
		return
	}

	status := http.StatusUnprocessableEntity
	switch kind {
	case asrDomain.KindInvalidParameter, asrDomain.KindMissingRequiredParameter, asrDomain.KindInvalidURLFormat, asrDomain.KindUnsupportedSourceFormat:
		status = http.StatusBadRequest
	case asrDomain.KindTaskAlreadyExists, asrDomain.KindTaskInProgress:
		status = http.StatusConflict
	case asrDomain.KindExternalVideoUnavailable, asrDomain.KindExternalVideoProbeFailed, asrDomain.KindProviderNotRegistered, asrDomain.KindProviderDisabled, asrDomain.KindAllProvidersExhausted:
		status = http.StatusServiceUnavailable
	case asrDomain.KindQuotaExhaustedForProvider:
		status = http.StatusTooManyRequests
	case asrDomain.KindASRServiceFailed:
		status = http.StatusBadGateway
	case asrDomain.KindSettlementIdempotency:
		status = http.StatusConflict
	}

	response.ErrorWithStatus(c, status, string(kind), err.Error(), "")
}
