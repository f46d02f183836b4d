package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	asrDomain "brokle/internal/core/domain/asr"
	asrService "brokle/internal/core/services/asr"
	"brokle/pkg/ulid"
)

type fakePricing struct {
	upsertErr error
}

func (f fakePricing) Get(ctx context.Context, provider, variant string) (*asrDomain.PricingConfig, error) {
	return nil, nil
}
func (f fakePricing) ListEnabled(ctx context.Context) ([]*asrDomain.PricingConfig, error) {
	return nil, nil
}
func (f fakePricing) ListWithFreeTier(ctx context.Context) ([]*asrDomain.PricingConfig, error) {
	return nil, nil
}
func (f fakePricing) Upsert(ctx context.Context, cfg *asrDomain.PricingConfig) error {
	return f.upsertErr
}

type fakeQuota struct{}

func (fakeQuota) Available(ctx context.Context, userID ulid.ULID, provider, variant string, now time.Time) (bool, error) {
	return true, nil
}
func (fakeQuota) RecordUsage(ctx context.Context, userID ulid.ULID, provider, variant string, duration float64, now time.Time) error {
	return nil
}
func (fakeQuota) UpsertQuota(ctx context.Context, req asrDomain.UpsertQuotaRequest) (*asrDomain.UserQuota, error) {
	return &asrDomain.UserQuota{ID: ulid.New()}, nil
}
func (fakeQuota) HasAnyQuotaRow(ctx context.Context, userID ulid.ULID, provider, variant string, now time.Time) (bool, error) {
	return true, nil
}

type fakePrecheck struct {
	task *asrDomain.Task
	err  error
}

func (f fakePrecheck) CreateTask(ctx context.Context, req asrDomain.CreateTaskRequest) (*asrDomain.Task, error) {
	return f.task, f.err
}

type fakeSettlement struct {
	entry *asrDomain.UsageLedgerEntry
	err   error
}

func (f fakeSettlement) Settle(ctx context.Context, input asrDomain.SettlementInput) (*asrDomain.UsageLedgerEntry, error) {
	return f.entry, f.err
}

type fakeStatementReader struct {
	stmt *asrService.Statement
	err  error
}

func (f fakeStatementReader) BuildStatement(ctx context.Context, userID ulid.ULID, start, end time.Time) (*asrService.Statement, error) {
	return f.stmt, f.err
}

func newTestRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/v1/asr/tasks", h.CreateTask)
	r.POST("/v1/asr/tasks/:id/settle", h.Settle)
	r.GET("/v1/asr/statement", h.Statement)
	r.PUT("/v1/admin/asr/pricing", h.UpsertPricing)
	r.PUT("/v1/admin/asr/quota", h.UpsertQuota)
	return r
}

func newTestHandler(precheck asrDomain.PrecheckGate, settlement asrDomain.SettlementService, pricing asrDomain.PricingService, quota asrDomain.QuotaLimiter, stmt statementReader) *Handler {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewHandler(pricing, quota, precheck, settlement, stmt, logger)
}

func TestCreateTask_MissingUserIDHeaderUnauthorized(t *testing.T) {
	h := newTestHandler(fakePrecheck{}, fakeSettlement{}, fakePricing{}, fakeQuota{}, fakeStatementReader{})
	router := newTestRouter(h)

	body := []byte(`{"source_type":"upload","file_key":"a.wav"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/asr/tasks", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateTask_InvalidBodyBadRequest(t *testing.T) {
	h := newTestHandler(fakePrecheck{}, fakeSettlement{}, fakePricing{}, fakeQuota{}, fakeStatementReader{})
	router := newTestRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/v1/asr/tasks", bytes.NewReader([]byte(`not-json`)))
	req.Header.Set("X-User-ID", ulid.New().String())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateTask_PrecheckQuotaExhaustedMapsTo429(t *testing.T) {
	err := asrDomain.NewTaskError(asrDomain.ErrQuotaExhaustedForProvider, "no quota remaining")
	h := newTestHandler(fakePrecheck{err: err}, fakeSettlement{}, fakePricing{}, fakeQuota{}, fakeStatementReader{})
	router := newTestRouter(h)

	body := []byte(`{"source_type":"upload","file_key":"a.wav","content_hash":"abc"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/asr/tasks", bytes.NewReader(body))
	req.Header.Set("X-User-ID", ulid.New().String())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestCreateTask_SuccessReturns201(t *testing.T) {
	task := &asrDomain.Task{ID: ulid.New(), Status: asrDomain.TaskStatusQueued}
	h := newTestHandler(fakePrecheck{task: task}, fakeSettlement{}, fakePricing{}, fakeQuota{}, fakeStatementReader{})
	router := newTestRouter(h)

	body := []byte(`{"source_type":"upload","file_key":"a.wav","content_hash":"abc"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/asr/tasks", bytes.NewReader(body))
	req.Header.Set("X-User-ID", ulid.New().String())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestSettle_InvalidUserIDBadRequest(t *testing.T) {
	h := newTestHandler(fakePrecheck{}, fakeSettlement{}, fakePricing{}, fakeQuota{}, fakeStatementReader{})
	router := newTestRouter(h)

	body := []byte(`{"user_id":"not-a-ulid","provider":"tencent","variant":"file"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/asr/tasks/"+ulid.New().String()+"/settle", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSettle_IdempotencyConflictMapsTo409(t *testing.T) {
	err := asrDomain.NewTaskError(asrDomain.ErrSettlementIdempotency, "already settled")
	h := newTestHandler(fakePrecheck{}, fakeSettlement{err: err}, fakePricing{}, fakeQuota{}, fakeStatementReader{})
	router := newTestRouter(h)

	body, _ := json.Marshal(map[string]interface{}{
		"user_id":  ulid.New().String(),
		"provider": "tencent",
		"variant":  "file",
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/asr/tasks/"+ulid.New().String()+"/settle", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestUpsertPricing_UnknownResetPeriodRejected(t *testing.T) {
	h := newTestHandler(fakePrecheck{}, fakeSettlement{}, fakePricing{}, fakeQuota{}, fakeStatementReader{})
	router := newTestRouter(h)

	body, _ := json.Marshal(map[string]interface{}{
		"provider":     "tencent",
		"variant":      "file",
		"reset_period": "weekly",
	})
	req := httptest.NewRequest(http.MethodPut, "/v1/admin/asr/pricing", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatement_SuccessReturnsBuiltStatement(t *testing.T) {
	h := newTestHandler(fakePrecheck{}, fakeSettlement{}, fakePricing{}, fakeQuota{}, fakeStatementReader{stmt: &asrService.Statement{}})
	router := newTestRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/v1/asr/statement", nil)
	req.Header.Set("X-User-ID", ulid.New().String())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}
