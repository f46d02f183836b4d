package health

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brokle/internal/config"
)

func newTestHandler() *Handler {
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewHandler(&config.Config{App: config.AppConfig{Version: "test"}}, nil, nil, logger)
}

func TestCheck_AlwaysHealthy(t *testing.T) {
	h := newTestHandler()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	h.Check(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var body HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
}

func TestLive_AlwaysAlive(t *testing.T) {
	h := newTestHandler()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	h.Live(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var body HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "alive", body.Status)
}

// Without live Postgres/Redis connections wired in, Ready must report
// unhealthy on both dependency checks rather than silently pass.
func TestReady_UnconfiguredDependenciesReportUnhealthy(t *testing.T) {
	h := newTestHandler()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	h.Ready(c)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	var body HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "unhealthy", body.Status)
	require.Contains(t, body.Checks, "database")
	require.Contains(t, body.Checks, "redis")
	assert.Equal(t, "unhealthy", body.Checks["database"].Status)
	assert.Equal(t, "unhealthy", body.Checks["redis"].Status)
}
