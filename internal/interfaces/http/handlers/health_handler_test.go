package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appservice "github.com/turtacn/certforge/internal/application/service"
	"github.com/turtacn/certforge/pkg/logger"
)

type stubStatus struct {
	running  bool
	sessions int
}

func (s stubStatus) Running() bool       { return s.running }
func (s stubStatus) ActiveSessions() int { return s.sessions }
func (s stubStatus) Stats() appservice.CoalescerStats {
	return appservice.CoalescerStats{Entries: 5, InFlight: 2}
}
func (s stubStatus) Size() int    { return 4 }
func (s stubStatus) Busy() int    { return 2 }
func (s stubStatus) Backlog() int { return 1 }

func serve(h gin.HandlerFunc) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/probe", h)
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/probe", nil)
	router.ServeHTTP(w, req)
	return w
}

func TestHealthCheck(t *testing.T) {
	status := stubStatus{running: true, sessions: 3}
	h := NewHealthHandler(status, status, status, logger.NewNoopLogger())

	w := serve(h.HealthCheck)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Status   string                    `json:"status"`
		Sessions int                       `json:"sessions"`
		Cache    appservice.CoalescerStats `json:"cache"`
		Pool     map[string]int            `json:"pool"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 3, body.Sessions)
	assert.Equal(t, appservice.CoalescerStats{Entries: 5, InFlight: 2}, body.Cache)
	assert.Equal(t, map[string]int{"size": 4, "busy": 2, "backlog": 1}, body.Pool)
}

func TestHealthCheck_ReactorStopped(t *testing.T) {
	status := stubStatus{}
	h := NewHealthHandler(status, status, status, logger.NewNoopLogger())

	w := serve(h.HealthCheck)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"unavailable"`)
}

func TestLivenessCheck(t *testing.T) {
	h := NewHealthHandler(stubStatus{}, stubStatus{}, stubStatus{}, logger.NewNoopLogger())
	w := serve(h.LivenessCheck)
	assert.Equal(t, http.StatusOK, w.Code)
}
