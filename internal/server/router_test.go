package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/servelist/backend/internal/auth"
	"github.com/servelist/backend/internal/realtime"
	"github.com/servelist/backend/internal/reservation"
)

func newTestRouter(t *testing.T, withHub bool) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	hash, err := auth.HashPassword("letmein")
	require.NoError(t, err)

	var hub *realtime.Hub
	var events reservation.Broadcaster
	if withHub {
		hub = realtime.NewHub(zap.NewNop(), 16, nil, nil)
		events = hub
	}
	return NewRouter(Deps{
		Manager:      reservation.NewManager(reservation.NewMemoryStore(), events, zap.NewNop()),
		Tokens:       auth.NewCapabilityService("router-secret", time.Hour),
		PasswordHash: hash,
		Hub:          hub,
	})
}

func serve(r *gin.Engine, method, path, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	r := newTestRouter(t, true)

	w := serve(r, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)

	serve(r, http.MethodGet, "/api/services", "", "")
	w = serve(r, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_request_duration_seconds")
	assert.Contains(t, w.Body.String(), "broadcast_dropped_total")
}

func TestRouter_LoginThenAdminCall(t *testing.T) {
	r := newTestRouter(t, true)

	w := serve(r, http.MethodPost, "/api/admin/login", `{"password":"nope"}`, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "UNAUTHORIZED")

	w = serve(r, http.MethodPost, "/api/admin/login", `{}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(r, http.MethodPost, "/api/admin/login", `{"password":"letmein"}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	var env struct {
		Data auth.TokenResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.NotEmpty(t, env.Data.Token)
	assert.True(t, env.Data.ExpiresAt.After(time.Now()))

	w = serve(r, http.MethodPost, "/api/services", `{"date":"2026-03-01","capacity":2}`, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = serve(r, http.MethodPost, "/api/services", `{"date":"2026-03-01","capacity":2}`, env.Data.Token)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestRouter_PushEndpointOnlyWithHub(t *testing.T) {
	w := serve(newTestRouter(t, false), http.MethodGet, "/ws", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	// a plain GET is not an upgrade, but the route exists
	w = serve(newTestRouter(t, true), http.MethodGet, "/ws", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_PushEndpointChecksOrigin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := realtime.NewHub(zap.NewNop(), 16, nil, nil)
	srv := httptest.NewServer(NewRouter(Deps{
		Manager:     reservation.NewManager(reservation.NewMemoryStore(), hub, zap.NewNop()),
		Tokens:      auth.NewCapabilityService("router-secret", time.Hour),
		Hub:         hub,
		CORSOrigins: "http://app.test",
	}))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {"http://evil.test"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Eventually(t, func() bool { return hub.Count() == 0 }, time.Second, 5*time.Millisecond)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {"http://app.test"}})
	require.NoError(t, err)
	conn.Close()
	hub.DisconnectAll()
}
