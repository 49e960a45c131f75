package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"telemetry-agent/internal/control"
	"telemetry-agent/internal/hub"
	"telemetry-agent/internal/metrics"
	"telemetry-agent/internal/protection"
	"telemetry-agent/internal/security"
	"telemetry-agent/internal/store"
)

type fakeValidator struct {
	ctx *security.Context
	err error
}

func (f *fakeValidator) Context() (*security.Context, error) { return f.ctx, f.err }
func (f *fakeValidator) Validate() error                     { return f.err }

func newTestRouter(t *testing.T, h *Handler) *mux.Router {
	t.Helper()
	r := mux.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "telemetry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStatusForKind(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusForKind(control.KindProcessNotFound))
	assert.Equal(t, http.StatusForbidden, statusForKind(control.KindCriticalProcessProtected))
	assert.Equal(t, http.StatusUnauthorized, statusForKind(control.KindPermissionDenied))
	assert.Equal(t, http.StatusBadRequest, statusForKind(control.KindInvalidPriority))
	assert.Equal(t, http.StatusConflict, statusForKind(control.KindAlreadyInTargetState))
	assert.Equal(t, http.StatusInternalServerError, statusForKind(control.KindSystemError))
}

func TestControlEndpointsRejectMalformedPID(t *testing.T) {
	h := NewHandler(hub.New(zap.NewNop()), nil, nil, nil, nil, nil, nil, zap.NewNop())
	router := newTestRouter(t, h)

	for _, path := range []string{
		"/api/process/abc/kill",
		"/api/process/abc/suspend",
		"/api/process/abc/resume",
		"/api/process/abc/priority",
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("POST", path, strings.NewReader(`{"priority":"low"}`)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestSetPriorityRequiresBody(t *testing.T) {
	h := NewHandler(hub.New(zap.NewNop()), nil, nil, nil, nil, nil, nil, zap.NewNop())
	router := newTestRouter(t, h)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/api/process/123/priority", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricHistoryHandler(t *testing.T) {
	st := newTestStore(t)
	w := store.NewBatchWriter(st, 4, time.Second, zap.NewNop())
	queue := w.Queue()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { w.Run(ctx); close(done) }()

	queue <- &metrics.ResourceSnapshot{
		Timestamp: time.Now().UTC(),
		Metrics:   []metrics.Metric{{Type: "cpu", Value: 42}},
	}
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	h := NewHandler(hub.New(zap.NewNop()), nil, nil, nil, nil, nil, st, zap.NewNop())
	router := newTestRouter(t, h)

	t.Run("missing type", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/metrics/history", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("invalid minutes", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/metrics/history?type=cpu&minutes=-5", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("returns points", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/metrics/history?type=cpu&minutes=10", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Type   string              `json:"type"`
			Points []store.MetricPoint `json:"points"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "cpu", body.Type)
		require.Len(t, body.Points, 1)
		assert.Equal(t, 42.0, body.Points[0].Value)
	})
}

func TestSecurityContextHandler(t *testing.T) {
	validator := &fakeValidator{ctx: &security.Context{Platform: "linux", Elevated: true}}
	h := NewHandler(hub.New(zap.NewNop()), nil, nil, nil, validator, nil, nil, zap.NewNop())
	router := newTestRouter(t, h)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/security/context", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var ctx security.Context
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ctx))
	assert.Equal(t, "linux", ctx.Platform)
	assert.True(t, ctx.Elevated)
}

func TestProtectedProcessesHandler(t *testing.T) {
	prot := protection.NewService(zap.NewNop())
	h := NewHandler(hub.New(zap.NewNop()), nil, nil, prot, nil, nil, nil, zap.NewNop())
	router := newTestRouter(t, h)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/protection/processes", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Greater(t, body.Count, 0)
}

func TestWebsocketStreamsSnapshots(t *testing.T) {
	broadcast := hub.New(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go broadcast.Run(ctx)

	h := NewHandler(broadcast, nil, nil, nil, nil, nil, nil, zap.NewNop())
	server := httptest.NewServer(newTestRouter(t, h))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// give the upgrade handler a moment to register the subscription
	time.Sleep(50 * time.Millisecond)
	broadcast.Publish(&metrics.ResourceSnapshot{
		Timestamp: time.Now().UTC(),
		Metrics:   []metrics.Metric{{Type: "ram", Value: 58}},
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, message, err := conn.ReadMessage()
	require.NoError(t, err)

	var env struct {
		Type string                   `json:"type"`
		Data metrics.ResourceSnapshot `json:"data"`
	}
	require.NoError(t, json.Unmarshal(message, &env))
	assert.Equal(t, "snapshot", env.Type)
	require.Len(t, env.Data.Metrics, 1)
	assert.Equal(t, "ram", env.Data.Metrics[0].Type)
}
