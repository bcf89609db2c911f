package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/aristath/riskcore/internal/config"
	"github.com/aristath/riskcore/internal/database"
	"github.com/aristath/riskcore/internal/events"
	"github.com/aristath/riskcore/internal/tools"
)

func newTestServer(t *testing.T) (*Server, *events.Hub) {
	t.Helper()
	dataDir := t.TempDir()

	coreDB, err := database.New(database.Config{
		Path:    filepath.Join(dataDir, "core.db"),
		Profile: database.ProfileCore,
		Name:    "core",
	})
	require.NoError(t, err)
	t.Cleanup(func() { coreDB.Close() })

	cacheDB, err := database.New(database.Config{
		Path:    filepath.Join(dataDir, "cache.db"),
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	require.NoError(t, err)
	t.Cleanup(func() { cacheDB.Close() })

	reg := tools.NewRegistry(zerolog.Nop())
	reg.Register("echo", func(ctx context.Context, req *tools.Request) (*tools.Result, error) {
		return &tools.Result{
			Success: true,
			Summary: map[string]interface{}{"msg": req.String("msg", "")},
		}, nil
	})

	hub := events.NewHub(zerolog.Nop())
	s := New(Config{
		Log:     zerolog.Nop(),
		Cfg:     &config.Config{DataDir: dataDir},
		CoreDB:  coreDB,
		CacheDB: cacheDB,
		Tools:   reg,
		Hub:     hub,
		Port:    0,
	})
	return s, hub
}

func TestHandleHealth(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestListTools(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tools", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Tools []string `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.Tools, "echo")
}

func TestToolDispatch(t *testing.T) {
	s, _ := newTestServer(t)

	payload := `{"user_id":"u1","args":{"msg":"hello"}}`
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/tools/echo", strings.NewReader(payload)))

	require.Equal(t, http.StatusOK, rec.Code)
	var result tools.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.Equal(t, "hello", result.Summary["msg"])
}

func TestToolDispatch_UnknownToolReturnsEnvelope(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/tools/nope", strings.NewReader(`{"user_id":"u1"}`)))

	require.Equal(t, http.StatusOK, rec.Code)
	var result tools.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(t, result.Success)
	require.NotNil(t, result.Error)
	assert.Equal(t, "VALIDATION", result.Error.Code)
}

func TestToolDispatch_BadBodyRejected(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/tools/echo", bytes.NewReader([]byte("{not json"))))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSystemHealth(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/system/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var snap HealthSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "ok", snap.Status)
	assert.Equal(t, "ok", snap.Databases["core"])
	assert.Equal(t, "ok", snap.Databases["cache"])
	assert.Positive(t, snap.Goroutines)
}

func TestDatabaseStats(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/system/database/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Databases []DatabaseStats `json:"databases"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Databases, 2)
	assert.Equal(t, "core", body.Databases[0].Name)
	assert.Positive(t, body.Databases[0].PageSize)
}

func TestEventsStream_DeliversPublishedEvents(t *testing.T) {
	s, hub := newTestServer(t)

	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events/stream"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	var greeting map[string]interface{}
	require.NoError(t, wsjson.Read(ctx, conn, &greeting))
	assert.Equal(t, "connected", greeting["type"])

	// The subscription is registered before the greeting is written, so
	// publishing now is safe.
	hub.Publish(events.Event{
		Type:   events.AnalysisCompleted,
		UserID: "u1",
		Data:   map[string]interface{}{"tool": "get_risk_analysis"},
	})

	var evt events.Event
	require.NoError(t, wsjson.Read(ctx, conn, &evt))
	assert.Equal(t, events.AnalysisCompleted, evt.Type)
	assert.Equal(t, "u1", evt.UserID)
	assert.Equal(t, "get_risk_analysis", evt.Data["tool"])
}
