package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandergv/tchub/internal/coremodel"
	"github.com/sandergv/tchub/internal/cron"
	"github.com/sandergv/tchub/internal/hub"
	"github.com/sandergv/tchub/internal/storage"
)

type nopConn struct{}

func (nopConn) Send(string) error { return nil }
func (nopConn) Close() error      { return nil }

type stubFetcher struct{ value float64 }

func (f stubFetcher) Fetch(context.Context, string, coremodel.SensorID) (float64, error) {
	return f.value, nil
}

type testEnv struct {
	router *gin.Engine
	svc    *hub.Service
	runner *cron.MemoryRunner
	stops  []bool
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()

	store, err := storage.OpenSessionStore(filepath.Join(dir, "sessions.json"))
	require.NoError(t, err)

	env := &testEnv{runner: &cron.MemoryRunner{}}
	reg := hub.NewRegistry(nil, nil, nil, nil)
	_, _, err = reg.Connect("B1", "192.168.1.20",
		[]hub.SensorSpec{{ID: "s1", Model: "dht11", Measure: "C"}}, nopConn{})
	require.NoError(t, err)

	env.svc = hub.NewService(hub.Deps{
		Registry:    reg,
		Relay:       hub.NewRelay(nil, nil),
		Sessions:    store,
		Cron:        cron.NewStore(env.runner, "tchub", time.Second),
		Fetcher:     stubFetcher{value: 22.5},
		DataDir:     dir,
		CallbackURL: "http://localhost:8080",
	})

	h := NewHandlers(env.svc, func(clean bool) { env.stops = append(env.stops, clean) }, nil)
	env.router = gin.New()
	RegisterRoutes(env.router, h, nil)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func createBody() map[string]any {
	return map[string]any{
		"sensor":      "s1",
		"description": "onchange",
		"kind":        "open",
	}
}

func TestCreateAndListSessions(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/boards/B1/sessions", createBody())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created coremodel.SessionRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.True(t, created.Active)
	assert.False(t, created.Finished)

	w = env.do(t, http.MethodGet, "/sessions?board=B1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		Sessions []coremodel.SessionRecord `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	require.Len(t, listed.Sessions, 1)
	assert.Equal(t, created.ID, listed.Sessions[0].ID)

	// 不相干板卡的过滤
	w = env.do(t, http.MethodGet, "/sessions?board=B9", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	assert.Empty(t, listed.Sessions)
}

func TestStatusMapping(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/boards/B9/sessions", createBody())
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPost, "/sessions/nope/finish", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodPost, "/boards/B1/sessions", createBody())
	require.Equal(t, http.StatusCreated, w.Code)
	var created coremodel.SessionRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = env.do(t, http.MethodPost, "/sessions/"+string(created.ID)+"/finish", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, http.MethodPost, "/sessions/"+string(created.ID)+"/finish", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	// 已 Active 的会话不能再 start
	w = env.do(t, http.MethodPost, "/boards/B1/sessions", createBody())
	require.Equal(t, http.StatusCreated, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	w = env.do(t, http.MethodPost, "/sessions/"+string(created.ID)+"/start", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodPost, "/boards/B1/sessions", map[string]any{
		"sensor": "s1", "description": "banana", "kind": "open",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDataCallbackRecordsValue(t *testing.T) {
	env := newTestEnv(t)

	body := createBody()
	body["description"] = "interval"
	body["interval_unit"] = "minute"
	body["interval_count"] = 5
	w := env.do(t, http.MethodPost, "/boards/B1/sessions", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created coremodel.SessionRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = env.do(t, http.MethodGet, "/data?board=B1&sensor=s1&session="+string(created.ID), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Value float64 `json:"value"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 22.5, resp.Value)

	w = env.do(t, http.MethodGet, "/data?board=B1&sensor=s1&session=unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStopEndpoint(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/server/stop?opt=clean", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, env.stops, 1)
	assert.True(t, env.stops[0])

	w = env.do(t, http.MethodPost, "/server/stop", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, env.stops, 2)
	assert.False(t, env.stops[1])
}

func TestInfo(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var info struct {
		Name    string `json:"name"`
		Version string `json:"version"`
		Boards  []struct {
			ID        string `json:"id"`
			Connected bool   `json:"connected"`
		} `json:"boards"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, "tchub", info.Name)
	assert.Equal(t, Version, info.Version)
	require.Len(t, info.Boards, 1)
	assert.True(t, info.Boards[0].Connected)
}
