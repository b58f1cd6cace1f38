package webui

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"botpilot/internal/mocks"
	"botpilot/internal/supervisor"
	"botpilot/pkg/botcontrol"
	"botpilot/pkg/eventlog"
	"botpilot/pkg/logx"
	"botpilot/pkg/metrics"
	"botpilot/pkg/persistence"
	"botpilot/pkg/preflight"
	"botpilot/pkg/proto"
)

type testEnv struct {
	srv  *httptest.Server
	ctrl *botcontrol.Controller
	br   *mocks.MockBridge
}

func launchable() preflight.Conditions {
	return preflight.Conditions{Credits: 5, PreferencesComplete: true, ProfilePublished: true, RuntimeInstalled: true}
}

func newTestEnv(t *testing.T, opts Options, withBridge bool) *testEnv {
	t.Helper()
	env := &testEnv{br: mocks.NewMockBridge()}
	be := mocks.NewMockBackend()

	sup := supervisor.New(nil, 0)
	if withBridge {
		sup = supervisor.New(env.br, time.Hour)
	}
	ctrl, err := botcontrol.New(botcontrol.Config{
		Supervisor:   sup,
		Profile:      be,
		Materializer: be,
		Tokens:       be,
		Conditions:   launchable(),
	})
	require.NoError(t, err)
	t.Cleanup(ctrl.Close)
	env.ctrl = ctrl

	env.srv = httptest.NewServer(NewServer(ctrl, opts).Handler())
	t.Cleanup(env.srv.Close)
	return env
}

func (e *testEnv) post(t *testing.T, path, body string) (*http.Response, CommandResponse) {
	t.Helper()
	resp, err := http.Post(e.srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out CommandResponse
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = json.Unmarshal(data, &out)
	return resp, out
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestLaunchStopRoundTrip(t *testing.T) {
	env := newTestEnv(t, Options{}, true)

	resp, out := env.post(t, "/api/bot/launch", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, out.Success)

	var snap botcontrol.Snapshot
	getJSON(t, env.srv.URL+"/api/bot/status", &snap)
	assert.Equal(t, proto.StateLaunching, snap.BotState)
	assert.Equal(t, mocks.DefaultPID, snap.BotPID)

	env.br.Emit(proto.StatusEvent{Stage: proto.StageRunning, Activity: "Searching"})
	getJSON(t, env.srv.URL+"/api/bot/status", &snap)
	assert.Equal(t, proto.StateRunning, snap.BotState)
	assert.Equal(t, "Searching", snap.CurrentActivity)
	assert.True(t, snap.StopEnabled)

	resp, out = env.post(t, "/api/bot/stop", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, out.Success)
	assert.Equal(t, proto.StateStopped, env.ctrl.State())

	resp, out = env.post(t, "/api/bot/reset", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, out.Success)
	assert.Equal(t, proto.StateIdle, env.ctrl.State())
}

func TestCommandErrors(t *testing.T) {
	t.Run("runtime unavailable", func(t *testing.T) {
		env := newTestEnv(t, Options{}, false)
		resp, out := env.post(t, "/api/bot/launch", "")
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assert.False(t, out.Success)
		assert.Equal(t, botcontrol.CodeRuntimeUnavailable, out.ErrorCode)
		assert.Equal(t, botcontrol.MsgRuntimeUnavailable, out.Error)
	})

	t.Run("preconditions", func(t *testing.T) {
		env := newTestEnv(t, Options{}, true)
		env.ctrl.UpdateConditions(func(c *preflight.Conditions) { c.Credits = 0 })
		resp, out := env.post(t, "/api/bot/launch", "")
		assert.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)
		assert.Equal(t, preflight.ReasonCredits, out.Error)
		assert.Equal(t, proto.StateIdle, env.ctrl.State())
	})

	t.Run("stop when idle", func(t *testing.T) {
		env := newTestEnv(t, Options{}, true)
		resp, out := env.post(t, "/api/bot/stop", "")
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Equal(t, botcontrol.ErrNotStoppable.Error(), out.Error)
	})

	t.Run("reset while active", func(t *testing.T) {
		env := newTestEnv(t, Options{}, true)
		_, out := env.post(t, "/api/bot/launch", "")
		require.True(t, out.Success)
		resp, out := env.post(t, "/api/bot/reset", "")
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.False(t, out.Success)
		assert.Equal(t, botcontrol.ErrResetNotAllowed.Error(), out.Error)

		resp, out = env.post(t, "/api/bot/launch", "")
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Equal(t, botcontrol.ErrNotLaunchable.Error(), out.Error)
	})

	t.Run("spawn failure", func(t *testing.T) {
		env := newTestEnv(t, Options{}, true)
		env.br.FailLaunchWith("Browser not found")
		resp, out := env.post(t, "/api/bot/launch", "")
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
		assert.Equal(t, "Browser not found", out.Error)
		assert.Equal(t, proto.StateFailed, env.ctrl.State())
	})

	t.Run("wrong method", func(t *testing.T) {
		env := newTestEnv(t, Options{}, true)
		resp := getJSON(t, env.srv.URL+"/api/bot/launch", nil)
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})
}

func TestConditionsAndGate(t *testing.T) {
	var env *testEnv
	refreshes := 0
	env = newTestEnv(t, Options{RefreshConditions: func(context.Context) error {
		refreshes++
		env.ctrl.UpdateConditions(func(c *preflight.Conditions) {
			c.Credits = 3
			c.ProfilePublished = false
		})
		return nil
	}}, true)

	resp, err := http.Post(env.srv.URL+"/api/bot/conditions", "application/json",
		strings.NewReader(`{"profile_published": true, "credits": 1000}`))
	require.NoError(t, err)
	var cond preflight.Conditions
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&cond))
	resp.Body.Close()

	assert.Equal(t, 1, refreshes)
	assert.Equal(t, preflight.Conditions{Credits: 3, PreferencesComplete: true, RuntimeInstalled: true}, cond,
		"the request body never overrides gate inputs")

	getJSON(t, env.srv.URL+"/api/bot/conditions", &cond)
	assert.Equal(t, 3, cond.Credits)

	var gate GateResponse
	getJSON(t, env.srv.URL+"/api/bot/gate", &gate)
	require.NotNil(t, gate.Results)
	assert.False(t, gate.Results.Passed)
	assert.Equal(t, preflight.ReasonProfile, gate.Results.BlockingReason)
	assert.Contains(t, gate.Report, "[FAIL] profile")

	var snap botcontrol.Snapshot
	getJSON(t, env.srv.URL+"/api/bot/status", &snap)
	assert.False(t, snap.CanLaunch)
	assert.Equal(t, preflight.ReasonProfile, snap.BlockingReason)
}

func TestConditionsRefreshErrors(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		env := newTestEnv(t, Options{}, true)
		resp, err := http.Post(env.srv.URL+"/api/bot/conditions", "application/json", strings.NewReader(`{"credits": 1000}`))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assert.Equal(t, launchable(), env.ctrl.Snapshot().Conditions)
	})

	t.Run("backend failure", func(t *testing.T) {
		env := newTestEnv(t, Options{RefreshConditions: func(context.Context) error {
			return errors.New("backend down")
		}}, true)
		resp, err := http.Post(env.srv.URL+"/api/bot/conditions", "application/json", http.NoBody)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	})
}

func TestHistoryEndpoints(t *testing.T) {
	store, err := persistence.OpenSQLite(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	ended := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.RecordSession(ctx, persistence.SessionRecord{
			SessionID:  id,
			FinalState: proto.StateCompleted,
			EndedAt:    ended.Add(time.Duration(i) * time.Minute),
		}))
	}

	env := newTestEnv(t, Options{History: store}, true)

	var sessions []persistence.SessionRecord
	getJSON(t, env.srv.URL+"/api/bot/history?limit=2", &sessions)
	require.Len(t, sessions, 2)
	assert.Equal(t, "c", sessions[0].SessionID)

	var rec persistence.SessionRecord
	resp := getJSON(t, env.srv.URL+"/api/bot/history/b", &rec)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "b", rec.SessionID)

	resp = getJSON(t, env.srv.URL+"/api/bot/history/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = getJSON(t, env.srv.URL+"/api/bot/history?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHistoryNotConfigured(t *testing.T) {
	env := newTestEnv(t, Options{}, true)
	resp := getJSON(t, env.srv.URL+"/api/bot/history", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEventsEndpoint(t *testing.T) {
	dir := t.TempDir()
	w, err := eventlog.NewWriter(dir)
	require.NoError(t, err)
	require.NoError(t, w.WriteStatus("s-1", proto.StatusEvent{Stage: proto.StageRunning}))
	require.NoError(t, w.WriteStatus("s-2", proto.StatusEvent{Stage: proto.StageCompleted}))
	require.NoError(t, w.Close())

	env := newTestEnv(t, Options{EventLogDir: dir}, true)

	var records []eventlog.Record
	getJSON(t, env.srv.URL+"/api/bot/events", &records)
	assert.Len(t, records, 2)

	getJSON(t, env.srv.URL+"/api/bot/events?session=s-2", &records)
	require.Len(t, records, 1)
	assert.Equal(t, proto.StageCompleted, records[0].Status.Stage)
}

func TestBasicAuth(t *testing.T) {
	env := newTestEnv(t, Options{Password: "hunter2"}, true)

	resp := getJSON(t, env.srv.URL+"/api/bot/status", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, env.srv.URL+"/api/bot/status", nil)
	require.NoError(t, err)
	req.SetBasicAuth(AuthUsername, "wrong")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req.SetBasicAuth(AuthUsername, "hunter2")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = getJSON(t, env.srv.URL+"/api/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "health stays open")
}

func TestMetricsAndLogs(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := metrics.NewRecorder(reg)
	rec.StatusEvent(proto.StageRunning)

	env := newTestEnv(t, Options{Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}, true)

	resp, err := http.Get(env.srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), `botpilot_status_events_total{stage="running"} 1`)

	logx.NewLogger("webui-test").Info("hello from the test")
	var entries []logx.LogEntry
	getJSON(t, env.srv.URL+"/api/logs", &entries)
	found := false
	for _, e := range entries {
		if e.Message == "hello from the test" {
			found = true
		}
	}
	assert.True(t, found)

	resp = getJSON(t, env.srv.URL+"/api/logs?since=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStreamPushesSnapshots(t *testing.T) {
	env := newTestEnv(t, Options{}, true)

	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/api/bot/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var snap botcontrol.Snapshot
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, proto.StateIdle, snap.BotState)

	require.NoError(t, env.ctrl.Launch(context.Background()))
	env.br.Emit(proto.StatusEvent{Stage: proto.StageRunning})

	for snap.BotState != proto.StateRunning {
		require.NoError(t, conn.ReadJSON(&snap))
	}
	assert.NotEmpty(t, snap.SessionID)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	env := newTestEnv(t, Options{}, true)
	s := NewServer(env.ctrl, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, "127.0.0.1:0") }()

	time.Sleep(100 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
