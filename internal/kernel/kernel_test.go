package kernel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"botpilot/internal/mocks"
	"botpilot/pkg/botcontrol"
	"botpilot/pkg/config"
	"botpilot/pkg/eventlog"
	"botpilot/pkg/persistence"
	"botpilot/pkg/preflight"
	"botpilot/pkg/prefs"
	"botpilot/pkg/proto"
)

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// accountServer fakes the backend with a published profile and complete preferences.
func accountServer(t *testing.T, credits int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/profile/status":
			writeJSON(w, map[string]bool{"published": true})
		case "/api/v1/preferences":
			writeJSON(w, map[string]any{"job_titles": []string{"Backend Engineer"}, "locations": []string{"Berlin"}})
		case "/api/v1/credits":
			writeJSON(w, map[string]int{"balance": credits})
		case "/api/v1/runtime/token":
			writeJSON(w, map[string]any{"token": "rt-abc", "expires_at": time.Now().Add(time.Hour)})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, apiURL string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "botpilot.json")
	body := fmt.Sprintf(`{"api": {"url": %q}, "data_dir": %q, "runtime": {"poll_interval_ms": 3600000}}`, apiURL, dir)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	return cfg
}

func startKernel(t *testing.T, cfg *config.Config, opts ...Option) *Kernel {
	t.Helper()
	k, err := NewKernel(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = k.Stop() })
	require.NoError(t, k.Start())
	return k
}

func TestNewKernel_UnknownBackend(t *testing.T) {
	cfg := testConfig(t, "https://api.example.test")
	cfg.Persistence.Backend = "mongo"
	_, err := NewKernel(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown persistence backend")
}

func TestKernelWithoutBridge(t *testing.T) {
	srv := accountServer(t, 10)
	k := startKernel(t, testConfig(t, srv.URL), WithoutBridge())

	assert.Nil(t, k.Bridge)
	snap := k.Controller.Snapshot()
	assert.False(t, snap.IsAutomationRuntimeAvailable)
	assert.ErrorIs(t, k.Controller.Launch(context.Background()), botcontrol.ErrRuntimeUnavailable)
}

func TestKernelLoadsConditions(t *testing.T) {
	srv := accountServer(t, 7)
	k := startKernel(t, testConfig(t, srv.URL), WithBridge(mocks.NewMockBridge()))

	cond := k.Controller.Conditions()
	assert.Equal(t, 7, cond.Credits)
	assert.True(t, cond.ProfilePublished)
	assert.True(t, cond.PreferencesComplete)
	assert.False(t, cond.RuntimeInstalled, "no runtime command configured")
}

func TestKernelSessionLifecycle(t *testing.T) {
	srv := accountServer(t, 10)
	cfg := testConfig(t, srv.URL)
	br := mocks.NewMockBridge()
	k := startKernel(t, cfg, WithBridge(br))
	k.Controller.UpdateConditions(func(c *preflight.Conditions) { c.RuntimeInstalled = true })

	require.NoError(t, k.Controller.Launch(context.Background()))
	require.Len(t, br.LaunchCalls(), 1)
	assert.Equal(t, "rt-abc", br.LaunchCalls()[0].Token)
	assert.Equal(t, srv.URL, br.LaunchCalls()[0].APIURL)

	local, err := prefs.LoadLocalConfig(cfg.Runtime.ConfigPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"Backend Engineer"}, local.Preferences.JobTitles)

	session := k.Controller.Snapshot().SessionID
	br.Emit(proto.StatusEvent{Stage: proto.StageRunning, Stats: &proto.Stats{JobsFound: 5, JobsApplied: 3, JobsFailed: 1, CreditsUsed: 30}})
	br.Emit(proto.StatusEvent{Stage: proto.StageCompleted})

	var rec *persistence.SessionRecord
	require.Eventually(t, func() bool {
		rec, err = k.Store.GetSession(context.Background(), session)
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, proto.StateCompleted, rec.FinalState)
	assert.Equal(t, proto.Stats{JobsFound: 5, JobsApplied: 3, JobsFailed: 1, CreditsUsed: 30}, rec.Stats)
	assert.Equal(t, mocks.DefaultPID, rec.PID)
	assert.False(t, rec.StartedAt.IsZero())

	totals, err := k.Store.LoadTotals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, proto.Stats{JobsFound: 5, JobsApplied: 3, JobsFailed: 1, CreditsUsed: 30}, totals)

	count, err := testutil.GatherAndCount(k.Registry, "botpilot_sessions_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	records, err := eventlog.ReadRecords(k.EventLog.CurrentLogFile())
	require.NoError(t, err)
	var statuses, transitions int
	for _, r := range records {
		switch r.Kind {
		case eventlog.KindStatus:
			statuses++
			assert.Equal(t, session, r.SessionID)
		case eventlog.KindTransition:
			transitions++
		}
	}
	assert.Equal(t, 2, statuses)
	assert.Equal(t, 3, transitions, "idle->launching->running->completed")
}

func TestKernelTotalsSurviveRestart(t *testing.T) {
	srv := accountServer(t, 10)
	cfg := testConfig(t, srv.URL)

	store, err := OpenStore(cfg)
	require.NoError(t, err)
	require.NoError(t, store.SaveTotals(context.Background(), proto.Stats{JobsFound: 10, JobsApplied: 6, JobsFailed: 2, CreditsUsed: 60}))
	require.NoError(t, store.Close())

	k := startKernel(t, cfg, WithBridge(mocks.NewMockBridge()))
	assert.Equal(t, proto.Stats{JobsFound: 10, JobsApplied: 6, JobsFailed: 2, CreditsUsed: 60}, k.Controller.HistoricalTotals())
}

func TestKernelRestoresLiveRunner(t *testing.T) {
	srv := accountServer(t, 10)
	br := mocks.NewMockBridge()
	started := time.Now().Add(-10 * time.Minute).UTC()
	br.SetProcess(777, started, &proto.Stats{JobsFound: 2})
	br.SetRunning(true)

	k := startKernel(t, testConfig(t, srv.URL), WithBridge(br))

	snap := k.Controller.Snapshot()
	assert.Equal(t, proto.StateRunning, snap.BotState)
	assert.Equal(t, 777, snap.BotPID)
	assert.Equal(t, 2, snap.SessionStats.JobsFound)
}

func TestKernelStopLeavesRunnerAlive(t *testing.T) {
	srv := accountServer(t, 10)
	br := mocks.NewMockBridge()
	k := startKernel(t, testConfig(t, srv.URL), WithBridge(br))
	k.Controller.UpdateConditions(func(c *preflight.Conditions) { c.RuntimeInstalled = true })
	require.NoError(t, k.Controller.Launch(context.Background()))

	require.NoError(t, k.Stop())
	require.NoError(t, k.Stop())
	assert.Zero(t, br.GetForceStopCallCount())
	assert.Equal(t, 1, br.RemoveListenersCount())
}
