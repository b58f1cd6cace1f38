package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"botpilot/internal/kernel"
	"botpilot/pkg/botcontrol"
	"botpilot/pkg/config"
	"botpilot/pkg/preflight"
	"botpilot/pkg/proto"
	"botpilot/pkg/webui"
)

func loadTestConfig(t *testing.T, apiURL, webAddr, password string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "botpilot.json")
	body := fmt.Sprintf(`{"api": {"url": %q}, "data_dir": %q, "webui": {"addr": %q, "password": %q}}`, apiURL, dir, webAddr, password)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	return cfg
}

func sampleSnapshot() *botcontrol.Snapshot {
	started := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return &botcontrol.Snapshot{
		BotState:        proto.StateRunning,
		BotPID:          4242,
		StartedAt:       &started,
		CurrentActivity: "Applying",
		ActivityDetails: proto.ActivityDetails{"job_title": "Engineer", "company": "Acme"},
		SessionStats:    proto.Stats{JobsFound: 5, JobsApplied: 3, JobsFailed: 1, CreditsUsed: 30},
		DisplayTotals:   proto.Stats{JobsFound: 15, JobsApplied: 9, JobsFailed: 3, CreditsUsed: 90},
		Conditions:      preflight.Conditions{Credits: 70},
		CanLaunch:       false,
		BlockingReason:  "Bot is already running",
	}
}

func TestStatusLines(t *testing.T) {
	snap := sampleSnapshot()
	lines := statusLines(snap, snap.StartedAt.Add(90*time.Second))

	got := make(map[string]string, len(lines))
	for _, l := range lines {
		got[l.label] = l.value
	}
	assert.Equal(t, "running", got["State"])
	assert.Equal(t, "4242", got["PID"])
	assert.Equal(t, "1m30s", got["Uptime"])
	assert.Equal(t, "company=Acme job_title=Engineer", got["Details"])
	assert.Equal(t, "5 found, 3 applied, 1 failed, 30 credits", got["Session"])
	assert.Equal(t, "15 found, 9 applied, 3 failed, 90 credits", got["All time"])
	assert.Equal(t, "Bot is already running", got["Blocked"])
	assert.NotContains(t, got, "Stop reason")
}

func TestRenderPlainIncludesError(t *testing.T) {
	snap := &botcontrol.Snapshot{BotState: proto.StateFailed, ErrorMessage: "Failed to get API token.", CanLaunch: true}
	out := renderPlain(snap)
	assert.True(t, strings.HasPrefix(out, "state: failed"))
	assert.Contains(t, out, "error: Failed to get API token.")
	assert.NotContains(t, out, "blocked:")
}

func TestRenderStatus(t *testing.T) {
	snap := sampleSnapshot()
	out := renderStatus(snap, defaultWidth, snap.StartedAt.Add(time.Minute))
	assert.Contains(t, out, "RUNNING")
	assert.Contains(t, out, "Applying")
	assert.Contains(t, out, "4242")
}

func TestAPIClient(t *testing.T) {
	var authed bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		authed = ok && user == webui.AuthUsername && pass == "secret"
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/bot/status":
			_ = json.NewEncoder(w).Encode(sampleSnapshot())
		case "/api/bot/launch":
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(webui.CommandResponse{
				Error:     botcontrol.MsgRuntimeUnavailable,
				ErrorCode: botcontrol.CodeRuntimeUnavailable,
			})
		case "/api/bot/reset":
			_ = json.NewEncoder(w).Encode(webui.CommandResponse{Success: true})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	cfg := loadTestConfig(t, "https://api.example.test", srv.URL, "secret")
	client := newAPIClient(cfg)
	ctx := context.Background()

	snap, err := client.Status(ctx)
	require.NoError(t, err)
	assert.True(t, authed)
	assert.Equal(t, proto.StateRunning, snap.BotState)
	assert.Equal(t, 90, snap.DisplayTotals.CreditsUsed)

	err = client.Command(ctx, "launch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), botcontrol.CodeRuntimeUnavailable)

	require.NoError(t, client.Command(ctx, "reset"))
	require.Error(t, client.Command(ctx, "stop"))
}

func TestAPIClientAddsScheme(t *testing.T) {
	cfg := loadTestConfig(t, "https://api.example.test", "127.0.0.1:8765", "")
	assert.Equal(t, "http://127.0.0.1:8765", newAPIClient(cfg).baseURL)
}

func TestRunServerStopsOnCancel(t *testing.T) {
	backend := httptest.NewServer(http.NotFoundHandler())
	defer backend.Close()
	cfg := loadTestConfig(t, backend.URL, "127.0.0.1:0", "")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runServer(ctx, cfg, kernel.WithoutBridge()) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("runServer did not return after cancel")
	}
}
