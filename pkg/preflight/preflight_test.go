package preflight

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanLaunch(t *testing.T) {
	tests := []struct {
		name      string
		cond      Conditions
		canLaunch bool
		reason    string
	}{
		{"all satisfied", Conditions{Credits: 10, PreferencesComplete: true, ProfilePublished: true, RuntimeInstalled: true}, true, ""},
		{"nothing satisfied", Conditions{}, false, ReasonProfileAndPreferences},
		{"profile and prefs missing beats credits", Conditions{Credits: 0, RuntimeInstalled: true}, false, ReasonProfileAndPreferences},
		{"profile missing", Conditions{Credits: 5, PreferencesComplete: true, RuntimeInstalled: true}, false, ReasonProfile},
		{"prefs missing", Conditions{Credits: 5, ProfilePublished: true}, false, ReasonPreferences},
		{"credits missing beats runtime", Conditions{PreferencesComplete: true, ProfilePublished: true}, false, ReasonCredits},
		{"negative credits", Conditions{Credits: -3, PreferencesComplete: true, ProfilePublished: true, RuntimeInstalled: true}, false, ReasonCredits},
		{"runtime missing", Conditions{Credits: 1, PreferencesComplete: true, ProfilePublished: true}, false, ReasonRuntime},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.canLaunch, tt.cond.CanLaunch())
			assert.Equal(t, tt.canLaunch, CanLaunch(tt.cond.Credits, tt.cond.PreferencesComplete, tt.cond.ProfilePublished, tt.cond.RuntimeInstalled))
			assert.Equal(t, tt.reason, tt.cond.BlockingReason())
		})
	}
}

func TestRunReportsEveryCheck(t *testing.T) {
	results := Run(Conditions{Credits: 0, PreferencesComplete: true, ProfilePublished: true, RuntimeInstalled: false})

	require.Len(t, results.Checks, 4)
	assert.False(t, results.Passed)
	assert.Equal(t, ReasonCredits, results.BlockingReason)
	assert.Equal(t, "2 of 4 launch checks failed", results.Summary)

	formatted := FormatResults(results)
	assert.Contains(t, formatted, "[FAIL] credits")
	assert.Contains(t, formatted, "[PASS] profile")
}

func TestRunAllPassed(t *testing.T) {
	results := Run(Conditions{Credits: 3, PreferencesComplete: true, ProfilePublished: true, RuntimeInstalled: true})
	assert.True(t, results.Passed)
	assert.Empty(t, results.BlockingReason)
	assert.True(t, strings.HasPrefix(FormatResults(results), "Launch checks passed"))
}

func writeFakeRuntime(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\necho 1.4.2\n"), 0o755))
	return path
}

func TestResolveRuntime(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script runtime not supported on windows")
	}
	dir := t.TempDir()

	_, err := ResolveRuntime("job-runner", dir)
	assert.Error(t, err)

	path := writeFakeRuntime(t, dir, "job-runner")
	got, err := ResolveRuntime("job-runner", dir)
	require.NoError(t, err)
	assert.Equal(t, path, got)

	got, err = ResolveRuntime(path, "")
	require.NoError(t, err)
	assert.Equal(t, path, got)

	_, err = ResolveRuntime("", dir)
	assert.Error(t, err)
}

func TestProbeRuntime(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script runtime not supported on windows")
	}
	dir := t.TempDir()

	info := ProbeRuntime(context.Background(), "job-runner", dir)
	assert.False(t, info.Installed)

	writeFakeRuntime(t, dir, "job-runner")
	info = ProbeRuntime(context.Background(), "job-runner", dir)
	assert.True(t, info.Installed)
	assert.Equal(t, "1.4.2", info.Version)
}

func TestRuntimeWatcherDetectsInstall(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script runtime not supported on windows")
	}
	dir := t.TempDir()

	w, err := NewRuntimeWatcher("job-runner", dir)
	require.NoError(t, err)
	assert.False(t, w.Installed())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer func() { _ = w.Stop() }()

	writeFakeRuntime(t, dir, "job-runner")

	select {
	case ev := <-w.Events():
		require.NoError(t, ev.Error)
		assert.True(t, ev.Installed)
		assert.True(t, w.Installed())
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for runtime install event")
	}
}
