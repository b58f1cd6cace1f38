package proto

import (
	"testing"
)

func TestBotStateClassification(t *testing.T) {
	tests := []struct {
		state      BotState
		launchable bool
		stoppable  bool
		terminal   bool
	}{
		{StateIdle, true, false, false},
		{StateLaunching, false, true, false},
		{StateRunning, false, true, false},
		{StateStopping, false, false, false},
		{StateStopped, true, false, true},
		{StateCompleted, true, false, true},
		{StateFailed, true, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			if got := tt.state.IsLaunchable(); got != tt.launchable {
				t.Errorf("IsLaunchable() = %v, want %v", got, tt.launchable)
			}
			if got := tt.state.IsStoppable(); got != tt.stoppable {
				t.Errorf("IsStoppable() = %v, want %v", got, tt.stoppable)
			}
			if got := tt.state.IsTerminal(); got != tt.terminal {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.terminal)
			}
		})
	}
}

func TestParseBotState(t *testing.T) {
	got, err := ParseBotState(" Running ")
	if err != nil || got != StateRunning {
		t.Fatalf("ParseBotState = %v, %v", got, err)
	}
	if _, err := ParseBotState("paused"); err == nil {
		t.Error("Expected error for unknown state")
	}
}

func TestStatsArithmetic(t *testing.T) {
	a := Stats{JobsFound: 10, JobsApplied: 6, JobsFailed: 2, CreditsUsed: 60}
	b := Stats{JobsFound: 5, JobsApplied: 3, JobsFailed: 1, CreditsUsed: 30}

	if got := a.Add(b); got != (Stats{15, 9, 3, 90}) {
		t.Errorf("Add = %+v", got)
	}

	neg := Stats{JobsFound: -1, JobsApplied: 2, JobsFailed: -3, CreditsUsed: 0}
	if got := neg.Clamped(); got != (Stats{0, 2, 0, 0}) {
		t.Errorf("Clamped = %+v", got)
	}
}

func TestParseStatusEvent(t *testing.T) {
	raw := []byte(`{"stage":"RUNNING","activity":"Applying","details":{"company":"Acme"},"stats":{"jobs_found":4,"jobs_applied":2,"jobs_failed":0,"credits_used":20}}`)

	event, err := ParseStatusEvent(raw)
	if err != nil {
		t.Fatalf("ParseStatusEvent failed: %v", err)
	}
	if event.Stage != StageRunning {
		t.Errorf("Stage = %s", event.Stage)
	}
	if event.Details["company"] != "Acme" {
		t.Errorf("Details = %v", event.Details)
	}
	if event.Stats == nil || event.Stats.JobsApplied != 2 {
		t.Errorf("Stats = %+v", event.Stats)
	}
	if event.Timestamp.IsZero() {
		t.Error("Expected timestamp to be defaulted")
	}

	if _, err := ParseStatusEvent([]byte(`{"stage":"paused"}`)); err == nil {
		t.Error("Expected error for unknown stage")
	}
	if _, err := ParseStatusEvent([]byte(`not json`)); err == nil {
		t.Error("Expected error for malformed event")
	}
}

func TestStageTerminalState(t *testing.T) {
	for stage, want := range map[Stage]BotState{
		StageStopped:   StateStopped,
		StageCompleted: StateCompleted,
		StageFailed:    StateFailed,
	} {
		got, ok := stage.TerminalState()
		if !ok || got != want {
			t.Errorf("%s.TerminalState() = %v, %v", stage, got, ok)
		}
	}
	if _, ok := StageRunning.TerminalState(); ok {
		t.Error("running is not terminal")
	}
}

func TestFailureMessage(t *testing.T) {
	e := StatusEvent{Stage: StageFailed, Message: "login wall", Error: "captcha detected"}
	if e.FailureMessage() != "captcha detected" {
		t.Errorf("FailureMessage = %q", e.FailureMessage())
	}
	e.Error = ""
	if e.FailureMessage() != "login wall" {
		t.Errorf("FailureMessage = %q", e.FailureMessage())
	}
	e.Message = ""
	if e.FailureMessage() == "" {
		t.Error("Expected fallback failure message")
	}
}

func TestParseStatusEventClampsProgress(t *testing.T) {
	tests := []struct {
		raw  string
		want *int
	}{
		{`{"stage":"installing","progress":42}`, IntPtr(42)},
		{`{"stage":"installing","progress":250}`, IntPtr(100)},
		{`{"stage":"installing","progress":-5}`, IntPtr(0)},
		{`{"stage":"installing"}`, nil},
	}
	for _, tt := range tests {
		event, err := ParseStatusEvent([]byte(tt.raw))
		if err != nil {
			t.Fatalf("ParseStatusEvent(%s) failed: %v", tt.raw, err)
		}
		switch {
		case tt.want == nil && event.Progress != nil:
			t.Errorf("%s: progress = %d, want nil", tt.raw, *event.Progress)
		case tt.want != nil && (event.Progress == nil || *event.Progress != *tt.want):
			t.Errorf("%s: progress = %v, want %d", tt.raw, event.Progress, *tt.want)
		}
	}
}
