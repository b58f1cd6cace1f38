package proto

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Stage is the stage field carried by a runtime status event.
type Stage string

// Status event stages.
const (
	StageChecking   Stage = "checking"
	StageInstalling Stage = "installing"
	StageLaunching  Stage = "launching"
	StageRunning    Stage = "running"
	StageStopped    Stage = "stopped"
	StageCompleted  Stage = "completed"
	StageFailed     Stage = "failed"
)

// IsLaunchStage reports whether the stage belongs to the launch phase.
func (s Stage) IsLaunchStage() bool {
	return s == StageChecking || s == StageInstalling || s == StageLaunching
}

// IsTerminal reports whether the stage ends a session.
func (s Stage) IsTerminal() bool {
	return s == StageStopped || s == StageCompleted || s == StageFailed
}

// TerminalState maps a terminal stage to its bot state.
func (s Stage) TerminalState() (BotState, bool) {
	switch s {
	case StageStopped:
		return StateStopped, true
	case StageCompleted:
		return StateCompleted, true
	case StageFailed:
		return StateFailed, true
	default:
		return "", false
	}
}

// ParseStage converts a string into a Stage.
func ParseStage(s string) (Stage, error) {
	stage := Stage(strings.ToLower(strings.TrimSpace(s)))
	switch stage {
	case StageChecking, StageInstalling, StageLaunching, StageRunning,
		StageStopped, StageCompleted, StageFailed:
		return stage, nil
	default:
		return "", fmt.Errorf("unknown status stage: %q", s)
	}
}

// ActivityDetails describes the bot's current step (company, job title, step index...).
type ActivityDetails map[string]any

// Clone returns a shallow copy.
func (d ActivityDetails) Clone() ActivityDetails {
	if d == nil {
		return nil
	}
	out := make(ActivityDetails, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// LaunchProgress is present only while the bot is launching.
type LaunchProgress struct {
	Stage    Stage  `json:"stage"`
	Message  string `json:"message,omitempty"`
	Progress *int   `json:"progress,omitempty"`
}

// StatusEvent is one status update pushed by the automation runtime.
// Stats, when present, is a snapshot of the running session, not a delta.
type StatusEvent struct {
	Timestamp time.Time       `json:"timestamp,omitempty"`
	Details   ActivityDetails `json:"details,omitempty"`
	Progress  *int            `json:"progress,omitempty"`
	Stats     *Stats          `json:"stats,omitempty"`
	Stage     Stage           `json:"stage"`
	Message   string          `json:"message,omitempty"`
	Activity  string          `json:"activity,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// FailureMessage returns the human-readable reason carried by a failed event.
func (e *StatusEvent) FailureMessage() string {
	if e.Error != "" {
		return e.Error
	}
	if e.Message != "" {
		return e.Message
	}
	return "Bot failed"
}

// ParseStatusEvent decodes and validates one JSON status event.
func ParseStatusEvent(data []byte) (StatusEvent, error) {
	var event StatusEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return StatusEvent{}, fmt.Errorf("failed to decode status event: %w", err)
	}
	stage, err := ParseStage(string(event.Stage))
	if err != nil {
		return StatusEvent{}, err
	}
	event.Stage = stage
	event.Progress = ClampProgress(event.Progress)
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	return event, nil
}

// ClampProgress bounds a progress percentage to 0..100. Nil stays nil.
func ClampProgress(p *int) *int {
	if p == nil {
		return nil
	}
	return IntPtr(min(max(*p, 0), 100))
}

// IntPtr is a helper for optional progress values.
func IntPtr(v int) *int {
	return &v
}
