// Package proto defines the shared vocabulary of the bot controller: lifecycle states,
// runtime status events, and the notifications emitted on state changes.
package proto

import (
	"fmt"
	"strings"
	"time"
)

// BotState is the single authoritative lifecycle value of the bot.
type BotState string

// Bot lifecycle states.
const (
	StateIdle      BotState = "idle"
	StateLaunching BotState = "launching"
	StateRunning   BotState = "running"
	StateStopping  BotState = "stopping"
	StateStopped   BotState = "stopped"
	StateCompleted BotState = "completed"
	StateFailed    BotState = "failed"
)

// AllStates lists every state in lifecycle order.
var AllStates = []BotState{
	StateIdle, StateLaunching, StateRunning, StateStopping,
	StateStopped, StateCompleted, StateFailed,
}

func (s BotState) String() string {
	return string(s)
}

// IsLaunchable reports whether launch() is permitted from s.
func (s BotState) IsLaunchable() bool {
	switch s {
	case StateIdle, StateStopped, StateCompleted, StateFailed:
		return true
	default:
		return false
	}
}

// IsStoppable reports whether stop() is permitted from s.
func (s BotState) IsStoppable() bool {
	return s == StateLaunching || s == StateRunning
}

// IsTerminal reports whether s ends a session.
func (s BotState) IsTerminal() bool {
	return s == StateStopped || s == StateCompleted || s == StateFailed
}

// IsActive reports whether s is inside the liveness-polling span.
func (s BotState) IsActive() bool {
	return s == StateLaunching || s == StateRunning
}

// ParseBotState converts a string into a BotState.
func ParseBotState(s string) (BotState, error) {
	normalized := BotState(strings.ToLower(strings.TrimSpace(s)))
	for _, st := range AllStates {
		if st == normalized {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown bot state: %q", s)
}

// ProcessHandle identifies the automation process of the current session.
type ProcessHandle struct {
	StartedAt time.Time `json:"started_at"`
	PID       int       `json:"pid"`
}

// IsZero reports whether no process is tracked.
func (h ProcessHandle) IsZero() bool {
	return h.PID == 0 && h.StartedAt.IsZero()
}

// Stats holds the four job counters used for both session stats and historical totals.
type Stats struct {
	JobsFound   int `json:"jobs_found"`
	JobsApplied int `json:"jobs_applied"`
	JobsFailed  int `json:"jobs_failed"`
	CreditsUsed int `json:"credits_used"`
}

// Add returns the field-wise sum of s and o.
func (s Stats) Add(o Stats) Stats {
	return Stats{
		JobsFound:   s.JobsFound + o.JobsFound,
		JobsApplied: s.JobsApplied + o.JobsApplied,
		JobsFailed:  s.JobsFailed + o.JobsFailed,
		CreditsUsed: s.CreditsUsed + o.CreditsUsed,
	}
}

// Clamped returns s with negative counters replaced by zero.
func (s Stats) Clamped() Stats {
	return Stats{
		JobsFound:   max(s.JobsFound, 0),
		JobsApplied: max(s.JobsApplied, 0),
		JobsFailed:  max(s.JobsFailed, 0),
		CreditsUsed: max(s.CreditsUsed, 0),
	}
}

// IsZero reports whether every counter is zero.
func (s Stats) IsZero() bool {
	return s == Stats{}
}

// StateChangeNotification is emitted after every accepted state transition.
type StateChangeNotification struct {
	Timestamp    time.Time `json:"timestamp"`
	SessionID    string    `json:"session_id"`
	FromState    BotState  `json:"from_state"`
	ToState      BotState  `json:"to_state"`
	Reason       string    `json:"reason,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	SessionStats Stats     `json:"session_stats"`
	Totals       Stats     `json:"totals"`
	PID          int       `json:"pid,omitempty"`
}
