// Package persistence stores the bot's historical totals and a history of
// finished sessions.
package persistence

import (
	"context"
	"errors"
	"time"

	"botpilot/pkg/proto"
)

// ErrSessionNotFound is returned when a requested session does not exist.
var ErrSessionNotFound = errors.New("session not found")

// DefaultHistoryLimit caps ListSessions when no limit is given.
const DefaultHistoryLimit = 50

// SessionRecord is one finished bot session.
type SessionRecord struct {
	StartedAt    time.Time      `json:"started_at"`
	EndedAt      time.Time      `json:"ended_at"`
	SessionID    string         `json:"session_id"`
	FinalState   proto.BotState `json:"final_state"`
	StopReason   string         `json:"stop_reason,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Stats        proto.Stats    `json:"stats"`
	PID          int            `json:"pid,omitempty"`
}

// Duration returns how long the session ran.
func (r *SessionRecord) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.EndedAt.Before(r.StartedAt) {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// Store persists totals and session history.
type Store interface {
	LoadTotals(ctx context.Context) (proto.Stats, error)
	SaveTotals(ctx context.Context, totals proto.Stats) error
	RecordSession(ctx context.Context, rec SessionRecord) error
	GetSession(ctx context.Context, sessionID string) (*SessionRecord, error)
	ListSessions(ctx context.Context, limit int) ([]SessionRecord, error)
	Close() error
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	return limit
}
