package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"botpilot/pkg/proto"
)

const sessionColumns = `session_id, final_state, stop_reason, error_message,
	jobs_found, jobs_applied, jobs_failed, credits_used, pid, started_at, ended_at`

// RecordSession stores a finished session. Recording the same session again
// overwrites the earlier row.
func (s *SQLiteStore) RecordSession(ctx context.Context, rec SessionRecord) error {
	if rec.SessionID == "" {
		return fmt.Errorf("session_id is required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.SessionID, string(rec.FinalState), rec.StopReason, rec.ErrorMessage,
		rec.Stats.JobsFound, rec.Stats.JobsApplied, rec.Stats.JobsFailed, rec.Stats.CreditsUsed,
		rec.PID, formatTime(rec.StartedAt), formatTime(rec.EndedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to record session %s: %w", rec.SessionID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*SessionRecord, error) {
	var (
		rec              SessionRecord
		finalState       string
		started, stopped string
	)
	err := row.Scan(
		&rec.SessionID, &finalState, &rec.StopReason, &rec.ErrorMessage,
		&rec.Stats.JobsFound, &rec.Stats.JobsApplied, &rec.Stats.JobsFailed, &rec.Stats.CreditsUsed,
		&rec.PID, &started, &stopped,
	)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with context
	}
	rec.FinalState = proto.BotState(finalState)
	rec.StartedAt = parseTime(started)
	rec.EndedAt = parseTime(stopped)
	return &rec, nil
}

// GetSession returns one recorded session.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*SessionRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, sessionID)
	rec, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	return rec, nil
}

// ListSessions returns the most recently ended sessions first.
func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions ORDER BY ended_at DESC LIMIT ?`, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return out, nil
}
