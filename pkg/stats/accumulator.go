// Package stats accumulates per-session job counters and folds them into
// historical totals exactly once per session.
package stats

import (
	"botpilot/pkg/proto"
)

// Accumulator holds the current session's counters and the historical totals of
// all prior sessions. It is not safe for concurrent use; the controller owns it
// under its own lock.
type Accumulator struct {
	session proto.Stats
	history proto.Stats
	counted bool
}

// NewAccumulator creates an accumulator seeded with externally persisted totals.
func NewAccumulator(history proto.Stats) *Accumulator {
	return &Accumulator{history: history.Clamped()}
}

// ApplyEventStats replaces the session counters with the snapshot carried on an event.
// Snapshots that arrive after the session was committed are ignored.
func (a *Accumulator) ApplyEventStats(snapshot proto.Stats) {
	if a.counted {
		return
	}
	a.session = snapshot.Clamped()
}

// CommitToHistory adds the session counters into the historical totals.
// It returns false when the session was already counted.
func (a *Accumulator) CommitToHistory() bool {
	if a.counted {
		return false
	}
	a.history = a.history.Add(a.session)
	a.counted = true
	return true
}

// ResetForNewSession zeroes the session counters and clears the counted flag.
func (a *Accumulator) ResetForNewSession() {
	a.session = proto.Stats{}
	a.counted = false
}

// Session returns the current session counters.
func (a *Accumulator) Session() proto.Stats {
	return a.session
}

// History returns the historical totals.
func (a *Accumulator) History() proto.Stats {
	return a.history
}

// Counted reports whether the current session has been folded into history.
func (a *Accumulator) Counted() bool {
	return a.counted
}

// Displayed returns history plus the session's contribution if it has not been
// committed yet.
func (a *Accumulator) Displayed() proto.Stats {
	if a.counted {
		return a.history
	}
	return a.history.Add(a.session)
}
