// Package fsm implements the guarded bot lifecycle state machine.
package fsm

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"botpilot/pkg/logx"
	"botpilot/pkg/proto"
)

// ErrInvalidTransition indicates a transition not present in the table.
var ErrInvalidTransition = errors.New("invalid state transition")

// maxTransitions bounds the in-memory transition history.
const maxTransitions = 100

// TransitionTable lists the allowed target states for each state.
type TransitionTable map[proto.BotState][]proto.BotState

// BotTransitions is the lifecycle table of the bot.
//
//	idle -> launching                     launch()
//	idle -> running                       restore of a live process after reload
//	launching -> running|failed|completed|stopped   status events
//	launching|running -> stopping         stop()
//	running -> stopped|completed|failed   status events, poll-detected death
//	stopping -> stopped                   force stop succeeded (or stopped event)
//	stopping -> running|launching         force stop failed, revert
//	stopped|completed|failed -> launching|idle      launch(), reset()
var BotTransitions = TransitionTable{
	proto.StateIdle:      {proto.StateLaunching, proto.StateRunning},
	proto.StateLaunching: {proto.StateRunning, proto.StateFailed, proto.StateStopping, proto.StateCompleted, proto.StateStopped},
	proto.StateRunning:   {proto.StateStopping, proto.StateStopped, proto.StateCompleted, proto.StateFailed},
	proto.StateStopping:  {proto.StateStopped, proto.StateRunning, proto.StateLaunching},
	proto.StateStopped:   {proto.StateLaunching, proto.StateIdle},
	proto.StateCompleted: {proto.StateLaunching, proto.StateIdle},
	proto.StateFailed:    {proto.StateLaunching, proto.StateIdle},
}

// Allows reports whether from -> to is in the table.
func (t TransitionTable) Allows(from, to proto.BotState) bool {
	for _, s := range t[from] {
		if s == to {
			return true
		}
	}
	return false
}

// StateTransition records one accepted transition.
type StateTransition struct {
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	FromState proto.BotState `json:"from_state"`
	ToState   proto.BotState `json:"to_state"`
	Reason    string         `json:"reason,omitempty"`
}

// Machine holds the single authoritative BotState.
type Machine struct {
	table       TransitionTable
	logger      *logx.Logger
	current     proto.BotState
	transitions []StateTransition
	mu          sync.Mutex
}

// New creates a machine in the given state. A nil table uses BotTransitions.
func New(initial proto.BotState, table TransitionTable) *Machine {
	if table == nil {
		table = BotTransitions
	}
	return &Machine{
		table:       table,
		logger:      logx.NewLogger("fsm"),
		current:     initial,
		transitions: make([]StateTransition, 0),
	}
}

// Current returns the current state.
func (m *Machine) Current() proto.BotState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// CanTransition reports whether moving to the given state is currently allowed.
func (m *Machine) CanTransition(to proto.BotState) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.table.Allows(m.current, to)
}

// TransitionTo moves to newState if the table allows it and records the transition.
// A rejected transition leaves the state unchanged.
func (m *Machine) TransitionTo(newState proto.BotState, reason string, metadata map[string]any) (StateTransition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	oldState := m.current
	if !m.table.Allows(oldState, newState) {
		return StateTransition{}, fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidTransition, oldState, newState)
	}

	transition := StateTransition{
		FromState: oldState,
		ToState:   newState,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	}
	m.transitions = append(m.transitions, transition)
	if len(m.transitions) > maxTransitions {
		m.transitions = m.transitions[len(m.transitions)-maxTransitions:]
	}
	m.current = newState

	if reason != "" {
		m.logger.Info("🔄 Bot state transition: %s → %s (%s)", oldState, newState, reason)
	} else {
		m.logger.Info("🔄 Bot state transition: %s → %s", oldState, newState)
	}
	return transition, nil
}

// GetTransitions returns the transition history.
func (m *Machine) GetTransitions() []StateTransition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]StateTransition{}, m.transitions...)
}
