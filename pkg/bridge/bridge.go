// Package bridge defines the boundary between the bot controller and the process
// that runs the automation runtime, plus a local os/exec implementation of it.
package bridge

import (
	"context"
	"errors"
	"time"

	"botpilot/pkg/proto"
)

// ErrAlreadyRunning is returned by Launch when a runner process is already alive.
var ErrAlreadyRunning = errors.New("bot is already running")

// StatusHandler receives status events pushed by the runtime.
// Handlers are invoked from a bridge goroutine and must not block for long.
type StatusHandler func(event proto.StatusEvent)

// LaunchResult describes a successfully started runner.
type LaunchResult struct {
	StartedAt time.Time `json:"started_at"`
	PID       int       `json:"pid"`
}

// Status is the answer to a liveness query.
type Status struct {
	StartedAt time.Time    `json:"started_at,omitempty"`
	Stats     *proto.Stats `json:"stats,omitempty"`
	Running   bool         `json:"running"`
	PID       int          `json:"pid,omitempty"`
}

// Bridge is the privileged boundary that owns the runner process.
//
// Launch errors carry the user-facing message verbatim. ForceStop succeeds when
// nothing is running.
type Bridge interface {
	Launch(ctx context.Context, token, apiURL string) (LaunchResult, error)
	ForceStop(ctx context.Context) error
	GetStatus(ctx context.Context) (Status, error)
	OnStatusEvent(handler StatusHandler)
	RemoveListeners()
}
