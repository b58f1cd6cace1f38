package botcontrol

import (
	"errors"
)

var (
	// ErrRuntimeUnavailable means no automation runtime bridge is installed.
	ErrRuntimeUnavailable = errors.New("automation runtime unavailable")
	// ErrLaunchInProgress rejects a launch while another one is still running its sequence.
	ErrLaunchInProgress = errors.New("launch already in progress")
	// ErrNotLaunchable rejects a launch from a state that does not permit it.
	ErrNotLaunchable = errors.New("bot cannot be launched in its current state")
	// ErrNotStoppable rejects a stop from a state that does not permit it.
	ErrNotStoppable = errors.New("bot is not running")
	// ErrResetNotAllowed rejects a reset while a session is active.
	ErrResetNotAllowed = errors.New("cannot reset while the bot is active")
	// ErrLaunchCancelled is returned by a launch whose session was stopped or reset before it finished.
	ErrLaunchCancelled = errors.New("launch cancelled")
	// ErrPreconditions is matched by every *PreconditionError.
	ErrPreconditions = errors.New("launch preconditions not met")
	// ErrProfileNotPublished is the cause recorded when the profile check answers "no".
	ErrProfileNotPublished = errors.New("profile not published")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("controller closed")
)

// CodeRuntimeUnavailable is the error code surfaced to the UI when no runtime is installed.
const CodeRuntimeUnavailable = "AUTOMATION_RUNTIME_UNAVAILABLE"

// LaunchStep names one step of the launch sequence.
type LaunchStep string

// Launch sequence steps.
const (
	StepRuntime  LaunchStep = "runtime"
	StepProfile  LaunchStep = "profile"
	StepConfig   LaunchStep = "config"
	StepToken    LaunchStep = "token"
	StepSpawning LaunchStep = "spawn"
)

// User-facing launch failure messages.
const (
	MsgProfileNotPublished = "Profile not published — publish your profile first."
	MsgConfigFailed        = "Failed to create local config file."
	MsgTokenFailed         = "Failed to get API token."
	MsgLaunchFailed        = "Failed to launch bot"
	MsgRuntimeUnavailable  = "Automation runtime is not available on this device."
	MsgRuntimeExited       = "Automation runtime exited before it started."
)

// LaunchError is a launch sequence failure. Error returns the user-facing message.
type LaunchError struct {
	Err     error
	Step    LaunchStep
	Message string
}

func (e *LaunchError) Error() string {
	return e.Message
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// PreconditionError rejects a launch blocked by the precondition gate.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string {
	return e.Reason
}

// Is matches ErrPreconditions.
func (e *PreconditionError) Is(target error) bool {
	return target == ErrPreconditions
}
