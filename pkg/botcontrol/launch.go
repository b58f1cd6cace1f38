package botcontrol

import (
	"context"
	"errors"
	"fmt"
	"time"

	"botpilot/pkg/proto"
)

// Progress messages shown while each launch step runs.
const (
	progressProfile = "Checking your profile..."
	progressConfig  = "Preparing local configuration..."
	progressToken   = "Requesting access token..."
	progressSpawn   = "Starting automation runtime..."
)

const orphanStopTimeout = 10 * time.Second

// Launch starts a new session. It returns once the runtime has been spawned or the
// sequence failed; the session reaches running when the runtime reports it.
//
// Launch never changes state on a precondition error. A concurrent call while a
// sequence is still running is rejected with ErrLaunchInProgress.
func (c *Controller) Launch(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.inFlight {
		c.mu.Unlock()
		return ErrLaunchInProgress
	}
	current := c.machine.Current()
	if !current.IsLaunchable() {
		c.mu.Unlock()
		c.logger.Debug("Launch rejected in state %s", current)
		return ErrNotLaunchable
	}

	if !c.sup.Available() {
		c.beginSessionLocked()
		c.transitionLocked(proto.StateLaunching, "launch requested")
		c.errorMessage = MsgRuntimeUnavailable
		c.errorCode = CodeRuntimeUnavailable
		c.transitionLocked(proto.StateFailed, "automation runtime unavailable")
		c.mu.Unlock()
		c.observeFailure(StepRuntime)
		return ErrRuntimeUnavailable
	}

	if !c.conditions.CanLaunch() {
		reason := c.conditions.BlockingReason()
		c.mu.Unlock()
		return &PreconditionError{Reason: reason}
	}

	c.inFlight = true
	c.beginSessionLocked()
	c.transitionLocked(proto.StateLaunching, "launch requested")
	session := c.sessionID
	c.mu.Unlock()

	err := c.runLaunchSequence(ctx, session)

	c.mu.Lock()
	c.inFlight = false
	c.publishLocked()
	c.mu.Unlock()
	return err
}

func (c *Controller) runLaunchSequence(ctx context.Context, session string) error {
	if !c.setProgress(session, progressProfile) {
		return ErrLaunchCancelled
	}
	published, err := c.profile.ProfilePublished(ctx)
	if err == nil && !published {
		err = ErrProfileNotPublished
	}
	if err != nil {
		return c.failLaunch(session, &LaunchError{Step: StepProfile, Message: MsgProfileNotPublished, Err: err})
	}

	if !c.setProgress(session, progressConfig) {
		return ErrLaunchCancelled
	}
	configPath, err := c.materializer.Materialize(ctx)
	if err != nil {
		return c.failLaunch(session, &LaunchError{Step: StepConfig, Message: MsgConfigFailed, Err: err})
	}
	c.logger.Debug("Local config written to %s", configPath)

	if !c.setProgress(session, progressToken) {
		return ErrLaunchCancelled
	}
	token, err := c.tokens.IssueToken(ctx)
	if err == nil && token == "" {
		err = errors.New("empty token")
	}
	if err != nil {
		return c.failLaunch(session, &LaunchError{Step: StepToken, Message: MsgTokenFailed, Err: err})
	}

	if !c.setProgress(session, progressSpawn) {
		return ErrLaunchCancelled
	}
	res, err := c.sup.Launch(ctx, token, c.apiURL)

	c.mu.Lock()
	current := c.machine.Current()
	live := session == c.sessionID && (current == proto.StateLaunching || current == proto.StateRunning)

	if !live {
		sameSession := session == c.sessionID
		finalMessage := c.errorMessage
		c.mu.Unlock()

		// The runtime can finish before its launch call returns.
		if sameSession && current == proto.StateCompleted {
			return nil
		}
		if sameSession && current == proto.StateFailed {
			return &LaunchError{Step: StepSpawning, Message: finalMessage}
		}
		if err == nil {
			c.stopOrphan(res.PID)
		}
		return ErrLaunchCancelled
	}

	if err != nil {
		c.mu.Unlock()
		message := err.Error()
		if message == "" {
			message = MsgLaunchFailed
		}
		return c.failLaunch(session, &LaunchError{Step: StepSpawning, Message: message, Err: err})
	}

	c.process = proto.ProcessHandle{PID: res.PID, StartedAt: res.StartedAt}
	c.publishLocked()
	c.mu.Unlock()

	c.logger.Info("Launch sequence for session %s finished (pid %d)", session, res.PID)
	return nil
}

// setProgress records the current launch step. It returns false when the session
// has been stopped or replaced.
func (c *Controller) setProgress(session, message string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if session != c.sessionID || c.machine.Current() != proto.StateLaunching {
		return false
	}
	c.progress = &proto.LaunchProgress{Stage: proto.StageChecking, Message: message}
	c.publishLocked()
	return true
}

// failLaunch drives the session to failed if it is still launching.
func (c *Controller) failLaunch(session string, lerr *LaunchError) error {
	c.mu.Lock()
	if session != c.sessionID || c.machine.Current() != proto.StateLaunching {
		c.mu.Unlock()
		c.logger.Info("Launch step %s failed after session ended: %v", lerr.Step, lerr.Err)
		return ErrLaunchCancelled
	}
	c.errorMessage = lerr.Message
	c.transitionLocked(proto.StateFailed, fmt.Sprintf("launch step %s failed", lerr.Step))
	c.mu.Unlock()

	if lerr.Err != nil {
		c.logger.Warn("Launch failed at %s: %v", lerr.Step, lerr.Err)
	} else {
		c.logger.Warn("Launch failed at %s", lerr.Step)
	}
	c.observeFailure(lerr.Step)
	return lerr
}

// stopOrphan kills a runner whose launch returned after its session was stopped.
func (c *Controller) stopOrphan(pid int) {
	c.logger.Warn("Discarding late launch (pid %d) for a stopped session", pid)
	ctx, cancel := context.WithTimeout(context.Background(), orphanStopTimeout)
	defer cancel()
	if err := c.sup.ForceStop(ctx); err != nil {
		c.logger.Error("Failed to stop orphaned runner (pid %d): %v", pid, err)
	}
}

func (c *Controller) observeFailure(step LaunchStep) {
	if c.observer != nil {
		c.observer.LaunchFailed(step)
	}
}
