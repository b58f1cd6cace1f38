package botcontrol

import (
	"botpilot/internal/supervisor"
	"botpilot/pkg/bridge"
	"botpilot/pkg/proto"
)

// handleStatusEvent folds one runtime status event into the controller. It reads
// the state at the time the event arrives; events outside a live session are dropped.
func (c *Controller) handleStatusEvent(event proto.StatusEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.observer != nil {
		c.observer.StatusEvent(event.Stage)
	}

	current := c.machine.Current()
	if c.sessionID == "" || !(current.IsActive() || current == proto.StateStopping) {
		c.logger.Debug("Dropping %s event in state %s", event.Stage, current)
		return
	}

	if event.Activity != "" {
		c.activity = event.Activity
	}
	if event.Details != nil {
		c.details = event.Details.Clone()
	}
	if event.Stats != nil {
		c.acc.ApplyEventStats(*event.Stats)
	}

	switch {
	case event.Stage.IsLaunchStage():
		if current == proto.StateLaunching {
			c.progress = &proto.LaunchProgress{
				Stage:    event.Stage,
				Message:  event.Message,
				Progress: proto.ClampProgress(event.Progress),
			}
		}

	case event.Stage == proto.StageRunning:
		c.launchMisses = 0
		switch current {
		case proto.StateLaunching:
			c.transitionLocked(proto.StateRunning, "runtime reported running")
			return
		case proto.StateStopping:
			// A failed stop must return to running, not to launching.
			c.sawRunning = true
		}

	case event.Stage.IsTerminal():
		target, _ := event.Stage.TerminalState()
		if !c.machine.CanTransition(target) {
			c.logger.Debug("Ignoring %s event in state %s", event.Stage, current)
			break
		}
		reason := "runtime reported " + string(event.Stage)
		switch target {
		case proto.StateFailed:
			c.errorMessage = event.FailureMessage()
		case proto.StateStopped:
			if c.stopReason == "" {
				c.stopReason = ReasonStoppedByRuntime
				if event.Message != "" {
					c.stopReason = event.Message
				}
			}
		}
		c.transitionLocked(target, reason)
		return
	}

	c.publishLocked()
}

// pollFunc returns the liveness handler bound to one session. Answers for a
// session that is no longer current are ignored.
func (c *Controller) pollFunc(session string) supervisor.PollFunc {
	return func(st bridge.Status) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed || session != c.sessionID {
			return
		}

		current := c.machine.Current()
		if !st.Running {
			switch {
			case current == proto.StateRunning:
				c.logger.Warn("Runner (pid %d) is gone, marking session stopped", c.process.PID)
				c.stopReason = ReasonExternallyClosed
				c.transitionLocked(proto.StateStopped, ReasonExternallyClosed)
			case current == proto.StateLaunching && c.process.PID != 0:
				// One answer may predate the spawn; two in a row may not.
				c.launchMisses++
				if c.launchMisses < launchMissLimit {
					return
				}
				c.logger.Warn("Runner (pid %d) exited before reporting running", c.process.PID)
				c.errorMessage = MsgRuntimeExited
				c.transitionLocked(proto.StateFailed, "runtime exited during launch")
				if c.observer != nil {
					c.observer.LaunchFailed(StepSpawning)
				}
			}
			return
		}
		c.launchMisses = 0

		if !current.IsActive() {
			return
		}
		changed := false
		if st.Stats != nil && *st.Stats != c.acc.Session() {
			c.acc.ApplyEventStats(*st.Stats)
			changed = true
		}
		if c.process.PID == 0 && st.PID != 0 {
			c.process = proto.ProcessHandle{PID: st.PID, StartedAt: st.StartedAt}
			changed = true
		}
		if changed {
			c.publishLocked()
		}
	}
}
