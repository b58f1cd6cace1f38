// Package botcontrol is the bot control engine. It owns the bot's lifecycle state,
// runs the launch sequence, folds runtime status events and liveness polls into
// that state, and publishes one consistent snapshot for the UI.
package botcontrol

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"botpilot/internal/supervisor"
	"botpilot/pkg/fsm"
	"botpilot/pkg/logx"
	"botpilot/pkg/preflight"
	"botpilot/pkg/proto"
	"botpilot/pkg/stats"
)

// Stop reasons recorded on the snapshot.
const (
	ReasonStoppedByUser    = "stopped by user"
	ReasonExternallyClosed = "externally closed"
	ReasonStoppedByRuntime = "stopped by runtime"
	ReasonRestored         = "restored live session"
)

const notificationBuffer = 100

// launchMissLimit is how many consecutive polls must find a spawned runner gone
// before a launching session fails.
const launchMissLimit = 2

// ProfileChecker reports whether the user's profile is published.
type ProfileChecker interface {
	ProfilePublished(ctx context.Context) (bool, error)
}

// ConfigMaterializer writes the user's preferences into the runtime's local config file.
type ConfigMaterializer interface {
	Materialize(ctx context.Context) (string, error)
}

// TokenIssuer obtains a short-lived API token for the runtime.
type TokenIssuer interface {
	IssueToken(ctx context.Context) (string, error)
}

// Observer receives events that are not visible as state changes.
type Observer interface {
	StatusEvent(stage proto.Stage)
	LaunchFailed(step LaunchStep)
}

// Config holds the controller's collaborators.
type Config struct {
	Supervisor   *supervisor.Supervisor
	Profile      ProfileChecker
	Materializer ConfigMaterializer
	Tokens       TokenIssuer
	Observer     Observer
	APIURL       string
	History      proto.Stats
	Conditions   preflight.Conditions
}

// Snapshot is the complete UI-facing view of the bot.
type Snapshot struct {
	StartedAt                    *time.Time            `json:"started_at,omitempty"`
	LaunchProgress               *proto.LaunchProgress `json:"launch_progress,omitempty"`
	ActivityDetails              proto.ActivityDetails `json:"activity_details,omitempty"`
	BotState                     proto.BotState        `json:"bot_state"`
	SessionID                    string                `json:"session_id,omitempty"`
	CurrentActivity              string                `json:"current_activity,omitempty"`
	ErrorMessage                 string                `json:"error_message,omitempty"`
	ErrorCode                    string                `json:"error_code,omitempty"`
	StopReason                   string                `json:"stop_reason,omitempty"`
	BlockingReason               string                `json:"blocking_reason,omitempty"`
	Conditions                   preflight.Conditions  `json:"conditions"`
	SessionStats                 proto.Stats           `json:"session_stats"`
	HistoricalTotals             proto.Stats           `json:"historical_totals"`
	DisplayTotals                proto.Stats           `json:"display_totals"`
	BotPID                       int                   `json:"bot_pid,omitempty"`
	IsAutomationRuntimeAvailable bool                  `json:"is_automation_runtime_available"`
	CanLaunch                    bool                  `json:"can_launch"`
	LaunchEnabled                bool                  `json:"launch_enabled"`
	StopEnabled                  bool                  `json:"stop_enabled"`
	LaunchInFlight               bool                  `json:"launch_in_flight"`
}

// Controller serializes every mutation of the bot's state behind one mutex. The
// mutex is never held across bridge or backend I/O.
type Controller struct {
	sup          *supervisor.Supervisor
	profile      ProfileChecker
	materializer ConfigMaterializer
	tokens       TokenIssuer
	observer     Observer
	logger       *logx.Logger
	machine      *fsm.Machine
	acc          *stats.Accumulator
	progress     *proto.LaunchProgress
	details      proto.ActivityDetails
	notifyCh     chan *proto.StateChangeNotification
	watchers     map[int]chan Snapshot
	done         chan struct{}
	process      proto.ProcessHandle
	apiURL       string
	sessionID    string
	activity     string
	errorMessage string
	errorCode    string
	stopReason   string
	conditions   preflight.Conditions
	nextWatcher  int
	launchMisses int
	mu           sync.Mutex
	inFlight     bool
	sawRunning   bool
	closed       bool
}

// New creates a controller in the idle state and subscribes to runtime status
// events when a bridge is installed.
func New(cfg Config) (*Controller, error) {
	if cfg.Profile == nil || cfg.Materializer == nil || cfg.Tokens == nil {
		return nil, fmt.Errorf("profile checker, config materializer and token issuer are required")
	}
	sup := cfg.Supervisor
	if sup == nil {
		sup = supervisor.New(nil, 0)
	}

	c := &Controller{
		sup:          sup,
		profile:      cfg.Profile,
		materializer: cfg.Materializer,
		tokens:       cfg.Tokens,
		observer:     cfg.Observer,
		apiURL:       cfg.APIURL,
		conditions:   cfg.Conditions,
		logger:       logx.NewLogger("controller"),
		machine:      fsm.New(proto.StateIdle, fsm.BotTransitions),
		acc:          stats.NewAccumulator(cfg.History),
		notifyCh:     make(chan *proto.StateChangeNotification, notificationBuffer),
		watchers:     make(map[int]chan Snapshot),
		done:         make(chan struct{}),
	}

	if sup.Available() {
		if err := sup.Subscribe(c.handleStatusEvent); err != nil {
			return nil, fmt.Errorf("failed to subscribe to runtime status: %w", err)
		}
	} else {
		c.logger.Warn("No automation runtime bridge installed; launching is unavailable")
	}
	return c, nil
}

// Restore adopts a runner that is still alive, as after a UI reload or controller restart.
func (c *Controller) Restore(ctx context.Context) error {
	if !c.sup.Available() {
		return nil
	}
	st, err := c.sup.GetStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to query runtime status: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || !st.Running || c.machine.Current() != proto.StateIdle {
		return nil
	}

	c.beginSessionLocked()
	c.process = proto.ProcessHandle{PID: st.PID, StartedAt: st.StartedAt}
	if st.Stats != nil {
		c.acc.ApplyEventStats(*st.Stats)
	}
	c.transitionLocked(proto.StateRunning, ReasonRestored)
	c.logger.Info("Restored live session (pid %d)", st.PID)
	return nil
}

// Stop terminates the current session. On failure the prior state is restored
// and the error is returned.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	prior := c.machine.Current()
	if !prior.IsStoppable() {
		c.mu.Unlock()
		c.logger.Debug("Stop rejected in state %s", prior)
		return ErrNotStoppable
	}
	session := c.sessionID
	c.sawRunning = false
	c.transitionLocked(proto.StateStopping, "stop requested")
	c.mu.Unlock()

	err := c.sup.ForceStop(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	if session != c.sessionID || c.machine.Current() != proto.StateStopping {
		// A stopped event already finished the session.
		return nil
	}
	if err != nil {
		revert := prior
		if prior == proto.StateLaunching && c.sawRunning {
			revert = proto.StateRunning
		}
		c.transitionLocked(revert, "stop failed")
		return fmt.Errorf("failed to stop bot: %w", err)
	}
	c.stopReason = ReasonStoppedByUser
	c.transitionLocked(proto.StateStopped, ReasonStoppedByUser)
	return nil
}

// Reset returns a finished session to idle and discards its session data.
// Historical totals are kept.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	current := c.machine.Current()
	if current.IsActive() || current == proto.StateStopping {
		c.logger.Debug("Reset rejected in state %s", current)
		return ErrResetNotAllowed
	}

	c.acc.ResetForNewSession()
	c.sessionID = ""
	c.activity = ""
	c.details = nil
	c.errorMessage = ""
	c.errorCode = ""
	c.stopReason = ""
	c.progress = nil
	c.process = proto.ProcessHandle{}

	if current == proto.StateIdle {
		c.publishLocked()
		return nil
	}
	c.transitionLocked(proto.StateIdle, "reset")
	return nil
}

// SetConditions replaces the launch gate inputs.
func (c *Controller) SetConditions(cond preflight.Conditions) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conditions = cond
	c.publishLocked()
}

// UpdateConditions applies fn to the launch gate inputs.
func (c *Controller) UpdateConditions(fn func(*preflight.Conditions)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.conditions)
	c.publishLocked()
}

// Conditions returns the current launch gate inputs.
func (c *Controller) Conditions() preflight.Conditions {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conditions
}

// Snapshot returns the current UI view.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// State returns the current bot state.
func (c *Controller) State() proto.BotState {
	return c.machine.Current()
}

// HistoricalTotals returns the totals of all committed sessions.
func (c *Controller) HistoricalTotals() proto.Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acc.History()
}

// Transitions returns the recent transition history.
func (c *Controller) Transitions() []fsm.StateTransition {
	return c.machine.GetTransitions()
}

// StateChanges returns the channel of state change notifications. Notifications
// are dropped when the consumer falls behind by more than the buffer.
func (c *Controller) StateChanges() <-chan *proto.StateChangeNotification {
	return c.notifyCh
}

// Watch streams snapshots until ctx is done or the controller is closed. The channel holds only the latest
// snapshot; a slow reader skips intermediate ones.
func (c *Controller) Watch(ctx context.Context) <-chan Snapshot {
	ch := make(chan Snapshot, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(ch)
		return ch
	}
	id := c.nextWatcher
	c.nextWatcher++
	c.watchers[id] = ch
	ch <- c.snapshotLocked()
	c.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-c.done:
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if w, ok := c.watchers[id]; ok {
			delete(c.watchers, id)
			close(w)
		}
	}()
	return ch
}

// Close releases the runtime subscription and stops polling. The runner itself
// is left alone so a later controller can restore it.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	close(c.notifyCh)
	for id, w := range c.watchers {
		delete(c.watchers, id)
		close(w)
	}
	c.mu.Unlock()

	c.sup.Close()
}

// beginSessionLocked starts a fresh session: new id, zeroed counters, cleared errors.
func (c *Controller) beginSessionLocked() {
	c.sessionID = uuid.NewString()
	c.acc.ResetForNewSession()
	c.activity = ""
	c.details = nil
	c.errorMessage = ""
	c.errorCode = ""
	c.stopReason = ""
	c.process = proto.ProcessHandle{}
	c.launchMisses = 0
	c.sawRunning = false
}

// transitionLocked moves the machine to `to` and applies the state's side effects:
// progress only exists while launching, terminal states commit stats and drop the
// process handle, and polling follows the active span.
func (c *Controller) transitionLocked(to proto.BotState, reason string) bool {
	from := c.machine.Current()
	if _, err := c.machine.TransitionTo(to, reason, map[string]any{"session_id": c.sessionID}); err != nil {
		c.logger.Debug("Ignoring transition: %v", err)
		return false
	}

	if to != proto.StateLaunching {
		c.progress = nil
	}

	pid := c.process.PID
	if to.IsTerminal() {
		if c.acc.CommitToHistory() {
			c.logger.Info("Committed session %s stats to history: %+v", c.sessionID, c.acc.Session())
		}
		c.process = proto.ProcessHandle{}
	}

	if to.IsActive() {
		c.sup.StartPolling(c.pollFunc(c.sessionID))
	} else {
		c.sup.StopPolling()
	}

	c.notifyLocked(&proto.StateChangeNotification{
		Timestamp:    time.Now().UTC(),
		SessionID:    c.sessionID,
		FromState:    from,
		ToState:      to,
		Reason:       reason,
		ErrorMessage: c.errorMessage,
		SessionStats: c.acc.Session(),
		Totals:       c.acc.History(),
		PID:          pid,
	})
	c.publishLocked()
	return true
}

func (c *Controller) notifyLocked(n *proto.StateChangeNotification) {
	if c.closed {
		return
	}
	select {
	case c.notifyCh <- n:
	default:
		c.logger.Warn("State change channel full, dropping %s -> %s notification", n.FromState, n.ToState)
	}
}

func (c *Controller) publishLocked() {
	if c.closed || len(c.watchers) == 0 {
		return
	}
	snap := c.snapshotLocked()
	for _, w := range c.watchers {
		select {
		case w <- snap:
		default:
			select {
			case <-w:
			default:
			}
			select {
			case w <- snap:
			default:
			}
		}
	}
}

func (c *Controller) snapshotLocked() Snapshot {
	state := c.machine.Current()
	available := c.sup.Available()
	canLaunch := c.conditions.CanLaunch()

	snap := Snapshot{
		BotState:                     state,
		SessionID:                    c.sessionID,
		SessionStats:                 c.acc.Session(),
		HistoricalTotals:             c.acc.History(),
		DisplayTotals:                c.acc.Displayed(),
		CurrentActivity:              c.activity,
		ActivityDetails:              c.details.Clone(),
		BotPID:                       c.process.PID,
		ErrorMessage:                 c.errorMessage,
		ErrorCode:                    c.errorCode,
		StopReason:                   c.stopReason,
		Conditions:                   c.conditions,
		IsAutomationRuntimeAvailable: available,
		CanLaunch:                    canLaunch,
		BlockingReason:               c.conditions.BlockingReason(),
		LaunchEnabled:                canLaunch && available && !c.inFlight && state.IsLaunchable(),
		StopEnabled:                  state.IsStoppable(),
		LaunchInFlight:               c.inFlight,
	}
	if c.progress != nil {
		p := *c.progress
		snap.LaunchProgress = &p
	}
	if !c.process.StartedAt.IsZero() {
		started := c.process.StartedAt
		snap.StartedAt = &started
	}
	return snap
}
