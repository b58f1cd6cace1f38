// Package kernel wires the bot controller to its infrastructure: configuration,
// persistence, the local runtime bridge, the account backend, metrics, the
// event log, notifications and the web UI.
package kernel

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"botpilot/internal/supervisor"
	"botpilot/pkg/backend"
	"botpilot/pkg/botcontrol"
	"botpilot/pkg/bridge"
	"botpilot/pkg/config"
	"botpilot/pkg/eventlog"
	"botpilot/pkg/logx"
	"botpilot/pkg/metrics"
	"botpilot/pkg/notify"
	"botpilot/pkg/persistence"
	"botpilot/pkg/preflight"
	"botpilot/pkg/prefs"
	"botpilot/pkg/proto"
	"botpilot/pkg/webui"
)

const (
	persistTimeout    = 10 * time.Second
	conditionsTimeout = 15 * time.Second
)

// Option customizes kernel construction.
type Option func(*options)

type options struct {
	bridge   bridge.Bridge
	store    persistence.Store
	registry *prometheus.Registry
	noBridge bool
}

// WithBridge replaces the local process bridge.
func WithBridge(b bridge.Bridge) Option {
	return func(o *options) { o.bridge = b }
}

// WithoutBridge runs without any automation runtime, as on a machine where it
// cannot be installed.
func WithoutBridge() Option {
	return func(o *options) { o.noBridge = true }
}

// WithStore replaces the configured persistence backend.
func WithStore(s persistence.Store) Option {
	return func(o *options) { o.store = s }
}

// WithRegistry registers metrics on reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// Kernel manages the controller and the infrastructure around it.
type Kernel struct {
	ctx    context.Context //nolint:containedctx // Required for kernel lifecycle management
	cancel context.CancelFunc

	Config     *config.Config
	Logger     *logx.Logger
	Store      persistence.Store
	Registry   *prometheus.Registry
	Metrics    *metrics.Recorder
	Backend    *backend.Client
	Bridge     bridge.Bridge
	Controller *botcontrol.Controller
	EventLog   *eventlog.Writer
	Notifier   *notify.Dispatcher
	WebServer  *webui.Server

	watcher      *preflight.RuntimeWatcher
	consumerDone chan struct{}
	startTimes   map[string]time.Time
	stopOnce     sync.Once
	mu           sync.Mutex
	running      bool
}

// NewKernel builds every service. Nothing runs until Start.
func NewKernel(parent context.Context, cfg *config.Config, opts ...Option) (*Kernel, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	ctx, cancel := context.WithCancel(parent)
	k := &Kernel{
		ctx:        ctx,
		cancel:     cancel,
		Config:     cfg,
		Logger:     logx.NewLogger("kernel"),
		startTimes: make(map[string]time.Time),
	}

	if err := k.initializeServices(o); err != nil {
		cancel()
		k.closeResources()
		return nil, fmt.Errorf("failed to initialize kernel services: %w", err)
	}
	return k, nil
}

func (k *Kernel) initializeServices(o *options) error {
	var err error

	k.Store = o.store
	if k.Store == nil {
		if k.Store, err = OpenStore(k.Config); err != nil {
			return err
		}
	}
	totals, err := k.Store.LoadTotals(k.ctx)
	if err != nil {
		return fmt.Errorf("failed to load historical totals: %w", err)
	}

	k.Registry = o.registry
	if k.Registry == nil {
		k.Registry = prometheus.NewRegistry()
		k.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	k.Metrics = metrics.NewRecorder(k.Registry)

	k.Backend = backend.NewClient(k.Config.API.URL, k.Config.API.Key, k.Config.APITimeout())

	runtime := preflight.ProbeRuntime(k.ctx, k.Config.Runtime.Command, k.Config.Runtime.Dir)
	if runtime.Installed {
		k.Logger.Info("Automation runtime found at %s %s", runtime.Path, runtime.Version)
	} else {
		k.Logger.Warn("Automation runtime %q is not installed", k.Config.Runtime.Command)
	}

	switch {
	case o.noBridge:
	case o.bridge != nil:
		k.Bridge = o.bridge
	case k.Config.Runtime.Command != "":
		command := k.Config.Runtime.Command
		if runtime.Installed {
			command = runtime.Path
		}
		local, err := bridge.NewLocalBridge(bridge.LocalConfig{
			Command:    command,
			Dir:        k.Config.Runtime.Dir,
			ConfigPath: k.Config.Runtime.ConfigPath,
			StateDir:   k.Config.Runtime.StateDir,
			Args:       k.Config.Runtime.Args,
			StopGrace:  k.Config.StopGrace(),
		})
		if err != nil {
			return fmt.Errorf("failed to create runtime bridge: %w", err)
		}
		k.Bridge = local
	}

	if !k.Config.EventLog.Disabled {
		if k.EventLog, err = eventlog.NewWriter(k.Config.EventLog.Dir); err != nil {
			return fmt.Errorf("failed to open event log: %w", err)
		}
	}
	k.Notifier = notify.NewDispatcher(notify.Config{
		Desktop:    k.Config.Notifications.Desktop,
		WebhookURL: k.Config.Notifications.WebhookURL,
	})

	var sup *supervisor.Supervisor
	if k.Bridge != nil {
		sup = supervisor.New(k.Bridge, k.Config.PollInterval())
	}
	k.Controller, err = botcontrol.New(botcontrol.Config{
		Supervisor:   sup,
		Profile:      k.Backend,
		Materializer: prefs.NewMaterializer(k.Backend, k.Config.Runtime.ConfigPath),
		Tokens:       k.Backend,
		Observer:     k.Metrics,
		APIURL:       k.Backend.BaseURL(),
		History:      totals,
		Conditions:   preflight.Conditions{RuntimeInstalled: runtime.Installed},
	})
	if err != nil {
		return fmt.Errorf("failed to create controller: %w", err)
	}

	// Registered after the controller so the session id is current when logged.
	if k.Bridge != nil && k.EventLog != nil {
		k.Bridge.OnStatusEvent(k.logStatusEvent)
	}

	k.WebServer = webui.NewServer(k.Controller, webui.Options{
		RefreshConditions: k.RefreshConditions,
		History:           k.Store,
		Metrics:           promhttp.HandlerFor(k.Registry, promhttp.HandlerOpts{}),
		EventLogDir:       k.eventLogDir(),
		Password:          k.Config.WebUI.Password,
		HistoryLimit:      k.Config.Persistence.HistoryLimit,
	})

	k.Logger.Info("Kernel services initialized (persistence: %s, runtime bridge: %v)",
		k.Config.Persistence.Backend, k.Bridge != nil)
	return nil
}

func (k *Kernel) eventLogDir() string {
	if k.EventLog == nil {
		return ""
	}
	return k.EventLog.Dir()
}

// Start restores a live session, loads the launch conditions and begins
// consuming state changes.
func (k *Kernel) Start() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.running {
		return fmt.Errorf("kernel already running")
	}

	k.consumerDone = make(chan struct{})
	go k.consumeStateChanges(k.Controller.StateChanges(), k.consumerDone)

	if err := k.Controller.Restore(k.ctx); err != nil {
		k.Logger.Warn("Could not restore runtime session: %v", err)
	}
	if err := k.RefreshConditions(k.ctx); err != nil {
		k.Logger.Warn("Could not load launch conditions: %v", err)
	}
	k.startRuntimeWatcher()

	k.running = true
	k.Logger.Info("Kernel services started")
	return nil
}

// RefreshConditions reloads the account side of the launch gate from the backend.
func (k *Kernel) RefreshConditions(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, conditionsTimeout)
	defer cancel()

	installed := k.Controller.Conditions().RuntimeInstalled
	cond, err := k.Backend.Conditions(ctx, installed)
	if err != nil {
		return fmt.Errorf("failed to load conditions: %w", err)
	}
	k.Controller.UpdateConditions(func(c *preflight.Conditions) {
		c.Credits = cond.Credits
		c.PreferencesComplete = cond.PreferencesComplete
		c.ProfilePublished = cond.ProfilePublished
	})
	return nil
}

func (k *Kernel) startRuntimeWatcher() {
	if k.Config.Runtime.Dir == "" || k.Config.Runtime.Command == "" {
		return
	}
	w, err := preflight.NewRuntimeWatcher(k.Config.Runtime.Command, k.Config.Runtime.Dir)
	if err != nil {
		k.Logger.Warn("Runtime watcher unavailable: %v", err)
		return
	}
	if err := w.Start(k.ctx); err != nil {
		k.Logger.Warn("Runtime watcher unavailable: %v", err)
		_ = w.Stop()
		return
	}
	k.watcher = w

	go func() {
		for ev := range w.Events() {
			if ev.Error != nil {
				k.Logger.Warn("Runtime watcher error: %v", ev.Error)
				continue
			}
			installed := ev.Installed
			k.Controller.UpdateConditions(func(c *preflight.Conditions) {
				c.RuntimeInstalled = installed
			})
		}
	}()
}

func (k *Kernel) logStatusEvent(ev proto.StatusEvent) {
	if err := k.EventLog.WriteStatus(k.Controller.Snapshot().SessionID, ev); err != nil {
		k.Logger.Warn("Failed to log status event: %v", err)
	}
}

// consumeStateChanges records every transition until the controller closes
// its notification channel.
func (k *Kernel) consumeStateChanges(ch <-chan *proto.StateChangeNotification, done chan struct{}) {
	defer close(done)
	for n := range ch {
		k.handleStateChange(n)
	}
	k.Logger.Debug("State change consumer finished")
}

func (k *Kernel) handleStateChange(n *proto.StateChangeNotification) {
	k.Metrics.ObserveTransition(*n)
	if k.EventLog != nil {
		if err := k.EventLog.WriteTransition(*n); err != nil {
			k.Logger.Warn("Failed to log transition: %v", err)
		}
	}

	if n.ToState.IsActive() && !n.FromState.IsActive() {
		k.mu.Lock()
		k.startTimes[n.SessionID] = n.Timestamp
		k.mu.Unlock()
	}
	if !n.ToState.IsTerminal() {
		return
	}

	k.mu.Lock()
	started := k.startTimes[n.SessionID]
	delete(k.startTimes, n.SessionID)
	k.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := k.Store.SaveTotals(ctx, n.Totals); err != nil {
		k.Logger.Error("Failed to persist historical totals: %v", err)
	}
	rec := persistence.SessionRecord{
		SessionID:    n.SessionID,
		FinalState:   n.ToState,
		ErrorMessage: n.ErrorMessage,
		Stats:        n.SessionStats,
		PID:          n.PID,
		StartedAt:    started,
		EndedAt:      n.Timestamp,
	}
	if n.ToState == proto.StateStopped {
		rec.StopReason = n.Reason
	}
	if err := k.Store.RecordSession(ctx, rec); err != nil {
		k.Logger.Error("Failed to record session %s: %v", n.SessionID, err)
	}

	k.Notifier.SessionEnded(ctx, *n)

	// Credits were spent; refresh the gate in the background.
	go func() {
		if err := k.RefreshConditions(k.ctx); err != nil {
			k.Logger.Debug("Post-session condition refresh failed: %v", err)
		}
	}()
}

// Handler returns the web UI routes.
func (k *Kernel) Handler() http.Handler {
	return k.WebServer.Handler()
}

// Stop shuts the kernel down. A live runner is left alone so the next start
// can restore it. Stop is safe to call more than once, with or without Start.
func (k *Kernel) Stop() error {
	k.stopOnce.Do(k.shutdown)
	return nil
}

func (k *Kernel) shutdown() {
	k.mu.Lock()
	k.running = false
	k.mu.Unlock()

	k.Logger.Info("Stopping kernel services...")
	k.cancel()

	if k.watcher != nil {
		if err := k.watcher.Stop(); err != nil {
			k.Logger.Warn("Error stopping runtime watcher: %v", err)
		}
	}

	k.Controller.Close()
	if k.consumerDone != nil {
		select {
		case <-k.consumerDone:
		case <-time.After(persistTimeout):
			k.Logger.Warn("Timed out waiting for state change consumer")
		}
	}

	k.closeResources()
	k.Logger.Info("Kernel services stopped")
}

func (k *Kernel) closeResources() {
	if k.EventLog != nil {
		if err := k.EventLog.Close(); err != nil {
			k.Logger.Error("Error closing event log: %v", err)
		}
	}
	if k.Store != nil {
		if err := k.Store.Close(); err != nil {
			k.Logger.Error("Error closing store: %v", err)
		}
	}
}
