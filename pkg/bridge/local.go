package bridge

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"botpilot/pkg/logx"
	"botpilot/pkg/proto"
	"botpilot/pkg/state"
)

// Environment variables handed to the runner process.
const (
	EnvToken      = "BOTPILOT_TOKEN"
	EnvAPIURL     = "BOTPILOT_API_URL"
	EnvConfigPath = "BOTPILOT_CONFIG"
)

const (
	runStateName        = "runner"
	defaultStopGrace    = 5 * time.Second
	maxStatusLineLength = 1024 * 1024
)

// LocalConfig configures a LocalBridge.
type LocalConfig struct {
	Command    string        // runner executable, resolved through PATH
	Dir        string        // working directory of the runner
	ConfigPath string        // local config file the runner reads
	StateDir   string        // where the run-state file lives
	Args       []string      // extra arguments
	Env        []string      // extra KEY=VALUE pairs
	StopGrace  time.Duration // SIGTERM to SIGKILL delay
}

// LocalBridge runs the automation runtime as a child process and reads
// JSON-lines status events from its stdout.
type LocalBridge struct {
	startedAt time.Time
	store     *state.Store
	logger    *logx.Logger
	cmd       *exec.Cmd
	done      chan struct{}
	lastStats *proto.Stats
	handlers  []StatusHandler
	cfg       LocalConfig
	pid       int
	mu        sync.Mutex
}

// NewLocalBridge creates a bridge for cfg.
func NewLocalBridge(cfg LocalConfig) (*LocalBridge, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("runner command is required")
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = defaultStopGrace
	}

	b := &LocalBridge{
		cfg:    cfg,
		logger: logx.NewLogger("bridge"),
	}
	if cfg.StateDir != "" {
		store, err := state.NewStore(cfg.StateDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open run state store: %w", err)
		}
		b.store = store
	}
	return b, nil
}

// Launch starts the runner. The process outlives ctx.
func (b *LocalBridge) Launch(ctx context.Context, token, apiURL string) (LaunchResult, error) {
	if err := ctx.Err(); err != nil {
		return LaunchResult{}, fmt.Errorf("launch cancelled: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cmd != nil {
		return LaunchResult{}, ErrAlreadyRunning
	}
	if adopted := b.adoptedLocked(); adopted != nil {
		return LaunchResult{}, fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, adopted.PID)
	}

	path, err := exec.LookPath(b.cfg.Command)
	if err != nil {
		return LaunchResult{}, fmt.Errorf("automation runtime not found: %s", b.cfg.Command)
	}

	cmd := exec.Command(path, b.cfg.Args...) //nolint:gosec // runner command comes from local config
	cmd.Dir = b.cfg.Dir
	cmd.Env = append(os.Environ(), b.cfg.Env...)
	cmd.Env = append(cmd.Env,
		EnvToken+"="+token,
		EnvAPIURL+"="+apiURL,
		EnvConfigPath+"="+b.cfg.ConfigPath,
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return LaunchResult{}, fmt.Errorf("failed to attach runner stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return LaunchResult{}, fmt.Errorf("failed to attach runner stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return LaunchResult{}, fmt.Errorf("failed to start bot: %w", err)
	}

	b.cmd = cmd
	b.pid = cmd.Process.Pid
	b.startedAt = time.Now().UTC()
	b.lastStats = nil
	b.done = make(chan struct{})

	if b.store != nil {
		rs := state.RunState{PID: b.pid, StartedAt: b.startedAt, Command: path}
		if err := b.store.Save(runStateName, rs); err != nil {
			b.logger.Warn("Failed to record run state: %v", err)
		}
	}

	go b.supervise(cmd, stdout, stderr, b.done)

	b.logger.Info("Started runner %s (pid %d)", path, b.pid)
	return LaunchResult{PID: b.pid, StartedAt: b.startedAt}, nil
}

// supervise pumps the runner's output and reaps it on exit.
func (b *LocalBridge) supervise(cmd *exec.Cmd, stdout, stderr io.Reader, done chan struct{}) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		b.readEvents(stdout)
	}()
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			b.logger.Debug("runner: %s", scanner.Text())
		}
	}()
	wg.Wait()

	err := cmd.Wait()
	if err != nil {
		b.logger.Info("Runner (pid %d) exited: %v", cmd.Process.Pid, err)
	} else {
		b.logger.Info("Runner (pid %d) exited cleanly", cmd.Process.Pid)
	}

	b.mu.Lock()
	if b.cmd == cmd {
		b.cmd = nil
		b.pid = 0
		b.startedAt = time.Time{}
		b.clearRunStateLocked()
	}
	b.mu.Unlock()
	close(done)
}

func (b *LocalBridge) readEvents(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStatusLineLength)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		event, err := proto.ParseStatusEvent(line)
		if err != nil {
			b.logger.Debug("Ignoring runner output: %s", string(line))
			continue
		}
		b.dispatch(event)
	}
	if err := scanner.Err(); err != nil {
		b.logger.Warn("Runner stdout read failed: %v", err)
	}
}

func (b *LocalBridge) dispatch(event proto.StatusEvent) {
	b.mu.Lock()
	if event.Stats != nil {
		snapshot := *event.Stats
		b.lastStats = &snapshot
	}
	handlers := make([]StatusHandler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.Unlock()

	for _, h := range handlers {
		h(event)
	}
}

// ForceStop terminates the runner and waits for it to exit or ctx to expire.
func (b *LocalBridge) ForceStop(ctx context.Context) error {
	b.mu.Lock()
	cmd, done := b.cmd, b.done
	var adopted *state.RunState
	if cmd == nil {
		adopted = b.adoptedLocked()
	}
	b.mu.Unlock()

	if cmd == nil {
		if adopted == nil {
			return nil
		}
		return b.stopAdopted(ctx, adopted)
	}

	if err := terminate(cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		b.logger.Warn("SIGTERM to runner (pid %d) failed: %v", cmd.Process.Pid, err)
	}

	grace := time.NewTimer(b.cfg.StopGrace)
	defer grace.Stop()

	select {
	case <-done:
		return nil
	case <-grace.C:
		b.logger.Warn("Runner (pid %d) ignored SIGTERM, killing", cmd.Process.Pid)
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("failed to kill bot process: %w", err)
		}
	case <-ctx.Done():
		return fmt.Errorf("failed to stop bot: %w", ctx.Err())
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to stop bot: %w", ctx.Err())
	}
}

func (b *LocalBridge) stopAdopted(ctx context.Context, rs *state.RunState) error {
	proc, err := os.FindProcess(rs.PID)
	if err != nil {
		return fmt.Errorf("failed to find bot process %d: %w", rs.PID, err)
	}
	if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill bot process %d: %w", rs.PID, err)
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for processAlive(rs.PID) {
		select {
		case <-ctx.Done():
			return fmt.Errorf("failed to stop bot: %w", ctx.Err())
		case <-ticker.C:
		}
	}

	b.mu.Lock()
	b.clearRunStateLocked()
	b.mu.Unlock()
	b.logger.Info("Stopped adopted runner (pid %d)", rs.PID)
	return nil
}

// GetStatus reports whether a runner is alive. A runner left behind by a previous
// controller is reported from the run-state file.
func (b *LocalBridge) GetStatus(_ context.Context) (Status, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cmd != nil {
		st := Status{Running: true, PID: b.pid, StartedAt: b.startedAt}
		if b.lastStats != nil {
			snapshot := *b.lastStats
			st.Stats = &snapshot
		}
		return st, nil
	}

	if rs := b.adoptedLocked(); rs != nil {
		return Status{Running: true, PID: rs.PID, StartedAt: rs.StartedAt}, nil
	}
	return Status{}, nil
}

// OnStatusEvent registers a handler for runtime status events.
func (b *LocalBridge) OnStatusEvent(handler StatusHandler) {
	if handler == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

// RemoveListeners drops every registered handler.
func (b *LocalBridge) RemoveListeners() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = nil
}

// adoptedLocked returns the recorded run state if its process is still alive.
// Stale records are removed.
func (b *LocalBridge) adoptedLocked() *state.RunState {
	if b.store == nil {
		return nil
	}
	rs, err := b.store.Load(runStateName)
	if err != nil {
		b.logger.Warn("Failed to read run state: %v", err)
		return nil
	}
	if rs == nil {
		return nil
	}
	if !processAlive(rs.PID) {
		b.clearRunStateLocked()
		return nil
	}
	return rs
}

func (b *LocalBridge) clearRunStateLocked() {
	if b.store == nil {
		return
	}
	if err := b.store.Delete(runStateName); err != nil {
		b.logger.Warn("Failed to clear run state: %v", err)
	}
}

var _ Bridge = (*LocalBridge)(nil)
