package mocks

import (
	"context"
	"errors"
	"sync"
	"time"

	"botpilot/pkg/bridge"
	"botpilot/pkg/proto"
)

// DefaultPID is the pid reported by a MockBridge launch unless overridden.
const DefaultPID = 4242

// MockBridge provides a mock implementation of bridge.Bridge.
// All methods are safe for concurrent use.
type MockBridge struct {
	// LaunchFunc is called when Launch is invoked. Override to customize behavior.
	LaunchFunc func(ctx context.Context, token, apiURL string) (bridge.LaunchResult, error)

	// ForceStopFunc is called when ForceStop is invoked.
	ForceStopFunc func(ctx context.Context) error

	// GetStatusFunc is called when GetStatus is invoked.
	GetStatusFunc func(ctx context.Context) (bridge.Status, error)

	handlers    []bridge.StatusHandler
	launchCalls []LaunchCall
	stopCalls   int
	statusCalls int
	subscribes  int
	removes     int
	running     bool
	stats       *proto.Stats
	startedAt   time.Time
	pid         int
	mu          sync.Mutex
}

// LaunchCall records the parameters of a Launch call.
type LaunchCall struct {
	Token  string
	APIURL string
}

// NewMockBridge creates a mock bridge whose launches succeed immediately and
// whose process stays alive until ForceStop or SetRunning(false).
func NewMockBridge() *MockBridge {
	m := &MockBridge{}
	m.LaunchFunc = func(_ context.Context, _, _ string) (bridge.LaunchResult, error) {
		return m.markRunning(DefaultPID), nil
	}
	m.ForceStopFunc = func(_ context.Context) error {
		m.SetRunning(false)
		return nil
	}
	m.GetStatusFunc = func(_ context.Context) (bridge.Status, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if !m.running {
			return bridge.Status{}, nil
		}
		st := bridge.Status{Running: true, PID: m.pid, StartedAt: m.startedAt}
		if m.stats != nil {
			snapshot := *m.stats
			st.Stats = &snapshot
		}
		return st, nil
	}
	return m
}

func (m *MockBridge) markRunning(pid int) bridge.LaunchResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = true
	m.pid = pid
	m.startedAt = time.Now().UTC()
	return bridge.LaunchResult{PID: pid, StartedAt: m.startedAt}
}

// Launch records the call and invokes the configured LaunchFunc.
func (m *MockBridge) Launch(ctx context.Context, token, apiURL string) (bridge.LaunchResult, error) {
	m.mu.Lock()
	m.launchCalls = append(m.launchCalls, LaunchCall{Token: token, APIURL: apiURL})
	fn := m.LaunchFunc
	m.mu.Unlock()
	return fn(ctx, token, apiURL)
}

// ForceStop records the call and invokes the configured ForceStopFunc.
func (m *MockBridge) ForceStop(ctx context.Context) error {
	m.mu.Lock()
	m.stopCalls++
	fn := m.ForceStopFunc
	m.mu.Unlock()
	return fn(ctx)
}

// GetStatus records the call and invokes the configured GetStatusFunc.
func (m *MockBridge) GetStatus(ctx context.Context) (bridge.Status, error) {
	m.mu.Lock()
	m.statusCalls++
	fn := m.GetStatusFunc
	m.mu.Unlock()
	return fn(ctx)
}

// OnStatusEvent registers a handler.
func (m *MockBridge) OnStatusEvent(handler bridge.StatusHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribes++
	m.handlers = append(m.handlers, handler)
}

// RemoveListeners drops every handler.
func (m *MockBridge) RemoveListeners() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removes++
	m.handlers = nil
}

// Emit delivers event to every registered handler synchronously.
func (m *MockBridge) Emit(event proto.StatusEvent) {
	m.mu.Lock()
	if event.Stats != nil {
		snapshot := *event.Stats
		m.stats = &snapshot
	}
	handlers := make([]bridge.StatusHandler, len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	for _, h := range handlers {
		h(event)
	}
}

// SetRunning sets the liveness reported by the default GetStatus.
func (m *MockBridge) SetRunning(running bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = running
	if !running {
		m.pid = 0
		m.startedAt = time.Time{}
	}
}

// SetProcess marks a process as alive without a Launch call, as after a controller reload.
func (m *MockBridge) SetProcess(pid int, startedAt time.Time, stats *proto.Stats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = true
	m.pid = pid
	m.startedAt = startedAt
	m.stats = stats
}

// OnLaunch sets a custom handler for Launch calls.
func (m *MockBridge) OnLaunch(fn func(ctx context.Context, token, apiURL string) (bridge.LaunchResult, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LaunchFunc = fn
}

// FailLaunchWith configures Launch to fail with message.
func (m *MockBridge) FailLaunchWith(message string) {
	m.OnLaunch(func(_ context.Context, _, _ string) (bridge.LaunchResult, error) {
		return bridge.LaunchResult{}, errors.New(message)
	})
}

// BlockLaunch makes Launch wait until the returned release function is called.
// Launch then succeeds. Useful for testing interleavings during launching.
func (m *MockBridge) BlockLaunch() (release func()) {
	gate := make(chan struct{})
	var once sync.Once
	m.OnLaunch(func(ctx context.Context, _, _ string) (bridge.LaunchResult, error) {
		select {
		case <-gate:
			return m.markRunning(DefaultPID), nil
		case <-ctx.Done():
			return bridge.LaunchResult{}, ctx.Err()
		}
	})
	return func() { once.Do(func() { close(gate) }) }
}

// FailForceStopWith configures ForceStop to return err and leave the process alive.
func (m *MockBridge) FailForceStopWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ForceStopFunc = func(_ context.Context) error {
		return err
	}
}

// FailGetStatusWith configures GetStatus to return err.
func (m *MockBridge) FailGetStatusWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetStatusFunc = func(_ context.Context) (bridge.Status, error) {
		return bridge.Status{}, err
	}
}

// LaunchCalls returns a copy of the recorded Launch calls.
func (m *MockBridge) LaunchCalls() []LaunchCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]LaunchCall, len(m.launchCalls))
	copy(out, m.launchCalls)
	return out
}

// GetLaunchCallCount returns the number of times Launch was called.
func (m *MockBridge) GetLaunchCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.launchCalls)
}

// GetForceStopCallCount returns the number of times ForceStop was called.
func (m *MockBridge) GetForceStopCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopCalls
}

// GetStatusCallCount returns the number of times GetStatus was called.
func (m *MockBridge) GetStatusCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusCalls
}

// HandlerCount returns the number of currently registered handlers.
func (m *MockBridge) HandlerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handlers)
}

// SubscribeCount returns how many times OnStatusEvent was called.
func (m *MockBridge) SubscribeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscribes
}

// RemoveListenersCount returns how many times RemoveListeners was called.
func (m *MockBridge) RemoveListenersCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removes
}

var _ bridge.Bridge = (*MockBridge)(nil)
