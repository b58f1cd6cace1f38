// Package supervisor owns the controller's side of the process bridge: the single
// status-event subscription and the liveness polling task of an active session.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"botpilot/pkg/bridge"
	"botpilot/pkg/logx"
)

// DefaultPollInterval is how often liveness is polled while a session is active.
const DefaultPollInterval = 2 * time.Second

var (
	// ErrNoBridge is returned when no automation runtime bridge is installed.
	ErrNoBridge = errors.New("automation runtime bridge not available")
	// ErrAlreadySubscribed is returned by a second Subscribe call.
	ErrAlreadySubscribed = errors.New("status events already subscribed")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("supervisor closed")
)

// PollFunc receives each liveness answer. It runs on the polling goroutine.
type PollFunc func(status bridge.Status)

// Supervisor wraps a bridge.Bridge for one controller lifetime.
type Supervisor struct {
	bridge       bridge.Bridge
	logger       *logx.Logger
	pollCancel   context.CancelFunc
	pollDone     chan struct{}
	pollInterval time.Duration
	mu           sync.Mutex
	subscribed   bool
	closed       bool
}

// New creates a supervisor. A nil bridge yields a supervisor whose runtime is unavailable.
func New(b bridge.Bridge, pollInterval time.Duration) *Supervisor {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Supervisor{
		bridge:       b,
		logger:       logx.NewLogger("supervisor"),
		pollInterval: pollInterval,
	}
}

// Available reports whether an automation runtime bridge is installed.
func (s *Supervisor) Available() bool {
	return s != nil && s.bridge != nil
}

// PollInterval returns the liveness polling period.
func (s *Supervisor) PollInterval() time.Duration {
	return s.pollInterval
}

// Subscribe attaches handler to the bridge's status events. Only one handler may be
// attached per supervisor; it is released by Close.
func (s *Supervisor) Subscribe(handler bridge.StatusHandler) error {
	if !s.Available() {
		return ErrNoBridge
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.subscribed {
		return ErrAlreadySubscribed
	}
	s.bridge.OnStatusEvent(handler)
	s.subscribed = true
	s.logger.Info("Subscribed to runtime status events")
	return nil
}

// Launch starts the runner with token and apiURL.
func (s *Supervisor) Launch(ctx context.Context, token, apiURL string) (bridge.LaunchResult, error) {
	if !s.Available() {
		return bridge.LaunchResult{}, ErrNoBridge
	}
	s.logger.Info("Launching automation runtime (api %s)", apiURL)
	res, err := s.bridge.Launch(ctx, token, apiURL)
	if err != nil {
		s.logger.Warn("Runtime launch failed: %v", err)
		return bridge.LaunchResult{}, err
	}
	s.logger.Info("Runtime launched with pid %d", res.PID)
	return res, nil
}

// ForceStop terminates the runner.
func (s *Supervisor) ForceStop(ctx context.Context) error {
	if !s.Available() {
		return ErrNoBridge
	}
	if err := s.bridge.ForceStop(ctx); err != nil {
		s.logger.Warn("Force stop failed: %v", err)
		return err
	}
	s.logger.Info("Runtime force-stopped")
	return nil
}

// GetStatus queries runner liveness.
func (s *Supervisor) GetStatus(ctx context.Context) (bridge.Status, error) {
	if !s.Available() {
		return bridge.Status{}, ErrNoBridge
	}
	st, err := s.bridge.GetStatus(ctx)
	if err != nil {
		return bridge.Status{}, fmt.Errorf("status query failed: %w", err)
	}
	return st, nil
}

// StartPolling begins polling liveness every interval, handing each answer to fn.
// It is a no-op if polling is already active.
func (s *Supervisor) StartPolling(fn PollFunc) {
	if !s.Available() || fn == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.pollCancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.pollCancel = cancel
	s.pollDone = done

	go s.poll(ctx, fn, done)
	logx.Debug(context.WithValue(ctx, logx.ComponentKey, "supervisor"), "supervisor", "polling started every %s", s.pollInterval)
}

func (s *Supervisor) poll(ctx context.Context, fn PollFunc, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		queryCtx, cancel := context.WithTimeout(ctx, s.pollInterval)
		st, err := s.bridge.GetStatus(queryCtx)
		cancel()

		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.logger.Warn("Liveness poll failed: %v", err)
			continue
		}
		fn(st)
	}
}

// StopPolling cancels the polling task without waiting for it. A tick already in
// flight may still deliver one answer.
func (s *Supervisor) StopPolling() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopPollingLocked()
}

func (s *Supervisor) stopPollingLocked() chan struct{} {
	if s.pollCancel == nil {
		return nil
	}
	s.pollCancel()
	done := s.pollDone
	s.pollCancel = nil
	s.pollDone = nil
	return done
}

// Polling reports whether the polling task is active.
func (s *Supervisor) Polling() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pollCancel != nil
}

// Close stops polling, waits for it to exit, and releases the subscription.
// Close is idempotent.
func (s *Supervisor) Close() {
	if s == nil {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	done := s.stopPollingLocked()
	subscribed := s.subscribed
	s.subscribed = false
	s.mu.Unlock()

	if done != nil {
		<-done
	}
	if subscribed && s.bridge != nil {
		s.bridge.RemoveListeners()
		s.logger.Info("Released runtime status subscription")
	}
}
