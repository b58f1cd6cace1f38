package mocks

import (
	"context"
	"sync"
)

// MockBackend stands in for the profile check, local config materialization and
// token issuance used by the launch sequence.
type MockBackend struct {
	// ProfilePublishedFunc is called when ProfilePublished is invoked.
	ProfilePublishedFunc func(ctx context.Context) (bool, error)

	// MaterializeFunc is called when Materialize is invoked.
	MaterializeFunc func(ctx context.Context) (string, error)

	// IssueTokenFunc is called when IssueToken is invoked.
	IssueTokenFunc func(ctx context.Context) (string, error)

	calls []string
	mu    sync.Mutex
}

// NewMockBackend creates a backend where every step succeeds.
func NewMockBackend() *MockBackend {
	return &MockBackend{
		ProfilePublishedFunc: func(_ context.Context) (bool, error) { return true, nil },
		MaterializeFunc:      func(_ context.Context) (string, error) { return "/tmp/botpilot/config.yaml", nil },
		IssueTokenFunc:       func(_ context.Context) (string, error) { return "mock-token", nil },
	}
}

func (m *MockBackend) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

// ProfilePublished records the call and invokes ProfilePublishedFunc.
func (m *MockBackend) ProfilePublished(ctx context.Context) (bool, error) {
	m.record("profile")
	return m.ProfilePublishedFunc(ctx)
}

// Materialize records the call and invokes MaterializeFunc.
func (m *MockBackend) Materialize(ctx context.Context) (string, error) {
	m.record("materialize")
	return m.MaterializeFunc(ctx)
}

// IssueToken records the call and invokes IssueTokenFunc.
func (m *MockBackend) IssueToken(ctx context.Context) (string, error) {
	m.record("token")
	return m.IssueTokenFunc(ctx)
}

// FailMaterializeWith configures Materialize to return err.
func (m *MockBackend) FailMaterializeWith(err error) {
	m.MaterializeFunc = func(_ context.Context) (string, error) { return "", err }
}

// FailTokenWith configures IssueToken to return err.
func (m *MockBackend) FailTokenWith(err error) {
	m.IssueTokenFunc = func(_ context.Context) (string, error) { return "", err }
}

// Unpublished configures ProfilePublished to report an unpublished profile.
func (m *MockBackend) Unpublished() {
	m.ProfilePublishedFunc = func(_ context.Context) (bool, error) { return false, nil }
}

// Calls returns the ordered list of steps invoked so far.
func (m *MockBackend) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}
