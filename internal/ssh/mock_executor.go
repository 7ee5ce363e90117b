package ssh

import (
	"context"
	"io"
	"sync"
)

// MockExecutor is a test double that records requests and returns configured results.
// When ExecuteFunc is nil every request succeeds with exit code 0 after its
// input has been consumed.
type MockExecutor struct {
	ExecuteFunc func(ctx context.Context, req *Request) (*Result, error)

	mu       sync.Mutex
	Requests []*Request
	Commands []string
	closed   bool
}

// Execute records the request and delegates to ExecuteFunc.
func (m *MockExecutor) Execute(ctx context.Context, req *Request) (*Result, error) {
	m.mu.Lock()
	m.Requests = append(m.Requests, req)
	m.Commands = append(m.Commands, req.Sudo.Wrap(req.Command.String()))
	m.mu.Unlock()

	if m.ExecuteFunc != nil {
		result, err := m.ExecuteFunc(ctx, req)
		if err == nil && result != nil && req.Result == nil {
			req.Result = result
		}
		return result, err
	}

	if req.Input != nil {
		if err := req.Input(io.Discard); err != nil {
			return nil, err
		}
	}
	req.Result = &Result{ExitCode: 0}
	return req.Result, nil
}

// Close marks the mock closed.
func (m *MockExecutor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *MockExecutor) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
