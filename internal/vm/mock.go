package vm

import (
	"context"
	"io/fs"
	"sync"
)

// File is an upload recorded by MockRuntime.
type File struct {
	Data []byte
	Mode fs.FileMode
}

// MockRuntime implements Runtime for testing. ExecFn may block on
// Terminated() to simulate a long-running script.
type MockRuntime struct {
	Caps    []string
	CapsErr error
	PutErr  error
	ExecFn  func(ctx context.Context, req ExecRequest) (int, error)

	mu         sync.Mutex
	files      map[string]File
	calls      []ExecRequest
	terminates int
	terminated chan struct{}
}

func NewMockRuntime(caps ...string) *MockRuntime {
	return &MockRuntime{
		Caps:       caps,
		files:      make(map[string]File),
		terminated: make(chan struct{}),
	}
}

func (m *MockRuntime) Capabilities(ctx context.Context) ([]string, error) {
	if m.CapsErr != nil {
		return nil, m.CapsErr
	}
	return append([]string(nil), m.Caps...), nil
}

func (m *MockRuntime) PutFile(ctx context.Context, path string, data []byte, mode fs.FileMode) error {
	if m.PutErr != nil {
		return m.PutErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = File{Data: append([]byte(nil), data...), Mode: mode}
	return nil
}

func (m *MockRuntime) Exec(ctx context.Context, req ExecRequest) (int, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()
	if m.ExecFn != nil {
		return m.ExecFn(ctx, req)
	}
	return 0, nil
}

func (m *MockRuntime) TerminateCurrent(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.terminates++
	if m.terminates == 1 {
		close(m.terminated)
	}
	return nil
}

// Terminated is closed by the first TerminateCurrent call.
func (m *MockRuntime) Terminated() <-chan struct{} {
	return m.terminated
}

// Files returns a copy of every uploaded file keyed by VM path.
func (m *MockRuntime) Files() map[string]File {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]File, len(m.files))
	for k, v := range m.files {
		out[k] = v
	}
	return out
}

// Calls returns the Exec requests in order.
func (m *MockRuntime) Calls() []ExecRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ExecRequest(nil), m.calls...)
}

// TerminateCount reports how many times TerminateCurrent was called.
func (m *MockRuntime) TerminateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.terminates
}
