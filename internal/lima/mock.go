package lima

import (
	"context"
	"os"
	"sync"
)

// MockClient implements the Client interface for testing.
type MockClient struct {
	Instances map[string]*Instance
	ShellFn   func(ctx context.Context, opts ShellOptions) (string, error)
	ExecFn    func(ctx context.Context, opts ExecOptions) (int, error)
	CreateErr error
	CloneErr  error
	StartErr  error
	StopErr   error
	DeleteErr error
	CopyErr   error

	mu      sync.Mutex
	Created []CreateOptions
	Clones  []CloneOptions
	Shells  []ShellOptions
	Execs   []ExecOptions
	// Copied maps VM paths to the bytes copied there.
	Copied map[string][]byte
}

func NewMockClient() *MockClient {
	return &MockClient{
		Instances: make(map[string]*Instance),
		Copied:    make(map[string][]byte),
	}
}

func (m *MockClient) Create(ctx context.Context, opts CreateOptions) error {
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Created = append(m.Created, opts)
	m.Instances[opts.Name] = &Instance{
		Name:   opts.Name,
		Status: StatusStopped,
	}
	if opts.Start {
		m.Instances[opts.Name].Status = StatusRunning
	}
	return nil
}

func (m *MockClient) Clone(ctx context.Context, opts CloneOptions) error {
	if m.CloneErr != nil {
		return m.CloneErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.Instances[opts.Source]
	if !ok {
		return &NotFoundError{Name: opts.Source}
	}
	m.Clones = append(m.Clones, opts)
	status := StatusStopped
	if opts.Start {
		status = StatusRunning
	}
	m.Instances[opts.Target] = &Instance{
		Name:   opts.Target,
		Status: status,
		CPUs:   src.CPUs,
		Memory: src.Memory,
		Disk:   src.Disk,
	}
	return nil
}

func (m *MockClient) setStatus(name string, status InstanceStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.Instances[name]
	if !ok {
		return &NotFoundError{Name: name}
	}
	inst.Status = status
	return nil
}

func (m *MockClient) Start(ctx context.Context, name string) error {
	if m.StartErr != nil {
		return m.StartErr
	}
	return m.setStatus(name, StatusRunning)
}

func (m *MockClient) Stop(ctx context.Context, name string) error {
	if m.StopErr != nil {
		return m.StopErr
	}
	return m.setStatus(name, StatusStopped)
}

func (m *MockClient) Delete(ctx context.Context, name string, force bool) error {
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Instances, name)
	return nil
}

func (m *MockClient) List(ctx context.Context) ([]Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]Instance, 0, len(m.Instances))
	for _, inst := range m.Instances {
		result = append(result, *inst)
	}
	return result, nil
}

func (m *MockClient) Get(ctx context.Context, name string) (*Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.Instances[name]
	if !ok {
		return nil, &NotFoundError{Name: name}
	}
	cp := *inst
	return &cp, nil
}

func (m *MockClient) Shell(ctx context.Context, opts ShellOptions) (string, error) {
	m.mu.Lock()
	m.Shells = append(m.Shells, opts)
	m.mu.Unlock()
	if m.ShellFn != nil {
		return m.ShellFn(ctx, opts)
	}
	return "", nil
}

func (m *MockClient) Exec(ctx context.Context, opts ExecOptions) (int, error) {
	m.mu.Lock()
	m.Execs = append(m.Execs, opts)
	m.mu.Unlock()
	if m.ExecFn != nil {
		return m.ExecFn(ctx, opts)
	}
	return 0, nil
}

func (m *MockClient) Copy(ctx context.Context, opts CopyOptions) error {
	if m.CopyErr != nil {
		return m.CopyErr
	}
	data, err := os.ReadFile(opts.LocalPath)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Copied[opts.VMPath] = data
	return nil
}
