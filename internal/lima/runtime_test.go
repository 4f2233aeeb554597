package lima

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mateo/agentbox/internal/runconfig"
	"github.com/mateo/agentbox/internal/vm"
)

func TestCapabilities(t *testing.T) {
	assert.Equal(t, []string{"lima"}, Capabilities(runconfig.Config{}, nil))

	cfg := runconfig.Config{
		ForwardSSHAgent: true,
		Mounts:          []runconfig.Mount{{HostPath: "/a", VMPath: "/mnt/a", Mode: runconfig.ModeRW}},
	}
	assert.Equal(t, []string{"gpu", "lima", "mounts", "ssh-forwarding"}, Capabilities(cfg, []string{"gpu", "lima"}))
}

func TestCloneSettings(t *testing.T) {
	set, err := CloneSettings(runconfig.Config{
		CPUs:            4,
		MemoryGB:        8,
		DiskGB:          60,
		ForwardSSHAgent: true,
		Mounts:          []runconfig.Mount{{HostPath: "/src", VMPath: "/mnt/src", Mode: runconfig.ModeRO}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{
		".cpus = 4",
		`.memory = "8GiB"`,
		`.disk = "60GiB"`,
		".ssh.forwardAgent = true",
		`.mounts += [{"location":"/src","mountPoint":"/mnt/src","writable":false}]`,
	}, set)

	set, err = CloneSettings(runconfig.Config{})
	require.NoError(t, err)
	assert.Empty(t, set)
}

func runningRuntime(t *testing.T) (*MockClient, *Runtime) {
	t.Helper()
	mock := NewMockClient()
	require.NoError(t, mock.Create(context.Background(), CreateOptions{Name: "agentbox-s1", Start: true}))
	return mock, NewRuntime(mock, "agentbox-s1", []string{"lima"})
}

func TestRuntime_Capabilities(t *testing.T) {
	mock, rt := runningRuntime(t)
	ctx := context.Background()

	caps, err := rt.Capabilities(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"lima"}, caps)

	require.NoError(t, mock.Stop(ctx, "agentbox-s1"))
	_, err = rt.Capabilities(ctx)
	assert.ErrorContains(t, err, "not running")
}

func TestRuntime_PutFile(t *testing.T) {
	mock, rt := runningRuntime(t)

	require.NoError(t, rt.PutFile(context.Background(), "/tmp/agentbox/s1/install.sh", []byte("echo hi"), 0o700))

	assert.Equal(t, []byte("echo hi"), mock.Copied["/tmp/agentbox/s1/install.sh"])
	require.Len(t, mock.Shells, 2)
	assert.Equal(t, []string{"-p", "/tmp/agentbox/s1"}, mock.Shells[0].Args)
	assert.Equal(t, "chmod", mock.Shells[1].Command)
	assert.Equal(t, []string{"700", "/tmp/agentbox/s1/install.sh"}, mock.Shells[1].Args)
}

func TestRuntime_PutFileCopyError(t *testing.T) {
	mock, rt := runningRuntime(t)
	mock.CopyErr = errors.New("scp failed")

	err := rt.PutFile(context.Background(), "/tmp/x.sh", []byte("x"), 0o700)
	require.ErrorIs(t, err, mock.CopyErr)
}

func TestRuntime_Exec(t *testing.T) {
	mock, rt := runningRuntime(t)
	mock.ExecFn = func(ctx context.Context, opts ExecOptions) (int, error) { return 3, nil }

	code, err := rt.Exec(context.Background(), vm.ExecRequest{
		Cmdline: []string{"/bin/sh", "-e", "/tmp/x.sh"},
		Env:     []string{"A=1"},
		Cwd:     ".claude",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, code)
	require.Len(t, mock.Execs, 1)
	assert.Equal(t, "agentbox-s1", mock.Execs[0].Instance)
	assert.Equal(t, ".claude", mock.Execs[0].Workdir)
	assert.Equal(t, []string{"A=1"}, mock.Execs[0].Env)
}

func TestRuntime_TerminateCurrentCancelsExec(t *testing.T) {
	mock, rt := runningRuntime(t)
	started := make(chan struct{})
	mock.ExecFn = func(ctx context.Context, opts ExecOptions) (int, error) {
		close(started)
		<-ctx.Done()
		return -1, ctx.Err()
	}

	done := make(chan error, 1)
	go func() {
		_, err := rt.Exec(context.Background(), vm.ExecRequest{Cmdline: []string{"sleep", "600"}})
		done <- err
	}()

	<-started
	require.NoError(t, rt.TerminateCurrent(context.Background()))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("exec was not cancelled")
	}

	// No exec in flight: a no-op.
	assert.NoError(t, rt.TerminateCurrent(context.Background()))
}

func TestEnsureBase(t *testing.T) {
	mock := NewMockClient()
	ctx := context.Background()
	tmpl := t.TempDir() + "/base.yaml"

	created, err := EnsureBase(ctx, mock, "agentbox-base", DefaultTemplateConfig(), tmpl)
	require.NoError(t, err)
	assert.True(t, created)
	require.Len(t, mock.Created, 1)
	assert.Equal(t, tmpl, mock.Created[0].Template)
	inst, err := mock.Get(ctx, "agentbox-base")
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, inst.Status)

	created, err = EnsureBase(ctx, mock, "agentbox-base", DefaultTemplateConfig(), tmpl)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Len(t, mock.Created, 1)
}

func TestStartSession(t *testing.T) {
	mock := NewMockClient()
	ctx := context.Background()

	_, err := StartSession(ctx, mock, SessionOptions{Base: "agentbox-base", Name: "agentbox-s1"})
	require.ErrorIs(t, err, ErrBaseMissing)

	require.NoError(t, mock.Create(ctx, CreateOptions{Name: "agentbox-base"}))
	rt, err := StartSession(ctx, mock, SessionOptions{
		Base:   "agentbox-base",
		Name:   "agentbox-s1",
		Config: runconfig.Config{CPUs: 4, ForwardSSHAgent: true},
	})
	require.NoError(t, err)
	assert.Equal(t, "agentbox-s1", rt.Instance())

	require.Len(t, mock.Clones, 1)
	assert.Equal(t, []string{".cpus = 4", ".ssh.forwardAgent = true"}, mock.Clones[0].Set)
	caps, err := rt.Capabilities(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"lima", "ssh-forwarding"}, caps)

	require.NoError(t, rt.Close(ctx))
	_, err = mock.Get(ctx, "agentbox-s1")
	assert.True(t, IsNotFound(err))
}

func TestSessionName(t *testing.T) {
	assert.Equal(t, "agentbox-session-3f2a9c1e7b44", SessionName("3F2A9C1E-7B44-4d0e-9a51-000000000000"))
	assert.Equal(t, "agentbox-session-abc", SessionName("abc"))
}

func TestListSessions(t *testing.T) {
	mock := NewMockClient()
	ctx := context.Background()
	require.NoError(t, mock.Create(ctx, CreateOptions{Name: "agentbox-base"}))
	require.NoError(t, mock.Create(ctx, CreateOptions{Name: SessionName("bbbb")}))
	require.NoError(t, mock.Create(ctx, CreateOptions{Name: SessionName("aaaa"), Start: true}))
	require.NoError(t, mock.Create(ctx, CreateOptions{Name: "unrelated"}))

	sessions, err := ListSessions(ctx, mock)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "agentbox-session-aaaa", sessions[0].Name)
	assert.Equal(t, StatusRunning, sessions[0].Status)
	assert.Equal(t, "agentbox-session-bbbb", sessions[1].Name)
}
