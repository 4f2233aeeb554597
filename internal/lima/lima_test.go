package lima

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloneArgs(t *testing.T) {
	args := cloneArgs(CloneOptions{
		Source: "agentbox-base",
		Target: "agentbox-1234",
		Set:    []string{".cpus = 4", `.memory = "8GiB"`},
	})
	assert.Equal(t, []string{
		"clone", "--tty=false",
		"--set", ".cpus = 4",
		"--set", `.memory = "8GiB"`,
		"agentbox-base", "agentbox-1234",
	}, args)
}

func TestExecArgs(t *testing.T) {
	args := execArgs(ExecOptions{
		Instance: "agentbox-1234",
		Workdir:  ".claude",
		Env:      []string{"A=1", "AGENT_ID=claude"},
		Args:     []string{"/bin/sh", "-e", "/tmp/agentbox/s/install.sh"},
	})
	assert.Equal(t, []string{
		"shell", "agentbox-1234", "--",
		"/bin/sh", "-c", workdirScript, ".claude",
		"env", "A=1", "AGENT_ID=claude",
		"/bin/sh", "-e", "/tmp/agentbox/s/install.sh",
	}, args)
}

func TestExecArgs_DefaultsToHome(t *testing.T) {
	args := execArgs(ExecOptions{Instance: "vm", Args: []string{"true"}})
	assert.Equal(t, []string{"shell", "vm", "--", "/bin/sh", "-c", workdirScript, ".", "true"}, args)
}

func TestParseList(t *testing.T) {
	out := `{"name":"agentbox-base","status":"Stopped","dir":"/Users/me/.lima/agentbox-base","arch":"aarch64","cpus":2,"memory":4294967296,"disk":32212254720}
not json
{"name":"agentbox-1","status":"Running","arch":"aarch64","cpus":4,"sshAddress":"127.0.0.1"}
`
	instances := parseList(out)
	require.Len(t, instances, 2)
	assert.Equal(t, "agentbox-base", instances[0].Name)
	assert.Equal(t, StatusStopped, instances[0].Status)
	assert.Equal(t, int64(4294967296), instances[0].Memory)
	assert.Equal(t, StatusRunning, instances[1].Status)
	assert.Equal(t, 4, instances[1].CPUs)
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(&NotFoundError{Name: "x"}))
	assert.False(t, IsNotFound(errors.New("x")))
}

func TestMockClient_CloneAndLifecycle(t *testing.T) {
	mock := NewMockClient()
	ctx := context.Background()

	require.NoError(t, mock.Create(ctx, CreateOptions{Name: "base"}))
	require.NoError(t, mock.Clone(ctx, CloneOptions{Source: "base", Target: "clone-1", Start: true}))

	inst, err := mock.Get(ctx, "clone-1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, inst.Status)

	require.NoError(t, mock.Stop(ctx, "clone-1"))
	inst, _ = mock.Get(ctx, "clone-1")
	assert.Equal(t, StatusStopped, inst.Status)

	require.NoError(t, mock.Delete(ctx, "clone-1", true))
	_, err = mock.Get(ctx, "clone-1")
	assert.True(t, IsNotFound(err))

	err = mock.Clone(ctx, CloneOptions{Source: "nonexistent", Target: "clone-2"})
	assert.True(t, IsNotFound(err))
}
