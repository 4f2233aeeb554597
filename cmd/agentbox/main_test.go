package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mateo/agentbox/internal/config"
	"github.com/mateo/agentbox/internal/executor"
)

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := execute(append([]string{"--log-level", "error"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func isolatedHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv(config.HomeEnv, home)
	return home
}

func TestVersion(t *testing.T) {
	isolatedHome(t)
	code, out, _ := runCLI(t, "version")
	assert.Equal(t, 0, code)
	assert.Equal(t, "dev\n", out)
}

func TestAgentsList_Builtins(t *testing.T) {
	home := isolatedHome(t)

	code, out, _ := runCLI(t, "agents", "list", "--json")
	require.Equal(t, 0, code)

	var got []agentSummary
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "claude", got[0].ID)
	assert.Equal(t, "opencode", got[1].ID)
	assert.Equal(t, filepath.Join(home, "builtin", "claude"), got[0].Origin)
}

func TestAgentsList_UserOverridesBuiltin(t *testing.T) {
	home := isolatedHome(t)
	dir := filepath.Join(home, "agents", "my-claude")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "agent.toml"), []byte(`
[agent]
id = "claude"
name = "Patched Claude"
description = "Claude with local tweaks"
command = "claude"

[paths]
config_dir = ".claude"
context_file = "CLAUDE.md"
mcp_config_file = ".claude.json"
`), 0o644))

	code, out, _ := runCLI(t, "agents", "list")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "Patched Claude")
	assert.NotContains(t, out, "Claude Code")

	code, out, _ = runCLI(t, "agents", "doctor")
	require.Equal(t, 0, code)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1)
	assert.True(t, strings.HasPrefix(lines[0], "warning: "+filepath.Join(home, "builtin", "claude")), lines[0])
	assert.Contains(t, lines[0], `duplicate agent id "claude"`)
	assert.Contains(t, lines[0], dir)
}

func TestAgentsShow(t *testing.T) {
	isolatedHome(t)

	code, out, _ := runCLI(t, "agents", "show", "opencode")
	require.Equal(t, 0, code)
	assert.Regexp(t, `id = ["']opencode["']`, out)
	assert.Contains(t, out, "install")
	assert.Contains(t, out, "<inline>")
}

func TestAgentsShow_Unknown(t *testing.T) {
	isolatedHome(t)

	code, _, errOut := runCLI(t, "agents", "show", "nope")
	assert.Equal(t, executor.ExitBadDescriptor, code)
	assert.Contains(t, errOut, `agent "nope" not found`)
}

func TestAgentsDoctor(t *testing.T) {
	home := isolatedHome(t)

	code, out, _ := runCLI(t, "agents", "doctor")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "no problems found")

	dir := filepath.Join(home, "agents", "broken")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "agent.toml"), []byte("[agent]\nid = \"broken\"\n"), 0o644))

	code, out, _ = runCLI(t, "agents", "doctor")
	assert.Equal(t, executor.ExitBadDescriptor, code)
	assert.Contains(t, out, "error:")
	assert.Contains(t, out, filepath.Join(dir, "agent.toml"))
}

func TestRun_RejectsBadInputBeforeBooting(t *testing.T) {
	isolatedHome(t)

	tests := []struct {
		name string
		args []string
		code int
	}{
		{"unknown agent", []string{"run", "nope"}, executor.ExitBadDescriptor},
		{"zero cpus", []string{"run", "claude", "--cpus", "0"}, executor.ExitBadRuntimeConfig},
		{"bad env", []string{"run", "claude", "--env", "NOEQUALS"}, executor.ExitBadRuntimeConfig},
		{"bad mount mode", []string{"run", "claude", "--mount", "/src:/work:rx"}, executor.ExitBadRuntimeConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, _ := runCLI(t, tt.args...)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestSetup_RejectsZeroSizing(t *testing.T) {
	isolatedHome(t)

	code, _, errOut := runCLI(t, "setup", "--memory", "0")
	assert.Equal(t, executor.ExitBadRuntimeConfig, code)
	assert.Contains(t, errOut, "memory")
}

func TestUnknownCommand(t *testing.T) {
	code, _, _ := runCLI(t, "definitely-not-a-command")
	assert.Equal(t, executor.ExitFailure, code)
}
