package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mateo/agentbox/internal/agent"
	"github.com/mateo/agentbox/internal/executor"
)

func emitAll(r *Recorder, session, agentID string, steps ...executor.Event) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, e := range steps {
		at = at.Add(10 * time.Second)
		e.SessionID = session
		e.AgentID = agentID
		e.Time = at
		r.Emit(e)
	}
}

func textfile(t *testing.T, r *Recorder) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agentbox.prom")
	require.NoError(t, r.WriteTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestRecorder_ReadySession(t *testing.T) {
	r := NewRecorder()
	emitAll(r, "s1", "claude",
		executor.Event{State: executor.StateBound},
		executor.Event{State: executor.StateInstalling, Phase: agent.PhaseInstall},
		executor.Event{State: executor.StateDeploying, Phase: agent.PhaseDeploy},
		executor.Event{State: executor.StateReady},
	)

	out := textfile(t, r)
	assert.Contains(t, out, `agentbox_sessions_total{agent="claude",outcome="ok"} 1`)
	assert.Contains(t, out, `agentbox_phase_duration_seconds_sum{agent="claude",outcome="ok",phase="install"} 10`)
	assert.Contains(t, out, `agentbox_phase_duration_seconds_count{agent="claude",outcome="ok",phase="deploy"} 1`)
}

func TestRecorder_FailedPhase(t *testing.T) {
	r := NewRecorder()
	emitAll(r, "s2", "demo",
		executor.Event{State: executor.StateBound},
		executor.Event{State: executor.StateInstalling, Phase: agent.PhaseInstall},
		executor.Event{State: executor.StateFailed, Phase: agent.PhaseInstall, Err: errors.New("exit 7")},
	)

	out := textfile(t, r)
	assert.Contains(t, out, `agentbox_sessions_total{agent="demo",outcome="failed"} 1`)
	assert.Contains(t, out, `agentbox_phase_duration_seconds_count{agent="demo",outcome="failed",phase="install"} 1`)
	assert.Empty(t, r.running)
}

func TestRecorder_Rejected(t *testing.T) {
	r := NewRecorder()
	emitAll(r, "s3", "demo", executor.Event{State: executor.StateRejected})

	out := textfile(t, r)
	assert.Contains(t, out, `agentbox_sessions_total{agent="demo",outcome="rejected"} 1`)
	assert.NotContains(t, out, "agentbox_phase_duration_seconds_count")
}

func TestRecorder_ConcurrentSessionsTrackedSeparately(t *testing.T) {
	r := NewRecorder()
	emitAll(r, "a", "demo", executor.Event{State: executor.StateInstalling, Phase: agent.PhaseInstall})
	emitAll(r, "b", "demo", executor.Event{State: executor.StateInstalling, Phase: agent.PhaseInstall})
	assert.Len(t, r.running, 2)
}
