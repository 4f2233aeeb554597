package ws

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mateo/agentbox/internal/agent"
	"github.com/mateo/agentbox/internal/executor"
)

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub(nil)
	go hub.Run()
	srv := httptest.NewServer(hub.Handler())
	t.Cleanup(func() {
		hub.Stop()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + Path
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func subscribe(t *testing.T, conn *websocket.Conn, channel string) {
	t.Helper()
	msg, err := MakeEnvelope(TypeSubscribe, SubscribePayload{Channel: channel})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, msg))
}

func read(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestHub_StreamsSessionEvents(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)

	subscribe(t, conn, ChannelSessions)
	snap := read(t, conn)
	require.Equal(t, TypeSessionSnapshot, snap.Type)

	hub.Emit(executor.Event{SessionID: "s1", AgentID: "demo", State: executor.StateInstalling, Phase: agent.PhaseInstall})
	hub.Emit(executor.Event{
		SessionID: "s1",
		AgentID:   "demo",
		State:     executor.StateFailed,
		Phase:     agent.PhaseInstall,
		Err:       &executor.PhaseError{Phase: agent.PhaseInstall, ExitCode: 7},
	})

	env := read(t, conn)
	require.Equal(t, TypeSessionEvent, env.Type)
	var first EventPayload
	require.NoError(t, json.Unmarshal(env.Payload, &first))
	assert.Equal(t, "installing", first.State)
	assert.Equal(t, "install", first.Phase)
	assert.False(t, first.Terminal)
	assert.Nil(t, first.ExitCode)

	env = read(t, conn)
	var last EventPayload
	require.NoError(t, json.Unmarshal(env.Payload, &last))
	assert.Equal(t, "failed", last.State)
	assert.True(t, last.Terminal)
	require.NotNil(t, last.ExitCode)
	assert.Equal(t, executor.ExitInstallFailed, *last.ExitCode)
	assert.Contains(t, last.Error, "exit code 7")
}

func TestHub_SnapshotReplaysHistory(t *testing.T) {
	hub, url := startHub(t)
	hub.Emit(executor.Event{SessionID: "s1", AgentID: "demo", State: executor.StateBound})
	hub.Emit(executor.Event{SessionID: "s2", AgentID: "other", State: executor.StateBound})
	hub.Emit(executor.Event{SessionID: "s1", AgentID: "demo", State: executor.StateReady})

	conn := dial(t, url)
	subscribe(t, conn, "session:s1")

	env := read(t, conn)
	require.Equal(t, TypeSessionSnapshot, env.Type)
	var snap SnapshotPayload
	require.NoError(t, json.Unmarshal(env.Payload, &snap))
	require.Len(t, snap.Events, 2)
	assert.Equal(t, "bound", snap.Events[0].State)
	assert.Equal(t, "ready", snap.Events[1].State)
	require.NotNil(t, snap.Events[1].ExitCode)
	assert.Equal(t, 0, *snap.Events[1].ExitCode)
}

func TestHub_LogWriter(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)

	subscribe(t, conn, "logs:s1")
	// Log channels have no snapshot; emit a session event on another
	// channel to confirm the subscription has been processed.
	subscribe(t, conn, "session:sync")
	require.Equal(t, TypeSessionSnapshot, read(t, conn).Type)

	w := hub.LogWriter("s1")
	_, err := w.Write([]byte("downloading\r\nins"))
	require.NoError(t, err)
	_, err = w.Write([]byte("talled\npartial"))
	require.NoError(t, err)
	w.Flush()

	var lines []string
	for range 3 {
		env := read(t, conn)
		require.Equal(t, TypeLogsData, env.Type)
		var p LogDataPayload
		require.NoError(t, json.Unmarshal(env.Payload, &p))
		assert.Equal(t, "s1", p.SessionID)
		lines = append(lines, p.Line)
	}
	assert.Equal(t, []string{"downloading", "installed", "partial"}, lines)
}

func TestHub_UnsubscribedClientGetsNothing(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)

	subscribe(t, conn, "session:other")
	require.Equal(t, TypeSessionSnapshot, read(t, conn).Type)

	hub.Emit(executor.Event{SessionID: "s1", AgentID: "demo", State: executor.StateBound})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	var netErr interface{ Timeout() bool }
	require.True(t, errors.As(err, &netErr))
	assert.True(t, netErr.Timeout())
}

func TestEventPayload(t *testing.T) {
	p := eventPayload(executor.Event{SessionID: "s", AgentID: "a", State: executor.StateCancelled, Err: executor.ErrCancelled})
	assert.True(t, p.Terminal)
	assert.Equal(t, executor.ExitCancelled, *p.ExitCode)
	assert.Equal(t, "session cancelled", p.Error)
}
