package ws

import (
	"encoding/json"
	"time"

	"github.com/mateo/agentbox/internal/executor"
)

// Envelope is the top-level WebSocket message format.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// --- Client -> Server messages ---

// SubscribePayload requests subscription to a channel.
type SubscribePayload struct {
	Channel string `json:"channel"` // "sessions", "session:<id>", "logs:<id>"
}

// UnsubscribePayload cancels a subscription.
type UnsubscribePayload struct {
	Channel string `json:"channel"`
}

// --- Server -> Client messages ---

// EventPayload is one executor state transition.
type EventPayload struct {
	SessionID string        `json:"sessionID"`
	AgentID   string        `json:"agentID"`
	State     string        `json:"state"`
	Phase     string        `json:"phase,omitempty"`
	Time      time.Time     `json:"time"`
	Elapsed   time.Duration `json:"elapsedNanos"`
	Terminal  bool          `json:"terminal"`
	Error     string        `json:"error,omitempty"`
	ExitCode  *int          `json:"exitCode,omitempty"`
}

// SnapshotPayload replays the events seen so far on subscribe.
type SnapshotPayload struct {
	Events []EventPayload `json:"events"`
}

// LogDataPayload is a streamed line of script output.
type LogDataPayload struct {
	SessionID string `json:"sessionID"`
	Line      string `json:"line"`
}

// Message type constants.
const (
	// Client -> Server
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"

	// Server -> Client
	TypeSessionEvent    = "session.event"
	TypeSessionSnapshot = "session.snapshot"
	TypeLogsData        = "logs.data"
)

// Channel names. Per-session channels are "session:<id>" and "logs:<id>".
const (
	ChannelSessions = "sessions"
	prefixSession   = "session:"
	prefixLogs      = "logs:"
)

// MakeEnvelope creates an Envelope with the given type and payload.
func MakeEnvelope(msgType string, payload interface{}) ([]byte, error) {
	p, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: msgType, Payload: p})
}

func eventPayload(e executor.Event) EventPayload {
	p := EventPayload{
		SessionID: e.SessionID,
		AgentID:   e.AgentID,
		State:     string(e.State),
		Phase:     string(e.Phase),
		Time:      e.Time,
		Elapsed:   e.Elapsed,
		Terminal:  e.State.Terminal(),
	}
	if e.Err != nil {
		p.Error = e.Err.Error()
	}
	if p.Terminal {
		code := executor.ExitCode(e.Err)
		p.ExitCode = &code
	}
	return p
}

// channelsFor lists the channels an event for sessionID is delivered on.
func channelsFor(sessionID string) []string {
	return []string{ChannelSessions, prefixSession + sessionID}
}
