// Package ws streams live session events to WebSocket clients.
package ws

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mateo/agentbox/internal/executor"
	"github.com/mateo/agentbox/internal/logger"
)

// Path is where the hub is mounted by Handler.
const Path = "/events"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub fans session events and script output out to WebSocket subscribers and
// keeps the event history for late joiners. It is an executor.Sink.
type Hub struct {
	mu      sync.RWMutex
	subs    map[*subscriber]struct{}
	history []EventPayload
	stopped bool

	leave    chan *subscriber
	stopCh   chan struct{}
	stopOnce sync.Once

	log *logger.Logger
}

var _ executor.Sink = (*Hub)(nil)

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		subs:   make(map[*subscriber]struct{}),
		leave:  make(chan *subscriber),
		stopCh: make(chan struct{}),
		log:    logger.OrNop(log),
	}
}

// Run drops disconnected subscribers until Stop. Call in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case <-h.stopCh:
			h.mu.Lock()
			h.stopped = true
			for s := range h.subs {
				h.drop(s)
			}
			h.mu.Unlock()
			return

		case s := <-h.leave:
			h.mu.Lock()
			h.drop(s)
			n := len(h.subs)
			h.mu.Unlock()
			h.log.Debug("WebSocket client disconnected", zap.Int("clients", n))
		}
	}
}

// drop removes s and closes its queue. Caller holds h.mu.
func (h *Hub) drop(s *subscriber) {
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.queue)
	}
}

// Stop disconnects every subscriber. Queued messages are flushed first.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
}

// Handler serves the hub at Path.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(Path, h.ServeWS)
	return mux
}

// ServeWS upgrades the request and registers the connection. The subscriber
// is registered before its read loop starts so its first subscribe is never
// lost.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	s := newSubscriber(h, conn)
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.subs[s] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()
	h.log.Debug("WebSocket client connected", zap.Int("clients", n))

	go s.writeLoop()
	go s.readLoop()
}

// Emit records e and sends it on "sessions" and "session:<id>".
func (h *Hub) Emit(e executor.Event) {
	payload := eventPayload(e)
	msg, err := MakeEnvelope(TypeSessionEvent, payload)
	if err != nil {
		h.log.Warn("Encoding session event failed", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.history = append(h.history, payload)
	channels := channelsFor(e.SessionID)
	for s := range h.subs {
		if s.wants(channels...) {
			s.enqueue(msg)
		}
	}
}

// handle applies one inbound envelope. Subscribing to an event channel
// replays the matching history as a session.snapshot.
func (h *Hub) handle(s *subscriber, env Envelope) {
	switch env.Type {
	case TypeSubscribe:
		var p SubscribePayload
		if !h.decode(env.Payload, &p) {
			return
		}
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[s]; !ok {
			return
		}
		s.subscribe(p.Channel)
		if events, ok := h.snapshot(p.Channel); ok {
			if msg, err := MakeEnvelope(TypeSessionSnapshot, SnapshotPayload{Events: events}); err == nil {
				s.enqueue(msg)
			}
		}

	case TypeUnsubscribe:
		var p UnsubscribePayload
		if h.decode(env.Payload, &p) {
			s.unsubscribe(p.Channel)
		}

	default:
		h.log.Debug("WebSocket: ignoring message", zap.String("type", env.Type))
	}
}

func (h *Hub) decode(data json.RawMessage, v any) bool {
	if err := json.Unmarshal(data, v); err != nil {
		h.log.Warn("WebSocket: failed to unmarshal payload", zap.Error(err))
		return false
	}
	return true
}

// snapshot returns the recorded events visible on channel. Caller holds h.mu.
func (h *Hub) snapshot(channel string) ([]EventPayload, bool) {
	switch {
	case channel == ChannelSessions:
		return append([]EventPayload{}, h.history...), true
	case strings.HasPrefix(channel, prefixSession):
		id := strings.TrimPrefix(channel, prefixSession)
		events := []EventPayload{}
		for _, e := range h.history {
			if e.SessionID == id {
				events = append(events, e)
			}
		}
		return events, true
	}
	return nil, false
}

// SendToLogSubscribers sends one line of script output on "logs:<id>".
func (h *Hub) SendToLogSubscribers(sessionID, line string) {
	msg, err := MakeEnvelope(TypeLogsData, LogDataPayload{SessionID: sessionID, Line: line})
	if err != nil {
		return
	}
	channel := prefixLogs + sessionID

	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		if s.wants(channel) {
			s.enqueue(msg)
		}
	}
}
