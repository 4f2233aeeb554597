package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = pongWait * 9 / 10
	// Clients only send subscribe/unsubscribe envelopes.
	maxInboundSize = 4096
	sendQueueSize  = 256
)

// subscriber is one connected WebSocket peer and the channels it listens on.
type subscriber struct {
	hub  *Hub
	conn *websocket.Conn
	// queue is closed by the hub when the subscriber is dropped.
	queue chan []byte

	mu       sync.RWMutex
	channels map[string]struct{}
}

func newSubscriber(hub *Hub, conn *websocket.Conn) *subscriber {
	return &subscriber{
		hub:      hub,
		conn:     conn,
		queue:    make(chan []byte, sendQueueSize),
		channels: make(map[string]struct{}),
	}
}

func (s *subscriber) subscribe(channel string) {
	s.mu.Lock()
	s.channels[channel] = struct{}{}
	s.mu.Unlock()
}

func (s *subscriber) unsubscribe(channel string) {
	s.mu.Lock()
	delete(s.channels, channel)
	s.mu.Unlock()
}

// wants reports whether the subscriber listens on any of channels.
func (s *subscriber) wants(channels ...string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range channels {
		if _, ok := s.channels[ch]; ok {
			return true
		}
	}
	return false
}

// enqueue drops msg when the subscriber is not keeping up. The caller holds
// the hub lock, so queue is still open.
func (s *subscriber) enqueue(msg []byte) {
	select {
	case s.queue <- msg:
	default:
		s.hub.log.Debug("WebSocket subscriber lagging, dropping message")
	}
}

// readLoop handles inbound envelopes until the connection fails, then hands
// the subscriber back to the hub.
func (s *subscriber) readLoop() {
	defer func() {
		select {
		case s.hub.leave <- s:
		case <-s.hub.stopCh:
		}
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxInboundSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.hub.log.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.hub.log.Warn("WebSocket: invalid message", zap.Error(err))
			continue
		}
		s.hub.handle(s, env)
	}
}

// writeLoop sends queued messages, one frame each, and keeps the connection
// alive with pings.
func (s *subscriber) writeLoop() {
	ping := time.NewTicker(pingInterval)
	defer func() {
		ping.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-s.queue:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
