package ws

import (
	"bytes"
	"sync"
)

// LogWriter returns a writer that forwards complete lines of script output
// to subscribers of "logs:<sessionID>". A trailing partial line is held until
// its newline arrives.
func (h *Hub) LogWriter(sessionID string) *LineWriter {
	return &LineWriter{hub: h, sessionID: sessionID}
}

type LineWriter struct {
	hub       *Hub
	sessionID string

	mu  sync.Mutex
	buf []byte
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		line := string(bytes.TrimSuffix(w.buf[:i], []byte("\r")))
		w.buf = w.buf[i+1:]
		w.hub.SendToLogSubscribers(w.sessionID, line)
	}
	return len(p), nil
}

// Flush sends any buffered partial line.
func (w *LineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.hub.SendToLogSubscribers(w.sessionID, string(w.buf))
		w.buf = nil
	}
}
