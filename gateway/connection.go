package gateway

import (
	"sync"

	"github.com/gorilla/websocket"
)

// connSink adapts a websocket connection to the orchestrator's Sink. Gorilla
// connections support one concurrent writer only, so writes are serialized
// here; readers are unaffected because the gateway reads from a single
// per-connection loop anyway.
type connSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newConnSink(conn *websocket.Conn) *connSink {
	return &connSink{conn: conn}
}

func (s *connSink) WriteFrame(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}
