// Package gateway accepts persistent websocket connections from perception
// clients, parses their frames, and drives the orchestration core. It owns
// the connection handles; the core only ever sees sessions and sinks.
package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	orchestration "github.com/aurasign/aura-core/core"
	"github.com/aurasign/aura-core/core/protocol"
)

type Server struct {
	orchestrator *orchestration.Orchestrator
	upgrader     websocket.Upgrader
}

func NewServer(orchestrator *orchestration.Orchestrator) *Server {
	return &Server{
		orchestrator: orchestrator,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Perception clients are browser pages served from anywhere.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler exposes the websocket endpoint and the protocol schema document.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveConnection)
	mux.HandleFunc("/schema", serveSchema)
	return otelhttp.NewHandler(mux, "gateway")
}

func serveSchema(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(protocol.Schema()); err != nil {
		logger.WarnContext(r.Context(), "failed to serve protocol schema", "error", err)
	}
}

func (s *Server) serveConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote an HTTP error to the client.
		logger.WarnContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sink := newConnSink(conn)
	session := s.orchestrator.OpenSession(sink)
	defer s.orchestrator.CloseSession(session)

	logger.InfoContext(r.Context(), "session opened", "sessionID", session.ID())

	// One reader per connection: frames from a single client are processed in
	// arrival order, so appends can never reorder past the end-of-turn frame
	// that flushes them.
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.WarnContext(r.Context(), "session read failed",
					"sessionID", session.ID(), "error", err)
			}
			return
		}

		s.handleFrame(r, session, sink, raw)
	}
}

func (s *Server) handleFrame(r *http.Request, session *orchestration.Session, sink *connSink, raw []byte) {
	ctx, span := tracer.Start(r.Context(), "gateway.handleFrame")
	defer span.End()

	frame, err := protocol.ParseInbound(raw)
	if err != nil {
		// Malformed input is reported to this connection only; the
		// connection stays open and nothing propagates further.
		s.sendError(sink, err)
		return
	}

	switch typedFrame := frame.(type) {
	case protocol.AppendFrame:
		session.AppendBatch(typedFrame.Sequence)
	case protocol.EndOfTurnFrame:
		correlationID, submitted, err := s.orchestrator.SubmitTurn(ctx, session, typedFrame.Tone)
		if err != nil {
			// Infrastructure trouble: fail the turn fast rather than let the
			// client wait on a job that was never published.
			s.sendError(sink, errors.New("pipeline unavailable, please retry"))
			return
		}
		if submitted {
			logger.InfoContext(ctx, "turn submitted",
				"sessionID", session.ID(), "correlationID", correlationID)
		}
	}
}

func (s *Server) sendError(sink *connSink, cause error) {
	payload, err := protocol.Marshal(protocol.ErrorFrame{Error: cause.Error()})
	if err != nil {
		return
	}
	_ = sink.WriteFrame(payload)
}
