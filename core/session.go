package orchestration

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"

	"github.com/aurasign/aura-core/core/protocol"
)

// DefaultTone is the tone preference a session starts with until the client
// overrides it on an end-of-turn frame.
const DefaultTone = "Casual"

// Sink is where a session's outbound frames go, typically a websocket
// connection owned by the gateway.
type Sink interface {
	WriteFrame(payload []byte) error
}

// Session is the per-connection state: the landmark batches accumulated since
// the last flush and the client's tone preference. The connection handle stays
// with the gateway; the session only ever sees it as a Sink.
type Session struct {
	mu sync.Mutex

	id      string
	sink    Sink
	batches [][][]float64
	tone    string
	closed  bool
}

func newSession(sink Sink, tone string) *Session {
	return &Session{
		id:   uuid.NewString(),
		sink: sink,
		tone: tone,
	}
}

func (s *Session) ID() string {
	return s.id
}

// AppendBatch accumulates one batch of landmark vectors. Append has no side
// effect beyond storage; nothing is published until the turn ends.
func (s *Session) AppendBatch(batch [][]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, batch)
}

// SetTone updates the session's tone preference for subsequent turns.
func (s *Session) SetTone(tone string) {
	if tone == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tone = tone
}

func (s *Session) Tone() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tone
}

// flush empties the accumulation buffer and returns a deep copy of its
// contents in append order. The copy keeps the published job payload immune
// to any later mutation of the slices the client handler still holds.
func (s *Session) flush() [][][]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.batches) == 0 {
		return nil
	}

	var batches [][][]float64
	_ = copier.CopyWithOption(&batches, s.batches, copier.Option{DeepCopy: true})
	s.batches = s.batches[:0]
	return batches
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.batches = nil
}

// send marshals and writes one outbound frame. Writing to a closed session is
// an expected no-op: the client disconnecting while a job is in flight is not
// an error anywhere in the pipeline.
func (s *Session) send(frame any) error {
	s.mu.Lock()
	closed := s.closed
	sink := s.sink
	s.mu.Unlock()
	if closed || sink == nil {
		return nil
	}

	payload, err := protocol.Marshal(frame)
	if err != nil {
		return err
	}
	if err := sink.WriteFrame(payload); err != nil {
		return fmt.Errorf("failed to write frame to session %s: %w", s.id, err)
	}
	return nil
}
