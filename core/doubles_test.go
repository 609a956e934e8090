package orchestration

import (
	"context"
	"sync"

	"github.com/aurasign/aura-core/core/bus"
)

type publishedMessage struct {
	routingKey string
	msg        bus.Message
}

// fakeBus records publishes and lets tests inject deliveries into whichever
// standing subscription the orchestrator registered.
type fakeBus struct {
	mu sync.Mutex

	published  []publishedMessage
	publishErr error

	resultHandler       bus.Handler
	deadLetterHandler   bus.Handler
	notificationHandler bus.Handler
}

func newFakeBus() *fakeBus {
	return &fakeBus{}
}

func (b *fakeBus) Publish(ctx context.Context, routingKey string, msg bus.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.publishErr != nil {
		return b.publishErr
	}
	b.published = append(b.published, publishedMessage{routingKey: routingKey, msg: msg})
	return nil
}

func (b *fakeBus) ConsumeResults(ctx context.Context, handler bus.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resultHandler = handler
	return nil
}

func (b *fakeBus) ConsumeDeadLetters(ctx context.Context, handler bus.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deadLetterHandler = handler
	return nil
}

func (b *fakeBus) ConsumeAggregatorNotifications(ctx context.Context, handler bus.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notificationHandler = handler
	return nil
}

func (b *fakeBus) ReplyQueue() string {
	return "test-reply-queue"
}

func (b *fakeBus) publishes() []publishedMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	published := make([]publishedMessage, len(b.published))
	copy(published, b.published)
	return published
}

func (b *fakeBus) publishesTo(routingKey string) []publishedMessage {
	var matching []publishedMessage
	for _, p := range b.publishes() {
		if p.routingKey == routingKey {
			matching = append(matching, p)
		}
	}
	return matching
}

func (b *fakeBus) deliver(handler bus.Handler, body []byte, correlationID, replyTo string) (acked bool, err error) {
	delivery := bus.NewDelivery(bus.Message{
		Body:          body,
		CorrelationID: correlationID,
		ReplyTo:       replyTo,
	}, func() error { acked = true; return nil })
	err = handler(context.Background(), delivery)
	return acked, err
}

// fakeFieldStore is an in-memory stand-in for the shared Redis hashes. TTL is
// not simulated; expiry paths are exercised by deleting records directly.
type fakeFieldStore struct {
	mu      sync.Mutex
	records map[string]map[string]string
}

func newFakeFieldStore() *fakeFieldStore {
	return &fakeFieldStore{records: map[string]map[string]string{}}
}

func (s *fakeFieldStore) SetField(ctx context.Context, correlationID, field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[correlationID]
	if !ok {
		record = map[string]string{}
		s.records[correlationID] = record
	}
	record[field] = value
	return nil
}

func (s *fakeFieldStore) Fields(ctx context.Context, correlationID string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fields := map[string]string{}
	for field, value := range s.records[correlationID] {
		fields[field] = value
	}
	return fields, nil
}

func (s *fakeFieldStore) Delete(ctx context.Context, correlationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, correlationID)
	return nil
}

func (s *fakeFieldStore) record(correlationID string) (map[string]string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[correlationID]
	if !ok {
		return nil, false
	}
	fields := map[string]string{}
	for field, value := range record {
		fields[field] = value
	}
	return fields, true
}

// recordingSink captures frames a session writes out.
type recordingSink struct {
	mu     sync.Mutex
	frames [][]byte
}

func (s *recordingSink) WriteFrame(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, append([]byte(nil), payload...))
	return nil
}

func (s *recordingSink) snapshot() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	frames := make([][]byte, len(s.frames))
	copy(frames, s.frames)
	return frames
}
