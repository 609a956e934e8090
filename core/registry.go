package orchestration

import "sync"

// correlationRegistry maps an in-flight job's correlation identity to the
// session waiting on it. The relation is lookup, not ownership: a session may
// close while jobs referencing it are still in flight, in which case its
// entries are resolved lazily at delivery time and the delivery no-ops.
//
// An identity is registered exactly once, at job creation, and removed
// exactly once, at terminal delivery. Entries for jobs that never reach a
// terminal state are harmless: they resolve to a session that may be gone,
// and nothing ever delivers to them.
type correlationRegistry struct {
	mu      sync.RWMutex
	entries map[string]*Session
}

func newCorrelationRegistry() *correlationRegistry {
	return &correlationRegistry{entries: map[string]*Session{}}
}

func (r *correlationRegistry) register(correlationID string, session *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[correlationID] = session
}

func (r *correlationRegistry) resolve(correlationID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.entries[correlationID]
	return session, ok
}

func (r *correlationRegistry) remove(correlationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, correlationID)
}
