package orchestration

import (
	"context"
	"fmt"
	"sync"
)

// Orchestrator is the stateful gateway core: it multiplexes long-lived client
// sessions onto the shared pipeline bus, tracks in-flight jobs by correlation
// identity, joins the two recognition-stage partial results through the
// shared-store barrier, and routes terminal outcomes back to the right
// session.
type Orchestrator struct {
	bus   Bus
	store FieldStore

	sessions *sessionStore
	registry *correlationRegistry

	dispatcher *dispatcher
	barrier    *aggregationBarrier
	delivery   *deliveryRouter

	defaultTone        string
	orchestrateOptions OrchestrateOptions

	closeOnce   sync.Once
	baseContext context.Context
}

func NewOrchestrator(b Bus, store FieldStore, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		bus:         b,
		store:       store,
		sessions:    newSessionStore(),
		registry:    newCorrelationRegistry(),
		delivery:    newDeliveryRouter(),
		defaultTone: DefaultTone,
		baseContext: context.Background(),
	}

	for _, opt := range opts {
		opt(o)
	}

	o.barrier = newAggregationBarrier(b, store)
	o.dispatcher = newDispatcher(b, store, o.registry, o.barrier, o.delivery, &o.orchestrateOptions)

	return o
}

// Orchestrate starts the standing bus subscriptions and blocks only for as
// long as subscription setup takes; consumption happens asynchronously until
// ctx is cancelled.
//
// Contract: call Orchestrate at most once per orchestrator instance.
func (o *Orchestrator) Orchestrate(ctx context.Context, opts ...OrchestrateOption) error {
	o.orchestrateOptions = OrchestrateOptions{}
	for _, opt := range opts {
		opt(&o.orchestrateOptions)
	}
	o.baseContext = ctx

	if err := o.dispatcher.start(ctx); err != nil {
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}
	return nil
}

func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		// Sessions are owned by their gateway connections; closing the
		// orchestrator only stops accepting work. In-flight registry entries
		// are left to resolve lazily or lapse with the store TTL.
	})
}

// OpenSession allocates a session for a freshly accepted connection.
func (o *Orchestrator) OpenSession(sink Sink) *Session {
	session := newSession(sink, o.defaultTone)
	o.sessions.add(session)
	return session
}

// CloseSession destroys a session on disconnect. Registry entries still
// referencing it are left to expire naturally; delivery no-ops once the
// session is closed.
func (o *Orchestrator) CloseSession(session *Session) {
	session.close()
	o.sessions.remove(session.id)
}

// SubmitTurn flushes the session's buffer and, when the buffer was non-empty,
// creates and publishes exactly one job carrying it. The buffer is empty when
// SubmitTurn returns regardless of whether a job was created.
func (o *Orchestrator) SubmitTurn(ctx context.Context, session *Session, tone string) (correlationID string, submitted bool, err error) {
	session.SetTone(tone)

	batches := session.flush()
	if len(batches) == 0 {
		return "", false, nil
	}

	correlationID, err = o.dispatcher.submit(ctx, session, batches, session.Tone())
	if err != nil {
		return "", false, err
	}
	return correlationID, true, nil
}
