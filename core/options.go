package orchestration

import (
	"context"

	"github.com/aurasign/aura-core/core/bus"
)

// Bus is the broker surface the orchestrator needs: fire-and-forget publishes
// plus the three standing subscriptions. Publishing never waits for a reply;
// replies arrive on the result subscription, addressed by correlation id and
// the reply destination stamped at publish time.
type Bus interface {
	Publish(ctx context.Context, routingKey string, msg bus.Message) error
	ConsumeResults(ctx context.Context, handler bus.Handler) error
	ConsumeDeadLetters(ctx context.Context, handler bus.Handler) error
	ConsumeAggregatorNotifications(ctx context.Context, handler bus.Handler) error
	ReplyQueue() string
}

// FieldStore is the externally shared, TTL-governed storage the aggregation
// barrier joins partial results in. Fields are written at most once each, by
// whichever worker finishes that sub-task; the store applies its expiry at
// first write.
type FieldStore interface {
	SetField(ctx context.Context, correlationID, field, value string) error
	Fields(ctx context.Context, correlationID string) (map[string]string, error)
	Delete(ctx context.Context, correlationID string) error
}

type OrchestratorOption func(*Orchestrator)

// WithDefaultTone overrides the tone preference new sessions start with.
func WithDefaultTone(tone string) OrchestratorOption {
	return func(o *Orchestrator) {
		if tone != "" {
			o.defaultTone = tone
		}
	}
}

type OrchestrateOptions struct {
	onJobSubmitted func(correlationID string)
	onDelivery     func(correlationID string)
	onFailure      func(correlationID string)
}

type OrchestrateOption func(*OrchestrateOptions)

// WithJobSubmittedCallback is called with each correlation id published to the
// first stage.
func WithJobSubmittedCallback(callback func(correlationID string)) OrchestrateOption {
	return func(o *OrchestrateOptions) { o.onJobSubmitted = callback }
}

// WithDeliveryCallback is called after a terminal success frame is routed to
// its session.
func WithDeliveryCallback(callback func(correlationID string)) OrchestrateOption {
	return func(o *OrchestrateOptions) { o.onDelivery = callback }
}

// WithFailureCallback is called after a dead-lettered job is routed to its
// session as a degraded result.
func WithFailureCallback(callback func(correlationID string)) OrchestrateOption {
	return func(o *OrchestrateOptions) { o.onFailure = callback }
}
