package orchestration

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	"github.com/aurasign/aura-core/core/bus"
)

// jobPayload is what the recognition-stage workers consume. Both workers
// receive the same payload and each extracts what it needs from it.
type jobPayload struct {
	LandmarkData [][][]float64 `json:"landmark_data"`
}

// resultPayload is the terminal message published by the final stage to the
// reply queue.
type resultPayload struct {
	Sentence         string `json:"sentence"`
	AudioData        string `json:"audioData"`
	ConversationTone string `json:"conversationTone"`
}

// deadLetterPayload carries whatever partial data the failing stage attached.
// For a synthesis failure that is the transcript, which becomes the degraded
// output.
type deadLetterPayload struct {
	Sentence string `json:"sentence"`
}

// dispatcher publishes new jobs to the first pipeline stage and consumes the
// three standing subscriptions: results, dead letters, and barrier
// notifications.
type dispatcher struct {
	bus      Bus
	store    FieldStore
	registry *correlationRegistry
	barrier  *aggregationBarrier
	delivery *deliveryRouter

	options *OrchestrateOptions
}

func newDispatcher(b Bus, store FieldStore, registry *correlationRegistry, barrier *aggregationBarrier, delivery *deliveryRouter, options *OrchestrateOptions) *dispatcher {
	return &dispatcher{
		bus:      b,
		store:    store,
		registry: registry,
		barrier:  barrier,
		delivery: delivery,
		options:  options,
	}
}

// submit creates a job from a flushed buffer: mints the correlation identity,
// registers it, seeds the shared aggregation record with the session's tone
// preference, and publishes the landmark payload to the recognition stage.
//
// On any failure the registry entry is rolled back and the error surfaces to
// the gateway, which reports it to the client instead of letting the turn
// hang.
func (d *dispatcher) submit(ctx context.Context, session *Session, batches [][][]float64, tone string) (string, error) {
	ctx, span := tracer.Start(ctx, "dispatcher.submit")
	defer span.End()

	correlationID := uuid.NewString()
	d.registry.register(correlationID, session)

	if err := d.store.SetField(ctx, correlationID, "user_tone", tone); err != nil {
		d.registry.remove(correlationID)
		recordedErr := fmt.Errorf("failed to seed aggregation record: %w", err)
		span.RecordError(recordedErr)
		span.SetStatus(codes.Error, recordedErr.Error())
		return "", recordedErr
	}

	body, err := json.Marshal(jobPayload{LandmarkData: batches})
	if err != nil {
		d.registry.remove(correlationID)
		return "", fmt.Errorf("failed to encode job payload: %w", err)
	}

	if err := d.bus.Publish(ctx, bus.RecognitionTaskKey, bus.Message{
		Body:          body,
		CorrelationID: correlationID,
		ReplyTo:       d.bus.ReplyQueue(),
	}); err != nil {
		d.registry.remove(correlationID)
		recordedErr := fmt.Errorf("failed to publish job: %w", err)
		span.RecordError(recordedErr)
		span.SetStatus(codes.Error, recordedErr.Error())
		return "", recordedErr
	}

	if d.options.onJobSubmitted != nil {
		d.options.onJobSubmitted(correlationID)
	}
	return correlationID, nil
}

// start registers the three standing subscriptions.
func (d *dispatcher) start(ctx context.Context) error {
	if err := d.bus.ConsumeResults(ctx, d.handleResult); err != nil {
		return fmt.Errorf("failed to subscribe to results: %w", err)
	}
	if err := d.bus.ConsumeDeadLetters(ctx, d.handleDeadLetter); err != nil {
		return fmt.Errorf("failed to subscribe to dead letters: %w", err)
	}
	if err := d.bus.ConsumeAggregatorNotifications(ctx, d.handleNotification); err != nil {
		return fmt.Errorf("failed to subscribe to aggregator notifications: %w", err)
	}
	return nil
}

func (d *dispatcher) handleResult(ctx context.Context, delivery bus.Delivery) error {
	ctx, span := tracer.Start(ctx, "dispatcher.handleResult")
	defer span.End()

	session, ok := d.registry.resolve(delivery.CorrelationID)
	if !ok {
		// Already delivered or expired. Not an error, just a late arrival.
		return delivery.Ack()
	}

	var result resultPayload
	if err := json.Unmarshal(delivery.Body, &result); err != nil {
		logger.WarnContext(ctx, "discarding undecodable result",
			"correlationID", delivery.CorrelationID, "error", err)
		return delivery.Ack()
	}

	d.delivery.deliverSuccess(ctx, session, result)
	d.registry.remove(delivery.CorrelationID)

	if d.options.onDelivery != nil {
		d.options.onDelivery(delivery.CorrelationID)
	}
	return delivery.Ack()
}

func (d *dispatcher) handleDeadLetter(ctx context.Context, delivery bus.Delivery) error {
	ctx, span := tracer.Start(ctx, "dispatcher.handleDeadLetter")
	defer span.End()

	session, ok := d.registry.resolve(delivery.CorrelationID)
	if !ok {
		return delivery.Ack()
	}

	var partial deadLetterPayload
	if err := json.Unmarshal(delivery.Body, &partial); err != nil {
		logger.WarnContext(ctx, "dead letter carried no usable partial data",
			"correlationID", delivery.CorrelationID, "error", err)
	}

	d.delivery.deliverFailure(ctx, session, partial.Sentence)
	d.registry.remove(delivery.CorrelationID)

	if d.options.onFailure != nil {
		d.options.onFailure(delivery.CorrelationID)
	}
	return delivery.Ack()
}

// handleNotification delegates to the barrier and acknowledges only once the
// barrier has finished. At-least-once redelivery is fine here: the barrier's
// merge is idempotent.
func (d *dispatcher) handleNotification(ctx context.Context, delivery bus.Delivery) error {
	if err := d.barrier.notify(ctx, delivery.CorrelationID, delivery.ReplyTo); err != nil {
		return err
	}
	return delivery.Ack()
}
