// Package bus holds the message types shared between the orchestration core
// and its broker clients. Implementations live in subpackages.
package bus

import "context"

// Routing keys understood by the pipeline workers.
const (
	RecognitionTaskKey = "recognition_task"
	AggregatorTaskKey  = "aggregator_task"
	GeminiTaskKey      = "gemini_task"
)

// Message is one unit published to the pipeline. CorrelationID links the
// eventual asynchronous replies back to the originating job; ReplyTo tells the
// final stage where to publish the terminal result.
type Message struct {
	Body          []byte
	CorrelationID string
	ReplyTo       string
}

// Delivery is one consumed message. Ack must be called exactly once, after the
// handler has finished with the message; the broker is free to redeliver
// anything unacknowledged.
type Delivery struct {
	Message

	ack func() error
}

func NewDelivery(msg Message, ack func() error) Delivery {
	return Delivery{Message: msg, ack: ack}
}

func (d Delivery) Ack() error {
	if d.ack == nil {
		return nil
	}
	return d.ack()
}

// Handler consumes one delivery. Returning an error leaves the delivery
// unacknowledged.
type Handler func(ctx context.Context, delivery Delivery) error
