package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/aurasign/aura-core/core/bus"
)

const (
	jobsExchange       = "aurasign_pipeline"
	deadLetterExchange = "aurasign_dlx"

	recognitionQueue = "recognition_tasks_queue"
	aggregatorQueue  = "aggregator_tasks_queue"
	geminiQueue      = "gemini_tasks_queue"
	ttsQueue         = "tts_tasks_queue"
	deadLetterQueue  = "aurasign_tts_dead_letter"

	// ttsMessageTTL bounds how long a synthesis job may sit unconsumed before
	// the broker reroutes it to the dead-letter exchange.
	ttsMessageTTL = 7 * time.Second

	reconnectDelay = 5 * time.Second
)

var ErrDisconnected = errors.New("not connected to broker")

// Client is the orchestrator's AMQP endpoint: it owns the pipeline topology,
// the exclusive reply queue terminal results land on, and the standing
// consumers. It reconnects on connection loss; publishes made while the
// connection is down fail fast instead of queueing.
type Client struct {
	url string

	mu         sync.Mutex
	conn       *amqp.Connection
	channel    *amqp.Channel
	replyQueue string
	closed     bool

	// subscriptions are replayed after every reconnect.
	subscriptions []subscription
}

// replyQueueSentinel marks a subscription bound to the exclusive reply queue,
// whose server-generated name changes on every reconnect. It is resolved to
// the current name each time the consumer is (re)started.
const replyQueueSentinel = ""

type subscription struct {
	queue   string
	handler bus.Handler
}

// NewClient dials the broker and declares the pipeline topology. A broker
// that is unreachable at startup is fatal to the caller; reconnection only
// covers losses after this first dial succeeds.
func NewClient(ctx context.Context, url string) (*Client, error) {
	client := &Client{url: url}
	if err := client.connect(); err != nil {
		return nil, err
	}

	go client.superviseConnection(ctx)

	return client, nil
}

func (c *Client) connect() error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("failed to dial broker: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	replyQueue, err := declareTopology(channel)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to declare topology: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.channel = channel
	c.replyQueue = replyQueue
	subscriptions := make([]subscription, len(c.subscriptions))
	copy(subscriptions, c.subscriptions)
	c.mu.Unlock()

	for _, sub := range subscriptions {
		if err := c.startConsumer(channel, sub); err != nil {
			return fmt.Errorf("failed to restore consumer on %q: %w", sub.queue, err)
		}
	}

	return nil
}

func declareTopology(channel *amqp.Channel) (replyQueue string, err error) {
	if err := channel.ExchangeDeclare(jobsExchange, "direct", false, false, false, false, nil); err != nil {
		return "", fmt.Errorf("jobs exchange: %w", err)
	}
	if err := channel.ExchangeDeclare(deadLetterExchange, "fanout", false, false, false, false, nil); err != nil {
		return "", fmt.Errorf("dead letter exchange: %w", err)
	}

	bindings := []struct {
		queue      string
		routingKey string
		args       amqp.Table
	}{
		{recognitionQueue, bus.RecognitionTaskKey, nil},
		{aggregatorQueue, bus.AggregatorTaskKey, nil},
		{geminiQueue, bus.GeminiTaskKey, nil},
		{ttsQueue, "tts_task", amqp.Table{
			"x-message-ttl":          ttsMessageTTL.Milliseconds(),
			"x-dead-letter-exchange": deadLetterExchange,
		}},
	}
	for _, binding := range bindings {
		if _, err := channel.QueueDeclare(binding.queue, false, false, false, false, binding.args); err != nil {
			return "", fmt.Errorf("queue %q: %w", binding.queue, err)
		}
		if err := channel.QueueBind(binding.queue, binding.routingKey, jobsExchange, false, nil); err != nil {
			return "", fmt.Errorf("binding %q: %w", binding.queue, err)
		}
	}

	if _, err := channel.QueueDeclare(deadLetterQueue, false, false, false, false, nil); err != nil {
		return "", fmt.Errorf("dead letter queue: %w", err)
	}
	if err := channel.QueueBind(deadLetterQueue, "", deadLetterExchange, false, nil); err != nil {
		return "", fmt.Errorf("dead letter binding: %w", err)
	}

	// Server-named exclusive queue: terminal results for this orchestrator
	// instance only. A fresh name on every reconnect is fine because in-flight
	// correlation entries address sessions, not queues.
	reply, err := channel.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return "", fmt.Errorf("reply queue: %w", err)
	}

	return reply.Name, nil
}

func (c *Client) superviseConnection(ctx context.Context) {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		closeNotifications := conn.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-ctx.Done():
			_ = c.Close()
			return
		case amqpErr := <-closeNotifications:
			if amqpErr == nil { // clean shutdown
				return
			}
			logger.WarnContext(ctx, "broker connection lost, reconnecting",
				"error", amqpErr.Error())
		}

		c.mu.Lock()
		c.conn = nil
		c.channel = nil
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectDelay):
			}

			if err := c.connect(); err != nil {
				logger.WarnContext(ctx, "broker reconnect failed", "error", err)
				continue
			}
			logger.InfoContext(ctx, "broker connection restored")
			break
		}
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if c.conn == nil {
		return nil
	}

	err := c.conn.Close()
	c.conn = nil
	c.channel = nil
	if err != nil {
		return fmt.Errorf("failed to close broker connection: %w", err)
	}
	return nil
}

// ReplyQueue is the reply destination to stamp on published jobs so the final
// stage knows where to send the terminal result.
func (c *Client) ReplyQueue() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replyQueue
}

// Publish sends one message to the pipeline exchange. It never waits for a
// reply; replies arrive later on the reply queue, addressed by correlation id.
func (c *Client) Publish(ctx context.Context, routingKey string, msg bus.Message) error {
	ctx, span := tracer.Start(ctx, "rabbitmq.Publish")
	defer span.End()

	c.mu.Lock()
	channel := c.channel
	c.mu.Unlock()
	if channel == nil {
		return ErrDisconnected
	}

	if err := channel.PublishWithContext(ctx, jobsExchange, routingKey, false, false, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: msg.CorrelationID,
		ReplyTo:       msg.ReplyTo,
		Body:          msg.Body,
	}); err != nil {
		return fmt.Errorf("failed to publish to %q: %w", routingKey, err)
	}
	return nil
}

// ConsumeResults subscribes to the exclusive reply queue terminal results are
// published to.
func (c *Client) ConsumeResults(ctx context.Context, handler bus.Handler) error {
	return c.subscribe(replyQueueSentinel, handler)
}

// ConsumeDeadLetters subscribes to the queue the broker reroutes expired or
// rejected synthesis jobs to.
func (c *Client) ConsumeDeadLetters(ctx context.Context, handler bus.Handler) error {
	return c.subscribe(deadLetterQueue, handler)
}

// ConsumeAggregatorNotifications subscribes to the barrier-poke queue the
// recognition-stage workers publish to after writing their partial result.
func (c *Client) ConsumeAggregatorNotifications(ctx context.Context, handler bus.Handler) error {
	return c.subscribe(aggregatorQueue, handler)
}

func (c *Client) subscribe(queue string, handler bus.Handler) error {
	sub := subscription{queue: queue, handler: handler}

	c.mu.Lock()
	c.subscriptions = append(c.subscriptions, sub)
	channel := c.channel
	c.mu.Unlock()
	if channel == nil {
		return ErrDisconnected
	}

	return c.startConsumer(channel, sub)
}

func (c *Client) startConsumer(channel *amqp.Channel, sub subscription) error {
	queue := sub.queue
	if queue == replyQueueSentinel {
		queue = c.ReplyQueue()
	}

	deliveries, err := channel.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume %q: %w", queue, err)
	}

	go func() {
		// The deliveries channel closes when the underlying connection drops;
		// the reconnect path re-registers this consumer on the new channel.
		for delivery := range deliveries {
			ctx := context.Background()
			msg := bus.NewDelivery(bus.Message{
				Body:          delivery.Body,
				CorrelationID: delivery.CorrelationId,
				ReplyTo:       delivery.ReplyTo,
			}, func() error { return delivery.Ack(false) })

			if err := sub.handler(ctx, msg); err != nil {
				logger.ErrorContext(ctx, "handler failed, leaving message unacknowledged",
					"queue", queue, "error", err)
			}
		}
	}()

	return nil
}
