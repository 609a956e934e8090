// Package redis implements the shared aggregation-record store on a Redis
// hash per job. Upstream workers write their partial fields into the same
// hashes directly; this client only ever sees field names and string values.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRecordTTL bounds the lifetime of an aggregation record. A job whose
// second partial result never arrives is reclaimed by this expiry rather than
// by any active timeout in the orchestrator.
const DefaultRecordTTL = 5 * time.Minute

type Client struct {
	client    *redis.Client
	recordTTL time.Duration
}

type ClientOption func(*Client)

func WithRecordTTL(ttl time.Duration) ClientOption {
	return func(c *Client) { c.recordTTL = ttl }
}

// NewClient parses a redis:// URL, pings the server, and returns a client. An
// unreachable store at startup is fatal to the caller.
func NewClient(ctx context.Context, url string, opts ...ClientOption) (*Client, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := &Client{client: redis.NewClient(redisOpts), recordTTL: DefaultRecordTTL}
	for _, opt := range opts {
		opt(client)
	}

	if err := client.client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func recordKey(correlationID string) string {
	return "job:" + correlationID
}

// SetField writes one named field of a job's aggregation record. The record's
// TTL is applied on the first write and left untouched afterwards, so the
// bound runs from the moment the record comes into existence.
func (c *Client) SetField(ctx context.Context, correlationID, field, value string) error {
	key := recordKey(correlationID)
	if err := c.client.HSet(ctx, key, field, value).Err(); err != nil {
		return fmt.Errorf("failed to write field %q: %w", field, err)
	}
	if err := c.client.ExpireNX(ctx, key, c.recordTTL).Err(); err != nil {
		return fmt.Errorf("failed to set record expiry: %w", err)
	}
	return nil
}

// Fields reads the full field set of a job's aggregation record. A missing or
// already-consumed record reads as an empty map, not an error.
func (c *Client) Fields(ctx context.Context, correlationID string) (map[string]string, error) {
	fields, err := c.client.HGetAll(ctx, recordKey(correlationID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read aggregation record: %w", err)
	}
	return fields, nil
}

// Delete consumes a job's aggregation record. Deleting an absent record is a
// no-op, which is what makes the barrier's merge idempotent.
func (c *Client) Delete(ctx context.Context, correlationID string) error {
	if err := c.client.Del(ctx, recordKey(correlationID)).Err(); err != nil {
		return fmt.Errorf("failed to delete aggregation record: %w", err)
	}
	return nil
}
