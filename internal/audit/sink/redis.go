// Package sink holds audit.Sink implementations that broadcast ledger audit
// entries to external brokers.
package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"zynx/internal/audit"
)

// redisPublisher is the subset of the go-redis client used by RedisSink.
type redisPublisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisSink publishes audit entries as JSON on a Redis pub/sub channel so
// realtime consumers (dashboards, websocket gateways) can follow the ledger.
type RedisSink struct {
	client  redisPublisher
	channel string
}

// NewRedisSink returns a sink publishing to channel.
func NewRedisSink(client redisPublisher, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel}
}

func (s *RedisSink) Publish(ctx context.Context, entry audit.Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", s.channel, err)
	}
	return nil
}

var _ audit.Sink = (*RedisSink)(nil)
