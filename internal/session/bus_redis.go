package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	platformredis "tillsync/internal/platform/redis"
)

// RedisBus fans updates across processes through a redis pub/sub channel,
// for multi-till deployments where several engine processes share one
// storefront network.
type RedisBus struct {
	client  *platformredis.Client
	channel string
	logger  *slog.Logger
}

func NewRedisBus(client *platformredis.Client, channel string, logger *slog.Logger) *RedisBus {
	if channel == "" {
		channel = "tillsync.updates"
	}
	return &RedisBus{client: client, channel: channel, logger: logger}
}

func (b *RedisBus) Publish(ctx context.Context, u Update) error {
	raw, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal session update: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, raw).Err(); err != nil {
		return fmt.Errorf("publish session update: %w", err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, fn func(Update)) (func(), error) {
	pubsub := b.client.Subscribe(ctx, b.channel)
	// Force the subscription onto the wire before returning, so an update
	// published right after Subscribe is not lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe session updates: %w", err)
	}

	go func() {
		for msg := range pubsub.Channel() {
			var u Update
			if err := json.Unmarshal([]byte(msg.Payload), &u); err != nil {
				b.logger.Warn("dropping malformed session update", "error", err)
				continue
			}
			fn(u)
		}
	}()

	return func() { _ = pubsub.Close() }, nil
}

func (b *RedisBus) Close() error { return nil }
