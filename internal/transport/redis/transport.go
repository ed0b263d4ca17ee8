// Package redis implements the broadcast transport on redis pub/sub.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/tunesync/client/internal/transport"
)

type Transport struct {
	rc     *redis.Client
	logger *slog.Logger

	mu     sync.Mutex
	subs   []*redis.PubSub
	closed bool
}

func NewTransport(rc *redis.Client, logger *slog.Logger) *Transport {
	return &Transport{
		rc:     rc,
		logger: logger,
	}
}

func (t *Transport) getChannelKey(channel string) string {
	return "tunesync:channel:" + channel
}

func (t *Transport) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := t.rc.Publish(ctx, t.getChannelKey(channel), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to channel: %w", err)
	}

	return nil
}

func (t *Transport) Subscribe(ctx context.Context, channel string, fn func([]byte)) (func(), error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, transport.ErrClosed
	}

	pubsub := t.rc.Subscribe(ctx, t.getChannelKey(channel))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to channel: %w", err)
	}

	t.subs = append(t.subs, pubsub)

	go func() {
		for msg := range pubsub.Channel() {
			fn([]byte(msg.Payload))
		}
	}()

	return func() {
		if err := pubsub.Close(); err != nil {
			t.logger.Info("failed to close pubsub", "error", err)
		}
	}, nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	for _, pubsub := range t.subs {
		pubsub.Close()
	}
	t.subs = nil

	return nil
}
