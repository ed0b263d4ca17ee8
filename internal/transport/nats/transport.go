// Package nats implements the broadcast transport on NATS subjects.
package nats

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/tunesync/client/internal/transport"
)

type Transport struct {
	nc     *nats.Conn
	logger *slog.Logger
}

func NewTransport(nc *nats.Conn, logger *slog.Logger) *Transport {
	return &Transport{
		nc:     nc,
		logger: logger,
	}
}

func (t *Transport) getSubject(channel string) string {
	return "tunesync.channel." + channel
}

func (t *Transport) Publish(_ context.Context, channel string, payload []byte) error {
	if t.nc.IsClosed() {
		return transport.ErrClosed
	}

	if err := t.nc.Publish(t.getSubject(channel), payload); err != nil {
		return fmt.Errorf("failed to publish to subject: %w", err)
	}

	return nil
}

func (t *Transport) Subscribe(_ context.Context, channel string, fn func([]byte)) (func(), error) {
	if t.nc.IsClosed() {
		return nil, transport.ErrClosed
	}

	sub, err := t.nc.Subscribe(t.getSubject(channel), func(msg *nats.Msg) {
		fn(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to subject: %w", err)
	}

	return func() {
		if err := sub.Unsubscribe(); err != nil {
			t.logger.Info("failed to unsubscribe", "error", err)
		}
	}, nil
}

func (t *Transport) Close() error {
	t.nc.Close()
	return nil
}
