// Package transport defines the broadcast channel boundary. Delivery is
// at-least-once, unordered and may duplicate; some backends echo frames back
// to the sender. The protocol layers above are designed to converge under
// all of that.
package transport

import (
	"context"
	"errors"
)

var ErrClosed = errors.New("transport is closed")

// BroadcastTransport carries opaque frames on named channels.
type BroadcastTransport interface {
	// Publish sends payload to every subscriber of channel. No delivery
	// guarantee is given.
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe registers fn for frames on channel and returns an
	// unsubscribe func. fn may be invoked from any goroutine.
	Subscribe(ctx context.Context, channel string, fn func(payload []byte)) (func(), error)
	Close() error
}
