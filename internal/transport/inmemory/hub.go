// Package inmemory provides a loopback broadcast hub. Frames are fanned out
// to every subscriber of the channel, including the publisher, which mirrors
// relay configurations that echo to the sender.
package inmemory

import (
	"context"
	"sync"

	"github.com/tunesync/client/internal/transport"
)

type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[int]func([]byte)
	nextID int
	closed bool
}

func NewHub() *Hub {
	return &Hub{
		subs: make(map[string]map[int]func([]byte)),
	}
}

func (h *Hub) Publish(_ context.Context, channel string, payload []byte) error {
	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return transport.ErrClosed
	}

	fns := make([]func([]byte), 0, len(h.subs[channel]))
	for _, fn := range h.subs[channel] {
		fns = append(fns, fn)
	}
	h.mu.RUnlock()

	frame := append([]byte(nil), payload...)
	for _, fn := range fns {
		fn(frame)
	}

	return nil
}

func (h *Hub) Subscribe(_ context.Context, channel string, fn func([]byte)) (func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, transport.ErrClosed
	}

	if h.subs[channel] == nil {
		h.subs[channel] = make(map[int]func([]byte))
	}

	id := h.nextID
	h.nextID++
	h.subs[channel][id] = fn

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		delete(h.subs[channel], id)
	}, nil
}

func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	h.subs = make(map[string]map[int]func([]byte))

	return nil
}
