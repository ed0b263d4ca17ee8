// Package websocket implements the broadcast transport against a relay
// server that echoes every frame to all connections on a channel,
// including the sender.
package websocket

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tunesync/client/internal/transport"
)

const (
	reconnectBaseDelay = time.Second
	reconnectMaxDelay  = 30 * time.Second
	writeTimeout       = 10 * time.Second
)

type Transport struct {
	relayURL string
	logger   *slog.Logger
	// OnStatusChange is invoked with the connection liveness on connect,
	// disconnect and every reconnect attempt outcome.
	onStatusChange func(connected bool)

	mu     sync.Mutex
	conns  map[string]*channelConn
	closed bool
}

type channelConn struct {
	channel string
	t       *Transport

	mu      sync.Mutex
	conn    *websocket.Conn
	subs    map[int]func([]byte)
	nextID  int
	closing bool
}

func NewTransport(relayURL string, onStatusChange func(connected bool), logger *slog.Logger) *Transport {
	if onStatusChange == nil {
		onStatusChange = func(bool) {}
	}

	return &Transport{
		relayURL:       relayURL,
		logger:         logger,
		onStatusChange: onStatusChange,
		conns:          make(map[string]*channelConn),
	}
}

func (t *Transport) Publish(ctx context.Context, channel string, payload []byte) error {
	cc, err := t.getChannelConn(ctx, channel)
	if err != nil {
		return err
	}

	return cc.write(payload)
}

func (t *Transport) Subscribe(ctx context.Context, channel string, fn func([]byte)) (func(), error) {
	cc, err := t.getChannelConn(ctx, channel)
	if err != nil {
		return nil, err
	}

	cc.mu.Lock()
	id := cc.nextID
	cc.nextID++
	cc.subs[id] = fn
	cc.mu.Unlock()

	return func() {
		cc.mu.Lock()
		defer cc.mu.Unlock()

		delete(cc.subs, id)
	}, nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	for _, cc := range t.conns {
		cc.close()
	}
	t.conns = make(map[string]*channelConn)

	return nil
}

func (t *Transport) getChannelConn(ctx context.Context, channel string) (*channelConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, transport.ErrClosed
	}

	if cc, ok := t.conns[channel]; ok {
		return cc, nil
	}

	cc := &channelConn{
		channel: channel,
		t:       t,
		subs:    make(map[int]func([]byte)),
	}
	if err := cc.dial(ctx); err != nil {
		return nil, err
	}

	t.conns[channel] = cc
	go cc.readPump()

	return cc, nil
}

func (c *channelConn) endpoint() string {
	return fmt.Sprintf("%s/ws/%s", c.t.relayURL, c.channel)
}

func (c *channelConn) dial(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.endpoint(), nil)
	if err != nil {
		return fmt.Errorf("failed to dial relay: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.t.onStatusChange(true)

	return nil
}

func (c *channelConn) write(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return transport.ErrClosed
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("failed to write to relay: %w", err)
	}

	return nil
}

func (c *channelConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closing = true
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *channelConn) readPump() {
	for {
		c.mu.Lock()
		conn := c.conn
		closing := c.closing
		c.mu.Unlock()

		if closing {
			return
		}
		if conn == nil {
			if !c.reconnect() {
				return
			}
			continue
		}

		_, payload, err := conn.ReadMessage()
		if err != nil {
			c.t.logger.Info("relay read failed", "channel", c.channel, "error", err)
			c.t.onStatusChange(false)

			c.mu.Lock()
			if c.conn != nil {
				c.conn.Close()
				c.conn = nil
			}
			c.mu.Unlock()
			continue
		}

		c.mu.Lock()
		fns := make([]func([]byte), 0, len(c.subs))
		for _, fn := range c.subs {
			fns = append(fns, fn)
		}
		c.mu.Unlock()

		for _, fn := range fns {
			fn(payload)
		}
	}
}

// reconnect retries dialing with capped exponential backoff until it
// succeeds or the connection is closed for good.
func (c *channelConn) reconnect() bool {
	delay := reconnectBaseDelay
	for {
		c.mu.Lock()
		closing := c.closing
		c.mu.Unlock()
		if closing {
			return false
		}

		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := c.dial(ctx)
		cancel()
		if err == nil {
			return true
		}

		c.t.logger.Info("relay reconnect failed", "channel", c.channel, "error", err)
		time.Sleep(delay)
		delay *= 2
		if delay > reconnectMaxDelay {
			delay = reconnectMaxDelay
		}
	}
}
