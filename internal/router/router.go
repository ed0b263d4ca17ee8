// Package router dispatches protocol messages by type. It stamps and
// broadcasts outbound envelopes, filters self-originated and malformed
// inbound frames, and isolates handler failures so one bad message cannot
// stall processing of the next.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tunesync/client/internal/domain"
	"github.com/tunesync/client/internal/state"
	"github.com/tunesync/client/internal/transport"
	"github.com/tunesync/client/pkg/validator"
)

type HandlerFunc func(ctx context.Context, msg *domain.Message)

// fallbackFrame wraps the envelope for the secondary channel, used when the
// primary channel is unavailable.
type fallbackFrame struct {
	Envelope *domain.Message `json:"envelope"`
}

type Config struct {
	Channel         string
	FallbackChannel string
}

type Router struct {
	transport transport.BroadcastTransport
	store     *state.Store
	validate  *validator.Validator
	logger    *slog.Logger
	cfg       Config

	mu           sync.RWMutex
	handlers     map[domain.MessageType]HandlerFunc
	unsubscribes []func()

	now func() time.Time
}

func New(tr transport.BroadcastTransport, store *state.Store, cfg Config, logger *slog.Logger) *Router {
	if cfg.FallbackChannel == "" {
		cfg.FallbackChannel = cfg.Channel + ":fallback"
	}

	return &Router{
		transport: tr,
		store:     store,
		validate:  validator.New(),
		logger:    logger,
		cfg:       cfg,
		handlers:  make(map[domain.MessageType]HandlerFunc),
		now:       time.Now,
	}
}

// Handle registers the handler for a message type, replacing any previous one.
func (r *Router) Handle(t domain.MessageType, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[t] = fn
}

func (r *Router) Unhandle(t domain.MessageType) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.handlers, t)
}

// Start subscribes to the primary and fallback channels.
func (r *Router) Start(ctx context.Context) error {
	primary, err := r.transport.Subscribe(ctx, r.cfg.Channel, func(payload []byte) {
		r.receive(payload, false)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to primary channel: %w", err)
	}

	fallback, err := r.transport.Subscribe(ctx, r.cfg.FallbackChannel, func(payload []byte) {
		r.receive(payload, true)
	})
	if err != nil {
		primary()
		return fmt.Errorf("failed to subscribe to fallback channel: %w", err)
	}

	r.mu.Lock()
	r.unsubscribes = append(r.unsubscribes, primary, fallback)
	r.mu.Unlock()

	return nil
}

func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, unsubscribe := range r.unsubscribes {
		unsubscribe()
	}
	r.unsubscribes = nil
}

// Send broadcasts a message of the given type, stamping sender and
// timestamp. Sending is fire-and-forget: on primary-channel failure the
// envelope is retried on the fallback channel, and total failure is logged
// and dropped.
func (r *Router) Send(ctx context.Context, t domain.MessageType, data any) error {
	msg := domain.Message{
		Type:      t,
		UserID:    r.store.LocalUserID(),
		Timestamp: r.now().UnixMilli(),
	}

	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal message data: %w", err)
		}
		msg.Data = raw
	}

	payload, err := json.Marshal(&msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := r.transport.Publish(ctx, r.cfg.Channel, payload); err != nil {
		r.logger.InfoContext(ctx, "primary channel publish failed, falling back", "type", t, "error", err)

		wrapped, err := json.Marshal(&fallbackFrame{Envelope: &msg})
		if err != nil {
			return fmt.Errorf("failed to marshal fallback frame: %w", err)
		}

		if err := r.transport.Publish(ctx, r.cfg.FallbackChannel, wrapped); err != nil {
			r.logger.ErrorContext(ctx, "message dropped, all channels failed", "type", t, "error", err)
		}
	}

	return nil
}

func (r *Router) receive(payload []byte, wrapped bool) {
	var msg domain.Message
	if wrapped {
		var frame fallbackFrame
		if err := json.Unmarshal(payload, &frame); err != nil || frame.Envelope == nil {
			r.logger.Debug("discarding malformed fallback frame", "error", err)
			return
		}
		msg = *frame.Envelope
	} else if err := json.Unmarshal(payload, &msg); err != nil {
		r.logger.Debug("discarding malformed message", "error", err)
		return
	}

	if fieldErrors, ok := r.validate.Validate(&msg); !ok {
		r.logger.Debug("discarding invalid message", "errors", fieldErrors)
		return
	}

	// self-echo suppression: some transports broadcast to the sender too
	if msg.UserID == r.store.LocalUserID() {
		return
	}

	r.touchSender(&msg)

	r.mu.RLock()
	handler, ok := r.handlers[msg.Type]
	r.mu.RUnlock()
	if !ok {
		r.logger.Debug("no handler for message type", "type", msg.Type)
		return
	}

	r.dispatch(handler, &msg)
}

// dispatch isolates handler panics so a single bad message cannot crash
// processing for subsequent ones.
func (r *Router) dispatch(handler HandlerFunc, msg *domain.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("message handler panicked", "type", msg.Type, "panic", rec)
		}
	}()

	handler(context.Background(), msg)
}

// touchSender bumps the sender member's last activity, regardless of whether
// a handler is registered for the message type.
func (r *Router) touchSender(msg *domain.Message) {
	st := r.store.GetState()
	for i := range st.Session.Members {
		if st.Session.Members[i].UserID == msg.UserID {
			st.Session.Members[i].LastActivity = r.now()
			st.Session.Members[i].IsActive = true
			r.store.UpdateState(state.Partial{Session: &st.Session})
			return
		}
	}
}
