package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tunesync/client/internal/heartbeat"
	"github.com/tunesync/client/internal/playback"
	"github.com/tunesync/client/internal/queue"
	"github.com/tunesync/client/internal/router"
	"github.com/tunesync/client/internal/session"
	"github.com/tunesync/client/internal/settings"
	"github.com/tunesync/client/internal/state"
	"github.com/tunesync/client/internal/transport"
	"github.com/tunesync/client/pkg/scheduler"
)

type ClientConfig struct {
	Channel            string
	DriftTolerance     float64
	HeartbeatFrequency time.Duration
	AutoplayConsent    bool
	Heartbeat          heartbeat.Config
	Playback           playback.Config
}

type Deps struct {
	Transport transport.BroadcastTransport
	Surface   playback.Surface
	Settings  settings.Store
	Identity  session.Identity
	Logger    *slog.Logger
}

// Client wires the full protocol stack around a single shared state store.
// All mutation goes through the store; services observe each other only
// through it and through broadcast messages.
type Client struct {
	Store     *state.Store
	Router    *router.Router
	Session   *session.Service
	Queue     *queue.Service
	Playback  *playback.Dispatcher
	Heartbeat *heartbeat.Service

	cfg    *ClientConfig
	sched  *scheduler.Scheduler
	logger *slog.Logger
}

func NewClient(cfg *ClientConfig, deps *Deps) *Client {
	store := state.New(deps.Identity.UserID(), deps.Logger)
	sched := scheduler.New(deps.Logger)

	rtr := router.New(deps.Transport, store, router.Config{
		Channel: cfg.Channel,
	}, deps.Logger)

	sessionService := session.NewService(store, rtr, sched, deps.Identity, deps.Logger)
	queueService := queue.NewService(store, rtr, deps.Settings, deps.Identity, deps.Logger)
	dispatcher := playback.NewDispatcher(store, rtr, deps.Surface, deps.Settings, sched, cfg.Playback, deps.Logger)
	hbCfg := cfg.Heartbeat
	if cfg.HeartbeatFrequency > 0 {
		hbCfg.Frequency = cfg.HeartbeatFrequency
	}
	heartbeatService := heartbeat.NewService(store, rtr, dispatcher, sched, hbCfg, deps.Logger)

	c := &Client{
		Store:     store,
		Router:    rtr,
		Session:   sessionService,
		Queue:     queueService,
		Playback:  dispatcher,
		Heartbeat: heartbeatService,
		cfg:       cfg,
		sched:     sched,
		logger:    deps.Logger,
	}

	dispatcher.SetAutoSkip(c.autoSkip)

	return c
}

// Start connects the router, registers every handler, restores persisted
// preferences and announces the local user to the channel.
func (c *Client) Start(ctx context.Context) error {
	c.applyPlayerConfig()

	if err := c.Router.Start(ctx); err != nil {
		return fmt.Errorf("failed to start router: %w", err)
	}

	c.Session.Register()
	c.Queue.Register()
	c.Playback.Register()
	c.Heartbeat.Start()

	c.Playback.LoadPreferences(ctx)
	if err := c.Queue.LoadCatalog(ctx); err != nil {
		c.logger.InfoContext(ctx, "failed to load saved queue catalog", "error", err)
	}

	if err := c.Session.JoinSession(ctx); err != nil {
		return fmt.Errorf("failed to join session: %w", err)
	}

	return nil
}

func (c *Client) Close(ctx context.Context) {
	if err := c.Session.LeaveSession(ctx); err != nil {
		c.logger.InfoContext(ctx, "failed to announce leave", "error", err)
	}

	c.Heartbeat.Stop()
	c.sched.Stop()
	c.Router.Close()
	c.Store.Close()
}

func (c *Client) autoSkip() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	item, err := c.Queue.NextVideo(ctx)
	if err != nil {
		c.logger.InfoContext(ctx, "failed to advance queue", "error", err)
		return
	}

	if err := c.Playback.LoadVideo(ctx, item.VideoID, item.Title, 0, true); err != nil {
		c.logger.InfoContext(ctx, "failed to load next video", "error", err)
	}
}

func (c *Client) applyPlayerConfig() {
	player := c.Store.GetState().Player
	if c.cfg.DriftTolerance > 0 {
		player.DriftTolerance = c.cfg.DriftTolerance
	}
	if c.cfg.HeartbeatFrequency > 0 {
		player.HeartbeatFrequency = c.cfg.HeartbeatFrequency
	}
	player.AutoplayConsent = c.cfg.AutoplayConsent
	c.Store.UpdateState(state.Partial{Player: &player})
}
