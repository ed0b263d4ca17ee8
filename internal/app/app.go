package app

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/tunesync/client/internal/playback"
	"github.com/tunesync/client/internal/session"
	"github.com/tunesync/client/internal/settings"
	settingsinmemory "github.com/tunesync/client/internal/settings/inmemory"
	settingsredis "github.com/tunesync/client/internal/settings/redis"
	"github.com/tunesync/client/internal/transport"
	natstransport "github.com/tunesync/client/internal/transport/nats"
	redistransport "github.com/tunesync/client/internal/transport/redis"
	wstransport "github.com/tunesync/client/internal/transport/websocket"
	"github.com/tunesync/client/pkg/ctxlogger"
	"github.com/tunesync/client/pkg/redisclient"
)

const (
	TransportWebsocket = "websocket"
	TransportRedis     = "redis"
	TransportNats      = "nats"
)

type AppConfig struct {
	UserID             string  `json:"user_id"`
	UserName           string  `json:"user_name"`
	GM                 bool    `json:"gm"`
	Channel            string  `json:"channel"`
	Transport          string  `json:"transport"`
	RelayURL           string  `json:"relay_url"`
	NatsURL            string  `json:"nats_url"`
	RedisHost          string  `json:"redis_host"`
	RedisPort          int     `json:"redis_port"`
	RedisPassword      string  `json:"-"`
	DriftTolerance     float64 `json:"drift_tolerance"`
	HeartbeatFrequency int     `json:"heartbeat_frequency_ms"`
	AutoplayConsent    bool    `json:"autoplay_consent"`
	LogLevel           string  `json:"log_level"`
}

func (cfg *AppConfig) Validate() error {
	if cfg.UserName == "" {
		return fmt.Errorf("user name must not be empty")
	}
	if cfg.Channel == "" {
		return fmt.Errorf("channel must not be empty")
	}
	switch cfg.Transport {
	case TransportWebsocket, TransportRedis, TransportNats:
	default:
		return fmt.Errorf("unknown transport: %s", cfg.Transport)
	}
	if cfg.DriftTolerance < 0 {
		return fmt.Errorf("drift tolerance must not be negative")
	}
	if cfg.HeartbeatFrequency < 0 {
		return fmt.Errorf("heartbeat frequency must not be negative")
	}
	return nil
}

func Run(ctx context.Context, cfg *AppConfig) error {
	logLevel := slog.LevelInfo
	if err := logLevel.UnmarshalText([]byte(strings.ToUpper(cfg.LogLevel))); err != nil {
		log.Fatal(err)
	}

	h := ctxlogger.ContextHandler{
		Handler: slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level:     logLevel,
			AddSource: true,
		}),
	}

	logger := slog.New(&h)

	userID := cfg.UserID
	if userID == "" {
		userID = uuid.NewString()
	}
	identity := session.StaticIdentity{ID: userID, Name: cfg.UserName, GM: cfg.GM}

	var tr transport.BroadcastTransport
	var settingsStore settings.Store
	var onStatus func(connected bool)

	switch cfg.Transport {
	case TransportWebsocket:
		tr = wstransport.NewTransport(cfg.RelayURL, func(connected bool) {
			if onStatus != nil {
				onStatus(connected)
			}
		}, logger)
		settingsStore = settingsinmemory.NewRepo()
	case TransportRedis:
		rc, err := redisclient.NewRedisClient(ctx, &redisclient.Config{
			Port:     cfg.RedisPort,
			Host:     cfg.RedisHost,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			return fmt.Errorf("failed to create redis client: %w", err)
		}
		defer rc.Close()

		tr = redistransport.NewTransport(rc, logger)
		settingsStore = settingsredis.NewRepo(rc, userID, 24*14*time.Hour)
	case TransportNats:
		nc, err := nats.Connect(cfg.NatsURL)
		if err != nil {
			return fmt.Errorf("failed to connect to nats: %w", err)
		}
		defer nc.Close()

		tr = natstransport.NewTransport(nc, logger)
		settingsStore = settingsinmemory.NewRepo()
	default:
		return fmt.Errorf("unknown transport: %s", cfg.Transport)
	}
	defer tr.Close()

	surface := playback.NewSimulatedSurface()

	client := NewClient(&ClientConfig{
		Channel:            cfg.Channel,
		DriftTolerance:     cfg.DriftTolerance,
		HeartbeatFrequency: time.Duration(cfg.HeartbeatFrequency) * time.Millisecond,
		AutoplayConsent:    cfg.AutoplayConsent,
	}, &Deps{
		Transport: tr,
		Surface:   surface,
		Settings:  settingsStore,
		Identity:  identity,
		Logger:    logger,
	})
	onStatus = client.Session.SetConnected

	clientCtx, clientStopCtx := context.WithCancel(ctx)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		<-sig

		shutdownCtx, c := context.WithTimeout(clientCtx, 30*time.Second)
		defer c()

		go func() {
			<-shutdownCtx.Done()
			if shutdownCtx.Err() == context.DeadlineExceeded {
				log.Fatal("graceful shutdown timed out.. forcing exit.")
			}
		}()

		client.Close(shutdownCtx)
		clientStopCtx()
	}()

	logger.InfoContext(clientCtx, "starting client", "user_id", userID, "channel", cfg.Channel, "transport", cfg.Transport)
	if err := client.Start(clientCtx); err != nil {
		return err
	}
	client.Playback.OnPlayerReady()

	<-clientCtx.Done()

	return nil
}
