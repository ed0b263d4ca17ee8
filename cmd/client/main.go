package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/tunesync/client/internal/app"
)

type configVar[T any] struct {
	envKey       string
	flagKey      string
	defaultValue T
}

var (
	userID = configVar[string]{
		envKey:       "TUNESYNC_USER_ID",
		flagKey:      "user-id",
		defaultValue: "",
	}
	userName = configVar[string]{
		envKey:       "TUNESYNC_USER_NAME",
		flagKey:      "user-name",
		defaultValue: "",
	}
	gm = configVar[bool]{
		envKey:       "TUNESYNC_GM",
		flagKey:      "gm",
		defaultValue: false,
	}
	channel = configVar[string]{
		envKey:       "TUNESYNC_CHANNEL",
		flagKey:      "channel",
		defaultValue: "lobby",
	}
	transportKind = configVar[string]{
		envKey:       "TUNESYNC_TRANSPORT",
		flagKey:      "transport",
		defaultValue: app.TransportWebsocket,
	}
	relayURL = configVar[string]{
		envKey:       "TUNESYNC_RELAY_URL",
		flagKey:      "relay-url",
		defaultValue: "ws://localhost:8080",
	}
	natsURL = configVar[string]{
		envKey:       "NATS_URL",
		flagKey:      "nats-url",
		defaultValue: "nats://localhost:4222",
	}
	redisPort = configVar[int]{
		envKey:       "REDIS_PORT",
		flagKey:      "redis-port",
		defaultValue: 6379,
	}
	redisHost = configVar[string]{
		envKey:       "REDIS_HOST",
		flagKey:      "redis-host",
		defaultValue: "localhost",
	}
	redisPassword = configVar[string]{
		envKey:       "REDIS_PASSWORD",
		flagKey:      "redis-password",
		defaultValue: "",
	}
	driftTolerance = configVar[float64]{
		envKey:       "TUNESYNC_DRIFT_TOLERANCE",
		flagKey:      "drift-tolerance",
		defaultValue: 1.5,
	}
	heartbeatFrequency = configVar[int]{
		envKey:       "TUNESYNC_HEARTBEAT_FREQUENCY_MS",
		flagKey:      "heartbeat-frequency-ms",
		defaultValue: 2000,
	}
	autoplayConsent = configVar[bool]{
		envKey:       "TUNESYNC_AUTOPLAY_CONSENT",
		flagKey:      "autoplay-consent",
		defaultValue: false,
	}
	logLevel = configVar[string]{
		envKey:       "TUNESYNC_LOG_LEVEL",
		flagKey:      "log-level",
		defaultValue: "INFO",
	}
)

func loadAppConfig() *app.AppConfig {
	pflag.String(userID.flagKey, userID.defaultValue, "Stable user id, generated when empty")
	pflag.String(userName.flagKey, userName.defaultValue, "Display name")
	pflag.Bool(gm.flagKey, gm.defaultValue, "Grant game-master privileges")
	pflag.String(channel.flagKey, channel.defaultValue, "Broadcast channel to join")
	pflag.String(transportKind.flagKey, transportKind.defaultValue, "Transport: websocket, redis or nats")
	pflag.String(relayURL.flagKey, relayURL.defaultValue, "Websocket relay URL")
	pflag.String(natsURL.flagKey, natsURL.defaultValue, "NATS server URL")
	pflag.Int(redisPort.flagKey, redisPort.defaultValue, "Redis port")
	pflag.String(redisHost.flagKey, redisHost.defaultValue, "Redis host")
	pflag.String(redisPassword.flagKey, redisPassword.defaultValue, "Redis password")
	pflag.Float64(driftTolerance.flagKey, driftTolerance.defaultValue, "Playback drift tolerance in seconds")
	pflag.Int(heartbeatFrequency.flagKey, heartbeatFrequency.defaultValue, "Heartbeat broadcast frequency in milliseconds")
	pflag.Bool(autoplayConsent.flagKey, autoplayConsent.defaultValue, "Allow playback to start without local interaction")
	pflag.String(logLevel.flagKey, logLevel.defaultValue, "Logging level")
	pflag.Parse()

	viper.BindPFlags(pflag.CommandLine)

	viper.BindEnv(userID.flagKey, userID.envKey)
	viper.BindEnv(userName.flagKey, userName.envKey)
	viper.BindEnv(gm.flagKey, gm.envKey)
	viper.BindEnv(channel.flagKey, channel.envKey)
	viper.BindEnv(transportKind.flagKey, transportKind.envKey)
	viper.BindEnv(relayURL.flagKey, relayURL.envKey)
	viper.BindEnv(natsURL.flagKey, natsURL.envKey)
	viper.BindEnv(redisPort.flagKey, redisPort.envKey)
	viper.BindEnv(redisHost.flagKey, redisHost.envKey)
	viper.BindEnv(redisPassword.flagKey, redisPassword.envKey)
	viper.BindEnv(driftTolerance.flagKey, driftTolerance.envKey)
	viper.BindEnv(heartbeatFrequency.flagKey, heartbeatFrequency.envKey)
	viper.BindEnv(autoplayConsent.flagKey, autoplayConsent.envKey)
	viper.BindEnv(logLevel.flagKey, logLevel.envKey)

	viper.SetDefault(userID.flagKey, userID.defaultValue)
	viper.SetDefault(userName.flagKey, userName.defaultValue)
	viper.SetDefault(gm.flagKey, gm.defaultValue)
	viper.SetDefault(channel.flagKey, channel.defaultValue)
	viper.SetDefault(transportKind.flagKey, transportKind.defaultValue)
	viper.SetDefault(relayURL.flagKey, relayURL.defaultValue)
	viper.SetDefault(natsURL.flagKey, natsURL.defaultValue)
	viper.SetDefault(redisPort.flagKey, redisPort.defaultValue)
	viper.SetDefault(redisHost.flagKey, redisHost.defaultValue)
	viper.SetDefault(redisPassword.flagKey, redisPassword.defaultValue)
	viper.SetDefault(driftTolerance.flagKey, driftTolerance.defaultValue)
	viper.SetDefault(heartbeatFrequency.flagKey, heartbeatFrequency.defaultValue)
	viper.SetDefault(autoplayConsent.flagKey, autoplayConsent.defaultValue)
	viper.SetDefault(logLevel.flagKey, logLevel.defaultValue)

	config := &app.AppConfig{
		UserID:             viper.GetString(userID.flagKey),
		UserName:           viper.GetString(userName.flagKey),
		GM:                 viper.GetBool(gm.flagKey),
		Channel:            viper.GetString(channel.flagKey),
		Transport:          viper.GetString(transportKind.flagKey),
		RelayURL:           viper.GetString(relayURL.flagKey),
		NatsURL:            viper.GetString(natsURL.flagKey),
		RedisPort:          viper.GetInt(redisPort.flagKey),
		RedisHost:          viper.GetString(redisHost.flagKey),
		RedisPassword:      viper.GetString(redisPassword.flagKey),
		DriftTolerance:     viper.GetFloat64(driftTolerance.flagKey),
		HeartbeatFrequency: viper.GetInt(heartbeatFrequency.flagKey),
		AutoplayConsent:    viper.GetBool(autoplayConsent.flagKey),
		LogLevel:           viper.GetString(logLevel.flagKey),
	}

	return config
}

func main() {
	ctx := context.Background()

	appConfig := loadAppConfig()
	if err := appConfig.Validate(); err != nil {
		log.Fatal(err)
	}

	jsonConfig, _ := json.MarshalIndent(appConfig, "", "  ")
	fmt.Printf("starting client with config: %s\n", jsonConfig)

	log.Fatal(app.Run(ctx, appConfig))
}
