// Package pubsub connects the engine to the bell sensor's message broker.
//
// A Bus publishes the claimed notification and delivers bell and status
// messages to handlers. Two drivers exist: MQTT, the sensor's native broker,
// and Redis PUBLISH/SUBSCRIBE.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/leandrotoledo/rang-the-bell-bot/pkg/api"
)

// Default topics.
const (
	DefaultBellTopic    = api.DefaultBellTopic
	DefaultClaimedTopic = api.DefaultClaimedTopic
	DefaultStatusTopic  = api.DefaultStatusTopic
)

// Driver names accepted by Open.
const (
	DriverMQTT  = "mqtt"
	DriverRedis = "redis"
)

// ErrClosed is returned by operations on a closed Bus.
var ErrClosed = errors.New("pubsub: bus closed")

// Handler receives one message. It runs on a driver goroutine and should not
// block for long.
type Handler func(ctx context.Context, topic string, payload []byte)

// Bus is a topic-based publish/subscribe connection.
type Bus interface {
	api.Notifier

	// Subscribe delivers messages on topic to h until ctx is done or the Bus
	// is closed. It returns once the subscription is active.
	Subscribe(ctx context.Context, topic string, h Handler) error

	Close() error
}

// Options selects and configures a driver.
type Options struct {
	Driver string

	// MQTT
	Broker   string
	ClientID string
	Username string
	Password string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Open connects the driver named in opts.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (Bus, error) {
	switch strings.ToLower(opts.Driver) {
	case DriverMQTT, "":
		return NewMQTTBus(ctx, MQTTOptions{
			Broker:   opts.Broker,
			ClientID: opts.ClientID,
			Username: opts.Username,
			Password: opts.Password,
		}, logger)
	case DriverRedis:
		return NewRedisBus(ctx, RedisOptions{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
		}, logger)
	default:
		return nil, fmt.Errorf("pubsub: unknown driver %q", opts.Driver)
	}
}

// BellHandler calls ring for every message, ignoring the payload.
func BellHandler(ring func(ctx context.Context) error, logger *slog.Logger) Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, topic string, payload []byte) {
		logger.InfoContext(ctx, "bell_rang", slog.String("topic", topic), slog.String("payload", string(payload)))
		if err := ring(ctx); err != nil {
			logger.ErrorContext(ctx, "bell_enqueue_failed", slog.Any("error", err))
		}
	}
}

// StatusHandler logs the sensor's online/offline announcements.
func StatusHandler(logger *slog.Logger) Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, topic string, payload []byte) {
		status := strings.ToLower(strings.TrimSpace(string(payload)))
		level := slog.LevelInfo
		if status != "online" {
			level = slog.LevelWarn
		}
		logger.Log(ctx, level, "bell_status", slog.String("status", status))
	}
}
