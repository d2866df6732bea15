package pubsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTOptions configures an MQTT connection.
type MQTTOptions struct {
	// Broker is the broker URL, e.g. tcp://localhost:1883. A bare host gets
	// the tcp scheme and port 1883.
	Broker   string
	ClientID string
	Username string
	Password string

	// QoS for publishes and subscriptions. Defaults to 0.
	QoS byte

	// Timeout bounds connect, publish and subscribe round trips. Defaults to 10s.
	Timeout time.Duration
}

// MQTTBus is a Bus over an MQTT broker. Subscriptions are restored when the
// client reconnects.
type MQTTBus struct {
	client  mqtt.Client
	qos     byte
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	subs   map[string]mqtt.MessageHandler
	closed bool
}

var _ Bus = (*MQTTBus)(nil)

// NewMQTTBus connects to opts.Broker.
func NewMQTTBus(ctx context.Context, opts MQTTOptions, logger *slog.Logger) (*MQTTBus, error) {
	if opts.Broker == "" {
		return nil, errors.New("pubsub: mqtt broker is required")
	}
	if opts.ClientID == "" {
		opts.ClientID = fmt.Sprintf("bellbot-%d", time.Now().UnixNano())
	}

	b := newMQTTBus(nil, opts, logger)

	co := mqtt.NewClientOptions().
		AddBroker(brokerURL(opts.Broker)).
		SetClientID(opts.ClientID).
		SetUsername(opts.Username).
		SetPassword(opts.Password).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetConnectTimeout(b.timeout).
		// Handlers may block on the task queue.
		SetOrderMatters(false).
		SetOnConnectHandler(b.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			b.logger.Warn("mqtt_connection_lost", slog.Any("error", err))
		})
	b.client = mqtt.NewClient(co)

	if err := b.wait(ctx, b.client.Connect()); err != nil {
		b.client.Disconnect(0)
		return nil, fmt.Errorf("pubsub: mqtt connect %s: %w", opts.Broker, err)
	}
	return b, nil
}

func newMQTTBus(client mqtt.Client, opts MQTTOptions, logger *slog.Logger) *MQTTBus {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &MQTTBus{
		client:  client,
		qos:     opts.QoS,
		timeout: opts.Timeout,
		logger:  logger,
		subs:    make(map[string]mqtt.MessageHandler),
	}
}

func (b *MQTTBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if b.isClosed() {
		return ErrClosed
	}
	b.logger.DebugContext(ctx, "mqtt_publish", slog.String("topic", topic), slog.String("payload", string(payload)))
	if err := b.wait(ctx, b.client.Publish(topic, b.qos, false, payload)); err != nil {
		return fmt.Errorf("pubsub: mqtt publish %s: %w", topic, err)
	}
	return nil
}

func (b *MQTTBus) Subscribe(ctx context.Context, topic string, h Handler) error {
	cb := func(_ mqtt.Client, m mqtt.Message) {
		h(ctx, m.Topic(), m.Payload())
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.subs[topic] = cb
	b.mu.Unlock()

	if err := b.wait(ctx, b.client.Subscribe(topic, b.qos, cb)); err != nil {
		b.forget(topic)
		return fmt.Errorf("pubsub: mqtt subscribe %s: %w", topic, err)
	}
	b.logger.InfoContext(ctx, "mqtt_subscribed", slog.String("topic", topic))

	go func() {
		<-ctx.Done()
		if b.forget(topic) {
			b.client.Unsubscribe(topic)
		}
	}()
	return nil
}

func (b *MQTTBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.subs = map[string]mqtt.MessageHandler{}
	b.mu.Unlock()

	b.client.Disconnect(250)
	return nil
}

// onConnect runs on every (re)connect.
func (b *MQTTBus) onConnect(c mqtt.Client) {
	b.mu.Lock()
	subs := make(map[string]mqtt.MessageHandler, len(b.subs))
	for topic, cb := range b.subs {
		subs[topic] = cb
	}
	b.mu.Unlock()

	b.logger.Info("mqtt_connected", slog.Int("subscriptions", len(subs)))
	for topic, cb := range subs {
		// Waiting on a token here would deadlock the client's connect path.
		c.Subscribe(topic, b.qos, cb)
	}
}

// forget drops topic and reports whether it was subscribed.
func (b *MQTTBus) forget(topic string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.subs[topic]
	delete(b.subs, topic)
	return ok && !b.closed
}

func (b *MQTTBus) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *MQTTBus) wait(ctx context.Context, tok mqtt.Token) error {
	timer := time.NewTimer(b.timeout)
	defer timer.Stop()
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errors.New("timed out")
	}
}

func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	if _, _, err := net.SplitHostPort(broker); err == nil {
		return "tcp://" + broker
	}
	return "tcp://" + net.JoinHostPort(broker, "1883")
}
