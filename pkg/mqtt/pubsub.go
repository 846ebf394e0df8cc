// Package mqtt streams round records and run reports to MQTT subscribers.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	connTimeout      = 10 * time.Second
	maxReconnectWait = time.Minute
	disconnQuiesce   = 250

	// RoundTopicTemplate carries one JSON round record per completed round of a run.
	RoundTopicTemplate = "cffl/runs/%s/rounds"
	// ReportTopicTemplate carries the final report of a run.
	ReportTopicTemplate = "cffl/runs/%s/report"
	// AllRoundsTopic matches the round topics of every run.
	AllRoundsTopic = "cffl/runs/+/rounds"

	statusTopicTemplate = "cffl/clients/%s/status"
	offlineTemplate     = `{"status":"offline","client_id":"%s"}`
)

var (
	ErrEmptyAddress   = errors.New("empty broker address")
	ErrEmptyClientID  = errors.New("empty client id")
	ErrEmptyTopic     = errors.New("empty topic")
	ErrInvalidQoS     = errors.New("qos must be 0, 1 or 2")
	ErrTimeout        = errors.New("mqtt operation timed out")
	ErrConnect        = errors.New("failed to connect to MQTT broker")
	ErrNotSubscribed  = errors.New("topic is not subscribed")
	ErrAlreadyWatched = errors.New("topic is already subscribed")
)

// Config holds the broker settings. The env tags are read by the daemon.
type Config struct {
	Address  string        `env:"CFFL_MQTT_ADDRESS"`
	QoS      byte          `env:"CFFL_MQTT_QOS"      envDefault:"1"`
	Timeout  time.Duration `env:"CFFL_MQTT_TIMEOUT"  envDefault:"30s"`
	Username string        `env:"CFFL_MQTT_USERNAME"`
	Password string        `env:"CFFL_MQTT_PASSWORD"`
	ClientID string
}

// Handler receives every decoded JSON object published on a subscribed topic.
type Handler func(topic string, msg map[string]any) error

type PubSub interface {
	Publish(ctx context.Context, topic string, msg any) error
	Subscribe(ctx context.Context, topic string, handler Handler) error
	Unsubscribe(ctx context.Context, topic string) error
	Disconnect(ctx context.Context) error
}

type pubsub struct {
	client  mqtt.Client
	qos     byte
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	topics map[string]struct{}
}

// NewPubSub connects to the broker and leaves an offline status message as
// the client's will.
func NewPubSub(cfg Config, logger *slog.Logger) (PubSub, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	client := mqtt.NewClient(clientOptions(cfg, logger))
	if err := wait(context.Background(), client.Connect(), cfg.Timeout); err != nil {
		return nil, errors.Join(ErrConnect, err)
	}

	return newPubSub(client, cfg, logger), nil
}

func newPubSub(client mqtt.Client, cfg Config, logger *slog.Logger) *pubsub {
	return &pubsub{
		client:  client,
		qos:     cfg.QoS,
		timeout: cfg.Timeout,
		logger:  logger,
		topics:  make(map[string]struct{}),
	}
}

func (cfg Config) validate() error {
	switch {
	case cfg.Address == "":
		return ErrEmptyAddress
	case cfg.ClientID == "":
		return ErrEmptyClientID
	case cfg.QoS > 2:
		return fmt.Errorf("%w: got %d", ErrInvalidQoS, cfg.QoS)
	}

	return nil
}

func clientOptions(cfg Config, logger *slog.Logger) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Address).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectTimeout(connTimeout).
		SetMaxReconnectInterval(maxReconnectWait).
		SetWill(fmt.Sprintf(statusTopicTemplate, cfg.ClientID), fmt.Sprintf(offlineTemplate, cfg.ClientID), 0, false)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		logger.Info("MQTT connection established", slog.String("broker", cfg.Address))
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", slog.Any("error", err))
	})
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		logger.Info("MQTT reconnecting", slog.String("client_id", cfg.ClientID))
	})

	return opts
}

func (ps *pubsub) Publish(ctx context.Context, topic string, msg any) error {
	if topic == "" {
		return ErrEmptyTopic
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message for %s: %w", topic, err)
	}

	return wait(ctx, ps.client.Publish(topic, ps.qos, false, data), ps.timeout)
}

func (ps *pubsub) Subscribe(ctx context.Context, topic string, handler Handler) error {
	if topic == "" {
		return ErrEmptyTopic
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()

	if _, ok := ps.topics[topic]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyWatched, topic)
	}
	if err := wait(ctx, ps.client.Subscribe(topic, ps.qos, ps.dispatch(handler)), ps.timeout); err != nil {
		return err
	}
	ps.topics[topic] = struct{}{}

	return nil
}

func (ps *pubsub) Unsubscribe(ctx context.Context, topic string) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if _, ok := ps.topics[topic]; !ok {
		return fmt.Errorf("%w: %s", ErrNotSubscribed, topic)
	}
	if err := wait(ctx, ps.client.Unsubscribe(topic), ps.timeout); err != nil {
		return err
	}
	delete(ps.topics, topic)

	return nil
}

// Disconnect drops every remaining subscription before closing the
// connection. The connection is closed even when unsubscribing fails.
func (ps *pubsub) Disconnect(ctx context.Context) error {
	ps.mu.Lock()
	topics := make([]string, 0, len(ps.topics))
	for topic := range ps.topics {
		topics = append(topics, topic)
	}
	clear(ps.topics)
	ps.mu.Unlock()

	var err error
	if len(topics) > 0 && ps.client.IsConnectionOpen() {
		err = wait(ctx, ps.client.Unsubscribe(topics...), ps.timeout)
	}
	ps.client.Disconnect(disconnQuiesce)

	return err
}

func (ps *pubsub) dispatch(h Handler) mqtt.MessageHandler {
	return func(_ mqtt.Client, m mqtt.Message) {
		defer m.Ack()

		var msg map[string]any
		if err := json.Unmarshal(m.Payload(), &msg); err != nil {
			ps.logger.Warn("failed to unmarshal received message", slog.String("topic", m.Topic()), slog.Any("error", err))

			return
		}
		if err := h(m.Topic(), msg); err != nil {
			ps.logger.Warn("failed to handle MQTT message", slog.String("topic", m.Topic()), slog.Any("error", err))
		}
	}
}

// wait blocks until token completes, ctx is done or timeout elapses. A zero
// timeout waits on ctx alone.
func wait(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-expired:
		return ErrTimeout
	}
}
