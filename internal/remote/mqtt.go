package remote

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig holds broker settings for the MQTT-backed channel.
type MQTTConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

// MQTTChannel implements Channel over retained MQTT topics. Every store key
// maps to "<prefix>/<path>"; retained QoS-1 publishes give the store its
// last-value-wins snapshot semantics.
type MQTTChannel struct {
	client pahomqtt.Client
	prefix string
	logger *slog.Logger

	mu        sync.Mutex
	closed    bool
	subs      map[string]*mqttSub // topic -> fan-out
	nextSubID uint64
}

type mqttSub struct {
	streams map[uint64]chan []byte
}

// NewMQTTChannel connects to the broker, retrying with exponential backoff.
func NewMQTTChannel(cfg MQTTConfig, logger *slog.Logger) (*MQTTChannel, error) {
	ch := &MQTTChannel{
		prefix: cfg.TopicPrefix,
		logger: logger.With("component", "remote"),
		subs:   make(map[string]*mqttSub),
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			ch.logger.Info("store connected", "broker", cfg.Broker)
			ch.resubscribe()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			ch.logger.Warn("store connection lost", "err", err)
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second
	err := backoff.Retry(func() error {
		token := client.Connect()
		if !token.WaitTimeout(10 * time.Second) {
			return fmt.Errorf("connect timeout")
		}
		return token.Error()
	}, bo)
	if err != nil {
		return nil, fmt.Errorf("connect to store broker: %w", err)
	}

	ch.client = client
	return ch, nil
}

// Subscribe opens a snapshot stream for a store key.
func (c *MQTTChannel) Subscribe(path string) (<-chan []byte, func(), error) {
	topic := c.topic(path)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, nil, ErrClosed
	}
	sub, existing := c.subs[topic]
	if !existing {
		sub = &mqttSub{streams: make(map[uint64]chan []byte)}
		c.subs[topic] = sub
	}
	c.nextSubID++
	id := c.nextSubID
	stream := make(chan []byte, 1)
	sub.streams[id] = stream
	c.mu.Unlock()

	if !existing {
		token := c.client.Subscribe(topic, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
			c.dispatch(topic, msg.Payload())
		})
		if !token.WaitTimeout(10 * time.Second) {
			c.dropStream(topic, id)
			return nil, nil, fmt.Errorf("subscribe %s: timeout", path)
		}
		if err := token.Error(); err != nil {
			c.dropStream(topic, id)
			return nil, nil, fmt.Errorf("subscribe %s: %w", path, err)
		}
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() { c.dropStream(topic, id) })
	}
	return stream, cancel, nil
}

// Write publishes a retained document and waits for the broker ack (or ctx).
func (c *MQTTChannel) Write(ctx context.Context, path string, payload []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	token := c.client.Publish(c.topic(path), 1, true, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("write %s: %w", path, ctx.Err())
	}
}

// Close disconnects from the broker. Idempotent.
func (c *MQTTChannel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.subs = make(map[string]*mqttSub)
	c.mu.Unlock()

	c.client.Disconnect(1000)
	c.logger.Info("store disconnected")
}

func (c *MQTTChannel) topic(path string) string {
	if c.prefix == "" {
		return path
	}
	return c.prefix + "/" + path
}

func (c *MQTTChannel) dispatch(topic string, payload []byte) {
	c.mu.Lock()
	sub, ok := c.subs[topic]
	if !ok {
		c.mu.Unlock()
		return
	}
	streams := make([]chan []byte, 0, len(sub.streams))
	for _, s := range sub.streams {
		streams = append(streams, s)
	}
	c.mu.Unlock()

	for _, s := range streams {
		deliver(s, payload)
	}
}

func (c *MQTTChannel) dropStream(topic string, id uint64) {
	c.mu.Lock()
	sub, ok := c.subs[topic]
	if ok {
		delete(sub.streams, id)
		if len(sub.streams) == 0 {
			delete(c.subs, topic)
		} else {
			ok = false
		}
	}
	closed := c.closed
	c.mu.Unlock()

	if ok && !closed {
		c.client.Unsubscribe(topic)
	}
}

// resubscribe re-establishes broker subscriptions after a reconnect.
func (c *MQTTChannel) resubscribe() {
	c.mu.Lock()
	topics := make([]string, 0, len(c.subs))
	for t := range c.subs {
		topics = append(topics, t)
	}
	c.mu.Unlock()

	for _, topic := range topics {
		topic := topic
		c.client.Subscribe(topic, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
			c.dispatch(topic, msg.Payload())
		})
	}
}
