package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig holds configuration for the MQTT broker connection
type MQTTConfig struct {
	Broker         string // e.g. "tcp://localhost:1883" or "ssl://host:8883"
	ClientID       string
	Username       string
	Password       string
	QoS            byte
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	PublishTimeout time.Duration // bounds the wait for a broker acknowledgment
	CleanSession   bool
	Logger         *slog.Logger
}

// DefaultMQTTConfig returns default configuration
func DefaultMQTTConfig() MQTTConfig {
	return MQTTConfig{
		Broker:         "tcp://localhost:1883",
		ClientID:       "streetlightd",
		QoS:            1,
		KeepAlive:      30 * time.Second,
		ConnectTimeout: 10 * time.Second,
		PublishTimeout: 5 * time.Second,
		CleanSession:   false,
	}
}

// MQTTClient is a Client backed by an MQTT broker
type MQTTClient struct {
	config MQTTConfig
	client mqtt.Client
	log    *slog.Logger

	mu   sync.Mutex
	subs map[string]Handler
}

// NewMQTTClient creates a client. Connect must be called before use.
func NewMQTTClient(config MQTTConfig) *MQTTClient {
	c := &MQTTClient{
		config: config,
		log:    loggerOrDefault(config.Logger).With("component", "mqtt"),
		subs:   make(map[string]Handler),
	}

	opts := mqtt.NewClientOptions().
		AddBroker(config.Broker).
		SetClientID(config.ClientID).
		SetCleanSession(config.CleanSession).
		SetKeepAlive(config.KeepAlive).
		SetConnectTimeout(config.ConnectTimeout).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetMaxReconnectInterval(time.Minute).
		SetOrderMatters(false).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			c.log.Warn("connection lost", "error", err)
		}).
		SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
			c.log.Info("reconnecting to broker", "broker", config.Broker)
		})
	if config.Username != "" {
		opts.SetUsername(config.Username)
		opts.SetPassword(config.Password)
	}

	c.client = mqtt.NewClient(opts)
	return c
}

// Connect starts the connection and waits for the first successful connect
// or ctx expiry. Reconnection continues in the background either way.
func (c *MQTTClient) Connect(ctx context.Context) error {
	token := c.client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("failed to connect to %s: %w", c.config.Broker, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to connect to %s: %w", c.config.Broker, ctx.Err())
	}
}

// onConnect restores subscriptions after every (re)connect
func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.log.Info("connected to broker", "broker", c.config.Broker)

	c.mu.Lock()
	subs := make(map[string]Handler, len(c.subs))
	for topic, h := range c.subs {
		subs[topic] = h
	}
	c.mu.Unlock()

	for topic, h := range subs {
		token := client.Subscribe(topic, c.config.QoS, c.messageHandler(h))
		go func(topic string) {
			if !token.WaitTimeout(c.config.ConnectTimeout) {
				c.log.Warn("subscribe not acknowledged", "topic", topic)
				return
			}
			if err := token.Error(); err != nil {
				c.log.Error("subscribe failed", "topic", topic, "error", err)
				return
			}
			c.log.Info("subscribed", "topic", topic)
		}(topic)
	}
}

// Subscribe registers h for topic. The subscription is (re)established on
// every connect.
func (c *MQTTClient) Subscribe(topic string, h Handler) error {
	c.mu.Lock()
	c.subs[topic] = h
	c.mu.Unlock()

	if !c.client.IsConnectionOpen() {
		return nil
	}

	token := c.client.Subscribe(topic, c.config.QoS, c.messageHandler(h))
	if !token.WaitTimeout(c.config.ConnectTimeout) {
		return fmt.Errorf("subscribe to %s: %w", topic, ErrPublishTimeout)
	}
	return token.Error()
}

func (c *MQTTClient) messageHandler(h Handler) mqtt.MessageHandler {
	return func(_ mqtt.Client, m mqtt.Message) {
		deliver(c.log, h, Message{
			Topic:      m.Topic(),
			Payload:    m.Payload(),
			ReceivedAt: time.Now(),
		})
	}
}

// Publish sends payload at the configured QoS. The returned Ack resolves
// when the broker acknowledges the publish, fails, or PublishTimeout elapses.
func (c *MQTTClient) Publish(topic string, payload []byte) *Ack {
	if !c.client.IsConnectionOpen() {
		return Resolved(ErrNotConnected)
	}

	token := c.client.Publish(topic, c.config.QoS, false, payload)
	ack := NewAck()
	go func() {
		if !token.WaitTimeout(c.config.PublishTimeout) {
			ack.Resolve(ErrPublishTimeout)
			return
		}
		ack.Resolve(token.Error())
	}()
	return ack
}

// IsConnected reports whether the broker connection is currently up
func (c *MQTTClient) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// Close disconnects, allowing in-flight work 250ms to complete
func (c *MQTTClient) Close() error {
	c.client.Disconnect(250)
	c.log.Info("disconnected from broker")
	return nil
}
