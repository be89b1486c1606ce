package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-supervisor/internal/infrastructure/config"
)

// Client is one supervisor's connection to the broker.
//
// It owns the supervisor's status topic: the broker publishes an offline
// last will for it, and the latest retained status is republished after every
// reconnect so subscribers never see a stale "offline" while the supervisor
// is alive.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Subscriptions are restored on reconnection.
type Client struct {
	client pahomqtt.Client
	name   string
	qos    byte

	statusTopic  string
	eventsTopic  string
	commandTopic string

	// mu guards connected, lastStatus and logger.
	mu         sync.RWMutex
	connected  bool
	lastStatus []byte
	logger     Logger

	subMu         sync.Mutex
	subscriptions map[string]subscription
}

// Logger receives connection and handler problems.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Message is one message received from the broker.
type Message struct {
	Topic   string
	Payload []byte

	// Retained is set when the broker replayed a stored message on
	// subscribe rather than forwarding a live publish.
	Retained bool
}

// MessageHandler processes a received message. Handlers run on paho's
// goroutines and must not block; a returned error is logged as a warning.
type MessageHandler func(msg Message) error

type subscription struct {
	qos     byte
	handler MessageHandler
}

// Connect opens the broker connection for the supervisor called name.
//
// The last will marks graylogic/supervisor/{name}/status offline if the
// process dies without closing the client.
//
// Parameters:
//   - cfg: Broker address, credentials, QoS and reconnect policy
//   - name: Supervisor name used in every topic
//
// Returns:
//   - *Client: Connected client
//   - error: ErrConnectionFailed if name is empty or the broker is unreachable
func Connect(cfg config.MQTTConfig, name string) (*Client, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: supervisor name is required", ErrConnectionFailed)
	}

	c := newClient(name, byte(cfg.QoS))
	opts := buildClientOptions(cfg)
	configureLWT(opts, name)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// onConnect may still be pending; Connect's caller sees a connected client.
	c.setConnected(true)
	return c, nil
}

// newClient prepares an unconnected client with its topics resolved.
func newClient(name string, qos byte) *Client {
	topics := Topics{}
	return &Client{
		name:          name,
		qos:           qos,
		statusTopic:   topics.Status(name),
		eventsTopic:   topics.Events(name),
		commandTopic:  topics.Command(name),
		subscriptions: make(map[string]subscription),
	}
}

// onConnect restores subscriptions and the retained status after every
// (re)connect.
func (c *Client) onConnect(pc pahomqtt.Client) {
	c.setConnected(true)

	c.subMu.Lock()
	for topic, sub := range c.subscriptions {
		pc.Subscribe(topic, sub.qos, c.deliver(sub.handler))
	}
	c.subMu.Unlock()

	c.mu.RLock()
	status := c.lastStatus
	c.mu.RUnlock()
	if status != nil {
		pc.Publish(c.statusTopic, c.qos, true, status)
	}
}

func (c *Client) onConnectionLost(_ pahomqtt.Client, err error) {
	c.setConnected(false)
	if logger := c.getLogger(); logger != nil {
		logger.Warn("MQTT connection lost", "supervisor", c.name, "error", err)
	}
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

// Close replaces the retained status with a graceful offline marker and
// disconnects.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		token := c.client.Publish(c.statusTopic, c.qos, true, buildOfflinePayload(c.name, reasonGraceful))
		token.WaitTimeout(defaultPublishTimeout)
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
	c.setConnected(false)
	return nil
}

// HealthCheck reports ErrNotConnected while the broker is unreachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the last known connection state.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.client != nil && c.client.IsConnected()
}

// SetLogger sets a logger for connection and handler problems.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logger
}

// deliver adapts handler to paho, logging returned errors and recovering
// panics.
func (c *Client) deliver(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, pm pahomqtt.Message) {
		msg := Message{Topic: pm.Topic(), Payload: pm.Payload(), Retained: pm.Retained()}

		defer func() {
			if r := recover(); r != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("MQTT handler panic recovered", "topic", msg.Topic, "panic", r)
				}
			}
		}()

		if err := handler(msg); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT message rejected",
					"topic", msg.Topic,
					"retained", msg.Retained,
					"error", err,
				)
			}
		}
	}
}
