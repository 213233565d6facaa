package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/energy-tariff-bridge/internal/infrastructure/config"
)

// Client wraps paho.mqtt.golang for the meter subscription.
//
// It provides connection management, subscription tracking and an explicit
// Reconnect used by the connection supervisor when paho's own auto-reconnect
// has not recovered the session.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Subscriptions are restored on every (re)connection.
type Client struct {
	cfg config.MQTTConfig

	// client is replaced by Reconnect.
	client   pahomqtt.Client
	clientMu sync.RWMutex

	// subscriptions tracks active subscriptions for re-subscription on reconnect.
	subscriptions map[string]subscription
	subMu         sync.RWMutex

	// connected tracks current connection state.
	connected bool
	connMu    sync.RWMutex

	// Callbacks for connection events (optional, set via SetOnConnect/SetOnDisconnect).
	onConnect    func()
	onDisconnect func(err error)
	callbackMu   sync.RWMutex

	// logger for error/panic logging (optional, set via SetLogger).
	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// subscription holds subscription details for re-subscription on reconnect.
type subscription struct {
	topic   string
	qos     byte
	handler MessageHandler
}

// MessageHandler is the callback signature for received messages.
//
// Handlers run on paho's delivery goroutine and must return quickly;
// the bridge's handler only enqueues.
type MessageHandler func(topic string, payload []byte) error

// newClient prepares a Client without dialling. An empty client ID is
// replaced with a generated one.
func newClient(cfg config.MQTTConfig) *Client {
	if cfg.Broker.ClientID == "" {
		cfg.Broker.ClientID = DefaultClientID()
	}
	c := &Client{
		cfg:           cfg,
		subscriptions: make(map[string]subscription),
	}
	c.client = c.newPahoClient()
	return c
}

// Connect establishes a connection to the MQTT broker.
//
// It performs the following setup:
//  1. Builds connection options from config (broker URL, auth, TLS)
//  2. Configures Last Will and Testament (LWT) on the status topic
//  3. Attempts a single connection, bounded by ctx and defaultConnectTimeout
//  4. Publishes online status (from the connect handler)
//
// A failed attempt returns ErrConnectionFailed; retrying is the caller's job.
func Connect(ctx context.Context, cfg config.MQTTConfig) (*Client, error) {
	c := newClient(cfg)

	if err := dial(ctx, c.client); err != nil {
		// Abort the attempt so it cannot complete after we have given up.
		c.client.Disconnect(0)
		return nil, err
	}

	// The OnConnectHandler runs asynchronously, so mark the state here
	// to make IsConnected() accurate as soon as Connect returns.
	c.setConnected(true)

	return c, nil
}

// newPahoClient builds a paho client whose callbacks feed this Client.
func (c *Client) newPahoClient() pahomqtt.Client {
	opts := buildClientOptions(c.cfg)
	configureLWT(opts, c.cfg.Broker.ClientID)

	opts.SetOnConnectHandler(func(pc pahomqtt.Client) {
		c.handleConnect(pc)
	})
	opts.SetConnectionLostHandler(func(pc pahomqtt.Client, err error) {
		c.handleDisconnect(pc, err)
	})
	opts.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		if logger := c.getLogger(); logger != nil {
			logger.Info("MQTT auto-reconnect in progress")
		}
	})

	return pahomqtt.NewClient(opts)
}

// dial runs one connect attempt on pc.
func dial(ctx context.Context, pc pahomqtt.Client) error {
	token := pc.Connect()

	timer := time.NewTimer(defaultConnectTimeout)
	defer timer.Stop()

	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrConnectionFailed, ctx.Err())
	case <-timer.C:
		return fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}

	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return nil
}

// Reconnect tears down the current session and dials a fresh one.
// Tracked subscriptions are restored by the connect handler.
//
// The fresh client becomes current before it dials, so its connect handler
// is accepted. If the dial fails the attempt is aborted; the client stays
// current but disconnected until the next Reconnect.
func (c *Client) Reconnect(ctx context.Context) error {
	fresh := c.newPahoClient()

	c.clientMu.Lock()
	old := c.client
	c.client = fresh
	c.clientMu.Unlock()
	c.setConnected(false)

	if old != nil {
		old.Disconnect(reconnectDisconnectQuiesce)
	}

	if err := dial(ctx, fresh); err != nil {
		fresh.Disconnect(0)
		return err
	}
	c.setConnected(true)

	if logger := c.getLogger(); logger != nil {
		logger.Info("MQTT session re-established",
			"client_id", c.cfg.Broker.ClientID,
			"subscriptions", c.SubscriptionCount(),
		)
	}
	return nil
}

// paho returns the current paho client.
func (c *Client) paho() pahomqtt.Client {
	c.clientMu.RLock()
	defer c.clientMu.RUnlock()
	return c.client
}

func (c *Client) setConnected(v bool) {
	c.connMu.Lock()
	c.connected = v
	c.connMu.Unlock()
}

// isCurrent reports whether pc is the client this Client currently owns.
func (c *Client) isCurrent(pc pahomqtt.Client) bool {
	return pc != nil && pc == c.paho()
}

// handleConnect is called by paho when a session is established.
// A session from a replaced client is closed instead of adopted.
func (c *Client) handleConnect(pc pahomqtt.Client) {
	if !c.isCurrent(pc) {
		if logger := c.getLogger(); logger != nil {
			logger.Warn("MQTT session from a replaced client closed", "client_id", c.cfg.Broker.ClientID)
		}
		go pc.Disconnect(0)
		return
	}

	c.setConnected(true)

	c.restoreSubscriptions(pc)
	c.publishStatus(pc, statusOnline, "")

	c.callbackMu.RLock()
	callback := c.onConnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}
}

// handleDisconnect is called by paho when the connection is lost.
// Losses reported by a replaced client are ignored.
func (c *Client) handleDisconnect(pc pahomqtt.Client, err error) {
	if !c.isCurrent(pc) {
		return
	}
	c.setConnected(false)

	if logger := c.getLogger(); logger != nil {
		logger.Warn("MQTT connection lost", "error", err)
	}

	c.callbackMu.RLock()
	callback := c.onDisconnect
	c.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

// restoreSubscriptions re-subscribes to all tracked topics on pc.
func (c *Client) restoreSubscriptions(pc pahomqtt.Client) {
	c.subMu.RLock()
	defer c.subMu.RUnlock()

	for _, sub := range c.subscriptions {
		token := pc.Subscribe(sub.topic, sub.qos, c.wrapHandler(sub.handler))
		go func(topic string) {
			if token.WaitTimeout(defaultPublishTimeout) && token.Error() == nil {
				return
			}
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT resubscribe failed", "topic", topic, "error", token.Error())
			}
		}(sub.topic)
	}
}

// publishStatus announces the client's status on its retained status topic.
func (c *Client) publishStatus(pc pahomqtt.Client, status, reason string) pahomqtt.Token {
	payload := buildStatusPayload(c.cfg.Broker.ClientID, status, reason, time.Now())
	return pc.Publish(StatusTopic(c.cfg.Broker.ClientID), byte(c.cfg.QoS), true, payload)
}

// ClientID returns the effective MQTT client identifier.
func (c *Client) ClientID() string {
	return c.cfg.Broker.ClientID
}

// Close gracefully disconnects from the MQTT broker.
//
// It publishes a graceful offline status (distinct from the LWT crash
// status), then disconnects with a quiesce period for pending operations.
func (c *Client) Close() error {
	pc := c.paho()
	if pc == nil {
		return nil
	}

	if c.IsConnected() {
		payload := buildStatusPayload(c.cfg.Broker.ClientID, statusOffline, reasonGraceful, time.Now())
		// #nosec G115 -- config validation bounds qos to 0-2
		if err := c.Publish(StatusTopic(c.cfg.Broker.ClientID), payload, byte(c.cfg.QoS), true); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT offline status not published", "error", err)
			}
		}
	}

	pc.Disconnect(defaultDisconnectQuiesce)
	c.setConnected(false)

	return nil
}

// HealthCheck verifies the MQTT connection is alive.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	return nil
}

// IsConnected returns the current connection state.
//
// Both the tracked flag and paho's own view must agree.
func (c *Client) IsConnected() bool {
	pc := c.paho()
	if pc == nil {
		return false
	}

	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && pc.IsConnected()
}

// SetOnConnect sets a callback to be invoked when connection is established.
// This is called on initial connect and on every reconnect.
func (c *Client) SetOnConnect(callback func()) {
	c.callbackMu.Lock()
	c.onConnect = callback
	c.callbackMu.Unlock()
}

// SetOnDisconnect sets a callback to be invoked when connection is lost.
func (c *Client) SetOnDisconnect(callback func(err error)) {
	c.callbackMu.Lock()
	c.onDisconnect = callback
	c.callbackMu.Unlock()
}

// SetLogger sets a logger for error and panic logging.
// If not set, errors in handlers are silently ignored.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// wrapHandler wraps a MessageHandler with panic recovery and optional logging.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("MQTT handler panic recovered",
						"topic", msg.Topic(),
						"panic", r,
					)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT handler returned error",
					"topic", msg.Topic(),
					"error", err,
				)
			}
		}
	}
}
