package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/greeter-core/internal/infrastructure/config"
)

// Logger is the subset of logging.Logger the relay uses.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any) {}
func (noopLogger) Warn(string, ...any) {}

// Client relays entity state to an MQTT broker.
//
// A retained status message on greeter/system/status tracks whether the
// process is up; the broker publishes the offline variant through the Last
// Will when the process vanishes.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Callbacks set with SetOnConnect/SetOnDisconnect run on paho's goroutines.
type Client struct {
	paho pahomqtt.Client
	cfg  config.MQTTConfig

	up atomic.Bool

	mu     sync.RWMutex
	log    Logger
	onUp   func()
	onDown func(err error)
}

// Connect dials the broker and blocks until the first session is up or the
// connect timeout expires. paho reconnects on its own afterwards.
//
// Parameters:
//   - cfg: Broker address, credentials, QoS and reconnect settings
//
// Returns:
//   - *Client: Connected client with the online status published
//   - error: ErrConnectionFailed when the broker refuses or does not answer
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{cfg: cfg, log: noopLogger{}}

	opts := buildClientOptions(cfg)
	configureLWT(opts, cfg.Broker.ClientID)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.sessionUp() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.sessionLost(err) })
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		c.logger().Info("mqtt reconnecting", "client_id", cfg.Broker.ClientID)
	})

	c.paho = pahomqtt.NewClient(opts)
	tok := c.paho.Connect()
	if !tok.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: no answer within %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The OnConnect handler runs on its own goroutine and may not have fired yet.
	c.up.Store(true)
	return c, nil
}

func (c *Client) sessionUp() {
	c.up.Store(true)
	c.announce(statusOnline)

	c.mu.RLock()
	fn := c.onUp
	c.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (c *Client) sessionLost(err error) {
	c.up.Store(false)
	c.logger().Warn("mqtt connection lost", "error", err)

	c.mu.RLock()
	fn := c.onDown
	c.mu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

// announce publishes a retained process status and returns the paho token.
func (c *Client) announce(status processStatus) pahomqtt.Token {
	payload := statusPayload(status, c.cfg.Broker.ClientID)
	return c.paho.Publish(Topics{}.SystemStatus(), byte(c.cfg.QoS), true, payload)
}

// Close announces a graceful offline status and disconnects. It is a no-op
// on a client that never connected.
func (c *Client) Close() error {
	if c.paho == nil {
		return nil
	}
	if c.IsConnected() {
		c.announce(statusStopped).WaitTimeout(defaultPublishTimeout)
	}
	c.paho.Disconnect(defaultDisconnectQuiesce)
	c.up.Store(false)
	return nil
}

// HealthCheck fails with ErrNotConnected while the broker session is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports whether a broker session is currently up.
func (c *Client) IsConnected() bool {
	return c.paho != nil && c.up.Load() && c.paho.IsConnected()
}

// SetOnConnect registers fn to run after every (re)connection.
func (c *Client) SetOnConnect(fn func()) {
	c.mu.Lock()
	c.onUp = fn
	c.mu.Unlock()
}

// SetOnDisconnect registers fn to run when the session drops.
func (c *Client) SetOnDisconnect(fn func(err error)) {
	c.mu.Lock()
	c.onDown = fn
	c.mu.Unlock()
}

// SetLogger replaces the connection event logger.
func (c *Client) SetLogger(l Logger) {
	if l == nil {
		l = noopLogger{}
	}
	c.mu.Lock()
	c.log = l
	c.mu.Unlock()
}

func (c *Client) logger() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.log == nil {
		return noopLogger{}
	}
	return c.log
}
