package bridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/greeter-core/internal/protocol"
)

// Client send errors.
var (
	errClientClosed = errors.New("bridge: client closed")
	errSlowClient   = errors.New("bridge: client send buffer full")
)

const (
	defaultSendBuffer = 256
	defaultInbox      = 32
)

// ClientConfig bounds one client WebSocket.
type ClientConfig struct {
	MaxMessageSize int64
	PingInterval   time.Duration
	PongTimeout    time.Duration
	SendBuffer     int

	// Inbox is how many commands may wait behind the one being handled.
	Inbox int
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = 10 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = defaultSendBuffer
	}
	if c.Inbox <= 0 {
		c.Inbox = defaultInbox
	}
	return c
}

// wsClient is a registered client WebSocket. Replies and broadcasts share one
// buffered queue drained by writePump, so a slow peer never blocks a sender.
type wsClient struct {
	id     string
	conn   *websocket.Conn
	cfg    ClientConfig
	logger Logger

	mu     sync.Mutex
	closed bool
	send   chan []byte
	done   chan struct{}
}

// Send implements Conn.
func (c *wsClient) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClientClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errSlowClient
	}
}

// Close implements Conn. writePump flushes the queue, sends a close frame and
// closes the socket, which in turn ends readPump. Safe to call more than once.
func (c *wsClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return nil
}

// Serve registers ws with reg and serves it until the peer goes away or ctx
// is cancelled. Commands from one client are handled one at a time in arrival
// order on a dispatch goroutine, so the read loop keeps answering pongs while
// a slow command is in flight.
func Serve(ctx context.Context, ws *websocket.Conn, reg *ConnectionRegistry, router *Router, cfg ClientConfig, logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	cfg = cfg.withDefaults()
	c := &wsClient{
		conn:   ws,
		cfg:    cfg,
		logger: logger,
		send:   make(chan []byte, cfg.SendBuffer),
		done:   make(chan struct{}),
	}
	c.id = reg.Register(c)

	stop := context.AfterFunc(ctx, func() {
		c.Close() //nolint:errcheck // Never fails
	})
	defer stop()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump()
	}()

	inbox := make(chan []byte, cfg.Inbox)
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		c.dispatch(ctx, inbox, reg, router)
	}()

	c.readPump(inbox, reg)
	close(inbox)

	reg.Unregister(c.id)
	c.Close() //nolint:errcheck // Never fails
	<-dispatchDone
	<-writerDone
}

func (c *wsClient) readPump(inbox chan<- []byte, reg *ConnectionRegistry) {
	if c.cfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	}
	wait := c.cfg.PingInterval + c.cfg.PongTimeout
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(wait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", "client_id", c.id, "error", err)
			} else {
				c.logger.Debug("websocket closed", "client_id", c.id, "error", err)
			}
			return
		}
		// Any client message keeps the connection alive, pong or not.
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(wait))

		select {
		case inbox <- message:
		default:
			c.logger.Warn("command dropped, inbox full", "client_id", c.id, "pending", cap(inbox))
			reg.Send(c.id, protocol.Error("Too many pending commands"))
		}
	}
}

// dispatch runs queued commands in order and queues each reply. Commands
// still queued when the client closes are discarded.
func (c *wsClient) dispatch(ctx context.Context, inbox <-chan []byte, reg *ConnectionRegistry, router *Router) {
	for message := range inbox {
		if c.isClosed() {
			continue
		}
		reg.Send(c.id, router.Dispatch(ctx, message, c.id))
	}
}

func (c *wsClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close() //nolint:errcheck // Reader notices and exits
	}()

	for {
		select {
		case message := <-c.send:
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.PongTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.PongTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.flush()
			//nolint:errcheck // Best-effort close frame
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		}
	}
}

// flush writes whatever is still queued when the client is closed.
func (c *wsClient) flush() {
	for {
		select {
		case message := <-c.send:
			//nolint:errcheck // Best-effort deadline
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.PongTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		default:
			return
		}
	}
}
