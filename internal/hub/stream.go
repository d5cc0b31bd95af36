package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultHandshakeTimeout = 10 * time.Second

	// subscriptionID is the message id of the single subscribe_events request.
	subscriptionID = 1

	eventTypeStateChanged = "state_changed"
)

// Dialer opens authenticated event streams.
type Dialer struct {
	// URL is the hub WebSocket endpoint, e.g. "ws://hub.local:8123/api/websocket".
	URL string

	// Token is the long-lived access token sent in the auth message.
	Token string

	// HandshakeTimeout bounds connect, auth and subscribe together. Defaults to 10s.
	HandshakeTimeout time.Duration

	// PingInterval, when positive, sends an application ping at this interval
	// and fails Next if nothing arrives for two intervals.
	PingInterval time.Duration

	// WS overrides the underlying dialer. Defaults to websocket.DefaultDialer.
	WS *websocket.Dialer
}

// streamMessage covers every frame the hub sends on the event stream.
type streamMessage struct {
	ID      int    `json:"id,omitempty"`
	Type    string `json:"type"`
	Success *bool  `json:"success,omitempty"`
	Message string `json:"message,omitempty"`
	Event   *struct {
		EventType string `json:"event_type"`
		Data      struct {
			EntityID string       `json:"entity_id"`
			NewState *EntityState `json:"new_state"`
		} `json:"data"`
	} `json:"event,omitempty"`
}

// EventConn is an authenticated, subscribed event stream.
//
// Next must be called from a single goroutine. Close may be called from any.
type EventConn struct {
	conn         *websocket.Conn
	pingInterval time.Duration

	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
}

// Dial connects, authenticates and subscribes to state_changed events.
//
// The challenge frame is read and ignored. An auth_invalid answer fails with
// ErrAuthFailed; any other answer is accepted. A subscription result with
// success=false fails with ErrSubscribeFailed.
func (d *Dialer) Dial(ctx context.Context) (*EventConn, error) {
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ws := d.WS
	if ws == nil {
		ws = websocket.DefaultDialer
	}

	conn, _, err := ws.DialContext(ctx, d.URL, nil) //nolint:bodyclose // websocket handshake response
	if err != nil {
		return nil, fmt.Errorf("%w: dialing event stream: %w", ErrTransport, err)
	}

	deadline, _ := ctx.Deadline()
	_ = conn.SetReadDeadline(deadline)  //nolint:errcheck // Fails only on closed conn
	_ = conn.SetWriteDeadline(deadline) //nolint:errcheck // Fails only on closed conn

	if err := handshake(conn, d.Token); err != nil {
		conn.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, err
	}

	_ = conn.SetReadDeadline(time.Time{})  //nolint:errcheck // Fails only on closed conn
	_ = conn.SetWriteDeadline(time.Time{}) //nolint:errcheck // Fails only on closed conn

	ec := &EventConn{
		conn:         conn,
		pingInterval: d.PingInterval,
		done:         make(chan struct{}),
	}
	if ec.pingInterval > 0 {
		go ec.keepalive()
	}
	return ec, nil
}

func handshake(conn *websocket.Conn, token string) error {
	var challenge streamMessage
	if err := conn.ReadJSON(&challenge); err != nil {
		return fmt.Errorf("%w: reading auth challenge: %w", ErrTransport, err)
	}

	auth := map[string]string{"type": "auth", "access_token": token}
	if err := conn.WriteJSON(auth); err != nil {
		return fmt.Errorf("%w: sending auth: %w", ErrTransport, err)
	}

	var authResult streamMessage
	if err := conn.ReadJSON(&authResult); err != nil {
		return fmt.Errorf("%w: reading auth result: %w", ErrTransport, err)
	}
	if authResult.Type == "auth_invalid" {
		return fmt.Errorf("%w: %s", ErrAuthFailed, authResult.Message)
	}

	subscribe := map[string]any{
		"id":         subscriptionID,
		"type":       "subscribe_events",
		"event_type": eventTypeStateChanged,
	}
	if err := conn.WriteJSON(subscribe); err != nil {
		return fmt.Errorf("%w: sending subscribe: %w", ErrTransport, err)
	}

	var ack streamMessage
	if err := conn.ReadJSON(&ack); err != nil {
		return fmt.Errorf("%w: reading subscribe result: %w", ErrTransport, err)
	}
	if ack.Success != nil && !*ack.Success {
		return ErrSubscribeFailed
	}
	return nil
}

// Next blocks until the next state_changed event arrives.
//
// Non-event frames are skipped. A frame that is not valid JSON yields an
// error wrapping ErrMalformedFrame and the stream stays usable. Any other
// error means the stream is dead. Cancelling ctx closes the connection.
func (c *EventConn) Next(ctx context.Context) (Event, error) {
	stop := context.AfterFunc(ctx, func() { c.Close() }) //nolint:errcheck // Close error irrelevant on cancel
	defer stop()

	for {
		if c.pingInterval > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(2 * c.pingInterval)) //nolint:errcheck // Fails only on closed conn
		}

		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return Event{}, ctx.Err()
			}
			return Event{}, fmt.Errorf("%w: reading event: %w", ErrTransport, err)
		}

		var msg streamMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return Event{}, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
		}
		if msg.Type != "event" || msg.Event == nil || msg.Event.EventType != eventTypeStateChanged {
			continue
		}

		return Event{
			EntityID: msg.Event.Data.EntityID,
			NewState: msg.Event.Data.NewState,
		}, nil
	}
}

// Close closes the stream. Safe to call more than once.
func (c *EventConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage, //nolint:errcheck // Best effort close frame
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// keepalive sends {"type":"ping"} frames so a silent stream is detected.
func (c *EventConn) keepalive() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	id := subscriptionID
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			id++
			c.writeMu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.pingInterval)) //nolint:errcheck // Fails only on closed conn
			err := c.conn.WriteJSON(map[string]any{"id": id, "type": "ping"})
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
