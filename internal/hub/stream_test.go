package hub

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// streamScript drives one fake hub connection after the upgrade.
type streamScript func(t *testing.T, conn *websocket.Conn)

func newStreamServer(t *testing.T, script streamScript) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		script(t, conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func send(conn *websocket.Conn, v any) { _ = conn.WriteJSON(v) }

func recv(conn *websocket.Conn, v any) { _ = conn.ReadJSON(v) }

// acceptHandshake plays the hub side of a successful auth and subscribe.
func acceptHandshake(t *testing.T, conn *websocket.Conn) bool {
	t.Helper()
	if err := conn.WriteJSON(map[string]string{"type": "auth_required"}); err != nil {
		t.Errorf("write challenge: %v", err)
		return false
	}

	var auth map[string]string
	if err := conn.ReadJSON(&auth); err != nil {
		t.Errorf("read auth: %v", err)
		return false
	}
	if auth["type"] != "auth" || auth["access_token"] != testToken {
		t.Errorf("auth message = %v", auth)
	}
	if err := conn.WriteJSON(map[string]string{"type": "auth_ok"}); err != nil {
		t.Errorf("write auth_ok: %v", err)
		return false
	}

	var sub map[string]any
	if err := conn.ReadJSON(&sub); err != nil {
		t.Errorf("read subscribe: %v", err)
		return false
	}
	if sub["type"] != "subscribe_events" || sub["event_type"] != "state_changed" || sub["id"] != float64(1) {
		t.Errorf("subscribe message = %v", sub)
	}
	return conn.WriteJSON(map[string]any{"id": 1, "type": "result", "success": true}) == nil
}

func stateChanged(entityID, state string) map[string]any {
	return map[string]any{
		"id":   1,
		"type": "event",
		"event": map[string]any{
			"event_type": "state_changed",
			"data": map[string]any{
				"entity_id": entityID,
				"new_state": map[string]any{
					"entity_id":  entityID,
					"state":      state,
					"attributes": map[string]any{"friendly_name": entityID},
				},
			},
		},
	}
}

func dial(t *testing.T, url string) *EventConn {
	t.Helper()
	d := &Dialer{URL: url, Token: testToken, HandshakeTimeout: 2 * time.Second}
	conn, err := d.Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() }) //nolint:errcheck // Test cleanup
	return conn
}

func TestDial_ReceivesEvents(t *testing.T) {
	url := newStreamServer(t, func(t *testing.T, conn *websocket.Conn) {
		if !acceptHandshake(t, conn) {
			return
		}
		send(conn, map[string]any{"id": 2, "type": "pong"})
		conn.WriteMessage(websocket.TextMessage, []byte("{nope")) //nolint:errcheck // Test server
		send(conn, stateChanged("light.kitchen", "on"))
		send(conn, map[string]any{
			"type": "event",
			"event": map[string]any{
				"event_type": "state_changed",
				"data":       map[string]any{"entity_id": "light.removed", "new_state": nil},
			},
		})
		conn.ReadMessage() //nolint:errcheck // Wait for client close
	})

	ec := dial(t, url)
	ctx := context.Background()

	if _, err := ec.Next(ctx); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("Next() error = %v, want ErrMalformedFrame", err)
	}

	ev, err := ec.Next(ctx)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if ev.EntityID != "light.kitchen" || ev.NewState == nil || ev.NewState.State != "on" {
		t.Errorf("event = %+v", ev)
	}
	if ev.NewState.Attributes["friendly_name"] != "light.kitchen" {
		t.Errorf("attributes = %v", ev.NewState.Attributes)
	}

	removed, err := ec.Next(ctx)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if removed.EntityID != "light.removed" || removed.NewState != nil {
		t.Errorf("removal event = %+v", removed)
	}
}

func TestDial_AuthInvalid(t *testing.T) {
	url := newStreamServer(t, func(t *testing.T, conn *websocket.Conn) {
		send(conn, map[string]string{"type": "auth_required"})
		var auth map[string]string
		recv(conn, &auth)
		send(conn, map[string]string{"type": "auth_invalid", "message": "bad token"})
	})

	d := &Dialer{URL: url, Token: "wrong", HandshakeTimeout: 2 * time.Second}
	_, err := d.Dial(context.Background())
	if !errors.Is(err, ErrAuthFailed) {
		t.Errorf("Dial() error = %v, want ErrAuthFailed", err)
	}
}

func TestDial_SubscribeRejected(t *testing.T) {
	url := newStreamServer(t, func(t *testing.T, conn *websocket.Conn) {
		send(conn, map[string]string{"type": "auth_required"})
		var msg map[string]any
		recv(conn, &msg)
		send(conn, map[string]string{"type": "auth_ok"})
		recv(conn, &msg)
		send(conn, map[string]any{"id": 1, "type": "result", "success": false})
	})

	d := &Dialer{URL: url, Token: testToken, HandshakeTimeout: 2 * time.Second}
	_, err := d.Dial(context.Background())
	if !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Dial() error = %v, want ErrSubscribeFailed", err)
	}
}

func TestDial_HandshakeTimeout(t *testing.T) {
	url := newStreamServer(t, func(t *testing.T, conn *websocket.Conn) {
		// Never send the challenge.
		conn.ReadMessage() //nolint:errcheck // Test server
	})

	d := &Dialer{URL: url, Token: testToken, HandshakeTimeout: 100 * time.Millisecond}
	start := time.Now()
	_, err := d.Dial(context.Background())
	if !errors.Is(err, ErrTransport) {
		t.Errorf("Dial() error = %v, want ErrTransport", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("handshake was not bounded by HandshakeTimeout")
	}
}

func TestDial_Unreachable(t *testing.T) {
	d := &Dialer{URL: "ws://127.0.0.1:1/api/websocket", Token: testToken, HandshakeTimeout: time.Second}
	if _, err := d.Dial(context.Background()); !errors.Is(err, ErrTransport) {
		t.Errorf("Dial() error = %v, want ErrTransport", err)
	}
}

func TestEventConn_StreamDrop(t *testing.T) {
	url := newStreamServer(t, func(t *testing.T, conn *websocket.Conn) {
		acceptHandshake(t, conn)
		// Returning closes the connection.
	})

	ec := dial(t, url)
	if _, err := ec.Next(context.Background()); !errors.Is(err, ErrTransport) {
		t.Errorf("Next() error = %v, want ErrTransport", err)
	}
}

func TestEventConn_ContextCancel(t *testing.T) {
	url := newStreamServer(t, func(t *testing.T, conn *websocket.Conn) {
		if !acceptHandshake(t, conn) {
			return
		}
		conn.ReadMessage() //nolint:errcheck // Block until client closes
	})

	ec := dial(t, url)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	if _, err := ec.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Next() error = %v, want context.Canceled", err)
	}
	if err := ec.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestEventConn_KeepaliveDetectsSilence(t *testing.T) {
	url := newStreamServer(t, func(t *testing.T, conn *websocket.Conn) {
		if !acceptHandshake(t, conn) {
			return
		}
		// Read pings but never answer them.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	d := &Dialer{URL: url, Token: testToken, HandshakeTimeout: 2 * time.Second, PingInterval: 50 * time.Millisecond}
	ec, err := d.Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer ec.Close() //nolint:errcheck // Test cleanup

	if _, err := ec.Next(context.Background()); !errors.Is(err, ErrTransport) {
		t.Errorf("Next() error = %v, want ErrTransport after silence", err)
	}
}
