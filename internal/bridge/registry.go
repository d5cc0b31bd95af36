package bridge

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/greeter-core/internal/protocol"
)

// Conn is the transport side of a client connection.
type Conn interface {
	// Send queues one encoded message. It must not block on a slow peer.
	Send(data []byte) error
	Close() error
}

// Logger is the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type entry struct {
	conn      Conn
	createdAt time.Time
}

// ConnectionRegistry tracks live client connections.
//
// It is created once per process and handed to every connection goroutine
// and to the ingestion loop.
type ConnectionRegistry struct {
	mu     sync.RWMutex
	conns  map[string]entry
	logger Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		conns:  make(map[string]entry),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for delivery diagnostics.
func (r *ConnectionRegistry) SetLogger(l Logger) {
	r.logger = l
}

// Register records conn and returns its new connection ID.
func (r *ConnectionRegistry) Register(conn Conn) string {
	id := "client_" + uuid.NewString()

	r.mu.Lock()
	r.conns[id] = entry{conn: conn, createdAt: time.Now()}
	n := len(r.conns)
	r.mu.Unlock()

	r.logger.Info("client connected", "client_id", id, "clients", n)
	return id
}

// Unregister forgets a connection. Unknown IDs are ignored.
func (r *ConnectionRegistry) Unregister(id string) {
	r.mu.Lock()
	e, existed := r.conns[id]
	delete(r.conns, id)
	n := len(r.conns)
	r.mu.Unlock()

	if existed {
		r.logger.Info("client disconnected",
			"client_id", id,
			"clients", n,
			"connected_for", time.Since(e.createdAt).Round(time.Millisecond),
		)
	}
}

// Count returns the number of registered connections.
func (r *ConnectionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Send delivers env to one connection. Failures are logged, never returned.
func (r *ConnectionRegistry) Send(id string, env protocol.Envelope) {
	r.mu.RLock()
	e, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		r.logger.Debug("send to unknown client", "client_id", id)
		return
	}

	data, err := env.Encode()
	if err != nil {
		r.logger.Error("failed to encode message", "type", env.Type, "error", err)
		return
	}
	if err := e.conn.Send(data); err != nil {
		r.logger.Warn("send failed", "client_id", id, "error", err)
	}
}

// Broadcast delivers env to every connection registered at the time of the
// call except exclude. It returns the number of successful deliveries.
func (r *ConnectionRegistry) Broadcast(env protocol.Envelope, exclude string) int {
	data, err := env.Encode()
	if err != nil {
		r.logger.Error("failed to encode broadcast", "type", env.Type, "error", err)
		return 0
	}

	// Snapshot under the lock, deliver without it.
	r.mu.RLock()
	targets := make(map[string]Conn, len(r.conns))
	for id, e := range r.conns {
		if id != exclude {
			targets[id] = e.conn
		}
	}
	r.mu.RUnlock()

	sent := 0
	for id, conn := range targets {
		if err := deliver(conn, data); err != nil {
			r.logger.Warn("broadcast delivery failed", "client_id", id, "error", err)
			continue
		}
		sent++
	}
	if sent > 0 {
		r.logger.Debug("broadcast sent", "type", env.Type, "recipients", sent)
	}
	return sent
}

// CloseAll closes and forgets every connection.
func (r *ConnectionRegistry) CloseAll() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]entry)
	r.mu.Unlock()

	for id, e := range conns {
		if err := e.conn.Close(); err != nil {
			r.logger.Debug("close failed", "client_id", id, "error", err)
		}
	}
}

// deliver isolates one target's failure, including a panic, from the rest.
func deliver(conn Conn, data []byte) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: send panicked: %v", ErrInternal, p)
		}
	}()
	return conn.Send(data)
}
