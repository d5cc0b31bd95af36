package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nerrad567/greeter-core/internal/hub"
	"github.com/nerrad567/greeter-core/internal/mirror"
	"github.com/nerrad567/greeter-core/internal/protocol"
)

const (
	defaultInitialDelay = time.Second
	defaultMaxDelay     = time.Minute
	defaultSinkTimeout  = 5 * time.Second
	defaultStableAfter  = 30 * time.Second
)

// Status is the supervisor state.
type Status string

// Loop states.
const (
	StatusIdle       Status = "idle"
	StatusConnecting Status = "connecting"
	StatusConnected  Status = "connected"
	StatusWaiting    Status = "waiting"
	StatusStopped    Status = "stopped"
)

// Store is the mirror as seen by the loop.
type Store interface {
	Lister
	Upsert(ctx context.Context, entityID string, u mirror.Update) (*mirror.State, error)
}

// Broadcaster fans a message out to clients.
type Broadcaster interface {
	Broadcast(env protocol.Envelope, exclude string) int
}

// Stream is one live hub event session.
type Stream interface {
	Next(ctx context.Context) (hub.Event, error)
	Close() error
}

// Source opens hub event sessions. Open returns once the handshake and
// subscription have succeeded.
type Source interface {
	Open(ctx context.Context) (Stream, error)
}

// HubSource opens sessions with a hub.Dialer.
type HubSource struct {
	Dialer *hub.Dialer
}

// Open implements Source.
func (s HubSource) Open(ctx context.Context) (Stream, error) {
	conn, err := s.Dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Logger is the logging interface used by the loop.
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

// Config wires a Loop.
type Config struct {
	Store       Store
	Source      Source
	Broadcaster Broadcaster
	Sinks       []Sink
	Logger      Logger

	// Reconnect policy. MaxAttempts 0 retries forever. A session that stays
	// up for StableAfter (default 30s) resets the delay and the attempt count.
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
	StableAfter  time.Duration

	// PageSize bounds each mirror read while loading the tracked set.
	PageSize int

	// SinkTimeout bounds each sink publish. Defaults to 5s.
	SinkTimeout time.Duration
}

// Stats reports loop activity.
type Stats struct {
	Status    Status `json:"status"`
	Tracked   int    `json:"tracked"`
	Sessions  int64  `json:"sessions"`
	Restarts  int64  `json:"restarts"`
	Received  int64  `json:"received"`
	Applied   int64  `json:"applied"`
	Skipped   int64  `json:"skipped"`
	Failed    int64  `json:"failed"`
	LastEvent string `json:"last_event,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

// Loop is the single hub subscription of the process.
type Loop struct {
	cfg    Config
	logger Logger
	now    func() time.Time

	started   atomic.Bool
	connected atomic.Bool
	tracked   TrackedSet

	trackedCount atomic.Int64
	sessions     atomic.Int64
	restarts     atomic.Int64
	received     atomic.Int64
	applied      atomic.Int64
	skipped      atomic.Int64
	failed       atomic.Int64

	mu        sync.RWMutex
	status    Status
	lastEvent time.Time
	lastError error
}

// New creates a loop. Run starts it.
func New(cfg Config) *Loop {
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = defaultInitialDelay
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		cfg.MaxDelay = max(defaultMaxDelay, cfg.InitialDelay)
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.StableAfter <= 0 {
		cfg.StableAfter = defaultStableAfter
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Loop{cfg: cfg, logger: logger, now: time.Now, status: StatusIdle}
}

// Connected reports whether a hub session is currently live.
func (l *Loop) Connected() bool {
	return l.connected.Load()
}

// Run loads the tracked set and keeps a hub session open until ctx is
// cancelled. It returns nil on cancellation, and an error when the tracked
// set cannot be loaded or reconnect attempts run out.
func (l *Loop) Run(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer l.setStatus(StatusStopped)

	tracked, err := LoadTracked(ctx, l.cfg.Store, l.cfg.PageSize)
	if err != nil {
		return err
	}
	l.tracked = tracked
	l.trackedCount.Store(int64(len(tracked)))
	l.logger.Info("tracking entities", "count", len(tracked))

	b := l.newBackOff()
	failures := 0
	for {
		up, err := l.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		// A hub that accepts the subscription and drops it straight away
		// keeps backing off like one that refuses the connection.
		if up >= l.cfg.StableAfter {
			b.Reset()
			failures = 0
		}
		failures++
		l.restarts.Add(1)
		l.recordError(err)

		if l.cfg.MaxAttempts > 0 && failures > l.cfg.MaxAttempts {
			l.logger.Error("hub reconnect attempts exhausted", "attempts", failures-1, "error", err)
			return fmt.Errorf("%w: %w", ErrGaveUp, err)
		}

		delay := b.NextBackOff()
		l.logger.Warn("hub session ended, reconnecting",
			"attempt", failures,
			"delay", delay,
			"error", err,
		)
		l.setStatus(StatusWaiting)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (l *Loop) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.cfg.InitialDelay
	b.MaxInterval = l.cfg.MaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0.5
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// session runs one hub connection and reports how long it stayed
// subscribed. A failed dial or handshake reports zero.
func (l *Loop) session(ctx context.Context) (up time.Duration, err error) {
	l.setStatus(StatusConnecting)
	stream, err := l.cfg.Source.Open(ctx)
	if err != nil {
		return 0, err
	}
	defer stream.Close() //nolint:errcheck // Session is over either way

	l.sessions.Add(1)
	l.connected.Store(true)
	defer l.connected.Store(false)
	l.setStatus(StatusConnected)
	l.logger.Info("hub session established")
	start := time.Now()

	for {
		ev, err := stream.Next(ctx)
		if errors.Is(err, hub.ErrMalformedFrame) {
			l.received.Add(1)
			l.skipped.Add(1)
			l.logger.Debug("skipping malformed hub frame", "error", err)
			continue
		}
		if err != nil {
			return time.Since(start), err
		}
		l.Apply(ctx, ev)
	}
}

// Apply writes one hub event to the mirror and announces it. Events for
// untracked entities and removals are skipped. It reports whether the event
// was applied.
func (l *Loop) Apply(ctx context.Context, ev hub.Event) bool {
	l.received.Add(1)
	if ev.NewState == nil || !l.tracked.Contains(ev.EntityID) {
		l.skipped.Add(1)
		return false
	}

	state := ev.NewState.State
	attrs := ev.NewState.Attributes
	if attrs == nil {
		attrs = map[string]any{}
	}

	stored, err := l.cfg.Store.Upsert(ctx, ev.EntityID, mirror.Update{State: &state, Attributes: attrs})
	if err != nil {
		l.failed.Add(1)
		l.recordError(err)
		l.logger.Warn("mirror update failed", "entity_id", ev.EntityID, "error", err)
		return false
	}
	l.applied.Add(1)
	now := l.now()
	l.mu.Lock()
	l.lastEvent = now
	l.mu.Unlock()
	l.logger.Debug("entity updated", "entity_id", ev.EntityID, "state", state)

	if l.cfg.Broadcaster != nil {
		l.cfg.Broadcaster.Broadcast(protocol.Envelope{
			Status: protocol.StatusSuccess,
			Type:   protocol.TypeEntityStateChanged,
			Data: protocol.EntityStateChanged{
				EntityID:   ev.EntityID,
				State:      state,
				Attributes: attrs,
				Timestamp:  protocol.Timestamp(now),
			},
		}, "")
	}

	for _, sink := range l.cfg.Sinks {
		sctx, cancel := context.WithTimeout(ctx, l.cfg.SinkTimeout)
		if err := sink.Publish(sctx, stored); err != nil {
			l.logger.Warn("sink publish failed", "sink", sink.Name(), "entity_id", ev.EntityID, "error", err)
		}
		cancel()
	}
	return true
}

func (l *Loop) setStatus(s Status) {
	l.mu.Lock()
	l.status = s
	l.mu.Unlock()
}

func (l *Loop) recordError(err error) {
	if err == nil {
		return
	}
	l.mu.Lock()
	l.lastError = err
	l.mu.Unlock()
}

// Stats returns a snapshot of loop activity.
func (l *Loop) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := Stats{
		Status:   l.status,
		Tracked:  int(l.trackedCount.Load()),
		Sessions: l.sessions.Load(),
		Restarts: l.restarts.Load(),
		Received: l.received.Load(),
		Applied:  l.applied.Load(),
		Skipped:  l.skipped.Load(),
		Failed:   l.failed.Load(),
	}
	if !l.lastEvent.IsZero() {
		s.LastEvent = protocol.Timestamp(l.lastEvent)
	}
	if l.lastError != nil {
		s.LastError = l.lastError.Error()
	}
	return s
}
