package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/greeter-core/internal/hub"
	"github.com/nerrad567/greeter-core/internal/infrastructure/database"
	"github.com/nerrad567/greeter-core/internal/mirror"
	"github.com/nerrad567/greeter-core/internal/protocol"
	"github.com/nerrad567/greeter-core/migrations"
)

var errDial = errors.New("dial refused")

func newStore(t *testing.T, seed ...string) *mirror.SQLiteStore {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "ingest.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	store := mirror.NewSQLiteStore(db.DB)
	for _, id := range seed {
		off := "off"
		if _, err := store.Upsert(ctx, id, mirror.Update{State: &off}); err != nil {
			t.Fatalf("seeding %s: %v", id, err)
		}
	}
	return store
}

type item struct {
	ev  hub.Event
	err error
}

// fakeStream replays queued items, then blocks until closed or cancelled.
type fakeStream struct {
	items  chan item
	closed chan struct{}
	once   sync.Once
}

func newStream(items ...item) *fakeStream {
	s := &fakeStream{items: make(chan item, len(items)+8), closed: make(chan struct{})}
	for _, it := range items {
		s.items <- it
	}
	return s
}

func (s *fakeStream) Next(ctx context.Context) (hub.Event, error) {
	select {
	case it := <-s.items:
		return it.ev, it.err
	case <-ctx.Done():
		return hub.Event{}, ctx.Err()
	case <-s.closed:
		return hub.Event{}, hub.ErrTransport
	}
}

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

// fakeSource hands out streams in order, then fails every Open.
type fakeSource struct {
	mu      sync.Mutex
	streams []*fakeStream
	opens   int
}

func (s *fakeSource) Open(context.Context) (Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opens++
	if len(s.streams) == 0 {
		return nil, errDial
	}
	st := s.streams[0]
	s.streams = s.streams[1:]
	return st, nil
}

func (s *fakeSource) openCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

type recordingBroadcaster struct {
	mu   sync.Mutex
	envs []protocol.Envelope
}

func (b *recordingBroadcaster) Broadcast(env protocol.Envelope, _ string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.envs = append(b.envs, env)
	return 1
}

func (b *recordingBroadcaster) sent() []protocol.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]protocol.Envelope(nil), b.envs...)
}

type recordingSink struct {
	mu     sync.Mutex
	states []*mirror.State
	err    error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Publish(_ context.Context, st *mirror.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, st)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}

func event(id, state string, attrs map[string]any) hub.Event {
	return hub.Event{EntityID: id, NewState: &hub.EntityState{EntityID: id, State: state, Attributes: attrs}}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

