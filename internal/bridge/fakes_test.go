package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/greeter-core/internal/assistant"
	"github.com/nerrad567/greeter-core/internal/hub"
	"github.com/nerrad567/greeter-core/internal/protocol"
	"github.com/nerrad567/greeter-core/internal/speech"
)

// recordingConn captures everything sent to it.
type recordingConn struct {
	mu     sync.Mutex
	sent   [][]byte
	err    error
	panics bool
	closed bool
}

func (c *recordingConn) Send(data []byte) error {
	if c.panics {
		panic("broken conn")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, data)
	return nil
}

func (c *recordingConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *recordingConn) envelopes() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.sent))
	for _, b := range c.sent {
		var m map[string]any
		if err := json.Unmarshal(b, &m); err != nil {
			panic(err)
		}
		out = append(out, m)
	}
	return out
}

type switchCall struct {
	EntityID string
	Target   hub.Target
}

// fakeHub is an in-memory HubClient.
type fakeHub struct {
	mu        sync.Mutex
	states    []hub.EntityState
	err       error
	switchErr error
	delay     time.Duration
	switches  []switchCall
	domains   []string
	panics    bool
	switched  chan switchCall
}

func (h *fakeHub) wait(ctx context.Context) error {
	if h.delay == 0 {
		return nil
	}
	select {
	case <-time.After(h.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *fakeHub) StatesByDomain(ctx context.Context, domain string) ([]hub.EntityState, error) {
	if h.panics {
		panic("hub exploded")
	}
	if err := h.wait(ctx); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.domains = append(h.domains, domain)
	if h.err != nil {
		return nil, h.err
	}
	var out []hub.EntityState
	for _, s := range h.states {
		if d, _, _ := strings.Cut(s.EntityID, "."); d == domain {
			out = append(out, s)
		}
	}
	return out, nil
}

func (h *fakeHub) State(ctx context.Context, entityID string) (*hub.EntityState, error) {
	if err := h.wait(ctx); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return nil, h.err
	}
	for _, s := range h.states {
		if s.EntityID == entityID {
			return &s, nil
		}
	}
	return nil, hub.ErrNotFound
}

func (h *fakeHub) Switch(ctx context.Context, entityID string, target hub.Target) (json.RawMessage, error) {
	if err := h.wait(ctx); err != nil {
		return nil, err
	}
	h.mu.Lock()
	err := h.err
	if err == nil {
		err = h.switchErr
	}
	if err == nil {
		h.switches = append(h.switches, switchCall{entityID, target})
	}
	ch := h.switched
	h.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if ch != nil {
		ch <- switchCall{entityID, target}
	}
	return json.RawMessage(`[{"entity_id":"` + entityID + `","state":"` + target.String() + `"}]`), nil
}

func (h *fakeHub) calls() []switchCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]switchCall(nil), h.switches...)
}

// fakeAssistant returns a canned reply through the real decision parser.
type fakeAssistant struct {
	reply   string
	err     error
	prompts []assistant.Prompt
}

func (a *fakeAssistant) Decide(_ context.Context, p assistant.Prompt) (*assistant.Decision, string, error) {
	a.prompts = append(a.prompts, p)
	if a.err != nil {
		return nil, "", a.err
	}
	d, err := assistant.ParseDecision(a.reply)
	return d, a.reply, err
}

type fakeSpeech struct {
	calls  int
	got    []byte
	format speech.Format
	tr     speech.Transcript
	err    error
	delay  time.Duration
}

func (s *fakeSpeech) Transcribe(ctx context.Context, audio []byte, format speech.Format) (speech.Transcript, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return speech.Transcript{}, ctx.Err()
		}
	}
	s.calls++
	s.got = audio
	s.format = format
	return s.tr, s.err
}

type staticStatus bool

func (s staticStatus) Connected() bool { return bool(s) }

var errBoom = errors.New("boom")

func inbound(t string, data string) *protocol.Inbound {
	return &protocol.Inbound{Type: t, Data: json.RawMessage(data)}
}

// entryLogger keeps the key/value pairs of every Info call.
type entryLogger struct {
	mu      sync.Mutex
	entries map[string][]any
}

func (l *entryLogger) Debug(string, ...any) {}
func (l *entryLogger) Warn(string, ...any)  {}
func (l *entryLogger) Error(string, ...any) {}

func (l *entryLogger) Info(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.entries == nil {
		l.entries = make(map[string][]any)
	}
	l.entries[msg] = args
}

// field returns the value logged under key by the last msg entry.
func (l *entryLogger) field(msg, key string) any {
	l.mu.Lock()
	defer l.mu.Unlock()
	args := l.entries[msg]
	for i := 0; i+1 < len(args); i += 2 {
		if args[i] == key {
			return args[i+1]
		}
	}
	return nil
}
