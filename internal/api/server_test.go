package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/greeter-core/internal/bridge"
	"github.com/nerrad567/greeter-core/internal/hub"
	"github.com/nerrad567/greeter-core/internal/infrastructure/config"
	"github.com/nerrad567/greeter-core/internal/infrastructure/database"
	"github.com/nerrad567/greeter-core/internal/infrastructure/logging"
	"github.com/nerrad567/greeter-core/internal/ingest"
	"github.com/nerrad567/greeter-core/internal/speech"
	"github.com/nerrad567/greeter-core/migrations"
)

// fakeHub serves both the read-only routes and the bridge handlers.
type fakeHub struct {
	states []hub.EntityState
	err    error
}

func (f *fakeHub) Grouped(context.Context) ([]hub.DomainGroup, error) {
	if f.err != nil {
		return nil, f.err
	}
	byDomain := map[string][]hub.EntityState{}
	var order []string
	for _, s := range f.states {
		d, _, _ := strings.Cut(s.EntityID, ".")
		if _, ok := byDomain[d]; !ok {
			order = append(order, d)
		}
		byDomain[d] = append(byDomain[d], s)
	}
	groups := make([]hub.DomainGroup, 0, len(order))
	for _, d := range order {
		groups = append(groups, hub.DomainGroup{Domain: d, Entities: byDomain[d]})
	}
	return groups, nil
}

func (f *fakeHub) StatesByDomain(_ context.Context, domain string) ([]hub.EntityState, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []hub.EntityState
	for _, s := range f.states {
		if strings.HasPrefix(s.EntityID, domain+".") {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeHub) State(_ context.Context, entityID string) (*hub.EntityState, error) {
	for _, s := range f.states {
		if s.EntityID == entityID {
			return &s, nil
		}
	}
	return nil, hub.ErrNotFound
}

func (f *fakeHub) Switch(context.Context, string, hub.Target) (json.RawMessage, error) {
	return nil, f.err
}

func (f *fakeHub) HealthCheck(context.Context) error { return f.err }

type fakeComponent struct {
	connected bool
	err       error
}

func (f fakeComponent) HealthCheck(context.Context) error { return f.err }
func (f fakeComponent) IsConnected() bool                 { return f.connected }

type fakeIngest struct{ stats ingest.Stats }

func (f fakeIngest) Connected() bool     { return f.stats.Status == ingest.StatusConnected }
func (f fakeIngest) Stats() ingest.Stats { return f.stats }

type fakeSpeech struct{}

func (fakeSpeech) Stats() speech.PoolStats { return speech.PoolStats{Workers: 2, Completed: 5} }

type testEnv struct {
	srv   *Server
	db    *database.DB
	conns *bridge.ConnectionRegistry
}

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{
		Path:        filepath.Join(t.TempDir(), "api.db"),
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
	return db
}

// testServer creates a Server over a real SQLite database. mutate adjusts the
// dependencies before New is called.
func testServer(t *testing.T, mutate func(*Deps)) *testEnv {
	t.Helper()

	db := openTestDB(t)
	conns := bridge.NewRegistry()
	h := &fakeHub{states: []hub.EntityState{
		{EntityID: "light.kitchen", State: "off"},
		{EntityID: "light.hall", State: "on"},
		{EntityID: "sensor.lounge_temp", State: "21.5"},
	}}
	handlers := bridge.NewHandlers(bridge.Config{Registry: conns, Hub: h})

	deps := Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 1 << 20,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logger:      logging.Discard(),
		Connections: conns,
		Router:      bridge.NewRouter(handlers, nil),
		DB:          db,
		Hub:         h,
		Version:     "test",
	}
	if mutate != nil {
		mutate(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { srv.Close() }) //nolint:errcheck // Test cleanup
	return &testEnv{srv: srv, db: db, conns: conns}
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
}

// ─── Health Endpoint Tests ─────────────────────────────────────────

func TestHealth(t *testing.T) {
	env := testServer(t, nil)

	w := get(t, env.srv, "/api/v1/health")
	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var resp HealthResponse
	decode(t, w, &resp)
	if resp.Status != "ok" || resp.Version != "test" {
		t.Errorf("response = %+v", resp)
	}
	if resp.Checks["database"] != "ok" || resp.Checks["hub"] != "ok" {
		t.Errorf("checks = %v", resp.Checks)
	}
	if _, ok := resp.Checks["mqtt"]; ok {
		t.Error("mqtt reported although not configured")
	}
}

func TestHealth_OptionalFailureDegrades(t *testing.T) {
	env := testServer(t, func(d *Deps) {
		d.MQTT = fakeComponent{err: errors.New("broker unreachable")}
		d.InfluxDB = fakeComponent{connected: true}
	})

	w := get(t, env.srv, "/api/v1/health")
	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", w.Code)
	}
	var resp HealthResponse
	decode(t, w, &resp)
	if resp.Status != "degraded" {
		t.Errorf("status = %q, want degraded", resp.Status)
	}
	if resp.Checks["mqtt"] != "broker unreachable" || resp.Checks["influxdb"] != "ok" {
		t.Errorf("checks = %v", resp.Checks)
	}
}

func TestHealth_DatabaseDown(t *testing.T) {
	env := testServer(t, nil)
	env.db.Close() //nolint:errcheck // Simulating failure

	w := get(t, env.srv, "/api/v1/health")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("health status = %d, want 503", w.Code)
	}
	var resp HealthResponse
	decode(t, w, &resp)
	if resp.Status != "unhealthy" {
		t.Errorf("status = %q, want unhealthy", resp.Status)
	}
}

// ─── Middleware Tests ──────────────────────────────────────────────

func TestRequestID_Generated(t *testing.T) {
	env := testServer(t, nil)
	if id := get(t, env.srv, "/api/v1/health").Header().Get("X-Request-ID"); id == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	env := testServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	env.srv.buildRouter().ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestCORS_Preflight(t *testing.T) {
	env := testServer(t, func(d *Deps) {
		d.Config.CORS.AllowedOrigins = []string{"http://panel.local"}
	})

	tests := []struct {
		origin string
		want   string
	}{
		{"http://panel.local", "http://panel.local"},
		{"http://evil.example", ""},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodOptions, "/api/v1/health", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			env.srv.buildRouter().ServeHTTP(w, req)

			if w.Code != http.StatusNoContent {
				t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Errorf("ACAO = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNotFound(t *testing.T) {
	env := testServer(t, nil)
	if w := get(t, env.srv, "/api/v1/nonexistent"); w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ─── Status and Metrics Tests ──────────────────────────────────────

func TestStatus(t *testing.T) {
	env := testServer(t, func(d *Deps) {
		d.Ingest = fakeIngest{stats: ingest.Stats{Status: ingest.StatusConnected}}
	})

	var resp StatusResponse
	decode(t, get(t, env.srv, "/api/v1/status"), &resp)
	if !resp.HubConnected || resp.IngestStatus != "connected" || resp.Connections != 0 {
		t.Errorf("status = %+v", resp)
	}
}

func TestStatus_WithoutIngest(t *testing.T) {
	env := testServer(t, nil)

	var resp StatusResponse
	decode(t, get(t, env.srv, "/api/v1/status"), &resp)
	if resp.HubConnected || resp.IngestStatus != "" {
		t.Errorf("status = %+v", resp)
	}
}

func TestMetrics(t *testing.T) {
	env := testServer(t, func(d *Deps) {
		d.Ingest = fakeIngest{stats: ingest.Stats{Status: ingest.StatusWaiting, Applied: 7, Restarts: 2}}
		d.Speech = fakeSpeech{}
		d.MQTT = fakeComponent{connected: true}
	})

	w := get(t, env.srv, "/api/v1/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}
	var m SystemMetrics
	decode(t, w, &m)

	if m.Version != "test" || m.Runtime.Goroutines == 0 {
		t.Errorf("metrics = %+v", m)
	}
	if m.Ingest == nil || m.Ingest.Applied != 7 || m.Ingest.Restarts != 2 {
		t.Errorf("ingest = %+v", m.Ingest)
	}
	if m.Speech == nil || m.Speech.Completed != 5 {
		t.Errorf("speech = %+v", m.Speech)
	}
	if m.MQTT == nil || !m.MQTT.Connected {
		t.Errorf("mqtt = %+v", m.MQTT)
	}
	if m.InfluxDB != nil {
		t.Errorf("influxdb = %+v, want omitted", m.InfluxDB)
	}
}

// ─── Hub Route Tests ───────────────────────────────────────────────

func TestHubStates_Grouped(t *testing.T) {
	env := testServer(t, nil)

	w := get(t, env.srv, "/api/v1/hub/states")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var groups []hub.DomainGroup
	decode(t, w, &groups)
	if len(groups) != 2 || groups[0].Domain != "light" || len(groups[0].Entities) != 2 {
		t.Errorf("groups = %+v", groups)
	}
}

func TestHubStates_ByDomain(t *testing.T) {
	env := testServer(t, nil)

	var states []hub.EntityState
	decode(t, get(t, env.srv, "/api/v1/hub/states/sensor"), &states)
	if len(states) != 1 || states[0].EntityID != "sensor.lounge_temp" {
		t.Errorf("states = %+v", states)
	}
}

func TestHubStates_Errors(t *testing.T) {
	tests := []struct {
		name string
		hub  HubReader
		want int
	}{
		{"not configured", nil, http.StatusServiceUnavailable},
		{"transport failure", &fakeHub{err: hub.ErrTransport}, http.StatusBadGateway},
		{"timeout", &fakeHub{err: context.DeadlineExceeded}, http.StatusGatewayTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testServer(t, func(d *Deps) { d.Hub = tt.hub })
			if w := get(t, env.srv, "/api/v1/hub/states"); w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

// ─── Lifecycle and WebSocket Tests ─────────────────────────────────

func startServer(t *testing.T, env *testEnv) string {
	t.Helper()
	if err := env.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	return env.srv.Addr()
}

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v (resp: %v)", err, resp)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func waitForClients(t *testing.T, conns *bridge.ConnectionRegistry, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for conns.Count() != want {
		if time.Now().After(deadline) {
			t.Fatalf("client count = %d, want %d", conns.Count(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServer_StartAndClose(t *testing.T) {
	env := testServer(t, nil)
	addr := startServer(t, env)

	if err := env.srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	resp, err := http.Get("http://" + addr + "/api/v1/health")
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health check status = %d, want 200", resp.StatusCode)
	}

	if err := env.srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if _, err := http.Get("http://" + addr + "/api/v1/health"); err == nil {
		t.Error("server still responding after Close()")
	}
}

func TestServer_HealthCheckBeforeStart(t *testing.T) {
	env := testServer(t, nil)
	if err := env.srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() = nil before Start")
	}
}

func TestWebSocket_BothEndpoints(t *testing.T) {
	env := testServer(t, nil)
	addr := startServer(t, env)

	for _, path := range []string{"/ws/unified", "/ws/topic"} {
		t.Run(path, func(t *testing.T) {
			ws := dialWS(t, "ws://"+addr+path)
			if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
				t.Fatal(err)
			}
			ws.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // Test deadline
			var reply map[string]any
			if err := ws.ReadJSON(&reply); err != nil {
				t.Fatalf("ReadJSON() error = %v", err)
			}
			if reply["type"] != "pong" {
				t.Errorf("reply = %v", reply)
			}
		})
	}
}

func TestWebSocket_DeviceStateAndStatus(t *testing.T) {
	env := testServer(t, nil)
	addr := startServer(t, env)
	ws := dialWS(t, "ws://"+addr+"/ws/unified")
	waitForClients(t, env.conns, 1)

	var resp StatusResponse
	decode(t, get(t, env.srv, "/api/v1/status"), &resp)
	if resp.Connections != 1 {
		t.Errorf("Connections = %d, want 1", resp.Connections)
	}

	cmd := `{"type":"get_device_state","data":{"entity_id":"light.hall"}}`
	if err := ws.WriteMessage(websocket.TextMessage, []byte(cmd)); err != nil {
		t.Fatal(err)
	}
	ws.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // Test deadline
	var reply struct {
		Status string         `json:"status"`
		Data   map[string]any `json:"data"`
	}
	if err := ws.ReadJSON(&reply); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if reply.Status != "success" || reply.Data["state"] != "on" {
		t.Errorf("reply = %+v", reply)
	}
}

func TestWebSocket_CloseSendsNormalClosure(t *testing.T) {
	env := testServer(t, nil)
	addr := startServer(t, env)
	ws := dialWS(t, "ws://"+addr+"/ws/topic")
	waitForClients(t, env.conns, 1)

	done := make(chan error, 1)
	go func() { done <- env.srv.Close() }()

	ws.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // Test deadline
	_, _, err := ws.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("ReadMessage() error = %v, want normal closure", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Close() error = %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Close() did not return")
	}
	waitForClients(t, env.conns, 0)
}

func TestWebSocket_RejectedAfterClose(t *testing.T) {
	env := testServer(t, nil)
	env.srv.Close() //nolint:errcheck // Never started

	if w := get(t, env.srv, "/ws/unified"); w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}
