package bridge

import (
	"context"
	"testing"

	"github.com/nerrad567/greeter-core/internal/protocol"
)

func TestDispatch_KnownKinds(t *testing.T) {
	reg := NewRegistry()
	h := newTestHandlers(Config{Registry: reg, Hub: kitchenHub(), Status: staticStatus(true)})
	r := NewRouter(h, nil)

	tests := []struct {
		raw      string
		wantType string
	}{
		{`{"type":"ping"}`, protocol.TypePong},
		{`{"type":"ping","data":null}`, protocol.TypePong},
		{`{"type":"status_request","data":{}}`, ""},
		{`{"type":"get_device_state","data":{"entity_id":"light.kitchen"}}`, protocol.TypeDeviceState},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			env := r.Dispatch(context.Background(), []byte(tt.raw), "client_a")
			if env.Status != protocol.StatusSuccess || env.Type != tt.wantType {
				t.Errorf("Dispatch() = %+v", env)
			}
		})
	}
}

func TestDispatch_UnknownTypeHasNoSideEffects(t *testing.T) {
	reg := NewRegistry()
	c := &recordingConn{}
	reg.Register(c)
	fh := kitchenHub()
	r := NewRouter(newTestHandlers(Config{Registry: reg, Hub: fh}), nil)

	env := r.Dispatch(context.Background(), []byte(`{"type":"self_destruct","data":{"entity_id":"light.kitchen","new_state":"on"}}`), "client_a")

	if env.Status != protocol.StatusError || env.Message != "Unknown message type: self_destruct" {
		t.Errorf("Dispatch() = %+v", env)
	}
	if len(fh.calls()) != 0 || len(fh.domains) != 0 || len(c.sent) != 0 {
		t.Error("unknown command touched the hub or broadcast")
	}
}

func TestDispatch_InvalidJSON(t *testing.T) {
	r := NewRouter(newTestHandlers(Config{}), nil)
	for _, raw := range []string{`not json`, `{"type":`, `["ping"]`, `{"type":"ping","data":"x"`} {
		if env := r.Dispatch(context.Background(), []byte(raw), ""); env.Status != protocol.StatusError {
			t.Errorf("Dispatch(%q) = %+v, want error", raw, env)
		}
	}
}

func TestDispatch_RecoversHandlerPanic(t *testing.T) {
	r := NewRouter(newTestHandlers(Config{Hub: &fakeHub{panics: true}}), nil)

	env := r.Dispatch(context.Background(), []byte(`{"type":"get_device_state","data":{"entity_id":"light.kitchen"}}`), "client_a")
	if env.Status != protocol.StatusError || env.Message != "Internal error handling get_device_state" {
		t.Errorf("Dispatch() = %+v", env)
	}

	// The router keeps serving after a panic.
	if env := r.Dispatch(context.Background(), []byte(`{"type":"ping"}`), "client_a"); env.Type != protocol.TypePong {
		t.Errorf("Dispatch(ping) after panic = %+v", env)
	}
	if s := r.Stats(); s.Panics != 1 || s.Dispatched != 2 || s.Failed != 1 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestDispatch_MissingCollaboratorIsInternal(t *testing.T) {
	// A nil hub client panics inside the handler; the router turns it into an error.
	r := NewRouter(newTestHandlers(Config{}), nil)
	env := r.Dispatch(context.Background(), []byte(`{"type":"iot_control","data":{"entity_id":"light.kitchen","new_state":"on"}}`), "")
	if env.Status != protocol.StatusError {
		t.Errorf("Dispatch() = %+v", env)
	}
}

func TestDispatch_ValidationErrorEnvelope(t *testing.T) {
	r := NewRouter(newTestHandlers(Config{Hub: kitchenHub()}), nil)
	env := r.Dispatch(context.Background(), []byte(`{"type":"iot_control","data":{}}`), "")
	if env.Status != protocol.StatusError || env.Message != "Missing entity_id or new_state" {
		t.Errorf("Dispatch() = %+v", env)
	}
}

func TestDispatch_EveryKindIsRouted(t *testing.T) {
	r := NewRouter(newTestHandlers(Config{Hub: kitchenHub()}), nil)
	for _, k := range protocol.Kinds {
		env := r.Dispatch(context.Background(), []byte(`{"type":"`+string(k)+`"}`), "")
		if env.Message == "Unknown message type: "+string(k) {
			t.Errorf("kind %q is not routed", k)
		}
	}
}
