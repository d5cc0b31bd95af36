package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"

	"github.com/nerrad567/greeter-core/internal/protocol"
)

// RouterStats reports dispatch activity.
type RouterStats struct {
	Dispatched int64 `json:"dispatched"`
	Failed     int64 `json:"failed"`
	Panics     int64 `json:"panics"`
}

// Router dispatches client commands to their handler.
type Router struct {
	handlers *Handlers
	logger   Logger

	dispatched atomic.Int64
	failed     atomic.Int64
	panics     atomic.Int64
}

// NewRouter creates a router over h.
func NewRouter(h *Handlers, logger Logger) *Router {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Router{handlers: h, logger: logger}
}

// Dispatch decodes one raw command from sender and returns the reply.
// It never panics and never returns an error: every failure becomes an
// error envelope.
func (r *Router) Dispatch(ctx context.Context, raw []byte, sender string) protocol.Envelope {
	r.dispatched.Add(1)

	var in protocol.Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return r.fail(sender, "", invalid("Invalid JSON message"))
	}
	kind, ok := protocol.ParseKind(in.Type)
	if !ok {
		return r.fail(sender, in.Type, invalid("Unknown message type: "+in.Type))
	}

	env, err := r.invoke(ctx, kind, &in, sender)
	if err != nil {
		return r.fail(sender, in.Type, err)
	}
	return env
}

func (r *Router) invoke(ctx context.Context, kind protocol.Kind, in *protocol.Inbound, sender string) (env protocol.Envelope, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.panics.Add(1)
			r.logger.Error("handler panic",
				"type", string(kind),
				"client_id", sender,
				"panic", fmt.Sprint(p),
				"stack", string(debug.Stack()),
			)
			env = protocol.Envelope{}
			err = &Error{Kind: ErrInternal, Message: "Internal error handling " + string(kind)}
		}
	}()

	h := r.handlers
	switch kind {
	case protocol.KindPing:
		return h.Ping(ctx, in, sender)
	case protocol.KindStatusRequest:
		return h.StatusRequest(ctx, in, sender)
	case protocol.KindGetDeviceState:
		return h.GetDeviceState(ctx, in, sender)
	case protocol.KindIoTControl:
		return h.IoTControl(ctx, in, sender)
	case protocol.KindTextCommand:
		return h.TextCommand(ctx, in, sender)
	case protocol.KindAudioCommand:
		return h.AudioCommand(ctx, in, sender)
	}
	return protocol.Envelope{}, invalid("Unknown message type: " + string(kind))
}

func (r *Router) fail(sender, msgType string, err error) protocol.Envelope {
	r.failed.Add(1)

	var herr *Error
	if !errors.As(err, &herr) {
		herr = &Error{Kind: ErrInternal, Message: "Internal error", Err: err}
	}

	switch {
	case errors.Is(herr, ErrValidation):
		r.logger.Debug("command rejected", "type", msgType, "client_id", sender, "reason", herr.Message)
	case errors.Is(herr, ErrInternal):
		r.logger.Error("command failed", "type", msgType, "client_id", sender, "error", herr)
	default:
		r.logger.Warn("command failed", "type", msgType, "client_id", sender, "error", herr)
	}
	return protocol.Error(herr.Message)
}

// Stats returns a snapshot of dispatch counters.
func (r *Router) Stats() RouterStats {
	return RouterStats{
		Dispatched: r.dispatched.Load(),
		Failed:     r.failed.Load(),
		Panics:     r.panics.Load(),
	}
}
