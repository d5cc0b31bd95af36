package bridge

import (
	"context"
	"encoding/base64"
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

// MaxAudioChars is the largest accepted base64 audio payload.
const MaxAudioChars = 5_242_880

// HubClient is the subset of the hub REST client used by handlers.
type HubClient interface {
	StatesByDomain(ctx context.Context, domain string) ([]hub.EntityState, error)
	State(ctx context.Context, entityID string) (*hub.EntityState, error)
	Switch(ctx context.Context, entityID string, target hub.Target) (json.RawMessage, error)
}

// Assistant turns a prompt into a structured decision.
type Assistant interface {
	Decide(ctx context.Context, p assistant.Prompt) (*assistant.Decision, string, error)
}

// HubStatus reports whether the hub event stream is live.
type HubStatus interface {
	Connected() bool
}

// Config wires a Handlers.
type Config struct {
	Registry  *ConnectionRegistry
	Hub       HubClient
	Assistant Assistant          // nil disables text_command
	Speech    speech.Transcriber // nil disables audio_command
	Status    HubStatus          // nil reports the hub as disconnected
	Logger    Logger

	// Per-call bounds. Zero leaves the collaborator's own timeout in charge.
	HubTimeout       time.Duration
	AssistantTimeout time.Duration
	SpeechTimeout    time.Duration
}

// Handlers implements one method per command kind.
type Handlers struct {
	cfg    Config
	logger Logger
	now    func() time.Time

	// writeBacks tracks instruction write-backs still running.
	writeBacks sync.WaitGroup
}

// NewHandlers creates the command handlers.
func NewHandlers(cfg Config) *Handlers {
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Handlers{cfg: cfg, logger: logger, now: time.Now}
}

// Wait blocks until every background write-back has finished.
func (h *Handlers) Wait() {
	h.writeBacks.Wait()
}

func (h *Handlers) timestamp() string {
	return protocol.Timestamp(h.now())
}

func bounded(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// Ping answers a liveness check.
func (h *Handlers) Ping(context.Context, *protocol.Inbound, string) (protocol.Envelope, error) {
	return protocol.Envelope{
		Status:    protocol.StatusSuccess,
		Type:      protocol.TypePong,
		Timestamp: h.timestamp(),
	}, nil
}

// StatusRequest reports connected clients and hub session state.
func (h *Handlers) StatusRequest(context.Context, *protocol.Inbound, string) (protocol.Envelope, error) {
	report := protocol.StatusReport{
		HubConnected: h.cfg.Status != nil && h.cfg.Status.Connected(),
		Timestamp:    h.timestamp(),
	}
	if h.cfg.Registry != nil {
		report.ConnectedClients = h.cfg.Registry.Count()
	}
	return protocol.Success("", report), nil
}

// GetDeviceState looks an entity up among its domain's states on the hub.
func (h *Handlers) GetDeviceState(ctx context.Context, in *protocol.Inbound, _ string) (protocol.Envelope, error) {
	var req protocol.DeviceStateRequest
	if err := in.ParseData(&req); err != nil {
		return protocol.Envelope{}, invalid("Invalid get_device_state data")
	}
	if req.EntityID == "" {
		return protocol.Envelope{}, invalid("Missing entity_id")
	}

	domain, _, _ := strings.Cut(req.EntityID, ".")
	ctx, cancel := bounded(ctx, h.cfg.HubTimeout)
	defer cancel()

	states, err := h.cfg.Hub.StatesByDomain(ctx, domain)
	if err != nil {
		return protocol.Envelope{}, hubFailure("Error getting device state", err)
	}
	for _, s := range states {
		if s.EntityID != req.EntityID {
			continue
		}
		state := s.State
		if state == "" {
			state = "unknown"
		}
		attrs := s.Attributes
		if attrs == nil {
			attrs = map[string]any{}
		}
		return protocol.Success(protocol.TypeDeviceState, protocol.DeviceState{
			EntityID:   req.EntityID,
			State:      state,
			Attributes: attrs,
		}), nil
	}
	return protocol.Envelope{}, &Error{Kind: ErrValidation, Message: "Device not found: " + req.EntityID}
}

// IoTControl switches an entity and announces the provisional change to every
// client, the sender included. The authoritative state follows later from the
// hub's own event.
func (h *Handlers) IoTControl(ctx context.Context, in *protocol.Inbound, sender string) (protocol.Envelope, error) {
	var req protocol.IoTControlData
	if err := in.ParseData(&req); err != nil {
		return protocol.Envelope{}, invalid("Invalid iot_control data")
	}
	if req.EntityID == "" || isEmptyJSON(req.NewState) {
		return protocol.Envelope{}, invalid("Missing entity_id or new_state")
	}
	target, err := parseNewState(req.NewState)
	if err != nil {
		return protocol.Envelope{}, invalid("Invalid new_state: " + string(req.NewState))
	}

	ctx, cancel := bounded(ctx, h.cfg.HubTimeout)
	defer cancel()

	result, err := h.cfg.Hub.Switch(ctx, req.EntityID, target)
	if err != nil {
		return protocol.Envelope{}, hubFailure("IoT control error", err)
	}

	if h.cfg.Registry != nil {
		h.cfg.Registry.Broadcast(protocol.Envelope{
			Status: protocol.StatusSynchronizingIoT,
			Type:   protocol.TypeIoTStateChanged,
			Data: protocol.IoTStateChanged{
				EntityID:  req.EntityID,
				NewState:  target.String(),
				Timestamp: h.timestamp(),
			},
		}, "")
	}
	h.logger.Info("iot control", "client_id", sender, "entity_id", req.EntityID, "new_state", target.String())

	env := protocol.Envelope{
		Status:  protocol.StatusSuccess,
		Message: "Changed " + req.EntityID + " to " + target.String(),
	}
	if len(result) > 0 {
		env.Data = result
	}
	return env, nil
}

// TextCommand asks the assistant about an entity and applies any instruction
// it returns in the background.
func (h *Handlers) TextCommand(ctx context.Context, in *protocol.Inbound, sender string) (protocol.Envelope, error) {
	var req protocol.TextCommandData
	if err := in.ParseData(&req); err != nil {
		return protocol.Envelope{}, invalid("Invalid text_command data")
	}
	if req.EntityID == "" {
		return protocol.Envelope{}, invalid("Missing entity_id")
	}
	if strings.TrimSpace(req.Text) == "" {
		return protocol.Envelope{}, invalid("Missing text field")
	}
	if h.cfg.Assistant == nil {
		return protocol.Envelope{}, &Error{Kind: ErrCapability, Message: "NLP processing error: assistant not configured"}
	}

	hubCtx, cancel := bounded(ctx, h.cfg.HubTimeout)
	_, err := h.cfg.Hub.State(hubCtx, req.EntityID)
	cancel()
	if errors.Is(err, hub.ErrNotFound) {
		return protocol.Envelope{}, &Error{Kind: ErrValidation, Message: "Device not found: " + req.EntityID, Err: err}
	}
	if err != nil {
		return protocol.Envelope{}, hubFailure("NLP processing error", err)
	}

	history := req.History
	if history == nil {
		history = []any{}
	}
	aiCtx, cancel := bounded(ctx, h.cfg.AssistantTimeout)
	defer cancel()
	decision, _, err := h.cfg.Assistant.Decide(aiCtx, assistant.Prompt{
		Object:   req.EntityID,
		Dialogue: req.Text,
		History:  history,
	})
	if err != nil {
		return protocol.Envelope{}, capabilityFailure("NLP processing error", err)
	}

	if decision.HasInstruction() {
		h.writeBack(sender, req.EntityID, *decision.Instruction)
	}
	return protocol.Success("", decision), nil
}

// writeBack applies an assistant instruction without holding up the reply.
func (h *Handlers) writeBack(sender, entityID, instruction string) {
	target, err := hub.ParseTarget(instruction)
	if err != nil {
		h.logger.Warn("ignoring assistant instruction", "entity_id", entityID, "instruction", instruction)
		return
	}

	h.writeBacks.Add(1)
	go func() {
		defer h.writeBacks.Done()
		ctx, cancel := bounded(context.Background(), h.cfg.HubTimeout)
		defer cancel()
		if _, err := h.cfg.Hub.Switch(ctx, entityID, target); err != nil {
			h.logger.Warn("instruction write-back failed",
				"client_id", sender,
				"entity_id", entityID,
				"target", target.String(),
				"error", err,
			)
			return
		}
		h.logger.Info("instruction applied", "client_id", sender, "entity_id", entityID, "target", target.String())
	}()
}

// AudioCommand transcribes a base64 clip on the speech worker pool.
func (h *Handlers) AudioCommand(ctx context.Context, in *protocol.Inbound, sender string) (protocol.Envelope, error) {
	var req protocol.AudioCommandData
	if err := in.ParseData(&req); err != nil {
		return protocol.Envelope{}, invalid("Invalid audio_command data")
	}
	if req.Audio == "" {
		return protocol.Envelope{}, invalid("Missing audio data")
	}
	if len(req.Audio) > MaxAudioChars {
		return protocol.Envelope{}, invalid("Audio too large (max 5MB)")
	}
	format, err := speech.ParseFormat(req.Format)
	if err != nil {
		return protocol.Envelope{}, invalid("Unsupported audio format: " + strings.ToLower(strings.TrimSpace(req.Format)))
	}
	audio, err := base64.StdEncoding.DecodeString(req.Audio)
	if err != nil {
		return protocol.Envelope{}, &Error{Kind: ErrValidation, Message: "Invalid audio encoding", Err: err}
	}
	if h.cfg.Speech == nil {
		return protocol.Envelope{}, &Error{Kind: ErrCapability, Message: "Audio processing failed: speech not configured"}
	}

	h.logger.Debug("audio received", "client_id", sender, "bytes", len(audio), "format", string(format))

	ctx, cancel := bounded(ctx, h.cfg.SpeechTimeout)
	defer cancel()
	tr, err := h.cfg.Speech.Transcribe(ctx, audio, format)
	if err != nil {
		if errors.Is(err, speech.ErrInvalidAudio) {
			return protocol.Envelope{}, &Error{Kind: ErrValidation, Message: "Audio processing failed: " + err.Error(), Err: err}
		}
		return protocol.Envelope{}, capabilityFailure("Audio processing failed", err)
	}

	return protocol.Success("", protocol.Transcription{
		Transcription: tr.Text,
		Language:      tr.Language,
		Timestamp:     h.timestamp(),
	}), nil
}

func isEmptyJSON(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null" || s == `""`
}

// parseNewState accepts a JSON string such as "on" or a JSON boolean.
func parseNewState(raw json.RawMessage) (hub.Target, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return hub.Off, err
	}
	switch t := v.(type) {
	case bool:
		return hub.Target(t), nil
	case string:
		return hub.ParseTarget(t)
	default:
		return hub.Off, hub.ErrInvalidTarget
	}
}
