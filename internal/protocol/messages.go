// Package protocol defines the JSON messages exchanged with presentation clients.
package protocol

import (
	"encoding/json"
	"time"
)

// Inbound is a command sent by a client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ParseData unmarshals the command data into target. Missing data decodes
// as an empty object.
func (m *Inbound) ParseData(target any) error {
	if len(m.Data) == 0 || string(m.Data) == "null" {
		return json.Unmarshal([]byte("{}"), target)
	}
	return json.Unmarshal(m.Data, target)
}

// Envelope is every message sent to a client: replies and broadcasts.
type Envelope struct {
	Status    string `json:"status"`
	Type      string `json:"type,omitempty"`
	Message   string `json:"message,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Encode marshals the envelope to JSON.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Envelope statuses.
const (
	StatusSuccess          = "success"
	StatusError            = "error"
	StatusSynchronizingIoT = "synchronizing_iot"
)

// Outbound message types.
const (
	TypePong               = "pong"
	TypeDeviceState        = "device_state"
	TypeEntityStateChanged = "entity_state_changed" // authoritative, from the hub
	TypeIoTStateChanged    = "iot_state_changed"    // provisional, before the hub confirms
)

// Kind is an inbound command type.
type Kind string

// Inbound command kinds.
const (
	KindIoTControl     Kind = "iot_control"
	KindTextCommand    Kind = "text_command"
	KindAudioCommand   Kind = "audio_command"
	KindStatusRequest  Kind = "status_request"
	KindPing           Kind = "ping"
	KindGetDeviceState Kind = "get_device_state"
)

// Kinds lists every command kind the router accepts.
var Kinds = []Kind{
	KindIoTControl,
	KindTextCommand,
	KindAudioCommand,
	KindStatusRequest,
	KindPing,
	KindGetDeviceState,
}

// ParseKind reports whether s names a known command kind.
func ParseKind(s string) (Kind, bool) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// Timestamp formats t the way every envelope carries it.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Success builds a success reply.
func Success(msgType string, data any) Envelope {
	return Envelope{Status: StatusSuccess, Type: msgType, Data: data}
}

// Error builds an error reply.
func Error(message string) Envelope {
	return Envelope{Status: StatusError, Message: message}
}
