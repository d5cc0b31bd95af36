package protocol

import "encoding/json"

// IoTControlData is the data of an iot_control command.
// NewState may be a JSON string ("on", "off", ...) or a boolean.
type IoTControlData struct {
	EntityID string          `json:"entity_id"`
	NewState json.RawMessage `json:"new_state"`
}

// TextCommandData is the data of a text_command command.
type TextCommandData struct {
	EntityID string `json:"entity_id"`
	Text     string `json:"text"`
	History  []any  `json:"history,omitempty"`
}

// AudioCommandData is the data of an audio_command command.
type AudioCommandData struct {
	Audio  string `json:"audio"`  // base64
	Format string `json:"format"` // wav (default) or mp3
}

// DeviceStateRequest is the data of a get_device_state command.
type DeviceStateRequest struct {
	EntityID string `json:"entity_id"`
}

// DeviceState answers get_device_state.
type DeviceState struct {
	EntityID   string         `json:"entity_id"`
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

// StatusReport answers status_request.
type StatusReport struct {
	ConnectedClients int    `json:"connected_clients"`
	HubConnected     bool   `json:"hub_connected"`
	Timestamp        string `json:"timestamp"`
}

// Transcription answers audio_command.
type Transcription struct {
	Transcription string `json:"transcription"`
	Language      string `json:"language,omitempty"`
	Timestamp     string `json:"timestamp"`
}

// EntityStateChanged is broadcast after the mirror applies a hub event.
type EntityStateChanged struct {
	EntityID   string         `json:"entity_id"`
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes"`
	Timestamp  string         `json:"timestamp"`
}

// IoTStateChanged is broadcast when a control command was accepted by the hub
// but before the hub has echoed the resulting state.
type IoTStateChanged struct {
	EntityID  string `json:"entity_id"`
	NewState  string `json:"new_state"`
	Timestamp string `json:"timestamp"`
}
