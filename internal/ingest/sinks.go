package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/greeter-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/greeter-core/internal/mirror"
)

// Sink receives every change the loop applies to the mirror.
type Sink interface {
	Name() string
	Publish(ctx context.Context, s *mirror.State) error
}

// RetainedPublisher is the part of mqtt.Client used by MQTTSink.
type RetainedPublisher interface {
	PublishRetained(topic string, payload []byte) error
}

// MQTTSink relays applied state as retained messages on greeter/state/{entity_id}.
type MQTTSink struct {
	Client RetainedPublisher
}

type relayedState struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged string         `json:"last_changed"`
	LastUpdated string         `json:"last_updated"`
}

// Name implements Sink.
func (MQTTSink) Name() string { return "mqtt" }

// Publish implements Sink.
func (m MQTTSink) Publish(_ context.Context, s *mirror.State) error {
	payload, err := json.Marshal(relayedState{
		EntityID:    s.EntityID,
		State:       s.State,
		Attributes:  s.Attributes,
		LastChanged: s.LastChanged.UTC().Format(time.RFC3339Nano),
		LastUpdated: s.LastUpdated.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}
	return m.Client.PublishRetained(mqtt.Topics{}.EntityState(s.EntityID), payload)
}

// EntityStateWriter is the part of influxdb.Client used by InfluxSink.
type EntityStateWriter interface {
	WriteEntityState(entityID, domain, state string, attributes map[string]any, ts time.Time)
}

// InfluxSink records applied state as entity_state points.
type InfluxSink struct {
	Writer EntityStateWriter
}

// Name implements Sink.
func (InfluxSink) Name() string { return "influxdb" }

// Publish implements Sink. Writes are batched; failures are reported by the
// client's error callback.
func (i InfluxSink) Publish(_ context.Context, s *mirror.State) error {
	i.Writer.WriteEntityState(s.EntityID, s.Domain(), s.State, s.Attributes, s.LastUpdated)
	return nil
}
