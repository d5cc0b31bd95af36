package hub

import (
	"fmt"
	"strings"
)

// EntityState is an entity as reported by the hub.
type EntityState struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged string         `json:"last_changed,omitempty"`
	LastUpdated string         `json:"last_updated,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
}

// DomainGroup is the set of entities sharing a domain.
type DomainGroup struct {
	Domain   string        `json:"domain"`
	Entities []EntityState `json:"entities"`
}

// Event is a state_changed notification from the event stream.
// NewState is nil when the entity was removed from the hub.
type Event struct {
	EntityID string
	NewState *EntityState
}

// Service is a hub service name within a domain.
type Service string

// Services used to switch entities.
const (
	ServiceTurnOn  Service = "turn_on"
	ServiceTurnOff Service = "turn_off"
)

// Target is a requested on/off state.
type Target bool

// Target values.
const (
	On  Target = true
	Off Target = false
)

func (t Target) String() string {
	if t {
		return "on"
	}
	return "off"
}

// Service returns the service that drives an entity to t.
func (t Target) Service() Service {
	if t {
		return ServiceTurnOn
	}
	return ServiceTurnOff
}

// ParseTarget accepts boolean-like words (on/off, true/false, 1/0, yes/no,
// turn_on/turn_off) in any case.
func ParseTarget(s string) (Target, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "true", "1", "yes", "turn_on":
		return On, nil
	case "off", "false", "0", "no", "turn_off":
		return Off, nil
	}
	return Off, fmt.Errorf("%w: %q", ErrInvalidTarget, s)
}

// domainOf returns the text before the first '.' of an entity ID.
func domainOf(entityID string) string {
	domain, _, _ := strings.Cut(entityID, ".")
	return domain
}
