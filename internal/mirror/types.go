package mirror

import (
	"fmt"
	"maps"
	"strings"
	"time"
)

// DefaultState is stored for entities created without an explicit state.
const DefaultState = "unknown"

// State is the mirrored state of one hub entity.
type State struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastUpdated time.Time      `json:"last_updated"`
	LastChanged time.Time      `json:"last_changed"`
	Context     map[string]any `json:"context"`
}

// Domain returns the entity's domain, e.g. "light" for "light.kitchen".
func (s *State) Domain() string {
	return Domain(s.EntityID)
}

// Update is a partial change to an entity.
//
// A nil State leaves the stored state (and last_changed) untouched.
// Attributes are merged shallowly into the stored attributes.
type Update struct {
	State      *string
	Attributes map[string]any
}

// Domain returns the text before the first '.' of an entity ID,
// or "" when the ID has no dot.
func Domain(entityID string) string {
	domain, _, found := strings.Cut(entityID, ".")
	if !found {
		return ""
	}
	return domain
}

// ValidateEntityID checks that an ID has a non-empty domain and object part.
func ValidateEntityID(entityID string) error {
	domain, object, found := strings.Cut(entityID, ".")
	if !found || domain == "" || object == "" {
		return fmt.Errorf("%w: %q", ErrInvalidEntityID, entityID)
	}
	return nil
}

// MergeAttributes returns base with every top-level key of patch applied.
// Neither input is modified.
func MergeAttributes(base, patch map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(patch))
	maps.Copy(merged, base)
	maps.Copy(merged, patch)
	return merged
}
