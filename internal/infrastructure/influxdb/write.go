package influxdb

import (
	"strconv"
	"strings"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementEntityState is the measurement applied entity changes are written to.
const MeasurementEntityState = "entity_state"

// WriteEntityState records one applied state change.
//
// The point is tagged with entity_id and domain. The raw state is kept in the
// "state" string field; a numeric or on/off state is also written as "value".
// Numeric and boolean attributes become "attr_<name>" fields; other attribute
// types are not recorded.
func (c *Client) WriteEntityState(entityID, domain, state string, attributes map[string]any, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writes.WritePoint(entityStatePoint(entityID, domain, state, attributes, ts))
}

func entityStatePoint(entityID, domain, state string, attributes map[string]any, ts time.Time) *write.Point {
	fields := map[string]interface{}{
		"state": state,
	}
	if v, ok := numericState(state); ok {
		fields["value"] = v
	}
	for k, raw := range attributes {
		if v, ok := numericValue(raw); ok {
			fields["attr_"+k] = v
		}
	}

	return write.NewPoint(
		MeasurementEntityState,
		map[string]string{
			"entity_id": entityID,
			"domain":    domain,
		},
		fields,
		ts,
	)
}

func numericState(state string) (float64, bool) {
	switch strings.ToLower(state) {
	case "on", "open", "home", "true":
		return 1, true
	case "off", "closed", "not_home", "false":
		return 0, true
	}
	v, err := strconv.ParseFloat(state, 64)
	return v, err == nil
}

func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}
