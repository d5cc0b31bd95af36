// Package ingest keeps the mirror in step with the hub.
//
// A Loop holds the single hub event subscription for the process. Events for
// tracked entities are written to the mirror, broadcast to every client as
// entity_state_changed and handed to optional sinks (MQTT relay, InfluxDB).
//
// The tracked set is read from the mirror once when Run starts and is not
// refreshed; entities added later are picked up on the next restart.
//
// Sessions end on handshake failure or disconnect. Run restarts them with
// jittered exponential backoff until its context is cancelled or the
// configured attempt limit is reached. A session that completes the handshake
// resets the attempt count.
package ingest
