// Package bridge connects presentation clients to the hub.
//
// A ConnectionRegistry tracks live client sockets and fans messages out to
// them. A Router decodes each inbound command and hands it to the matching
// Handlers method, converting every failure (including panics) into an error
// envelope so one bad command never ends a connection.
//
// Writes issued by clients go to the hub only. The resulting state reaches the
// mirror through the ingestion loop, so clients first see a provisional
// iot_state_changed and later the authoritative entity_state_changed.
package bridge
