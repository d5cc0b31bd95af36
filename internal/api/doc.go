// Package api implements the HTTP server of Greeter Core.
//
// This package provides:
//   - Client WebSocket endpoints (/ws/unified, /ws/topic) served by the bridge
//   - Health, status and metrics endpoints
//   - Read-only hub state routes
//   - Middleware stack (request ID, logging, recovery, CORS)
//
// # Graceful Degradation
//
// Only the database is required. The hub, MQTT and InfluxDB connections are
// reported when present; a failing optional connection degrades health but
// never takes the server down.
package api
