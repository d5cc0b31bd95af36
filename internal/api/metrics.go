package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/greeter-core/internal/bridge"
	"github.com/nerrad567/greeter-core/internal/ingest"
	"github.com/nerrad567/greeter-core/internal/speech"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string             `json:"timestamp"`
	Version       string             `json:"version"`
	UptimeSeconds int64              `json:"uptime_seconds"`
	Runtime       RuntimeMetrics     `json:"runtime"`
	WebSocket     WSMetrics          `json:"websocket"`
	Ingest        *ingest.Stats      `json:"ingest,omitempty"`
	Speech        *speech.PoolStats  `json:"speech,omitempty"`
	MQTT          *ConnectionMetrics `json:"mqtt,omitempty"`
	InfluxDB      *ConnectionMetrics `json:"influxdb,omitempty"`
	Database      DatabaseMetrics    `json:"database"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains client connection and command statistics.
type WSMetrics struct {
	ConnectedClients int                `json:"connected_clients"`
	Commands         bridge.RouterStats `json:"commands"`
}

// ConnectionMetrics reports an optional outbound connection.
type ConnectionMetrics struct {
	Connected bool `json:"connected"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleMetrics returns comprehensive system metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.connections.Count(),
			Commands:         s.router.Stats(),
		},
	}

	if s.ingest != nil {
		st := s.ingest.Stats()
		metrics.Ingest = &st
	}
	if s.speech != nil {
		st := s.speech.Stats()
		metrics.Speech = &st
	}
	if s.mqtt != nil {
		metrics.MQTT = &ConnectionMetrics{Connected: s.mqtt.IsConnected()}
	}
	if s.influx != nil {
		metrics.InfluxDB = &ConnectionMetrics{Connected: s.influx.IsConnected()}
	}

	dbStats := s.db.Stats()
	metrics.Database = DatabaseMetrics{
		OpenConnections: dbStats.OpenConnections,
		InUse:           dbStats.InUse,
		Idle:            dbStats.Idle,
		WaitCount:       dbStats.WaitCount,
	}

	writeJSON(w, http.StatusOK, metrics)
}
