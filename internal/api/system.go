package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/greeter-core/internal/hub"
)

const healthCheckTimeout = 2 * time.Second

// Health check results.
const (
	healthOK       = "ok"
	healthDegraded = "degraded"
	healthDown     = "unhealthy"
)

// HealthResponse is returned by /api/v1/health.
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks"`
}

// StatusResponse is returned by /api/v1/status.
type StatusResponse struct {
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Connections   int    `json:"connections"`
	HubConnected  bool   `json:"hub_connected"`
	IngestStatus  string `json:"ingest_status,omitempty"`
}

// handleHealth checks the database and every optional connection. Only a
// database failure makes the service unhealthy.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := HealthResponse{Status: healthOK, Version: s.version, Checks: map[string]string{}}
	code := http.StatusOK

	if err := s.db.HealthCheck(ctx); err != nil {
		resp.Checks["database"] = err.Error()
		resp.Status = healthDown
		code = http.StatusServiceUnavailable
	} else {
		resp.Checks["database"] = healthOK
	}

	optional := []struct {
		name  string
		check func(context.Context) error
	}{
		{"hub", checkOf(s.hub)},
		{"mqtt", checkOf(s.mqtt)},
		{"influxdb", checkOf(s.influx)},
	}
	for _, c := range optional {
		if c.check == nil {
			continue
		}
		if err := c.check(ctx); err != nil {
			resp.Checks[c.name] = err.Error()
			if resp.Status == healthOK {
				resp.Status = healthDegraded
			}
			continue
		}
		resp.Checks[c.name] = healthOK
	}

	writeJSON(w, code, resp)
}

type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// checkOf returns nil for an absent component.
func checkOf(c healthChecker) func(context.Context) error {
	if c == nil {
		return nil
	}
	return c.HealthCheck
}

// handleStatus reports live connections and the hub session.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Connections:   s.connections.Count(),
	}
	if s.ingest != nil {
		resp.HubConnected = s.ingest.Connected()
		resp.IngestStatus = string(s.ingest.Stats().Status)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleHubStates returns every hub entity grouped by domain.
func (s *Server) handleHubStates(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "hub not configured")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.hubTimeout)
	defer cancel()

	groups, err := s.hub.Grouped(ctx)
	if err != nil {
		s.writeHubError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

// handleHubDomainStates returns the hub entities of one domain.
func (s *Server) handleHubDomainStates(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "hub not configured")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.hubTimeout)
	defer cancel()

	states, err := s.hub.StatesByDomain(ctx, chi.URLParam(r, "domain"))
	if err != nil {
		s.writeHubError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, states)
}

func (s *Server) writeHubError(w http.ResponseWriter, err error) {
	s.logger.Warn("hub request failed", "error", err)
	switch {
	case errors.Is(err, hub.ErrNotFound):
		writeNotFound(w, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, ErrCodeUpstream, "hub request timed out")
	default:
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, "hub request failed")
	}
}
