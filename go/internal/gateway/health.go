package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mcdev12/pointing/go/internal/room"
)

// ConnectionChecker reports whether the remote store is reachable.
type ConnectionChecker interface {
	IsConnected() bool
}

// MetricsSource exposes engine counters.
type MetricsSource interface {
	Snapshot() room.MetricsSnapshot
}

// HealthStatus is the outcome of a health check.
type HealthStatus struct {
	Healthy          bool           `json:"healthy"`
	RemoteConnected  bool           `json:"remote_connected"`
	WebsocketClients int            `json:"websocket_clients"`
	Writes           int            `json:"writes"`
	FailedWrites     int            `json:"failed_writes"`
	Snapshots        int            `json:"snapshots"`
	Reported         map[string]int `json:"reported,omitempty"`
	Errors           []string       `json:"errors"`
}

// HealthChecker aggregates remote connectivity, engine metrics and the
// websocket pool. Both remote and metrics may be nil.
type HealthChecker struct {
	remote      ConnectionChecker
	metrics     MetricsSource
	connections *ConnectionManager
	// failureRatio is the share of failed writes above which the engine is
	// reported unhealthy, once minWrites have been attempted.
	failureRatio float64
	minWrites    int
}

func NewHealthChecker(remote ConnectionChecker, metrics MetricsSource, connections *ConnectionManager) *HealthChecker {
	return &HealthChecker{
		remote:       remote,
		metrics:      metrics,
		connections:  connections,
		failureRatio: 0.5,
		minWrites:    10,
	}
}

func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{Healthy: true, RemoteConnected: true, Errors: []string{}}

	if h.remote != nil && !h.remote.IsConnected() {
		status.RemoteConnected = false
		status.Healthy = false
		status.Errors = append(status.Errors, "remote store disconnected")
	}

	if h.connections != nil {
		status.WebsocketClients = h.connections.Stats().TotalConnections
	}

	if h.metrics != nil {
		m := h.metrics.Snapshot()
		status.Writes = m.Writes
		status.FailedWrites = m.FailedWrites
		status.Snapshots = m.Snapshots
		if len(m.Reported) > 0 {
			status.Reported = make(map[string]int, len(m.Reported))
			for kind, n := range m.Reported {
				status.Reported[string(kind)] = n
			}
		}
		if m.Writes >= h.minWrites && float64(m.FailedWrites)/float64(m.Writes) > h.failureRatio {
			status.Healthy = false
			status.Errors = append(status.Errors, fmt.Sprintf("high write failure rate: %d of %d", m.FailedWrites, m.Writes))
		}
	}

	return status
}

// ServeHTTP handles GET /api/health. Unhealthy answers 503.
func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

// HandleMetrics handles GET /metrics in the Prometheus text format.
func (h *HealthChecker) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	status := h.Check(r.Context())

	var b strings.Builder
	gauge := func(name, help string, v int) {
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s gauge\n%s %d\n\n", name, help, name, name, v)
	}
	counter := func(name, help string, v int) {
		fmt.Fprintf(&b, "# HELP %s %s\n# TYPE %s counter\n%s %d\n\n", name, help, name, name, v)
	}

	gauge("pointing_healthy", "Whether the client is healthy", boolToInt(status.Healthy))
	gauge("pointing_remote_connected", "Whether the remote store is connected", boolToInt(status.RemoteConnected))
	gauge("pointing_websocket_clients", "Connected websocket clients", status.WebsocketClients)
	counter("pointing_remote_writes_total", "Remote writes attempted", status.Writes)
	counter("pointing_remote_write_failures_total", "Remote writes that failed", status.FailedWrites)
	counter("pointing_snapshots_total", "Room snapshots applied", status.Snapshots)

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(b.String()))
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
