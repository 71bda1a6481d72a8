// health.go answers GET /health. There is no control plane for the
// emulator to heartbeat against, so it only ever reports its own
// in-process state, computed fresh on every read.
package wsgw

import (
	"go.uber.org/zap"
)

// healthStatus is the GET /health response shape.
type healthStatus struct {
	Status      string  `json:"status"`
	Connections int     `json:"connections"`
	Uptime      float64 `json:"uptime"`
}

// healthMonitor reports the emulator's live-session count and uptime.
// LiveCount and Uptime are already synchronized, cheap reads, so there is
// nothing worth caching: a cache would only make GET /health answer with
// stale connection counts right after a connect or disconnect.
type healthMonitor struct {
	m   *Manager
	log *zap.SugaredLogger
}

// HealthMonitor is the /health status reporter.
type HealthMonitor = healthMonitor

// NewHealthMonitor constructs a HealthMonitor for m.
func NewHealthMonitor(m *Manager, log *zap.SugaredLogger) *healthMonitor {
	return &healthMonitor{m: m, log: log}
}

// GetStatus computes the current status directly from the Manager.
func (h *healthMonitor) GetStatus() healthStatus {
	return healthStatus{
		Status:      "ok",
		Connections: h.m.LiveCount(),
		Uptime:      h.m.Uptime().Seconds(),
	}
}
