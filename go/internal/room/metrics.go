package room

import (
	"sync"
	"time"

	"github.com/mcdev12/pointing/go/internal/apperror"
)

// MetricsCollector defines the interface for collecting engine metrics
type MetricsCollector interface {
	RecordWrite(name string, success bool, duration time.Duration)
	RecordSnapshot(roomID string, participants int)
	RecordReported(kind apperror.Kind)
}

// NoOpMetricsCollector is a no-op implementation for when metrics aren't needed
type NoOpMetricsCollector struct{}

func (NoOpMetricsCollector) RecordWrite(name string, success bool, duration time.Duration) {}
func (NoOpMetricsCollector) RecordSnapshot(roomID string, participants int)                {}
func (NoOpMetricsCollector) RecordReported(kind apperror.Kind)                             {}

// CountingMetrics keeps running totals in memory.
type CountingMetrics struct {
	mu            sync.Mutex
	writes        int
	failedWrites  int
	snapshots     int
	reported      map[apperror.Kind]int
	writeDuration time.Duration
}

// MetricsSnapshot is a point-in-time copy of CountingMetrics.
type MetricsSnapshot struct {
	Writes        int                   `json:"writes"`
	FailedWrites  int                   `json:"failed_writes"`
	Snapshots     int                   `json:"snapshots"`
	Reported      map[apperror.Kind]int `json:"reported"`
	WriteDuration time.Duration         `json:"write_duration_ns"`
}

func NewCountingMetrics() *CountingMetrics {
	return &CountingMetrics{reported: make(map[apperror.Kind]int)}
}

func (m *CountingMetrics) RecordWrite(name string, success bool, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if !success {
		m.failedWrites++
	}
	m.writeDuration += duration
}

func (m *CountingMetrics) RecordSnapshot(roomID string, participants int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots++
}

func (m *CountingMetrics) RecordReported(kind apperror.Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reported[kind]++
}

// Snapshot returns the current totals.
func (m *CountingMetrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	reported := make(map[apperror.Kind]int, len(m.reported))
	for k, v := range m.reported {
		reported[k] = v
	}
	return MetricsSnapshot{
		Writes:        m.writes,
		FailedWrites:  m.failedWrites,
		Snapshots:     m.snapshots,
		Reported:      reported,
		WriteDuration: m.writeDuration,
	}
}
