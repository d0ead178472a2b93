package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/ncp-monitor/internal/monitor"
)

// SystemMetrics is the JSON runtime summary at /api/v1/metrics. The full
// counter set is exported for Prometheus at /metrics.
type SystemMetrics struct {
	Timestamp     string           `json:"timestamp"`
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Runtime       RuntimeMetrics   `json:"runtime"`
	Devices       DeviceMetrics    `json:"devices"`
	Database      *DatabaseMetrics `json:"database,omitempty"`
}

// RuntimeMetrics is a snapshot of the Go runtime.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// DeviceMetrics totals the monitors.
type DeviceMetrics struct {
	Total            int            `json:"total"`
	ByState          map[string]int `json:"by_state"`
	MonitoredObjects int            `json:"monitored_objects"`
	Notifications    uint64         `json:"notifications_received"`
	LinesWritten     uint64         `json:"lines_written"`
	LinesFiltered    uint64         `json:"lines_filtered"`
	LinesDropped     uint64         `json:"lines_dropped"`
}

// DatabaseMetrics is the SQLite pool state.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime:       readRuntime(),
		Devices:       summarizeDevices(s.monitors.Statuses()),
	}
	if s.db != nil {
		st := s.db.Stats()
		metrics.Database = &DatabaseMetrics{
			OpenConnections: st.OpenConnections,
			InUse:           st.InUse,
			Idle:            st.Idle,
			WaitCount:       st.WaitCount,
		}
	}
	writeJSON(w, http.StatusOK, metrics)
}

const mib = 1 << 20

func readRuntime() RuntimeMetrics {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return RuntimeMetrics{
		Goroutines:    runtime.NumGoroutine(),
		MemoryAllocMB: float64(ms.Alloc) / mib,
		MemoryTotalMB: float64(ms.TotalAlloc) / mib,
		NumGC:         ms.NumGC,
	}
}

func summarizeDevices(statuses []monitor.Status) DeviceMetrics {
	d := DeviceMetrics{ByState: make(map[string]int, len(statuses))}
	for _, st := range statuses {
		d.Total++
		d.ByState[st.State]++
		d.MonitoredObjects += st.MonitoredObjects
		d.Notifications += st.NotificationsReceived
		d.LinesWritten += st.LinesWritten
		d.LinesFiltered += st.LinesFiltered
		d.LinesDropped += st.LinesDropped
	}
	return d
}
