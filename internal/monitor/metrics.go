package monitor

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/ncp-monitor/internal/ncp"
)

const metricsNamespace = "ncpmonitor"

// Drop reasons for the lines_dropped_total counter.
const (
	dropUnknownObject = "unknown_object"
	dropEncodeError   = "encode_error"
	dropSinkError     = "sink_error"
)

// Metrics holds the Prometheus collectors shared by every monitor.
// A nil *Metrics records nothing.
type Metrics struct {
	commandsSent     *prometheus.CounterVec // by device
	commandErrors    *prometheus.CounterVec // by device
	notifications    *prometheus.CounterVec // by device
	linesEncoded     *prometheus.CounterVec // by device, table
	linesFiltered    *prometheus.CounterVec // by device
	linesDropped     *prometheus.CounterVec // by device, reason
	sinkErrors       *prometheus.CounterVec // by sink
	sessionsStarted  *prometheus.CounterVec // by device
	sessionState     *prometheus.GaugeVec   // by device; value is ncp.State
	monitoredObjects *prometheus.GaugeVec   // by device
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      name,
			Help:      help,
		}, labels)
	}
	gauge := func(name, help string, labels ...string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      name,
			Help:      help,
		}, labels)
	}

	m := &Metrics{
		commandsSent:     counter("commands_sent_total", "Control commands sent to devices.", "device"),
		commandErrors:    counter("command_errors_total", "Control commands that failed or returned an error status.", "device"),
		notifications:    counter("notifications_received_total", "Property-changed events received.", "device"),
		linesEncoded:     counter("lines_encoded_total", "Metric lines written to the sinks.", "device", "table"),
		linesFiltered:    counter("lines_filtered_total", "Events with no mapped field.", "device"),
		linesDropped:     counter("lines_dropped_total", "Events that produced no delivered line.", "device", "reason"),
		sinkErrors:       counter("sink_errors_total", "Failed sink writes.", "sink"),
		sessionsStarted:  counter("sessions_started_total", "Control sessions opened.", "device"),
		sessionState:     gauge("session_state", "Control session state (0 disconnected .. 5 faulted).", "device"),
		monitoredObjects: gauge("monitored_objects", "Objects subscribed to per device.", "device"),
	}

	for _, c := range []prometheus.Collector{
		m.commandsSent, m.commandErrors, m.notifications, m.linesEncoded, m.linesFiltered,
		m.linesDropped, m.sinkErrors, m.sessionsStarted, m.sessionState, m.monitoredObjects,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) commandSent(device string, err error) {
	if m == nil {
		return
	}
	m.commandsSent.WithLabelValues(device).Inc()
	if err != nil {
		m.commandErrors.WithLabelValues(device).Inc()
	}
}

func (m *Metrics) notification(device string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(device).Inc()
}

func (m *Metrics) lineEncoded(device, table string) {
	if m == nil {
		return
	}
	m.linesEncoded.WithLabelValues(device, table).Inc()
}

func (m *Metrics) lineFiltered(device string) {
	if m == nil {
		return
	}
	m.linesFiltered.WithLabelValues(device).Inc()
}

func (m *Metrics) lineDropped(device, reason string) {
	if m == nil {
		return
	}
	m.linesDropped.WithLabelValues(device, reason).Inc()
}

func (m *Metrics) sinkError(sink string) {
	if m == nil {
		return
	}
	m.sinkErrors.WithLabelValues(sink).Inc()
}

func (m *Metrics) sessionStarted(device string) {
	if m == nil {
		return
	}
	m.sessionsStarted.WithLabelValues(device).Inc()
}

func (m *Metrics) setState(device string, state ncp.State) {
	if m == nil {
		return
	}
	m.sessionState.WithLabelValues(device).Set(float64(state))
}

func (m *Metrics) setMonitored(device string, n int) {
	if m == nil {
		return
	}
	m.monitoredObjects.WithLabelValues(device).Set(float64(n))
}
