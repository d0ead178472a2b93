package monitor

import (
	"context"
	"math"
	"time"

	"github.com/nerrad567/ncp-monitor/internal/infrastructure/mqtt"
)

const (
	defaultHealthInterval = 30 * time.Second

	healthMeasurement = "ncpmonitor_health"
)

// Aggregate health states.
const (
	HealthStarting = "starting"
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
	HealthStopping = "stopping"
)

// StatusSource lists monitor statuses. *Supervisor implements it.
type StatusSource interface {
	Statuses() []Status
}

// Publisher sends retained JSON. *mqtt.Client implements it.
type Publisher interface {
	PublishJSON(topic string, v any) error
}

// PointWriter writes one structured point. The influxdb and tsdb clients
// implement it.
type PointWriter interface {
	WritePoint(measurement string, tags map[string]string, fields map[string]interface{})
}

// HealthConfig configures a HealthReporter.
type HealthConfig struct {
	SiteID   string
	Version  string
	Interval time.Duration
	Topics   mqtt.Topics
}

// Health is the aggregate payload published to the health topic.
type Health struct {
	Status        string    `json:"status"`
	SiteID        string    `json:"site_id"`
	Version       string    `json:"version,omitempty"`
	DevicesTotal  int       `json:"devices_total"`
	DevicesReady  int       `json:"devices_ready"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	Timestamp     time.Time `json:"timestamp"`
}

// HealthReporter periodically publishes monitor health over MQTT and
// writes it as points to the time-series sinks. Both outputs are optional.
type HealthReporter struct {
	cfg       HealthConfig
	source    StatusSource
	publisher Publisher
	points    []PointWriter
	logger    Logger
	started   time.Time
	now       func() time.Time
}

// NewHealthReporter creates a reporter. publisher may be nil and nil point
// writers are ignored.
func NewHealthReporter(cfg HealthConfig, source StatusSource, publisher Publisher, logger Logger, points ...PointWriter) *HealthReporter {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultHealthInterval
	}
	if logger == nil {
		logger = nopLogger{}
	}
	h := &HealthReporter{
		cfg:       cfg,
		source:    source,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
	for _, p := range points {
		if p != nil {
			h.points = append(h.points, p)
		}
	}
	h.started = h.now()
	return h
}

// Run reports immediately and then every interval until ctx is cancelled,
// when it publishes a final "stopping" report.
func (h *HealthReporter) Run(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	h.Report(false)
	for {
		select {
		case <-ctx.Done():
			h.Report(true)
			return
		case <-ticker.C:
			h.Report(false)
		}
	}
}

// Report publishes one round of health and returns the aggregate.
func (h *HealthReporter) Report(stopping bool) Health {
	statuses := h.source.Statuses()
	health := h.aggregate(statuses, stopping)

	if h.publisher != nil {
		if err := h.publisher.PublishJSON(h.cfg.Topics.Health(), health); err != nil {
			h.logger.Debug("publishing health failed", "error", err)
		}
		for _, st := range statuses {
			if err := h.publisher.PublishJSON(h.cfg.Topics.DeviceHealth(st.DeviceID), st); err != nil {
				h.logger.Debug("publishing device health failed", "device_id", st.DeviceID, "error", err)
			}
		}
	}

	for _, st := range statuses {
		tags := map[string]string{"site_id": h.cfg.SiteID, TagDeviceID: st.DeviceID}
		fields := map[string]interface{}{
			"ready":             st.Ready(),
			"state":             st.State,
			"monitored_objects": st.MonitoredObjects,
			"sessions":          counter(st.Sessions),
			"notifications":     counter(st.NotificationsReceived),
			"lines_written":     counter(st.LinesWritten),
			"lines_dropped":     counter(st.LinesDropped),
		}
		for _, p := range h.points {
			p.WritePoint(healthMeasurement, tags, fields)
		}
	}
	return health
}

func (h *HealthReporter) aggregate(statuses []Status, stopping bool) Health {
	now := h.now()
	health := Health{
		SiteID:        h.cfg.SiteID,
		Version:       h.cfg.Version,
		DevicesTotal:  len(statuses),
		UptimeSeconds: int64(now.Sub(h.started).Seconds()),
		Timestamp:     now.UTC(),
	}

	var sessions uint64
	for _, st := range statuses {
		if st.Ready() {
			health.DevicesReady++
		}
		sessions += st.Sessions
	}

	switch {
	case stopping:
		health.Status = HealthStopping
	case len(statuses) == 0 || sessions == 0:
		health.Status = HealthStarting
	case health.DevicesReady == len(statuses):
		health.Status = HealthHealthy
	default:
		health.Status = HealthDegraded
	}
	return health
}

// counter converts a process counter to the signed integer field type.
func counter(n uint64) int64 {
	return int64(min(n, math.MaxInt64)) //nolint:gosec // clamped
}
