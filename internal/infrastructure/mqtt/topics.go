package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every topic the monitor publishes or
// subscribes to.
const TopicPrefix = "ncpmonitor"

// Topics builds monitor topic names:
//
//	ncpmonitor/status                      online/offline (retained, LWT)
//	ncpmonitor/health                      aggregate health (retained)
//	ncpmonitor/health/{device_id}          per-device session health (retained)
//	ncpmonitor/metrics/{measurement}       encoded line protocol
//	ncpmonitor/command/{action}            inbound operator commands
//	ncpmonitor/command/{action}/{device}   inbound commands for one device
//
// The zero value uses TopicPrefix.
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return TopicPrefix
	}
	return strings.TrimRight(t.Prefix, "/")
}

// Status returns the retained online/offline topic.
func (t Topics) Status() string {
	return t.prefix() + "/status"
}

// Health returns the aggregate health topic.
func (t Topics) Health() string {
	return t.prefix() + "/health"
}

// DeviceHealth returns the health topic for one device.
//
// Example: ncpmonitor/health/58f6b536-ca4c-43fd-880a-9df2501fc125
func (t Topics) DeviceHealth(deviceID string) string {
	return fmt.Sprintf("%s/health/%s", t.prefix(), sanitiseLevel(deviceID))
}

// Metrics returns the topic encoded lines for a measurement go to.
//
// Example: ncpmonitor/metrics/receiver_monitor
func (t Topics) Metrics(measurement string) string {
	return fmt.Sprintf("%s/metrics/%s", t.prefix(), sanitiseLevel(measurement))
}

// Command returns the topic for an operator command.
//
// Example: ncpmonitor/command/rediscover
func (t Topics) Command(action string) string {
	return fmt.Sprintf("%s/command/%s", t.prefix(), sanitiseLevel(action))
}

// DeviceCommand returns the topic for an operator command aimed at one device.
//
// Example: ncpmonitor/command/rediscover/dev-1
func (t Topics) DeviceCommand(action, deviceID string) string {
	return fmt.Sprintf("%s/%s", t.Command(action), sanitiseLevel(deviceID))
}

// AllCommands matches every command topic, with or without a device level.
//
// Pattern: ncpmonitor/command/#
func (t Topics) AllCommands() string {
	return t.prefix() + "/command/#"
}

// AllHealth matches the aggregate and per-device health topics.
//
// Pattern: ncpmonitor/health/#
func (t Topics) AllHealth() string {
	return t.prefix() + "/health/#"
}

// ParseCommand splits a command topic into its action and optional device.
// ok is false for topics outside the command tree.
func (t Topics) ParseCommand(topic string) (action, deviceID string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.prefix()+"/command/")
	if !found || rest == "" {
		return "", "", false
	}
	action, deviceID, _ = strings.Cut(rest, "/")
	if action == "" || strings.Contains(deviceID, "/") {
		return "", "", false
	}
	return action, deviceID, true
}

// sanitiseLevel keeps an identifier inside one topic level: wildcards and
// separators are replaced.
func sanitiseLevel(s string) string {
	return strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(s)
}
