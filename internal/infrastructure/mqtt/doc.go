// Package mqtt is the monitor's broker connection, built on
// paho.mqtt.golang.
//
// The monitor announces itself with a retained {prefix}/status message
// (a Last Will covers crashes), publishes retained session health under
// {prefix}/health, optionally streams encoded lines to
// {prefix}/metrics/{measurement}, and listens for operator commands on
// {prefix}/command/#. Subscriptions are replayed after every reconnect.
package mqtt
