// Package monitor turns IS-12 control sessions into metric lines.
//
// A Monitor owns one device. On every connect it reads the root block's
// user label, optionally walks the device model into the inventory, finds
// the objects of every catalogued class, subscribes to them and, when
// enabled, reads their current values once. From then on each
// property-changed event is encoded by the mapping package and written to
// a Sink.
//
// The Supervisor runs a Monitor per device with independent reconnect
// backoff, resolves devices through a Resolver (normally the IS-04
// registry) and can list the registry for new devices.
//
// HealthReporter publishes supervisor state over MQTT and as points to the
// time-series sinks; CommandHandler accepts rediscovery requests over MQTT.
package monitor
