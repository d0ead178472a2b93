// Package api implements the HTTP status API of the NCP monitor.
//
// This package provides:
//   - Device status and control session counters per monitored device
//   - The recorded device-model inventory, when the database is enabled
//   - Rediscovery of one or every device
//   - Prometheus metrics at /metrics and a JSON runtime summary
//   - Middleware stack (request ID, logging, recovery, body size limit)
//
// # Graceful Degradation
//
// The inventory is optional. Without it the device endpoints return live
// status only and /api/v1/inventory answers 404.
package api
