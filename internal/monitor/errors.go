package monitor

import "errors"

// Domain errors for device orchestration.
var (
	// ErrRediscoverRequested ends a session so the device is rediscovered.
	ErrRediscoverRequested = errors.New("monitor: rediscovery requested")

	// ErrUnknownDevice is returned for a device id the supervisor does not run.
	ErrUnknownDevice = errors.New("monitor: unknown device")

	// ErrNoDevices is returned when there is nothing to monitor.
	ErrNoDevices = errors.New("monitor: no devices configured and discovery disabled")

	// ErrNoRegistry is returned when a device needs a registry lookup but no
	// registry client is configured.
	ErrNoRegistry = errors.New("monitor: registry lookup needed but no registry configured")

	// ErrWalkIncomplete is returned with a partial result when some blocks
	// could not be listed.
	ErrWalkIncomplete = errors.New("monitor: device model walk incomplete")

	// ErrAlreadyRunning is returned by a second Start.
	ErrAlreadyRunning = errors.New("monitor: supervisor already running")
)
