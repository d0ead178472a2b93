// Package logging builds the monitor's log/slog logger from the logging
// section of the config: JSON or text output to stdout, stderr or a file,
// with service and version attached to every record.
//
// Sessions log through a component child carrying the device ID:
//
//	log := logging.New(cfg.Logging, version)
//	sessionLog := log.Component("ncp").With("device_id", id)
//
// Printf and Println let paho write into the same stream at debug level.
// Credentials from the config must never be passed as attributes.
package logging
