// Package config loads the monitor's YAML configuration, applies
// NCPMONITOR_* environment overrides on top, and validates the result.
//
// Secrets (the MQTT password and the InfluxDB token) are expected to come
// from the environment, not the file:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	for _, d := range cfg.Devices { ... }
package config
