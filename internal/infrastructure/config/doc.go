// Package config loads and validates the tool management configuration.
//
// Values are resolved in three layers: built-in defaults, the YAML file,
// then TOOLMGMT_* environment variables. Validate reports every problem at
// once rather than stopping at the first.
//
// Secrets (JWT secret, MQTT password, InfluxDB token, Monitor MI DSN) are
// expected to come from the environment, not the file.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	timeout := cfg.Registry.FetchTimeoutDuration()
package config
