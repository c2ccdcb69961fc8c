package influxdb

import "errors"

var (
	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrConnectionFailed wraps a failed or unhealthy startup ping.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrNotConnected is reported by HealthCheck on a nil or closed client.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrUnhealthy is reported when the server answers a ping as not ready.
	ErrUnhealthy = errors.New("influxdb: server not healthy")
)
