package telemetry

import "errors"

var (
	// ErrDisabled is returned when connecting a sink whose config section is disabled.
	ErrDisabled = errors.New("telemetry: sink disabled")

	// ErrNotConnected is returned when publishing on a disconnected MQTT client.
	ErrNotConnected = errors.New("telemetry: not connected")

	// ErrConnectionFailed is returned when the initial connection attempt fails.
	ErrConnectionFailed = errors.New("telemetry: connection failed")

	// ErrPublishFailed is returned when an MQTT publish fails or times out.
	ErrPublishFailed = errors.New("telemetry: publish failed")
)
