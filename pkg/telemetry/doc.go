// Package telemetry forwards hub readings to MQTT and InfluxDB.
//
// A Bridge watches a connected hub: whenever a device whose IO type is
// listed in the telemetry subscriptions attaches, it arms value
// notifications for the configured mode and hands every decoded value to
// a Sink. Battery levels are polled on an interval.
//
// Two sinks are provided:
//
//   - MQTTPublisher publishes JSON payloads under a topic prefix:
//     <prefix>/<hub>/port/<port>/<mode> for values,
//     <prefix>/<hub>/port/<port>/device (retained) for attach and detach,
//     <prefix>/<hub>/battery (retained) for battery levels.
//   - InfluxWriter writes points to the "port_value", "attached_io" and
//     "battery" measurements through the non-blocking write API.
//
// Sinks are combined with Multi.
package telemetry
