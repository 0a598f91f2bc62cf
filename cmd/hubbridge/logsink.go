package main

import (
	"log/slog"

	"github.com/mlsorensen/gohub/pkg/telemetry"
)

// logSink writes telemetry to the log when no broker or database is configured.
type logSink struct {
	logger *slog.Logger
}

func (s logSink) Value(v telemetry.Sample) error {
	s.logger.Info("port value", "port", v.PortID, "mode", v.Mode, "value", v.Value)
	return nil
}

func (s logSink) Attach(e telemetry.AttachEvent) error {
	s.logger.Info("port "+e.Kind.String(), "port", e.Entry.PortID, "io_type", e.Entry.IOType.String())
	return nil
}

func (s logSink) Battery(b telemetry.BatteryReading) error {
	s.logger.Info("battery", "level", b.Level)
	return nil
}

func (s logSink) Close() error { return nil }
