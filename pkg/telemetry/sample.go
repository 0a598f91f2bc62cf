package telemetry

import (
	"errors"
	"time"

	"github.com/mlsorensen/gohub/pkg/attachedio"
	"github.com/mlsorensen/gohub/pkg/lwp"
)

// Sample is one decoded port value.
type Sample struct {
	Hub    string
	PortID byte
	IOType lwp.IOType
	ModeID byte
	Mode   string
	Value  float64
	Time   time.Time
}

// AttachEvent reports a device attaching to or detaching from a port.
type AttachEvent struct {
	Hub   string
	Kind  attachedio.EventKind
	Entry attachedio.Entry
	Time  time.Time
}

// BatteryReading is a battery level in percent.
type BatteryReading struct {
	Hub   string
	Level uint8
	Time  time.Time
}

// Sink receives telemetry from a Bridge.
type Sink interface {
	Value(s Sample) error
	Attach(e AttachEvent) error
	Battery(b BatteryReading) error
	Close() error
}

// Multi fans every call out to all sinks and joins their errors.
type Multi []Sink

func (m Multi) Value(s Sample) error {
	var errs []error
	for _, sink := range m {
		errs = append(errs, sink.Value(s))
	}
	return errors.Join(errs...)
}

func (m Multi) Attach(e AttachEvent) error {
	var errs []error
	for _, sink := range m {
		errs = append(errs, sink.Attach(e))
	}
	return errors.Join(errs...)
}

func (m Multi) Battery(b BatteryReading) error {
	var errs []error
	for _, sink := range m {
		errs = append(errs, sink.Battery(b))
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, sink := range m {
		errs = append(errs, sink.Close())
	}
	return errors.Join(errs...)
}
