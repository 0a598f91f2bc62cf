// Package transform converts raw port values to numbers and back.
//
// Each Transformer matches one sensor mode layout. FromRawValue decodes the
// raw bytes of a PortValueSingle message, ToValueThreshold encodes a minimum
// change for PortInputFormatSetupSingle in the same layout.
package transform

import (
	"errors"
	"fmt"
	"math"

	"github.com/mlsorensen/gohub/pkg/lwp"
)

var (
	// ErrShortValue is returned when a raw value holds fewer bytes than the layout needs.
	ErrShortValue = errors.New("transform: raw value too short")

	// ErrNoCalibration is returned by Voltage when no divisor was supplied.
	ErrNoCalibration = errors.New("transform: voltage divisor not calibrated")
)

// Transformer decodes raw mode values and encodes notification thresholds.
type Transformer interface {
	FromRawValue(raw []byte) (float64, error)
	ToValueThreshold(v float64) []byte
}

var (
	_ Transformer = Speed{}
	_ Transformer = Position{}
	_ Transformer = AbsolutePosition{}
	_ Transformer = Temperature{}
	_ Transformer = Voltage{}
)

func need(raw []byte, n int) error {
	if len(raw) < n {
		return fmt.Errorf("%w: need %d bytes, got %d", ErrShortValue, n, len(raw))
	}
	return nil
}

// Speed is a signed one byte percentage passed through unchanged.
type Speed struct{}

func (Speed) FromRawValue(raw []byte) (float64, error) {
	if err := need(raw, 1); err != nil {
		return 0, err
	}
	return float64(int8(raw[0])), nil
}

// ToValueThreshold saturates at ±127 rather than wrapping.
func (Speed) ToValueThreshold(v float64) []byte {
	v = math.Max(math.MinInt8+1, math.Min(math.MaxInt8, math.Round(v)))
	return []byte{byte(int8(v))}
}

// Position is a signed 32-bit count of degrees.
type Position struct{}

func (Position) FromRawValue(raw []byte) (float64, error) {
	if err := need(raw, 4); err != nil {
		return 0, err
	}
	return float64(lwp.ReadIntLE(raw[:4])), nil
}

func (Position) ToValueThreshold(v float64) []byte {
	return lwp.PutUintLE(uint64(int64(math.Round(v))), 4)
}

// AbsolutePosition is a signed 16-bit angle relative to the motor's zero mark.
type AbsolutePosition struct{}

func (AbsolutePosition) FromRawValue(raw []byte) (float64, error) {
	if err := need(raw, 2); err != nil {
		return 0, err
	}
	return float64(lwp.ReadIntLE(raw[:2])), nil
}

func (AbsolutePosition) ToValueThreshold(v float64) []byte {
	return lwp.PutUintLE(uint64(int64(math.Round(v))), 2)
}

// TemperatureScale converts raw temperature units to degrees Celsius.
const TemperatureScale = 0.1

// Temperature is a signed 16-bit value in tenths of a degree Celsius.
type Temperature struct{}

func (Temperature) FromRawValue(raw []byte) (float64, error) {
	if err := need(raw, 2); err != nil {
		return 0, err
	}
	return float64(lwp.ReadIntLE(raw[:2])) * TemperatureScale, nil
}

func (Temperature) ToValueThreshold(v float64) []byte {
	return lwp.PutUintLE(uint64(int64(math.Round(v/TemperatureScale))), 2)
}

// Voltage is an unsigned 16-bit reading divided by a per-hub calibration divisor.
type Voltage struct {
	Divisor float64
}

// VoltageFromModeInfo builds a Voltage from the RAW and SI maximums a hub
// reports for its voltage mode.
func VoltageFromModeInfo(rawMax, siMax float32) Voltage {
	if siMax == 0 {
		return Voltage{}
	}
	return Voltage{Divisor: float64(rawMax) / float64(siMax)}
}

func (t Voltage) FromRawValue(raw []byte) (float64, error) {
	if t.Divisor == 0 {
		return 0, ErrNoCalibration
	}
	if err := need(raw, 2); err != nil {
		return 0, err
	}
	return float64(lwp.ReadUintLE(raw[:2])) / t.Divisor, nil
}

func (t Voltage) ToValueThreshold(v float64) []byte {
	d := t.Divisor
	if d == 0 {
		d = 1
	}
	return lwp.PutUintLE(uint64(math.Round(math.Abs(v)*d)), 2)
}

// DeltaInterval turns threshold bytes into the delta carried by
// PortInputFormatSetupSingle. The hub compares deltas as magnitudes, so a
// negative threshold arms the same interval as its absolute value.
func DeltaInterval(threshold []byte) uint32 {
	if len(threshold) == 0 {
		return 1
	}
	if len(threshold) > 4 {
		threshold = threshold[:4]
	}
	v := lwp.ReadIntLE(threshold)
	if v < 0 {
		v = -v
	}
	return uint32(v)
}
