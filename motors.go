package gohub

import (
	"context"

	"github.com/mlsorensen/gohub/pkg/lwp"
	"github.com/mlsorensen/gohub/pkg/lwp/transform"
	"github.com/mlsorensen/gohub/pkg/taskqueue"
)

// Input modes of tacho motors.
const (
	MotorModeSpeed            byte = 0x01
	MotorModePosition         byte = 0x02
	MotorModeAbsolutePosition byte = 0x03
)

// speedProfile applies the acceleration and deceleration times set with
// SetAccelerationTime and SetDecelerationTime.
const speedProfile = lwp.ProfileAcceleration | lwp.ProfileDeceleration

// Motors drives motors attached to the hub.
//
// Every command waits for the hub's feedback and returns the outcome:
// StateCompleted once the hub finished it, or StateDiscarded when a newer
// command for the same port replaced it. Discarded is not an error.
type Motors struct {
	h *Hub
}

// Motors returns the motor API of the hub.
func (h *Hub) Motors() *Motors { return &Motors{h: h} }

// StartPower drives a motor at power percent (-100..100) without speed regulation.
func (m *Motors) StartPower(ctx context.Context, port byte, power int8) (taskqueue.State, error) {
	return m.h.output(ctx, port, lwp.StartPower(power))
}

// Brake stops a motor actively.
func (m *Motors) Brake(ctx context.Context, port byte) (taskqueue.State, error) {
	return m.StartPower(ctx, port, lwp.PowerBrake)
}

// Float lets a motor coast to a stop.
func (m *Motors) Float(ctx context.Context, port byte) (taskqueue.State, error) {
	return m.StartPower(ctx, port, lwp.PowerFloat)
}

// StartSpeed runs a tacho motor at speed percent until told otherwise.
func (m *Motors) StartSpeed(ctx context.Context, port byte, speed int8, maxPower uint8) (taskqueue.State, error) {
	return m.h.output(ctx, port, lwp.StartSpeed{Speed: speed, MaxPower: maxPower, Profile: speedProfile})
}

// StartSpeedForTime runs a tacho motor for ms milliseconds.
func (m *Motors) StartSpeedForTime(ctx context.Context, port byte, ms uint16, speed int8, maxPower uint8, end lwp.EndState) (taskqueue.State, error) {
	return m.h.output(ctx, port, lwp.StartSpeedForTime{
		Time:     ms,
		Speed:    speed,
		MaxPower: maxPower,
		EndState: end,
		Profile:  speedProfile,
	})
}

// StartSpeedForDegrees turns a tacho motor by degrees. A negative speed turns
// it backwards.
func (m *Motors) StartSpeedForDegrees(ctx context.Context, port byte, degrees int32, speed int8, maxPower uint8, end lwp.EndState) (taskqueue.State, error) {
	return m.h.output(ctx, port, lwp.StartSpeedForDegrees{
		Degrees:  degrees,
		Speed:    speed,
		MaxPower: maxPower,
		EndState: end,
		Profile:  speedProfile,
	})
}

// GotoAbsolutePosition moves a tacho motor to position degrees from its zero.
func (m *Motors) GotoAbsolutePosition(ctx context.Context, port byte, position int32, speed int8, maxPower uint8, end lwp.EndState) (taskqueue.State, error) {
	return m.h.output(ctx, port, lwp.GotoAbsolutePosition{
		Position: position,
		Speed:    speed,
		MaxPower: maxPower,
		EndState: end,
		Profile:  speedProfile,
	})
}

// SetZeroPosition makes the motor's current position its new zero.
func (m *Motors) SetZeroPosition(ctx context.Context, port byte) (taskqueue.State, error) {
	return m.h.output(ctx, port, lwp.PresetEncoder(0))
}

// SetAccelerationTime sets how long ramping from 0 to 100% speed takes.
func (m *Motors) SetAccelerationTime(ctx context.Context, port byte, ms uint16) (taskqueue.State, error) {
	return m.h.output(ctx, port, lwp.SetAccTime{Time: ms, Profile: lwp.ProfileAcceleration})
}

// SetDecelerationTime sets how long ramping from 100% to 0 speed takes.
func (m *Motors) SetDecelerationTime(ctx context.Context, port byte, ms uint16) (taskqueue.State, error) {
	return m.h.output(ctx, port, lwp.SetDecTime{Time: ms, Profile: lwp.ProfileDeceleration})
}

// SpeedChanges streams the motor's speed in percent.
func (m *Motors) SpeedChanges(ctx context.Context, port byte, threshold float64) (<-chan DecodedValue, error) {
	return m.h.PortValueChanges(ctx, PortModeInfo{PortID: port, ModeID: MotorModeSpeed, Name: "SPEED", Transformer: transform.Speed{}}, threshold)
}

// PositionChanges streams the motor's position in degrees since its zero was set.
func (m *Motors) PositionChanges(ctx context.Context, port byte, threshold float64) (<-chan DecodedValue, error) {
	return m.h.PortValueChanges(ctx, PortModeInfo{PortID: port, ModeID: MotorModePosition, Name: "POS", Transformer: transform.Position{}}, threshold)
}

// AbsolutePositionChanges streams the motor's angle to its physical zero mark.
func (m *Motors) AbsolutePositionChanges(ctx context.Context, port byte, threshold float64) (<-chan DecodedValue, error) {
	return m.h.PortValueChanges(ctx, PortModeInfo{PortID: port, ModeID: MotorModeAbsolutePosition, Name: "APOS", Transformer: transform.AbsolutePosition{}}, threshold)
}
