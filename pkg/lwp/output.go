package lwp

import "fmt"

// OutputSubcommand selects the behaviour of a PortOutputCommand.
type OutputSubcommand byte

const (
	SubcommandSetAccTime           OutputSubcommand = 0x05
	SubcommandSetDecTime           OutputSubcommand = 0x06
	SubcommandStartSpeed           OutputSubcommand = 0x07
	SubcommandStartSpeedForTime    OutputSubcommand = 0x09
	SubcommandStartSpeedForDegrees OutputSubcommand = 0x0B
	SubcommandGotoAbsolutePosition OutputSubcommand = 0x0D
	SubcommandWriteDirectModeData  OutputSubcommand = 0x51
)

func (s OutputSubcommand) String() string {
	switch s {
	case SubcommandSetAccTime:
		return "SetAccTime"
	case SubcommandSetDecTime:
		return "SetDecTime"
	case SubcommandStartSpeed:
		return "StartSpeed"
	case SubcommandStartSpeedForTime:
		return "StartSpeedForTime"
	case SubcommandStartSpeedForDegrees:
		return "StartSpeedForDegrees"
	case SubcommandGotoAbsolutePosition:
		return "GotoAbsolutePosition"
	case SubcommandWriteDirectModeData:
		return "WriteDirectModeData"
	default:
		return fmt.Sprintf("Unknown Subcommand (0x%02X)", byte(s))
	}
}

// OutputCommand is the sub-command carried by a PortOutputCommandMessage.
type OutputCommand interface {
	Subcommand() OutputSubcommand
	appendParams(b []byte) []byte
}

// SetAccTime sets the time in milliseconds to ramp from 0 to 100% speed.
type SetAccTime struct {
	Time    uint16
	Profile byte
}

func (SetAccTime) Subcommand() OutputSubcommand { return SubcommandSetAccTime }

func (c SetAccTime) appendParams(b []byte) []byte {
	b = append(b, PutUintLE(uint64(c.Time), 2)...)
	return append(b, c.Profile)
}

// SetDecTime sets the time in milliseconds to ramp from 100% to 0 speed.
type SetDecTime struct {
	Time    uint16
	Profile byte
}

func (SetDecTime) Subcommand() OutputSubcommand { return SubcommandSetDecTime }

func (c SetDecTime) appendParams(b []byte) []byte {
	b = append(b, PutUintLE(uint64(c.Time), 2)...)
	return append(b, c.Profile)
}

// StartSpeed runs a tacho motor at Speed percent (-100..100) indefinitely.
type StartSpeed struct {
	Speed    int8
	MaxPower uint8
	Profile  byte
}

func (StartSpeed) Subcommand() OutputSubcommand { return SubcommandStartSpeed }

func (c StartSpeed) appendParams(b []byte) []byte {
	return append(b, byte(c.Speed), c.MaxPower, c.Profile)
}

// StartSpeedForTime runs a tacho motor for Time milliseconds.
type StartSpeedForTime struct {
	Time     uint16
	Speed    int8
	MaxPower uint8
	EndState EndState
	Profile  byte
}

func (StartSpeedForTime) Subcommand() OutputSubcommand { return SubcommandStartSpeedForTime }

func (c StartSpeedForTime) appendParams(b []byte) []byte {
	b = append(b, PutUintLE(uint64(c.Time), 2)...)
	return append(b, byte(c.Speed), c.MaxPower, byte(c.EndState), c.Profile)
}

// StartSpeedForDegrees turns a tacho motor by Degrees at the given speed.
type StartSpeedForDegrees struct {
	Degrees  int32
	Speed    int8
	MaxPower uint8
	EndState EndState
	Profile  byte
}

func (StartSpeedForDegrees) Subcommand() OutputSubcommand { return SubcommandStartSpeedForDegrees }

func (c StartSpeedForDegrees) appendParams(b []byte) []byte {
	b = append(b, PutUintLE(uint64(c.Degrees), 4)...)
	return append(b, byte(c.Speed), c.MaxPower, byte(c.EndState), c.Profile)
}

// GotoAbsolutePosition moves a tacho motor to Position degrees relative to its zero.
type GotoAbsolutePosition struct {
	Position int32
	Speed    int8
	MaxPower uint8
	EndState EndState
	Profile  byte
}

func (GotoAbsolutePosition) Subcommand() OutputSubcommand { return SubcommandGotoAbsolutePosition }

func (c GotoAbsolutePosition) appendParams(b []byte) []byte {
	b = append(b, PutUintLE(uint64(c.Position), 4)...)
	return append(b, byte(c.Speed), c.MaxPower, byte(c.EndState), c.Profile)
}

// WriteDirectModeData writes raw data to an output mode of the attached device.
// What the mode and data mean depends on the device; see the builders below.
type WriteDirectModeData struct {
	Mode byte
	Data []byte
}

func (WriteDirectModeData) Subcommand() OutputSubcommand { return SubcommandWriteDirectModeData }

func (c WriteDirectModeData) appendParams(b []byte) []byte {
	b = append(b, c.Mode)
	return append(b, c.Data...)
}

// Output modes used with WriteDirectModeData.
const (
	ModeMotorPower    byte = 0x00
	ModeMotorPreset   byte = 0x02
	ModeLightColor    byte = 0x00
	ModeLightRGBColor byte = 0x01
)

// StartPower drives a motor at a raw power percentage. PowerFloat lets it
// coast, PowerBrake brakes it.
func StartPower(power int8) WriteDirectModeData {
	return WriteDirectModeData{Mode: ModeMotorPower, Data: []byte{byte(power)}}
}

// PresetEncoder redefines the motor's current position as position degrees.
func PresetEncoder(position int32) WriteDirectModeData {
	return WriteDirectModeData{Mode: ModeMotorPreset, Data: PutUintLE(uint64(position), 4)}
}

// SetColorIndex sets an RGB light to one of the hub's predefined colours.
func SetColorIndex(color byte) WriteDirectModeData {
	return WriteDirectModeData{Mode: ModeLightColor, Data: []byte{color}}
}

// SetRGBColor sets an RGB light to an arbitrary colour.
func SetRGBColor(r, g, b byte) WriteDirectModeData {
	return WriteDirectModeData{Mode: ModeLightRGBColor, Data: []byte{r, g, b}}
}
