package mock

import "github.com/mlsorensen/gohub/pkg/lwp"

// modeSpec describes one mode of a simulated device.
type modeSpec struct {
	name   string
	symbol string
	raw    [2]float32
	pct    [2]float32
	si     [2]float32
	format lwp.ValueFormat
	input  bool
	output bool
}

var tachoMotorModes = []modeSpec{
	{name: "POWER", symbol: "PCT", raw: [2]float32{-100, 100}, pct: [2]float32{-100, 100}, si: [2]float32{-100, 100}, format: lwp.ValueFormat{Datasets: 1, Type: 0, Figures: 4}, output: true},
	{name: "SPEED", symbol: "PCT", raw: [2]float32{-100, 100}, pct: [2]float32{-100, 100}, si: [2]float32{-100, 100}, format: lwp.ValueFormat{Datasets: 1, Type: 0, Figures: 4}, input: true, output: true},
	{name: "POS", symbol: "DEG", raw: [2]float32{-360, 360}, pct: [2]float32{-100, 100}, si: [2]float32{-360, 360}, format: lwp.ValueFormat{Datasets: 1, Type: 2, Figures: 4}, input: true, output: true},
	{name: "APOS", symbol: "DEG", raw: [2]float32{-180, 179}, pct: [2]float32{-200, 200}, si: [2]float32{-180, 179}, format: lwp.ValueFormat{Datasets: 1, Type: 1, Figures: 3}, input: true, output: true},
}

var rgbLightModes = []modeSpec{
	{name: "COL O", raw: [2]float32{0, 10}, pct: [2]float32{0, 100}, si: [2]float32{0, 10}, format: lwp.ValueFormat{Datasets: 1, Type: 0, Figures: 1}, output: true},
	{name: "RGB O", raw: [2]float32{0, 255}, pct: [2]float32{0, 100}, si: [2]float32{0, 255}, format: lwp.ValueFormat{Datasets: 3, Type: 0, Figures: 3}, output: true},
}

// The voltage sensor reports millivolts scaled by the hub's ADC range.
var voltageModes = []modeSpec{
	{name: "VLT L", symbol: "mV", raw: [2]float32{0, 3893}, pct: [2]float32{0, 100}, si: [2]float32{0, 9620}, format: lwp.ValueFormat{Datasets: 1, Type: 1, Figures: 4}, input: true},
	{name: "VLT S", symbol: "mV", raw: [2]float32{0, 3893}, pct: [2]float32{0, 100}, si: [2]float32{0, 9620}, format: lwp.ValueFormat{Datasets: 1, Type: 1, Figures: 4}, input: true},
}

var temperatureModes = []modeSpec{
	{name: "TEMP", symbol: "DEG", raw: [2]float32{-900, 900}, pct: [2]float32{-100, 100}, si: [2]float32{-90, 90}, format: lwp.ValueFormat{Datasets: 1, Type: 1, Figures: 5, Decimals: 1}, input: true},
}

func modesFor(t lwp.IOType) []modeSpec {
	switch t {
	case lwp.IOTypeMotor, lwp.IOTypeTrainMotor:
		return tachoMotorModes[:1]
	case lwp.IOTypeMediumLinearMotor, lwp.IOTypeMoveHubMotor,
		lwp.IOTypeTechnicLargeMotor, lwp.IOTypeTechnicXLargeMotor,
		lwp.IOTypeTechnicMediumAngular, lwp.IOTypeTechnicLargeAngular,
		lwp.IOTypeTechnicMediumAngularGrey, lwp.IOTypeTechnicLargeAngularGrey:
		return tachoMotorModes
	case lwp.IOTypeRGBLight:
		return rgbLightModes
	case lwp.IOTypeVoltage:
		return voltageModes
	case lwp.IOTypeTechnicHubTemperature:
		return temperatureModes
	default:
		return nil
	}
}

// device is the simulated state behind one port.
type device struct {
	portID byte
	ioType lwp.IOType
	modes  []modeSpec

	// input format
	mode     byte
	delta    uint32
	notify   bool
	reported int64
	hasValue bool

	// motor
	power    int8
	position int32

	// light
	color byte
	rgb   [3]byte

	// sensors
	millivolts int16
	tenthsC    int16
}

func newDevice(port byte, t lwp.IOType) *device {
	return &device{
		portID:     port,
		ioType:     t,
		modes:      modesFor(t),
		millivolts: 8200,
		tenthsC:    253,
	}
}

func (d *device) capabilities() (caps byte, inputs, outputs uint16) {
	for i, m := range d.modes {
		if m.input {
			caps |= lwp.CapabilityInput
			inputs |= 1 << i
		}
		if m.output {
			caps |= lwp.CapabilityOutput
			outputs |= 1 << i
		}
	}
	return caps, inputs, outputs
}

// absolutePosition folds the position into [-180, 180).
func (d *device) absolutePosition() int16 {
	p := (d.position%360 + 360) % 360
	if p >= 180 {
		p -= 360
	}
	return int16(p)
}

// numeric returns the value of a mode as a single number for delta checks.
func (d *device) numeric(mode byte) int64 {
	if int(mode) >= len(d.modes) {
		return 0
	}
	switch d.modes[mode].name {
	case "POWER", "SPEED":
		return int64(d.power)
	case "POS":
		return int64(d.position)
	case "APOS":
		return int64(d.absolutePosition())
	case "VLT L", "VLT S":
		return int64(float64(d.millivolts) * 3893 / 9620)
	case "TEMP":
		return int64(d.tenthsC)
	case "COL O":
		return int64(d.color)
	default:
		return 0
	}
}

// raw encodes the value of a mode the way the hub reports it.
func (d *device) raw(mode byte) []byte {
	if int(mode) >= len(d.modes) {
		return nil
	}
	spec := d.modes[mode]
	if spec.name == "RGB O" {
		return append([]byte(nil), d.rgb[:]...)
	}
	return lwp.PutUintLE(uint64(d.numeric(mode)), spec.format.DatasetSize())
}

// changed reports whether the current input mode moved by at least the
// armed delta since it was last reported, and records it as reported.
func (d *device) changed() bool {
	v := d.numeric(d.mode)
	if d.hasValue {
		diff := v - d.reported
		if diff < 0 {
			diff = -diff
		}
		if diff < int64(max(d.delta, 1)) {
			return false
		}
	}
	d.reported = v
	d.hasValue = true
	return true
}
