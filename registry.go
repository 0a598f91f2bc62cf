package gohub

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/mlsorensen/gohub/pkg/attachedio"
	"github.com/mlsorensen/gohub/pkg/lwp"
	"github.com/mlsorensen/gohub/pkg/lwp/transform"
)

// ModeDescriptor names one input mode of a device type and how to read it.
type ModeDescriptor struct {
	ID          byte
	Name        string
	Transformer transform.Transformer
}

// DeviceDescriptor describes the input modes of a device type.
type DeviceDescriptor struct {
	Name  string
	Modes []ModeDescriptor
}

// Mode looks a mode up by name, ignoring case.
func (d DeviceDescriptor) Mode(name string) (ModeDescriptor, bool) {
	for _, m := range d.Modes {
		if strings.EqualFold(m.Name, name) {
			return m, true
		}
	}
	return ModeDescriptor{}, false
}

// --- Device Registry ---

var (
	registry = make(map[lwp.IOType]DeviceDescriptor)
	regLock  = sync.RWMutex{}
)

// RegisterDevice makes the modes of a device type known by IO type.
// Registering a type again replaces its descriptor.
func RegisterDevice(t lwp.IOType, d DeviceDescriptor) {
	regLock.Lock()
	defer regLock.Unlock()

	if _, found := registry[t]; found {
		slog.Warn("device descriptor is being overwritten", "type", t.String())
	}
	registry[t] = d
}

// LookupDevice returns the descriptor registered for an IO type.
func LookupDevice(t lwp.IOType) (DeviceDescriptor, bool) {
	regLock.RLock()
	defer regLock.RUnlock()
	d, ok := registry[t]
	return d, ok
}

// RegisteredDevices returns every registered IO type in ascending order.
func RegisteredDevices() []lwp.IOType {
	regLock.RLock()
	defer regLock.RUnlock()
	types := make([]lwp.IOType, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// ModeInfoFor builds the PortModeInfo for a named mode of an attached device.
func ModeInfoFor(e attachedio.Entry, modeName string) (PortModeInfo, error) {
	d, ok := LookupDevice(e.IOType)
	if !ok {
		return PortModeInfo{}, fmt.Errorf("no descriptor registered for %s", e.IOType)
	}
	m, ok := d.Mode(modeName)
	if !ok {
		return PortModeInfo{}, fmt.Errorf("%s has no mode %q", d.Name, modeName)
	}
	return PortModeInfo{PortID: e.PortID, ModeID: m.ID, Name: m.Name, Transformer: m.Transformer}, nil
}

var tachoMotorModes = []ModeDescriptor{
	{ID: MotorModeSpeed, Name: "SPEED", Transformer: transform.Speed{}},
	{ID: MotorModePosition, Name: "POS", Transformer: transform.Position{}},
	{ID: MotorModeAbsolutePosition, Name: "APOS", Transformer: transform.AbsolutePosition{}},
}

func init() {
	for _, t := range []lwp.IOType{
		lwp.IOTypeMediumLinearMotor,
		lwp.IOTypeMoveHubMotor,
		lwp.IOTypeTechnicLargeMotor,
		lwp.IOTypeTechnicXLargeMotor,
		lwp.IOTypeTechnicMediumAngular,
		lwp.IOTypeTechnicLargeAngular,
		lwp.IOTypeTechnicMediumAngularGrey,
		lwp.IOTypeTechnicLargeAngularGrey,
	} {
		RegisterDevice(t, DeviceDescriptor{Name: t.String(), Modes: tachoMotorModes})
	}

	RegisterDevice(lwp.IOTypeVoltage, DeviceDescriptor{
		Name: lwp.IOTypeVoltage.String(),
		Modes: []ModeDescriptor{
			// Divisor is filled in from the hub's mode information.
			{ID: 0x00, Name: "VLT L", Transformer: transform.Voltage{}},
			{ID: 0x01, Name: "VLT S", Transformer: transform.Voltage{}},
		},
	})
	RegisterDevice(lwp.IOTypeTechnicHubTemperature, DeviceDescriptor{
		Name:  lwp.IOTypeTechnicHubTemperature.String(),
		Modes: []ModeDescriptor{{ID: 0x00, Name: "TEMP", Transformer: transform.Temperature{}}},
	})
}
