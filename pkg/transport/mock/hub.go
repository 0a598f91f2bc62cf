// Package mock provides a simulated LWP hub that implements transport.Transport.
// It is intended for development and testing when a physical hub is not available.
package mock

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/mlsorensen/gohub/pkg/broadcast"
	"github.com/mlsorensen/gohub/pkg/logging"
	"github.com/mlsorensen/gohub/pkg/lwp"
	"github.com/mlsorensen/gohub/pkg/transport"
)

// This line is the compile-time check. It will fail to compile if
// *Hub ever stops satisfying the transport.Transport interface.
var _ transport.Transport = (*Hub)(nil)

// Ports of the built-in devices of a simulated Technic hub.
const (
	PortLight       byte = 0x32
	PortVoltage     byte = 0x3C
	PortTemperature byte = 0x3D
)

// Option configures a simulated hub.
type Option func(*Hub)

// WithDevice attaches a device of type t to port when the hub starts.
func WithDevice(port byte, t lwp.IOType) Option {
	return func(h *Hub) { h.devices[port] = newDevice(port, t) }
}

// WithManualFeedback stops the hub from answering output commands with
// feedback on its own. Tests then drive feedback through Feedback.
func WithManualFeedback() Option {
	return func(h *Hub) { h.manualFeedback = true }
}

// WithBattery sets the reported battery level in percent.
func WithBattery(level byte) Option {
	return func(h *Hub) { h.battery = level }
}

// WithLogger sets the logger used to trace simulated traffic.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) { h.logger = l }
}

// Hub is a simulated hub. Frames written to it are decoded and answered the
// way a Technic hub would answer them; answers appear on Inbound.
type Hub struct {
	name     string
	logger   *slog.Logger
	battery  byte
	rssi     int8
	firmware lwp.Version
	hardware lwp.Version

	mu             sync.Mutex
	devices        map[byte]*device
	manualFeedback bool
	received       []lwp.Message
	closed         bool

	out *broadcast.Broadcaster[[]byte]
	sub *broadcast.Subscription[[]byte]
}

// New creates a simulated hub with the built-in light, voltage and
// temperature sensors plus any devices given as options. Attach messages for
// every device are queued on Inbound straight away, as a real hub sends them
// right after connecting.
func New(name string, opts ...Option) *Hub {
	h := &Hub{
		name:     name,
		battery:  98,
		rssi:     -58,
		firmware: 0x11000010,
		hardware: 0x10000000,
		devices: map[byte]*device{
			PortLight:       newDevice(PortLight, lwp.IOTypeRGBLight),
			PortVoltage:     newDevice(PortVoltage, lwp.IOTypeVoltage),
			PortTemperature: newDevice(PortTemperature, lwp.IOTypeTechnicHubTemperature),
		},
		out: broadcast.New[[]byte](),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = logging.OrDiscard(h.logger).With("hub", name)
	h.sub = h.out.Subscribe()

	ports := make([]byte, 0, len(h.devices))
	for p := range h.devices {
		ports = append(ports, p)
	}
	slices.Sort(ports)
	for _, p := range ports {
		h.emit(h.attachMessage(h.devices[p]))
	}
	return h
}

// Name returns the advertised name of the hub.
func (h *Hub) Name() string { return h.name }

// Inbound implements transport.Transport.
func (h *Hub) Inbound() <-chan []byte { return h.sub.C() }

// Write implements transport.Transport. Frames the hub cannot decode are
// dropped, like a real hub does.
func (h *Hub) Write(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return transport.ErrClosed
	}

	msg, err := lwp.Decode(frame)
	if err != nil {
		h.logger.Warn("MOCK: dropping undecodable frame", "error", err)
		return nil
	}
	h.received = append(h.received, msg)
	h.handleLocked(msg)
	return nil
}

// Close implements transport.Transport. Frames already queued are still
// delivered before Inbound is closed.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closeLocked()
	return nil
}

func (h *Hub) closeLocked() {
	if h.closed {
		return
	}
	h.closed = true
	h.out.Close()
	h.logger.Debug("MOCK: disconnected")
}

// Drop simulates the link going away: queued frames are discarded and
// Inbound is closed at once.
func (h *Hub) Drop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.sub.Cancel()
	h.out.Close()
}

// Received returns every message written to the hub so far.
func (h *Hub) Received() []lwp.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.received)
}

// Attach plugs a device into port and announces it.
func (h *Hub) Attach(port byte, t lwp.IOType) {
	h.mu.Lock()
	defer h.mu.Unlock()
	d := newDevice(port, t)
	h.devices[port] = d
	h.emit(h.attachMessage(d))
}

// Detach unplugs the device on port and announces it.
func (h *Hub) Detach(port byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.devices, port)
	h.emit(lwp.HubAttachedIOMessage{PortID: port, Event: lwp.EventDetached})
}

// Feedback sends output command feedback for a port.
func (h *Hub) Feedback(port byte, flags lwp.FeedbackFlags) {
	h.Inject(lwp.PortOutputCommandFeedbackMessage{Entries: []lwp.FeedbackEntry{{PortID: port, Flags: flags}}})
}

// Inject sends an arbitrary message to the client.
func (h *Hub) Inject(msg lwp.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.emit(msg)
}

// InjectFrame sends raw bytes to the client as one frame, valid or not.
func (h *Hub) InjectFrame(frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.out.Publish(frame)
	}
}

// Turn rotates a motor shaft by hand, as if someone moved it.
func (h *Hub) Turn(port byte, degrees int32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if d, ok := h.devices[port]; ok {
		d.position += degrees
		h.notifyLocked(d)
	}
}

// SetTemperature changes the reading of the temperature sensor.
func (h *Hub) SetTemperature(celsius float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if d, ok := h.devices[PortTemperature]; ok {
		d.tenthsC = int16(celsius * 10)
		h.notifyLocked(d)
	}
}

func (h *Hub) emit(msg lwp.Message) {
	if h.closed {
		return
	}
	h.out.Publish(lwp.Encode(msg))
}

func (h *Hub) attachMessage(d *device) lwp.HubAttachedIOMessage {
	return lwp.HubAttachedIOMessage{
		PortID:           d.portID,
		Event:            lwp.EventAttached,
		IOType:           d.ioType,
		HardwareRevision: h.hardware,
		SoftwareRevision: h.firmware,
	}
}

func (h *Hub) reject(t lwp.MessageType, code lwp.ErrorCode) {
	h.emit(lwp.GenericErrorMessage{CommandType: t, Code: code})
}

func (h *Hub) handleLocked(msg lwp.Message) {
	switch m := msg.(type) {
	case lwp.HubPropertiesMessage:
		h.handleProperty(m)

	case lwp.HubActionsMessage:
		switch m.Action {
		case lwp.ActionSwitchOff:
			h.emit(lwp.HubActionsMessage{Action: lwp.ActionWillSwitchOff})
			h.closeLocked()
		case lwp.ActionDisconnect:
			h.emit(lwp.HubActionsMessage{Action: lwp.ActionWillDisconnect})
			h.closeLocked()
		}

	case lwp.PortInformationRequestMessage:
		d, ok := h.devices[m.PortID]
		if !ok {
			h.reject(m.MessageType(), lwp.ErrorInvalidUse)
			return
		}
		switch m.InfoType {
		case lwp.PortInfoValue:
			h.emit(lwp.PortValueSingleMessage{PortID: d.portID, Raw: d.raw(d.mode)})
		case lwp.PortInfoModeInfo:
			caps, in, out := d.capabilities()
			h.emit(lwp.PortInformationMessage{
				PortID:       d.portID,
				InfoType:     lwp.PortInfoModeInfo,
				Capabilities: caps,
				ModeCount:    byte(len(d.modes)),
				InputModes:   in,
				OutputModes:  out,
			})
		default:
			h.reject(m.MessageType(), lwp.ErrorInvalidUse)
		}

	case lwp.PortModeInformationRequestMessage:
		h.handleModeInformation(m)

	case lwp.PortInputFormatSetupSingleMessage:
		d, ok := h.devices[m.PortID]
		if !ok || int(m.ModeID) >= len(d.modes) {
			h.reject(m.MessageType(), lwp.ErrorInvalidUse)
			return
		}
		d.mode = m.ModeID
		d.delta = m.DeltaInterval
		d.notify = m.NotificationsEnabled
		d.hasValue = false
		h.emit(lwp.PortInputFormatSingleMessage{
			PortID:               d.portID,
			ModeID:               d.mode,
			DeltaInterval:        d.delta,
			NotificationsEnabled: d.notify,
		})
		h.notifyLocked(d)

	case lwp.PortOutputCommandMessage:
		d, ok := h.devices[m.PortID]
		if !ok {
			h.reject(m.MessageType(), lwp.ErrorInvalidUse)
			return
		}
		h.applyOutput(d, m.Command)
		if m.WantsFeedback() && !h.manualFeedback {
			h.emit(lwp.PortOutputCommandFeedbackMessage{
				Entries: []lwp.FeedbackEntry{{PortID: d.portID, Flags: lwp.FeedbackCompleted | lwp.FeedbackIdle}},
			})
		}
		h.notifyLocked(d)

	default:
		h.reject(msg.MessageType(), lwp.ErrorCommandNotRecognized)
	}
}

func (h *Hub) handleProperty(m lwp.HubPropertiesMessage) {
	switch m.Operation {
	case lwp.OperationRequestUpdate, lwp.OperationEnableUpdates:
	case lwp.OperationDisableUpdates, lwp.OperationReset, lwp.OperationSet:
		return
	default:
		h.reject(m.MessageType(), lwp.ErrorInvalidUse)
		return
	}

	var payload []byte
	switch m.Property {
	case lwp.PropertyAdvertisingName:
		payload = []byte(h.name)
	case lwp.PropertyBatteryVoltage:
		payload = []byte{h.battery}
	case lwp.PropertyRSSI:
		payload = []byte{byte(h.rssi)}
	case lwp.PropertyFirmwareVersion:
		payload = lwp.PutUintLE(uint64(h.firmware), 4)
	case lwp.PropertyHardwareVersion:
		payload = lwp.PutUintLE(uint64(h.hardware), 4)
	case lwp.PropertyManufacturerName:
		payload = []byte("LEGO System A/S")
	default:
		h.reject(m.MessageType(), lwp.ErrorCommandNotRecognized)
		return
	}
	h.emit(lwp.HubPropertiesMessage{Property: m.Property, Operation: lwp.OperationUpdate, Payload: payload})
}

func (h *Hub) handleModeInformation(m lwp.PortModeInformationRequestMessage) {
	d, ok := h.devices[m.PortID]
	if !ok || int(m.ModeID) >= len(d.modes) {
		h.reject(m.MessageType(), lwp.ErrorInvalidUse)
		return
	}
	spec := d.modes[m.ModeID]
	reply := lwp.PortModeInformationMessage{PortID: m.PortID, ModeID: m.ModeID, InfoType: m.InfoType}

	switch m.InfoType {
	case lwp.ModeInfoName:
		reply.Name = spec.name
	case lwp.ModeInfoRaw:
		reply.Min, reply.Max = spec.raw[0], spec.raw[1]
	case lwp.ModeInfoPct:
		reply.Min, reply.Max = spec.pct[0], spec.pct[1]
	case lwp.ModeInfoSI:
		reply.Min, reply.Max = spec.si[0], spec.si[1]
	case lwp.ModeInfoSymbol:
		reply.Symbol = spec.symbol
	case lwp.ModeInfoValueFormat:
		reply.ValueFormat = spec.format
	default:
		h.reject(m.MessageType(), lwp.ErrorInvalidUse)
		return
	}
	h.emit(reply)
}

func (h *Hub) applyOutput(d *device, cmd lwp.OutputCommand) {
	switch c := cmd.(type) {
	case lwp.StartSpeed:
		d.power = c.Speed
	case lwp.StartSpeedForTime:
		// full speed turns about a thousand degrees per second
		d.position += int32(c.Speed) * int32(c.Time) / 100
		d.power = 0
	case lwp.StartSpeedForDegrees:
		deg := c.Degrees
		if c.Speed < 0 {
			deg = -deg
		}
		d.position += deg
		d.power = 0
	case lwp.GotoAbsolutePosition:
		d.position = c.Position
		d.power = 0
	case lwp.SetAccTime, lwp.SetDecTime:
	case lwp.WriteDirectModeData:
		h.applyDirect(d, c)
	}
	h.logger.Debug("MOCK: output applied", "port", d.portID, "command", cmd.Subcommand().String(), "position", d.position, "power", d.power)
}

func (h *Hub) applyDirect(d *device, c lwp.WriteDirectModeData) {
	switch d.ioType {
	case lwp.IOTypeRGBLight:
		switch {
		case c.Mode == lwp.ModeLightColor && len(c.Data) >= 1:
			d.color = c.Data[0]
		case c.Mode == lwp.ModeLightRGBColor && len(c.Data) >= 3:
			copy(d.rgb[:], c.Data)
		}
	default:
		switch {
		case c.Mode == lwp.ModeMotorPower && len(c.Data) >= 1:
			p := int8(c.Data[0])
			if p == lwp.PowerBrake {
				p = 0
			}
			d.power = p
		case c.Mode == lwp.ModeMotorPreset && len(c.Data) >= 4:
			d.position = int32(lwp.ReadIntLE(c.Data[:4]))
		}
	}
}

// notifyLocked sends a value update when notifications are armed and the
// value moved by at least the armed delta.
func (h *Hub) notifyLocked(d *device) {
	if !d.notify || !d.changed() {
		return
	}
	h.emit(lwp.PortValueSingleMessage{PortID: d.portID, Raw: d.raw(d.mode)})
}
