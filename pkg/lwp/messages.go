package lwp

import (
	"fmt"
	"math"
)

// Message is implemented by every decoded or encodable LWP message.
type Message interface {
	MessageType() MessageType
	appendPayload(b []byte) []byte
}

// Version is a firmware or hardware version packed as LWP does it:
// 0MMM mmmm | BB (BCD bugfix) | bbbb (BCD build), little-endian on the wire.
type Version uint32

// Major, Minor, BugFix and Build unpack the individual version fields.
func (v Version) Major() uint8  { return uint8(v>>28) & 0x07 }
func (v Version) Minor() uint8  { return uint8(v>>24) & 0x0F }
func (v Version) BugFix() uint8 { return uint8(bcd(uint32(v>>16) & 0xFF)) }
func (v Version) Build() uint16 { return uint16(bcd(uint32(v) & 0xFFFF)) }

// String returns a formatted version string, e.g. "1.1.0.0011".
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d.%04d", v.Major(), v.Minor(), v.BugFix(), v.Build())
}

// bcd converts a packed Binary-Coded Decimal value to an unsigned integer.
func bcd(v uint32) uint32 {
	var out, mul uint32 = 0, 1
	for v > 0 {
		out += (v & 0x0F) * mul
		mul *= 10
		v >>= 4
	}
	return out
}

// HubPropertiesMessage carries a hub property operation in either direction.
type HubPropertiesMessage struct {
	Property  HubProperty
	Operation PropertyOperation
	Payload   []byte
}

func (HubPropertiesMessage) MessageType() MessageType { return MessageHubProperties }

func (m HubPropertiesMessage) appendPayload(b []byte) []byte {
	b = append(b, byte(m.Property), byte(m.Operation))
	return append(b, m.Payload...)
}

// BatteryLevel returns the battery charge percentage of a battery voltage update.
func (m HubPropertiesMessage) BatteryLevel() (uint8, bool) {
	if m.Property != PropertyBatteryVoltage || len(m.Payload) < 1 {
		return 0, false
	}
	return m.Payload[0], true
}

// RSSI returns the signal strength of an RSSI update in dBm.
func (m HubPropertiesMessage) RSSI() (int8, bool) {
	if m.Property != PropertyRSSI || len(m.Payload) < 1 {
		return 0, false
	}
	return int8(m.Payload[0]), true
}

// Version returns the version carried by a firmware or hardware version update.
func (m HubPropertiesMessage) Version() (Version, bool) {
	if m.Property != PropertyFirmwareVersion && m.Property != PropertyHardwareVersion {
		return 0, false
	}
	if len(m.Payload) < 4 {
		return 0, false
	}
	return Version(ReadUintLE(m.Payload[:4])), true
}

// HubActionsMessage requests or announces a hub action.
type HubActionsMessage struct {
	Action HubAction
}

func (HubActionsMessage) MessageType() MessageType { return MessageHubActions }

func (m HubActionsMessage) appendPayload(b []byte) []byte {
	return append(b, byte(m.Action))
}

// HubAttachedIOMessage reports a device being attached to or detached from a port.
// Revisions are only set for EventAttached, PortA/PortB only for EventAttachedVirtual.
type HubAttachedIOMessage struct {
	PortID           byte
	Event            AttachEvent
	IOType           IOType
	HardwareRevision Version
	SoftwareRevision Version
	PortA            byte
	PortB            byte
}

func (HubAttachedIOMessage) MessageType() MessageType { return MessageHubAttachedIO }

func (m HubAttachedIOMessage) appendPayload(b []byte) []byte {
	b = append(b, m.PortID, byte(m.Event))
	switch m.Event {
	case EventAttached:
		b = append(b, PutUintLE(uint64(m.IOType), 2)...)
		b = append(b, PutUintLE(uint64(m.HardwareRevision), 4)...)
		b = append(b, PutUintLE(uint64(m.SoftwareRevision), 4)...)
	case EventAttachedVirtual:
		b = append(b, PutUintLE(uint64(m.IOType), 2)...)
		b = append(b, m.PortA, m.PortB)
	}
	return b
}

// GenericErrorMessage reports that the hub could not process a command.
type GenericErrorMessage struct {
	CommandType MessageType
	Code        ErrorCode
}

func (GenericErrorMessage) MessageType() MessageType { return MessageGenericError }

func (m GenericErrorMessage) appendPayload(b []byte) []byte {
	return append(b, byte(m.CommandType), byte(m.Code))
}

// PortInformationRequestMessage asks the hub for a port's value or mode information.
type PortInformationRequestMessage struct {
	PortID   byte
	InfoType PortInfoType
}

func (PortInformationRequestMessage) MessageType() MessageType {
	return MessagePortInformationRequest
}

func (m PortInformationRequestMessage) appendPayload(b []byte) []byte {
	return append(b, m.PortID, byte(m.InfoType))
}

// PortModeInformationRequestMessage asks the hub to describe one mode of a port.
type PortModeInformationRequestMessage struct {
	PortID   byte
	ModeID   byte
	InfoType ModeInfoType
}

func (PortModeInformationRequestMessage) MessageType() MessageType {
	return MessagePortModeInformationRequest
}

func (m PortModeInformationRequestMessage) appendPayload(b []byte) []byte {
	return append(b, m.PortID, m.ModeID, byte(m.InfoType))
}

// PortInputFormatSetupSingleMessage selects the input mode of a port and arms
// value notifications with a minimum delta.
type PortInputFormatSetupSingleMessage struct {
	PortID               byte
	ModeID               byte
	DeltaInterval        uint32
	NotificationsEnabled bool
}

func (PortInputFormatSetupSingleMessage) MessageType() MessageType {
	return MessagePortInputFormatSetupSingle
}

func (m PortInputFormatSetupSingleMessage) appendPayload(b []byte) []byte {
	return appendInputFormat(b, m.PortID, m.ModeID, m.DeltaInterval, m.NotificationsEnabled)
}

// PortInputFormatSingleMessage acknowledges the input format currently active on a port.
type PortInputFormatSingleMessage struct {
	PortID               byte
	ModeID               byte
	DeltaInterval        uint32
	NotificationsEnabled bool
}

func (PortInputFormatSingleMessage) MessageType() MessageType {
	return MessagePortInputFormatSingle
}

func (m PortInputFormatSingleMessage) appendPayload(b []byte) []byte {
	return appendInputFormat(b, m.PortID, m.ModeID, m.DeltaInterval, m.NotificationsEnabled)
}

func appendInputFormat(b []byte, port, mode byte, delta uint32, notify bool) []byte {
	b = append(b, port, mode)
	b = append(b, PutUintLE(uint64(delta), 4)...)
	if notify {
		return append(b, 0x01)
	}
	return append(b, 0x00)
}

// PortInformationMessage describes a port's modes (InfoType PortInfoModeInfo)
// or its possible mode combinations (InfoType PortInfoModeCombinations).
type PortInformationMessage struct {
	PortID       byte
	InfoType     PortInfoType
	Capabilities byte
	ModeCount    byte
	InputModes   uint16
	OutputModes  uint16
	Combinations []uint16
}

func (PortInformationMessage) MessageType() MessageType { return MessagePortInformation }

func (m PortInformationMessage) appendPayload(b []byte) []byte {
	b = append(b, m.PortID, byte(m.InfoType))
	switch m.InfoType {
	case PortInfoModeInfo:
		b = append(b, m.Capabilities, m.ModeCount)
		b = append(b, PutUintLE(uint64(m.InputModes), 2)...)
		b = append(b, PutUintLE(uint64(m.OutputModes), 2)...)
	case PortInfoModeCombinations:
		for _, c := range m.Combinations {
			b = append(b, PutUintLE(uint64(c), 2)...)
		}
	}
	return b
}

// Port capability bits reported in PortInformationMessage.Capabilities.
const (
	CapabilityOutput                byte = 0x01
	CapabilityInput                 byte = 0x02
	CapabilityLogicalCombinable     byte = 0x04
	CapabilityLogicalSynchronizable byte = 0x08
)

// ValueFormat describes how a mode's values are laid out in PortValueSingle.
type ValueFormat struct {
	Datasets byte
	Type     byte // 0 int8, 1 int16, 2 int32, 3 float32
	Figures  byte
	Decimals byte
}

// DatasetSize returns the size in bytes of a single dataset value.
func (f ValueFormat) DatasetSize() int {
	switch f.Type {
	case 0:
		return 1
	case 1:
		return 2
	default:
		return 4
	}
}

// Mapping carries the input/output mapping flags of a mode.
type Mapping struct {
	Input  byte
	Output byte
}

// PortModeInformationMessage describes one aspect of a port mode. Which
// fields are populated depends on InfoType.
type PortModeInformationMessage struct {
	PortID      byte
	ModeID      byte
	InfoType    ModeInfoType
	Name        string
	Min         float32
	Max         float32
	Symbol      string
	Mapping     Mapping
	ValueFormat ValueFormat
}

func (PortModeInformationMessage) MessageType() MessageType { return MessagePortModeInformation }

func (m PortModeInformationMessage) appendPayload(b []byte) []byte {
	b = append(b, m.PortID, m.ModeID, byte(m.InfoType))
	switch m.InfoType {
	case ModeInfoName:
		b = append(b, m.Name...)
	case ModeInfoRaw, ModeInfoPct, ModeInfoSI:
		b = append(b, PutUintLE(uint64(math.Float32bits(m.Min)), 4)...)
		b = append(b, PutUintLE(uint64(math.Float32bits(m.Max)), 4)...)
	case ModeInfoSymbol:
		b = append(b, m.Symbol...)
	case ModeInfoMapping:
		b = append(b, m.Mapping.Input, m.Mapping.Output)
	case ModeInfoValueFormat:
		b = append(b, m.ValueFormat.Datasets, m.ValueFormat.Type, m.ValueFormat.Figures, m.ValueFormat.Decimals)
	}
	return b
}

// PortValueSingleMessage carries the raw value of a port's current input mode.
// The layout of Raw depends on the mode and is interpreted by a value transformer.
type PortValueSingleMessage struct {
	PortID byte
	Raw    []byte
}

func (PortValueSingleMessage) MessageType() MessageType { return MessagePortValueSingle }

func (m PortValueSingleMessage) appendPayload(b []byte) []byte {
	b = append(b, m.PortID)
	return append(b, m.Raw...)
}

// PortOutputCommandMessage drives an output device on a port.
type PortOutputCommandMessage struct {
	PortID            byte
	StartupCompletion byte
	Command           OutputCommand
}

func (PortOutputCommandMessage) MessageType() MessageType { return MessagePortOutputCommand }

func (m PortOutputCommandMessage) appendPayload(b []byte) []byte {
	b = append(b, m.PortID, m.StartupCompletion, byte(m.Command.Subcommand()))
	return m.Command.appendParams(b)
}

// WantsFeedback reports whether the hub will send feedback for this command.
func (m PortOutputCommandMessage) WantsFeedback() bool {
	return m.StartupCompletion&CompletionCommandFeedback != 0
}

// FeedbackEntry is the feedback reported for a single port.
type FeedbackEntry struct {
	PortID byte
	Flags  FeedbackFlags
}

// PortOutputCommandFeedbackMessage reports the execution state of output
// commands for one or more ports.
type PortOutputCommandFeedbackMessage struct {
	Entries []FeedbackEntry
}

func (PortOutputCommandFeedbackMessage) MessageType() MessageType {
	return MessagePortOutputCommandFeedback
}

func (m PortOutputCommandFeedbackMessage) appendPayload(b []byte) []byte {
	for _, e := range m.Entries {
		b = append(b, e.PortID, byte(e.Flags))
	}
	return b
}
