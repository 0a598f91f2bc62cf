// Package lwp implements the binary codec for the LEGO Wireless Protocol (v3)
// spoken by Powered Up, BOOST and Technic hubs.
package lwp

import "fmt"

// Constants for the common message header.
const (
	// HubID is the only hub identifier currently defined by the protocol.
	HubID byte = 0x00

	// headerLen is the size of the common header when the length fits in one byte.
	headerLen = 3

	// MaxFrameLen is the largest length representable by the two-byte length form.
	MaxFrameLen = 0x7F | 0xFF<<7
)

// MessageType is the type tag carried in the common header.
type MessageType byte

const (
	MessageHubProperties              MessageType = 0x01
	MessageHubActions                 MessageType = 0x02
	MessageHubAttachedIO              MessageType = 0x04
	MessageGenericError               MessageType = 0x05
	MessagePortInformationRequest     MessageType = 0x21
	MessagePortModeInformationRequest MessageType = 0x22
	MessagePortInputFormatSetupSingle MessageType = 0x41
	MessagePortInformation            MessageType = 0x43
	MessagePortModeInformation        MessageType = 0x44
	MessagePortValueSingle            MessageType = 0x45
	MessagePortInputFormatSingle      MessageType = 0x47
	MessagePortOutputCommand          MessageType = 0x81
	MessagePortOutputCommandFeedback  MessageType = 0x82
)

func (t MessageType) String() string {
	switch t {
	case MessageHubProperties:
		return "HubProperties"
	case MessageHubActions:
		return "HubActions"
	case MessageHubAttachedIO:
		return "HubAttachedIO"
	case MessageGenericError:
		return "GenericError"
	case MessagePortInformationRequest:
		return "PortInformationRequest"
	case MessagePortModeInformationRequest:
		return "PortModeInformationRequest"
	case MessagePortInputFormatSetupSingle:
		return "PortInputFormatSetupSingle"
	case MessagePortInformation:
		return "PortInformation"
	case MessagePortModeInformation:
		return "PortModeInformation"
	case MessagePortValueSingle:
		return "PortValueSingle"
	case MessagePortInputFormatSingle:
		return "PortInputFormatSingle"
	case MessagePortOutputCommand:
		return "PortOutputCommand"
	case MessagePortOutputCommandFeedback:
		return "PortOutputCommandFeedback"
	default:
		return fmt.Sprintf("Unknown Message (0x%02X)", byte(t))
	}
}

// HubProperty identifies a hub property.
type HubProperty byte

const (
	PropertyAdvertisingName  HubProperty = 0x01
	PropertyButton           HubProperty = 0x02
	PropertyFirmwareVersion  HubProperty = 0x03
	PropertyHardwareVersion  HubProperty = 0x04
	PropertyRSSI             HubProperty = 0x05
	PropertyBatteryVoltage   HubProperty = 0x06
	PropertyBatteryType      HubProperty = 0x07
	PropertyManufacturerName HubProperty = 0x08
	PropertySystemTypeID     HubProperty = 0x0B
	PropertyPrimaryMAC       HubProperty = 0x0D
)

func (p HubProperty) String() string {
	switch p {
	case PropertyAdvertisingName:
		return "Advertising Name"
	case PropertyButton:
		return "Button"
	case PropertyFirmwareVersion:
		return "Firmware Version"
	case PropertyHardwareVersion:
		return "Hardware Version"
	case PropertyRSSI:
		return "RSSI"
	case PropertyBatteryVoltage:
		return "Battery Voltage"
	case PropertyBatteryType:
		return "Battery Type"
	case PropertyManufacturerName:
		return "Manufacturer Name"
	case PropertySystemTypeID:
		return "System Type ID"
	case PropertyPrimaryMAC:
		return "Primary MAC"
	default:
		return fmt.Sprintf("Unknown Property (0x%02X)", byte(p))
	}
}

// PropertyOperation is the operation applied to a hub property.
type PropertyOperation byte

const (
	OperationSet            PropertyOperation = 0x01
	OperationEnableUpdates  PropertyOperation = 0x02
	OperationDisableUpdates PropertyOperation = 0x03
	OperationReset          PropertyOperation = 0x04
	OperationRequestUpdate  PropertyOperation = 0x05
	OperationUpdate         PropertyOperation = 0x06
)

func (o PropertyOperation) String() string {
	switch o {
	case OperationSet:
		return "Set"
	case OperationEnableUpdates:
		return "Enable Updates"
	case OperationDisableUpdates:
		return "Disable Updates"
	case OperationReset:
		return "Reset"
	case OperationRequestUpdate:
		return "Request Update"
	case OperationUpdate:
		return "Update"
	default:
		return fmt.Sprintf("Unknown Operation (0x%02X)", byte(o))
	}
}

// HubAction is a hub level action, either requested (downstream) or announced (upstream).
type HubAction byte

const (
	ActionSwitchOff          HubAction = 0x01
	ActionDisconnect         HubAction = 0x02
	ActionVCCPortControlOn   HubAction = 0x03
	ActionVCCPortControlOff  HubAction = 0x04
	ActionActivateBusy       HubAction = 0x05
	ActionResetBusy          HubAction = 0x06
	ActionWillSwitchOff      HubAction = 0x30
	ActionWillDisconnect     HubAction = 0x31
	ActionWillGoIntoBootMode HubAction = 0x32
)

func (a HubAction) String() string {
	switch a {
	case ActionSwitchOff:
		return "Switch Off"
	case ActionDisconnect:
		return "Disconnect"
	case ActionVCCPortControlOn:
		return "VCC Port Control On"
	case ActionVCCPortControlOff:
		return "VCC Port Control Off"
	case ActionActivateBusy:
		return "Activate Busy Indication"
	case ActionResetBusy:
		return "Reset Busy Indication"
	case ActionWillSwitchOff:
		return "Will Switch Off"
	case ActionWillDisconnect:
		return "Will Disconnect"
	case ActionWillGoIntoBootMode:
		return "Will Go Into Boot Mode"
	default:
		return fmt.Sprintf("Unknown Action (0x%02X)", byte(a))
	}
}

// AttachEvent is the event carried by a HubAttachedIO message.
type AttachEvent byte

const (
	EventDetached        AttachEvent = 0x00
	EventAttached        AttachEvent = 0x01
	EventAttachedVirtual AttachEvent = 0x02
)

func (e AttachEvent) String() string {
	switch e {
	case EventDetached:
		return "Detached"
	case EventAttached:
		return "Attached"
	case EventAttachedVirtual:
		return "Attached Virtual"
	default:
		return fmt.Sprintf("Unknown Event (0x%02X)", byte(e))
	}
}

// IOType identifies the kind of device attached to a port.
type IOType uint16

const (
	IOTypeMotor                    IOType = 0x0001
	IOTypeTrainMotor               IOType = 0x0002
	IOTypeLEDLight                 IOType = 0x0008
	IOTypeVoltage                  IOType = 0x0014
	IOTypeCurrent                  IOType = 0x0015
	IOTypePiezoTone                IOType = 0x0016
	IOTypeRGBLight                 IOType = 0x0017
	IOTypeTiltSensor               IOType = 0x0022
	IOTypeMotionSensor             IOType = 0x0023
	IOTypeColorDistanceSensor      IOType = 0x0025
	IOTypeMediumLinearMotor        IOType = 0x0026
	IOTypeMoveHubMotor             IOType = 0x0027
	IOTypeMoveHubTiltSensor        IOType = 0x0028
	IOTypeTechnicLargeMotor        IOType = 0x002E
	IOTypeTechnicXLargeMotor       IOType = 0x002F
	IOTypeTechnicMediumAngular     IOType = 0x0030
	IOTypeTechnicLargeAngular      IOType = 0x0031
	IOTypeTechnicHubTemperature    IOType = 0x003C
	IOTypeTechnicHubAccelerometer  IOType = 0x0039
	IOTypeTechnicHubGyro           IOType = 0x003A
	IOTypeTechnicHubTiltSensor     IOType = 0x003B
	IOTypeTechnicMediumAngularGrey IOType = 0x004B
	IOTypeTechnicLargeAngularGrey  IOType = 0x004C
)

func (t IOType) String() string {
	switch t {
	case IOTypeMotor:
		return "Motor"
	case IOTypeTrainMotor:
		return "Train Motor"
	case IOTypeLEDLight:
		return "LED Light"
	case IOTypeVoltage:
		return "Voltage"
	case IOTypeCurrent:
		return "Current"
	case IOTypePiezoTone:
		return "Piezo Tone"
	case IOTypeRGBLight:
		return "RGB Light"
	case IOTypeTiltSensor:
		return "Tilt Sensor"
	case IOTypeMotionSensor:
		return "Motion Sensor"
	case IOTypeColorDistanceSensor:
		return "Color & Distance Sensor"
	case IOTypeMediumLinearMotor:
		return "Medium Linear Motor"
	case IOTypeMoveHubMotor:
		return "Move Hub Motor"
	case IOTypeMoveHubTiltSensor:
		return "Move Hub Tilt Sensor"
	case IOTypeTechnicLargeMotor:
		return "Technic Large Motor"
	case IOTypeTechnicXLargeMotor:
		return "Technic XL Motor"
	case IOTypeTechnicMediumAngular:
		return "Technic Medium Angular Motor"
	case IOTypeTechnicLargeAngular:
		return "Technic Large Angular Motor"
	case IOTypeTechnicHubTemperature:
		return "Technic Hub Temperature"
	case IOTypeTechnicHubAccelerometer:
		return "Technic Hub Accelerometer"
	case IOTypeTechnicHubGyro:
		return "Technic Hub Gyro"
	case IOTypeTechnicHubTiltSensor:
		return "Technic Hub Tilt Sensor"
	case IOTypeTechnicMediumAngularGrey:
		return "Technic Medium Angular Motor (Grey)"
	case IOTypeTechnicLargeAngularGrey:
		return "Technic Large Angular Motor (Grey)"
	default:
		return fmt.Sprintf("Unknown IO Type (0x%04X)", uint16(t))
	}
}

// ErrorCode is the code carried by a GenericError message.
type ErrorCode byte

const (
	ErrorACK                  ErrorCode = 0x01
	ErrorMACK                 ErrorCode = 0x02
	ErrorBufferOverflow       ErrorCode = 0x03
	ErrorTimeout              ErrorCode = 0x04
	ErrorCommandNotRecognized ErrorCode = 0x05
	ErrorInvalidUse           ErrorCode = 0x06
	ErrorOvercurrent          ErrorCode = 0x07
	ErrorInternal             ErrorCode = 0x08
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorACK:
		return "ACK"
	case ErrorMACK:
		return "MACK"
	case ErrorBufferOverflow:
		return "Buffer Overflow"
	case ErrorTimeout:
		return "Timeout"
	case ErrorCommandNotRecognized:
		return "Command Not Recognized"
	case ErrorInvalidUse:
		return "Invalid Use"
	case ErrorOvercurrent:
		return "Overcurrent"
	case ErrorInternal:
		return "Internal Error"
	default:
		return fmt.Sprintf("Unknown Error (0x%02X)", byte(c))
	}
}

// PortInfoType selects what a PortInformationRequest asks for.
type PortInfoType byte

const (
	PortInfoValue            PortInfoType = 0x00
	PortInfoModeInfo         PortInfoType = 0x01
	PortInfoModeCombinations PortInfoType = 0x02
)

// ModeInfoType selects what a PortModeInformationRequest asks for.
type ModeInfoType byte

const (
	ModeInfoName        ModeInfoType = 0x00
	ModeInfoRaw         ModeInfoType = 0x01
	ModeInfoPct         ModeInfoType = 0x02
	ModeInfoSI          ModeInfoType = 0x03
	ModeInfoSymbol      ModeInfoType = 0x04
	ModeInfoMapping     ModeInfoType = 0x05
	ModeInfoValueFormat ModeInfoType = 0x80
)

func (m ModeInfoType) String() string {
	switch m {
	case ModeInfoName:
		return "Name"
	case ModeInfoRaw:
		return "Raw"
	case ModeInfoPct:
		return "Pct"
	case ModeInfoSI:
		return "SI"
	case ModeInfoSymbol:
		return "Symbol"
	case ModeInfoMapping:
		return "Mapping"
	case ModeInfoValueFormat:
		return "Value Format"
	default:
		return fmt.Sprintf("Unknown Mode Info (0x%02X)", byte(m))
	}
}

// FeedbackFlags is the bitmask reported per port by PortOutputCommandFeedback.
type FeedbackFlags byte

const (
	FeedbackInProgress FeedbackFlags = 0x01 // Buffer empty, command in progress
	FeedbackCompleted  FeedbackFlags = 0x02 // Buffer empty, command completed
	FeedbackDiscarded  FeedbackFlags = 0x04 // Current command(s) discarded
	FeedbackIdle       FeedbackFlags = 0x08
	FeedbackBusy       FeedbackFlags = 0x10 // Busy / buffer full

	feedbackKnownMask = FeedbackInProgress | FeedbackCompleted | FeedbackDiscarded | FeedbackIdle | FeedbackBusy
)

// Has reports whether every bit in f2 is set in f.
func (f FeedbackFlags) Has(f2 FeedbackFlags) bool {
	return f&f2 == f2
}

// Known reports whether f is non-empty and only carries defined bits.
func (f FeedbackFlags) Known() bool {
	return f != 0 && f&^feedbackKnownMask == 0
}

func (f FeedbackFlags) String() string {
	if !f.Known() {
		return fmt.Sprintf("Unknown Feedback (0x%02X)", byte(f))
	}
	var s string
	for _, b := range []struct {
		flag FeedbackFlags
		name string
	}{
		{FeedbackInProgress, "InProgress"},
		{FeedbackCompleted, "Completed"},
		{FeedbackDiscarded, "Discarded"},
		{FeedbackIdle, "Idle"},
		{FeedbackBusy, "Busy"},
	} {
		if f.Has(b.flag) {
			if s != "" {
				s += "|"
			}
			s += b.name
		}
	}
	return s
}

// Startup and completion information for PortOutputCommand.
const (
	StartupBufferIfNecessary  byte = 0x00
	StartupExecuteImmediately byte = 0x10
	CompletionNoAction        byte = 0x00
	CompletionCommandFeedback byte = 0x01

	// DefaultStartupCompletion executes immediately and asks for feedback.
	DefaultStartupCompletion = StartupExecuteImmediately | CompletionCommandFeedback
)

// EndState is what a motor does once a positional or timed command finishes.
type EndState byte

const (
	EndStateFloat EndState = 0
	EndStateHold  EndState = 126
	EndStateBrake EndState = 127
)

func (e EndState) String() string {
	switch e {
	case EndStateFloat:
		return "Float"
	case EndStateHold:
		return "Hold"
	case EndStateBrake:
		return "Brake"
	default:
		return fmt.Sprintf("Unknown End State (%d)", byte(e))
	}
}

// Acceleration profile bits used by speed commands.
const (
	ProfileNone         byte = 0x00
	ProfileAcceleration byte = 0x01
	ProfileDeceleration byte = 0x02
)

// Motor power values with special meaning for StartPower.
const (
	PowerFloat int8 = 0
	PowerBrake int8 = 127
)
