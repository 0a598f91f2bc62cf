package lwp

// Encode serialises m into a complete frame, common header included.
// Frames longer than 127 bytes use the two-byte length form.
func Encode(m Message) []byte {
	payload := m.appendPayload(nil)

	size := headerLen + len(payload)
	if size > 0x7F {
		size++
	}

	frame := make([]byte, 0, size)
	if size > 0x7F {
		frame = append(frame, 0x80|byte(size&0x7F), byte(size>>7))
	} else {
		frame = append(frame, byte(size))
	}
	frame = append(frame, HubID, byte(m.MessageType()))

	return append(frame, payload...)
}

// FrameLength reports the total length of the frame starting at buf, as
// announced by its length prefix. ok is false when buf does not yet hold
// enough bytes to tell.
func FrameLength(buf []byte) (n int, ok bool) {
	if len(buf) < 1 {
		return 0, false
	}
	if buf[0]&0x80 == 0 {
		return int(buf[0]), true
	}
	if len(buf) < 2 {
		return 0, false
	}
	return int(buf[0]&0x7F) | int(buf[1])<<7, true
}

// BuildPropertyRequestCommand asks the hub to send the current value of a property once.
func BuildPropertyRequestCommand(property HubProperty) []byte {
	return Encode(HubPropertiesMessage{Property: property, Operation: OperationRequestUpdate})
}

// BuildPropertyUpdatesCommand enables or disables periodic updates of a property.
func BuildPropertyUpdatesCommand(property HubProperty, enable bool) []byte {
	op := OperationDisableUpdates
	if enable {
		op = OperationEnableUpdates
	}
	return Encode(HubPropertiesMessage{Property: property, Operation: op})
}

// BuildHubActionCommand creates a hub action such as switching the hub off.
func BuildHubActionCommand(action HubAction) []byte {
	return Encode(HubActionsMessage{Action: action})
}

// BuildInputFormatCommand selects the input mode of a port and arms value
// notifications with the given minimum delta.
func BuildInputFormatCommand(port, mode byte, delta uint32, notify bool) []byte {
	return Encode(PortInputFormatSetupSingleMessage{
		PortID:               port,
		ModeID:               mode,
		DeltaInterval:        delta,
		NotificationsEnabled: notify,
	})
}

// BuildPortValueRequestCommand asks the hub for the current value of a port.
func BuildPortValueRequestCommand(port byte) []byte {
	return Encode(PortInformationRequestMessage{PortID: port, InfoType: PortInfoValue})
}

// BuildModeInformationRequestCommand asks the hub to describe an aspect of a port mode.
func BuildModeInformationRequestCommand(port, mode byte, info ModeInfoType) []byte {
	return Encode(PortModeInformationRequestMessage{PortID: port, ModeID: mode, InfoType: info})
}

// BuildOutputCommand creates a port output command that executes immediately
// and requests feedback.
func BuildOutputCommand(port byte, cmd OutputCommand) []byte {
	return Encode(PortOutputCommandMessage{
		PortID:            port,
		StartupCompletion: DefaultStartupCompletion,
		Command:           cmd,
	})
}
