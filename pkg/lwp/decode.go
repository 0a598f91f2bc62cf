package lwp

import (
	"bytes"
	"fmt"
	"math"
)

// Decode parses one complete frame into a typed message.
// Every failure wraps ErrMalformedMessage; the caller drops the frame and carries on.
func Decode(frame []byte) (Message, error) {
	n, ok := FrameLength(frame)
	if !ok {
		return nil, fmt.Errorf("%w: frame too short for length prefix", ErrMalformedMessage)
	}
	if n != len(frame) {
		return nil, fmt.Errorf("%w: declared length %d, got %d bytes", ErrMalformedMessage, n, len(frame))
	}

	hdr := headerLen
	if frame[0]&0x80 != 0 {
		hdr++
	}
	if len(frame) < hdr {
		return nil, fmt.Errorf("%w: frame shorter than header", ErrMalformedMessage)
	}

	msgType := MessageType(frame[hdr-1])
	payload := frame[hdr:]

	switch msgType {
	case MessageHubProperties:
		return decodeHubProperties(payload)
	case MessageHubActions:
		if len(payload) < 1 {
			return nil, short(msgType, 1, payload)
		}
		return HubActionsMessage{Action: HubAction(payload[0])}, nil
	case MessageHubAttachedIO:
		return decodeAttachedIO(payload)
	case MessageGenericError:
		if len(payload) < 2 {
			return nil, short(msgType, 2, payload)
		}
		return GenericErrorMessage{CommandType: MessageType(payload[0]), Code: ErrorCode(payload[1])}, nil
	case MessagePortInformationRequest:
		if len(payload) < 2 {
			return nil, short(msgType, 2, payload)
		}
		return PortInformationRequestMessage{PortID: payload[0], InfoType: PortInfoType(payload[1])}, nil
	case MessagePortModeInformationRequest:
		if len(payload) < 3 {
			return nil, short(msgType, 3, payload)
		}
		return PortModeInformationRequestMessage{
			PortID:   payload[0],
			ModeID:   payload[1],
			InfoType: ModeInfoType(payload[2]),
		}, nil
	case MessagePortInputFormatSetupSingle:
		if len(payload) < 7 {
			return nil, short(msgType, 7, payload)
		}
		return PortInputFormatSetupSingleMessage{
			PortID:               payload[0],
			ModeID:               payload[1],
			DeltaInterval:        uint32(ReadUintLE(payload[2:6])),
			NotificationsEnabled: payload[6] != 0,
		}, nil
	case MessagePortInputFormatSingle:
		if len(payload) < 7 {
			return nil, short(msgType, 7, payload)
		}
		return PortInputFormatSingleMessage{
			PortID:               payload[0],
			ModeID:               payload[1],
			DeltaInterval:        uint32(ReadUintLE(payload[2:6])),
			NotificationsEnabled: payload[6] != 0,
		}, nil
	case MessagePortInformation:
		return decodePortInformation(payload)
	case MessagePortModeInformation:
		return decodePortModeInformation(payload)
	case MessagePortValueSingle:
		if len(payload) < 1 {
			return nil, short(msgType, 1, payload)
		}
		return PortValueSingleMessage{PortID: payload[0], Raw: clone(payload[1:])}, nil
	case MessagePortOutputCommand:
		return decodeOutputCommand(payload)
	case MessagePortOutputCommandFeedback:
		return decodeFeedback(payload)
	default:
		return nil, fmt.Errorf("%w: unknown message type 0x%02X", ErrMalformedMessage, byte(msgType))
	}
}

func short(t MessageType, want int, payload []byte) error {
	return fmt.Errorf("%w: %s payload needs %d bytes, got %d", ErrMalformedMessage, t, want, len(payload))
}

// clone copies b so decoded messages never alias the transport's buffer.
// An empty input yields nil.
func clone(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return append([]byte(nil), b...)
}

func decodeHubProperties(payload []byte) (Message, error) {
	if len(payload) < 2 {
		return nil, short(MessageHubProperties, 2, payload)
	}
	return HubPropertiesMessage{
		Property:  HubProperty(payload[0]),
		Operation: PropertyOperation(payload[1]),
		Payload:   clone(payload[2:]),
	}, nil
}

func decodeAttachedIO(payload []byte) (Message, error) {
	if len(payload) < 2 {
		return nil, short(MessageHubAttachedIO, 2, payload)
	}
	msg := HubAttachedIOMessage{PortID: payload[0], Event: AttachEvent(payload[1])}

	switch msg.Event {
	case EventDetached:
	case EventAttached:
		if len(payload) < 12 {
			return nil, short(MessageHubAttachedIO, 12, payload)
		}
		msg.IOType = IOType(ReadUintLE(payload[2:4]))
		msg.HardwareRevision = Version(ReadUintLE(payload[4:8]))
		msg.SoftwareRevision = Version(ReadUintLE(payload[8:12]))
	case EventAttachedVirtual:
		if len(payload) < 6 {
			return nil, short(MessageHubAttachedIO, 6, payload)
		}
		msg.IOType = IOType(ReadUintLE(payload[2:4]))
		msg.PortA = payload[4]
		msg.PortB = payload[5]
	default:
		return nil, fmt.Errorf("%w: unknown attach event 0x%02X", ErrMalformedMessage, payload[1])
	}
	return msg, nil
}

func decodePortInformation(payload []byte) (Message, error) {
	if len(payload) < 2 {
		return nil, short(MessagePortInformation, 2, payload)
	}
	msg := PortInformationMessage{PortID: payload[0], InfoType: PortInfoType(payload[1])}

	switch msg.InfoType {
	case PortInfoModeInfo:
		if len(payload) < 8 {
			return nil, short(MessagePortInformation, 8, payload)
		}
		msg.Capabilities = payload[2]
		msg.ModeCount = payload[3]
		msg.InputModes = uint16(ReadUintLE(payload[4:6]))
		msg.OutputModes = uint16(ReadUintLE(payload[6:8]))
	case PortInfoModeCombinations:
		rest := payload[2:]
		if len(rest)%2 != 0 {
			return nil, fmt.Errorf("%w: odd mode combination payload", ErrMalformedMessage)
		}
		for i := 0; i < len(rest); i += 2 {
			msg.Combinations = append(msg.Combinations, uint16(ReadUintLE(rest[i:i+2])))
		}
	default:
		return nil, fmt.Errorf("%w: unknown port information type 0x%02X", ErrMalformedMessage, payload[1])
	}
	return msg, nil
}

func decodePortModeInformation(payload []byte) (Message, error) {
	if len(payload) < 3 {
		return nil, short(MessagePortModeInformation, 3, payload)
	}
	msg := PortModeInformationMessage{
		PortID:   payload[0],
		ModeID:   payload[1],
		InfoType: ModeInfoType(payload[2]),
	}
	rest := payload[3:]

	switch msg.InfoType {
	case ModeInfoName:
		msg.Name = cstring(rest)
	case ModeInfoRaw, ModeInfoPct, ModeInfoSI:
		if len(rest) < 8 {
			return nil, short(MessagePortModeInformation, 11, payload)
		}
		msg.Min = math.Float32frombits(uint32(ReadUintLE(rest[0:4])))
		msg.Max = math.Float32frombits(uint32(ReadUintLE(rest[4:8])))
	case ModeInfoSymbol:
		msg.Symbol = cstring(rest)
	case ModeInfoMapping:
		if len(rest) < 2 {
			return nil, short(MessagePortModeInformation, 5, payload)
		}
		msg.Mapping = Mapping{Input: rest[0], Output: rest[1]}
	case ModeInfoValueFormat:
		if len(rest) < 4 {
			return nil, short(MessagePortModeInformation, 7, payload)
		}
		msg.ValueFormat = ValueFormat{Datasets: rest[0], Type: rest[1], Figures: rest[2], Decimals: rest[3]}
	default:
		return nil, fmt.Errorf("%w: unknown mode information type 0x%02X", ErrMalformedMessage, payload[2])
	}
	return msg, nil
}

// cstring returns b up to its first NUL byte.
func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func decodeOutputCommand(payload []byte) (Message, error) {
	if len(payload) < 3 {
		return nil, short(MessagePortOutputCommand, 3, payload)
	}
	msg := PortOutputCommandMessage{PortID: payload[0], StartupCompletion: payload[1]}
	sub := OutputSubcommand(payload[2])
	p := payload[3:]

	need := func(n int) error {
		if len(p) < n {
			return fmt.Errorf("%w: %s needs %d parameter bytes, got %d", ErrMalformedMessage, sub, n, len(p))
		}
		return nil
	}

	switch sub {
	case SubcommandSetAccTime, SubcommandSetDecTime:
		if err := need(3); err != nil {
			return nil, err
		}
		t := uint16(ReadUintLE(p[0:2]))
		if sub == SubcommandSetAccTime {
			msg.Command = SetAccTime{Time: t, Profile: p[2]}
		} else {
			msg.Command = SetDecTime{Time: t, Profile: p[2]}
		}
	case SubcommandStartSpeed:
		if err := need(3); err != nil {
			return nil, err
		}
		msg.Command = StartSpeed{Speed: int8(p[0]), MaxPower: p[1], Profile: p[2]}
	case SubcommandStartSpeedForTime:
		if err := need(6); err != nil {
			return nil, err
		}
		msg.Command = StartSpeedForTime{
			Time:     uint16(ReadUintLE(p[0:2])),
			Speed:    int8(p[2]),
			MaxPower: p[3],
			EndState: EndState(p[4]),
			Profile:  p[5],
		}
	case SubcommandStartSpeedForDegrees:
		if err := need(8); err != nil {
			return nil, err
		}
		msg.Command = StartSpeedForDegrees{
			Degrees:  int32(ReadIntLE(p[0:4])),
			Speed:    int8(p[4]),
			MaxPower: p[5],
			EndState: EndState(p[6]),
			Profile:  p[7],
		}
	case SubcommandGotoAbsolutePosition:
		if err := need(8); err != nil {
			return nil, err
		}
		msg.Command = GotoAbsolutePosition{
			Position: int32(ReadIntLE(p[0:4])),
			Speed:    int8(p[4]),
			MaxPower: p[5],
			EndState: EndState(p[6]),
			Profile:  p[7],
		}
	case SubcommandWriteDirectModeData:
		if err := need(1); err != nil {
			return nil, err
		}
		msg.Command = WriteDirectModeData{Mode: p[0], Data: clone(p[1:])}
	default:
		return nil, fmt.Errorf("%w: unknown output subcommand 0x%02X", ErrMalformedMessage, byte(sub))
	}
	return msg, nil
}

func decodeFeedback(payload []byte) (Message, error) {
	if len(payload) < 2 || len(payload)%2 != 0 {
		return nil, fmt.Errorf("%w: feedback payload of %d bytes is not a list of port/flag pairs", ErrMalformedMessage, len(payload))
	}
	msg := PortOutputCommandFeedbackMessage{Entries: make([]FeedbackEntry, 0, len(payload)/2)}
	for i := 0; i < len(payload); i += 2 {
		msg.Entries = append(msg.Entries, FeedbackEntry{PortID: payload[i], Flags: FeedbackFlags(payload[i+1])})
	}
	return msg, nil
}
