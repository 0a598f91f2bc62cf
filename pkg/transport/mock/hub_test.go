package mock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlsorensen/gohub/pkg/lwp"
	"github.com/mlsorensen/gohub/pkg/transport"
)

const motorPort byte = 0x00

func next(t *testing.T, h *Hub) lwp.Message {
	t.Helper()
	select {
	case frame, ok := <-h.Inbound():
		require.True(t, ok, "inbound closed")
		msg, err := lwp.Decode(frame)
		require.NoError(t, err)
		return msg
	case <-time.After(time.Second):
		t.Fatal("no frame from hub")
		return nil
	}
}

func drainAttach(t *testing.T, h *Hub, n int) []lwp.HubAttachedIOMessage {
	t.Helper()
	out := make([]lwp.HubAttachedIOMessage, 0, n)
	for i := 0; i < n; i++ {
		m, ok := next(t, h).(lwp.HubAttachedIOMessage)
		require.True(t, ok)
		out = append(out, m)
	}
	return out
}

func write(t *testing.T, h *Hub, frame []byte) {
	t.Helper()
	require.NoError(t, h.Write(context.Background(), frame))
}

func TestNewAnnouncesDevicesInPortOrder(t *testing.T) {
	h := New("Technic Hub", WithDevice(motorPort, lwp.IOTypeTechnicLargeMotor))
	defer h.Close()

	attached := drainAttach(t, h, 4)
	ports := make([]byte, len(attached))
	for i, m := range attached {
		ports[i] = m.PortID
		assert.Equal(t, lwp.EventAttached, m.Event)
	}
	assert.Equal(t, []byte{motorPort, PortLight, PortVoltage, PortTemperature}, ports)
	assert.Equal(t, lwp.IOTypeTechnicLargeMotor, attached[0].IOType)
}

func TestPropertyRequest(t *testing.T) {
	h := New("Technic Hub", WithBattery(42))
	defer h.Close()
	drainAttach(t, h, 3)

	write(t, h, lwp.BuildPropertyRequestCommand(lwp.PropertyBatteryVoltage))
	m, ok := next(t, h).(lwp.HubPropertiesMessage)
	require.True(t, ok)
	level, ok := m.BatteryLevel()
	require.True(t, ok)
	assert.Equal(t, uint8(42), level)

	write(t, h, lwp.BuildPropertyRequestCommand(lwp.PropertyAdvertisingName))
	m = next(t, h).(lwp.HubPropertiesMessage)
	assert.Equal(t, "Technic Hub", string(m.Payload))
}

func TestOutputCommandFeedbackAndValue(t *testing.T) {
	h := New("hub", WithDevice(motorPort, lwp.IOTypeTechnicLargeMotor))
	defer h.Close()
	drainAttach(t, h, 4)

	write(t, h, lwp.BuildInputFormatCommand(motorPort, 2, 1, true))
	ack, ok := next(t, h).(lwp.PortInputFormatSingleMessage)
	require.True(t, ok)
	assert.Equal(t, byte(2), ack.ModeID)
	assert.True(t, ack.NotificationsEnabled)

	initial := next(t, h).(lwp.PortValueSingleMessage)
	assert.Equal(t, int64(0), lwp.ReadIntLE(initial.Raw))

	write(t, h, lwp.BuildOutputCommand(motorPort, lwp.StartSpeedForDegrees{Degrees: 90, Speed: 50, MaxPower: 100}))
	fb, ok := next(t, h).(lwp.PortOutputCommandFeedbackMessage)
	require.True(t, ok)
	require.Len(t, fb.Entries, 1)
	assert.True(t, fb.Entries[0].Flags.Has(lwp.FeedbackCompleted))

	v := next(t, h).(lwp.PortValueSingleMessage)
	assert.Equal(t, int64(90), lwp.ReadIntLE(v.Raw))
}

func TestManualFeedback(t *testing.T) {
	h := New("hub", WithDevice(motorPort, lwp.IOTypeTechnicLargeMotor), WithManualFeedback())
	defer h.Close()
	drainAttach(t, h, 4)

	write(t, h, lwp.BuildOutputCommand(motorPort, lwp.StartPower(30)))
	h.Feedback(motorPort, lwp.FeedbackDiscarded)

	fb, ok := next(t, h).(lwp.PortOutputCommandFeedbackMessage)
	require.True(t, ok)
	assert.Equal(t, lwp.FeedbackDiscarded, fb.Entries[0].Flags)
}

func TestOutputToEmptyPortIsRejected(t *testing.T) {
	h := New("hub")
	defer h.Close()
	drainAttach(t, h, 3)

	write(t, h, lwp.BuildOutputCommand(0x05, lwp.StartPower(30)))
	e, ok := next(t, h).(lwp.GenericErrorMessage)
	require.True(t, ok)
	assert.Equal(t, lwp.MessagePortOutputCommand, e.CommandType)
	assert.Equal(t, lwp.ErrorInvalidUse, e.Code)
}

func TestModeInformation(t *testing.T) {
	h := New("hub")
	defer h.Close()
	drainAttach(t, h, 3)

	write(t, h, lwp.BuildModeInformationRequestCommand(PortVoltage, 0, lwp.ModeInfoRaw))
	raw := next(t, h).(lwp.PortModeInformationMessage)
	assert.Equal(t, float32(3893), raw.Max)

	write(t, h, lwp.BuildModeInformationRequestCommand(PortVoltage, 0, lwp.ModeInfoSI))
	si := next(t, h).(lwp.PortModeInformationMessage)
	assert.Equal(t, float32(9620), si.Max)

	write(t, h, lwp.BuildModeInformationRequestCommand(PortVoltage, 9, lwp.ModeInfoName))
	_, ok := next(t, h).(lwp.GenericErrorMessage)
	assert.True(t, ok)
}

func TestTurnAndTemperatureNotify(t *testing.T) {
	h := New("hub", WithDevice(motorPort, lwp.IOTypeTechnicLargeMotor))
	defer h.Close()
	drainAttach(t, h, 4)

	write(t, h, lwp.BuildInputFormatCommand(motorPort, 2, 10, true))
	next(t, h) // ack
	next(t, h) // initial value

	// below the armed delta
	h.Turn(motorPort, 5)
	h.Turn(motorPort, 10)
	v := next(t, h).(lwp.PortValueSingleMessage)
	assert.Equal(t, int64(15), lwp.ReadIntLE(v.Raw))

	write(t, h, lwp.BuildInputFormatCommand(PortTemperature, 0, 1, true))
	next(t, h)
	next(t, h)
	h.SetTemperature(30.5)
	v = next(t, h).(lwp.PortValueSingleMessage)
	assert.Equal(t, PortTemperature, v.PortID)
	assert.Equal(t, int64(305), lwp.ReadIntLE(v.Raw))
}

func TestUnknownCommand(t *testing.T) {
	h := New("hub")
	defer h.Close()
	drainAttach(t, h, 3)

	write(t, h, lwp.Encode(lwp.PortValueSingleMessage{PortID: 1, Raw: []byte{1}}))
	e := next(t, h).(lwp.GenericErrorMessage)
	assert.Equal(t, lwp.ErrorCommandNotRecognized, e.Code)
}

func TestSwitchOffClosesAfterAnnouncing(t *testing.T) {
	h := New("hub")
	drainAttach(t, h, 3)

	write(t, h, lwp.BuildHubActionCommand(lwp.ActionSwitchOff))
	a := next(t, h).(lwp.HubActionsMessage)
	assert.Equal(t, lwp.ActionWillSwitchOff, a.Action)

	_, ok := <-h.Inbound()
	assert.False(t, ok)
	assert.ErrorIs(t, h.Write(context.Background(), lwp.BuildPortValueRequestCommand(1)), transport.ErrClosed)
}

func TestDropClosesImmediately(t *testing.T) {
	h := New("hub")
	h.Drop()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-h.Inbound():
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestReceivedRecordsDecodedWrites(t *testing.T) {
	h := New("hub")
	defer h.Close()

	write(t, h, lwp.BuildPortValueRequestCommand(PortVoltage))
	write(t, h, []byte{0x01}) // undecodable, dropped

	got := h.Received()
	require.Len(t, got, 1)
	assert.Equal(t, lwp.PortInformationRequestMessage{PortID: PortVoltage, InfoType: lwp.PortInfoValue}, got[0])
}

func TestWriteHonoursContext(t *testing.T) {
	h := New("hub")
	defer h.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, h.Write(ctx, lwp.BuildPortValueRequestCommand(1)), context.Canceled)
}
