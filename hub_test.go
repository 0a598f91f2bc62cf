package gohub

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlsorensen/gohub/pkg/attachedio"
	"github.com/mlsorensen/gohub/pkg/lwp"
	"github.com/mlsorensen/gohub/pkg/lwp/transform"
	"github.com/mlsorensen/gohub/pkg/messenger"
	"github.com/mlsorensen/gohub/pkg/taskqueue"
	"github.com/mlsorensen/gohub/pkg/transport/mock"
)

const motorPort byte = 0x00

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func connect(t *testing.T, mockOpts []mock.Option, opts ...Option) (*Hub, *mock.Hub) {
	t.Helper()
	mockOpts = append([]mock.Option{mock.WithDevice(motorPort, lwp.IOTypeTechnicLargeMotor)}, mockOpts...)
	m := mock.New("Technic Hub", mockOpts...)

	h, err := Connect(testContext(t), m, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Disconnect() })
	return h, m
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "stream closed")
		return v
	case <-time.After(time.Second):
		t.Fatal("nothing received")
		var zero T
		return zero
	}
}

func waitClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
}

func expectNothing[T any](t *testing.T, ch <-chan T) {
	t.Helper()
	select {
	case v, ok := <-ch:
		if ok {
			t.Fatalf("unexpected value %v", v)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestConnectReadsFirmware(t *testing.T) {
	h, _ := connect(t, nil)
	assert.Equal(t, lwp.Version(0x11000010), h.Firmware())
	assert.NoError(t, h.Err())
}

func TestConnectFailsWhenHubIsGone(t *testing.T) {
	m := mock.New("hub")
	m.Drop()

	_, err := Connect(testContext(t), m)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConnectionLost) || errors.Is(err, messenger.ErrTransport), err)
}

func TestAttachedIOReplay(t *testing.T) {
	h, _ := connect(t, nil)

	require.Eventually(t, func() bool { return len(h.AttachedIO()) == 4 }, time.Second, 5*time.Millisecond)

	sub := h.OnIOAttach()
	defer sub.Cancel()
	first := receive(t, sub.C())
	assert.Equal(t, attachedio.Attached, first.Kind)
	assert.Equal(t, motorPort, first.Entry.PortID)
	assert.Equal(t, lwp.IOTypeTechnicLargeMotor, first.Entry.IOType)
}

func TestLiveAttachAndDetach(t *testing.T) {
	h, m := connect(t, nil)
	require.Eventually(t, func() bool { return len(h.AttachedIO()) == 4 }, time.Second, 5*time.Millisecond)

	detached := h.OnIODetach()
	defer detached.Cancel()

	m.Attach(0x01, lwp.IOTypeTechnicMediumAngular)
	require.Eventually(t, func() bool {
		_, ok := h.Ports().Device(0x01)
		return ok
	}, time.Second, 5*time.Millisecond)

	m.Detach(0x01)
	ev := receive(t, detached.C())
	assert.Equal(t, attachedio.Detached, ev.Kind)
	assert.Equal(t, byte(0x01), ev.Entry.PortID)
	assert.Equal(t, lwp.IOTypeTechnicMediumAngular, ev.Entry.IOType)
}

func TestMotorCommandCompletes(t *testing.T) {
	h, _ := connect(t, nil)
	ctx := testContext(t)

	state, err := h.Motors().StartSpeedForDegrees(ctx, motorPort, 180, 50, 100, lwp.EndStateBrake)
	require.NoError(t, err)
	assert.Equal(t, taskqueue.StateCompleted, state)

	state, err = h.Motors().Brake(ctx, motorPort)
	require.NoError(t, err)
	assert.Equal(t, taskqueue.StateCompleted, state)
}

func TestDiscardedIsNotAnError(t *testing.T) {
	h, m := connect(t, []mock.Option{mock.WithManualFeedback()})

	type outcome struct {
		state taskqueue.State
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		s, err := h.Motors().StartSpeed(testContext(t), motorPort, 50, 100)
		done <- outcome{s, err}
	}()

	require.Eventually(t, func() bool { return h.queue.Pending(motorPort) == 1 }, time.Second, 5*time.Millisecond)
	m.Feedback(motorPort, lwp.FeedbackDiscarded)

	got := receive(t, done)
	require.NoError(t, got.err)
	assert.Equal(t, taskqueue.StateDiscarded, got.state)
}

func TestContextEndStopsWaiting(t *testing.T) {
	h, m := connect(t, []mock.Option{mock.WithManualFeedback()})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := h.Motors().StartPower(ctx, motorPort, 30)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, h.queue.Pending(motorPort))

	// the queue moves on to the next command
	done := make(chan taskqueue.State, 1)
	go func() {
		s, _ := h.Motors().Float(testContext(t), motorPort)
		done <- s
	}()
	require.Eventually(t, func() bool { return h.queue.Pending(motorPort) == 1 }, time.Second, 5*time.Millisecond)
	m.Feedback(motorPort, lwp.FeedbackCompleted|lwp.FeedbackIdle)
	assert.Equal(t, taskqueue.StateCompleted, receive(t, done))
}

func TestPipelinedFeedbackResolvesInOrder(t *testing.T) {
	h, m := connect(t, []mock.Option{mock.WithManualFeedback()}, WithOutputPipelining())

	first, err := h.Enqueue(taskqueue.PortOutput(motorPort, lwp.BuildOutputCommand(motorPort, lwp.StartPower(10))))
	require.NoError(t, err)
	second, err := h.Enqueue(taskqueue.PortOutput(motorPort, lwp.BuildOutputCommand(motorPort, lwp.StartPower(20))))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.queue.Pending(motorPort) == 2 }, time.Second, 5*time.Millisecond)

	m.Feedback(motorPort, lwp.FeedbackCompleted)
	waitClosed(t, first.Done())
	assert.Equal(t, taskqueue.StateCompleted, first.State())
	assert.Equal(t, taskqueue.StateSent, second.State())

	m.Feedback(motorPort, lwp.FeedbackCompleted)
	waitClosed(t, second.Done())
	assert.Equal(t, taskqueue.StateCompleted, second.State())
}

func TestCommandToEmptyPortIsRejected(t *testing.T) {
	h, _ := connect(t, nil)

	state, err := h.Motors().StartPower(testContext(t), 0x05, 30)
	assert.ErrorIs(t, err, taskqueue.ErrCommandRejected)
	assert.Equal(t, taskqueue.StateErrored, state)
}

func TestPositionChanges(t *testing.T) {
	h, m := connect(t, nil)
	ctx := testContext(t)

	values, err := h.Motors().PositionChanges(ctx, motorPort, 1)
	require.NoError(t, err)

	initial := receive(t, values)
	assert.Equal(t, 0.0, initial.Value)
	assert.Equal(t, MotorModePosition, initial.ModeID)

	m.Turn(motorPort, -45)
	v := receive(t, values)
	assert.Equal(t, -45.0, v.Value)
}

func TestValuesAreFilteredByCurrentMode(t *testing.T) {
	h, m := connect(t, nil)
	ctx := testContext(t)

	positions, err := h.Motors().PositionChanges(ctx, motorPort, 1)
	require.NoError(t, err)
	receive(t, positions)

	speeds, err := h.Motors().SpeedChanges(ctx, motorPort, 1)
	require.NoError(t, err)
	receive(t, speeds)

	m.Inject(lwp.PortValueSingleMessage{PortID: motorPort, Raw: []byte{0x32}})
	assert.Equal(t, 50.0, receive(t, speeds).Value)
	expectNothing(t, positions)
}

func TestValueStreamEndsWithContext(t *testing.T) {
	h, _ := connect(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	values, err := h.Motors().SpeedChanges(ctx, motorPort, 1)
	require.NoError(t, err)
	receive(t, values)

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-values:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestVoltageModeIsCalibrated(t *testing.T) {
	h, _ := connect(t, nil)
	ctx := testContext(t)
	require.Eventually(t, func() bool { return len(h.AttachedIO()) == 4 }, time.Second, 5*time.Millisecond)

	info, err := h.Ports().Mode(ctx, mock.PortVoltage, "vlt l")
	require.NoError(t, err)
	v, ok := info.Transformer.(transform.Voltage)
	require.True(t, ok)
	assert.InDelta(t, 3893.0/9620.0, v.Divisor, 1e-6)

	values, err := h.Ports().ValueChanges(ctx, info, 10)
	require.NoError(t, err)
	assert.InDelta(t, 8200, receive(t, values).Value, 3)

	read, err := h.Ports().ReadValue(ctx, info)
	require.NoError(t, err)
	assert.InDelta(t, 8200, read.Value, 3)
}

func TestModeInformation(t *testing.T) {
	h, _ := connect(t, nil)

	mi, err := h.Ports().ModeInformation(testContext(t), motorPort, MotorModePosition)
	require.NoError(t, err)
	assert.Equal(t, "POS", mi.Name)
	assert.Equal(t, "DEG", mi.Symbol)
	assert.Equal(t, [2]float32{-360, 360}, mi.SI)
	assert.Equal(t, byte(2), mi.Format.Type)

	pi, err := h.Ports().Information(testContext(t), motorPort)
	require.NoError(t, err)
	assert.Equal(t, byte(4), pi.ModeCount)
}

func TestProperties(t *testing.T) {
	h, _ := connect(t, []mock.Option{mock.WithBattery(64)})
	ctx := testContext(t)

	level, err := h.Properties().BatteryLevel(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint8(64), level)

	name, err := h.Properties().Name(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Technic Hub", name)

	rssi, err := h.Properties().RSSI(ctx)
	require.NoError(t, err)
	assert.Less(t, rssi, int8(0))
}

func TestLightSetsColour(t *testing.T) {
	h, m := connect(t, nil)
	require.Eventually(t, func() bool { return len(h.AttachedIO()) == 4 }, time.Second, 5*time.Millisecond)

	state, err := h.Light().SetRGBColor(testContext(t), 0x10, 0x20, 0x30)
	require.NoError(t, err)
	assert.Equal(t, taskqueue.StateCompleted, state)

	var found bool
	for _, msg := range m.Received() {
		if oc, ok := msg.(lwp.PortOutputCommandMessage); ok && oc.PortID == mock.PortLight {
			assert.Equal(t, lwp.SetRGBColor(0x10, 0x20, 0x30), oc.Command)
			found = true
		}
	}
	assert.True(t, found)
}

func TestMalformedFrameIsDropped(t *testing.T) {
	h, m := connect(t, nil)

	m.InjectFrame([]byte{0x09, 0x00, 0x45, 0x00})
	m.InjectFrame([]byte{0x03, 0x00, 0x7E})

	_, err := h.Properties().BatteryLevel(testContext(t))
	require.NoError(t, err)
	assert.NoError(t, h.Err())
}

func TestDisconnectFailsWaitingCommands(t *testing.T) {
	h, _ := connect(t, []mock.Option{mock.WithManualFeedback()})
	require.Eventually(t, func() bool { return len(h.AttachedIO()) == 4 }, time.Second, 5*time.Millisecond)

	detached := h.OnIODetach()
	errc := make(chan error, 1)
	go func() {
		_, err := h.Motors().StartPower(testContext(t), motorPort, 30)
		errc <- err
	}()
	require.Eventually(t, func() bool { return h.queue.Pending(motorPort) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, h.Disconnect())

	assert.ErrorIs(t, receive(t, errc), ErrConnectionLost)
	assert.ErrorIs(t, h.Err(), ErrConnectionLost)
	assert.ErrorIs(t, h.Err(), ErrDisconnected)

	var ports []byte
	for ev := range detached.C() {
		ports = append(ports, ev.Entry.PortID)
	}
	assert.Equal(t, []byte{motorPort, mock.PortLight, mock.PortVoltage, mock.PortTemperature}, ports)

	_, err := h.Enqueue(taskqueue.WithoutResponse(lwp.BuildPortValueRequestCommand(motorPort)))
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.True(t, errors.Is(err, ErrConnectionLost))
}

func TestLinkLossEndsConnection(t *testing.T) {
	h, m := connect(t, nil)

	m.Drop()
	waitClosed(t, h.Done())
	assert.ErrorIs(t, h.Err(), ErrConnectionLost)
	assert.NotErrorIs(t, h.Err(), ErrDisconnected)
}

func TestSwitchOff(t *testing.T) {
	h, _ := connect(t, nil)

	require.NoError(t, h.Actions().SwitchOff(testContext(t)))
	waitClosed(t, h.Done())
}

func TestMiddlewareSeesBothDirections(t *testing.T) {
	counter := &messenger.FrameCounter{}
	h, _ := connect(t, nil, WithMiddleware(counter))

	_, err := h.Properties().BatteryLevel(testContext(t))
	require.NoError(t, err)

	stats := counter.Stats()
	assert.GreaterOrEqual(t, stats.FramesTx, uint64(2))
	assert.GreaterOrEqual(t, stats.FramesRx, uint64(2))
	assert.False(t, stats.LastActivity.IsZero())
}
