package taskqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlsorensen/gohub/pkg/lwp"
)

// fakeSender records every frame written and can be told to fail.
type fakeSender struct {
	mu   sync.Mutex
	err  error
	sent chan []byte
}

func newFakeSender() *fakeSender {
	return &fakeSender{sent: make(chan []byte, 64)}
}

func (s *fakeSender) Send(_ context.Context, frame []byte) error {
	s.mu.Lock()
	err := s.err
	s.mu.Unlock()
	s.sent <- frame
	return err
}

func (s *fakeSender) failWith(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func expectSent(t *testing.T, s *fakeSender, want []byte) {
	t.Helper()
	select {
	case got := <-s.sent:
		require.Equal(t, want, got)
	case <-time.After(time.Second):
		t.Fatalf("frame % X was not sent", want)
	}
}

func expectNoSend(t *testing.T, s *fakeSender) {
	t.Helper()
	select {
	case got := <-s.sent:
		t.Fatalf("unexpected frame % X", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func waitState(t *testing.T, r *Result, want State) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, _ := r.Wait(ctx)
	require.Equal(t, want, got)
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, time.Second, 5*time.Millisecond)
}

func feedback(q *Queue, port byte, flags lwp.FeedbackFlags) {
	q.HandleMessage(lwp.PortOutputCommandFeedbackMessage{
		Entries: []lwp.FeedbackEntry{{PortID: port, Flags: flags}},
	})
}

func power(port byte, p int8) []byte {
	return lwp.BuildOutputCommand(port, lwp.StartPower(p))
}

func enqueue(t *testing.T, q *Queue, task Task) *Result {
	t.Helper()
	r, err := q.Enqueue(task)
	require.NoError(t, err)
	return r
}

func TestWithoutResponseCompletesOnWrite(t *testing.T) {
	s := newFakeSender()
	q := New(s, nil)
	defer q.Close(nil)

	frames := [][]byte{
		lwp.BuildHubActionCommand(lwp.ActionActivateBusy),
		lwp.BuildHubActionCommand(lwp.ActionResetBusy),
	}
	a := enqueue(t, q, WithoutResponse(frames[0]))
	b := enqueue(t, q, WithoutResponse(frames[1]))

	expectSent(t, s, frames[0])
	expectSent(t, s, frames[1])
	waitState(t, a, StateCompleted)
	waitState(t, b, StateCompleted)
	assert.NoError(t, b.Err())
}

func TestStrictOrderingWaitsForFeedback(t *testing.T) {
	s := newFakeSender()
	q := New(s, nil)
	defer q.Close(nil)

	a := enqueue(t, q, PortOutput(0, power(0, 50)))
	b := enqueue(t, q, PortOutput(0, power(0, -50)))
	c := enqueue(t, q, WithoutResponse(lwp.BuildHubActionCommand(lwp.ActionResetBusy)))

	expectSent(t, s, power(0, 50))
	expectNoSend(t, s)
	assert.Equal(t, StateSent, a.State())
	assert.Equal(t, StateQueued, b.State())
	assert.Equal(t, 2, q.Len())

	feedback(q, 0, lwp.FeedbackInProgress)
	expectNoSend(t, s)

	feedback(q, 0, lwp.FeedbackCompleted|lwp.FeedbackIdle)
	waitState(t, a, StateCompleted)
	expectSent(t, s, power(0, -50))
	expectNoSend(t, s)

	feedback(q, 0, lwp.FeedbackCompleted|lwp.FeedbackIdle)
	waitState(t, b, StateCompleted)
	expectSent(t, s, lwp.BuildHubActionCommand(lwp.ActionResetBusy))
	waitState(t, c, StateCompleted)
}

func TestPipelinedFeedbackIsPositional(t *testing.T) {
	s := newFakeSender()
	q := New(s, nil, WithOutputPipelining())
	defer q.Close(nil)

	a := enqueue(t, q, PortOutput(1, power(1, 10)))
	b := enqueue(t, q, PortOutput(1, power(1, 20)))
	other := enqueue(t, q, PortOutput(2, power(2, 30)))

	expectSent(t, s, power(1, 10))
	expectSent(t, s, power(1, 20))
	expectSent(t, s, power(2, 30))
	eventually(t, func() bool { return q.Pending(1) == 2 && q.Pending(2) == 1 })

	feedback(q, 1, lwp.FeedbackCompleted)
	waitState(t, a, StateCompleted)
	assert.Equal(t, StateSent, b.State(), "second command must not resolve before the first")
	assert.Equal(t, StateSent, other.State(), "feedback is per port")

	feedback(q, 1, lwp.FeedbackCompleted|lwp.FeedbackIdle)
	waitState(t, b, StateCompleted)
	assert.Equal(t, 0, q.Pending(1))
}

func TestDiscardedAndCompletedInOneFrame(t *testing.T) {
	s := newFakeSender()
	q := New(s, nil, WithOutputPipelining())
	defer q.Close(nil)

	a := enqueue(t, q, PortOutput(0, power(0, 10)))
	b := enqueue(t, q, PortOutput(0, power(0, 20)))
	expectSent(t, s, power(0, 10))
	expectSent(t, s, power(0, 20))
	eventually(t, func() bool { return q.Pending(0) == 2 })

	feedback(q, 0, lwp.FeedbackDiscarded|lwp.FeedbackCompleted|lwp.FeedbackIdle)

	state, err := a.Wait(context.Background())
	assert.Equal(t, StateDiscarded, state)
	assert.NoError(t, err, "discarded is not an error")
	waitState(t, b, StateCompleted)
}

func TestUnknownFeedbackResolvesNothing(t *testing.T) {
	s := newFakeSender()
	q := New(s, nil)
	defer q.Close(nil)

	a := enqueue(t, q, PortOutput(0, power(0, 10)))
	expectSent(t, s, power(0, 10))

	feedback(q, 0, 0x00)
	feedback(q, 0, 0x22)
	feedback(q, 0, lwp.FeedbackBusy)
	feedback(q, 0, lwp.FeedbackIdle)

	assert.Equal(t, StateSent, a.State())
	assert.Equal(t, 1, q.Pending(0))
}

func TestFeedbackWithoutPendingIsIgnored(t *testing.T) {
	q := New(newFakeSender(), nil)
	defer q.Close(nil)

	assert.NotPanics(t, func() { feedback(q, 5, lwp.FeedbackCompleted) })
}

func TestCancelPreservesPendingOrder(t *testing.T) {
	s := newFakeSender()
	q := New(s, nil, WithOutputPipelining())
	defer q.Close(nil)

	a := enqueue(t, q, PortOutput(0, power(0, 1)))
	b := enqueue(t, q, PortOutput(0, power(0, 2)))
	c := enqueue(t, q, PortOutput(0, power(0, 3)))
	for i := int8(1); i <= 3; i++ {
		expectSent(t, s, power(0, i))
	}
	eventually(t, func() bool { return q.Pending(0) == 3 })

	b.Cancel()
	waitState(t, b, StateDiscarded)
	assert.Equal(t, 2, q.Pending(0))

	feedback(q, 0, lwp.FeedbackCompleted)
	waitState(t, a, StateCompleted)
	assert.Equal(t, StateSent, c.State())

	feedback(q, 0, lwp.FeedbackCompleted)
	waitState(t, c, StateCompleted)
}

func TestCancelQueuedTaskIsNeverSent(t *testing.T) {
	s := newFakeSender()
	q := New(s, nil)
	defer q.Close(nil)

	a := enqueue(t, q, PortOutput(0, power(0, 1)))
	b := enqueue(t, q, PortOutput(0, power(0, 2)))
	c := enqueue(t, q, PortOutput(0, power(0, 3)))
	expectSent(t, s, power(0, 1))

	b.Cancel()
	waitState(t, b, StateDiscarded)
	b.Cancel()

	feedback(q, 0, lwp.FeedbackCompleted)
	waitState(t, a, StateCompleted)
	expectSent(t, s, power(0, 3))
	assert.Equal(t, StateSent, c.State())
}

func TestCancelSentTaskReleasesSlot(t *testing.T) {
	s := newFakeSender()
	q := New(s, nil)
	defer q.Close(nil)

	a := enqueue(t, q, PortOutput(0, power(0, 1)))
	b := enqueue(t, q, WithoutResponse(lwp.BuildHubActionCommand(lwp.ActionResetBusy)))
	expectSent(t, s, power(0, 1))

	a.Cancel()
	waitState(t, a, StateDiscarded)
	assert.Equal(t, 0, q.Pending(0))

	expectSent(t, s, lwp.BuildHubActionCommand(lwp.ActionResetBusy))
	waitState(t, b, StateCompleted)
}

func TestCloseFailsEveryTask(t *testing.T) {
	s := newFakeSender()
	q := New(s, nil)

	sent := enqueue(t, q, PortOutput(0, power(0, 1)))
	expectSent(t, s, power(0, 1))
	queued1 := enqueue(t, q, PortOutput(1, power(1, 1)))
	queued2 := enqueue(t, q, WithResponse(lwp.BuildPortValueRequestCommand(0), func(lwp.Message) bool { return true }))

	q.Close(ErrConnectionLost)

	for _, r := range []*Result{sent, queued1, queued2} {
		state, err := r.Wait(context.Background())
		assert.Equal(t, StateErrored, state)
		assert.ErrorIs(t, err, ErrConnectionLost)
	}
	assert.Equal(t, 0, q.Pending(0))

	_, err := q.Enqueue(WithoutResponse(lwp.BuildHubActionCommand(lwp.ActionSwitchOff)))
	assert.ErrorIs(t, err, ErrQueueClosed)
	assert.ErrorIs(t, err, ErrConnectionLost)

	select {
	case <-q.Done():
	case <-time.After(time.Second):
		t.Fatal("drain goroutine did not exit")
	}
	q.Close(nil)
}

func TestCloseWrapsCause(t *testing.T) {
	q := New(newFakeSender(), nil)
	r := enqueue(t, q, PortOutput(0, power(0, 1)))

	eof := errors.New("link dropped")
	q.Close(eof)

	_, err := r.Wait(context.Background())
	assert.ErrorIs(t, err, ErrConnectionLost)
	assert.ErrorIs(t, err, eof)
}

func TestWithResponseMatches(t *testing.T) {
	s := newFakeSender()
	q := New(s, nil)
	defer q.Close(nil)

	req := lwp.BuildPropertyRequestCommand(lwp.PropertyBatteryVoltage)
	r := enqueue(t, q, WithResponse(req, func(m lwp.Message) bool {
		p, ok := m.(lwp.HubPropertiesMessage)
		return ok && p.Property == lwp.PropertyBatteryVoltage && p.Operation == lwp.OperationUpdate
	}))
	next := enqueue(t, q, WithoutResponse(lwp.BuildHubActionCommand(lwp.ActionResetBusy)))
	expectSent(t, s, req)

	q.HandleMessage(lwp.HubPropertiesMessage{Property: lwp.PropertyRSSI, Operation: lwp.OperationUpdate, Payload: []byte{0xC4}})
	expectNoSend(t, s)
	assert.Equal(t, StateSent, r.State())

	answer := lwp.HubPropertiesMessage{Property: lwp.PropertyBatteryVoltage, Operation: lwp.OperationUpdate, Payload: []byte{80}}
	q.HandleMessage(answer)
	waitState(t, r, StateCompleted)
	assert.Equal(t, answer, r.Response())

	expectSent(t, s, lwp.BuildHubActionCommand(lwp.ActionResetBusy))
	waitState(t, next, StateCompleted)
}

func TestGenericErrorRejectsWaitingTask(t *testing.T) {
	s := newFakeSender()
	q := New(s, nil)
	defer q.Close(nil)

	req := lwp.BuildModeInformationRequestCommand(0, 9, lwp.ModeInfoName)
	r := enqueue(t, q, WithResponse(req, func(m lwp.Message) bool {
		_, ok := m.(lwp.PortModeInformationMessage)
		return ok
	}))
	expectSent(t, s, req)

	q.HandleMessage(lwp.GenericErrorMessage{CommandType: lwp.MessageHubProperties, Code: lwp.ErrorInvalidUse})
	assert.Equal(t, StateSent, r.State(), "error for another command type")

	q.HandleMessage(lwp.GenericErrorMessage{CommandType: lwp.MessagePortModeInformationRequest, Code: lwp.ErrorInvalidUse})
	state, err := r.Wait(context.Background())
	assert.Equal(t, StateErrored, state)
	assert.ErrorIs(t, err, ErrCommandRejected)
}

func TestTransportErrorFailsOnlyThatTask(t *testing.T) {
	s := newFakeSender()
	linkDown := errors.New("write failed")
	s.failWith(linkDown)
	q := New(s, nil)
	defer q.Close(nil)

	a := enqueue(t, q, PortOutput(0, power(0, 1)))
	expectSent(t, s, power(0, 1))
	state, err := a.Wait(context.Background())
	assert.Equal(t, StateErrored, state)
	assert.ErrorIs(t, err, linkDown)
	assert.Equal(t, 0, q.Pending(0))

	s.failWith(nil)
	b := enqueue(t, q, WithoutResponse(lwp.BuildHubActionCommand(lwp.ActionResetBusy)))
	expectSent(t, s, lwp.BuildHubActionCommand(lwp.ActionResetBusy))
	waitState(t, b, StateCompleted)
}

func TestOutputWithoutFeedbackFlagCompletesOnWrite(t *testing.T) {
	s := newFakeSender()
	q := New(s, nil)
	defer q.Close(nil)

	frame := lwp.Encode(lwp.PortOutputCommandMessage{
		PortID:            0,
		StartupCompletion: lwp.StartupExecuteImmediately,
		Command:           lwp.StartPower(10),
	})
	r := enqueue(t, q, PortOutput(0, frame))
	expectSent(t, s, frame)
	waitState(t, r, StateCompleted)
	assert.Equal(t, 0, q.Pending(0))
}

func TestWaitHonoursContext(t *testing.T) {
	s := newFakeSender()
	q := New(s, nil)
	defer q.Close(nil)

	r := enqueue(t, q, PortOutput(0, power(0, 1)))
	expectSent(t, s, power(0, 1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	state, err := r.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateSent, state)
}

func TestEnqueueValidation(t *testing.T) {
	q := New(newFakeSender(), nil)
	defer q.Close(nil)

	tests := []struct {
		name string
		task Task
	}{
		{"empty payload", WithoutResponse(nil)},
		{"missing match", WithResponse(lwp.BuildPortValueRequestCommand(0), nil)},
		{"not an output command", PortOutput(0, lwp.BuildPortValueRequestCommand(0))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := q.Enqueue(tt.task)
			assert.ErrorIs(t, err, ErrInvalidTask)
		})
	}
}
