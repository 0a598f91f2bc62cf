package messenger

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlsorensen/gohub/pkg/lwp"
)

type recordingWriter struct {
	mu     sync.Mutex
	frames [][]byte
	err    error
}

func (w *recordingWriter) Write(_ context.Context, frame []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.frames = append(w.frames, frame)
	return nil
}

func TestSendRunsMiddlewareInOrder(t *testing.T) {
	var seen []string
	tag := func(name string) Middleware {
		return MiddlewareFunc(func(dir Direction, frame []byte) []byte {
			seen = append(seen, name+":"+dir.String())
			return frame
		})
	}

	w := &recordingWriter{}
	m := New(w, nil, tag("a"), tag("b"), tag("c"))

	frame := lwp.BuildHubActionCommand(lwp.ActionSwitchOff)
	require.NoError(t, m.Send(context.Background(), frame))
	m.Receive(frame)

	assert.Equal(t, []string{
		"a:outbound", "b:outbound", "c:outbound",
		"a:inbound", "b:inbound", "c:inbound",
	}, seen)
	require.Len(t, w.frames, 1)
	assert.Equal(t, frame, w.frames[0])
}

func TestMiddlewareMayReplaceFrame(t *testing.T) {
	copying := MiddlewareFunc(func(_ Direction, frame []byte) []byte {
		return append([]byte(nil), frame...)
	})
	w := &recordingWriter{}
	m := New(w, nil, copying)

	frame := []byte{0x04, 0x00, 0x02, 0x01}
	require.NoError(t, m.Send(context.Background(), frame))
	assert.Equal(t, frame, w.frames[0])
	assert.NotSame(t, &frame[0], &w.frames[0][0])
}

func TestSendWrapsTransportError(t *testing.T) {
	linkDown := errors.New("link down")
	m := New(&recordingWriter{err: linkDown}, nil)

	err := m.Send(context.Background(), []byte{0x04, 0x00, 0x02, 0x01})
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, linkDown)
}

func TestFrameCounter(t *testing.T) {
	var counter FrameCounter
	m := New(&recordingWriter{}, nil, &counter)

	require.NoError(t, m.Send(context.Background(), []byte{0x04, 0x00, 0x02, 0x01}))
	m.Receive([]byte{0x05, 0x00, 0x45, 0x01, 0x64})
	m.Receive([]byte{0x05, 0x00, 0x45, 0x01, 0x63})

	s := counter.Stats()
	assert.Equal(t, uint64(1), s.FramesTx)
	assert.Equal(t, uint64(4), s.BytesTx)
	assert.Equal(t, uint64(2), s.FramesRx)
	assert.Equal(t, uint64(10), s.BytesRx)
	assert.False(t, s.LastActivity.IsZero())
}

func TestFrameLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	m := New(&recordingWriter{}, nil, FrameLogger(logger))

	m.Receive([]byte{0x05, 0x00, 0x45, 0x01, 0x64})
	out := buf.String()
	assert.Contains(t, out, "dir=inbound")
	assert.Contains(t, out, "type=PortValueSingle")
	assert.Contains(t, out, `bytes="05 00 45 01 64"`)
}
