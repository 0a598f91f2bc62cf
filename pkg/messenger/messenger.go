// Package messenger writes encoded frames to a transport through a chain of
// middleware, and runs inbound frames through the same chain.
package messenger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mlsorensen/gohub/pkg/logging"
)

// ErrTransport wraps every error returned by the underlying writer.
var ErrTransport = errors.New("messenger: transport write failed")

// Direction tags a frame seen by middleware.
type Direction int

const (
	Outbound Direction = iota
	Inbound
)

func (d Direction) String() string {
	if d == Inbound {
		return "inbound"
	}
	return "outbound"
}

// Middleware observes every frame in both directions. It returns the frame,
// possibly replaced by a copy, and must not change its protocol meaning.
type Middleware interface {
	Handle(dir Direction, frame []byte) []byte
}

// MiddlewareFunc adapts a function to Middleware.
type MiddlewareFunc func(dir Direction, frame []byte) []byte

func (f MiddlewareFunc) Handle(dir Direction, frame []byte) []byte { return f(dir, frame) }

// Writer is the write half of a transport.
type Writer interface {
	Write(ctx context.Context, frame []byte) error
}

// Messenger is the single outbound path of a connection.
type Messenger struct {
	w          Writer
	logger     *slog.Logger
	middleware []Middleware
}

// New returns a Messenger writing to w. Middleware runs in the order given.
func New(w Writer, logger *slog.Logger, middleware ...Middleware) *Messenger {
	return &Messenger{
		w:          w,
		logger:     logging.OrDiscard(logger),
		middleware: middleware,
	}
}

// Send runs frame through the outbound middleware and performs exactly one
// write. It does not retry.
func (m *Messenger) Send(ctx context.Context, frame []byte) error {
	frame = m.apply(Outbound, frame)
	if err := m.w.Write(ctx, frame); err != nil {
		m.logger.Warn("frame write failed", "len", len(frame), "error", err)
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return nil
}

// Receive runs an inbound frame through the middleware and returns the
// frame to decode.
func (m *Messenger) Receive(frame []byte) []byte {
	return m.apply(Inbound, frame)
}

func (m *Messenger) apply(dir Direction, frame []byte) []byte {
	for _, mw := range m.middleware {
		frame = mw.Handle(dir, frame)
	}
	return frame
}
