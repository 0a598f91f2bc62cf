// Package serial carries LWP frames over a serial line, as exposed by
// BLE-UART bridge dongles that forward the hub characteristic verbatim.
//
// The line is a plain byte stream, so inbound bytes are cut into frames
// using the length prefix every frame starts with.
package serial

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"sync"

	goserial "go.bug.st/serial"

	"github.com/mlsorensen/gohub/pkg/broadcast"
	"github.com/mlsorensen/gohub/pkg/logging"
	"github.com/mlsorensen/gohub/pkg/lwp"
	"github.com/mlsorensen/gohub/pkg/transport"
)

// DefaultBaudRate is used when Open is given a non-positive baud rate.
const DefaultBaudRate = 115200

var _ transport.Transport = (*Conn)(nil)

// Port is the minimal interface needed for a serial port. It lets tests
// run the framing without hardware.
type Port interface {
	io.ReadWriter
	io.Closer
}

// Conn is a framed serial link to one hub.
type Conn struct {
	port   Port
	logger *slog.Logger

	writeMu sync.Mutex
	frames  *broadcast.Broadcaster[[]byte]
	sub     *broadcast.Subscription[[]byte]

	closeOnce sync.Once
	closed    chan struct{}
}

// Open opens the serial device at path with 8N1 framing and starts reading.
func Open(path string, baudRate int, logger *slog.Logger) (*Conn, error) {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}
	mode := &goserial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   goserial.NoParity,
		StopBits: goserial.OneStopBit,
	}

	port, err := goserial.Open(path, mode)
	if err != nil {
		return nil, err
	}
	return New(port, logging.OrDiscard(logger).With("port", path)), nil
}

// New wraps an already open port and starts reading from it.
func New(port Port, logger *slog.Logger) *Conn {
	c := &Conn{
		port:   port,
		logger: logging.OrDiscard(logger),
		frames: broadcast.New[[]byte](),
		closed: make(chan struct{}),
	}
	c.sub = c.frames.Subscribe()
	go c.readLoop()
	return c
}

func (c *Conn) readLoop() {
	scan := bufio.NewScanner(c.port)
	scan.Buffer(make([]byte, 0, 256), lwp.MaxFrameLen)
	scan.Split(SplitFrames)

	for scan.Scan() {
		frame := make([]byte, len(scan.Bytes()))
		copy(frame, scan.Bytes())
		c.frames.Publish(frame)
	}

	select {
	case <-c.closed:
	default:
		if err := scan.Err(); err != nil {
			c.logger.Warn("serial read failed", "error", err)
		} else {
			c.logger.Warn("serial line closed")
		}
	}
	c.frames.Close()
}

// SplitFrames is a bufio.SplitFunc that yields one LWP frame per token.
// Every leading byte that cannot start a frame is dropped in the same call,
// so a frame arriving in the same read as line noise is returned at once.
func SplitFrames(data []byte, atEOF bool) (advance int, token []byte, err error) {
	skipped := 0
	for skipped < len(data) {
		rest := data[skipped:]
		n, ok := lwp.FrameLength(rest)
		if !ok {
			if atEOF {
				return 0, nil, io.ErrUnexpectedEOF
			}
			return skipped, nil, nil
		}
		if n < 3 || (rest[0]&0x80 != 0 && n < 4) {
			skipped++
			continue
		}
		if len(rest) < n {
			if atEOF {
				return 0, nil, io.ErrUnexpectedEOF
			}
			return skipped, nil, nil
		}
		return skipped + n, rest[:n], nil
	}
	return skipped, nil, nil
}

// Inbound implements transport.Transport.
func (c *Conn) Inbound() <-chan []byte { return c.sub.C() }

// Write implements transport.Transport.
func (c *Conn) Write(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.closed:
		return transport.ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	n, err := c.port.Write(frame)
	if err != nil {
		return err
	}
	if n != len(frame) {
		return io.ErrShortWrite
	}
	return nil
}

// Close implements transport.Transport.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.port.Close()
	})
	return err
}
