// Package transport defines the link a hub connection runs over.
//
// Implementations live in the subpackages: ble for a direct Bluetooth LE
// connection, serial for BLE-UART bridge dongles and mock for a simulated
// hub used by tests and demos.
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned by Write once the transport has been closed.
var ErrClosed = errors.New("transport: closed")

// Transport moves whole LWP frames to and from a hub.
type Transport interface {
	// Write sends one frame. It returns once the frame has been handed to
	// the link, not when the hub has acted on it.
	Write(ctx context.Context, frame []byte) error

	// Inbound delivers every frame received from the hub, one complete frame
	// per value. The channel is closed when the link goes down.
	Inbound() <-chan []byte

	// Close disconnects. It is safe to call more than once.
	Close() error
}
