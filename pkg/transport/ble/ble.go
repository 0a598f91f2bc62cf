// Package ble connects to a hub over Bluetooth LE using the host's default adapter.
//
// LWP hubs expose a single GATT characteristic that is written without
// response for outbound frames and notifies for inbound frames. Every
// notification carries exactly one frame.
package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"tinygo.org/x/bluetooth"

	"github.com/mlsorensen/gohub/pkg/broadcast"
	"github.com/mlsorensen/gohub/pkg/logging"
	"github.com/mlsorensen/gohub/pkg/transport"
)

var (
	ServiceUUID, _        = bluetooth.ParseUUID("00001623-1212-efde-1623-785feabcd123")
	CharacteristicUUID, _ = bluetooth.ParseUUID("00001624-1212-efde-1623-785feabcd123")
)

// ErrNotFound is returned by Dial when no matching hub advertised before ctx ended.
var ErrNotFound = errors.New("ble: hub not found")

var _ transport.Transport = (*Conn)(nil)

var adapter = bluetooth.DefaultAdapter

var (
	enableOnce sync.Once
	enableErr  error

	connsMu sync.Mutex
	conns   = make(map[string]*Conn)
)

// enableAdapter powers up the adapter once per process and routes link-loss
// events to the matching connection.
func enableAdapter() error {
	enableOnce.Do(func() {
		enableErr = adapter.Enable()
		if enableErr != nil {
			return
		}
		adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
			if connected {
				return
			}
			connsMu.Lock()
			c := conns[device.Address.String()]
			connsMu.Unlock()
			if c != nil {
				c.linkLost()
			}
		})
	})
	return enableErr
}

// Conn is a BLE link to one hub.
type Conn struct {
	address string
	logger  *slog.Logger

	device bluetooth.Device
	char   bluetooth.DeviceCharacteristic

	writeMu sync.Mutex
	frames  *broadcast.Broadcaster[[]byte]
	sub     *broadcast.Subscription[[]byte]

	closeOnce sync.Once
	closed    chan struct{}
}

// Dial scans for the hub with the given address, connects and enables
// notifications. An empty address connects to the first device advertising
// the LWP service. ctx bounds the scan and the connection setup.
func Dial(ctx context.Context, address string, logger *slog.Logger) (*Conn, error) {
	logger = logging.OrDiscard(logger)
	if err := enableAdapter(); err != nil {
		return nil, fmt.Errorf("enable bluetooth adapter: %w", err)
	}

	logger.Info("scanning for hub", "address", address)
	addr, err := find(ctx, address)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	device, err := adapter.Connect(addr, bluetooth.ConnectionParams{
		MaxInterval: bluetooth.Duration(1000),
		MinInterval: bluetooth.Duration(10),
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", addr.String(), err)
	}

	c := &Conn{
		address: addr.String(),
		logger:  logger.With("address", addr.String()),
		device:  device,
		frames:  broadcast.New[[]byte](),
		closed:  make(chan struct{}),
	}
	c.sub = c.frames.Subscribe()

	if err := c.setupCharacteristic(); err != nil {
		_ = c.Close()
		return nil, err
	}

	connsMu.Lock()
	conns[c.address] = c
	connsMu.Unlock()

	if err := c.char.EnableNotifications(c.handleNotification); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to enable notifications: %w", err)
	}

	c.logger.Info("hub connected")
	return c, nil
}

// find runs a scan until a matching advertisement is seen or ctx ends.
func find(ctx context.Context, address string) (bluetooth.Address, error) {
	found := make(chan bluetooth.Address, 1)
	scanErr := make(chan error, 1)

	go func() {
		scanErr <- adapter.Scan(func(a *bluetooth.Adapter, result bluetooth.ScanResult) {
			if address != "" {
				if !strings.EqualFold(result.Address.String(), address) {
					return
				}
			} else if !result.HasServiceUUID(ServiceUUID) {
				return
			}
			select {
			case found <- result.Address:
				_ = a.StopScan()
			default:
			}
		})
	}()

	select {
	case err := <-scanErr:
		if err != nil {
			return bluetooth.Address{}, fmt.Errorf("scan: %w", err)
		}
	case <-ctx.Done():
		_ = adapter.StopScan()
		<-scanErr
	}

	select {
	case addr := <-found:
		return addr, nil
	default:
	}
	if err := ctx.Err(); err != nil {
		return bluetooth.Address{}, fmt.Errorf("%w: %q: %w", ErrNotFound, address, err)
	}
	return bluetooth.Address{}, fmt.Errorf("%w: %q", ErrNotFound, address)
}

func (c *Conn) setupCharacteristic() error {
	services, err := c.device.DiscoverServices([]bluetooth.UUID{ServiceUUID})
	if err != nil {
		return fmt.Errorf("could not discover services: %w", err)
	}
	if len(services) == 0 {
		return errors.New("could not find the LWP service")
	}

	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{CharacteristicUUID})
	if err != nil {
		return fmt.Errorf("could not discover characteristics: %w", err)
	}
	if len(chars) == 0 {
		return errors.New("could not find the LWP characteristic")
	}
	c.char = chars[0]
	return nil
}

// handleNotification is the callback for all incoming BLE data. The adapter
// reuses buf, so the frame is copied before it is queued.
func (c *Conn) handleNotification(buf []byte) {
	frame := make([]byte, len(buf))
	copy(frame, buf)
	c.frames.Publish(frame)
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
	_, err := c.char.WriteWithoutResponse(frame)
	return err
}

// Close implements transport.Transport.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		connsMu.Lock()
		delete(conns, c.address)
		connsMu.Unlock()

		err = c.device.Disconnect()
		c.frames.Close()
		c.logger.Info("hub disconnected")
	})
	return err
}

func (c *Conn) linkLost() {
	c.closeOnce.Do(func() {
		close(c.closed)
		connsMu.Lock()
		delete(conns, c.address)
		connsMu.Unlock()

		c.frames.Close()
		c.logger.Warn("hub link lost")
	})
}
