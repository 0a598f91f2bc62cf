// Package gohub drives LEGO Powered Up, BOOST and Technic hubs over the LEGO
// Wireless Protocol v3.
//
// A Hub is one connection. Every command goes through a single serialised
// queue, output commands are resolved by the hub's feedback, and sensor
// values arrive as decoded streams:
//
//	t, _ := ble.Dial(ctx, "90:84:2B:00:00:00", logger)
//	hub, err := gohub.Connect(ctx, t, gohub.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	defer hub.Disconnect()
//
//	state, err := hub.Motors().StartSpeedForDegrees(ctx, 0x00, 360, 50, 100, lwp.EndStateBrake)
package gohub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mlsorensen/gohub/pkg/attachedio"
	"github.com/mlsorensen/gohub/pkg/broadcast"
	"github.com/mlsorensen/gohub/pkg/logging"
	"github.com/mlsorensen/gohub/pkg/lwp"
	"github.com/mlsorensen/gohub/pkg/messenger"
	"github.com/mlsorensen/gohub/pkg/taskqueue"
	"github.com/mlsorensen/gohub/pkg/transport"
)

var (
	// ErrNotConnected is returned for calls made after the connection closed.
	ErrNotConnected = errors.New("gohub: hub not connected")

	// ErrDisconnected is the cause recorded when the client disconnects.
	ErrDisconnected = errors.New("gohub: disconnected by client")

	// ErrConnectionLost fails every command still waiting when the connection closes.
	ErrConnectionLost = taskqueue.ErrConnectionLost

	// ErrNoDevice is returned when a port has no device of the required kind.
	ErrNoDevice = errors.New("gohub: no suitable device attached")
)

// Option configures a Hub.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	middleware []messenger.Middleware
	queueOpts  []taskqueue.Option
}

// WithLogger sets the logger for the connection and its components.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMiddleware appends middleware that observes every frame in both directions.
func WithMiddleware(mw ...messenger.Middleware) Option {
	return func(o *options) { o.middleware = append(o.middleware, mw...) }
}

// WithOutputPipelining lets several output commands be outstanding at once.
// See taskqueue.WithOutputPipelining.
func WithOutputPipelining() Option {
	return func(o *options) { o.queueOpts = append(o.queueOpts, taskqueue.WithOutputPipelining()) }
}

// portValue is a PortValueSingle tagged with the input mode the port was in
// when it arrived.
type portValue struct {
	portID byte
	modeID byte
	raw    []byte
}

// Hub is one connection to a hub.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Hub struct {
	transport transport.Transport
	logger    *slog.Logger
	messenger *messenger.Messenger
	queue     *taskqueue.Queue
	cache     *attachedio.Cache
	values    *broadcast.Broadcaster[portValue]
	messages  *broadcast.Broadcaster[lwp.Message]

	firmware lwp.Version

	mu    sync.Mutex
	modes map[byte]byte

	closeOnce sync.Once
	done      chan struct{}
	err       error
}

// Connect starts a connection over t and performs a handshake by reading the
// hub's firmware version. ctx bounds the handshake only. If the handshake
// fails the transport is closed.
func Connect(ctx context.Context, t transport.Transport, opts ...Option) (*Hub, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	logger := logging.OrDiscard(o.logger)

	m := messenger.New(t, logger.With("component", "messenger"), o.middleware...)
	h := &Hub{
		transport: t,
		logger:    logger,
		messenger: m,
		queue:     taskqueue.New(m, logger.With("component", "taskqueue"), o.queueOpts...),
		cache:     attachedio.New(logger.With("component", "attachedio")),
		values:    broadcast.New[portValue](),
		messages:  broadcast.New[lwp.Message](),
		modes:     make(map[byte]byte),
		done:      make(chan struct{}),
	}
	go h.readLoop()

	logger.Debug("initiating handshake")
	fw, err := h.Properties().FirmwareVersion(ctx)
	if err != nil {
		h.shutdown(err)
		return nil, fmt.Errorf("handshake failed: %w", err)
	}
	h.firmware = fw
	logger.Info("hub connected", "firmware", fw.String())
	return h, nil
}

// Firmware returns the firmware version read during the handshake.
func (h *Hub) Firmware() lwp.Version { return h.firmware }

// Done is closed once the connection has ended.
func (h *Hub) Done() <-chan struct{} { return h.done }

// Err returns why the connection ended, or nil while it is up.
func (h *Hub) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Disconnect closes the connection. Commands still waiting fail with
// ErrConnectionLost. The hub stays powered; use Actions().SwitchOff to turn
// it off.
func (h *Hub) Disconnect() error {
	var err error
	h.closeOnce.Do(func() {
		err = h.close(ErrDisconnected)
	})
	<-h.queue.Done()
	return err
}

func (h *Hub) shutdown(cause error) {
	h.closeOnce.Do(func() {
		_ = h.close(cause)
	})
}

func (h *Hub) close(cause error) error {
	h.err = ErrConnectionLost
	if cause != nil && !errors.Is(cause, ErrConnectionLost) {
		h.err = fmt.Errorf("%w: %w", ErrConnectionLost, cause)
	}

	h.queue.Close(cause)
	h.cache.Close()
	h.values.Close()
	h.messages.Close()
	err := h.transport.Close()
	close(h.done)

	h.logger.Info("hub disconnected", "cause", h.err)
	return err
}

// readLoop is the only consumer of the transport's inbound frames.
func (h *Hub) readLoop() {
	for frame := range h.transport.Inbound() {
		frame = h.messenger.Receive(frame)
		msg, err := lwp.Decode(frame)
		if err != nil {
			h.logger.Warn("dropping inbound frame", "error", err, "len", len(frame))
			continue
		}
		h.dispatch(msg)
	}
	h.shutdown(nil)
}

func (h *Hub) dispatch(msg lwp.Message) {
	switch m := msg.(type) {
	case lwp.HubAttachedIOMessage:
		if m.Event == lwp.EventDetached {
			h.mu.Lock()
			delete(h.modes, m.PortID)
			h.mu.Unlock()
		}
		h.cache.Handle(m)

	case lwp.PortInputFormatSingleMessage:
		h.mu.Lock()
		h.modes[m.PortID] = m.ModeID
		h.mu.Unlock()

	case lwp.PortValueSingleMessage:
		h.mu.Lock()
		mode, ok := h.modes[m.PortID]
		h.mu.Unlock()
		if ok {
			h.values.Publish(portValue{portID: m.PortID, modeID: mode, raw: m.Raw})
		}

	case lwp.HubActionsMessage:
		switch m.Action {
		case lwp.ActionWillSwitchOff, lwp.ActionWillDisconnect:
			h.logger.Info("hub is going away", "action", m.Action.String())
		}

	case lwp.GenericErrorMessage:
		h.logger.Debug("hub reported error", "command", m.CommandType.String(), "code", m.Code.String())
	}

	h.messages.Publish(msg)
	h.queue.HandleMessage(msg)
}

// Enqueue submits a task to the connection's command queue.
func (h *Hub) Enqueue(t taskqueue.Task) (*taskqueue.Result, error) {
	r, err := h.queue.Enqueue(t)
	if errors.Is(err, taskqueue.ErrQueueClosed) {
		return nil, fmt.Errorf("%w: %w", ErrNotConnected, err)
	}
	return r, err
}

// run enqueues t and waits for it. When ctx ends first the task is
// cancelled, which stops the wait but cannot recall a frame already sent.
func (h *Hub) run(ctx context.Context, t taskqueue.Task) (*taskqueue.Result, taskqueue.State, error) {
	r, err := h.Enqueue(t)
	if err != nil {
		return nil, taskqueue.StateErrored, err
	}
	state, err := r.Wait(ctx)
	if err != nil && ctx.Err() != nil {
		r.Cancel()
	}
	return r, state, err
}

// request sends a frame and returns the first inbound message match accepts.
func (h *Hub) request(ctx context.Context, payload []byte, match taskqueue.MatchFunc) (lwp.Message, error) {
	r, _, err := h.run(ctx, taskqueue.WithResponse(payload, match))
	if err != nil {
		return nil, err
	}
	return r.Response(), nil
}

// send writes a frame that expects no answer.
func (h *Hub) send(ctx context.Context, payload []byte) error {
	_, _, err := h.run(ctx, taskqueue.WithoutResponse(payload))
	return err
}

// output sends an output command to port and waits for the hub's feedback.
// Completed and Discarded are both normal outcomes.
func (h *Hub) output(ctx context.Context, port byte, cmd lwp.OutputCommand) (taskqueue.State, error) {
	_, state, err := h.run(ctx, taskqueue.PortOutput(port, lwp.BuildOutputCommand(port, cmd)))
	return state, err
}

// AttachedIO returns the devices currently attached, ordered by port.
func (h *Hub) AttachedIO() []attachedio.Entry { return h.cache.Snapshot() }

// OnIOAttach streams an attach event for every device already attached,
// then live attach events. Cancel the subscription to stop it.
func (h *Hub) OnIOAttach() *broadcast.Subscription[attachedio.Event] { return h.cache.OnAttach() }

// OnIODetach streams live detach events. When the connection ends a detach
// event is delivered for every device still attached.
func (h *Hub) OnIODetach() *broadcast.Subscription[attachedio.Event] { return h.cache.OnDetach() }

// Messages streams every decoded inbound message.
func (h *Hub) Messages() *broadcast.Subscription[lwp.Message] { return h.messages.Subscribe() }

// currentMode returns the input mode last acknowledged for a port.
func (h *Hub) currentMode(port byte) (byte, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.modes[port]
	return m, ok
}
