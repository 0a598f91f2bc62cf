// Package taskqueue serialises every command of one hub connection and
// correlates the hub's feedback with the commands that caused it.
//
// LWP frames carry no command identifier, so output command feedback can
// only be attributed by position: the Nth completion reported for a port
// resolves the Nth command still pending on that port. The queue therefore
// keeps send order and resolution order consistent.
//
// By default a task occupies the single dispatch slot from the moment it is
// sent until it is terminal, so the next task is sent only after its
// predecessor finished. WithOutputPipelining lets port output commands
// release the slot once written and wait for feedback in their port's
// pending list, so several commands may be outstanding per port.
//
// There is no feedback timeout. A command whose feedback never arrives stays
// pending until the caller cancels it or the connection closes.
package taskqueue

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/mlsorensen/gohub/pkg/logging"
	"github.com/mlsorensen/gohub/pkg/lwp"
)

// Sender performs one frame write. messenger.Messenger satisfies it.
type Sender interface {
	Send(ctx context.Context, frame []byte) error
}

// Option configures a Queue.
type Option func(*Queue)

// WithOutputPipelining lets port output commands release the dispatch slot
// as soon as they are written.
func WithOutputPipelining() Option {
	return func(q *Queue) { q.pipelining = true }
}

// Queue is the per-connection command queue.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - HandleMessage is expected to be called from one inbound goroutine.
type Queue struct {
	sender     Sender
	logger     *slog.Logger
	pipelining bool

	mu      sync.Mutex
	queued  []*Result
	current *Result
	pending map[byte][]*Result
	closed  bool

	wake chan struct{}
	ctx  context.Context
	stop context.CancelFunc
	done chan struct{}
}

// New creates a queue writing through sender and starts its drain goroutine.
// The queue lives until Close.
func New(sender Sender, logger *slog.Logger, opts ...Option) *Queue {
	ctx, stop := context.WithCancel(context.Background())
	q := &Queue{
		sender:  sender,
		logger:  logging.OrDiscard(logger),
		pending: make(map[byte][]*Result),
		wake:    make(chan struct{}, 1),
		ctx:     ctx,
		stop:    stop,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	go q.run()
	return q
}

// Enqueue appends a task and returns its result handle.
// It fails with ErrQueueClosed once the connection is gone.
func (q *Queue) Enqueue(t Task) (*Result, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrQueueClosed
	}
	r := &Result{
		id:    uuid.New(),
		task:  t,
		q:     q,
		done:  make(chan struct{}),
		state: StateQueued,
	}
	q.queued = append(q.queued, r)
	q.mu.Unlock()

	q.logger.Debug("task queued", "id", r.id, "kind", t.kind.String())
	q.signal()
	return r, nil
}

// Done is closed once the drain goroutine has exited after Close.
func (q *Queue) Done() <-chan struct{} { return q.done }

// Pending returns how many sent output commands await feedback on a port.
func (q *Queue) Pending(portID byte) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending[portID])
}

// Len returns the number of tasks not yet sent.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queued)
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		select {
		case <-q.wake:
		case <-q.ctx.Done():
			return
		}
		for {
			r := q.next()
			if r == nil {
				break
			}
			q.dispatch(r)
		}
	}
}

// next takes the head of the queue into the dispatch slot, or returns nil
// when the slot is busy or nothing is queued.
func (q *Queue) next() *Result {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || q.current != nil || len(q.queued) == 0 {
		return nil
	}
	r := q.queued[0]
	q.queued[0] = nil
	q.queued = q.queued[1:]

	r.state = StateSent
	q.current = r
	if r.task.kind == KindPortOutput && r.task.wantsFeedback() {
		port := r.task.portID
		q.pending[port] = append(q.pending[port], r)
	}
	return r
}

func (q *Queue) dispatch(r *Result) {
	q.logger.Debug("task sent", "id", r.id, "kind", r.task.kind.String())
	err := q.sender.Send(q.ctx, r.task.payload)

	q.mu.Lock()
	defer q.mu.Unlock()

	if r.state.Terminal() {
		// cancelled, answered or closed while the write was in flight
		q.release(r)
		return
	}
	if err != nil {
		q.removePending(r)
		q.resolveLocked(r, StateErrored, err, nil)
		q.release(r)
		return
	}

	switch r.task.kind {
	case KindWithoutResponse:
		q.resolveLocked(r, StateCompleted, nil, nil)
		q.release(r)
	case KindWithResponse:
		// holds the slot until HandleMessage sees its answer
	case KindPortOutput:
		if !r.task.wantsFeedback() {
			q.resolveLocked(r, StateCompleted, nil, nil)
			q.release(r)
		} else if q.pipelining {
			q.release(r)
		}
	}
}

// release frees the dispatch slot if r holds it.
func (q *Queue) release(r *Result) {
	if q.current == r {
		q.current = nil
		q.signal()
	}
}

func (q *Queue) resolveLocked(r *Result, state State, err error, resp lwp.Message) {
	if r.state.Terminal() {
		return
	}
	r.state = state
	r.err = err
	r.response = resp
	close(r.done)
	if err != nil {
		q.logger.Debug("task failed", "id", r.id, "kind", r.task.kind.String(), "error", err)
	} else {
		q.logger.Debug("task resolved", "id", r.id, "kind", r.task.kind.String(), "state", state.String())
	}
}

func (q *Queue) removePending(r *Result) {
	if r.task.kind != KindPortOutput {
		return
	}
	port := r.task.portID
	list := q.pending[port]
	if i := slices.Index(list, r); i >= 0 {
		q.pending[port] = slices.Delete(list, i, i+1)
	}
}

func (q *Queue) cancel(r *Result) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if r.state.Terminal() {
		return
	}
	if i := slices.Index(q.queued, r); i >= 0 {
		q.queued = slices.Delete(q.queued, i, i+1)
	}
	q.removePending(r)
	q.resolveLocked(r, StateDiscarded, nil, nil)
	q.release(r)
}

// HandleMessage feeds one decoded inbound message to the correlator.
// Unrecognised feedback is logged and resolves nothing.
func (q *Queue) HandleMessage(msg lwp.Message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}

	switch m := msg.(type) {
	case lwp.PortOutputCommandFeedbackMessage:
		for _, e := range m.Entries {
			q.feedbackLocked(e)
		}
	case lwp.GenericErrorMessage:
		q.rejectLocked(m)
	}

	if r := q.current; r != nil && r.task.kind == KindWithResponse && r.state == StateSent && r.task.match(msg) {
		q.resolveLocked(r, StateCompleted, nil, msg)
		q.release(r)
	}
}

func (q *Queue) feedbackLocked(e lwp.FeedbackEntry) {
	if !e.Flags.Known() {
		q.logger.Warn("ignoring output feedback", "port", e.PortID, "error", fmt.Errorf("%w: 0x%02X", ErrUnknownFeedback, byte(e.Flags)))
		return
	}
	if e.Flags.Has(lwp.FeedbackDiscarded) {
		q.popLocked(e.PortID, StateDiscarded)
	}
	if e.Flags.Has(lwp.FeedbackCompleted) {
		q.popLocked(e.PortID, StateCompleted)
	}
}

// popLocked resolves the oldest pending command of a port.
func (q *Queue) popLocked(port byte, state State) {
	list := q.pending[port]
	if len(list) == 0 {
		q.logger.Debug("feedback without pending command", "port", port, "state", state.String())
		return
	}
	r := list[0]
	list[0] = nil
	q.pending[port] = list[1:]
	q.resolveLocked(r, state, nil, nil)
	q.release(r)
}

// rejectLocked fails the task in the dispatch slot when the hub reports
// that it could not process a command of the same type.
func (q *Queue) rejectLocked(m lwp.GenericErrorMessage) {
	r := q.current
	if r == nil || r.state != StateSent {
		q.logger.Warn("hub reported error", "command", m.CommandType.String(), "code", m.Code.String())
		return
	}
	mt, ok := r.task.messageType()
	if !ok || mt != m.CommandType {
		q.logger.Warn("hub reported error", "command", m.CommandType.String(), "code", m.Code.String())
		return
	}

	switch r.task.kind {
	case KindWithoutResponse:
		// already resolved on write
		return
	case KindWithResponse, KindPortOutput:
		q.removePending(r)
		q.resolveLocked(r, StateErrored, fmt.Errorf("%w: %s (%s)", ErrCommandRejected, m.CommandType, m.Code), nil)
		q.release(r)
	}
}

// Close fails every queued, sent and pending task with ErrConnectionLost
// (wrapping cause when given) and stops the queue. Later Enqueue calls fail
// with ErrQueueClosed.
func (q *Queue) Close(cause error) {
	err := ErrConnectionLost
	if cause != nil && cause != ErrConnectionLost {
		err = fmt.Errorf("%w: %w", ErrConnectionLost, cause)
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true

	var failed int
	fail := func(r *Result) {
		if r != nil && !r.state.Terminal() {
			q.resolveLocked(r, StateErrored, err, nil)
			failed++
		}
	}
	for _, r := range q.queued {
		fail(r)
	}
	fail(q.current)
	for port, list := range q.pending {
		for _, r := range list {
			fail(r)
		}
		delete(q.pending, port)
	}
	q.queued = nil
	q.current = nil
	q.mu.Unlock()

	q.stop()
	q.logger.Debug("queue closed", "failed", failed, "cause", err)
}
