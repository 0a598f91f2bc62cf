package taskqueue

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/mlsorensen/gohub/pkg/lwp"
)

// Kind selects how a task is resolved once it has been written.
type Kind int

const (
	// KindWithoutResponse completes as soon as its frame is written.
	KindWithoutResponse Kind = iota
	// KindWithResponse completes on the first inbound message its match accepts.
	KindWithResponse
	// KindPortOutput completes or is discarded by output command feedback for its port.
	KindPortOutput
)

func (k Kind) String() string {
	switch k {
	case KindWithoutResponse:
		return "WithoutResponse"
	case KindWithResponse:
		return "WithResponse"
	case KindPortOutput:
		return "PortOutput"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// State is the lifecycle position of a task.
type State int

const (
	StateQueued State = iota
	StateSent
	StateCompleted
	StateDiscarded
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateQueued:
		return "Queued"
	case StateSent:
		return "Sent"
	case StateCompleted:
		return "Completed"
	case StateDiscarded:
		return "Discarded"
	case StateErrored:
		return "Errored"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateDiscarded || s == StateErrored
}

// MatchFunc reports whether an inbound message answers a WithResponse task.
type MatchFunc func(lwp.Message) bool

// Task is one encoded frame plus the rule for resolving it.
type Task struct {
	kind    Kind
	payload []byte
	match   MatchFunc
	portID  byte
}

// WithoutResponse builds a task that completes once its frame is written.
func WithoutResponse(payload []byte) Task {
	return Task{kind: KindWithoutResponse, payload: payload}
}

// WithResponse builds a task that completes on the first inbound message
// accepted by match.
func WithResponse(payload []byte, match MatchFunc) Task {
	return Task{kind: KindWithResponse, payload: payload, match: match}
}

// PortOutput builds a task for a PortOutputCommand frame addressed to portID.
func PortOutput(portID byte, payload []byte) Task {
	return Task{kind: KindPortOutput, payload: payload, portID: portID}
}

func (t Task) Kind() Kind { return t.kind }
func (t Task) Payload() []byte { return t.payload }
func (t Task) PortID() byte { return t.portID }

// messageType returns the type byte of the task's frame.
func (t Task) messageType() (lwp.MessageType, bool) {
	hdr := 3
	if len(t.payload) > 0 && t.payload[0]&0x80 != 0 {
		hdr = 4
	}
	if len(t.payload) < hdr {
		return 0, false
	}
	return lwp.MessageType(t.payload[hdr-1]), true
}

// wantsFeedback reports whether the hub will answer this output command with
// feedback. Commands sent without the feedback flag complete on write.
func (t Task) wantsFeedback() bool {
	hdr := 3
	if len(t.payload) > 0 && t.payload[0]&0x80 != 0 {
		hdr = 4
	}
	// header, port, startup/completion
	if len(t.payload) < hdr+2 {
		return true
	}
	return t.payload[hdr+1]&lwp.CompletionCommandFeedback != 0
}

func (t Task) validate() error {
	if len(t.payload) == 0 {
		return fmt.Errorf("%w: empty payload", ErrInvalidTask)
	}
	switch t.kind {
	case KindWithoutResponse:
	case KindWithResponse:
		if t.match == nil {
			return fmt.Errorf("%w: WithResponse task without match", ErrInvalidTask)
		}
	case KindPortOutput:
		if mt, ok := t.messageType(); !ok || mt != lwp.MessagePortOutputCommand {
			return fmt.Errorf("%w: PortOutput task is not a port output command", ErrInvalidTask)
		}
	default:
		return fmt.Errorf("%w: unknown kind %s", ErrInvalidTask, t.kind)
	}
	return nil
}

// Result is the single-resolution outcome of an enqueued task.
type Result struct {
	id   uuid.UUID
	task Task
	q    *Queue
	done chan struct{}

	// guarded by q.mu until done is closed
	state    State
	err      error
	response lwp.Message
}

// ID identifies the task in logs.
func (r *Result) ID() uuid.UUID { return r.id }

// Task returns the task this result belongs to.
func (r *Result) Task() Task { return r.task }

// Done is closed once the task reaches a terminal state.
func (r *Result) Done() <-chan struct{} { return r.done }

// State returns the current state.
func (r *Result) State() State {
	r.q.mu.Lock()
	defer r.q.mu.Unlock()
	return r.state
}

// Err returns the failure of an Errored task, nil otherwise.
func (r *Result) Err() error {
	r.q.mu.Lock()
	defer r.q.mu.Unlock()
	return r.err
}

// Response returns the message that completed a WithResponse task.
func (r *Result) Response() lwp.Message {
	r.q.mu.Lock()
	defer r.q.mu.Unlock()
	return r.response
}

// Wait blocks until the task is terminal or ctx ends. Discarded is a normal
// outcome and returns a nil error; Errored returns the task's failure. When
// ctx ends first the current state and ctx.Err() are returned and the task
// is left untouched.
func (r *Result) Wait(ctx context.Context) (State, error) {
	select {
	case <-r.done:
		return r.state, r.err
	case <-ctx.Done():
		return r.State(), ctx.Err()
	}
}

// Cancel stops waiting for the task. A queued task is never sent; a sent
// one is dropped from pending bookkeeping, though the hub may still act on
// it. Either way the task resolves as Discarded.
func (r *Result) Cancel() {
	r.q.cancel(r)
}
