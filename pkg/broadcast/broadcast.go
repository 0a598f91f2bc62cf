// Package broadcast fans values out to many independently cancelable listeners.
//
// Each listener owns an unbounded buffer drained by its own goroutine, so a
// slow reader never blocks Publish.
package broadcast

import (
	"sync"

	"github.com/google/uuid"
)

// Broadcaster delivers every published value to all current subscribers.
type Broadcaster[T any] struct {
	mu     sync.Mutex
	subs   map[uuid.UUID]*Subscription[T]
	closed bool
}

// New returns an empty Broadcaster.
func New[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{subs: make(map[uuid.UUID]*Subscription[T])}
}

// Subscribe registers a listener. The replay values are queued ahead of any
// value published after Subscribe returns. Subscribing to a closed
// Broadcaster yields the replay values followed by a closed channel.
func (b *Broadcaster[T]) Subscribe(replay ...T) *Subscription[T] {
	return b.SubscribeFunc(func() []T { return replay })
}

// SubscribeFunc is like Subscribe but computes the replay values while
// holding the publish lock, so no publish can slip between the snapshot and
// the registration.
func (b *Broadcaster[T]) SubscribeFunc(snapshot func() []T) *Subscription[T] {
	return b.SubscribeWhere(nil, snapshot)
}

// SubscribeWhere is like SubscribeFunc but only delivers values, replayed or
// live, for which keep returns true. A nil keep delivers everything.
func (b *Broadcaster[T]) SubscribeWhere(keep func(T) bool, snapshot func() []T) *Subscription[T] {
	s := &Subscription[T]{
		id:     uuid.New(),
		b:      b,
		keep:   keep,
		signal: make(chan struct{}, 1),
		out:    make(chan T),
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	if snapshot != nil {
		for _, v := range snapshot() {
			if keep == nil || keep(v) {
				s.queue = append(s.queue, v)
			}
		}
	}
	if b.closed {
		s.finished = true
	} else {
		b.subs[s.id] = s
	}
	b.mu.Unlock()

	go s.pump()
	return s
}

// Publish queues v for every current subscriber. Publishing after Close is a no-op.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		s.push(v)
	}
}

// PublishFunc runs fn with the publish lock held and publishes the values it
// returns. It pairs with SubscribeFunc to keep state changes and their events
// in the same order for every listener.
func (b *Broadcaster[T]) PublishFunc(fn func() []T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, v := range fn() {
		for _, s := range b.subs {
			s.push(v)
		}
	}
}

// Len reports the number of active subscribers.
func (b *Broadcaster[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close stops accepting values. Subscribers receive what is already queued
// and then see their channel closed.
func (b *Broadcaster[T]) Close() {
	b.CloseFunc(nil)
}

// CloseFunc publishes the values fn returns as the final events, then closes
// the Broadcaster. fn runs with the publish lock held.
func (b *Broadcaster[T]) CloseFunc(fn func() []T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if fn != nil {
		for _, v := range fn() {
			for _, s := range b.subs {
				s.push(v)
			}
		}
	}
	b.closed = true
	for id, s := range b.subs {
		s.finish()
		delete(b.subs, id)
	}
}

func (b *Broadcaster[T]) remove(id uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// Subscription is one listener's handle.
type Subscription[T any] struct {
	id   uuid.UUID
	b    *Broadcaster[T]
	keep func(T) bool

	mu       sync.Mutex
	queue    []T
	finished bool

	signal     chan struct{}
	out        chan T
	done       chan struct{}
	cancelOnce sync.Once
}

// ID identifies the subscription.
func (s *Subscription[T]) ID() uuid.UUID { return s.id }

// C returns the channel values are delivered on. It is closed after Cancel
// or once the Broadcaster is closed and the backlog has been delivered.
func (s *Subscription[T]) C() <-chan T { return s.out }

// Cancel stops delivery to this listener only. Queued values are dropped.
func (s *Subscription[T]) Cancel() {
	s.cancelOnce.Do(func() {
		s.b.remove(s.id)
		close(s.done)
	})
}

func (s *Subscription[T]) push(v T) {
	if s.keep != nil && !s.keep(v) {
		return
	}
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, v)
	s.mu.Unlock()
	s.wake()
}

func (s *Subscription[T]) finish() {
	s.mu.Lock()
	s.finished = true
	s.mu.Unlock()
	s.wake()
}

func (s *Subscription[T]) wake() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Subscription[T]) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			finished := s.finished
			s.mu.Unlock()
			if finished {
				return
			}
			select {
			case <-s.signal:
				continue
			case <-s.done:
				return
			}
		}
		v := s.queue[0]
		var zero T
		s.queue[0] = zero
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- v:
		case <-s.done:
			return
		}
	}
}
