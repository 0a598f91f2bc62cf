// Package attachedio tracks which devices are attached to a hub's ports.
//
// The cache is fed HubAttachedIO messages by the connection's inbound loop.
// Observers get the current snapshot as attach events the moment they
// subscribe, followed by live attach and detach events.
package attachedio

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/mlsorensen/gohub/pkg/broadcast"
	"github.com/mlsorensen/gohub/pkg/logging"
	"github.com/mlsorensen/gohub/pkg/lwp"
)

// Entry describes the device attached to one port.
type Entry struct {
	PortID           byte
	IOType           lwp.IOType
	HardwareRevision lwp.Version
	SoftwareRevision lwp.Version

	// Virtual ports combine two physical ports, PortA and PortB.
	Virtual bool
	PortA   byte
	PortB   byte
}

// EventKind tells attach and detach events apart.
type EventKind int

const (
	Attached EventKind = iota
	Detached
)

func (k EventKind) String() string {
	if k == Attached {
		return "attached"
	}
	return "detached"
}

// Event is emitted for every attach or detach. Detach events carry the
// entry that was removed, or just the port id if none was cached.
type Event struct {
	Kind  EventKind
	Entry Entry
}

// Cache is the per-connection map of attached devices.
type Cache struct {
	logger *slog.Logger

	mu      sync.Mutex
	entries map[byte]Entry
	closed  bool

	events *broadcast.Broadcaster[Event]
}

// New returns an empty cache. A nil logger discards output.
func New(logger *slog.Logger) *Cache {
	return &Cache{
		logger:  logging.OrDiscard(logger),
		entries: make(map[byte]Entry),
		events:  broadcast.New[Event](),
	}
}

// Handle applies one HubAttachedIO message and emits the matching event.
func (c *Cache) Handle(msg lwp.HubAttachedIOMessage) {
	c.events.PublishFunc(func() []Event {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			return nil
		}

		switch msg.Event {
		case lwp.EventAttached, lwp.EventAttachedVirtual:
			e := Entry{
				PortID:           msg.PortID,
				IOType:           msg.IOType,
				HardwareRevision: msg.HardwareRevision,
				SoftwareRevision: msg.SoftwareRevision,
				Virtual:          msg.Event == lwp.EventAttachedVirtual,
				PortA:            msg.PortA,
				PortB:            msg.PortB,
			}
			c.entries[msg.PortID] = e
			c.logger.Debug("io attached", "port", msg.PortID, "type", msg.IOType.String(), "virtual", e.Virtual)
			return []Event{{Kind: Attached, Entry: e}}

		case lwp.EventDetached:
			e, ok := c.entries[msg.PortID]
			if !ok {
				e = Entry{PortID: msg.PortID}
			}
			delete(c.entries, msg.PortID)
			c.logger.Debug("io detached", "port", msg.PortID, "known", ok)
			return []Event{{Kind: Detached, Entry: e}}

		default:
			c.logger.Warn("ignoring attached io message", "port", msg.PortID, "event", msg.Event.String())
			return nil
		}
	})
}

// Get returns the entry for a port, if a device is attached.
func (c *Cache) Get(portID byte) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[portID]
	return e, ok
}

// Snapshot returns all attached entries ordered by port id.
func (c *Cache) Snapshot() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sortedLocked()
}

func (c *Cache) sortedLocked() []Entry {
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PortID < out[j].PortID })
	return out
}

func (c *Cache) snapshotEvents() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := c.sortedLocked()
	events := make([]Event, len(entries))
	for i, e := range entries {
		events[i] = Event{Kind: Attached, Entry: e}
	}
	return events
}

// Subscribe returns a stream that starts with an attach event for every
// currently attached port, then carries live attach and detach events.
func (c *Cache) Subscribe() *broadcast.Subscription[Event] {
	return c.events.SubscribeFunc(c.snapshotEvents)
}

// OnAttach is Subscribe restricted to attach events.
func (c *Cache) OnAttach() *broadcast.Subscription[Event] {
	return c.events.SubscribeWhere(func(e Event) bool { return e.Kind == Attached }, c.snapshotEvents)
}

// OnDetach delivers live detach events only.
func (c *Cache) OnDetach() *broadcast.Subscription[Event] {
	return c.events.SubscribeWhere(func(e Event) bool { return e.Kind == Detached }, nil)
}

// Close clears the cache, emits a detach event for every port that was
// attached and closes all streams. Later messages are ignored.
func (c *Cache) Close() {
	c.events.CloseFunc(func() []Event {
		c.mu.Lock()
		defer c.mu.Unlock()
		entries := c.sortedLocked()
		events := make([]Event, len(entries))
		for i, e := range entries {
			events[i] = Event{Kind: Detached, Entry: e}
		}
		clear(c.entries)
		c.closed = true
		return events
	})
}
