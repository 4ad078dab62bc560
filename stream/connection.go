package stream

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Scope distinguishes the two stream surfaces.
type Scope string

const (
	// ScopeGlobal receives every partition, no authentication.
	ScopeGlobal Scope = "global"
	// ScopeBound receives only the partitions of one owned resource.
	ScopeBound Scope = "bound"
)

// State is a connection's lifecycle position.
type State string

const (
	StateRequested             State = "REQUESTED"
	StateAuthenticating        State = "AUTHENTICATING"
	StateAdmitted              State = "ADMITTED"
	StateStreaming             State = "STREAMING"
	StateClosedClient          State = "CLOSED_CLIENT"
	StateClosedError           State = "CLOSED_ERROR"
	StateClosedCapacityReclaim State = "CLOSED_CAPACITY_RECLAIM"
)

// terminal reports whether a state has no outgoing transitions.
func (s State) terminal() bool {
	switch s {
	case StateClosedClient, StateClosedError, StateClosedCapacityReclaim:
		return true
	}
	return false
}

// Connection is one admitted subscriber: an identity, a scope with an
// optional partition filter, a bounded outbound buffer, and a slot in
// the capacity registry.
//
// Offer is called from the hub's publish path and from the dispatcher's
// heartbeat ticker; Drain and the state transitions are called from the
// dispatcher's serve loop. All shared fields are guarded by mu.
type Connection struct {
	id          string
	scope       Scope
	filterKeys  []string
	filterSet   map[string]struct{}
	lastEventID string
	connectedAt time.Time
	slot        *Slot

	gracePeriod time.Duration
	depth       int

	mu             sync.Mutex
	state          State
	buf            []Envelope
	saturatedSince time.Time

	// ready carries a wakeup to the serve loop; capacity 1 so Offer
	// never blocks on a loop that is already scheduled to run.
	ready chan struct{}

	evicted   chan struct{}
	evictOnce sync.Once
}

// NewConnection builds a connection in the REQUESTED state. filterKeys
// is nil for the global scope; for the bound scope it is the partition
// set of the resolved resource.
func NewConnection(scope Scope, filterKeys []string, lastEventID string, cfg Config) *Connection {
	var filterSet map[string]struct{}
	if scope == ScopeBound {
		filterSet = make(map[string]struct{}, len(filterKeys))
		for _, k := range filterKeys {
			filterSet[k] = struct{}{}
		}
	}
	return &Connection{
		id:          uuid.NewString(),
		scope:       scope,
		filterKeys:  filterKeys,
		filterSet:   filterSet,
		lastEventID: lastEventID,
		connectedAt: time.Now(),
		gracePeriod: cfg.GracePeriod(),
		depth:       cfg.BufferDepth,
		state:       StateRequested,
		buf:         make([]Envelope, 0, cfg.BufferDepth),
		ready:       make(chan struct{}, 1),
		evicted:     make(chan struct{}),
	}
}

// SetFilter installs the partition filter once the bound resource is
// resolved. Only valid before the connection is attached to the hub.
func (c *Connection) SetFilter(keys []string) {
	c.filterKeys = keys
	c.filterSet = make(map[string]struct{}, len(keys))
	for _, k := range keys {
		c.filterSet[k] = struct{}{}
	}
}

// ID returns the connection identifier used in logs.
func (c *Connection) ID() string { return c.id }

// Scope returns the connection's stream surface.
func (c *Connection) Scope() Scope { return c.scope }

// LastEventID returns the resume cursor: the ID presented at admission
// until the first delivery, then the last successfully written ID.
func (c *Connection) LastEventID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastEventID
}

// NoteDelivered advances the cursor after a successful write.
func (c *Connection) NoteDelivered(id string) {
	c.mu.Lock()
	if id > c.lastEventID {
		c.lastEventID = id
	}
	c.mu.Unlock()
}

// ConnectedAt returns the admission time.
func (c *Connection) ConnectedAt() time.Time { return c.connectedAt }

// BindSlot attaches the capacity slot claimed for this connection.
func (c *Connection) BindSlot(slot *Slot) { c.slot = slot }

// ReleaseSlot returns the capacity slot; safe to call more than once.
func (c *Connection) ReleaseSlot() { c.slot.Release() }

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Transition moves the connection to next. Transitions out of a
// terminal state are ignored so racing close paths settle on whichever
// terminal state won.
func (c *Connection) Transition(next State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.terminal() {
		return false
	}
	c.state = next
	return true
}

// Accepts reports whether the envelope passes this connection's filter.
// Heartbeats are always accepted; deltas are accepted globally or when
// the partition is in the bound filter set.
func (c *Connection) Accepts(env Envelope) bool {
	if env.Type == EventHeartbeat {
		return true
	}
	if c.scope == ScopeGlobal {
		return true
	}
	_, ok := c.filterSet[env.Partition]
	return ok
}

// Offer enqueues an envelope for delivery. When the buffer is full the
// oldest non-heartbeat entry is dropped to make room; a buffer that
// stays saturated past the grace period marks the connection evicted.
// Offer never blocks. enqueued reports whether env itself was buffered;
// dropped reports whether any envelope was discarded to make room.
//
// The buffer is kept sorted by ID. Deltas arrive in publish order, but
// a heartbeat draws its ID in the dispatcher goroutine before Offer
// runs, so a concurrently published delta can carry a later ID and land
// first; inserting in ID order keeps the delivered sequence strictly
// increasing.
func (c *Connection) Offer(env Envelope) (enqueued, dropped bool) {
	if !c.Accepts(env) {
		return false, false
	}

	c.mu.Lock()
	if c.state.terminal() {
		c.mu.Unlock()
		return false, false
	}

	if len(c.buf) >= c.depth {
		if c.saturatedSince.IsZero() {
			c.saturatedSince = time.Now()
		} else if time.Since(c.saturatedSince) > c.gracePeriod {
			c.mu.Unlock()
			c.Evict()
			return false, true
		}
		if i := oldestDroppable(c.buf); i >= 0 {
			copy(c.buf[i:], c.buf[i+1:])
			c.buf = c.buf[:len(c.buf)-1]
			dropped = true
		} else {
			// Buffer holds only heartbeats; drop the incoming envelope
			// instead.
			c.mu.Unlock()
			return false, true
		}
	}
	at := len(c.buf)
	for at > 0 && c.buf[at-1].ID > env.ID {
		at--
	}
	c.buf = append(c.buf, Envelope{})
	copy(c.buf[at+1:], c.buf[at:])
	c.buf[at] = env
	c.mu.Unlock()

	select {
	case c.ready <- struct{}{}:
	default:
	}
	return true, dropped
}

// oldestDroppable returns the index of the oldest non-heartbeat entry,
// or -1 when every buffered envelope is a heartbeat.
func oldestDroppable(buf []Envelope) int {
	for i, env := range buf {
		if env.Type != EventHeartbeat {
			return i
		}
	}
	return -1
}

// Drain takes every buffered envelope and clears the saturation clock:
// a consumer that catches up is healthy again regardless of how long it
// lagged before.
func (c *Connection) Drain() []Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.buf) == 0 {
		return nil
	}
	out := c.buf
	c.buf = make([]Envelope, 0, c.depth)
	c.saturatedSince = time.Time{}
	return out
}

// Buffered returns the current queue length.
func (c *Connection) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buf)
}

// Ready returns the channel signaled when Offer enqueues an envelope.
func (c *Connection) Ready() <-chan struct{} { return c.ready }

// Evicted returns a channel closed when the connection is marked for
// capacity reclaim.
func (c *Connection) Evicted() <-chan struct{} { return c.evicted }

// Evict marks the connection as a slow consumer to be reclaimed. The
// serve loop observes the closed channel and tears the connection down.
func (c *Connection) Evict() {
	c.evictOnce.Do(func() {
		close(c.evicted)
	})
}
