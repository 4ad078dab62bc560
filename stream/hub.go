package stream

import (
	"context"
	"sync"

	"github.com/skillsenselab/tickstream/logger"
)

// Hub fans published envelopes out to every attached connection and
// keeps a bounded ring of recent envelopes for best-effort resume.
//
// Attach and Publish are serialized on one mutex so a resuming
// connection sees the replayed tail and the live feed as one gapless
// sequence: replay is snapshotted and the connection registered in a
// single critical section.
type Hub struct {
	log     *logger.Logger
	metrics *Metrics

	mu     sync.Mutex
	conns  map[string]*Connection
	recent []Envelope
	window int
}

// NewHub creates a hub whose resume window holds windowDepth envelopes.
func NewHub(log *logger.Logger, metrics *Metrics, windowDepth int) *Hub {
	return &Hub{
		log:     log.WithComponent("stream.hub"),
		metrics: metrics,
		conns:   make(map[string]*Connection),
		recent:  make([]Envelope, 0, windowDepth),
		window:  windowDepth,
	}
}

// Publish appends the envelope to the resume window and offers it to
// every attached connection. It never blocks on a slow consumer.
func (h *Hub) Publish(ctx context.Context, env Envelope) {
	h.mu.Lock()
	if len(h.recent) >= h.window {
		copy(h.recent, h.recent[1:])
		h.recent = h.recent[:len(h.recent)-1]
	}
	h.recent = append(h.recent, env)

	targets := make([]*Connection, 0, len(h.conns))
	for _, c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	h.metrics.EventPublished(ctx, env.Type)
	for _, c := range targets {
		_, dropped := c.Offer(env)
		if dropped {
			h.metrics.EventDropped(ctx, env.Type)
			h.log.Debug("dropped envelope for saturated consumer", logger.Fields(
				logger.FieldConnectionID, c.ID(),
				logger.FieldEventID, env.ID,
			))
		}
	}
}

// Attach registers the connection and, when it presented a resume
// cursor that is still inside the window, pre-loads its buffer with the
// envelopes it missed. The replayed tail respects the connection's
// filter. Attach reports whether the cursor was honored; a fresh
// connection (empty cursor) always reports true.
//
// The replay offers run inside the same critical section that registers
// the connection: a Publish racing with Attach must not enqueue a newer
// envelope ahead of the replayed tail. Offer never blocks, so holding
// the hub lock across the offers is safe.
func (h *Hub) Attach(ctx context.Context, c *Connection) (resumed bool) {
	h.mu.Lock()
	resumed = true
	if cursor := c.LastEventID(); cursor != "" {
		var replay []Envelope
		replay, resumed = h.replaySinceLocked(cursor)
		for _, env := range replay {
			c.Offer(env)
		}
	}
	h.conns[c.ID()] = c
	h.mu.Unlock()

	h.metrics.ConnectionOpened(ctx, c.Scope())
	if !resumed {
		h.log.Info("resume cursor outside retained window, admitting fresh", logger.Fields(
			logger.FieldConnectionID, c.ID(),
		))
	}
	return resumed
}

// Detach removes the connection. Safe to call for a connection that was
// never attached or was already detached.
func (h *Hub) Detach(ctx context.Context, c *Connection) {
	h.mu.Lock()
	_, present := h.conns[c.ID()]
	delete(h.conns, c.ID())
	h.mu.Unlock()

	if present {
		h.metrics.ConnectionClosed(ctx, c.Scope(), c.State())
	}
}

// EvictAll marks every attached connection for teardown. Called when
// the server begins its shutdown drain: dispatch loops exit through
// their eviction path and release their slots before the drain
// deadline.
func (h *Hub) EvictAll() {
	h.mu.Lock()
	targets := make([]*Connection, 0, len(h.conns))
	for _, c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		c.Evict()
	}
}

// Connections returns the number of attached connections.
func (h *Hub) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// ReplaySince returns the retained envelopes with IDs strictly greater
// than lastID, and whether lastID is still inside the window. When it
// is not, the caller treats the connection as fresh.
func (h *Hub) ReplaySince(lastID string) ([]Envelope, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.replaySinceLocked(lastID)
}

func (h *Hub) replaySinceLocked(lastID string) ([]Envelope, bool) {
	// Fixed-width IDs compare correctly as strings. The cursor is in
	// the window only if the oldest retained ID is at or before it.
	if len(h.recent) == 0 || h.recent[0].ID > lastID {
		return nil, false
	}
	var out []Envelope
	for _, env := range h.recent {
		if env.ID > lastID {
			out = append(out, env)
		}
	}
	return out, true
}
