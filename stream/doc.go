// Package stream implements the real-time event streaming core: the
// connection registry with its capacity ceiling, the broadcast hub with
// a short in-memory resume window, per-connection dispatch with bounded
// outbound buffers and slow-consumer eviction, the admission gate for
// global and watchlist-bound streams, and the SSE wire codec.
package stream
