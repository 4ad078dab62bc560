package stream

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the streaming observability instruments: connection
// count, event throughput, drop/rejection counters, and per-event
// delivery latency.
type Metrics struct {
	connectionsActive  metric.Int64UpDownCounter
	connectionsClosed  metric.Int64Counter
	eventsPublished    metric.Int64Counter
	eventsDelivered    metric.Int64Counter
	eventsDropped      metric.Int64Counter
	admissionsRejected metric.Int64Counter
	deliveryLatency    metric.Float64Histogram
}

// NewMetrics creates the streaming instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	connectionsActive, err := meter.Int64UpDownCounter("stream.connections.active",
		metric.WithDescription("Currently admitted connections"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating stream.connections.active: %w", err)
	}

	connectionsClosed, err := meter.Int64Counter("stream.connections.closed",
		metric.WithDescription("Closed connections by final state"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating stream.connections.closed: %w", err)
	}

	eventsPublished, err := meter.Int64Counter("stream.events.published",
		metric.WithDescription("Envelopes published to the shared bus"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating stream.events.published: %w", err)
	}

	eventsDelivered, err := meter.Int64Counter("stream.events.delivered",
		metric.WithDescription("Envelopes written to client connections"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating stream.events.delivered: %w", err)
	}

	eventsDropped, err := meter.Int64Counter("stream.events.dropped",
		metric.WithDescription("Envelopes dropped from saturated outbound buffers"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating stream.events.dropped: %w", err)
	}

	admissionsRejected, err := meter.Int64Counter("stream.admissions.rejected",
		metric.WithDescription("Admission rejections by reason"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating stream.admissions.rejected: %w", err)
	}

	deliveryLatency, err := meter.Float64Histogram("stream.delivery.latency",
		metric.WithDescription("Seconds from envelope composition to client write"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating stream.delivery.latency: %w", err)
	}

	return &Metrics{
		connectionsActive:  connectionsActive,
		connectionsClosed:  connectionsClosed,
		eventsPublished:    eventsPublished,
		eventsDelivered:    eventsDelivered,
		eventsDropped:      eventsDropped,
		admissionsRejected: admissionsRejected,
		deliveryLatency:    deliveryLatency,
	}, nil
}

// ConnectionOpened records a newly admitted connection.
func (m *Metrics) ConnectionOpened(ctx context.Context, scope Scope) {
	m.connectionsActive.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope", string(scope)),
	))
}

// ConnectionClosed records a terminated connection with its final
// state. The active counter keeps scope-only attributes so the
// decrement cancels the matching increment.
func (m *Metrics) ConnectionClosed(ctx context.Context, scope Scope, state State) {
	m.connectionsActive.Add(ctx, -1, metric.WithAttributes(
		attribute.String("scope", string(scope)),
	))
	m.connectionsClosed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope", string(scope)),
		attribute.String("state", string(state)),
	))
}

// EventPublished records one envelope published to the bus.
func (m *Metrics) EventPublished(ctx context.Context, t EventType) {
	m.eventsPublished.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", string(t)),
	))
}

// EventDelivered records one envelope written to a client, with the
// composition-to-write latency.
func (m *Metrics) EventDelivered(ctx context.Context, t EventType, emittedAt time.Time) {
	attrs := metric.WithAttributes(attribute.String("type", string(t)))
	m.eventsDelivered.Add(ctx, 1, attrs)
	if !emittedAt.IsZero() {
		m.deliveryLatency.Record(ctx, time.Since(emittedAt).Seconds(), attrs)
	}
}

// EventDropped records one envelope dropped from a saturated buffer.
func (m *Metrics) EventDropped(ctx context.Context, t EventType) {
	m.eventsDropped.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", string(t)),
	))
}

// AdmissionRejected records a rejected admission attempt.
func (m *Metrics) AdmissionRejected(ctx context.Context, reason string) {
	m.admissionsRejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
}
