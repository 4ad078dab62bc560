package stream

import (
	stderrors "errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/skillsenselab/tickstream/errors"
	"github.com/skillsenselab/tickstream/logger"
)

// Handler serves the two SSE surfaces and runs the per-connection
// dispatch loop: replay, live delivery, heartbeats, and teardown.
type Handler struct {
	log      *logger.Logger
	gate     *AdmissionGate
	hub      *Hub
	registry *Registry
	seq      *Sequence
	metrics  *Metrics
	codec    Codec
	cfg      Config
	startAt  time.Time
}

// NewHandler wires the streaming handler.
func NewHandler(log *logger.Logger, gate *AdmissionGate, hub *Hub, registry *Registry, seq *Sequence, metrics *Metrics, cfg Config) *Handler {
	return &Handler{
		log:      log.WithComponent("stream.handler"),
		gate:     gate,
		hub:      hub,
		registry: registry,
		seq:      seq,
		metrics:  metrics,
		cfg:      cfg,
		startAt:  time.Now(),
	}
}

// Register mounts the stream routes on the router group.
func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/stream", h.Global)
	r.GET("/stream/:watchlist_id", h.Bound)
}

// Global handles GET /stream: the unauthenticated all-partitions feed.
func (h *Handler) Global(c *gin.Context) {
	conn, err := h.gate.AdmitGlobal(c.Request.Context(), c.GetHeader("Last-Event-ID"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	h.serve(c, conn)
}

// Bound handles GET /stream/:watchlist_id: the owner-only feed filtered
// to one watchlist's symbols.
func (h *Handler) Bound(c *gin.Context) {
	conn, err := h.gate.AdmitBound(c.Request.Context(), c.Param("watchlist_id"), c.GetHeader("Last-Event-ID"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	h.serve(c, conn)
}

// serve runs the dispatch loop until the client disconnects, the
// connection is evicted, or a write fails. The capacity slot is
// released exactly once on every exit path.
func (h *Handler) serve(c *gin.Context, conn *Connection) {
	ctx := c.Request.Context()
	log := h.log.WithFields(logger.Fields(
		logger.FieldConnectionID, conn.ID(),
		logger.FieldScope, string(conn.Scope()),
	))

	defer conn.ReleaseSlot()
	defer h.hub.Detach(ctx, conn)

	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)

	// Acknowledge before any envelope so the client sees the stream is
	// open even during market silence.
	if err := h.write(rc, w, h.codec.Comment("connected "+conn.ID())); err != nil {
		conn.Transition(StateClosedError)
		log.Warn("initial write failed", logger.ErrorFields("ack", err))
		return
	}

	resumed := h.hub.Attach(ctx, conn)
	conn.Transition(StateStreaming)
	log.Info("streaming started", logger.Fields(
		"resumed", resumed,
		"last_event_id", conn.LastEventID(),
	))

	heartbeat := time.NewTicker(h.cfg.HeartbeatInterval())
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Transition(StateClosedClient)
			log.Info("client disconnected", logger.Fields(
				logger.FieldDuration, time.Since(conn.ConnectedAt()).Milliseconds(),
			))
			return

		case <-conn.Evicted():
			conn.Transition(StateClosedCapacityReclaim)
			appErr := errors.SlowConsumer(conn.ID())
			log.Warn("slow consumer evicted", logger.Fields(
				logger.FieldError, appErr.Error(),
				logger.FieldDuration, time.Since(conn.ConnectedAt()).Milliseconds(),
			))
			return

		case <-heartbeat.C:
			conn.Offer(h.composeHeartbeat())

		case <-conn.Ready():
			for _, env := range conn.Drain() {
				frame, err := h.codec.Encode(env)
				if err != nil {
					log.Error("encode failed", logger.ErrorFields("encode", err))
					continue
				}
				if err := h.write(rc, w, frame); err != nil {
					conn.Transition(StateClosedError)
					log.Warn("write failed", logger.Fields(
						logger.FieldError, errors.WriteFailure(conn.ID(), err).Error(),
						logger.FieldEventID, env.ID,
					))
					return
				}
				conn.NoteDelivered(env.ID)
				h.metrics.EventDelivered(ctx, env.Type, env.EmittedAt)
			}
		}
	}
}

// write sends one frame under the per-write deadline and flushes it.
// The deadline breaks writes wedged on a stalled client socket so the
// serve loop can observe eviction.
func (h *Handler) write(rc *http.ResponseController, w gin.ResponseWriter, frame []byte) error {
	if err := rc.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout())); err != nil && !stderrors.Is(err, http.ErrNotSupported) {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return err
	}
	return rc.Flush()
}

// composeHeartbeat builds a heartbeat envelope carrying the instance's
// connection count and uptime. Heartbeats consume IDs from the same
// sequence as deltas so resume cursors stay totally ordered.
func (h *Handler) composeHeartbeat() Envelope {
	now := time.Now()
	return Envelope{
		Type: EventHeartbeat,
		ID:   h.seq.Next(),
		Payload: HeartbeatPayload{
			Connections: h.registry.Active(),
			UptimeSec:   int64(now.Sub(h.startAt).Seconds()),
			ServerTime:  now.UTC(),
		},
		RetryHintMS: h.cfg.RetryHintMS,
		EmittedAt:   now,
	}
}

// renderError writes the admission error taxonomy: the AppError JSON
// body plus a Retry-After header for retryable capacity rejections.
func (h *Handler) renderError(c *gin.Context, err error) {
	appErr, ok := errors.AsAppError(err)
	if !ok {
		appErr = errors.Internal(err)
	}
	if appErr.Code == errors.ErrCodeCapacityExceeded {
		if sec, ok := appErr.Details["retry_after_sec"].(int); ok {
			c.Header("Retry-After", strconv.Itoa(sec))
		}
	}
	c.JSON(appErr.HTTPStatus, appErr.ToResponse())
}
