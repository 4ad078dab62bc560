package stream

import (
	"context"

	"github.com/google/uuid"

	"github.com/skillsenselab/tickstream/auth"
	"github.com/skillsenselab/tickstream/errors"
	"github.com/skillsenselab/tickstream/logger"
	"github.com/skillsenselab/tickstream/store"
)

// AdmissionGate runs the admission pipeline for both stream surfaces:
// authentication and ownership for the bound surface, then capacity
// reservation for both. Checks run in that order so an unauthorized
// request is never told whether the instance is at capacity.
type AdmissionGate struct {
	log        *logger.Logger
	registry   *Registry
	watchlists store.WatchlistReader
	metrics    *Metrics
	cfg        Config
}

// NewAdmissionGate creates the gate over the capacity registry and the
// watchlist resolver.
func NewAdmissionGate(log *logger.Logger, registry *Registry, watchlists store.WatchlistReader, metrics *Metrics, cfg Config) *AdmissionGate {
	return &AdmissionGate{
		log:        log.WithComponent("stream.admission"),
		registry:   registry,
		watchlists: watchlists,
		metrics:    metrics,
		cfg:        cfg,
	}
}

// AdmitGlobal admits a connection to the global surface. No identity is
// required; only the capacity ceiling applies.
func (g *AdmissionGate) AdmitGlobal(ctx context.Context, lastEventID string) (*Connection, error) {
	conn := NewConnection(ScopeGlobal, nil, lastEventID, g.cfg)
	if err := g.reserve(ctx, conn); err != nil {
		return nil, err
	}
	return conn, nil
}

// AdmitBound admits a connection scoped to one watchlist. The caller's
// verified claims must be present in ctx; the watchlist must exist and
// belong to the caller.
func (g *AdmissionGate) AdmitBound(ctx context.Context, watchlistID string, lastEventID string) (*Connection, error) {
	conn := NewConnection(ScopeBound, nil, lastEventID, g.cfg)
	conn.Transition(StateAuthenticating)

	claims, ok := auth.ClaimsFrom(ctx)
	if !ok {
		g.metrics.AdmissionRejected(ctx, "unauthorized")
		return nil, errors.Unauthorized("")
	}

	id, err := uuid.Parse(watchlistID)
	if err != nil {
		g.metrics.AdmissionRejected(ctx, "not_found")
		return nil, errors.NotFound("watchlist", watchlistID)
	}

	wl, err := g.watchlists.WatchlistByID(ctx, id)
	if err != nil {
		g.metrics.AdmissionRejected(ctx, "not_found")
		return nil, err
	}
	if wl.OwnerID != claims.UserID() {
		g.metrics.AdmissionRejected(ctx, "forbidden")
		g.log.Warn("ownership check failed", logger.Fields(
			"watchlist_id", watchlistID,
			"owner_id", wl.OwnerID,
			"subject", claims.UserID(),
		))
		return nil, errors.Forbidden("")
	}

	conn.SetFilter(wl.SymbolSet())
	if err := g.reserve(ctx, conn); err != nil {
		return nil, err
	}
	return conn, nil
}

// reserve claims a capacity slot and moves the connection to ADMITTED.
func (g *AdmissionGate) reserve(ctx context.Context, conn *Connection) error {
	slot, err := g.registry.Reserve()
	if err != nil {
		g.metrics.AdmissionRejected(ctx, "capacity")
		g.log.Warn("admission rejected at capacity", logger.Fields(
			logger.FieldScope, string(conn.Scope()),
			"active", g.registry.Active(),
			"max", g.registry.Max(),
		))
		return err
	}
	conn.BindSlot(slot)
	conn.Transition(StateAdmitted)
	g.log.Info("connection admitted", logger.Fields(
		logger.FieldConnectionID, conn.ID(),
		logger.FieldScope, string(conn.Scope()),
		"active", g.registry.Active(),
	))
	return nil
}
