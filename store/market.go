package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	apperrors "github.com/skillsenselab/tickstream/errors"
)

// MarketReader is the minimal read contract the change detector needs.
// The poller is the only writer of its own cursors; this interface is
// read-only against the backing store.
type MarketReader interface {
	// Symbols lists the distinct symbols currently present in the store.
	Symbols(ctx context.Context) ([]string, error)

	// QuotesSince returns quotes for one symbol observed strictly after
	// the given watermark, oldest first.
	QuotesSince(ctx context.Context, symbol string, after time.Time) ([]Quote, error)
}

// WatchlistReader is the read contract the admission gate needs to
// resolve a bound stream's scope.
type WatchlistReader interface {
	// WatchlistByID loads a watchlist with its entries in position order.
	WatchlistByID(ctx context.Context, id uuid.UUID) (*Watchlist, error)
}

// MarketStore implements MarketReader and WatchlistReader over GORM.
type MarketStore struct {
	db *DB
}

// NewMarketStore creates a market store over an open database handle.
func NewMarketStore(db *DB) *MarketStore {
	return &MarketStore{db: db}
}

// Symbols lists the distinct symbols currently present in the store.
func (s *MarketStore) Symbols(ctx context.Context) ([]string, error) {
	var symbols []string
	err := s.db.WithContext(ctx).
		Model(&Quote{}).
		Distinct("symbol").
		Order("symbol").
		Pluck("symbol", &symbols).Error
	if err != nil {
		return nil, apperrors.DatabaseError(fmt.Errorf("list symbols: %w", err))
	}
	return symbols, nil
}

// QuotesSince returns quotes for one symbol observed strictly after the
// given watermark, oldest first.
func (s *MarketStore) QuotesSince(ctx context.Context, symbol string, after time.Time) ([]Quote, error) {
	var quotes []Quote
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND observed_at > ?", symbol, after).
		Order("observed_at ASC").
		Find(&quotes).Error
	if err != nil {
		return nil, apperrors.DatabaseError(fmt.Errorf("quotes since %s for %s: %w", after, symbol, err))
	}
	return quotes, nil
}

// WatchlistByID loads a watchlist with its entries in position order.
// Returns a NOT_FOUND AppError when no such watchlist exists.
func (s *MarketStore) WatchlistByID(ctx context.Context, id uuid.UUID) (*Watchlist, error) {
	var wl Watchlist
	err := s.db.WithContext(ctx).
		Preload("Entries", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		First(&wl, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("watchlist", id.String())
	}
	if err != nil {
		return nil, apperrors.DatabaseError(fmt.Errorf("load watchlist %s: %w", id, err))
	}
	return &wl, nil
}

// SymbolSet returns the watchlist's symbols in the owner's order.
func (w *Watchlist) SymbolSet() []string {
	symbols := make([]string, 0, len(w.Entries))
	for _, e := range w.Entries {
		symbols = append(symbols, e.Symbol)
	}
	return symbols
}
