package store

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Quote is one observed price point for a symbol. Rows are appended by
// the ingestion pipeline; tickstream only reads them.
type Quote struct {
	ID         uint      `gorm:"primaryKey"`
	Symbol     string    `gorm:"size:16;index:idx_quotes_symbol_observed,priority:1;not null"`
	Price      float64   `gorm:"not null"`
	PrevClose  float64
	Volume     int64
	ObservedAt time.Time `gorm:"index:idx_quotes_symbol_observed,priority:2;not null"`
}

// Watchlist is a user-owned, ordered set of tracked symbols. A bound
// stream is scoped to one watchlist's symbol set at admission time.
type Watchlist struct {
	ID        uuid.UUID        `gorm:"type:uuid;primaryKey"`
	OwnerID   string           `gorm:"size:64;index;not null"`
	Name      string           `gorm:"size:128"`
	Entries   []WatchlistEntry `gorm:"constraint:OnDelete:CASCADE"`
	CreatedAt time.Time        `gorm:"autoCreateTime"`
	UpdatedAt time.Time        `gorm:"autoUpdateTime"`
}

// BeforeCreate generates a UUID if not already set.
func (w *Watchlist) BeforeCreate(_ *gorm.DB) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return nil
}

// WatchlistEntry is one tracked symbol within a watchlist. Position
// preserves the owner's ordering.
type WatchlistEntry struct {
	ID          uint      `gorm:"primaryKey"`
	WatchlistID uuid.UUID `gorm:"type:uuid;index;not null"`
	Symbol      string    `gorm:"size:16;not null"`
	Position    int       `gorm:"not null"`
}
