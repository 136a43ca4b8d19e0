// Package store defines the persistence interface for the options engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/atmx/options-engine/internal/model"
	"github.com/atmx/options-engine/internal/positions"
)

var (
	ErrMarketNotFound = errors.New("store: market not found")
	ErrMarketExists   = errors.New("store: market already exists")

	// ErrConflict is returned by Commit when the market or ledger changed
	// after the transition's inputs were loaded.
	ErrConflict = errors.New("store: concurrent update")
)

// Transition is everything one market operation changes. It is committed
// atomically: either all of it is stored or none of it.
type Transition struct {
	Market model.Market

	// Holder whose ledger and share balance change. Empty for admin
	// transitions.
	Holder string

	// Ledger replaces the holder's stored ledger when non-nil.
	Ledger *positions.Ledger

	SharesMinted uint64
	SharesBurned uint64

	// Event is appended to the market's event log.
	Event model.Event
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Market operations ---

	// CreateMarket persists a new market.
	CreateMarket(ctx context.Context, m *model.Market) error

	// GetMarket retrieves a market by its ID.
	GetMarket(ctx context.Context, id string) (*model.Market, error)

	// ListMarkets returns all markets, oldest first.
	ListMarkets(ctx context.Context) ([]model.Market, error)

	// --- Holder state ---

	// GetLedger returns the holder's position ledger, empty if none stored.
	GetLedger(ctx context.Context, holder string) (*positions.Ledger, error)

	// GetShares returns the holder's LP share balance in a market.
	GetShares(ctx context.Context, marketID, holder string) (uint64, error)

	// --- Transitions and the immutable event log ---

	// Commit stores a transition atomically. Burning more shares than the
	// holder owns fails with model.ErrInsufficientShares.
	//
	// t.Market.Version and t.Ledger.Version must equal the stored versions,
	// otherwise Commit fails with ErrConflict. Both are stored as Version+1.
	Commit(ctx context.Context, t Transition) error

	// ListEvents returns a market's events in commit order.
	ListEvents(ctx context.Context, marketID string) ([]model.Event, error)
}

// Primary returns the source-of-truth store behind any cache layers.
// Transitions load their inputs from it, never from a cache.
func Primary(s Store) Store {
	for {
		c, ok := s.(interface{ Primary() Store })
		if !ok {
			return s
		}
		s = c.Primary()
	}
}
