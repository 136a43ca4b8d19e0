package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/atmx/options-engine/internal/fixedpoint"
	"github.com/atmx/options-engine/internal/model"
	"github.com/atmx/options-engine/internal/positions"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu      sync.RWMutex
	markets map[string]*model.Market
	ledgers map[string]*positions.Ledger
	shares  map[shareKey]uint64
	events  map[string][]model.Event
}

type shareKey struct {
	market, holder string
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markets: make(map[string]*model.Market),
		ledgers: make(map[string]*positions.Ledger),
		shares:  make(map[shareKey]uint64),
		events:  make(map[string][]model.Event),
	}
}

func (s *MemoryStore) CreateMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.markets[m.ID]; ok {
		return fmt.Errorf("%w: %s", ErrMarketExists, m.ID)
	}
	for _, existing := range s.markets {
		if existing.Index == m.Index {
			return fmt.Errorf("%w: index %d", ErrMarketExists, m.Index)
		}
	}

	// Store a copy to avoid external mutation.
	copy := *m
	s.markets[m.ID] = &copy
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, id)
	}
	copy := *m
	return &copy, nil
}

func (s *MemoryStore) ListMarkets(_ context.Context) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]model.Market, 0, len(s.markets))
	for _, m := range s.markets {
		markets = append(markets, *m)
	}
	sort.Slice(markets, func(i, j int) bool {
		if !markets[i].CreatedAt.Equal(markets[j].CreatedAt) {
			return markets[i].CreatedAt.Before(markets[j].CreatedAt)
		}
		return markets[i].ID < markets[j].ID
	})
	return markets, nil
}

func (s *MemoryStore) GetLedger(_ context.Context, holder string) (*positions.Ledger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if l, ok := s.ledgers[holder]; ok {
		return l.Clone(), nil
	}
	return positions.NewLedger(holder), nil
}

func (s *MemoryStore) GetShares(_ context.Context, marketID, holder string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.shares[shareKey{marketID, holder}], nil
}

func (s *MemoryStore) Commit(_ context.Context, t Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.markets[t.Market.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMarketNotFound, t.Market.ID)
	}

	// Validate everything before the first write.
	if stored.Version != t.Market.Version {
		return fmt.Errorf("%w: market %s at version %d, transition built on %d",
			ErrConflict, t.Market.ID, stored.Version, t.Market.Version)
	}
	if t.Ledger != nil {
		var current uint64
		if l, ok := s.ledgers[t.Ledger.Holder]; ok {
			current = l.Version
		}
		if current != t.Ledger.Version {
			return fmt.Errorf("%w: ledger %s at version %d, transition built on %d",
				ErrConflict, t.Ledger.Holder, current, t.Ledger.Version)
		}
	}
	key := shareKey{t.Market.ID, t.Holder}
	balance, err := applyShares(s.shares[key], t.SharesMinted, t.SharesBurned)
	if err != nil {
		return err
	}

	m := t.Market
	m.Version++
	s.markets[m.ID] = &m
	if t.Holder != "" {
		s.shares[key] = balance
	}
	if t.Ledger != nil {
		l := t.Ledger.Clone()
		l.Version++
		s.ledgers[l.Holder] = l
	}
	s.events[m.ID] = append(s.events[m.ID], t.Event)
	return nil
}

func (s *MemoryStore) ListEvents(_ context.Context, marketID string) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.markets[marketID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, marketID)
	}
	return append([]model.Event(nil), s.events[marketID]...), nil
}

// applyShares returns balance + minted - burned.
func applyShares(balance, minted, burned uint64) (uint64, error) {
	next, err := fixedpoint.Add(balance, minted)
	if err != nil {
		return 0, err
	}
	if burned > next {
		return 0, fmt.Errorf("%w: burning %d of %d", model.ErrInsufficientShares, burned, next)
	}
	return next - burned, nil
}
