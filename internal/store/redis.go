package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/options-engine/internal/model"
	"github.com/atmx/options-engine/internal/positions"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the read-side API. Writes go to the primary store and then
// overwrite the cached copies with the committed values. Misses fill the
// cache with SETNX, so a fill that read the primary before a commit cannot
// replace what the commit wrote.
//
// Cached values may lag the primary. Transitions load through Primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// Primary returns the wrapped store.
func (s *CachedStore) Primary() Store { return s.primary }

// --- Write-through (write to primary, then refresh the cache) ---

func (s *CachedStore) CreateMarket(ctx context.Context, m *model.Market) error {
	if err := s.primary.CreateMarket(ctx, m); err != nil {
		return err
	}
	s.cache(ctx, marketKey(m.ID), m)
	return nil
}

func (s *CachedStore) Commit(ctx context.Context, t Transition) error {
	if err := s.primary.Commit(ctx, t); err != nil {
		return err
	}

	m := t.Market
	m.Version++
	s.cache(ctx, marketKey(m.ID), &m)
	if t.Ledger != nil {
		l := t.Ledger.Clone()
		l.Version++
		s.cache(ctx, ledgerKey(l.Holder), l)
	}
	if t.Holder != "" {
		key := sharesKey(m.ID, t.Holder)
		if n, err := s.primary.GetShares(ctx, m.ID, t.Holder); err == nil {
			s.rdb.Set(ctx, key, n, s.ttl)
		} else {
			s.rdb.Del(ctx, key)
		}
	}
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	var m model.Market
	if s.cached(ctx, marketKey(id), &m) {
		return &m, nil
	}

	// Cache miss: read from primary.
	pm, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}
	s.fill(ctx, marketKey(id), pm)
	return pm, nil
}

func (s *CachedStore) GetLedger(ctx context.Context, holder string) (*positions.Ledger, error) {
	var l positions.Ledger
	if s.cached(ctx, ledgerKey(holder), &l) {
		return &l, nil
	}

	pl, err := s.primary.GetLedger(ctx, holder)
	if err != nil {
		return nil, err
	}
	s.fill(ctx, ledgerKey(holder), pl)
	return pl, nil
}

func (s *CachedStore) GetShares(ctx context.Context, marketID, holder string) (uint64, error) {
	if n, err := s.rdb.Get(ctx, sharesKey(marketID, holder)).Uint64(); err == nil {
		return n, nil
	}

	n, err := s.primary.GetShares(ctx, marketID, holder)
	if err != nil {
		return 0, err
	}
	s.rdb.SetNX(ctx, sharesKey(marketID, holder), n, s.ttl)
	return n, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	return s.primary.ListMarkets(ctx)
}

func (s *CachedStore) ListEvents(ctx context.Context, marketID string) ([]model.Event, error) {
	return s.primary.ListEvents(ctx, marketID)
}

// --- Cache helpers ---

// cache stores a value the caller knows to be current.
func (s *CachedStore) cache(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

// fill stores a value read from the primary unless the key was written in
// the meantime.
func (s *CachedStore) fill(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.SetNX(ctx, key, data, s.ttl)
	}
}

func (s *CachedStore) cached(ctx context.Context, key string, v any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

func marketKey(id string) string             { return fmt.Sprintf("market:%s", id) }
func ledgerKey(holder string) string         { return fmt.Sprintf("ledger:%s", holder) }
func sharesKey(market, holder string) string { return fmt.Sprintf("shares:%s:%s", market, holder) }
