package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/options-engine/internal/model"
	"github.com/atmx/options-engine/internal/positions"
)

// hookedStore runs afterLedgerRead once, between reading a ledger and
// returning it.
type hookedStore struct {
	*MemoryStore
	afterLedgerRead func()
}

func (h *hookedStore) GetLedger(ctx context.Context, holder string) (*positions.Ledger, error) {
	l, err := h.MemoryStore.GetLedger(ctx, holder)
	if f := h.afterLedgerRead; f != nil {
		h.afterLedgerRead = nil
		f()
	}
	return l, err
}

func newCachedStore(t *testing.T, primary Store) (*CachedStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewCachedStore(primary, rdb, time.Minute), mr
}

// seedPosition commits a ledger for alice holding one live option in slot 0.
func seedPosition(t *testing.T, s *MemoryStore) {
	t.Helper()
	ctx := context.Background()
	if err := s.CreateMarket(ctx, newMarket("sol", 1)); err != nil {
		t.Fatal(err)
	}
	m, _ := s.GetMarket(ctx, "sol")
	m.ReserveSupply, m.LPMinted, m.CommittedReserve = 1_000, 1_000, 300

	l := positions.NewLedger("alice")
	if err := l.WriteSlot(0, model.OptionOrder{MarketID: "sol", Quantity: 1, MaxPotentialPayoutInTokens: 300}); err != nil {
		t.Fatal(err)
	}
	if err := s.Commit(ctx, Transition{Market: *m, Holder: "alice", Ledger: l,
		Event: model.Event{ID: "buy", Kind: model.EventBuy, MarketID: "sol"}}); err != nil {
		t.Fatal(err)
	}
}

// clearSlot0 builds the transition that exercises alice's slot 0.
func clearSlot0(m model.Market, l *positions.Ledger, id string) Transition {
	m.CommittedReserve -= 300
	l.ClearSlot(0)
	return Transition{Market: m, Holder: l.Holder, Ledger: l,
		Event: model.Event{ID: id, Kind: model.EventExercise, MarketID: m.ID}}
}

func TestPrimary(t *testing.T) {
	mem := NewMemoryStore()
	cs, _ := newCachedStore(t, mem)

	if Primary(cs) != Store(mem) {
		t.Error("expected the cache to unwrap to its primary")
	}
	if Primary(mem) != Store(mem) {
		t.Error("expected an uncached store to be its own primary")
	}
}

func TestCachedStore_ReadThrough(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	cs, mr := newCachedStore(t, mem)

	if err := cs.CreateMarket(ctx, newMarket("sol", 1)); err != nil {
		t.Fatal(err)
	}
	if !mr.Exists(marketKey("sol")) {
		t.Fatal("expected created market to be cached")
	}

	if _, err := cs.GetLedger(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	if !mr.Exists(ledgerKey("alice")) {
		t.Error("expected ledger miss to fill the cache")
	}
	if _, err := cs.GetMarket(ctx, "doge"); !errors.Is(err, ErrMarketNotFound) {
		t.Errorf("expected ErrMarketNotFound, got %v", err)
	}
}

func TestCachedStore_CommitWritesThrough(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	cs, _ := newCachedStore(t, mem)
	if err := cs.CreateMarket(ctx, newMarket("sol", 1)); err != nil {
		t.Fatal(err)
	}

	// Warm every key with the pre-commit values.
	m, _ := cs.GetMarket(ctx, "sol")
	l, _ := cs.GetLedger(ctx, "alice")
	if n, _ := cs.GetShares(ctx, "sol", "alice"); n != 0 {
		t.Fatalf("expected no shares, got %d", n)
	}

	m.ReserveSupply, m.LPMinted = 1_000, 1_000
	if err := cs.Commit(ctx, Transition{Market: *m, Holder: "alice", Ledger: l, SharesMinted: 1_000,
		Event: model.Event{ID: "e1", Kind: model.EventDeposit, MarketID: "sol"}}); err != nil {
		t.Fatal(err)
	}

	got, _ := cs.GetMarket(ctx, "sol")
	if got.ReserveSupply != 1_000 || got.Version != 1 {
		t.Errorf("expected cached market at reserve 1000 version 1, got %d version %d", got.ReserveSupply, got.Version)
	}
	gotLedger, _ := cs.GetLedger(ctx, "alice")
	if gotLedger.Version != 1 {
		t.Errorf("expected cached ledger version 1, got %d", gotLedger.Version)
	}
	if n, _ := cs.GetShares(ctx, "sol", "alice"); n != 1_000 {
		t.Errorf("expected cached balance 1000, got %d", n)
	}
}

func TestCachedStore_FillAfterCommitKeepsCommittedLedger(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	seedPosition(t, mem)
	hooked := &hookedStore{MemoryStore: mem}
	cs, _ := newCachedStore(t, hooked)

	// A read-side miss loads the ledger, then a transition on that same slot
	// commits before the reader's fill reaches Redis.
	hooked.afterLedgerRead = func() {
		m, _ := Primary(cs).GetMarket(ctx, "sol")
		l, _ := mem.GetLedger(ctx, "alice")
		if err := cs.Commit(ctx, clearSlot0(*m, l, "exercise-1")); err != nil {
			t.Errorf("first exercise: %v", err)
		}
	}
	stale, err := cs.GetLedger(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(stale.Open()) != 1 {
		t.Fatalf("expected the reader to have seen the open slot, got %+v", stale.Open())
	}

	cached, _ := cs.GetLedger(ctx, "alice")
	if len(cached.Open()) != 0 || cached.Version != 2 {
		t.Errorf("cache holds a pre-commit ledger: %d open, version %d", len(cached.Open()), cached.Version)
	}

	// A second exercise built on the stale read cannot commit.
	m, _ := Primary(cs).GetMarket(ctx, "sol")
	if err := cs.Commit(ctx, clearSlot0(*m, stale, "exercise-2")); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for a stale ledger, got %v", err)
	}

	final, _ := mem.GetMarket(ctx, "sol")
	if final.CommittedReserve != 0 {
		t.Errorf("expected committed 0 after one exercise, got %d", final.CommittedReserve)
	}
	if events, _ := mem.ListEvents(ctx, "sol"); len(events) != 2 {
		t.Errorf("expected buy and one exercise, got %d events", len(events))
	}
}
