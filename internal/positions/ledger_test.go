package positions

import (
	"errors"
	"testing"
	"time"

	"github.com/atmx/options-engine/internal/model"
)

func order(market string, expiry int64, collateral uint64) model.OptionOrder {
	return model.OptionOrder{
		StrikePrice:                100_00000000,
		Expiry:                     expiry,
		Quantity:                   1,
		PremiumPaid:                10,
		MaxPotentialPayoutInTokens: collateral,
		MarketID:                   market,
		OptionType:                 model.Call,
	}
}

func TestAllocateSlot_FirstFree(t *testing.T) {
	l := NewLedger("alice")
	i, err := l.AllocateSlot()
	if err != nil || i != 0 {
		t.Fatalf("expected slot 0, got %d (%v)", i, err)
	}
	if err := l.WriteSlot(0, order("m1", 0, 1)); err != nil {
		t.Fatal(err)
	}
	if err := l.WriteSlot(1, order("m1", 0, 1)); err != nil {
		t.Fatal(err)
	}
	l.ClearSlot(0)

	i, _ = l.AllocateSlot()
	if i != 0 {
		t.Errorf("expected freed slot 0 to be reused, got %d", i)
	}
}

func TestAllocateSlot_Full(t *testing.T) {
	l := NewLedger("alice")
	for i := 0; i < Capacity; i++ {
		if err := l.WriteSlot(i, order("m1", 0, 1)); err != nil {
			t.Fatalf("slot %d: %v", i, err)
		}
	}
	if _, err := l.AllocateSlot(); !errors.Is(err, model.ErrOrdersLimitExceeded) {
		t.Errorf("expected ErrOrdersLimitExceeded, got %v", err)
	}
}

func TestWriteSlot_Errors(t *testing.T) {
	l := NewLedger("alice")
	if err := l.WriteSlot(Capacity, order("m1", 0, 1)); !errors.Is(err, model.ErrPositionNotFound) {
		t.Errorf("expected ErrPositionNotFound for out-of-range slot, got %v", err)
	}
	if err := l.WriteSlot(-1, order("m1", 0, 1)); !errors.Is(err, model.ErrPositionNotFound) {
		t.Errorf("expected ErrPositionNotFound for negative slot, got %v", err)
	}
	_ = l.WriteSlot(3, order("m1", 0, 1))
	if err := l.WriteSlot(3, order("m1", 0, 2)); !errors.Is(err, model.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState writing over live slot, got %v", err)
	}
	if got, _ := l.Get(3); got.MaxPotentialPayoutInTokens != 1 {
		t.Error("live slot must not be overwritten")
	}
}

func TestWriteSlot_MarksUsed(t *testing.T) {
	l := NewLedger("alice")
	o := order("m1", 0, 5)
	o.IsUsed = false
	_ = l.WriteSlot(2, o)
	got, err := l.Get(2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.IsUsed {
		t.Error("written slot should be marked used")
	}
}

func TestClearSlot_Idempotent(t *testing.T) {
	l := NewLedger("alice")
	_ = l.WriteSlot(5, order("m1", 0, 7))

	prev, ok := l.ClearSlot(5)
	if !ok || prev.MaxPotentialPayoutInTokens != 7 {
		t.Fatalf("first clear should return the live order, got %+v ok=%v", prev, ok)
	}
	if l.Slots[5] != (model.OptionOrder{}) {
		t.Error("cleared slot should be all zero")
	}

	snapshot := *l
	prev, ok = l.ClearSlot(5)
	if ok || prev != (model.OptionOrder{}) {
		t.Errorf("second clear should be a no-op, got %+v ok=%v", prev, ok)
	}
	if *l != snapshot {
		t.Error("second clear mutated the ledger")
	}

	if _, ok := l.ClearSlot(99); ok {
		t.Error("out-of-range clear should report false")
	}
}

func TestGet_Empty(t *testing.T) {
	l := NewLedger("alice")
	if _, err := l.Get(0); !errors.Is(err, model.ErrPositionNotFound) {
		t.Errorf("expected ErrPositionNotFound, got %v", err)
	}
}

func TestOpenInMarketAndCommitted(t *testing.T) {
	l := NewLedger("alice")
	_ = l.WriteSlot(0, order("m1", 0, 100))
	_ = l.WriteSlot(4, order("m2", 0, 50))
	_ = l.WriteSlot(9, order("m1", 0, 25))

	if n := len(l.Open()); n != 3 {
		t.Errorf("expected 3 open, got %d", n)
	}
	m1 := l.OpenInMarket("m1")
	if len(m1) != 2 || m1[0].Slot != 0 || m1[1].Slot != 9 {
		t.Errorf("unexpected m1 positions: %+v", m1)
	}
	if c := l.CommittedInMarket("m1"); c != 125 {
		t.Errorf("expected 125 committed in m1, got %d", c)
	}
	if c := l.CommittedInMarket("m3"); c != 0 {
		t.Errorf("expected 0 committed in unknown market, got %d", c)
	}
}

func TestExpired(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	l := NewLedger("alice")
	_ = l.WriteSlot(0, order("m1", base.Unix(), 1))
	_ = l.WriteSlot(1, order("m1", base.Add(24*time.Hour).Unix(), 1))

	tol := time.Hour
	if got := l.Expired(base.Add(tol), tol); len(got) != 0 {
		t.Errorf("at exactly expiry+tolerance nothing is expired, got %d", len(got))
	}
	got := l.Expired(base.Add(tol+time.Second), tol)
	if len(got) != 1 || got[0].Slot != 0 {
		t.Errorf("expected slot 0 expired, got %+v", got)
	}
}

func TestClone_Independent(t *testing.T) {
	l := NewLedger("alice")
	_ = l.WriteSlot(0, order("m1", 0, 1))
	c := l.Clone()
	c.ClearSlot(0)
	if !l.Slots[0].IsUsed {
		t.Error("clearing the clone must not touch the original")
	}
}
