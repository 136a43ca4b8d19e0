// Package positions implements the per-holder option ledger: a fixed table
// of 32 slots, each holding at most one live option.
package positions

import (
	"fmt"
	"time"

	"github.com/atmx/options-engine/internal/model"
)

// Capacity is the number of option slots per holder.
const Capacity = 32

// Ledger is one holder's option table. Only the holder's own transitions
// write to it.
type Ledger struct {
	Holder string                      `json:"holder"`
	Slots  [Capacity]model.OptionOrder `json:"slots"`

	// Version is the stored revision this ledger was loaded at, 0 if it has
	// never been stored.
	Version uint64 `json:"version"`
}

// Position is a live slot together with its index.
type Position struct {
	Slot  int               `json:"slot"`
	Order model.OptionOrder `json:"order"`
}

// NewLedger returns an empty ledger for holder.
func NewLedger(holder string) *Ledger {
	return &Ledger{Holder: holder}
}

// AllocateSlot returns the first free slot index. It does not reserve the
// slot; the caller writes it once every other check has passed.
func (l *Ledger) AllocateSlot() (int, error) {
	for i := range l.Slots {
		if !l.Slots[i].IsUsed {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: all %d slots in use", model.ErrOrdersLimitExceeded, Capacity)
}

// WriteSlot stores order at index i and marks it used. Writing over a live
// slot is rejected.
func (l *Ledger) WriteSlot(i int, order model.OptionOrder) error {
	if i < 0 || i >= Capacity {
		return fmt.Errorf("%w: slot %d out of range", model.ErrPositionNotFound, i)
	}
	if l.Slots[i].IsUsed {
		return fmt.Errorf("%w: slot %d is live", model.ErrInvalidState, i)
	}
	order.IsUsed = true
	l.Slots[i] = order
	return nil
}

// ClearSlot zeroes slot i and returns what it held. The bool is false when
// the slot was already free, so a second call changes nothing.
func (l *Ledger) ClearSlot(i int) (model.OptionOrder, bool) {
	if i < 0 || i >= Capacity || !l.Slots[i].IsUsed {
		return model.OptionOrder{}, false
	}
	prev := l.Slots[i]
	l.Slots[i] = model.OptionOrder{}
	return prev, true
}

// Get returns the live order at slot i.
func (l *Ledger) Get(i int) (model.OptionOrder, error) {
	if i < 0 || i >= Capacity {
		return model.OptionOrder{}, fmt.Errorf("%w: slot %d out of range", model.ErrPositionNotFound, i)
	}
	if !l.Slots[i].IsUsed {
		return model.OptionOrder{}, fmt.Errorf("%w: slot %d is empty", model.ErrPositionNotFound, i)
	}
	return l.Slots[i], nil
}

// Open lists every live slot in index order.
func (l *Ledger) Open() []Position {
	var out []Position
	for i, o := range l.Slots {
		if o.IsUsed {
			out = append(out, Position{Slot: i, Order: o})
		}
	}
	return out
}

// OpenInMarket lists live slots belonging to marketID.
func (l *Ledger) OpenInMarket(marketID string) []Position {
	var out []Position
	for _, p := range l.Open() {
		if p.Order.MarketID == marketID {
			out = append(out, p)
		}
	}
	return out
}

// CommittedInMarket sums the collateral reserved for the holder's live
// options in marketID.
func (l *Ledger) CommittedInMarket(marketID string) uint64 {
	var total uint64
	for _, p := range l.OpenInMarket(marketID) {
		total += p.Order.MaxPotentialPayoutInTokens
	}
	return total
}

// Expired lists live slots past expiry + tolerance at now.
func (l *Ledger) Expired(now time.Time, tolerance time.Duration) []Position {
	var out []Position
	for _, p := range l.Open() {
		if now.After(p.Order.ExpiryTime().Add(tolerance)) {
			out = append(out, p)
		}
	}
	return out
}

// Clone returns an independent copy.
func (l *Ledger) Clone() *Ledger {
	c := *l
	return &c
}
