package model

import "time"

// EventKind names a market state transition.
type EventKind string

const (
	EventDeposit          EventKind = "deposit"
	EventWithdraw         EventKind = "withdraw"
	EventBuy              EventKind = "buy"
	EventExercise         EventKind = "exercise"
	EventSettleExpired    EventKind = "settle_expired"
	EventVolatilityUpdate EventKind = "volatility_update"
	EventFeeWithdrawal    EventKind = "fee_withdrawal"
	EventMarketClose      EventKind = "market_close"
)

// Event is an immutable record of one transition, with the counters before
// and after. Once stored, events are never modified or deleted.
type Event struct {
	ID        string    `json:"id" db:"id"`
	Kind      EventKind `json:"kind" db:"kind"`
	MarketID  string    `json:"market_id" db:"market_id"`
	Holder    string    `json:"holder,omitempty" db:"holder"`
	Slot      int       `json:"slot" db:"slot"` // -1 when no slot is involved
	Amount    uint64    `json:"amount" db:"amount"`
	Shares    uint64    `json:"shares" db:"shares"`
	Payout    uint64    `json:"payout" db:"payout"`
	Fee       uint64    `json:"fee" db:"fee"`
	Before    Counters  `json:"before" db:"before"`
	After     Counters  `json:"after" db:"after"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
}
