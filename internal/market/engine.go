// Package market implements the market aggregate state machine.
//
// Every operation takes the current Market by value, validates its inputs
// against it, and returns the next Market together with an event record.
// On error nothing is returned and nothing is mutated: the caller keeps the
// aggregate it passed in. Holder ledgers are mutated in place, but only
// after every check has passed.
//
// The engine performs no I/O. Spot prices, the clock and token transfers are
// the caller's responsibility.
package market

import (
	"fmt"
	"time"

	"github.com/atmx/options-engine/internal/fixedpoint"
	"github.com/atmx/options-engine/internal/lpshares"
	"github.com/atmx/options-engine/internal/model"
	"github.com/atmx/options-engine/internal/pricing"
	"github.com/atmx/options-engine/internal/risk"
)

// Params configures the engine.
type Params struct {
	Pricing pricing.Params

	// ExerciseTolerance is how long after expiry a position may still be
	// exercised. Settlement of expired positions opens once it has passed.
	ExerciseTolerance time.Duration

	// MaxExpiry bounds how far in the future a new option may expire.
	MaxExpiry time.Duration
}

// DefaultParams returns the production defaults.
func DefaultParams() Params {
	return Params{
		Pricing:           pricing.DefaultParams(),
		ExerciseTolerance: time.Hour,
		MaxExpiry:         30 * 24 * time.Hour,
	}
}

// Engine applies state transitions to market aggregates.
type Engine struct {
	params  Params
	pricer  *pricing.Engine
	limiter risk.Limiter
}

// NewEngine creates an engine. limiter may be nil.
func NewEngine(p Params, limiter risk.Limiter) (*Engine, error) {
	pricer, err := pricing.NewEngine(p.Pricing)
	if err != nil {
		return nil, err
	}
	if p.ExerciseTolerance < 0 {
		return nil, fmt.Errorf("%w: negative exercise tolerance", pricing.ErrInvalidParams)
	}
	if p.MaxExpiry <= 0 {
		return nil, fmt.Errorf("%w: max expiry must be positive", pricing.ErrInvalidParams)
	}
	return &Engine{params: p, pricer: pricer, limiter: limiter}, nil
}

// Params returns the engine parameters.
func (e *Engine) Params() Params { return e.params }

// Pricer returns the pricing engine used for quotes.
func (e *Engine) Pricer() *pricing.Engine { return e.pricer }

// CheckInvariants validates a market aggregate:
//   - ReserveSupply >= CommittedReserve
//   - LPMinted == 0 iff ReserveSupply + Premiums == 0
//   - ReserveSupply + Premiums fits in 64 bits
func CheckInvariants(m model.Market) error {
	if err := checkSolvency(m); err != nil {
		return err
	}
	tvl, err := m.TVL()
	if err != nil {
		return fmt.Errorf("%w: pool value overflows", model.ErrInvalidState)
	}
	if (m.LPMinted == 0) != (tvl == 0) {
		return fmt.Errorf("%w: %d shares against pool value %d", model.ErrInvalidState, m.LPMinted, tvl)
	}
	return nil
}

// checkSolvency is the subset of CheckInvariants that payouts must keep. A
// pool drained to zero by payouts keeps its shares outstanding.
func checkSolvency(m model.Market) error {
	if m.CommittedReserve > m.ReserveSupply {
		return fmt.Errorf("%w: committed %d exceeds reserve %d", model.ErrInvalidState, m.CommittedReserve, m.ReserveSupply)
	}
	if _, err := m.TVL(); err != nil {
		return fmt.Errorf("%w: pool value overflows", model.ErrInvalidState)
	}
	return nil
}

func newEvent(kind model.EventKind, before, after model.Market, holder string, now time.Time) *model.Event {
	return &model.Event{
		Kind:      kind,
		MarketID:  after.ID,
		Holder:    holder,
		Slot:      -1,
		Before:    before.Counters(),
		After:     after.Counters(),
		Timestamp: now.UTC(),
	}
}

// --- LP transitions ---

// DepositResult is the outcome of Deposit.
type DepositResult struct {
	Market model.Market
	Shares uint64
	Event  *model.Event
}

// Deposit adds liquidity and mints LP shares.
func (e *Engine) Deposit(m model.Market, holder string, amount, minSharesOut uint64, now time.Time) (DepositResult, error) {
	if !m.IsOpen() {
		return DepositResult{}, model.ErrMarketClosed
	}
	shares, err := lpshares.IssueShares(amount, minSharesOut, m)
	if err != nil {
		return DepositResult{}, fmt.Errorf("deposit: %w", err)
	}

	next := m
	if next.ReserveSupply, err = fixedpoint.Add(m.ReserveSupply, amount); err != nil {
		return DepositResult{}, fmt.Errorf("deposit: %w", err)
	}
	if next.LPMinted, err = fixedpoint.Add(m.LPMinted, shares); err != nil {
		return DepositResult{}, fmt.Errorf("deposit: %w", err)
	}
	if err := CheckInvariants(next); err != nil {
		return DepositResult{}, fmt.Errorf("deposit: %w", err)
	}

	ev := newEvent(model.EventDeposit, m, next, holder, now)
	ev.Amount = amount
	ev.Shares = shares
	return DepositResult{Market: next, Shares: shares, Event: ev}, nil
}

// WithdrawResult is the outcome of Withdraw.
type WithdrawResult struct {
	Market     model.Market
	Redemption lpshares.Redemption
	Event      *model.Event
}

// Withdraw burns LP shares and releases liquidity. The payout is taken from
// the uncommitted reserve and premiums in proportion to their sizes.
// minAmountOut guards against receiving less than expected.
func (e *Engine) Withdraw(m model.Market, holder string, shares, minAmountOut uint64, now time.Time) (WithdrawResult, error) {
	r, err := lpshares.RedeemShares(shares, m)
	if err != nil {
		return WithdrawResult{}, fmt.Errorf("withdraw: %w", err)
	}
	if r.WithdrawAmount < minAmountOut {
		return WithdrawResult{}, fmt.Errorf("withdraw: %w: %d < minimum %d",
			model.ErrSlippageExceeded, r.WithdrawAmount, minAmountOut)
	}

	next := m
	if next.ReserveSupply, err = fixedpoint.Sub(m.ReserveSupply, r.ReserveShare); err != nil {
		return WithdrawResult{}, fmt.Errorf("withdraw: %w", err)
	}
	if next.Premiums, err = fixedpoint.Sub(m.Premiums, r.PremiumShare); err != nil {
		return WithdrawResult{}, fmt.Errorf("withdraw: %w", err)
	}
	if next.LPMinted, err = fixedpoint.Sub(m.LPMinted, r.SharesBurned); err != nil {
		return WithdrawResult{}, fmt.Errorf("withdraw: %w", err)
	}
	if err := CheckInvariants(next); err != nil {
		return WithdrawResult{}, fmt.Errorf("withdraw: %w", err)
	}

	ev := newEvent(model.EventWithdraw, m, next, holder, now)
	ev.Amount = r.WithdrawAmount
	ev.Shares = r.SharesBurned
	return WithdrawResult{Market: next, Redemption: r, Event: ev}, nil
}
