package market

import (
	"fmt"
	"time"

	"github.com/atmx/options-engine/internal/fixedpoint"
	"github.com/atmx/options-engine/internal/model"
	"github.com/atmx/options-engine/internal/positions"
	"github.com/atmx/options-engine/internal/pricing"
)

// BuyRequest describes an option purchase.
type BuyRequest struct {
	Holder   string
	Type     model.OptionType
	Strike   uint64 // USD, 1e8
	Tenor    model.Tenor
	Quantity uint64
	Spot     uint64 // USD, 1e8

	// MaxPremium bounds the premium in tokens. Zero means no bound.
	MaxPremium uint64
	Now        time.Time
}

// BuyResult is the outcome of Buy.
type BuyResult struct {
	Market     model.Market
	Slot       int
	Order      model.OptionOrder
	Quote      *pricing.Quote
	Collateral *pricing.Collateral
	Event      *model.Event
}

// QuoteInput builds the pricing input for an order on market m.
func (e *Engine) QuoteInput(m model.Market, typ model.OptionType, strike, spot, quantity uint64, tenor model.Tenor) (pricing.QuoteInput, error) {
	if !tenor.Valid() {
		return pricing.QuoteInput{}, fmt.Errorf("%w: tenor %d", model.ErrInvalidExpiry, tenor)
	}
	tte := tenor.Duration()
	if tte > e.params.MaxExpiry {
		return pricing.QuoteInput{}, fmt.Errorf("%w: %s beyond max expiry %s", model.ErrInvalidExpiry, tenor, e.params.MaxExpiry)
	}
	return pricing.QuoteInput{
		Type:          typ,
		Spot:          spot,
		Strike:        strike,
		TimeToExpiry:  tte,
		VolBps:        m.Volatility.For(tenor),
		Quantity:      quantity,
		AssetDecimals: m.AssetDecimals,
		FeeBps:        m.FeeBps,
	}, nil
}

// Buy prices an option, reserves its collateral, books the premium and
// writes the position into the holder's first free slot.
func (e *Engine) Buy(m model.Market, ledger *positions.Ledger, req BuyRequest) (BuyResult, error) {
	if !m.IsOpen() {
		return BuyResult{}, model.ErrMarketClosed
	}
	if ledger == nil || ledger.Holder != req.Holder {
		return BuyResult{}, fmt.Errorf("buy: %w: ledger does not belong to %q", model.ErrUnauthorized, req.Holder)
	}
	if req.Quantity == 0 {
		return BuyResult{}, fmt.Errorf("buy: %w", model.ErrInvalidQuantity)
	}

	slot, err := ledger.AllocateSlot()
	if err != nil {
		return BuyResult{}, fmt.Errorf("buy: %w", err)
	}

	in, err := e.QuoteInput(m, req.Type, req.Strike, req.Spot, req.Quantity, req.Tenor)
	if err != nil {
		return BuyResult{}, fmt.Errorf("buy: %w", err)
	}

	coll, err := e.pricer.RequiredCollateral(in)
	if err != nil {
		return BuyResult{}, fmt.Errorf("buy: collateral: %w", err)
	}
	if coll.Tokens == 0 {
		return BuyResult{}, fmt.Errorf("buy: %w: collateral rounds to zero tokens", model.ErrDustAmount)
	}
	if !pricing.HasSufficientCollateral(m, coll.Tokens) {
		available, _ := m.Available()
		return BuyResult{}, fmt.Errorf("buy: %w: need %d, available %d",
			model.ErrInsufficientCollateral, coll.Tokens, available)
	}
	if e.limiter != nil {
		if err := e.limiter.CheckLimit(m, ledger.CommittedInMarket(m.ID), coll.Tokens); err != nil {
			return BuyResult{}, fmt.Errorf("buy: %w", err)
		}
	}

	quote, err := e.pricer.Quote(in)
	if err != nil {
		return BuyResult{}, fmt.Errorf("buy: premium: %w", err)
	}
	if req.MaxPremium > 0 && quote.PremiumTokens > req.MaxPremium {
		return BuyResult{}, fmt.Errorf("buy: %w: premium %d > max %d",
			model.ErrSlippageExceeded, quote.PremiumTokens, req.MaxPremium)
	}

	next := m
	if next.Premiums, err = fixedpoint.Add(m.Premiums, quote.LPPremiumTokens); err != nil {
		return BuyResult{}, fmt.Errorf("buy: %w", err)
	}
	if next.ProtocolFees, err = fixedpoint.Add(m.ProtocolFees, quote.FeeTokens); err != nil {
		return BuyResult{}, fmt.Errorf("buy: %w", err)
	}
	if next.CommittedReserve, err = fixedpoint.Add(m.CommittedReserve, coll.Tokens); err != nil {
		return BuyResult{}, fmt.Errorf("buy: %w", err)
	}
	if err := CheckInvariants(next); err != nil {
		return BuyResult{}, fmt.Errorf("buy: %w", err)
	}

	order := model.OptionOrder{
		StrikePrice:                req.Strike,
		Expiry:                     req.Now.Add(in.TimeToExpiry).Unix(),
		Quantity:                   req.Quantity,
		PremiumPaid:                quote.PremiumTokens,
		MaxPotentialPayoutInTokens: coll.Tokens,
		MarketID:                   m.ID,
		OptionType:                 req.Type,
	}
	if err := ledger.WriteSlot(slot, order); err != nil {
		return BuyResult{}, fmt.Errorf("buy: %w", err)
	}
	order.IsUsed = true

	ev := newEvent(model.EventBuy, m, next, req.Holder, req.Now)
	ev.Slot = slot
	ev.Amount = quote.PremiumTokens
	ev.Fee = quote.FeeTokens
	return BuyResult{
		Market:     next,
		Slot:       slot,
		Order:      order,
		Quote:      quote,
		Collateral: coll,
		Event:      ev,
	}, nil
}

// ExerciseResult is the outcome of Exercise.
type ExerciseResult struct {
	Market       model.Market
	Order        model.OptionOrder
	ProfitTokens uint64
	Payout       uint64
	Event        *model.Event
}

// liveOrder returns the order at slot if it belongs to market m.
func liveOrder(m model.Market, ledger *positions.Ledger, slot int) (model.OptionOrder, error) {
	if ledger == nil {
		return model.OptionOrder{}, model.ErrPositionNotFound
	}
	order, err := ledger.Get(slot)
	if err != nil {
		return model.OptionOrder{}, err
	}
	if order.MarketID != m.ID {
		return model.OptionOrder{}, fmt.Errorf("%w: slot %d belongs to market %s", model.ErrPositionNotFound, slot, order.MarketID)
	}
	return order, nil
}

// Exercise settles a live position at spot. The payout is the intrinsic
// profit in tokens, capped at the collateral reserved for the position. It
// is taken from premiums first and then from the reserve. The full reserved
// collateral is released whatever the payout, and the slot is cleared.
func (e *Engine) Exercise(m model.Market, ledger *positions.Ledger, slot int, spot uint64, now time.Time) (ExerciseResult, error) {
	order, err := liveOrder(m, ledger, slot)
	if err != nil {
		return ExerciseResult{}, fmt.Errorf("exercise: %w", err)
	}
	deadline := order.ExpiryTime().Add(e.params.ExerciseTolerance)
	if now.After(deadline) {
		return ExerciseResult{}, fmt.Errorf("exercise: %w: deadline was %s", model.ErrExerciseIsOverdue, deadline.Format(time.RFC3339))
	}

	profit, err := pricing.ProfitTokens(order.OptionType, spot, order.StrikePrice, order.Quantity, m.AssetDecimals)
	if err != nil {
		return ExerciseResult{}, fmt.Errorf("exercise: %w", err)
	}
	payout := min(profit, order.MaxPotentialPayoutInTokens)

	next := m
	fromPremiums := min(payout, m.Premiums)
	next.Premiums = m.Premiums - fromPremiums
	if next.ReserveSupply, err = fixedpoint.Sub(m.ReserveSupply, payout-fromPremiums); err != nil {
		return ExerciseResult{}, fmt.Errorf("exercise: %w", err)
	}
	if next.CommittedReserve, err = fixedpoint.Sub(m.CommittedReserve, order.MaxPotentialPayoutInTokens); err != nil {
		return ExerciseResult{}, fmt.Errorf("exercise: %w", err)
	}
	if err := checkSolvency(next); err != nil {
		return ExerciseResult{}, fmt.Errorf("exercise: %w", err)
	}

	ledger.ClearSlot(slot)

	ev := newEvent(model.EventExercise, m, next, ledger.Holder, now)
	ev.Slot = slot
	ev.Amount = profit
	ev.Payout = payout
	return ExerciseResult{
		Market:       next,
		Order:        order,
		ProfitTokens: profit,
		Payout:       payout,
		Event:        ev,
	}, nil
}

// SettleResult is the outcome of SettleExpired.
type SettleResult struct {
	Market   model.Market
	Order    model.OptionOrder
	Released uint64
	Event    *model.Event
}

// SettleExpired releases the collateral of a position whose exercise window
// has closed. The pool keeps the premium and nothing is paid out.
func (e *Engine) SettleExpired(m model.Market, ledger *positions.Ledger, slot int, now time.Time) (SettleResult, error) {
	order, err := liveOrder(m, ledger, slot)
	if err != nil {
		return SettleResult{}, fmt.Errorf("settle: %w", err)
	}
	deadline := order.ExpiryTime().Add(e.params.ExerciseTolerance)
	if !now.After(deadline) {
		return SettleResult{}, fmt.Errorf("settle: %w: exercisable until %s", model.ErrNotExpired, deadline.Format(time.RFC3339))
	}

	next := m
	if next.CommittedReserve, err = fixedpoint.Sub(m.CommittedReserve, order.MaxPotentialPayoutInTokens); err != nil {
		return SettleResult{}, fmt.Errorf("settle: %w", err)
	}
	if err := checkSolvency(next); err != nil {
		return SettleResult{}, fmt.Errorf("settle: %w", err)
	}

	ledger.ClearSlot(slot)

	ev := newEvent(model.EventSettleExpired, m, next, ledger.Holder, now)
	ev.Slot = slot
	ev.Amount = order.MaxPotentialPayoutInTokens
	return SettleResult{
		Market:   next,
		Order:    order,
		Released: order.MaxPotentialPayoutInTokens,
		Event:    ev,
	}, nil
}
