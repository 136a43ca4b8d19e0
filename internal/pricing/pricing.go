// Package pricing implements the deterministic premium and collateral model
// for cash-settled options on a pooled-liquidity market.
//
// The model is a fixed-point approximation suited to an atomic state
// transition:
//   - Premium = intrinsic value + time value
//   - Time value ≈ spot * volatility * sqrt(time to expiry), discounted for
//     options that are deep out of the money
//   - Collateral = intrinsic * multiplier + volatility buffer (CALL), capped
//     by strike / multiplier for PUT, floored at a fixed share of spot
//
// There is no floating point anywhere in this package. Every product that can
// exceed 64 bits runs on a 256-bit intermediate and is narrowed with an
// explicit overflow check, so identical inputs give bit-identical outputs on
// every platform.
package pricing

import (
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"github.com/atmx/options-engine/internal/fixedpoint"
	"github.com/atmx/options-engine/internal/model"
)

// ErrInvalidParams is returned by NewEngine for out-of-range parameters.
var ErrInvalidParams = errors.New("pricing: invalid engine parameters")

// volScale converts volatility bps to the PRECISION-scaled annual figure the
// time-value term is expressed in.
const volScale uint64 = 10_000

// Params tunes the collateral and moneyness rules.
type Params struct {
	// CollateralMultiplier scales CALL intrinsic value and divides the PUT
	// strike cap. Must be at least 2.
	CollateralMultiplier uint64 `json:"collateral_multiplier"`

	// MinCollateralPct is the per-unit collateral floor as a percentage of spot.
	MinCollateralPct uint64 `json:"min_collateral_pct"`

	// OTMThresholdPct marks an option deep out of the money when spot falls
	// below this percentage of strike.
	OTMThresholdPct uint64 `json:"otm_threshold_pct"`
}

// DefaultParams returns the production defaults.
func DefaultParams() Params {
	return Params{
		CollateralMultiplier: 2,
		MinCollateralPct:     20,
		OTMThresholdPct:      80,
	}
}

// Validate checks the parameter ranges.
func (p Params) Validate() error {
	if p.CollateralMultiplier < 2 {
		return fmt.Errorf("%w: collateral multiplier %d < 2", ErrInvalidParams, p.CollateralMultiplier)
	}
	if p.MinCollateralPct == 0 || p.MinCollateralPct > 100 {
		return fmt.Errorf("%w: min collateral pct %d", ErrInvalidParams, p.MinCollateralPct)
	}
	if p.OTMThresholdPct == 0 || p.OTMThresholdPct > 100 {
		return fmt.Errorf("%w: otm threshold pct %d", ErrInvalidParams, p.OTMThresholdPct)
	}
	return nil
}

// Engine prices premiums and collateral. It is stateless; market data is
// passed as arguments, not stored.
type Engine struct {
	params Params
}

// NewEngine creates a pricing engine with validated parameters.
func NewEngine(p Params) (*Engine, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Engine{params: p}, nil
}

// Params returns the engine parameters.
func (e *Engine) Params() Params {
	return e.params
}

// QuoteInput is everything needed to price one order.
type QuoteInput struct {
	Type          model.OptionType
	Spot          uint64 // USD, 1e8
	Strike        uint64 // USD, 1e8
	TimeToExpiry  time.Duration
	VolBps        uint32
	Quantity      uint64
	AssetDecimals uint8
	FeeBps        uint64
}

// Quote is a priced order.
type Quote struct {
	PerUnitUSD      uint64 `json:"per_unit_usd"`
	PremiumUSD      uint64 `json:"premium_usd"`
	PremiumTokens   uint64 `json:"premium_tokens"`
	FeeTokens       uint64 `json:"fee_tokens"`
	LPPremiumTokens uint64 `json:"lp_premium_tokens"`
}

// Collateral is the reservation an order requires from the pool.
type Collateral struct {
	PerUnitUSD uint64 `json:"per_unit_usd"`
	USD        uint64 `json:"usd"`
	Tokens     uint64 `json:"tokens"`
}

func validateInputs(spot, strike uint64, volBps uint32, tte time.Duration) (uint64, error) {
	if spot == 0 {
		return 0, fmt.Errorf("%w: spot is zero", model.ErrInvalidPrice)
	}
	if strike == 0 {
		return 0, fmt.Errorf("%w: strike is zero", model.ErrInvalidStrike)
	}
	if volBps == 0 {
		return 0, fmt.Errorf("%w: volatility is zero", model.ErrInvalidVolatility)
	}
	secs := int64(tte / time.Second)
	if secs <= 0 {
		return 0, fmt.Errorf("%w: time to expiry %s", model.ErrInvalidExpiry, tte)
	}
	return uint64(secs), nil
}

// PricePremium returns the per-unit premium in USD (1e8):
//
//	intrinsic + spot * (vol*1e4) * isqrt(t) / (1e8 * 1e4)
//
// where t = seconds * 1e8 / YEAR. When spot is below OTMThresholdPct of
// strike the time value is scaled by spot/strike.
func (e *Engine) PricePremium(spot, strike uint64, tte time.Duration, volBps uint32, typ model.OptionType) (uint64, error) {
	secs, err := validateInputs(spot, strike, volBps, tte)
	if err != nil {
		return 0, err
	}
	if typ != model.Call && typ != model.Put {
		return 0, fmt.Errorf("%w: %q", model.ErrInvalidOptionType, typ)
	}

	intrinsic := typ.Intrinsic(spot, strike)

	// t in years, scaled by PRECISION.
	t := new(uint256.Int).Mul(fixedpoint.Wide(secs), fixedpoint.Wide(model.Precision))
	t.Div(t, fixedpoint.Wide(model.SecondsPerYear))

	vol := fixedpoint.Wide(uint64(volBps) * volScale)
	timeValue, err := fixedpoint.MulChain(fixedpoint.Wide(spot), vol, fixedpoint.Isqrt(t))
	if err != nil {
		return 0, err
	}
	timeValue.Div(timeValue, new(uint256.Int).Mul(fixedpoint.Wide(model.Precision), fixedpoint.Wide(volScale)))

	threshold := new(uint256.Int).Mul(fixedpoint.Wide(strike), fixedpoint.Wide(e.params.OTMThresholdPct))
	threshold.Div(threshold, fixedpoint.Wide(100))
	if fixedpoint.Wide(spot).Lt(threshold) {
		moneyness := new(uint256.Int).Mul(fixedpoint.Wide(spot), fixedpoint.Wide(model.Precision))
		moneyness.Div(moneyness, fixedpoint.Wide(strike))
		timeValue, err = fixedpoint.MulChain(timeValue, moneyness)
		if err != nil {
			return 0, err
		}
		timeValue.Div(timeValue, fixedpoint.Wide(model.Precision))
	}

	tv, err := fixedpoint.Narrow(timeValue)
	if err != nil {
		return 0, err
	}
	return fixedpoint.Add(intrinsic, tv)
}

// Quote prices Quantity units and converts the premium to asset tokens,
// splitting off the protocol fee.
func (e *Engine) Quote(in QuoteInput) (*Quote, error) {
	if in.Quantity == 0 {
		return nil, model.ErrInvalidQuantity
	}
	perUnit, err := e.PricePremium(in.Spot, in.Strike, in.TimeToExpiry, in.VolBps, in.Type)
	if err != nil {
		return nil, err
	}

	total, err := fixedpoint.Mul(perUnit, in.Quantity)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return nil, fmt.Errorf("%w: zero USD premium", model.ErrPremiumCalcError)
	}

	tokens, err := usdToTokens(total, in.Spot, in.AssetDecimals)
	if err != nil {
		return nil, err
	}
	if tokens == 0 {
		return nil, fmt.Errorf("%w: premium rounds to zero tokens", model.ErrPremiumCalcError)
	}

	fee, err := fixedpoint.MulDiv(tokens, in.FeeBps, model.BpsDenominator)
	if err != nil {
		return nil, err
	}
	lpShare, err := fixedpoint.Sub(tokens, fee)
	if err != nil {
		return nil, err
	}

	return &Quote{
		PerUnitUSD:      perUnit,
		PremiumUSD:      total,
		PremiumTokens:   tokens,
		FeeTokens:       fee,
		LPPremiumTokens: lpShare,
	}, nil
}

// RequiredCollateral computes the pool reservation for an order. Whether the
// pool can cover it is the caller's decision (see HasSufficientCollateral).
func (e *Engine) RequiredCollateral(in QuoteInput) (*Collateral, error) {
	if in.Quantity == 0 {
		return nil, model.ErrInvalidQuantity
	}
	secs, err := validateInputs(in.Spot, in.Strike, in.VolBps, in.TimeToExpiry)
	if err != nil {
		return nil, err
	}

	intrinsic := fixedpoint.Wide(in.Type.Intrinsic(in.Spot, in.Strike))

	timeBps := new(uint256.Int).Mul(fixedpoint.Wide(secs), fixedpoint.Wide(model.BpsDenominator))
	timeBps.Div(timeBps, fixedpoint.Wide(model.SecondsPerYear))
	sqrtTimeBps := fixedpoint.Isqrt(timeBps.Mul(timeBps, fixedpoint.Wide(1_000_000)))
	sqrtTimeBps.Div(sqrtTimeBps, fixedpoint.Wide(1_000))

	buffer, err := fixedpoint.MulChain(fixedpoint.Wide(in.Spot), fixedpoint.Wide(uint64(in.VolBps)), sqrtTimeBps)
	if err != nil {
		return nil, err
	}
	buffer.Div(buffer, fixedpoint.Wide(100_000))

	mult := fixedpoint.Wide(e.params.CollateralMultiplier)
	raw := new(uint256.Int)
	switch in.Type {
	case model.Call:
		raw.Mul(intrinsic, mult)
		raw.Add(raw, buffer)
	case model.Put:
		raw.Add(intrinsic, buffer)
		strikeCap := new(uint256.Int).Div(fixedpoint.Wide(in.Strike), mult)
		if strikeCap.Lt(raw) {
			raw = strikeCap
		}
	default:
		return nil, fmt.Errorf("%w: %q", model.ErrInvalidOptionType, in.Type)
	}

	floor := new(uint256.Int).Mul(fixedpoint.Wide(in.Spot), fixedpoint.Wide(e.params.MinCollateralPct))
	floor.Div(floor, fixedpoint.Wide(100))
	if raw.Lt(floor) {
		raw = floor
	}

	perUnit, err := fixedpoint.Narrow(raw)
	if err != nil {
		return nil, err
	}
	usd, err := fixedpoint.Mul(perUnit, in.Quantity)
	if err != nil {
		return nil, err
	}
	tokens, err := usdToTokens(usd, in.Spot, in.AssetDecimals)
	if err != nil {
		return nil, err
	}
	return &Collateral{PerUnitUSD: perUnit, USD: usd, Tokens: tokens}, nil
}

// HasSufficientCollateral reports whether the uncommitted reserve strictly
// exceeds the requested amount.
func HasSufficientCollateral(m model.Market, tokens uint64) bool {
	available, err := m.Available()
	if err != nil {
		return false
	}
	return available > tokens
}

// ProfitTokens values an exercise: intrinsic * quantity in USD, converted to
// asset tokens at spot.
func ProfitTokens(typ model.OptionType, spot, strike, quantity uint64, decimals uint8) (uint64, error) {
	if spot == 0 {
		return 0, fmt.Errorf("%w: spot is zero", model.ErrInvalidPrice)
	}
	profitUSD, err := fixedpoint.Mul(typ.Intrinsic(spot, strike), quantity)
	if err != nil {
		return 0, err
	}
	return usdToTokens(profitUSD, spot, decimals)
}

// usdToTokens converts usd (1e8) to smallest token units: usd * 10^dec / spot.
func usdToTokens(usd, spot uint64, decimals uint8) (uint64, error) {
	scale, err := fixedpoint.Pow10(decimals)
	if err != nil {
		return 0, err
	}
	return fixedpoint.MulDiv(usd, scale, spot)
}
