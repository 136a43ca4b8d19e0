package pricing

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/atmx/options-engine/internal/model"
)

const (
	usd    = uint64(100_000_000) // $1 at 1e8
	day    = 24 * time.Hour
	volBps = uint32(5_000) // 50% annualized
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(DefaultParams())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

// --- Constructor tests ---

func TestNewEngine_InvalidParams(t *testing.T) {
	tests := []struct {
		name string
		p    Params
	}{
		{"multiplier below 2", Params{CollateralMultiplier: 1, MinCollateralPct: 20, OTMThresholdPct: 80}},
		{"zero floor", Params{CollateralMultiplier: 2, MinCollateralPct: 0, OTMThresholdPct: 80}},
		{"floor above 100", Params{CollateralMultiplier: 2, MinCollateralPct: 101, OTMThresholdPct: 80}},
		{"zero otm threshold", Params{CollateralMultiplier: 2, MinCollateralPct: 20, OTMThresholdPct: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewEngine(tt.p); !errors.Is(err, ErrInvalidParams) {
				t.Errorf("expected ErrInvalidParams, got %v", err)
			}
		})
	}
}

// --- Premium tests ---

func TestPricePremium_AtTheMoney(t *testing.T) {
	e := newEngine(t)
	// t = 86400*1e8/31536000 = 273972, isqrt = 523
	// timeValue = 150e8 * 5e7 * 523 / 1e12 = 392_250_000
	got, err := e.PricePremium(150*usd, 150*usd, day, volBps, model.Call)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 392_250_000 {
		t.Errorf("expected 392250000, got %d", got)
	}

	put, _ := e.PricePremium(150*usd, 150*usd, day, volBps, model.Put)
	if put != got {
		t.Errorf("ATM put and call should match: put=%d call=%d", put, got)
	}
}

func TestPricePremium_IntrinsicAdded(t *testing.T) {
	e := newEngine(t)
	got, err := e.PricePremium(150*usd, 100*usd, day, volBps, model.Call)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 50*usd+392_250_000 {
		t.Errorf("expected intrinsic + time value, got %d", got)
	}

	put, _ := e.PricePremium(130*usd, 150*usd, day, volBps, model.Put)
	// timeValue at spot 130: 130e8 * 5e7 * 523 / 1e12 = 339_950_000
	if put != 20*usd+339_950_000 {
		t.Errorf("expected put premium %d, got %d", 20*usd+339_950_000, put)
	}
}

func TestPricePremium_DeepOTMDiscount(t *testing.T) {
	e := newEngine(t)
	// spot 150 < 0.8 * 200 → time value scaled by 150/200.
	got, err := e.PricePremium(150*usd, 200*usd, day, volBps, model.Call)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 294_187_500 {
		t.Errorf("expected 294187500, got %d", got)
	}

	// spot 150 vs strike 180: 150 > 144, no discount.
	near, _ := e.PricePremium(150*usd, 180*usd, day, volBps, model.Call)
	if near != 392_250_000 {
		t.Errorf("expected undiscounted time value, got %d", near)
	}
}

func TestPricePremium_LongerTenorCostsMore(t *testing.T) {
	e := newEngine(t)
	prev := uint64(0)
	for _, tenor := range model.Tenors() {
		p, err := e.PricePremium(150*usd, 150*usd, tenor.Duration(), volBps, model.Call)
		if err != nil {
			t.Fatalf("%s: %v", tenor, err)
		}
		if p <= prev {
			t.Errorf("%s premium %d should exceed shorter tenor %d", tenor, p, prev)
		}
		prev = p
	}
}

func TestPricePremium_Deterministic(t *testing.T) {
	e := newEngine(t)
	first, _ := e.PricePremium(123_456_789_012, 120*usd, 3*day, 8_123, model.Put)
	for i := 0; i < 100; i++ {
		got, _ := e.PricePremium(123_456_789_012, 120*usd, 3*day, 8_123, model.Put)
		if got != first {
			t.Fatalf("iteration %d: got %d, want %d", i, got, first)
		}
	}
}

func TestPricePremium_InvalidInputs(t *testing.T) {
	e := newEngine(t)
	tests := []struct {
		name   string
		spot   uint64
		strike uint64
		tte    time.Duration
		vol    uint32
		typ    model.OptionType
		want   error
	}{
		{"zero spot", 0, usd, day, volBps, model.Call, model.ErrInvalidPrice},
		{"zero strike", usd, 0, day, volBps, model.Call, model.ErrInvalidStrike},
		{"zero vol", usd, usd, day, 0, model.Call, model.ErrInvalidVolatility},
		{"zero expiry", usd, usd, 0, volBps, model.Call, model.ErrInvalidExpiry},
		{"negative expiry", usd, usd, -time.Hour, volBps, model.Call, model.ErrInvalidExpiry},
		{"bad type", usd, usd, day, volBps, model.OptionType("STRADDLE"), model.ErrInvalidOptionType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.PricePremium(tt.spot, tt.strike, tt.tte, tt.vol, tt.typ)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestPricePremium_Overflow(t *testing.T) {
	e := newEngine(t)
	_, err := e.PricePremium(math.MaxUint64, 1, 7*day, math.MaxUint32, model.Call)
	if !errors.Is(err, model.ErrOverflow) {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
}

// --- Quote tests ---

func TestQuote_TokenConversionAndFee(t *testing.T) {
	e := newEngine(t)
	q, err := e.Quote(QuoteInput{
		Type:          model.Call,
		Spot:          150 * usd,
		Strike:        150 * usd,
		TimeToExpiry:  day,
		VolBps:        volBps,
		Quantity:      10,
		AssetDecimals: 9,
		FeeBps:        100,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.PremiumUSD != 3_922_500_000 {
		t.Errorf("expected premium USD 3922500000, got %d", q.PremiumUSD)
	}
	// 3_922_500_000 * 1e9 / 15e9
	if q.PremiumTokens != 261_500_000 {
		t.Errorf("expected 261500000 tokens, got %d", q.PremiumTokens)
	}
	if q.FeeTokens != 2_615_000 {
		t.Errorf("expected fee 2615000, got %d", q.FeeTokens)
	}
	if q.FeeTokens+q.LPPremiumTokens != q.PremiumTokens {
		t.Errorf("fee + lp share must equal premium: %d + %d != %d",
			q.FeeTokens, q.LPPremiumTokens, q.PremiumTokens)
	}
}

func TestQuote_ZeroQuantity(t *testing.T) {
	e := newEngine(t)
	_, err := e.Quote(QuoteInput{Type: model.Call, Spot: usd, Strike: usd, TimeToExpiry: day, VolBps: volBps})
	if !errors.Is(err, model.ErrInvalidQuantity) {
		t.Errorf("expected ErrInvalidQuantity, got %v", err)
	}
}

func TestQuote_PremiumRoundsToZeroTokens(t *testing.T) {
	e := newEngine(t)
	// $1 spot, 1 unit, zero decimals: premium in USD is well under one token.
	_, err := e.Quote(QuoteInput{
		Type: model.Call, Spot: usd, Strike: usd, TimeToExpiry: time.Hour,
		VolBps: 100, Quantity: 1, AssetDecimals: 0,
	})
	if !errors.Is(err, model.ErrPremiumCalcError) {
		t.Errorf("expected ErrPremiumCalcError, got %v", err)
	}
}

// --- Collateral tests ---

func TestRequiredCollateral(t *testing.T) {
	e := newEngine(t)
	// timeBps = 27, sqrtTimeBps = isqrt(27e6)/1e3 = 5
	// buffer(spot=150) = 150e8 * 5000 * 5 / 1e5 = 3_750_000_000
	tests := []struct {
		name    string
		typ     model.OptionType
		spot    uint64
		strike  uint64
		perUnit uint64
	}{
		{"ATM call is buffer", model.Call, 150 * usd, 150 * usd, 3_750_000_000},
		{"ATM put is buffer", model.Put, 150 * usd, 150 * usd, 3_750_000_000},
		{"ITM call doubles intrinsic", model.Call, 150 * usd, 100 * usd, 2*50*usd + 3_750_000_000},
		// buffer(spot=50) = 1_250_000_000; min(100e8 + 1.25e9, 150e8/2)
		{"deep ITM put capped by strike", model.Put, 50 * usd, 150 * usd, 75 * usd},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := e.RequiredCollateral(QuoteInput{
				Type: tt.typ, Spot: tt.spot, Strike: tt.strike, TimeToExpiry: day,
				VolBps: volBps, Quantity: 10, AssetDecimals: 9,
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if c.PerUnitUSD != tt.perUnit {
				t.Errorf("per unit: expected %d, got %d", tt.perUnit, c.PerUnitUSD)
			}
			if c.USD != tt.perUnit*10 {
				t.Errorf("usd: expected %d, got %d", tt.perUnit*10, c.USD)
			}
		})
	}
}

func TestRequiredCollateral_Floor(t *testing.T) {
	e := newEngine(t)
	// Low vol, short tenor: buffer is tiny so the 20% spot floor applies.
	c, err := e.RequiredCollateral(QuoteInput{
		Type: model.Call, Spot: 150 * usd, Strike: 200 * usd, TimeToExpiry: time.Hour,
		VolBps: 100, Quantity: 1, AssetDecimals: 9,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.PerUnitUSD != 30*usd {
		t.Errorf("expected floor 30 USD, got %d", c.PerUnitUSD)
	}
	// 30e8 * 1e9 / 150e8
	if c.Tokens != 200_000_000 {
		t.Errorf("expected 200000000 tokens, got %d", c.Tokens)
	}
}

func TestRequiredCollateral_Tokens(t *testing.T) {
	e := newEngine(t)
	c, err := e.RequiredCollateral(QuoteInput{
		Type: model.Call, Spot: 150 * usd, Strike: 150 * usd, TimeToExpiry: day,
		VolBps: volBps, Quantity: 10, AssetDecimals: 9,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Tokens != 2_500_000_000 {
		t.Errorf("expected 2500000000 tokens, got %d", c.Tokens)
	}
}

func TestRequiredCollateral_Overflow(t *testing.T) {
	e := newEngine(t)
	_, err := e.RequiredCollateral(QuoteInput{
		Type: model.Call, Spot: math.MaxUint64, Strike: 1, TimeToExpiry: day,
		VolBps: volBps, Quantity: math.MaxUint64, AssetDecimals: 9,
	})
	if !errors.Is(err, model.ErrOverflow) {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
}

func TestHasSufficientCollateral_Strict(t *testing.T) {
	m := model.Market{ReserveSupply: 1_000, CommittedReserve: 400}
	if !HasSufficientCollateral(m, 599) {
		t.Error("599 < 600 available should pass")
	}
	if HasSufficientCollateral(m, 600) {
		t.Error("exactly available must fail (strict)")
	}
	broken := model.Market{ReserveSupply: 1, CommittedReserve: 2}
	if HasSufficientCollateral(broken, 0) {
		t.Error("committed above reserve must never report sufficient")
	}
}

func TestProfitTokens(t *testing.T) {
	// CALL strike 100, spot 150, qty 1, 9 decimals: 50e8 * 1e9 / 150e8
	got, err := ProfitTokens(model.Call, 150*usd, 100*usd, 1, 9)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 333_333_333 {
		t.Errorf("expected 333333333, got %d", got)
	}
	otm, _ := ProfitTokens(model.Put, 150*usd, 100*usd, 1, 9)
	if otm != 0 {
		t.Errorf("OTM put should have zero profit, got %d", otm)
	}
}
