package lpshares

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/atmx/options-engine/internal/model"
)

func market(reserve, committed, premiums, lp uint64) model.Market {
	return model.Market{
		ReserveSupply:    reserve,
		CommittedReserve: committed,
		Premiums:         premiums,
		LPMinted:         lp,
		Status:           model.StatusOpen,
	}
}

// --- IssueShares ---

func TestIssueShares_Bootstrap(t *testing.T) {
	shares, err := IssueShares(1_000_000_000, 1, market(0, 0, 0, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if shares != 1_000_000_000 {
		t.Errorf("expected 1:1 bootstrap, got %d", shares)
	}
}

func TestIssueShares_AfterPremiumAccrual(t *testing.T) {
	// First LP owns 1e9 shares of a 1e9 reserve; 1e8 of premiums accrue.
	m := market(1_000_000_000, 0, 100_000_000, 1_000_000_000)
	shares, err := IssueShares(1_000_000_000, 1, m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if shares != 909_090_909 {
		t.Errorf("expected 909090909, got %d", shares)
	}
	if shares >= 1_000_000_000 {
		t.Error("later depositor must receive fewer shares once premiums accrued")
	}
}

func TestIssueShares_Errors(t *testing.T) {
	tests := []struct {
		name   string
		amount uint64
		minOut uint64
		m      model.Market
		want   error
	}{
		{"zero amount", 0, 1, market(0, 0, 0, 0), model.ErrInvalidAmount},
		{"zero min out", 10, 0, market(0, 0, 0, 0), model.ErrInvalidAmount},
		{"shares against empty pool", 10, 1, market(0, 0, 0, 5), model.ErrInvalidState},
		{"dust", 1, 1, market(1_000_000, 0, 0, 10), model.ErrDustAmount},
		{"slippage", 100, 101, market(0, 0, 0, 0), model.ErrSlippageExceeded},
		{"overflow", math.MaxUint64, 1, market(1, 0, 0, math.MaxUint64), model.ErrOverflow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := IssueShares(tt.amount, tt.minOut, tt.m)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestIssueShares_Proportional(t *testing.T) {
	// Equal deposits into an untouched pool mint equal shares.
	m := market(0, 0, 0, 0)
	for i := 0; i < 5; i++ {
		shares, err := IssueShares(500_000, 1, m)
		if err != nil {
			t.Fatalf("deposit %d: %v", i, err)
		}
		if shares != 500_000 {
			t.Errorf("deposit %d: expected 500000 shares, got %d", i, shares)
		}
		m.ReserveSupply += 500_000
		m.LPMinted += shares
	}

	// As premiums accrue, equal deposits mint monotonically fewer shares.
	prev := uint64(math.MaxUint64)
	for i := 0; i < 5; i++ {
		m.Premiums += 100_000
		shares, err := IssueShares(500_000, 1, m)
		if err != nil {
			t.Fatalf("deposit %d: %v", i, err)
		}
		if shares >= prev {
			t.Errorf("deposit %d minted %d, not below previous %d", i, shares, prev)
		}
		prev = shares
	}
}

// --- RedeemShares ---

func TestRedeemShares_RoundTrip(t *testing.T) {
	const x = 123_456_789
	shares, err := IssueShares(x, 1, market(0, 0, 0, 0))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	r, err := RedeemShares(shares, market(x, 0, 0, shares))
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if r.WithdrawAmount != x {
		t.Errorf("expected %d back, got %d", x, r.WithdrawAmount)
	}
	if r.SharesBurned != shares {
		t.Errorf("expected all %d shares burned, got %d", shares, r.SharesBurned)
	}
	if r.ReserveShare != x || r.PremiumShare != 0 {
		t.Errorf("untouched pool should pay from reserve only: %+v", r)
	}
}

func TestRedeemShares_CappedByCommitted(t *testing.T) {
	// Pool of 1000, 900 committed: only 100 is free.
	m := market(1_000, 900, 0, 1_000)
	r, err := RedeemShares(500, m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.RequestedAmount != 500 {
		t.Errorf("expected requested 500, got %d", r.RequestedAmount)
	}
	if r.WithdrawAmount != 100 {
		t.Errorf("expected withdraw capped at 100, got %d", r.WithdrawAmount)
	}
	if r.SharesBurned != 100 {
		t.Errorf("expected 100 shares burned, got %d", r.SharesBurned)
	}
}

func TestRedeemShares_PartialBurnRoundsUp(t *testing.T) {
	// Pool value 3000 over 1000 shares; 100 free. 100 * 1000 / 3000 = 33.3 → 34.
	m := market(3_000, 2_900, 0, 1_000)
	r, err := RedeemShares(1_000, m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.WithdrawAmount != 100 {
		t.Errorf("expected withdraw 100, got %d", r.WithdrawAmount)
	}
	if r.SharesBurned != 34 {
		t.Errorf("expected 34 shares burned, got %d", r.SharesBurned)
	}
}

func TestRedeemShares_CappedFullBurnKeepsLastShare(t *testing.T) {
	// One token stays committed; ceil(999 * 10 / 1000) would retire every share.
	m := market(1_000, 1, 0, 10)
	r, err := RedeemShares(10, m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.WithdrawAmount != 999 {
		t.Errorf("expected 999, got %d", r.WithdrawAmount)
	}
	if r.SharesBurned != 9 {
		t.Errorf("expected one share kept outstanding, burned %d", r.SharesBurned)
	}

	// With a single share outstanding nothing can be burned, so nothing is paid.
	single := market(1_000, 1, 0, 1)
	if _, err := RedeemShares(1, single); !errors.Is(err, model.ErrCannotWithdraw) {
		t.Errorf("expected ErrCannotWithdraw for the last share, got %v", err)
	}
}

func TestRedeemShares_PremiumsAreFreeLiquidity(t *testing.T) {
	// Reserve fully committed, premiums still withdrawable.
	m := market(1_000, 1_000, 200, 1_000)
	r, err := RedeemShares(1_000, m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.WithdrawAmount != 200 {
		t.Errorf("expected 200, got %d", r.WithdrawAmount)
	}
	if r.ReserveShare != 0 || r.PremiumShare != 200 {
		t.Errorf("expected all from premiums, got reserve=%d premium=%d", r.ReserveShare, r.PremiumShare)
	}
}

func TestRedeemShares_ProportionalApportionment(t *testing.T) {
	// Uncommitted reserve 600, premiums 400: a 700 withdrawal splits 420/280.
	m := market(1_000, 400, 400, 1_400)
	r, err := RedeemShares(700, m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.WithdrawAmount != 700 {
		t.Fatalf("expected 700, got %d", r.WithdrawAmount)
	}
	if r.ReserveShare != 420 || r.PremiumShare != 280 {
		t.Errorf("expected 420/280, got %d/%d", r.ReserveShare, r.PremiumShare)
	}
}

func TestRedeemShares_Errors(t *testing.T) {
	tests := []struct {
		name   string
		shares uint64
		m      model.Market
		want   error
	}{
		{"zero", 0, market(10, 0, 0, 10), model.ErrInvalidAmount},
		{"more than minted", 11, market(10, 0, 0, 10), model.ErrInsufficientShares},
		{"empty pool", 5, market(0, 0, 0, 10), model.ErrInvalidState},
		{"fully committed", 5, market(10, 10, 0, 10), model.ErrCannotWithdraw},
		{"committed above reserve", 5, market(10, 11, 0, 10), model.ErrInvalidState},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := RedeemShares(tt.shares, tt.m)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestRedeemShares_BoundednessProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 2_000; i++ {
		reserve := uint64(rng.Int63n(1_000_000_000_000)) + 1
		committed := uint64(rng.Int63n(int64(reserve) + 1))
		premiums := uint64(rng.Int63n(1_000_000_000))
		lp := uint64(rng.Int63n(1_000_000_000_000)) + 1
		shares := uint64(rng.Int63n(int64(lp))) + 1
		m := market(reserve, committed, premiums, lp)

		r, err := RedeemShares(shares, m)
		if err != nil {
			if errors.Is(err, model.ErrCannotWithdraw) {
				continue
			}
			t.Fatalf("case %d %+v shares=%d: %v", i, m, shares, err)
		}
		free := reserve - committed + premiums
		if r.WithdrawAmount > free {
			t.Fatalf("case %d: withdraw %d exceeds uncommitted %d", i, r.WithdrawAmount, free)
		}
		if r.SharesBurned > shares {
			t.Fatalf("case %d: burned %d > requested %d", i, r.SharesBurned, shares)
		}
		if r.ReserveShare > reserve-committed || r.PremiumShare > premiums {
			t.Fatalf("case %d: apportionment out of bounds %+v", i, r)
		}
		if r.ReserveShare+r.PremiumShare != r.WithdrawAmount {
			t.Fatalf("case %d: shares do not sum to withdrawal %+v", i, r)
		}
	}
}
