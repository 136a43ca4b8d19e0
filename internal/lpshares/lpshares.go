// Package lpshares converts between pooled liquidity and LP share claims.
//
// The exchange rate is the pool value (ReserveSupply + Premiums) per share
// outstanding. Minting rounds down, and partial burns round up, so rounding
// always favours the LPs who stay in the pool.
//
// Both functions are pure: they read a market snapshot and return amounts.
// Applying them to the counters is the caller's job.
package lpshares

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/atmx/options-engine/internal/fixedpoint"
	"github.com/atmx/options-engine/internal/model"
)

// ShareScale is the intermediate precision of the share/value ratio.
const ShareScale uint64 = 1_000_000_000

// Redemption is the result of burning shares.
type Redemption struct {
	// WithdrawAmount is what the LP receives, in tokens.
	WithdrawAmount uint64 `json:"withdraw_amount"`

	// SharesBurned may be below the requested shares when the withdrawal
	// was capped by committed collateral.
	SharesBurned uint64 `json:"shares_burned"`

	// RequestedAmount is the full value of the requested shares before the cap.
	RequestedAmount uint64 `json:"requested_amount"`

	// ReserveShare and PremiumShare split WithdrawAmount between the two
	// counters it is taken from.
	ReserveShare uint64 `json:"reserve_share"`
	PremiumShare uint64 `json:"premium_share"`
}

// IssueShares returns the LP shares minted for a deposit.
//
// The first deposit into an empty pool mints 1:1. After that,
//
//	shares = floor(amount * lpMinted * 1e9 / poolValue) / 1e9
func IssueShares(depositAmount, minSharesOut uint64, m model.Market) (uint64, error) {
	if depositAmount == 0 || minSharesOut == 0 {
		return 0, model.ErrInvalidAmount
	}

	var shares uint64
	if m.LPMinted == 0 {
		shares = depositAmount
	} else {
		pool, err := m.TVL()
		if err != nil {
			return 0, err
		}
		if pool == 0 {
			return 0, fmt.Errorf("%w: %d shares outstanding against an empty pool", model.ErrInvalidState, m.LPMinted)
		}

		scaled, err := fixedpoint.MulChain(
			fixedpoint.Wide(depositAmount),
			fixedpoint.Wide(m.LPMinted),
			fixedpoint.Wide(ShareScale),
		)
		if err != nil {
			return 0, err
		}
		scaled.Div(scaled, fixedpoint.Wide(pool))
		scaled.Div(scaled, fixedpoint.Wide(ShareScale))

		shares, err = fixedpoint.Narrow(scaled)
		if err != nil {
			return 0, err
		}
	}

	if shares < 1 {
		return 0, fmt.Errorf("%w: deposit %d mints no shares", model.ErrDustAmount, depositAmount)
	}
	if shares < minSharesOut {
		return 0, fmt.Errorf("%w: %d shares < minimum %d", model.ErrSlippageExceeded, shares, minSharesOut)
	}
	return shares, nil
}

// RedeemShares computes the payout for burning sharesToBurn.
//
// The requested value is the scaled ownership ratio applied to the pool
// value. The payout is capped at the uncommitted liquidity,
// (ReserveSupply - CommittedReserve) + Premiums. When the cap binds, only
// the shares covering the capped payout are burned, and at least one share
// always remains outstanding.
func RedeemShares(sharesToBurn uint64, m model.Market) (Redemption, error) {
	if sharesToBurn == 0 {
		return Redemption{}, model.ErrInvalidAmount
	}
	if sharesToBurn > m.LPMinted {
		return Redemption{}, fmt.Errorf("%w: burning %d of %d", model.ErrInsufficientShares, sharesToBurn, m.LPMinted)
	}

	pool, err := m.TVL()
	if err != nil {
		return Redemption{}, err
	}
	if pool == 0 {
		return Redemption{}, fmt.Errorf("%w: pool value is zero", model.ErrInvalidState)
	}

	uncommittedReserve, err := m.Available()
	if err != nil {
		return Redemption{}, fmt.Errorf("%w: committed reserve exceeds reserve supply", model.ErrInvalidState)
	}
	capAmount, err := fixedpoint.Add(uncommittedReserve, m.Premiums)
	if err != nil {
		return Redemption{}, err
	}

	ratio, err := fixedpoint.MulDiv(sharesToBurn, ShareScale, m.LPMinted)
	if err != nil {
		return Redemption{}, err
	}
	requested, err := fixedpoint.MulDiv(ratio, pool, ShareScale)
	if err != nil {
		return Redemption{}, err
	}

	withdraw := min(requested, capAmount)
	if withdraw < 1 {
		return Redemption{}, fmt.Errorf("%w: requested %d, uncommitted %d", model.ErrCannotWithdraw, requested, capAmount)
	}

	burned := sharesToBurn
	if withdraw < requested {
		burned, err = fixedpoint.MulDivCeil(withdraw, m.LPMinted, pool)
		if err != nil {
			return Redemption{}, err
		}
		burned = min(burned, sharesToBurn)
		// Value stays behind when the cap binds, so the last share is kept
		// outstanding to own it.
		if burned == m.LPMinted {
			burned--
		}
		if burned == 0 {
			return Redemption{}, fmt.Errorf("%w: the only outstanding share owns committed value", model.ErrCannotWithdraw)
		}
	}

	reserveShare, premiumShare, err := apportion(withdraw, uncommittedReserve, m.Premiums)
	if err != nil {
		return Redemption{}, err
	}

	return Redemption{
		WithdrawAmount:  withdraw,
		SharesBurned:    burned,
		RequestedAmount: requested,
		ReserveShare:    reserveShare,
		PremiumShare:    premiumShare,
	}, nil
}

// apportion splits amount between the uncommitted reserve and premiums in
// proportion to their sizes. reserve <= uncommitted and premium <= premiums
// hold whenever amount <= uncommitted + premiums.
func apportion(amount, uncommitted, premiums uint64) (reserve, premium uint64, err error) {
	total := new(uint256.Int).Add(fixedpoint.Wide(uncommitted), fixedpoint.Wide(premiums))
	if total.IsZero() {
		return 0, 0, model.ErrCannotWithdraw
	}
	r := new(uint256.Int).Mul(fixedpoint.Wide(amount), fixedpoint.Wide(uncommitted))
	r.Div(r, total)
	if reserve, err = fixedpoint.Narrow(r); err != nil {
		return 0, 0, err
	}
	premium = amount - reserve
	if premium > premiums {
		return 0, 0, fmt.Errorf("%w: premium share %d exceeds premiums %d", model.ErrInvalidState, premium, premiums)
	}
	return reserve, premium, nil
}
