// Package risk implements pool-level exposure limits applied before an option
// is written.
//
// Two limits are enforced, both as fractions of ReserveSupply:
//   - utilization: total committed collateral after the trade
//   - holder concentration: one holder's open collateral in the market
//     after the trade
//
// A zero limit disables that check.
package risk

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"github.com/atmx/options-engine/internal/fixedpoint"
	"github.com/atmx/options-engine/internal/model"
)

var (
	// ErrUtilizationExceeded is returned when a trade would lock more of the
	// reserve than MaxUtilizationBps allows.
	ErrUtilizationExceeded = errors.New("risk: pool utilization limit exceeded")

	// ErrHolderExposureExceeded is returned when a trade would push one
	// holder's share of committed collateral beyond MaxHolderShareBps.
	ErrHolderExposureExceeded = errors.New("risk: holder exposure limit exceeded")
)

// Limiter decides whether a new collateral commitment is acceptable.
type Limiter interface {
	CheckLimit(m model.Market, holderCommitted, collateral uint64) error
}

// UtilizationLimiter enforces utilization and holder-concentration limits.
type UtilizationLimiter struct {
	// MaxUtilizationBps caps (CommittedReserve + collateral) / ReserveSupply.
	MaxUtilizationBps uint64

	// MaxHolderShareBps caps (holderCommitted + collateral) / ReserveSupply.
	MaxHolderShareBps uint64
}

// NewUtilizationLimiter creates a limiter. Limits above 100% are clamped.
func NewUtilizationLimiter(maxUtilizationBps, maxHolderShareBps uint64) *UtilizationLimiter {
	return &UtilizationLimiter{
		MaxUtilizationBps: min(maxUtilizationBps, model.BpsDenominator),
		MaxHolderShareBps: min(maxHolderShareBps, model.BpsDenominator),
	}
}

// CheckLimit validates a prospective commitment of collateral tokens by a
// holder who already has holderCommitted open in market m.
func (l *UtilizationLimiter) CheckLimit(m model.Market, holderCommitted, collateral uint64) error {
	if l.MaxUtilizationBps > 0 {
		ok, err := withinBps(m.CommittedReserve, collateral, m.ReserveSupply, l.MaxUtilizationBps)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: committed %d + %d of reserve %d over %d bps",
				ErrUtilizationExceeded, m.CommittedReserve, collateral, m.ReserveSupply, l.MaxUtilizationBps)
		}
	}

	if l.MaxHolderShareBps > 0 {
		ok, err := withinBps(holderCommitted, collateral, m.ReserveSupply, l.MaxHolderShareBps)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: holder %d + %d of reserve %d over %d bps",
				ErrHolderExposureExceeded, holderCommitted, collateral, m.ReserveSupply, l.MaxHolderShareBps)
		}
	}

	return nil
}

// withinBps reports whether (base + delta) * 10_000 <= reserve * limitBps.
func withinBps(base, delta, reserve, limitBps uint64) (bool, error) {
	if reserve == 0 {
		return false, nil
	}
	after := new(uint256.Int).Add(fixedpoint.Wide(base), fixedpoint.Wide(delta))
	lhs := new(uint256.Int).Mul(after, fixedpoint.Wide(model.BpsDenominator))
	rhs := new(uint256.Int).Mul(fixedpoint.Wide(reserve), fixedpoint.Wide(limitBps))
	return !rhs.Lt(lhs), nil
}
