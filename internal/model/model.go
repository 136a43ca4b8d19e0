// Package model defines the core domain types shared across the options engine.
// Token amounts and USD prices are fixed-point integers. Never float64 for money;
// shopspring/decimal is used only at the display boundary.
package model

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/options-engine/internal/fixedpoint"
)

// Fixed-point scales.
const (
	// PriceDecimals is the number of decimals in every USD price (spot,
	// strike, premium and collateral in USD).
	PriceDecimals = 8

	// Precision is 10^PriceDecimals.
	Precision uint64 = 100_000_000

	// BpsDenominator is 100% expressed in basis points.
	BpsDenominator uint64 = 10_000

	// SecondsPerYear is the annualization base (365 days).
	SecondsPerYear uint64 = 31_536_000
)

// Market status values.
const (
	StatusOpen   = "open"
	StatusClosed = "closed"
)

// Market is the pooled-liquidity aggregate of one options market.
//
// ReserveSupply counts LP deposits still in the pool, CommittedReserve is the
// part of it locked as collateral for open options, Premiums is the LP share
// of premiums collected. ProtocolFees is owed to the protocol and sits
// outside the pool value.
type Market struct {
	ID            string `json:"id" db:"id"`
	Index         uint16 `json:"index" db:"market_index"`
	Name          string `json:"name" db:"name"`
	AssetMint     string `json:"asset_mint" db:"asset_mint"`
	AssetDecimals uint8  `json:"asset_decimals" db:"asset_decimals"`
	PriceFeed     string `json:"price_feed" db:"price_feed"`
	Status        string `json:"status" db:"status"`
	FeeBps        uint64 `json:"fee_bps" db:"fee_bps"`

	ReserveSupply    uint64 `json:"reserve_supply" db:"reserve_supply"`
	CommittedReserve uint64 `json:"committed_reserve" db:"committed_reserve"`
	Premiums         uint64 `json:"premiums" db:"premiums"`
	LPMinted         uint64 `json:"lp_minted" db:"lp_minted"`
	ProtocolFees     uint64 `json:"protocol_fees" db:"protocol_fees"`

	Volatility   VolatilityBuckets `json:"volatility" db:"volatility"`
	VolUpdatedAt time.Time         `json:"vol_updated_at" db:"vol_updated_at"`
	CreatedAt    time.Time         `json:"created_at" db:"created_at"`

	// Version counts committed transitions. Stores reject a commit whose
	// Version differs from the stored one.
	Version uint64 `json:"version" db:"version"`
}

// Counters is a snapshot of the four pool counters.
type Counters struct {
	ReserveSupply    uint64 `json:"reserve_supply"`
	CommittedReserve uint64 `json:"committed_reserve"`
	Premiums         uint64 `json:"premiums"`
	LPMinted         uint64 `json:"lp_minted"`
}

// Counters returns the current counter snapshot.
func (m Market) Counters() Counters {
	return Counters{
		ReserveSupply:    m.ReserveSupply,
		CommittedReserve: m.CommittedReserve,
		Premiums:         m.Premiums,
		LPMinted:         m.LPMinted,
	}
}

// TVL is the total pool value: ReserveSupply + Premiums.
func (m Market) TVL() (uint64, error) {
	return fixedpoint.Add(m.ReserveSupply, m.Premiums)
}

// Available is the reserve not locked as collateral.
func (m Market) Available() (uint64, error) {
	return fixedpoint.Sub(m.ReserveSupply, m.CommittedReserve)
}

// IsOpen reports whether the market still accepts deposits and new options.
func (m Market) IsOpen() bool {
	return m.Status == StatusOpen
}

// TokenAmount renders a smallest-unit token amount in whole tokens.
func TokenAmount(units uint64, decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(units), -int32(decimals))
}

// USD renders a 1e8-scaled price in dollars.
func USD(price uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(price), -PriceDecimals)
}
