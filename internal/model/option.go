package model

import (
	"fmt"
	"strings"
	"time"
)

// OptionType is the side of an option contract.
type OptionType string

const (
	Call OptionType = "CALL"
	Put  OptionType = "PUT"
)

// ParseOptionType accepts CALL/PUT and the single-letter forms C/P.
func ParseOptionType(s string) (OptionType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CALL", "C":
		return Call, nil
	case "PUT", "P":
		return Put, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidOptionType, s)
}

// Intrinsic returns the in-the-money amount per unit for this option type.
func (t OptionType) Intrinsic(spot, strike uint64) uint64 {
	switch t {
	case Call:
		if spot > strike {
			return spot - strike
		}
	case Put:
		if strike > spot {
			return strike - spot
		}
	}
	return 0
}

// Tenor is one of the five supported option lifetimes. Its value is the
// index into VolatilityBuckets.
type Tenor uint8

const (
	Tenor1H Tenor = iota
	Tenor4H
	Tenor1D
	Tenor3D
	Tenor1W

	NumTenors = 5
)

var tenorSeconds = [NumTenors]int64{3_600, 14_400, 86_400, 259_200, 604_800}

var tenorLabels = [NumTenors]string{"1H", "4H", "1D", "3D", "1W"}

// Tenors lists all tenors in ascending order.
func Tenors() []Tenor {
	return []Tenor{Tenor1H, Tenor4H, Tenor1D, Tenor3D, Tenor1W}
}

// ParseTenor maps a label such as "1d" to its Tenor.
func ParseTenor(s string) (Tenor, error) {
	label := strings.ToUpper(strings.TrimSpace(s))
	for i, l := range tenorLabels {
		if l == label {
			return Tenor(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown tenor %q", ErrInvalidExpiry, s)
}

func (t Tenor) Valid() bool { return t < NumTenors }

// Seconds returns the tenor length in seconds, or 0 for an invalid tenor.
func (t Tenor) Seconds() int64 {
	if !t.Valid() {
		return 0
	}
	return tenorSeconds[t]
}

func (t Tenor) Duration() time.Duration {
	return time.Duration(t.Seconds()) * time.Second
}

func (t Tenor) String() string {
	if !t.Valid() {
		return fmt.Sprintf("Tenor(%d)", uint8(t))
	}
	return tenorLabels[t]
}

// VolatilityBuckets holds annualized volatility in basis points per tenor.
type VolatilityBuckets [NumTenors]uint32

// For returns the volatility for a tenor, or 0 when the tenor is invalid.
func (v VolatilityBuckets) For(t Tenor) uint32 {
	if !t.Valid() {
		return 0
	}
	return v[t]
}

// Validate requires every bucket to be positive.
func (v VolatilityBuckets) Validate() error {
	for i, bps := range v {
		if bps == 0 {
			return fmt.Errorf("%w: %s bucket is zero", ErrInvalidVolatility, Tenor(i))
		}
	}
	return nil
}

// OptionOrder is one slot of a holder's position ledger. The zero value is
// an empty slot.
type OptionOrder struct {
	StrikePrice                uint64     `json:"strike_price"`
	Expiry                     int64      `json:"expiry"`
	Quantity                   uint64     `json:"quantity"`
	PremiumPaid                uint64     `json:"premium_paid"`
	MaxPotentialPayoutInTokens uint64     `json:"max_potential_payout_in_tokens"`
	MarketID                   string     `json:"market_id"`
	OptionType                 OptionType `json:"option_type"`
	IsUsed                     bool       `json:"is_used"`
}

// ExpiryTime returns Expiry as a time.Time.
func (o OptionOrder) ExpiryTime() time.Time {
	return time.Unix(o.Expiry, 0).UTC()
}
