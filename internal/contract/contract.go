// Package contract handles option symbol parsing and validation, and the
// conversion of human-readable strikes to the engine's 1e8 USD units.
package contract

import (
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/atmx/options-engine/internal/model"
)

// symbolRegex matches: {ASSET}-{TENOR}-{C|P}-{STRIKE}
// Example: SOL-1D-C-150.25
var symbolRegex = regexp.MustCompile(
	`^([A-Z0-9]{2,10})-([0-9][HDW])-([CP])-([0-9]+(?:\.[0-9]+)?)$`,
)

var (
	ErrInvalidSymbol = errors.New("contract: invalid option symbol")
	ErrInvalidStrike = errors.New("contract: strike must be positive with at most 8 decimals")
)

var maxUint64 = new(big.Int).SetUint64(^uint64(0))

// Symbol is a parsed option symbol.
type Symbol struct {
	Raw    string           `json:"symbol"`
	Asset  string           `json:"asset"`
	Tenor  model.Tenor      `json:"tenor"`
	Type   model.OptionType `json:"type"`
	Strike decimal.Decimal  `json:"strike"`
}

// ParseSymbol parses and validates an option symbol.
// Format: {ASSET}-{TENOR}-{C|P}-{STRIKE}
func ParseSymbol(symbol string) (*Symbol, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	matches := symbolRegex.FindStringSubmatch(symbol)
	if matches == nil {
		return nil, fmt.Errorf("%w: %s (expected {ASSET}-{TENOR}-{C|P}-{STRIKE})",
			ErrInvalidSymbol, symbol)
	}

	tenor, err := model.ParseTenor(matches[2])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSymbol, err)
	}
	typ, err := model.ParseOptionType(matches[3])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSymbol, err)
	}
	strike, err := decimal.NewFromString(matches[4])
	if err != nil {
		return nil, fmt.Errorf("%w: strike %s", ErrInvalidSymbol, matches[4])
	}

	s := &Symbol{
		Raw:    symbol,
		Asset:  matches[1],
		Tenor:  tenor,
		Type:   typ,
		Strike: strike,
	}
	if _, err := s.StrikeUnits(); err != nil {
		return nil, err
	}
	return s, nil
}

// StrikeUnits converts the strike to USD scaled by 1e8.
func (s *Symbol) StrikeUnits() (uint64, error) {
	return PriceUnits(s.Strike)
}

// String renders the canonical symbol.
func (s *Symbol) String() string {
	side := "C"
	if s.Type == model.Put {
		side = "P"
	}
	return fmt.Sprintf("%s-%s-%s-%s", s.Asset, s.Tenor, side, s.Strike.String())
}

// PriceUnits converts a dollar amount to USD 1e8 units. It rejects values
// that are not positive, have more than 8 decimals, or overflow uint64.
func PriceUnits(price decimal.Decimal) (uint64, error) {
	if !price.IsPositive() {
		return 0, fmt.Errorf("%w: %s", ErrInvalidStrike, price)
	}
	scaled := price.Shift(model.PriceDecimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s", ErrInvalidStrike, price)
	}
	n := scaled.BigInt()
	if n.Cmp(maxUint64) > 0 {
		return 0, fmt.Errorf("%w: %s", model.ErrOverflow, price)
	}
	return n.Uint64(), nil
}
