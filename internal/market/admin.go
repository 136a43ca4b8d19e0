package market

import (
	"fmt"
	"strings"
	"time"

	"github.com/atmx/options-engine/internal/model"
)

// maxAssetDecimals keeps 10^decimals within uint64.
const maxAssetDecimals = 19

// NewMarketParams describes a market to create.
type NewMarketParams struct {
	ID            string
	Index         uint16
	Name          string
	AssetMint     string
	AssetDecimals uint8
	PriceFeed     string
	FeeBps        uint64
	Volatility    model.VolatilityBuckets
}

// NewMarket validates p and returns an empty open market.
func NewMarket(p NewMarketParams, now time.Time) (model.Market, error) {
	if strings.TrimSpace(p.ID) == "" || strings.TrimSpace(p.Name) == "" {
		return model.Market{}, fmt.Errorf("%w: market id and name are required", model.ErrInvalidState)
	}
	if strings.TrimSpace(p.PriceFeed) == "" {
		return model.Market{}, fmt.Errorf("%w: price feed is required", model.ErrInvalidPrice)
	}
	if p.AssetDecimals > maxAssetDecimals {
		return model.Market{}, fmt.Errorf("%w: %d asset decimals", model.ErrOverflow, p.AssetDecimals)
	}
	if p.FeeBps > model.BpsDenominator {
		return model.Market{}, fmt.Errorf("%w: fee %d bps above 100%%", model.ErrInvalidAmount, p.FeeBps)
	}
	if err := p.Volatility.Validate(); err != nil {
		return model.Market{}, err
	}
	now = now.UTC()
	return model.Market{
		ID:            p.ID,
		Index:         p.Index,
		Name:          p.Name,
		AssetMint:     p.AssetMint,
		AssetDecimals: p.AssetDecimals,
		PriceFeed:     p.PriceFeed,
		Status:        model.StatusOpen,
		FeeBps:        p.FeeBps,
		Volatility:    p.Volatility,
		VolUpdatedAt:  now,
		CreatedAt:     now,
	}, nil
}

// AdminResult is the outcome of an admin transition.
type AdminResult struct {
	Market model.Market
	Amount uint64
	Event  *model.Event
}

// UpdateVolatility replaces the volatility buckets. Every bucket must be
// positive.
func (e *Engine) UpdateVolatility(m model.Market, buckets model.VolatilityBuckets, now time.Time) (AdminResult, error) {
	if err := buckets.Validate(); err != nil {
		return AdminResult{}, fmt.Errorf("update volatility: %w", err)
	}
	next := m
	next.Volatility = buckets
	next.VolUpdatedAt = now.UTC()
	return AdminResult{Market: next, Event: newEvent(model.EventVolatilityUpdate, m, next, "", now)}, nil
}

// CollectFees zeroes the protocol fee balance and returns the amount owed.
func (e *Engine) CollectFees(m model.Market, now time.Time) (AdminResult, error) {
	if m.ProtocolFees == 0 {
		return AdminResult{}, fmt.Errorf("collect fees: %w: no fees owed", model.ErrInvalidAmount)
	}
	next := m
	next.ProtocolFees = 0

	ev := newEvent(model.EventFeeWithdrawal, m, next, "", now)
	ev.Amount = m.ProtocolFees
	ev.Fee = m.ProtocolFees
	return AdminResult{Market: next, Amount: m.ProtocolFees, Event: ev}, nil
}

// Close stops new deposits and purchases. It requires that no collateral is
// committed. LPs can still withdraw after close.
func (e *Engine) Close(m model.Market, now time.Time) (AdminResult, error) {
	if !m.IsOpen() {
		return AdminResult{}, fmt.Errorf("close: %w", model.ErrMarketClosed)
	}
	if m.CommittedReserve != 0 {
		return AdminResult{}, fmt.Errorf("close: %w: %d still committed", model.ErrInvalidState, m.CommittedReserve)
	}
	next := m
	next.Status = model.StatusClosed
	return AdminResult{Market: next, Event: newEvent(model.EventMarketClose, m, next, "", now)}, nil
}
