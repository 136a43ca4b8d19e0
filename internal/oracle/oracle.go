// Package oracle supplies spot prices to the service layer. Readings carry a
// mantissa and a base-10 exponent, the way on-chain price feeds publish them,
// and are normalized to the engine's 1e8 USD scale before use.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/atmx/options-engine/internal/fixedpoint"
	"github.com/atmx/options-engine/internal/model"
)

var (
	// ErrStalePrice is returned when a reading is older than the allowed age.
	ErrStalePrice = errors.New("oracle: price is stale")

	// ErrFeedNotFound is returned for a feed with no published reading.
	ErrFeedNotFound = errors.New("oracle: feed not found")
)

// PriceReading is one published price: Price * 10^Exponent USD.
type PriceReading struct {
	Price       int64     `json:"price"`
	Exponent    int32     `json:"exponent"`
	PublishTime time.Time `json:"publish_time"`
}

// Normalize rescales the reading to an unsigned price with the given number
// of decimals, truncating any extra precision.
func (r PriceReading) Normalize(decimals int32) (uint64, error) {
	if r.Price <= 0 {
		return 0, fmt.Errorf("%w: %d", model.ErrInvalidPrice, r.Price)
	}
	price := uint64(r.Price)
	shift := r.Exponent + decimals

	var err error
	switch {
	case shift > 0:
		if shift > 19 {
			return 0, model.ErrOverflow
		}
		scale, _ := fixedpoint.Pow10(uint8(shift))
		price, err = fixedpoint.Mul(price, scale)
	case shift < 0:
		if shift < -19 {
			return 0, fmt.Errorf("%w: exponent %d", model.ErrInvalidPrice, r.Exponent)
		}
		scale, _ := fixedpoint.Pow10(uint8(-shift))
		price /= scale
	}
	if err != nil {
		return 0, err
	}
	if price == 0 {
		return 0, fmt.Errorf("%w: rounds to zero", model.ErrInvalidPrice)
	}
	return price, nil
}

// CheckFresh fails when the reading was published more than maxAge before
// now. A zero maxAge disables the check.
func (r PriceReading) CheckFresh(now time.Time, maxAge time.Duration) error {
	if maxAge <= 0 {
		return nil
	}
	if age := now.Sub(r.PublishTime); age > maxAge {
		return fmt.Errorf("%w: published %s ago (max %s)", ErrStalePrice, age.Truncate(time.Second), maxAge)
	}
	return nil
}

// Feed returns the latest reading for a feed id.
type Feed interface {
	Latest(ctx context.Context, feedID string) (PriceReading, error)
}

// Publisher is a Feed that also accepts new readings.
type Publisher interface {
	Feed
	Publish(ctx context.Context, feedID string, r PriceReading) error
}

// Spot reads feedID, checks freshness and returns the price in USD 1e8.
func Spot(ctx context.Context, f Feed, feedID string, now time.Time, maxAge time.Duration) (uint64, error) {
	r, err := f.Latest(ctx, feedID)
	if err != nil {
		return 0, err
	}
	if err := r.CheckFresh(now, maxAge); err != nil {
		return 0, err
	}
	return r.Normalize(model.PriceDecimals)
}

// StaticFeed is an in-memory feed set through Publish. Used for development
// and tests.
type StaticFeed struct {
	mu       sync.RWMutex
	readings map[string]PriceReading
}

// NewStaticFeed creates an empty static feed.
func NewStaticFeed() *StaticFeed {
	return &StaticFeed{readings: make(map[string]PriceReading)}
}

func (f *StaticFeed) Latest(_ context.Context, feedID string) (PriceReading, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	r, ok := f.readings[feedID]
	if !ok {
		return PriceReading{}, fmt.Errorf("%w: %s", ErrFeedNotFound, feedID)
	}
	return r, nil
}

func (f *StaticFeed) Publish(_ context.Context, feedID string, r PriceReading) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.readings[feedID] = r
	return nil
}
