package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisFeed reads JSON-encoded readings that a price relayer publishes
// under price:{feedID}.
type RedisFeed struct {
	rdb *redis.Client
}

// NewRedisFeed creates a feed backed by rdb.
func NewRedisFeed(rdb *redis.Client) *RedisFeed {
	return &RedisFeed{rdb: rdb}
}

func (f *RedisFeed) Latest(ctx context.Context, feedID string) (PriceReading, error) {
	data, err := f.rdb.Get(ctx, priceKey(feedID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return PriceReading{}, fmt.Errorf("%w: %s", ErrFeedNotFound, feedID)
	}
	if err != nil {
		return PriceReading{}, fmt.Errorf("oracle: read %s: %w", feedID, err)
	}

	var r PriceReading
	if err := json.Unmarshal(data, &r); err != nil {
		return PriceReading{}, fmt.Errorf("oracle: decode %s: %w", feedID, err)
	}
	return r, nil
}

// Publish stores a reading. Relayers use this; the service only reads.
func (f *RedisFeed) Publish(ctx context.Context, feedID string, r PriceReading) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return f.rdb.Set(ctx, priceKey(feedID), data, 0).Err()
}

func priceKey(feedID string) string { return fmt.Sprintf("price:%s", feedID) }
