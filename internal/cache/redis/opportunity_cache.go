package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/levmarch/fundarb/internal/domain"
)

const opportunitiesKey = "opportunities:latest"

// OpportunityCache implements domain.OpportunityCache as a single JSON value
// with a TTL, so API pollers read the last completed scan instead of forcing
// a fresh aggregation cycle.
type OpportunityCache struct {
	rdb *redis.Client
}

// NewOpportunityCache creates an OpportunityCache backed by the given Client.
func NewOpportunityCache(c *Client) *OpportunityCache {
	return &OpportunityCache{rdb: c.Underlying()}
}

// SetLatest replaces the cached opportunity list.
func (oc *OpportunityCache) SetLatest(ctx context.Context, opps []domain.ArbitrageOpportunity, ttl time.Duration) error {
	payload, err := json.Marshal(opps)
	if err != nil {
		return fmt.Errorf("redis: marshal opportunities: %w", err)
	}
	if err := oc.rdb.Set(ctx, opportunitiesKey, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set opportunities: %w", err)
	}
	return nil
}

// GetLatest returns the cached list, or domain.ErrNotFound when the key is
// missing or expired.
func (oc *OpportunityCache) GetLatest(ctx context.Context) ([]domain.ArbitrageOpportunity, error) {
	payload, err := oc.rdb.Get(ctx, opportunitiesKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get opportunities: %w", err)
	}
	var opps []domain.ArbitrageOpportunity
	if err := json.Unmarshal(payload, &opps); err != nil {
		return nil, fmt.Errorf("redis: decode opportunities: %w", err)
	}
	return opps, nil
}
