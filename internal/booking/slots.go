package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oohdoc/booking-platform/internal/gateway"
	"github.com/oohdoc/booking-platform/pkg/logging"
)

const slotCacheTTL = 5 * time.Minute

// slotFetcher is the slot-listing surface of the workflow gateway.
type slotFetcher interface {
	ClinicSlots(ctx context.Context, trCentreID int64, date string) ([]gateway.Slot, error)
}

// SlotCache serves per-clinic slot lists, filled lazily from the gateway
// and cached in Redis keyed by centre and date. Entries are never
// invalidated mid-session; the TTL bounds staleness across sessions.
type SlotCache struct {
	redis   *redis.Client
	fetcher slotFetcher
	logger  *logging.Logger
}

// NewSlotCache creates a slot cache. The redis client may be nil, in
// which case every lookup goes upstream.
func NewSlotCache(client *redis.Client, fetcher slotFetcher, logger *logging.Logger) *SlotCache {
	if fetcher == nil {
		panic("booking: slot cache requires a fetcher")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SlotCache{redis: client, fetcher: fetcher, logger: logger}
}

// Get returns the slot list for one treatment centre and date.
func (c *SlotCache) Get(ctx context.Context, trCentreID int64, date string) ([]gateway.Slot, error) {
	key := slotCacheKey(trCentreID, date)

	if c.redis != nil {
		data, err := c.redis.Get(ctx, key).Bytes()
		if err == nil {
			var slots []gateway.Slot
			if jsonErr := json.Unmarshal(data, &slots); jsonErr == nil {
				return slots, nil
			}
			c.logger.Warn("slot cache entry unreadable, refetching", "key", key)
		} else if err != redis.Nil {
			c.logger.Warn("slot cache read failed", "key", key, "error", err)
		}
	}

	slots, err := c.fetcher.ClinicSlots(ctx, trCentreID, date)
	if err != nil {
		return nil, err
	}

	if c.redis != nil {
		if data, err := json.Marshal(slots); err == nil {
			if err := c.redis.Set(ctx, key, data, slotCacheTTL).Err(); err != nil {
				c.logger.Warn("slot cache write failed", "key", key, "error", err)
			}
		}
	}
	return slots, nil
}

func slotCacheKey(trCentreID int64, date string) string {
	return fmt.Sprintf("slots:%d:%s", trCentreID, date)
}
