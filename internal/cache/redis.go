package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Domenick1991/courtbooking/config"
	"github.com/Domenick1991/courtbooking/internal/domain"
	"github.com/redis/go-redis/v9"
)

const versionTTL = 48 * time.Hour

// RedisCache keeps the persisted slots of a day. Statuses are never cached; they depend on now.
type RedisCache struct {
	client   *redis.Client
	slotsTTL time.Duration
}

func NewRedisCache(cfg config.RedisConfig, slotsTTL time.Duration) *RedisCache {
	return &RedisCache{
		client: redis.NewClient(&redis.Options{
			Addr:        cfg.Addr,
			Password:    cfg.Password,
			DB:          cfg.DB,
			DialTimeout: 2 * time.Second,
		}),
		slotsTTL: slotsTTL,
	}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Version is the invalidation counter of a day. Slot lists are stored under it, so a
// list read from the store before an invalidation can never be served after it.
func (c *RedisCache) Version(ctx context.Context, f domain.SlotFilter) (int64, error) {
	v, err := c.client.Get(ctx, versionKey(f)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}
	return v, nil
}

// GetSlots reports a miss with ok=false. An empty cached day is a hit.
func (c *RedisCache) GetSlots(ctx context.Context, f domain.SlotFilter, version int64) ([]domain.TimeSlot, bool, error) {
	data, err := c.client.Get(ctx, slotsKey(f, version)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}

	slots, err := decodeSlots(data)
	if err != nil {
		return nil, false, err
	}
	return slots, true, nil
}

// SetSlots stores slots under the version observed before they were read.
func (c *RedisCache) SetSlots(ctx context.Context, f domain.SlotFilter, version int64, slots []domain.TimeSlot) error {
	payload, err := encodeSlots(slots)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, slotsKey(f, version), payload, c.slotsTTL).Err()
}

// InvalidateDay moves the day to a new version. The version key outlives any slot list.
func (c *RedisCache) InvalidateDay(ctx context.Context, f domain.SlotFilter) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, versionKey(f))
		pipe.Expire(ctx, versionKey(f), versionTTL)
		return nil
	})
	return err
}

func encodeSlots(slots []domain.TimeSlot) ([]byte, error) {
	if slots == nil {
		slots = []domain.TimeSlot{}
	}
	payload, err := json.Marshal(slots)
	if err != nil {
		return nil, fmt.Errorf("encode slots: %w", err)
	}
	return payload, nil
}

func decodeSlots(data []byte) ([]domain.TimeSlot, error) {
	var slots []domain.TimeSlot
	if err := json.Unmarshal(data, &slots); err != nil {
		return nil, fmt.Errorf("decode slots: %w", err)
	}
	return slots, nil
}

func slotsKey(f domain.SlotFilter, version int64) string {
	return fmt.Sprintf("cache:slots:%s:%s:%s:v%d", f.CourtID, f.GameID, f.Date, version)
}

func versionKey(f domain.SlotFilter) string {
	return fmt.Sprintf("cache:slots-version:%s:%s:%s", f.CourtID, f.GameID, f.Date)
}
