package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"medisched/backend/internal/domain"
)

// SlotCache caches computed slot sequences per provider in Redis. Every
// provider has a version counter; bookings bump it, which orphans all cached
// entries for that provider without scanning for their keys. Entries carry a
// short TTL so orphans age out on their own.
type SlotCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewSlotCache(rdb *redis.Client, ttl time.Duration) *SlotCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &SlotCache{rdb: rdb, ttl: ttl}
}

func (c *SlotCache) Get(ctx context.Context, providerID uuid.UUID, from, to time.Time, duration time.Duration) ([]domain.CandidateSlot, error) {
	ver, err := c.version(ctx, providerID)
	if err != nil {
		return nil, err
	}
	raw, err := c.rdb.Get(ctx, slotKey(providerID, ver, from, to, duration)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("slot cache get: %w", err)
	}
	var slots []domain.CandidateSlot
	if err := json.Unmarshal(raw, &slots); err != nil {
		return nil, fmt.Errorf("slot cache decode: %w", err)
	}
	return slots, nil
}

func (c *SlotCache) Set(ctx context.Context, providerID uuid.UUID, from, to time.Time, duration time.Duration, slots []domain.CandidateSlot) error {
	ver, err := c.version(ctx, providerID)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(slots)
	if err != nil {
		return fmt.Errorf("slot cache encode: %w", err)
	}
	if err := c.rdb.Set(ctx, slotKey(providerID, ver, from, to, duration), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("slot cache set: %w", err)
	}
	return nil
}

func (c *SlotCache) Invalidate(ctx context.Context, providerID uuid.UUID) error {
	if err := c.rdb.Incr(ctx, versionKey(providerID)).Err(); err != nil {
		return fmt.Errorf("slot cache invalidate: %w", err)
	}
	return nil
}

func (c *SlotCache) version(ctx context.Context, providerID uuid.UUID) (int64, error) {
	ver, err := c.rdb.Get(ctx, versionKey(providerID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("slot cache version: %w", err)
	}
	return ver, nil
}

func versionKey(providerID uuid.UUID) string {
	return "slots:ver:" + providerID.String()
}

func slotKey(providerID uuid.UUID, ver int64, from, to time.Time, duration time.Duration) string {
	return fmt.Sprintf("slots:%s:%d:%d:%d:%d",
		providerID.String(), ver, from.Unix(), to.Unix(), int(duration/time.Minute))
}
