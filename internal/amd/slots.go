package amd

import (
	"context"
	"time"

	"callguard/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// CallSlots caps concurrent outbound calls per user. Acquired by the dial
// entry point, released by the coordinator when the provider reports a
// terminal status.
type CallSlots interface {
	Acquire(ctx context.Context, userID string) (bool, error)
	Release(ctx context.Context, userID string) error
}

// RedisCallSlots is the production implementation, backed by an atomic
// Lua counter with a TTL so crashed processes cannot leak slots forever.
type RedisCallSlots struct {
	rdb   *redis.Client
	limit int
	ttl   time.Duration
}

func NewRedisCallSlots(rdb *redis.Client, limit int) *RedisCallSlots {
	return &RedisCallSlots{
		rdb:   rdb,
		limit: limit,
		// Longest plausible call plus margin; the provider hard-caps
		// outbound calls well below this.
		ttl: 4 * time.Hour,
	}
}

func (s *RedisCallSlots) Acquire(ctx context.Context, userID string) (bool, error) {
	return utils.AcquireCallSlot(ctx, s.rdb, userID, s.limit, s.ttl)
}

func (s *RedisCallSlots) Release(ctx context.Context, userID string) error {
	return utils.ReleaseCallSlot(ctx, s.rdb, userID)
}

// NopCallSlots disables the cap (tests, local development without Redis).
type NopCallSlots struct{}

func (NopCallSlots) Acquire(context.Context, string) (bool, error) { return true, nil }
func (NopCallSlots) Release(context.Context, string) error         { return nil }
