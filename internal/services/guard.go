package services

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DuplicateGuard suppresses double payment initiation for the same order
// within a short window, so a rapid double-submit of the checkout form
// cannot charge the customer twice.
type DuplicateGuard interface {
	// ClaimPayment atomically claims the order for payment initiation.
	// It returns false when another initiation already holds the claim.
	ClaimPayment(ctx context.Context, orderID string) (bool, error)
	// Release drops the claim early, after an initiation that never
	// reached the provider, so the customer can retry immediately.
	Release(ctx context.Context, orderID string) error
}

// RedisGuard implements DuplicateGuard with SET NX and a windowed expiry,
// which atomically checks and sets in one round trip.
type RedisGuard struct {
	client *redis.Client
	window time.Duration
}

func NewRedisGuard(client *redis.Client, window time.Duration) *RedisGuard {
	return &RedisGuard{client: client, window: window}
}

func (g *RedisGuard) key(orderID string) string {
	return fmt.Sprintf("ecocash:payinit:%s", orderID)
}

func (g *RedisGuard) ClaimPayment(ctx context.Context, orderID string) (bool, error) {
	set, err := g.client.SetNX(ctx, g.key(orderID), "1", g.window).Result()
	if err != nil {
		return false, fmt.Errorf("redis SETNX error: %w", err)
	}
	return set, nil
}

func (g *RedisGuard) Release(ctx context.Context, orderID string) error {
	return g.client.Del(ctx, g.key(orderID)).Err()
}
