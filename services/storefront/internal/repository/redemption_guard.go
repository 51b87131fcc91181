package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const redemptionKeyPrefix = "redemption:"

// RedemptionGuard records token consumption so each token redeems once.
type RedemptionGuard interface {
	// Consume atomically marks the token used. It reports false when the
	// token was already consumed.
	Consume(ctx context.Context, token string, until time.Time) (bool, error)
}

type redisRedemptionGuard struct {
	client *redis.Client
	tracer trace.Tracer
	now    func() time.Time
}

func NewRedisRedemptionGuard(client *redis.Client) RedemptionGuard {
	return &redisRedemptionGuard{
		client: client,
		tracer: otel.Tracer("storefront/redemption_guard"),
		now:    time.Now,
	}
}

func (g *redisRedemptionGuard) Consume(ctx context.Context, token string, until time.Time) (bool, error) {
	ctx, span := g.tracer.Start(ctx, "RedemptionGuard.Consume")
	defer span.End()

	ttl := until.Sub(g.now())
	if ttl < time.Second {
		ttl = time.Second
	}

	ok, err := g.client.SetNX(ctx, RedemptionKey(token), g.now().Unix(), ttl).Result()
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("failed to record redemption: %w", err)
	}

	return ok, nil
}

// RedemptionKey identifies a token by its digest so raw tokens never reach
// the store.
func RedemptionKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return redemptionKeyPrefix + hex.EncodeToString(sum[:])
}
