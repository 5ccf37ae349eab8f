package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/torvus-security/torvus-console/internal/domain"
)

const gateKeyPrefix = "torvus:gate:"

// GateCache holds recent access gate evaluations keyed by normalized email.
type GateCache interface {
	Get(ctx context.Context, email string) (domain.GateEvaluation, bool)
	Set(ctx context.Context, email string, eval domain.GateEvaluation)
	Invalidate(ctx context.Context, email string)
}

// MemoryGateCache keeps evaluations in process.
type MemoryGateCache struct {
	items *TTL[domain.GateEvaluation]
}

// NewMemoryGateCache builds an in-process gate cache.
func NewMemoryGateCache(ttl time.Duration) *MemoryGateCache {
	return &MemoryGateCache{items: NewTTL[domain.GateEvaluation](ttl)}
}

func (m *MemoryGateCache) Get(_ context.Context, email string) (domain.GateEvaluation, bool) {
	eval, ok := m.items.Get(email)
	if !ok {
		return domain.GateEvaluation{}, false
	}
	return eval.Clone(), true
}

func (m *MemoryGateCache) Set(_ context.Context, email string, eval domain.GateEvaluation) {
	m.items.Set(email, eval.Clone())
}

func (m *MemoryGateCache) Invalidate(_ context.Context, email string) {
	m.items.Delete(email)
}

// RedisGateCache shares evaluations between console instances. Redis
// failures degrade to cache misses.
type RedisGateCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisGateCache wraps an existing client.
func NewRedisGateCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisGateCache {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisGateCache{client: client, ttl: ttl, logger: logger}
}

func (r *RedisGateCache) Get(ctx context.Context, email string) (domain.GateEvaluation, bool) {
	raw, err := r.client.Get(ctx, gateKeyPrefix+email).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn("gate cache read failed", zap.Error(err))
		}
		return domain.GateEvaluation{}, false
	}
	var eval domain.GateEvaluation
	if err := json.Unmarshal(raw, &eval); err != nil {
		r.logger.Warn("gate cache entry corrupt", zap.Error(err))
		return domain.GateEvaluation{}, false
	}
	return eval, true
}

func (r *RedisGateCache) Set(ctx context.Context, email string, eval domain.GateEvaluation) {
	raw, err := json.Marshal(eval)
	if err != nil {
		return
	}
	if err := r.client.Set(ctx, gateKeyPrefix+email, raw, r.ttl).Err(); err != nil {
		r.logger.Warn("gate cache write failed", zap.Error(err))
	}
}

func (r *RedisGateCache) Invalidate(ctx context.Context, email string) {
	if err := r.client.Del(ctx, gateKeyPrefix+email).Err(); err != nil {
		r.logger.Warn("gate cache invalidate failed", zap.Error(err))
	}
}

// NewGateCache uses Redis when the client answers a ping and falls back to
// the in-process cache otherwise.
func NewGateCache(ctx context.Context, client *redis.Client, ttl time.Duration, logger *zap.Logger) GateCache {
	if client != nil {
		if err := client.Ping(ctx).Err(); err == nil {
			return NewRedisGateCache(client, ttl, logger)
		}
	}
	return NewMemoryGateCache(ttl)
}
