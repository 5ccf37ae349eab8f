package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/torvus-security/torvus-console/internal/domain"
)

func sampleEvaluation() domain.GateEvaluation {
	return domain.GateEvaluation{
		Email:   "alice@example.com",
		UserID:  "u-1",
		Allowed: true,
		Reasons: []string{},
		Flags:   domain.AccessFlags{Enrolled: true, Verified: true, Status: "active", PasskeyEnrolled: true},
		Roles:   []string{"security_admin"},
		RoleIDs: []string{"m-1"},
	}
}

func TestMemoryGateCacheSnapshots(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryGateCache(time.Minute)
	eval := sampleEvaluation()
	c.Set(ctx, eval.Email, eval)

	eval.Roles[0] = "mutated"
	got, ok := c.Get(ctx, "alice@example.com")
	if !ok {
		t.Fatal("expected hit")
	}
	if got.Roles[0] != "security_admin" {
		t.Fatalf("cached snapshot was mutated: %v", got.Roles)
	}

	got.Roles[0] = "mutated-again"
	again, _ := c.Get(ctx, "alice@example.com")
	if again.Roles[0] != "security_admin" {
		t.Fatalf("returned value aliases cache entry: %v", again.Roles)
	}

	c.Invalidate(ctx, "alice@example.com")
	if _, ok := c.Get(ctx, "alice@example.com"); ok {
		t.Fatal("expected miss after invalidate")
	}
}

func TestRedisGateCacheRoundTrip(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	c := NewGateCache(ctx, client, 3*time.Second, nil)
	if _, ok := c.(*RedisGateCache); !ok {
		t.Fatalf("expected RedisGateCache, got %T", c)
	}

	c.Set(ctx, "alice@example.com", sampleEvaluation())
	got, ok := c.Get(ctx, "alice@example.com")
	if !ok || !got.Allowed || got.Roles[0] != "security_admin" {
		t.Fatalf("unexpected cached value %+v ok=%v", got, ok)
	}
	if ttl := mr.TTL(gateKeyPrefix + "alice@example.com"); ttl != 3*time.Second {
		t.Fatalf("expected 3s ttl, got %v", ttl)
	}

	mr.FastForward(4 * time.Second)
	if _, ok := c.Get(ctx, "alice@example.com"); ok {
		t.Fatal("expected expiry after ttl")
	}

	c.Set(ctx, "alice@example.com", sampleEvaluation())
	c.Invalidate(ctx, "alice@example.com")
	if _, ok := c.Get(ctx, "alice@example.com"); ok {
		t.Fatal("expected miss after invalidate")
	}
}

func TestRedisGateCacheCorruptEntryIsMiss(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	if err := mr.Set(gateKeyPrefix+"bob@example.com", "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	c := NewRedisGateCache(client, time.Second, nil)
	if _, ok := c.Get(context.Background(), "bob@example.com"); ok {
		t.Fatal("corrupt entry should be a miss")
	}
}

func TestNewGateCacheFallsBackToMemory(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, ok := NewGateCache(ctx, nil, time.Second, nil).(*MemoryGateCache); !ok {
		t.Fatal("expected memory cache for nil client")
	}

	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 5 * time.Millisecond,
		ReadTimeout: 5 * time.Millisecond,
	})
	defer client.Close()
	if _, ok := NewGateCache(ctx, client, time.Second, nil).(*MemoryGateCache); !ok {
		t.Fatal("expected memory cache when redis is unreachable")
	}
}
