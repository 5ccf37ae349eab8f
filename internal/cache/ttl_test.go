package cache

import (
	"sync"
	"testing"
	"time"
)

func TestTTLExpiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c := NewTTL[string](5 * time.Second).WithClock(func() time.Time { return now })

	c.Set("k", "v")
	if got, ok := c.Get("k"); !ok || got != "v" {
		t.Fatalf("expected fresh hit, got %q %v", got, ok)
	}

	now = now.Add(5 * time.Second)
	if _, ok := c.Get("k"); ok {
		t.Fatal("entry should expire exactly at ttl")
	}
	v, present, fresh := c.GetStale("k")
	if !present || fresh || v != "v" {
		t.Fatalf("expected stale entry, got %q present=%v fresh=%v", v, present, fresh)
	}

	if removed := c.Purge(); removed != 1 {
		t.Fatalf("expected 1 purged, got %d", removed)
	}
	if c.Len() != 0 {
		t.Fatalf("expected empty cache, got %d", c.Len())
	}
}

func TestTTLDefaultLifetime(t *testing.T) {
	c := NewTTL[int](0)
	if c.ttl != 5*time.Second {
		t.Fatalf("expected 5s default, got %v", c.ttl)
	}
}

func TestTTLConcurrentAccess(t *testing.T) {
	c := NewTTL[int](time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Set("shared", i)
			c.Get("shared")
			c.Delete("other")
		}(i)
	}
	wg.Wait()
	if _, ok := c.Get("shared"); !ok {
		t.Fatal("expected shared key to be present")
	}
}
