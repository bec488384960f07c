package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return New(client), mr
}

func TestGetMiss(t *testing.T) {
	c, _ := setupCache(t)

	val, found, err := c.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if found {
		t.Error("Expected a cache miss")
	}
	if val != "" {
		t.Errorf("Expected empty value, got %q", val)
	}
}

func TestSetAndGet(t *testing.T) {
	c, _ := setupCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "tickets:all", `[{"id": 1}]`, time.Minute); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	val, found, err := c.Get(ctx, "tickets:all")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !found {
		t.Fatal("Expected a cache hit")
	}
	if val != `[{"id": 1}]` {
		t.Errorf("Unexpected value: %q", val)
	}
}

func TestExpiry(t *testing.T) {
	c, mr := setupCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "tickets:all", "data", time.Minute); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	mr.FastForward(2 * time.Minute)

	_, found, err := c.Get(ctx, "tickets:all")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if found {
		t.Error("Expected key to be expired")
	}
}

func TestNilCacheIsPermanentMiss(t *testing.T) {
	var c *Cache
	ctx := context.Background()

	if err := c.Set(ctx, "key", "value", time.Minute); err != nil {
		t.Fatalf("Expected nil cache Set to be a no-op, got %v", err)
	}

	_, found, err := c.Get(ctx, "key")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if found {
		t.Error("Expected nil cache to always miss")
	}
}

func TestConnectFailure(t *testing.T) {
	if _, err := Connect("127.0.0.1:1"); err == nil {
		t.Error("Expected an error for an unreachable server")
	}
}
