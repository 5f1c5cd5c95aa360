package settings

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func TestRedisUnreachableReturnsError(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond, MaxRetries: -1})
	defer rdb.Close()
	s := NewRedis(rdb)

	if _, _, err := s.Get(context.Background(), ThemeModeKey); err == nil {
		t.Fatalf("expected a connection error")
	}
	if err := s.Set(context.Background(), ThemeModeKey, "dark"); err == nil {
		t.Fatalf("expected a connection error")
	}
}

// Runs against a real server when CORONA_TEST_REDIS_ADDR is set.
func TestRedisRoundTrip(t *testing.T) {
	addr := os.Getenv("CORONA_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CORONA_TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	s := NewRedis(rdb)
	ctx := context.Background()

	key := "test-" + uuid.NewString()
	defer rdb.Del(ctx, redisKeyPrefix+key)

	if _, ok, err := s.Get(ctx, key); err != nil || ok {
		t.Fatalf("expected missing key, ok=%v err=%v", ok, err)
	}
	if err := s.Set(ctx, key, "light"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if v, ok, err := s.Get(ctx, key); err != nil || !ok || v != "light" {
		t.Fatalf("Get = %q, %v, %v", v, ok, err)
	}
}
