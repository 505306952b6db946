package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestGuardIntegration(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set; skipping redis integration test")
	}

	ctx := context.Background()
	client, err := Dial(ctx, addr, "", 0)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	g := NewGuard(client, "test:inflight:")
	key := uuid.NewString()

	ok, err := g.Acquire(ctx, key, time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire = %v, %v", ok, err)
	}
	ok, err = g.Acquire(ctx, key, time.Minute)
	if err != nil || ok {
		t.Fatalf("second acquire = %v, %v; want false", ok, err)
	}
	if err := g.Release(ctx, key); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := g.Acquire(ctx, key, time.Second); !ok {
		t.Fatal("acquire after release should succeed")
	}
	g.Release(ctx, key)
}

func TestNewGuardDefaultsPrefix(t *testing.T) {
	g := NewGuard(nil, "")
	if g.prefix != DefaultPrefix {
		t.Fatalf("prefix = %q", g.prefix)
	}
}
