// Package redis provides a Redis-backed in-flight guard shared across
// settlement processes.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/R3E-Network/settlement_layer/internal/app/storage"
)

// DefaultPrefix namespaces guard keys.
const DefaultPrefix = "settlement:inflight:"

// Guard implements storage.InFlightGuard with SET NX and a TTL, so a crashed
// holder never blocks a transaction id forever.
type Guard struct {
	client goredis.UniversalClient
	prefix string
}

var _ storage.InFlightGuard = (*Guard)(nil)

// NewGuard wraps client. An empty prefix uses DefaultPrefix.
func NewGuard(client goredis.UniversalClient, prefix string) *Guard {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Guard{client: client, prefix: prefix}
}

// Dial connects to addr and verifies the connection.
func Dial(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

func (g *Guard) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := g.client.SetNX(ctx, g.prefix+key, time.Now().UTC().Format(time.RFC3339Nano), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", key, err)
	}
	return ok, nil
}

func (g *Guard) Release(ctx context.Context, key string) error {
	if err := g.client.Del(ctx, g.prefix+key).Err(); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}
