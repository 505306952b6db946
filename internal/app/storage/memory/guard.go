package memory

import (
	"context"
	"sync"
	"time"

	"github.com/R3E-Network/settlement_layer/internal/app/storage"
)

// Guard is a process-local storage.InFlightGuard.
type Guard struct {
	mu   sync.Mutex
	now  func() time.Time
	held map[string]time.Time
}

var _ storage.InFlightGuard = (*Guard)(nil)

// NewGuard creates an empty guard.
func NewGuard() *Guard {
	return &Guard{now: time.Now, held: make(map[string]time.Time)}
}

// Acquire marks key as held until ttl elapses. It reports false if already held.
func (g *Guard) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if exp, ok := g.held[key]; ok && now.Before(exp) {
		return false, nil
	}
	g.held[key] = now.Add(ttl)
	return true, nil
}

// Release frees key.
func (g *Guard) Release(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.held, key)
	return nil
}
