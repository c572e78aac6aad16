package appointment

import (
	"context"
	"sync"

	redisclient "github.com/hackgods/dental-consult-booking/internal/redis"
)

// MemoryGuard is the in-process attempt guard, for a single API instance or tests.
type MemoryGuard struct {
	mu       sync.Mutex
	inFlight map[string]struct{}
}

var _ redisclient.Guard = (*MemoryGuard)(nil)

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{inFlight: make(map[string]struct{})}
}

func (g *MemoryGuard) WithAttempt(ctx context.Context, attemptID string, fn func(ctx context.Context) error) error {
	g.mu.Lock()
	if _, busy := g.inFlight[attemptID]; busy {
		g.mu.Unlock()
		return redisclient.ErrAttemptInFlight
	}
	g.inFlight[attemptID] = struct{}{}
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.inFlight, attemptID)
		g.mu.Unlock()
	}()

	return fn(ctx)
}
