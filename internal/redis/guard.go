package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrAttemptInFlight = errors.New("booking attempt already has a commit in flight")
)

// Guard makes sure a booking attempt has at most one commit outstanding.
// It is keyed by attempt, never by slot: two attempts for the same slot still race
// and the store's uniqueness constraint decides between them.
type Guard interface {
	WithAttempt(ctx context.Context, attemptID string, fn func(ctx context.Context) error) error
}

type redisAttemptGuard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisAttemptGuard creates a guard that uses a per attempt Redis key
func NewRedisAttemptGuard(client *redis.Client, ttl time.Duration) Guard {
	return &redisAttemptGuard{
		client: client,
		ttl:    ttl,
	}
}

func (g *redisAttemptGuard) WithAttempt(ctx context.Context, attemptID string, fn func(ctx context.Context) error) error {
	key := fmt.Sprintf("inflight:attempt:%s", attemptID)
	token := uuid.NewString()

	ok, err := g.client.SetNX(ctx, key, token, g.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire attempt flag: %w", err)
	}
	if !ok {
		return ErrAttemptInFlight
	}

	defer func() {
		_ = g.release(context.WithoutCancel(ctx), key, token)
	}()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, g.ttl)
	defer cancel()

	return fn(ctxWithTimeout)
}

var releaseScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (g *redisAttemptGuard) release(ctx context.Context, key, token string) error {
	_, err := releaseScript.Run(ctx, g.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release attempt flag: %w", err)
	}
	return nil
}
