package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLeaser shares leases between processes through Redis. Expiry is
// enforced by the key TTL.
type RedisLeaser struct {
	client *redis.Client
	prefix string
	poll   time.Duration
}

// NewRedisLeaser creates a leaser storing keys under prefix.
func NewRedisLeaser(client *redis.Client, prefix string) *RedisLeaser {
	if prefix == "" {
		prefix = "switchboard:lease:"
	}
	return &RedisLeaser{client: client, prefix: prefix, poll: 50 * time.Millisecond}
}

// Acquire implements Leaser.
func (r *RedisLeaser) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	token := uuid.NewString()
	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(ctx, r.prefix+key, token, ttl).Result()
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("acquiring lease %q: %w", key, err)
		}
		if ok {
			return &Lease{Key: key, Token: token, ExpiresAt: time.Now().Add(ttl)}, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w %q: %v", ErrAcquireTimeout, key, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Release implements Leaser.
func (r *RedisLeaser) Release(ctx context.Context, l *Lease) error {
	n, err := releaseScript.Run(ctx, r.client, []string{r.prefix + l.Key}, l.Token).Int()
	if err != nil {
		return fmt.Errorf("releasing lease %q: %w", l.Key, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

var (
	_ Leaser = (*MemoryLeaser)(nil)
	_ Leaser = (*RedisLeaser)(nil)
)
