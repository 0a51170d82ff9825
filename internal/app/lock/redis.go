package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// releaseScript deletes the key only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker shared between processes. Locks expire after ttl so a
// crashed holder cannot wedge a key.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	retry  time.Duration
}

var _ Locker = (*Redis)(nil)

// NewRedis builds a Redis locker. Keys are namespaced with prefix.
func NewRedis(client redis.UniversalClient, prefix string, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Redis{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		retry:  50 * time.Millisecond,
	}
}

func (r *Redis) key(key string) string {
	if r.prefix == "" {
		return key
	}
	return r.prefix + ":" + key
}

// TryAcquire sets the key with NX and reports whether it was free.
func (r *Redis) TryAcquire(ctx context.Context, key string) (Release, bool, error) {
	token := uuid.NewString()
	full := r.key(key)
	ok, err := r.client.SetNX(ctx, full, token, r.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis lock %s: %w", full, err)
	}
	if !ok {
		return nil, false, nil
	}
	return func() error {
		n, err := releaseScript.Run(context.Background(), r.client, []string{full}, token).Int()
		if err != nil {
			return fmt.Errorf("redis unlock %s: %w", full, err)
		}
		if n == 0 {
			return ErrNotHeld
		}
		return nil
	}, true, nil
}

// Acquire polls TryAcquire until it succeeds or ctx is done.
func (r *Redis) Acquire(ctx context.Context, key string) (Release, error) {
	ticker := time.NewTicker(r.retry)
	defer ticker.Stop()
	for {
		rel, ok, err := r.TryAcquire(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			return rel, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
