package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// releaseScript deletes the key only while it still carries our token, so an
// expired hold never frees a lock someone else has since taken.
const releaseScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// redisClient is the minimal go-redis surface required by Redis.
// *redis.Client satisfies this interface.
type redisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

type RedisConfig struct {
	Prefix string
	// TTL caps how long a crashed holder can block the key.
	TTL time.Duration
	// Wait bounds Acquire; zero means until ctx is done.
	Wait time.Duration
	// RetryInterval is the polling period while the key is held.
	RetryInterval time.Duration
}

// Redis is a distributed Locker built on SET NX PX with a per-hold token.
type Redis struct {
	client redisClient
	cfg    RedisConfig

	newToken func() string
}

func NewRedis(client redisClient, cfg RedisConfig) (*Redis, error) {
	if client == nil {
		return nil, errors.New("lock: redis client must not be nil")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 2 * time.Minute
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 50 * time.Millisecond
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "goal-agent:lock:"
	}
	return &Redis{client: client, cfg: cfg, newToken: uuid.NewString}, nil
}

func (r *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	if r.cfg.Wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Wait)
		defer cancel()
	}

	fullKey := r.cfg.Prefix + key
	token := r.newToken()

	for {
		ok, err := r.client.SetNX(ctx, fullKey, token, r.cfg.TTL).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("%w: %q: %v", ErrBusy, key, ctxErr)
			}
			return nil, fmt.Errorf("lock: redis setnx %q: %w", fullKey, err)
		}
		if ok {
			return r.releaser(fullKey, token), nil
		}

		timer := time.NewTimer(r.cfg.RetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %q: %v", ErrBusy, key, ctx.Err())
		case <-timer.C:
		}
	}
}

// releaser runs the release script on a fresh context: the caller's context
// is often already cancelled by the time the deferred release fires. A failed
// release is left to the TTL.
func (r *Redis) releaser(fullKey, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = r.client.Eval(ctx, releaseScript, []string{fullKey}, token).Err()
		})
	}
}
