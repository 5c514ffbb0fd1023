package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// releaseScript deletes the key only when it still holds our token, so an
// expired lock re-acquired by another instance is never released by us.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisLocker coordinates per-account locks across API and worker instances.
type RedisLocker struct {
	client    redis.UniversalClient
	ttl       time.Duration
	retry     time.Duration
	keyPrefix string
	logger    zerolog.Logger
}

// RedisOptions configures a RedisLocker. Zero values take defaults.
type RedisOptions struct {
	TTL       time.Duration
	Retry     time.Duration
	KeyPrefix string
	Logger    zerolog.Logger
}

// NewRedisLocker returns a locker shared by every instance using client.
func NewRedisLocker(client redis.UniversalClient, opts RedisOptions) *RedisLocker {
	if opts.TTL <= 0 {
		opts.TTL = 10 * time.Second
	}
	if opts.Retry <= 0 {
		opts.Retry = 25 * time.Millisecond
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "adstudio:lock:"
	}
	return &RedisLocker{
		client:    client,
		ttl:       opts.TTL,
		retry:     opts.Retry,
		keyPrefix: opts.KeyPrefix,
		logger:    opts.Logger,
	}
}

func (r *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	fullKey := r.keyPrefix + key
	token := uuid.NewString()

	for {
		ok, err := r.client.SetNX(ctx, fullKey, token, r.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrNotAcquired, key, ctx.Err())
			}
			return nil, fmt.Errorf("redis setnx %s: %w", key, err)
		}
		if ok {
			break
		}
		timer := time.NewTimer(r.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %s: %v", ErrNotAcquired, key, ctx.Err())
		case <-timer.C:
		}
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		// The caller's context may already be cancelled; the key must still go.
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(relCtx, r.client, []string{fullKey}, token).Err(); err != nil {
			r.logger.Warn().Err(err).Str("key", key).Msg("redis lock release failed")
		}
	}, nil
}
