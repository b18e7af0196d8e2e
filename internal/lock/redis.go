package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"qms/window-queue/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultLockTTL   = 10 * time.Second
	defaultLockRetry = 25 * time.Millisecond
	releaseTimeout   = 2 * time.Second
)

// releaseScript deletes the key only while it still carries our token, so
// an expired hold never removes a lock taken over by another replica.
var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

var extendScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('PEXPIRE', KEYS[1], ARGV[2])
	end
	return 0
`)

// Redis serializes a key across service replicas with SET NX PX.
type Redis struct {
	cli    *redis.Client
	l      logger.Logger
	prefix string
	ttl    time.Duration
	retry  time.Duration
}

type RedisOptions struct {
	Prefix string
	TTL    time.Duration
	Retry  time.Duration
}

func NewRedis(cli *redis.Client, l logger.Logger, options RedisOptions) *Redis {
	if options.Prefix == "" {
		options.Prefix = "queue:lock:"
	}
	if options.TTL <= 0 {
		options.TTL = defaultLockTTL
	}
	if options.Retry <= 0 {
		options.Retry = defaultLockRetry
	}
	return &Redis{
		cli:    cli,
		l:      l,
		prefix: options.Prefix,
		ttl:    options.TTL,
		retry:  options.Retry,
	}
}

func (r *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	lockKey := r.prefix + key
	token := uuid.NewString()
	for {
		ok, err := r.cli.SetNX(ctx, lockKey, token, r.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrTimeout, key, ctx.Err())
			}
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		timer := time.NewTimer(r.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %s: %w", ErrTimeout, key, ctx.Err())
		case <-timer.C:
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go r.keepAlive(lockKey, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			releaseCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, r.cli, []string{lockKey}, token).Err(); err != nil {
				r.l.Warn("release lock failed", "key", lockKey, "error", err)
			}
		})
	}, nil
}

// keepAlive pushes the expiry forward every third of the TTL until stop is
// closed, so a slow holder does not lose the key.
func (r *Redis) keepAlive(lockKey, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			held, err := extendScript.Run(ctx, r.cli, []string{lockKey}, token, r.ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				r.l.Warn("extend lock failed", "key", lockKey, "error", err)
				continue
			}
			if held == 0 {
				r.l.Warn("lock lost before release", "key", lockKey)
				return
			}
		}
	}
}
