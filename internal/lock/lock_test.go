package lock

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"qms/window-queue/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func TestLocalSerializesSameKey(t *testing.T) {
	testSerializesSameKey(t, NewLocal())
}

func TestLocalDifferentKeysDoNotContend(t *testing.T) {
	locker := NewLocal()
	release, err := locker.Acquire(context.Background(), "w1")
	if err != nil {
		t.Fatalf("acquire w1: %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	other, err := locker.Acquire(ctx, "w2")
	if err != nil {
		t.Fatalf("acquire w2 while w1 held: %v", err)
	}
	other()
}

func TestLocalAcquireTimesOut(t *testing.T) {
	locker := NewLocal()
	release, err := locker.Acquire(context.Background(), "w1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := locker.Acquire(ctx, "w1"); !errors.Is(err, ErrTimeout) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected timeout, got %v", err)
	}

	release()
	release()
	if got := locker.size(); got != 0 {
		t.Fatalf("expected idle slots to be dropped, got %d", got)
	}
}

func TestRedisSerializesSameKey(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR is required for redis lock tests")
	}
	cli := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = cli.Close() })
	if err := cli.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("ping redis: %v", err)
	}

	locker := NewRedis(cli, logger.NewNop(), RedisOptions{Prefix: "test:" + uuid.NewString() + ":", TTL: 5 * time.Second, Retry: time.Millisecond})
	testSerializesSameKey(t, locker)
}

func TestRedisHoldOutlivesTTL(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR is required for redis lock tests")
	}
	cli := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = cli.Close() })

	prefix := "test:" + uuid.NewString() + ":"
	locker := NewRedis(cli, logger.NewNop(), RedisOptions{Prefix: prefix, TTL: 300 * time.Millisecond, Retry: 10 * time.Millisecond})
	release, err := locker.Acquire(context.Background(), "w1")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	time.Sleep(time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := locker.Acquire(ctx, "w1"); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected the held lock to survive past its ttl, got %v", err)
	}

	release()
	if n, err := cli.Exists(context.Background(), prefix+"w1").Result(); err != nil || n != 0 {
		t.Fatalf("expected key removed on release, exists=%d err=%v", n, err)
	}
}

func testSerializesSameKey(t *testing.T, locker Locker) {
	t.Helper()
	const workers = 8
	var inside int32
	var overlaps int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			release, err := locker.Acquire(ctx, "w1")
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			if atomic.AddInt32(&inside, 1) > 1 {
				atomic.AddInt32(&overlaps, 1)
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			release()
		}()
	}
	wg.Wait()
	if overlaps != 0 {
		t.Fatalf("expected exclusive holds, saw %d overlaps", overlaps)
	}
}
