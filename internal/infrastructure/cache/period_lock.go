package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock key only when it still holds our token,
// so a lock that expired and was re-acquired by someone else is never
// released by the previous holder.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// RedisPeriodLock serializes snapshot writes per (user, period) across
// process instances. The interactive delta path and the batch recompute
// share the same key space, so a recompute can never interleave with a
// concurrent delta for the same user and month.
type RedisPeriodLock struct {
	client        *redis.Client
	keyPrefix     string
	ttl           time.Duration
	retryInterval time.Duration
}

// NewRedisPeriodLock creates a new Redis-backed period lock
func NewRedisPeriodLock(cfg RedisConfig) (*RedisPeriodLock, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisPeriodLockWithClient(client, ""), nil
}

// NewRedisPeriodLockWithClient creates a lock with an existing Redis client.
// This is useful for testing or when sharing a client across components.
func NewRedisPeriodLockWithClient(client *redis.Client, keyPrefix string) *RedisPeriodLock {
	if keyPrefix == "" {
		keyPrefix = "billing:period-lock:"
	}
	return &RedisPeriodLock{
		client:        client,
		keyPrefix:     keyPrefix,
		ttl:           2 * time.Minute,
		retryInterval: 50 * time.Millisecond,
	}
}

func (l *RedisPeriodLock) key(userID uuid.UUID, year, month int) string {
	return fmt.Sprintf("%s%s:%04d-%02d", l.keyPrefix, userID, year, month)
}

// AcquirePeriodLock blocks until the lock for (user, year, month) is held
// or ctx expires. The returned release function is safe to call once.
func (l *RedisPeriodLock) AcquirePeriodLock(ctx context.Context, userID uuid.UUID, year, month int) (func(), error) {
	key := l.key(userID, year, month)
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire period lock: %w", err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retryInterval):
		}
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		// best effort; an unreleased lock falls back to the TTL
		_ = releaseScript.Run(ctx, l.client, []string{key}, token).Err()
	}
	return release, nil
}

// Close closes the Redis client
func (l *RedisPeriodLock) Close() error {
	return l.client.Close()
}

// InMemoryPeriodLock is a process-local period lock for single-instance
// deployments and testing. Entries are reference counted and removed once
// the last holder or waiter of a (user, period) is gone, so the map does
// not grow with every period ever locked.
// WARNING: it does not share state across process instances; distributed
// deployments need the Redis lock.
type InMemoryPeriodLock struct {
	mu    sync.Mutex
	locks map[string]*periodLockEntry
}

type periodLockEntry struct {
	mu   sync.Mutex
	refs int
}

// NewInMemoryPeriodLock creates a new in-memory period lock
func NewInMemoryPeriodLock() *InMemoryPeriodLock {
	return &InMemoryPeriodLock{locks: make(map[string]*periodLockEntry)}
}

func (l *InMemoryPeriodLock) checkout(key string) *periodLockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.locks[key]
	if !ok {
		e = &periodLockEntry{}
		l.locks[key] = e
	}
	e.refs++
	return e
}

func (l *InMemoryPeriodLock) checkin(key string, e *periodLockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
}

// AcquirePeriodLock blocks until the lock for (user, year, month) is held
func (l *InMemoryPeriodLock) AcquirePeriodLock(ctx context.Context, userID uuid.UUID, year, month int) (func(), error) {
	key := fmt.Sprintf("%s:%04d-%02d", userID, year, month)
	e := l.checkout(key)

	acquired := make(chan struct{})
	go func() {
		e.mu.Lock()
		close(acquired)
	}()

	release := func() {
		e.mu.Unlock()
		l.checkin(key, e)
	}

	select {
	case <-acquired:
		return release, nil
	case <-ctx.Done():
		// the goroutine will eventually grab and immediately drop the lock
		go func() {
			<-acquired
			release()
		}()
		return nil, ctx.Err()
	}
}
