package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/oakline-backend/pkg/instance"
)

// DefaultLockName is the Redis lock shared by all cron-worker replicas.
const DefaultLockName = "cron-worker"

// defaultLockTTL bounds how long a crashed leader can block the next cycle.
const defaultLockTTL = 5 * time.Minute

// Lock grants one replica the right to run a cycle.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type redisStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key, owner string) (bool, error)
}

// RedisLock stores "<instance>:<token>" under key. The token is new on
// every acquisition, so a leader whose lease ran out mid-cycle cannot
// delete its successor's lock; the instance part shows who holds it.
type RedisLock struct {
	client redisStore
	key    string
	ttl    time.Duration
	held   string
}

func NewRedisLock(client redisStore, key string, ttl time.Duration) (*RedisLock, error) {
	switch {
	case client == nil:
		return nil, errors.New("redis client required for lock")
	case key == "":
		return nil, errors.New("lock key is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLock{client: client, key: key, ttl: ttl}, nil
}

func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	token := instance.ID() + ":" + uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl)
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", l.key, err)
	}
	if ok {
		l.held = token
	}
	return ok, nil
}

// Release is a no-op unless this lock currently believes it is the holder.
func (l *RedisLock) Release(ctx context.Context) error {
	token := l.held
	if token == "" {
		return nil
	}
	l.held = ""
	if _, err := l.client.ReleaseLock(ctx, l.key, token); err != nil {
		return fmt.Errorf("release lock %s: %w", l.key, err)
	}
	return nil
}
