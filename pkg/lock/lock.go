package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// keyPrefix namespaces lease keys in Redis.
const keyPrefix = "sync:lease:"

// releaseScript deletes the lease only if the caller still owns it.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`

// Locker hands out TTL'd leases backed by Redis SET NX. A held lease means
// another pass is processing the same batch; callers skip rather than block.
type Locker struct {
	client *redis.Client
	logger *zap.Logger
}

// NewLocker creates a Redis-backed lease locker.
func NewLocker(client *redis.Client, logger *zap.Logger) *Locker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Locker{client: client, logger: logger}
}

// Acquire takes the lease for name, returning a release func and true on
// success, or false if another owner holds it. The TTL bounds lease lifetime
// if the holder dies without releasing.
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (release func(), ok bool, err error) {
	key := keyPrefix + name
	owner := uuid.New().String()
	set, err := l.client.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("setnx %s: %w", key, err)
	}
	if !set {
		return nil, false, nil
	}
	release = func() {
		// Release must not inherit a cancelled pass context.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.client.Eval(rctx, releaseScript, []string{key}, owner).Err(); err != nil {
			l.logger.Warn("lease release failed", zap.String("key", key), zap.Error(err))
		}
	}
	return release, true, nil
}
