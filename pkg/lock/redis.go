package lock

import (
	"context"
	"sync"
	"time"

	"github.com/d4l-data4life/go-svc/pkg/logging"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "go-chat-host:"

// releaseScript deletes the key only if it still holds our token
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker shared by all replicas of the service
type Redis struct {
	rdb *goredis.Client
	ttl time.Duration
}

// NewRedis connects to addr and verifies the connection with a ping
func NewRedis(addr string, ttl time.Duration) (*Redis, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "redis ping")
	}
	return &Redis{rdb: rdb, ttl: ttl}, nil
}

// Acquire takes the lock for key with SET NX or returns ErrLocked
func (r *Redis) Acquire(ctx context.Context, key string) (Release, error) {
	token := uuid.NewString()
	ok, err := r.rdb.SetNX(ctx, redisKeyPrefix+key, token, r.ttl).Result()
	if err != nil {
		return nil, errors.Wrap(err, "acquiring lock")
	}
	if !ok {
		return nil, ErrLocked
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// the request context may already be cancelled when the lock is released
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, r.rdb, []string{redisKeyPrefix + key}, token).Err(); err != nil {
				logging.LogWarningf(err, "releasing lock %s", key)
			}
		})
	}, nil
}

// Close closes the redis client
func (r *Redis) Close() error {
	return r.rdb.Close()
}

// Ping checks that redis answers, for readiness checks
func (r *Redis) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return errors.Wrap(r.rdb.Ping(ctx).Err(), "redis ping")
}
