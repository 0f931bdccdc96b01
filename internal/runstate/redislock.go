package runstate

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// unlockScript deletes the key only if this process still owns it.
const unlockScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) else return 0 end`

type redisCmdable interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

// RedisLock is a Locker backed by SET NX with a TTL. The TTL bounds how long a
// crashed process can hold an organization.
type RedisLock struct {
	rdb   redisCmdable
	token string
	ttl   time.Duration
}

// NewRedisLock parses url (redis://host:port/db) and returns a lock and the
// client to close on shutdown.
func NewRedisLock(url string, ttl time.Duration) (*RedisLock, *redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, eris.Wrap(err, "runstate: parse redis url")
	}
	client := redis.NewClient(opts)
	return newRedisLock(client, ttl), client, nil
}

func newRedisLock(rdb redisCmdable, ttl time.Duration) *RedisLock {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisLock{rdb: rdb, token: uuid.NewString(), ttl: ttl}
}

// TryLock implements Locker.
func (l *RedisLock) TryLock(ctx context.Context, key string) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, key, l.token, l.ttl).Result()
	if err != nil {
		return false, eris.Wrap(err, "runstate: redis setnx")
	}
	return ok, nil
}

// ForceLock implements Locker.
func (l *RedisLock) ForceLock(ctx context.Context, key string) error {
	if err := l.rdb.Set(ctx, key, l.token, l.ttl).Err(); err != nil {
		return eris.Wrap(err, "runstate: redis set")
	}
	return nil
}

// Unlock implements Locker.
func (l *RedisLock) Unlock(ctx context.Context, key string) error {
	if err := l.rdb.Eval(ctx, unlockScript, []string{key}, l.token).Err(); err != nil && err != redis.Nil {
		return eris.Wrap(err, "runstate: redis unlock")
	}
	return nil
}
