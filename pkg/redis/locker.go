package redis

import (
	"context"
	"errors"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockScript deletes the key only while it still holds the owner's token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockClient is the part of the go-redis client the locker uses.
// *redis.Client and *redis.ClusterClient satisfy it.
type LockClient interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
}

// Locker is a gocron.Locker backed by SET NX with an expiry, so only one
// process runs a scheduled job at a time. A crashed owner's lock lapses after
// the TTL.
type Locker struct {
	client LockClient
	prefix string
	ttl    time.Duration
}

// LockerOption configures a Locker.
type LockerOption func(*Locker)

// WithLockPrefix sets the key prefix. Defaults to "lock:".
func WithLockPrefix(prefix string) LockerOption {
	return func(l *Locker) {
		l.prefix = prefix
	}
}

// WithLockTTL sets how long a lock survives without being released. Defaults to one minute.
func WithLockTTL(ttl time.Duration) LockerOption {
	return func(l *Locker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// NewLocker creates a distributed job locker.
func NewLocker(client LockClient, opts ...LockerOption) *Locker {
	if client == nil {
		panic("redis: locker client is required")
	}
	l := &Locker{client: client, prefix: "lock:", ttl: time.Minute}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

var _ gocron.Locker = (*Locker)(nil)

// Lock implements gocron.Locker. It fails with ErrLockNotAcquired when
// another owner holds the key.
func (l *Locker) Lock(ctx context.Context, key string) (gocron.Lock, error) {
	lk := &lock{client: l.client, key: l.prefix + key, token: uuid.NewString()}
	ok, err := l.client.SetNX(ctx, lk.key, lk.token, l.ttl).Result()
	if err != nil {
		return nil, errors.Join(ErrLockNotAcquired, err)
	}
	if !ok {
		return nil, ErrLockNotAcquired
	}
	return lk, nil
}

type lock struct {
	client LockClient
	key    string
	token  string
}

// Unlock implements gocron.Lock.
func (l *lock) Unlock(ctx context.Context) error {
	n, err := unlockScript.Run(ctx, l.client, []string{l.key}, l.token).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockNotHeld
	}
	return nil
}
