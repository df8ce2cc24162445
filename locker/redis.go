// Package locker provides Locker implementations for guarding exclusive
// loops across process instances.
package locker

import (
	"errors"
	"fmt"
	"time"

	"github.com/mediocregopher/radix/v3"
)

// ErrLocked is returned when the lock belongs to another holder.
var ErrLocked = errors.New("locked by another holder")

// RedisOption redefines default redis locker settings.
type RedisOption func(*Redis)

// RedisLockTTL sets the ttl of the lock key, so a crashed holder cannot
// keep the lock forever. Default is one minute.
func RedisLockTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) {
		r.ttl = ttl
	}
}

// Redis is a redis-backed Locker. Each instance holds a random owner token,
// so an expired lock re-acquired by somebody else is never released by the
// original holder.
type Redis struct {
	key string
	ttl time.Duration
	me  string
	cli radix.Client
}

// NewRedis returns a redis locker around cli keyed by lockKey.
func NewRedis(cli radix.Client, lockKey string, opts ...RedisOption) *Redis {
	r := &Redis{
		key: lockKey,
		ttl: time.Minute,
		cli: cli,
		me:  randomString(32),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Lock acquires the lock.
func (r *Redis) Lock() error {
	var res radix.MaybeNil
	ttlms := fmt.Sprintf("%d", r.ttl.Milliseconds())
	err := r.cli.Do(radix.Cmd(&res, "SET", r.key, r.me, "NX", "PX", ttlms))
	if err != nil {
		return err
	}
	if res.Nil {
		return ErrLocked
	}
	return nil
}

// Unlock releases the lock when still held by this instance.
func (r *Redis) Unlock() {
	s := radix.NewEvalScript(1, `
	if redis.call("get",KEYS[1]) == ARGV[1]
then
    return redis.call("del",KEYS[1])
else
    return 0
end
`)

	r.cli.Do(s.Cmd(nil, r.key, r.me))
}
