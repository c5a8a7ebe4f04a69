// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package lease

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Backend is an external keyed TTL store mirroring item leases. The store
// columns stay authoritative for state; a backend adds cross-process mutual
// exclusion when several control planes share one database snapshot window.
type Backend interface {
	// Acquire claims key for owner with the given TTL; false when another
	// owner holds a live claim.
	Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	// Extend refreshes owner's claim; false when the claim is gone or owned
	// by someone else.
	Extend(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	// Release drops owner's claim. Releasing a foreign or absent claim is a
	// no-op.
	Release(ctx context.Context, key, owner string) error
}

const keyPrefix = "foreman:lease:"

// RedisBackend implements Backend on a Redis-compatible server.
type RedisBackend struct {
	Client *redis.Client
}

// NewRedisBackend connects a backend to the given address.
func NewRedisBackend(addr string) *RedisBackend {
	return &RedisBackend{Client: redis.NewClient(&redis.Options{Addr: addr})}
}

// extendScript refreshes the TTL only while owner still holds the key.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// releaseScript deletes the key only while owner still holds it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (b *RedisBackend) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	return b.Client.SetNX(ctx, keyPrefix+key, owner, ttl).Result()
}

func (b *RedisBackend) Extend(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	n, err := extendScript.Run(ctx, b.Client, []string{keyPrefix + key}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (b *RedisBackend) Release(ctx context.Context, key, owner string) error {
	return releaseScript.Run(ctx, b.Client, []string{keyPrefix + key}, owner).Err()
}
