package cache

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
)

const lockPrefix = "linkfox:lock:"

// releaseScript deletes the key only while it still holds our value.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker takes short-lived exclusive locks with SET NX PX.
type RedisLocker struct {
	client redis.UniversalClient
}

func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: client}
}

// TryLock attempts to take key for ttl. On success the returned release func
// must be called; it only removes the lock if it was not taken over meanwhile.
func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, func(), error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return false, nil, err
	}
	owner := hex.EncodeToString(buf)

	ok, err := l.client.SetNX(ctx, lockPrefix+key, owner, ttl).Result()
	if err != nil {
		return false, nil, err
	}
	if !ok {
		return false, nil, nil
	}
	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		// On failure the key still expires after ttl.
		_ = releaseScript.Run(ctx, l.client, []string{lockPrefix + key}, owner).Err()
	}
	return true, release, nil
}
