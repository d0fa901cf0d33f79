package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only while it still belongs to the caller.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LeaderLock elects one instance per sweep with SET NX PX. The lock expires
// on its own if the holder dies mid-sweep.
type LeaderLock struct {
	client redis.Cmdable
	key    string
	owner  string
}

// NewLeaderLock creates a lock on key held under owner.
func NewLeaderLock(client redis.Cmdable, key, owner string) *LeaderLock {
	return &LeaderLock{client: client, key: key, owner: owner}
}

// Acquire takes the lock for ttl. It returns false when another owner holds it.
func (l *LeaderLock) Acquire(ctx context.Context, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", l.key, err)
	}
	return ok, nil
}

// Release drops the lock if this owner still holds it.
func (l *LeaderLock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.owner).Err(); err != nil {
		return fmt.Errorf("release lock %s: %w", l.key, err)
	}
	return nil
}
