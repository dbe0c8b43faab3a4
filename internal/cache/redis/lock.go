package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/poolledger/internal/domain"
)

// unlockLua deletes a lock key only if it still holds the caller's token, so a
// holder whose TTL expired cannot release a lock another replica now owns.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// LockManager implements domain.LockManager with SET NX PX and a Lua
// conditional unlock. The ledger takes one lock per pool around writes when
// several replicas share a database.
type LockManager struct {
	c        *Client
	unlockSc *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		c:        c,
		unlockSc: redis.NewScript(unlockLua),
	}
}

// Acquire tries once to take the lock for key. It returns domain.ErrLockHeld
// when another holder owns it; retrying is the caller's decision. The
// returned unlock function is idempotent and safe for concurrent use.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("redis: acquire lock %s: ttl must be positive", key)
	}
	token := uuid.NewString()
	lk := lm.c.key("lock:", key)

	ok, err := lm.c.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, domain.ErrLockHeld)
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			// The caller's context may already be cancelled.
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.unlockSc.Run(unlockCtx, lm.c.rdb, []string{lk}, token).Err()
		})
	}
	return unlock, nil
}

// Compile-time interface check.
var _ domain.LockManager = (*LockManager)(nil)
