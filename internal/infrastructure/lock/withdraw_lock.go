package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

var ErrLockFailed = errors.New("failed to acquire lock")

// DistributedLock is a Redis SETNX lock with an owner token. Withdrawals for
// the same user must be fully serialized: two concurrent requests passing the
// balance check against the same pre-debit balance would double-spend. Using
// Redis rather than an in-process mutex map keeps the guarantee when more
// than one process runs, and avoids growing a per-user lock map forever.
type DistributedLock struct {
	client     *redis.Client
	key        string
	value      string // owner token, verified on unlock
	expiration time.Duration
}

func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock attempts to take the lock without blocking. The expiration bounds
// how long a crashed holder can wedge a user's withdrawals.
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	success, err := l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
	if err != nil {
		return false, err
	}
	return success, nil
}

// Lock retries TryLock until it succeeds, the retry budget runs out, or the
// context is cancelled.
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return ErrLockFailed
}

// Unlock releases the lock only if this instance still owns it. The check and
// delete run as one Lua script; without that, a holder whose lock already
// expired could delete the next holder's lock.
func (l *DistributedLock) Unlock(ctx context.Context) error {
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
	_, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Result()
	return err
}

// NewWithdrawLock keys the lock by user id so different users withdraw
// concurrently while one user's requests queue up. The owner token should
// identify the request for traceability.
func NewWithdrawLock(client *redis.Client, userID int64, owner string) *DistributedLock {
	key := fmt.Sprintf("withdraw:lock:user:%d", userID)
	return NewDistributedLock(client, key, owner, 30*time.Second)
}
