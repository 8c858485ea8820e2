package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()}), mr
}

func TestTryLock_SecondHolderRejected(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	first := NewWithdrawLock(client, 42, "owner-1")
	second := NewWithdrawLock(client, 42, "owner-2")

	ok, err := first.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = second.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "a held lock must reject other owners")
}

func TestLocks_PerUserIsolation(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	first := NewWithdrawLock(client, 42, "owner-1")
	other := NewWithdrawLock(client, 43, "owner-2")

	ok, err := first.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = other.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "different users must not contend")
}

func TestUnlock_OnlyOwnerReleases(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	holder := NewWithdrawLock(client, 42, "owner-1")
	intruder := NewWithdrawLock(client, 42, "owner-2")

	ok, err := holder.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// A non-owner unlock must leave the lock in place.
	require.NoError(t, intruder.Unlock(ctx))
	ok, err = intruder.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, holder.Unlock(ctx))
	ok, err = intruder.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLock_RetriesUntilReleased(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()

	holder := NewWithdrawLock(client, 42, "owner-1")
	waiter := NewWithdrawLock(client, 42, "owner-2")

	ok, err := holder.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	done := make(chan error, 1)
	go func() {
		done <- waiter.Lock(ctx, 10*time.Millisecond, 50)
	}()

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, holder.Unlock(ctx))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never acquired the lock")
	}

	mr.CheckGet(t, "withdraw:lock:user:42", "owner-2")
}

func TestLock_RetryBudgetExhausted(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	holder := NewWithdrawLock(client, 42, "owner-1")
	waiter := NewWithdrawLock(client, 42, "owner-2")

	ok, err := holder.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	err = waiter.Lock(ctx, time.Millisecond, 3)
	assert.ErrorIs(t, err, ErrLockFailed)
}
