package ratelimit_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kasia/glutenfree-community/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_LockoutAfterMaxAttempts(t *testing.T) {
	store := ratelimit.NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, store.RecordFailure(ctx, "login", "203.0.113.7"))

		retryAfter, err := store.Check(ctx, "login", "203.0.113.7")
		require.NoError(t, err)
		assert.Zero(t, retryAfter, "attempt %d should not lock", i+1)
	}

	require.NoError(t, store.RecordFailure(ctx, "login", "203.0.113.7"))

	retryAfter, err := store.Check(ctx, "login", "203.0.113.7")
	require.NoError(t, err)
	assert.Greater(t, retryAfter, 14*time.Minute)
	assert.LessOrEqual(t, retryAfter, 15*time.Minute)
}

func TestMemoryStore_LockExpires(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	store := ratelimit.NewMemoryStore(ratelimit.WithClock(func() time.Time { return clock() }))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.RecordFailure(ctx, "login", "203.0.113.7"))
	}

	retryAfter, err := store.Check(ctx, "login", "203.0.113.7")
	require.NoError(t, err)
	assert.Positive(t, retryAfter)

	// Just before expiry the lock still holds.
	clock = func() time.Time { return now.Add(15*time.Minute - time.Second) }
	retryAfter, err = store.Check(ctx, "login", "203.0.113.7")
	require.NoError(t, err)
	assert.Positive(t, retryAfter)

	// At expiry the lock is gone and the record purged.
	clock = func() time.Time { return now.Add(15 * time.Minute) }
	retryAfter, err = store.Check(ctx, "login", "203.0.113.7")
	require.NoError(t, err)
	assert.Zero(t, retryAfter)
}

func TestMemoryStore_KeysAreIndependent(t *testing.T) {
	store := ratelimit.NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.RecordFailure(ctx, "login", "203.0.113.7"))
	}

	// Same IP, different action.
	retryAfter, err := store.Check(ctx, "register", "203.0.113.7")
	require.NoError(t, err)
	assert.Zero(t, retryAfter)

	// Same action, different IP.
	retryAfter, err = store.Check(ctx, "login", "198.51.100.4")
	require.NoError(t, err)
	assert.Zero(t, retryAfter)
}

func TestMemoryStore_ClearRemovesLock(t *testing.T) {
	store := ratelimit.NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.RecordFailure(ctx, "login", "203.0.113.7"))
	}
	require.NoError(t, store.Clear(ctx, "login", "203.0.113.7"))

	retryAfter, err := store.Check(ctx, "login", "203.0.113.7")
	require.NoError(t, err)
	assert.Zero(t, retryAfter)
}

func TestMemoryStore_ConcurrentFailures(t *testing.T) {
	store := ratelimit.NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.RecordFailure(ctx, "login", "203.0.113.7")
		}()
	}
	wg.Wait()

	retryAfter, err := store.Check(ctx, "login", "203.0.113.7")
	require.NoError(t, err)
	assert.Positive(t, retryAfter, "20 concurrent failures must lock the key")
}

func TestMemoryStore_CustomLimits(t *testing.T) {
	store := ratelimit.NewMemoryStore(ratelimit.WithLimits(2, time.Minute))
	ctx := context.Background()

	require.NoError(t, store.RecordFailure(ctx, "login", "203.0.113.7"))
	retryAfter, err := store.Check(ctx, "login", "203.0.113.7")
	require.NoError(t, err)
	assert.Zero(t, retryAfter)

	require.NoError(t, store.RecordFailure(ctx, "login", "203.0.113.7"))
	retryAfter, err = store.Check(ctx, "login", "203.0.113.7")
	require.NoError(t, err)
	assert.Positive(t, retryAfter)
	assert.LessOrEqual(t, retryAfter, time.Minute)
}
