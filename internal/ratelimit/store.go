// Package ratelimit tracks failed attempts per (action, client IP) pair and
// enforces lockout windows on the auth endpoints. Rate limiting is a
// best-effort defense: a lost or doubled increment under concurrency is
// tolerable, a permanently stuck lock is not.
package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

const (
	DefaultMaxAttempts     = 5
	DefaultLockoutDuration = 15 * time.Minute
)

// Store is the shared, server-wide attempt store injected into the auth
// service. Implementations must keep increment-and-maybe-lock atomic per key.
type Store interface {
	// Check returns a positive retry-after duration when the key is
	// currently locked, zero otherwise.
	Check(ctx context.Context, action, ip string) (time.Duration, error)

	// RecordFailure increments the attempt counter and sets the lock once
	// the attempt threshold is reached.
	RecordFailure(ctx context.Context, action, ip string) error

	// Clear removes the record entirely. Called only after a verified
	// success.
	Clear(ctx context.Context, action, ip string) error
}

func key(action, ip string) string {
	sum := sha256.Sum256([]byte(action + "|" + ip))
	return hex.EncodeToString(sum[:])
}
