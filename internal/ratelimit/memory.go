package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

type record struct {
	attempts     int
	firstAttempt time.Time
	lastAttempt  time.Time
	lockedUntil  time.Time
}

// MemoryStore is the default in-process Store. State is guarded by a single
// mutex so increment-and-maybe-lock is atomic per key.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*record

	maxAttempts int
	lockout     time.Duration
	now         func() time.Time
}

type MemoryOption func(*MemoryStore)

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

func WithLimits(maxAttempts int, lockout time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		s.maxAttempts = maxAttempts
		s.lockout = lockout
	}
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		records:     make(map[string]*record),
		maxAttempts: DefaultMaxAttempts,
		lockout:     DefaultLockoutDuration,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Check(_ context.Context, action, ip string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.maybeCleanupLocked()

	rec, ok := s.records[key(action, ip)]
	if !ok || rec.lockedUntil.IsZero() {
		return 0, nil
	}

	now := s.now()
	if !rec.lockedUntil.After(now) {
		// Lock elapsed; purge lazily.
		delete(s.records, key(action, ip))
		return 0, nil
	}
	return rec.lockedUntil.Sub(now), nil
}

func (s *MemoryStore) RecordFailure(_ context.Context, action, ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(action, ip)
	now := s.now()

	rec, ok := s.records[k]
	if !ok {
		rec = &record{firstAttempt: now}
		s.records[k] = rec
	}

	rec.attempts++
	rec.lastAttempt = now
	if rec.attempts >= s.maxAttempts {
		rec.lockedUntil = now.Add(s.lockout)
	}
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, action, ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key(action, ip))
	return nil
}

// maybeCleanupLocked sweeps expired locks and stale unlocked records on
// roughly 1% of calls to bound memory growth. Callers hold s.mu.
func (s *MemoryStore) maybeCleanupLocked() {
	if rand.Intn(100) != 0 {
		return
	}

	now := s.now()
	for k, rec := range s.records {
		switch {
		case !rec.lockedUntil.IsZero() && !rec.lockedUntil.After(now):
			delete(s.records, k)
		case rec.lockedUntil.IsZero() && now.Sub(rec.lastAttempt) > s.lockout:
			delete(s.records, k)
		}
	}
}
