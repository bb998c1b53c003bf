// Package caching provides application-wide caching and related utilities.
package caching

import "sync"

// WarmingLock ensures only one background prefetch runs for a given key at a time.
type WarmingLock struct {
	mu    sync.Mutex
	locks map[string]struct{}
}

// NewWarmingLock creates a new instance of a WarmingLock.
func NewWarmingLock() *WarmingLock {
	return &WarmingLock{
		locks: make(map[string]struct{}),
	}
}

// TryLock acquires the lock for key without blocking and reports whether it
// was acquired.
func (l *WarmingLock) TryLock(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.locks[key]; exists {
		return false
	}
	l.locks[key] = struct{}{}
	return true
}

// Unlock releases the lock for key.
func (l *WarmingLock) Unlock(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.locks, key)
}

// Held returns the number of keys currently locked
func (l *WarmingLock) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.locks)
}
