package service

import (
	"sync"

	"manifest-gateway/internal/accesskey"
)

// keyLocks serializes lifecycle operations per access key within this
// process. The store's compare-and-swap remains the cross-process guard; the
// per-key lock just keeps local operations from interleaving needlessly.
type keyLocks struct {
	mu    sync.Mutex
	locks map[accesskey.Key]*sync.Mutex
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[accesskey.Key]*sync.Mutex)}
}

// acquire locks the mutex for key and returns its release function.
func (l *keyLocks) acquire(key accesskey.Key) func() {
	l.mu.Lock()
	lock, ok := l.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[key] = lock
	}
	l.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
