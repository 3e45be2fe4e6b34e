package deployment

import "sync"

// LockManager hands out non-blocking per-key locks. The service keys them by
// DeploymentID so the duplicate check and the insert of one business key never
// interleave, while stores of different keys proceed concurrently.
type LockManager struct {
	mu    sync.Mutex             // Protects the locks map
	locks map[string]*sync.Mutex // Per-key locks
}

// NewLockManager creates a new lock manager
func NewLockManager() *LockManager {
	return &LockManager{
		locks: make(map[string]*sync.Mutex),
	}
}

// TryLock attempts to acquire the lock for key without blocking.
// Returns false if the key is already held.
func (lm *LockManager) TryLock(key string) bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lock, exists := lm.locks[key]
	if !exists {
		lock = &sync.Mutex{}
		lm.locks[key] = lock
	}

	// Acquired under mu so Unlock can never drop a lock another caller is
	// about to take.
	return lock.TryLock()
}

// Unlock releases the lock for key. Releasing the last holder drops the key
// so the map does not grow with every deployment ever stored.
//
// It is safe to call this for a key that was never locked (no-op).
func (lm *LockManager) Unlock(key string) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lock := lm.locks[key]
	if lock == nil {
		return
	}
	delete(lm.locks, key)
	lock.Unlock()
}
