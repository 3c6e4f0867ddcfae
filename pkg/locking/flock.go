package locking

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// LockFileName is the name of the lock file Flock creates in a cache
// directory. It does not match any cache key namespace.
const LockFileName = ".lock"

// Flock is a Group that serializes work across processes sharing a cache
// directory with an advisory file lock. The lock is directory wide: keys
// are not locked independently, so concurrent processes take turns.
type Flock struct {
	mu   sync.Mutex
	lock *flock.Flock
}

// NewFlock creates a Flock for the cache directory dir.
func NewFlock(dir string) *Flock {
	return &Flock{lock: flock.New(filepath.Join(dir, LockFileName))}
}

func (f *Flock) DoWithLock(key string, fn func() (any, error)) (v any, err error) {
	// flock locks belong to the open file description, so goroutines of
	// this process are serialized in memory first.
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.lock.Lock(); err != nil {
		return nil, fmt.Errorf("failed to lock %s for %s: %w", f.lock.Path(), key, err)
	}
	defer func() {
		if unlockErr := f.lock.Unlock(); unlockErr != nil && err == nil {
			err = fmt.Errorf("failed to unlock %s: %w", f.lock.Path(), unlockErr)
		}
	}()
	return fn()
}

// Close releases the lock file handle.
func (f *Flock) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lock.Close()
}
