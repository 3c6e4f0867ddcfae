package locking

import "sync"

// MemLock is a Group implementation that uses in-memory locks (mutexes) for
// mutual exclusion. It only works within a single process; separate
// processes sharing a cache directory need Flock.
//
// Per-key mutexes are reference counted and dropped once no caller holds or
// waits for them, so the lock table does not grow with the number of keys
// ever seen.
type MemLock struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sync.Mutex
	refs int
}

func NewMemLock() *MemLock {
	return &MemLock{
		locks: make(map[string]*keyLock),
	}
}

func (s *MemLock) DoWithLock(key string, fn func() (any, error)) (v any, err error) {
	s.mu.Lock()
	lock, ok := s.locks[key]
	if !ok {
		lock = &keyLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.Lock()
	defer func() {
		lock.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}()
	return fn()
}

// held returns the number of keys with an active or waiting caller.
func (s *MemLock) held() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}
