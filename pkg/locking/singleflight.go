package locking

import "golang.org/x/sync/singleflight"

// Singleflight is a Group that collapses concurrent calls for the same key
// into one: callers arriving while a computation is in flight receive its
// result instead of running fn themselves. This suits deterministic cached
// computations, where every caller would compute the same value anyway.
//
// Flights for a key are also serialized with DoExclusive callers through a
// per-key mutex.
type Singleflight struct {
	group singleflight.Group
	locks *MemLock
}

// NewSingleflight creates a new Singleflight group.
func NewSingleflight() *Singleflight {
	return &Singleflight{locks: NewMemLock()}
}

func (s *Singleflight) DoWithLock(key string, fn func() (any, error)) (any, error) {
	v, err, _ := s.group.Do(key, func() (any, error) {
		return s.locks.DoWithLock(key, fn)
	})
	return v, err
}

// DoExclusive runs fn under the key's mutex without joining or starting a
// shared flight.
func (s *Singleflight) DoExclusive(key string, fn func() (any, error)) (any, error) {
	return s.locks.DoWithLock(key, fn)
}
