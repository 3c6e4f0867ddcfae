// Package locking provides mutual exclusion over cache keys.
package locking

// Group runs functions with mutual exclusion over sets of keys. The cache
// runs each compute-or-load sequence for a key inside DoWithLock, so that
// a key is never computed and written by two callers at once.
type Group interface {
	// DoWithLock runs the given function with mutual exclusion over the given key.
	DoWithLock(key string, fn func() (any, error)) (v any, err error)
}

// Exclusive is implemented by groups whose DoWithLock may hand one caller's
// result to another. DoExclusive always runs fn, still excluding other
// callers of the key.
type Exclusive interface {
	DoExclusive(key string, fn func() (any, error)) (v any, err error)
}
