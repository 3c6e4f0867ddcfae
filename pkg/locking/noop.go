package locking

// NoOpGroup is a Group implementation that performs no locking.
// Every call executes the function immediately. Use it when a store is only
// ever used from one goroutine.
type NoOpGroup struct{}

// NewNoOpGroup creates a new NoOpGroup.
func NewNoOpGroup() *NoOpGroup {
	return &NoOpGroup{}
}

func (n *NoOpGroup) DoWithLock(key string, fn func() (any, error)) (any, error) {
	return fn()
}
