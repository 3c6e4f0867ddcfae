package methodcache

import (
	"container/list"
	"sync"
)

// recencyIndex orders cache keys from least to most recently used. It
// holds no values: the files on disk are the entries, the index only
// decides which key is evicted next.
type recencyIndex struct {
	mu         sync.Mutex
	maxEntries int
	order      *list.List // front = least recently used
	elems      map[string]*list.Element
}

func newRecencyIndex(maxEntries int) *recencyIndex {
	return &recencyIndex{
		maxEntries: maxEntries,
		order:      list.New(),
		elems:      make(map[string]*list.Element),
	}
}

// touch marks key as most recently used. It reports false if the key is
// not indexed, in which case nothing changes.
func (ri *recencyIndex) touch(key string) bool {
	ri.mu.Lock()
	defer ri.mu.Unlock()

	e, ok := ri.elems[key]
	if !ok {
		return false
	}
	ri.order.MoveToBack(e)
	return true
}

// admit records a store of key. An existing key is only refreshed. A new
// key evicts at most one entry, the least recently used, when the index is
// full; the evicted key is returned so that its files can be removed.
func (ri *recencyIndex) admit(key string) (evicted string, ok bool) {
	ri.mu.Lock()
	defer ri.mu.Unlock()

	if e, exists := ri.elems[key]; exists {
		ri.order.MoveToBack(e)
		return "", false
	}

	if ri.order.Len() >= ri.maxEntries {
		if front := ri.order.Front(); front != nil {
			evicted = front.Value.(string)
			ri.order.Remove(front)
			delete(ri.elems, evicted)
			ok = true
		}
	}
	ri.elems[key] = ri.order.PushBack(key)
	return evicted, ok
}

// forget removes key from the index, e.g. after a failed write.
func (ri *recencyIndex) forget(key string) {
	ri.mu.Lock()
	defer ri.mu.Unlock()

	if e, ok := ri.elems[key]; ok {
		ri.order.Remove(e)
		delete(ri.elems, key)
	}
}

func (ri *recencyIndex) contains(key string) bool {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	_, ok := ri.elems[key]
	return ok
}

func (ri *recencyIndex) len() int {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	return ri.order.Len()
}

// keys returns the indexed keys from least to most recently used.
func (ri *recencyIndex) keys() []string {
	ri.mu.Lock()
	defer ri.mu.Unlock()

	out := make([]string, 0, ri.order.Len())
	for e := ri.order.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(string))
	}
	return out
}

func (ri *recencyIndex) reset() {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	ri.order.Init()
	ri.elems = make(map[string]*list.Element)
}
