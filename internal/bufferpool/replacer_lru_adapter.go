package bufferpool

import (
	"container/list"

	"github.com/tuannm99/pbtree/pkg/cache"
)

// lruAdapter is the exact-recency counterpart to clockAdapter: it backs
// Replacer with pkg/cache's container/list LRU manager instead of CLOCK's
// approximate second-chance bits. Pick it when eviction quality matters
// more than the extra list-node bookkeeping (e.g. a small, hot index
// buffer pool where CLOCK's approximation costs more cache misses than
// it saves in bookkeeping).
type lruAdapter struct {
	lru       *cache.LRUManager
	elems     []*list.Element // frameID -> element, nil if not present
	evictable []bool
}

func newLRUAdapter(capacity int) Replacer {
	return &lruAdapter{
		lru:       cache.NewLRUManager(),
		elems:     make([]*list.Element, capacity),
		evictable: make([]bool, capacity),
	}
}

func (a *lruAdapter) RecordAccess(frameID int) {
	if frameID < 0 || frameID >= len(a.elems) {
		return
	}
	if a.elems[frameID] != nil {
		a.lru.MoveToFront(a.elems[frameID])
		return
	}
	a.elems[frameID] = a.lru.PushFront(frameID)
}

func (a *lruAdapter) SetEvictable(frameID int, evictable bool) {
	if frameID < 0 || frameID >= len(a.elems) {
		return
	}
	a.evictable[frameID] = evictable
}

func (a *lruAdapter) Evict() (int, bool) {
	for e := a.lru.Back(); e != nil; e = e.Prev() {
		id := e.Value.(int)
		if a.evictable[id] {
			a.lru.Remove(e)
			a.elems[id] = nil
			a.evictable[id] = false
			return id, true
		}
	}
	return -1, false
}

func (a *lruAdapter) Remove(frameID int) {
	if frameID < 0 || frameID >= len(a.elems) {
		return
	}
	if a.elems[frameID] != nil {
		a.lru.Remove(a.elems[frameID])
		a.elems[frameID] = nil
	}
	a.evictable[frameID] = false
}

func (a *lruAdapter) Size() int {
	n := 0
	for _, e := range a.evictable {
		if e {
			n++
		}
	}
	return n
}
