package cache

import (
	"container/list"
	"sync"

	"github.com/objectfs/objectcache/pkg/types"
)

// LRUPolicy proposes the least recently used identifiers first
type LRUPolicy struct {
	mu        sync.Mutex
	items     map[types.ObjectID]*list.Element
	evictList *list.List

	stats PolicyStats
}

// NewLRUPolicy creates an empty LRU policy
func NewLRUPolicy() *LRUPolicy {
	return &LRUPolicy{
		items:     make(map[types.ObjectID]*list.Element),
		evictList: list.New(),
	}
}

// Add starts tracking id as most recently used
func (p *LRUPolicy) Add(id types.ObjectID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if elem, ok := p.items[id]; ok {
		p.evictList.MoveToFront(elem)
		return
	}
	p.items[id] = p.evictList.PushFront(id)
	p.stats.Added++
}

// Remove stops tracking id
func (p *LRUPolicy) Remove(id types.ObjectID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if elem, ok := p.items[id]; ok {
		p.evictList.Remove(elem)
		delete(p.items, id)
		p.stats.Removed++
	}
}

// MarkReferenced moves id to the front of the list
func (p *LRUPolicy) MarkReferenced(id types.ObjectID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if elem, ok := p.items[id]; ok {
		p.evictList.MoveToFront(elem)
		p.stats.Touched++
	}
}

// RemovalCandidates walks from the least recently used end
func (p *LRUPolicy) RemovalCandidates(n int, evictable func(types.ObjectID) bool) []types.ObjectID {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n <= 0 {
		return nil
	}

	candidates := make([]types.ObjectID, 0, min(n, len(p.items)))
	for elem := p.evictList.Back(); elem != nil && len(candidates) < n; elem = elem.Prev() {
		id := elem.Value.(types.ObjectID)
		if evictable != nil && !evictable(id) {
			continue
		}
		candidates = append(candidates, id)
	}
	p.stats.Proposed += uint64(len(candidates))
	return candidates
}

// Len returns the number of tracked identifiers
func (p *LRUPolicy) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

// Stats returns policy statistics
func (p *LRUPolicy) Stats() PolicyStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	stats := p.stats
	stats.Tracked = len(p.items)
	return stats
}

// Contains reports whether id is tracked
func (p *LRUPolicy) Contains(id types.ObjectID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.items[id]
	return ok
}
