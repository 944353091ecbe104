package cache

import (
	"cmp"
	"slices"
	"sync"

	"github.com/objectfs/objectcache/pkg/types"
)

// LFUPolicy proposes the least frequently used identifiers first. Ties are
// broken by recency, oldest first.
type LFUPolicy struct {
	mu    sync.Mutex
	items map[types.ObjectID]*lfuEntry
	clock uint64

	stats PolicyStats
}

type lfuEntry struct {
	id       types.ObjectID
	freq     uint64
	lastSeen uint64
}

// NewLFUPolicy creates an empty LFU policy
func NewLFUPolicy() *LFUPolicy {
	return &LFUPolicy{
		items: make(map[types.ObjectID]*lfuEntry),
	}
}

func (p *LFUPolicy) tick() uint64 {
	p.clock++
	return p.clock
}

// Add starts tracking id with a frequency of one
func (p *LFUPolicy) Add(id types.ObjectID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.items[id]; ok {
		e.freq++
		e.lastSeen = p.tick()
		return
	}
	p.items[id] = &lfuEntry{id: id, freq: 1, lastSeen: p.tick()}
	p.stats.Added++
}

// Remove stops tracking id
func (p *LFUPolicy) Remove(id types.ObjectID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.items[id]; ok {
		delete(p.items, id)
		p.stats.Removed++
	}
}

// MarkReferenced bumps the access frequency of id
func (p *LFUPolicy) MarkReferenced(id types.ObjectID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.items[id]; ok {
		e.freq++
		e.lastSeen = p.tick()
		p.stats.Touched++
	}
}

// RemovalCandidates returns the n lowest-frequency evictable identifiers
func (p *LFUPolicy) RemovalCandidates(n int, evictable func(types.ObjectID) bool) []types.ObjectID {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n <= 0 {
		return nil
	}

	entries := make([]*lfuEntry, 0, len(p.items))
	for id, e := range p.items {
		if evictable != nil && !evictable(id) {
			continue
		}
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b *lfuEntry) int {
		if c := cmp.Compare(a.freq, b.freq); c != 0 {
			return c
		}
		return cmp.Compare(a.lastSeen, b.lastSeen)
	})

	if len(entries) > n {
		entries = entries[:n]
	}
	candidates := make([]types.ObjectID, len(entries))
	for i, e := range entries {
		candidates[i] = e.id
	}
	p.stats.Proposed += uint64(len(candidates))
	return candidates
}

// Len returns the number of tracked identifiers
func (p *LFUPolicy) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

// Stats returns policy statistics
func (p *LFUPolicy) Stats() PolicyStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	stats := p.stats
	stats.Tracked = len(p.items)
	return stats
}

// Frequency returns the recorded access count of id, zero if untracked
func (p *LFUPolicy) Frequency(id types.ObjectID) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.items[id]; ok {
		return e.freq
	}
	return 0
}
