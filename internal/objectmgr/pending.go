package objectmgr

import (
	"github.com/objectfs/objectcache/pkg/types"
)

type accessLevel int

const (
	accessReadWrite accessLevel = iota
	// accessRead lookups proceed during a GC pause so the collector can
	// inspect objects it needs
	accessRead
)

// lookupContext carries a batch across retries
type lookupContext struct {
	rc              ResultsContext
	removeOnRelease bool
	access          accessLevel
	quiet           bool
	missing         types.ObjectIDSet
	processed       int
}

func newLookupContext(rc ResultsContext) *lookupContext {
	return &lookupContext{rc: rc, missing: types.NewObjectIDSet()}
}

// updateStats reports whether hits and misses count for this pass. Only the
// first pass of a batch is counted.
func (c *lookupContext) updateStats() bool {
	return !c.quiet && c.processed == 0
}

type pendingEntry struct {
	caller   types.NodeID
	ctx      *lookupContext
	maxDepth int
}

// pendingList holds lookups waiting to be retried. Lookups blocked on a
// specific identifier are parked in blocked until that identifier is
// released; everything else waits in the flat retry list.
type pendingList struct {
	retry   []*pendingEntry
	blocked map[types.ObjectID][]*pendingEntry
	nBlock  int
}

func newPendingList() *pendingList {
	return &pendingList{blocked: make(map[types.ObjectID][]*pendingEntry)}
}

func (p *pendingList) add(e *pendingEntry) {
	p.retry = append(p.retry, e)
}

func (p *pendingList) block(id types.ObjectID, e *pendingEntry) {
	p.blocked[id] = append(p.blocked[id], e)
	p.nBlock++
}

// unblock moves every waiter on id to the retry list
func (p *pendingList) unblock(id types.ObjectID) int {
	waiters, ok := p.blocked[id]
	if !ok {
		return 0
	}
	delete(p.blocked, id)
	p.nBlock -= len(waiters)
	p.retry = append(p.retry, waiters...)
	return len(waiters)
}

// take removes and returns the waiters on id without queueing them
func (p *pendingList) take(id types.ObjectID) []*pendingEntry {
	waiters := p.blocked[id]
	delete(p.blocked, id)
	p.nBlock -= len(waiters)
	return waiters
}

func (p *pendingList) waiters(id types.ObjectID) []*pendingEntry {
	return p.blocked[id]
}

func (p *pendingList) hasWaiters(id types.ObjectID) bool {
	return len(p.blocked[id]) > 0
}

// drain hands back the retry list and replaces it with an empty one, so
// entries queued while the caller processes the batch wait for the next pass
func (p *pendingList) drain() []*pendingEntry {
	drained := p.retry
	p.retry = nil
	return drained
}

// drainAll empties both the retry list and the blocked index
func (p *pendingList) drainAll() []*pendingEntry {
	all := p.drain()
	for id, waiters := range p.blocked {
		all = append(all, waiters...)
		delete(p.blocked, id)
	}
	p.nBlock = 0
	return all
}

func (p *pendingList) size() int { return len(p.retry) }

func (p *pendingList) blockedCount() int { return p.nBlock }

func (p *pendingList) blockedIDs() []types.ObjectID {
	ids := types.NewObjectIDSet()
	for id := range p.blocked {
		ids.Add(id)
	}
	return ids.Sorted()
}
