package objectmgr

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/objectcache/internal/cache"
	"github.com/objectfs/objectcache/internal/store"
	"github.com/objectfs/objectcache/pkg/errors"
	"github.com/objectfs/objectcache/pkg/types"
)

// recordingGateway records submissions; tests complete them by hand
type recordingGateway struct {
	mu      sync.Mutex
	faults  []types.ObjectID
	served  int
	flushes [][]*types.ManagedObject
}

func (g *recordingGateway) SubmitFault(id types.ObjectID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.faults = append(g.faults, id)
	return nil
}

func (g *recordingGateway) SubmitFlush(objs []*types.ManagedObject) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.flushes = append(g.flushes, objs)
	return nil
}

func (g *recordingGateway) faultCount(id types.ObjectID) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, f := range g.faults {
		if f == id {
			n++
		}
	}
	return n
}

func (g *recordingGateway) totalFaults() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.faults)
}

func (g *recordingGateway) unserved() []types.ObjectID {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := append([]types.ObjectID(nil), g.faults[g.served:]...)
	g.served = len(g.faults)
	return ids
}

func (g *recordingGateway) flushCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.flushes)
}

func (g *recordingGateway) flush(i int) []*types.ManagedObject {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.flushes[i]
}

// scriptedCollector is a collector whose pause state the test sets
type scriptedCollector struct {
	mu       sync.Mutex
	pausing  bool
	cycle    uint64
	notified int
}

func (c *scriptedCollector) IsPausingOrPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pausing
}

func (c *scriptedCollector) PauseCycle() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cycle
}

func (c *scriptedCollector) NotifyReadyToGC() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notified++
}

func (c *scriptedCollector) setPausing(pausing bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pausing && !c.pausing {
		c.cycle++
	}
	c.pausing = pausing
}

func (c *scriptedCollector) notifications() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.notified
}

type harness struct {
	mgr    *Manager
	store  *store.MemoryStore
	gw     *recordingGateway
	gc     *scriptedCollector
	policy *cache.LRUPolicy
}

func newHarness(t *testing.T, mutate ...func(*Options)) *harness {
	t.Helper()
	h := &harness{
		store:  store.NewMemoryStore(),
		gw:     &recordingGateway{},
		gc:     &scriptedCollector{},
		policy: cache.NewLRUPolicy(),
	}
	opts := Options{
		Store:     h.store,
		Policy:    h.policy,
		Gateway:   h.gw,
		Collector: h.gc,
		Logger:    zerolog.Nop(),
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	mgr, err := New(opts)
	require.NoError(t, err)
	h.mgr = mgr
	return h
}

// completeFaults serves every submitted fault from the store until none are
// left
func (h *harness) completeFaults(t *testing.T) int {
	t.Helper()
	served := 0
	for {
		ids := h.gw.unserved()
		if len(ids) == 0 {
			return served
		}
		for _, id := range ids {
			obj, err := h.store.LoadObject(context.Background(), id)
			if err != nil {
				require.True(t, errors.IsNotFound(err), "unexpected load error: %v", err)
				obj = nil
			}
			h.mgr.FaultCompleted(id, obj)
			served++
		}
	}
}

func (h *harness) seed(t *testing.T, id types.ObjectID, refs ...types.ObjectID) {
	t.Helper()
	obj := types.NewManagedObject(id, []byte(fmt.Sprintf("object-%d", id)), refs...)
	require.NoError(t, h.store.CommitObjects(context.Background(), obj))
}

// makeResident commits ids to the store and faults them into the cache
func (h *harness) makeResident(t *testing.T, ids ...types.ObjectID) {
	t.Helper()
	for _, id := range ids {
		h.seed(t, id)
	}
	require.NoError(t, h.mgr.PreFetchObjectsAndCreate(types.NewObjectIDSet(ids...), nil))
	h.completeFaults(t)
}

// checkout looks ids up and requires the lookup to complete immediately
func (h *harness) checkout(t *testing.T, ids ...types.ObjectID) LookupResults {
	t.Helper()
	req := h.mgr.NewRequest(ids...)
	ok, err := h.mgr.LookupObjectsFor("test", req, 0)
	require.NoError(t, err)
	require.True(t, ok, "lookup of %v should complete immediately", ids)
	res, err := req.Wait(context.Background())
	require.NoError(t, err)
	return res
}

func isDone(r *Request) bool {
	select {
	case <-r.Done():
		return true
	default:
		return false
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidConfig))

	_, err = New(Options{Store: store.NewMemoryStore()})
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidConfig))

	_, err = New(Options{Store: store.NewMemoryStore(), Policy: cache.NewLRUPolicy()})
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidConfig))
}

func TestLookup_FaultThenHit(t *testing.T) {
	h := newHarness(t)
	h.seed(t, 1)

	req := h.mgr.NewRequest(1)
	ok, err := h.mgr.LookupObjectsFor("n1", req, 0)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, h.gw.faultCount(1))
	assert.Equal(t, 1, h.mgr.Snapshot().Faulting)

	h.completeFaults(t)
	require.True(t, isDone(req))
	res, err := req.Wait(context.Background())
	require.NoError(t, err)
	obj := res.Objects[1]
	require.NotNil(t, obj)
	assert.Equal(t, []byte("object-1"), obj.State())
	assert.Empty(t, res.Missing)
	assert.True(t, h.mgr.IsReferenced(1))
	assert.Equal(t, 1, h.mgr.CheckedOutCount())

	require.NoError(t, h.mgr.ReleaseReadOnly(obj))
	assert.Equal(t, 0, h.mgr.CheckedOutCount())
	assert.True(t, h.policy.Contains(1))

	res = h.checkout(t, 1)
	assert.Same(t, obj, res.Objects[1])
	assert.Equal(t, 1, h.gw.totalFaults(), "a cache hit schedules no fault")
	require.NoError(t, h.mgr.ReleaseReadOnly(obj))
}

func TestLookup_MissingObject(t *testing.T) {
	h := newHarness(t)
	h.makeResident(t, 1)

	req := h.mgr.NewRequest(1, 99)
	ok, err := h.mgr.LookupObjectsFor("n1", req, 0)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, h.mgr.CheckedOutCount(), "partial checkouts are undone when a batch blocks")

	h.completeFaults(t)
	res, err := req.Wait(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Objects, 1)
	assert.True(t, res.Missing.Contains(99))
	assert.NotContains(t, h.mgr.ObjectIDsInCache(), types.ObjectID(99))
	assert.Equal(t, 1, h.gw.faultCount(99))

	require.NoError(t, h.mgr.ReleaseAllReadOnly(res.ObjectList()))
	require.NoError(t, h.mgr.checkConsistency())
}

func TestLookup_AtMostOneFault(t *testing.T) {
	h := newHarness(t)
	h.seed(t, 5)

	const callers = 20
	var (
		wg       sync.WaitGroup
		resolved atomic.Int32
		start    = make(chan struct{})
	)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			req := h.mgr.NewRequest(5)
			_, err := h.mgr.LookupObjectsFor(types.NodeID(fmt.Sprintf("node-%d", i)), req, 0)
			if !assert.NoError(t, err) {
				return
			}
			res, err := req.Wait(ctx)
			if !assert.NoError(t, err) {
				return
			}
			resolved.Add(1)
			assert.NoError(t, h.mgr.ReleaseReadOnly(res.Objects[5]))
		}(i)
	}
	close(start)

	require.Eventually(t, func() bool {
		return h.mgr.Snapshot().Blocked == callers
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, 1, h.gw.faultCount(5))

	h.completeFaults(t)
	wg.Wait()

	assert.Equal(t, int32(callers), resolved.Load())
	assert.Equal(t, 1, h.gw.faultCount(5))
	assert.Equal(t, 0, h.mgr.CheckedOutCount())
	require.NoError(t, h.mgr.checkConsistency())
}

func TestLookup_BlockedThenUnblocked(t *testing.T) {
	h := newHarness(t)
	h.makeResident(t, 7)
	held := h.checkout(t, 7)

	const waiters = 8
	var (
		wg       sync.WaitGroup
		resolved atomic.Int32
	)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := h.mgr.NewRequest(7)
			ok, err := h.mgr.LookupObjectsFor(types.NodeID(fmt.Sprintf("node-%d", i)), req, 0)
			if !assert.NoError(t, err) || !assert.False(t, ok) {
				return
			}
			res, err := req.Wait(ctx)
			if !assert.NoError(t, err) {
				return
			}
			resolved.Add(1)
			assert.NoError(t, h.mgr.ReleaseReadOnly(res.Objects[7]))
		}(i)
	}

	require.Eventually(t, func() bool {
		return h.mgr.Snapshot().Blocked == waiters
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, []types.ObjectID{7}, h.mgr.Snapshot().BlockedIDs)

	require.NoError(t, h.mgr.ReleaseReadOnly(held.Objects[7]))
	wg.Wait()

	assert.Equal(t, int32(waiters), resolved.Load())
	snap := h.mgr.Snapshot()
	assert.Equal(t, 0, snap.CheckedOut)
	assert.Equal(t, 0, snap.Blocked)
	assert.Equal(t, 0, snap.Pending)
}

func TestLookup_FirstBlockerWins(t *testing.T) {
	h := newHarness(t)
	h.makeResident(t, 1, 2)
	held := h.checkout(t, 1, 2)

	req := h.mgr.NewRequest(1, 2)
	ok, err := h.mgr.LookupObjectsFor("n1", req, 0)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []types.ObjectID{1}, h.mgr.Snapshot().BlockedIDs)

	// releasing 1 retries the batch, which then blocks on 2
	require.NoError(t, h.mgr.ReleaseReadOnly(held.Objects[1]))
	assert.False(t, isDone(req))
	assert.Equal(t, []types.ObjectID{2}, h.mgr.Snapshot().BlockedIDs)

	require.NoError(t, h.mgr.ReleaseReadOnly(held.Objects[2]))
	require.True(t, isDone(req))
	res, err := req.Wait(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Objects, 2)
	require.NoError(t, h.mgr.ReleaseAllReadOnly(res.ObjectList()))
}

func TestLookup_NewObjects(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.mgr.CreateNewObjects(types.NewObjectIDSet(10)))
	assert.False(t, h.policy.Contains(10), "new objects are not evictable")

	// a lookup that did not create 10 waits for it to be committed
	other := h.mgr.NewRequest(10)
	ok, err := h.mgr.LookupObjectsFor("reader", other, 0)
	require.NoError(t, err)
	assert.False(t, ok)

	creator := h.mgr.NewRequest(10).WithNewObjects(10)
	ok, err = h.mgr.LookupObjectsFor("writer", creator, 0)
	require.NoError(t, err)
	require.True(t, ok)
	res, err := creator.Wait(context.Background())
	require.NoError(t, err)
	obj := res.Objects[10]
	obj.Apply([]byte("created"))

	require.NoError(t, h.mgr.Release(context.Background(), obj))
	assert.Equal(t, 1, h.store.Stats().Adds)
	assert.False(t, obj.IsNew())
	assert.True(t, h.policy.Contains(10))

	require.True(t, isDone(other))
	res, err = other.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("created"), res.Objects[10].State())
	require.NoError(t, h.mgr.ReleaseReadOnly(res.Objects[10]))
}

func TestCheckoutConservation(t *testing.T) {
	h := newHarness(t)
	ids := make([]types.ObjectID, 0, 16)
	for id := types.ObjectID(1); id <= 16; id++ {
		ids = append(ids, id)
	}
	h.makeResident(t, ids...)

	rng := rand.New(rand.NewSource(42))
	var (
		held    [][]*types.ManagedObject
		waiting []*Request
	)

	collect := func() {
		remaining := waiting[:0]
		for _, req := range waiting {
			if !isDone(req) {
				remaining = append(remaining, req)
				continue
			}
			res, err := req.Wait(context.Background())
			require.NoError(t, err)
			held = append(held, res.ObjectList())
		}
		waiting = remaining
	}

	for step := 0; step < 500; step++ {
		if len(held) == 0 || rng.Intn(2) == 0 {
			n := 1 + rng.Intn(4)
			batch := make([]types.ObjectID, 0, n)
			for i := 0; i < n; i++ {
				batch = append(batch, ids[rng.Intn(len(ids))])
			}
			req := h.mgr.NewRequest(batch...)
			_, err := h.mgr.LookupObjectsFor("random", req, rng.Intn(2))
			require.NoError(t, err)
			waiting = append(waiting, req)
		} else {
			i := rng.Intn(len(held))
			require.NoError(t, h.mgr.ReleaseAllReadOnly(held[i]))
			held = append(held[:i], held[i+1:]...)
		}
		collect()
		require.NoError(t, h.mgr.checkConsistency(), "step %d", step)
	}

	for len(held) > 0 || len(waiting) > 0 {
		require.NotEmpty(t, held, "waiting requests with nothing held would never resolve")
		require.NoError(t, h.mgr.ReleaseAllReadOnly(held[0]))
		held = held[1:]
		collect()
		require.NoError(t, h.mgr.checkConsistency())
	}
	assert.Equal(t, 0, h.mgr.CheckedOutCount())
}

func TestLookup_ClosureExpansion(t *testing.T) {
	h := newHarness(t)
	// 1 -> 2 -> 3 -> 4, and 1 -> 5 which is not cached
	h.seed(t, 4)
	h.seed(t, 3, 4)
	h.seed(t, 2, 3)
	h.seed(t, 1, 2, 5)
	require.NoError(t, h.mgr.PreFetchObjectsAndCreate(types.NewObjectIDSet(1, 2, 3, 4), nil))
	h.completeFaults(t)

	req := h.mgr.NewRequest(1)
	ok, err := h.mgr.LookupObjectsFor("n1", req, 2)
	require.NoError(t, err)
	require.True(t, ok)
	res, err := req.Wait(context.Background())
	require.NoError(t, err)

	got := make([]types.ObjectID, 0, len(res.Objects))
	for _, obj := range res.ObjectList() {
		got = append(got, obj.ID())
	}
	assert.Equal(t, []types.ObjectID{1, 2, 3}, got)
	assert.Equal(t, []types.ObjectID{4, 5}, res.LookupPending.Sorted())
	assert.Equal(t, 3, h.mgr.CheckedOutCount())
	assert.Equal(t, 4, h.gw.totalFaults(), "closure expansion never faults")

	require.NoError(t, h.mgr.ReleaseAllReadOnly(res.ObjectList()))
}

func TestLookup_ClosureSkipsCheckedOut(t *testing.T) {
	h := newHarness(t)
	h.seed(t, 2)
	h.seed(t, 1, 2)
	require.NoError(t, h.mgr.PreFetchObjectsAndCreate(types.NewObjectIDSet(1, 2), nil))
	h.completeFaults(t)

	held := h.checkout(t, 2)
	res := h.checkout(t, 1)
	assert.Len(t, res.Objects, 1)

	req := h.mgr.NewRequest(1)
	require.NoError(t, h.mgr.ReleaseReadOnly(res.Objects[1]))
	ok, err := h.mgr.LookupObjectsFor("n1", req, 3)
	require.NoError(t, err)
	require.True(t, ok)
	res, err = req.Wait(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Objects, 1, "a checked-out reachable object is left alone")
	assert.Empty(t, res.LookupPending)

	require.NoError(t, h.mgr.ReleaseReadOnly(res.Objects[1]))
	require.NoError(t, h.mgr.ReleaseReadOnly(held.Objects[2]))
}

func TestLookup_ClosureSkipsNewAndSingleUse(t *testing.T) {
	h := newHarness(t)
	h.seed(t, 1, 2, 3)
	require.NoError(t, h.mgr.PreFetchObjectsAndCreate(types.NewObjectIDSet(1), nil))
	h.completeFaults(t)

	// 2 is uncommitted and 3 is a single-use reference
	h.mgr.mu.Lock()
	h.mgr.refs[2] = newResidentReference(types.NewManagedObject(2, nil), true)
	single := newResidentReference(types.RestoreManagedObject(3, nil, nil), false)
	single.removeOnRelease = true
	h.mgr.refs[3] = single
	h.mgr.mu.Unlock()

	req := h.mgr.NewRequest(1)
	ok, err := h.mgr.LookupObjectsFor("n1", req, 3)
	require.NoError(t, err)
	require.True(t, ok)
	res, err := req.Wait(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Objects, 1, "new and single-use reachable objects are left alone")
	assert.Empty(t, res.LookupPending)
	assert.Equal(t, 1, h.mgr.CheckedOutCount())

	h.mgr.mu.Lock()
	assert.False(t, h.mgr.refs[2].referenced)
	assert.False(t, h.mgr.refs[3].referenced)
	h.mgr.mu.Unlock()

	require.NoError(t, h.mgr.ReleaseReadOnly(res.Objects[1]))
}

func TestRelease_Validation(t *testing.T) {
	h := newHarness(t)
	h.makeResident(t, 1)

	stranger := types.NewManagedObject(1, nil)
	err := h.mgr.ReleaseReadOnly(stranger)
	require.Error(t, err)
	assert.True(t, errors.IsInvariantViolation(err))

	res := h.checkout(t, 1)
	obj := res.Objects[1]
	obj.Apply([]byte("changed"))

	err = h.mgr.ReleaseReadOnly(obj)
	require.Error(t, err)
	assert.True(t, errors.IsInvariantViolation(err))
	assert.True(t, h.mgr.IsReferenced(1), "a rejected release changes nothing")

	require.NoError(t, h.mgr.Release(context.Background(), obj))
	assert.True(t, obj.IsDirty(), "dirty objects wait for eviction to be written back")

	err = h.mgr.Release(context.Background(), obj)
	assert.True(t, errors.IsInvariantViolation(err), "double release")
	require.NoError(t, h.mgr.checkConsistency())
}

func TestRelease_Paranoid(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Paranoid = true })
	h.makeResident(t, 1)
	commits := h.store.Stats().Commits

	res := h.checkout(t, 1)
	obj := res.Objects[1]
	obj.Apply([]byte("durable"))
	require.NoError(t, h.mgr.Release(context.Background(), obj))

	assert.Equal(t, commits+1, h.store.Stats().Commits)
	assert.False(t, obj.IsDirty())
	stored, err := h.store.LoadObject(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("durable"), stored.State())
}

func TestRelease_CommitFailureKeepsCheckout(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.mgr.CreateNewObjects(types.NewObjectIDSet(3)))
	req := h.mgr.NewRequest(3).WithNewObjects(3)
	ok, err := h.mgr.LookupObjectsFor("n1", req, 0)
	require.NoError(t, err)
	require.True(t, ok)
	res, err := req.Wait(context.Background())
	require.NoError(t, err)

	h.store.SetCommitError(errors.NewError(errors.ErrCodeStorageWrite, "disk full"))
	err = h.mgr.Release(context.Background(), res.Objects[3])
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeStorageWrite))
	assert.True(t, h.mgr.IsReferenced(3))

	h.store.SetCommitError(nil)
	require.NoError(t, h.mgr.Release(context.Background(), res.Objects[3]))
	assert.False(t, h.mgr.IsReferenced(3))
}

func TestEviction_Safety(t *testing.T) {
	h := newHarness(t)
	h.makeResident(t, 1, 2, 3, 4, 5)
	held := h.checkout(t, 1)
	require.True(t, h.mgr.Pin(2))
	require.NoError(t, h.mgr.CreateNewObjects(types.NewObjectIDSet(6)))

	stats, err := h.mgr.EvictCache(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Evicted)
	assert.Equal(t, 0, stats.Flushed)
	assert.Equal(t, 3, stats.Size)

	cached := h.mgr.ObjectIDsInCache()
	assert.Equal(t, []types.ObjectID{1, 2, 6}, cached.Sorted())
	assert.True(t, h.mgr.IsReferenced(1))

	require.True(t, h.mgr.Unpin(2))
	require.NoError(t, h.mgr.ReleaseReadOnly(held.Objects[1]))
	stats, err = h.mgr.EvictCache(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Evicted)
	assert.Equal(t, []types.ObjectID{6}, h.mgr.ObjectIDsInCache().Sorted())
	assert.False(t, h.mgr.Pin(99))
}

func TestEviction_FlushesDirtyObjects(t *testing.T) {
	h := newHarness(t)
	h.makeResident(t, 1, 2)

	res := h.checkout(t, 1)
	obj := res.Objects[1]
	obj.Apply([]byte("dirty"))
	require.NoError(t, h.mgr.Release(context.Background(), obj))

	type result struct {
		stats EvictionStats
		err   error
	}
	done := make(chan result, 1)
	go func() {
		stats, err := h.mgr.EvictCache(context.Background(), 2)
		done <- result{stats, err}
	}()

	require.Eventually(t, func() bool { return h.gw.flushCount() == 1 }, 2*time.Second, time.Millisecond)
	assert.True(t, h.mgr.IsReferenced(1), "objects being flushed are checked out")
	assert.Equal(t, 1, h.mgr.Snapshot().Flushing)
	select {
	case <-done:
		t.Fatal("eviction returned before the flush completed")
	default:
	}

	// a lookup arriving during the flush keeps the object cached
	waiter := h.mgr.NewRequest(1)
	ok, err := h.mgr.LookupObjectsFor("n1", waiter, 0)
	require.NoError(t, err)
	assert.False(t, ok)

	flushed := h.gw.flush(0)
	require.NoError(t, h.store.CommitObjects(context.Background(), flushed...))
	h.mgr.FlushCompleted(flushed)

	r := <-done
	require.NoError(t, r.err)
	assert.Equal(t, 2, r.stats.Evicted)
	assert.Equal(t, 1, r.stats.Flushed)
	assert.False(t, obj.IsDirty())

	require.True(t, isDone(waiter))
	wres, err := waiter.Wait(context.Background())
	require.NoError(t, err)
	assert.Same(t, obj, wres.Objects[1])
	require.NoError(t, h.mgr.ReleaseReadOnly(obj))
	assert.Equal(t, []types.ObjectID{1}, h.mgr.ObjectIDsInCache().Sorted())
	assert.Equal(t, 0, h.mgr.CheckedOutCount())
}

func TestEviction_FlushFailureKeepsObject(t *testing.T) {
	h := newHarness(t)
	h.makeResident(t, 1)

	res := h.checkout(t, 1)
	obj := res.Objects[1]
	obj.Apply([]byte("dirty"))
	require.NoError(t, h.mgr.Release(context.Background(), obj))

	done := make(chan error, 1)
	go func() {
		_, err := h.mgr.EvictCache(context.Background(), 1)
		done <- err
	}()
	require.Eventually(t, func() bool { return h.gw.flushCount() == 1 }, 2*time.Second, time.Millisecond)
	h.mgr.FlushFailed(h.gw.flush(0), errors.NewError(errors.ErrCodeStorageWrite, "unavailable"))

	require.NoError(t, <-done)
	assert.Equal(t, []types.ObjectID{1}, h.mgr.ObjectIDsInCache().Sorted())
	assert.True(t, obj.IsDirty())
	assert.False(t, h.mgr.IsReferenced(1))
	assert.True(t, h.policy.Contains(1), "the object can be evicted again")
}

func TestEviction_WaitsOutGCPause(t *testing.T) {
	h := newHarness(t)
	h.makeResident(t, 1)
	h.gc.setPausing(true)

	done := make(chan EvictionStats, 1)
	go func() {
		stats, err := h.mgr.EvictCache(context.Background(), 1)
		assert.NoError(t, err)
		done <- stats
	}()

	require.Never(t, func() bool { return len(done) > 0 }, 150*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, 1, h.mgr.Size())

	h.gc.setPausing(false)
	require.NoError(t, h.mgr.NotifyGCComplete(context.Background(), nil))
	stats := <-done
	assert.Equal(t, 1, stats.Evicted)
	assert.Equal(t, 0, h.mgr.Size())

	ctx, cancel := context.WithCancel(context.Background())
	h.gc.setPausing(true)
	cancel()
	_, err := h.mgr.EvictCache(ctx, 1)
	assert.True(t, errors.HasCode(err, errors.ErrCodeOperationCanceled))
}

func TestGC_Quiescence(t *testing.T) {
	h := newHarness(t)
	h.makeResident(t, 1, 2, 3)
	held := h.checkout(t, 1)

	h.gc.setPausing(true)

	req := h.mgr.NewRequest(2)
	ok, err := h.mgr.LookupObjectsFor("n1", req, 0)
	require.NoError(t, err)
	assert.False(t, ok, "no checkouts while the collector is pausing")
	assert.Equal(t, 1, h.mgr.Snapshot().Pending)

	ready := make(chan error, 1)
	go func() { ready <- h.mgr.WaitUntilReadyToGC(context.Background()) }()
	require.Never(t, func() bool { return len(ready) > 0 }, 100*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, 0, h.gc.notifications())

	require.NoError(t, h.mgr.ReleaseReadOnly(held.Objects[1]))
	require.NoError(t, <-ready)
	assert.Equal(t, 1, h.gc.notifications())

	// reads by the collector are allowed during the pause and do not notify again
	refs, err := h.mgr.ObjectReferences(context.Background(), 3)
	require.NoError(t, err)
	assert.Empty(t, refs)
	view, err := h.mgr.InspectObject(context.Background(), 3, -1)
	require.NoError(t, err)
	assert.Equal(t, types.ObjectID(3), view.ID)
	require.NoError(t, h.mgr.WaitUntilReadyToGC(context.Background()))
	assert.Equal(t, 1, h.gc.notifications())
	assert.False(t, isDone(req))

	err = h.mgr.NotifyGCComplete(context.Background(), types.NewObjectIDSet(3))
	assert.True(t, errors.IsInvariantViolation(err), "completion while still paused")

	h.gc.setPausing(false)
	require.NoError(t, h.mgr.NotifyGCComplete(context.Background(), types.NewObjectIDSet(3)))

	assert.NotContains(t, h.mgr.ObjectIDsInCache(), types.ObjectID(3))
	present, err := h.store.ContainsObject(context.Background(), 3)
	require.NoError(t, err)
	assert.False(t, present)
	assert.False(t, h.policy.Contains(3))

	require.True(t, isDone(req), "pending lookups resume after collection")
	res, err := req.Wait(context.Background())
	require.NoError(t, err)
	require.NoError(t, h.mgr.ReleaseReadOnly(res.Objects[2]))

	// a second pause cycle notifies again
	h.gc.setPausing(true)
	require.NoError(t, h.mgr.WaitUntilReadyToGC(context.Background()))
	assert.Equal(t, 2, h.gc.notifications())
	h.gc.setPausing(false)

	err = h.mgr.WaitUntilReadyToGC(context.Background())
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidState))
}

func TestGC_NotifiesOncePerPauseCycle(t *testing.T) {
	h := newHarness(t)
	h.makeResident(t, 1)
	ctx := context.Background()

	h.gc.setPausing(true)
	require.NoError(t, h.mgr.WaitUntilReadyToGC(ctx))
	require.NoError(t, h.mgr.WaitUntilReadyToGC(ctx))
	assert.Equal(t, 1, h.gc.notifications())

	// the pause ends without a completion and without any release
	h.gc.setPausing(false)
	h.gc.setPausing(true)
	require.NoError(t, h.mgr.WaitUntilReadyToGC(ctx))
	assert.Equal(t, 2, h.gc.notifications())
}

func TestGC_CompletionWaitsForCheckouts(t *testing.T) {
	h := newHarness(t)
	h.makeResident(t, 4)
	held := h.checkout(t, 4)

	done := make(chan error, 1)
	go func() { done <- h.mgr.NotifyGCComplete(context.Background(), types.NewObjectIDSet(4)) }()
	require.Never(t, func() bool { return len(done) > 0 }, 100*time.Millisecond, 5*time.Millisecond)
	assert.Contains(t, h.mgr.ObjectIDsInCache(), types.ObjectID(4))

	require.NoError(t, h.mgr.ReleaseReadOnly(held.Objects[4]))
	require.NoError(t, <-done)
	assert.NotContains(t, h.mgr.ObjectIDsInCache(), types.ObjectID(4))
	assert.Equal(t, 0, h.store.Len())

	// a stale lookup after collection finds nothing
	late := h.mgr.NewRequest(4)
	ok, err := h.mgr.LookupObjectsFor("n2", late, 0)
	require.NoError(t, err)
	require.False(t, ok)
	h.completeFaults(t)
	res, err := late.Wait(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Objects)
	assert.True(t, res.Missing.Contains(4))
	assert.Equal(t, 0, h.mgr.CheckedOutCount())
}

func TestRoundTrip(t *testing.T) {
	h := newHarness(t)
	const a = types.ObjectID(0xA)
	ctx := context.Background()

	require.NoError(t, h.mgr.CreateObject(types.NewManagedObject(a, []byte("payload"))))
	req := h.mgr.NewRequest(a).WithNewObjects(a)
	ok, err := h.mgr.LookupObjectsFor("n1", req, 0)
	require.NoError(t, err)
	require.True(t, ok)
	res, err := req.Wait(ctx)
	require.NoError(t, err)
	require.NoError(t, h.mgr.Release(ctx, res.Objects[a]))
	assert.True(t, h.policy.Contains(a))

	res = h.checkout(t, a)
	assert.Equal(t, 0, h.gw.totalFaults())
	require.NoError(t, h.mgr.ReleaseReadOnly(res.Objects[a]))

	stats, err := h.mgr.EvictCache(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Evicted)
	assert.Equal(t, 0, h.mgr.Size())

	req = h.mgr.NewRequest(a)
	ok, err = h.mgr.LookupObjectsFor("n1", req, 0)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, h.gw.faultCount(a))
	assert.Equal(t, 1, h.mgr.Snapshot().Faulting)

	h.completeFaults(t)
	res, err = req.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), res.Objects[a].State())
	require.NoError(t, h.mgr.ReleaseReadOnly(res.Objects[a]))
}

func TestConcurrentMiss(t *testing.T) {
	h := newHarness(t)
	const b = types.ObjectID(0xB)
	h.seed(t, b)

	first := h.mgr.NewRequest(b)
	second := h.mgr.NewRequest(b)
	var wg sync.WaitGroup
	for i, req := range []*Request{first, second} {
		wg.Add(1)
		go func(i int, req *Request) {
			defer wg.Done()
			_, err := h.mgr.LookupObjectsFor(types.NodeID(fmt.Sprintf("node-%d", i)), req, 0)
			assert.NoError(t, err)
		}(i, req)
	}
	wg.Wait()
	assert.Equal(t, 1, h.gw.faultCount(b))

	h.completeFaults(t)

	results := make(chan *types.ManagedObject, 2)
	for _, req := range []*Request{first, second} {
		wg.Add(1)
		go func(req *Request) {
			defer wg.Done()
			res, err := req.Wait(context.Background())
			if !assert.NoError(t, err) {
				return
			}
			results <- res.Objects[b]
			assert.NoError(t, h.mgr.ReleaseReadOnly(res.Objects[b]))
		}(req)
	}
	wg.Wait()
	close(results)

	var objs []*types.ManagedObject
	for obj := range results {
		objs = append(objs, obj)
	}
	require.Len(t, objs, 2)
	assert.Same(t, objs[0], objs[1])
	assert.Equal(t, 1, h.gw.faultCount(b))
}

func TestSnapshotString(t *testing.T) {
	h := newHarness(t)
	h.makeResident(t, 1)
	held := h.checkout(t, 1)

	snap := h.mgr.Snapshot()
	assert.Equal(t, 1, snap.References)
	assert.Equal(t, 1, snap.Resident)
	assert.Equal(t, 1, snap.CheckedOut)
	assert.Equal(t, 1, snap.Evictable)
	assert.Contains(t, h.mgr.String(), "checked out : 1")

	require.NoError(t, h.mgr.ReleaseReadOnly(held.Objects[1]))
}
