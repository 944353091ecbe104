package objectmgr

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/objectfs/objectcache/pkg/errors"
	"github.com/objectfs/objectcache/pkg/types"
)

const (
	component = "objectmgr"

	defaultMaxCommitSize    = 500
	defaultDeleteBatchSize  = 5000
	defaultMaxLookupObjects = 5000

	pauseWaitInterval   = 100 * time.Millisecond
	readyWaitInterval   = 10 * time.Second
	garbageWaitInterval = time.Second
	slowRemoveThreshold = 300 * time.Millisecond
	contentionWarnEvery = 500
)

// Options configures a Manager
type Options struct {
	Store   types.Store
	Policy  types.EvictionPolicy
	Gateway types.ObjectGateway

	// Collector defaults to one that never pauses
	Collector types.GCCoordinator

	// Stats defaults to a no-op listener
	Stats  StatsListener
	Logger zerolog.Logger

	// Paranoid commits dirty objects before they are released
	Paranoid bool

	MaxCommitSize    int
	DeleteBatchSize  int
	MaxLookupObjects int
}

// Manager is the object cache. It owns the reference table and the pending
// queue and hands all store I/O to the gateway. Every state transition runs
// under one lock; nothing blocks on I/O while holding it.
type Manager struct {
	mu   sync.Mutex
	cond *sync.Cond

	refs          map[types.ObjectID]*reference
	pending       *pendingList
	checkedOut    int
	notifiedCycle uint64
	shutdown      bool

	store     types.Store
	policy    types.EvictionPolicy
	gateway   types.ObjectGateway
	collector types.GCCoordinator
	stats     StatsListener
	flushes   *counter

	paranoid         bool
	maxCommitSize    int
	deleteBatchSize  int
	maxLookupObjects int

	logger zerolog.Logger
}

// New creates a manager. The gateway must be started with the manager as its
// callbacks before lookups can complete.
func New(opts Options) (*Manager, error) {
	switch {
	case opts.Store == nil:
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "store is required").WithComponent(component)
	case opts.Policy == nil:
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "eviction policy is required").WithComponent(component)
	case opts.Gateway == nil:
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "gateway is required").WithComponent(component)
	}

	m := &Manager{
		refs:             make(map[types.ObjectID]*reference),
		pending:          newPendingList(),
		store:            opts.Store,
		policy:           opts.Policy,
		gateway:          opts.Gateway,
		collector:        opts.Collector,
		stats:            opts.Stats,
		flushes:          newCounter(),
		paranoid:         opts.Paranoid,
		maxCommitSize:    opts.MaxCommitSize,
		deleteBatchSize:  opts.DeleteBatchSize,
		maxLookupObjects: opts.MaxLookupObjects,
		logger:           opts.Logger.With().Str("component", component).Logger(),
	}
	m.cond = sync.NewCond(&m.mu)

	if m.collector == nil {
		m.collector = nullCollector{}
	}
	if m.stats == nil {
		m.stats = nopStats{}
	}
	if m.maxCommitSize <= 0 {
		m.maxCommitSize = defaultMaxCommitSize
	}
	if m.deleteBatchSize <= 0 {
		m.deleteBatchSize = defaultDeleteBatchSize
	}
	if m.maxLookupObjects <= 0 {
		m.maxLookupObjects = defaultMaxLookupObjects
	}
	return m, nil
}

// SetCollector installs the collector the manager coordinates with
func (m *Manager) SetCollector(c types.GCCoordinator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c == nil {
		c = nullCollector{}
	}
	m.collector = c
}

type nullCollector struct{}

func (nullCollector) IsPausingOrPaused() bool { return false }
func (nullCollector) PauseCycle() uint64      { return 0 }
func (nullCollector) NotifyReadyToGC()        {}

// delivery is a lookup result waiting to be handed to its caller
type delivery struct {
	rc      ResultsContext
	results LookupResults
}

// outbox collects work produced under the lock that must run after it is
// released
type outbox struct {
	faults  []types.ObjectID
	flushes [][]*types.ManagedObject
	results []delivery
	failed  []failer
}

func (m *Manager) lock() *outbox {
	m.mu.Lock()
	return &outbox{}
}

func (m *Manager) unlock(out *outbox) {
	m.mu.Unlock()
	m.dispatch(out)
}

func (m *Manager) dispatch(out *outbox) {
	for _, id := range out.faults {
		if err := m.gateway.SubmitFault(id); err != nil {
			m.logger.Error().Err(err).Stringer("object_id", id).Msg("fault submission failed, reporting object missing")
			m.FaultCompleted(id, nil)
		}
	}
	for _, d := range out.results {
		d.rc.SetResults(d.results)
	}
	for _, f := range out.failed {
		f.Fail(m.shutdownError("Stop"))
	}
	for _, objs := range out.flushes {
		if err := m.gateway.SubmitFlush(objs); err != nil {
			m.FlushFailed(objs, err)
		}
	}
}

// LookupObjectsFor checks out every identifier rc asks for. It returns true
// when results were produced immediately; otherwise the batch is parked and
// rc.SetResults is called once it can be satisfied. maxDepth > 0 also checks
// out resident objects reachable within that many hops.
func (m *Manager) LookupObjectsFor(caller types.NodeID, rc ResultsContext, maxDepth int) (bool, error) {
	return m.lookup(caller, newLookupContext(rc), maxDepth)
}

// NewRequest returns a waitable lookup request for ids
func (m *Manager) NewRequest(ids ...types.ObjectID) *Request {
	return newRequest(m, types.NewObjectIDSet(ids...))
}

func (m *Manager) lookup(caller types.NodeID, lc *lookupContext, maxDepth int) (bool, error) {
	out := m.lock()
	defer m.unlock(out)

	if m.shutdown {
		return false, m.shutdownError("LookupObjectsFor")
	}
	return m.lookupLocked(&pendingEntry{caller: caller, ctx: lc, maxDepth: maxDepth}, out), nil
}

func (m *Manager) lookupLocked(p *pendingEntry, out *outbox) bool {
	lc := p.ctx
	if lc.access == accessReadWrite && m.collector.IsPausingOrPaused() {
		m.pending.add(p)
		return false
	}

	objects := make(map[types.ObjectID]*types.ManagedObject)
	newIDs := lc.rc.NewObjectIDs()
	available := true
	var blockedOn types.ObjectID

	// Every identifier is resolved even after the batch is known to block so
	// misses are counted and faults start early.
	for _, id := range lc.rc.LookupIDs().Sorted() {
		if lc.missing.Contains(id) {
			continue
		}
		ref := m.resolve(lc, id, out)
		if !available {
			continue
		}
		if ref.state == Faulting || ref.referenced || (ref.isNew && !newIDs.Contains(id)) {
			available = false
			blockedOn = id
			continue
		}
		m.markReferenced(ref)
		objects[id] = ref.obj
	}

	if !available {
		for id := range objects {
			m.unmarkReferenced(m.refs[id])
		}
		lc.processed++
		if lc.processed%contentionWarnEvery == contentionWarnEvery-1 {
			m.logger.Warn().
				Int("processed", lc.processed).
				Int("pending", m.pending.size()).
				Int("blocked", m.pending.blockedCount()).
				Str("caller", string(p.caller)).
				Int("max_depth", p.maxDepth).
				Msg("lookup retried many times")
		}
		if ref := m.refs[blockedOn]; ref.isNew && !ref.referenced {
			m.logger.Warn().Stringer("object_id", blockedOn).Msg("lookup blocked on uncommitted new object")
		}
		m.pending.block(blockedOn, p)
		return false
	}

	further := m.expandClosure(p.maxDepth, objects)
	out.results = append(out.results, delivery{
		rc: lc.rc,
		results: LookupResults{
			Objects:       objects,
			Missing:       lc.missing.Clone(),
			LookupPending: further,
		},
	})
	return true
}

// resolve returns the reference for id, starting a fault when it is absent
func (m *Manager) resolve(lc *lookupContext, id types.ObjectID, out *outbox) *reference {
	ref, ok := m.refs[id]
	if !ok {
		if lc.updateStats() {
			m.stats.CacheMiss()
		}
		return m.startFault(id, lc.removeOnRelease, out)
	}
	if ref.state == Faulting {
		if lc.updateStats() {
			m.stats.CacheMiss()
		}
		return ref
	}

	if lc.updateStats() {
		m.stats.CacheHit()
	}
	switch {
	case ref.cacheManaged():
		m.policy.MarkReferenced(id)
	case ref.removeOnRelease && !lc.removeOnRelease && !ref.referenced && !ref.isNew:
		// a regular lookup keeps a single-use reference in the cache
		ref.removeOnRelease = false
		m.policy.Add(id)
	}
	return ref
}

func (m *Manager) startFault(id types.ObjectID, removeOnRelease bool, out *outbox) *reference {
	ref := newFaultingReference(id, removeOnRelease)
	m.refs[id] = ref
	out.faults = append(out.faults, id)
	m.logger.Debug().Stringer("object_id", id).Msg("fault scheduled")
	return ref
}

func (m *Manager) markReferenced(ref *reference) {
	ref.referenced = true
	m.checkedOut++
}

func (m *Manager) unmarkReferenced(ref *reference) {
	ref.referenced = false
	m.checkedOut--
}

// Release checks obj back in after a write. New objects get their first
// durable write; in paranoid mode dirty objects are committed first.
func (m *Manager) Release(ctx context.Context, obj *types.ManagedObject) error {
	return m.ReleaseAll(ctx, []*types.ManagedObject{obj})
}

// ReleaseAll checks objs back in after a write
func (m *Manager) ReleaseAll(ctx context.Context, objs []*types.ManagedObject) error {
	if len(objs) == 0 {
		return nil
	}

	m.mu.Lock()
	_, err := m.checkedOutRefs("ReleaseAll", objs, false)
	m.mu.Unlock()
	if err != nil {
		return err
	}

	if err := m.commitForRelease(ctx, objs); err != nil {
		return err
	}

	out := m.lock()
	defer m.unlock(out)

	refs, err := m.checkedOutRefs("ReleaseAll", objs, false)
	if err != nil {
		return err
	}
	for _, ref := range refs {
		m.basicRelease(ref)
	}
	m.postRelease(out)
	return nil
}

// ReleaseReadOnly checks obj back in after a read. Releasing a modified,
// committed object this way is an invariant violation.
func (m *Manager) ReleaseReadOnly(obj *types.ManagedObject) error {
	return m.ReleaseAllReadOnly([]*types.ManagedObject{obj})
}

// ReleaseAllReadOnly checks objs back in after a read
func (m *Manager) ReleaseAllReadOnly(objs []*types.ManagedObject) error {
	if len(objs) == 0 {
		return nil
	}

	out := m.lock()
	defer m.unlock(out)

	refs, err := m.checkedOutRefs("ReleaseAllReadOnly", objs, true)
	if err != nil {
		return err
	}
	for _, ref := range refs {
		m.basicRelease(ref)
	}
	m.postRelease(out)
	return nil
}

// checkedOutRefs validates that every object is checked out before anything
// is released
func (m *Manager) checkedOutRefs(op string, objs []*types.ManagedObject, readOnly bool) ([]*reference, error) {
	refs := make([]*reference, 0, len(objs))
	for _, obj := range objs {
		ref := m.refs[obj.ID()]
		if ref == nil || ref.obj != obj || !ref.referenced {
			return nil, m.invariant(op, "release of object %s that is not checked out", obj.ID())
		}
		if readOnly && !obj.IsNew() && obj.IsDirty() {
			return nil, m.invariant(op, "object %s modified during a read-only checkout", obj.ID())
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// commitForRelease performs the store writes a release needs. The caller
// holds the checkouts, so the objects cannot change underneath it.
func (m *Manager) commitForRelease(ctx context.Context, objs []*types.ManagedObject) error {
	var dirty []*types.ManagedObject
	for _, obj := range objs {
		if obj.IsNew() {
			if err := m.store.AddNewObject(ctx, obj); err != nil {
				return errors.Wrap(err, storeCode(err, errors.ErrCodeStorageWrite), "add new object").
					WithComponent(component).
					WithOperation("Release").
					WithDetail("object_id", obj.ID().String())
			}
			obj.MarkCommitted()
			continue
		}
		if m.paranoid && obj.IsDirty() {
			dirty = append(dirty, obj)
		}
	}

	for _, batch := range chunkObjects(dirty, m.maxCommitSize) {
		if err := m.store.CommitObjects(ctx, batch...); err != nil {
			return errors.Wrap(err, storeCode(err, errors.ErrCodeStorageWrite), "commit before release").
				WithComponent(component).
				WithOperation("Release")
		}
		for _, obj := range batch {
			obj.MarkClean()
		}
	}
	return nil
}

func (m *Manager) basicRelease(ref *reference) {
	if ref.isNew && !ref.obj.IsNew() {
		ref.isNew = false
		if !ref.removeOnRelease {
			m.policy.Add(ref.id)
		}
	}
	if ref.removeOnRelease {
		if ref.isNew || ref.obj.IsDirty() {
			_ = m.invariant("Release", "single-use reference %s released dirty, keeping it cached", ref.id)
			ref.removeOnRelease = false
			if ref.cacheManaged() {
				m.policy.Add(ref.id)
			}
		} else {
			delete(m.refs, ref.id)
		}
	}
	m.unmarkReferenced(ref)
	m.pending.unblock(ref.id)
}

// postRelease either advances a GC pause or retries pending lookups. During
// a pause only read lookups are retried.
func (m *Manager) postRelease(out *outbox) {
	m.cond.Broadcast()
	if m.collector.IsPausingOrPaused() {
		m.checkAndNotifyGC()
		m.processPendingLocked(out, accessRead)
		return
	}
	m.processPendingLocked(out, accessReadWrite)
}

// processPendingLocked retries the pending lookups. With accessRead only
// read lookups run; the rest stay queued.
func (m *Manager) processPendingLocked(out *outbox, level accessLevel) {
	if m.shutdown || m.pending.size() == 0 {
		return
	}
	for _, p := range m.pending.drain() {
		if level == accessRead && p.ctx.access != accessRead {
			m.pending.add(p)
			continue
		}
		m.lookupLocked(p, out)
	}
}

// checkAndNotifyGC notifies the collector at most once per pause cycle
func (m *Manager) checkAndNotifyGC() {
	cycle := m.collector.PauseCycle()
	if m.checkedOut != 0 || m.notifiedCycle == cycle {
		return
	}
	m.notifiedCycle = cycle
	m.logger.Info().Msg("checkouts drained, notifying collector")
	m.collector.NotifyReadyToGC()
	m.cond.Broadcast()
}

// FaultCompleted applies the result of a fault. A nil obj means id does not
// exist; lookups waiting on it report it missing.
func (m *Manager) FaultCompleted(id types.ObjectID, obj *types.ManagedObject) {
	out := m.lock()
	defer m.unlock(out)

	ref := m.refs[id]
	if ref == nil || ref.state != Faulting {
		_ = m.invariant("FaultCompleted", "fault completed for %s without a faulting placeholder", id)
		return
	}

	if obj == nil {
		delete(m.refs, id)
		for _, w := range m.pending.waiters(id) {
			w.ctx.missing.Add(id)
		}
		m.stats.ObjectFaulted(false)
		m.logger.Warn().Stringer("object_id", id).Msg("request for non-existent object")
	} else {
		if obj.ID() != id {
			_ = m.invariant("FaultCompleted", "fault for %s returned object %s", id, obj.ID())
			return
		}
		ref.materialize(obj)
		if !ref.removeOnRelease {
			m.policy.Add(id)
		}
		m.stats.ObjectFaulted(true)
	}

	m.pending.unblock(id)
	m.postRelease(out)
}

// FlushCompleted finishes eviction of flushed objects. Objects other lookups
// are already waiting for stay cached.
func (m *Manager) FlushCompleted(objs []*types.ManagedObject) {
	out := m.lock()
	defer m.unlock(out)
	defer m.flushes.decrement(len(objs))

	for _, obj := range objs {
		ref := m.refs[obj.ID()]
		if ref == nil || ref.obj != obj || !ref.referenced {
			_ = m.invariant("FlushCompleted", "flushed object %s is not checked out for eviction", obj.ID())
			continue
		}
		obj.MarkClean()
		m.unmarkReferenced(ref)
		if m.pending.hasWaiters(ref.id) {
			m.policy.Add(ref.id)
		} else {
			delete(m.refs, ref.id)
		}
		m.pending.unblock(ref.id)
	}
	m.stats.ObjectsFlushed(len(objs))
	m.postRelease(out)
}

// FlushFailed returns objects whose write-back failed to the cache. They
// stay dirty and become eviction candidates again.
func (m *Manager) FlushFailed(objs []*types.ManagedObject, err error) {
	out := m.lock()
	defer m.unlock(out)
	defer m.flushes.decrement(len(objs))

	m.logger.Error().Err(err).Int("objects", len(objs)).Msg("flush failed, objects stay cached")
	for _, obj := range objs {
		ref := m.refs[obj.ID()]
		if ref == nil || ref.obj != obj || !ref.referenced {
			_ = m.invariant("FlushFailed", "flushed object %s is not checked out for eviction", obj.ID())
			continue
		}
		m.unmarkReferenced(ref)
		if ref.cacheManaged() {
			m.policy.Add(ref.id)
		}
		m.pending.unblock(ref.id)
	}
	m.postRelease(out)
}

// EvictCache drops up to n evictable objects. Clean objects are removed at
// once; dirty ones are flushed first and the call returns after their
// write-back finishes. A GC pause in progress is waited out.
func (m *Manager) EvictCache(ctx context.Context, n int) (EvictionStats, error) {
	stats := EvictionStats{Requested: n}
	if n <= 0 {
		return stats, nil
	}

	out := m.lock()
	for m.collector.IsPausingOrPaused() && !m.shutdown {
		if err := m.waitLocked(ctx, pauseWaitInterval); err != nil {
			m.unlock(out)
			return stats, err
		}
	}
	if m.shutdown {
		m.unlock(out)
		return stats, m.shutdownError("EvictCache")
	}

	candidates := m.policy.RemovalCandidates(n, m.isEvictable)
	stats.Candidates = len(candidates)

	var toFlush []*types.ManagedObject
	removed := 0
	for _, id := range candidates {
		ref := m.refs[id]
		if ref == nil || !ref.evictable() {
			continue
		}
		m.policy.Remove(id)
		if ref.obj.IsDirty() {
			m.markReferenced(ref)
			toFlush = append(toFlush, ref.obj)
			continue
		}
		delete(m.refs, id)
		m.pending.unblock(id)
		removed++
	}

	if len(toFlush) > 0 {
		m.flushes.increment(len(toFlush))
		out.flushes = chunkObjects(toFlush, m.maxCommitSize)
	}
	stats.Evicted = removed + len(toFlush)
	stats.Flushed = len(toFlush)
	m.stats.ObjectsEvicted(stats.Evicted)
	if removed > 0 {
		m.postRelease(out)
	}
	m.unlock(out)

	if len(toFlush) > 0 {
		if err := m.flushes.waitUntilZero(ctx); err != nil {
			return stats, err
		}
	}
	stats.Size = m.Size()

	m.logger.Debug().
		Int("requested", n).
		Int("evicted", stats.Evicted).
		Int("flushed", stats.Flushed).
		Int("size", stats.Size).
		Msg("eviction pass complete")
	return stats, nil
}

func (m *Manager) isEvictable(id types.ObjectID) bool {
	ref := m.refs[id]
	return ref != nil && ref.evictable()
}

// WaitUntilReadyToGC blocks until every checkout has drained during a
// collector pause and the collector has been notified
func (m *Manager) WaitUntilReadyToGC(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for waits := 1; ; waits++ {
		if !m.collector.IsPausingOrPaused() {
			return errors.NewError(errors.ErrCodeInvalidState, "collector is not pausing").
				WithComponent(component).
				WithOperation("WaitUntilReadyToGC")
		}
		m.checkAndNotifyGC()
		if m.checkedOut == 0 && m.notifiedCycle == m.collector.PauseCycle() {
			return nil
		}
		if waits%4 == 0 {
			m.logger.Warn().Int("checked_out", m.checkedOut).Int("waits", waits).
				Msg("still waiting for objects to be checked back in")
		}
		if err := m.waitLocked(ctx, readyWaitInterval); err != nil {
			return err
		}
	}
}

// NotifyGCComplete removes garbage from the cache and the store and then
// retries every pending lookup. The collector must have left its pause.
func (m *Manager) NotifyGCComplete(ctx context.Context, garbage types.ObjectIDSet) error {
	out := m.lock()
	if m.collector.IsPausingOrPaused() {
		m.unlock(out)
		return m.invariant("NotifyGCComplete", "collection completed while the collector is still paused")
	}

	ids := garbage.Sorted()
	var waiters []*pendingEntry
	for _, id := range ids {
		for {
			ref := m.refs[id]
			if ref == nil {
				break
			}
			if ref.referenced || ref.state == Faulting {
				m.logger.Warn().Stringer("object_id", id).Msg("garbage object is referenced, waiting to remove")
				if err := m.waitLocked(ctx, garbageWaitInterval); err != nil {
					m.unlock(out)
					return err
				}
				continue
			}
			if ref.isNew {
				m.unlock(out)
				return m.invariant("NotifyGCComplete", "garbage object %s is still new", id)
			}
			delete(m.refs, id)
			m.policy.Remove(id)
			break
		}
		// held back until the store no longer has the object
		waiters = append(waiters, m.pending.take(id)...)
	}
	m.mu.Unlock()

	removeErr := m.removeFromStore(ctx, ids)

	m.mu.Lock()
	for _, w := range waiters {
		m.pending.add(w)
	}
	m.processPendingLocked(out, accessReadWrite)
	m.cond.Broadcast()
	m.unlock(out)

	if len(ids) > 0 {
		m.logger.Info().Int("garbage", len(ids)).Msg("collection applied")
	}
	return removeErr
}

func (m *Manager) removeFromStore(ctx context.Context, ids []types.ObjectID) error {
	if len(ids) == 0 {
		return nil
	}
	start := time.Now()
	var errs error
	for begin := 0; begin < len(ids); begin += m.deleteBatchSize {
		end := min(begin+m.deleteBatchSize, len(ids))
		if err := m.store.RemoveObjects(ctx, ids[begin:end]); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	if elapsed := time.Since(start); elapsed > slowRemoveThreshold {
		m.logger.Info().Int("objects", len(ids)).Dur("elapsed", elapsed).Msg("removing garbage from store was slow")
	}
	if errs != nil {
		return errors.Wrap(errs, errors.ErrCodeStorageDelete, "remove garbage from store").
			WithComponent(component).
			WithOperation("NotifyGCComplete")
	}
	return nil
}

// ObjectReferences returns the identifiers obj refers to. Resident objects
// are read in place; others are faulted in for a single-use read.
func (m *Manager) ObjectReferences(ctx context.Context, id types.ObjectID) ([]types.ObjectID, error) {
	m.mu.Lock()
	if ref := m.refs[id]; ref != nil && ref.resident() {
		refs := ref.obj.References()
		m.mu.Unlock()
		return refs, nil
	}
	m.mu.Unlock()

	obj, err := m.lookupSync(ctx, "ObjectReferences", id, syncLookup{
		access:          accessRead,
		removeOnRelease: true,
		missingOK:       true,
	})
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, errors.Newf(errors.ErrCodeObjectNotFound, "object %s not found", id).
			WithComponent(component).WithOperation("ObjectReferences")
	}
	refs := obj.References()
	return refs, m.ReleaseReadOnly(obj)
}

// waitLocked waits on the manager condition for at most timeout. The lock
// must be held.
func (m *Manager) waitLocked(ctx context.Context, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return m.canceled(err)
	}
	stop := context.AfterFunc(ctx, m.wake)
	timer := time.AfterFunc(timeout, m.wake)
	m.cond.Wait()
	stop()
	timer.Stop()
	if err := ctx.Err(); err != nil {
		return m.canceled(err)
	}
	return nil
}

func (m *Manager) wake() {
	m.mu.Lock()
	m.cond.Broadcast()
	m.mu.Unlock()
}

func (m *Manager) canceled(err error) error {
	return errors.Wrap(err, errors.ErrCodeOperationCanceled, "wait canceled").WithComponent(component)
}

func (m *Manager) shutdownError(op string) error {
	return errors.NewError(errors.ErrCodeShutdownInProgress, "object manager is shut down").
		WithComponent(component).
		WithOperation(op)
}

// invariant builds and logs an invariant violation
func (m *Manager) invariant(op, format string, args ...interface{}) error {
	err := errors.Newf(errors.ErrCodeInvariantViolation, format, args...).
		WithComponent(component).
		WithOperation(op).
		WithStack()
	m.logger.Error().Err(err).Str("operation", op).Msg("invariant violation")
	return err
}

// storeCode keeps the code of a store error, falling back to def
func storeCode(err error, def errors.ErrorCode) errors.ErrorCode {
	if code, ok := errors.CodeOf(err); ok {
		return code
	}
	return def
}

func chunkObjects(objs []*types.ManagedObject, size int) [][]*types.ManagedObject {
	var chunks [][]*types.ManagedObject
	for begin := 0; begin < len(objs); begin += size {
		end := min(begin+size, len(objs))
		chunks = append(chunks, objs[begin:end])
	}
	return chunks
}

var _ types.GatewayCallbacks = (*Manager)(nil)
