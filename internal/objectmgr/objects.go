package objectmgr

import (
	"context"
	"slices"

	"go.uber.org/multierr"

	"github.com/objectfs/objectcache/pkg/errors"
	"github.com/objectfs/objectcache/pkg/types"
)

// CreateObject adds a new object to the cache. It is not checked out and
// stays out of the eviction policy until its first release commits it.
func (m *Manager) CreateObject(obj *types.ManagedObject) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(obj)
}

// CreateNewObjects creates an empty new object for each identifier
func (m *Manager) CreateNewObjects(ids types.ObjectIDSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids.Sorted() {
		if err := m.createLocked(types.NewManagedObject(id, nil)); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) createLocked(obj *types.ManagedObject) error {
	if m.shutdown {
		return m.shutdownError("CreateObject")
	}
	id := obj.ID()
	if id == types.NullObjectID {
		return m.invariant("CreateObject", "cannot create the null object id")
	}
	if !obj.IsNew() {
		return m.invariant("CreateObject", "object %s is already committed", id)
	}
	if old, ok := m.refs[id]; ok {
		return m.invariant("CreateObject", "object %s already cached as %s", id, old)
	}
	m.refs[id] = newResidentReference(obj, true)
	m.stats.ObjectCreated()
	return nil
}

// PreFetchObjectsAndCreate creates the objects in create and starts faulting
// every identifier in prefetch that is not cached. Nothing is checked out.
func (m *Manager) PreFetchObjectsAndCreate(prefetch, create types.ObjectIDSet) error {
	out := m.lock()
	defer m.unlock(out)

	for _, id := range create.Sorted() {
		if err := m.createLocked(types.NewManagedObject(id, nil)); err != nil {
			return err
		}
	}
	if m.shutdown {
		return m.shutdownError("PreFetchObjectsAndCreate")
	}
	for _, id := range prefetch.Sorted() {
		if _, ok := m.refs[id]; ok {
			m.stats.CacheHit()
			continue
		}
		m.stats.CacheMiss()
		m.startFault(id, false, out)
	}
	return nil
}

type syncLookup struct {
	access          accessLevel
	removeOnRelease bool
	missingOK       bool
	quiet           bool
}

// lookupSync checks out a single object and waits for it. A nil object means
// it does not exist and missingOK was set.
func (m *Manager) lookupSync(ctx context.Context, op string, id types.ObjectID, opts syncLookup) (*types.ManagedObject, error) {
	req := m.NewRequest(id)
	lc := newLookupContext(req)
	lc.access = opts.access
	lc.removeOnRelease = opts.removeOnRelease
	lc.quiet = opts.quiet

	if _, err := m.lookup(types.NodeID(""), lc, 0); err != nil {
		return nil, err
	}
	results, err := req.Wait(ctx)
	if err != nil {
		return nil, err
	}

	obj := results.Objects[id]
	if obj == nil && !opts.missingOK {
		return nil, m.invariant(op, "lookup of non-existent object %s", id)
	}
	return obj, nil
}

// GetObjectByID checks out id and waits for it. A missing object is an
// invariant violation.
func (m *Manager) GetObjectByID(ctx context.Context, id types.ObjectID) (*types.ManagedObject, error) {
	return m.lookupSync(ctx, "GetObjectByID", id, syncLookup{})
}

// GetQuietObjectByID is GetObjectByID without touching hit and miss counts,
// for objects that were prefetched
func (m *Manager) GetQuietObjectByID(ctx context.Context, id types.ObjectID) (*types.ManagedObject, error) {
	return m.lookupSync(ctx, "GetQuietObjectByID", id, syncLookup{quiet: true})
}

// GetObjectByIDOrNil checks out id and waits for it, returning nil when it
// does not exist. An uncommitted new object is waited for like any other
// checked-out object.
func (m *Manager) GetObjectByIDOrNil(ctx context.Context, id types.ObjectID) (*types.ManagedObject, error) {
	return m.lookupSync(ctx, "GetObjectByIDOrNil", id, syncLookup{missingOK: true})
}

// ObjectView is an immutable copy of an object for inspection tools
type ObjectView struct {
	ID              types.ObjectID   `json:"id"`
	State           []byte           `json:"state"`
	References      []types.ObjectID `json:"references"`
	TotalReferences int              `json:"total_references"`
	Truncated       bool             `json:"truncated"`
}

func newObjectView(obj *types.ManagedObject, limit int) ObjectView {
	refs := obj.References()
	view := ObjectView{
		ID:              obj.ID(),
		State:           obj.State(),
		References:      refs,
		TotalReferences: len(refs),
	}
	if limit >= 0 && len(refs) > limit {
		view.References = slices.Clone(refs[:limit])
		view.Truncated = true
	}
	return view
}

// InspectObject returns a view of a committed object with at most limit
// references (a negative limit returns all). The object is read through a
// single-use checkout and never enters the eviction policy on its account.
func (m *Manager) InspectObject(ctx context.Context, id types.ObjectID, limit int) (ObjectView, error) {
	m.mu.Lock()
	shutdown := m.shutdown
	m.mu.Unlock()
	if shutdown {
		return ObjectView{}, m.shutdownError("InspectObject")
	}

	notFound := errors.Newf(errors.ErrCodeObjectNotFound, "object %s not found", id).
		WithComponent(component).WithOperation("InspectObject")

	ok, err := m.store.ContainsObject(ctx, id)
	if err != nil {
		return ObjectView{}, err
	}
	if !ok {
		return ObjectView{}, notFound
	}

	obj, err := m.lookupSync(ctx, "InspectObject", id, syncLookup{
		access:          accessRead,
		removeOnRelease: true,
		missingOK:       true,
	})
	if err != nil {
		return ObjectView{}, err
	}
	if obj == nil {
		return ObjectView{}, notFound
	}

	view := newObjectView(obj, limit)
	return view, m.ReleaseReadOnly(obj)
}

// Pin exempts a resident object from eviction. It reports whether id was
// resident.
func (m *Manager) Pin(id types.ObjectID) bool {
	return m.setPinned(id, true)
}

// Unpin makes a pinned object evictable again
func (m *Manager) Unpin(id types.ObjectID) bool {
	return m.setPinned(id, false)
}

func (m *Manager) setPinned(id types.ObjectID, pinned bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref := m.refs[id]
	if ref == nil || !ref.resident() {
		return false
	}
	ref.pinned = pinned
	return true
}

// CreateRoot binds name to id in the store
func (m *Manager) CreateRoot(ctx context.Context, name string, id types.ObjectID) error {
	m.mu.Lock()
	shutdown := m.shutdown
	m.mu.Unlock()
	if shutdown {
		return m.shutdownError("CreateRoot")
	}
	if err := m.store.AddRoot(ctx, name, id); err != nil {
		return err
	}
	m.logger.Debug().Str("root", name).Stringer("object_id", id).Msg("root created")
	return nil
}

// LookupRootID returns the identifier bound to name
func (m *Manager) LookupRootID(ctx context.Context, name string) (types.ObjectID, error) {
	return m.store.RootID(ctx, name)
}

// Roots returns every root binding
func (m *Manager) Roots(ctx context.Context) (map[string]types.ObjectID, error) {
	return m.store.Roots(ctx)
}

// AllObjectIDs returns every committed identifier
func (m *Manager) AllObjectIDs(ctx context.Context) (types.ObjectIDSet, error) {
	return m.store.ObjectIDs(ctx)
}

// Stop shuts the manager down. Further lookups and creations fail, parked
// requests are failed and dirty committed objects are written back.
func (m *Manager) Stop(ctx context.Context) error {
	out := m.lock()
	if m.shutdown {
		m.unlock(out)
		return nil
	}
	m.shutdown = true

	dirtyIDs := types.NewObjectIDSet()
	for id, ref := range m.refs {
		if ref.resident() && !ref.isNew && !ref.referenced && ref.obj.IsDirty() {
			dirtyIDs.Add(id)
		}
	}
	dirty := make([]*types.ManagedObject, 0, len(dirtyIDs))
	for _, id := range dirtyIDs.Sorted() {
		dirty = append(dirty, m.refs[id].obj)
	}

	for _, p := range m.pending.drainAll() {
		if f, ok := p.ctx.rc.(failer); ok {
			out.failed = append(out.failed, f)
		}
	}
	m.cond.Broadcast()
	m.unlock(out)

	var errs error
	for _, batch := range chunkObjects(dirty, m.maxCommitSize) {
		if err := m.store.CommitObjects(ctx, batch...); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		for _, obj := range batch {
			obj.MarkClean()
		}
	}

	m.logger.Info().Int("flushed", len(dirty)).Int("failed_requests", len(out.failed)).Msg("object manager stopped")
	return errs
}
