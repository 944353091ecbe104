package types

import (
	"context"
)

// Store is the durable object store behind the cache.
type Store interface {
	// ContainsObject reports whether id has been committed.
	ContainsObject(ctx context.Context, id ObjectID) (bool, error)

	// LoadObject reads a committed object. Returns an OBJECT_NOT_FOUND error
	// when id is unknown.
	LoadObject(ctx context.Context, id ObjectID) (*ManagedObject, error)

	// AddNewObject performs the first durable write of a new object.
	AddNewObject(ctx context.Context, obj *ManagedObject) error

	// CommitObjects writes objs in a single transaction.
	CommitObjects(ctx context.Context, objs ...*ManagedObject) error

	// RemoveObjects deletes ids. Unknown identifiers are ignored.
	RemoveObjects(ctx context.Context, ids []ObjectID) error

	AddRoot(ctx context.Context, name string, id ObjectID) error
	RootID(ctx context.Context, name string) (ObjectID, error)
	Roots(ctx context.Context) (map[string]ObjectID, error)

	// ObjectIDs enumerates every committed identifier.
	ObjectIDs(ctx context.Context) (ObjectIDSet, error)

	Close() error
}

// EvictionPolicy tracks evictable references and proposes removal candidates.
// It only ever sees resident references that are neither new nor single-use.
// Checked-out references stay tracked; callers filter them with evictable.
type EvictionPolicy interface {
	Add(id ObjectID)
	Remove(id ObjectID)
	MarkReferenced(id ObjectID)

	// RemovalCandidates returns up to n identifiers, least valuable first,
	// skipping those for which evictable returns false.
	RemovalCandidates(n int, evictable func(ObjectID) bool) []ObjectID

	Len() int
}

// ObjectGateway hands materialization and write-back work to background
// workers. Submissions must not be made while holding the cache lock.
type ObjectGateway interface {
	SubmitFault(id ObjectID) error
	SubmitFlush(objs []*ManagedObject) error
}

// GatewayCallbacks receives the results of gateway work.
type GatewayCallbacks interface {
	// FaultCompleted delivers a loaded object, or nil when id does not exist.
	FaultCompleted(id ObjectID, obj *ManagedObject)
	FlushCompleted(objs []*ManagedObject)
	FlushFailed(objs []*ManagedObject, err error)
}

// GCCoordinator is the collector side of the GC handshake as seen by the cache.
type GCCoordinator interface {
	IsPausingOrPaused() bool
	// PauseCycle identifies the current pause. It changes every time a new
	// pause begins.
	PauseCycle() uint64
	NotifyReadyToGC()
}
