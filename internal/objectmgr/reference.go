package objectmgr

import (
	"fmt"

	"github.com/objectfs/objectcache/pkg/types"
)

// ReferenceState is the materialization state of a cached reference
type ReferenceState int

const (
	// Faulting marks a placeholder whose object is being loaded
	Faulting ReferenceState = iota
	// Resident marks a reference holding a materialized object
	Resident
)

func (s ReferenceState) String() string {
	switch s {
	case Faulting:
		return "FAULTING"
	case Resident:
		return "RESIDENT"
	default:
		return "UNKNOWN"
	}
}

// reference is the cache-resident control block for one identifier. All
// fields are guarded by the manager lock.
type reference struct {
	id    types.ObjectID
	state ReferenceState
	obj   *types.ManagedObject

	referenced      bool
	isNew           bool
	removeOnRelease bool
	pinned          bool
}

func newFaultingReference(id types.ObjectID, removeOnRelease bool) *reference {
	return &reference{id: id, state: Faulting, removeOnRelease: removeOnRelease}
}

func newResidentReference(obj *types.ManagedObject, isNew bool) *reference {
	return &reference{id: obj.ID(), state: Resident, obj: obj, isNew: isNew}
}

func (r *reference) resident() bool { return r.state == Resident }

// cacheManaged reports whether the eviction policy tracks r
func (r *reference) cacheManaged() bool {
	return r.state == Resident && !r.isNew && !r.removeOnRelease
}

// evictable reports whether r may be dropped from memory right now
func (r *reference) evictable() bool {
	return r.cacheManaged() && !r.referenced && !r.pinned
}

// materialize turns a faulting placeholder into a resident reference
func (r *reference) materialize(obj *types.ManagedObject) {
	r.state = Resident
	r.obj = obj
	r.isNew = false
}

func (r *reference) String() string {
	flags := ""
	if r.referenced {
		flags += " referenced"
	}
	if r.isNew {
		flags += " new"
	}
	if r.removeOnRelease {
		flags += " remove-on-release"
	}
	if r.pinned {
		flags += " pinned"
	}
	if r.obj != nil && r.obj.IsDirty() {
		flags += " dirty"
	}
	return fmt.Sprintf("ref[%s %s%s]", r.id, r.state, flags)
}
