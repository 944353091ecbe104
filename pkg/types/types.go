package types

import (
	"fmt"
	"slices"
	"strconv"
	"sync"
)

// ObjectID identifies a managed object. Identifiers are totally ordered.
type ObjectID uint64

// NullObjectID is never assigned to an object.
const NullObjectID ObjectID = 0

// String returns the decimal form of the identifier.
func (id ObjectID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Key returns the fixed-width hex form used in storage keys.
func (id ObjectID) Key() string {
	return fmt.Sprintf("%016x", uint64(id))
}

// ParseObjectKey parses the output of Key.
func ParseObjectKey(s string) (ObjectID, error) {
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return NullObjectID, fmt.Errorf("invalid object key %q: %w", s, err)
	}
	return ObjectID(v), nil
}

// NodeID identifies the caller a lookup is routed back to.
type NodeID string

// ObjectIDSet is an unordered set of identifiers.
type ObjectIDSet map[ObjectID]struct{}

// NewObjectIDSet returns a set holding ids.
func NewObjectIDSet(ids ...ObjectID) ObjectIDSet {
	s := make(ObjectIDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Add inserts id and reports whether it was absent.
func (s ObjectIDSet) Add(id ObjectID) bool {
	if _, ok := s[id]; ok {
		return false
	}
	s[id] = struct{}{}
	return true
}

// AddAll inserts every identifier in other.
func (s ObjectIDSet) AddAll(other ObjectIDSet) {
	for id := range other {
		s[id] = struct{}{}
	}
}

func (s ObjectIDSet) Remove(id ObjectID) { delete(s, id) }

func (s ObjectIDSet) Contains(id ObjectID) bool {
	_, ok := s[id]
	return ok
}

func (s ObjectIDSet) Len() int { return len(s) }

// Sorted returns the identifiers in ascending order.
func (s ObjectIDSet) Sorted() []ObjectID {
	ids := make([]ObjectID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Clone returns an independent copy.
func (s ObjectIDSet) Clone() ObjectIDSet {
	c := make(ObjectIDSet, len(s))
	c.AddAll(s)
	return c
}

// ManagedObject is the materialized payload of an identifier: an opaque state
// blob plus the identifiers it references. A checked-out object is mutated only
// by its holder; the lock covers reads from the flush and GC paths.
type ManagedObject struct {
	mu    sync.RWMutex
	id    ObjectID
	state []byte
	refs  []ObjectID
	dirty bool
	isNew bool
}

// NewManagedObject creates an object that has never been committed.
func NewManagedObject(id ObjectID, state []byte, refs ...ObjectID) *ManagedObject {
	return &ManagedObject{
		id:    id,
		state: slices.Clone(state),
		refs:  normalizeRefs(refs),
		isNew: true,
	}
}

// RestoreManagedObject recreates a committed object read back from a store.
func RestoreManagedObject(id ObjectID, state []byte, refs []ObjectID) *ManagedObject {
	return &ManagedObject{
		id:    id,
		state: slices.Clone(state),
		refs:  normalizeRefs(refs),
	}
}

func normalizeRefs(refs []ObjectID) []ObjectID {
	out := slices.Clone(refs)
	slices.Sort(out)
	return slices.Compact(out)
}

func (o *ManagedObject) ID() ObjectID { return o.id }

// State returns a copy of the state blob.
func (o *ManagedObject) State() []byte {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return slices.Clone(o.state)
}

// References returns the sorted outbound identifiers.
func (o *ManagedObject) References() []ObjectID {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return slices.Clone(o.refs)
}

// Apply replaces state and references and marks the object dirty.
func (o *ManagedObject) Apply(state []byte, refs ...ObjectID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = slices.Clone(state)
	o.refs = normalizeRefs(refs)
	o.dirty = true
}

func (o *ManagedObject) IsDirty() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.dirty
}

func (o *ManagedObject) IsNew() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.isNew
}

// MarkClean records that the current state is durable.
func (o *ManagedObject) MarkClean() {
	o.mu.Lock()
	o.dirty = false
	o.mu.Unlock()
}

// MarkCommitted records the first durable write of a new object.
func (o *ManagedObject) MarkCommitted() {
	o.mu.Lock()
	o.isNew = false
	o.dirty = false
	o.mu.Unlock()
}

func (o *ManagedObject) String() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return fmt.Sprintf("ManagedObject{id=%d, bytes=%d, refs=%d, dirty=%t, new=%t}",
		o.id, len(o.state), len(o.refs), o.dirty, o.isNew)
}
