package store

import (
	"context"
	"maps"
	"sync"

	"github.com/objectfs/objectcache/pkg/errors"
	"github.com/objectfs/objectcache/pkg/types"
)

// MemoryStats counts store calls
type MemoryStats struct {
	Contains int `json:"contains"`
	Loads    int `json:"loads"`
	Adds     int `json:"adds"`
	Commits  int `json:"commits"`
	Written  int `json:"written"`
	Removes  int `json:"removes"`
	Removed  int `json:"removed"`
}

type memRecord struct {
	state []byte
	refs  []types.ObjectID
}

// MemoryStore is a map-backed store. Every load returns a fresh object
// instance, so the cache never shares memory with the store.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[types.ObjectID]memRecord
	roots   map[string]types.ObjectID
	stats   MemoryStats
	closed  bool

	loadErr   error
	commitErr error
}

// NewMemoryStore creates an empty memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[types.ObjectID]memRecord),
		roots:   make(map[string]types.ObjectID),
	}
}

func (s *MemoryStore) checkOpen(op string) error {
	if s.closed {
		return errors.NewError(errors.ErrCodeInvalidState, "store is closed").
			WithComponent("memory-store").WithOperation(op)
	}
	return nil
}

// ContainsObject reports whether id is stored
func (s *MemoryStore) ContainsObject(ctx context.Context, id types.ObjectID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen("ContainsObject"); err != nil {
		return false, err
	}
	s.stats.Contains++
	_, ok := s.objects[id]
	return ok, nil
}

// LoadObject returns a copy of the stored object
func (s *MemoryStore) LoadObject(ctx context.Context, id types.ObjectID) (*types.ManagedObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen("LoadObject"); err != nil {
		return nil, err
	}
	s.stats.Loads++
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	rec, ok := s.objects[id]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeObjectNotFound, "object %d not found", id).
			WithComponent("memory-store").WithOperation("LoadObject")
	}
	return types.RestoreManagedObject(id, rec.state, rec.refs), nil
}

// AddNewObject stores a new object; it fails if id already exists
func (s *MemoryStore) AddNewObject(ctx context.Context, obj *types.ManagedObject) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen("AddNewObject"); err != nil {
		return err
	}
	s.stats.Adds++
	if s.commitErr != nil {
		return s.commitErr
	}
	if _, ok := s.objects[obj.ID()]; ok {
		return errors.Newf(errors.ErrCodeObjectExists, "object %d already exists", obj.ID()).
			WithComponent("memory-store").WithOperation("AddNewObject")
	}
	s.objects[obj.ID()] = memRecord{state: obj.State(), refs: obj.References()}
	return nil
}

// CommitObjects writes all objs atomically
func (s *MemoryStore) CommitObjects(ctx context.Context, objs ...*types.ManagedObject) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen("CommitObjects"); err != nil {
		return err
	}
	s.stats.Commits++
	if s.commitErr != nil {
		return s.commitErr
	}
	for _, obj := range objs {
		s.objects[obj.ID()] = memRecord{state: obj.State(), refs: obj.References()}
	}
	s.stats.Written += len(objs)
	return nil
}

// RemoveObjects deletes ids
func (s *MemoryStore) RemoveObjects(ctx context.Context, ids []types.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen("RemoveObjects"); err != nil {
		return err
	}
	s.stats.Removes++
	for _, id := range ids {
		if _, ok := s.objects[id]; ok {
			delete(s.objects, id)
			s.stats.Removed++
		}
	}
	return nil
}

// AddRoot binds name to id
func (s *MemoryStore) AddRoot(ctx context.Context, name string, id types.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen("AddRoot"); err != nil {
		return err
	}
	s.roots[name] = id
	return nil
}

// RootID resolves a root name
func (s *MemoryStore) RootID(ctx context.Context, name string) (types.ObjectID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen("RootID"); err != nil {
		return types.NullObjectID, err
	}
	id, ok := s.roots[name]
	if !ok {
		return types.NullObjectID, errors.Newf(errors.ErrCodeObjectNotFound, "root %q not found", name).
			WithComponent("memory-store").WithOperation("RootID")
	}
	return id, nil
}

// Roots returns every root binding
func (s *MemoryStore) Roots(ctx context.Context) (map[string]types.ObjectID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen("Roots"); err != nil {
		return nil, err
	}
	return maps.Clone(s.roots), nil
}

// ObjectIDs enumerates stored identifiers
func (s *MemoryStore) ObjectIDs(ctx context.Context) (types.ObjectIDSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen("ObjectIDs"); err != nil {
		return nil, err
	}
	ids := make(types.ObjectIDSet, len(s.objects))
	for id := range s.objects {
		ids.Add(id)
	}
	return ids, nil
}

// Close marks the store closed
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Stats returns the call counters
func (s *MemoryStore) Stats() MemoryStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Len returns the number of stored objects
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

// SetLoadError makes every LoadObject fail with err until cleared with nil
func (s *MemoryStore) SetLoadError(err error) {
	s.mu.Lock()
	s.loadErr = err
	s.mu.Unlock()
}

// SetCommitError makes every write fail with err until cleared with nil
func (s *MemoryStore) SetCommitError(err error) {
	s.mu.Lock()
	s.commitErr = err
	s.mu.Unlock()
}
