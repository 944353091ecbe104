package objectmgr

import (
	"github.com/objectfs/objectcache/pkg/types"
)

// Snapshot returns the current counters of the manager
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Snapshot{
		References: len(m.refs),
		CheckedOut: m.checkedOut,
		Pending:    m.pending.size(),
		Blocked:    m.pending.blockedCount(),
		BlockedIDs: m.pending.blockedIDs(),
		Evictable:  m.policy.Len(),
		Flushing:   m.flushes.get(),
		Shutdown:   m.shutdown,
	}
	for _, ref := range m.refs {
		if ref.resident() {
			s.Resident++
		} else {
			s.Faulting++
		}
		if ref.isNew {
			s.New++
		}
		if ref.pinned {
			s.Pinned++
		}
	}
	return s
}

func (m *Manager) String() string {
	return m.Snapshot().String()
}

// Size returns the number of references in the cache, placeholders included
func (m *Manager) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.refs)
}

// CheckedOutCount returns the number of checked-out references
func (m *Manager) CheckedOutCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkedOut
}

// IsReferenced reports whether id is checked out
func (m *Manager) IsReferenced(id types.ObjectID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref := m.refs[id]
	return ref != nil && ref.referenced
}

// ObjectIDsInCache returns every cached identifier
func (m *Manager) ObjectIDsInCache() types.ObjectIDSet {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make(types.ObjectIDSet, len(m.refs))
	for id := range m.refs {
		ids.Add(id)
	}
	return ids
}

// NewObjectIDs returns the identifiers of objects created but not committed
func (m *Manager) NewObjectIDs() types.ObjectIDSet {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := types.NewObjectIDSet()
	for id, ref := range m.refs {
		if ref.isNew {
			ids.Add(id)
		}
	}
	return ids
}

// checkConsistency verifies the checkout counter against the table
func (m *Manager) checkConsistency() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	referenced := 0
	for id, ref := range m.refs {
		if ref.referenced {
			referenced++
		}
		if ref.state == Faulting && (ref.referenced || ref.isNew) {
			return m.invariant("checkConsistency", "faulting reference %s is %s", id, ref)
		}
	}
	if referenced != m.checkedOut {
		return m.invariant("checkConsistency", "checked out count %d but %d references are referenced", m.checkedOut, referenced)
	}
	return nil
}
