package objectmgr

import (
	"github.com/objectfs/objectcache/pkg/types"
)

// expandClosure checks out resident objects reachable from objects, breadth
// first, for up to maxDepth hops and at most maxLookupObjects objects in total.
// Only resident, unreferenced, committed references are pulled in; nothing is
// faulted. Identifiers that were not resident, or lie beyond the last hop,
// are returned for a further lookup. Checked-out, new and single-use
// references are skipped.
func (m *Manager) expandClosure(maxDepth int, objects map[types.ObjectID]*types.ManagedObject) types.ObjectIDSet {
	further := types.NewObjectIDSet()
	if maxDepth <= 0 {
		return further
	}

	visited := make(types.ObjectIDSet, len(objects))
	frontier := make([]*types.ManagedObject, 0, len(objects))
	for id, obj := range objects {
		visited.Add(id)
		frontier = append(frontier, obj)
	}

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []*types.ManagedObject
		for _, obj := range frontier {
			for _, id := range obj.References() {
				if !visited.Add(id) {
					continue
				}
				if len(objects) >= m.maxLookupObjects {
					further.Add(id)
					continue
				}
				ref := m.refs[id]
				switch {
				case ref == nil || ref.state == Faulting:
					further.Add(id)
				case !ref.referenced && !ref.isNew && !ref.removeOnRelease:
					m.markReferenced(ref)
					m.policy.MarkReferenced(id)
					objects[id] = ref.obj
					next = append(next, ref.obj)
				}
			}
		}
		frontier = next
	}

	for _, obj := range frontier {
		for _, id := range obj.References() {
			if !visited.Contains(id) {
				further.Add(id)
			}
		}
	}
	return further
}
