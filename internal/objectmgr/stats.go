package objectmgr

import (
	"fmt"
	"strings"

	"github.com/objectfs/objectcache/pkg/types"
)

// StatsListener receives cache events. Calls are made with the manager lock
// held and must not block or call back into the manager.
type StatsListener interface {
	CacheHit()
	CacheMiss()
	ObjectCreated()
	ObjectFaulted(found bool)
	ObjectsFlushed(n int)
	ObjectsEvicted(n int)
}

type nopStats struct{}

func (nopStats) CacheHit() {}
func (nopStats) CacheMiss() {}
func (nopStats) ObjectCreated() {}
func (nopStats) ObjectFaulted(bool) {}
func (nopStats) ObjectsFlushed(int) {}
func (nopStats) ObjectsEvicted(int) {}

// EvictionStats reports the outcome of one eviction pass
type EvictionStats struct {
	Requested  int `json:"requested"`
	Candidates int `json:"candidates"`
	Evicted    int `json:"evicted"`
	Flushed    int `json:"flushed"`
	Size       int `json:"size"`
}

// Snapshot is a point-in-time view of the manager
type Snapshot struct {
	References int              `json:"references"`
	Resident   int              `json:"resident"`
	Faulting   int              `json:"faulting"`
	New        int              `json:"new"`
	Pinned     int              `json:"pinned"`
	CheckedOut int              `json:"checked_out"`
	Pending    int              `json:"pending"`
	Blocked    int              `json:"blocked"`
	BlockedIDs []types.ObjectID `json:"blocked_ids,omitempty"`
	Evictable  int              `json:"evictable"`
	Flushing   int              `json:"flushing"`
	Shutdown   bool             `json:"shutdown"`
}

func (s Snapshot) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ObjectManager\n")
	fmt.Fprintf(&b, "  references  : %d (resident %d, faulting %d, new %d, pinned %d)\n",
		s.References, s.Resident, s.Faulting, s.New, s.Pinned)
	fmt.Fprintf(&b, "  checked out : %d\n", s.CheckedOut)
	fmt.Fprintf(&b, "  evictable   : %d\n", s.Evictable)
	fmt.Fprintf(&b, "  flushing    : %d\n", s.Flushing)
	fmt.Fprintf(&b, "  pending     : %d\n", s.Pending)
	fmt.Fprintf(&b, "  blocked     : %d %v\n", s.Blocked, s.BlockedIDs)
	if s.Shutdown {
		fmt.Fprintf(&b, "  shut down\n")
	}
	return b.String()
}
