/*
Package objectmgr implements the object cache: the table of cached references,
the queue of lookups waiting on them and the coordination with eviction and
the garbage collector.

A reference is either a FAULTING placeholder, created on a miss while the
gateway loads the object, or RESIDENT. A resident reference is checked out by
at most one lookup at a time:

	lookup miss      → FAULTING  ─FaultCompleted(obj)→ RESIDENT
	                             ─FaultCompleted(nil)→ removed, waiters see it missing
	RESIDENT         ─checkout→  referenced ─Release→ unreferenced
	unreferenced     ─EvictCache→ removed (clean) or flushed then removed (dirty)

Lookups are batches. A batch either checks out every identifier it asks for
or nothing: it parks on the first identifier that is faulting, checked out or
uncommitted by someone else, and is retried when that identifier is released.

While the collector pauses, read-write lookups queue up and the manager
notifies the collector once the last checkout is returned. Read lookups keep
running so the collector can walk the object graph. NotifyGCComplete removes
garbage from the cache and the store and resumes the queue.

All state lives under a single mutex. Store I/O never runs under it: faults
and flushes go to the gateway, and results are delivered after the lock is
released.
*/
package objectmgr
