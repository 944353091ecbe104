/*
Package cache provides the pluggable eviction policies used by the object
manager.

A policy only tracks identifiers. The object manager adds a reference once it
becomes evictable (released after creation, or faulted in), removes it when it
is checked out for single use, evicted or collected, and marks it referenced
on every cache hit.

# Policies

	lru  LRUPolicy  container/list ordered by recency, candidates from the tail
	lfu  LFUPolicy  access counts, ties broken by oldest access

# Candidate Selection

RemovalCandidates takes a predicate from the caller. The object manager uses it
to skip references that are pinned, checked out or otherwise not evictable at
the moment of the pass, so a policy never has to know about reference state.

	policy, err := cache.NewPolicy(cfg.Cache.EvictionPolicy)
	ids := policy.RemovalCandidates(128, func(id types.ObjectID) bool {
		return !pinned.Contains(id)
	})
*/
package cache
