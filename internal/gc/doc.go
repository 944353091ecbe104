/*
Package gc drives garbage collection of the object store.

A cycle walks the collector through

	SLEEP → RUNNING → PAUSING → PAUSED → DELETE → SLEEP

While PAUSING the cache stops handing out read-write checkouts and calls
NotifyReadyToGC once the last one is returned. While PAUSED the finder marks
everything reachable from the store roots, reading the graph through the
cache. The unmarked identifiers are handed to the cache, which removes them
from memory and the store before resuming the lookups it queued.
*/
package gc
