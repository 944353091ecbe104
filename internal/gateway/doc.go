/*
Package gateway runs store I/O for the object manager off the cache lock.

Two bounded queues feed two worker pools:

	SubmitFault(id)    → fault workers → Store.LoadObject    → FaultCompleted(id, obj|nil)
	SubmitFlush(objs)  → flush workers → Store.CommitObjects → FlushCompleted(objs)
	                                                           FlushFailed(objs, err)

Retryable storage errors are retried with exponential backoff from pkg/retry.
A fault that still fails is reported as a missing object; a flush that still
fails is reported through FlushFailed so the caller can keep the objects dirty.

Stop closes both queues, lets workers drain what was already accepted and
waits for them. Submissions after Stop fail with QUEUE_CLOSED.
*/
package gateway
