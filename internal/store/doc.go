/*
Package store provides the durable backends behind the object cache.

Three implementations of types.Store are available:

	memory  MemoryStore  map-backed, counts calls, supports error injection
	pebble  PebbleStore  local LSM database, one batch per commit
	s3      S3Store      one S3 object per managed object

# Record Format

Objects are encoded by Codec as a JSON record {id, state, refs} preceded by a
one byte header. Header 0 means the payload is raw, header 1 means it is zstd
compressed. Compression is only applied above a configurable threshold.

# Key Layout

	pebble  o/<16 hex digit id>      r/<root name>
	s3      <prefix>objects/<id>     <prefix>roots/<root name>

# Errors

Missing objects and roots are reported with OBJECT_NOT_FOUND. I/O failures are
reported as STORAGE_READ, STORAGE_WRITE or STORAGE_DELETE, all of which the
gateway retries.
*/
package store
