/*
Package types provides the identifiers, managed objects and collaborator
interfaces shared by the object cache packages.

# Architecture Overview

	┌─────────────────────────────────────────────┐
	│        Transaction / request layer          │
	│            (external caller)                │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│               Object Manager                │
	│           (internal/objectmgr)              │
	└─────────────────────────────────────────────┘
	      │            │             │          │
	┌─────┴─────┐ ┌────┴────┐ ┌──────┴───┐ ┌────┴────┐
	│  Gateway  │ │Eviction │ │    GC    │ │ Metrics │
	│           │ │ Policy  │ │Collector │ │         │
	└───────────┘ └─────────┘ └──────────┘ └─────────┘
	      │
	┌─────┴─────┐
	│   Store   │
	└───────────┘

# Core Interfaces

Store is the durable backend (memory, pebble or S3). EvictionPolicy proposes
removal candidates (LRU or LFU). ObjectGateway and GatewayCallbacks form the
asynchronous fault/flush channel pair. GCCoordinator is the collector side of
the quiescence handshake.

# Objects

ManagedObject carries an opaque state blob and the sorted identifiers it
references. Objects created in memory start out new; objects read back from a
store start out clean and committed.
*/
package types
