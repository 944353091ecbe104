/*
Package metrics exports object cache activity to Prometheus.

	┌─────────────┐   StatsListener    ┌──────────────┐
	│ objectmgr   │ ─────────────────► │  Collector   │
	│ gc, evictor │   Record* hooks    │              │
	└─────────────┘                    │  Prometheus  │
	       ▲          Watch() polling  │   Registry   │
	       └────────────────────────── │              │
	                                   └──────┬───────┘
	                                          │
	                          /metrics  /health  /debug/operations

The collector is the object manager's stats listener: cache hits and misses,
objects created, faulted, flushed and evicted become counters. Reference and
queue gauges are refreshed every UpdateInterval from the functions passed to
Watch. Eviction passes and collection cycles are recorded as operations with
a duration histogram, and failures are counted under their error code.

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Port:      9090,
		Path:      "/metrics",
		Namespace: "objectcache",
	}, logger)
	if err != nil {
		return err
	}
	mgr, err := objectmgr.New(objectmgr.Options{Stats: collector, ...})
	collector.Watch(mgr.Snapshot, gw.QueueDepth)
	if err := collector.Start(ctx); err != nil {
		return err
	}
	defer collector.Stop(context.Background())

A disabled collector accepts every call and records nothing.
*/
package metrics
