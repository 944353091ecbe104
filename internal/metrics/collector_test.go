package metrics

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/objectcache/internal/gc"
	"github.com/objectfs/objectcache/internal/objectmgr"
	"github.com/objectfs/objectcache/pkg/errors"
)

func newTestCollector(t *testing.T) *Collector {
	t.Helper()
	c, err := NewCollector(&Config{
		Enabled:   true,
		Namespace: "objectcache",
		Labels:    map[string]string{"instance": "test"},
	}, zerolog.Nop())
	require.NoError(t, err)
	return c
}

func scrape(t *testing.T, c *Collector, path string) (int, string) {
	t.Helper()
	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestNewCollector(t *testing.T) {
	t.Parallel()

	t.Run("nil config uses defaults", func(t *testing.T) {
		c, err := NewCollector(nil, zerolog.Nop())
		require.NoError(t, err)
		assert.Equal(t, 9090, c.config.Port)
		assert.Equal(t, "/metrics", c.config.Path)
		assert.Equal(t, "objectcache", c.config.Namespace)
		assert.NotNil(t, c.Registry())
	})

	t.Run("disabled collector is a no-op", func(t *testing.T) {
		c, err := NewCollector(&Config{Enabled: false}, zerolog.Nop())
		require.NoError(t, err)
		assert.Nil(t, c.Registry())

		c.CacheHit()
		c.ObjectsEvicted(3)
		c.RecordOperation("evict", time.Millisecond, nil)
		c.RecordGCCycle(gc.CycleStats{Garbage: 1}, nil)
		assert.Empty(t, c.GetMetrics())
		require.NoError(t, c.Start(context.Background()))
		require.NoError(t, c.Stop(context.Background()))
	})
}

func TestStatsListener(t *testing.T) {
	t.Parallel()

	c := newTestCollector(t)
	c.CacheHit()
	c.CacheHit()
	c.CacheMiss()
	c.ObjectCreated()
	c.ObjectFaulted(true)
	c.ObjectFaulted(false)
	c.ObjectsFlushed(4)
	c.ObjectsEvicted(5)
	c.ObjectsEvicted(0)

	code, body := scrape(t, c, "/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `objectcache_cache_lookups_total{instance="test",result="hit"} 2`)
	assert.Contains(t, body, `objectcache_cache_lookups_total{instance="test",result="miss"} 1`)
	assert.Contains(t, body, `objectcache_cache_objects_total{event="created",instance="test"} 1`)
	assert.Contains(t, body, `objectcache_cache_objects_total{event="faulted",instance="test"} 1`)
	assert.Contains(t, body, `objectcache_cache_objects_total{event="missing",instance="test"} 1`)
	assert.Contains(t, body, `objectcache_cache_objects_total{event="flushed",instance="test"} 4`)
	assert.Contains(t, body, `objectcache_cache_objects_total{event="evicted",instance="test"} 5`)
}

func TestRecordOperation(t *testing.T) {
	t.Parallel()

	c := newTestCollector(t)
	c.RecordOperation("evict", 10*time.Millisecond, nil)
	c.RecordOperation("evict", 30*time.Millisecond, errors.NewError(errors.ErrCodeStorageWrite, "flush failed"))

	ops := c.GetMetrics()
	require.Contains(t, ops, "evict")
	assert.Equal(t, int64(2), ops["evict"].Count)
	assert.Equal(t, int64(1), ops["evict"].Errors)
	assert.Equal(t, 20*time.Millisecond, ops["evict"].AvgDuration)

	_, body := scrape(t, c, "/metrics")
	assert.Contains(t, body, `objectcache_operations_total{instance="test",operation="evict",status="error"} 1`)
	assert.Contains(t, body, `objectcache_errors_total{code="STORAGE_WRITE",instance="test",operation="evict"} 1`)

	c.ResetMetrics()
	assert.Empty(t, c.GetMetrics())
}

func TestRecordGC(t *testing.T) {
	t.Parallel()

	c := newTestCollector(t)
	c.RecordGCState(gc.StateSleep, gc.StatePausing)
	c.RecordGCCycle(gc.CycleStats{Garbage: 7, Duration: time.Second}, nil)

	_, body := scrape(t, c, "/metrics")
	assert.Contains(t, body, `objectcache_gc_state{instance="test"} 3`)
	assert.Contains(t, body, `objectcache_gc_garbage_objects_total{instance="test"} 7`)
	assert.Equal(t, int64(1), c.GetMetrics()["gc"].Count)
}

func TestClassifyError(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "OBJECT_NOT_FOUND", classifyError(errors.NewError(errors.ErrCodeObjectNotFound, "gone")))
	assert.Equal(t, "OTHER", classifyError(io.EOF))
}

func TestWatchedGauges(t *testing.T) {
	t.Parallel()

	c := newTestCollector(t)
	c.Watch(func() objectmgr.Snapshot {
		return objectmgr.Snapshot{References: 12, Resident: 10, Faulting: 2, CheckedOut: 3, Pending: 1, Blocked: 4}
	}, func() (int, int) { return 5, 6 })
	c.updatePeriodicMetrics()

	_, body := scrape(t, c, "/metrics")
	assert.Contains(t, body, `objectcache_cache_references{instance="test",state="resident"} 10`)
	assert.Contains(t, body, `objectcache_cache_references{instance="test",state="checked_out"} 3`)
	assert.Contains(t, body, `objectcache_queue_depth{instance="test",queue="blocked"} 4`)
	assert.Contains(t, body, `objectcache_queue_depth{instance="test",queue="faults"} 5`)
	assert.Contains(t, body, `objectcache_queue_depth{instance="test",queue="flushes"} 6`)
}

func TestHealthHandler(t *testing.T) {
	t.Parallel()

	c := newTestCollector(t)
	snap := objectmgr.Snapshot{References: 2, CheckedOut: 1}
	c.Watch(func() objectmgr.Snapshot { return snap }, nil)

	code, body := scrape(t, c, "/health")
	assert.Equal(t, http.StatusOK, code)
	var status map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(body), &status))
	assert.Equal(t, "healthy", status["status"])
	assert.Equal(t, float64(2), status["references"])

	snap.Shutdown = true
	code, _ = scrape(t, c, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestDebugOperationsHandler(t *testing.T) {
	t.Parallel()

	c := newTestCollector(t)
	_, body := scrape(t, c, "/debug/operations")
	assert.Contains(t, body, "No operations recorded.")

	c.RecordOperation("gc", time.Second, nil)
	_, body = scrape(t, c, "/debug/operations")
	assert.Contains(t, body, "gc")
}
