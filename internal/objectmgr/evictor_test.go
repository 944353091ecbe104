package objectmgr

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/objectcache/pkg/errors"
	"github.com/objectfs/objectcache/pkg/types"
)

func TestObjectsToEvict(t *testing.T) {
	tests := []struct {
		name  string
		size  int
		limit int
		pct   int
		want  int
	}{
		{"under limit", 50, 100, 10, 0},
		{"at limit", 100, 100, 10, 0},
		{"no limit", 1000, 0, 10, 0},
		{"over limit", 120, 100, 0, 20},
		{"over limit with headroom", 200, 100, 10, 120},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, objectsToEvict(tt.size, tt.limit, tt.pct))
		})
	}
}

func TestEvictor_RunOnce(t *testing.T) {
	h := newHarness(t)
	h.makeResident(t, 1, 2, 3, 4, 5)

	var reported []EvictionStats
	e := NewEvictor(h.mgr, EvictorConfig{
		MaxObjects: 3,
		OnPass: func(stats EvictionStats, _ time.Duration, err error) {
			assert.NoError(t, err)
			reported = append(reported, stats)
		},
	}, zerolog.Nop())
	stats, err := e.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Requested)
	assert.Equal(t, 2, stats.Evicted)
	assert.Equal(t, 3, h.mgr.Size())

	// least recently used go first
	assert.Equal(t, []types.ObjectID{3, 4, 5}, h.mgr.ObjectIDsInCache().Sorted())

	last, passes := e.LastPass()
	assert.Equal(t, stats, last)
	assert.Equal(t, uint64(1), passes)

	stats, err = e.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, EvictionStats{}, stats)
	_, passes = e.LastPass()
	assert.Equal(t, uint64(1), passes, "nothing to do is not a pass")
	assert.Len(t, reported, 1)
}

func TestEvictor_StartStop(t *testing.T) {
	h := newHarness(t)
	h.makeResident(t, 1, 2, 3, 4)

	e := NewEvictor(h.mgr, EvictorConfig{MaxObjects: 2, Interval: 10 * time.Millisecond}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, e.Start(ctx))
	err := e.Start(ctx)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidState))

	require.Eventually(t, func() bool { return h.mgr.Size() <= 2 }, 2*time.Second, 5*time.Millisecond)
	e.Stop()
	e.Stop()

	_, passes := e.LastPass()
	assert.GreaterOrEqual(t, passes, uint64(1))
}

func TestEvictor_StopsOnShutdown(t *testing.T) {
	h := newHarness(t)
	h.makeResident(t, 1, 2)
	require.NoError(t, h.mgr.Stop(context.Background()))

	e := NewEvictor(h.mgr, EvictorConfig{MaxObjects: 1}, zerolog.Nop())
	_, err := e.RunOnce(context.Background())
	assert.True(t, errors.IsShutdown(err))
}
