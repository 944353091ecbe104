package objectmgr

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/objectcache/pkg/errors"
	"github.com/objectfs/objectcache/pkg/types"
)

func entry(caller string) *pendingEntry {
	return &pendingEntry{caller: types.NodeID(caller), ctx: newLookupContext(newRequest(nil, types.NewObjectIDSet()))}
}

func TestPendingList(t *testing.T) {
	p := newPendingList()
	a, b, c := entry("a"), entry("b"), entry("c")

	p.add(a)
	p.block(7, b)
	p.block(7, c)
	assert.Equal(t, 1, p.size())
	assert.Equal(t, 2, p.blockedCount())
	assert.Equal(t, []types.ObjectID{7}, p.blockedIDs())
	assert.True(t, p.hasWaiters(7))
	assert.False(t, p.hasWaiters(8))

	assert.Equal(t, 0, p.unblock(8))
	assert.Equal(t, 2, p.unblock(7))
	assert.Equal(t, 0, p.blockedCount())
	assert.Equal(t, []*pendingEntry{a, b, c}, p.drain())
	assert.Equal(t, 0, p.size())
}

func TestPendingList_TakeAndDrainAll(t *testing.T) {
	p := newPendingList()
	a, b, c := entry("a"), entry("b"), entry("c")
	p.block(1, a)
	p.block(2, b)
	p.add(c)

	assert.Equal(t, []*pendingEntry{a}, p.take(1))
	assert.Nil(t, p.take(1))
	assert.Equal(t, 1, p.blockedCount())
	assert.Equal(t, 1, p.size(), "taken waiters are not queued")

	assert.ElementsMatch(t, []*pendingEntry{b, c}, p.drainAll())
	assert.Equal(t, 0, p.blockedCount())
	assert.Empty(t, p.blockedIDs())
}

func TestLookupContext_UpdateStats(t *testing.T) {
	lc := newLookupContext(newRequest(nil, types.NewObjectIDSet(1)))
	assert.True(t, lc.updateStats())
	lc.processed++
	assert.False(t, lc.updateStats(), "retries are not counted")

	quiet := newLookupContext(newRequest(nil, types.NewObjectIDSet(1)))
	quiet.quiet = true
	assert.False(t, quiet.updateStats())
}

func TestRequest_SetResultsOnce(t *testing.T) {
	r := newRequest(nil, types.NewObjectIDSet(1))
	obj := types.RestoreManagedObject(1, nil, nil)
	r.SetResults(LookupResults{Objects: map[types.ObjectID]*types.ManagedObject{1: obj}})
	r.SetResults(LookupResults{})
	r.Fail(errors.NewError(errors.ErrCodeShutdownInProgress, "late"))

	res, err := r.Wait(context.Background())
	require.NoError(t, err)
	assert.Same(t, obj, res.Objects[1])
	assert.Contains(t, r.String(), r.ID().String())
}

type recordingReleaser struct {
	released []*types.ManagedObject
}

func (r *recordingReleaser) ReleaseAllReadOnly(objs []*types.ManagedObject) error {
	r.released = append(r.released, objs...)
	return nil
}

func TestRequest_AbandonedGivesBack(t *testing.T) {
	owner := &recordingReleaser{}
	r := newRequest(owner, types.NewObjectIDSet(1))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := r.Wait(ctx)
	assert.True(t, errors.HasCode(err, errors.ErrCodeOperationCanceled))

	obj := types.RestoreManagedObject(1, nil, nil)
	r.SetResults(LookupResults{Objects: map[types.ObjectID]*types.ManagedObject{1: obj}})
	assert.Equal(t, []*types.ManagedObject{obj}, owner.released)
}

func TestCounter(t *testing.T) {
	c := newCounter()
	require.NoError(t, c.waitUntilZero(context.Background()))

	c.increment(3)
	assert.Equal(t, 3, c.get())

	done := make(chan error, 1)
	go func() { done <- c.waitUntilZero(context.Background()) }()
	c.decrement(2)
	require.Never(t, func() bool { return len(done) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
	c.decrement(5)
	require.NoError(t, <-done)
	assert.Equal(t, 0, c.get())

	c.increment(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.waitUntilZero(ctx)
	assert.True(t, errors.HasCode(err, errors.ErrCodeOperationCanceled))
}
