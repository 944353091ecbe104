package store

import (
	"bytes"
	"context"
	"testing"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/objectcache/internal/config"
	"github.com/objectfs/objectcache/pkg/errors"
	"github.com/objectfs/objectcache/pkg/types"
)

// testStoreContract exercises the behaviour every backend must share
func testStoreContract(t *testing.T, s types.Store) {
	ctx := context.Background()

	t.Run("missing object", func(t *testing.T) {
		ok, err := s.ContainsObject(ctx, 404)
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = s.LoadObject(ctx, 404)
		require.Error(t, err)
		assert.True(t, errors.IsNotFound(err))
	})

	t.Run("add and load", func(t *testing.T) {
		obj := types.NewManagedObject(1, []byte("alpha"), 3, 2)
		require.NoError(t, s.AddNewObject(ctx, obj))

		ok, err := s.ContainsObject(ctx, 1)
		require.NoError(t, err)
		assert.True(t, ok)

		loaded, err := s.LoadObject(ctx, 1)
		require.NoError(t, err)
		assert.NotSame(t, obj, loaded)
		assert.Equal(t, []byte("alpha"), loaded.State())
		assert.Equal(t, []types.ObjectID{2, 3}, loaded.References())
		assert.False(t, loaded.IsNew())
		assert.False(t, loaded.IsDirty())
	})

	t.Run("add existing fails", func(t *testing.T) {
		err := s.AddNewObject(ctx, types.NewManagedObject(1, []byte("again")))
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.ErrCodeObjectExists))
	})

	t.Run("commit overwrites", func(t *testing.T) {
		a := types.RestoreManagedObject(1, nil, nil)
		a.Apply([]byte("beta"), 2)
		b := types.NewManagedObject(2, bytes.Repeat([]byte("x"), 10000))
		require.NoError(t, s.CommitObjects(ctx, a, b))

		loaded, err := s.LoadObject(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, []byte("beta"), loaded.State())

		big, err := s.LoadObject(ctx, 2)
		require.NoError(t, err)
		assert.Len(t, big.State(), 10000)

		ids, err := s.ObjectIDs(ctx)
		require.NoError(t, err)
		assert.Equal(t, []types.ObjectID{1, 2}, ids.Sorted())
	})

	t.Run("roots", func(t *testing.T) {
		_, err := s.RootID(ctx, "main")
		assert.True(t, errors.IsNotFound(err))

		require.NoError(t, s.AddRoot(ctx, "main", 1))
		require.NoError(t, s.AddRoot(ctx, "aux", 2))

		id, err := s.RootID(ctx, "main")
		require.NoError(t, err)
		assert.Equal(t, types.ObjectID(1), id)

		roots, err := s.Roots(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[string]types.ObjectID{"main": 1, "aux": 2}, roots)
	})

	t.Run("remove", func(t *testing.T) {
		require.NoError(t, s.RemoveObjects(ctx, []types.ObjectID{2, 99}))

		ok, err := s.ContainsObject(ctx, 2)
		require.NoError(t, err)
		assert.False(t, ok)

		ids, err := s.ObjectIDs(ctx)
		require.NoError(t, err)
		assert.Equal(t, []types.ObjectID{1}, ids.Sorted())
	})
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	testStoreContract(t, s)

	stats := s.Stats()
	assert.Equal(t, 2, stats.Adds)
	assert.Equal(t, 1, stats.Commits)
	assert.Equal(t, 2, stats.Written)
	assert.Equal(t, 1, stats.Removed)
	assert.Equal(t, 1, s.Len())
}

func TestMemoryStore_InjectedErrors(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CommitObjects(ctx, types.NewManagedObject(1, nil)))

	s.SetLoadError(errors.NewError(errors.ErrCodeStorageRead, "disk gone"))
	_, err := s.LoadObject(ctx, 1)
	assert.True(t, errors.HasCode(err, errors.ErrCodeStorageRead))
	s.SetLoadError(nil)
	_, err = s.LoadObject(ctx, 1)
	assert.NoError(t, err)

	s.SetCommitError(errors.NewError(errors.ErrCodeStorageWrite, "read only"))
	assert.Error(t, s.CommitObjects(ctx, types.NewManagedObject(2, nil)))
	assert.Error(t, s.AddNewObject(ctx, types.NewManagedObject(3, nil)))

	require.NoError(t, s.Close())
	_, err = s.ContainsObject(ctx, 1)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidState))
}

func TestPebbleStore(t *testing.T) {
	s, err := NewPebbleStore(PebbleOptions{
		Directory:            "objects",
		Compression:          true,
		CompressionThreshold: 1024,
		FS:                   vfs.NewMem(),
	}, zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()

	testStoreContract(t, s)
}

func TestPebbleStore_CanceledContext(t *testing.T) {
	s, err := NewPebbleStore(PebbleOptions{Directory: "objects", FS: vfs.NewMem()}, zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = s.LoadObject(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, s.CommitObjects(ctx, types.NewManagedObject(1, nil)), context.Canceled)
}

func TestUpperBound(t *testing.T) {
	assert.Equal(t, []byte("o0"), upperBound(objectPrefix))
	assert.Equal(t, []byte("r0"), upperBound(rootPrefix))
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, config.StorageConfig{Backend: config.BackendMemory}, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	_, err = Open(ctx, config.StorageConfig{Backend: "tape"}, zerolog.Nop())
	assert.Error(t, err)

	_, err = Open(ctx, config.StorageConfig{
		Backend: config.BackendPebble,
		Pebble:  config.PebbleConfig{Directory: t.TempDir(), CompressionThreshold: "lots"},
	}, zerolog.Nop())
	assert.Error(t, err)

	s, err = Open(ctx, config.StorageConfig{
		Backend: config.BackendPebble,
		Pebble:  config.PebbleConfig{Directory: t.TempDir(), CompressionThreshold: "2KB"},
	}, zerolog.Nop())
	require.NoError(t, err)
	assert.NoError(t, s.Close())
}
