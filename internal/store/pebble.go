package store

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/objectfs/objectcache/pkg/errors"
	"github.com/objectfs/objectcache/pkg/types"
)

// Key prefixes; the upper bound of each range is the prefix with '/' bumped to '0'
const (
	objectPrefix = "o/"
	rootPrefix   = "r/"
)

// PebbleOptions configures a PebbleStore
type PebbleOptions struct {
	Directory            string
	Sync                 bool
	Compression          bool
	CompressionThreshold int

	// FS overrides the filesystem, vfs.NewMem() in tests
	FS vfs.FS
}

// PebbleStore persists objects in a local pebble database
type PebbleStore struct {
	db        *pebble.DB
	codec     *Codec
	writeOpts *pebble.WriteOptions
	logger    zerolog.Logger
}

// NewPebbleStore opens (or creates) the database in opts.Directory
func NewPebbleStore(opts PebbleOptions, logger zerolog.Logger) (*PebbleStore, error) {
	codec, err := NewCodec(opts.Compression, opts.CompressionThreshold)
	if err != nil {
		return nil, err
	}

	pebbleOpts := &pebble.Options{}
	if opts.FS != nil {
		pebbleOpts.FS = opts.FS
	}

	db, err := pebble.Open(opts.Directory, pebbleOpts)
	if err != nil {
		_ = codec.Close()
		return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "failed to open pebble database").
			WithComponent("pebble-store").WithDetail("directory", opts.Directory)
	}

	writeOpts := pebble.NoSync
	if opts.Sync {
		writeOpts = pebble.Sync
	}

	s := &PebbleStore{
		db:        db,
		codec:     codec,
		writeOpts: writeOpts,
		logger:    logger.With().Str("component", "pebble-store").Logger(),
	}
	s.logger.Info().Str("directory", opts.Directory).Bool("sync", opts.Sync).Msg("pebble store opened")
	return s, nil
}

func objectKey(id types.ObjectID) []byte {
	return []byte(objectPrefix + id.Key())
}

func rootKey(name string) []byte {
	return []byte(rootPrefix + name)
}

func upperBound(prefix string) []byte {
	b := []byte(prefix)
	b[len(b)-1]++
	return b
}

func (s *PebbleStore) fail(err error, code errors.ErrorCode, op, msg string) error {
	return errors.Wrap(err, code, msg).WithComponent("pebble-store").WithOperation(op)
}

// ContainsObject reports whether id is stored
func (s *PebbleStore) ContainsObject(ctx context.Context, id types.ObjectID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, closer, err := s.db.Get(objectKey(id))
	if stderrors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, s.fail(err, errors.ErrCodeStorageRead, "ContainsObject", "get failed")
	}
	_ = closer.Close()
	return true, nil
}

// LoadObject reads and decodes id
func (s *PebbleStore) LoadObject(ctx context.Context, id types.ObjectID) (*types.ManagedObject, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	value, closer, err := s.db.Get(objectKey(id))
	if stderrors.Is(err, pebble.ErrNotFound) {
		return nil, errors.Newf(errors.ErrCodeObjectNotFound, "object %d not found", id).
			WithComponent("pebble-store").WithOperation("LoadObject")
	}
	if err != nil {
		return nil, s.fail(err, errors.ErrCodeStorageRead, "LoadObject", "get failed")
	}
	defer closer.Close()

	return s.codec.Decode(value)
}

// AddNewObject writes a new object; it fails if id already exists
func (s *PebbleStore) AddNewObject(ctx context.Context, obj *types.ManagedObject) error {
	exists, err := s.ContainsObject(ctx, obj.ID())
	if err != nil {
		return err
	}
	if exists {
		return errors.Newf(errors.ErrCodeObjectExists, "object %d already exists", obj.ID()).
			WithComponent("pebble-store").WithOperation("AddNewObject")
	}

	value, err := s.codec.Encode(obj)
	if err != nil {
		return err
	}
	if err := s.db.Set(objectKey(obj.ID()), value, s.writeOpts); err != nil {
		return s.fail(err, errors.ErrCodeStorageWrite, "AddNewObject", "set failed")
	}
	return nil
}

// CommitObjects writes objs in one batch
func (s *PebbleStore) CommitObjects(ctx context.Context, objs ...*types.ManagedObject) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(objs) == 0 {
		return nil
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	for _, obj := range objs {
		value, err := s.codec.Encode(obj)
		if err != nil {
			return err
		}
		if err := batch.Set(objectKey(obj.ID()), value, nil); err != nil {
			return s.fail(err, errors.ErrCodeStorageWrite, "CommitObjects", "batch set failed")
		}
	}

	if err := batch.Commit(s.writeOpts); err != nil {
		return s.fail(err, errors.ErrCodeStorageWrite, "CommitObjects", "batch commit failed")
	}
	return nil
}

// RemoveObjects deletes ids in one batch
func (s *PebbleStore) RemoveObjects(ctx context.Context, ids []types.ObjectID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	for _, id := range ids {
		if err := batch.Delete(objectKey(id), nil); err != nil {
			return s.fail(err, errors.ErrCodeStorageDelete, "RemoveObjects", "batch delete failed")
		}
	}
	if err := batch.Commit(s.writeOpts); err != nil {
		return s.fail(err, errors.ErrCodeStorageDelete, "RemoveObjects", "batch commit failed")
	}
	return nil
}

// AddRoot binds name to id
func (s *PebbleStore) AddRoot(ctx context.Context, name string, id types.ObjectID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.db.Set(rootKey(name), []byte(id.Key()), s.writeOpts); err != nil {
		return s.fail(err, errors.ErrCodeStorageWrite, "AddRoot", "set failed")
	}
	return nil
}

// RootID resolves a root name
func (s *PebbleStore) RootID(ctx context.Context, name string) (types.ObjectID, error) {
	if err := ctx.Err(); err != nil {
		return types.NullObjectID, err
	}
	value, closer, err := s.db.Get(rootKey(name))
	if stderrors.Is(err, pebble.ErrNotFound) {
		return types.NullObjectID, errors.Newf(errors.ErrCodeObjectNotFound, "root %q not found", name).
			WithComponent("pebble-store").WithOperation("RootID")
	}
	if err != nil {
		return types.NullObjectID, s.fail(err, errors.ErrCodeStorageRead, "RootID", "get failed")
	}
	defer closer.Close()
	return types.ParseObjectKey(string(value))
}

// Roots returns every root binding
func (s *PebbleStore) Roots(ctx context.Context) (map[string]types.ObjectID, error) {
	roots := make(map[string]types.ObjectID)
	err := s.scan(ctx, rootPrefix, func(key, value []byte) error {
		id, err := types.ParseObjectKey(string(value))
		if err != nil {
			return err
		}
		roots[strings.TrimPrefix(string(key), rootPrefix)] = id
		return nil
	})
	if err != nil {
		return nil, s.fail(err, errors.ErrCodeStorageRead, "Roots", "scan failed")
	}
	return roots, nil
}

// ObjectIDs enumerates stored identifiers
func (s *PebbleStore) ObjectIDs(ctx context.Context) (types.ObjectIDSet, error) {
	ids := make(types.ObjectIDSet)
	err := s.scan(ctx, objectPrefix, func(key, _ []byte) error {
		id, err := types.ParseObjectKey(strings.TrimPrefix(string(key), objectPrefix))
		if err != nil {
			return err
		}
		ids.Add(id)
		return nil
	})
	if err != nil {
		return nil, s.fail(err, errors.ErrCodeStorageRead, "ObjectIDs", "scan failed")
	}
	return ids, nil
}

func (s *PebbleStore) scan(ctx context.Context, prefix string, fn func(key, value []byte) error) (err error) {
	it, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, it.Close())
	}()

	for valid := it.First(); valid; valid = it.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(it.Key(), it.Value()); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes and closes the database
func (s *PebbleStore) Close() error {
	err := multierr.Append(s.db.Close(), s.codec.Close())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to close pebble store")
	}
	return err
}

var _ types.Store = (*PebbleStore)(nil)
