package gc

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/objectfs/objectcache/pkg/errors"
	"github.com/objectfs/objectcache/pkg/types"
)

// Graph is the read-only view of the object graph available during a pause
type Graph interface {
	ObjectReferences(ctx context.Context, id types.ObjectID) ([]types.ObjectID, error)
	NewObjectIDs() types.ObjectIDSet
}

// Catalog lists what the store holds
type Catalog interface {
	Roots(ctx context.Context) (map[string]types.ObjectID, error)
	ObjectIDs(ctx context.Context) (types.ObjectIDSet, error)
}

// ReachabilityFinder marks everything reachable from the store roots and the
// cache's uncommitted objects. Every stored identifier left unmarked is
// garbage.
type ReachabilityFinder struct {
	graph   Graph
	catalog Catalog
	logger  zerolog.Logger
}

// NewReachabilityFinder creates a finder over graph and catalog
func NewReachabilityFinder(graph Graph, catalog Catalog, logger zerolog.Logger) *ReachabilityFinder {
	return &ReachabilityFinder{
		graph:   graph,
		catalog: catalog,
		logger:  logger.With().Str("component", "gc-finder").Logger(),
	}
}

// FindGarbage implements Finder
func (f *ReachabilityFinder) FindGarbage(ctx context.Context) (types.ObjectIDSet, error) {
	roots, err := f.catalog.Roots(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "list roots").WithComponent(component)
	}

	marked := types.NewObjectIDSet()
	stack := make([]types.ObjectID, 0, len(roots))
	for _, id := range roots {
		stack = append(stack, id)
	}
	stack = append(stack, f.graph.NewObjectIDs().Sorted()...)

	dangling := 0
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeOperationCanceled, "mark canceled").WithComponent(component)
		}
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == types.NullObjectID || !marked.Add(id) {
			continue
		}

		refs, err := f.graph.ObjectReferences(ctx, id)
		if err != nil {
			if errors.IsNotFound(err) {
				dangling++
				continue
			}
			return nil, err
		}
		for _, ref := range refs {
			if !marked.Contains(ref) {
				stack = append(stack, ref)
			}
		}
	}

	all, err := f.catalog.ObjectIDs(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeStorageRead, "list objects").WithComponent(component)
	}
	garbage := types.NewObjectIDSet()
	for id := range all {
		if !marked.Contains(id) {
			garbage.Add(id)
		}
	}

	f.logger.Debug().
		Int("roots", len(roots)).
		Int("marked", len(marked)).
		Int("dangling", dangling).
		Int("garbage", len(garbage)).
		Msg("mark complete")
	return garbage, nil
}

var _ Finder = (*ReachabilityFinder)(nil)
