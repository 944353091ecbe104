package objectmgr

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/objectfs/objectcache/pkg/errors"
	"github.com/objectfs/objectcache/pkg/types"
)

// LookupResults is what a completed lookup hands back to its caller. Every
// object in Objects is checked out and must be released.
type LookupResults struct {
	Objects map[types.ObjectID]*types.ManagedObject

	// Missing lists requested identifiers that do not exist
	Missing types.ObjectIDSet

	// LookupPending lists identifiers reachable from Objects that were not
	// resident and need a further lookup
	LookupPending types.ObjectIDSet
}

// ObjectList returns the checked-out objects in identifier order
func (r LookupResults) ObjectList() []*types.ManagedObject {
	ids := make(types.ObjectIDSet, len(r.Objects))
	for id := range r.Objects {
		ids.Add(id)
	}
	objs := make([]*types.ManagedObject, 0, len(r.Objects))
	for _, id := range ids.Sorted() {
		objs = append(objs, r.Objects[id])
	}
	return objs
}

// ResultsContext is the caller side of a batch lookup. SetResults is called
// exactly once, possibly from another goroutine, and never while the manager
// lock is held.
type ResultsContext interface {
	LookupIDs() types.ObjectIDSet

	// NewObjectIDs lists identifiers the caller itself created and may check
	// out before they are committed.
	NewObjectIDs() types.ObjectIDSet

	SetResults(results LookupResults)
}

// failer is implemented by contexts that want to hear about shutdown
type failer interface {
	Fail(err error)
}

// releaser returns objects checked out for an abandoned request
type releaser interface {
	ReleaseAllReadOnly(objs []*types.ManagedObject) error
}

// Request is a ResultsContext a caller can wait on. Create one with
// Manager.NewRequest so abandoned results are checked back in.
type Request struct {
	id     uuid.UUID
	ids    types.ObjectIDSet
	newIDs types.ObjectIDSet
	owner  releaser

	mu        sync.Mutex
	done      chan struct{}
	completed bool
	abandoned bool
	results   LookupResults
	err       error
}

func newRequest(owner releaser, ids types.ObjectIDSet) *Request {
	return &Request{
		id:     uuid.New(),
		ids:    ids,
		newIDs: types.NewObjectIDSet(),
		owner:  owner,
		done:   make(chan struct{}),
	}
}

// WithNewObjects marks ids as created by this request's caller
func (r *Request) WithNewObjects(ids ...types.ObjectID) *Request {
	for _, id := range ids {
		r.newIDs.Add(id)
	}
	return r
}

// ID returns the request id used in log lines
func (r *Request) ID() uuid.UUID { return r.id }

// LookupIDs implements ResultsContext
func (r *Request) LookupIDs() types.ObjectIDSet { return r.ids }

// NewObjectIDs implements ResultsContext
func (r *Request) NewObjectIDs() types.ObjectIDSet { return r.newIDs }

// SetResults implements ResultsContext
func (r *Request) SetResults(results LookupResults) {
	r.mu.Lock()
	if r.completed {
		r.mu.Unlock()
		return
	}
	r.completed = true
	if r.abandoned {
		r.mu.Unlock()
		r.giveBack(results)
		return
	}
	r.results = results
	close(r.done)
	r.mu.Unlock()
}

// Fail completes the request with err
func (r *Request) Fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.completed {
		return
	}
	r.completed = true
	r.err = err
	close(r.done)
}

// Done is closed once results or an error are available
func (r *Request) Done() <-chan struct{} { return r.done }

// Wait blocks until the lookup completes or ctx ends. A request abandoned by
// ctx releases whatever it is later granted.
func (r *Request) Wait(ctx context.Context) (LookupResults, error) {
	select {
	case <-r.done:
		return r.results, r.err
	case <-ctx.Done():
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.completed && !r.abandoned {
		return r.results, r.err
	}
	r.abandoned = true
	return LookupResults{}, errors.Wrap(ctx.Err(), errors.ErrCodeOperationCanceled, "lookup abandoned").
		WithComponent("objectmgr").
		WithDetail("request_id", r.id.String())
}

func (r *Request) giveBack(results LookupResults) {
	if r.owner == nil || len(results.Objects) == 0 {
		return
	}
	_ = r.owner.ReleaseAllReadOnly(results.ObjectList())
}

func (r *Request) String() string {
	return fmt.Sprintf("request[%s ids=%d new=%d]", r.id, len(r.ids), len(r.newIDs))
}

var _ ResultsContext = (*Request)(nil)
