package gateway

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"github.com/objectfs/objectcache/pkg/errors"
	"github.com/objectfs/objectcache/pkg/retry"
	"github.com/objectfs/objectcache/pkg/types"
)

// Config contains configuration for the gateway
type Config struct {
	FaultWorkers int          `yaml:"fault_workers"`
	FlushWorkers int          `yaml:"flush_workers"`
	QueueSize    int          `yaml:"queue_size"`
	Retry        retry.Config `yaml:"retry"`
}

// DefaultConfig returns the default gateway configuration
func DefaultConfig() Config {
	return Config{
		FaultWorkers: 8,
		FlushWorkers: 4,
		QueueSize:    1024,
		Retry:        retry.DefaultConfig(),
	}
}

// Stats tracks gateway statistics
type Stats struct {
	FaultsSubmitted  uint64 `json:"faults_submitted"`
	FaultsLoaded     uint64 `json:"faults_loaded"`
	FaultsMissing    uint64 `json:"faults_missing"`
	FaultErrors      uint64 `json:"fault_errors"`
	FlushesSubmitted uint64 `json:"flushes_submitted"`
	FlushesCompleted uint64 `json:"flushes_completed"`
	FlushFailures    uint64 `json:"flush_failures"`
	ObjectsFlushed   uint64 `json:"objects_flushed"`
}

type counters struct {
	faultsSubmitted  atomic.Uint64
	faultsLoaded     atomic.Uint64
	faultsMissing    atomic.Uint64
	faultErrors      atomic.Uint64
	flushesSubmitted atomic.Uint64
	flushesCompleted atomic.Uint64
	flushFailures    atomic.Uint64
	objectsFlushed   atomic.Uint64
}

// Gateway runs store reads and writes on behalf of the object manager. Faults
// and flushes are queued on bounded channels and served by worker pools; results
// are delivered through the callbacks given to Start.
type Gateway struct {
	store   types.Store
	config  Config
	retryer *retry.Retryer
	logger  zerolog.Logger

	faultCh chan types.ObjectID
	flushCh chan []*types.ManagedObject

	// faults that did not fit in faultCh, fed in by the feeder goroutine
	overflowMu     sync.Mutex
	overflow       []types.ObjectID
	overflowSignal chan struct{}
	feedStop       chan struct{}
	feedDone       chan struct{}

	mu        sync.RWMutex
	callbacks types.GatewayCallbacks
	started   bool
	stopped   bool
	stopCh    chan struct{}
	stopOnce  sync.Once

	ctx    context.Context
	cancel context.CancelFunc
	wg     conc.WaitGroup

	stats counters
}

// New creates a gateway over store. Workers do not run until Start.
func New(store types.Store, config Config, logger zerolog.Logger) *Gateway {
	defaults := DefaultConfig()
	if config.FaultWorkers <= 0 {
		config.FaultWorkers = defaults.FaultWorkers
	}
	if config.FlushWorkers <= 0 {
		config.FlushWorkers = defaults.FlushWorkers
	}
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		store:   store,
		config:  config,
		logger:  logger.With().Str("component", "gateway").Logger(),
		faultCh: make(chan types.ObjectID, config.QueueSize),
		flushCh: make(chan []*types.ManagedObject, config.QueueSize),
		stopCh:  make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,

		overflowSignal: make(chan struct{}, 1),
		feedStop:       make(chan struct{}),
		feedDone:       make(chan struct{}),
	}
	g.retryer = retry.New(config.Retry).WithOnRetry(g.logRetry)
	return g
}

// Start launches the workers; results are delivered to callbacks
func (g *Gateway) Start(callbacks types.GatewayCallbacks) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.stopped {
		return errors.NewError(errors.ErrCodeQueueClosed, "gateway stopped").WithComponent("gateway")
	}
	if g.started {
		return errors.NewError(errors.ErrCodeInvalidState, "gateway already started").WithComponent("gateway")
	}
	g.started = true
	g.callbacks = callbacks

	g.wg.Go(g.feeder)
	for i := 0; i < g.config.FaultWorkers; i++ {
		g.wg.Go(g.faultWorker)
	}
	for i := 0; i < g.config.FlushWorkers; i++ {
		g.wg.Go(g.flushWorker)
	}

	g.logger.Info().
		Int("fault_workers", g.config.FaultWorkers).
		Int("flush_workers", g.config.FlushWorkers).
		Int("queue_size", g.config.QueueSize).
		Msg("gateway started")
	return nil
}

// SubmitFault queues materialization of id. It never blocks: faults that do
// not fit in the queue wait in an overflow list, so callbacks running on a
// worker can submit further faults.
func (g *Gateway) SubmitFault(id types.ObjectID) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.stopped {
		return g.closedError("SubmitFault")
	}
	g.stats.faultsSubmitted.Add(1)

	g.overflowMu.Lock()
	if len(g.overflow) == 0 {
		select {
		case g.faultCh <- id:
			g.overflowMu.Unlock()
			return nil
		default:
		}
	}
	g.overflow = append(g.overflow, id)
	g.overflowMu.Unlock()

	select {
	case g.overflowSignal <- struct{}{}:
	default:
	}
	return nil
}

// SubmitFlush queues a write-back of objs as one commit
func (g *Gateway) SubmitFlush(objs []*types.ManagedObject) error {
	if len(objs) == 0 {
		return nil
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.stopped {
		return g.closedError("SubmitFlush")
	}
	select {
	case g.flushCh <- objs:
		g.stats.flushesSubmitted.Add(1)
		return nil
	case <-g.stopCh:
		return g.closedError("SubmitFlush")
	}
}

// Stop refuses new work, lets workers drain what is queued and waits for
// them. When ctx expires first, in-flight store calls are canceled.
func (g *Gateway) Stop(ctx context.Context) error {
	g.stopOnce.Do(func() { close(g.stopCh) })

	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return nil
	}
	g.stopped = true
	started := g.started
	close(g.feedStop)
	g.mu.Unlock()

	if !started {
		close(g.faultCh)
		close(g.flushCh)
		g.cancel()
		return nil
	}

	done := make(chan struct{})
	go func() {
		// the feeder empties the overflow list before the queues close
		<-g.feedDone
		close(g.faultCh)
		close(g.flushCh)
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		g.cancel()
		g.logger.Info().Msg("gateway stopped")
		return nil
	case <-ctx.Done():
		g.cancel()
		<-done
		return errors.Wrap(ctx.Err(), errors.ErrCodeOperationTimeout, "gateway stop timed out").
			WithComponent("gateway")
	}
}

// Stats returns current statistics
func (g *Gateway) Stats() Stats {
	return Stats{
		FaultsSubmitted:  g.stats.faultsSubmitted.Load(),
		FaultsLoaded:     g.stats.faultsLoaded.Load(),
		FaultsMissing:    g.stats.faultsMissing.Load(),
		FaultErrors:      g.stats.faultErrors.Load(),
		FlushesSubmitted: g.stats.flushesSubmitted.Load(),
		FlushesCompleted: g.stats.flushesCompleted.Load(),
		FlushFailures:    g.stats.flushFailures.Load(),
		ObjectsFlushed:   g.stats.objectsFlushed.Load(),
	}
}

// QueueDepth returns the number of queued faults and flushes
func (g *Gateway) QueueDepth() (faults, flushes int) {
	g.overflowMu.Lock()
	overflow := len(g.overflow)
	g.overflowMu.Unlock()
	return len(g.faultCh) + overflow, len(g.flushCh)
}

// feeder moves overflowed faults into the queue as workers free up space.
// After Stop it keeps going until the overflow list is empty.
func (g *Gateway) feeder() {
	defer close(g.feedDone)
	for {
		if id, ok := g.popOverflow(); ok {
			g.faultCh <- id
			continue
		}
		select {
		case <-g.overflowSignal:
		case <-g.feedStop:
			for {
				id, ok := g.popOverflow()
				if !ok {
					return
				}
				g.faultCh <- id
			}
		}
	}
}

func (g *Gateway) popOverflow() (types.ObjectID, bool) {
	g.overflowMu.Lock()
	defer g.overflowMu.Unlock()
	if len(g.overflow) == 0 {
		return 0, false
	}
	id := g.overflow[0]
	g.overflow = g.overflow[1:]
	return id, true
}

func (g *Gateway) faultWorker() {
	for id := range g.faultCh {
		g.fault(id)
	}
}

func (g *Gateway) flushWorker() {
	for objs := range g.flushCh {
		g.flush(objs)
	}
}

// fault loads id and reports it. Any failure is reported as a missing object.
func (g *Gateway) fault(id types.ObjectID) {
	var obj *types.ManagedObject
	err := g.retryer.DoWithContext(g.ctx, func(ctx context.Context) error {
		loaded, err := g.store.LoadObject(ctx, id)
		if err != nil {
			return err
		}
		obj = loaded
		return nil
	})

	switch {
	case err == nil:
		g.stats.faultsLoaded.Add(1)
	case errors.IsNotFound(err):
		g.stats.faultsMissing.Add(1)
		g.logger.Debug().Uint64("object_id", uint64(id)).Msg("fault found no object")
	default:
		g.stats.faultErrors.Add(1)
		g.logger.Error().Err(err).Uint64("object_id", uint64(id)).Msg("fault failed, reporting object missing")
	}

	g.callbacks.FaultCompleted(id, obj)
}

func (g *Gateway) flush(objs []*types.ManagedObject) {
	err := g.retryer.DoWithContext(g.ctx, func(ctx context.Context) error {
		return g.store.CommitObjects(ctx, objs...)
	})
	if err != nil {
		g.stats.flushFailures.Add(1)
		g.logger.Error().Err(err).Int("objects", len(objs)).Msg("flush failed")
		g.callbacks.FlushFailed(objs, err)
		return
	}

	g.stats.flushesCompleted.Add(1)
	g.stats.objectsFlushed.Add(uint64(len(objs)))
	g.callbacks.FlushCompleted(objs)
}

func (g *Gateway) logRetry(attempt int, err error, delay time.Duration) {
	g.logger.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("retrying store operation")
}

func (g *Gateway) closedError(op string) error {
	return errors.NewError(errors.ErrCodeQueueClosed, "gateway stopped").
		WithComponent("gateway").WithOperation(op)
}

var _ types.ObjectGateway = (*Gateway)(nil)
