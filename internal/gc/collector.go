package gc

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/objectfs/objectcache/pkg/errors"
	"github.com/objectfs/objectcache/pkg/types"
)

const component = "gc"

// State represents the collector state
type State int

const (
	// StateDisabled - collection is switched off
	StateDisabled State = iota
	// StateSleep - idle between cycles
	StateSleep
	// StateRunning - a cycle has started but the cache is not paused yet
	StateRunning
	// StatePausing - waiting for every checkout to be returned
	StatePausing
	// StatePaused - the cache is quiescent and garbage is being found
	StatePaused
	// StateDelete - garbage is being removed from the cache and the store
	StateDelete
)

// String returns string representation of state
func (s State) String() string {
	switch s {
	case StateDisabled:
		return "DISABLED"
	case StateSleep:
		return "SLEEP"
	case StateRunning:
		return "RUNNING"
	case StatePausing:
		return "PAUSING"
	case StatePaused:
		return "PAUSED"
	case StateDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// Manager is the cache side of the handshake
type Manager interface {
	WaitUntilReadyToGC(ctx context.Context) error
	NotifyGCComplete(ctx context.Context, garbage types.ObjectIDSet) error
}

// Finder computes the garbage set while the cache is paused
type Finder interface {
	FindGarbage(ctx context.Context) (types.ObjectIDSet, error)
}

// Config contains collector configuration
type Config struct {
	// Enabled starts the collector in SLEEP rather than DISABLED
	Enabled bool `yaml:"enabled"`

	// Period between the end of one cycle and the start of the next
	Interval time.Duration `yaml:"interval"`

	// Function called when state changes. It runs under the collector lock
	// and must not call back into the collector or the manager.
	OnStateChange func(from State, to State) `yaml:"-"`

	// Function called after every cycle that reached the pause
	OnCycle func(stats CycleStats, err error) `yaml:"-"`
}

// CycleStats describes one collection cycle
type CycleStats struct {
	Garbage   int           `json:"garbage"`
	PauseWait time.Duration `json:"pause_wait"`
	Duration  time.Duration `json:"duration"`
	Aborted   bool          `json:"aborted"`
}

// Collector drives collection cycles and implements the collector side of
// the cache's GC handshake
type Collector struct {
	config Config
	mgr    Manager
	finder Finder
	logger zerolog.Logger

	mu      sync.Mutex
	state   State
	disable bool
	pauses  uint64
	cycles  uint64
	last    CycleStats

	// serializes cycles
	runMu sync.Mutex

	loopMu  sync.Mutex
	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a collector. The manager must be told about it with
// SetCollector before the first cycle.
func New(mgr Manager, finder Finder, config Config, logger zerolog.Logger) *Collector {
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}
	state := StateDisabled
	if config.Enabled {
		state = StateSleep
	}
	return &Collector{
		config: config,
		mgr:    mgr,
		finder: finder,
		logger: logger.With().Str("component", component).Logger(),
		state:  state,
		stopCh: make(chan struct{}),
	}
}

// setState changes the state; the lock must be held
func (c *Collector) setState(state State) {
	prev := c.state
	if prev == state {
		return
	}
	c.state = state
	if state == StatePausing {
		c.pauses++
	}
	c.logger.Debug().Stringer("from", prev).Stringer("to", state).Msg("collector state change")
	if c.config.OnStateChange != nil {
		c.config.OnStateChange(prev, state)
	}
}

func (c *Collector) transition(from, to State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != from {
		return false
	}
	c.setState(to)
	return true
}

// GetState returns the current state
func (c *Collector) GetState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RequestGCStart moves an idle collector to RUNNING
func (c *Collector) RequestGCStart() bool {
	return c.transition(StateSleep, StateRunning)
}

// RequestGCPause asks the cache to quiesce
func (c *Collector) RequestGCPause() bool {
	return c.transition(StateRunning, StatePausing)
}

// NotifyReadyToGC is called by the cache, under its lock, once every checkout
// has been returned
func (c *Collector) NotifyReadyToGC() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StatePausing {
		c.logger.Warn().Stringer("state", c.state).Msg("ready notification outside a pause")
		return
	}
	c.setState(StatePaused)
}

// IsPausingOrPaused is consulted by the cache under its lock
func (c *Collector) IsPausingOrPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StatePausing || c.state == StatePaused
}

// PauseCycle numbers the pauses started so far
func (c *Collector) PauseCycle() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pauses
}

func (c *Collector) IsPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StatePaused
}

// RequestGCDeleteStart ends the pause so garbage can be removed
func (c *Collector) RequestGCDeleteStart() bool {
	return c.transition(StatePaused, StateDelete)
}

// NotifyGCComplete returns the collector to SLEEP, or to DISABLED if
// DisableGC was called during the cycle
func (c *Collector) NotifyGCComplete() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disable {
		c.disable = false
		c.setState(StateDisabled)
		return
	}
	c.setState(StateSleep)
}

// EnableGC allows cycles to run
func (c *Collector) EnableGC() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disable = false
	if c.state == StateDisabled {
		c.setState(StateSleep)
	}
}

// DisableGC stops new cycles; a cycle in progress finishes first
func (c *Collector) DisableGC() {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateDisabled:
	case StateSleep:
		c.setState(StateDisabled)
	default:
		c.disable = true
	}
}

// Stats returns the number of completed cycles and the last cycle's stats
func (c *Collector) Stats() (uint64, CycleStats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cycles, c.last
}

// RunCycle performs one collection: pause the cache, find garbage, remove it
// and resume. A cycle that fails after asking for the pause still resumes the
// cache, removing nothing.
func (c *Collector) RunCycle(ctx context.Context) (CycleStats, error) {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	var stats CycleStats
	if !c.RequestGCStart() {
		return stats, errors.Newf(errors.ErrCodeInvalidState, "collector is %s", c.GetState()).
			WithComponent(component).
			WithOperation("RunCycle")
	}

	start := time.Now()
	c.RequestGCPause()
	c.logger.Info().Msg("collection started, pausing cache")

	if err := c.mgr.WaitUntilReadyToGC(ctx); err != nil {
		return c.abort(ctx, stats, start, err)
	}
	stats.PauseWait = time.Since(start)
	if !c.IsPaused() {
		err := errors.Newf(errors.ErrCodeInvalidState, "cache ready but collector is %s", c.GetState()).
			WithComponent(component).
			WithOperation("RunCycle")
		return c.abort(ctx, stats, start, err)
	}

	garbage, err := c.finder.FindGarbage(ctx)
	if err != nil {
		return c.abort(ctx, stats, start, err)
	}
	stats.Garbage = len(garbage)

	c.RequestGCDeleteStart()
	err = c.mgr.NotifyGCComplete(ctx, garbage)
	c.NotifyGCComplete()
	stats.Duration = time.Since(start)

	c.record(stats, err)
	if err != nil {
		c.logger.Error().Err(err).Int("garbage", stats.Garbage).Msg("collection failed to remove garbage")
		return stats, err
	}
	c.logger.Info().
		Int("garbage", stats.Garbage).
		Dur("pause_wait", stats.PauseWait).
		Dur("duration", stats.Duration).
		Msg("collection complete")
	return stats, nil
}

// abort resumes the cache without removing anything
func (c *Collector) abort(ctx context.Context, stats CycleStats, start time.Time, cause error) (CycleStats, error) {
	c.mu.Lock()
	c.setState(StateDelete)
	c.mu.Unlock()

	resumeErr := c.mgr.NotifyGCComplete(context.WithoutCancel(ctx), nil)
	c.NotifyGCComplete()

	stats.Aborted = true
	stats.Duration = time.Since(start)
	c.record(stats, cause)
	c.logger.Warn().Err(cause).Msg("collection aborted")
	if resumeErr != nil {
		c.logger.Error().Err(resumeErr).Msg("resuming cache after aborted collection failed")
	}
	return stats, cause
}

func (c *Collector) record(stats CycleStats, err error) {
	c.mu.Lock()
	c.cycles++
	c.last = stats
	c.mu.Unlock()
	if c.config.OnCycle != nil {
		c.config.OnCycle(stats, err)
	}
}

// Start runs a cycle every Interval until Stop or ctx ends
func (c *Collector) Start(ctx context.Context) error {
	c.loopMu.Lock()
	defer c.loopMu.Unlock()
	if c.started {
		return errors.NewError(errors.ErrCodeInvalidState, "collector already started").WithComponent(component)
	}
	c.started = true

	c.wg.Add(1)
	go c.loop(ctx)

	c.logger.Info().Dur("interval", c.config.Interval).Stringer("state", c.GetState()).Msg("collector started")
	return nil
}

// Stop ends the loop and waits for a running cycle to finish
func (c *Collector) Stop() {
	c.loopMu.Lock()
	if !c.started {
		c.loopMu.Unlock()
		return
	}
	c.started = false
	close(c.stopCh)
	c.loopMu.Unlock()

	c.wg.Wait()
}

func (c *Collector) loop(ctx context.Context) {
	defer c.wg.Done()

	timer := time.NewTimer(c.config.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-timer.C:
			if c.GetState() == StateSleep {
				if _, err := c.RunCycle(ctx); err != nil && errors.IsShutdown(err) {
					return
				}
			}
			timer.Reset(c.config.Interval)
		}
	}
}
