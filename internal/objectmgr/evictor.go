package objectmgr

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/objectfs/objectcache/pkg/errors"
)

// EvictorConfig controls periodic eviction
type EvictorConfig struct {
	MaxObjects int           `yaml:"max_objects"`
	Interval   time.Duration `yaml:"eviction_interval"`
	Percentage int           `yaml:"eviction_percentage"`

	// OnPass is called after every pass that evicted or failed
	OnPass func(stats EvictionStats, duration time.Duration, err error) `yaml:"-"`
}

// Evictor triggers eviction passes when the cache grows past MaxObjects
type Evictor struct {
	mgr    *Manager
	config EvictorConfig
	logger zerolog.Logger

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	last    EvictionStats
	passes  uint64
}

// NewEvictor creates an evictor for mgr
func NewEvictor(mgr *Manager, config EvictorConfig, logger zerolog.Logger) *Evictor {
	if config.Interval <= 0 {
		config.Interval = 5 * time.Second
	}
	if config.Percentage < 0 {
		config.Percentage = 0
	}
	return &Evictor{
		mgr:    mgr,
		config: config,
		logger: logger.With().Str("component", "evictor").Logger(),
		stopCh: make(chan struct{}),
	}
}

// objectsToEvict returns how many objects a pass should evict to bring size
// below limit with pct percent of headroom
func objectsToEvict(size, limit, pct int) int {
	if limit <= 0 || size <= limit {
		return 0
	}
	return size - limit + size*pct/100
}

// Start runs eviction passes every Interval until Stop or ctx ends
func (e *Evictor) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return errors.NewError(errors.ErrCodeInvalidState, "evictor already started").WithComponent("evictor")
	}
	e.started = true

	e.wg.Add(1)
	go e.loop(ctx)

	e.logger.Info().
		Int("max_objects", e.config.MaxObjects).
		Dur("interval", e.config.Interval).
		Int("percentage", e.config.Percentage).
		Msg("evictor started")
	return nil
}

// Stop ends the eviction loop and waits for a running pass to finish
func (e *Evictor) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	close(e.stopCh)
	e.mu.Unlock()

	e.wg.Wait()
}

func (e *Evictor) loop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			if _, err := e.RunOnce(ctx); err != nil {
				if errors.IsShutdown(err) {
					return
				}
				e.logger.Error().Err(err).Msg("eviction pass failed")
			}
		}
	}
}

// RunOnce performs a single pass if the cache is over its limit
func (e *Evictor) RunOnce(ctx context.Context) (EvictionStats, error) {
	n := objectsToEvict(e.mgr.Size(), e.config.MaxObjects, e.config.Percentage)
	if n <= 0 {
		return EvictionStats{}, nil
	}

	start := time.Now()
	stats, err := e.mgr.EvictCache(ctx, n)
	if e.config.OnPass != nil {
		e.config.OnPass(stats, time.Since(start), err)
	}
	e.mu.Lock()
	e.last = stats
	e.passes++
	e.mu.Unlock()
	if err != nil {
		return stats, err
	}

	e.logger.Debug().
		Int("requested", stats.Requested).
		Int("evicted", stats.Evicted).
		Int("flushed", stats.Flushed).
		Int("size", stats.Size).
		Msg("eviction pass")
	return stats, nil
}

// LastPass returns the stats of the most recent pass and the number of
// passes run
func (e *Evictor) LastPass() (EvictionStats, uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last, e.passes
}
