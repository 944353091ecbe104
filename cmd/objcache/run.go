package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/objectfs/objectcache/internal/cache"
	"github.com/objectfs/objectcache/internal/config"
	"github.com/objectfs/objectcache/internal/gateway"
	"github.com/objectfs/objectcache/internal/gc"
	"github.com/objectfs/objectcache/internal/metrics"
	"github.com/objectfs/objectcache/internal/objectmgr"
	"github.com/objectfs/objectcache/internal/store"
	"github.com/objectfs/objectcache/pkg/retry"
	"github.com/objectfs/objectcache/pkg/types"
	"github.com/objectfs/objectcache/pkg/utils"
)

const shutdownTimeout = 30 * time.Second

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the object cache",
		Args:  cobra.NoArgs,
		RunE:  runService,
	}
}

func runService(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, logCloser, err := utils.NewLogger(utils.LogConfig{
		Level:  cfg.Global.LogLevel,
		Format: cfg.Global.LogFormat,
		File:   cfg.Global.LogFile,
	})
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := newService(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if err := svc.start(ctx); err != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		return multierr.Append(err, svc.stop(shutdownCtx))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("shutting down...")
	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	return svc.stop(shutdownCtx)
}

// service holds every running component of the cache
type service struct {
	logger    zerolog.Logger
	store     types.Store
	gateway   *gateway.Gateway
	manager   *objectmgr.Manager
	collector *gc.Collector
	evictor   *objectmgr.Evictor
	metrics   *metrics.Collector
}

// newService opens the store and wires the components together without
// starting any background work
func newService(ctx context.Context, cfg *config.Configuration, logger zerolog.Logger) (*service, error) {
	st, err := store.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Storage.Backend, err)
	}

	policy, err := cache.NewPolicy(cfg.Cache.EvictionPolicy)
	if err != nil {
		return nil, multierr.Append(err, st.Close())
	}

	mc, err := metrics.NewCollector(&metrics.Config{
		Enabled:        cfg.Global.MetricsEnabled,
		Port:           cfg.Global.MetricsPort,
		Path:           "/metrics",
		Namespace:      "objectcache",
		UpdateInterval: 15 * time.Second,
	}, logger)
	if err != nil {
		return nil, multierr.Append(err, st.Close())
	}

	gw := gateway.New(st, gateway.Config{
		FaultWorkers: cfg.Gateway.FaultWorkers,
		FlushWorkers: cfg.Gateway.FlushWorkers,
		QueueSize:    cfg.Gateway.QueueSize,
		Retry:        retryConfig(cfg.Gateway.Retry),
	}, logger)

	mgr, err := objectmgr.New(objectmgr.Options{
		Store:            st,
		Policy:           policy,
		Gateway:          gw,
		Stats:            mc,
		Logger:           logger,
		Paranoid:         cfg.ObjectManager.Paranoid,
		MaxCommitSize:    cfg.ObjectManager.MaxCommitSize,
		DeleteBatchSize:  cfg.ObjectManager.DeleteBatchSize,
		MaxLookupObjects: cfg.ObjectManager.MaxLookupObjects,
	})
	if err != nil {
		return nil, multierr.Append(err, st.Close())
	}

	collector := gc.New(mgr, gc.NewReachabilityFinder(mgr, st, logger), gc.Config{
		Enabled:       cfg.GC.Enabled,
		Interval:      cfg.GC.Interval,
		OnStateChange: mc.RecordGCState,
		OnCycle:       mc.RecordGCCycle,
	}, logger)
	mgr.SetCollector(collector)

	evictor := objectmgr.NewEvictor(mgr, objectmgr.EvictorConfig{
		MaxObjects: cfg.Cache.MaxObjects,
		Interval:   cfg.Cache.EvictionInterval,
		Percentage: cfg.Cache.EvictionPercentage,
		OnPass:     mc.RecordEviction,
	}, logger)

	mc.Watch(mgr.Snapshot, gw.QueueDepth)

	return &service{
		logger:    logger,
		store:     st,
		gateway:   gw,
		manager:   mgr,
		collector: collector,
		evictor:   evictor,
		metrics:   mc,
	}, nil
}

func retryConfig(rc config.RetryConfig) retry.Config {
	c := retry.DefaultConfig()
	if rc.MaxAttempts > 0 {
		c.MaxAttempts = rc.MaxAttempts
	}
	if rc.BaseDelay > 0 {
		c.InitialDelay = rc.BaseDelay
	}
	if rc.MaxDelay > 0 {
		c.MaxDelay = rc.MaxDelay
	}
	return c
}

func (s *service) start(ctx context.Context) error {
	if err := s.gateway.Start(s.manager); err != nil {
		return err
	}
	if err := s.metrics.Start(ctx); err != nil {
		return err
	}
	if err := s.collector.Start(ctx); err != nil {
		return err
	}
	if err := s.evictor.Start(ctx); err != nil {
		return err
	}

	s.logger.Info().
		Str("version", Version).
		Int("objects", s.manager.Size()).
		Msg("object cache started")
	return nil
}

// stop shuts components down in reverse dependency order. Background loops
// stop first so nothing new reaches the manager, the manager fails parked
// requests, and the gateway drains before the store closes.
func (s *service) stop(ctx context.Context) error {
	s.evictor.Stop()
	s.collector.Stop()

	var err error
	err = multierr.Append(err, s.manager.Stop(ctx))
	err = multierr.Append(err, s.gateway.Stop(ctx))
	err = multierr.Append(err, s.metrics.Stop(ctx))
	err = multierr.Append(err, s.store.Close())

	snap := s.manager.Snapshot()
	s.logger.Info().
		Int("references", snap.References).
		Int("checked_out", snap.CheckedOut).
		Msg("object cache stopped")
	return err
}
