package app

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"regprobe/internal/core/dispatch"
	"regprobe/internal/core/executor"
	"regprobe/internal/core/serverwatch"
	"regprobe/internal/queue"
	"regprobe/internal/service/web"
	"regprobe/internal/shared/logger"
	"regprobe/internal/shared/types"
	"regprobe/internal/store"
	manager "regprobe/proxypool"
	"regprobe/proxypool/checker"
	"regprobe/proxypool/storage"
)

// AppServer wires the engine together: shared redis client, entity
// store, queue transport, proxy pool manager with its health scheduler,
// the detection executor, the dispatch bridge and the observer hub. All
// dependencies are injected through constructors; nothing is global
// except the logger.
type AppServer struct {
	cfg *types.Config

	rdb       *redis.Client
	store     store.Store
	transport queue.Queue
	hub       *web.Hub

	proxyManager *manager.Manager
	scheduler    *manager.Scheduler
	bridge       *dispatch.Bridge
	watcher      *serverwatch.Watcher

	cancel    context.CancelFunc
	waitGroup sync.WaitGroup
	stopOnce  sync.Once
}

func New(cfg *types.Config) (*AppServer, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisConf.Addr,
		Password: cfg.RedisConf.Password,
		DB:       cfg.RedisConf.DB,
	})

	st := store.NewRedisStore(rdb)
	transport := queue.NewRedisQueue(rdb)
	hub := web.NewHub()

	nodeStorage := storage.NewFileStorage(cfg.PoolConf.DataFile)
	nodeChecker := checker.New(
		time.Duration(cfg.HealthConf.CheckTimeoutSeconds)*time.Second,
		cfg.HealthConf.CheckTargetURL,
		cfg.HealthConf.CheckTargetAddr,
	)
	proxyManager := manager.NewManager(nodeStorage, nodeChecker)
	if err := proxyManager.Load(); err != nil {
		logger.Error().Err(err).Msg("Failed to load proxy node table. Starting with an empty pool.")
	}

	exec := executor.New(st, proxyManager)
	bridge := dispatch.New(st, transport, exec, hub, cfg.QueueConf)

	return &AppServer{
		cfg:          cfg,
		rdb:          rdb,
		store:        st,
		transport:    transport,
		hub:          hub,
		proxyManager: proxyManager,
		scheduler:    manager.NewScheduler(proxyManager, cfg.HealthConf),
		bridge:       bridge,
		watcher:      serverwatch.New(st, cfg.MonitorConf),
	}, nil
}

// Bridge exposes the producer side so the external API layer can
// dispatch tasks through this process.
func (s *AppServer) Bridge() *dispatch.Bridge {
	return s.bridge
}

// ProxyManager exposes the pool manager to the external API layer.
func (s *AppServer) ProxyManager() *manager.Manager {
	return s.proxyManager
}

// Run starts every component and blocks until SIGINT/SIGTERM.
func (s *AppServer) Run() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	go s.hub.Run()

	// The scheduler runs the startup recovery sweep before any ticker
	// fires, so nodes left mid-check by a crash get re-checked first.
	s.scheduler.Start()
	s.watcher.Start()

	s.waitGroup.Add(1)
	go func() {
		defer s.waitGroup.Done()
		s.bridge.Run(ctx)
	}()

	web.StartServer(&sync.WaitGroup{}, s.cfg, s.store, s.proxyManager, s.hub)

	logger.Info().Msg("regprobe worker is up.")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("Shutdown signal received.")
	s.Stop()
}

// Stop shuts the components down and snapshots the proxy node table so a
// later instance can recover in-flight check state.
func (s *AppServer) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.scheduler.Stop()
		s.watcher.Stop()
		s.waitGroup.Wait()

		if err := s.proxyManager.Save(); err != nil {
			logger.Error().Err(err).Msg("Failed to save proxy node table on shutdown.")
		}
		if err := s.rdb.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close redis client.")
		}
		logger.Info().Msg("regprobe worker gracefully stopped.")
	})
}
