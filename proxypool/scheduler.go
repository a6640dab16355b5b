package manager

import (
	"sync"
	"time"

	"regprobe/internal/shared/logger"
	"regprobe/internal/shared/types"
)

// Scheduler drives the three health check cycles against the pool
// manager: a one-shot startup recovery sweep, a coarse full sweep and a
// fast heartbeat sweep. All three submit into one bounded worker pool so
// no cycle can starve the others or exceed total check concurrency.
type Scheduler struct {
	mgr *Manager

	poolSize          int
	fullInterval      time.Duration
	heartbeatInterval time.Duration
	hotLimit          int

	jobs     chan int64
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewScheduler(mgr *Manager, cfg types.HealthConf) *Scheduler {
	return &Scheduler{
		mgr:               mgr,
		poolSize:          cfg.WorkerPoolSize,
		fullInterval:      time.Duration(cfg.FullSweepMinutes) * time.Minute,
		heartbeatInterval: time.Duration(cfg.HeartbeatSeconds) * time.Second,
		hotLimit:          cfg.HotNodeLimit,
		jobs:              make(chan int64, cfg.WorkerPoolSize*4),
		stopChan:          make(chan struct{}),
	}
}

// Start brings up the worker pool, runs the startup recovery sweep once
// and then enters the ticker loop.
func (s *Scheduler) Start() {
	l := logger.WithComponent("ProxyPool/Scheduler")
	l.Info().
		Int("worker_pool_size", s.poolSize).
		Dur("full_sweep_interval", s.fullInterval).
		Dur("heartbeat_interval", s.heartbeatInterval).
		Msg("Health check scheduler starting...")

	for i := 0; i < s.poolSize; i++ {
		s.wg.Add(1)
		go s.worker()
	}

	s.runRecoverySweep()

	s.wg.Add(1)
	go s.schedulerLoop()
}

// Stop halts the tickers and drains the workers.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
	l := logger.WithComponent("ProxyPool/Scheduler")
	l.Info().Msg("Health check scheduler stopped.")
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		select {
		case id := <-s.jobs:
			s.mgr.CheckNode(id)
		case <-s.stopChan:
			return
		}
	}
}

func (s *Scheduler) schedulerLoop() {
	defer s.wg.Done()
	l := logger.WithComponent("ProxyPool/Scheduler")

	fullTicker := time.NewTicker(s.fullInterval)
	heartbeatTicker := time.NewTicker(s.heartbeatInterval)
	defer fullTicker.Stop()
	defer heartbeatTicker.Stop()

	for {
		select {
		case <-fullTicker.C:
			l.Debug().Msg("Full sweep ticker triggered.")
			s.runFullSweep()
		case <-heartbeatTicker.C:
			l.Debug().Msg("Heartbeat ticker triggered.")
			s.runHeartbeatSweep()
		case <-s.stopChan:
			l.Info().Msg("Stop signal received. Shutting down sweeps.")
			return
		}
	}
}

// runRecoverySweep resubmits every node left in Checking by a previous
// process instance, exactly once each. Without it a node mid-check at
// crash time would stay unusable forever.
func (s *Scheduler) runRecoverySweep() {
	l := logger.WithComponent("ProxyPool/Scheduler")
	stuck := s.mgr.StuckChecking()
	if len(stuck) == 0 {
		l.Info().Msg("No leftover checking nodes found at startup.")
		return
	}

	l.Warn().Int("count", len(stuck)).Msg("Found nodes stuck in checking state, resubmitting for immediate check.")
	for _, id := range stuck {
		s.submit(id)
	}
}

// runFullSweep submits a check for every node of every pool.
func (s *Scheduler) runFullSweep() {
	l := logger.WithComponent("ProxyPool/Scheduler")
	total := 0
	for _, poolID := range s.mgr.Pools() {
		ids := s.mgr.NodesInPool(poolID)
		for _, id := range ids {
			s.submit(id)
		}
		total += len(ids)
	}
	l.Info().Int("count", total).Msg("Full sweep submitted.")
}

// runHeartbeatSweep re-checks stuck nodes first (self-healing against
// checks that silently failed to flip status), then the hottest nodes by
// usage count, bounded to the configured limit.
func (s *Scheduler) runHeartbeatSweep() {
	l := logger.WithComponent("ProxyPool/Scheduler")

	submitted := make(map[int64]struct{})

	stuck := s.mgr.StuckChecking()
	if len(stuck) > 0 {
		l.Info().Int("count", len(stuck)).Msg("Heartbeat: re-checking nodes stuck in checking state.")
	}
	for _, id := range stuck {
		submitted[id] = struct{}{}
		s.submit(id)
	}

	count := 0
	for _, id := range s.mgr.HotNodes(s.hotLimit) {
		if _, dup := submitted[id]; dup {
			continue
		}
		s.submit(id)
		count++
	}
	l.Debug().Int("stuck", len(stuck)).Int("hot", count).Msg("Heartbeat sweep submitted.")
}

func (s *Scheduler) submit(id int64) {
	select {
	case s.jobs <- id:
	case <-s.stopChan:
	}
}
